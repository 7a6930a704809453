package protocol

import (
	"errors"
	"fmt"
)

// MessageType identifies the kind of a message.
type MessageType uint8

const (
	TypeEvent               MessageType = 0
	TypeRequest             MessageType = 1
	TypeReplyValue          MessageType = 2
	TypeReplyError          MessageType = 3
	TypeReplyStream         MessageType = 4
	TypeStreamInputData     MessageType = 5
	TypeStreamInputEnd      MessageType = 6
	TypeStreamInputDestroy  MessageType = 7
	TypeStreamOutputData    MessageType = 8
	TypeStreamOutputEnd     MessageType = 9
	TypeStreamOutputDestroy MessageType = 10
)

// String returns the string representation of the message type.
func (t MessageType) String() string {
	switch t {
	case TypeEvent:
		return "EVENT"
	case TypeRequest:
		return "REQUEST"
	case TypeReplyValue:
		return "REPLY_VALUE"
	case TypeReplyError:
		return "REPLY_ERROR"
	case TypeReplyStream:
		return "REPLY_STREAM"
	case TypeStreamInputData:
		return "STREAM_INPUT_DATA"
	case TypeStreamInputEnd:
		return "STREAM_INPUT_END"
	case TypeStreamInputDestroy:
		return "STREAM_INPUT_DESTROY"
	case TypeStreamOutputData:
		return "STREAM_OUTPUT_DATA"
	case TypeStreamOutputEnd:
		return "STREAM_OUTPUT_END"
	case TypeStreamOutputDestroy:
		return "STREAM_OUTPUT_DESTROY"
	default:
		return fmt.Sprintf("MessageType(%d)", uint8(t))
	}
}

// Valid reports whether t is a known message type.
func (t MessageType) Valid() bool {
	return t <= TypeStreamOutputDestroy
}

// IsRequestClass reports whether messages of type t are addressed to a
// service.
func (t MessageType) IsRequestClass() bool {
	switch t {
	case TypeRequest, TypeStreamInputData, TypeStreamInputEnd, TypeStreamInputDestroy:
		return true
	}
	return false
}

// IsReplyClass reports whether messages of type t are addressed to a proxy.
func (t MessageType) IsReplyClass() bool {
	switch t {
	case TypeReplyValue, TypeReplyError, TypeReplyStream,
		TypeStreamOutputData, TypeStreamOutputEnd, TypeStreamOutputDestroy:
		return true
	}
	return false
}

// HasName reports whether messages of type t carry a name.
func (t MessageType) HasName() bool {
	return t == TypeEvent || t == TypeRequest
}

// Message is one unit of traffic on a connection. Messages are values; derive
// a new one instead of modifying a message that has been sent or received.
type Message struct {
	Type    MessageType
	Service string
	ID      uint32
	// Name is the request or event name. EVENT and REQUEST require a
	// non-empty name, so a peer sending "" for them is rejected. For every
	// other type Name is empty and encodes as null; a string name there,
	// even "", is rejected on decode.
	Name string
	Data any
}

// Args returns the argument list of a REQUEST message.
func (m Message) Args() []any {
	args, _ := m.Data.([]any)
	return args
}

// Err returns the error carried by a REPLY_ERROR or STREAM_*_DESTROY message.
func (m Message) Err() error {
	err, _ := m.Data.(error)
	return err
}

// String returns a short description suitable for logs.
func (m Message) String() string {
	if m.Name != "" {
		return fmt.Sprintf("%s %s#%d %s", m.Type, m.Service, m.ID, m.Name)
	}
	return fmt.Sprintf("%s %s#%d", m.Type, m.Service, m.ID)
}

// ErrInvalidEntity is the error all validation failures wrap.
var ErrInvalidEntity = errors.New("protocol: invalid entity")

// EntityError reports which part of an entity failed validation.
type EntityError struct {
	Entity string // Entity kind, e.g. "Message"
	Key    string // Offending field; empty when the whole value is wrong
}

// Error implements the error interface.
func (e *EntityError) Error() string {
	if e.Key == "" {
		return fmt.Sprintf("protocol: invalid %q", e.Entity)
	}
	return fmt.Sprintf("protocol: invalid %q; problem with %q", e.Entity, e.Key)
}

// Unwrap returns ErrInvalidEntity.
func (e *EntityError) Unwrap() error {
	return ErrInvalidEntity
}

func invalidMessage(key string) error {
	return &EntityError{Entity: "Message", Key: key}
}

// Validate checks that m has the shape its type requires.
func Validate(m Message) error {
	if !m.Type.Valid() {
		return invalidMessage("type")
	}
	if m.Type.HasName() {
		if m.Name == "" {
			return invalidMessage("name")
		}
	} else if m.Name != "" {
		return invalidMessage("name")
	}

	switch m.Type {
	case TypeEvent, TypeReplyValue:
		// Any payload.
	case TypeRequest:
		if args, ok := m.Data.([]any); !ok || args == nil {
			return invalidMessage("data")
		}
	case TypeReplyError:
		if _, ok := m.Data.(error); !ok {
			return invalidMessage("data")
		}
	case TypeReplyStream, TypeStreamInputEnd, TypeStreamOutputEnd:
		if m.Data != nil {
			return invalidMessage("data")
		}
	case TypeStreamInputData, TypeStreamOutputData:
		if m.Data == nil {
			return invalidMessage("data")
		}
	case TypeStreamInputDestroy, TypeStreamOutputDestroy:
		if m.Data != nil {
			if _, ok := m.Data.(error); !ok {
				return invalidMessage("data")
			}
		}
	}
	return nil
}
