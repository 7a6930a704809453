package connection

import (
	"errors"
	"fmt"
	"runtime/debug"

	"github.com/SyncOT/SyncOT-sub002/pkg/protocol"
	"github.com/SyncOT/SyncOT-sub002/pkg/tson"
)

// Sentinel errors for connection error conditions.
var (
	// ErrDisconnected is returned when an operation needs a channel and none
	// is attached, or when in-flight work is cut short by a disconnect.
	ErrDisconnected = errors.New("connection: disconnected")

	// ErrNoService is returned when a request addresses an unregistered
	// service or request name.
	ErrNoService = errors.New("connection: no service")

	// ErrDuplicateID is returned when a stream is opened under a request id
	// that already owns an active stream.
	ErrDuplicateID = errors.New("connection: duplicate id")

	// ErrInvalidStream is returned when a service returns a stream that is
	// not usable.
	ErrInvalidStream = errors.New("connection: invalid stream")

	// ErrDestroyed is returned by operations on a destroyed connection.
	ErrDestroyed = errors.New("connection: destroyed")

	// ErrAlreadyConnected is returned by Connect when a channel is attached.
	ErrAlreadyConnected = errors.New("connection: already connected")

	// ErrInvalidChannel is returned by Connect for a nil or unusable channel.
	ErrInvalidChannel = errors.New("connection: invalid channel")

	// ErrAlreadyRegistered is returned when a service or proxy name is taken.
	ErrAlreadyRegistered = errors.New("connection: already registered")

	// ErrInvalidDescriptor is returned for malformed service or proxy
	// descriptors.
	ErrInvalidDescriptor = errors.New("connection: invalid descriptor")

	// ErrReservedName is returned when a proxy declares a reserved request
	// name.
	ErrReservedName = errors.New("connection: reserved name")

	// ErrUnknownRequest is returned when a proxy is asked for a request it
	// did not declare.
	ErrUnknownRequest = errors.New("connection: unknown request")

	// ErrUnknownEvent is returned when emitting an undeclared event.
	ErrUnknownEvent = errors.New("connection: unknown event")

	// ErrInvalidArgument is returned when request arguments cannot be
	// converted to a method's parameter types.
	ErrInvalidArgument = errors.New("connection: invalid argument")

	// ErrStreamDestroyed is returned by stream operations after the stream
	// was destroyed without an error.
	ErrStreamDestroyed = errors.New("connection: stream destroyed")

	// ErrStreamEnded is returned when writing to a stream whose output has
	// ended.
	ErrStreamEnded = errors.New("connection: stream ended")

	// ErrStreamOverflow is returned when a stream receives more items than
	// its buffer holds.
	ErrStreamOverflow = errors.New("connection: stream buffer overflow")
)

// Wire names of the error kinds shared with remote peers.
const (
	NameDisconnected  = "SyncOTError Disconnected"
	NameNoService     = "SyncOTError NoService"
	NameDuplicateID   = "SyncOTError DuplicateId"
	NameInvalidStream = "SyncOTError InvalidStream"
	NameInvalidEntity = "SyncOTError InvalidEntity"
)

var wireKinds = []struct {
	name string
	err  error
}{
	{NameDisconnected, ErrDisconnected},
	{NameNoService, ErrNoService},
	{NameDuplicateID, ErrDuplicateID},
	{NameInvalidStream, ErrInvalidStream},
	{NameInvalidEntity, protocol.ErrInvalidEntity},
}

// Error wraps an error with the operation and request it relates to.
type Error struct {
	Op      string // Operation that failed
	Service string
	ID      uint32
	Err     error // Underlying error
}

// Error returns the error message with its context.
func (e *Error) Error() string {
	if e.Service == "" {
		return fmt.Sprintf("connection: %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("connection: %s %s#%d: %v", e.Op, e.Service, e.ID, e.Err)
}

// Unwrap returns the underlying error for errors.Is/As.
func (e *Error) Unwrap() error {
	return e.Err
}

// RemoteError is an error reported by the peer.
type RemoteError struct {
	Name    string
	Message string
	Details map[string]any

	kind error
}

// Error implements the error interface.
func (e *RemoteError) Error() string {
	if e.Message == "" {
		return e.Name
	}
	return e.Name + ": " + e.Message
}

// Unwrap returns the local sentinel matching the error's wire name, so
// errors.Is(err, ErrNoService) holds for a remote NoService error.
func (e *RemoteError) Unwrap() error {
	return e.kind
}

// TSONValue returns the wire form, so a remote error can be forwarded
// unchanged.
func (e *RemoteError) TSONValue(string) any {
	return &tson.Error{Name: e.Name, Message: e.Message, Details: e.Details}
}

// PanicError reports a panic raised by a service method.
type PanicError struct {
	Service string
	Request string
	Value   any
	Stack   []byte
}

// Error returns the error message.
func (e *PanicError) Error() string {
	return fmt.Sprintf("connection: panic in %s.%s: %v", e.Service, e.Request, e.Value)
}

func newPanicError(service, request string, v any) *PanicError {
	return &PanicError{Service: service, Request: request, Value: v, Stack: debug.Stack()}
}

// toWire converts err into the value sent in REPLY_ERROR and DESTROY
// messages.
func toWire(err error) *tson.Error {
	var re *RemoteError
	if errors.As(err, &re) {
		return re.TSONValue("").(*tson.Error)
	}
	if te, ok := err.(*tson.Error); ok {
		return te
	}
	for _, k := range wireKinds {
		if errors.Is(err, k.err) {
			return &tson.Error{Name: k.name, Message: err.Error()}
		}
	}
	return tson.ToError(err)
}

// fromWire converts a received error payload into an error. Errors passed by
// in-memory channels are returned as is.
func fromWire(v any) error {
	switch e := v.(type) {
	case nil:
		return nil
	case *tson.Error:
		re := &RemoteError{Name: e.Name, Message: e.Message, Details: e.Details}
		for _, k := range wireKinds {
			if k.name == e.Name {
				re.kind = k.err
				break
			}
		}
		return re
	case error:
		return e
	default:
		return &RemoteError{Name: "Error", Message: fmt.Sprint(v)}
	}
}

// isMessageError reports whether err concerns a single message rather than
// the channel carrying it.
func isMessageError(err error) bool {
	return errors.Is(err, protocol.ErrInvalidEntity) || errors.Is(err, protocol.ErrUnencodable)
}
