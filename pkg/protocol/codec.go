package protocol

import (
	"errors"
	"fmt"
	"math"

	"github.com/SyncOT/SyncOT-sub002/pkg/tson"
)

// Wire keys of an encoded message.
const (
	keyType    = "type"
	keyService = "service"
	keyID      = "id"
	keyName    = "name"
	keyData    = "data"
)

// ErrUnencodable is wrapped around codec failures while encoding a message,
// such as a circular reference in its data.
var ErrUnencodable = errors.New("protocol: message cannot be encoded")

// ToValue returns the TSON object form of m.
func ToValue(m Message) tson.Object {
	var name any
	if m.Name != "" {
		name = m.Name
	}
	return tson.Object{
		{Key: keyType, Value: uint8(m.Type)},
		{Key: keyService, Value: m.Service},
		{Key: keyID, Value: m.ID},
		{Key: keyName, Value: name},
		{Key: keyData, Value: m.Data},
	}
}

// EncodeMessage validates m and encodes it to bytes.
func EncodeMessage(m Message) ([]byte, error) {
	if err := Validate(m); err != nil {
		return nil, err
	}
	b, err := tson.Encode(ToValue(m))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUnencodable, err)
	}
	return b, nil
}

// DecodeMessage decodes and validates a message. Decoding failures are
// reported with the tson errors; shape problems wrap ErrInvalidEntity.
func DecodeMessage(data []byte) (Message, error) {
	v, err := tson.Decode(data)
	if err != nil {
		return Message{}, err
	}
	return FromValue(v)
}

// FromValue converts a decoded TSON value into a validated message.
func FromValue(v any) (Message, error) {
	obj, ok := v.(map[string]any)
	if !ok {
		return Message{}, invalidMessage("")
	}

	var m Message

	t, ok := uintField(obj[keyType], math.MaxUint8)
	if !ok {
		return Message{}, invalidMessage(keyType)
	}
	m.Type = MessageType(t)

	if m.Service, ok = obj[keyService].(string); !ok {
		return Message{}, invalidMessage(keyService)
	}

	id, ok := uintField(obj[keyID], math.MaxUint32)
	if !ok {
		return Message{}, invalidMessage(keyID)
	}
	m.ID = uint32(id)

	switch name := obj[keyName].(type) {
	case nil:
	case string:
		// Only named types may carry a string, and it must not be empty.
		if !m.Type.HasName() {
			return Message{}, invalidMessage(keyName)
		}
		m.Name = name
	default:
		return Message{}, invalidMessage(keyName)
	}

	m.Data = obj[keyData]
	if err := Validate(m); err != nil {
		return Message{}, err
	}
	return m, nil
}

// uintField accepts a decoded number that is a non-negative integer no
// larger than max. Large ids arrive as floats.
func uintField(v any, max uint64) (uint64, bool) {
	switch n := v.(type) {
	case int64:
		if n < 0 || uint64(n) > max {
			return 0, false
		}
		return uint64(n), true
	case float64:
		if n < 0 || n != math.Trunc(n) || n > float64(max) {
			return 0, false
		}
		return uint64(n), true
	}
	return 0, false
}
