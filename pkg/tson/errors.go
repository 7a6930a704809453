package tson

import "errors"

// Encoding and decoding errors.
var (
	ErrCircularReference  = errors.New("tson: circular reference")
	ErrUnknownType        = errors.New("tson: unknown type")
	ErrInsufficientData   = errors.New("tson: insufficient data")
	ErrInt64Unsupported   = errors.New("tson: int64 is not supported")
	ErrObjectKeyNotString = errors.New("tson: object key is not a string")
	ErrReservedErrorKey   = errors.New("tson: error details must not contain name or message")
	ErrInvalidError       = errors.New("tson: invalid error value")
	ErrMaxDepthExceeded   = errors.New("tson: maximum nesting depth exceeded")
	ErrValueTooLarge      = errors.New("tson: value too large")
)

// MaxDepth limits how deeply values may nest, both when encoding (including
// Valuer chains) and when decoding.
const MaxDepth = 1000

// Error is the encoded form of an error value.
//
// Name and Message are always present. Details holds any extra properties
// and never contains the keys "name" or "message".
type Error struct {
	Name    string
	Message string
	Details map[string]any
}

// NewError creates an Error with the given name and message.
func NewError(name, message string) *Error {
	return &Error{Name: name, Message: message}
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Message == "" {
		return e.Name
	}
	return e.Name + ": " + e.Message
}

// NamedError is implemented by errors that choose their encoded name.
// Errors that do not implement it are encoded with the name "Error".
type NamedError interface {
	error
	ErrorName() string
}

// ToError converts err into its encoded form.
func ToError(err error) *Error {
	if te, ok := err.(*Error); ok {
		return te
	}
	name := "Error"
	if ne, ok := err.(NamedError); ok {
		name = ne.ErrorName()
	}
	return &Error{Name: name, Message: err.Error()}
}

func isReservedErrorKey(k string) bool {
	return k == "name" || k == "message"
}
