package tson

import "unicode/utf16"

// Valuer is implemented by values that substitute another value for
// themselves when encoded. TSONValue receives the key under which the value
// is being written; the encoder passes "".
type Valuer interface {
	TSONValue(key string) any
}

// UTF16 is a string held as UTF-16 code units. Unlike a Go string it can
// carry unpaired surrogates; those are encoded as U+FFFD.
type UTF16 []uint16

// String returns the string with unpaired surrogates replaced by U+FFFD.
func (u UTF16) String() string {
	return string(utf16.Decode(u))
}

// Field is one key/value pair of an Object.
type Field struct {
	Key   string
	Value any
}

// Object is a string-keyed map that preserves key order. It is encoded in
// slice order and produced by DecodeOrdered.
type Object []Field

// Get returns the value stored under key. When a key appears more than once
// the last occurrence wins.
func (o Object) Get(key string) (any, bool) {
	for i := len(o) - 1; i >= 0; i-- {
		if o[i].Key == key {
			return o[i].Value, true
		}
	}
	return nil, false
}

// Keys returns the keys in order.
func (o Object) Keys() []string {
	keys := make([]string, len(o))
	for i, f := range o {
		keys[i] = f.Key
	}
	return keys
}

// Map converts the object into a plain map. Nested objects are left as is.
func (o Object) Map() map[string]any {
	m := make(map[string]any, len(o))
	for _, f := range o {
		m[f.Key] = f.Value
	}
	return m
}
