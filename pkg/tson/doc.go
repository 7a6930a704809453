// Package tson implements TSON, the typed binary serialization format used
// for message payloads.
//
// Every encoded value starts with a one-byte tag followed by a tag-specific
// payload. Multi-byte integers are little-endian and strings are UTF-8.
//
// # Tags
//
//	NULL     0x00                      FLOAT32  0x07  4-byte IEEE 754
//	TRUE     0x01                      FLOAT64  0x08  8-byte IEEE 754
//	FALSE    0x02                      BINARY   0x09..0x0B  len + bytes
//	INT8     0x03  1-byte signed       STRING   0x0C..0x0E  len + UTF-8
//	INT16    0x04  2-byte signed       ARRAY    0x0F..0x11  count + values
//	INT32    0x05  4-byte signed       OBJECT   0x12..0x14  count + key/value
//	INT64    0x06  reserved            ERROR    0x15  name, message, details
//
// Length-prefixed tags come in three widths (8, 16 and 32 bit) and the
// encoder always picks the narrowest one that fits.
//
// # Numbers
//
// Integral values in the int32 range use the narrowest of INT8, INT16 and
// INT32. Anything else is written as FLOAT32 when converting to float32 and
// back yields the same value (NaN and infinities included), otherwise as
// FLOAT64. Decoding yields int64 for integer tags and float64 for float tags.
// INT64 is never written, and decoding it fails with ErrInt64Unsupported.
//
// # Go values
//
// Encode accepts nil, bool, every integer and float kind, string, UTF16,
// []byte (and byte arrays), slices, arrays, maps with string or integer
// keys, structs, pointers, *Error and any other error, Object and Valuer.
// Funcs, channels, complex numbers and unsafe pointers encode as NULL.
//
// Maps are written with their keys sorted. Struct fields are written in
// declaration order and may be renamed or skipped with a `tson` tag:
//
//	type Point struct {
//	    X    int    `tson:"x"`
//	    Y    int    `tson:"y"`
//	    Note string `tson:"note,omitempty"`
//	    Tmp  int    `tson:"-"`
//	}
//
// A Valuer is replaced by the result of TSONValue("") before encoding, and
// chains of Valuers are followed until a plain value results.
//
// # Ownership
//
// Encode always returns a newly allocated buffer. Decode copies binary
// payloads out of the input; DecodeView returns binary payloads that alias
// the input buffer and must not outlive or be mutated independently of it.
//
// # Cycles
//
// The encoder keeps the stack of containers (maps, slices, pointers and
// Valuers) currently being written. Meeting one of them again fails with
// ErrCircularReference. Shared but acyclic references are written once per
// occurrence and decode into independent copies.
package tson
