package tson

import (
	"testing"
)

// FuzzDecode tests that decoding arbitrary bytes doesn't panic and that
// anything decodable survives a second round trip.
func FuzzDecode(f *testing.F) {
	seeds := []any{
		nil, true, -129, 1.5, "abc", []byte{1, 2},
		[]any{1, "x", nil},
		map[string]any{"a": []any{map[string]any{}}},
		&Error{Name: "E", Message: "m", Details: map[string]any{"k": 1}},
	}
	for _, s := range seeds {
		b, err := Encode(s)
		if err != nil {
			f.Fatal(err)
		}
		f.Add(b)
	}
	f.Add([]byte{0x0E, 0xFF, 0xFF, 0xFF, 0xFF})
	f.Add([]byte{0x11, 0xFF, 0xFF, 0xFF, 0x7F})

	f.Fuzz(func(t *testing.T, data []byte) {
		v, err := Decode(data)
		if err != nil {
			return
		}
		b, err := Encode(v)
		if err != nil {
			t.Fatalf("re-encode %#v: %v", v, err)
		}
		w, err := Decode(b)
		if err != nil {
			t.Fatalf("re-decode: %v", err)
		}
		if !equal(v, w) {
			t.Fatalf("round trip mismatch: %#v != %#v", v, w)
		}
	})
}

// FuzzEncodeString tests that any string encodes to valid UTF-8 that decodes
// to the same sanitized text.
func FuzzEncodeString(f *testing.F) {
	f.Add("hello")
	f.Add("a\xED\xA0\x80b")
	f.Add("\xF4\x90\x80\x80")

	f.Fuzz(func(t *testing.T, s string) {
		b, err := Encode(s)
		if err != nil {
			t.Fatal(err)
		}
		v, err := Decode(b)
		if err != nil {
			t.Fatal(err)
		}
		if v.(string) != string(sanitizeUTF8([]byte(s))) {
			t.Fatalf("decoded %q from %q", v, s)
		}
	})
}
