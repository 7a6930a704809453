package protocol

import (
	"bytes"
	"testing"

	"github.com/SyncOT/SyncOT-sub002/pkg/tson"
)

// FuzzDecodeMessage tests that decoding arbitrary bytes doesn't panic and
// that every accepted message encodes again.
func FuzzDecodeMessage(f *testing.F) {
	seed := []Message{
		{Type: TypeRequest, Service: "s", ID: 1, Name: "f", Data: []any{1}},
		{Type: TypeReplyError, Service: "s", ID: 1, Data: tson.NewError("Error", "boom")},
		{Type: TypeStreamOutputData, Service: "s", ID: 9, Data: "x"},
	}
	for _, m := range seed {
		b, err := EncodeMessage(m)
		if err != nil {
			f.Fatal(err)
		}
		f.Add(b)
	}

	f.Fuzz(func(t *testing.T, data []byte) {
		m, err := DecodeMessage(data)
		if err != nil {
			return
		}
		if _, err := EncodeMessage(m); err != nil {
			t.Fatalf("re-encode %v: %v", m, err)
		}
	})
}

// FuzzReadFrame tests that reading arbitrary bytes doesn't panic.
func FuzzReadFrame(f *testing.F) {
	f.Add(AppendFrame(nil, []byte{1, 2}))
	f.Add([]byte{0xFF, 0xFF, 0xFF, 0x7F})

	f.Fuzz(func(t *testing.T, data []byte) {
		_, _ = ReadFrame(bytes.NewReader(data), 1024)
	})
}
