package protocol

import (
	"errors"
	"math"
	"reflect"
	"testing"

	"github.com/SyncOT/SyncOT-sub002/pkg/tson"
)

func TestMessageTypeValues(t *testing.T) {
	want := map[MessageType]uint8{
		TypeEvent:               0,
		TypeRequest:             1,
		TypeReplyValue:          2,
		TypeReplyError:          3,
		TypeReplyStream:         4,
		TypeStreamInputData:     5,
		TypeStreamInputEnd:      6,
		TypeStreamInputDestroy:  7,
		TypeStreamOutputData:    8,
		TypeStreamOutputEnd:     9,
		TypeStreamOutputDestroy: 10,
	}
	for mt, v := range want {
		if uint8(mt) != v {
			t.Errorf("%s = %d, want %d", mt, uint8(mt), v)
		}
	}
	if MessageType(11).Valid() {
		t.Error("MessageType(11) should be invalid")
	}
	if MessageType(11).String() != "MessageType(11)" {
		t.Errorf("String() = %q", MessageType(11).String())
	}
}

func TestMessageClasses(t *testing.T) {
	for mt := TypeEvent; mt <= TypeStreamOutputDestroy; mt++ {
		req, rep := mt.IsRequestClass(), mt.IsReplyClass()
		if mt == TypeEvent {
			if req || rep {
				t.Errorf("%s classified as request=%v reply=%v", mt, req, rep)
			}
			continue
		}
		if req == rep {
			t.Errorf("%s classified as request=%v reply=%v", mt, req, rep)
		}
	}
}

func TestValidate(t *testing.T) {
	boom := errors.New("boom")
	tests := []struct {
		name string
		msg  Message
		key  string // empty when valid
	}{
		{"event", Message{Type: TypeEvent, Service: "s", Name: "changed", Data: 5}, ""},
		{"event without name", Message{Type: TypeEvent, Service: "s"}, "name"},
		{"request", Message{Type: TypeRequest, Service: "s", ID: 1, Name: "f", Data: []any{}}, ""},
		{"request without name", Message{Type: TypeRequest, Service: "s", Data: []any{}}, "name"},
		{"request nil args", Message{Type: TypeRequest, Service: "s", Name: "f"}, "data"},
		{"request non-list args", Message{Type: TypeRequest, Service: "s", Name: "f", Data: "x"}, "data"},
		{"reply value", Message{Type: TypeReplyValue, Data: nil}, ""},
		{"reply value with name", Message{Type: TypeReplyValue, Name: "f"}, "name"},
		{"reply error", Message{Type: TypeReplyError, Data: boom}, ""},
		{"reply error wire", Message{Type: TypeReplyError, Data: tson.NewError("E", "m")}, ""},
		{"reply error without error", Message{Type: TypeReplyError, Data: "boom"}, "data"},
		{"reply stream", Message{Type: TypeReplyStream}, ""},
		{"reply stream with data", Message{Type: TypeReplyStream, Data: 1}, "data"},
		{"input data", Message{Type: TypeStreamInputData, Data: "chunk"}, ""},
		{"input data null", Message{Type: TypeStreamInputData}, "data"},
		{"output data", Message{Type: TypeStreamOutputData, Data: false}, ""},
		{"input end", Message{Type: TypeStreamInputEnd}, ""},
		{"output end with data", Message{Type: TypeStreamOutputEnd, Data: 1}, "data"},
		{"input destroy", Message{Type: TypeStreamInputDestroy}, ""},
		{"output destroy with error", Message{Type: TypeStreamOutputDestroy, Data: boom}, ""},
		{"output destroy with value", Message{Type: TypeStreamOutputDestroy, Data: 1}, "data"},
		{"unknown type", Message{Type: 42}, "type"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Validate(tt.msg)
			if tt.key == "" {
				if err != nil {
					t.Fatalf("Validate() = %v, want nil", err)
				}
				return
			}
			if !errors.Is(err, ErrInvalidEntity) {
				t.Fatalf("Validate() = %v, want ErrInvalidEntity", err)
			}
			var ee *EntityError
			if !errors.As(err, &ee) || ee.Key != tt.key || ee.Entity != "Message" {
				t.Errorf("Validate() = %#v, want key %q", err, tt.key)
			}
		})
	}
}

func TestMessageRoundTrip(t *testing.T) {
	tests := []Message{
		{Type: TypeRequest, Service: "echo", ID: 1, Name: "echo", Data: []any{"a", int64(2)}},
		{Type: TypeReplyValue, Service: "echo", ID: 7, Data: map[string]any{"ok": true}},
		{Type: TypeReplyError, Service: "echo", ID: 8, Data: &tson.Error{Name: "Error", Message: "no"}},
		{Type: TypeReplyStream, Service: "s", ID: 3},
		{Type: TypeStreamOutputData, Service: "s", ID: 3, Data: []byte{1, 2}},
		{Type: TypeStreamInputDestroy, Service: "s", ID: 3},
		{Type: TypeEvent, Service: "s", Name: "tick", Data: int64(1)},
		{Type: TypeReplyValue, Service: "s", ID: math.MaxUint32},
	}
	for _, msg := range tests {
		t.Run(msg.String(), func(t *testing.T) {
			data, err := EncodeMessage(msg)
			if err != nil {
				t.Fatalf("EncodeMessage: %v", err)
			}
			got, err := DecodeMessage(data)
			if err != nil {
				t.Fatalf("DecodeMessage: %v", err)
			}
			if !reflect.DeepEqual(got, msg) {
				t.Errorf("round trip = %#v, want %#v", got, msg)
			}
		})
	}
}

func TestWireShape(t *testing.T) {
	data, err := EncodeMessage(Message{Type: TypeReplyStream, Service: "s", ID: 2})
	if err != nil {
		t.Fatal(err)
	}
	v, err := tson.DecodeOrdered(data)
	if err != nil {
		t.Fatal(err)
	}
	want := tson.Object{
		{Key: "type", Value: int64(4)},
		{Key: "service", Value: "s"},
		{Key: "id", Value: int64(2)},
		{Key: "name", Value: nil},
		{Key: "data", Value: nil},
	}
	if !reflect.DeepEqual(v, want) {
		t.Errorf("wire = %#v, want %#v", v, want)
	}
}

func TestEncodeMessageRejectsInvalid(t *testing.T) {
	_, err := EncodeMessage(Message{Type: TypeRequest, Service: "s", Data: []any{}})
	if !errors.Is(err, ErrInvalidEntity) {
		t.Errorf("EncodeMessage error = %v", err)
	}
}

func TestFromValue(t *testing.T) {
	base := func() map[string]any {
		return map[string]any{
			"type": int64(2), "service": "s", "id": int64(1), "name": nil, "data": nil,
		}
	}
	tests := []struct {
		name   string
		mutate func(map[string]any)
		key    string
	}{
		{"valid", func(map[string]any) {}, ""},
		{"float id", func(m map[string]any) { m["id"] = float64(3e9) }, ""},
		{"negative id", func(m map[string]any) { m["id"] = int64(-1) }, "id"},
		{"fractional id", func(m map[string]any) { m["id"] = 1.5 }, "id"},
		{"missing id", func(m map[string]any) { delete(m, "id") }, "id"},
		{"string type", func(m map[string]any) { m["type"] = "2" }, "type"},
		{"type out of range", func(m map[string]any) { m["type"] = int64(11) }, "type"},
		{"service not string", func(m map[string]any) { m["service"] = int64(1) }, "service"},
		{"name not string", func(m map[string]any) { m["name"] = true }, "name"},
		{"name on reply", func(m map[string]any) { m["name"] = "x" }, "name"},
		{"empty name on reply", func(m map[string]any) { m["name"] = "" }, "name"},
		{"empty request name", func(m map[string]any) {
			m["type"] = int64(TypeRequest)
			m["name"] = ""
			m["data"] = []any{}
		}, "name"},
		{"request name", func(m map[string]any) {
			m["type"] = int64(TypeRequest)
			m["name"] = "add"
			m["data"] = []any{}
		}, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			obj := base()
			tt.mutate(obj)
			_, err := FromValue(obj)
			if tt.key == "" {
				if err != nil {
					t.Fatalf("FromValue() = %v", err)
				}
				return
			}
			var ee *EntityError
			if !errors.As(err, &ee) || ee.Key != tt.key {
				t.Errorf("FromValue() = %v, want key %q", err, tt.key)
			}
		})
	}

	if _, err := FromValue([]any{}); !errors.Is(err, ErrInvalidEntity) {
		t.Errorf("FromValue(list) = %v", err)
	}
}

func TestDecodeMessageCodecError(t *testing.T) {
	_, err := DecodeMessage([]byte{0x06})
	if !errors.Is(err, tson.ErrInt64Unsupported) {
		t.Errorf("DecodeMessage error = %v", err)
	}
}

func TestEncodeMessageUnencodable(t *testing.T) {
	cyclic := []any{nil}
	cyclic[0] = cyclic
	_, err := EncodeMessage(Message{Type: TypeReplyValue, Service: "s", ID: 1, Data: cyclic})
	if !errors.Is(err, ErrUnencodable) || !errors.Is(err, tson.ErrCircularReference) {
		t.Errorf("EncodeMessage error = %v", err)
	}
}
