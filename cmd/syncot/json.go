package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"strings"

	"github.com/SyncOT/SyncOT-sub002/pkg/tson"
)

// parseJSONValue parses one JSON value. Integral numbers become int64 and
// other numbers float64.
func parseJSONValue(s string) (any, error) {
	dec := json.NewDecoder(strings.NewReader(s))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	if _, err := dec.Token(); err != io.EOF {
		return nil, fmt.Errorf("unexpected data after JSON value")
	}
	return normalizeNumbers(v), nil
}

// parseArg parses a command line argument as JSON, falling back to the raw
// string when it is not valid JSON.
func parseArg(s string) any {
	v, err := parseJSONValue(s)
	if err != nil {
		return s
	}
	return v
}

func normalizeNumbers(v any) any {
	switch v := v.(type) {
	case json.Number:
		if n, err := v.Int64(); err == nil {
			return n
		}
		f, _ := v.Float64()
		return f
	case []any:
		for i := range v {
			v[i] = normalizeNumbers(v[i])
		}
		return v
	case map[string]any:
		for k := range v {
			v[k] = normalizeNumbers(v[k])
		}
		return v
	default:
		return v
	}
}

// orderedObject marshals its fields in order.
type orderedObject []tson.Field

func (o orderedObject) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, f := range o {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(f.Key)
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		val, err := json.Marshal(jsonValue(f.Value))
		if err != nil {
			return nil, err
		}
		buf.Write(val)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// jsonValue converts a decoded TSON value into something encoding/json can
// render. Binary data is rendered as base64.
func jsonValue(v any) any {
	switch v := v.(type) {
	case tson.Object:
		return orderedObject(v)
	case *tson.Error:
		obj := orderedObject{{Key: "name", Value: v.Name}, {Key: "message", Value: v.Message}}
		if len(v.Details) > 0 {
			obj = append(obj, tson.Field{Key: "details", Value: v.Details})
		}
		return obj
	case tson.UTF16:
		return v.String()
	case float64:
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Sprint(v)
		}
		return v
	case float32:
		return jsonValue(float64(v))
	case []any:
		out := make([]any, len(v))
		for i, item := range v {
			out[i] = jsonValue(item)
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(v))
		for k, item := range v {
			out[k] = jsonValue(item)
		}
		return out
	default:
		return v
	}
}

// writeJSON writes v as one line of JSON, or indented when indent is set.
func writeJSON(w io.Writer, v any, indent bool) error {
	data, err := json.Marshal(jsonValue(v))
	if err != nil {
		return err
	}
	if indent {
		var buf bytes.Buffer
		if err := json.Indent(&buf, data, "", "  "); err != nil {
			return err
		}
		data = buf.Bytes()
	}
	data = append(data, '\n')
	_, err = w.Write(data)
	return err
}
