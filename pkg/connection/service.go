package connection

import (
	"context"
	"fmt"
	"reflect"
	"unicode"
	"unicode/utf8"
)

// Service describes a local object whose methods remote proxies may call.
type Service struct {
	Name     string
	Requests []string
	Events   []string
	// Instance implements the requests. Each request name resolves, in
	// order, through Handlers, a RequestResolver, or an exported method
	// named like the request with its first letter upper-cased.
	Instance any
}

// HandlerFunc implements one request. args are the decoded call arguments.
type HandlerFunc func(ctx context.Context, args []any) (any, error)

// Handlers is an Instance made of plain functions keyed by request name.
type Handlers map[string]HandlerFunc

// RequestResolver is implemented by instances that look handlers up
// themselves.
type RequestResolver interface {
	ResolveRequest(name string) (HandlerFunc, bool)
}

// Call describes one inbound request as seen by middleware.
type Call struct {
	Service string
	Request string
	ID      uint32
	Args    []any
}

// Handler serves a call.
type Handler func(ctx context.Context, call *Call) (any, error)

// Middleware wraps a Handler.
type Middleware func(next Handler) Handler

// chain applies middleware so that mw[0] runs first.
func chain(h Handler, mw []Middleware) Handler {
	for i := len(mw) - 1; i >= 0; i-- {
		h = mw[i](h)
	}
	return h
}

// resolve finds the implementation of request name on instance.
func resolve(instance any, name string) (HandlerFunc, error) {
	switch in := instance.(type) {
	case Handlers:
		if h, ok := in[name]; ok && h != nil {
			return h, nil
		}
		return nil, fmt.Errorf("%w: no handler for %q", ErrInvalidDescriptor, name)
	case map[string]HandlerFunc:
		return resolve(Handlers(in), name)
	case RequestResolver:
		if h, ok := in.ResolveRequest(name); ok && h != nil {
			return h, nil
		}
		return nil, fmt.Errorf("%w: no handler for %q", ErrInvalidDescriptor, name)
	}

	method := reflect.ValueOf(instance).MethodByName(exportedName(name))
	if !method.IsValid() {
		return nil, fmt.Errorf("%w: %T has no method for %q", ErrInvalidDescriptor, instance, name)
	}
	return bindMethod(method)
}

func exportedName(name string) string {
	r, size := utf8.DecodeRuneInString(name)
	if r == utf8.RuneError {
		return name
	}
	return string(unicode.ToUpper(r)) + name[size:]
}

var (
	contextType = reflect.TypeOf((*context.Context)(nil)).Elem()
	errorType   = reflect.TypeOf((*error)(nil)).Elem()
)

// bindMethod adapts a method value to a HandlerFunc. The method may take a
// leading context.Context and must return nothing, a value, an error, or a
// value and an error.
func bindMethod(method reflect.Value) (HandlerFunc, error) {
	mt := method.Type()

	withCtx := mt.NumIn() > 0 && mt.In(0) == contextType
	first := 0
	if withCtx {
		first = 1
	}

	valueOut, errOut := -1, -1
	switch mt.NumOut() {
	case 0:
	case 1:
		if mt.Out(0) == errorType {
			errOut = 0
		} else {
			valueOut = 0
		}
	case 2:
		if mt.Out(1) != errorType {
			return nil, fmt.Errorf("%w: second result of %s must be error", ErrInvalidDescriptor, mt)
		}
		valueOut, errOut = 0, 1
	default:
		return nil, fmt.Errorf("%w: %s returns too many values", ErrInvalidDescriptor, mt)
	}

	return func(ctx context.Context, args []any) (any, error) {
		in := make([]reflect.Value, 0, mt.NumIn())
		if withCtx {
			in = append(in, reflect.ValueOf(ctx))
		}
		params := mt.NumIn() - first
		for i := 0; i < params; i++ {
			pt := mt.In(first + i)
			if mt.IsVariadic() && i == params-1 {
				for j := i; j < len(args); j++ {
					v, err := convertArg(args[j], pt.Elem())
					if err != nil {
						return nil, fmt.Errorf("%w: argument %d: %v", ErrInvalidArgument, j, err)
					}
					in = append(in, v)
				}
				break
			}
			var arg any
			if i < len(args) {
				arg = args[i]
			}
			v, err := convertArg(arg, pt)
			if err != nil {
				return nil, fmt.Errorf("%w: argument %d: %v", ErrInvalidArgument, i, err)
			}
			in = append(in, v)
		}

		out := method.Call(in)

		var value any
		if valueOut >= 0 {
			value = out[valueOut].Interface()
		}
		if errOut >= 0 {
			if err, _ := out[errOut].Interface().(error); err != nil {
				return nil, err
			}
		}
		return value, nil
	}, nil
}

// convertArg converts a decoded value to type t. Missing arguments become
// zero values.
func convertArg(v any, t reflect.Type) (reflect.Value, error) {
	if v == nil {
		return reflect.Zero(t), nil
	}
	rv := reflect.ValueOf(v)
	if rv.Type().AssignableTo(t) {
		return rv, nil
	}

	switch t.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		n, ok := asFloat(rv)
		if !ok || n != float64(int64(n)) {
			break
		}
		out := reflect.New(t).Elem()
		if out.OverflowInt(int64(n)) {
			break
		}
		out.SetInt(int64(n))
		return out, nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		n, ok := asFloat(rv)
		if !ok || n < 0 || n != float64(uint64(n)) {
			break
		}
		out := reflect.New(t).Elem()
		if out.OverflowUint(uint64(n)) {
			break
		}
		out.SetUint(uint64(n))
		return out, nil
	case reflect.Float32, reflect.Float64:
		n, ok := asFloat(rv)
		if !ok {
			break
		}
		out := reflect.New(t).Elem()
		out.SetFloat(n)
		return out, nil
	case reflect.String:
		if rv.Kind() == reflect.String {
			return rv.Convert(t), nil
		}
	case reflect.Bool:
		if rv.Kind() == reflect.Bool {
			return rv.Convert(t), nil
		}
	case reflect.Slice:
		if t.Elem().Kind() == reflect.Uint8 {
			if rv.Kind() == reflect.Slice && rv.Type().Elem().Kind() == reflect.Uint8 {
				return rv.Convert(t), nil
			}
			if rv.Kind() == reflect.String {
				return reflect.ValueOf([]byte(rv.String())).Convert(t), nil
			}
		}
		if list, ok := v.([]any); ok {
			out := reflect.MakeSlice(t, len(list), len(list))
			for i, item := range list {
				ev, err := convertArg(item, t.Elem())
				if err != nil {
					return reflect.Value{}, fmt.Errorf("[%d]: %w", i, err)
				}
				out.Index(i).Set(ev)
			}
			return out, nil
		}
	case reflect.Map:
		m, ok := v.(map[string]any)
		if !ok || t.Key().Kind() != reflect.String {
			break
		}
		out := reflect.MakeMapWithSize(t, len(m))
		for k, item := range m {
			ev, err := convertArg(item, t.Elem())
			if err != nil {
				return reflect.Value{}, fmt.Errorf("[%q]: %w", k, err)
			}
			out.SetMapIndex(reflect.ValueOf(k).Convert(t.Key()), ev)
		}
		return out, nil
	case reflect.Pointer:
		ev, err := convertArg(v, t.Elem())
		if err != nil {
			return reflect.Value{}, err
		}
		out := reflect.New(t.Elem())
		out.Elem().Set(ev)
		return out, nil
	}
	return reflect.Value{}, fmt.Errorf("cannot use %T as %s", v, t)
}

func asFloat(rv reflect.Value) (float64, bool) {
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return float64(rv.Int()), true
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return float64(rv.Uint()), true
	case reflect.Float32, reflect.Float64:
		return rv.Float(), true
	}
	return 0, false
}

// transmittable replaces values that have no wire form with nil.
func transmittable(v any) any {
	if v == nil {
		return nil
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Func, reflect.Chan, reflect.UnsafePointer, reflect.Complex64, reflect.Complex128:
		return nil
	case reflect.Pointer, reflect.Map, reflect.Slice, reflect.Interface:
		if rv.IsNil() {
			return nil
		}
	}
	return v
}
