package tson

import (
	"encoding"
	"math"
	"reflect"
	"sort"
	"strconv"
)

// Encoder appends TSON values to an internal buffer.
type Encoder struct {
	buf   []byte
	path  []any
	depth int
}

// NewEncoder creates a new encoder with a default initial capacity.
func NewEncoder() *Encoder {
	return &Encoder{
		buf: make([]byte, 0, 64),
	}
}

// NewEncoderWithCap creates a new encoder with the specified initial capacity.
func NewEncoderWithCap(cap int) *Encoder {
	return &Encoder{
		buf: make([]byte, 0, cap),
	}
}

// Encode encodes v into a newly allocated buffer.
func Encode(v any) ([]byte, error) {
	e := NewEncoder()
	if err := e.Encode(v); err != nil {
		return nil, err
	}
	return e.Bytes(), nil
}

// Reset empties the encoder, keeping the underlying buffer.
func (e *Encoder) Reset() {
	e.buf = e.buf[:0]
	e.path = e.path[:0]
	e.depth = 0
}

// Bytes returns the encoded bytes. The slice is valid until the next call to
// Reset or any write method.
func (e *Encoder) Bytes() []byte {
	return e.buf
}

// Len returns the number of bytes currently encoded.
func (e *Encoder) Len() int {
	return len(e.buf)
}

// WriteByte appends a single byte. The buffer grows as needed so there is no
// error to report.
func (e *Encoder) WriteByte(b byte) {
	e.buf = append(e.buf, b)
}

// WriteBytes appends raw bytes.
func (e *Encoder) WriteBytes(b []byte) {
	e.buf = append(e.buf, b...)
}

// WriteTag appends a type tag.
func (e *Encoder) WriteTag(t Tag) {
	e.buf = append(e.buf, byte(t))
}

// WriteUint16 appends a uint16 in little-endian byte order.
func (e *Encoder) WriteUint16(v uint16) {
	e.buf = append(e.buf, byte(v), byte(v>>8))
}

// WriteUint32 appends a uint32 in little-endian byte order.
func (e *Encoder) WriteUint32(v uint32) {
	e.buf = append(e.buf, byte(v), byte(v>>8), byte(v>>16), byte(v>>24))
}

// WriteUint64 appends a uint64 in little-endian byte order.
func (e *Encoder) WriteUint64(v uint64) {
	e.buf = append(e.buf,
		byte(v), byte(v>>8), byte(v>>16), byte(v>>24),
		byte(v>>32), byte(v>>40), byte(v>>48), byte(v>>56))
}

// WriteNull appends a NULL value.
func (e *Encoder) WriteNull() {
	e.WriteTag(TagNull)
}

// WriteBool appends a TRUE or FALSE value.
func (e *Encoder) WriteBool(b bool) {
	if b {
		e.WriteTag(TagTrue)
	} else {
		e.WriteTag(TagFalse)
	}
}

// WriteInt appends an integer using the narrowest integer tag that fits.
// Values outside the int32 range are written as floats.
func (e *Encoder) WriteInt(v int64) {
	switch {
	case v >= math.MinInt8 && v <= math.MaxInt8:
		e.WriteTag(TagInt8)
		e.WriteByte(byte(int8(v)))
	case v >= math.MinInt16 && v <= math.MaxInt16:
		e.WriteTag(TagInt16)
		e.WriteUint16(uint16(int16(v)))
	case v >= math.MinInt32 && v <= math.MaxInt32:
		e.WriteTag(TagInt32)
		e.WriteUint32(uint32(int32(v)))
	default:
		e.writeFloat(float64(v))
	}
}

// WriteUint appends an unsigned integer.
func (e *Encoder) WriteUint(v uint64) {
	if v <= math.MaxInt32 {
		e.WriteInt(int64(v))
		return
	}
	e.writeFloat(float64(v))
}

// WriteNumber appends a number. Integral values in the int32 range are
// written as integers; everything else as FLOAT32 when that is lossless and
// as FLOAT64 otherwise.
func (e *Encoder) WriteNumber(f float64) {
	if f == math.Trunc(f) && f >= math.MinInt32 && f <= math.MaxInt32 {
		e.WriteInt(int64(f))
		return
	}
	e.writeFloat(f)
}

func (e *Encoder) writeFloat(f float64) {
	if math.IsNaN(f) || math.IsInf(f, 0) || float64(float32(f)) == f {
		e.WriteTag(TagFloat32)
		e.WriteUint32(math.Float32bits(float32(f)))
		return
	}
	e.WriteTag(TagFloat64)
	e.WriteUint64(math.Float64bits(f))
}

// writeLength appends the narrowest variant of a length-prefixed tag
// followed by n.
func (e *Encoder) writeLength(base Tag, n int) error {
	switch {
	case n <= math.MaxUint8:
		e.WriteTag(base)
		e.WriteByte(byte(n))
	case n <= math.MaxUint16:
		e.WriteTag(base + 1)
		e.WriteUint16(uint16(n))
	case uint64(n) <= math.MaxUint32:
		e.WriteTag(base + 2)
		e.WriteUint32(uint32(n))
	default:
		return ErrValueTooLarge
	}
	return nil
}

// WriteString appends a string. Ill-formed UTF-8 is replaced with U+FFFD.
func (e *Encoder) WriteString(s string) error {
	b := []byte(s)
	b = sanitizeUTF8(b)
	return e.writeUTF8(b)
}

// WriteUTF16 appends a string given as UTF-16 code units.
func (e *Encoder) WriteUTF16(u UTF16) error {
	return e.writeUTF8(encodeUTF16(u))
}

func (e *Encoder) writeUTF8(b []byte) error {
	if err := e.writeLength(TagString8, len(b)); err != nil {
		return err
	}
	e.WriteBytes(b)
	return nil
}

// WriteBinary appends a binary blob. The bytes are copied.
func (e *Encoder) WriteBinary(b []byte) error {
	if err := e.writeLength(TagBinary8, len(b)); err != nil {
		return err
	}
	e.WriteBytes(b)
	return nil
}

// Encode appends v.
func (e *Encoder) Encode(v any) error {
	if e.depth >= MaxDepth {
		return ErrMaxDepthExceeded
	}
	e.depth++
	defer func() { e.depth-- }()

	switch x := v.(type) {
	case nil:
		e.WriteNull()
		return nil
	case bool:
		e.WriteBool(x)
		return nil
	case int:
		e.WriteInt(int64(x))
		return nil
	case int8:
		e.WriteInt(int64(x))
		return nil
	case int16:
		e.WriteInt(int64(x))
		return nil
	case int32:
		e.WriteInt(int64(x))
		return nil
	case int64:
		e.WriteInt(x)
		return nil
	case uint:
		e.WriteUint(uint64(x))
		return nil
	case uint8:
		e.WriteUint(uint64(x))
		return nil
	case uint16:
		e.WriteUint(uint64(x))
		return nil
	case uint32:
		e.WriteUint(uint64(x))
		return nil
	case uint64:
		e.WriteUint(x)
		return nil
	case float32:
		e.WriteNumber(float64(x))
		return nil
	case float64:
		e.WriteNumber(x)
		return nil
	case string:
		return e.WriteString(x)
	case UTF16:
		return e.WriteUTF16(x)
	case []byte:
		if x == nil {
			e.WriteNull()
			return nil
		}
		return e.WriteBinary(x)
	case []any:
		if x == nil {
			e.WriteNull()
			return nil
		}
		return e.encodeList(x)
	case map[string]any:
		if x == nil {
			e.WriteNull()
			return nil
		}
		return e.encodeMap(x)
	case Object:
		return e.encodeObject(x)
	}

	rv := reflect.ValueOf(v)
	if isNilRef(rv) {
		e.WriteNull()
		return nil
	}
	if vr, ok := v.(Valuer); ok {
		return e.encodeValuer(vr, rv)
	}
	if err, ok := v.(error); ok {
		return e.encodeError(err, rv)
	}
	if tm, ok := v.(encoding.TextMarshaler); ok {
		text, err := tm.MarshalText()
		if err != nil {
			return err
		}
		return e.WriteString(string(text))
	}
	return e.encodeReflect(rv)
}

func isNilRef(rv reflect.Value) bool {
	switch rv.Kind() {
	case reflect.Pointer, reflect.Interface, reflect.Map, reflect.Slice, reflect.Func, reflect.Chan, reflect.UnsafePointer:
		return rv.IsNil()
	}
	return false
}

// ref identifies a container on the encoding path.
type ref struct {
	typ reflect.Type
	ptr uintptr
	n   int
}

// refOf returns the identity of rv if it refers to shared memory. Comparable
// scalar and struct values are identified by value so that Valuer chains
// returning an equal value are caught too.
func refOf(rv reflect.Value) (any, bool) {
	if !rv.CanInterface() {
		return nil, false
	}
	switch rv.Kind() {
	case reflect.Pointer, reflect.Map:
		return ref{typ: rv.Type(), ptr: rv.Pointer()}, true
	case reflect.Slice:
		if rv.Len() == 0 {
			return nil, false
		}
		return ref{typ: rv.Type(), ptr: rv.Pointer(), n: rv.Len()}, true
	case reflect.Bool, reflect.String,
		reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr,
		reflect.Float32, reflect.Float64:
		return rv.Interface(), true
	case reflect.Struct:
		if rv.Comparable() {
			return rv.Interface(), true
		}
	}
	return nil, false
}

// enter pushes id on the path, failing when it is already there.
func (e *Encoder) enter(id any) error {
	for _, p := range e.path {
		if p == id {
			return ErrCircularReference
		}
	}
	e.path = append(e.path, id)
	return nil
}

func (e *Encoder) leave() {
	e.path = e.path[:len(e.path)-1]
}

// guard pushes the identity of rv, if it has one, and returns the matching
// pop function.
func (e *Encoder) guard(rv reflect.Value) (func(), error) {
	id, ok := refOf(rv)
	if !ok {
		return func() {}, nil
	}
	if err := e.enter(id); err != nil {
		return nil, err
	}
	return e.leave, nil
}

func (e *Encoder) encodeValuer(v Valuer, rv reflect.Value) error {
	done, err := e.guard(rv)
	if err != nil {
		return err
	}
	defer done()
	return e.Encode(v.TSONValue(""))
}

func (e *Encoder) encodeError(err error, rv reflect.Value) error {
	done, gerr := e.guard(rv)
	if gerr != nil {
		return gerr
	}
	defer done()

	te := ToError(err)
	e.WriteTag(TagError)
	if err := e.WriteString(te.Name); err != nil {
		return err
	}
	if err := e.WriteString(te.Message); err != nil {
		return err
	}

	keys := make([]string, 0, len(te.Details))
	for k := range te.Details {
		if !isReservedErrorKey(k) {
			keys = append(keys, k)
		}
	}
	if len(keys) == 0 {
		e.WriteNull()
		return nil
	}
	sort.Strings(keys)

	mdone, merr := e.guard(reflect.ValueOf(te.Details))
	if merr != nil {
		return merr
	}
	defer mdone()
	if err := e.writeLength(TagObject8, len(keys)); err != nil {
		return err
	}
	for _, k := range keys {
		if err := e.WriteString(k); err != nil {
			return err
		}
		if err := e.Encode(te.Details[k]); err != nil {
			return err
		}
	}
	return nil
}

func (e *Encoder) encodeList(list []any) error {
	done, err := e.guard(reflect.ValueOf(list))
	if err != nil {
		return err
	}
	defer done()
	if err := e.writeLength(TagArray8, len(list)); err != nil {
		return err
	}
	for _, item := range list {
		if err := e.Encode(item); err != nil {
			return err
		}
	}
	return nil
}

func (e *Encoder) encodeMap(m map[string]any) error {
	done, err := e.guard(reflect.ValueOf(m))
	if err != nil {
		return err
	}
	defer done()
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	if err := e.writeLength(TagObject8, len(keys)); err != nil {
		return err
	}
	for _, k := range keys {
		if err := e.WriteString(k); err != nil {
			return err
		}
		if err := e.Encode(m[k]); err != nil {
			return err
		}
	}
	return nil
}

func (e *Encoder) encodeObject(o Object) error {
	done, err := e.guard(reflect.ValueOf(o))
	if err != nil {
		return err
	}
	defer done()
	if err := e.writeLength(TagObject8, len(o)); err != nil {
		return err
	}
	for _, f := range o {
		if err := e.WriteString(f.Key); err != nil {
			return err
		}
		if err := e.Encode(f.Value); err != nil {
			return err
		}
	}
	return nil
}

func (e *Encoder) encodeReflect(rv reflect.Value) error {
	switch rv.Kind() {
	case reflect.Bool:
		e.WriteBool(rv.Bool())
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		e.WriteInt(rv.Int())
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		e.WriteUint(rv.Uint())
	case reflect.Float32, reflect.Float64:
		e.WriteNumber(rv.Float())
	case reflect.String:
		return e.WriteString(rv.String())
	case reflect.Pointer:
		done, err := e.guard(rv)
		if err != nil {
			return err
		}
		defer done()
		return e.encodeElem(rv.Elem())
	case reflect.Interface:
		return e.encodeElem(rv.Elem())
	case reflect.Slice:
		if rv.Type().Elem().Kind() == reflect.Uint8 {
			return e.WriteBinary(rv.Bytes())
		}
		done, err := e.guard(rv)
		if err != nil {
			return err
		}
		defer done()
		return e.encodeSeq(rv)
	case reflect.Array:
		if rv.Type().Elem().Kind() == reflect.Uint8 {
			b := make([]byte, rv.Len())
			reflect.Copy(reflect.ValueOf(b), rv)
			return e.WriteBinary(b)
		}
		return e.encodeSeq(rv)
	case reflect.Map:
		return e.encodeReflectMap(rv)
	case reflect.Struct:
		return e.encodeStruct(rv)
	default:
		// Funcs, channels, complex numbers and unsafe pointers have no
		// encoded form.
		e.WriteNull()
	}
	return nil
}

// encodeElem encodes a value reached through a pointer, interface or field.
func (e *Encoder) encodeElem(rv reflect.Value) error {
	if !rv.IsValid() {
		e.WriteNull()
		return nil
	}
	if rv.CanInterface() {
		return e.Encode(rv.Interface())
	}
	return e.encodeReflect(rv)
}

func (e *Encoder) encodeSeq(rv reflect.Value) error {
	n := rv.Len()
	if err := e.writeLength(TagArray8, n); err != nil {
		return err
	}
	for i := 0; i < n; i++ {
		if err := e.encodeElem(rv.Index(i)); err != nil {
			return err
		}
	}
	return nil
}

func (e *Encoder) encodeReflectMap(rv reflect.Value) error {
	var keyOf func(reflect.Value) string
	switch rv.Type().Key().Kind() {
	case reflect.String:
		keyOf = func(k reflect.Value) string { return k.String() }
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		keyOf = func(k reflect.Value) string { return strconv.FormatInt(k.Int(), 10) }
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		keyOf = func(k reflect.Value) string { return strconv.FormatUint(k.Uint(), 10) }
	default:
		e.WriteNull()
		return nil
	}

	done, err := e.guard(rv)
	if err != nil {
		return err
	}
	defer done()

	type entry struct {
		key string
		val reflect.Value
	}
	entries := make([]entry, 0, rv.Len())
	iter := rv.MapRange()
	for iter.Next() {
		entries = append(entries, entry{key: keyOf(iter.Key()), val: iter.Value()})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].key < entries[j].key })

	if err := e.writeLength(TagObject8, len(entries)); err != nil {
		return err
	}
	for _, en := range entries {
		if err := e.WriteString(en.key); err != nil {
			return err
		}
		if err := e.encodeElem(en.val); err != nil {
			return err
		}
	}
	return nil
}

func (e *Encoder) encodeStruct(rv reflect.Value) error {
	fields := cachedFields(rv.Type())
	present := make([]reflect.Value, 0, len(fields))
	names := make([]string, 0, len(fields))
	for _, f := range fields {
		fv := rv.Field(f.index)
		if f.omitEmpty && fv.IsZero() {
			continue
		}
		present = append(present, fv)
		names = append(names, f.name)
	}
	if err := e.writeLength(TagObject8, len(present)); err != nil {
		return err
	}
	for i, fv := range present {
		if err := e.WriteString(names[i]); err != nil {
			return err
		}
		if err := e.encodeElem(fv); err != nil {
			return err
		}
	}
	return nil
}
