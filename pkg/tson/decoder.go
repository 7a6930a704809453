package tson

import (
	"fmt"
	"math"
)

// Decoder reads TSON values from a byte buffer.
type Decoder struct {
	buf     []byte
	pos     int
	depth   int
	view    bool
	ordered bool
}

// NewDecoder creates a new decoder from the given byte slice. Binary values
// are copied out of buf.
func NewDecoder(buf []byte) *Decoder {
	return &Decoder{buf: buf}
}

// Decode decodes the value at the start of b. Trailing bytes are ignored.
func Decode(b []byte) (any, error) {
	return NewDecoder(b).Decode()
}

// DecodeView is like Decode but binary values alias b instead of being
// copied. The caller must keep b unchanged while the result is in use.
func DecodeView(b []byte) (any, error) {
	d := NewDecoder(b)
	d.view = true
	return d.Decode()
}

// DecodeOrdered is like Decode but objects are returned as Object, keeping
// their encoded key order. Error details are still returned as maps.
func DecodeOrdered(b []byte) (any, error) {
	d := NewDecoder(b)
	d.ordered = true
	return d.Decode()
}

// Remaining returns the number of unread bytes.
func (d *Decoder) Remaining() int {
	return len(d.buf) - d.pos
}

// EOF returns true if all bytes have been read.
func (d *Decoder) EOF() bool {
	return d.pos >= len(d.buf)
}

// Position returns the current read position.
func (d *Decoder) Position() int {
	return d.pos
}

// ReadByte reads a single byte.
func (d *Decoder) ReadByte() (byte, error) {
	if d.pos >= len(d.buf) {
		return 0, ErrInsufficientData
	}
	b := d.buf[d.pos]
	d.pos++
	return b, nil
}

// ReadBytes reads exactly n bytes. The returned slice references the
// decoder's buffer.
func (d *Decoder) ReadBytes(n int) ([]byte, error) {
	if n < 0 || n > d.Remaining() {
		return nil, ErrInsufficientData
	}
	b := d.buf[d.pos : d.pos+n : d.pos+n]
	d.pos += n
	return b, nil
}

// ReadUint16 reads a uint16 in little-endian byte order.
func (d *Decoder) ReadUint16() (uint16, error) {
	if d.pos+2 > len(d.buf) {
		return 0, ErrInsufficientData
	}
	v := uint16(d.buf[d.pos]) | uint16(d.buf[d.pos+1])<<8
	d.pos += 2
	return v, nil
}

// ReadUint32 reads a uint32 in little-endian byte order.
func (d *Decoder) ReadUint32() (uint32, error) {
	if d.pos+4 > len(d.buf) {
		return 0, ErrInsufficientData
	}
	v := uint32(d.buf[d.pos]) | uint32(d.buf[d.pos+1])<<8 |
		uint32(d.buf[d.pos+2])<<16 | uint32(d.buf[d.pos+3])<<24
	d.pos += 4
	return v, nil
}

// ReadUint64 reads a uint64 in little-endian byte order.
func (d *Decoder) ReadUint64() (uint64, error) {
	if d.pos+8 > len(d.buf) {
		return 0, ErrInsufficientData
	}
	lo := uint64(d.buf[d.pos]) | uint64(d.buf[d.pos+1])<<8 |
		uint64(d.buf[d.pos+2])<<16 | uint64(d.buf[d.pos+3])<<24
	hi := uint64(d.buf[d.pos+4]) | uint64(d.buf[d.pos+5])<<8 |
		uint64(d.buf[d.pos+6])<<16 | uint64(d.buf[d.pos+7])<<24
	d.pos += 8
	return lo | hi<<32, nil
}

// readLength reads a length prefix of the given width in bytes.
func (d *Decoder) readLength(width int) (int, error) {
	switch width {
	case 1:
		b, err := d.ReadByte()
		return int(b), err
	case 2:
		v, err := d.ReadUint16()
		return int(v), err
	default:
		v, err := d.ReadUint32()
		if err != nil {
			return 0, err
		}
		if uint64(v) > uint64(d.Remaining()) {
			return 0, ErrInsufficientData
		}
		return int(v), nil
	}
}

// Decode reads the next value.
func (d *Decoder) Decode() (any, error) {
	if d.depth >= MaxDepth {
		return nil, ErrMaxDepthExceeded
	}
	d.depth++
	defer func() { d.depth-- }()

	b, err := d.ReadByte()
	if err != nil {
		return nil, err
	}
	tag := Tag(b)

	switch tag {
	case TagNull:
		return nil, nil
	case TagTrue:
		return true, nil
	case TagFalse:
		return false, nil
	case TagInt8:
		v, err := d.ReadByte()
		if err != nil {
			return nil, err
		}
		return int64(int8(v)), nil
	case TagInt16:
		v, err := d.ReadUint16()
		if err != nil {
			return nil, err
		}
		return int64(int16(v)), nil
	case TagInt32:
		v, err := d.ReadUint32()
		if err != nil {
			return nil, err
		}
		return int64(int32(v)), nil
	case TagInt64:
		return nil, ErrInt64Unsupported
	case TagFloat32:
		v, err := d.ReadUint32()
		if err != nil {
			return nil, err
		}
		return float64(math.Float32frombits(v)), nil
	case TagFloat64:
		v, err := d.ReadUint64()
		if err != nil {
			return nil, err
		}
		return math.Float64frombits(v), nil
	case TagBinary8, TagBinary16, TagBinary32:
		return d.decodeBinary(lengthWidth(tag, TagBinary8))
	case TagString8, TagString16, TagString32:
		return d.decodeString(lengthWidth(tag, TagString8))
	case TagArray8, TagArray16, TagArray32:
		return d.decodeArray(lengthWidth(tag, TagArray8))
	case TagObject8, TagObject16, TagObject32:
		if d.ordered {
			return d.decodeObject(lengthWidth(tag, TagObject8))
		}
		return d.decodeMap(lengthWidth(tag, TagObject8))
	case TagError:
		return d.decodeError()
	default:
		return nil, fmt.Errorf("%w: 0x%02x", ErrUnknownType, b)
	}
}

func (d *Decoder) decodeBinary(width int) ([]byte, error) {
	n, err := d.readLength(width)
	if err != nil {
		return nil, err
	}
	b, err := d.ReadBytes(n)
	if err != nil {
		return nil, err
	}
	if d.view {
		return b, nil
	}
	out := make([]byte, n)
	copy(out, b)
	return out, nil
}

func (d *Decoder) decodeString(width int) (string, error) {
	n, err := d.readLength(width)
	if err != nil {
		return "", err
	}
	b, err := d.ReadBytes(n)
	if err != nil {
		return "", err
	}
	return decodeUTF8(b), nil
}

// readCount reads an element count and checks it against the remaining
// input, given the minimum encoded size of one element.
func (d *Decoder) readCount(width, minSize int) (int, error) {
	n, err := d.readLength(width)
	if err != nil {
		return 0, err
	}
	if n > d.Remaining()/minSize {
		return 0, ErrInsufficientData
	}
	return n, nil
}

func (d *Decoder) decodeArray(width int) ([]any, error) {
	n, err := d.readCount(width, 1)
	if err != nil {
		return nil, err
	}
	list := make([]any, n)
	for i := range list {
		if list[i], err = d.Decode(); err != nil {
			return nil, err
		}
	}
	return list, nil
}

func (d *Decoder) decodeKey() (string, error) {
	k, err := d.Decode()
	if err != nil {
		return "", err
	}
	s, ok := k.(string)
	if !ok {
		return "", ErrObjectKeyNotString
	}
	return s, nil
}

func (d *Decoder) decodeMap(width int) (map[string]any, error) {
	n, err := d.readCount(width, 2)
	if err != nil {
		return nil, err
	}
	m := make(map[string]any, n)
	for i := 0; i < n; i++ {
		k, err := d.decodeKey()
		if err != nil {
			return nil, err
		}
		v, err := d.Decode()
		if err != nil {
			return nil, err
		}
		m[k] = v
	}
	return m, nil
}

func (d *Decoder) decodeObject(width int) (Object, error) {
	n, err := d.readCount(width, 2)
	if err != nil {
		return nil, err
	}
	o := make(Object, 0, n)
	for i := 0; i < n; i++ {
		k, err := d.decodeKey()
		if err != nil {
			return nil, err
		}
		v, err := d.Decode()
		if err != nil {
			return nil, err
		}
		o = append(o, Field{Key: k, Value: v})
	}
	return o, nil
}

func (d *Decoder) decodeError() (*Error, error) {
	name, err := d.Decode()
	if err != nil {
		return nil, err
	}
	message, err := d.Decode()
	if err != nil {
		return nil, err
	}
	te := &Error{}
	var ok bool
	if te.Name, ok = name.(string); !ok {
		return nil, fmt.Errorf("%w: name is not a string", ErrInvalidError)
	}
	if te.Message, ok = message.(string); !ok {
		return nil, fmt.Errorf("%w: message is not a string", ErrInvalidError)
	}

	ordered := d.ordered
	d.ordered = false
	details, err := d.Decode()
	d.ordered = ordered
	if err != nil {
		return nil, err
	}
	switch x := details.(type) {
	case nil:
	case map[string]any:
		for k := range x {
			if isReservedErrorKey(k) {
				return nil, ErrReservedErrorKey
			}
		}
		if len(x) > 0 {
			te.Details = x
		}
	default:
		return nil, fmt.Errorf("%w: details must be null or an object", ErrInvalidError)
	}
	return te, nil
}
