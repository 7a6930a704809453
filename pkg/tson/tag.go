package tson

// Tag identifies the type of an encoded value.
type Tag uint8

const (
	TagNull     Tag = 0x00
	TagTrue     Tag = 0x01
	TagFalse    Tag = 0x02
	TagInt8     Tag = 0x03
	TagInt16    Tag = 0x04
	TagInt32    Tag = 0x05
	TagInt64    Tag = 0x06 // Reserved, never written
	TagFloat32  Tag = 0x07
	TagFloat64  Tag = 0x08
	TagBinary8  Tag = 0x09
	TagBinary16 Tag = 0x0A
	TagBinary32 Tag = 0x0B
	TagString8  Tag = 0x0C
	TagString16 Tag = 0x0D
	TagString32 Tag = 0x0E
	TagArray8   Tag = 0x0F
	TagArray16  Tag = 0x10
	TagArray32  Tag = 0x11
	TagObject8  Tag = 0x12
	TagObject16 Tag = 0x13
	TagObject32 Tag = 0x14
	TagError    Tag = 0x15
)

// String returns the string representation of the tag.
func (t Tag) String() string {
	switch t {
	case TagNull:
		return "Null"
	case TagTrue:
		return "True"
	case TagFalse:
		return "False"
	case TagInt8:
		return "Int8"
	case TagInt16:
		return "Int16"
	case TagInt32:
		return "Int32"
	case TagInt64:
		return "Int64"
	case TagFloat32:
		return "Float32"
	case TagFloat64:
		return "Float64"
	case TagBinary8:
		return "Binary8"
	case TagBinary16:
		return "Binary16"
	case TagBinary32:
		return "Binary32"
	case TagString8:
		return "String8"
	case TagString16:
		return "String16"
	case TagString32:
		return "String32"
	case TagArray8:
		return "Array8"
	case TagArray16:
		return "Array16"
	case TagArray32:
		return "Array32"
	case TagObject8:
		return "Object8"
	case TagObject16:
		return "Object16"
	case TagObject32:
		return "Object32"
	case TagError:
		return "Error"
	default:
		return "Unknown"
	}
}

// lengthWidth returns the size in bytes of the length prefix that follows a
// length-prefixed tag. base is the 8-bit variant of the tag family.
func lengthWidth(t, base Tag) int {
	switch t - base {
	case 0:
		return 1
	case 1:
		return 2
	default:
		return 4
	}
}
