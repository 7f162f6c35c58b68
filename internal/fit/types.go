package fit

import (
	"encoding/binary"
	"math"
	"time"
)

// baseType identifies the wire encoding of a field. The high bit marks
// multi-byte types whose byte order follows the definition's architecture.
type baseType byte

const (
	baseEnum    baseType = 0x00
	baseSint8   baseType = 0x01
	baseUint8   baseType = 0x02
	baseSint16  baseType = 0x83
	baseUint16  baseType = 0x84
	baseSint32  baseType = 0x85
	baseUint32  baseType = 0x86
	baseString  baseType = 0x07
	baseFloat32 baseType = 0x88
	baseFloat64 baseType = 0x89
	baseUint8z  baseType = 0x0A
	baseUint16z baseType = 0x8B
	baseUint32z baseType = 0x8C
	baseByte    baseType = 0x0D
	baseSint64  baseType = 0x8E
	baseUint64  baseType = 0x8F
	baseUint64z baseType = 0x90
)

func (t baseType) size() int {
	switch t {
	case baseEnum, baseSint8, baseUint8, baseString, baseUint8z, baseByte:
		return 1
	case baseSint16, baseUint16, baseUint16z:
		return 2
	case baseSint32, baseUint32, baseFloat32, baseUint32z:
		return 4
	case baseSint64, baseUint64, baseFloat64, baseUint64z:
		return 8
	}
	return 0
}

func (t baseType) signed() bool {
	switch t {
	case baseSint8, baseSint16, baseSint32, baseSint64:
		return true
	}
	return false
}

func (t baseType) float() bool {
	return t == baseFloat32 || t == baseFloat64
}

// invalid returns the wire value the format uses to mark an absent field.
func (t baseType) invalid() uint64 {
	switch t {
	case baseEnum, baseUint8, baseByte, baseString:
		return 0xFF
	case baseSint8:
		return 0x7F
	case baseSint16:
		return 0x7FFF
	case baseUint16:
		return 0xFFFF
	case baseSint32:
		return 0x7FFFFFFF
	case baseUint32, baseFloat32:
		return 0xFFFFFFFF
	case baseSint64:
		return 0x7FFFFFFFFFFFFFFF
	case baseUint64, baseFloat64:
		return 0xFFFFFFFFFFFFFFFF
	case baseUint8z, baseUint16z, baseUint32z, baseUint64z:
		return 0
	}
	return 0
}

// recorderEpoch is the offset between the format's timestamp epoch
// (1989-12-31T00:00:00Z) and the Unix epoch, in seconds.
const recorderEpoch int64 = 631065600

// semicircleDegrees converts a semicircle-encoded angle to degrees.
// 2^31 semicircles equal 180 degrees; dividing by a power of two is exact
// in float64, so the conversion is a single lossless scale.
func semicircleDegrees(v int64) float64 {
	return float64(v) * (180.0 / 2147483648.0)
}

// Field is one decoded field of a Record: the field number from the wire,
// the profile name when known, and the typed value.
type Field struct {
	Num  byte
	Name string

	base  baseType
	valid bool

	// Exactly one of these carries the value, per base type kind.
	u   uint64
	i   int64
	f   float64
	str string

	// Profile decode rule; zero scale means the raw value is already in
	// target units.
	scale  float64
	offset float64
}

// Valid reports whether the field carried a real value rather than the
// base type's invalid sentinel. Absent fields must never be read as zero.
func (f Field) Valid() bool { return f.valid }

// Uint returns the raw unsigned value.
func (f Field) Uint() (uint64, bool) {
	if !f.valid || f.base.signed() || f.base.float() || f.base == baseString {
		return 0, false
	}
	return f.u, true
}

// Int returns the raw value as a signed integer.
func (f Field) Int() (int64, bool) {
	if !f.valid {
		return 0, false
	}
	switch {
	case f.base.signed():
		return f.i, true
	case f.base.float() || f.base == baseString:
		return 0, false
	default:
		if f.u > math.MaxInt64 {
			return 0, false
		}
		return int64(f.u), true
	}
}

// Scaled returns the value converted to target units using the profile's
// scale and offset. The conversion is one exact integer-to-float division,
// never an accumulated multiplication.
func (f Field) Scaled() (float64, bool) {
	if !f.valid {
		return 0, false
	}
	var raw float64
	switch {
	case f.base.float():
		raw = f.f
	case f.base.signed():
		raw = float64(f.i)
	case f.base == baseString:
		return 0, false
	default:
		raw = float64(f.u)
	}
	if f.scale != 0 {
		return raw/f.scale - f.offset, true
	}
	return raw - f.offset, true
}

// Degrees interprets the field as a semicircle-encoded coordinate.
func (f Field) Degrees() (float64, bool) {
	v, ok := f.Int()
	if !ok {
		return 0, false
	}
	return semicircleDegrees(v), true
}

// Time interprets the field as a recorder timestamp.
func (f Field) Time() (time.Time, bool) {
	v, ok := f.Uint()
	if !ok || v == 0 {
		return time.Time{}, false
	}
	return time.Unix(int64(v)+recorderEpoch, 0).UTC(), true
}

// Str returns the string value.
func (f Field) Str() (string, bool) {
	if !f.valid || f.base != baseString {
		return "", false
	}
	return f.str, true
}

// decodeScalar reads one scalar of type t from buf using the given byte
// order and fills in the field's value slot. The invalid sentinel leaves
// the field marked absent.
func (f *Field) decodeScalar(buf []byte, order binary.ByteOrder, t baseType) {
	var raw uint64
	switch t.size() {
	case 1:
		raw = uint64(buf[0])
	case 2:
		raw = uint64(order.Uint16(buf))
	case 4:
		raw = uint64(order.Uint32(buf))
	case 8:
		raw = order.Uint64(buf)
	}

	if raw == t.invalid() {
		f.valid = false
		return
	}
	f.valid = true

	switch {
	case t == baseFloat32:
		f.f = float64(math.Float32frombits(uint32(raw)))
	case t == baseFloat64:
		f.f = math.Float64frombits(raw)
	case t.signed():
		f.i = signExtend(raw, t.size())
	default:
		f.u = raw
	}
}

func signExtend(raw uint64, size int) int64 {
	shift := uint(64 - size*8)
	return int64(raw<<shift) >> shift
}
