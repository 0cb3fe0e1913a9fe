package constraint

import (
	"math"

	"github.com/memquarry/memscan/valtype"
)

// Value is a tagged union over the scannable primitives: it is validated
// against the scan's declared type once, at compile-action build time,
// rather than being re-checked per lane.
type Value struct {
	bits  uint64
	bytes []byte
	isBuf bool
}

// U8 through F64 construct a Value from a concrete Go numeric. Float
// values are stored via their IEEE-754 bit pattern so integer and float
// values share one representation.
func U8(v uint8) Value   { return Value{bits: uint64(v)} }
func I8(v int8) Value    { return Value{bits: uint64(int64(v))} }
func U16(v uint16) Value { return Value{bits: uint64(v)} }
func I16(v int16) Value  { return Value{bits: uint64(int64(v))} }
func U32(v uint32) Value { return Value{bits: uint64(v)} }
func I32(v int32) Value  { return Value{bits: uint64(int64(v))} }
func U64(v uint64) Value { return Value{bits: v} }
func I64(v int64) Value  { return Value{bits: uint64(v)} }
func F32(v float32) Value {
	return Value{bits: uint64(math.Float32bits(v))}
}
func F64(v float64) Value {
	return Value{bits: math.Float64bits(v)}
}

// Bytes constructs a Value for a KindByteArray constraint (only
// Eq/NeQ are meaningful on it).
func Bytes(b []byte) Value {
	return Value{bytes: append([]byte(nil), b...), isBuf: true}
}

// FromBits reconstructs a numeric Value from its raw bit pattern, as
// decoded off the wire by the wire package.
func FromBits(bits uint64) Value {
	return Value{bits: bits}
}

// Uint64 returns the raw bit pattern, reinterpreted as unsigned.
func (v Value) Uint64() uint64 { return v.bits }

// Int64 returns the raw bit pattern, reinterpreted as signed two's
// complement.
func (v Value) Int64() int64 { return int64(v.bits) }

// Float32 returns the bit pattern reinterpreted as an IEEE-754 single.
func (v Value) Float32() float32 { return math.Float32frombits(uint32(v.bits)) }

// Float64 returns the bit pattern reinterpreted as an IEEE-754 double.
func (v Value) Float64() float64 { return math.Float64frombits(v.bits) }

// ByteSlice returns the byte-array payload, or nil if this Value wasn't
// constructed with Bytes().
func (v Value) ByteSlice() []byte { return v.bytes }

// Float64OrFloat32 returns the value reinterpreted as float64, narrowing
// through float32 first when t is the single-precision type so the
// comparison in IncreasedBy/DecreasedBy uses the same precision the
// element itself is stored at.
func (v Value) Float64OrFloat32(t valtype.Type) float64 {
	if t.Kind == valtype.KindF32 {
		return float64(v.Float32())
	}
	return v.Float64()
}

// FitsType reports whether v was constructed for use with t (byte arrays
// must match size; numerics just need to not be a byte-array Value).
func (v Value) FitsType(t valtype.Type) bool {
	if t.Kind == valtype.KindByteArray {
		return v.isBuf && len(v.bytes) == t.ByteArraySize
	}
	return !v.isBuf
}
