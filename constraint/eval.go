package constraint

import (
	"bytes"
	"math"

	"github.com/grailbio/base/errors"
	"github.com/memquarry/memscan/valtype"
)

// Eval is the pointwise evaluator for one element at byte offset within
// cur (and, for relative constraints, prev). It is the single place that
// knows how to read and compare a typed value out of raw bytes; vecscan's
// compiled batch comparators call the same ReadTypedBits/TypedCompare
// helpers below so the two engines can never disagree on what a byte
// window means.
func Eval(tree Tree, t valtype.Type, cur, prev []byte, offset int) (bool, error) {
	switch n := tree.(type) {
	case nil:
		return false, errors.E(errors.Invalid, "constraint: empty constraint tree")
	case *Leaf:
		return evalLeaf(n, t, cur, prev, offset)
	case *Node:
		left, err := Eval(n.Left, t, cur, prev, offset)
		if err != nil {
			return false, err
		}
		switch n.Op {
		case AND:
			if !left {
				return false, nil
			}
		case OR:
			if left {
				return true, nil
			}
		}
		right, err := Eval(n.Right, t, cur, prev, offset)
		if err != nil {
			return false, err
		}
		switch n.Op {
		case AND:
			return left && right, nil
		case OR:
			return left || right, nil
		case XOR:
			return left != right, nil
		default:
			return false, errors.E(errors.Invalid, "constraint: unknown op")
		}
	default:
		return false, errors.E(errors.Invalid, "constraint: unknown tree node type")
	}
}

func evalLeaf(l *Leaf, t valtype.Type, cur, prev []byte, offset int) (bool, error) {
	size := t.SizeInBytes()
	if offset+size > len(cur) {
		return false, errors.E(errors.Invalid, "constraint: element does not fit in current buffer")
	}
	curWindow := cur[offset : offset+size]

	if l.Kind.IsRelative() && (prev == nil || offset+size > len(prev)) {
		return false, errors.E(errors.Invalid, "constraint: relative constraint without a usable previous buffer")
	}

	if t.Kind == valtype.KindByteArray {
		return evalByteArrayLeaf(l, curWindow, prev, offset, size)
	}

	var prevWindow []byte
	if l.Kind.IsRelative() {
		prevWindow = prev[offset : offset+size]
	}

	switch l.Kind {
	case Unchanged:
		return bytes.Equal(curWindow, prevWindow), nil
	case Changed:
		return !bytes.Equal(curWindow, prevWindow), nil
	}

	curBits := ReadTypedBits(t, curWindow)

	switch l.Kind {
	case Eq, NeQ, Gt, Ge, Lt, Le:
		litBits := l.Value.Uint64()
		eq, lt, gt := TypedCompare(t, curBits, litBits)
		switch l.Kind {
		case Eq:
			return eq, nil
		case NeQ:
			return !eq, nil
		case Gt:
			return gt, nil
		case Ge:
			return eq || gt, nil
		case Lt:
			return lt, nil
		case Le:
			return eq || lt, nil
		}
	case Increased, Decreased, IncreasedBy, DecreasedBy:
		prevBits := ReadTypedBits(t, prevWindow)
		if t.IsFloat() {
			curF, prevF := BitsToFloat(t, curBits), BitsToFloat(t, prevBits)
			switch l.Kind {
			case Increased:
				return !math.IsNaN(curF) && !math.IsNaN(prevF) && curF > prevF, nil
			case Decreased:
				return !math.IsNaN(curF) && !math.IsNaN(prevF) && curF < prevF, nil
			case IncreasedBy:
				return curF == prevF+l.Value.Float64OrFloat32(t), nil
			case DecreasedBy:
				return curF == prevF-l.Value.Float64OrFloat32(t), nil
			}
		}
		eq, lt, gt := TypedCompare(t, curBits, prevBits)
		_ = eq
		switch l.Kind {
		case Increased:
			return gt, nil
		case Decreased:
			return lt, nil
		case IncreasedBy:
			mask := SizeMask(size)
			return curBits == (prevBits+l.Value.Uint64())&mask, nil
		case DecreasedBy:
			mask := SizeMask(size)
			return curBits == (prevBits-l.Value.Uint64())&mask, nil
		}
	}
	return false, errors.E(errors.Invalid, "constraint: unhandled leaf kind")
}

func evalByteArrayLeaf(l *Leaf, curWindow, prev []byte, offset, size int) (bool, error) {
	switch l.Kind {
	case Eq:
		return bytes.Equal(curWindow, l.Value.ByteSlice()), nil
	case NeQ:
		return !bytes.Equal(curWindow, l.Value.ByteSlice()), nil
	case Unchanged:
		return bytes.Equal(curWindow, prev[offset:offset+size]), nil
	case Changed:
		return !bytes.Equal(curWindow, prev[offset:offset+size]), nil
	default:
		return false, errors.E(errors.NotSupported, "constraint: "+l.Kind.String()+" unsupported on byte-array")
	}
}

// SizeMask returns a mask covering the low 8*size bits, used for wrapping
// integer arithmetic in IncreasedBy/DecreasedBy.
func SizeMask(size int) uint64 {
	if size >= 8 {
		return ^uint64(0)
	}
	return (uint64(1) << uint(8*size)) - 1
}

// ReadTypedBits reconstructs the little-endian bit pattern of a numeric
// value from window, reversing byte order first if t is big-endian: a
// big-endian element stores its most significant byte first, so the
// value's bit pattern is the window read back to front.
func ReadTypedBits(t valtype.Type, window []byte) uint64 {
	size := len(window)
	if t.Endian == valtype.BigEndian {
		var rev [8]byte
		for i := 0; i < size; i++ {
			rev[i] = window[size-1-i]
		}
		window = rev[:size]
	}
	var v uint64
	for i := 0; i < size; i++ {
		v |= uint64(window[i]) << uint(8*i)
	}
	return v
}

func BitsToFloat(t valtype.Type, bits uint64) float64 {
	if t.Kind == valtype.KindF32 {
		return float64(math.Float32frombits(uint32(bits)))
	}
	return math.Float64frombits(bits)
}

// TypedCompare returns (eq, lt, gt) for the element's declared type,
// following IEEE-754 ordering for floats (NaN compares false against
// everything) and sign-extended two's complement for signed integers.
func TypedCompare(t valtype.Type, aBits, bBits uint64) (eq, lt, gt bool) {
	switch t.Kind {
	case valtype.KindF32, valtype.KindF64:
		af, bf := BitsToFloat(t, aBits), BitsToFloat(t, bBits)
		if math.IsNaN(af) || math.IsNaN(bf) {
			return false, false, false
		}
		return af == bf, af < bf, af > bf
	default:
		if t.IsSigned() {
			size := t.SizeInBytes()
			ai, bi := SignExtend(aBits, size), SignExtend(bBits, size)
			return ai == bi, ai < bi, ai > bi
		}
		return aBits == bBits, aBits < bBits, aBits > bBits
	}
}

func SignExtend(bits uint64, size int) int64 {
	switch size {
	case 1:
		return int64(int8(bits))
	case 2:
		return int64(int16(bits))
	case 4:
		return int64(int32(bits))
	default:
		return int64(bits)
	}
}
