package vecscan

import (
	"bytes"
	"math"

	"github.com/memquarry/memscan/constraint"
	"github.com/memquarry/memscan/valtype"
)

// batchFn evaluates one compiled leaf or combinator across n consecutive
// elements, writing one bool per element into out[0:n]. Element i's byte
// window starts at i*align within cur (and prev, for relative leaves).
// Every branch on leaf kind or type has already been resolved by the time
// a batchFn exists; the closure itself only ever runs the one comparison
// it was built for.
type batchFn func(cur, prev []byte, align, n int, out []bool)

// bitCompareFn is a leaf's bound comparison, chosen once in compareFnFor
// for the leaf's (kind, type) pair.
type bitCompareFn func(curBits, litBits uint64) bool

func compareFnFor(kind constraint.LeafKind, t valtype.Type) bitCompareFn {
	switch kind {
	case constraint.Eq:
		return func(a, b uint64) bool { eq, _, _ := constraint.TypedCompare(t, a, b); return eq }
	case constraint.NeQ:
		return func(a, b uint64) bool { eq, _, _ := constraint.TypedCompare(t, a, b); return !eq }
	case constraint.Gt:
		return func(a, b uint64) bool { _, _, gt := constraint.TypedCompare(t, a, b); return gt }
	case constraint.Ge:
		return func(a, b uint64) bool { eq, _, gt := constraint.TypedCompare(t, a, b); return eq || gt }
	case constraint.Lt:
		return func(a, b uint64) bool { _, lt, _ := constraint.TypedCompare(t, a, b); return lt }
	case constraint.Le:
		return func(a, b uint64) bool { eq, lt, _ := constraint.TypedCompare(t, a, b); return eq || lt }
	default:
		return nil
	}
}

// compileLeaf builds the batchFn for a single leaf, resolving its type,
// kind, and literal into one specialized closure. The dispatch on l.Kind
// happens exactly once, here, at Compile() time.
func compileLeaf(l *constraint.Leaf, t valtype.Type) batchFn {
	if t.Kind == valtype.KindByteArray {
		return compileByteArrayLeaf(l, t)
	}
	switch l.Kind {
	case constraint.Unchanged, constraint.Changed:
		return compileEqualityRelative(l.Kind, t)
	case constraint.Increased, constraint.Decreased, constraint.IncreasedBy, constraint.DecreasedBy:
		return compileDeltaRelative(l.Kind, t, l.Value)
	default:
		return compileValueLeaf(l.Kind, t, l.Value.Uint64())
	}
}

// compileValueLeaf handles Eq/NeQ/Gt/Ge/Lt/Le: leaves that compare every
// element against one literal. Byte-wide Eq/NeQ route through the SWAR
// word-at-a-time path in fasteq.go; every other packed numeric width
// extracts several lanes per 8-byte word via scanPackedLanes; anything
// else (unusual alignment) falls back to a plain per-element loop that
// still never branches on kind or type inside the loop body.
func compileValueLeaf(kind constraint.LeafKind, t valtype.Type, litBits uint64) batchFn {
	size := t.SizeInBytes()

	if size == 1 && (kind == constraint.Eq || kind == constraint.NeQ) {
		plan := planFastEqForValue(litBits, kind == constraint.NeQ)
		return func(cur, prev []byte, align, n int, out []bool) {
			if align == 1 {
				scanFastEq(plan, cur[:n], out[:n])
				return
			}
			for i := 0; i < n; i++ {
				hit := cur[i*align] == plan.value
				if plan.negate {
					hit = !hit
				}
				out[i] = hit
			}
		}
	}

	cmp := compareFnFor(kind, t)
	big := t.Endian == valtype.BigEndian
	return func(cur, prev []byte, align, n int, out []bool) {
		if align == size && isPackedWidth(size) {
			scanPackedLanes(cur, size, n, func(bits uint64, i int) {
				if big {
					bits = reverseBytes(bits, size)
				}
				out[i] = cmp(bits, litBits)
			})
			return
		}
		for i := 0; i < n; i++ {
			off := i * align
			bits := constraint.ReadTypedBits(t, cur[off:off+size])
			out[i] = cmp(bits, litBits)
		}
	}
}

// compileByteArrayLeaf handles Eq/NeQ/Unchanged/Changed over an opaque
// byte-array type: there's no numeric lane to extract, so every case is a
// plain memcmp per element.
func compileByteArrayLeaf(l *constraint.Leaf, t valtype.Type) batchFn {
	size := t.ByteArraySize
	switch l.Kind {
	case constraint.Eq:
		lit := l.Value.ByteSlice()
		return func(cur, prev []byte, align, n int, out []bool) {
			for i := 0; i < n; i++ {
				off := i * align
				out[i] = bytes.Equal(cur[off:off+size], lit)
			}
		}
	case constraint.NeQ:
		lit := l.Value.ByteSlice()
		return func(cur, prev []byte, align, n int, out []bool) {
			for i := 0; i < n; i++ {
				off := i * align
				out[i] = !bytes.Equal(cur[off:off+size], lit)
			}
		}
	default:
		return compileEqualityRelative(l.Kind, t)
	}
}

// compileEqualityRelative handles Unchanged/Changed for any type: a
// memcmp between the element's current and previous window.
func compileEqualityRelative(kind constraint.LeafKind, t valtype.Type) batchFn {
	size := t.SizeInBytes()
	negate := kind == constraint.Changed
	return func(cur, prev []byte, align, n int, out []bool) {
		for i := 0; i < n; i++ {
			off := i * align
			eq := bytes.Equal(cur[off:off+size], prev[off:off+size])
			if negate {
				eq = !eq
			}
			out[i] = eq
		}
	}
}

// compileDeltaRelative handles Increased/Decreased/IncreasedBy/
// DecreasedBy, which compare an element's current value against its own
// previous value rather than a fixed literal.
func compileDeltaRelative(kind constraint.LeafKind, t valtype.Type, lit constraint.Value) batchFn {
	size := t.SizeInBytes()

	if t.IsFloat() {
		switch kind {
		case constraint.Increased:
			return func(cur, prev []byte, align, n int, out []bool) {
				for i := 0; i < n; i++ {
					off := i * align
					curF, prevF := floatAt(t, cur, off, size), floatAt(t, prev, off, size)
					out[i] = !math.IsNaN(curF) && !math.IsNaN(prevF) && curF > prevF
				}
			}
		case constraint.Decreased:
			return func(cur, prev []byte, align, n int, out []bool) {
				for i := 0; i < n; i++ {
					off := i * align
					curF, prevF := floatAt(t, cur, off, size), floatAt(t, prev, off, size)
					out[i] = !math.IsNaN(curF) && !math.IsNaN(prevF) && curF < prevF
				}
			}
		case constraint.IncreasedBy:
			delta := lit.Float64OrFloat32(t)
			return func(cur, prev []byte, align, n int, out []bool) {
				for i := 0; i < n; i++ {
					off := i * align
					curF, prevF := floatAt(t, cur, off, size), floatAt(t, prev, off, size)
					out[i] = curF == prevF+delta
				}
			}
		case constraint.DecreasedBy:
			delta := lit.Float64OrFloat32(t)
			return func(cur, prev []byte, align, n int, out []bool) {
				for i := 0; i < n; i++ {
					off := i * align
					curF, prevF := floatAt(t, cur, off, size), floatAt(t, prev, off, size)
					out[i] = curF == prevF-delta
				}
			}
		}
	}

	switch kind {
	case constraint.Increased:
		return func(cur, prev []byte, align, n int, out []bool) {
			for i := 0; i < n; i++ {
				off := i * align
				curBits := constraint.ReadTypedBits(t, cur[off:off+size])
				prevBits := constraint.ReadTypedBits(t, prev[off:off+size])
				_, _, gt := constraint.TypedCompare(t, curBits, prevBits)
				out[i] = gt
			}
		}
	case constraint.Decreased:
		return func(cur, prev []byte, align, n int, out []bool) {
			for i := 0; i < n; i++ {
				off := i * align
				curBits := constraint.ReadTypedBits(t, cur[off:off+size])
				prevBits := constraint.ReadTypedBits(t, prev[off:off+size])
				_, lt, _ := constraint.TypedCompare(t, curBits, prevBits)
				out[i] = lt
			}
		}
	case constraint.IncreasedBy:
		delta := lit.Uint64()
		return func(cur, prev []byte, align, n int, out []bool) {
			mask := constraint.SizeMask(size)
			for i := 0; i < n; i++ {
				off := i * align
				curBits := constraint.ReadTypedBits(t, cur[off:off+size])
				prevBits := constraint.ReadTypedBits(t, prev[off:off+size])
				out[i] = curBits == (prevBits+delta)&mask
			}
		}
	case constraint.DecreasedBy:
		delta := lit.Uint64()
		return func(cur, prev []byte, align, n int, out []bool) {
			mask := constraint.SizeMask(size)
			for i := 0; i < n; i++ {
				off := i * align
				curBits := constraint.ReadTypedBits(t, cur[off:off+size])
				prevBits := constraint.ReadTypedBits(t, prev[off:off+size])
				out[i] = curBits == (prevBits-delta)&mask
			}
		}
	}
	return nil
}

func floatAt(t valtype.Type, buf []byte, off, size int) float64 {
	bits := constraint.ReadTypedBits(t, buf[off:off+size])
	return constraint.BitsToFloat(t, bits)
}
