// Package vecscan is the inner loop of a memory scan: given a compiled
// constraint and one region's current (and, for relative constraints,
// previous) bytes, it produces the surviving byte runs as rle.Runs.
// scandriver owns parallel dispatch across regions; this package only
// ever looks at one region at a time.
package vecscan

import (
	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/log"
	"github.com/memquarry/memscan/constraint"
	"github.com/memquarry/memscan/valtype"
	"github.com/minio/highwayhash"
)

// highwayHashKey is a fixed 32-byte key for CompiledAction.Key's content
// hash. It only needs to be stable across the lifetime of one process, not
// cryptographically secret: Key is an identity for memoization, not a
// security boundary.
var highwayHashKey = [32]byte{
	0x6d, 0x65, 0x6d, 0x71, 0x75, 0x61, 0x72, 0x72,
	0x79, 0x2d, 0x76, 0x65, 0x63, 0x73, 0x63, 0x61,
	0x6e, 0x2d, 0x63, 0x6f, 0x6d, 0x70, 0x69, 0x6c,
	0x65, 0x2d, 0x63, 0x61, 0x63, 0x68, 0x65, 0x31,
}

// CompiledAction is a constraint tree validated against a concrete scan
// type, plus the compiled batch comparator ScanRegion drives over every
// region. The same CompiledAction is reused across every region of a
// scan; scandriver.Scan compiles a fresh one on every call.
type CompiledAction struct {
	Tree constraint.Tree
	Type valtype.Type

	// Key identifies this (tree, type) pair for callers that want to
	// memoize region-level results (e.g. skip re-scanning a region whose
	// fingerprint hasn't changed since it last produced zero survivors
	// under this exact action).
	Key [highwayhash.Size]byte

	batch batchFn
}

// Compile validates tree against t and builds the action the scan driver
// hands to ScanRegion for every region in the snapshot. The tree is
// walked exactly once here: every leaf's comparator and every interior
// node's combinator is chosen now, so ScanRegion's hot loop never
// branches on leaf kind, node op, or element type again.
func Compile(tree constraint.Tree, t valtype.Type) (*CompiledAction, error) {
	if err := constraint.Validate(tree, t); err != nil {
		return nil, err
	}
	batch, err := compileTree(tree, t)
	if err != nil {
		return nil, err
	}
	a := &CompiledAction{Tree: tree, Type: t, batch: batch}
	a.Key = highwayhash.Sum(serializeForHash(tree, t), highwayHashKey[:])
	log.Debug.Printf("vecscan: compiled action type=%v key=%x", t, a.Key[:8])
	return a, nil
}

func compileTree(tree constraint.Tree, t valtype.Type) (batchFn, error) {
	switch n := tree.(type) {
	case nil:
		return nil, errors.E(errors.Invalid, "vecscan: empty constraint tree")
	case *constraint.Leaf:
		return compileLeaf(n, t), nil
	case *constraint.Node:
		left, err := compileTree(n.Left, t)
		if err != nil {
			return nil, err
		}
		right, err := compileTree(n.Right, t)
		if err != nil {
			return nil, err
		}
		switch n.Op {
		case constraint.AND:
			return combineAnd(left, right), nil
		case constraint.OR:
			return combineOr(left, right), nil
		case constraint.XOR:
			return combineXor(left, right), nil
		default:
			return nil, errors.E(errors.Invalid, "vecscan: unknown op")
		}
	default:
		return nil, errors.E(errors.Invalid, "vecscan: unknown tree node type")
	}
}

// serializeForHash produces a deterministic byte encoding of (tree, t)
// for the cache key. It does not need to be reversible, only injective
// enough in practice to avoid accidental collisions between distinct
// actions.
func serializeForHash(tree constraint.Tree, t valtype.Type) []byte {
	buf := make([]byte, 0, 64)
	buf = append(buf, byte(t.Kind), byte(t.Endian), byte(t.ByteArraySize), byte(t.ByteArraySize>>8))
	buf = appendTree(buf, tree)
	return buf
}

func appendTree(buf []byte, tree constraint.Tree) []byte {
	switch n := tree.(type) {
	case nil:
		return append(buf, 0)
	case *constraint.Leaf:
		buf = append(buf, 1, byte(n.Kind))
		if n.HasValue() {
			buf = append(buf, 1)
			v := n.Value.Uint64()
			for i := 0; i < 8; i++ {
				buf = append(buf, byte(v>>(8*i)))
			}
			buf = append(buf, n.Value.ByteSlice()...)
		} else {
			buf = append(buf, 0)
		}
		return buf
	case *constraint.Node:
		buf = append(buf, 2, byte(n.Op))
		buf = appendTree(buf, n.Left)
		buf = appendTree(buf, n.Right)
		return buf
	default:
		return append(buf, 0xff)
	}
}
