package vecscan_test

import (
	"encoding/binary"
	"math"
	"testing"

	"github.com/memquarry/memscan/constraint"
	"github.com/memquarry/memscan/rle"
	"github.com/memquarry/memscan/valtype"
	"github.com/memquarry/memscan/vecscan"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScanRegionFastEqMatchesReferenceEval(t *testing.T) {
	tree := constraint.NewLeafWithValue(constraint.Eq, constraint.U8(0x42))
	action, err := vecscan.Compile(tree, valtype.U8)
	require.NoError(t, err)

	buf := make([]byte, 37)
	for i := range buf {
		if i%5 == 0 {
			buf[i] = 0x42
		} else {
			buf[i] = byte(i)
		}
	}

	enc := rle.NewEncoder(1, 1)
	vecscan.ScanRegion(action, valtype.Align1, buf, nil, 0, enc)
	runs := enc.GatherCollectedRegions()

	var gotOffsets []uint64
	for _, r := range runs {
		for off := uint64(0); off < r.RegionSize; off++ {
			gotOffsets = append(gotOffsets, r.OffsetInGroup+off)
		}
	}

	var wantOffsets []uint64
	for i := range buf {
		hit, err := constraint.Eval(tree, valtype.U8, buf, nil, i)
		require.NoError(t, err)
		if hit {
			wantOffsets = append(wantOffsets, uint64(i))
		}
	}
	assert.Equal(t, wantOffsets, gotOffsets)
}

func TestScanRegionElementWiseRangeQuery(t *testing.T) {
	tree := constraint.And(
		constraint.NewLeafWithValue(constraint.Gt, constraint.U32(5)),
		constraint.NewLeafWithValue(constraint.Lt, constraint.U32(20)),
	)
	action, err := vecscan.Compile(tree, valtype.U32)
	require.NoError(t, err)

	le := func(v uint32) []byte {
		return []byte{byte(v), byte(v >> 8), byte(v >> 16), byte(v >> 24)}
	}
	var buf []byte
	values := []uint32{4, 6, 19, 20, 100, 10}
	for _, v := range values {
		buf = append(buf, le(v)...)
	}

	enc := rle.NewEncoder(4, 4)
	vecscan.ScanRegion(action, valtype.Align4, buf, nil, 0, enc)
	runs := enc.GatherCollectedRegions()

	matched := map[uint64]bool{}
	for _, r := range runs {
		for off := r.OffsetInGroup; off < r.OffsetInGroup+r.RegionSize; off += 4 {
			matched[off] = true
		}
	}
	for i, v := range values {
		want := v > 5 && v < 20
		assert.Equal(t, want, matched[uint64(i*4)], "value %d at index %d", v, i)
	}
}

func TestScanRegionIneligibleRegionYieldsNoSurvivors(t *testing.T) {
	tree := constraint.NewLeaf(constraint.Changed)
	action, err := vecscan.Compile(tree, valtype.U8)
	require.NoError(t, err)

	buf := []byte{1, 2, 3, 4}
	enc := rle.NewEncoder(1, 1)
	vecscan.ScanRegion(action, valtype.Align1, buf, nil, 0, enc)
	assert.Empty(t, enc.GatherCollectedRegions())
}

func TestScanRegionRelativeWithPreviousGeneration(t *testing.T) {
	tree := constraint.NewLeaf(constraint.Increased)
	action, err := vecscan.Compile(tree, valtype.U8)
	require.NoError(t, err)

	prev := []byte{10, 10, 10, 10}
	cur := []byte{10, 20, 5, 11}
	enc := rle.NewEncoder(1, 1)
	vecscan.ScanRegion(action, valtype.Align1, cur, prev, 0, enc)
	runs := enc.GatherCollectedRegions()
	require.Len(t, runs, 2)
	assert.Equal(t, uint64(1), runs[0].OffsetInGroup)
	assert.Equal(t, uint64(3), runs[1].OffsetInGroup)
}

func TestCompileRejectsInvalidConstraint(t *testing.T) {
	tree := constraint.NewLeafWithValue(constraint.IncreasedBy, constraint.U8(1))
	_, err := vecscan.Compile(tree, valtype.ByteArray(4))
	require.Error(t, err)
}

func TestScanRegionPackedLanesMatchesReferenceEvalU32(t *testing.T) {
	tree := constraint.And(
		constraint.NewLeafWithValue(constraint.Gt, constraint.U32(1000)),
		constraint.NewLeafWithValue(constraint.Lt, constraint.U32(50000)),
	)
	action, err := vecscan.Compile(tree, valtype.U32)
	require.NoError(t, err)

	const count = 200 // well above elementWiseFallbackThreshold
	buf := make([]byte, count*4)
	for i := 0; i < count; i++ {
		v := uint32(i * 373)
		buf[i*4], buf[i*4+1], buf[i*4+2], buf[i*4+3] = byte(v), byte(v>>8), byte(v>>16), byte(v>>24)
	}

	enc := rle.NewEncoder(4, 4)
	vecscan.ScanRegion(action, valtype.Align4, buf, nil, 0, enc)
	runs := enc.GatherCollectedRegions()

	matched := map[uint64]bool{}
	for _, r := range runs {
		for off := r.OffsetInGroup; off < r.OffsetInGroup+r.RegionSize; off += 4 {
			matched[off] = true
		}
	}

	for i := 0; i < count; i++ {
		want, err := constraint.Eval(tree, valtype.U32, buf, nil, i*4)
		require.NoError(t, err)
		assert.Equal(t, want, matched[uint64(i*4)], "element %d", i)
	}
}

func TestScanRegionPackedLanesMatchesReferenceEvalF64BigEndian(t *testing.T) {
	bigT := valtype.F64.WithEndian(valtype.BigEndian)
	tree := constraint.NewLeafWithValue(constraint.Ge, constraint.F64(0))
	action, err := vecscan.Compile(tree, bigT)
	require.NoError(t, err)

	const count = 128
	buf := make([]byte, count*8)
	for i := 0; i < count; i++ {
		v := float64(i) - float64(count)/2
		binary.BigEndian.PutUint64(buf[i*8:i*8+8], math.Float64bits(v))
	}

	enc := rle.NewEncoder(8, 8)
	vecscan.ScanRegion(action, valtype.Align8, buf, nil, 0, enc)
	runs := enc.GatherCollectedRegions()

	matched := map[uint64]bool{}
	for _, r := range runs {
		for off := r.OffsetInGroup; off < r.OffsetInGroup+r.RegionSize; off += 8 {
			matched[off] = true
		}
	}

	for i := 0; i < count; i++ {
		want, err := constraint.Eval(tree, bigT, buf, nil, i*8)
		require.NoError(t, err)
		assert.Equal(t, want, matched[uint64(i*8)], "element %d", i)
	}
}

func TestCompileKeyStableForEquivalentTrees(t *testing.T) {
	a, err := vecscan.Compile(constraint.NewLeafWithValue(constraint.Eq, constraint.U32(7)), valtype.U32)
	require.NoError(t, err)
	b, err := vecscan.Compile(constraint.NewLeafWithValue(constraint.Eq, constraint.U32(7)), valtype.U32)
	require.NoError(t, err)
	assert.Equal(t, a.Key, b.Key)

	c, err := vecscan.Compile(constraint.NewLeafWithValue(constraint.Eq, constraint.U32(8)), valtype.U32)
	require.NoError(t, err)
	assert.NotEqual(t, a.Key, c.Key)
}
