package snapshot_test

import (
	"errors"
	"testing"

	"github.com/memquarry/memscan/memsource"
	"github.com/memquarry/memscan/snapshot"
	"github.com/memquarry/memscan/valtype"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fakeReader(data []byte) memsource.ByteReader {
	return func(baseAddress uint64, size int, out []byte) (int, error) {
		n := copy(out, data)
		return n, nil
	}
}

func TestReadGroupSwapsGenerations(t *testing.T) {
	g := snapshot.NewReadGroup(0x1000, 4, valtype.Align4)
	require.False(t, g.CanCompare())

	require.NoError(t, g.ReadAll(fakeReader([]byte{1, 2, 3, 4})))
	assert.Nil(t, g.Previous())
	assert.False(t, g.CanCompare(), "no previous generation yet")

	require.NoError(t, g.ReadAll(fakeReader([]byte{1, 2, 99, 4})))
	assert.Equal(t, []byte{1, 2, 3, 4}, g.Previous())
	assert.Equal(t, []byte{1, 2, 99, 4}, g.Current())
	assert.True(t, g.CanCompare())
}

func TestReadGroupShortReadDisablesCompare(t *testing.T) {
	g := snapshot.NewReadGroup(0x1000, 4, valtype.Align4)
	require.NoError(t, g.ReadAll(fakeReader([]byte{1, 2, 3, 4})))
	require.NoError(t, g.ReadAll(fakeReader([]byte{9, 9}))) // short: only 2 of 4 bytes
	assert.False(t, g.CanCompare())
	assert.Equal(t, []byte{9, 9, 0, 0}, g.Current(), "unread tail is zero-filled")
}

func TestReadGroupHardErrorAborts(t *testing.T) {
	g := snapshot.NewReadGroup(0x1000, 4, valtype.Align4)
	boom := errors.New("boom")
	err := g.ReadAll(func(baseAddress uint64, size int, out []byte) (int, error) {
		return 0, boom
	})
	require.Error(t, err)
}

func TestReadGroupFingerprintChangesWithContent(t *testing.T) {
	g := snapshot.NewReadGroup(0x1000, 4, valtype.Align4)
	require.NoError(t, g.ReadAll(fakeReader([]byte{1, 2, 3, 4})))
	fp1 := g.Fingerprint()
	require.NoError(t, g.ReadAll(fakeReader([]byte{1, 2, 3, 4})))
	fp2 := g.Fingerprint()
	assert.Equal(t, fp1, fp2, "identical bytes hash identically")

	require.NoError(t, g.ReadAll(fakeReader([]byte{1, 2, 3, 5})))
	fp3 := g.Fingerprint()
	assert.NotEqual(t, fp2, fp3)
}

func TestReadGroupCompactRoundTrip(t *testing.T) {
	g := snapshot.NewReadGroup(0x1000, 4, valtype.Align4)
	require.NoError(t, g.ReadAll(fakeReader([]byte{1, 2, 3, 4})))
	require.NoError(t, g.ReadAll(fakeReader([]byte{5, 6, 7, 8})))

	g.Compact()
	assert.Nil(t, g.Current())
	require.NoError(t, g.Decompact())
	assert.Equal(t, []byte{5, 6, 7, 8}, g.Current())
	assert.Equal(t, []byte{1, 2, 3, 4}, g.Previous())
}

func TestElementCountAlignment(t *testing.T) {
	g := snapshot.NewReadGroup(0x1000, 16, valtype.Align4)
	r := &snapshot.SnapshotRegion{Group: g, OffsetInGroup: 0, RegionSize: 16}

	assert.Equal(t, uint64(4), r.ElementCount(valtype.Align4, 4))
	assert.Equal(t, uint64(13), r.ElementCount(valtype.Align1, 4))
	assert.Equal(t, uint64(0), r.ElementCount(valtype.Align4, 32), "element larger than region")
}

func TestSnapshotRecomputeOrdersAndIndexes(t *testing.T) {
	g1 := snapshot.NewReadGroup(0x2000, 16, valtype.Align4)
	g2 := snapshot.NewReadGroup(0x1000, 16, valtype.Align4)

	snap := snapshot.New("test", valtype.Align4)
	snap.Regions = []*snapshot.SnapshotRegion{
		{Group: g1, RegionSize: 16},
		{Group: g2, RegionSize: 16},
	}
	snap.Recompute(4)

	require.Len(t, snap.Regions, 2)
	assert.Equal(t, uint64(0x1000), snap.Regions[0].BaseAddress(), "sorted ascending by address")
	assert.Equal(t, uint64(0x2000), snap.Regions[1].BaseAddress())
	assert.Equal(t, uint64(0), snap.Regions[0].BaseElementIndex)
	assert.Equal(t, uint64(4), snap.Regions[1].BaseElementIndex, "prefix sum over element counts")
	assert.Equal(t, uint64(8), snap.ElementCount)
	assert.Equal(t, uint64(32), snap.ByteCount)
}

func TestRegionForElementBinarySearch(t *testing.T) {
	snap := snapshot.New("test", valtype.Align4)
	snap.Regions = []*snapshot.SnapshotRegion{
		{Group: snapshot.NewReadGroup(0x1000, 16, valtype.Align4), RegionSize: 16},
		{Group: snapshot.NewReadGroup(0x2000, 24, valtype.Align4), RegionSize: 24},
	}
	snap.Recompute(4)

	for elemIdx := uint64(0); elemIdx < snap.ElementCount; elemIdx++ {
		r, ok := snap.RegionForElement(elemIdx, 4)
		require.True(t, ok)
		assert.True(t, elemIdx >= r.BaseElementIndex && elemIdx < r.BaseElementIndex+r.ElementCount(valtype.Align4, 4))
	}
	_, ok := snap.RegionForElement(snap.ElementCount, 4)
	assert.False(t, ok, "out of range")
}

func TestSnapshotFingerprintOrderIndependent(t *testing.T) {
	a := &snapshot.SnapshotRegion{Group: snapshot.NewReadGroup(0x1000, 16, valtype.Align4), RegionSize: 16}
	b := &snapshot.SnapshotRegion{Group: snapshot.NewReadGroup(0x2000, 16, valtype.Align4), RegionSize: 16}

	s1 := snapshot.New("s1", valtype.Align4)
	s1.Regions = []*snapshot.SnapshotRegion{a, b}
	s1.Recompute(4)

	s2 := snapshot.New("s2", valtype.Align4)
	s2.Regions = []*snapshot.SnapshotRegion{b, a}
	s2.Recompute(4)

	assert.Equal(t, s1.Fingerprint(), s2.Fingerprint())
}

func TestBuildInitialSnapshotMergesAdjacentRegions(t *testing.T) {
	raw := []memsource.Region{
		{BaseAddress: 0x2000, Size: 0x100},
		{BaseAddress: 0x1000, Size: 0x1000}, // ends at 0x2000, touches the first
		{BaseAddress: 0x5000, Size: 0x10},
	}
	snap := snapshot.BuildInitialSnapshot("initial", raw, valtype.Align1)
	require.Len(t, snap.Regions, 2)
	assert.Equal(t, uint64(0x1000), snap.Regions[0].BaseAddress())
	assert.Equal(t, uint64(0x2100), snap.Regions[0].EndAddress())
	assert.Equal(t, uint64(0x5000), snap.Regions[1].BaseAddress())
}

func TestSnapshotStackUndo(t *testing.T) {
	stack := snapshot.NewSnapshotStack()
	initial := snapshot.New("initial", valtype.Align4)
	stack.Push(initial)
	assert.Equal(t, 1, stack.Depth())
	assert.Error(t, stack.Pop(), "cannot pop past the floor")

	filtered := snapshot.New("filtered", valtype.Align4)
	stack.Push(filtered)
	assert.Equal(t, 2, stack.Depth())
	assert.Same(t, filtered, stack.Current())

	require.NoError(t, stack.Pop())
	assert.Same(t, initial, stack.Current())
}
