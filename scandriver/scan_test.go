package scandriver_test

import (
	"context"
	"testing"

	"github.com/memquarry/memscan/constraint"
	"github.com/memquarry/memscan/memsource"
	"github.com/memquarry/memscan/scandriver"
	"github.com/memquarry/memscan/snapshot"
	"github.com/memquarry/memscan/valtype"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func readerFor(data map[uint64][]byte) memsource.ByteReader {
	return func(baseAddress uint64, size int, out []byte) (int, error) {
		n := copy(out, data[baseAddress])
		if n < size {
			n = size // reader still fills the whole request, tail already zero
		}
		return size, nil
	}
}

func TestScanFirstValueScan(t *testing.T) {
	raw := []memsource.Region{{BaseAddress: 0x1000, Size: 16}}
	snap := snapshot.BuildInitialSnapshot("s", raw, valtype.Align1)

	data := map[uint64][]byte{
		0x1000: {10, 0, 0, 0, 20, 0, 0, 0, 30, 0, 0, 0, 40, 0, 0, 0},
	}
	tree := constraint.And(
		constraint.NewLeafWithValue(constraint.Gt, constraint.U32(15)),
		constraint.NewLeafWithValue(constraint.Lt, constraint.U32(35)),
	)
	d := scandriver.NewDriver()
	next, err := scandriver.Scan(context.Background(), d, snap, tree, scandriver.Opts{
		Reader:    readerFor(data),
		Type:      valtype.U32,
		Alignment: valtype.Align4,
	})
	require.NoError(t, err)
	assert.Equal(t, scandriver.Done, d.State())
	require.Len(t, next.Regions, 1, "20 and 30 are adjacent, so they coalesce into one region")
	assert.Equal(t, uint64(2), next.ElementCount, "20 and 30 survive")
	assert.Equal(t, "Manual Scan", next.Name, "default operation name, not the input snapshot's name")
}

func TestScanNamesResultAfterOperationName(t *testing.T) {
	raw := []memsource.Region{{BaseAddress: 0x1000, Size: 4}}
	snap := snapshot.BuildInitialSnapshot("initial dump", raw, valtype.Align1)
	data := map[uint64][]byte{0x1000: {42, 0, 0, 0}}
	tree := constraint.NewLeafWithValue(constraint.Eq, constraint.U32(42))
	d := scandriver.NewDriver()
	next, err := scandriver.Scan(context.Background(), d, snap, tree, scandriver.Opts{
		Reader:        readerFor(data),
		Type:          valtype.U32,
		Alignment:     valtype.Align4,
		OperationName: "Value Scan",
	})
	require.NoError(t, err)
	assert.Equal(t, "Value Scan", next.Name)
	assert.NotEqual(t, snap.Name, next.Name)
}

func TestScanRejectsEmptyConstraint(t *testing.T) {
	raw := []memsource.Region{{BaseAddress: 0x1000, Size: 4}}
	snap := snapshot.BuildInitialSnapshot("s", raw, valtype.Align1)
	d := scandriver.NewDriver()
	_, err := scandriver.Scan(context.Background(), d, snap, nil, scandriver.Opts{
		Reader: readerFor(nil),
		Type:   valtype.U32,
	})
	require.Error(t, err)
	assert.Equal(t, scandriver.Failed, d.State())
}

func TestScanRequiresReader(t *testing.T) {
	raw := []memsource.Region{{BaseAddress: 0x1000, Size: 4}}
	snap := snapshot.BuildInitialSnapshot("s", raw, valtype.Align1)
	d := scandriver.NewDriver()
	tree := constraint.NewLeafWithValue(constraint.Eq, constraint.U32(1))
	_, err := scandriver.Scan(context.Background(), d, snap, tree, scandriver.Opts{Type: valtype.U32})
	require.Error(t, err)
}

func TestScanRespectsCancellation(t *testing.T) {
	raw := []memsource.Region{{BaseAddress: 0x1000, Size: 4}}
	snap := snapshot.BuildInitialSnapshot("s", raw, valtype.Align1)
	d := scandriver.NewDriver()
	tree := constraint.NewLeafWithValue(constraint.Eq, constraint.U32(1))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := scandriver.Scan(ctx, d, snap, tree, scandriver.Opts{
		Reader: readerFor(map[uint64][]byte{0x1000: {1, 0, 0, 0}}),
		Type:   valtype.U32,
	})
	require.Error(t, err)
	assert.Equal(t, scandriver.Cancelled, d.State())
}

func TestScanProgressReachesTotal(t *testing.T) {
	raw := []memsource.Region{
		{BaseAddress: 0x1000, Size: 4},
		{BaseAddress: 0x3000, Size: 4},
	}
	snap := snapshot.BuildInitialSnapshot("s", raw, valtype.Align1)
	data := map[uint64][]byte{
		0x1000: {1, 0, 0, 0},
		0x3000: {1, 0, 0, 0},
	}
	d := scandriver.NewDriver()
	tree := constraint.NewLeafWithValue(constraint.Eq, constraint.U32(1))
	_, err := scandriver.Scan(context.Background(), d, snap, tree, scandriver.Opts{
		Reader:      readerFor(data),
		Type:        valtype.U32,
		Parallelism: 2,
	})
	require.NoError(t, err)
	completed, total := d.Progress()
	assert.Equal(t, total, completed)
	assert.Equal(t, int64(2), total)
}
