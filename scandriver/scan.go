package scandriver

import (
	"context"
	"sort"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/log"
	"github.com/grailbio/base/traverse"
	"github.com/memquarry/memscan/constraint"
	"github.com/memquarry/memscan/memsource"
	"github.com/memquarry/memscan/rle"
	"github.com/memquarry/memscan/snapshot"
	"github.com/memquarry/memscan/valtype"
	"github.com/memquarry/memscan/vecscan"
)

// defaultOperationName is the result snapshot's name when Opts.OperationName
// is left blank.
const defaultOperationName = "Manual Scan"

// Opts configures one Scan call, in the style of fusion.Opts and
// markduplicates' Opts structs: plain exported fields, defaulted by
// Scan rather than by a constructor.
type Opts struct {
	// Reader supplies fresh bytes for every ReadGroup the snapshot
	// touches. Required.
	Reader memsource.ByteReader

	// Type is the scannable type every element in the result snapshot is
	// interpreted as.
	Type valtype.Type

	// Alignment is the requested element stride; valtype.AlignAuto
	// resolves against Type.
	Alignment valtype.Alignment

	// Parallelism bounds how many regions are scanned concurrently.
	// Defaults to 1 when <= 0.
	Parallelism int

	// OperationName labels the result snapshot, for display in an undo
	// history. Defaults to "Manual Scan" when blank.
	OperationName string
}

// Scan runs one full scan round over snap: it reads fresh bytes for every
// distinct ReadGroup the snapshot references, compiles tree against
// opts.Type, scans every region in parallel, and returns the next
// Snapshot containing only the survivors.
//
// d's state transitions Idle -> Reading -> Scanning -> Assembling -> Done
// on success, or to Cancelled / Failed otherwise; d may be polled for
// progress from another goroutine while Scan runs.
func Scan(ctx context.Context, d *Driver, snap *snapshot.Snapshot, tree constraint.Tree, opts Opts) (*snapshot.Snapshot, error) {
	if d == nil {
		d = NewDriver()
	}
	if opts.Reader == nil {
		d.setState(Failed)
		return nil, errors.E(errors.Invalid, "scandriver: Opts.Reader is required")
	}
	if constraint.IsEmpty(tree) {
		d.setState(Failed)
		return nil, errors.E(errors.Invalid, "scandriver: empty constraint tree")
	}
	if snap == nil || snap.IsEmpty() {
		d.setState(Failed)
		return nil, errors.E(errors.Invalid, "scandriver: snapshot has no regions")
	}
	parallelism := opts.Parallelism
	if parallelism <= 0 {
		parallelism = 1
	}
	opName := opts.OperationName
	if opName == "" {
		opName = defaultOperationName
	}
	alignment := snap.AlignAndResolveAuto(opts.Alignment, opts.Type)

	action, err := vecscan.Compile(tree, opts.Type)
	if err != nil {
		d.setState(Failed)
		return nil, err
	}

	if err := readGroups(ctx, d, snap, opts.Reader, parallelism); err != nil {
		return nil, err
	}

	runsByRegion, err := scanRegions(ctx, d, snap, action, alignment, parallelism)
	if err != nil {
		return nil, err
	}

	d.setState(Assembling)
	next := assemble(opName, snap, runsByRegion, opts.Type, alignment)
	d.setState(Done)
	log.Debug.Printf("scandriver: %q produced %d surviving regions from %d", opName, len(next.Regions), len(snap.Regions))
	return next, nil
}

// readGroups reads fresh bytes into every distinct ReadGroup snap
// references. A group referenced by several regions is read exactly
// once.
func readGroups(ctx context.Context, d *Driver, snap *snapshot.Snapshot, reader memsource.ByteReader, parallelism int) error {
	d.setState(Reading)

	seen := map[*snapshot.ReadGroup]bool{}
	var groups []*snapshot.ReadGroup
	for _, r := range snap.Regions {
		if !seen[r.Group] {
			seen[r.Group] = true
			groups = append(groups, r.Group)
		}
	}

	log.Debug.Printf("scandriver: reading %d groups at parallelism %d", len(groups), parallelism)
	err := (&traverse.T{Limit: parallelism}).Each(len(groups), func(i int) error {
		if ctx.Err() != nil {
			return errors.E(errors.Canceled, ctx.Err(), "scandriver: reading cancelled")
		}
		return groups[i].ReadAll(reader)
	})
	if err != nil {
		if ctx.Err() != nil {
			d.setState(Cancelled)
		} else {
			d.setState(Failed)
		}
		return err
	}
	if ctx.Err() != nil {
		d.setState(Cancelled)
		return errors.E(errors.Canceled, ctx.Err(), "scandriver: reading cancelled")
	}
	return nil
}

// scanRegions dispatches vecscan.ScanRegion across snap.Regions in
// parallel, largest region first: this keeps a handful of huge regions
// from becoming the long pole behind a flood of tiny ones, the same
// reasoning behind descending-size shard ordering in pileup/snp/pileup.go.
func scanRegions(ctx context.Context, d *Driver, snap *snapshot.Snapshot, action *vecscan.CompiledAction, alignment valtype.Alignment, parallelism int) ([][]rle.Run, error) {
	d.setState(Scanning)
	d.setTotal(len(snap.Regions))

	order := make([]int, len(snap.Regions))
	for i := range order {
		order[i] = i
	}
	sort.Slice(order, func(i, j int) bool {
		return snap.Regions[order[i]].RegionSize > snap.Regions[order[j]].RegionSize
	})

	elemSize := uint64(action.Type.SizeInBytes())
	align := uint64(int(alignment.Resolve(action.Type)))

	results := make([][]rle.Run, len(snap.Regions))
	err := (&traverse.T{Limit: parallelism}).Each(len(order), func(i int) error {
		idx := order[i]
		if ctx.Err() != nil {
			return errors.E(errors.Canceled, ctx.Err(), "scandriver: scanning cancelled")
		}
		region := snap.Regions[idx]
		group := region.Group
		cur := group.Current()
		if uint64(len(cur)) < region.OffsetInGroup+region.RegionSize {
			d.incCompleted()
			return nil
		}
		curWindow := cur[region.OffsetInGroup : region.OffsetInGroup+region.RegionSize]

		var prevWindow []byte
		if group.CanCompare() {
			prev := group.Previous()
			if uint64(len(prev)) >= region.OffsetInGroup+region.RegionSize {
				prevWindow = prev[region.OffsetInGroup : region.OffsetInGroup+region.RegionSize]
			}
		}

		enc := rle.NewEncoder(align, elemSize)
		vecscan.ScanRegion(action, alignment, curWindow, prevWindow, region.OffsetInGroup, enc)
		results[idx] = enc.GatherCollectedRegions()
		d.incCompleted()
		return nil
	})
	if err != nil {
		if ctx.Err() != nil {
			d.setState(Cancelled)
		} else {
			d.setState(Failed)
		}
		return nil, err
	}
	if ctx.Err() != nil {
		d.setState(Cancelled)
		return nil, errors.E(errors.Canceled, ctx.Err(), "scandriver: scanning cancelled")
	}
	return results, nil
}

// assemble turns the per-region survivor runs back into SnapshotRegions
// sharing their originating ReadGroup, and builds the next Snapshot from
// them, named for the operation that produced it rather than for
// whatever snapshot it was scanned from.
func assemble(opName string, prevSnap *snapshot.Snapshot, runsByRegion [][]rle.Run, t valtype.Type, alignment valtype.Alignment) *snapshot.Snapshot {
	next := snapshot.New(opName, alignment)
	for idx, runs := range runsByRegion {
		group := prevSnap.Regions[idx].Group
		for _, run := range runs {
			next.Regions = append(next.Regions, &snapshot.SnapshotRegion{
				Group:         group,
				OffsetInGroup: run.OffsetInGroup,
				RegionSize:    run.RegionSize,
			})
		}
	}
	next.Recompute(t.SizeInBytes())
	return next
}

