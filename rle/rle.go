// Package rle collapses a vectorized scan's per-element survivor bitmap
// into runs of contiguous matching elements, the same coalescing idea
// snapshot.BuildInitialSnapshot uses for raw OS regions, applied here to
// the much higher cadence of per-element scan results. Keeping survivors
// as (offset, size) runs instead of one SnapshotRegion
// per matching element keeps a scan that matches millions of elements
// from allocating millions of regions.
package rle

import "github.com/grailbio/base/log"

// Run is one contiguous span of matching bytes within a ReadGroup,
// expressed in the group's own byte offsets so it can be turned directly
// into a snapshot.SnapshotRegion.
type Run struct {
	OffsetInGroup uint64
	RegionSize    uint64
}

// Encoder accumulates survivor decisions, produced in increasing element-
// index order, into Runs. Consecutive matching elements whose starting
// offsets differ by exactly the scan's alignment are coalesced into a
// single Run; a gap, or a batch boundary with no continuation, closes the
// open run.
//
// The final Run in a coalesced group always ends element_size-1 bytes
// past the last matching element's start offset, not just at the next
// aligned stride: a run's RegionSize measures bytes, and the last
// element's own byte_count bytes belong to the run even though the next
// (non-matching, or absent) element's start offset is only alignment
// bytes further along.
type Encoder struct {
	alignment   uint64
	elementSize uint64

	open       bool
	runStart   uint64
	lastOffset uint64

	runs []Run
}

// NewEncoder constructs an Encoder for a scan using the given element
// stride and byte width.
func NewEncoder(alignment, elementSize uint64) *Encoder {
	if alignment == 0 {
		alignment = 1
	}
	return &Encoder{alignment: alignment, elementSize: elementSize}
}

// EncodeBatch folds one batch of per-element survivor flags into the
// encoder's run state. offsetOfFirst is the byte offset, within the
// ReadGroup, of survivors[0]; subsequent entries are assumed to be
// offsetOfFirst + i*alignment.
func (e *Encoder) EncodeBatch(offsetOfFirst uint64, survivors []bool) {
	for i, hit := range survivors {
		offset := offsetOfFirst + uint64(i)*e.alignment
		if !hit {
			e.finalizeCurrentRun()
			continue
		}
		if e.open && offset == e.lastOffset+e.alignment {
			e.lastOffset = offset
			continue
		}
		e.finalizeCurrentRun()
		e.open = true
		e.runStart = offset
		e.lastOffset = offset
	}
}

// finalizeCurrentRun closes any open run, expanding its end by
// elementSize-1 bytes so the last matching element's full width is
// covered.
func (e *Encoder) finalizeCurrentRun() {
	if !e.open {
		return
	}
	e.runs = append(e.runs, Run{
		OffsetInGroup: e.runStart,
		RegionSize:    (e.lastOffset - e.runStart) + e.elementSize,
	})
	e.open = false
}

// FinalizeCurrentEncode closes any run left open at the end of the last
// batch. Callers must invoke this exactly once after the final
// EncodeBatch call and before GatherCollectedRegions.
func (e *Encoder) FinalizeCurrentEncode() {
	e.finalizeCurrentRun()
}

// GatherCollectedRegions returns the accumulated runs in ascending offset
// order. The returned slice is owned by the caller; the encoder may be
// reused for a new group after this call.
func (e *Encoder) GatherCollectedRegions() []Run {
	out := e.runs
	e.runs = nil
	log.Debug.Printf("rle: gathered %d runs", len(out))
	return out
}
