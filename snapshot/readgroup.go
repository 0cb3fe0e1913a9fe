// Package snapshot implements the scan engine's data model: ReadGroup (the
// owning container of sampled bytes for one contiguous memory span),
// SnapshotRegion (a candidate slice within a ReadGroup), Element (a
// computed view of one typed value within a region), and Snapshot (the
// ordered, indexed set of regions the scan driver filters).
package snapshot

import (
	"fmt"

	"blainsmith.com/go/seahash"
	"github.com/golang/snappy"
	"github.com/grailbio/base/errors"
	"github.com/memquarry/memscan/circular"
	"github.com/memquarry/memscan/memsource"
	"github.com/memquarry/memscan/valtype"
)

// ReadGroup is a contiguous chunk of target-process virtual memory, with
// two generations of sampled bytes. Multiple SnapshotRegions may view into
// one ReadGroup.
type ReadGroup struct {
	BaseAddress uint64
	Size        uint64
	Alignment   valtype.Alignment

	current, previous       []byte
	currentMmap, prevMmap   bool
	lastReadComplete        bool
	fingerprint, prevFinger uint64
	havePrevFinger          bool

	compacted         bool
	compactedCurrent  []byte
	compactedPrevious []byte
}

// NewReadGroup constructs a ReadGroup with no buffers allocated yet;
// buffers are allocated on first successful ReadAll.
func NewReadGroup(baseAddress, size uint64, alignment valtype.Alignment) *ReadGroup {
	return &ReadGroup{BaseAddress: baseAddress, Size: size, Alignment: alignment}
}

// Current returns the most recently sampled bytes, or nil if ReadAll has
// never succeeded.
func (g *ReadGroup) Current() []byte { return g.current }

// Previous returns the prior generation's bytes, or nil if there isn't one
// yet (first read, or the group has been Compact()ed without a Decompact).
func (g *ReadGroup) Previous() []byte { return g.previous }

// CanCompare reports whether this group is eligible for relative
// constraints (Unchanged, Changed, Increased, ...): it requires a previous
// generation and a fully-complete most recent read.
func (g *ReadGroup) CanCompare() bool {
	return g.previous != nil && g.lastReadComplete
}

// Fingerprint returns a SeaHash digest of the current generation's bytes,
// computed once per ReadAll. The scan path does not consult it: vecscan
// always compares Unchanged/Changed element by element.
func (g *ReadGroup) Fingerprint() uint64 { return g.fingerprint }

// PreviousFingerprint returns the fingerprint of the previous generation,
// and whether one exists.
func (g *ReadGroup) PreviousFingerprint() (uint64, bool) { return g.prevFinger, g.havePrevFinger }

// ReadAll samples fresh bytes via reader, moving the existing current
// generation (if any) into previous. A short read marks the group
// ineligible for relative comparisons until the next complete read; a hard
// error from reader aborts with a ReadFailed-kind error.
func (g *ReadGroup) ReadAll(reader memsource.ByteReader) error {
	if g.current != nil {
		g.previous = g.current
		g.prevMmap = g.currentMmap
		g.prevFinger, g.havePrevFinger = g.fingerprint, true
		g.current, g.currentMmap = nil, false
	}

	size := int(g.Size)
	buf := memsource.AllocBuffer(size)
	_, shortRead, err := memsource.ReadInto(reader, g.BaseAddress, buf)
	if err != nil {
		memsource.FreeBuffer(buf)
		return errors.E(errors.Internal, err,
			fmt.Sprintf("snapshot: read_all failed at 0x%x (%d bytes)", g.BaseAddress, size))
	}
	g.current = buf
	g.currentMmap = memsource.IsMmapBacked(size)
	g.lastReadComplete = !shortRead
	g.fingerprint = seahash.Sum64(buf)
	return nil
}

// ResizeForSafeReading logically pads current/previous so that the last
// SIMD load of width vectorSize starting anywhere within [0, Size) stays
// in-bounds, without changing Size or len() of either buffer. Padding
// bytes are zero.
func (g *ReadGroup) ResizeForSafeReading(vectorSize int) {
	need := int(g.Size) + vectorSize
	if cap(g.current) < need {
		g.current = g.growPadded(g.current, need, &g.currentMmap)
	}
	if g.previous != nil && cap(g.previous) < need {
		g.previous = g.growPadded(g.previous, need, &g.prevMmap)
	}
}

func (g *ReadGroup) growPadded(buf []byte, need int, mmapBacked *bool) []byte {
	// Round the new capacity up to a power of two so repeated small grows
	// (successive ResizeForSafeReading calls as the chosen vector width
	// changes) amortize instead of reallocating every time.
	rounded := circular.NextExp2(need - 1)
	grown := make([]byte, len(buf), rounded)
	copy(grown, buf)
	if *mmapBacked {
		memsource.FreeBuffer(buf)
		*mmapBacked = false
	}
	return grown
}

// Compact releases current/previous after snappy-compressing them, to cut
// the idle memory footprint of a ReadGroup sitting between scan rounds in
// a long-lived interactive session holding many large groups across
// undo-stack entries.
func (g *ReadGroup) Compact() {
	if g.compacted || g.current == nil {
		return
	}
	g.compactedCurrent = snappy.Encode(nil, g.current[:g.Size])
	if g.previous != nil {
		g.compactedPrevious = snappy.Encode(nil, g.previous[:g.Size])
	}
	if g.currentMmap {
		memsource.FreeBuffer(g.current)
	}
	if g.prevMmap {
		memsource.FreeBuffer(g.previous)
	}
	g.current, g.previous = nil, nil
	g.currentMmap, g.prevMmap = false, false
	g.compacted = true
}

// Decompact restores current/previous from their compacted form. It is a
// no-op if the group was never compacted.
func (g *ReadGroup) Decompact() error {
	if !g.compacted {
		return nil
	}
	cur, err := snappy.Decode(nil, g.compactedCurrent)
	if err != nil {
		return errors.E(errors.Internal, err, "snapshot: decompact current buffer")
	}
	g.current = cur
	if g.compactedPrevious != nil {
		prev, err := snappy.Decode(nil, g.compactedPrevious)
		if err != nil {
			return errors.E(errors.Internal, err, "snapshot: decompact previous buffer")
		}
		g.previous = prev
	}
	g.compactedCurrent, g.compactedPrevious = nil, nil
	g.compacted = false
	return nil
}
