package snapshot

import (
	"encoding/binary"
	"sort"

	farm "github.com/dgryski/go-farm"
	"github.com/grailbio/base/log"
	"github.com/memquarry/memscan/valtype"
)

// Snapshot is an ordered, disjoint sequence of SnapshotRegions together
// with their aggregate counts.
type Snapshot struct {
	Name      string
	Regions   []*SnapshotRegion
	Alignment valtype.Alignment

	RegionCount  int
	ByteCount    uint64
	ElementCount uint64
}

// New returns an empty, named Snapshot.
func New(name string, alignment valtype.Alignment) *Snapshot {
	return &Snapshot{Name: name, Alignment: alignment}
}

// AlignAndResolveAuto resolves requested (which may be valtype.AlignAuto)
// against t, stores it as the snapshot's Alignment, and returns it.
func (s *Snapshot) AlignAndResolveAuto(requested valtype.Alignment, t valtype.Type) valtype.Alignment {
	resolved := requested.Resolve(t)
	s.Alignment = resolved
	return resolved
}

// Recompute sorts Regions by base address, assigns each a BaseElementIndex
// (a prefix sum over element counts), and recomputes the aggregate counts.
// dataSize is the scannable type's SizeInBytes(). Must be called any time
// Regions changes.
func (s *Snapshot) Recompute(dataSize int) {
	sort.Slice(s.Regions, func(i, j int) bool {
		return s.Regions[i].BaseAddress() < s.Regions[j].BaseAddress()
	})
	var elems, bytes uint64
	for _, r := range s.Regions {
		r.BaseElementIndex = elems
		elems += r.ElementCount(s.Alignment, dataSize)
		bytes += r.RegionSize
	}
	s.RegionCount = len(s.Regions)
	s.ByteCount = bytes
	s.ElementCount = elems
	log.Debug.Printf("snapshot: %q recomputed: %d regions, %d bytes, %d elements", s.Name, s.RegionCount, s.ByteCount, s.ElementCount)
}

// RegionForElement binary-searches for the region containing the given
// linear element index, returning (region, true), or (nil, false) if the
// index is out of range.
func (s *Snapshot) RegionForElement(elementIndex uint64, dataSize int) (*SnapshotRegion, bool) {
	n := len(s.Regions)
	i := sort.Search(n, func(i int) bool {
		return s.Regions[i].BaseElementIndex > elementIndex
	})
	if i == 0 {
		return nil, false
	}
	r := s.Regions[i-1]
	if elementIndex < r.BaseElementIndex+r.ElementCount(s.Alignment, dataSize) {
		return r, true
	}
	return nil, false
}

// ElementAt returns the Element view for a linear element index, or false
// if out of range.
func (s *Snapshot) ElementAt(elementIndex uint64, dataSize int) (Element, bool) {
	r, ok := s.RegionForElement(elementIndex, dataSize)
	if !ok {
		return Element{}, false
	}
	return Element{Region: r, Index: elementIndex - r.BaseElementIndex, Alignment: s.Alignment}, true
}

// IsEmpty reports whether the snapshot has no regions.
func (s *Snapshot) IsEmpty() bool {
	return len(s.Regions) == 0
}

// Fingerprint returns a FarmHash-based content fingerprint over the
// snapshot's surviving (address, size) pairs, order-independent. It exists
// so tests can check scan-equivalence properties (idempotent re-scan,
// AND-identity) by comparing two uint64s instead of deep-comparing region
// slices.
func (s *Snapshot) Fingerprint() uint64 {
	var acc uint64
	var buf [16]byte
	for _, r := range s.Regions {
		binary.LittleEndian.PutUint64(buf[0:8], r.BaseAddress())
		binary.LittleEndian.PutUint64(buf[8:16], r.RegionSize)
		acc ^= farm.Hash64(buf[:])
	}
	return acc
}

// Clone returns a shallow copy of the snapshot: a new Regions slice backed
// by the same *SnapshotRegion pointers (regions are immutable once built),
// suitable for pushing onto a SnapshotStack entry distinct from the live
// working snapshot.
func (s *Snapshot) Clone() *Snapshot {
	regions := make([]*SnapshotRegion, len(s.Regions))
	copy(regions, s.Regions)
	return &Snapshot{
		Name:         s.Name,
		Regions:      regions,
		Alignment:    s.Alignment,
		RegionCount:  s.RegionCount,
		ByteCount:    s.ByteCount,
		ElementCount: s.ElementCount,
	}
}
