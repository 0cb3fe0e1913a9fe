package snapshot

import "github.com/memquarry/memscan/valtype"

// SnapshotRegion is a candidate slice within a ReadGroup that is still a
// scan survivor. It does not own its ReadGroup.
type SnapshotRegion struct {
	Group            *ReadGroup
	OffsetInGroup    uint64
	RegionSize       uint64
	BaseElementIndex uint64
}

// BaseAddress returns the region's starting address in target-process
// address space.
func (r *SnapshotRegion) BaseAddress() uint64 {
	return r.Group.BaseAddress + r.OffsetInGroup
}

// EndAddress returns the address one past the region's last byte.
func (r *SnapshotRegion) EndAddress() uint64 {
	return r.BaseAddress() + r.RegionSize
}

// Misaligned reports whether the region's start is not a multiple of a,
// relative to its group: a surviving region starts at its first matching
// element, which under a finer scan alignment need not land on a multiple
// of a.
func (r *SnapshotRegion) Misaligned(a valtype.Alignment) bool {
	stride := int(a)
	if stride <= 0 {
		return false
	}
	return int(r.OffsetInGroup)%stride != 0
}

// ElementCount returns floor((RegionSize - dataSize + stride) / stride)
// clamped at >= 0, the element count at alignment a for an element of the
// given byte size.
func (r *SnapshotRegion) ElementCount(a valtype.Alignment, dataSize int) uint64 {
	stride := int64(a)
	if stride <= 0 {
		stride = 1
	}
	n := int64(r.RegionSize) - int64(dataSize) + stride
	if n < 0 {
		return 0
	}
	return uint64(n / stride)
}

// Compare orders regions by base address. It does not implement
// llrb.Comparable; Snapshot.Recompute sorts by base address directly.
func (r *SnapshotRegion) Compare(other *SnapshotRegion) int {
	a, b := r.BaseAddress(), other.BaseAddress()
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

// Element is a computed view of one typed value at a given index within a
// region; it has no back-pointer ownership relationship with its region,
// computed fresh from (region, index, alignment) rather than stored.
type Element struct {
	Region    *SnapshotRegion
	Index     uint64
	Alignment valtype.Alignment
}

// OffsetInGroup returns the element's byte offset within its region's
// ReadGroup.
func (e Element) OffsetInGroup() uint64 {
	return e.Region.OffsetInGroup + e.Index*uint64(e.Alignment)
}

// Address returns the element's address in target-process address space.
func (e Element) Address() uint64 {
	return e.Region.Group.BaseAddress + e.OffsetInGroup()
}

// GlobalIndex returns the element's position in the enclosing Snapshot's
// linear element numbering.
func (e Element) GlobalIndex() uint64 {
	return e.Region.BaseElementIndex + e.Index
}
