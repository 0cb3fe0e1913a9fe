package snapshot

import (
	"github.com/biogo/store/llrb"
	"github.com/memquarry/memscan/memsource"
	"github.com/memquarry/memscan/valtype"
)

// rawKey orders memsource.Regions by base address for insertion into an
// llrb.Tree, the same pattern encoding/bampair/shard_info.go uses to keep
// its ShardInfoEntry set ordered and queryable by Floor().
type rawKey struct {
	region memsource.Region
}

// Compare compares two rawKey objects for use in llrb: by base address,
// then by size, so raw regions sharing a base address are all kept.
func (k rawKey) Compare(c2 llrb.Comparable) int {
	k2 := c2.(rawKey)
	switch {
	case k.region.BaseAddress < k2.region.BaseAddress:
		return -1
	case k.region.BaseAddress > k2.region.BaseAddress:
		return 1
	case k.region.Size < k2.region.Size:
		return -1
	case k.region.Size > k2.region.Size:
		return 1
	default:
		return 0
	}
}

// BuildInitialSnapshot turns the OS enumerator's raw, possibly unordered
// and overlapping, readable-region list into the first Snapshot of a scan
// session: one ReadGroup per merged contiguous range, and one
// whole-group SnapshotRegion per ReadGroup. Adjacent or overlapping raw
// regions are coalesced into a single ReadGroup, since reading them
// separately would only add redundant reader-callback round trips.
func BuildInitialSnapshot(name string, raw []memsource.Region, alignment valtype.Alignment) *Snapshot {
	tree := llrb.Tree{}
	for _, r := range raw {
		if r.Size == 0 {
			continue
		}
		tree.Insert(rawKey{region: r})
	}

	var merged []memsource.Region
	tree.Do(func(c llrb.Comparable) bool {
		r := c.(rawKey).region
		if n := len(merged); n > 0 {
			last := &merged[n-1]
			lastEnd := last.BaseAddress + last.Size
			if r.BaseAddress <= lastEnd {
				if end := r.BaseAddress + r.Size; end > lastEnd {
					last.Size = end - last.BaseAddress
				}
				return false
			}
		}
		merged = append(merged, r)
		return false
	})

	snap := New(name, alignment)
	for _, r := range merged {
		group := NewReadGroup(r.BaseAddress, r.Size, alignment)
		snap.Regions = append(snap.Regions, &SnapshotRegion{
			Group:         group,
			OffsetInGroup: 0,
			RegionSize:    r.Size,
		})
	}
	// The initial snapshot precedes any scan type selection; element counts
	// are byte-granular (dataSize=1) until the first scan recomputes them
	// against the user's chosen scannable type.
	snap.Recompute(1)
	return snap
}
