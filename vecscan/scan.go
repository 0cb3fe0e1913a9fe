package vecscan

import (
	"github.com/grailbio/base/log"
	"github.com/memquarry/memscan/constraint"
	"github.com/memquarry/memscan/rle"
	"github.com/memquarry/memscan/valtype"
)

// elementWiseFallbackThreshold is the element count below which batching
// overhead isn't worth it, so the whole region is evaluated in one shot
// instead of in vectorWidthBytes()-sized chunks.
const elementWiseFallbackThreshold = 64

// ScanRegion evaluates action over one region's bytes, starting at byte
// offset baseOffset within the owning ReadGroup, and feeds every
// surviving run into enc. cur must cover the whole region; prev may be
// nil when action's tree has no relative leaves, and must also cover the
// whole region otherwise.
//
// A region is "ineligible" when the tree needs a previous generation
// that isn't available: ScanRegion reports zero survivors for it rather
// than erroring, since a freshly-attached or never-before-read region
// simply can't satisfy a relative constraint yet.
func ScanRegion(action *CompiledAction, alignment valtype.Alignment, cur, prev []byte, baseOffset uint64, enc *rle.Encoder) {
	align := int(alignment.Resolve(action.Type))
	elemSize := action.Type.SizeInBytes()
	if align <= 0 || elemSize <= 0 || len(cur) < elemSize {
		return
	}

	needsPrev := constraint.IsRelative(action.Tree)
	if needsPrev && (prev == nil || len(prev) < len(cur)) {
		log.Debug.Printf("vecscan: region at 0x%x skipped, no usable previous generation", baseOffset)
		return
	}

	elementCount := (len(cur)-elemSize)/align + 1

	batchSize := vectorWidthBytes() / align
	if batchSize < 1 {
		batchSize = 1
	}
	if elementCount < elementWiseFallbackThreshold {
		batchSize = elementCount
	}

	survivors := make([]bool, batchSize)
	for start := 0; start < elementCount; start += batchSize {
		n := batchSize
		if start+n > elementCount {
			n = elementCount - start
		}
		curChunk := cur[start*align:]
		var prevChunk []byte
		if prev != nil {
			prevChunk = prev[start*align:]
		}
		action.batch(curChunk, prevChunk, align, n, survivors[:n])
		enc.EncodeBatch(baseOffset+uint64(start*align), survivors[:n])
	}
	enc.FinalizeCurrentEncode()
}
