// +build linux,amd64

package memsource

import (
	"v.io/x/lib/vlog"
	"golang.org/x/sys/unix"
)

// hugePageThreshold is the buffer size above which we bother asking the
// kernel for transparent huge pages. Below this, the mmap/madvise round
// trip costs more than it saves (mirrors fusion/kmer_index.go's rationale
// for only huge-paging its multi-megabyte kmer table).
const hugePageThreshold = 2 << 20 // 2 MiB

// AllocBuffer returns a zero-filled buffer of length size, backed by an
// anonymous mapping with MADV_HUGEPAGE for large allocations. This reduces
// TLB pressure when a ReadGroup's buffer spans hundreds of MB, the same
// technique fusion/kmer_index.go uses for its kmer hash table.
func AllocBuffer(size int) []byte {
	if size < hugePageThreshold {
		return make([]byte, size)
	}
	buf, err := unix.Mmap(-1, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_PRIVATE|unix.MAP_ANON)
	if err != nil {
		vlog.VI(1).Infof("memsource: mmap(%d) failed, falling back to make(): %v", size, err)
		return make([]byte, size)
	}
	if err := unix.Madvise(buf, unix.MADV_HUGEPAGE); err != nil {
		vlog.VI(2).Infof("memsource: madvise(MADV_HUGEPAGE, %d) failed: %v", size, err)
	}
	return buf
}

// IsMmapBacked reports whether AllocBuffer(size) would return an anonymous
// mapping (as opposed to a plain make()), so callers can track which of
// their buffers require FreeBuffer instead of letting the GC reclaim them.
func IsMmapBacked(size int) bool { return size >= hugePageThreshold }

// FreeBuffer releases a buffer obtained from AllocBuffer. The slice must be
// exactly the one AllocBuffer returned (same base pointer and length) and
// not one produced by growing or reslicing it afterwards; munmap on a
// region that was never mapped would corrupt the heap. Buffers small
// enough to have come from make() are left for the GC.
func FreeBuffer(buf []byte) {
	if cap(buf) < hugePageThreshold {
		return
	}
	_ = unix.Munmap(buf[:cap(buf)])
}
