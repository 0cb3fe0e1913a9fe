// +build amd64,!appengine

package vecscan

import "golang.org/x/sys/cpu"

// vectorWidthBytes returns the widest lane group ScanRegion should batch
// its element-wise fallback loop in, mirroring biosimd_amd64.go's
// BytesPerWord probing but for the scan's own batch size rather than a
// hardware word. It only affects batching granularity, not correctness:
// the fast-equality path in fasteq.go operates one 8-byte machine word at a
// time regardless of this value.
func vectorWidthBytes() int {
	switch {
	case cpu.X86.HasAVX512F:
		return 64
	case cpu.X86.HasAVX2:
		return 32
	default:
		return 16
	}
}
