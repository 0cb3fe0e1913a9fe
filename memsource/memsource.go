// Package memsource is the boundary between the scanning core and the
// outside world: it defines the byte-reader callback contract the driver
// invokes to fill a ReadGroup, and the buffer allocation strategy used to
// back those reads. Everything upstream of this package (OS process
// attachment, ptrace, /proc/<pid>/mem, a debugger RPC) is glue the core
// never sees.
package memsource

import (
	"fmt"

	"github.com/pkg/errors"
	"v.io/x/lib/vlog"
)

// ByteReader reads up to size bytes of target-process memory starting at
// baseAddress into out, which is guaranteed to have length size. It returns
// the number of bytes actually read. A return of n < size with a nil error
// is a short read: the caller tolerates it and simply marks the read-group
// ineligible for relative comparisons this round. A non-nil error is
// unrecoverable and aborts the scan.
type ByteReader func(baseAddress uint64, size int, out []byte) (int, error)

// Region describes one OS-enumerated readable memory range, as handed to
// the core by the (external) process enumerator before the first snapshot
// is built.
type Region struct {
	BaseAddress uint64
	Size        uint64
}

// ReadInto is a small convenience wrapper that validates the reader's
// return value against its contract and logs short reads at the outer
// vlog tier (the core itself only logs through grailbio/base/log; this
// package sits on the OS-facing side of the boundary and uses the
// vlog-based convention visible in encoding/bam and encoding/converter).
func ReadInto(reader ByteReader, baseAddress uint64, out []byte) (n int, shortRead bool, err error) {
	n, err = reader(baseAddress, len(out), out)
	if err != nil {
		return n, false, errors.Wrapf(err, "memsource: read 0x%x (%d bytes)", baseAddress, len(out))
	}
	if n < len(out) {
		vlog.VI(1).Infof("memsource: short read at 0x%x: got %d of %d bytes", baseAddress, n, len(out))
		// Zero the unread tail so a short read still leaves out fully
		// defined, rather than carrying whatever garbage preceded it.
		for i := n; i < len(out); i++ {
			out[i] = 0
		}
		return n, true, nil
	}
	return n, false, nil
}

// String renders a Region for diagnostics.
func (r Region) String() string {
	return fmt.Sprintf("[0x%x, 0x%x)", r.BaseAddress, r.BaseAddress+r.Size)
}
