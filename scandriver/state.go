// Package scandriver is the top-level scan() entry point: it reads fresh
// bytes into every ReadGroup a snapshot touches, compiles the constraint
// once, dispatches vecscan.ScanRegion across regions in parallel (largest
// first, the same load-balancing heuristic pileup/snp/pileup.go's
// job-sharding uses), and assembles the survivors into the next
// Snapshot.
package scandriver

import "sync/atomic"

// State is the scan driver's lifecycle: Idle -> Reading -> Scanning ->
// Assembling -> Done, with Cancelled and Failed as absorbing states
// reachable from any of the three working states.
type State int32

const (
	Idle State = iota
	Reading
	Scanning
	Assembling
	Done
	Cancelled
	Failed
)

func (s State) String() string {
	switch s {
	case Idle:
		return "Idle"
	case Reading:
		return "Reading"
	case Scanning:
		return "Scanning"
	case Assembling:
		return "Assembling"
	case Done:
		return "Done"
	case Cancelled:
		return "Cancelled"
	case Failed:
		return "Failed"
	default:
		return "Invalid"
	}
}

// Driver tracks one scan's state and progress, and may be polled from a
// different goroutine than the one running Scan, so a UI can show a
// progress bar while a large scan is still running. The zero value is a
// Driver in state Idle.
type Driver struct {
	state     int32
	completed int64
	total     int64
}

// NewDriver returns a Driver ready for one Scan call.
func NewDriver() *Driver {
	return &Driver{}
}

// State returns the driver's current lifecycle state.
func (d *Driver) State() State {
	return State(atomic.LoadInt32(&d.state))
}

func (d *Driver) setState(s State) {
	atomic.StoreInt32(&d.state, int32(s))
}

// Progress reports how many of the scan's regions have finished scanning
// and how many there are in total. A single driver-owned counter is used
// rather than one per worker, so a caller polling Progress never observes
// a value that double-counts or undercounts in-flight work.
func (d *Driver) Progress() (completed, total int64) {
	return atomic.LoadInt64(&d.completed), atomic.LoadInt64(&d.total)
}

func (d *Driver) setTotal(n int) {
	atomic.StoreInt64(&d.total, int64(n))
}

func (d *Driver) incCompleted() {
	atomic.AddInt64(&d.completed, 1)
}
