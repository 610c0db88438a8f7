package executor

import "sync/atomic"

// CancelFlag is the cooperative cancellation token for one run. It is
// advisory: the executor polls it at the top of each task iteration and
// before committing results, stops scheduling new work once set, and does
// not abort external calls already in flight.
type CancelFlag struct {
	stopped atomic.Bool
}

// Set requests cancellation.
func (f *CancelFlag) Set() {
	f.stopped.Store(true)
}

// Stopped reports whether cancellation was requested.
func (f *CancelFlag) Stopped() bool {
	return f.stopped.Load()
}
