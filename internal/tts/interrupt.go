package tts

import "sync/atomic"

// Interrupter is a monotonically increasing epoch shared by everything
// speaking for one session. A synthesis operation records the epoch when it
// starts and re-checks it at every suspension point; a mismatch means the
// user interrupted and no further output may be emitted for that operation.
//
// Interruption is cooperative: it never aborts a worker call already in
// flight, it only discards the result.
type Interrupter struct {
	epoch atomic.Uint64
}

func NewInterrupter() *Interrupter {
	return &Interrupter{}
}

// Interrupt invalidates all in-flight synthesis for the session.
func (i *Interrupter) Interrupt() {
	if i == nil {
		return
	}
	i.epoch.Add(1)
}

// Epoch returns the current epoch. Nil-safe so callers without a session
// can pass a nil Interrupter.
func (i *Interrupter) Epoch() uint64 {
	if i == nil {
		return 0
	}
	return i.epoch.Load()
}

// Interrupted reports whether the epoch moved past the captured start value.
func (i *Interrupter) Interrupted(start uint64) bool {
	if i == nil {
		return false
	}
	return i.epoch.Load() != start
}
