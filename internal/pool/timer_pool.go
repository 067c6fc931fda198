// Package pool provides pooled time.Timer instances for hot paths that
// repeatedly arm short timeouts, such as the transmit scheduler and send
// deadlines.
package pool

import (
	"sync"
	"time"
)

var timerPool sync.Pool

// drain clears a pending tick so a reused timer cannot deliver a stale fire.
func drain(t *time.Timer) {
	select {
	case <-t.C:
	default:
	}
}

// GetTimer returns a timer armed for the given duration d, reusing a pooled
// timer when one is available. Pair every GetTimer with a PutTimer.
func GetTimer(d time.Duration) *time.Timer {
	t, ok := timerPool.Get().(*time.Timer)
	if !ok {
		return time.NewTimer(d)
	}

	if t.Reset(d) {
		drain(t)
	}

	return t
}

// PutTimer disarms t and returns it to the pool. The caller must not touch
// t or its channel afterwards. A nil t is ignored.
func PutTimer(t *time.Timer) {
	if t == nil {
		return
	}

	if !t.Stop() {
		drain(t)
	}

	timerPool.Put(t)
}
