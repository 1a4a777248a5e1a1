// Package pool holds reusable timers for reply waits.
package pool

import (
	"sync"
	"time"
)

var timers sync.Pool

// AcquireTimer returns a started timer firing after d.
//
// Release it with ReleaseTimer once the wait is over; it must not be used afterwards.
func AcquireTimer(d time.Duration) *time.Timer {
	t, ok := timers.Get().(*time.Timer)
	if !ok {
		return time.NewTimer(d)
	}

	t.Reset(d)

	return t
}

// ReleaseTimer stops t and returns it to the pool.
func ReleaseTimer(t *time.Timer) {
	if t == nil {
		return
	}

	if !t.Stop() {
		// drain a fire nobody consumed
		select {
		case <-t.C:
		default:
		}
	}
	timers.Put(t)
}
