// Package lifecycle tracks when the gateway started draining.
package lifecycle

import (
	"sync/atomic"
	"time"
)

// Lifecycle is shared by the handlers that refuse new rooms and websockets
// and by readiness. A nil *Lifecycle never drains.
type Lifecycle struct {
	since atomic.Int64 // unix nanoseconds, zero while serving
}

// Drain marks the gateway as draining. Only the first call reports true.
func (l *Lifecycle) Drain() bool {
	if l == nil {
		return false
	}
	return l.since.CompareAndSwap(0, time.Now().UnixNano())
}

func (l *Lifecycle) IsDraining() bool {
	return l != nil && l.since.Load() != 0
}

// DrainingFor is how long the gateway has been draining, zero if it is not.
func (l *Lifecycle) DrainingFor() time.Duration {
	if l == nil {
		return 0
	}
	since := l.since.Load()
	if since == 0 {
		return 0
	}
	return time.Since(time.Unix(0, since))
}
