// Package scanloop runs periodic background work at a jittered cadence.
// Jitter keeps horizontally scaled consumers from hitting the database and
// broker in lockstep.
package scanloop

import (
	"math/rand/v2"
	"time"
)

// DefaultJitterRange is the jitter applied to reconcile/poll cadences when
// the caller does not choose one.
const DefaultJitterRange = 500 * time.Millisecond

// Run executes fn at a jittered interval until stopCh is closed.
// The interval is: minInterval + random([0, jitterRange)). The first
// execution happens after one full interval, not immediately.
func Run(stopCh <-chan struct{}, minInterval, jitterRange time.Duration, fn func()) {
	if minInterval <= 0 {
		minInterval = time.Second
	}
	if jitterRange < 0 {
		jitterRange = 0
	}

	timer := time.NewTimer(0)
	defer timer.Stop()
	<-timer.C // drain initial fire

	for {
		interval := minInterval
		if jitterRange > 0 {
			interval += time.Duration(rand.Int64N(int64(jitterRange)))
		}

		timer.Reset(interval)
		select {
		case <-stopCh:
			return
		case <-timer.C:
		}
		fn()
	}
}
