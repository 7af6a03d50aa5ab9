package node

import "time"

// RateTracker keeps an exponential moving average of event frequency,
// weighting the prior estimate by 0.9 and the newest sample by 0.1.
// The zero value is ready to use; the first Update only records the
// timestamp since no elapsed interval exists yet.
type RateTracker struct {
	prev time.Time
	rate float64
}

// Update records an event at now and returns the current estimate. A
// non-positive elapsed interval leaves the rate unchanged but still
// advances the stored timestamp.
func (t *RateTracker) Update(now time.Time) float64 {
	if !t.prev.IsZero() {
		if d := now.Sub(t.prev).Seconds(); d > 0 {
			t.rate = t.rate*0.9 + (1.0/d)*0.1
		}
	}
	t.prev = now
	return t.rate
}

// Rate returns the current estimate without recording an event.
func (t *RateTracker) Rate() float64 {
	return t.rate
}
