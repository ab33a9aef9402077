package game

import (
	"math"
	"time"
)

// The multiplier curve is 1.002^(t_ms/10): anchored at 1.0, strictly
// increasing, roughly doubling every 3.5s. Server and clients share this
// exact function so a cash-out timestamp maps to one unambiguous multiplier.
const (
	growthBase = 1.002
	growthStep = 10.0 // milliseconds per exponent step
)

// MultiplierAfter returns the multiplier for a running round after the given
// elapsed time. Negative elapsed clamps to the 1.0 anchor.
func MultiplierAfter(elapsed time.Duration) float64 {
	if elapsed <= 0 {
		return MinMultiplier
	}
	ms := float64(elapsed.Milliseconds())
	return math.Pow(growthBase, ms/growthStep)
}

// DurationToMultiplier inverts the growth curve: the elapsed time at which a
// running round first reaches m. Used for the crash deadline and for
// resolving interrupted rounds deterministically.
func DurationToMultiplier(m float64) time.Duration {
	if m <= MinMultiplier {
		return 0
	}
	ms := growthStep * math.Log(m) / math.Log(growthBase)
	return time.Duration(ms * float64(time.Millisecond))
}
