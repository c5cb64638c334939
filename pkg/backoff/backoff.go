package backoff

import (
	"math/rand"
	"time"
)

const (
	DefaultBaseDelay = 1 * time.Second
	DefaultMaxDelay  = 30 * time.Second
)

// Schedule maps a retry attempt count to a reconnection delay
type Schedule struct {
	Base time.Duration
	Max  time.Duration
}

// NewSchedule creates a schedule, falling back to the defaults for non-positive values
func NewSchedule(base, max time.Duration) Schedule {
	if base <= 0 {
		base = DefaultBaseDelay
	}
	if max <= 0 {
		max = DefaultMaxDelay
	}
	if max < base {
		max = base
	}
	return Schedule{Base: base, Max: max}
}

// Delay returns min(Base * 2^attempt, Max). Negative attempts are treated as 0.
func (s Schedule) Delay(attempt int) time.Duration {
	return Delay(attempt, s.Base, s.Max)
}

// Delay computes the capped exponential delay for the given attempt.
// It doubles step by step so large attempt counts cannot overflow.
func Delay(attempt int, base, max time.Duration) time.Duration {
	if base <= 0 {
		return 0
	}
	if attempt < 0 {
		attempt = 0
	}
	d := base
	for i := 0; i < attempt; i++ {
		if d >= max || d > max/2 {
			return max
		}
		d *= 2
	}
	if d > max {
		return max
	}
	return d
}

// Jittered applies "equal jitter" to d: the result lies in [d/2, d].
func Jittered(d time.Duration, rng *rand.Rand) time.Duration {
	if d <= time.Millisecond {
		return d
	}
	half := d / 2
	var n int64
	if rng != nil {
		n = rng.Int63n(int64(half) + 1)
	} else {
		n = rand.Int63n(int64(half) + 1)
	}
	return half + time.Duration(n)
}
