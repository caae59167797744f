// Package backoff computes the delay a worker waits after finding the queues empty.
package backoff

import (
	"fmt"
	"math"
	"math/rand"
	"time"
)

const (
	Fixed          = "fixed"
	Linear         = "linear"
	Exponential    = "exponential"
	ExpEqualJitter = "exp_equal_jitter"
	ExpFullJitter  = "exp_full_jitter"
)

// maxShift keeps base<<attempts from overflowing.
const maxShift = 30

// Policy describes how the delay grows with consecutive empty polls.
type Policy struct {
	Name string
	Base time.Duration
	Max  time.Duration
}

// Validate rejects unknown policy names.
func (p Policy) Validate() error {
	switch p.Name {
	case "", Fixed, Linear, Exponential, ExpEqualJitter, ExpFullJitter:
		return nil
	default:
		return fmt.Errorf("unknown backoff policy %q", p.Name)
	}
}

// Delay returns the wait after attempts consecutive empty polls (attempts >= 0).
// An unknown or empty policy name behaves as exp_full_jitter.
func (p Policy) Delay(attempts int, rng *rand.Rand) time.Duration {
	if attempts < 0 {
		attempts = 0
	}
	base, maxDelay := p.Base, p.Max
	if base <= 0 {
		base = 100 * time.Millisecond
	}
	if maxDelay <= 0 {
		maxDelay = base
	}
	if rng == nil {
		rng = rand.New(rand.NewSource(1))
	}
	switch p.Name {
	case Fixed:
		return min(base, maxDelay)
	case Linear:
		return min(base*time.Duration(max(1, attempts)), maxDelay)
	case Exponential:
		return exp(base, maxDelay, attempts)
	case ExpEqualJitter:
		d := exp(base, maxDelay, attempts)
		half := d / 2
		return half + time.Duration(rng.Int63n(int64(half)+1))
	default:
		d := exp(base, maxDelay, attempts)
		if d <= 0 {
			return 0
		}
		return time.Duration(rng.Int63n(int64(d) + 1))
	}
}

func exp(base, maxDelay time.Duration, attempts int) time.Duration {
	shift := min(attempts, maxShift)
	d := float64(base) * math.Pow(2, float64(shift))
	if d >= float64(maxDelay) {
		return maxDelay
	}
	return time.Duration(d)
}
