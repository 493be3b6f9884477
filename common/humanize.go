package common

import (
	"context"
	"math/rand"
	"time"
)

// The input simulators draw all their randomness from an injected
// *rand.Rand so gestures are reproducible under a fixed seed. newRand
// covers the callers that don't care.
func newRand(r *rand.Rand) *rand.Rand {
	if r != nil {
		return r
	}
	return rand.New(rand.NewSource(time.Now().UnixNano()))
}

// chance reports a Bernoulli trial with probability p.
func chance(r *rand.Rand, p float64) bool {
	if p <= 0 {
		return false
	}
	if p >= 1 {
		return true
	}
	return r.Float64() < p
}

// between returns a uniform value in [min, max).
func between(r *rand.Rand, min, max float64) float64 {
	if max <= min {
		return min
	}
	return min + r.Float64()*(max-min)
}

// betweenDuration returns a uniform duration in [min, max).
func betweenDuration(r *rand.Rand, min, max time.Duration) time.Duration {
	if max <= min {
		return min
	}
	return min + time.Duration(r.Int63n(int64(max-min)))
}

// jitter perturbs base by a normally distributed factor, clamped to
// [base*(1-spread), base*(1+spread)] so outliers stay plausible.
func jitter(r *rand.Rand, base, spread float64) float64 {
	f := 1 + r.NormFloat64()*(spread/2)
	if f < 1-spread {
		f = 1 - spread
	}
	if f > 1+spread {
		f = 1 + spread
	}
	return base * f
}

// sleepCtx waits for d, returning early with ctx's error if it is
// canceled first.
func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
			return nil
		}
	}

	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
