package common

import "math"

// Bezier is a CSS-style cubic easing curve anchored at (0,0) and
// (1,1) with two control points. The x components are clamped to
// [0,1] so x(t) stays monotonic and solvable, mirroring how CSS
// timing functions are defined.
type Bezier struct {
	x1, y1, x2, y2 float64
}

// NewBezier builds an easing curve from its two control points.
func NewBezier(x1, y1, x2, y2 float64) Bezier {
	return Bezier{clamp01(x1), y1, clamp01(x2), y2}
}

// Solve maps a time fraction x in [0,1] to the eased progress
// fraction, the way a renderer resolves a CSS timing function: find t
// with x(t) == x, then evaluate y(t). Newton-Raphson usually converges
// in a few iterations; when the derivative vanishes or the iterate
// escapes the interval, bisection takes over and always terminates.
func (b Bezier) Solve(x float64) float64 {
	if x <= 0 {
		return 0
	}
	if x >= 1 {
		return 1
	}
	return b.sampleY(b.solveForT(x))
}

func (b Bezier) solveForT(x float64) float64 {
	const (
		newtonIterations    = 8
		bisectionIterations = 32
		epsilon             = 1e-6
	)

	// The identity is a decent initial guess for any easing curve.
	t := x
	for i := 0; i < newtonIterations; i++ {
		diff := b.sampleX(t) - x
		if math.Abs(diff) < epsilon {
			return t
		}
		d := b.derivX(t)
		if math.Abs(d) < epsilon {
			break
		}
		t -= diff / d
		if t <= 0 || t >= 1 {
			break
		}
	}

	// x(t) is non-decreasing on [0,1], so bisection cannot fail.
	lo, hi := 0.0, 1.0
	t = x
	for i := 0; i < bisectionIterations && hi-lo > epsilon; i++ {
		if b.sampleX(t) < x {
			lo = t
		} else {
			hi = t
		}
		t = (lo + hi) / 2
	}
	return t
}

func (b Bezier) sampleX(t float64) float64 {
	u := 1 - t
	return 3*u*u*t*b.x1 + 3*u*t*t*b.x2 + t*t*t
}

func (b Bezier) sampleY(t float64) float64 {
	u := 1 - t
	return 3*u*u*t*b.y1 + 3*u*t*t*b.y2 + t*t*t
}

func (b Bezier) derivX(t float64) float64 {
	u := 1 - t
	return 3*u*u*b.x1 + 6*u*t*(b.x2-b.x1) + 3*t*t*(1-b.x2)
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
