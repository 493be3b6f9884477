package common

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"strings"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/input"
	"github.com/chromedp/cdproto/runtime"
	"github.com/tidwall/gjson"

	"github.com/mimicbrowser/mimic/log"
)

// ScrollDirection is the axis and sign of a scroll gesture.
type ScrollDirection int

const (
	ScrollDown ScrollDirection = iota
	ScrollUp
	ScrollLeft
	ScrollRight
)

func (d ScrollDirection) String() string {
	switch d {
	case ScrollDown:
		return "down"
	case ScrollUp:
		return "up"
	case ScrollLeft:
		return "left"
	case ScrollRight:
		return "right"
	}
	return "down"
}

// ParseScrollDirection parses a direction name ("down", "up", "left",
// "right"), case-insensitively.
func ParseScrollDirection(name string) (ScrollDirection, error) {
	switch strings.ToLower(name) {
	case "down":
		return ScrollDown, nil
	case "up":
		return ScrollUp, nil
	case "left":
		return ScrollLeft, nil
	case "right":
		return ScrollRight, nil
	}
	return ScrollDown, fmt.Errorf("unknown scroll direction %q", name)
}

// vector translates a scalar distance into wheel deltas.
func (d ScrollDirection) vector(distance float64) (dx, dy float64) {
	switch d {
	case ScrollDown:
		return 0, distance
	case ScrollUp:
		return 0, -distance
	case ScrollRight:
		return distance, 0
	case ScrollLeft:
		return -distance, 0
	}
	return 0, 0
}

func (d ScrollDirection) opposite() ScrollDirection {
	switch d {
	case ScrollDown:
		return ScrollUp
	case ScrollUp:
		return ScrollDown
	case ScrollLeft:
		return ScrollRight
	case ScrollRight:
		return ScrollLeft
	}
	return d
}

// ScrollConfig tunes the humanized scroll model. It is immutable after
// the scroller is constructed; DefaultScrollConfig returns the tuned
// defaults.
type ScrollConfig struct {
	// FrameInterval is the nominal wheel-event cadence, jittered by up
	// to ±FrameJitter per frame.
	FrameInterval time.Duration
	FrameJitter   time.Duration

	// Gesture duration is MinDuration plus DurationPerPixel per pixel
	// of distance, capped at MaxDuration.
	MinDuration      time.Duration
	MaxDuration      time.Duration
	DurationPerPixel time.Duration

	// Curve eases elapsed-time fraction into distance fraction.
	Curve Bezier

	// DeltaJitter is the uniform ±pixels added to each frame's delta.
	DeltaJitter float64

	// Overshoot settings: with OvershootChance the gesture aims past
	// the target by a factor in [OvershootMin, OvershootMax] and then
	// corrects back.
	OvershootChance float64
	OvershootMin    float64
	OvershootMax    float64

	// At most one mid-gesture pause, gated per frame by PauseChance.
	PauseChance float64
	PauseMin    time.Duration
	PauseMax    time.Duration

	// Correction settings: the pause before easing back, and the
	// per-frame velocity decay while doing so.
	CorrectionPauseMin time.Duration
	CorrectionPauseMax time.Duration
	CorrectionDecay    float64

	// Edge-scroll settings: flick distances, the pause between flicks,
	// the remaining-distance threshold that counts as "arrived", and
	// how many consecutive no-progress measurements abort the attempt.
	FlickMin      float64
	FlickMax      float64
	FlickPauseMin time.Duration
	FlickPauseMax time.Duration
	EdgeThreshold float64
	StuckLimit    int
}

// DefaultScrollConfig returns the scroll model used when no config is
// supplied: 60Hz frames, the CSS "ease" curve, and an overshoot on
// roughly a quarter of gestures.
func DefaultScrollConfig() ScrollConfig {
	return ScrollConfig{
		FrameInterval:    16 * time.Millisecond,
		FrameJitter:      2 * time.Millisecond,
		MinDuration:      350 * time.Millisecond,
		MaxDuration:      1500 * time.Millisecond,
		DurationPerPixel: 400 * time.Microsecond,

		Curve: NewBezier(0.25, 0.1, 0.25, 1.0),

		DeltaJitter: 1.5,

		OvershootChance: 0.25,
		OvershootMin:    1.02,
		OvershootMax:    1.12,

		PauseChance: 0.01,
		PauseMin:    150 * time.Millisecond,
		PauseMax:    450 * time.Millisecond,

		CorrectionPauseMin: 90 * time.Millisecond,
		CorrectionPauseMax: 240 * time.Millisecond,
		CorrectionDecay:    0.82,

		FlickMin:      420,
		FlickMax:      980,
		FlickPauseMin: 120 * time.Millisecond,
		FlickPauseMax: 380 * time.Millisecond,
		EdgeThreshold: 4,
		StuckLimit:    3,
	}
}

// correctionStartFraction sets the correction's initial per-frame
// velocity relative to the excess being consumed.
const correctionStartFraction = 0.35

// Scroller synthesizes wheel gestures on a session's target. Not safe
// for concurrent use.
type Scroller struct {
	ctx     context.Context
	session session
	logger  *log.Logger
	rand    *rand.Rand
	cfg     ScrollConfig
}

// NewScroller creates a scroller with the default scroll model.
func NewScroller(ctx context.Context, s session, logger *log.Logger) *Scroller {
	return NewScrollerWithConfig(ctx, s, logger, DefaultScrollConfig(), nil)
}

// NewScrollerWithConfig creates a scroller with an explicit scroll
// model and randomness source. A nil source gets a time-seeded one;
// tests pass a fixed seed for reproducible gestures.
func NewScrollerWithConfig(
	ctx context.Context, s session, logger *log.Logger, cfg ScrollConfig, r *rand.Rand,
) *Scroller {
	return &Scroller{
		ctx:     ctx,
		session: s,
		logger:  logger,
		rand:    newRand(r),
		cfg:     cfg,
	}
}

// Wheel dispatches a single wheel event at the current viewport
// center.
func (s *Scroller) Wheel(dx, dy float64) error {
	cx, cy, err := s.viewportCenter()
	if err != nil {
		return err
	}
	return s.wheelAt(cx, cy, dx, dy)
}

// ScrollBy scrolls distance pixels in direction. With humanize off it
// issues one instant scroll directive; with humanize on it plays an
// eased wheel gesture with optional overshoot and correction.
func (s *Scroller) ScrollBy(direction ScrollDirection, distance float64, humanize bool) error {
	if distance <= 0 {
		return nil
	}
	if !humanize {
		dx, dy := direction.vector(distance)
		expr := fmt.Sprintf(
			"window.scrollBy({left: %.0f, top: %.0f, behavior: 'instant'})", dx, dy)
		_, err := s.evaluateJSON(expr)
		return err
	}
	return s.scrollHumanized(direction, distance)
}

// ScrollToTop scrolls until the top of the page is reached.
func (s *Scroller) ScrollToTop(humanize bool) error {
	return s.scrollToEdge(ScrollUp, humanize)
}

// ScrollToBottom scrolls until the bottom of the page is reached.
func (s *Scroller) ScrollToBottom(humanize bool) error {
	return s.scrollToEdge(ScrollDown, humanize)
}

func (s *Scroller) scrollHumanized(direction ScrollDirection, distance float64) error {
	target := distance
	overshot := false
	if chance(s.rand, s.cfg.OvershootChance) {
		target = distance * between(s.rand, s.cfg.OvershootMin, s.cfg.OvershootMax)
		overshot = true
	}

	cx, cy, err := s.viewportCenter()
	if err != nil {
		return err
	}

	s.logger.Debugf("Scroller:scrollHumanized",
		"direction:%s distance:%.0f target:%.0f overshot:%t", direction, distance, target, overshot)

	scrolled, err := s.playGesture(direction, cx, cy, target)
	if err != nil {
		return err
	}

	if overshot && scrolled > distance {
		settle := betweenDuration(s.rand, s.cfg.CorrectionPauseMin, s.cfg.CorrectionPauseMax)
		if err := sleepCtx(s.ctx, settle); err != nil {
			return err
		}
		if err := s.playCorrection(direction.opposite(), cx, cy, scrolled-distance); err != nil {
			return err
		}
	}
	return nil
}

// playGesture runs the frame loop of one eased gesture and returns the
// total distance dispatched. Wall-clock time is the independent
// variable: each frame's delta is whatever the easing curve says
// should have been covered by now, minus what already was.
func (s *Scroller) playGesture(
	direction ScrollDirection, cx, cy, target float64,
) (float64, error) {
	duration := s.gestureDuration(target)
	start := time.Now()
	var pausedFor time.Duration
	paused := false
	var scrolled float64

	for {
		interval := s.cfg.FrameInterval +
			betweenDuration(s.rand, -s.cfg.FrameJitter, s.cfg.FrameJitter)
		if err := sleepCtx(s.ctx, interval); err != nil {
			return scrolled, err
		}

		if !paused && chance(s.rand, s.cfg.PauseChance) {
			pause := betweenDuration(s.rand, s.cfg.PauseMin, s.cfg.PauseMax)
			if err := sleepCtx(s.ctx, pause); err != nil {
				return scrolled, err
			}
			// Fold the pause back into the baseline so later progress
			// computations don't see it as elapsed gesture time.
			pausedFor += pause
			paused = true
		}

		fraction := float64(time.Since(start)-pausedFor) / float64(duration)
		if fraction >= 1 {
			// Flush whatever the jittered frames left behind.
			if rest := target - scrolled; rest >= 1 {
				dx, dy := direction.vector(rest)
				if err := s.wheelAt(cx, cy, dx, dy); err != nil {
					return scrolled, err
				}
				scrolled += rest
			}
			return scrolled, nil
		}

		delta := target*s.cfg.Curve.Solve(fraction) - scrolled
		delta += between(s.rand, -s.cfg.DeltaJitter, s.cfg.DeltaJitter)
		if delta < 1 {
			// Clamp negatives and skip sub-pixel frames; they would
			// flood the browser with no-op events.
			continue
		}

		dx, dy := direction.vector(delta)
		if err := s.wheelAt(cx, cy, dx, dy); err != nil {
			return scrolled, err
		}
		scrolled += delta
	}
}

// playCorrection consumes excess in direction with an exponentially
// decaying per-frame velocity, the way a person eases back after
// overshooting. The velocity floor of one pixel guarantees progress.
func (s *Scroller) playCorrection(direction ScrollDirection, cx, cy, excess float64) error {
	s.logger.Debugf("Scroller:playCorrection", "direction:%s excess:%.0f", direction, excess)

	remaining := excess
	v := math.Max(excess*correctionStartFraction, 1)
	for remaining >= 1 {
		delta := math.Min(v, remaining)
		dx, dy := direction.vector(delta)
		if err := s.wheelAt(cx, cy, dx, dy); err != nil {
			return err
		}
		remaining -= delta
		v = math.Max(v*s.cfg.CorrectionDecay, 1)
		if err := sleepCtx(s.ctx, s.cfg.FrameInterval); err != nil {
			return err
		}
	}
	return nil
}

// scrollToEdge issues bounded flicks toward the edge until the
// remaining distance drops below the threshold. Reaching the edge is
// best-effort: when the measurement stops changing (non-scrollable
// page, broken layout) it logs and gives up instead of looping
// forever.
func (s *Scroller) scrollToEdge(direction ScrollDirection, humanize bool) error {
	stuck := 0
	last := math.NaN()
	for {
		remaining, err := s.remainingToEdge(direction)
		if err != nil {
			return err
		}
		if remaining <= s.cfg.EdgeThreshold {
			return nil
		}

		if remaining == last {
			stuck++
			if stuck >= s.cfg.StuckLimit {
				s.logger.Warnf("Scroller:scrollToEdge",
					"direction:%s no progress after %d flicks, giving up at %.0f remaining",
					direction, stuck, remaining)
				return nil
			}
		} else {
			stuck = 0
			last = remaining
		}

		flick := math.Min(remaining, between(s.rand, s.cfg.FlickMin, s.cfg.FlickMax))
		if err := s.ScrollBy(direction, flick, humanize); err != nil {
			return err
		}
		pause := betweenDuration(s.rand, s.cfg.FlickPauseMin, s.cfg.FlickPauseMax)
		if err := sleepCtx(s.ctx, pause); err != nil {
			return err
		}
	}
}

func (s *Scroller) gestureDuration(distance float64) time.Duration {
	d := s.cfg.MinDuration + time.Duration(distance*float64(s.cfg.DurationPerPixel))
	if d > s.cfg.MaxDuration {
		d = s.cfg.MaxDuration
	}
	return time.Duration(jitter(s.rand, float64(d), 0.1))
}

func (s *Scroller) remainingToEdge(direction ScrollDirection) (float64, error) {
	var expr string
	switch direction {
	case ScrollDown:
		expr = "Math.max(0, document.documentElement.scrollHeight - window.innerHeight - window.scrollY)"
	case ScrollUp:
		expr = "window.scrollY"
	case ScrollRight:
		expr = "Math.max(0, document.documentElement.scrollWidth - window.innerWidth - window.scrollX)"
	case ScrollLeft:
		expr = "window.scrollX"
	}
	return s.evaluateFloat(expr)
}

func (s *Scroller) viewportCenter() (float64, float64, error) {
	res, err := s.evaluateJSON("[window.innerWidth / 2, window.innerHeight / 2]")
	if err != nil {
		return 0, 0, err
	}
	vals := gjson.ParseBytes(res).Array()
	if len(vals) != 2 {
		return 0, 0, fmt.Errorf("unexpected viewport measurement %q", res)
	}
	return vals[0].Float(), vals[1].Float(), nil
}

func (s *Scroller) wheelAt(x, y, dx, dy float64) error {
	action := input.DispatchMouseEvent(input.MouseWheel, x, y).
		WithDeltaX(dx).
		WithDeltaY(dy)
	if err := action.Do(cdp.WithExecutor(s.ctx, s.session)); err != nil {
		return fmt.Errorf("dispatching mouse wheel: %w", err)
	}
	return nil
}

func (s *Scroller) evaluateJSON(expr string) ([]byte, error) {
	obj, exceptionDetails, err := runtime.Evaluate(expr).
		WithReturnByValue(true).
		Do(cdp.WithExecutor(s.ctx, s.session))
	if err != nil {
		return nil, fmt.Errorf("evaluating expression: %w", err)
	}
	if exceptionDetails != nil {
		return nil, fmt.Errorf("evaluating expression: %s", exceptionText(exceptionDetails))
	}
	if obj == nil {
		return nil, nil
	}
	return []byte(obj.Value), nil
}

func (s *Scroller) evaluateFloat(expr string) (float64, error) {
	res, err := s.evaluateJSON(expr)
	if err != nil {
		return 0, err
	}
	return gjson.ParseBytes(res).Float(), nil
}
