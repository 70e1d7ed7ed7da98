package host

import (
	"math"

	"simuser.ai/internal/protocol"
)

// Settings are the frame timing parameters the host runs with.
type Settings struct {
	TimeScale       int
	TargetFrameRate int
	// FixedDelta is the fixed-step length in scaled seconds.
	FixedDelta float64
	// MaxDelta caps the scaled time one frame may advance.
	MaxDelta float64
}

// SettingsFrom derives the host timing from negotiated time options.
func SettingsFrom(o protocol.TimeOptions) Settings {
	return Settings{
		TimeScale:       o.TimeScale,
		TargetFrameRate: o.TargetFrameRate(),
		FixedDelta:      o.EffectiveDelta(),
		MaxDelta:        o.MaximumDeltaTime(),
	}
}

// DefaultSettings is used when no driver negotiates timing.
func DefaultSettings() Settings {
	return Settings{TimeScale: 1, TargetFrameRate: 60, FixedDelta: 0.02, MaxDelta: 1.0 / 3}
}

// FrameDelta is the scaled time one frame advances when frames run back to
// back at the target rate.
func (s Settings) FrameDelta() float64 {
	if s.TargetFrameRate <= 0 {
		return s.MaxDelta
	}
	return math.Min(float64(s.TimeScale)/float64(s.TargetFrameRate), s.MaxDelta)
}

// Clock tracks frame time and fixed-step time. FixedTime is always a whole
// number of fixed steps and never runs ahead of Time.
type Clock struct {
	delta float64
	time  float64
	steps uint64
}

// stepEpsilon absorbs float drift when summing frame deltas.
const stepEpsilon = 1e-9

func NewClock(fixedDelta float64) *Clock {
	return &Clock{delta: fixedDelta}
}

// Advance moves frame time by d and runs as many fixed steps as fit. It
// returns the number of fixed steps taken.
func (c *Clock) Advance(d float64) int {
	if d > 0 {
		c.time += d
	}
	if c.delta <= 0 {
		return 0
	}
	n := 0
	for float64(c.steps+1)*c.delta <= c.time+stepEpsilon {
		c.steps++
		n++
	}
	return n
}

func (c *Clock) Time() float64      { return c.time }
func (c *Clock) FixedTime() float64 { return float64(c.steps) * c.delta }
func (c *Clock) FixedSteps() uint64 { return c.steps }
func (c *Clock) Delta() float64     { return c.delta }
