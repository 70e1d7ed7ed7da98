// Package host runs the simulated user's frame loop.
package host

import (
	"context"
	"errors"
	"log"
	"math"
	"sync/atomic"
	"time"

	"simuser.ai/internal/bridge"
	"simuser.ai/internal/env"
)

// ErrQuit is returned by Run when the driver asked the host to quit.
var ErrQuit = errors.New("host: quit requested")

// Stepper is the per-tick bridge step.
type Stepper interface {
	Tick(hostClock float64, logic func()) (bridge.Outcome, error)
}

type Config struct {
	Settings Settings

	// Clock is created from Settings when nil. Games read frame time from it.
	Clock  *Clock
	Runner *env.Runner

	// Bridge is nil when the host runs without a driver.
	Bridge   Stepper
	Realtime bool
	Logger   *log.Logger
}

type Runtime struct {
	settings Settings
	clock    *Clock
	runner   *env.Runner
	bridge   Stepper
	realtime bool
	log      *log.Logger

	now    func() time.Time
	last   time.Time
	frames atomic.Uint64
}

func NewRuntime(cfg Config) (*Runtime, error) {
	if cfg.Runner == nil {
		return nil, errors.New("host: runner is required")
	}
	if cfg.Settings.FixedDelta <= 0 || cfg.Settings.MaxDelta <= 0 {
		return nil, errors.New("host: fixed and maximum delta must be positive")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.Default()
	}
	clock := cfg.Clock
	if clock == nil {
		clock = NewClock(cfg.Settings.FixedDelta)
	}
	return &Runtime{
		settings: cfg.Settings,
		clock:    clock,
		runner:   cfg.Runner,
		bridge:   cfg.Bridge,
		realtime: cfg.Realtime,
		log:      logger,
		now:      time.Now,
	}, nil
}

func (r *Runtime) Clock() *Clock      { return r.clock }
func (r *Runtime) Settings() Settings { return r.settings }

// Frames may be read from any goroutine.
func (r *Runtime) Frames() uint64 { return r.frames.Load() }

// Tick runs one frame: advance the clocks, then the bridge step (or the game
// alone without a bridge).
func (r *Runtime) Tick() error {
	r.clock.Advance(r.frameDelta())
	r.frames.Add(1)
	if r.bridge == nil {
		r.runner.Update()
		return nil
	}
	out, err := r.bridge.Tick(r.clock.FixedTime(), r.runner.Update)
	if err != nil {
		return err
	}
	if out == bridge.OutcomeQuit {
		return ErrQuit
	}
	return nil
}

func (r *Runtime) frameDelta() float64 {
	if !r.realtime {
		return r.settings.FrameDelta()
	}
	now := r.now()
	if r.last.IsZero() {
		r.last = now
		return 0
	}
	elapsed := now.Sub(r.last).Seconds() * float64(r.settings.TimeScale)
	r.last = now
	return math.Min(elapsed, r.settings.MaxDelta)
}

// Run ticks until the driver quits, a tick fails or ctx is cancelled. In
// realtime mode frames are paced at the target frame rate.
func (r *Runtime) Run(ctx context.Context) error {
	r.log.Printf("running: time_scale=%d target_frame_rate=%d fixed_delta=%g max_delta=%g realtime=%v bridge=%v",
		r.settings.TimeScale, r.settings.TargetFrameRate, r.settings.FixedDelta, r.settings.MaxDelta, r.realtime, r.bridge != nil)

	if !r.realtime {
		for {
			if err := ctx.Err(); err != nil {
				return err
			}
			if err := r.Tick(); err != nil {
				return err
			}
		}
	}

	period := time.Second / 60
	if r.settings.TargetFrameRate > 0 {
		period = time.Second / time.Duration(r.settings.TargetFrameRate)
	}
	ticker := time.NewTicker(period)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := r.Tick(); err != nil {
				return err
			}
		}
	}
}
