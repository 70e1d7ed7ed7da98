package host

import (
	"context"
	"errors"
	"io"
	"log"
	"math"
	"testing"
	"time"

	"simuser.ai/internal/bridge"
	"simuser.ai/internal/env"
	"simuser.ai/internal/protocol"
	"simuser.ai/internal/scene"
)

func approx(a, b float64) bool { return math.Abs(a-b) < 1e-9 }

func TestSettingsFrom(t *testing.T) {
	s := SettingsFrom(protocol.TimeOptions{TimeScale: 2, SampleFrequency: 30, Timestep: 0.01})
	if s.TargetFrameRate != 60 || s.FixedDelta != 0.01 || !approx(s.MaxDelta, 1.0/60) {
		t.Fatalf("settings: %+v", s)
	}
	if !approx(s.FrameDelta(), 1.0/60) {
		t.Fatalf("frame delta: %v", s.FrameDelta())
	}
	fdt := 0.005
	s = SettingsFrom(protocol.TimeOptions{TimeScale: 1, SampleFrequency: 20, Timestep: 0.01, FixedDeltaTime: &fdt})
	if s.FixedDelta != 0.005 || !approx(s.FrameDelta(), 0.05) {
		t.Fatalf("settings with fixed delta: %+v", s)
	}
}

func TestClockFixedSteps(t *testing.T) {
	c := NewClock(0.1)
	if n := c.Advance(0.05); n != 0 || c.FixedTime() != 0 {
		t.Fatalf("half step: n=%d fixed=%v", n, c.FixedTime())
	}
	if n := c.Advance(0.05); n != 1 || !approx(c.FixedTime(), 0.1) {
		t.Fatalf("one step: n=%d fixed=%v", n, c.FixedTime())
	}
	if n := c.Advance(0.25); n != 2 || !approx(c.FixedTime(), 0.3) {
		t.Fatalf("catch up: n=%d fixed=%v", n, c.FixedTime())
	}
	// 0.1 summed thirty times must land on step 30, not 29
	c = NewClock(0.1)
	for i := 0; i < 30; i++ {
		c.Advance(0.1)
	}
	if c.FixedSteps() != 30 {
		t.Fatalf("drift: steps=%d time=%v", c.FixedSteps(), c.Time())
	}
	if c.FixedTime() > c.Time()+stepEpsilon {
		t.Fatalf("fixed time ahead of frame time")
	}
}

type countingGame struct {
	updates int
}

func (g *countingGame) InitialiseGame() error   { return nil }
func (g *countingGame) InitialiseReward()       {}
func (g *countingGame) CalculateReward()        { g.updates++ }
func (g *countingGame) UpdateIsFinished()       {}
func (g *countingGame) Reward() float64         { return 0 }
func (g *countingGame) IsFinished() bool        { return false }
func (g *countingGame) TimeFeature() float64    { return 0 }
func (g *countingGame) LogDict() map[string]any { return nil }
func (g *countingGame) Reset()                  {}
func (g *countingGame) Markers() []scene.Marker { return nil }

type scriptedBridge struct {
	clocks   []float64
	outcomes []bridge.Outcome
	err      error
}

func (b *scriptedBridge) Tick(clock float64, logic func()) (bridge.Outcome, error) {
	b.clocks = append(b.clocks, clock)
	logic()
	if b.err != nil {
		return bridge.OutcomeFailed, b.err
	}
	if len(b.outcomes) == 0 {
		return bridge.OutcomeSkipped, nil
	}
	o := b.outcomes[0]
	b.outcomes = b.outcomes[1:]
	return o, nil
}

func newRunner(t *testing.T) (*env.Runner, *countingGame) {
	t.Helper()
	g := &countingGame{}
	r := env.NewRunner(g)
	if err := r.Initialise(); err != nil {
		t.Fatalf("initialise: %v", err)
	}
	return r, g
}

func TestRuntimeRunUntilQuit(t *testing.T) {
	runner, game := newRunner(t)
	b := &scriptedBridge{outcomes: []bridge.Outcome{bridge.OutcomeAdvanced, bridge.OutcomeSkipped, bridge.OutcomeQuit}}
	rt, err := NewRuntime(Config{
		Settings: SettingsFrom(protocol.TimeOptions{TimeScale: 1, SampleFrequency: 10, Timestep: 0.1}),
		Runner:   runner,
		Bridge:   b,
		Logger:   log.New(io.Discard, "", 0),
	})
	if err != nil {
		t.Fatalf("NewRuntime: %v", err)
	}
	if err := rt.Run(context.Background()); !errors.Is(err, ErrQuit) {
		t.Fatalf("Run: got %v want ErrQuit", err)
	}
	if rt.Frames() != 3 || game.updates != 3 {
		t.Fatalf("frames=%d updates=%d", rt.Frames(), game.updates)
	}
	want := []float64{0.1, 0.2, 0.3}
	for i, c := range b.clocks {
		if !approx(c, want[i]) {
			t.Fatalf("clock %d: got %v want %v", i, c, want[i])
		}
	}
}

func TestRuntimeStopsOnBridgeError(t *testing.T) {
	runner, _ := newRunner(t)
	boom := protocol.Errorf(protocol.ErrCodeStepTimeout, "receive", "timeout")
	rt, err := NewRuntime(Config{
		Settings: DefaultSettings(),
		Runner:   runner,
		Bridge:   &scriptedBridge{err: boom},
		Logger:   log.New(io.Discard, "", 0),
	})
	if err != nil {
		t.Fatalf("NewRuntime: %v", err)
	}
	if err := rt.Run(context.Background()); !errors.Is(err, protocol.ErrStepTimeout) {
		t.Fatalf("Run: %v", err)
	}
}

func TestRuntimeWithoutBridge(t *testing.T) {
	runner, game := newRunner(t)
	rt, err := NewRuntime(Config{
		Settings: DefaultSettings(),
		Runner:   runner,
		Realtime: true,
		Logger:   log.New(io.Discard, "", 0),
	})
	if err != nil {
		t.Fatalf("NewRuntime: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	if err := rt.Run(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Run: %v", err)
	}
	if game.updates == 0 || uint64(game.updates) != rt.Frames() {
		t.Fatalf("updates=%d frames=%d", game.updates, rt.Frames())
	}
}

func TestRuntimeRealtimeDeltaIsCapped(t *testing.T) {
	runner, _ := newRunner(t)
	rt, err := NewRuntime(Config{
		Settings: SettingsFrom(protocol.TimeOptions{TimeScale: 1, SampleFrequency: 10, Timestep: 0.1}),
		Runner:   runner,
		Realtime: true,
	})
	if err != nil {
		t.Fatalf("NewRuntime: %v", err)
	}
	now := time.Unix(100, 0)
	rt.now = func() time.Time { return now }
	if d := rt.frameDelta(); d != 0 {
		t.Fatalf("first frame delta: %v", d)
	}
	now = now.Add(5 * time.Second)
	if d := rt.frameDelta(); !approx(d, 0.1) {
		t.Fatalf("capped delta: %v", d)
	}
}
