// Package env defines the per-game capability set that computes reward and
// termination for the simulated user, and the state machine driving it.
package env

import (
	"fmt"
	"maps"
	"sort"

	"simuser.ai/internal/scene"
)

// Lifecycle is implemented once per game.
type Lifecycle interface {
	// InitialiseGame runs once, before the first tick. InitialiseReward zeroes
	// the reward; it runs before the first tick and again each time the
	// reward is taken for an observation.
	InitialiseGame() error
	InitialiseReward()

	// CalculateReward and UpdateIsFinished run every host tick.
	// CalculateReward adds to the reward, so ticks between two observations
	// all count towards the next one.
	CalculateReward()
	UpdateIsFinished()

	Reward() float64
	IsFinished() bool

	// TimeFeature is the elapsed episode time scaled to [-1, 1].
	TimeFeature() float64

	// LogDict holds auxiliary values reported with each observation.
	LogDict() map[string]any

	// Reset starts a new episode on the same session.
	Reset()

	scene.MarkerSource
}

// Clock is the host time source games measure episodes with.
type Clock interface {
	Time() float64
}

// Session is the per-run reward/termination state shared by every episode.
// Reset reinitialises it in place.
type Session struct {
	Reward   float64
	Finished bool
	LogDict  map[string]any

	initial map[string]any
}

func NewSession(initial map[string]any) *Session {
	s := &Session{
		LogDict: make(map[string]any, len(initial)),
		initial: maps.Clone(initial),
	}
	maps.Copy(s.LogDict, initial)
	return s
}

func (s *Session) Reset() {
	s.Reward = 0
	s.Finished = false
	clear(s.LogDict)
	maps.Copy(s.LogDict, s.initial)
}

// Deps are the host objects a game reads.
type Deps struct {
	Rig   *scene.Rig
	Clock Clock
}

// Config carries per-game settings.
type Config struct {
	Reach    ReachConfig    `yaml:"reach"`
	Tracking TrackingConfig `yaml:"tracking"`
}

type factory func(Deps, Config) Lifecycle

var games = map[string]factory{
	"reach":    func(d Deps, c Config) Lifecycle { return NewReach(d, c.Reach) },
	"tracking": func(d Deps, c Config) Lifecycle { return NewTracking(d, c.Tracking) },
}

// Games lists the registered game names.
func Games() []string {
	out := make([]string, 0, len(games))
	for name := range games {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// New builds the named game.
func New(name string, deps Deps, cfg Config) (Lifecycle, error) {
	if deps.Rig == nil || deps.Clock == nil {
		return nil, fmt.Errorf("env: game %q needs a rig and a clock", name)
	}
	f, ok := games[name]
	if !ok {
		return nil, fmt.Errorf("env: unknown game %q (known: %v)", name, Games())
	}
	return f(deps, cfg), nil
}
