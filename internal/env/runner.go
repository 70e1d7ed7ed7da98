package env

import "fmt"

type Phase int

const (
	PhaseUninitialized Phase = iota
	PhaseInitialised
	PhaseRunning
	PhaseFinished
)

func (p Phase) String() string {
	switch p {
	case PhaseUninitialized:
		return "uninitialized"
	case PhaseInitialised:
		return "initialised"
	case PhaseRunning:
		return "running"
	case PhaseFinished:
		return "finished"
	default:
		return fmt.Sprintf("phase(%d)", int(p))
	}
}

// Runner drives a Lifecycle through
// Uninitialized -> Initialised -> Running <-> Finished.
type Runner struct {
	game    Lifecycle
	phase   Phase
	episode int
}

func NewRunner(game Lifecycle) *Runner {
	return &Runner{game: game}
}

func (r *Runner) Game() Lifecycle { return r.game }
func (r *Runner) Phase() Phase    { return r.phase }

// Episode counts resets since initialisation; the first episode is 0.
func (r *Runner) Episode() int { return r.episode }

// Initialise runs the one-time game and reward setup.
func (r *Runner) Initialise() error {
	if r.phase != PhaseUninitialized {
		return fmt.Errorf("env: initialise in phase %s", r.phase)
	}
	if err := r.game.InitialiseGame(); err != nil {
		return fmt.Errorf("env: initialise game: %w", err)
	}
	r.game.InitialiseReward()
	r.phase = PhaseInitialised
	return nil
}

// Update runs the per-tick reward and termination logic.
func (r *Runner) Update() {
	if r.phase == PhaseUninitialized {
		return
	}
	r.game.CalculateReward()
	r.game.UpdateIsFinished()
	if r.game.IsFinished() {
		r.phase = PhaseFinished
	} else {
		r.phase = PhaseRunning
	}
}

// Reset starts the next episode.
func (r *Runner) Reset() {
	if r.phase == PhaseUninitialized {
		return
	}
	r.game.Reset()
	r.episode++
	r.phase = PhaseRunning
}

// TakeReward returns the reward accumulated since the last call and starts
// accumulating again from zero.
func (r *Runner) TakeReward() float64 {
	reward := r.game.Reward()
	r.game.InitialiseReward()
	return reward
}

// Finished is the episode end as reported to the driver: either side may end it.
func (r *Runner) Finished(remote bool) bool {
	return r.game.IsFinished() || remote
}
