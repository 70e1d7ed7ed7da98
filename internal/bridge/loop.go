package bridge

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log"
	"maps"
	"math"
	"time"

	"simuser.ai/internal/env"
	"simuser.ai/internal/mathx"
	"simuser.ai/internal/protocol"
	"simuser.ai/internal/scene"
)

// Channel is the driver transport as seen by the loop. Receive and Send
// alternate strictly.
type Channel interface {
	Receive() (protocol.State, error)
	Send(b []byte) error
	Close() error
}

// FrameCapturer renders the current view into encoded image bytes.
type FrameCapturer interface {
	Capture() ([]byte, error)
}

// StepSink receives one record per advanced step. Sinks must not block the loop.
type StepSink interface {
	RecordStep(StepRecord) error
}

type Outcome int

const (
	OutcomeFailed Outcome = iota
	OutcomeSkipped
	OutcomeAdvanced
	// OutcomeQuit: the driver asked the host to quit; the final observation was sent.
	OutcomeQuit
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSkipped:
		return "skipped"
	case OutcomeAdvanced:
		return "advanced"
	case OutcomeQuit:
		return "quit"
	default:
		return "failed"
	}
}

type LoopConfig struct {
	SessionID string
	Channel   Channel
	Runner    *env.Runner
	Rig       *scene.Rig
	Capturer  FrameCapturer
	// Override fixes the headset orientation when set.
	Override *mathx.Quat
	Sink     StepSink
	Logger   *log.Logger
}

// Loop runs one synchronization step per host tick. It is not safe for
// concurrent use; only Metrics may be read from other goroutines.
type Loop struct {
	sessionID string
	ch        Channel
	runner    *env.Runner
	rig       *scene.Rig
	capturer  FrameCapturer
	sink      StepSink
	log       *log.Logger

	applier Applier
	encoder Encoder

	prev    *protocol.State
	step    uint64
	metrics Metrics
}

func NewLoop(cfg LoopConfig) (*Loop, error) {
	if cfg.Channel == nil || cfg.Runner == nil || cfg.Rig == nil || cfg.Capturer == nil {
		return nil, errors.New("bridge: channel, runner, rig and capturer are required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.Default()
	}
	return &Loop{
		sessionID: cfg.SessionID,
		ch:        cfg.Channel,
		runner:    cfg.Runner,
		rig:       cfg.Rig,
		capturer:  cfg.Capturer,
		sink:      cfg.Sink,
		log:       logger,
		applier:   Applier{Rig: cfg.Rig, Override: cfg.Override},
	}, nil
}

// Tick runs one host tick. logic is the rest of the host's per-tick game
// logic; it runs on every tick, and on advanced ticks between applying the
// driver's state and capturing the observation.
func (l *Loop) Tick(hostClock float64, logic func()) (Outcome, error) {
	l.metrics.lastClock.Store(math.Float64bits(hostClock))
	if Decide(l.prev, hostClock) == Skip {
		l.metrics.skipped.Add(1)
		if logic != nil {
			logic()
		}
		return OutcomeSkipped, nil
	}

	started := time.Now()
	state, err := l.ch.Receive()
	if err != nil {
		return OutcomeFailed, fmt.Errorf("step %d: %w", l.step, err)
	}
	if l.prev != nil && state.NextTimestep < l.prev.NextTimestep {
		return OutcomeFailed, protocol.Errorf(protocol.ErrCodeProtocol, "receive",
			"step %d: next_timestep went backwards (%v after %v)", l.step, state.NextTimestep, l.prev.NextTimestep)
	}

	sig := l.applier.Apply(&state, l.runner.Reset)
	if sig == SignalReset {
		l.metrics.episodes.Add(1)
	}
	l.prev = &state

	if logic != nil {
		logic()
	}

	game := l.runner.Game()
	localFinished := game.IsFinished()
	finished := l.runner.Finished(state.IsFinished)
	reward := l.runner.TakeReward()
	timeFeature := game.TimeFeature()
	logDict := game.LogDict()

	frame, err := l.capturer.Capture()
	if err != nil {
		if protocol.CodeOf(err) == "" {
			err = protocol.NewError(protocol.ErrCodeCapture, "capture", err)
		}
		return OutcomeFailed, fmt.Errorf("step %d: %w", l.step, err)
	}
	msg, err := l.encoder.Encode(finished, reward, frame, timeFeature, logDict)
	if err != nil {
		return OutcomeFailed, fmt.Errorf("step %d: %w", l.step, err)
	}
	if err := l.ch.Send(msg); err != nil {
		_ = l.ch.Close()
		return OutcomeFailed, fmt.Errorf("step %d: %w", l.step, err)
	}

	elapsed := time.Since(started)
	l.metrics.advanced.Add(1)
	l.metrics.lastStep.Store(int64(elapsed))
	l.record(StepRecord{
		SessionID:      l.sessionID,
		Step:           l.step,
		Episode:        l.runner.Episode(),
		HostClock:      hostClock,
		NextTimestep:   state.NextTimestep,
		Reset:          sig == SignalReset,
		Quit:           sig == SignalQuit,
		LocalFinished:  localFinished,
		RemoteFinished: state.IsFinished,
		Finished:       finished,
		Reward:         reward,
		TimeFeature:    timeFeature,
		FrameBytes:     len(frame),
		FrameDigest:    digest(frame),
		LogDict:        maps.Clone(logDict),
		Headset:        poseOf(l.rig.Camera),
		LeftHand:       poseOf(l.rig.LeftHand),
		RightHand:      poseOf(l.rig.RightHand),
		StepMS:         float64(elapsed) / float64(time.Millisecond),
	})
	l.step++

	if sig == SignalQuit {
		return OutcomeQuit, nil
	}
	return OutcomeAdvanced, nil
}

func (l *Loop) record(rec StepRecord) {
	if l.sink == nil {
		return
	}
	if err := l.sink.RecordStep(rec); err != nil {
		l.log.Printf("record step %d: %v", rec.Step, err)
	}
}

// Steps is the number of completed exchanges.
func (l *Loop) Steps() uint64 { return l.step }

// LastState is the most recently applied driver state, or nil before the first step.
func (l *Loop) LastState() *protocol.State { return l.prev }

func (l *Loop) Metrics() MetricsSnapshot { return l.metrics.Snapshot() }

func digest(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}
