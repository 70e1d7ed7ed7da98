package protocol

import (
	"fmt"

	"simuser.ai/internal/mathx"
)

// HANDSHAKE (driver -> host)
//
// TimeOptions is negotiated once per session and never changes afterwards.
type TimeOptions struct {
	TimeScale       int
	SampleFrequency int
	Timestep        float64
	// FixedDeltaTime overrides Timestep as the fixed-step length when set.
	FixedDeltaTime *float64
}

// EffectiveDelta is the fixed-step length the host simulates with.
func (o TimeOptions) EffectiveDelta() float64 {
	if o.FixedDeltaTime != nil {
		return *o.FixedDeltaTime
	}
	return o.Timestep
}

// TargetFrameRate is the host frame rate needed to query the policy at
// SampleFrequency in scaled time.
func (o TimeOptions) TargetFrameRate() int {
	return o.SampleFrequency * o.TimeScale
}

// MaximumDeltaTime caps the frame time step.
func (o TimeOptions) MaximumDeltaTime() float64 {
	rate := o.TargetFrameRate()
	if rate <= 0 {
		return 0
	}
	return 1.0 / float64(rate)
}

func (o TimeOptions) Validate() error {
	if o.TimeScale < 1 {
		return Errorf(ErrCodeProtocol, "handshake", "time_scale must be >= 1, got %d", o.TimeScale)
	}
	if o.SampleFrequency < 1 {
		return Errorf(ErrCodeProtocol, "handshake", "sample_frequency must be >= 1, got %d", o.SampleFrequency)
	}
	if d := o.EffectiveDelta(); !mathx.IsFinite(d) || d <= 0 {
		return Errorf(ErrCodeProtocol, "handshake", "effective delta must be positive, got %v", d)
	}
	return nil
}

func (o TimeOptions) String() string {
	fdt := "unset"
	if o.FixedDeltaTime != nil {
		fdt = fmt.Sprintf("%g", *o.FixedDeltaTime)
	}
	return fmt.Sprintf("time_scale=%d sample_frequency=%d timestep=%g fixed_delta_time=%s",
		o.TimeScale, o.SampleFrequency, o.Timestep, fdt)
}

// HANDSHAKE_ACK (host -> driver)
type HandshakeAck struct {
	Accepted        bool
	EffectiveDelta  float64
	TargetFrameRate int
}

// STATE (driver -> host)
//
// State is the authoritative pose of the simulated user for the next step.
type State struct {
	NextTimestep float64

	HeadsetPosition mathx.Vec3
	HeadsetRotation mathx.Quat

	LeftControllerPosition mathx.Vec3
	LeftControllerRotation mathx.Quat

	RightControllerPosition mathx.Vec3
	RightControllerRotation mathx.Quat

	Reset           bool
	QuitApplication bool
	IsFinished      bool
}

// Validate rejects non-finite timing or poses.
func (s *State) Validate() error {
	if !mathx.IsFinite(s.NextTimestep) {
		return Errorf(ErrCodeProtocol, "state", "next_timestep is not finite")
	}
	if !s.HeadsetPosition.Finite() || !s.HeadsetRotation.Finite() {
		return Errorf(ErrCodeProtocol, "state", "headset pose is not finite")
	}
	if !s.LeftControllerPosition.Finite() || !s.LeftControllerRotation.Finite() {
		return Errorf(ErrCodeProtocol, "state", "left controller pose is not finite")
	}
	if !s.RightControllerPosition.Finite() || !s.RightControllerRotation.Finite() {
		return Errorf(ErrCodeProtocol, "state", "right controller pose is not finite")
	}
	return nil
}

// OBS (host -> driver)
type Observation struct {
	IsFinished  bool
	Reward      float32
	Frame       []byte
	TimeFeature float32
	LogDict     map[string]any
}
