package bridge

import (
	"simuser.ai/internal/mathx"
	"simuser.ai/internal/protocol"
	"simuser.ai/internal/scene"
)

// Signal is what an applied state asks of the host beyond the pose update.
type Signal int

const (
	SignalNone Signal = iota
	SignalReset
	SignalQuit
)

func (s Signal) String() string {
	switch s {
	case SignalReset:
		return "reset"
	case SignalQuit:
		return "quit"
	default:
		return "none"
	}
}

// Applier writes driver poses onto the rig without smoothing.
type Applier struct {
	Rig *scene.Rig
	// Override, when set, replaces the headset orientation. Hands are never overridden.
	Override *mathx.Quat
}

// Apply updates the anchors first and only then acts on the flags. Quit
// takes precedence over reset.
func (a Applier) Apply(s *protocol.State, reset func()) Signal {
	a.Rig.Camera.SetPositionAndRotation(s.HeadsetPosition, s.HeadsetRotation)
	a.Rig.LeftHand.SetPositionAndRotation(s.LeftControllerPosition, s.LeftControllerRotation)
	a.Rig.RightHand.SetPositionAndRotation(s.RightControllerPosition, s.RightControllerRotation)
	if a.Override != nil {
		a.Rig.Camera.Rotation = *a.Override
	}

	switch {
	case s.QuitApplication:
		return SignalQuit
	case s.Reset:
		if reset != nil {
			reset()
		}
		return SignalReset
	default:
		return SignalNone
	}
}
