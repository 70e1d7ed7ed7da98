package main

import (
	"context"
	"errors"
	"time"

	"simuser.ai/internal/host"
	"simuser.ai/internal/persistence/snapshot"
	"simuser.ai/internal/protocol"
	"simuser.ai/internal/scene"
)

func poseV1(t scene.Transform) snapshot.PoseV1 {
	return snapshot.PoseV1{Position: t.Position, Rotation: t.Rotation.XYZW()}
}

// writeHaltSnapshot records where the session stopped so an operator can
// inspect a halted host.
func writeHaltSnapshot(s *session, code int, runErr error) (string, error) {
	snap := snapshot.HaltSnapshotV1{
		Header: snapshot.Header{
			Version:   snapshot.Version,
			SessionID: s.id,
		},
		CreatedAt: time.Now().UTC(),
		ExitCode:  code,
		Game:      s.cfg.Game,
		Headset:   poseV1(s.rig.Camera),
		LeftHand:  poseV1(s.rig.LeftHand),
		RightHand: poseV1(s.rig.RightHand),
	}
	snap.Header.Reason = haltReason(code, runErr)
	if code != exitOK && runErr != nil {
		snap.Error = runErr.Error()
	}
	if s.opts != nil {
		snap.TimeScale = s.opts.TimeScale
		snap.SampleFrequency = s.opts.SampleFrequency
		snap.EffectiveDelta = s.opts.EffectiveDelta()
	}
	if s.rt != nil {
		snap.HostClock = s.rt.Clock().FixedTime()
		snap.FrameTime = s.rt.Clock().Time()
	}
	if s.runner != nil {
		g := s.runner.Game()
		snap.Episode = s.runner.Episode()
		snap.Phase = s.runner.Phase().String()
		snap.Reward = g.Reward()
		snap.Finished = g.IsFinished()
		snap.TimeFeature = g.TimeFeature()
		snap.LogDict = g.LogDict()
	}
	if s.loop != nil {
		m := s.loop.Metrics()
		snap.Header.Step = s.loop.Steps()
		snap.Advanced = m.Advanced
		snap.Skipped = m.Skipped
		if st := s.loop.LastState(); st != nil {
			snap.LastState = stateV1(st)
		}
	}
	path := snapshot.PathFor(s.dir, s.id)
	return path, snapshot.WriteSnapshot(path, snap)
}

func stateV1(st *protocol.State) *snapshot.StateV1 {
	return &snapshot.StateV1{
		NextTimestep:    st.NextTimestep,
		Headset:         snapshot.PoseV1{Position: st.HeadsetPosition, Rotation: st.HeadsetRotation.XYZW()},
		LeftHand:        snapshot.PoseV1{Position: st.LeftControllerPosition, Rotation: st.LeftControllerRotation.XYZW()},
		RightHand:       snapshot.PoseV1{Position: st.RightControllerPosition, Rotation: st.RightControllerRotation.XYZW()},
		Reset:           st.Reset,
		QuitApplication: st.QuitApplication,
		IsFinished:      st.IsFinished,
	}
}

func haltReason(code int, err error) string {
	switch {
	case code != exitOK:
		return "error"
	case errors.Is(err, host.ErrQuit):
		return "quit"
	case errors.Is(err, context.Canceled):
		return "interrupted"
	default:
		return "stopped"
	}
}
