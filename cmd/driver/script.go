package main

import (
	"math"

	"simuser.ai/internal/mathx"
	"simuser.ai/internal/protocol"
)

// script produces a deterministic pose stream: the head sways slowly while
// each hand traces a circle in front of the body.
type script struct {
	timestep     float64
	episodeSteps int

	steps     int
	episodes  int
	inEpisode int
	clock     float64
	reset     bool
}

var (
	headBase  = mathx.XYZ(0, 1.6, 0)
	leftBase  = mathx.XYZ(-0.25, 1.2, 0.4)
	rightBase = mathx.XYZ(0.25, 1.2, 0.4)
)

const handRadius = 0.15

func (s *script) next() protocol.State {
	s.clock += s.timestep
	t := s.clock
	st := protocol.State{
		NextTimestep:            t,
		HeadsetPosition:         headBase,
		HeadsetRotation:         mathx.QuatFromAxisAngle(mathx.XYZ(0, 1, 0), float32(0.3*math.Sin(0.5*t))),
		LeftControllerPosition:  leftBase.Add(circle(t, 0)),
		LeftControllerRotation:  mathx.QuatIdent(),
		RightControllerPosition: rightBase.Add(circle(t, math.Pi)),
		RightControllerRotation: mathx.QuatIdent(),
		Reset:                   s.reset,
	}
	if s.reset {
		s.episodes++
		s.inEpisode = 0
	}
	s.reset = false
	s.steps++
	s.inEpisode++
	if s.episodeSteps > 0 && s.inEpisode >= s.episodeSteps {
		st.IsFinished = true
		s.reset = true
	}
	return st
}

// observe schedules a reset once the host reports the episode finished.
func (s *script) observe(obs protocol.Observation) {
	if obs.IsFinished {
		s.reset = true
	}
}

func circle(t, phase float64) mathx.Vec3 {
	a := t + phase
	return mathx.XYZ(float32(handRadius*math.Cos(a)), float32(handRadius*math.Sin(a)), 0)
}
