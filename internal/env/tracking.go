package env

import (
	"fmt"
	"image/color"
	"math"

	"simuser.ai/internal/mathx"
	"simuser.ai/internal/scene"
)

// TrackingConfig configures the tracking game: the right hand follows a target
// moving on a Lissajous curve.
type TrackingConfig struct {
	EpisodeSeconds float64    `yaml:"episode_seconds"`
	TargetRadius   float32    `yaml:"target_radius"`
	Center         [3]float32 `yaml:"center"`
	Amplitude      [2]float32 `yaml:"amplitude"`
	FrequencyHz    [2]float64 `yaml:"frequency_hz"`
}

func DefaultTrackingConfig() TrackingConfig {
	return TrackingConfig{
		EpisodeSeconds: 10,
		TargetRadius:   0.04,
		Center:         [3]float32{0.1, 1.3, 0.45},
		Amplitude:      [2]float32{0.2, 0.15},
		FrequencyHz:    [2]float64{0.25, 0.5},
	}
}

var trackColor = color.NRGBA{R: 240, G: 200, B: 40, A: 255}

type Tracking struct {
	cfg     TrackingConfig
	rig     *scene.Rig
	clock   Clock
	session *Session

	start float64
	last  float64
}

func NewTracking(d Deps, cfg TrackingConfig) *Tracking {
	return &Tracking{
		cfg:   cfg,
		rig:   d.Rig,
		clock: d.Clock,
		session: NewSession(map[string]any{
			"distance": 0.0,
			"elapsed":  0.0,
		}),
	}
}

func (g *Tracking) InitialiseGame() error {
	if g.cfg.EpisodeSeconds <= 0 {
		return fmt.Errorf("tracking: episode_seconds must be positive")
	}
	g.start = g.clock.Time()
	g.last = g.start
	return nil
}

func (g *Tracking) InitialiseReward() {
	g.session.Reward = 0
}

func (g *Tracking) CalculateReward() {
	now := g.clock.Time()
	dt := now - g.last
	g.last = now
	d := float64(g.rig.RightHand.Position.Dist(g.Target()))
	g.session.Reward -= d * dt
	g.session.LogDict["distance"] = d
	g.session.LogDict["elapsed"] = g.elapsed()
}

func (g *Tracking) UpdateIsFinished() {
	g.session.Finished = g.elapsed() >= g.cfg.EpisodeSeconds
}

func (g *Tracking) Reward() float64         { return g.session.Reward }
func (g *Tracking) IsFinished() bool        { return g.session.Finished }
func (g *Tracking) LogDict() map[string]any { return g.session.LogDict }

func (g *Tracking) TimeFeature() float64 {
	return timeFeature(g.elapsed(), g.cfg.EpisodeSeconds)
}

func (g *Tracking) Reset() {
	g.session.Reset()
	g.start = g.clock.Time()
	g.last = g.start
}

// Target is the target position at the current episode time.
func (g *Tracking) Target() mathx.Vec3 {
	t := g.elapsed()
	x := g.cfg.Amplitude[0] * float32(math.Sin(2*math.Pi*g.cfg.FrequencyHz[0]*t))
	y := g.cfg.Amplitude[1] * float32(math.Sin(2*math.Pi*g.cfg.FrequencyHz[1]*t+math.Pi/2))
	c := g.cfg.Center
	return mathx.XYZ(c[0]+x, c[1]+y, c[2])
}

func (g *Tracking) Markers() []scene.Marker {
	out := []scene.Marker{{Position: g.Target(), Radius: g.cfg.TargetRadius, Color: trackColor}}
	return append(out, g.rig.HandMarkers(g.cfg.TargetRadius*0.75)...)
}

func (g *Tracking) Session() *Session { return g.session }

func (g *Tracking) elapsed() float64 {
	return g.clock.Time() - g.start
}
