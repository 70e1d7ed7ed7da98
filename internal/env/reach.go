package env

import (
	"fmt"
	"image/color"
	"math/rand"

	"simuser.ai/internal/mathx"
	"simuser.ai/internal/scene"
)

// ReachConfig configures the pointing game: targets appear inside a box and
// are hit by touching them with either hand.
type ReachConfig struct {
	EpisodeSeconds float64    `yaml:"episode_seconds"`
	TargetRadius   float32    `yaml:"target_radius"`
	HandRadius     float32    `yaml:"hand_radius"`
	Targets        int        `yaml:"targets"`
	Seed           int64      `yaml:"seed"`
	Center         [3]float32 `yaml:"center"`
	HalfExtents    [3]float32 `yaml:"half_extents"`
}

func DefaultReachConfig() ReachConfig {
	return ReachConfig{
		EpisodeSeconds: 10,
		TargetRadius:   0.05,
		HandRadius:     0.03,
		Targets:        1,
		Seed:           1,
		Center:         [3]float32{0, 1.4, 0.5},
		HalfExtents:    [3]float32{0.3, 0.3, 0.1},
	}
}

var targetColor = color.NRGBA{R: 50, G: 200, B: 80, A: 255}

type Reach struct {
	cfg     ReachConfig
	rig     *scene.Rig
	clock   Clock
	session *Session
	rng     *rand.Rand

	targets []mathx.Vec3
	start   float64
	points  int64
	spawned int64
}

func NewReach(d Deps, cfg ReachConfig) *Reach {
	return &Reach{
		cfg:   cfg,
		rig:   d.Rig,
		clock: d.Clock,
		session: NewSession(map[string]any{
			"points":          int64(0),
			"targets_spawned": int64(0),
			"elapsed":         0.0,
		}),
	}
}

func (g *Reach) InitialiseGame() error {
	if g.cfg.EpisodeSeconds <= 0 {
		return fmt.Errorf("reach: episode_seconds must be positive")
	}
	if g.cfg.Targets <= 0 {
		return fmt.Errorf("reach: targets must be positive")
	}
	if g.cfg.TargetRadius <= 0 {
		return fmt.Errorf("reach: target_radius must be positive")
	}
	g.rng = rand.New(rand.NewSource(g.cfg.Seed))
	g.start = g.clock.Time()
	g.spawnAll()
	return nil
}

func (g *Reach) InitialiseReward() {
	g.session.Reward = 0
}

func (g *Reach) CalculateReward() {
	hits := 0
	reach := g.cfg.TargetRadius + g.cfg.HandRadius
	for i, t := range g.targets {
		if g.rig.LeftHand.Position.Dist(t) <= reach || g.rig.RightHand.Position.Dist(t) <= reach {
			hits++
			g.targets[i] = g.spawn()
		}
	}
	g.points += int64(hits)
	g.session.Reward += float64(hits)
	g.session.LogDict["points"] = g.points
	g.session.LogDict["targets_spawned"] = g.spawned
	g.session.LogDict["elapsed"] = g.elapsed()
}

func (g *Reach) UpdateIsFinished() {
	g.session.Finished = g.elapsed() >= g.cfg.EpisodeSeconds
}

func (g *Reach) Reward() float64         { return g.session.Reward }
func (g *Reach) IsFinished() bool        { return g.session.Finished }
func (g *Reach) LogDict() map[string]any { return g.session.LogDict }

func (g *Reach) TimeFeature() float64 {
	return timeFeature(g.elapsed(), g.cfg.EpisodeSeconds)
}

func (g *Reach) Reset() {
	g.session.Reset()
	g.start = g.clock.Time()
	g.points = 0
	g.spawned = 0
	g.spawnAll()
}

func (g *Reach) Markers() []scene.Marker {
	out := make([]scene.Marker, 0, len(g.targets)+2)
	for _, t := range g.targets {
		out = append(out, scene.Marker{Position: t, Radius: g.cfg.TargetRadius, Color: targetColor})
	}
	return append(out, g.rig.HandMarkers(g.cfg.HandRadius)...)
}

// Session exposes the reward/termination state.
func (g *Reach) Session() *Session { return g.session }

func (g *Reach) elapsed() float64 {
	return g.clock.Time() - g.start
}

func (g *Reach) spawnAll() {
	g.targets = g.targets[:0]
	for i := 0; i < g.cfg.Targets; i++ {
		g.targets = append(g.targets, g.spawn())
	}
}

func (g *Reach) spawn() mathx.Vec3 {
	var p mathx.Vec3
	for i := range p {
		p[i] = g.cfg.Center[i] + (2*g.rng.Float32()-1)*g.cfg.HalfExtents[i]
	}
	g.spawned++
	return p
}

func timeFeature(elapsed, episode float64) float64 {
	if episode <= 0 {
		return 0
	}
	return mathx.Clamp(2*elapsed/episode-1, -1, 1)
}
