// Package config loads host settings: built-in defaults, then an optional
// YAML file, then SIMUSER_* environment variables. Command-line flags are
// applied last by the binary.
package config

import (
	"fmt"
	"math"
	"os"
	"strings"
	"time"

	envvars "github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"

	"simuser.ai/internal/env"
	"simuser.ai/internal/mathx"
	"simuser.ai/internal/protocol"
	"simuser.ai/internal/render"
)

type Config struct {
	Host string `yaml:"host" env:"SIMUSER_HOST"`
	// Port 5555 is the debug port and gets long timeouts.
	Port int `yaml:"port" env:"SIMUSER_PORT"`

	// Simulated enables the bridge. Without it the host ticks the game alone.
	Simulated   bool `yaml:"simulated" env:"SIMUSER_SIMULATED"`
	Interactive bool `yaml:"interactive" env:"SIMUSER_INTERACTIVE"`
	// Realtime paces ticks with the wall clock instead of running flat out.
	Realtime bool `yaml:"realtime" env:"SIMUSER_REALTIME"`

	Game  string     `yaml:"game" env:"SIMUSER_GAME"`
	Games env.Config `yaml:"games"`

	OverrideHeadsetOrientation bool `yaml:"override_headset_orientation" env:"SIMUSER_OVERRIDE_HEADSET_ORIENTATION"`
	// HeadsetOrientation is x,y,z,w.
	HeadsetOrientation []float32 `yaml:"headset_orientation" env:"SIMUSER_HEADSET_ORIENTATION" envSeparator:","`

	Capture render.Options `yaml:"capture" envPrefix:"SIMUSER_CAPTURE_"`

	// Zero timeouts mean the defaults for the listen port.
	StepTimeout      time.Duration `yaml:"step_timeout" env:"SIMUSER_STEP_TIMEOUT"`
	HandshakeTimeout time.Duration `yaml:"handshake_timeout" env:"SIMUSER_HANDSHAKE_TIMEOUT"`

	RecordDir   string `yaml:"record_dir" env:"SIMUSER_RECORD_DIR"`
	DisableDB   bool   `yaml:"disable_db" env:"SIMUSER_DISABLE_DB"`
	MetricsAddr string `yaml:"metrics_addr" env:"SIMUSER_METRICS_ADDR"`
}

func Defaults() Config {
	return Config{
		Host:      "127.0.0.1",
		Port:      protocol.DebugPort,
		Simulated: true,
		Game:      "reach",
		Games: env.Config{
			Reach:    env.DefaultReachConfig(),
			Tracking: env.DefaultTrackingConfig(),
		},
		Capture:   render.DefaultOptions(),
		RecordDir: "data",
	}
}

// Load reads path (if non-empty) over the defaults and applies environment
// overrides.
func Load(path string) (Config, error) {
	return load(path, envvars.Options{})
}

func load(path string, opts envvars.Options) (Config, error) {
	cfg := Defaults()
	if strings.TrimSpace(path) != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return cfg, err
		}
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return cfg, fmt.Errorf("%s: %w", path, err)
		}
	}
	if err := envvars.ParseWithOptions(&cfg, opts); err != nil {
		return cfg, fmt.Errorf("parse env: %w", err)
	}
	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func (c *Config) Normalize() {
	c.Host = strings.TrimSpace(c.Host)
	c.Game = strings.ToLower(strings.TrimSpace(c.Game))
	if c.OverrideHeadsetOrientation && len(c.HeadsetOrientation) == 0 {
		c.HeadsetOrientation = []float32{0, 0, 0, 1}
	}
}

func (c Config) Validate() error {
	if c.Port < 0 || c.Port > 65535 {
		return fmt.Errorf("config: port out of range: %d", c.Port)
	}
	known := false
	for _, g := range env.Games() {
		if g == c.Game {
			known = true
		}
	}
	if !known {
		return fmt.Errorf("config: unknown game %q (known: %v)", c.Game, env.Games())
	}
	if c.OverrideHeadsetOrientation {
		if len(c.HeadsetOrientation) != 4 {
			return fmt.Errorf("config: headset_orientation needs 4 components (x,y,z,w), got %d", len(c.HeadsetOrientation))
		}
		q := c.headsetQuat()
		if !q.Finite() {
			return fmt.Errorf("config: headset_orientation must be finite")
		}
		if l := q.Len(); math.Abs(float64(l)-1) > unitTolerance {
			return fmt.Errorf("config: headset_orientation must be a unit quaternion, got length %g", l)
		}
	}
	if err := c.Capture.Validate(); err != nil {
		return fmt.Errorf("config: capture: %w", err)
	}
	if c.StepTimeout < 0 || c.HandshakeTimeout < 0 {
		return fmt.Errorf("config: timeouts must not be negative")
	}
	return nil
}

// unitTolerance bounds how far a configured orientation may be from unit
// length; float32 yaml values rarely normalise exactly.
const unitTolerance = 1e-3

// HeadsetOverride is the fixed headset orientation exactly as configured, or
// nil when the driver's orientation is used.
func (c Config) HeadsetOverride() *mathx.Quat {
	if !c.OverrideHeadsetOrientation {
		return nil
	}
	q := c.headsetQuat()
	return &q
}

func (c Config) headsetQuat() mathx.Quat {
	o := c.HeadsetOrientation
	return mathx.QuatXYZW(o[0], o[1], o[2], o[3])
}
