package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"

	"simuser.ai/internal/bridge"
	"simuser.ai/internal/config"
	"simuser.ai/internal/env"
	"simuser.ai/internal/host"
	"simuser.ai/internal/protocol"
	"simuser.ai/internal/render"
	"simuser.ai/internal/scene"
	"simuser.ai/internal/transport/ws"
)

func main() {
	os.Exit(run())
}

func run() int {
	var (
		configPath = flag.String("config", "", "path to host.yaml (optional)")
		listenHost = flag.String("host", "", "listen host")
		port       = flag.Int("port", 0, "listen port (5555 is the debug port with long timeouts)")
		simulated  = flag.Bool("simulated", true, "bridge to an external driver")
		interact   = flag.Bool("interactive", false, "on halt, keep the process alive until interrupted")
		realtime   = flag.Bool("realtime", false, "pace frames with the wall clock")
		game       = flag.String("game", "", "game variant ("+strings.Join(env.Games(), ", ")+")")
		override   = flag.Bool("override_headset_orientation", false, "ignore the driver's headset orientation")
		recordDir  = flag.String("record_dir", "", "runtime data directory")
		disableDB  = flag.Bool("disable_db", false, "disable the sqlite index")
		metrics    = flag.String("metrics_addr", "", "http address for /healthz and /metrics (empty to disable)")
		stepTO     = flag.Duration("step_timeout", 0, "receive timeout per step (0: port default)")
		handTO     = flag.Duration("handshake_timeout", 0, "handshake timeout (0: port default)")
	)
	flag.Parse()

	logger := log.New(os.Stdout, "[host] ", log.LstdFlags|log.Lmicroseconds)

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Printf("load config: %v", err)
		return exitStartup
	}
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "host":
			cfg.Host = *listenHost
		case "port":
			cfg.Port = *port
		case "simulated":
			cfg.Simulated = *simulated
		case "interactive":
			cfg.Interactive = *interact
		case "realtime":
			cfg.Realtime = *realtime
		case "game":
			cfg.Game = *game
		case "override_headset_orientation":
			cfg.OverrideHeadsetOrientation = *override
		case "record_dir":
			cfg.RecordDir = *recordDir
		case "disable_db":
			cfg.DisableDB = *disableDB
		case "metrics_addr":
			cfg.MetricsAddr = *metrics
		case "step_timeout":
			cfg.StepTimeout = *stepTO
		case "handshake_timeout":
			cfg.HandshakeTimeout = *handTO
		}
	})
	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		logger.Printf("config: %v", err)
		return exitStartup
	}

	sessionID := uuid.NewString()
	sessionDir := ""
	if cfg.RecordDir != "" {
		sessionDir = filepath.Join(cfg.RecordDir, "sessions", sessionID)
	}
	logger.Printf("session %s game=%s simulated=%v interactive=%v", sessionID, cfg.Game, cfg.Simulated, cfg.Interactive)

	ctx, cancel := signalContext()
	defer cancel()

	s := &session{
		id:     sessionID,
		dir:    sessionDir,
		cfg:    cfg,
		logger: logger,
		rig:    scene.NewRig(),
	}
	defer s.close()

	code, runErr := s.run(ctx)
	switch {
	case runErr == nil:
	case code == exitOK:
		logger.Printf("stopped: %v", runErr)
	default:
		logger.Printf("fatal (%s, exit %d): %v", codeName(runErr), code, runErr)
	}
	s.finish(code, runErr)

	if cfg.Interactive && ctx.Err() == nil {
		logger.Printf("halted; press Ctrl-C to exit")
		<-ctx.Done()
	}
	return code
}

// session owns everything one host run opens.
type session struct {
	id     string
	dir    string
	cfg    config.Config
	logger *log.Logger

	rig     *scene.Rig
	channel *ws.Channel
	opts    *protocol.TimeOptions
	runner  *env.Runner
	loop    *bridge.Loop
	rt      *host.Runtime
	sinks   *sinks
	httpSrv *http.Server
}

func (s *session) run(ctx context.Context) (int, error) {
	settings := host.DefaultSettings()
	if s.cfg.Simulated {
		ch, err := ws.Open(ctx, ws.Options{
			Host:             s.cfg.Host,
			Port:             s.cfg.Port,
			StepTimeout:      s.cfg.StepTimeout,
			HandshakeTimeout: s.cfg.HandshakeTimeout,
		}, log.New(os.Stdout, "[bridge] ", log.LstdFlags|log.Lmicroseconds))
		if err != nil {
			return exitCodeFor(err), err
		}
		s.channel = ch
		opts, err := ch.WaitForHandshake()
		if err != nil {
			if ctx.Err() != nil {
				return exitOK, ctx.Err()
			}
			return exitCodeFor(err), err
		}
		s.opts = &opts
		settings = host.SettingsFrom(opts)
	} else if !s.cfg.Realtime {
		// nothing paces an unbridged host otherwise
		s.cfg.Realtime = true
	}

	clock := host.NewClock(settings.FixedDelta)
	game, err := env.New(s.cfg.Game, env.Deps{Rig: s.rig, Clock: clock}, s.cfg.Games)
	if err != nil {
		return exitStartup, err
	}
	s.runner = env.NewRunner(game)
	if err := s.runner.Initialise(); err != nil {
		return exitStartup, err
	}

	var stepper host.Stepper
	if s.channel != nil {
		capturer, err := render.NewSoftware(s.cfg.Capture, s.rig, game)
		if err != nil {
			return exitStartup, err
		}
		s.sinks, err = openSinks(s.dir, s.cfg.DisableDB, s.logger)
		if err != nil {
			return exitStartup, err
		}
		s.sinks.startSession(s.id, s.cfg.Game, s.cfg.Port, *s.opts)
		s.loop, err = bridge.NewLoop(bridge.LoopConfig{
			SessionID: s.id,
			Channel:   s.channel,
			Runner:    s.runner,
			Rig:       s.rig,
			Capturer:  capturer,
			Override:  s.cfg.HeadsetOverride(),
			Sink:      s.sinks,
			Logger:    s.logger,
		})
		if err != nil {
			return exitStartup, err
		}
		stepper = s.loop
	}

	s.rt, err = host.NewRuntime(host.Config{
		Settings: settings,
		Clock:    clock,
		Runner:   s.runner,
		Bridge:   stepper,
		Realtime: s.cfg.Realtime,
		Logger:   s.logger,
	})
	if err != nil {
		return exitStartup, err
	}

	if s.cfg.MetricsAddr != "" {
		s.httpSrv = startMetricsServer(s.cfg.MetricsAddr, s.metricsSource(), s.logger)
	}

	err = s.rt.Run(ctx)
	if ctx.Err() != nil {
		// an interrupt closes the channel under a blocked receive
		return exitOK, ctx.Err()
	}
	return exitCodeFor(err), err
}

func (s *session) finish(code int, runErr error) {
	var steps uint64
	if s.loop != nil {
		steps = s.loop.Steps()
	}
	if s.sinks != nil {
		s.sinks.endSession(s.id, code, steps)
	}
	if s.dir != "" && (s.cfg.Interactive || code != exitOK) {
		path, err := writeHaltSnapshot(s, code, runErr)
		if err != nil {
			s.logger.Printf("halt snapshot: %v", err)
		} else {
			s.logger.Printf("halt snapshot written to %s", path)
		}
	}
}

func (s *session) close() {
	if s.httpSrv != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		_ = s.httpSrv.Shutdown(ctx)
		cancel()
	}
	if s.channel != nil {
		_ = s.channel.Close()
	}
	if s.sinks != nil {
		if err := s.sinks.Close(); err != nil {
			s.logger.Printf("close recorders: %v", err)
		}
	}
}

func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	ch := make(chan os.Signal, 2)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-ch
		cancel()
	}()
	return ctx, cancel
}

func isStop(err error) bool {
	return errors.Is(err, host.ErrQuit) || errors.Is(err, context.Canceled)
}
