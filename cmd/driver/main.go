package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"simuser.ai/internal/protocol"
	"simuser.ai/internal/transport/ws"
)

func main() {
	var (
		url        = flag.String("url", "ws://127.0.0.1:5555"+protocol.Path, "host ws url")
		timeScale  = flag.Int("time_scale", 1, "time scale")
		sampleFreq = flag.Int("sample_frequency", 20, "policy queries per simulated second")
		timestep   = flag.Float64("timestep", 0.05, "simulated seconds per step")
		fixedDelta = flag.Float64("fixed_delta_time", 0, "fixed-step length override (0: use timestep)")
		steps      = flag.Int("steps", 200, "steps before quitting the host (0: run until interrupted)")
		episode    = flag.Int("episode_steps", 100, "steps before forcing a reset (0: only on is_finished)")
		timeout    = flag.Duration("timeout", 30*time.Second, "reply timeout")
		framesDir  = flag.String("frames_dir", "", "write every Nth observation frame here as png (optional)")
		frameEvery = flag.Int("frame_every", 20, "frame sampling interval for -frames_dir")
	)
	flag.Parse()

	logger := log.New(os.Stdout, "[driver] ", log.LstdFlags|log.Lmicroseconds)

	opts := protocol.TimeOptions{
		TimeScale:       *timeScale,
		SampleFrequency: *sampleFreq,
		Timestep:        *timestep,
	}
	if *fixedDelta > 0 {
		opts.FixedDeltaTime = fixedDelta
	}
	if err := opts.Validate(); err != nil {
		logger.Fatalf("time options: %v", err)
	}
	if *framesDir != "" {
		if err := os.MkdirAll(*framesDir, 0o755); err != nil {
			logger.Fatalf("frames dir: %v", err)
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	c, err := ws.Dial(ctx, *url, *timeout)
	if err != nil {
		logger.Fatalf("dial: %v", err)
	}
	defer c.Close()

	ack, err := c.Handshake(opts)
	if err != nil {
		logger.Fatalf("handshake: %v", err)
	}
	logger.Printf("HANDSHAKE_ACK effective_delta=%g target_frame_rate=%d", ack.EffectiveDelta, ack.TargetFrameRate)

	sc := script{timestep: opts.Timestep, episodeSteps: *episode}
	var total float64
	for i := 0; *steps == 0 || i < *steps; i++ {
		if ctx.Err() != nil {
			break
		}
		st := sc.next()
		st.QuitApplication = *steps > 0 && i == *steps-1

		obs, err := c.Step(st)
		if err != nil {
			if ws.IsClosed(err) {
				logger.Printf("host closed the channel at step %d", i)
				return
			}
			logger.Fatalf("step %d: %v", i, err)
		}
		total += float64(obs.Reward)
		sc.observe(obs)

		if *framesDir != "" && *frameEvery > 0 && i%*frameEvery == 0 {
			name := filepath.Join(*framesDir, fmt.Sprintf("frame-%06d.png", i))
			if err := os.WriteFile(name, obs.Frame, 0o644); err != nil {
				logger.Printf("write frame: %v", err)
			}
		}
		if i%50 == 0 || obs.IsFinished {
			logger.Printf("step=%d t=%.3f reward=%.4f finished=%v tf=%.3f log=%v",
				i, st.NextTimestep, obs.Reward, obs.IsFinished, obs.TimeFeature, obs.LogDict)
		}
	}
	logger.Printf("done: steps=%d episodes=%d reward_total=%.4f", sc.steps, sc.episodes+1, total)
}
