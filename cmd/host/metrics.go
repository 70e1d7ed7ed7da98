package main

import (
	"errors"
	"fmt"
	"log"
	"net/http"
	"time"

	"simuser.ai/internal/bridge"
	"simuser.ai/internal/persistence/indexdb"
)

// metricsSource is read from the HTTP goroutine; every func must be safe for
// concurrent use.
type metricsSource struct {
	session string
	game    string
	frames  func() uint64
	bridge  func() (bridge.MetricsSnapshot, bool)
	index   func() indexdb.Stats
}

func (s *session) metricsSource() metricsSource {
	src := metricsSource{
		session: s.id,
		game:    s.cfg.Game,
		frames:  s.rt.Frames,
		bridge:  func() (bridge.MetricsSnapshot, bool) { return bridge.MetricsSnapshot{}, false },
		index:   func() indexdb.Stats { return indexdb.Stats{} },
	}
	if loop := s.loop; loop != nil {
		src.bridge = func() (bridge.MetricsSnapshot, bool) { return loop.Metrics(), true }
	}
	if sk := s.sinks; sk != nil {
		src.index = sk.stats
	}
	return src
}

func metricsMux(src metricsSource) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(rw http.ResponseWriter, r *http.Request) {
		rw.WriteHeader(200)
		_, _ = rw.Write([]byte("ok"))
	})
	mux.HandleFunc("/metrics", func(rw http.ResponseWriter, r *http.Request) {
		rw.Header().Set("Content-Type", "text/plain; version=0.0.4")

		// Minimal Prometheus exposition format.
		fmt.Fprintf(rw, "# HELP simuser_host_frames_total Host frames ticked.\n")
		fmt.Fprintf(rw, "# TYPE simuser_host_frames_total counter\n")
		fmt.Fprintf(rw, "simuser_host_frames_total{session=%q,game=%q} %d\n", src.session, src.game, src.frames())

		if m, ok := src.bridge(); ok {
			fmt.Fprintf(rw, "# HELP simuser_bridge_steps_total Ticks by gate decision.\n")
			fmt.Fprintf(rw, "# TYPE simuser_bridge_steps_total counter\n")
			fmt.Fprintf(rw, "simuser_bridge_steps_total{session=%q,decision=%q} %d\n", src.session, "advance", m.Advanced)
			fmt.Fprintf(rw, "simuser_bridge_steps_total{session=%q,decision=%q} %d\n", src.session, "skip", m.Skipped)

			fmt.Fprintf(rw, "# HELP simuser_bridge_episodes_total Episodes started by driver resets.\n")
			fmt.Fprintf(rw, "# TYPE simuser_bridge_episodes_total counter\n")
			fmt.Fprintf(rw, "simuser_bridge_episodes_total{session=%q} %d\n", src.session, m.Episodes)

			fmt.Fprintf(rw, "# HELP simuser_bridge_step_ms Last exchange duration in milliseconds.\n")
			fmt.Fprintf(rw, "# TYPE simuser_bridge_step_ms gauge\n")
			fmt.Fprintf(rw, "simuser_bridge_step_ms{session=%q} %.3f\n", src.session, m.StepMS)

			fmt.Fprintf(rw, "# HELP simuser_bridge_host_clock_seconds Fixed-step clock at the last tick.\n")
			fmt.Fprintf(rw, "# TYPE simuser_bridge_host_clock_seconds gauge\n")
			fmt.Fprintf(rw, "simuser_bridge_host_clock_seconds{session=%q} %.6f\n", src.session, m.HostClock)
		}

		st := src.index()
		if st.QueueCapacity > 0 {
			fmt.Fprintf(rw, "# HELP simuser_index_queue_depth Index writer backlog.\n")
			fmt.Fprintf(rw, "# TYPE simuser_index_queue_depth gauge\n")
			fmt.Fprintf(rw, "simuser_index_queue_depth %d\n", st.QueueDepth)

			fmt.Fprintf(rw, "# HELP simuser_index_dropped_total Index writes dropped on a full queue.\n")
			fmt.Fprintf(rw, "# TYPE simuser_index_dropped_total counter\n")
			fmt.Fprintf(rw, "simuser_index_dropped_total{kind=%q} %d\n", "step", st.DropStepTotal)
			fmt.Fprintf(rw, "simuser_index_dropped_total{kind=%q} %d\n", "session", st.DropSessionTotal)

			fmt.Fprintf(rw, "# HELP simuser_index_write_errors_total Failed index writes.\n")
			fmt.Fprintf(rw, "# TYPE simuser_index_write_errors_total counter\n")
			fmt.Fprintf(rw, "simuser_index_write_errors_total %d\n", st.WriteErrorsTotal)
		}
	})
	return mux
}

func startMetricsServer(addr string, src metricsSource, logger *log.Logger) *http.Server {
	srv := &http.Server{
		Addr:              addr,
		Handler:           metricsMux(src),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		logger.Printf("metrics listening on %s", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Printf("metrics: %v", err)
		}
	}()
	return srv
}
