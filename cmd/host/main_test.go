package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"simuser.ai/internal/bridge"
	"simuser.ai/internal/config"
	"simuser.ai/internal/env"
	"simuser.ai/internal/host"
	"simuser.ai/internal/persistence/indexdb"
	"simuser.ai/internal/persistence/snapshot"
	"simuser.ai/internal/protocol"
	"simuser.ai/internal/scene"
)

func TestExitCodeFor(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{nil, exitOK},
		{host.ErrQuit, exitOK},
		{fmt.Errorf("run: %w", context.Canceled), exitOK},
		{errors.New("bad config"), exitStartup},
		{protocol.Errorf(protocol.ErrCodeConnection, "listen", "in use"), exitConnection},
		{protocol.Errorf(protocol.ErrCodeHandshakeTimeout, "handshake", "late"), exitHandshakeTimeout},
		{fmt.Errorf("step 3: %w", protocol.Errorf(protocol.ErrCodeStepTimeout, "receive", "late")), exitStepTimeout},
		{protocol.Errorf(protocol.ErrCodeProtocol, "decode", "junk"), exitProtocol},
		{protocol.Errorf(protocol.ErrCodeCapture, "capture", "empty"), exitCapture},
		{protocol.Errorf(protocol.ErrCodeSend, "send", "pipe"), exitSend},
	}
	for _, c := range cases {
		if got := exitCodeFor(c.err); got != c.want {
			t.Fatalf("exitCodeFor(%v) = %d, want %d", c.err, got, c.want)
		}
	}
}

func TestMetricsEndpoint(t *testing.T) {
	src := metricsSource{
		session: "s1",
		game:    "reach",
		frames:  func() uint64 { return 12 },
		bridge: func() (bridge.MetricsSnapshot, bool) {
			return bridge.MetricsSnapshot{Advanced: 4, Skipped: 8, Episodes: 1, StepMS: 2.5}, true
		},
		index: func() indexdb.Stats { return indexdb.Stats{QueueCapacity: 10, DropStepTotal: 2} },
	}
	srv := httptest.NewServer(metricsMux(src))
	defer srv.Close()

	resp, err := srv.Client().Get(srv.URL + "/metrics")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	b, _ := io.ReadAll(resp.Body)
	body := string(b)
	for _, want := range []string{
		`simuser_host_frames_total{session="s1",game="reach"} 12`,
		`simuser_bridge_steps_total{session="s1",decision="advance"} 4`,
		`simuser_bridge_steps_total{session="s1",decision="skip"} 8`,
		`simuser_bridge_step_ms{session="s1"} 2.500`,
		`simuser_index_dropped_total{kind="step"} 2`,
	} {
		if !strings.Contains(body, want) {
			t.Fatalf("missing %q in:\n%s", want, body)
		}
	}

	resp, err = srv.Client().Get(srv.URL + "/healthz")
	if err != nil || resp.StatusCode != 200 {
		t.Fatalf("healthz: %v %v", resp, err)
	}
	resp.Body.Close()
}

func TestHaltSnapshot(t *testing.T) {
	cfg := config.Defaults()
	s := &session{
		id:     "s1",
		dir:    t.TempDir(),
		cfg:    cfg,
		logger: log.New(io.Discard, "", 0),
		rig:    scene.NewRig(),
	}
	clock := host.NewClock(0.1)
	game, err := env.New("reach", env.Deps{Rig: s.rig, Clock: clock}, cfg.Games)
	if err != nil {
		t.Fatalf("game: %v", err)
	}
	s.runner = env.NewRunner(game)
	if err := s.runner.Initialise(); err != nil {
		t.Fatalf("initialise: %v", err)
	}

	path, err := writeHaltSnapshot(s, exitStepTimeout, protocol.Errorf(protocol.ErrCodeStepTimeout, "receive", "late"))
	if err != nil {
		t.Fatalf("write: %v", err)
	}
	if filepath.Dir(filepath.Dir(path)) != s.dir {
		t.Fatalf("path: %s", path)
	}
	snap, err := snapshot.ReadSnapshot(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if snap.Header.Reason != "error" || snap.ExitCode != exitStepTimeout || !strings.Contains(snap.Error, "E_STEP_TIMEOUT") {
		t.Fatalf("snapshot: %+v", snap)
	}
	if snap.Phase != "initialised" || snap.Game != "reach" {
		t.Fatalf("game state: %+v", snap)
	}
}

func TestHaltReason(t *testing.T) {
	if r := haltReason(exitOK, host.ErrQuit); r != "quit" {
		t.Fatalf("quit: %s", r)
	}
	if r := haltReason(exitOK, context.Canceled); r != "interrupted" {
		t.Fatalf("interrupt: %s", r)
	}
	if r := haltReason(exitSend, errors.New("x")); r != "error" {
		t.Fatalf("error: %s", r)
	}
}

func TestSinksReportIndexErrors(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "sessions", "s1")
	s, err := openSinks(dir, false, log.New(io.Discard, "", 0))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer s.Close()

	if err := s.RecordStep(bridge.StepRecord{SessionID: "s1"}); err != nil {
		t.Fatalf("record: %v", err)
	}
	if err := s.index.Close(); err != nil {
		t.Fatalf("close index: %v", err)
	}
	err = s.RecordStep(bridge.StepRecord{SessionID: "s1", Step: 1})
	if !errors.Is(err, indexdb.ErrClosed) {
		t.Fatalf("record after index close: got %v want ErrClosed", err)
	}
}
