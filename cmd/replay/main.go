package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"simuser.ai/internal/bridge"
	"simuser.ai/internal/persistence/indexdb"
	steplog "simuser.ai/internal/persistence/log"
	"simuser.ai/internal/persistence/snapshot"
)

func main() {
	var (
		sessionDir = flag.String("session", "", "session dir containing steps/steps-*.jsonl.zst")
		snapPath   = flag.String("snapshot", "", "halt snapshot (default: <session>/snapshots/<id>.halt.zst if present)")
		dbPath     = flag.String("db", "", "sqlite index to list sessions from (optional)")
		limit      = flag.Int("limit", 20, "sessions to list with -db")
		episodes   = flag.Bool("episodes", false, "print per-episode totals")
	)
	flag.Parse()

	if *sessionDir == "" && *dbPath == "" {
		fmt.Fprintln(os.Stderr, "missing -session or -db")
		os.Exit(2)
	}

	if *dbPath != "" {
		if err := listSessions(*dbPath, *limit); err != nil {
			fmt.Fprintln(os.Stderr, "index:", err)
			os.Exit(1)
		}
	}
	if *sessionDir == "" {
		return
	}

	files, err := steplog.ListFiles(filepath.Join(*sessionDir, "steps"), "steps")
	if err != nil {
		fmt.Fprintln(os.Stderr, "list steps:", err)
		os.Exit(1)
	}
	if len(files) == 0 {
		fmt.Fprintln(os.Stderr, "no step files found in", *sessionDir)
		os.Exit(1)
	}

	v := newVerifier()
	for _, path := range files {
		if err := steplog.ReadSteps(path, v.add); err != nil {
			fmt.Fprintln(os.Stderr, "verify:", err)
			os.Exit(1)
		}
	}
	fmt.Printf("steps ok: session=%s steps=%d episodes=%d reward_total=%.4f host_clock=%.4f\n",
		v.session, v.steps, len(v.episodes), v.rewardTotal(), v.last.HostClock)
	if *episodes {
		for _, e := range v.episodes {
			fmt.Printf("  episode=%d steps=%d first=%d last=%d reward=%.4f finished=%v\n",
				e.episode, e.steps, e.first, e.last, e.reward, e.finished)
		}
	}

	path := *snapPath
	if path == "" && v.session != "" {
		path = snapshot.PathFor(*sessionDir, v.session)
		if _, err := os.Stat(path); err != nil {
			return
		}
	}
	if path == "" {
		return
	}
	snap, err := snapshot.ReadSnapshot(path)
	if err != nil {
		fmt.Fprintln(os.Stderr, "read snapshot:", err)
		os.Exit(1)
	}
	fmt.Printf("snapshot v%d session=%s step=%d reason=%s exit=%d game=%s episode=%d phase=%s host_clock=%.4f\n",
		snap.Header.Version, snap.Header.SessionID, snap.Header.Step, snap.Header.Reason, snap.ExitCode,
		snap.Game, snap.Episode, snap.Phase, snap.HostClock)
	if snap.Error != "" {
		fmt.Printf("  error: %s\n", snap.Error)
	}
	if snap.Header.SessionID == v.session && snap.Header.Step != v.steps {
		fmt.Fprintf(os.Stderr, "snapshot step %d does not match %d logged steps\n", snap.Header.Step, v.steps)
		os.Exit(1)
	}
}

func listSessions(path string, limit int) error {
	idx, err := indexdb.OpenSQLite(path)
	if err != nil {
		return err
	}
	defer idx.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	rows, err := idx.Sessions(ctx, limit)
	if err != nil {
		return err
	}
	for _, r := range rows {
		exit := "running"
		if r.ExitCode != nil {
			exit = fmt.Sprintf("exit=%d", *r.ExitCode)
		}
		fmt.Printf("%s %s game=%s port=%d delta=%g steps=%d %s\n",
			r.StartedAt.Format(time.RFC3339), r.ID, r.Game, r.Port, r.EffectiveDelta, r.Steps, exit)
	}
	return nil
}

type episodeTotals struct {
	episode     int
	first, last uint64
	steps       int
	reward      float64
	finished    bool
}

// verifier checks that a step log is one contiguous session: steps count up
// from zero, next_timestep and host_clock never go backwards, and episodes
// only advance on a reset.
type verifier struct {
	session  string
	steps    uint64
	last     bridge.StepRecord
	episodes []*episodeTotals
}

func newVerifier() *verifier { return &verifier{} }

func (v *verifier) add(rec bridge.StepRecord) error {
	if v.steps == 0 {
		v.session = rec.SessionID
	} else {
		if rec.SessionID != v.session {
			return fmt.Errorf("step %d: session %s in log of %s", rec.Step, rec.SessionID, v.session)
		}
		if rec.NextTimestep < v.last.NextTimestep {
			return fmt.Errorf("step %d: next_timestep went backwards (%v after %v)", rec.Step, rec.NextTimestep, v.last.NextTimestep)
		}
		if rec.HostClock < v.last.HostClock {
			return fmt.Errorf("step %d: host_clock went backwards (%v after %v)", rec.Step, rec.HostClock, v.last.HostClock)
		}
		if v.last.Quit {
			return fmt.Errorf("step %d: recorded after quit", rec.Step)
		}
	}
	if rec.Step != v.steps {
		return fmt.Errorf("step gap: want=%d got=%d", v.steps, rec.Step)
	}
	if rec.Finished != (rec.LocalFinished || rec.RemoteFinished) {
		return fmt.Errorf("step %d: finished=%v but local=%v remote=%v", rec.Step, rec.Finished, rec.LocalFinished, rec.RemoteFinished)
	}

	cur := v.current()
	switch {
	case cur == nil || rec.Episode != cur.episode:
		if cur != nil && (!rec.Reset || rec.Episode != cur.episode+1) {
			return fmt.Errorf("step %d: episode %d follows %d without a reset", rec.Step, rec.Episode, cur.episode)
		}
		cur = &episodeTotals{episode: rec.Episode, first: rec.Step}
		v.episodes = append(v.episodes, cur)
	case rec.Reset:
		return fmt.Errorf("step %d: reset without a new episode", rec.Step)
	}
	cur.last = rec.Step
	cur.steps++
	cur.reward += rec.Reward
	cur.finished = cur.finished || rec.Finished

	v.last = rec
	v.steps++
	return nil
}

func (v *verifier) current() *episodeTotals {
	if len(v.episodes) == 0 {
		return nil
	}
	return v.episodes[len(v.episodes)-1]
}

func (v *verifier) rewardTotal() float64 {
	var total float64
	for _, e := range v.episodes {
		total += e.reward
	}
	return total
}
