package indexdb

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"

	"simuser.ai/internal/bridge"
	"simuser.ai/internal/protocol"
)

// SQLiteIndex is a queryable read model of sessions, episodes and steps.
// Writes are queued to a single writer goroutine and dropped when the queue
// is full; the step log remains the source of truth.
type SQLiteIndex struct {
	db *sql.DB

	ch   chan req
	wg   sync.WaitGroup
	once sync.Once

	closed atomic.Bool

	dropStep    atomic.Uint64
	dropSession atomic.Uint64

	// writeErr is the first writer failure not yet reported to a caller.
	errMu       sync.Mutex
	writeErr    error
	writeErrors atomic.Uint64
}

// ErrClosed is returned when records arrive after Close.
var ErrClosed = errors.New("indexdb: closed")

type reqKind int

const (
	reqSessionStart reqKind = iota + 1
	reqSessionEnd
	reqStep
	reqSync
)

type req struct {
	kind reqKind

	session SessionRow
	step    bridge.StepRecord
	done    chan struct{}
}

// SessionRow describes one host run.
type SessionRow struct {
	ID              string
	StartedAt       time.Time
	Game            string
	Port            int
	TimeScale       int
	SampleFrequency int
	Timestep        float64
	FixedDeltaTime  *float64
	EffectiveDelta  float64
	TargetFrameRate int

	// Set when the session ends.
	EndedAt  *time.Time
	ExitCode *int
	Steps    uint64
}

// NewSessionRow fills the timing columns from the negotiated options.
func NewSessionRow(id, game string, port int, opts protocol.TimeOptions) SessionRow {
	return SessionRow{
		ID:              id,
		StartedAt:       time.Now().UTC(),
		Game:            game,
		Port:            port,
		TimeScale:       opts.TimeScale,
		SampleFrequency: opts.SampleFrequency,
		Timestep:        opts.Timestep,
		FixedDeltaTime:  opts.FixedDeltaTime,
		EffectiveDelta:  opts.EffectiveDelta(),
		TargetFrameRate: opts.TargetFrameRate(),
	}
}

type EpisodeRow struct {
	SessionID   string
	Episode     int
	FirstStep   uint64
	LastStep    uint64
	Steps       int
	RewardTotal float64
	Finished    bool
}

type Stats struct {
	QueueDepth       int
	QueueCapacity    int
	DropStepTotal    uint64
	DropSessionTotal uint64
	WriteErrorsTotal uint64
}

func OpenSQLite(path string) (*SQLiteIndex, error) {
	return openSQLite(path, 65536)
}

func openSQLite(path string, queue int) (*SQLiteIndex, error) {
	if path == "" {
		return nil, fmt.Errorf("empty db path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := initPragmas(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	s := &SQLiteIndex{
		db: db,
		ch: make(chan req, queue),
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.loop()
	}()
	return s, nil
}

func initPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA foreign_keys=ON;",
		"PRAGMA busy_timeout=5000;",
		"PRAGMA temp_store=MEMORY;",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return err
		}
	}
	return nil
}

func initSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS meta (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		);`,
		`INSERT OR REPLACE INTO meta(key,value) VALUES('schema_version','1');`,
		`CREATE TABLE IF NOT EXISTS sessions (
			session_id TEXT PRIMARY KEY,
			started_at TEXT NOT NULL,
			game TEXT NOT NULL,
			port INTEGER NOT NULL,
			time_scale INTEGER NOT NULL,
			sample_frequency INTEGER NOT NULL,
			timestep REAL NOT NULL,
			fixed_delta_time REAL,
			effective_delta REAL NOT NULL,
			target_frame_rate INTEGER NOT NULL,
			ended_at TEXT,
			exit_code INTEGER,
			steps INTEGER NOT NULL DEFAULT 0
		);`,
		`CREATE TABLE IF NOT EXISTS episodes (
			session_id TEXT NOT NULL,
			episode INTEGER NOT NULL,
			first_step INTEGER NOT NULL,
			last_step INTEGER NOT NULL,
			steps INTEGER NOT NULL,
			reward_total REAL NOT NULL,
			finished INTEGER NOT NULL,
			PRIMARY KEY (session_id, episode)
		);`,
		`CREATE TABLE IF NOT EXISTS steps (
			session_id TEXT NOT NULL,
			step INTEGER NOT NULL,
			episode INTEGER NOT NULL,
			host_clock REAL NOT NULL,
			next_timestep REAL NOT NULL,
			reset INTEGER NOT NULL,
			quit INTEGER NOT NULL,
			finished INTEGER NOT NULL,
			reward REAL NOT NULL,
			time_feature REAL NOT NULL,
			frame_bytes INTEGER NOT NULL,
			frame_digest TEXT NOT NULL,
			step_ms REAL NOT NULL,
			log_json TEXT NOT NULL,
			PRIMARY KEY (session_id, step)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_steps_episode ON steps(session_id, episode, step);`,
	}
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLiteIndex) Close() error {
	var err error
	s.once.Do(func() {
		s.closed.Store(true)
		close(s.ch)
		s.wg.Wait()
		err = s.db.Close()
	})
	return err
}

func (s *SQLiteIndex) Stats() Stats {
	if s == nil {
		return Stats{}
	}
	return Stats{
		QueueDepth:       len(s.ch),
		QueueCapacity:    cap(s.ch),
		DropStepTotal:    s.dropStep.Load(),
		DropSessionTotal: s.dropSession.Load(),
		WriteErrorsTotal: s.writeErrors.Load(),
	}
}

func (s *SQLiteIndex) StartSession(row SessionRow) {
	if s.dropped(req{kind: reqSessionStart, session: row}) {
		s.dropSession.Add(1)
	}
}

func (s *SQLiteIndex) EndSession(id string, exitCode int, steps uint64) {
	now := time.Now().UTC()
	if s.dropped(req{kind: reqSessionEnd, session: SessionRow{ID: id, EndedAt: &now, ExitCode: &exitCode, Steps: steps}}) {
		s.dropSession.Add(1)
	}
}

// RecordStep implements bridge.StepSink. It never blocks. A full queue drops
// the record and only counts it; a closed index or a failed background write
// is returned.
func (s *SQLiteIndex) RecordStep(rec bridge.StepRecord) error {
	if s == nil {
		return nil
	}
	if s.closed.Load() {
		return ErrClosed
	}
	if s.dropped(req{kind: reqStep, step: rec}) {
		s.dropStep.Add(1)
	}
	return s.takeErr()
}

func (s *SQLiteIndex) fail(err error) {
	s.writeErrors.Add(1)
	s.errMu.Lock()
	if s.writeErr == nil {
		s.writeErr = err
	}
	s.errMu.Unlock()
}

func (s *SQLiteIndex) takeErr() error {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	err := s.writeErr
	s.writeErr = nil
	return err
}

// dropped queues r and reports whether the queue was full.
func (s *SQLiteIndex) dropped(r req) bool {
	if s == nil || s.closed.Load() {
		return false
	}
	select {
	case s.ch <- r:
		return false
	default:
		return true
	}
}

// Sync waits until everything queued so far is committed.
func (s *SQLiteIndex) Sync(ctx context.Context) error {
	if s == nil || s.closed.Load() {
		return ErrClosed
	}
	done := make(chan struct{})
	select {
	case s.ch <- req{kind: reqSync, done: done}:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func (s *SQLiteIndex) loop() {
	ctx := context.Background()

	prepare := func(q string) *sql.Stmt {
		st, err := s.db.Prepare(q)
		if err != nil {
			s.fail(fmt.Errorf("indexdb: prepare: %w", err))
		}
		return st
	}
	insertSession := prepare(`INSERT OR REPLACE INTO sessions(session_id,started_at,game,port,time_scale,sample_frequency,timestep,fixed_delta_time,effective_delta,target_frame_rate) VALUES(?,?,?,?,?,?,?,?,?,?)`)
	endSession := prepare(`UPDATE sessions SET ended_at=?, exit_code=?, steps=? WHERE session_id=?`)
	insertStep := prepare(`INSERT OR REPLACE INTO steps(session_id,step,episode,host_clock,next_timestep,reset,quit,finished,reward,time_feature,frame_bytes,frame_digest,step_ms,log_json) VALUES(?,?,?,?,?,?,?,?,?,?,?,?,?,?)`)
	upsertEpisode := prepare(`INSERT INTO episodes(session_id,episode,first_step,last_step,steps,reward_total,finished) VALUES(?,?,?,?,1,?,?)
		ON CONFLICT(session_id,episode) DO UPDATE SET
			last_step=excluded.last_step,
			steps=episodes.steps+1,
			reward_total=episodes.reward_total+excluded.reward_total,
			finished=MAX(episodes.finished, excluded.finished)`)
	defer func() {
		for _, st := range []*sql.Stmt{insertSession, endSession, insertStep, upsertEpisode} {
			if st != nil {
				_ = st.Close()
			}
		}
	}()

	var (
		tx            *sql.Tx
		opCount       int
		lastCommit    = time.Now()
		commitEvery   = 500
		commitMaxWait = time.Second
	)

	begin := func() {
		if tx != nil {
			return
		}
		txx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			s.fail(fmt.Errorf("indexdb: begin: %w", err))
			time.Sleep(50 * time.Millisecond)
			return
		}
		tx = txx
		opCount = 0
		lastCommit = time.Now()
	}
	commit := func() {
		if tx == nil {
			return
		}
		if err := tx.Commit(); err != nil {
			s.fail(fmt.Errorf("indexdb: commit: %w", err))
		}
		tx = nil
		opCount = 0
		lastCommit = time.Now()
	}
	rollback := func() {
		if tx == nil {
			return
		}
		_ = tx.Rollback()
		tx = nil
		opCount = 0
		lastCommit = time.Now()
	}
	exec := func(st *sql.Stmt, args ...any) bool {
		if st == nil || tx == nil {
			return false
		}
		if _, err := tx.Stmt(st).Exec(args...); err != nil {
			s.fail(fmt.Errorf("indexdb: write: %w", err))
			rollback()
			return false
		}
		opCount++
		return true
	}

	for r := range s.ch {
		if r.kind == reqSync {
			commit()
			close(r.done)
			continue
		}
		begin()
		if tx == nil {
			continue
		}
		switch r.kind {
		case reqSessionStart:
			se := r.session
			var fdt any
			if se.FixedDeltaTime != nil {
				fdt = *se.FixedDeltaTime
			}
			exec(insertSession,
				se.ID,
				se.StartedAt.Format(time.RFC3339Nano),
				se.Game,
				se.Port,
				se.TimeScale,
				se.SampleFrequency,
				se.Timestep,
				fdt,
				se.EffectiveDelta,
				se.TargetFrameRate,
			)

		case reqSessionEnd:
			se := r.session
			exec(endSession, se.EndedAt.Format(time.RFC3339Nano), *se.ExitCode, int64(se.Steps), se.ID)

		case reqStep:
			st := r.step
			logJSON, err := json.Marshal(st.LogDict)
			if err != nil {
				logJSON = []byte("{}")
			}
			if !exec(insertStep,
				st.SessionID,
				int64(st.Step),
				st.Episode,
				st.HostClock,
				st.NextTimestep,
				boolInt(st.Reset),
				boolInt(st.Quit),
				boolInt(st.Finished),
				st.Reward,
				st.TimeFeature,
				st.FrameBytes,
				st.FrameDigest,
				st.StepMS,
				string(logJSON),
			) {
				continue
			}
			exec(upsertEpisode,
				st.SessionID,
				st.Episode,
				int64(st.Step),
				int64(st.Step),
				st.Reward,
				boolInt(st.Finished),
			)
		}
		if tx != nil && (opCount >= commitEvery || time.Since(lastCommit) >= commitMaxWait) {
			commit()
		}
	}

	commit()
}
