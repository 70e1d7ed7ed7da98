package indexdb

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// Session loads one session row.
func (s *SQLiteIndex) Session(ctx context.Context, id string) (SessionRow, error) {
	row := s.db.QueryRowContext(ctx, `SELECT session_id,started_at,game,port,time_scale,sample_frequency,timestep,fixed_delta_time,effective_delta,target_frame_rate,ended_at,exit_code,steps FROM sessions WHERE session_id=?`, id)
	return scanSession(row)
}

// Sessions lists sessions, newest first.
func (s *SQLiteIndex) Sessions(ctx context.Context, limit int) ([]SessionRow, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `SELECT session_id,started_at,game,port,time_scale,sample_frequency,timestep,fixed_delta_time,effective_delta,target_frame_rate,ended_at,exit_code,steps FROM sessions ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []SessionRow
	for rows.Next() {
		se, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, se)
	}
	return out, rows.Err()
}

func (s *SQLiteIndex) Episodes(ctx context.Context, sessionID string) ([]EpisodeRow, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT session_id,episode,first_step,last_step,steps,reward_total,finished FROM episodes WHERE session_id=? ORDER BY episode`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []EpisodeRow
	for rows.Next() {
		var (
			e        EpisodeRow
			finished int
		)
		if err := rows.Scan(&e.SessionID, &e.Episode, &e.FirstStep, &e.LastStep, &e.Steps, &e.RewardTotal, &finished); err != nil {
			return nil, err
		}
		e.Finished = finished != 0
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *SQLiteIndex) StepCount(ctx context.Context, sessionID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM steps WHERE session_id=?`, sessionID).Scan(&n)
	return n, err
}

type scanner interface {
	Scan(dest ...any) error
}

func scanSession(sc scanner) (SessionRow, error) {
	var (
		se       SessionRow
		started  string
		fdt      sql.NullFloat64
		ended    sql.NullString
		exitCode sql.NullInt64
	)
	if err := sc.Scan(&se.ID, &started, &se.Game, &se.Port, &se.TimeScale, &se.SampleFrequency,
		&se.Timestep, &fdt, &se.EffectiveDelta, &se.TargetFrameRate, &ended, &exitCode, &se.Steps); err != nil {
		return SessionRow{}, err
	}
	t, err := time.Parse(time.RFC3339Nano, started)
	if err != nil {
		return SessionRow{}, fmt.Errorf("session %s: started_at: %w", se.ID, err)
	}
	se.StartedAt = t
	if fdt.Valid {
		v := fdt.Float64
		se.FixedDeltaTime = &v
	}
	if ended.Valid {
		if t, err := time.Parse(time.RFC3339Nano, ended.String); err == nil {
			se.EndedAt = &t
		}
	}
	if exitCode.Valid {
		c := int(exitCode.Int64)
		se.ExitCode = &c
	}
	return se, nil
}
