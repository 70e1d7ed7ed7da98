package main

import (
	"errors"
	"log"
	"path/filepath"

	"simuser.ai/internal/bridge"
	"simuser.ai/internal/persistence/indexdb"
	steplog "simuser.ai/internal/persistence/log"
	"simuser.ai/internal/protocol"
)

// sinks fans step records out to the step log and the index.
type sinks struct {
	log   *steplog.StepLogger
	index *indexdb.SQLiteIndex
}

func openSinks(sessionDir string, disableDB bool, logger *log.Logger) (*sinks, error) {
	s := &sinks{}
	if sessionDir == "" {
		return s, nil
	}
	s.log = steplog.NewStepLogger(sessionDir)
	if disableDB {
		return s, nil
	}
	// one index per record dir, shared by its sessions
	dbPath := filepath.Join(filepath.Dir(filepath.Dir(sessionDir)), "index", "sessions.sqlite")
	idx, err := indexdb.OpenSQLite(dbPath)
	if err != nil {
		_ = s.log.Close()
		return nil, err
	}
	logger.Printf("index: %s", dbPath)
	s.index = idx
	return s, nil
}

func (s *sinks) RecordStep(rec bridge.StepRecord) error {
	var errs []error
	if s.log != nil {
		if err := s.log.RecordStep(rec); err != nil {
			errs = append(errs, err)
		}
	}
	if s.index != nil {
		// queue-full drops are counted in stats and never reach here
		if err := s.index.RecordStep(rec); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (s *sinks) startSession(id, game string, port int, opts protocol.TimeOptions) {
	if s.index != nil {
		s.index.StartSession(indexdb.NewSessionRow(id, game, port, opts))
	}
}

func (s *sinks) endSession(id string, code int, steps uint64) {
	if s.index != nil {
		s.index.EndSession(id, code, steps)
	}
}

func (s *sinks) stats() indexdb.Stats { return s.index.Stats() }

func (s *sinks) Close() error {
	var errs []error
	if s.log != nil {
		errs = append(errs, s.log.Close())
	}
	if s.index != nil {
		errs = append(errs, s.index.Close())
	}
	return errors.Join(errs...)
}
