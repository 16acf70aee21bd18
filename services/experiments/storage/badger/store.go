// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package badger implements the experiment repository on BadgerDB.
//
// BadgerDB is used for local embedded storage with low-latency access.
// Serializable transactions provide the two atomicity guarantees the engine
// depends on: insert-if-absent for participants and the combined
// result-append + aggregate-update. Conflicting transactions fail with
// badger.ErrConflict and are retried with a short backoff, which is the
// optimistic-concurrency pattern the engine's counters require — a lost
// update would silently corrupt statistical validity.
//
// Key scheme:
//
//	exp/<experiment_id>                      → Experiment (JSON)
//	part/<experiment_id>/<subject_id>        → Participant (JSON)
//	res/<experiment_id>/<result_id>          → Result (JSON)
package badger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/AleutianAI/AleutianExperiments/services/experiments/datatypes"
	"github.com/AleutianAI/AleutianExperiments/services/experiments/storage"
)

const (
	expPrefix  = "exp/"
	partPrefix = "part/"
	resPrefix  = "res/"

	// maxTxnRetries bounds the optimistic retry loop on ErrConflict.
	maxTxnRetries = 10

	// retryBackoff is the pause between conflict retries.
	retryBackoff = 2 * time.Millisecond
)

// Config holds configuration for the experiment store.
type Config struct {
	// Path is the directory for BadgerDB files. Required unless InMemory.
	Path string

	// InMemory enables in-memory mode (no disk persistence). Useful for
	// testing.
	InMemory bool

	// SyncWrites enables synchronous writes for durability.
	SyncWrites bool

	// Logger receives BadgerDB's internal log output. If nil, BadgerDB
	// logging is disabled.
	Logger *slog.Logger
}

// DefaultConfig returns sensible defaults for production use.
func DefaultConfig() Config {
	return Config{SyncWrites: true}
}

// InMemoryConfig returns configuration optimized for testing.
func InMemoryConfig() Config {
	return Config{InMemory: true, SyncWrites: false}
}

// badgerLogger adapts slog.Logger to BadgerDB's Logger interface.
type badgerLogger struct {
	logger *slog.Logger
}

func (l *badgerLogger) Errorf(format string, args ...interface{}) {
	l.logger.Error(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Warningf(format string, args ...interface{}) {
	l.logger.Warn(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Infof(format string, args ...interface{}) {
	l.logger.Info(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Debugf(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

// Store implements storage.Repository on BadgerDB.
//
// Thread Safety: Safe for concurrent use.
type Store struct {
	db     *badger.DB
	logger *slog.Logger
}

// compile-time interface check
var _ storage.Repository = (*Store)(nil)

// Open creates and opens an experiment store with the given configuration.
//
// Inputs:
//
//	cfg - Store configuration. Path is required unless InMemory is true.
//
// Outputs:
//
//	*Store - The opened store. Caller must call Close() when done.
//	error - Non-nil if the path is invalid or the database cannot open.
func Open(cfg Config) (*Store, error) {
	if !cfg.InMemory && cfg.Path == "" {
		return nil, errors.New("path is required for persistent database")
	}

	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(cfg.Path, 0750); err != nil {
			return nil, fmt.Errorf("create database directory %s: %w", cfg.Path, err)
		}
		opts = badger.DefaultOptions(cfg.Path)
	}
	opts = opts.WithSyncWrites(cfg.SyncWrites)

	if cfg.Logger != nil {
		opts = opts.WithLogger(&badgerLogger{logger: cfg.Logger})
	} else {
		opts = opts.WithLogger(nil)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger database: %w", err)
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{db: db, logger: logger}, nil
}

// OpenInMemory opens an in-memory store for testing. Data is lost on Close.
func OpenInMemory() (*Store, error) {
	return Open(InMemoryConfig())
}

// Close releases the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// =============================================================================
// Key Helpers
// =============================================================================

func expKey(id string) []byte {
	return []byte(expPrefix + id)
}

func partKey(experimentID, subjectID string) []byte {
	return []byte(partPrefix + experimentID + "/" + subjectID)
}

func resKey(experimentID, resultID string) []byte {
	return []byte(resPrefix + experimentID + "/" + resultID)
}

// callerError carries an error produced by a caller-supplied callback
// through the transaction machinery untouched. Business errors (lifecycle
// rejections, validation failures) must reach the engine with their type
// and chain intact, not be reported as store failures.
type callerError struct {
	err error
}

func (e *callerError) Error() string { return e.err.Error() }
func (e *callerError) Unwrap() error { return e.err }

// wrapErr maps BadgerDB failures onto the storage error taxonomy. Key
// misses stay ErrNotFound; everything else is a transient store failure.
func wrapErr(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, badger.ErrKeyNotFound) {
		return storage.ErrNotFound
	}
	if errors.Is(err, storage.ErrNotFound) ||
		errors.Is(err, storage.ErrAlreadyExists) ||
		errors.Is(err, storage.ErrVersionConflict) {
		return err
	}
	return fmt.Errorf("%w: %s: %v", storage.ErrStorageUnavailable, op, err)
}

// runUpdate executes fn in an update transaction, retrying on ErrConflict.
func (s *Store) runUpdate(ctx context.Context, op string, fn func(txn *badger.Txn) error) error {
	for attempt := 0; attempt < maxTxnRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("%w: %s: %v", storage.ErrStorageUnavailable, op, err)
		}
		err := s.db.Update(fn)
		if err == nil {
			return nil
		}
		var ce *callerError
		if errors.As(err, &ce) {
			return ce.err
		}
		if !errors.Is(err, badger.ErrConflict) {
			return wrapErr(op, err)
		}
		s.logger.Debug("transaction conflict, retrying",
			slog.String("op", op),
			slog.Int("attempt", attempt+1),
		)
		time.Sleep(retryBackoff)
	}
	return fmt.Errorf("%w: %s: retries exhausted", storage.ErrStorageUnavailable, op)
}

func getJSON(txn *badger.Txn, key []byte, out any) error {
	item, err := txn.Get(key)
	if err != nil {
		return err
	}
	return item.Value(func(val []byte) error {
		return json.Unmarshal(val, out)
	})
}

func setJSON(txn *badger.Txn, key []byte, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return txn.Set(key, data)
}

// =============================================================================
// Experiments
// =============================================================================

// CreateExperiment persists a new experiment.
func (s *Store) CreateExperiment(ctx context.Context, exp *datatypes.Experiment) error {
	return s.runUpdate(ctx, "create experiment", func(txn *badger.Txn) error {
		_, err := txn.Get(expKey(exp.ID))
		if err == nil {
			return storage.ErrAlreadyExists
		}
		if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		return setJSON(txn, expKey(exp.ID), exp)
	})
}

// GetExperiment returns the experiment or storage.ErrNotFound.
func (s *Store) GetExperiment(ctx context.Context, id string) (*datatypes.Experiment, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: get experiment: %v", storage.ErrStorageUnavailable, err)
	}
	var exp datatypes.Experiment
	err := s.db.View(func(txn *badger.Txn) error {
		return getJSON(txn, expKey(id), &exp)
	})
	if err != nil {
		return nil, wrapErr("get experiment", err)
	}
	return &exp, nil
}

// UpdateExperiment writes the experiment under an optimistic version check.
func (s *Store) UpdateExperiment(ctx context.Context, exp *datatypes.Experiment) error {
	return s.runUpdate(ctx, "update experiment", func(txn *badger.Txn) error {
		var stored datatypes.Experiment
		if err := getJSON(txn, expKey(exp.ID), &stored); err != nil {
			return err
		}
		if stored.Version != exp.Version {
			return storage.ErrVersionConflict
		}
		exp.Version++
		return setJSON(txn, expKey(exp.ID), exp)
	})
}

// MutateExperiment applies fn to a fresh read of the experiment and writes
// the result back, retrying internally on conflicts.
func (s *Store) MutateExperiment(ctx context.Context, id string, fn func(*datatypes.Experiment) error) (*datatypes.Experiment, error) {
	var out *datatypes.Experiment
	err := s.runUpdate(ctx, "mutate experiment", func(txn *badger.Txn) error {
		var exp datatypes.Experiment
		if err := getJSON(txn, expKey(id), &exp); err != nil {
			return err
		}
		if err := fn(&exp); err != nil {
			return &callerError{err: err}
		}
		exp.Version++
		if err := setJSON(txn, expKey(id), &exp); err != nil {
			return err
		}
		out = &exp
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// ListExperiments returns all experiments, optionally filtered by status.
func (s *Store) ListExperiments(ctx context.Context, status datatypes.ExperimentStatus) ([]*datatypes.Experiment, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: list experiments: %v", storage.ErrStorageUnavailable, err)
	}
	var exps []*datatypes.Experiment
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(expPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			var exp datatypes.Experiment
			err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &exp)
			})
			if err != nil {
				return err
			}
			if status != "" && exp.Status != status {
				continue
			}
			e := exp
			exps = append(exps, &e)
		}
		return nil
	})
	if err != nil {
		return nil, wrapErr("list experiments", err)
	}
	return exps, nil
}

// =============================================================================
// Participants
// =============================================================================

// CreateParticipant atomically inserts p unless the (experiment, subject)
// pair already has an assignment. The winning participant is returned either
// way. On insert, the assigned variant's ParticipantCount is incremented in
// the same transaction, so the counter always reflects distinct subjects.
func (s *Store) CreateParticipant(ctx context.Context, p *datatypes.Participant) (*datatypes.Participant, bool, error) {
	var stored *datatypes.Participant
	var created bool
	err := s.runUpdate(ctx, "create participant", func(txn *badger.Txn) error {
		stored, created = nil, false

		key := partKey(p.ExperimentID, p.SubjectID)
		var existing datatypes.Participant
		err := getJSON(txn, key, &existing)
		if err == nil {
			stored = &existing
			return nil
		}
		if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}

		var exp datatypes.Experiment
		if err := getJSON(txn, expKey(p.ExperimentID), &exp); err != nil {
			return err
		}
		v := exp.VariantByID(p.VariantID)
		if v == nil {
			return fmt.Errorf("variant %s not in experiment %s: %w",
				p.VariantID, p.ExperimentID, storage.ErrNotFound)
		}
		v.Aggregates.ParticipantCount++
		exp.Version++

		if err := setJSON(txn, key, p); err != nil {
			return err
		}
		if err := setJSON(txn, expKey(p.ExperimentID), &exp); err != nil {
			return err
		}
		stored, created = p, true
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return stored, created, nil
}

// GetParticipant returns the participant or storage.ErrNotFound.
func (s *Store) GetParticipant(ctx context.Context, experimentID, subjectID string) (*datatypes.Participant, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: get participant: %v", storage.ErrStorageUnavailable, err)
	}
	var p datatypes.Participant
	err := s.db.View(func(txn *badger.Txn) error {
		return getJSON(txn, partKey(experimentID, subjectID), &p)
	})
	if err != nil {
		return nil, wrapErr("get participant", err)
	}
	return &p, nil
}

// =============================================================================
// Results
// =============================================================================

// AppendResult persists the immutable result and applies the aggregate
// update to the owning experiment in one transaction. The two succeed or
// fail together.
func (s *Store) AppendResult(ctx context.Context, res *datatypes.Result, aggregate func(*datatypes.Experiment) error) error {
	return s.runUpdate(ctx, "append result", func(txn *badger.Txn) error {
		var exp datatypes.Experiment
		if err := getJSON(txn, expKey(res.ExperimentID), &exp); err != nil {
			return err
		}
		if aggregate != nil {
			if err := aggregate(&exp); err != nil {
				return &callerError{err: err}
			}
		}
		exp.Version++
		if err := setJSON(txn, resKey(res.ExperimentID, res.ID), res); err != nil {
			return err
		}
		return setJSON(txn, expKey(res.ExperimentID), &exp)
	})
}

// ListResults returns every result recorded for the experiment.
func (s *Store) ListResults(ctx context.Context, experimentID string) ([]*datatypes.Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: list results: %v", storage.ErrStorageUnavailable, err)
	}
	var results []*datatypes.Result
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(resPrefix + experimentID + "/")
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			var res datatypes.Result
			err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &res)
			})
			if err != nil {
				return err
			}
			r := res
			results = append(results, &r)
		}
		return nil
	})
	if err != nil {
		return nil, wrapErr("list results", err)
	}
	return results, nil
}
