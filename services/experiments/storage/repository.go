// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package storage defines the durable repository consumed by the
// experimentation engine.
//
// The engine assumes a single authoritative store. Two operations carry
// atomicity requirements beyond plain puts:
//
//   - CreateParticipant is an insert-if-absent keyed on
//     (experiment_id, subject_id); concurrent calls for the same subject
//     must produce exactly one participant record.
//   - AppendResult applies the result append and the owning variant's
//     aggregate update in one transaction, so the counters can never drift
//     from the immutable result log.
package storage

import (
	"context"
	"errors"

	"github.com/AleutianAI/AleutianExperiments/services/experiments/datatypes"
)

// Sentinel errors for the storage layer.
var (
	// ErrNotFound indicates the requested record does not exist.
	ErrNotFound = errors.New("record not found")

	// ErrAlreadyExists indicates a create collided with an existing key.
	ErrAlreadyExists = errors.New("record already exists")

	// ErrVersionConflict indicates an optimistic-concurrency check failed.
	// Callers re-read and retry.
	ErrVersionConflict = errors.New("version conflict")

	// ErrStorageUnavailable indicates a transient store failure
	// (timeout, closed database). Retryable by the caller with backoff;
	// distinct from business-rule errors.
	ErrStorageUnavailable = errors.New("storage unavailable")
)

// Repository is the durable store for experiments, participants, and
// results.
//
// All methods honor context cancellation and surface transient failures as
// ErrStorageUnavailable. Implementations must be safe for concurrent use.
type Repository interface {
	// CreateExperiment persists a new experiment. Returns
	// ErrAlreadyExists when the id is taken.
	CreateExperiment(ctx context.Context, exp *datatypes.Experiment) error

	// GetExperiment returns the experiment or ErrNotFound.
	GetExperiment(ctx context.Context, id string) (*datatypes.Experiment, error)

	// UpdateExperiment writes the experiment if its Version matches the
	// stored one, then increments Version. Returns ErrVersionConflict on
	// mismatch.
	UpdateExperiment(ctx context.Context, exp *datatypes.Experiment) error

	// MutateExperiment reads the experiment, applies fn, and writes it
	// back atomically, retrying internally on conflicts. fn must be free
	// of side effects; it may run more than once.
	MutateExperiment(ctx context.Context, id string, fn func(*datatypes.Experiment) error) (*datatypes.Experiment, error)

	// ListExperiments returns all experiments, optionally filtered by
	// status (empty string means no filter).
	ListExperiments(ctx context.Context, status datatypes.ExperimentStatus) ([]*datatypes.Experiment, error)

	// CreateParticipant atomically inserts p unless a participant already
	// exists for (p.ExperimentID, p.SubjectID). It returns the stored
	// participant and created=true on insert, or the pre-existing
	// participant and created=false. On insert the assigned variant's
	// ParticipantCount is incremented in the same transaction.
	CreateParticipant(ctx context.Context, p *datatypes.Participant) (stored *datatypes.Participant, created bool, err error)

	// GetParticipant returns the participant or ErrNotFound.
	GetParticipant(ctx context.Context, experimentID, subjectID string) (*datatypes.Participant, error)

	// AppendResult persists the immutable result and applies aggregate to
	// the owning experiment in one transaction.
	AppendResult(ctx context.Context, res *datatypes.Result, aggregate func(*datatypes.Experiment) error) error

	// ListResults returns every result recorded for the experiment.
	ListResults(ctx context.Context, experimentID string) ([]*datatypes.Result, error)

	// Close releases the underlying store.
	Close() error
}
