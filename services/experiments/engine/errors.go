// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package engine

import (
	"errors"
	"fmt"
	"strings"

	"github.com/AleutianAI/AleutianExperiments/services/experiments/datatypes"
	"github.com/AleutianAI/AleutianExperiments/services/experiments/engine/analysis"
	"github.com/AleutianAI/AleutianExperiments/services/experiments/storage"
)

// Sentinel errors for the experimentation engine.
var (
	// ErrNotRunning indicates an assignment was requested while the
	// experiment is not in the running state. Recoverable: the caller may
	// fall back to the control treatment.
	ErrNotRunning = errors.New("experiment is not running")

	// ErrNoAssignment indicates a result arrived for a subject that was
	// never assigned. The result is rejected rather than silently
	// creating an assignment, to preserve randomization integrity.
	ErrNoAssignment = errors.New("no assignment exists for subject")

	// ErrInvalidMetric indicates a metric value was NaN or infinite.
	ErrInvalidMetric = errors.New("invalid metric value")

	// ErrExperimentNotFound indicates the experiment id is unknown.
	ErrExperimentNotFound = errors.New("experiment not found")
)

// ValidationError reports every configuration rule violated by a
// CreateExperiment call, not just the first. Nothing is persisted when it
// is returned.
type ValidationError struct {
	Violations []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid experiment configuration: %s",
		strings.Join(e.Violations, "; "))
}

// StateError reports an operation that is invalid for the experiment's
// current lifecycle state. The current state is included so callers can
// decide to no-op.
type StateError struct {
	Op        string
	Current   datatypes.ExperimentStatus
	Requested datatypes.ExperimentStatus
}

func (e *StateError) Error() string {
	if e.Requested != "" {
		return fmt.Sprintf("%s: cannot transition from %s to %s",
			e.Op, e.Current, e.Requested)
	}
	return fmt.Sprintf("%s: not permitted in state %s", e.Op, e.Current)
}

// ErrorKind returns the stable machine-readable kind for err. Every
// user-visible error carries one; the HTTP layer maps kinds to status
// codes.
func ErrorKind(err error) string {
	var ve *ValidationError
	var se *StateError
	var ide *analysis.InsufficientDataError
	switch {
	case errors.As(err, &ve):
		return "validation_error"
	case errors.As(err, &se):
		return "state_error"
	case errors.As(err, &ide):
		return "insufficient_data"
	case errors.Is(err, analysis.ErrDegenerateData):
		return "insufficient_data"
	case errors.Is(err, storage.ErrStorageUnavailable):
		return "storage_unavailable"
	case errors.Is(err, ErrNotRunning):
		return "not_running"
	case errors.Is(err, ErrNoAssignment):
		return "no_assignment"
	case errors.Is(err, ErrInvalidMetric):
		return "invalid_metric"
	case errors.Is(err, ErrExperimentNotFound):
		return "not_found"
	default:
		return "internal_error"
	}
}
