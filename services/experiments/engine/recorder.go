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
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/AleutianAI/AleutianExperiments/services/experiments/datatypes"
	"github.com/AleutianAI/AleutianExperiments/services/experiments/storage"
)

const (
	// ResponseTimeFloorMS is the sanity floor below which a response time
	// is flagged suspiciously fast.
	ResponseTimeFloorMS = 100

	// ResponseTimeCeilingMS is the sanity ceiling (5 minutes) above which
	// a response time is flagged suspiciously slow.
	ResponseTimeCeilingMS = 5 * 60 * 1000
)

// RecordResult validates and appends one outcome observation for an
// assigned participant, updating the owning variant's streaming aggregates
// in the same storage transaction.
//
// Description:
//
//	Fails with ErrNoAssignment when the subject was never assigned — a
//	result must not silently create an assignment. Metric values must be
//	finite; out-of-range response times are flagged, not rejected, and
//	analysis consumers decide whether to exclude flagged rows.
//
// Outputs:
//
//	*datatypes.Result - The appended result, including quality flags.
//	error - ErrNoAssignment, ErrInvalidMetric, or a state/storage error.
func (e *Engine) RecordResult(ctx context.Context, experimentID, subjectID string, success bool, metricValues map[string]float64, ts *time.Time) (*datatypes.Result, error) {
	exp, err := e.repo.GetExperiment(ctx, experimentID)
	if err != nil {
		return nil, mapStorageErr(err)
	}

	switch exp.Status {
	case datatypes.StatusRunning, datatypes.StatusPaused:
		// Outcomes from already-assigned subjects are accepted while the
		// experiment is paused; only new assignment is blocked.
	default:
		return nil, &StateError{Op: "record result", Current: exp.Status}
	}

	p, err := e.repo.GetParticipant(ctx, experimentID, subjectID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, fmt.Errorf("%w: subject %s in experiment %s",
				ErrNoAssignment, subjectID, experimentID)
		}
		return nil, err
	}

	for name, v := range metricValues {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return nil, fmt.Errorf("%w: metric %q is not finite", ErrInvalidMetric, name)
		}
	}

	when := e.clock()
	if ts != nil {
		when = *ts
	}

	res := &datatypes.Result{
		ID:           uuid.NewString(),
		ExperimentID: experimentID,
		VariantID:    p.VariantID,
		SubjectID:    subjectID,
		Success:      success,
		MetricValues: metricValues,
		Timestamp:    when,
		QualityFlags: qualityFlags(metricValues),
	}

	err = e.repo.AppendResult(ctx, res, func(exp *datatypes.Experiment) error {
		v := exp.VariantByID(p.VariantID)
		if v == nil {
			return fmt.Errorf("variant %s not in experiment %s", p.VariantID, experimentID)
		}
		agg := &v.Aggregates
		agg.ResultCount++
		if success {
			agg.SuccessCount++
		}
		if rt, ok := metricValues[datatypes.MetricResponseTimeMS]; ok {
			agg.ObserveMetric(rt)
		}
		if score, ok := metricValues[datatypes.MetricSatisfactionScore]; ok {
			agg.SatisfactionScores = append(agg.SatisfactionScores, score)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	e.metrics.ObserveResult(success, len(res.QualityFlags) > 0)
	e.logger.Debug("result recorded",
		slog.String("experiment_id", experimentID),
		slog.String("variant_id", p.VariantID),
		slog.Bool("success", success),
		slog.Int("quality_flags", len(res.QualityFlags)),
	)

	// The new result may have pushed a variant over the required sample
	// size.
	if fresh, err := e.repo.GetExperiment(ctx, experimentID); err == nil {
		e.maybeAutoComplete(ctx, fresh)
	}

	return res, nil
}

// qualityFlags computes ingestion-time anomaly markers. Flags never cause
// rejection; flagged rows are stored for downstream filtering.
func qualityFlags(metricValues map[string]float64) []datatypes.QualityFlag {
	var flags []datatypes.QualityFlag
	if len(metricValues) == 0 {
		return append(flags, datatypes.FlagMissingMetrics)
	}
	if rt, ok := metricValues[datatypes.MetricResponseTimeMS]; ok {
		if rt < ResponseTimeFloorMS {
			flags = append(flags, datatypes.FlagSuspiciouslyFast)
		} else if rt > ResponseTimeCeilingMS {
			flags = append(flags, datatypes.FlagSuspiciouslySlow)
		}
	}
	return flags
}
