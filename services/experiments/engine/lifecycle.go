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
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/AleutianAI/AleutianExperiments/services/experiments/datatypes"
)

// CreateExperiment validates the configuration and persists a new draft
// experiment. On failure every violated rule is reported, and nothing is
// persisted.
func (e *Engine) CreateExperiment(ctx context.Context, req *datatypes.CreateExperimentRequest) (*datatypes.Experiment, error) {
	if req.ConfidenceLevel == 0 {
		req.ConfidenceLevel = 0.95
	}

	if violations := validateConfig(req); len(violations) > 0 {
		return nil, &ValidationError{Violations: violations}
	}

	now := e.clock()
	exp := &datatypes.Experiment{
		ID:                      uuid.NewString(),
		Name:                    req.Name,
		Description:             req.Description,
		Kind:                    req.Kind,
		ControlVariantID:        req.ControlVariantID,
		AllocationMethod:        req.AllocationMethod,
		SignificanceTest:        req.SignificanceTest,
		ConfidenceLevel:         req.ConfidenceLevel,
		MinimumDetectableEffect: req.MinimumDetectableEffect,
		SampleSizeRequired:      req.SampleSizeRequired,
		DurationDays:            req.DurationDays,
		Status:                  datatypes.StatusDraft,
		CreatedAt:               now,
	}
	for _, vc := range req.Variants {
		exp.Variants = append(exp.Variants, datatypes.Variant{
			ID:         vc.ID,
			Name:       vc.Name,
			Weight:     vc.Weight,
			PayloadRef: vc.PayloadRef,
		})
	}

	if err := e.repo.CreateExperiment(ctx, exp); err != nil {
		return nil, fmt.Errorf("persist experiment: %w", err)
	}

	e.logger.Info("experiment created",
		slog.String("experiment_id", exp.ID),
		slog.String("name", exp.Name),
		slog.String("allocation", string(exp.AllocationMethod)),
		slog.String("test", string(exp.SignificanceTest)),
		slog.Int("variants", len(exp.Variants)),
	)
	return exp, nil
}

// validateConfig collects every violated configuration rule.
func validateConfig(req *datatypes.CreateExperimentRequest) []string {
	var violations []string

	if req.Name == "" {
		violations = append(violations, "name is required")
	}
	if len(req.Variants) < datatypes.MinVariants {
		violations = append(violations,
			fmt.Sprintf("at least %d variants are required", datatypes.MinVariants))
	}
	if len(req.Variants) > datatypes.MaxVariants {
		violations = append(violations,
			fmt.Sprintf("at most %d variants are allowed", datatypes.MaxVariants))
	}

	seen := make(map[string]bool, len(req.Variants))
	weightSum := 0.0
	controlFound := false
	for _, v := range req.Variants {
		if v.ID == "" {
			violations = append(violations, "variant id must not be empty")
			continue
		}
		if seen[v.ID] {
			violations = append(violations,
				fmt.Sprintf("duplicate variant id %q", v.ID))
		}
		seen[v.ID] = true
		if v.Weight <= 0 || v.Weight > 1 {
			violations = append(violations,
				fmt.Sprintf("variant %q weight must be in (0,1], got %g", v.ID, v.Weight))
		}
		weightSum += v.Weight
		if v.ID == req.ControlVariantID {
			controlFound = true
		}
	}

	if math.Abs(weightSum-1.0) > datatypes.WeightSumTolerance {
		violations = append(violations,
			fmt.Sprintf("variant weights must sum to 1.0 (±%g), got %g",
				datatypes.WeightSumTolerance, weightSum))
	}
	if req.ControlVariantID == "" {
		violations = append(violations, "control_variant_id is required")
	} else if !controlFound {
		violations = append(violations,
			fmt.Sprintf("control_variant_id %q is not among the variants", req.ControlVariantID))
	}
	if !req.AllocationMethod.Valid() {
		violations = append(violations,
			fmt.Sprintf("unknown allocation_method %q", req.AllocationMethod))
	}
	if !req.SignificanceTest.Valid() {
		violations = append(violations,
			fmt.Sprintf("unknown significance_test %q", req.SignificanceTest))
	}
	if req.ConfidenceLevel <= 0 || req.ConfidenceLevel >= 1 {
		violations = append(violations,
			fmt.Sprintf("confidence_level must be in (0,1), got %g", req.ConfidenceLevel))
	}
	if req.MinimumDetectableEffect <= 0 {
		violations = append(violations, "minimum_detectable_effect must be > 0")
	}
	if req.SampleSizeRequired < 0 {
		violations = append(violations, "sample_size_required must not be negative")
	}
	if req.DurationDays < 0 {
		violations = append(violations, "duration_days must not be negative")
	}
	return violations
}

// transition moves the experiment to next under the lifecycle rules,
// applying extra mutations via apply (may be nil).
func (e *Engine) transition(ctx context.Context, id, op string, next datatypes.ExperimentStatus, apply func(*datatypes.Experiment)) (*datatypes.Experiment, error) {
	exp, err := e.repo.MutateExperiment(ctx, id, func(exp *datatypes.Experiment) error {
		if !exp.Status.CanTransition(next) {
			return &StateError{Op: op, Current: exp.Status, Requested: next}
		}
		exp.Status = next
		if apply != nil {
			apply(exp)
		}
		return nil
	})
	if err != nil {
		return nil, mapStorageErr(err)
	}
	e.logger.Info("experiment transitioned",
		slog.String("experiment_id", id),
		slog.String("op", op),
		slog.String("status", string(next)),
	)
	return exp, nil
}

// StartExperiment moves a draft experiment to running, stamping the start
// time and deriving the end time from duration_days when configured.
func (e *Engine) StartExperiment(ctx context.Context, id string) (*datatypes.Experiment, error) {
	now := e.clock()
	return e.transition(ctx, id, "start experiment", datatypes.StatusRunning,
		func(exp *datatypes.Experiment) {
			if exp.StartTime == nil {
				exp.StartTime = &now
				if exp.DurationDays > 0 {
					end := now.Add(time.Duration(exp.DurationDays) * 24 * time.Hour)
					exp.EndTime = &end
				}
			}
		})
}

// PauseExperiment suspends new assignments. Existing participants keep
// their variants and idempotent lookups continue to succeed.
func (e *Engine) PauseExperiment(ctx context.Context, id string) (*datatypes.Experiment, error) {
	return e.transition(ctx, id, "pause experiment", datatypes.StatusPaused, nil)
}

// ResumeExperiment returns a paused experiment to running.
func (e *Engine) ResumeExperiment(ctx context.Context, id string) (*datatypes.Experiment, error) {
	return e.transition(ctx, id, "resume experiment", datatypes.StatusRunning, nil)
}

// CompleteExperiment ends the data-collection phase by operator action.
func (e *Engine) CompleteExperiment(ctx context.Context, id string) (*datatypes.Experiment, error) {
	now := e.clock()
	return e.transition(ctx, id, "complete experiment", datatypes.StatusCompleted,
		func(exp *datatypes.Experiment) {
			if exp.EndTime == nil || exp.EndTime.After(now) {
				exp.EndTime = &now
			}
		})
}

// DeployExperiment marks the analyzed winner as rolled out. The engine
// performs no allocation after deployment; a separate rollout mechanism
// consumes the winner id.
func (e *Engine) DeployExperiment(ctx context.Context, id string) (*datatypes.Experiment, error) {
	return e.transition(ctx, id, "deploy experiment", datatypes.StatusDeployed, nil)
}

// CancelExperiment aborts the experiment from any non-terminal state.
// Historical results remain readable.
func (e *Engine) CancelExperiment(ctx context.Context, id string) (*datatypes.Experiment, error) {
	return e.transition(ctx, id, "cancel experiment", datatypes.StatusCancelled, nil)
}

// maybeAutoComplete transitions a running experiment to completed when it
// has reached its end time or its required sample size on every variant.
// Called opportunistically from the hot paths; failures are logged, never
// surfaced, since the triggering operation already succeeded. Returns the
// completed experiment when the transition fired, otherwise exp unchanged,
// so callers gate on the state the store now holds.
func (e *Engine) maybeAutoComplete(ctx context.Context, exp *datatypes.Experiment) *datatypes.Experiment {
	if exp.Status != datatypes.StatusRunning && exp.Status != datatypes.StatusPaused {
		return exp
	}
	now := e.clock()

	due := exp.EndTime != nil && !now.Before(*exp.EndTime)
	if !due && exp.SampleSizeRequired > 0 {
		due = true
		for i := range exp.Variants {
			if exp.Variants[i].Aggregates.ParticipantCount < exp.SampleSizeRequired {
				due = false
				break
			}
		}
	}
	if !due {
		return exp
	}

	completed, err := e.CompleteExperiment(ctx, exp.ID)
	if err != nil {
		e.logger.Warn("auto-complete failed",
			slog.String("experiment_id", exp.ID),
			slog.String("error", err.Error()),
		)
		return exp
	}
	e.logger.Info("experiment auto-completed",
		slog.String("experiment_id", exp.ID),
	)
	return completed
}
