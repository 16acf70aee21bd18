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
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianExperiments/services/experiments/datatypes"
	badgerstore "github.com/AleutianAI/AleutianExperiments/services/experiments/storage/badger"
)

func TestCreateExperiment_Defaults(t *testing.T) {
	e := newTestEngine(t)

	exp := mustCreate(t, e, validCreateRequest())
	assert.NotEmpty(t, exp.ID)
	assert.Equal(t, datatypes.StatusDraft, exp.Status)
	assert.Equal(t, 0.95, exp.ConfidenceLevel)
	assert.Nil(t, exp.StartTime)
	assert.False(t, exp.CreatedAt.IsZero())
}

func TestCreateExperiment_CollectsAllViolations(t *testing.T) {
	e := newTestEngine(t)

	req := &datatypes.CreateExperimentRequest{
		// Missing name, bogus method and test, bad MDE.
		ControlVariantID:        "ghost",
		AllocationMethod:        "round_robin",
		SignificanceTest:        "chi_squared",
		MinimumDetectableEffect: 0,
		Variants: []datatypes.VariantConfig{
			{ID: "a", Name: "A", Weight: 0.3},
			{ID: "a", Name: "A again", Weight: 0.3},
		},
	}

	_, err := e.CreateExperiment(context.Background(), req)
	var ve *ValidationError
	require.ErrorAs(t, err, &ve)

	// Every broken rule is reported at once, not just the first.
	joined := ve.Error()
	assert.Contains(t, joined, "name is required")
	assert.Contains(t, joined, "duplicate variant id")
	assert.Contains(t, joined, "weights must sum to 1.0")
	assert.Contains(t, joined, `control_variant_id "ghost" is not among the variants`)
	assert.Contains(t, joined, "allocation_method")
	assert.Contains(t, joined, "significance_test")
	assert.Contains(t, joined, "minimum_detectable_effect")

	// Nothing was persisted.
	all, err := e.ListExperiments(context.Background(), "")
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestCreateExperiment_WeightTolerance(t *testing.T) {
	e := newTestEngine(t)

	req := validCreateRequest()
	req.Variants[0].Weight = 0.5004
	req.Variants[1].Weight = 0.5001
	_, err := e.CreateExperiment(context.Background(), req)
	assert.NoError(t, err, "sum within tolerance must pass")

	req2 := validCreateRequest()
	req2.Variants[0].Weight = 0.6
	req2.Variants[1].Weight = 0.5
	_, err = e.CreateExperiment(context.Background(), req2)
	var ve *ValidationError
	assert.ErrorAs(t, err, &ve)
}

func TestCreateExperiment_VariantCountBounds(t *testing.T) {
	e := newTestEngine(t)

	req := validCreateRequest()
	req.Variants = req.Variants[:1]
	req.Variants[0].Weight = 1.0
	_, err := e.CreateExperiment(context.Background(), req)
	var ve *ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Contains(t, ve.Error(), "at least 2 variants")
}

func TestStartExperiment_StampsTimes(t *testing.T) {
	store, err := badgerstore.OpenInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	fixed := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	e := New(Config{Repo: store, Clock: func() time.Time { return fixed }})

	req := validCreateRequest()
	req.DurationDays = 14
	exp := mustCreate(t, e, req)

	started, err := e.StartExperiment(context.Background(), exp.ID)
	require.NoError(t, err)
	assert.Equal(t, datatypes.StatusRunning, started.Status)
	require.NotNil(t, started.StartTime)
	assert.Equal(t, fixed, *started.StartTime)
	require.NotNil(t, started.EndTime)
	assert.Equal(t, fixed.Add(14*24*time.Hour), *started.EndTime)
}

func TestLifecycle_HappyPath(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	exp := mustCreate(t, e, validCreateRequest())

	_, err := e.StartExperiment(ctx, exp.ID)
	require.NoError(t, err)

	paused, err := e.PauseExperiment(ctx, exp.ID)
	require.NoError(t, err)
	assert.Equal(t, datatypes.StatusPaused, paused.Status)

	resumed, err := e.ResumeExperiment(ctx, exp.ID)
	require.NoError(t, err)
	assert.Equal(t, datatypes.StatusRunning, resumed.Status)

	completed, err := e.CompleteExperiment(ctx, exp.ID)
	require.NoError(t, err)
	assert.Equal(t, datatypes.StatusCompleted, completed.Status)
	assert.NotNil(t, completed.EndTime)
}

func TestLifecycle_InvalidTransitions(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	exp := mustCreate(t, e, validCreateRequest())

	// Draft cannot pause or complete.
	_, err := e.PauseExperiment(ctx, exp.ID)
	var se *StateError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, datatypes.StatusDraft, se.Current)

	_, err = e.CompleteExperiment(ctx, exp.ID)
	assert.ErrorAs(t, err, &se)

	// Deploy requires an analyzed experiment.
	_, err = e.DeployExperiment(ctx, exp.ID)
	assert.ErrorAs(t, err, &se)
}

func TestLifecycle_CancelledIsTerminal(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	exp := mustStart(t, e, validCreateRequest())

	cancelled, err := e.CancelExperiment(ctx, exp.ID)
	require.NoError(t, err)
	assert.Equal(t, datatypes.StatusCancelled, cancelled.Status)

	_, err = e.StartExperiment(ctx, exp.ID)
	var se *StateError
	require.ErrorAs(t, err, &se)

	_, err = e.CancelExperiment(ctx, exp.ID)
	assert.ErrorAs(t, err, &se, "double cancel is rejected")
}

func TestLifecycle_StartUnknownExperiment(t *testing.T) {
	e := newTestEngine(t)
	_, err := e.StartExperiment(context.Background(), "missing")
	assert.True(t, errors.Is(err, ErrExperimentNotFound))
}
