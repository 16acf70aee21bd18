// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package datatypes

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExperimentStatus_CanTransition(t *testing.T) {
	tests := []struct {
		name string
		from ExperimentStatus
		to   ExperimentStatus
		want bool
	}{
		{"draft to running", StatusDraft, StatusRunning, true},
		{"draft to completed skips running", StatusDraft, StatusCompleted, false},
		{"running to paused", StatusRunning, StatusPaused, true},
		{"paused back to running", StatusPaused, StatusRunning, true},
		{"running to completed", StatusRunning, StatusCompleted, true},
		{"paused to completed", StatusPaused, StatusCompleted, true},
		{"completed to analyzed", StatusCompleted, StatusAnalyzed, true},
		{"analyzed to deployed", StatusAnalyzed, StatusDeployed, true},
		{"analyzed back to running", StatusAnalyzed, StatusRunning, false},
		{"completed back to running", StatusCompleted, StatusRunning, false},
		{"deployed is terminal", StatusDeployed, StatusCancelled, false},
		{"cancelled is terminal", StatusCancelled, StatusRunning, false},
		{"cancel from draft", StatusDraft, StatusCancelled, true},
		{"cancel from running", StatusRunning, StatusCancelled, true},
		{"cancel from analyzed", StatusAnalyzed, StatusCancelled, true},
		{"self transition rejected", StatusRunning, StatusRunning, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.from.CanTransition(tt.to))
		})
	}
}

func TestExperimentStatus_Terminal(t *testing.T) {
	assert.True(t, StatusDeployed.Terminal())
	assert.True(t, StatusCancelled.Terminal())
	assert.False(t, StatusDraft.Terminal())
	assert.False(t, StatusAnalyzed.Terminal())
}

func TestVariantAggregates_Welford(t *testing.T) {
	values := []float64{120, 340, 95, 210, 180, 400, 150}

	var agg VariantAggregates
	for _, v := range values {
		agg.ObserveMetric(v)
	}

	// Reference mean and sample variance computed directly.
	mean := 0.0
	for _, v := range values {
		mean += v
	}
	mean /= float64(len(values))

	variance := 0.0
	for _, v := range values {
		variance += (v - mean) * (v - mean)
	}
	variance /= float64(len(values) - 1)

	require.Equal(t, int64(len(values)), agg.MetricCount)
	assert.InDelta(t, mean, agg.MetricMean, 1e-9)
	assert.InDelta(t, variance, agg.Variance(), 1e-9)
}

func TestVariantAggregates_VarianceUnderTwoSamples(t *testing.T) {
	var agg VariantAggregates
	assert.Zero(t, agg.Variance())

	agg.ObserveMetric(250)
	assert.Zero(t, agg.Variance())

	agg.ObserveMetric(350)
	assert.InDelta(t, 5000.0, agg.Variance(), 1e-9)
}

func TestVariantAggregates_WelfordStability(t *testing.T) {
	// Large offset values defeat naive sum-of-squares accumulation;
	// Welford's update must stay exact.
	var agg VariantAggregates
	base := 1e9
	for i := 0; i < 1000; i++ {
		agg.ObserveMetric(base + float64(i%2))
	}
	assert.InDelta(t, base+0.5, agg.MetricMean, 1e-3)
	assert.InDelta(t, 0.25, agg.Variance(), 1e-2)
	assert.False(t, math.IsNaN(agg.Variance()))
}

func TestExperiment_VariantLookups(t *testing.T) {
	exp := &Experiment{
		ControlVariantID: "control",
		Variants: []Variant{
			{ID: "control", Name: "Control"},
			{ID: "treatment", Name: "Treatment"},
		},
	}

	require.NotNil(t, exp.VariantByID("treatment"))
	assert.Equal(t, "Treatment", exp.VariantByID("treatment").Name)
	assert.Nil(t, exp.VariantByID("missing"))

	control := exp.ControlVariant()
	require.NotNil(t, control)
	assert.Equal(t, "control", control.ID)
}

func TestExperiment_TotalParticipants(t *testing.T) {
	exp := &Experiment{
		Variants: []Variant{
			{ID: "a", Aggregates: VariantAggregates{ParticipantCount: 40}},
			{ID: "b", Aggregates: VariantAggregates{ParticipantCount: 60}},
		},
	}
	assert.Equal(t, int64(100), exp.TotalParticipants())
}

func TestAllocationMethod_Valid(t *testing.T) {
	assert.True(t, AllocationUniformRandom.Valid())
	assert.True(t, AllocationDeterministicHash.Valid())
	assert.True(t, AllocationWeightedRandom.Valid())
	assert.True(t, AllocationAdaptiveBandit.Valid())
	assert.False(t, AllocationMethod("round_robin").Valid())
}

func TestSignificanceTest_Valid(t *testing.T) {
	assert.True(t, TestTwoProportionZ.Valid())
	assert.True(t, TestSequentialLikelihoodRatio.Valid())
	assert.False(t, SignificanceTest("chi_squared").Valid())
}
