// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package analysis

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianExperiments/services/experiments/datatypes"
)

var snapshotTime = time.Date(2026, 3, 15, 10, 0, 0, 0, time.UTC)

func testAnalyzer() *Analyzer {
	return New(Config{}, nil)
}

func twoArmExperiment(test datatypes.SignificanceTest) *datatypes.Experiment {
	return &datatypes.Experiment{
		ID:                      "exp-1",
		ControlVariantID:        "control",
		SignificanceTest:        test,
		ConfidenceLevel:         0.95,
		MinimumDetectableEffect: 0.05,
		Variants: []datatypes.Variant{
			{ID: "control", Name: "Control", Weight: 0.5},
			{ID: "treatment", Name: "Treatment", Weight: 0.5},
		},
	}
}

// binomialResults synthesizes n results for a variant with the first
// `successes` of them successful.
func binomialResults(variantID string, n, successes int) []*datatypes.Result {
	results := make([]*datatypes.Result, 0, n)
	for i := 0; i < n; i++ {
		results = append(results, &datatypes.Result{
			ID:           fmt.Sprintf("%s-%04d", variantID, i),
			ExperimentID: "exp-1",
			VariantID:    variantID,
			Success:      i < successes,
			Timestamp:    snapshotTime,
		})
	}
	return results
}

// metricResults synthesizes one result per value carrying the named metric.
func metricResults(variantID, metric string, values []float64) []*datatypes.Result {
	results := make([]*datatypes.Result, 0, len(values))
	for i, v := range values {
		results = append(results, &datatypes.Result{
			ID:           fmt.Sprintf("%s-%04d", variantID, i),
			ExperimentID: "exp-1",
			VariantID:    variantID,
			Success:      true,
			MetricValues: map[string]float64{metric: v},
			Timestamp:    snapshotTime,
		})
	}
	return results
}

// repeated builds a slice of n copies of each provided value, interleaved.
func repeated(n int, values ...float64) []float64 {
	out := make([]float64, 0, n*len(values))
	for i := 0; i < n; i++ {
		out = append(out, values...)
	}
	return out
}

func TestAnalyze_TwoProportionZ_WorkedExample(t *testing.T) {
	// Control 100/1000 (10%) vs treatment 130/1000 (13%):
	// pooled z ≈ 2.10, two-tailed p ≈ 0.035, lift 30%.
	a := testAnalyzer()
	exp := twoArmExperiment(datatypes.TestTwoProportionZ)
	results := append(
		binomialResults("control", 1000, 100),
		binomialResults("treatment", 1000, 130)...)

	report, err := a.Analyze(exp, results, snapshotTime)
	require.NoError(t, err)

	require.Len(t, report.Comparisons, 1)
	c := report.Comparisons[0]
	assert.Equal(t, "treatment", c.VariantID)
	assert.InDelta(t, 2.10, c.Statistic, 0.01)
	assert.InDelta(t, 0.0355, c.PValue, 0.002)
	assert.True(t, c.Significant)
	assert.InDelta(t, 30.0, c.LiftPercent, 1e-9)
	assert.InDelta(t, 0.13, c.PointEstimate, 1e-9)
	assert.InDelta(t, 0.10, c.ControlEstimate, 1e-9)

	// Unpooled 95% CI on the rate difference.
	assert.InDelta(t, 0.0021, c.ConfidenceInterval.Lower, 0.001)
	assert.InDelta(t, 0.0579, c.ConfidenceInterval.Upper, 0.001)

	assert.True(t, report.IsSignificant)
	assert.Equal(t, "treatment", report.WinnerVariantID)
	assert.InDelta(t, 30.0, report.ImprovementPercentage, 1e-9)
	assert.Equal(t, datatypes.RecommendDeployWinner, report.Recommendation)
	assert.Equal(t, int64(2000), report.TotalResults)
	assert.Equal(t, snapshotTime, report.SnapshotTime)
}

func TestAnalyze_TwoProportionZ_NotSignificant(t *testing.T) {
	a := testAnalyzer()
	exp := twoArmExperiment(datatypes.TestTwoProportionZ)
	results := append(
		binomialResults("control", 1000, 100),
		binomialResults("treatment", 1000, 105)...)

	report, err := a.Analyze(exp, results, snapshotTime)
	require.NoError(t, err)

	c := report.Comparisons[0]
	assert.False(t, c.Significant)
	assert.Greater(t, c.PValue, 0.05)
	assert.False(t, report.IsSignificant)
	assert.Empty(t, report.WinnerVariantID)
	assert.Equal(t, datatypes.RecommendContinueTesting, report.Recommendation)
}

func TestAnalyze_InsufficientData(t *testing.T) {
	a := testAnalyzer()
	exp := twoArmExperiment(datatypes.TestTwoProportionZ)
	results := append(
		binomialResults("control", 1000, 100),
		binomialResults("treatment", 10, 4)...)

	_, err := a.Analyze(exp, results, snapshotTime)
	var ide *InsufficientDataError
	require.ErrorAs(t, err, &ide)
	assert.Equal(t, "treatment", ide.VariantID)
	assert.Equal(t, int64(10), ide.SampleSize)
	assert.Equal(t, int64(DefaultMinSampleSize), ide.Required)
}

func TestAnalyze_WelchT(t *testing.T) {
	// Control responses around 300ms, treatment around 350ms with equal
	// spread: a clear mean shift and a +16.7% lift.
	a := testAnalyzer()
	exp := twoArmExperiment(datatypes.TestTwoSampleT)
	results := append(
		metricResults("control", datatypes.MetricResponseTimeMS, repeated(15, 280, 320)),
		metricResults("treatment", datatypes.MetricResponseTimeMS, repeated(15, 330, 370))...)

	report, err := a.Analyze(exp, results, snapshotTime)
	require.NoError(t, err)

	c := report.Comparisons[0]
	assert.InDelta(t, 300.0, c.ControlEstimate, 1e-9)
	assert.InDelta(t, 350.0, c.PointEstimate, 1e-9)
	assert.True(t, c.Significant)
	assert.Less(t, c.PValue, 0.001)
	assert.Greater(t, c.Statistic, 5.0)
	assert.InDelta(t, 16.67, c.LiftPercent, 0.01)

	// CI on the mean difference straddles 50.
	assert.Less(t, c.ConfidenceInterval.Lower, 50.0)
	assert.Greater(t, c.ConfidenceInterval.Upper, 50.0)

	// Cohen's d for a 50ms shift over ~20ms pooled SD is huge.
	assert.Greater(t, c.EffectSize, 1.0)
}

func TestAnalyze_WelchT_CountsMetricSamplesOnly(t *testing.T) {
	// Plenty of trials but no continuous metric on the treatment arm:
	// the t-test has nothing to compare and must refuse.
	a := testAnalyzer()
	exp := twoArmExperiment(datatypes.TestTwoSampleT)
	results := append(
		metricResults("control", datatypes.MetricResponseTimeMS, repeated(15, 280, 320)),
		binomialResults("treatment", 100, 50)...)

	_, err := a.Analyze(exp, results, snapshotTime)
	var ide *InsufficientDataError
	require.ErrorAs(t, err, &ide)
	assert.Equal(t, "treatment", ide.VariantID)
	assert.Equal(t, int64(0), ide.SampleSize)
}

func TestAnalyze_MannWhitney(t *testing.T) {
	// Control satisfaction clusters at 2-3, treatment at 4-5.
	a := testAnalyzer()
	exp := twoArmExperiment(datatypes.TestMannWhitneyU)
	results := append(
		metricResults("control", datatypes.MetricSatisfactionScore, repeated(15, 2, 3)),
		metricResults("treatment", datatypes.MetricSatisfactionScore, repeated(15, 4, 5))...)

	report, err := a.Analyze(exp, results, snapshotTime)
	require.NoError(t, err)

	c := report.Comparisons[0]
	assert.True(t, c.Significant)
	assert.Less(t, c.PValue, 0.001)
	// Complete separation: the treatment ranks above every control
	// observation, rank-biserial r = 1.
	assert.InDelta(t, 1.0, c.EffectSize, 1e-9)
	assert.InDelta(t, 2.5, c.ControlEstimate, 1e-9)
	assert.InDelta(t, 4.5, c.PointEstimate, 1e-9)
	assert.Equal(t, "treatment", report.WinnerVariantID)
	assert.Equal(t, datatypes.RecommendDeployWinner, report.Recommendation)
}

func TestAnalyze_MannWhitney_TiesHandled(t *testing.T) {
	// Identical distributions, heavy ties: nowhere near significant.
	a := testAnalyzer()
	exp := twoArmExperiment(datatypes.TestMannWhitneyU)
	results := append(
		metricResults("control", datatypes.MetricSatisfactionScore, repeated(15, 3, 4)),
		metricResults("treatment", datatypes.MetricSatisfactionScore, repeated(15, 3, 4))...)

	report, err := a.Analyze(exp, results, snapshotTime)
	require.NoError(t, err)

	c := report.Comparisons[0]
	assert.False(t, c.Significant)
	assert.InDelta(t, 0.0, c.Statistic, 1e-9)
	assert.Equal(t, datatypes.RecommendContinueTesting, report.Recommendation)
}

func TestAnalyze_MannWhitney_ControlDominates(t *testing.T) {
	// Reversed separation: every control observation outranks every
	// treatment one, so the rank-biserial correlation is -1.
	a := testAnalyzer()
	exp := twoArmExperiment(datatypes.TestMannWhitneyU)
	results := append(
		metricResults("control", datatypes.MetricSatisfactionScore, repeated(15, 4, 5)),
		metricResults("treatment", datatypes.MetricSatisfactionScore, repeated(15, 2, 3))...)

	report, err := a.Analyze(exp, results, snapshotTime)
	require.NoError(t, err)

	c := report.Comparisons[0]
	assert.True(t, c.Significant)
	assert.InDelta(t, -1.0, c.EffectSize, 1e-9)
	assert.Less(t, c.Statistic, 0.0)
	assert.Equal(t, datatypes.RecommendKeepControl, report.Recommendation)
}

func TestAnalyze_WelchT_ZeroVariance(t *testing.T) {
	// Constant samples in both arms leave nothing to test against. More
	// data is the remedy, the same as for a short sample.
	a := testAnalyzer()
	exp := twoArmExperiment(datatypes.TestTwoSampleT)
	results := append(
		metricResults("control", datatypes.MetricResponseTimeMS, repeated(30, 300)),
		metricResults("treatment", datatypes.MetricResponseTimeMS, repeated(30, 300))...)

	_, err := a.Analyze(exp, results, snapshotTime)
	require.ErrorIs(t, err, ErrDegenerateData)
}

func TestAnalyze_Bayesian(t *testing.T) {
	// 10% vs 20% over 500 trials each: the treatment posterior dominates.
	a := testAnalyzer()
	exp := twoArmExperiment(datatypes.TestBayesianBetaBinomial)
	results := append(
		binomialResults("control", 500, 50),
		binomialResults("treatment", 500, 100)...)

	report, err := a.Analyze(exp, results, snapshotTime)
	require.NoError(t, err)

	c := report.Comparisons[0]
	require.NotNil(t, c.WinProbability)
	assert.Greater(t, *c.WinProbability, 0.99)
	assert.InDelta(t, 1-*c.WinProbability, c.PValue, 1e-9)
	assert.True(t, c.Significant)
	assert.InDelta(t, 100.0, c.LiftPercent, 1e-9)

	// Credible interval around the treatment's 20% rate.
	assert.Greater(t, c.ConfidenceInterval.Lower, 0.15)
	assert.Less(t, c.ConfidenceInterval.Upper, 0.25)

	assert.Equal(t, "treatment", report.WinnerVariantID)
	assert.Equal(t, datatypes.RecommendDeployWinner, report.Recommendation)
}

func TestAnalyze_Bayesian_Reproducible(t *testing.T) {
	// Fixed Monte Carlo seed: identical data, identical win probability.
	exp := twoArmExperiment(datatypes.TestBayesianBetaBinomial)
	results := append(
		binomialResults("control", 500, 55),
		binomialResults("treatment", 500, 70)...)

	first, err := testAnalyzer().Analyze(exp, results, snapshotTime)
	require.NoError(t, err)
	second, err := testAnalyzer().Analyze(exp, results, snapshotTime)
	require.NoError(t, err)

	assert.Equal(t,
		*first.Comparisons[0].WinProbability,
		*second.Comparisons[0].WinProbability)
}

func TestAnalyze_Sequential_StopReject(t *testing.T) {
	// Control at 10%; H1 posits 15% (MDE 0.5). A treatment at 15% over
	// 1000 trials pushes the LLR far above the upper boundary.
	a := testAnalyzer()
	exp := twoArmExperiment(datatypes.TestSequentialLikelihoodRatio)
	exp.MinimumDetectableEffect = 0.5
	results := append(
		binomialResults("control", 1000, 100),
		binomialResults("treatment", 1000, 150)...)

	report, err := a.Analyze(exp, results, snapshotTime)
	require.NoError(t, err)

	c := report.Comparisons[0]
	assert.Equal(t, datatypes.SequentialStopReject, c.SequentialDecision)
	assert.True(t, c.Significant)
	assert.InDelta(t, 12.24, c.Statistic, 0.05)
}

func TestAnalyze_Sequential_StopAccept(t *testing.T) {
	// Treatment tracks the control rate exactly: evidence accumulates for
	// the null and the test recommends stopping without an effect.
	a := testAnalyzer()
	exp := twoArmExperiment(datatypes.TestSequentialLikelihoodRatio)
	exp.MinimumDetectableEffect = 0.5
	results := append(
		binomialResults("control", 1000, 100),
		binomialResults("treatment", 1000, 100)...)

	report, err := a.Analyze(exp, results, snapshotTime)
	require.NoError(t, err)

	c := report.Comparisons[0]
	assert.Equal(t, datatypes.SequentialStopAccept, c.SequentialDecision)
	assert.False(t, c.Significant)
	assert.Less(t, c.Statistic, 0.0)
}

func TestAnalyze_Sequential_Continue(t *testing.T) {
	// A small sample with a mild edge stays between the boundaries.
	a := New(Config{MinSampleSize: 30}, nil)
	exp := twoArmExperiment(datatypes.TestSequentialLikelihoodRatio)
	exp.MinimumDetectableEffect = 0.5
	results := append(
		binomialResults("control", 40, 4),
		binomialResults("treatment", 40, 5)...)

	report, err := a.Analyze(exp, results, snapshotTime)
	require.NoError(t, err)

	c := report.Comparisons[0]
	assert.Equal(t, datatypes.SequentialContinue, c.SequentialDecision)
}

func TestAnalyze_UnknownTest(t *testing.T) {
	a := testAnalyzer()
	exp := twoArmExperiment("fisher_exact")
	results := append(
		binomialResults("control", 100, 10),
		binomialResults("treatment", 100, 20)...)

	_, err := a.Analyze(exp, results, snapshotTime)
	assert.Error(t, err)
}

func TestBuildReport_WinnerTieBreak(t *testing.T) {
	a := testAnalyzer()
	exp := twoArmExperiment(datatypes.TestTwoProportionZ)

	comparisons := []datatypes.VariantComparison{
		{VariantID: "variant-b", Significant: true, LiftPercent: 12.0, PValue: 0.01},
		{VariantID: "variant-a", Significant: true, LiftPercent: 12.0, PValue: 0.02},
	}
	report := a.buildReport(exp, comparisons, 100, snapshotTime)

	// Equal lifts: the lowest variant id wins deterministically.
	assert.Equal(t, "variant-a", report.WinnerVariantID)
}

func TestBuildReport_Recommendations(t *testing.T) {
	a := testAnalyzer()
	exp := twoArmExperiment(datatypes.TestTwoProportionZ)

	tests := []struct {
		name        string
		comparisons []datatypes.VariantComparison
		want        datatypes.DeploymentRecommendation
	}{
		{
			name: "large significant lift deploys",
			comparisons: []datatypes.VariantComparison{
				{VariantID: "t", Significant: true, LiftPercent: 8.0},
			},
			want: datatypes.RecommendDeployWinner,
		},
		{
			name: "small significant lift is tentative",
			comparisons: []datatypes.VariantComparison{
				{VariantID: "t", Significant: true, LiftPercent: 3.0},
			},
			want: datatypes.RecommendConsiderDeployment,
		},
		{
			name: "significant regression keeps control",
			comparisons: []datatypes.VariantComparison{
				{VariantID: "t", Significant: true, LiftPercent: -10.0},
			},
			want: datatypes.RecommendKeepControl,
		},
		{
			name: "nothing significant keeps testing",
			comparisons: []datatypes.VariantComparison{
				{VariantID: "t", Significant: false, LiftPercent: 20.0},
			},
			want: datatypes.RecommendContinueTesting,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			report := a.buildReport(exp, tt.comparisons, 100, snapshotTime)
			assert.Equal(t, tt.want, report.Recommendation)
		})
	}
}

func TestConfig_WithDefaults(t *testing.T) {
	cfg := Config{}.withDefaults()
	assert.Equal(t, int64(DefaultMinSampleSize), cfg.MinSampleSize)
	assert.Equal(t, DefaultDeployThresholdPercent, cfg.DeployThresholdPercent)
	assert.Equal(t, DefaultMonteCarloDraws, cfg.MonteCarloDraws)
	assert.Equal(t, DefaultWinProbabilityThreshold, cfg.WinProbabilityThreshold)
	assert.Equal(t, uint64(DefaultMonteCarloSeed), cfg.MonteCarloSeed)

	custom := Config{MinSampleSize: 1}.withDefaults()
	assert.Equal(t, int64(hardMinSampleSize), custom.MinSampleSize,
		"hard floor overrides a too-small policy")
}
