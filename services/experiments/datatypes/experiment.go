// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package datatypes provides the data model for the experimentation engine.
//
// An Experiment is a single A/B(/n) test: one control variant plus one or
// more treatments, each carrying a traffic weight and an opaque payload
// reference. Participants bind a subject to a variant for the lifetime of
// the experiment; Results are immutable outcome observations feeding the
// per-variant streaming aggregates.
package datatypes

import (
	"time"
)

// =============================================================================
// Limits and Tolerances
// =============================================================================

const (
	// WeightSumTolerance is the permitted deviation of the variant weight
	// sum from 1.0 at experiment creation.
	WeightSumTolerance = 1e-3

	// MinVariants is the minimum number of variants per experiment.
	MinVariants = 2

	// MaxVariants bounds experiment fan-out. Per SEC-012: unbounded
	// variant lists would make every analysis O(n^2) in comparisons.
	MaxVariants = 20

	// MaxMetricValuesPerResult bounds the metric map on a single result.
	MaxMetricValuesPerResult = 32
)

// =============================================================================
// Enumerations
// =============================================================================

// AllocationMethod selects how new subjects are mapped to variants.
type AllocationMethod string

const (
	// AllocationUniformRandom draws once per new subject, proportional to
	// declared weights. Non-reproducible; the idempotent participant
	// record makes it a one-time decision.
	AllocationUniformRandom AllocationMethod = "uniform_random"

	// AllocationDeterministicHash maps a stable 64-bit hash of
	// experiment_id||subject_id onto the cumulative weight distribution.
	// Reproducible across process restarts.
	AllocationDeterministicHash AllocationMethod = "deterministic_hash"

	// AllocationWeightedRandom is the cumulative-weight technique driven
	// by a fresh random draw per call.
	AllocationWeightedRandom AllocationMethod = "weighted_random"

	// AllocationAdaptiveBandit selects the variant maximizing the UCB1
	// score estimate + sqrt(2*ln(N)/n_i).
	AllocationAdaptiveBandit AllocationMethod = "adaptive_bandit"
)

// Valid reports whether the allocation method is a known value.
func (m AllocationMethod) Valid() bool {
	switch m {
	case AllocationUniformRandom, AllocationDeterministicHash,
		AllocationWeightedRandom, AllocationAdaptiveBandit:
		return true
	}
	return false
}

// SignificanceTest selects the statistical procedure used by Analyze.
type SignificanceTest string

const (
	// TestTwoProportionZ compares success rates between control and each
	// treatment with a pooled two-tailed z-test.
	TestTwoProportionZ SignificanceTest = "two_proportion_z"

	// TestTwoSampleT compares a continuous metric with Welch's unequal
	// variance t-test.
	TestTwoSampleT SignificanceTest = "two_sample_t"

	// TestMannWhitneyU is the rank-based non-parametric comparison.
	TestMannWhitneyU SignificanceTest = "mann_whitney_u"

	// TestBayesianBetaBinomial estimates per-variant win probabilities
	// from Beta posteriors by Monte Carlo simulation.
	TestBayesianBetaBinomial SignificanceTest = "bayesian_beta_binomial"

	// TestSequentialLikelihoodRatio reports the running log-likelihood
	// ratio and an early-stopping recommendation.
	TestSequentialLikelihoodRatio SignificanceTest = "sequential_likelihood_ratio"
)

// Valid reports whether the significance test is a known value.
func (t SignificanceTest) Valid() bool {
	switch t {
	case TestTwoProportionZ, TestTwoSampleT, TestMannWhitneyU,
		TestBayesianBetaBinomial, TestSequentialLikelihoodRatio:
		return true
	}
	return false
}

// ExperimentStatus is the lifecycle state of an experiment.
//
// Transitions are monotonic:
//
//	draft → running → {paused ⇄ running} → completed → analyzed → deployed
//
// Any non-terminal state may transition to cancelled. There is no path out
// of cancelled, deployed, or back from analyzed to running.
type ExperimentStatus string

const (
	StatusDraft     ExperimentStatus = "draft"
	StatusRunning   ExperimentStatus = "running"
	StatusPaused    ExperimentStatus = "paused"
	StatusCompleted ExperimentStatus = "completed"
	StatusAnalyzed  ExperimentStatus = "analyzed"
	StatusDeployed  ExperimentStatus = "deployed"
	StatusCancelled ExperimentStatus = "cancelled"
)

// Terminal reports whether no further transitions are permitted from s,
// other than analyzed → deployed.
func (s ExperimentStatus) Terminal() bool {
	return s == StatusDeployed || s == StatusCancelled
}

// CanTransition reports whether the lifecycle permits moving from s to next.
func (s ExperimentStatus) CanTransition(next ExperimentStatus) bool {
	if s == next {
		return false
	}
	// Cancellation is allowed from every non-terminal state.
	if next == StatusCancelled {
		return !s.Terminal()
	}
	switch s {
	case StatusDraft:
		return next == StatusRunning
	case StatusRunning:
		return next == StatusPaused || next == StatusCompleted
	case StatusPaused:
		return next == StatusRunning || next == StatusCompleted
	case StatusCompleted:
		return next == StatusAnalyzed
	case StatusAnalyzed:
		return next == StatusDeployed
	}
	return false
}

// DeploymentRecommendation is the policy verdict attached to an analysis.
type DeploymentRecommendation string

const (
	// RecommendDeployWinner indicates a significant improvement above the
	// deployment threshold.
	RecommendDeployWinner DeploymentRecommendation = "deploy_winner"

	// RecommendConsiderDeployment indicates a significant but small
	// improvement.
	RecommendConsiderDeployment DeploymentRecommendation = "consider_deployment"

	// RecommendKeepControl indicates a significant negative effect.
	RecommendKeepControl DeploymentRecommendation = "keep_control"

	// RecommendContinueTesting indicates no significant result yet.
	RecommendContinueTesting DeploymentRecommendation = "continue_testing"
)

// QualityFlag marks an ingestion-time anomaly on a result. Flagged results
// are stored, never dropped; analysis consumers decide whether to exclude.
type QualityFlag string

const (
	// FlagSuspiciouslyFast marks a response time below the sanity floor.
	FlagSuspiciouslyFast QualityFlag = "suspiciously_fast"

	// FlagSuspiciouslySlow marks a response time above the sanity ceiling.
	FlagSuspiciouslySlow QualityFlag = "suspiciously_slow"

	// FlagMissingMetrics marks a result recorded without metric values.
	FlagMissingMetrics QualityFlag = "missing_metrics"
)

// SequentialDecision is the early-stopping recommendation of the
// sequential likelihood-ratio test.
type SequentialDecision string

const (
	SequentialContinue   SequentialDecision = "continue"
	SequentialStopReject SequentialDecision = "stop_reject"
	SequentialStopAccept SequentialDecision = "stop_accept"
)

// =============================================================================
// Core Records
// =============================================================================

// VariantAggregates holds the streaming statistics for one variant.
//
// Mutated only by the result recorder inside a storage transaction; callers
// must treat the fields as read-only. Mean and M2 follow Welford's online
// algorithm so the variance never suffers catastrophic cancellation from a
// naive sum-of-squares.
type VariantAggregates struct {
	// ParticipantCount is the number of distinct subjects assigned.
	ParticipantCount int64 `json:"participant_count"`

	// ResultCount is the number of results recorded.
	ResultCount int64 `json:"result_count"`

	// SuccessCount is the number of results with success=true.
	SuccessCount int64 `json:"success_count"`

	// MetricCount, MetricMean and MetricM2 are the Welford accumulator
	// for the primary continuous metric (response_time_ms).
	MetricCount int64   `json:"metric_count"`
	MetricMean  float64 `json:"metric_mean"`
	MetricM2    float64 `json:"metric_m2"`

	// SatisfactionScores retains raw ordinal scores for rank-based tests.
	SatisfactionScores []float64 `json:"satisfaction_scores,omitempty"`
}

// Variance returns the sample variance of the continuous metric, or 0 when
// fewer than two observations exist.
func (a *VariantAggregates) Variance() float64 {
	if a.MetricCount < 2 {
		return 0
	}
	return a.MetricM2 / float64(a.MetricCount-1)
}

// ObserveMetric folds one continuous observation into the Welford state.
func (a *VariantAggregates) ObserveMetric(v float64) {
	a.MetricCount++
	delta := v - a.MetricMean
	a.MetricMean += delta / float64(a.MetricCount)
	a.MetricM2 += delta * (v - a.MetricMean)
}

// Variant is one treatment arm of an experiment.
type Variant struct {
	// ID is unique within the owning experiment.
	ID string `json:"id" validate:"required"`

	// Name is the human-readable label.
	Name string `json:"name" validate:"required"`

	// Weight is the traffic share in (0,1]. Weights across all variants
	// of one experiment sum to 1.0 within WeightSumTolerance.
	Weight float64 `json:"weight" validate:"gt=0,lte=1"`

	// PayloadRef is the opaque reference to the externally-defined
	// treatment configuration (e.g. a prompt template id). The engine
	// never interprets it.
	PayloadRef string `json:"payload_ref"`

	// Aggregates are the running statistics for this arm.
	Aggregates VariantAggregates `json:"aggregates"`
}

// Experiment is a single test configuration plus its lifecycle and, after
// analysis, its decision fields.
type Experiment struct {
	ID          string `json:"id"`
	Name        string `json:"name" validate:"required"`
	Description string `json:"description"`

	// Kind tags the experiment family, e.g. "template" or
	// "model_selection". Free-form.
	Kind string `json:"kind"`

	Variants         []Variant        `json:"variants" validate:"min=2,dive"`
	ControlVariantID string           `json:"control_variant_id" validate:"required"`
	AllocationMethod AllocationMethod `json:"allocation_method"`
	SignificanceTest SignificanceTest `json:"significance_test"`

	// ConfidenceLevel is the two-sided confidence for interval and
	// significance decisions. Default 0.95.
	ConfidenceLevel float64 `json:"confidence_level"`

	// MinimumDetectableEffect is the smallest relative lift worth
	// detecting. Required, > 0.
	MinimumDetectableEffect float64 `json:"minimum_detectable_effect"`

	// SampleSizeRequired, when > 0, completes the experiment once every
	// variant reaches this many participants.
	SampleSizeRequired int64 `json:"sample_size_required,omitempty"`

	// DurationDays, when > 0, derives EndTime at start.
	DurationDays int `json:"duration_days,omitempty"`

	Status    ExperimentStatus `json:"status"`
	CreatedAt time.Time        `json:"created_at"`
	StartTime *time.Time       `json:"start_time,omitempty"`
	EndTime   *time.Time       `json:"end_time,omitempty"`

	// Version is the optimistic-concurrency token for experiment updates.
	Version uint64 `json:"version"`

	// Analysis outcome. Populated only in analyzed and later states.
	IsSignificant         *bool                    `json:"is_significant,omitempty"`
	PValue                *float64                 `json:"p_value,omitempty"`
	ConfidenceInterval    *Interval                `json:"confidence_interval,omitempty"`
	EffectSize            *float64                 `json:"effect_size,omitempty"`
	WinnerVariantID       string                   `json:"winner_variant_id,omitempty"`
	ImprovementPercentage *float64                 `json:"improvement_percentage,omitempty"`
	Recommendation        DeploymentRecommendation `json:"deployment_recommendation,omitempty"`
	AnalyzedAt            *time.Time               `json:"analyzed_at,omitempty"`
}

// VariantByID returns the variant with the given id, or nil.
func (e *Experiment) VariantByID(id string) *Variant {
	for i := range e.Variants {
		if e.Variants[i].ID == id {
			return &e.Variants[i]
		}
	}
	return nil
}

// ControlVariant returns the control arm, or nil when the configuration is
// invalid.
func (e *Experiment) ControlVariant() *Variant {
	return e.VariantByID(e.ControlVariantID)
}

// TotalParticipants sums participant counts across all variants.
func (e *Experiment) TotalParticipants() int64 {
	var n int64
	for i := range e.Variants {
		n += e.Variants[i].Aggregates.ParticipantCount
	}
	return n
}

// Interval is a two-sided confidence interval.
type Interval struct {
	Lower float64 `json:"lower"`
	Upper float64 `json:"upper"`
}

// Participant binds one subject to one variant for one experiment. The
// (ExperimentID, SubjectID) pair is unique; the assignment never changes.
type Participant struct {
	ExperimentID string    `json:"experiment_id"`
	SubjectID    string    `json:"subject_id"`
	VariantID    string    `json:"variant_id"`
	AssignedAt   time.Time `json:"assigned_at"`

	// Segment is an optional label for stratified reporting. It never
	// affects allocation after assignment.
	Segment string `json:"segment,omitempty"`
}

// Result is one immutable outcome observation tied to a participant.
type Result struct {
	ID           string `json:"id"`
	ExperimentID string `json:"experiment_id"`
	VariantID    string `json:"variant_id"`
	SubjectID    string `json:"subject_id"`

	// Success is the boolean primary outcome.
	Success bool `json:"success"`

	// MetricValues maps metric name to value, e.g. response_time_ms,
	// satisfaction_score. All values must be finite.
	MetricValues map[string]float64 `json:"metric_values,omitempty"`

	Timestamp time.Time `json:"timestamp"`

	// QualityFlags are ingestion-time anomaly markers. Stored, never
	// dropped.
	QualityFlags []QualityFlag `json:"quality_flags,omitempty"`
}

// Well-known metric names consumed by the analyzer.
const (
	MetricResponseTimeMS    = "response_time_ms"
	MetricSatisfactionScore = "satisfaction_score"
)

// =============================================================================
// Analysis Output
// =============================================================================

// VariantComparison is one control-vs-treatment row of an analysis report.
type VariantComparison struct {
	VariantID string `json:"variant_id"`

	// PointEstimate is the treatment's primary metric estimate (rate or
	// mean, test-dependent).
	PointEstimate float64 `json:"point_estimate"`

	// ControlEstimate is the control's estimate for the same metric.
	ControlEstimate float64 `json:"control_estimate"`

	// PValue is the two-tailed p-value. For the Bayesian test this holds
	// 1 - win_probability so that smaller still means stronger evidence.
	PValue float64 `json:"p_value"`

	// WinProbability is populated by the Bayesian test only.
	WinProbability *float64 `json:"win_probability,omitempty"`

	ConfidenceInterval Interval `json:"confidence_interval"`
	EffectSize         float64  `json:"effect_size"`

	// LiftPercent is the relative improvement over control in percent.
	LiftPercent float64 `json:"lift_percent"`

	Significant bool `json:"significant"`

	// Statistic is the raw test statistic (z, t, U, or LLR).
	Statistic float64 `json:"statistic"`

	// SequentialDecision is populated by the sequential test only.
	SequentialDecision SequentialDecision `json:"sequential_decision,omitempty"`

	SampleSize        int64 `json:"sample_size"`
	ControlSampleSize int64 `json:"control_sample_size"`
}

// AnalysisReport is the full output of one Analyze call.
type AnalysisReport struct {
	ExperimentID string           `json:"experiment_id"`
	Test         SignificanceTest `json:"test"`

	// SnapshotTime is when the result set was read. Concurrent writes
	// after this instant are not reflected, making reports reproducible.
	SnapshotTime time.Time `json:"snapshot_time"`

	Comparisons []VariantComparison `json:"comparisons"`

	IsSignificant         bool                     `json:"is_significant"`
	WinnerVariantID       string                   `json:"winner_variant_id,omitempty"`
	ImprovementPercentage float64                  `json:"improvement_percentage"`
	Recommendation        DeploymentRecommendation `json:"deployment_recommendation"`

	// TotalResults is the number of results in the snapshot.
	TotalResults int64 `json:"total_results"`
}

// =============================================================================
// Report Surfaces
// =============================================================================

// VariantPerformance is the per-variant block of a full report.
type VariantPerformance struct {
	VariantID        string  `json:"variant_id"`
	Name             string  `json:"name"`
	IsControl        bool    `json:"is_control"`
	ParticipantCount int64   `json:"participant_count"`
	ResultCount      int64   `json:"result_count"`
	SuccessCount     int64   `json:"success_count"`
	SuccessRate      float64 `json:"success_rate"`
	MetricMean       float64 `json:"metric_mean"`
	MetricStdDev     float64 `json:"metric_std_dev"`
}

// TimeSeriesPoint is one day's result volume in a full report.
type TimeSeriesPoint struct {
	Date         string             `json:"date"`
	ResultCounts map[string]int64   `json:"result_counts"`
	SuccessRates map[string]float64 `json:"success_rates"`
}

// ExperimentReport is the GetReport response: configuration, per-variant
// performance, a daily time series, and the stored statistical summary.
type ExperimentReport struct {
	Experiment  *Experiment          `json:"experiment"`
	Variants    []VariantPerformance `json:"variants"`
	TimeSeries  []TimeSeriesPoint    `json:"time_series"`
	Analysis    *AnalysisReport      `json:"analysis,omitempty"`
	GeneratedAt time.Time            `json:"generated_at"`
}
