// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package analysis implements the statistical analyzer: significance tests
// over the recorded results of one experiment, producing a verdict and a
// deployment recommendation.
//
// Five procedures are supported: the two-proportion z-test and Welch's
// t-test for parametric comparisons, Mann-Whitney U for ordinal metrics,
// a Bayesian beta-binomial model with Monte Carlo win probabilities, and a
// sequential likelihood-ratio report for early-stopping use cases. All
// distribution math comes from gonum's distuv.
//
// The Monte Carlo sampler runs on a fixed, configurable seed so that
// reports over identical data are identical call to call.
package analysis

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/AleutianAI/AleutianExperiments/services/experiments/datatypes"
)

// ErrDegenerateData indicates the recorded samples cannot support the
// configured test (for example zero variance in every group). More data is
// needed before a verdict, the same remedy as a short sample.
var ErrDegenerateData = errors.New("degenerate samples")

// Defaults for the analyzer configuration.
const (
	DefaultMinSampleSize           = 30
	DefaultDeployThresholdPercent  = 5.0
	DefaultMonteCarloDraws         = 10000
	DefaultWinProbabilityThreshold = 0.95
	DefaultMonteCarloSeed          = 42

	// hardMinSampleSize is the absolute floor: tests that estimate a
	// variance need at least two observations per group.
	hardMinSampleSize = 2
)

// Config configures the analyzer. The minimum-sample policy lives here,
// not inside the individual tests.
type Config struct {
	// MinSampleSize is the policy floor on per-group sample size. The
	// hard floor of 2 always applies. Default 30.
	MinSampleSize int64 `json:"min_sample_size" yaml:"min_sample_size"`

	// DeployThresholdPercent is the improvement above which a significant
	// winner earns a deploy_winner recommendation. Default 5.
	DeployThresholdPercent float64 `json:"deploy_threshold_percent" yaml:"deploy_threshold_percent"`

	// MonteCarloDraws is the number of posterior samples per variant in
	// the Bayesian test. Default 10000.
	MonteCarloDraws int `json:"monte_carlo_draws" yaml:"monte_carlo_draws"`

	// WinProbabilityThreshold declares Bayesian significance when the
	// best variant's win probability exceeds it. Default 0.95.
	WinProbabilityThreshold float64 `json:"win_probability_threshold" yaml:"win_probability_threshold"`

	// MonteCarloSeed fixes the sampler seed for reproducible reports.
	// Default 42.
	MonteCarloSeed uint64 `json:"monte_carlo_seed" yaml:"monte_carlo_seed"`

	// SequentialBeta is the type-II error rate used for the sequential
	// test's stopping boundaries. Default 0.2.
	SequentialBeta float64 `json:"sequential_beta" yaml:"sequential_beta"`
}

// withDefaults fills zero fields with the package defaults.
func (c Config) withDefaults() Config {
	if c.MinSampleSize <= 0 {
		c.MinSampleSize = DefaultMinSampleSize
	}
	if c.MinSampleSize < hardMinSampleSize {
		c.MinSampleSize = hardMinSampleSize
	}
	if c.DeployThresholdPercent <= 0 {
		c.DeployThresholdPercent = DefaultDeployThresholdPercent
	}
	if c.MonteCarloDraws <= 0 {
		c.MonteCarloDraws = DefaultMonteCarloDraws
	}
	if c.WinProbabilityThreshold <= 0 {
		c.WinProbabilityThreshold = DefaultWinProbabilityThreshold
	}
	if c.MonteCarloSeed == 0 {
		c.MonteCarloSeed = DefaultMonteCarloSeed
	}
	if c.SequentialBeta <= 0 {
		c.SequentialBeta = 0.2
	}
	return c
}

// InsufficientDataError indicates a compared group is below the minimum
// sample size; analysis is refused rather than returning a misleadingly
// confident report.
type InsufficientDataError struct {
	VariantID  string
	SampleSize int64
	Required   int64
}

func (e *InsufficientDataError) Error() string {
	return fmt.Sprintf("insufficient data: variant %s has %d samples, need %d",
		e.VariantID, e.SampleSize, e.Required)
}

// Analyzer runs significance tests over recorded results.
//
// Thread Safety: Safe for concurrent use; each Analyze call builds its own
// sampler state.
type Analyzer struct {
	cfg    Config
	logger *slog.Logger
}

// New constructs an analyzer. A nil logger falls back to slog.Default().
func New(cfg Config, logger *slog.Logger) *Analyzer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Analyzer{cfg: cfg.withDefaults(), logger: logger}
}

// group holds one variant's extracted sample data.
type group struct {
	variantID  string
	trials     int64
	successes  int64
	continuous []float64
	ordinal    []float64
}

func (g *group) rate() float64 {
	if g.trials == 0 {
		return 0
	}
	return float64(g.successes) / float64(g.trials)
}

// Analyze runs the experiment's configured test over the result snapshot.
//
// Inputs:
//
//	exp - The experiment (control id, test selection, confidence level).
//	results - The result snapshot, already loaded by the caller.
//	now - Snapshot timestamp recorded on the report.
//
// Outputs:
//
//	*datatypes.AnalysisReport - Comparisons, winner, recommendation.
//	error - *InsufficientDataError when any compared group is too small.
func (a *Analyzer) Analyze(exp *datatypes.Experiment, results []*datatypes.Result, now time.Time) (*datatypes.AnalysisReport, error) {
	groups := groupResults(exp, results)

	control, ok := groups[exp.ControlVariantID]
	if !ok {
		control = &group{variantID: exp.ControlVariantID}
	}

	var treatments []*group
	for i := range exp.Variants {
		id := exp.Variants[i].ID
		if id == exp.ControlVariantID {
			continue
		}
		g, ok := groups[id]
		if !ok {
			g = &group{variantID: id}
		}
		treatments = append(treatments, g)
	}

	if err := a.checkSampleSizes(exp, control, treatments); err != nil {
		return nil, err
	}

	start := time.Now()
	var comparisons []datatypes.VariantComparison
	var err error
	switch exp.SignificanceTest {
	case datatypes.TestTwoProportionZ:
		comparisons = a.runTwoProportionZ(exp, control, treatments)
	case datatypes.TestTwoSampleT:
		comparisons, err = a.runWelchT(exp, control, treatments)
	case datatypes.TestMannWhitneyU:
		comparisons, err = a.runMannWhitney(exp, control, treatments)
	case datatypes.TestBayesianBetaBinomial:
		comparisons = a.runBayesian(exp, control, treatments)
	case datatypes.TestSequentialLikelihoodRatio:
		comparisons = a.runSequential(exp, control, treatments)
	default:
		return nil, fmt.Errorf("unknown significance test %q", exp.SignificanceTest)
	}
	if err != nil {
		return nil, err
	}

	report := a.buildReport(exp, comparisons, int64(len(results)), now)

	a.logger.Info("analysis complete",
		slog.String("experiment_id", exp.ID),
		slog.String("test", string(exp.SignificanceTest)),
		slog.Bool("significant", report.IsSignificant),
		slog.String("winner", report.WinnerVariantID),
		slog.Duration("elapsed", time.Since(start)),
	)
	return report, nil
}

// groupResults buckets the snapshot by variant and extracts the sample
// columns each test consumes.
func groupResults(exp *datatypes.Experiment, results []*datatypes.Result) map[string]*group {
	groups := make(map[string]*group, len(exp.Variants))
	for _, res := range results {
		g, ok := groups[res.VariantID]
		if !ok {
			g = &group{variantID: res.VariantID}
			groups[res.VariantID] = g
		}
		g.trials++
		if res.Success {
			g.successes++
		}
		if rt, ok := res.MetricValues[datatypes.MetricResponseTimeMS]; ok {
			g.continuous = append(g.continuous, rt)
		}
		if score, ok := res.MetricValues[datatypes.MetricSatisfactionScore]; ok {
			g.ordinal = append(g.ordinal, score)
		}
	}
	return groups
}

// checkSampleSizes enforces the minimum-sample policy over every compared
// group, counting the samples the configured test actually consumes.
func (a *Analyzer) checkSampleSizes(exp *datatypes.Experiment, control *group, treatments []*group) error {
	sizeOf := func(g *group) int64 {
		switch exp.SignificanceTest {
		case datatypes.TestTwoSampleT:
			return int64(len(g.continuous))
		case datatypes.TestMannWhitneyU:
			return int64(len(g.ordinal))
		default:
			return g.trials
		}
	}
	for _, g := range append([]*group{control}, treatments...) {
		if n := sizeOf(g); n < a.cfg.MinSampleSize {
			return &InsufficientDataError{
				VariantID:  g.variantID,
				SampleSize: n,
				Required:   a.cfg.MinSampleSize,
			}
		}
	}
	return nil
}
