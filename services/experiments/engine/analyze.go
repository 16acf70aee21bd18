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
	"log/slog"
	"math"
	"sort"
	"time"

	"github.com/AleutianAI/AleutianExperiments/services/experiments/datatypes"
)

// Analyze runs the experiment's configured significance test over a
// snapshot of its results.
//
// Description:
//
//	Permitted while the experiment is running, paused, completed, or
//	already analyzed; draft, cancelled, and deployed experiments are
//	rejected with a StateError. Only a completed experiment transitions
//	to analyzed — mid-flight calls produce a preview report without
//	touching the lifecycle. The report carries the snapshot timestamp;
//	results recorded after the snapshot are not reflected.
func (e *Engine) Analyze(ctx context.Context, experimentID string) (*datatypes.AnalysisReport, error) {
	exp, err := e.repo.GetExperiment(ctx, experimentID)
	if err != nil {
		return nil, mapStorageErr(err)
	}

	switch exp.Status {
	case datatypes.StatusRunning, datatypes.StatusPaused,
		datatypes.StatusCompleted, datatypes.StatusAnalyzed:
	default:
		return nil, &StateError{Op: "analyze experiment", Current: exp.Status}
	}

	results, err := e.repo.ListResults(ctx, experimentID)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	report, err := e.analyzer.Analyze(exp, results, e.clock())
	if err != nil {
		return nil, err
	}
	e.metrics.ObserveAnalysis(string(exp.SignificanceTest), time.Since(start))

	if exp.Status == datatypes.StatusCompleted {
		if err := e.storeAnalysis(ctx, experimentID, report); err != nil {
			return nil, err
		}
	}
	return report, nil
}

// storeAnalysis copies the report's decision fields onto the experiment
// and transitions it to analyzed.
func (e *Engine) storeAnalysis(ctx context.Context, experimentID string, report *datatypes.AnalysisReport) error {
	now := e.clock()
	_, err := e.repo.MutateExperiment(ctx, experimentID, func(exp *datatypes.Experiment) error {
		if !exp.Status.CanTransition(datatypes.StatusAnalyzed) {
			return &StateError{
				Op:        "store analysis",
				Current:   exp.Status,
				Requested: datatypes.StatusAnalyzed,
			}
		}
		exp.Status = datatypes.StatusAnalyzed
		exp.AnalyzedAt = &now

		sig := report.IsSignificant
		exp.IsSignificant = &sig
		exp.WinnerVariantID = report.WinnerVariantID
		imp := report.ImprovementPercentage
		exp.ImprovementPercentage = &imp
		exp.Recommendation = report.Recommendation

		if winner := findComparison(report, report.WinnerVariantID); winner != nil {
			p := winner.PValue
			exp.PValue = &p
			ci := winner.ConfidenceInterval
			exp.ConfidenceInterval = &ci
			es := winner.EffectSize
			exp.EffectSize = &es
		} else if len(report.Comparisons) > 0 {
			// No winner: store the strongest comparison for reference.
			best := report.Comparisons[0]
			for _, c := range report.Comparisons[1:] {
				if c.PValue < best.PValue {
					best = c
				}
			}
			p := best.PValue
			exp.PValue = &p
			ci := best.ConfidenceInterval
			exp.ConfidenceInterval = &ci
			es := best.EffectSize
			exp.EffectSize = &es
		}
		return nil
	})
	if err != nil {
		return mapStorageErr(err)
	}
	e.logger.Info("analysis stored",
		slog.String("experiment_id", experimentID),
		slog.String("winner", report.WinnerVariantID),
		slog.String("recommendation", string(report.Recommendation)),
	)
	return nil
}

func findComparison(report *datatypes.AnalysisReport, variantID string) *datatypes.VariantComparison {
	if variantID == "" {
		return nil
	}
	for i := range report.Comparisons {
		if report.Comparisons[i].VariantID == variantID {
			return &report.Comparisons[i]
		}
	}
	return nil
}

// GetReport assembles the full experiment report: configuration,
// per-variant performance, a daily result time series, and the statistical
// summary when enough data exists. The summary re-runs the analyzer on the
// current snapshot; an InsufficientDataError simply leaves the summary
// empty rather than failing the whole report.
func (e *Engine) GetReport(ctx context.Context, experimentID string) (*datatypes.ExperimentReport, error) {
	exp, err := e.repo.GetExperiment(ctx, experimentID)
	if err != nil {
		return nil, mapStorageErr(err)
	}
	results, err := e.repo.ListResults(ctx, experimentID)
	if err != nil {
		return nil, err
	}

	report := &datatypes.ExperimentReport{
		Experiment:  exp,
		GeneratedAt: e.clock(),
		Variants:    variantPerformance(exp),
		TimeSeries:  buildTimeSeries(results),
	}

	if analysis, err := e.analyzer.Analyze(exp, results, report.GeneratedAt); err == nil {
		report.Analysis = analysis
	} else {
		e.logger.Debug("report analysis skipped",
			slog.String("experiment_id", experimentID),
			slog.String("reason", err.Error()),
		)
	}
	return report, nil
}

func variantPerformance(exp *datatypes.Experiment) []datatypes.VariantPerformance {
	perf := make([]datatypes.VariantPerformance, 0, len(exp.Variants))
	for i := range exp.Variants {
		v := &exp.Variants[i]
		agg := &v.Aggregates
		rate := 0.0
		if agg.ResultCount > 0 {
			rate = float64(agg.SuccessCount) / float64(agg.ResultCount)
		}
		perf = append(perf, datatypes.VariantPerformance{
			VariantID:        v.ID,
			Name:             v.Name,
			IsControl:        v.ID == exp.ControlVariantID,
			ParticipantCount: agg.ParticipantCount,
			ResultCount:      agg.ResultCount,
			SuccessCount:     agg.SuccessCount,
			SuccessRate:      rate,
			MetricMean:       agg.MetricMean,
			MetricStdDev:     math.Sqrt(agg.Variance()),
		})
	}
	return perf
}

// buildTimeSeries buckets results by UTC day and variant.
func buildTimeSeries(results []*datatypes.Result) []datatypes.TimeSeriesPoint {
	type bucket struct {
		counts    map[string]int64
		successes map[string]int64
	}
	days := make(map[string]*bucket)
	for _, res := range results {
		day := res.Timestamp.UTC().Format("2006-01-02")
		b, ok := days[day]
		if !ok {
			b = &bucket{counts: make(map[string]int64), successes: make(map[string]int64)}
			days[day] = b
		}
		b.counts[res.VariantID]++
		if res.Success {
			b.successes[res.VariantID]++
		}
	}

	dates := make([]string, 0, len(days))
	for d := range days {
		dates = append(dates, d)
	}
	sort.Strings(dates)

	series := make([]datatypes.TimeSeriesPoint, 0, len(dates))
	for _, d := range dates {
		b := days[d]
		rates := make(map[string]float64, len(b.counts))
		for variantID, n := range b.counts {
			rates[variantID] = float64(b.successes[variantID]) / float64(n)
		}
		series = append(series, datatypes.TimeSeriesPoint{
			Date:         d,
			ResultCounts: b.counts,
			SuccessRates: rates,
		})
	}
	return series
}
