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
	"sort"
	"time"

	"github.com/AleutianAI/AleutianExperiments/services/experiments/datatypes"
)

// buildReport assembles the winner, improvement, and deployment
// recommendation from the per-treatment comparisons.
//
// Winner selection: among significant comparisons with positive lift, the
// largest lift wins; exact ties fall to the lowest variant id, keeping the
// outcome deterministic and testable.
//
// Recommendation policy:
//
//	deploy_winner        significant and improvement > deploy threshold
//	consider_deployment  significant with smaller improvement
//	keep_control         significant but every significant lift negative
//	continue_testing     otherwise
func (a *Analyzer) buildReport(exp *datatypes.Experiment, comparisons []datatypes.VariantComparison, totalResults int64, now time.Time) *datatypes.AnalysisReport {
	report := &datatypes.AnalysisReport{
		ExperimentID: exp.ID,
		Test:         exp.SignificanceTest,
		SnapshotTime: now,
		Comparisons:  comparisons,
		TotalResults: totalResults,
	}

	var positives []datatypes.VariantComparison
	anySignificant := false
	for _, c := range comparisons {
		if !c.Significant {
			continue
		}
		anySignificant = true
		if c.LiftPercent > 0 {
			positives = append(positives, c)
		}
	}
	report.IsSignificant = anySignificant

	switch {
	case len(positives) > 0:
		sort.Slice(positives, func(i, j int) bool {
			if positives[i].LiftPercent != positives[j].LiftPercent {
				return positives[i].LiftPercent > positives[j].LiftPercent
			}
			return positives[i].VariantID < positives[j].VariantID
		})
		winner := positives[0]
		report.WinnerVariantID = winner.VariantID
		report.ImprovementPercentage = winner.LiftPercent
		if winner.LiftPercent > a.cfg.DeployThresholdPercent {
			report.Recommendation = datatypes.RecommendDeployWinner
		} else {
			report.Recommendation = datatypes.RecommendConsiderDeployment
		}
	case anySignificant:
		report.Recommendation = datatypes.RecommendKeepControl
	default:
		report.Recommendation = datatypes.RecommendContinueTesting
	}
	return report
}
