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
	"math"

	"github.com/AleutianAI/AleutianExperiments/services/experiments/datatypes"
)

// rateEpsilon keeps degenerate rates away from 0 and 1 so the
// log-likelihood terms stay finite.
const rateEpsilon = 1e-9

// runSequential reports the running log-likelihood ratio of each treatment
// against the control rate, with Wald-style stopping boundaries derived
// from the experiment's confidence level (type-I error) and the configured
// type-II error rate:
//
//	H0: treatment rate = control rate
//	H1: treatment rate = control rate * (1 + minimum_detectable_effect)
//	upper = ln((1-beta)/alpha)  -> stop_reject (effect present)
//	lower = ln(beta/(1-alpha))  -> stop_accept (no effect)
//
// Only the running LLR and the continue/stop recommendation are reported;
// full Wald-SPRT boundary derivation is out of scope. A descriptive
// two-proportion p-value accompanies each row for reporting continuity.
func (a *Analyzer) runSequential(exp *datatypes.Experiment, control *group, treatments []*group) []datatypes.VariantComparison {
	alpha := 1 - exp.ConfidenceLevel
	beta := a.cfg.SequentialBeta
	upper := math.Log((1 - beta) / alpha)
	lower := math.Log(beta / (1 - alpha))

	p0 := clampRate(control.rate())
	p1 := clampRate(p0 * (1 + exp.MinimumDetectableEffect))

	// Descriptive p-values from the plain proportion test.
	zRows := a.runTwoProportionZ(exp, control, treatments)

	comparisons := make([]datatypes.VariantComparison, 0, len(treatments))
	for i, t := range treatments {
		x := float64(t.successes)
		n := float64(t.trials)

		llr := x*math.Log(p1/p0) + (n-x)*math.Log((1-p1)/(1-p0))

		decision := datatypes.SequentialContinue
		switch {
		case llr >= upper:
			decision = datatypes.SequentialStopReject
		case llr <= lower:
			decision = datatypes.SequentialStopAccept
		}

		row := zRows[i]
		row.Statistic = llr
		row.SequentialDecision = decision
		row.Significant = decision == datatypes.SequentialStopReject
		comparisons = append(comparisons, row)
	}
	return comparisons
}

func clampRate(p float64) float64 {
	return math.Min(1-rateEpsilon, math.Max(rateEpsilon, p))
}
