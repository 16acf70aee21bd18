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

	"gonum.org/v1/gonum/stat/distuv"

	"github.com/AleutianAI/AleutianExperiments/services/experiments/datatypes"
)

var stdNormal = distuv.Normal{Mu: 0, Sigma: 1}

// runTwoProportionZ compares each treatment's success rate against the
// control with a pooled two-tailed z-test. The confidence interval on the
// rate difference uses the unpooled standard error.
func (a *Analyzer) runTwoProportionZ(exp *datatypes.Experiment, control *group, treatments []*group) []datatypes.VariantComparison {
	alpha := 1 - exp.ConfidenceLevel
	zCrit := stdNormal.Quantile(1 - alpha/2)

	comparisons := make([]datatypes.VariantComparison, 0, len(treatments))
	for _, t := range treatments {
		n1, n2 := float64(control.trials), float64(t.trials)
		p1, p2 := control.rate(), t.rate()

		pooled := float64(control.successes+t.successes) / (n1 + n2)
		se := math.Sqrt(pooled * (1 - pooled) * (1/n1 + 1/n2))

		var z, pValue float64
		if se > 0 {
			z = (p2 - p1) / se
			pValue = 2 * (1 - stdNormal.CDF(math.Abs(z)))
		} else {
			// Degenerate: all successes or all failures in both arms.
			pValue = 1
		}

		seUnpooled := math.Sqrt(p1*(1-p1)/n1 + p2*(1-p2)/n2)
		diff := p2 - p1

		comparisons = append(comparisons, datatypes.VariantComparison{
			VariantID:       t.variantID,
			PointEstimate:   p2,
			ControlEstimate: p1,
			PValue:          pValue,
			ConfidenceInterval: datatypes.Interval{
				Lower: diff - zCrit*seUnpooled,
				Upper: diff + zCrit*seUnpooled,
			},
			EffectSize:        cohensH(p1, p2),
			LiftPercent:       liftPercent(p1, p2),
			Significant:       pValue < alpha,
			Statistic:         z,
			SampleSize:        t.trials,
			ControlSampleSize: control.trials,
		})
	}
	return comparisons
}

// cohensH is the arcsine-transformed effect size for two proportions.
func cohensH(p1, p2 float64) float64 {
	return 2*math.Asin(math.Sqrt(p2)) - 2*math.Asin(math.Sqrt(p1))
}

// liftPercent is the relative improvement of the treatment estimate over
// control, in percent. Zero control yields zero rather than a division
// blow-up.
func liftPercent(control, treatment float64) float64 {
	if control == 0 {
		return 0
	}
	return (treatment - control) / control * 100
}
