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
	"math"

	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/AleutianAI/AleutianExperiments/services/experiments/datatypes"
)

// runWelchT compares the continuous metric (response_time_ms) between
// control and each treatment with Welch's unequal-variance t-test, which
// tolerates unequal group sizes and variances. Cohen's d (pooled standard
// deviation) is reported as the effect size.
func (a *Analyzer) runWelchT(exp *datatypes.Experiment, control *group, treatments []*group) ([]datatypes.VariantComparison, error) {
	alpha := 1 - exp.ConfidenceLevel

	n1 := float64(len(control.continuous))
	m1 := stat.Mean(control.continuous, nil)
	v1 := stat.Variance(control.continuous, nil)

	comparisons := make([]datatypes.VariantComparison, 0, len(treatments))
	for _, t := range treatments {
		n2 := float64(len(t.continuous))
		m2 := stat.Mean(t.continuous, nil)
		v2 := stat.Variance(t.continuous, nil)

		se := math.Sqrt(v1/n1 + v2/n2)
		if se == 0 {
			return nil, fmt.Errorf("%w: zero variance in both groups for variant %s",
				ErrDegenerateData, t.variantID)
		}
		tStat := (m2 - m1) / se

		// Welch–Satterthwaite degrees of freedom.
		num := math.Pow(v1/n1+v2/n2, 2)
		den := math.Pow(v1/n1, 2)/(n1-1) + math.Pow(v2/n2, 2)/(n2-1)
		df := num / den

		tDist := distuv.StudentsT{Mu: 0, Sigma: 1, Nu: df}
		pValue := 2 * (1 - tDist.CDF(math.Abs(tStat)))
		tCrit := tDist.Quantile(1 - alpha/2)

		diff := m2 - m1
		pooledSD := math.Sqrt(((n1-1)*v1 + (n2-1)*v2) / (n1 + n2 - 2))
		var d float64
		if pooledSD > 0 {
			d = diff / pooledSD
		}

		comparisons = append(comparisons, datatypes.VariantComparison{
			VariantID:       t.variantID,
			PointEstimate:   m2,
			ControlEstimate: m1,
			PValue:          pValue,
			ConfidenceInterval: datatypes.Interval{
				Lower: diff - tCrit*se,
				Upper: diff + tCrit*se,
			},
			EffectSize:        d,
			LiftPercent:       liftPercent(m1, m2),
			Significant:       pValue < alpha,
			Statistic:         tStat,
			SampleSize:        int64(len(t.continuous)),
			ControlSampleSize: int64(len(control.continuous)),
		})
	}
	return comparisons, nil
}
