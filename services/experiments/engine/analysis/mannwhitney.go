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
	"sort"

	"gonum.org/v1/gonum/stat"

	"github.com/AleutianAI/AleutianExperiments/services/experiments/datatypes"
)

// runMannWhitney compares the ordinal metric (satisfaction_score) between
// control and each treatment with the rank-based Mann-Whitney U test,
// using the tie-corrected normal approximation for the p-value and
// rank-biserial correlation as the effect size. Appropriate when the
// metric distribution is not assumed normal.
func (a *Analyzer) runMannWhitney(exp *datatypes.Experiment, control *group, treatments []*group) ([]datatypes.VariantComparison, error) {
	alpha := 1 - exp.ConfidenceLevel

	comparisons := make([]datatypes.VariantComparison, 0, len(treatments))
	for _, t := range treatments {
		u, z, pValue := mannWhitneyU(control.ordinal, t.ordinal)

		n1 := float64(len(control.ordinal))
		n2 := float64(len(t.ordinal))

		// Rank-biserial correlation: r = 2U/(n1*n2) - 1, where U is the
		// treatment's U statistic. Positive r means the treatment tends
		// to rank higher.
		r := 2*u/(n1*n2) - 1

		m1 := stat.Mean(control.ordinal, nil)
		m2 := stat.Mean(t.ordinal, nil)

		comparisons = append(comparisons, datatypes.VariantComparison{
			VariantID:       t.variantID,
			PointEstimate:   m2,
			ControlEstimate: m1,
			PValue:          pValue,
			// No distributional interval for the rank test; report the
			// rank-biserial point value on both bounds.
			ConfidenceInterval: datatypes.Interval{Lower: r, Upper: r},
			EffectSize:         r,
			LiftPercent:        liftPercent(m1, m2),
			Significant:        pValue < alpha,
			Statistic:          z,
			SampleSize:         int64(len(t.ordinal)),
			ControlSampleSize:  int64(len(control.ordinal)),
		})
	}
	return comparisons, nil
}

// mannWhitneyU returns the treatment-side U statistic, the tie-corrected
// normal approximation z, and the two-tailed p-value. The approximation is
// adequate for moderate-to-large samples, which the minimum-sample policy
// guarantees.
func mannWhitneyU(controlSamples, treatmentSamples []float64) (u, z, pValue float64) {
	n1 := len(controlSamples)
	n2 := len(treatmentSamples)
	n := n1 + n2

	type obs struct {
		value   float64
		control bool
	}
	all := make([]obs, 0, n)
	for _, v := range controlSamples {
		all = append(all, obs{value: v, control: true})
	}
	for _, v := range treatmentSamples {
		all = append(all, obs{value: v, control: false})
	}
	sort.Slice(all, func(i, j int) bool { return all[i].value < all[j].value })

	// Average ranks over ties; accumulate the tie-correction term.
	ranks := make([]float64, n)
	tieCorrection := 0.0
	for i := 0; i < n; {
		j := i
		for j < n && all[j].value == all[i].value {
			j++
		}
		avgRank := float64(i+j+1) / 2 // ranks are 1-based
		for k := i; k < j; k++ {
			ranks[k] = avgRank
		}
		if size := float64(j - i); size > 1 {
			tieCorrection += size*size*size - size
		}
		i = j
	}

	r1 := 0.0
	for i, o := range all {
		if o.control {
			r1 += ranks[i]
		}
	}

	fn1, fn2, fn := float64(n1), float64(n2), float64(n)
	u1 := r1 - fn1*(fn1+1)/2
	u2 := fn1*fn2 - u1

	mu := fn1 * fn2 / 2
	sigma := math.Sqrt(fn1 * fn2 / 12 * ((fn + 1) - tieCorrection/(fn*(fn-1))))
	if sigma == 0 {
		return u2, 0, 1
	}

	// Continuity-uncorrected z on the treatment's U.
	z = (u2 - mu) / sigma
	pValue = 2 * (1 - stdNormal.CDF(math.Abs(z)))
	return u2, z, pValue
}
