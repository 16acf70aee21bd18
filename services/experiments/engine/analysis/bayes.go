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
	"math/rand/v2"

	"gonum.org/v1/gonum/stat/distuv"

	"github.com/AleutianAI/AleutianExperiments/services/experiments/datatypes"
)

// runBayesian models each variant's success rate as a Beta posterior with
// a uniform Beta(1,1) prior and estimates P(variant is best) by Monte
// Carlo: one posterior draw per variant per round, counting which variant
// dominates. Significance is declared when the best variant's win
// probability exceeds the configured threshold. This sidesteps the fixed
// p-value multiple-comparison pitfall at the cost of simulation.
//
// The sampler seed is fixed by configuration, so identical data yields
// identical win probabilities.
func (a *Analyzer) runBayesian(exp *datatypes.Experiment, control *group, treatments []*group) []datatypes.VariantComparison {
	all := append([]*group{control}, treatments...)

	src := rand.NewPCG(a.cfg.MonteCarloSeed, a.cfg.MonteCarloSeed<<1|1)
	posteriors := make([]distuv.Beta, len(all))
	for i, g := range all {
		posteriors[i] = distuv.Beta{
			Alpha: float64(g.successes) + 1,
			Beta:  float64(g.trials-g.successes) + 1,
			Src:   src,
		}
	}

	wins := make([]int, len(all))
	for draw := 0; draw < a.cfg.MonteCarloDraws; draw++ {
		bestIdx := 0
		bestVal := -1.0
		for i := range posteriors {
			if v := posteriors[i].Rand(); v > bestVal {
				bestVal = v
				bestIdx = i
			}
		}
		wins[bestIdx]++
	}

	winProb := make([]float64, len(all))
	for i, w := range wins {
		winProb[i] = float64(w) / float64(a.cfg.MonteCarloDraws)
	}

	alpha := 1 - exp.ConfidenceLevel
	comparisons := make([]datatypes.VariantComparison, 0, len(treatments))
	for i, t := range treatments {
		wp := winProb[i+1] // index 0 is control
		p1, p2 := control.rate(), t.rate()

		// Credible interval from the treatment's own posterior.
		post := distuv.Beta{
			Alpha: float64(t.successes) + 1,
			Beta:  float64(t.trials-t.successes) + 1,
		}

		wpCopy := wp
		comparisons = append(comparisons, datatypes.VariantComparison{
			VariantID:       t.variantID,
			PointEstimate:   p2,
			ControlEstimate: p1,
			// Stored as 1 - win probability so smaller still means
			// stronger evidence, like a frequentist p-value.
			PValue:         1 - wp,
			WinProbability: &wpCopy,
			ConfidenceInterval: datatypes.Interval{
				Lower: post.Quantile(alpha / 2),
				Upper: post.Quantile(1 - alpha/2),
			},
			EffectSize:        cohensH(p1, p2),
			LiftPercent:       liftPercent(p1, p2),
			Significant:       wp >= a.cfg.WinProbabilityThreshold,
			Statistic:         wp,
			SampleSize:        t.trials,
			ControlSampleSize: control.trials,
		})
	}
	return comparisons
}
