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
	"errors"
	"fmt"
	"hash/fnv"
	"log/slog"
	"math"
	"sort"

	"github.com/AleutianAI/AleutianExperiments/services/experiments/datatypes"
	"github.com/AleutianAI/AleutianExperiments/services/experiments/storage"
)

// Assign returns the variant for (experiment, subject), creating the
// participant record on the first call.
//
// Description:
//
//	Idempotency guarantee: the same subject always sees the same variant
//	for the lifetime of one experiment. An existing assignment is
//	returned regardless of lifecycle state — only NEW assignments require
//	the running state. Concurrent first calls for the same subject are
//	collapsed onto one storage insert; the storage layer's conditional
//	insert is the final arbiter, so exactly one participant record exists
//	per (experiment_id, subject_id) even across processes.
//
// Outputs:
//
//	*datatypes.Participant - The binding record.
//	*datatypes.Variant - The assigned variant (carries the payload ref).
//	error - ErrNotRunning for new subjects outside the running state.
func (e *Engine) Assign(ctx context.Context, experimentID, subjectID, segment string) (*datatypes.Participant, *datatypes.Variant, error) {
	exp, err := e.repo.GetExperiment(ctx, experimentID)
	if err != nil {
		return nil, nil, mapStorageErr(err)
	}

	// Read-only lookup path: already-known subjects are always served.
	if p, err := e.repo.GetParticipant(ctx, experimentID, subjectID); err == nil {
		v := exp.VariantByID(p.VariantID)
		if v == nil {
			return nil, nil, fmt.Errorf("participant references unknown variant %s", p.VariantID)
		}
		return p, v, nil
	} else if !errors.Is(err, storage.ErrNotFound) {
		return nil, nil, err
	}

	// A due end time or a filled sample size closes the experiment before
	// the triggering subject gets in.
	exp = e.maybeAutoComplete(ctx, exp)

	if exp.Status != datatypes.StatusRunning {
		return nil, nil, fmt.Errorf("%w: experiment %s is %s",
			ErrNotRunning, experimentID, exp.Status)
	}

	variant, err := e.selectVariant(exp, subjectID)
	if err != nil {
		return nil, nil, err
	}

	key := experimentID + "/" + subjectID
	stored, err, _ := e.assignGroup.Do(key, func() (any, error) {
		p := &datatypes.Participant{
			ExperimentID: experimentID,
			SubjectID:    subjectID,
			VariantID:    variant.ID,
			AssignedAt:   e.clock(),
			Segment:      segment,
		}
		winner, created, err := e.repo.CreateParticipant(ctx, p)
		if err != nil {
			return nil, err
		}
		if created {
			e.metrics.ObserveAssignment(string(exp.AllocationMethod))
			e.logger.Debug("participant assigned",
				slog.String("experiment_id", experimentID),
				slog.String("subject_id", subjectID),
				slog.String("variant_id", winner.VariantID),
				slog.String("method", string(exp.AllocationMethod)),
			)
		}
		return winner, nil
	})
	if err != nil {
		return nil, nil, err
	}

	p := stored.(*datatypes.Participant)
	// A concurrent caller may have won the insert with a different draw.
	v := exp.VariantByID(p.VariantID)
	if v == nil {
		return nil, nil, fmt.Errorf("participant references unknown variant %s", p.VariantID)
	}
	return p, v, nil
}

// selectVariant dispatches on the experiment's allocation method.
func (e *Engine) selectVariant(exp *datatypes.Experiment, subjectID string) (*datatypes.Variant, error) {
	switch exp.AllocationMethod {
	case datatypes.AllocationUniformRandom, datatypes.AllocationWeightedRandom:
		// Both map a fresh uniform draw onto the cumulative weight
		// distribution; the participant record makes the outcome sticky.
		return pickCumulative(exp, e.float64n()), nil
	case datatypes.AllocationDeterministicHash:
		return pickCumulative(exp, hashPosition(exp.ID, subjectID)), nil
	case datatypes.AllocationAdaptiveBandit:
		return pickUCB(exp), nil
	default:
		return nil, fmt.Errorf("unknown allocation method %q", exp.AllocationMethod)
	}
}

// sortedVariants returns the experiment's variants in id order. The fixed
// order makes cumulative-weight mapping stable for the deterministic hash.
func sortedVariants(exp *datatypes.Experiment) []*datatypes.Variant {
	vs := make([]*datatypes.Variant, len(exp.Variants))
	for i := range exp.Variants {
		vs[i] = &exp.Variants[i]
	}
	sort.Slice(vs, func(i, j int) bool { return vs[i].ID < vs[j].ID })
	return vs
}

// pickCumulative maps a position in [0,1) onto the cumulative weight
// distribution of the variants in id-sorted order. Weights are normalized
// by their actual sum so the creation-time tolerance cannot leave a dead
// zone at the top of the range.
func pickCumulative(exp *datatypes.Experiment, x float64) *datatypes.Variant {
	vs := sortedVariants(exp)
	total := 0.0
	for _, v := range vs {
		total += v.Weight
	}
	cum := 0.0
	for _, v := range vs {
		cum += v.Weight / total
		if x < cum {
			return v
		}
	}
	return vs[len(vs)-1]
}

// hashPosition computes a stable position in [0,1) from a 64-bit FNV-1a
// hash of experiment_id and subject_id. Reproducible across process
// restarts, which is what makes A/A tests and assignment debugging
// possible with this method.
func hashPosition(experimentID, subjectID string) float64 {
	h := fnv.New64a()
	h.Write([]byte(experimentID))
	h.Write([]byte{0})
	h.Write([]byte(subjectID))
	return float64(h.Sum64()) / float64(math.MaxUint64)
}

// pickUCB selects the variant maximizing estimate + exploration bonus:
//
//	estimate = success_count / participant_count
//	bonus    = sqrt(2 * ln(total_participants) / participant_count)
//
// Unsampled variants take maximal exploration priority. Ties break on the
// lowest variant id for determinism. Selection depends on accumulated
// aggregates, so unlike the deterministic hash it is intentionally not
// reproducible run to run.
func pickUCB(exp *datatypes.Experiment) *datatypes.Variant {
	vs := sortedVariants(exp)

	var total int64
	for _, v := range vs {
		total += v.Aggregates.ParticipantCount
	}

	var best *datatypes.Variant
	bestScore := math.Inf(-1)
	for _, v := range vs {
		n := v.Aggregates.ParticipantCount
		if n == 0 {
			// Never sampled: explore first. Id order decides among
			// several unsampled arms.
			return v
		}
		estimate := float64(v.Aggregates.SuccessCount) / float64(n)
		bonus := math.Sqrt(2 * math.Log(float64(total)) / float64(n))
		if score := estimate + bonus; score > bestScore {
			bestScore = score
			best = v
		}
	}
	return best
}
