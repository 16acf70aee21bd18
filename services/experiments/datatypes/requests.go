// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// This file contains request and response types for the experiments HTTP
// API. Engine-level validation (weight sums, control membership, lifecycle
// rules) lives in the engine package; the tags here only reject requests
// that are structurally malformed.
package datatypes

import (
	"time"

	"github.com/go-playground/validator/v10"
)

const (
	// MaxSubjectIDBytes bounds subject identifiers. Per SEC-007:
	// unbounded keys would let callers grow the participant keyspace
	// without limit.
	MaxSubjectIDBytes = 256

	// MaxExperimentNameBytes bounds experiment names.
	MaxExperimentNameBytes = 512
)

// CreateExperimentRequest is the body of POST /v1/experiments.
type CreateExperimentRequest struct {
	Name        string `json:"name" validate:"required,max=512"`
	Description string `json:"description"`
	Kind        string `json:"kind"`

	Variants []VariantConfig `json:"variants" validate:"required,min=2,dive"`

	ControlVariantID string `json:"control_variant_id" validate:"required"`

	AllocationMethod AllocationMethod `json:"allocation_method" validate:"required"`
	SignificanceTest SignificanceTest `json:"significance_test" validate:"required"`

	ConfidenceLevel         float64 `json:"confidence_level"`
	MinimumDetectableEffect float64 `json:"minimum_detectable_effect"`
	SampleSizeRequired      int64   `json:"sample_size_required"`
	DurationDays            int     `json:"duration_days"`
}

// VariantConfig is one variant in a create request.
type VariantConfig struct {
	ID         string  `json:"id" validate:"required"`
	Name       string  `json:"name" validate:"required"`
	Weight     float64 `json:"weight" validate:"required"`
	PayloadRef string  `json:"payload_ref"`
}

// AssignRequest is the body of POST /v1/experiments/:id/assign.
type AssignRequest struct {
	SubjectID string `json:"subject_id" validate:"required,max=256"`
	Segment   string `json:"segment" validate:"max=128"`
}

// AssignResponse carries the assignment back to the caller. Content
// generators resolve PayloadRef against their own store; the engine never
// interprets it.
type AssignResponse struct {
	ExperimentID string `json:"experiment_id"`
	SubjectID    string `json:"subject_id"`
	VariantID    string `json:"variant_id"`
	PayloadRef   string `json:"variant_payload_ref"`
}

// RecordResultRequest is the body of POST /v1/experiments/:id/results.
type RecordResultRequest struct {
	SubjectID    string             `json:"subject_id" validate:"required,max=256"`
	Success      bool               `json:"success"`
	MetricValues map[string]float64 `json:"metric_values" validate:"max=32"`
	Timestamp    *time.Time         `json:"timestamp"`
}

// RecordResultResponse returns the id of the appended result.
type RecordResultResponse struct {
	ResultID     string        `json:"result_id"`
	QualityFlags []QualityFlag `json:"quality_flags,omitempty"`
}

// ErrorResponse is the uniform error body: a stable machine-readable kind
// plus a human message.
type ErrorResponse struct {
	Kind    string   `json:"kind"`
	Message string   `json:"message"`
	Details []string `json:"details,omitempty"`

	// Status is the experiment's current lifecycle state, populated on
	// state errors so callers can decide to no-op.
	Status ExperimentStatus `json:"status,omitempty"`
}

var validate = validator.New()

// Validate checks the structural constraints of a create request.
func (r *CreateExperimentRequest) Validate() error { return validate.Struct(r) }

// Validate checks the structural constraints of an assign request.
func (r *AssignRequest) Validate() error { return validate.Struct(r) }

// Validate checks the structural constraints of a record-result request.
func (r *RecordResultRequest) Validate() error { return validate.Struct(r) }
