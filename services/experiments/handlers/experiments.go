// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package handlers implements the HTTP surface of the experiments service.
//
// Content-generation callers only ever hit Assign before generating and
// RecordResult after observing the outcome; they never touch experiment or
// variant rows directly.
package handlers

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/AleutianExperiments/services/experiments/datatypes"
	"github.com/AleutianAI/AleutianExperiments/services/experiments/engine"
)

// statusForKind maps the engine's error taxonomy onto HTTP status codes.
func statusForKind(kind string) int {
	switch kind {
	case "validation_error", "invalid_metric":
		return http.StatusBadRequest
	case "not_found", "no_assignment":
		return http.StatusNotFound
	case "state_error", "not_running":
		return http.StatusConflict
	case "insufficient_data":
		return http.StatusUnprocessableEntity
	case "storage_unavailable":
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// writeError renders the uniform error body: stable kind plus human
// message, with details and current state where available.
func writeError(c *gin.Context, err error) {
	kind := engine.ErrorKind(err)
	body := datatypes.ErrorResponse{Kind: kind, Message: err.Error()}

	var ve *engine.ValidationError
	if errors.As(err, &ve) {
		body.Details = ve.Violations
	}
	var se *engine.StateError
	if errors.As(err, &se) {
		body.Status = se.Current
	}
	c.JSON(statusForKind(kind), body)
}

// HealthCheck reports service liveness.
func HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// CreateExperiment handles POST /v1/experiments.
func CreateExperiment(eng *engine.Engine) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req datatypes.CreateExperimentRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, datatypes.ErrorResponse{
				Kind: "bad_request", Message: "invalid JSON body: " + err.Error(),
			})
			return
		}
		if err := req.Validate(); err != nil {
			c.JSON(http.StatusBadRequest, datatypes.ErrorResponse{
				Kind: "bad_request", Message: err.Error(),
			})
			return
		}
		exp, err := eng.CreateExperiment(c.Request.Context(), &req)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusCreated, exp)
	}
}

// ListExperiments handles GET /v1/experiments?status=running.
func ListExperiments(eng *engine.Engine) gin.HandlerFunc {
	return func(c *gin.Context) {
		status := datatypes.ExperimentStatus(c.Query("status"))
		exps, err := eng.ListExperiments(c.Request.Context(), status)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"experiments": exps})
	}
}

// GetExperiment handles GET /v1/experiments/:experimentId.
func GetExperiment(eng *engine.Engine) gin.HandlerFunc {
	return func(c *gin.Context) {
		exp, err := eng.GetExperiment(c.Request.Context(), c.Param("experimentId"))
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, exp)
	}
}

// transitionHandler builds a handler around one lifecycle operation.
func transitionHandler(op func(*gin.Context, string) (*datatypes.Experiment, error)) gin.HandlerFunc {
	return func(c *gin.Context) {
		exp, err := op(c, c.Param("experimentId"))
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, exp)
	}
}

// StartExperiment handles POST /v1/experiments/:experimentId/start.
func StartExperiment(eng *engine.Engine) gin.HandlerFunc {
	return transitionHandler(func(c *gin.Context, id string) (*datatypes.Experiment, error) {
		return eng.StartExperiment(c.Request.Context(), id)
	})
}

// PauseExperiment handles POST /v1/experiments/:experimentId/pause.
func PauseExperiment(eng *engine.Engine) gin.HandlerFunc {
	return transitionHandler(func(c *gin.Context, id string) (*datatypes.Experiment, error) {
		return eng.PauseExperiment(c.Request.Context(), id)
	})
}

// ResumeExperiment handles POST /v1/experiments/:experimentId/resume.
func ResumeExperiment(eng *engine.Engine) gin.HandlerFunc {
	return transitionHandler(func(c *gin.Context, id string) (*datatypes.Experiment, error) {
		return eng.ResumeExperiment(c.Request.Context(), id)
	})
}

// CompleteExperiment handles POST /v1/experiments/:experimentId/complete.
func CompleteExperiment(eng *engine.Engine) gin.HandlerFunc {
	return transitionHandler(func(c *gin.Context, id string) (*datatypes.Experiment, error) {
		return eng.CompleteExperiment(c.Request.Context(), id)
	})
}

// DeployExperiment handles POST /v1/experiments/:experimentId/deploy.
func DeployExperiment(eng *engine.Engine) gin.HandlerFunc {
	return transitionHandler(func(c *gin.Context, id string) (*datatypes.Experiment, error) {
		return eng.DeployExperiment(c.Request.Context(), id)
	})
}

// CancelExperiment handles POST /v1/experiments/:experimentId/cancel.
func CancelExperiment(eng *engine.Engine) gin.HandlerFunc {
	return transitionHandler(func(c *gin.Context, id string) (*datatypes.Experiment, error) {
		return eng.CancelExperiment(c.Request.Context(), id)
	})
}

// Assign handles POST /v1/experiments/:experimentId/assign.
func Assign(eng *engine.Engine) gin.HandlerFunc {
	return func(c *gin.Context) {
		experimentID := c.Param("experimentId")
		var req datatypes.AssignRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, datatypes.ErrorResponse{
				Kind: "bad_request", Message: "invalid JSON body: " + err.Error(),
			})
			return
		}
		if err := req.Validate(); err != nil {
			c.JSON(http.StatusBadRequest, datatypes.ErrorResponse{
				Kind: "bad_request", Message: err.Error(),
			})
			return
		}
		p, v, err := eng.Assign(c.Request.Context(), experimentID, req.SubjectID, req.Segment)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, datatypes.AssignResponse{
			ExperimentID: experimentID,
			SubjectID:    p.SubjectID,
			VariantID:    v.ID,
			PayloadRef:   v.PayloadRef,
		})
	}
}

// RecordResult handles POST /v1/experiments/:experimentId/results.
func RecordResult(eng *engine.Engine) gin.HandlerFunc {
	return func(c *gin.Context) {
		experimentID := c.Param("experimentId")
		var req datatypes.RecordResultRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, datatypes.ErrorResponse{
				Kind: "bad_request", Message: "invalid JSON body: " + err.Error(),
			})
			return
		}
		if err := req.Validate(); err != nil {
			c.JSON(http.StatusBadRequest, datatypes.ErrorResponse{
				Kind: "bad_request", Message: err.Error(),
			})
			return
		}
		res, err := eng.RecordResult(c.Request.Context(), experimentID,
			req.SubjectID, req.Success, req.MetricValues, req.Timestamp)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusCreated, datatypes.RecordResultResponse{
			ResultID:     res.ID,
			QualityFlags: res.QualityFlags,
		})
	}
}

// Analyze handles POST /v1/experiments/:experimentId/analyze.
func Analyze(eng *engine.Engine) gin.HandlerFunc {
	return func(c *gin.Context) {
		experimentID := c.Param("experimentId")
		slog.Info("analysis requested", "experimentId", experimentID)
		report, err := eng.Analyze(c.Request.Context(), experimentID)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, report)
	}
}

// GetReport handles GET /v1/experiments/:experimentId/report.
func GetReport(eng *engine.Engine) gin.HandlerFunc {
	return func(c *gin.Context) {
		report, err := eng.GetReport(c.Request.Context(), c.Param("experimentId"))
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, report)
	}
}
