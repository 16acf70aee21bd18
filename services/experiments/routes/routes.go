// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package routes

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/AleutianAI/AleutianExperiments/services/experiments/engine"
	"github.com/AleutianAI/AleutianExperiments/services/experiments/handlers"
)

// SetupRoutes wires the experiments API onto router.
func SetupRoutes(router *gin.Engine, eng *engine.Engine, gatherer prometheus.Gatherer) {
	router.Use(otelgin.Middleware("experiments"))

	router.GET("/health", handlers.HealthCheck)
	if gatherer != nil {
		router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))
	}

	// API version 1 group
	v1 := router.Group("/v1")
	{
		experiments := v1.Group("/experiments")
		{
			experiments.POST("", handlers.CreateExperiment(eng))
			experiments.GET("", handlers.ListExperiments(eng))
			experiments.GET("/:experimentId", handlers.GetExperiment(eng))
			// Lifecycle transitions
			experiments.POST("/:experimentId/start", handlers.StartExperiment(eng))
			experiments.POST("/:experimentId/pause", handlers.PauseExperiment(eng))
			experiments.POST("/:experimentId/resume", handlers.ResumeExperiment(eng))
			experiments.POST("/:experimentId/complete", handlers.CompleteExperiment(eng))
			experiments.POST("/:experimentId/deploy", handlers.DeployExperiment(eng))
			experiments.POST("/:experimentId/cancel", handlers.CancelExperiment(eng))
			// Hot path for generation callers
			experiments.POST("/:experimentId/assign", handlers.Assign(eng))
			experiments.POST("/:experimentId/results", handlers.RecordResult(eng))
			// Analysis and reporting
			experiments.POST("/:experimentId/analyze", handlers.Analyze(eng))
			experiments.GET("/:experimentId/report", handlers.GetReport(eng))
		}
	}
}
