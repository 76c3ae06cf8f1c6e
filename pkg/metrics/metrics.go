/*
 * Copyright (C) 2025-2026, Advanced Micro Devices, Inc. All rights reserved.
 * See LICENSE for license information.
 */

// Package metrics exposes the prometheus instrumentation for the REST
// layer and the background runners.
package metrics

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	BacklogClaims = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "skydriver",
		Subsystem: "backlog",
		Name:      "claims_total",
		Help:      "Backlog entries claimed by the runner, by outcome.",
	}, []string{"outcome"})

	BacklogDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "skydriver",
		Subsystem: "backlog",
		Name:      "depth",
		Help:      "Entries currently sitting in the scan backlog.",
	})

	ScansLaunched = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "skydriver",
		Name:      "scans_launched_total",
		Help:      "Scanner-server kubernetes jobs created.",
	})

	WatchdogRescans = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "skydriver",
		Subsystem: "watchdog",
		Name:      "rescans_total",
		Help:      "Replacement rescans requested by the pod watchdog.",
	})

	RequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "skydriver",
		Subsystem: "http",
		Name:      "request_duration_seconds",
		Help:      "REST request latency.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "path", "status"})
)

// Backlog claim outcomes.
const (
	OutcomeLaunched       = "launched"
	OutcomePurgedAttempts = "purged_max_attempts"
	OutcomePurgedDeleted  = "purged_deleted_scan"
	OutcomeRetried        = "retried"
)

// Handler serves the /metrics endpoint through gin.
func Handler() gin.HandlerFunc {
	h := promhttp.Handler()
	return func(c *gin.Context) {
		h.ServeHTTP(c.Writer, c.Request)
	}
}
