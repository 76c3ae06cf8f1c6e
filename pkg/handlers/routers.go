/*
 * Copyright (C) 2025-2026, Advanced Micro Devices, Inc. All rights reserved.
 * See LICENSE for license information.
 */

package handlers

import (
	"context"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"k8s.io/klog/v2"

	"github.com/AMD-AIG-AIMA/skydriver/pkg/handlers/middleware"
	"github.com/AMD-AIG-AIMA/skydriver/pkg/metrics"
)

// InitHttpHandlers builds the REST engine around an already-wired Handler.
// The server owns collaborator construction; tests pass a Handler over
// fakes.
func InitHttpHandlers(ctx context.Context, handler *Handler) (*gin.Engine, error) {
	auth, err := middleware.NewAuthenticator(ctx)
	if err != nil {
		return nil, err
	}
	engine := gin.New()
	engine.Use(Logger(), requestMetrics(), gin.Recovery())
	engine.NoRoute(NoRoute)
	InitScanRouters(engine, handler, auth)
	return engine, nil
}

// InitScanRouters mounts every route with its role requirement.
func InitScanRouters(engine *gin.Engine, handler *Handler, auth *middleware.Authenticator) {
	engine.GET("/", handler.Live)
	engine.GET("/metrics", metrics.Handler())

	anyRole := auth.Require(middleware.RoleUser, middleware.RoleSystem)
	userOnly := auth.Require(middleware.RoleUser)
	system := auth.Require(middleware.RoleSystem)

	engine.POST("/scan", anyRole, handler.PostScan)
	scan := engine.Group("/scan/:id")
	{
		// rescan stays open to the system role: the pod watchdog triggers
		// replacement rescans with its own service token
		shared := scan.Group("", anyRole, handler.RedirectIfReplaced)
		shared.GET("", handler.GetScan)
		shared.GET("/manifest", handler.GetManifest)
		shared.GET("/result", handler.GetResult)
		shared.GET("/status", handler.GetStatus)
		shared.POST("/actions/rescan", handler.Rescan)

		user := scan.Group("", userOnly, handler.RedirectIfReplaced)
		user.DELETE("", handler.DeleteScan)
		user.GET("/logs", handler.GetLogs)
		user.POST("/actions/add-workers", handler.AddWorkers)
	}
	// the scanner server reports in with the system role
	engine.PATCH("/scan/:id/manifest", system, handler.PatchManifest)
	engine.PUT("/scan/:id/result", system, handler.PutResult)

	engine.POST("/scans/find", anyRole, handler.FindScans)
	engine.GET("/scans/backlog", anyRole, handler.GetBacklog)
	klog.Info("scan routers initialized")
}

func requestMetrics() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		metrics.RequestDuration.
			WithLabelValues(c.Request.Method, path, strconv.Itoa(c.Writer.Status())).
			Observe(time.Since(start).Seconds())
	}
}
