/*
 * Copyright (C) 2025-2026, Advanced Micro Devices, Inc. All rights reserved.
 * See LICENSE for license information.
 */

// Package server assembles the process: configuration, collaborators, the
// REST engine, and the two background runners, all bound to one signal
// context.
package server

import (
	"context"
	"errors"
	goflag "flag"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/spf13/pflag"
	"k8s.io/klog/v2"
	"k8s.io/klog/v2/klogr"
	ctrlruntime "sigs.k8s.io/controller-runtime"

	"github.com/AMD-AIG-AIMA/skydriver/pkg/backlog"
	"github.com/AMD-AIG-AIMA/skydriver/pkg/clusters"
	"github.com/AMD-AIG-AIMA/skydriver/pkg/config"
	dbclient "github.com/AMD-AIG-AIMA/skydriver/pkg/database/client"
	skyerrors "github.com/AMD-AIG-AIMA/skydriver/pkg/errors"
	"github.com/AMD-AIG-AIMA/skydriver/pkg/ewms"
	"github.com/AMD-AIG-AIMA/skydriver/pkg/handlers"
	"github.com/AMD-AIG-AIMA/skydriver/pkg/images"
	"github.com/AMD-AIG-AIMA/skydriver/pkg/k8s"
	"github.com/AMD-AIG-AIMA/skydriver/pkg/s3"
	"github.com/AMD-AIG-AIMA/skydriver/pkg/watchdog"
)

// Server owns the HTTP surface and the background runners.
type Server struct {
	httpServer *http.Server

	store *dbclient.Client
	ewms  *ewms.Client
	k8s   *k8s.Wrapper
	s3    *s3.Client

	ctx      context.Context
	isInited bool
}

// NewServer creates and initializes a Server instance.
func NewServer() (*Server, error) {
	s := &Server{
		ctx: ctrlruntime.SetupSignalHandler(),
	}
	if err := s.init(); err != nil {
		return nil, err
	}
	return s, nil
}

// init parses flags, loads configuration and the cluster registry, and
// connects the collaborators.
func (s *Server) init() error {
	gin.SetMode(gin.ReleaseMode)
	var configPath string
	pflag.StringVar(&configPath, "config", "", "optional yaml config file; environment variables win")
	klog.InitFlags(nil)
	pflag.CommandLine.AddGoFlagSet(goflag.CommandLine)
	pflag.Parse()
	ctrlruntime.SetLogger(klogr.NewWithOptions())

	if err := config.Init(configPath); err != nil {
		klog.ErrorS(err, "failed to init config")
		return err
	}
	if err := clusters.Init(config.GetKnownClustersConfig()); err != nil {
		klog.ErrorS(err, "failed to init cluster registry")
		return err
	}
	if s.store = dbclient.NewClient(s.ctx); s.store == nil {
		return skyerrors.NewInternalError("failed to init mongo client")
	}
	clientset, _, err := k8s.NewClientSet()
	if err != nil {
		klog.ErrorS(err, "failed to init k8s client")
		return err
	}
	s.k8s = k8s.NewWrapper(clientset, config.GetK8sNamespace())
	s.ewms = ewms.NewClient(s.ctx)
	if s.s3, err = s3.NewClient(s.ctx); err != nil {
		klog.ErrorS(err, "failed to init s3 presigner")
		return err
	}
	s.isInited = true
	return nil
}

// Start runs the HTTP server and the runners until a signal arrives, then
// shuts down gracefully.
func (s *Server) Start() {
	if !s.isInited {
		klog.Errorf("please init the server first")
		return
	}
	klog.Infof("starting skydriver")

	go func() {
		if err := s.startHttpServer(); err != nil {
			klog.ErrorS(err, "failed to start http-server")
		}
	}()
	go backlog.NewRunner(s.store, s.ewms, s.k8s).Run(s.ctx)
	go watchdog.NewRunner(s.store, s.k8s, watchdog.DefaultRescanFunc(s.ctx)).Run(s.ctx)

	<-s.ctx.Done()
	s.Stop()
}

// Stop shuts the HTTP server down, closes the store, and flushes logs.
func (s *Server) Stop() {
	klog.Info("shutting down http server...")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if s.httpServer != nil {
		if err := s.httpServer.Shutdown(ctx); err != nil {
			klog.ErrorS(err, "failed to shutdown http server")
		}
	}
	s.store.Close(ctx)
	klog.Info("skydriver is stopped")
	klog.Flush()
}

func (s *Server) startHttpServer() error {
	if config.GetRestPort() <= 0 {
		return fmt.Errorf("the rest port is not defined")
	}
	handler := handlers.NewHandler(
		s.store,
		s.ewms,
		s.k8s,
		images.NewResolver(config.GetScannerImageRepository()),
		s.s3,
		handlers.NewTokenMinter(),
	)
	engine, err := handlers.InitHttpHandlers(s.ctx, handler)
	if err != nil {
		return err
	}
	addr := fmt.Sprintf(":%d", config.GetRestPort())
	s.httpServer = &http.Server{Addr: addr, Handler: engine}
	klog.Infof("http-server listen port: %d", config.GetRestPort())
	if err = s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
