// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package api serves the planner over HTTP and WebSocket.
//
// Routes, all under /v1/htn:
//
//	GET    /health                 liveness and counts
//	GET    /domains                catalog domains and problems
//	POST   /plan                   batch plan
//	POST   /sessions               open a tutoring session
//	GET    /sessions/:id           session info
//	POST   /sessions/:id/resume    answer the pending output
//	DELETE /sessions/:id           close a session
//	GET    /sessions/:id/ws        drive a session over a WebSocket
//	GET    /runs                   recorded runs, newest first
//	GET    /runs/:id               one recorded run
//
// Prometheus metrics are served at /metrics.
package api

import (
	"errors"
	"log/slog"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/AleutianAI/AleutianHTN/services/planner/engine"
	"github.com/AleutianAI/AleutianHTN/services/planner/telemetry"
)

var errHistoryDisabled = errors.New("run history is disabled")

// Options configures a Server.
type Options struct {
	// ServiceName labels otelgin spans.
	ServiceName string

	// Planner is the base batch configuration. Requests may override the
	// seed, selector and iteration limit.
	Planner engine.Config

	// Session is the base interactive configuration.
	Session engine.Config

	// RateLimit and Burst configure the per-IP limiter. RateLimit <= 0
	// disables it.
	RateLimit float64
	Burst     int

	// Store records runs. Nil disables history.
	Store RunStore

	Metrics *telemetry.Metrics
	Logger  *slog.Logger
}

// Server holds the API's dependencies.
type Server struct {
	catalog  *Catalog
	sessions *SessionManager
	store    RunStore
	metrics  *telemetry.Metrics
	logger   *slog.Logger
	limiter  *RateLimiter
	planner  engine.Config
	session  engine.Config
	service  string
}

// NewServer wires a server over catalog and sessions.
func NewServer(catalog *Catalog, sessions *SessionManager, opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	service := opts.ServiceName
	if service == "" {
		service = "htn"
	}
	s := &Server{
		catalog:  catalog,
		sessions: sessions,
		store:    opts.Store,
		metrics:  opts.Metrics,
		logger:   logger.With(slog.String("component", "api")),
		planner:  opts.Planner,
		session:  opts.Session,
		service:  service,
	}
	if opts.RateLimit > 0 {
		burst := opts.Burst
		if burst < 1 {
			burst = 1
		}
		s.limiter = NewRateLimiter(opts.RateLimit, burst)
	}
	return s
}

// Router builds the gin engine.
func (s *Server) Router() *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware(s.service))
	router.Use(requestID(), observe(s.logger, s.metrics))

	router.GET("/metrics", gin.WrapH(telemetry.MetricsHandler()))

	v1 := router.Group("/v1/htn")
	if s.limiter != nil {
		v1.Use(s.limiter.Middleware())
	}
	{
		v1.GET("/health", s.HandleHealth)
		v1.GET("/domains", s.HandleDomains)
		v1.POST("/plan", s.HandlePlan)

		sessions := v1.Group("/sessions")
		{
			sessions.POST("", s.HandleOpenSession)
			sessions.GET("/:id", s.HandleGetSession)
			sessions.POST("/:id/resume", s.HandleResume)
			sessions.DELETE("/:id", s.HandleCloseSession)
			sessions.GET("/:id/ws", s.HandleSessionSocket)
		}

		runs := v1.Group("/runs")
		{
			runs.GET("", s.HandleListRuns)
			runs.GET("/:id", s.HandleGetRun)
		}
	}
	return router
}
