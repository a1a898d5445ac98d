// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel"
	"golang.org/x/sync/errgroup"

	"github.com/AleutianAI/AleutianHTN/services/planner/api"
	"github.com/AleutianAI/AleutianHTN/services/planner/telemetry"
)

const (
	shutdownTimeout = 10 * time.Second
	sweepInterval   = time.Minute
)

func newServeCmd(a *app) *cobra.Command {
	var addr, domainDir string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the planner over HTTP and WebSocket",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if addr != "" {
				a.cfg.Server.Addr = addr
			}
			if domainDir != "" {
				a.cfg.Server.DomainDir = domainDir
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			ln, err := net.Listen("tcp", a.cfg.Server.Addr)
			if err != nil {
				return fmt.Errorf("listen on %s: %w", a.cfg.Server.Addr, err)
			}
			return a.serve(ctx, ln, nil)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default from config)")
	cmd.Flags().StringVar(&domainDir, "domains", "", "directory of domain files to watch")
	return cmd
}

// serve runs the HTTP server, the domain watcher and the session janitor
// until ctx is done or one of them fails. ready, when non-nil, is closed
// once the server accepts connections.
func (a *app) serve(ctx context.Context, ln net.Listener, ready chan<- struct{}) error {
	logger := a.log.Slog()

	shutdownTelemetry, err := telemetry.Init(ctx, a.cfg.Telemetry)
	if err != nil {
		_ = ln.Close()
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := shutdownTelemetry(sctx); err != nil {
			logger.Warn("telemetry shutdown", slog.String("error", err.Error()))
		}
	}()

	metrics, err := telemetry.NewMetrics(otel.GetMeterProvider().Meter("github.com/AleutianAI/AleutianHTN/services/planner/api"))
	if err != nil {
		_ = ln.Close()
		return err
	}

	store, err := a.openStore()
	if err != nil {
		_ = ln.Close()
		return fmt.Errorf("open run history: %w", err)
	}
	var runs api.RunStore
	if store != nil {
		defer store.Close()
		runs = store
	}

	catalog := api.NewCatalog()
	if err := catalog.LoadExamples(); err != nil {
		_ = ln.Close()
		return err
	}
	var watcher *api.DomainWatcher
	if dir := a.cfg.Server.DomainDir; dir != "" {
		if watcher, err = api.NewDomainWatcher(dir, catalog, logger, metrics); err != nil {
			_ = ln.Close()
			return err
		}
	}

	sessions := api.NewSessionManager(a.cfg.Server.SessionTTL, a.cfg.Server.MaxSessions, runs, metrics, logger)
	server := api.NewServer(catalog, sessions, api.Options{
		ServiceName: a.cfg.Telemetry.ServiceName,
		Planner:     a.cfg.Planner.Engine(false),
		Session:     a.cfg.Planner.Engine(true),
		RateLimit:   a.cfg.Server.RateLimit,
		Burst:       a.cfg.Server.Burst,
		Store:       runs,
		Metrics:     metrics,
		Logger:      logger,
	})

	gin.SetMode(gin.ReleaseMode)
	httpServer := &http.Server{
		Handler:           server.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("htn server listening", slog.String("addr", ln.Addr().String()), slog.String("version", version))
		if ready != nil {
			close(ready)
		}
		if err := httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return httpServer.Shutdown(sctx)
	})
	g.Go(func() error {
		return sessions.Run(gctx, sweepInterval)
	})
	if watcher != nil {
		g.Go(func() error {
			return watcher.Run(gctx)
		})
	}

	err = g.Wait()
	logger.Info("htn server stopped")
	return err
}
