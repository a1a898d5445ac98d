// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/AleutianAI/AleutianHTN/services/planner/telemetry"
)

// DefaultDebounce is the quiet period before changed files are reloaded.
const DefaultDebounce = 250 * time.Millisecond

// DomainWatcher reloads catalog domains when files in a directory change.
//
// # Description
//
// Editors save in bursts (truncate, write, rename), so events are collected
// per path and applied once the directory has been quiet for the debounce
// window. A path that still exists is reparsed; a path that is gone has
// its domain removed. A file that fails to parse keeps the last good
// version of its domain.
//
// # Thread Safety
//
// Run must be called once. Reloaded reports completed batches and may be
// read from any goroutine.
type DomainWatcher struct {
	dir      string
	catalog  *Catalog
	logger   *slog.Logger
	metrics  *telemetry.Metrics
	debounce time.Duration
	watcher  *fsnotify.Watcher

	// Reloaded receives the number of paths applied after each batch.
	// Sends never block; a full channel drops the notification.
	Reloaded chan int
}

// NewDomainWatcher loads every domain file in dir into catalog and starts
// watching the directory. metrics may be nil.
func NewDomainWatcher(dir string, catalog *Catalog, logger *slog.Logger, metrics *telemetry.Metrics) (*DomainWatcher, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := catalog.LoadDir(dir); err != nil {
		logger.Warn("some domain files failed to load", slog.String("dir", dir), slog.String("error", err.Error()))
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}
	if err := fw.Add(dir); err != nil {
		_ = fw.Close()
		return nil, fmt.Errorf("watch %s: %w", dir, err)
	}
	return &DomainWatcher{
		dir:      dir,
		catalog:  catalog,
		logger:   logger.With(slog.String("component", "domain_watcher")),
		metrics:  metrics,
		debounce: DefaultDebounce,
		watcher:  fw,
		Reloaded: make(chan int, 16),
	}, nil
}

// SetDebounce changes the debounce window. Call before Run.
func (w *DomainWatcher) SetDebounce(d time.Duration) {
	if d > 0 {
		w.debounce = d
	}
}

// Run processes events until ctx is done, then closes the watcher.
func (w *DomainWatcher) Run(ctx context.Context) error {
	defer w.watcher.Close()
	w.logger.Info("watching domain directory", slog.String("dir", w.dir))

	pending := make(map[string]struct{})
	var timer *time.Timer
	var timerC <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return nil

		case event, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}
			if !isDomainFile(event.Name) || event.Op == fsnotify.Chmod {
				continue
			}
			pending[event.Name] = struct{}{}
			if timer == nil {
				timer = time.NewTimer(w.debounce)
				timerC = timer.C
			} else {
				timer.Reset(w.debounce)
			}

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("watcher error", slog.String("error", err.Error()))

		case <-timerC:
			timer, timerC = nil, nil
			n := len(pending)
			for path := range pending {
				w.apply(ctx, path)
			}
			clear(pending)
			select {
			case w.Reloaded <- n:
			default:
			}
		}
	}
}

func (w *DomainWatcher) apply(ctx context.Context, path string) {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		if name, ok := w.catalog.RemoveFile(path); ok {
			w.logger.Info("domain removed", slog.String("domain", name), slog.String("path", path))
			w.record(ctx, "removed")
		}
		return
	}
	name, err := w.catalog.LoadFile(path)
	if err != nil {
		w.logger.Warn("domain reload failed", slog.String("path", path), slog.String("error", err.Error()))
		w.record(ctx, "error")
		return
	}
	w.logger.Info("domain reloaded", slog.String("domain", name), slog.String("path", path))
	w.record(ctx, "ok")
}

func (w *DomainWatcher) record(ctx context.Context, status string) {
	if w.metrics == nil {
		return
	}
	w.metrics.DomainReloadsTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("status", status)))
}
