// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package telemetry

import (
	"fmt"

	"go.opentelemetry.io/otel/metric"
)

// Metrics holds the OTel instruments recorded by the planner service.
//
// Description:
//
//	All instruments use the "htn_" prefix. Engine-level counters live in
//	the engine package as Prometheus collectors; these cover the service
//	surface (HTTP and sessions) and run history.
//
// Thread Safety: Safe for concurrent use after creation.
type Metrics struct {
	// HTTPRequestsTotal counts HTTP requests by route and status.
	HTTPRequestsTotal metric.Int64Counter

	// HTTPRequestDuration records request latency in seconds.
	HTTPRequestDuration metric.Float64Histogram

	// SessionsActive tracks open interactive sessions.
	SessionsActive metric.Int64UpDownCounter

	// SessionRepliesTotal counts resume calls by reply and output kind.
	SessionRepliesTotal metric.Int64Counter

	// RunsStoredTotal counts run records written to storage by outcome.
	RunsStoredTotal metric.Int64Counter

	// DomainReloadsTotal counts domain hot reloads by status.
	DomainReloadsTotal metric.Int64Counter
}

// NewMetrics registers every instrument on meter.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	m := &Metrics{}
	var err error

	m.HTTPRequestsTotal, err = meter.Int64Counter(
		"htn_http_requests_total",
		metric.WithDescription("Total HTTP requests"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create http_requests_total: %w", err)
	}

	m.HTTPRequestDuration, err = meter.Float64Histogram(
		"htn_http_request_duration_seconds",
		metric.WithDescription("HTTP request duration in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10),
	)
	if err != nil {
		return nil, fmt.Errorf("create http_request_duration: %w", err)
	}

	m.SessionsActive, err = meter.Int64UpDownCounter(
		"htn_sessions_active",
		metric.WithDescription("Open interactive planning sessions"),
		metric.WithUnit("{session}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create sessions_active: %w", err)
	}

	m.SessionRepliesTotal, err = meter.Int64Counter(
		"htn_session_replies_total",
		metric.WithDescription("Interactive resume calls by reply and output"),
		metric.WithUnit("{reply}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create session_replies_total: %w", err)
	}

	m.RunsStoredTotal, err = meter.Int64Counter(
		"htn_runs_stored_total",
		metric.WithDescription("Run records written to storage"),
		metric.WithUnit("{run}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create runs_stored_total: %w", err)
	}

	m.DomainReloadsTotal, err = meter.Int64Counter(
		"htn_domain_reloads_total",
		metric.WithDescription("Domain file reloads by status"),
		metric.WithUnit("{reload}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create domain_reloads_total: %w", err)
	}

	return m, nil
}
