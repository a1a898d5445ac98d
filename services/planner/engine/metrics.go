// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package engine

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	plansTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "htn_plans_total",
		Help: "Planning runs by outcome",
	}, []string{"outcome"})

	planDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "htn_plan_duration_seconds",
		Help:    "Wall-clock duration of batch planning runs",
		Buckets: []float64{.0005, .001, .005, .01, .05, .1, .5, 1, 5},
	})

	planIterations = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "htn_plan_iterations",
		Help:    "Machine iterations per batch planning run",
		Buckets: prometheus.ExponentialBuckets(1, 4, 10),
	})

	backtracksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "htn_backtracks_total",
		Help: "Choice points popped, by engine",
	}, []string{"engine"})

	sessionOutputsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "htn_session_outputs_total",
		Help: "Interactive session outputs by reply and output kind",
	}, []string{"reply", "output"})

	sessionReseedsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "htn_session_reseeds_total",
		Help: "Times a session re-seeded an exhausted permutation stack",
	})
)
