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
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/AleutianAI/AleutianHTN/services/planner/cond"
	"github.com/AleutianAI/AleutianHTN/services/planner/domain"
	"github.com/AleutianAI/AleutianHTN/services/planner/domainfile"
	"github.com/AleutianAI/AleutianHTN/services/planner/engine"
	"github.com/AleutianAI/AleutianHTN/services/planner/storage/badger"
	"github.com/AleutianAI/AleutianHTN/services/planner/tasknet"
	"github.com/AleutianAI/AleutianHTN/services/planner/telemetry"
)

func tutorSpec(t *testing.T) SessionSpec {
	t.Helper()
	d, p, err := domainfile.Example("fraction_tutor")
	require.NoError(t, err)
	return SessionSpec{
		Domain:  d,
		Problem: "fraction_tutor",
		State:   p.State,
		Tasks:   p.Tasks,
		Goal:    p.Goal,
		Config:  engine.DefaultSessionConfig(),
	}
}

func lightsSpec(t *testing.T, state string) SessionSpec {
	t.Helper()
	d, err := domainfile.LoadDomain(filepath.Join("..", "domainfile", "testdata", "lights.yaml"))
	require.NoError(t, err)
	return SessionSpec{
		Domain: d,
		State:  cond.NewState(cond.Fact{"switch": "hall", "state": state}),
		Tasks:  tasknet.Seq(tasknet.NewTask("light", false, "hall")),
		Goal:   cond.Fact{"room": "hall", "lit": true},
		Config: engine.DefaultSessionConfig(),
	}
}

func TestSessionManager_GoalOnOpen(t *testing.T) {
	store, err := badger.OpenRunStore(badger.InMemoryConfig())
	require.NoError(t, err)
	defer store.Close()
	m := NewSessionManager(time.Minute, 10, store, nil, nil)

	id, out, err := m.Open(context.Background(), lightsSpec(t, "on"))
	require.NoError(t, err)
	assert.Equal(t, engine.OutputGoal, out.Kind)
	assert.Equal(t, 0, m.Len(), "a session that starts accomplished is retired at once")

	rec, err := store.Get(context.Background(), id)
	require.NoError(t, err)
	assert.True(t, rec.Success)
	assert.Empty(t, rec.Steps)
}

func TestSessionManager_FailedOpenReleasesSlot(t *testing.T) {
	store, err := badger.OpenRunStore(badger.InMemoryConfig())
	require.NoError(t, err)
	defer store.Close()
	m := NewSessionManager(time.Hour, 1, store, nil, nil)
	ctx := context.Background()

	bad := lightsSpec(t, "off")
	bad.Tasks = tasknet.Seq(tasknet.NewTask("missing", true))
	for i := 0; i < 2; i++ {
		id, _, err := m.Open(ctx, bad)
		assert.ErrorIs(t, err, domain.ErrUnknownTask)
		assert.Empty(t, id)
		assert.Equal(t, 0, m.Len())
	}

	_, out, err := m.Open(ctx, lightsSpec(t, "off"))
	require.NoError(t, err, "failed opens must not hold the only slot")
	assert.Equal(t, engine.OutputProposal, out.Kind)

	runs, err := store.List(ctx, 0)
	require.NoError(t, err)
	assert.Empty(t, runs, "failed opens are not recorded")
}

func TestSessionManager_Pending(t *testing.T) {
	m := NewSessionManager(time.Minute, 10, nil, nil, nil)

	id, out, err := m.Open(context.Background(), lightsSpec(t, "off"))
	require.NoError(t, err)
	require.Equal(t, engine.OutputProposal, out.Kind)
	assert.True(t, out.Fact.Equal(cond.Fact{"switch": "hall", "state": "on"}))

	pending, ok, err := m.Pending(id)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, out.Step.Operator, pending.Step.Operator)

	out, err = m.Resume(context.Background(), id, engine.ReplyAccept)
	require.NoError(t, err)
	assert.Equal(t, engine.OutputGoal, out.Kind)

	_, _, err = m.Pending(id)
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestSessionManager_Sweep(t *testing.T) {
	store, err := badger.OpenRunStore(badger.InMemoryConfig())
	require.NoError(t, err)
	defer store.Close()

	m := NewSessionManager(10*time.Minute, 10, store, nil, nil)
	now := time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return now }

	stale, _, err := m.Open(context.Background(), tutorSpec(t))
	require.NoError(t, err)

	now = now.Add(8 * time.Minute)
	fresh, _, err := m.Open(context.Background(), tutorSpec(t))
	require.NoError(t, err)

	now = now.Add(5 * time.Minute)
	assert.Equal(t, 1, m.Sweep(context.Background()))
	assert.Equal(t, 1, m.Len())

	_, err = m.Info(stale)
	assert.ErrorIs(t, err, ErrSessionNotFound)
	_, err = m.Info(fresh)
	require.NoError(t, err)

	rec, err := store.Get(context.Background(), stale)
	require.NoError(t, err)
	assert.False(t, rec.Success)
	assert.Equal(t, "fraction_tutor", rec.Problem)
}

func TestSessionManager_RunClosesAllOnShutdown(t *testing.T) {
	m := NewSessionManager(time.Minute, 10, nil, nil, nil)
	for i := 0; i < 3; i++ {
		_, _, err := m.Open(context.Background(), tutorSpec(t))
		require.NoError(t, err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.Run(ctx, time.Hour) }()
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
	assert.Equal(t, 0, m.Len())
}

func TestSessionManager_InvalidInput(t *testing.T) {
	m := NewSessionManager(time.Minute, 10, nil, nil, nil)
	spec := lightsSpec(t, "off")
	spec.State = nil

	_, _, err := m.Open(context.Background(), spec)
	assert.ErrorIs(t, err, engine.ErrInvalidInput)
	assert.Equal(t, 0, m.Len())
}

func TestSessionManager_Metrics(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	metrics, err := telemetry.NewMetrics(provider.Meter("test"))
	require.NoError(t, err)

	m := NewSessionManager(time.Minute, 10, nil, metrics, nil)
	id, _, err := m.Open(context.Background(), lightsSpec(t, "off"))
	require.NoError(t, err)
	_, err = m.Resume(context.Background(), id, engine.ReplyAccept)
	require.NoError(t, err)

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))

	sums := map[string]int64{}
	for _, sm := range rm.ScopeMetrics {
		for _, md := range sm.Metrics {
			if data, ok := md.Data.(metricdata.Sum[int64]); ok {
				for _, dp := range data.DataPoints {
					sums[md.Name] += dp.Value
				}
			}
		}
	}
	assert.Equal(t, int64(0), sums["htn_sessions_active"])
	assert.Equal(t, int64(2), sums["htn_session_replies_total"])
}
