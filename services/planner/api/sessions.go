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
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/AleutianAI/AleutianHTN/services/planner/cond"
	"github.com/AleutianAI/AleutianHTN/services/planner/domain"
	"github.com/AleutianAI/AleutianHTN/services/planner/engine"
	"github.com/AleutianAI/AleutianHTN/services/planner/storage/badger"
	"github.com/AleutianAI/AleutianHTN/services/planner/tasknet"
	"github.com/AleutianAI/AleutianHTN/services/planner/telemetry"
)

var (
	// ErrSessionNotFound means the ID is unknown or already expired.
	ErrSessionNotFound = errors.New("session not found")

	// ErrTooManySessions means MaxSessions sessions are open.
	ErrTooManySessions = errors.New("too many open sessions")
)

// RunStore records finished runs. *badger.RunStore implements it.
type RunStore interface {
	Put(ctx context.Context, rec badger.RunRecord) (string, error)
	Get(ctx context.Context, id string) (badger.RunRecord, error)
	List(ctx context.Context, limit int) ([]badger.RunRecord, error)
}

// SessionSpec is everything needed to open a session.
type SessionSpec struct {
	Domain  *domain.Domain
	Problem string
	State   *cond.State
	Tasks   *tasknet.Node
	Goal    cond.Fact
	Config  engine.Config
}

// SessionInfo is a read-only view of an open session.
type SessionInfo struct {
	ID       string              `json:"id"`
	Domain   string              `json:"domain"`
	Problem  string              `json:"problem,omitempty"`
	Done     bool                `json:"done"`
	Steps    int                 `json:"steps"`
	Stats    engine.SessionStats `json:"stats"`
	Created  time.Time           `json:"created"`
	LastUsed time.Time           `json:"last_used"`
}

type sessionEntry struct {
	// mu guards used and orders replies on one session.
	mu      sync.Mutex
	id      string
	sess    *engine.Session
	domain  string
	problem string
	seed    uint64
	created time.Time
	used    time.Time
}

// SessionManager owns the interactive sessions of the HTTP API.
//
// Thread Safety: Safe for concurrent use. Calls on one session are
// serialized.
type SessionManager struct {
	mu       sync.Mutex
	sessions map[string]*sessionEntry

	ttl     time.Duration
	max     int
	store   RunStore
	metrics *telemetry.Metrics
	logger  *slog.Logger
	now     func() time.Time
}

// NewSessionManager returns a manager expiring sessions idle for ttl.
// store and metrics may be nil.
func NewSessionManager(ttl time.Duration, max int, store RunStore, metrics *telemetry.Metrics, logger *slog.Logger) *SessionManager {
	if logger == nil {
		logger = slog.Default()
	}
	return &SessionManager{
		sessions: make(map[string]*sessionEntry),
		ttl:      ttl,
		max:      max,
		store:    store,
		metrics:  metrics,
		logger:   logger.With(slog.String("component", "sessions")),
		now:      time.Now,
	}
}

// Open creates a session and primes it.
//
// Outputs:
//
//	string - The session ID.
//	engine.Output - The first output (a proposal, or the goal when the
//	                network is already accomplished).
//	error - ErrTooManySessions, engine input errors or the first Resume's
//	        error.
func (m *SessionManager) Open(ctx context.Context, spec SessionSpec) (string, engine.Output, error) {
	id := uuid.NewString()
	cfg := spec.Config
	cfg.Logger = m.logger.With(slog.String("session_id", id))

	sess, err := engine.NewSession(spec.Domain, spec.State, spec.Tasks, spec.Goal, cfg)
	if err != nil {
		return "", engine.Output{}, err
	}

	now := m.now()
	e := &sessionEntry{
		id:      id,
		sess:    sess,
		domain:  spec.Domain.Name,
		problem: spec.Problem,
		seed:    cfg.Seed,
		created: now,
		used:    now,
	}

	m.mu.Lock()
	if m.max > 0 && len(m.sessions) >= m.max {
		m.mu.Unlock()
		sess.Close()
		return "", engine.Output{}, fmt.Errorf("%w (max %d)", ErrTooManySessions, m.max)
	}
	m.sessions[id] = e
	m.mu.Unlock()
	m.addActive(ctx, 1)

	out, err := m.Resume(ctx, id, engine.ReplyNone)
	if err != nil {
		// The caller never sees id, so nothing else could close it.
		m.discard(ctx, e)
		return "", engine.Output{}, err
	}
	return id, out, nil
}

// Resume forwards reply to the session. Reaching the goal records the run
// and retires the session.
func (m *SessionManager) Resume(ctx context.Context, id string, reply engine.Reply) (engine.Output, error) {
	e, err := m.get(id)
	if err != nil {
		return engine.Output{}, err
	}

	e.mu.Lock()
	out, err := e.sess.Resume(ctx, reply)
	e.used = m.now()
	e.mu.Unlock()

	m.countReply(ctx, reply, out, err)
	if err != nil {
		return engine.Output{}, err
	}
	if out.Kind == engine.OutputGoal {
		m.finish(ctx, e)
	}
	return out, nil
}

// Pending returns the proposal awaiting a reply, if any.
func (m *SessionManager) Pending(id string) (engine.Output, bool, error) {
	e, err := m.get(id)
	if err != nil {
		return engine.Output{}, false, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	out, ok := e.sess.Pending()
	return out, ok, nil
}

// Info describes session id.
func (m *SessionManager) Info(id string) (SessionInfo, error) {
	e, err := m.get(id)
	if err != nil {
		return SessionInfo{}, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return SessionInfo{
		ID:       e.id,
		Domain:   e.domain,
		Problem:  e.problem,
		Done:     e.sess.Done(),
		Steps:    len(e.sess.Steps()),
		Stats:    e.sess.Stats(),
		Created:  e.created,
		LastUsed: e.used,
	}, nil
}

// Close ends session id, recording it as unfinished.
func (m *SessionManager) Close(ctx context.Context, id string) error {
	e, err := m.get(id)
	if err != nil {
		return err
	}
	m.finish(ctx, e)
	return nil
}

// Len returns the number of open sessions.
func (m *SessionManager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// Sweep closes sessions idle for longer than the TTL and returns how many
// it closed.
func (m *SessionManager) Sweep(ctx context.Context) int {
	cutoff := m.now().Add(-m.ttl)

	m.mu.Lock()
	var idle []*sessionEntry
	for _, e := range m.sessions {
		e.mu.Lock()
		if e.used.Before(cutoff) {
			idle = append(idle, e)
		}
		e.mu.Unlock()
	}
	m.mu.Unlock()

	for _, e := range idle {
		m.logger.Info("session expired", slog.String("session_id", e.id))
		m.finish(ctx, e)
	}
	return len(idle)
}

// Run sweeps every interval until ctx is done, then closes every session.
func (m *SessionManager) Run(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			m.CloseAll(context.WithoutCancel(ctx))
			return nil
		case <-ticker.C:
			m.Sweep(ctx)
		}
	}
}

// CloseAll ends every open session.
func (m *SessionManager) CloseAll(ctx context.Context) {
	m.mu.Lock()
	all := make([]*sessionEntry, 0, len(m.sessions))
	for _, e := range m.sessions {
		all = append(all, e)
	}
	m.mu.Unlock()
	for _, e := range all {
		m.finish(ctx, e)
	}
}

func (m *SessionManager) get(id string) (*sessionEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.sessions[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	return e, nil
}

// finish removes e, closes its session and records it. Only the first
// call for an entry does anything.
func (m *SessionManager) finish(ctx context.Context, e *sessionEntry) {
	m.mu.Lock()
	_, ok := m.sessions[e.id]
	delete(m.sessions, e.id)
	m.mu.Unlock()
	if !ok {
		return
	}
	m.addActive(ctx, -1)

	e.mu.Lock()
	done := e.sess.Done()
	steps := e.sess.Steps()
	stats := e.sess.Stats()
	e.sess.Close()
	elapsed := e.used.Sub(e.created)
	e.mu.Unlock()

	if m.store == nil {
		return
	}
	rec := badger.NewSessionRecord(e.domain, e.problem, e.seed, done, steps, stats, elapsed)
	rec.ID = e.id
	if _, err := m.store.Put(ctx, rec); err != nil {
		m.logger.Warn("failed to record session", slog.String("session_id", e.id), slog.String("error", err.Error()))
		return
	}
	if m.metrics != nil {
		m.metrics.RunsStoredTotal.Add(ctx, 1, metric.WithAttributes(
			attribute.String("kind", badger.KindSession),
			attribute.Bool("success", done),
		))
	}
}

// discard drops e without recording it.
func (m *SessionManager) discard(ctx context.Context, e *sessionEntry) {
	m.mu.Lock()
	_, ok := m.sessions[e.id]
	delete(m.sessions, e.id)
	m.mu.Unlock()
	if !ok {
		return
	}
	m.addActive(ctx, -1)

	e.mu.Lock()
	e.sess.Close()
	e.mu.Unlock()
}

func (m *SessionManager) addActive(ctx context.Context, n int64) {
	if m.metrics != nil {
		m.metrics.SessionsActive.Add(ctx, n)
	}
}

func (m *SessionManager) countReply(ctx context.Context, reply engine.Reply, out engine.Output, err error) {
	if m.metrics == nil {
		return
	}
	kind := out.Kind.String()
	if err != nil {
		kind = "error"
	}
	m.metrics.SessionRepliesTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("reply", reply.String()),
		attribute.String("output", kind),
	))
}
