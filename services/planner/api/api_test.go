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
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianHTN/pkg/logging"
	"github.com/AleutianAI/AleutianHTN/services/planner/cond"
	"github.com/AleutianAI/AleutianHTN/services/planner/domain"
	"github.com/AleutianAI/AleutianHTN/services/planner/domainfile"
	"github.com/AleutianAI/AleutianHTN/services/planner/engine"
	"github.com/AleutianAI/AleutianHTN/services/planner/storage/badger"
)

type testEnv struct {
	server   *Server
	router   *gin.Engine
	store    *badger.RunStore
	sessions *SessionManager
}

func newTestEnv(t *testing.T, opts Options) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	catalog := NewCatalog()
	require.NoError(t, catalog.LoadExamples())

	store, err := badger.OpenRunStore(badger.InMemoryConfig())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	logger := logging.Nop().Slog()
	sessions := NewSessionManager(time.Minute, 2, store, nil, logger)

	opts.Planner = engine.DefaultConfig()
	opts.Planner.Seed = 1
	opts.Session = engine.DefaultSessionConfig()
	opts.Store = store
	opts.Logger = logger
	s := NewServer(catalog, sessions, opts)
	return &testEnv{server: s, router: s.Router(), store: store, sessions: sessions}
}

func (e *testEnv) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if s, ok := body.(string); ok {
			buf.WriteString(s)
		} else {
			require.NoError(t, json.NewEncoder(&buf).Encode(body))
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), w.Body.String())
	return v
}

// valueOf finds {field: name, value: v} in facts.
func valueOf(t *testing.T, facts []cond.Fact, name string) any {
	t.Helper()
	for _, f := range facts {
		if f["field"] == name {
			return f["value"]
		}
	}
	t.Fatalf("no value for %q", name)
	return nil
}

func TestHealthAndDomains(t *testing.T) {
	env := newTestEnv(t, Options{})

	w := env.do(t, http.MethodGet, "/v1/htn/health", nil)
	require.Equal(t, http.StatusOK, w.Code)
	health := decode[map[string]any](t, w)
	assert.Equal(t, "ok", health["status"])
	assert.Equal(t, 2.0, health["domains"])

	w = env.do(t, http.MethodGet, "/v1/htn/domains", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var list struct {
		Domains  []DomainInfo `json:"domains"`
		Problems []string     `json:"problems"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &list))
	require.Len(t, list.Domains, 2)
	assert.Equal(t, "fraction", list.Domains[0].Name)
	assert.Equal(t, "example", list.Domains[0].Source)
	assert.Contains(t, list.Domains[0].Keys, "fracAdd/4")
	assert.Equal(t, []string{"fraction", "fraction_tutor"}, list.Problems)
}

func TestRequestIDHeader(t *testing.T) {
	env := newTestEnv(t, Options{})

	w := env.do(t, http.MethodGet, "/v1/htn/health", nil)
	assert.NotEmpty(t, w.Header().Get(RequestIDHeader))

	req := httptest.NewRequest(http.MethodGet, "/v1/htn/health", nil)
	req.Header.Set(RequestIDHeader, "abc-123")
	rec := httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)
	assert.Equal(t, "abc-123", rec.Header().Get(RequestIDHeader))
}

func TestHandlePlan_Problem(t *testing.T) {
	env := newTestEnv(t, Options{})

	w := env.do(t, http.MethodPost, "/v1/htn/plan", map[string]any{"problem": "fraction", "seed": 3})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	resp := decode[PlanResponse](t, w)

	assert.True(t, resp.Success)
	assert.Equal(t, "fraction", resp.Domain)
	assert.Len(t, resp.Plan, 4)
	assert.Equal(t, 4.0, resp.Cost)
	assert.Equal(t, 9.0, valueOf(t, resp.State, "num"))
	assert.Equal(t, 18.0, valueOf(t, resp.State, "denom"))
	assert.Contains(t, resp.Tree, "fracAdd")
	require.NotEmpty(t, resp.RunID)

	rec, err := env.store.Get(context.Background(), resp.RunID)
	require.NoError(t, err)
	assert.Equal(t, badger.KindPlan, rec.Kind)
	assert.Equal(t, "fraction", rec.Problem)
	assert.Equal(t, uint64(3), rec.Seed)
}

func TestHandlePlan_Inline(t *testing.T) {
	env := newTestEnv(t, Options{})

	body := `{
		"domain": "fraction",
		"selector": "first",
		"state": [
			{"field": "xn", "value": 1}, {"field": "yn", "value": 2},
			{"field": "xd", "value": 4}, {"field": "yd", "value": 4}
		],
		"tasks": [{"task": "fracAdd", "args": ["xn", "yn", "xd", "yd"]}]
	}`
	w := env.do(t, http.MethodPost, "/v1/htn/plan", body)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	resp := decode[PlanResponse](t, w)
	require.True(t, resp.Success, resp.FailureReason)
	assert.Equal(t, 3.0, valueOf(t, resp.State, "num"))
	assert.Equal(t, 4.0, valueOf(t, resp.State, "denom"))
}

func TestHandlePlan_Errors(t *testing.T) {
	env := newTestEnv(t, Options{})

	tests := []struct {
		name   string
		body   any
		status int
	}{
		{"malformed json", `{"domain":`, http.StatusBadRequest},
		{"no domain or problem", map[string]any{"tasks": []any{"fracAdd"}}, http.StatusBadRequest},
		{"no tasks", map[string]any{"domain": "fraction"}, http.StatusBadRequest},
		{"bad selector", map[string]any{"problem": "fraction", "selector": "sideways"}, http.StatusBadRequest},
		{"negative iterations", map[string]any{"problem": "fraction", "max_iterations": -1}, http.StatusBadRequest},
		{"unknown domain", map[string]any{"domain": "chess", "tasks": []any{"move"}}, http.StatusNotFound},
		{"unknown problem", map[string]any{"problem": "chess"}, http.StatusNotFound},
		{"unknown task", map[string]any{"domain": "fraction", "tasks": []any{"divide"}}, http.StatusBadRequest},
		{"arity mismatch", map[string]any{"domain": "fraction", "tasks": []any{"fracAdd"}}, http.StatusBadRequest},
		{"non-ground state", map[string]any{"problem": "fraction", "state": []any{map[string]any{"field": "?x"}}}, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := env.do(t, http.MethodPost, "/v1/htn/plan", tt.body)
			assert.Equal(t, tt.status, w.Code, w.Body.String())
			assert.NotEmpty(t, decode[ErrorResponse](t, w).Error)
		})
	}
}

func TestHandlePlan_IterationLimitFails(t *testing.T) {
	env := newTestEnv(t, Options{})

	w := env.do(t, http.MethodPost, "/v1/htn/plan", map[string]any{"problem": "fraction", "max_iterations": 1})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	resp := decode[PlanResponse](t, w)
	assert.False(t, resp.Success)
	assert.Equal(t, engine.ReasonIterationLimit, resp.FailureReason)
}

// runTutor answers every proposal with accept until the goal.
func runTutor(t *testing.T, env *testEnv, id string, first OutputJSON) OutputJSON {
	t.Helper()
	out := first
	for i := 0; out.Kind != "goal"; i++ {
		require.Less(t, i, 20, "no goal after accepting every proposal")
		reply := "accept"
		if out.Kind != "proposal" {
			reply = "none"
		}
		w := env.do(t, http.MethodPost, "/v1/htn/sessions/"+id+"/resume", ResumeRequest{Reply: reply})
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
		out = decode[OutputJSON](t, w)
	}
	return out
}

func TestSessions_AcceptToGoal(t *testing.T) {
	env := newTestEnv(t, Options{})

	w := env.do(t, http.MethodPost, "/v1/htn/sessions", map[string]any{"problem": "fraction_tutor"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	opened := decode[SessionResponse](t, w)
	require.NotEmpty(t, opened.SessionID)
	assert.Equal(t, "proposal", opened.Output.Kind)
	require.NotNil(t, opened.Output.Step)
	assert.NotEmpty(t, opened.Output.Effects)

	w = env.do(t, http.MethodGet, "/v1/htn/sessions/"+opened.SessionID, nil)
	require.Equal(t, http.StatusOK, w.Code)
	info := decode[SessionInfo](t, w)
	assert.Equal(t, "fraction_tutor", info.Domain)
	assert.False(t, info.Done)

	goal := runTutor(t, env, opened.SessionID, opened.Output)
	assert.Equal(t, "done", goal.Fact["value"])

	w = env.do(t, http.MethodGet, "/v1/htn/sessions/"+opened.SessionID, nil)
	assert.Equal(t, http.StatusNotFound, w.Code, "finished sessions are retired")

	rec, err := env.store.Get(context.Background(), opened.SessionID)
	require.NoError(t, err)
	assert.Equal(t, badger.KindSession, rec.Kind)
	assert.True(t, rec.Success)
	assert.NotEmpty(t, rec.Steps)
}

func TestSessions_RejectAndClose(t *testing.T) {
	env := newTestEnv(t, Options{})

	w := env.do(t, http.MethodPost, "/v1/htn/sessions", map[string]any{
		"problem": "fraction_tutor",
		"goal":    map[string]any{"value": "finished"},
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	id := decode[SessionResponse](t, w).SessionID

	w = env.do(t, http.MethodPost, "/v1/htn/sessions/"+id+"/resume", ResumeRequest{Reply: "reject"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Contains(t, []string{"proposal", "retry"}, decode[OutputJSON](t, w).Kind)

	info, err := env.sessions.Info(id)
	require.NoError(t, err)
	assert.Equal(t, 1, info.Stats.Rejected)

	w = env.do(t, http.MethodPost, "/v1/htn/sessions/"+id+"/resume", ResumeRequest{Reply: "maybe"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = env.do(t, http.MethodDelete, "/v1/htn/sessions/"+id, nil)
	assert.Equal(t, http.StatusNoContent, w.Code)
	w = env.do(t, http.MethodPost, "/v1/htn/sessions/"+id+"/resume", ResumeRequest{Reply: "accept"})
	assert.Equal(t, http.StatusNotFound, w.Code)
	w = env.do(t, http.MethodDelete, "/v1/htn/sessions/"+id, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	rec, err := env.store.Get(context.Background(), id)
	require.NoError(t, err)
	assert.False(t, rec.Success)
	assert.Equal(t, 1, rec.Rejected)
}

func TestSessions_Limit(t *testing.T) {
	env := newTestEnv(t, Options{})

	for i := 0; i < 2; i++ {
		w := env.do(t, http.MethodPost, "/v1/htn/sessions", map[string]any{"problem": "fraction_tutor"})
		require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	}
	w := env.do(t, http.MethodPost, "/v1/htn/sessions", map[string]any{"problem": "fraction_tutor"})
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Equal(t, 2, env.sessions.Len())
}

func TestRuns(t *testing.T) {
	env := newTestEnv(t, Options{})

	for seed := 0; seed < 3; seed++ {
		w := env.do(t, http.MethodPost, "/v1/htn/plan", map[string]any{"problem": "fraction", "seed": seed})
		require.Equal(t, http.StatusOK, w.Code)
	}

	w := env.do(t, http.MethodGet, "/v1/htn/runs?limit=2", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var list struct {
		Runs []badger.RunRecord `json:"runs"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &list))
	require.Len(t, list.Runs, 2)

	w = env.do(t, http.MethodGet, "/v1/htn/runs/"+list.Runs[0].ID, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, list.Runs[0].ID, decode[badger.RunRecord](t, w).ID)

	assert.Equal(t, http.StatusNotFound, env.do(t, http.MethodGet, "/v1/htn/runs/nope", nil).Code)
	assert.Equal(t, http.StatusBadRequest, env.do(t, http.MethodGet, "/v1/htn/runs?limit=x", nil).Code)
}

func TestRuns_HistoryDisabled(t *testing.T) {
	gin.SetMode(gin.TestMode)
	catalog := NewCatalog()
	require.NoError(t, catalog.LoadExamples())
	s := NewServer(catalog, NewSessionManager(time.Minute, 1, nil, nil, nil), Options{Planner: engine.DefaultConfig()})
	env := &testEnv{server: s, router: s.Router()}

	assert.Equal(t, http.StatusServiceUnavailable, env.do(t, http.MethodGet, "/v1/htn/runs", nil).Code)

	w := env.do(t, http.MethodPost, "/v1/htn/plan", map[string]any{"problem": "fraction"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, decode[PlanResponse](t, w).RunID)
}

func TestRateLimitMiddleware(t *testing.T) {
	env := newTestEnv(t, Options{RateLimit: 0.001, Burst: 1})

	assert.Equal(t, http.StatusOK, env.do(t, http.MethodGet, "/v1/htn/health", nil).Code)
	w := env.do(t, http.MethodGet, "/v1/htn/health", nil)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "1", w.Header().Get("Retry-After"))
}

func TestMetricsEndpoint(t *testing.T) {
	env := newTestEnv(t, Options{})
	w := env.do(t, http.MethodGet, "/metrics", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestSessionSocket(t *testing.T) {
	env := newTestEnv(t, Options{})
	srv := httptest.NewServer(env.router)
	defer srv.Close()

	w := env.do(t, http.MethodPost, "/v1/htn/sessions", map[string]any{"problem": "fraction_tutor"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	id := decode[SessionResponse](t, w).SessionID

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/v1/htn/sessions/" + id + "/ws"
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer ws.Close()

	var ev WSEvent
	require.NoError(t, ws.ReadJSON(&ev))
	assert.Equal(t, id, ev.SessionID)
	require.NotNil(t, ev.Output, "the pending proposal is re-sent on connect")
	assert.Equal(t, "proposal", ev.Output.Kind)

	require.NoError(t, ws.WriteJSON(map[string]string{"reply": "perhaps"}))
	require.NoError(t, ws.ReadJSON(&ev))
	assert.NotEmpty(t, ev.Error)

	for i := 0; !ev.Done; i++ {
		require.Less(t, i, 20)
		require.NoError(t, ws.WriteJSON(ResumeRequest{Reply: "accept"}))
		ev = WSEvent{}
		require.NoError(t, ws.ReadJSON(&ev))
		require.Empty(t, ev.Error)
	}
	require.NotNil(t, ev.Output)
	assert.Equal(t, "goal", ev.Output.Kind)

	_, _, err = ws.ReadMessage()
	var ce *websocket.CloseError
	require.True(t, errors.As(err, &ce), "server closes after the goal: %v", err)
	assert.Equal(t, websocket.CloseNormalClosure, ce.Code)
}

func TestSessionSocket_UnknownSession(t *testing.T) {
	env := newTestEnv(t, Options{})
	w := env.do(t, http.MethodGet, "/v1/htn/sessions/nope/ws", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestStatusOf(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{fmt.Errorf("x: %w", errBadRequest), http.StatusBadRequest},
		{&domainfile.ParseError{Err: domainfile.ErrInvalidDocument}, http.StatusBadRequest},
		{&domain.LookupError{Err: domain.ErrUnknownTask}, http.StatusBadRequest},
		{fmt.Errorf("%w: x", ErrUnknownDomain), http.StatusNotFound},
		{badger.ErrRunNotFound, http.StatusNotFound},
		{&engine.EngineError{Err: engine.ErrClosed}, http.StatusGone},
		{&engine.EngineError{Err: engine.ErrNotStarted}, http.StatusConflict},
		{engine.ErrIterationLimit, http.StatusUnprocessableEntity},
		{ErrTooManySessions, http.StatusServiceUnavailable},
		{context.DeadlineExceeded, http.StatusGatewayTimeout},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			assert.Equal(t, tt.want, statusOf(tt.err))
		})
	}
}

func TestParseReply(t *testing.T) {
	for in, want := range map[string]engine.Reply{"": engine.ReplyNone, "none": engine.ReplyNone, "accept": engine.ReplyAccept, "reject": engine.ReplyReject} {
		got, err := ParseReply(in)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
	_, err := ParseReply("later")
	assert.ErrorIs(t, err, errBadRequest)
}
