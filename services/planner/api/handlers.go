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
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/AleutianAI/AleutianHTN/services/planner/cond"
	"github.com/AleutianAI/AleutianHTN/services/planner/domain"
	"github.com/AleutianAI/AleutianHTN/services/planner/domainfile"
	"github.com/AleutianAI/AleutianHTN/services/planner/engine"
	"github.com/AleutianAI/AleutianHTN/services/planner/storage/badger"
	"github.com/AleutianAI/AleutianHTN/services/planner/tasknet"
)

// errBadRequest wraps body and validation failures.
var errBadRequest = errors.New("bad request")

var apiValidate = validator.New()

// =============================================================================
// Wire types
// =============================================================================

// ProblemInput names what to plan. Either Problem names a catalog problem,
// or Domain plus Tasks describe one inline. State, Tasks and Goal given
// alongside Problem replace the problem's own.
type ProblemInput struct {
	Problem string `json:"problem"`
	Domain  string `json:"domain" validate:"required_without=Problem"`

	// State is a list of ground facts, e.g. [{"field": "xn", "value": 1}].
	State any `json:"state"`

	// Tasks is a task structure as in domain files.
	Tasks any `json:"tasks" validate:"required_without=Problem"`

	Seed          *uint64 `json:"seed"`
	MaxIterations *int    `json:"max_iterations" validate:"omitempty,gte=0"`
}

// PlanRequest is the body of POST /v1/htn/plan.
type PlanRequest struct {
	ProblemInput
	Selector string `json:"selector" validate:"omitempty,oneof=first random"`
}

// SessionRequest is the body of POST /v1/htn/sessions.
type SessionRequest struct {
	ProblemInput

	// Goal is a fact returned once the network is accomplished.
	Goal any `json:"goal"`

	MaxPermutations *int `json:"max_permutations" validate:"omitempty,gte=1,lte=40320"`
}

// ResumeRequest is the body of POST /v1/htn/sessions/:id/resume and of
// every WebSocket message.
type ResumeRequest struct {
	Reply string `json:"reply" validate:"required,oneof=none accept reject"`
}

// StepJSON is one operator application.
type StepJSON struct {
	Task     string      `json:"task"`
	Operator string      `json:"operator"`
	Add      []cond.Fact `json:"add,omitempty"`
	Del      []cond.Fact `json:"del,omitempty"`
	Cost     float64     `json:"cost"`
}

// PlanResponse is the result of a batch run.
type PlanResponse struct {
	RunID         string      `json:"run_id,omitempty"`
	Domain        string      `json:"domain"`
	Success       bool        `json:"success"`
	FailureReason string      `json:"failure_reason,omitempty"`
	Plan          []StepJSON  `json:"plan"`
	State         []cond.Fact `json:"state"`
	Tree          string      `json:"tree,omitempty"`
	Cost          float64     `json:"cost"`
	Iterations    int         `json:"iterations"`
	Backtracks    int         `json:"backtracks"`
	DurationMS    int64       `json:"duration_ms"`
}

// OutputJSON is one session suspension.
type OutputJSON struct {
	Kind    string      `json:"kind"`
	Fact    cond.Fact   `json:"fact,omitempty"`
	Effects []cond.Fact `json:"effects,omitempty"`
	Step    *StepJSON   `json:"step,omitempty"`
}

// SessionResponse is returned when a session opens.
type SessionResponse struct {
	SessionID string     `json:"session_id"`
	Output    OutputJSON `json:"output"`
}

// ErrorResponse is every error body.
type ErrorResponse struct {
	Error string `json:"error"`
}

func stepJSON(s engine.Step) StepJSON {
	return StepJSON{
		Task:     s.Task.String(),
		Operator: s.Operator,
		Add:      s.Add,
		Del:      s.Del,
		Cost:     s.Cost,
	}
}

func outputJSON(out engine.Output) OutputJSON {
	o := OutputJSON{Kind: out.Kind.String(), Fact: out.Fact, Effects: out.Effects}
	if out.Step != nil {
		s := stepJSON(*out.Step)
		o.Step = &s
	}
	return o
}

func planResponse(d *domain.Domain, res *engine.Result) PlanResponse {
	resp := PlanResponse{
		Domain:        d.Name,
		Success:       res.Success,
		FailureReason: res.FailureReason,
		Plan:          make([]StepJSON, len(res.Plan)),
		Cost:          res.Cost,
		Iterations:    res.Iterations,
		Backtracks:    res.Backtracks,
		DurationMS:    res.Duration.Milliseconds(),
	}
	for i, s := range res.Plan {
		resp.Plan[i] = stepJSON(s)
	}
	if res.State != nil {
		resp.State = res.State.Facts()
	}
	if res.Tree != nil {
		resp.Tree = res.Tree.String()
	}
	return resp
}

// ParseReply maps "none", "accept" and "reject" to engine replies.
func ParseReply(s string) (engine.Reply, error) {
	switch s {
	case "none", "":
		return engine.ReplyNone, nil
	case "accept":
		return engine.ReplyAccept, nil
	case "reject":
		return engine.ReplyReject, nil
	}
	return engine.ReplyNone, fmt.Errorf("%w: unknown reply %q", errBadRequest, s)
}

// =============================================================================
// Request helpers
// =============================================================================

func bindJSON(c *gin.Context, req any) error {
	if err := c.ShouldBindJSON(req); err != nil {
		return fmt.Errorf("%w: %v", errBadRequest, err)
	}
	if err := apiValidate.Struct(req); err != nil {
		return fmt.Errorf("%w: %v", errBadRequest, err)
	}
	return nil
}

// resolved is a ProblemInput after catalog lookup and decoding.
type resolved struct {
	domain  *domain.Domain
	problem string
	state   *cond.State
	tasks   *tasknet.Node
	goal    cond.Fact
}

func (s *Server) resolve(in ProblemInput) (resolved, error) {
	var r resolved
	if in.Problem != "" {
		d, p, err := s.catalog.Problem(in.Problem)
		if err != nil {
			return r, err
		}
		r = resolved{domain: d, problem: in.Problem, state: p.State, tasks: p.Tasks, goal: p.Goal}
	} else {
		d, err := s.catalog.Domain(in.Domain)
		if err != nil {
			return r, err
		}
		r = resolved{domain: d, state: cond.NewState()}
	}

	if in.State != nil {
		facts, err := domainfile.DecodeFacts(in.State)
		if err != nil {
			return r, err
		}
		r.state = cond.NewState(facts...)
	}
	if in.Tasks != nil {
		net, err := domainfile.DecodeNetwork(in.Tasks, r.domain)
		if err != nil {
			return r, err
		}
		r.tasks = net
	}
	return r, nil
}

func (in ProblemInput) apply(cfg engine.Config) engine.Config {
	if in.Seed != nil {
		cfg.Seed = *in.Seed
	}
	if in.MaxIterations != nil {
		cfg.MaxIterations = *in.MaxIterations
	}
	return cfg
}

// statusOf maps an error to its HTTP status.
func statusOf(err error) int {
	switch {
	case errors.Is(err, errBadRequest),
		errors.Is(err, domainfile.ErrInvalidDocument),
		errors.Is(err, domainfile.ErrNotGround),
		errors.Is(err, domain.ErrUnknownTask),
		errors.Is(err, domain.ErrArityMismatch),
		errors.Is(err, domain.ErrKindMismatch),
		errors.Is(err, engine.ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, ErrUnknownDomain),
		errors.Is(err, ErrUnknownProblem),
		errors.Is(err, ErrSessionNotFound),
		errors.Is(err, badger.ErrRunNotFound):
		return http.StatusNotFound
	case errors.Is(err, engine.ErrNotStarted):
		return http.StatusConflict
	case errors.Is(err, engine.ErrClosed):
		return http.StatusGone
	case errors.Is(err, engine.ErrIterationLimit),
		errors.Is(err, domain.ErrEffect):
		return http.StatusUnprocessableEntity
	case errors.Is(err, ErrTooManySessions),
		errors.Is(err, errHistoryDisabled):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	}
	return http.StatusInternalServerError
}

func (s *Server) fail(c *gin.Context, err error) {
	status := statusOf(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed", slog.String("path", c.FullPath()), slog.String("error", err.Error()))
	}
	c.JSON(status, ErrorResponse{Error: err.Error()})
}

// =============================================================================
// Handlers
// =============================================================================

// HandleHealth reports catalog and session counts.
func (s *Server) HandleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":   "ok",
		"domains":  s.catalog.Len(),
		"sessions": s.sessions.Len(),
	})
}

// HandleDomains lists the catalog.
func (s *Server) HandleDomains(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"domains":  s.catalog.Domains(),
		"problems": s.catalog.Problems(),
	})
}

// HandlePlan runs the batch planner.
func (s *Server) HandlePlan(c *gin.Context) {
	var req PlanRequest
	if err := bindJSON(c, &req); err != nil {
		s.fail(c, err)
		return
	}
	r, err := s.resolve(req.ProblemInput)
	if err != nil {
		s.fail(c, err)
		return
	}

	cfg := req.apply(s.planner)
	if sel, ok := engine.ParseSelector(req.Selector); ok && req.Selector != "" {
		cfg.Selector = sel
	}
	cfg.Logger = s.logger.With(slog.String("request_id", c.GetString("request_id")))

	ctx := c.Request.Context()
	res, err := engine.New(r.domain, cfg).Plan(ctx, r.state, r.tasks)
	if err != nil {
		s.fail(c, err)
		return
	}

	resp := planResponse(r.domain, res)
	resp.RunID = s.record(ctx, badger.NewPlanRecord(r.domain.Name, r.problem, cfg.Seed, res))
	c.JSON(http.StatusOK, resp)
}

// HandleOpenSession opens an interactive session and returns its first
// output.
func (s *Server) HandleOpenSession(c *gin.Context) {
	var req SessionRequest
	if err := bindJSON(c, &req); err != nil {
		s.fail(c, err)
		return
	}
	r, err := s.resolve(req.ProblemInput)
	if err != nil {
		s.fail(c, err)
		return
	}
	if req.Goal != nil {
		if r.goal, err = domainfile.DecodeFact(req.Goal); err != nil {
			s.fail(c, err)
			return
		}
	}

	cfg := req.apply(s.session)
	if req.MaxPermutations != nil {
		cfg.MaxPermutations = *req.MaxPermutations
	}
	id, out, err := s.sessions.Open(c.Request.Context(), SessionSpec{
		Domain:  r.domain,
		Problem: r.problem,
		State:   r.state,
		Tasks:   r.tasks,
		Goal:    r.goal,
		Config:  cfg,
	})
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, SessionResponse{SessionID: id, Output: outputJSON(out)})
}

// HandleGetSession describes a session.
func (s *Server) HandleGetSession(c *gin.Context) {
	info, err := s.sessions.Info(c.Param("id"))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, info)
}

// HandleResume answers the pending output of a session.
func (s *Server) HandleResume(c *gin.Context) {
	var req ResumeRequest
	if err := bindJSON(c, &req); err != nil {
		s.fail(c, err)
		return
	}
	reply, err := ParseReply(req.Reply)
	if err != nil {
		s.fail(c, err)
		return
	}
	out, err := s.sessions.Resume(c.Request.Context(), c.Param("id"), reply)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, outputJSON(out))
}

// HandleCloseSession ends a session.
func (s *Server) HandleCloseSession(c *gin.Context) {
	if err := s.sessions.Close(c.Request.Context(), c.Param("id")); err != nil {
		s.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// HandleListRuns returns recorded runs, newest first.
func (s *Server) HandleListRuns(c *gin.Context) {
	if s.store == nil {
		s.fail(c, errHistoryDisabled)
		return
	}
	limit := 50
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			s.fail(c, fmt.Errorf("%w: limit must be a non-negative integer", errBadRequest))
			return
		}
		limit = n
	}
	runs, err := s.store.List(c.Request.Context(), limit)
	if err != nil {
		s.fail(c, err)
		return
	}
	if runs == nil {
		runs = []badger.RunRecord{}
	}
	c.JSON(http.StatusOK, gin.H{"runs": runs})
}

// HandleGetRun returns one recorded run.
func (s *Server) HandleGetRun(c *gin.Context) {
	if s.store == nil {
		s.fail(c, errHistoryDisabled)
		return
	}
	rec, err := s.store.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, rec)
}

// record stores rec and returns its ID, or "" when history is off or the
// write failed.
func (s *Server) record(ctx context.Context, rec badger.RunRecord) string {
	if s.store == nil {
		return ""
	}
	id, err := s.store.Put(ctx, rec)
	if err != nil {
		s.logger.Warn("failed to record run", slog.String("error", err.Error()))
		return ""
	}
	if s.metrics != nil {
		s.metrics.RunsStoredTotal.Add(ctx, 1, metric.WithAttributes(
			attribute.String("kind", rec.Kind),
			attribute.Bool("success", rec.Success),
		))
	}
	return id
}
