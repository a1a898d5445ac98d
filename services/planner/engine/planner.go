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
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/AleutianAI/AleutianHTN/services/planner/cond"
	"github.com/AleutianAI/AleutianHTN/services/planner/domain"
	"github.com/AleutianAI/AleutianHTN/services/planner/tasknet"
	"github.com/AleutianAI/AleutianHTN/services/planner/telemetry"
)

const tracerName = "htn.engine"

// Failure reasons reported in Result.FailureReason.
const (
	ReasonExhausted      = "no applicable decomposition remains"
	ReasonIterationLimit = "iteration limit reached"
)

// Result is the outcome of a batch planning run.
type Result struct {
	// Success is false when search was exhausted or a limit was hit.
	Success bool

	// FailureReason explains why planning failed (if applicable).
	FailureReason string

	// Plan is the applied operators, in application order.
	Plan []Step

	// State is the final state. On failure it is the initial state.
	State *cond.State

	// Structure is the root network with every compound task replaced by
	// the subtasks it decomposed into.
	Structure *tasknet.Node

	// Tree is the decomposition tree.
	Tree *Tree

	// Decisions is the decomposition trace behind Tree.
	Decisions []Decision

	// Cost sums operator costs over Plan.
	Cost float64

	Iterations int
	Backtracks int
	Duration   time.Duration
}

// Planner is the batch engine: one depth-first run over a single
// choice-point stack.
//
// Thread Safety: Plan may be called concurrently. Each call gets its own
// machine. A shared Config.Rand is not safe for concurrent use.
type Planner struct {
	dom *domain.Domain
	cfg Config
}

// New creates a batch planner over d.
func New(d *domain.Domain, cfg Config) *Planner {
	return &Planner{dom: d, cfg: cfg}
}

// Plan decomposes net from st.
//
// Description:
//
//	Runs SELECT / APPLY / BACKTRACK until the network is empty (success),
//	the choice-point stack is exhausted (failure) or MaxIterations is
//	reached (failure). Frontier tasks are chosen per Config.Selector.
//
// Inputs:
//
//	ctx - Checked once per iteration. Cancellation returns ctx.Err().
//	st - Initial state.
//	net - Task network to accomplish.
//
// Outputs:
//
//	*Result - Always non-nil when error is nil. Check Result.Success.
//	error - Configuration errors (wrapping domain.ErrUnknownTask,
//	        domain.ErrArityMismatch or domain.ErrKindMismatch), effect
//	        evaluation errors (domain.ErrEffect) or context errors.
func (p *Planner) Plan(ctx context.Context, st *cond.State, net *tasknet.Node) (*Result, error) {
	if err := checkInput(p.dom, st, net); err != nil {
		return nil, &EngineError{Engine: "planner", Operation: "Plan", Err: err}
	}
	if ctx == nil {
		ctx = context.Background()
	}

	ctx, span := telemetry.StartSpan(ctx, tracerName, "Planner.Plan")
	defer span.End()
	span.SetAttributes(
		attribute.String("htn.domain", p.dom.Name),
		attribute.Int("htn.tasks", len(net.Tasks())),
	)

	start := time.Now()
	m := newMachine("planner", p.dom, st, net, p.cfg)
	res, err := p.run(ctx, m)
	if err != nil {
		plansTotal.WithLabelValues("error").Inc()
		telemetry.RecordError(span, err)
		m.log.Warn("planning error", slog.String("error", err.Error()), slog.Int("iterations", m.iterations))
		return nil, err
	}
	res.Duration = time.Since(start)
	res.Iterations = m.iterations
	res.Backtracks = m.backtracks

	outcome := "success"
	if !res.Success {
		outcome = "failure"
		res.State = st
	}
	plansTotal.WithLabelValues(outcome).Inc()
	planDuration.Observe(res.Duration.Seconds())
	planIterations.Observe(float64(res.Iterations))
	backtracksTotal.WithLabelValues("planner").Add(float64(res.Backtracks))

	span.SetAttributes(
		attribute.Bool("htn.success", res.Success),
		attribute.Int("htn.iterations", res.Iterations),
		attribute.Int("htn.backtracks", res.Backtracks),
	)
	telemetry.SetSpanOK(span)
	m.log.Info("planning finished",
		slog.Bool("success", res.Success),
		slog.String("reason", res.FailureReason),
		slog.Int("steps", len(res.Plan)),
		slog.Int("iterations", res.Iterations),
		slog.Int("backtracks", res.Backtracks),
		slog.Duration("duration", res.Duration),
	)
	return res, nil
}

func (p *Planner) run(ctx context.Context, m *machine) (*Result, error) {
	for {
		if err := ctxErr(ctx); err != nil {
			return nil, m.wrap("Plan", err)
		}
		if m.overLimit() {
			return &Result{FailureReason: ReasonIterationLimit}, nil
		}

		out, err := m.selectTask()
		if err != nil {
			return nil, m.wrap("Plan", err)
		}

		switch out.phase {
		case PhaseSuccess:
			return &Result{
				Success:   true,
				Plan:      m.cur.steps,
				State:     m.cur.state,
				Structure: m.cur.plan,
				Tree:      BuildTree(m.root, m.cur.trace),
				Decisions: m.cur.trace,
				Cost:      m.cur.cost(),
			}, nil
		case PhaseApplyOp:
			m.cur = m.applyOp(out.task, out.eff)
		case PhaseApplyMethod:
			m.applyMethod(out.task, out.dec)
		case PhaseBacktrack:
			if !m.pop() {
				return &Result{FailureReason: ReasonExhausted}, nil
			}
		}
	}
}

// Plan runs a batch planner with DefaultConfig.
func Plan(ctx context.Context, st *cond.State, net *tasknet.Node, d *domain.Domain) (*Result, error) {
	return New(d, DefaultConfig()).Plan(ctx, st, net)
}
