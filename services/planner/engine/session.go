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
	"errors"
	"log/slog"
	"sync"

	"go.opentelemetry.io/otel/attribute"

	"github.com/AleutianAI/AleutianHTN/services/planner/cond"
	"github.com/AleutianAI/AleutianHTN/services/planner/domain"
	"github.com/AleutianAI/AleutianHTN/services/planner/tasknet"
	"github.com/AleutianAI/AleutianHTN/services/planner/telemetry"
)

// ErrIterationLimit indicates a single Resume ran past MaxIterations
// without reaching a suspension point.
var ErrIterationLimit = errors.New("iteration limit reached")

// Reply is the caller's answer to the previous output.
type Reply int

const (
	// ReplyNone primes the session, or re-delivers a pending proposal.
	ReplyNone Reply = iota

	// ReplyAccept commits the pending proposal.
	ReplyAccept

	// ReplyReject discards the pending proposal and backtracks.
	ReplyReject
)

func (r Reply) String() string {
	switch r {
	case ReplyAccept:
		return "accept"
	case ReplyReject:
		return "reject"
	default:
		return "none"
	}
}

// OutputKind tags a session output.
type OutputKind int

const (
	// OutputProposal carries the fact an operator is about to add.
	OutputProposal OutputKind = iota

	// OutputRetry signals that the current attempt failed and a renewed
	// attempt starts from a fresh ordering.
	OutputRetry

	// OutputGoal signals that the task network is accomplished.
	OutputGoal
)

func (k OutputKind) String() string {
	switch k {
	case OutputProposal:
		return "proposal"
	case OutputRetry:
		return "retry"
	case OutputGoal:
		return "goal"
	default:
		return "unknown"
	}
}

// Output is what Resume yields.
type Output struct {
	Kind OutputKind

	// Fact is the proposed fact for OutputProposal and the goal fact for
	// OutputGoal.
	Fact cond.Fact

	// Effects holds every add effect of the proposed step.
	Effects []cond.Fact

	// Step is the proposed operator application.
	Step *Step
}

// SessionStats summarises a session's search effort.
type SessionStats struct {
	Iterations  int `json:"iterations"`
	Backtracks  int `json:"backtracks"`
	Reseeds     int `json:"reseeds"`
	Accepted    int `json:"accepted"`
	Rejected    int `json:"rejected"`
	StackDepth  int `json:"stack_depth"`
	Orderings   int `json:"orderings"`
	VisitedSize int `json:"visited_size"`
}

type pendingStep struct {
	after snapshot
	out   Output
}

// permEntry is one whole-network restart point: an ordering of the pending
// network together with the memo as it stood when the ordering was taken.
type permEntry struct {
	snap    snapshot
	visited *domain.Visited
}

func (e permEntry) clone() permEntry {
	return permEntry{snap: e.snap.clone(), visited: e.visited.Clone()}
}

// Session is the interactive engine.
//
// Description:
//
//	The machine suspends right before committing an operator's effects and
//	yields the proposed fact. The caller answers with Accept or Reject.
//
//	Accept locks the step in: the effect is committed, the task removed,
//	every pending choice point discarded and the permutation stack rebuilt
//	from the remaining network.
//
//	Reject backtracks. The ordinary choice-point stack is tried first.
//	When it is empty, the next permutation snapshot is restored and a
//	Retry is yielded. When the permutation stack is also empty it is
//	re-seeded with its last entry, so a session never ends on its own
//	until the goal is reached. The caller decides when to stop.
//
// Thread Safety: Safe for concurrent use. Calls are serialised.
type Session struct {
	mu sync.Mutex

	m     *machine
	goal  cond.Fact
	perms []permEntry

	pending  *pendingStep
	started  bool
	done     bool
	closed   bool
	reseeds  int
	accepted int
	rejected int
}

// NewSession prepares an interactive session. Nothing runs until the first
// Resume(ctx, ReplyNone).
func NewSession(d *domain.Domain, st *cond.State, net *tasknet.Node, goal cond.Fact, cfg Config) (*Session, error) {
	if err := checkInput(d, st, net); err != nil {
		return nil, &EngineError{Engine: "session", Operation: "NewSession", Err: err}
	}
	s := &Session{
		m:    newMachine("session", d, st, net, cfg),
		goal: goal.Clone(),
	}
	s.perms = s.permutationStack()
	return s, nil
}

// Resume advances the session by one suspension.
//
// Description:
//
//	The first call must carry ReplyNone and yields the first proposal, a
//	Retry or the goal. Afterwards:
//	  - ReplyNone re-delivers a pending proposal.
//	  - ReplyAccept commits the pending proposal and runs to the next
//	    suspension.
//	  - ReplyReject discards it and backtracks.
//	After a Retry or the goal there is nothing to answer, so any reply
//	just advances. Once the goal is reached every call yields it again.
//
// Outputs:
//
//	Output - The next suspension.
//	error - ErrNotStarted, ErrClosed, ErrIterationLimit, configuration or
//	        effect errors from the domain, or ctx.Err().
func (s *Session) Resume(ctx context.Context, reply Reply) (Output, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return Output{}, &EngineError{Engine: "session", Operation: "Resume", Err: ErrClosed}
	}
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, span := telemetry.StartSpan(ctx, tracerName, "Session.Resume")
	defer span.End()
	span.SetAttributes(attribute.String("htn.reply", reply.String()))

	out, err := s.resume(ctx, reply)
	if err != nil {
		telemetry.RecordError(span, err)
		return Output{}, s.m.wrap("Resume", err)
	}
	sessionOutputsTotal.WithLabelValues(reply.String(), out.Kind.String()).Inc()
	span.SetAttributes(attribute.String("htn.output", out.Kind.String()))
	telemetry.SetSpanOK(span)
	return out, nil
}

func (s *Session) resume(ctx context.Context, reply Reply) (Output, error) {
	if !s.started {
		if reply != ReplyNone {
			return Output{}, ErrNotStarted
		}
		s.started = true
		return s.advance(ctx)
	}
	if s.done {
		return s.goalOutput(), nil
	}
	if s.pending == nil {
		return s.advance(ctx)
	}

	switch reply {
	case ReplyAccept:
		s.accept()
	case ReplyReject:
		s.rejected++
		s.pending = nil
		if out, suspended := s.backtrack(); suspended {
			return out, nil
		}
	default:
		return s.pending.out, nil
	}
	return s.advance(ctx)
}

// advance runs the machine to the next suspension point.
func (s *Session) advance(ctx context.Context) (Output, error) {
	m := s.m
	start := m.iterations
	for {
		if err := ctxErr(ctx); err != nil {
			return Output{}, err
		}
		if m.cfg.MaxIterations > 0 && m.iterations-start >= m.cfg.MaxIterations {
			return Output{}, ErrIterationLimit
		}

		out, err := m.selectTask()
		if err != nil {
			return Output{}, err
		}

		switch out.phase {
		case PhaseSuccess:
			s.done = true
			m.log.Info("session reached goal",
				slog.Int("steps", len(m.cur.steps)),
				slog.Int("iterations", m.iterations),
				slog.Int("backtracks", m.backtracks),
			)
			return s.goalOutput(), nil

		case PhaseApplyOp:
			after := m.applyOp(out.task, out.eff)
			step := after.steps[len(after.steps)-1]
			proposal := Output{
				Kind:    OutputProposal,
				Effects: out.eff.Add,
				Step:    &step,
			}
			if n := len(out.eff.Add); n > 0 {
				proposal.Fact = out.eff.Add[n-1]
			}
			s.pending = &pendingStep{after: after, out: proposal}
			m.log.Debug("proposing", slog.String("task", out.task.String()), slog.String("fact", proposal.Fact.String()))
			return proposal, nil

		case PhaseApplyMethod:
			m.applyMethod(out.task, out.dec)
			s.pushOrderings()

		case PhaseBacktrack:
			if o, suspended := s.backtrack(); suspended {
				return o, nil
			}
		}
	}
}

// accept commits the pending proposal and discards every alternative.
func (s *Session) accept() {
	s.accepted++
	s.m.cur = s.pending.after
	s.pending = nil
	s.m.stack = nil
	s.perms = s.permutationStack()
}

// backtrack pops the ordinary stack, falling back to the permutation
// stack. It reports true when the caller must suspend with the returned
// Retry.
func (s *Session) backtrack() (Output, bool) {
	m := s.m
	if m.pop() {
		backtracksTotal.WithLabelValues("session").Inc()
		return Output{}, false
	}
	if len(s.perms) == 0 {
		s.perms = s.permutationStack()
	}
	e := s.perms[len(s.perms)-1]
	s.perms = s.perms[:len(s.perms)-1]
	if len(s.perms) == 0 {
		s.reseeds++
		sessionReseedsTotal.Inc()
		m.log.Warn("permutation stack exhausted, re-seeding with last ordering", slog.Int("reseeds", s.reseeds))
		s.perms = append(s.perms, e.clone())
	}
	m.cur = e.snap.clone()
	m.visited = e.visited.Clone()
	m.stack = nil
	m.backtracks++
	backtracksTotal.WithLabelValues("session").Inc()
	m.log.Debug("restarting from ordering", slog.String("net", m.cur.net.Key()))
	return Output{Kind: OutputRetry}, true
}

// permutationStack builds restart points for every ordering of the current
// network. Popping from the end yields the alternatives first and the
// declared ordering last.
func (s *Session) permutationStack() []permEntry {
	m := s.m
	perms := tasknet.PermutationsUpTo(m.cur.net, m.cfg.MaxPermutations)
	out := make([]permEntry, 0, len(perms))
	mk := func(n *tasknet.Node) permEntry {
		snap := m.cur.clone()
		snap.net = n
		return permEntry{snap: snap, visited: m.visited.Clone()}
	}
	if len(perms) == 0 {
		return append(out, mk(m.cur.net.Clone()))
	}
	out = append(out, mk(perms[0]))
	for i := len(perms) - 1; i >= 1; i-- {
		out = append(out, mk(perms[i]))
	}
	return out
}

// pushOrderings pushes the alternative orderings of the freshly decomposed
// network above the pre-decomposition choice point.
func (s *Session) pushOrderings() {
	m := s.m
	perms := tasknet.PermutationsUpTo(m.cur.net, m.cfg.MaxPermutations)
	for i := len(perms) - 1; i >= 1; i-- {
		snap := m.cur.clone()
		snap.net = perms[i]
		m.stack = append(m.stack, snap)
	}
}

func (s *Session) goalOutput() Output {
	return Output{Kind: OutputGoal, Fact: s.goal}
}

// Close releases the session. Later calls to Resume fail with ErrClosed.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.perms = nil
	s.m.stack = nil
}

// Done reports whether the goal was reached.
func (s *Session) Done() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.done
}

// State returns the committed state. Pending proposals are not included.
func (s *Session) State() *cond.State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.m.cur.state
}

// Steps returns the accepted operator applications.
func (s *Session) Steps() []Step {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Step(nil), s.m.cur.steps...)
}

// Pending returns the outstanding proposal, if any.
func (s *Session) Pending() (Output, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pending == nil {
		return Output{}, false
	}
	return s.pending.out, true
}

// Stats returns counters describing the search so far.
func (s *Session) Stats() SessionStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return SessionStats{
		Iterations:  s.m.iterations,
		Backtracks:  s.m.backtracks,
		Reseeds:     s.reseeds,
		Accepted:    s.accepted,
		Rejected:    s.rejected,
		StackDepth:  len(s.m.stack),
		Orderings:   len(s.perms),
		VisitedSize: s.m.visited.Len(),
	}
}
