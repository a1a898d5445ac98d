// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package engine runs HTN decomposition over a domain.
//
// Two engines share one state machine. Planner runs it to completion and
// returns a plan. Session suspends before each primitive effect so a caller
// (a tutor, usually) can accept or reject the proposed fact.
//
// Search failure is a value: Result.Success is false, or the session yields
// a Retry. Go errors are reserved for malformed domains, effect evaluation
// failures and context cancellation.
package engine

import (
	"context"
	"errors"
	"log/slog"
	"math/rand/v2"

	"github.com/AleutianAI/AleutianHTN/services/planner/cond"
	"github.com/AleutianAI/AleutianHTN/services/planner/domain"
	"github.com/AleutianAI/AleutianHTN/services/planner/tasknet"
	"github.com/AleutianAI/AleutianHTN/services/planner/term"
)

// -----------------------------------------------------------------------------
// Errors
// -----------------------------------------------------------------------------

var (
	// ErrInvalidInput indicates a nil domain, state or network.
	ErrInvalidInput = errors.New("invalid input")

	// ErrNotStarted indicates Accept or Reject before the first Resume.
	ErrNotStarted = errors.New("session not started")

	// ErrClosed indicates use of a closed session.
	ErrClosed = errors.New("session closed")
)

// EngineError wraps errors with the engine and operation that raised them.
type EngineError struct {
	Engine    string
	Operation string
	Err       error
}

func (e *EngineError) Error() string {
	return e.Engine + "." + e.Operation + ": " + e.Err.Error()
}

func (e *EngineError) Unwrap() error {
	return e.Err
}

// -----------------------------------------------------------------------------
// Phases
// -----------------------------------------------------------------------------

// Phase is a state of the decomposition machine.
type Phase int

const (
	PhaseSelect Phase = iota
	PhaseApplyOp
	PhaseApplyMethod
	PhaseBacktrack
	PhaseSuccess
	PhaseFail
)

func (p Phase) String() string {
	switch p {
	case PhaseSelect:
		return "select"
	case PhaseApplyOp:
		return "apply_op"
	case PhaseApplyMethod:
		return "apply_method"
	case PhaseBacktrack:
		return "backtrack"
	case PhaseSuccess:
		return "success"
	case PhaseFail:
		return "fail"
	default:
		return "unknown"
	}
}

// -----------------------------------------------------------------------------
// Configuration
// -----------------------------------------------------------------------------

// Selector picks which frontier task to work on next.
type Selector int

const (
	// SelectRandom picks uniformly among the frontier.
	SelectRandom Selector = iota

	// SelectFirst always takes the first frontier task.
	SelectFirst
)

func (s Selector) String() string {
	if s == SelectFirst {
		return "first"
	}
	return "random"
}

// ParseSelector maps "first" and "random" to a Selector.
func ParseSelector(s string) (Selector, bool) {
	switch s {
	case "first":
		return SelectFirst, true
	case "random", "":
		return SelectRandom, true
	}
	return SelectRandom, false
}

// Config configures both engines.
type Config struct {
	// Seed seeds the random source when Rand is nil.
	Seed uint64

	// MaxIterations bounds machine steps. Zero means no limit.
	MaxIterations int

	// MaxPermutations caps the orderings pushed per snapshot in a session.
	MaxPermutations int

	// Selector picks the frontier task.
	Selector Selector

	// Funcs is the compute registry. Nil means term.Builtins().
	Funcs *term.Registry

	// Rand overrides the seeded source.
	Rand *rand.Rand

	// Logger receives phase transitions at Debug and outcomes at Info.
	Logger *slog.Logger
}

// DefaultConfig returns the batch planner defaults.
func DefaultConfig() Config {
	return Config{
		MaxPermutations: 64,
		Selector:        SelectRandom,
	}
}

// DefaultSessionConfig returns the interactive defaults. Sessions select
// the first frontier task; ordering diversity comes from permutation
// snapshots instead.
func DefaultSessionConfig() Config {
	cfg := DefaultConfig()
	cfg.Selector = SelectFirst
	return cfg
}

func (c Config) env() *domain.Env {
	env := &domain.Env{Funcs: c.Funcs, Rand: c.Rand}
	if env.Funcs == nil {
		env.Funcs = term.Builtins()
	}
	if env.Rand == nil {
		env.Rand = domain.NewRand(c.Seed)
	}
	return env
}

func (c Config) logger() *slog.Logger {
	if c.Logger != nil {
		return c.Logger
	}
	return slog.New(slog.DiscardHandler)
}

// -----------------------------------------------------------------------------
// Trace records
// -----------------------------------------------------------------------------

// Step is one applied operator.
type Step struct {
	Task     tasknet.Task
	Operator string
	Add      []cond.Fact
	Del      []cond.Fact
	Cost     float64
}

// Decision is one entry of the decomposition trace. Method decisions carry
// Method, Branch and Subtasks. Operator decisions carry Operator.
type Decision struct {
	Task     tasknet.Task
	Method   string
	Branch   string
	Subtasks *tasknet.Node
	Operator string
}

// snapshot is everything the machine needs to resume from a choice point.
type snapshot struct {
	net   *tasknet.Node // pending tasks
	plan  *tasknet.Node // root network with decomposed tasks expanded
	state *cond.State
	steps []Step
	trace []Decision
}

func (s snapshot) clone() snapshot {
	return snapshot{
		net:   s.net.Clone(),
		plan:  s.plan.Clone(),
		state: s.state.Clone(),
		steps: append([]Step(nil), s.steps...),
		trace: append([]Decision(nil), s.trace...),
	}
}

func (s snapshot) cost() float64 {
	var c float64
	for _, st := range s.steps {
		c += st.Cost
	}
	return c
}

// -----------------------------------------------------------------------------
// Shared machine
// -----------------------------------------------------------------------------

// machine is the SELECT / APPLY / BACKTRACK loop shared by both engines.
type machine struct {
	name    string
	dom     *domain.Domain
	env     *domain.Env
	cfg     Config
	log     *slog.Logger
	visited *domain.Visited
	root    *tasknet.Node

	cur   snapshot
	stack []snapshot

	iterations int
	backtracks int
}

func newMachine(name string, d *domain.Domain, st *cond.State, net *tasknet.Node, cfg Config) *machine {
	return &machine{
		name:    name,
		dom:     d,
		env:     cfg.env(),
		cfg:     cfg,
		log:     cfg.logger().With(slog.String("engine", name)),
		visited: domain.NewVisited(),
		root:    net.Clone(),
		cur: snapshot{
			net:   net.Clone(),
			plan:  net.Clone(),
			state: st,
		},
	}
}

// outcome is what one SELECT round produced.
type outcome struct {
	phase Phase
	task  tasknet.Task
	eff   *domain.Effects
	dec   *domain.Decomposition
}

// selectTask runs axioms, computes the frontier and resolves the chosen
// task to either operator effects or a decomposition. A nil eff and dec
// with PhaseBacktrack means the task could not be handled in this state.
func (m *machine) selectTask() (outcome, error) {
	m.iterations++
	if axioms := m.dom.Axioms(); len(axioms) > 0 {
		st, err := domain.ApplyAxioms(axioms, m.cur.state, m.env)
		if err != nil {
			return outcome{}, err
		}
		m.cur.state = st
	}

	frontier := tasknet.Frontier(m.cur.net)
	if len(frontier) == 0 {
		return outcome{phase: PhaseSuccess}, nil
	}
	task := frontier[0]
	if m.cfg.Selector == SelectRandom {
		task = frontier[m.env.Pick(len(frontier))]
	}

	if task.Primitive {
		ops, err := m.dom.Operators(task)
		if err != nil {
			return outcome{}, err
		}
		for _, op := range ops {
			eff, err := op.Applicable(task, m.cur.state, m.env)
			if err != nil {
				return outcome{}, err
			}
			if eff != nil {
				return outcome{phase: PhaseApplyOp, task: task, eff: eff}, nil
			}
		}
		m.log.Debug("operator not applicable", slog.String("task", task.String()))
		return outcome{phase: PhaseBacktrack, task: task}, nil
	}

	methods, err := m.dom.Methods(task)
	if err != nil {
		return outcome{}, err
	}
	trail := m.trail()
	for _, meth := range methods {
		if dec := meth.Applicable(task, m.cur.state, trail, m.visited, m.env); dec != nil {
			return outcome{phase: PhaseApplyMethod, task: task, dec: dec}, nil
		}
	}
	m.log.Debug("no method applicable", slog.String("task", task.String()))
	return outcome{phase: PhaseBacktrack, task: task}, nil
}

// trail fingerprints the pending network for the visited memo. Redundant
// nesting is flattened so a method that re-emits its own task in the same
// state is recognised as the same decision.
func (m *machine) trail() string {
	return tasknet.Flatten(m.cur.net).Key()
}

// applyOp returns the snapshot after committing eff for task.
func (m *machine) applyOp(task tasknet.Task, eff *domain.Effects) snapshot {
	next := m.cur
	next.state = eff.Apply(m.cur.state)
	next.net = tasknet.Remove(m.cur.net, task)
	next.steps = append(append([]Step(nil), m.cur.steps...), Step{
		Task:     eff.Task,
		Operator: eff.Operator,
		Add:      eff.Add,
		Del:      eff.Del,
		Cost:     eff.Cost,
	})
	next.trace = append(append([]Decision(nil), m.cur.trace...), Decision{Task: task, Operator: eff.Operator})
	return next
}

// applyMethod pushes the pre-decomposition snapshot and splices the
// subtasks in place of task.
func (m *machine) applyMethod(task tasknet.Task, dec *domain.Decomposition) {
	m.stack = append(m.stack, m.cur.clone())
	branch := dec.BranchName
	m.cur.net = tasknet.Replace(m.cur.net, task, dec.Subtasks)
	m.cur.plan = tasknet.Replace(m.cur.plan, task, dec.Subtasks)
	m.cur.trace = append(append([]Decision(nil), m.cur.trace...), Decision{
		Task:     task,
		Method:   dec.Method,
		Branch:   branch,
		Subtasks: dec.Subtasks,
	})
	m.log.Debug("decomposed",
		slog.String("task", task.String()),
		slog.String("method", dec.Method),
		slog.String("branch", branch),
		slog.Int("depth", len(m.stack)),
	)
}

// pop restores the most recent choice point. It reports false when the
// stack is empty.
func (m *machine) pop() bool {
	if len(m.stack) == 0 {
		return false
	}
	m.cur = m.stack[len(m.stack)-1]
	m.stack = m.stack[:len(m.stack)-1]
	m.backtracks++
	m.log.Debug("backtrack", slog.Int("depth", len(m.stack)), slog.Int("backtracks", m.backtracks))
	return true
}

// overLimit reports whether MaxIterations is exhausted.
func (m *machine) overLimit() bool {
	return m.cfg.MaxIterations > 0 && m.iterations >= m.cfg.MaxIterations
}

func (m *machine) wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	var ee *EngineError
	if errors.As(err, &ee) {
		return err
	}
	return &EngineError{Engine: m.name, Operation: op, Err: err}
}

func checkInput(d *domain.Domain, st *cond.State, net *tasknet.Node) error {
	switch {
	case d == nil:
		return errors.Join(ErrInvalidInput, errors.New("nil domain"))
	case st == nil:
		return errors.Join(ErrInvalidInput, errors.New("nil state"))
	case net == nil:
		return errors.Join(ErrInvalidInput, errors.New("nil task network"))
	case d.Err() != nil:
		return errors.Join(ErrInvalidInput, d.Err())
	}
	return nil
}

func ctxErr(ctx context.Context) error {
	if ctx == nil {
		return nil
	}
	return ctx.Err()
}
