// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package domain

import (
	"errors"
	"strconv"

	"github.com/AleutianAI/AleutianHTN/services/planner/cond"
	"github.com/AleutianAI/AleutianHTN/services/planner/tasknet"
	"github.com/AleutianAI/AleutianHTN/services/planner/term"
)

// -----------------------------------------------------------------------------
// Operator
// -----------------------------------------------------------------------------

// Operator is a primitive action.
//
// Description:
//
//	Params is matched against a task's arguments. Pre is matched against
//	the state under the resulting bindings. Add and Del are effect
//	templates whose values may be literals, variables bound by the match,
//	or compute expressions evaluated when the operator is applied.
type Operator struct {
	Name   string
	Params term.Tuple
	Pre    cond.Condition
	Add    []cond.Fact
	Del    []cond.Fact
	Cost   float64
}

// EntityName implements Entity.
func (o *Operator) EntityName() string { return o.Name }

// Arity implements Entity.
func (o *Operator) Arity() int { return len(o.Params) }

// Key implements Entity.
func (o *Operator) Key() string { return headKey(o.Name, o.Params) }

// Head returns (name, params...).
func (o *Operator) Head() term.Tuple { return head(o.Name, o.Params) }

// Effects is a grounded operator application.
type Effects struct {
	Operator string
	Task     tasknet.Task
	Add      []cond.Fact
	Del      []cond.Fact
	Cost     float64
	Bindings term.Subst
}

// Applicable tests the operator against task in st.
//
// Description:
//
//	The task head is unified with the operator head, then the precondition
//	is matched. If several substitutions satisfy it, exactly one is chosen
//	uniformly at random from env. Effect templates are evaluated eagerly
//	under that substitution.
//
// Outputs:
//
//	*Effects - The grounded effects, or nil when the operator does not apply.
//	error - Non-nil only when an effect cannot be evaluated, which points at
//	        a malformed domain rather than an unreachable state.
func (o *Operator) Applicable(task tasknet.Task, st *cond.State, env *Env) (*Effects, error) {
	s, ok := term.Unify(task.Head(), o.Head(), nil)
	if !ok {
		return nil, nil
	}
	reg := env.funcs()
	matches := cond.Satisfiers(o.Pre, st, s, reg)
	if len(matches) == 0 {
		return nil, nil
	}
	s = matches[env.Pick(len(matches))]

	eff := &Effects{
		Operator: o.Name,
		Task:     task.Subst(s),
		Cost:     o.Cost,
		Bindings: s,
	}
	for _, f := range o.Del {
		g, err := evalFact(f, s, reg, true)
		if err != nil {
			return nil, &EffectError{Entity: o.Name, Err: err}
		}
		eff.Del = append(eff.Del, g)
	}
	for _, f := range o.Add {
		g, err := evalFact(f, s, reg, false)
		if err != nil {
			return nil, &EffectError{Entity: o.Name, Err: err}
		}
		eff.Add = append(eff.Add, g)
	}
	return eff, nil
}

// Apply returns st with the effects applied.
func (e *Effects) Apply(st *cond.State) *cond.State {
	return st.Apply(e.Del, e.Add)
}

// evalFact grounds a template. With allowVars, values still holding unbound
// variables are substituted rather than evaluated, leaving a pattern.
func evalFact(f cond.Fact, s term.Subst, reg *term.Registry, allowVars bool) (cond.Fact, error) {
	out := make(cond.Fact, len(f))
	for _, a := range f.Attrs() {
		v := f[a]
		if allowVars && !term.IsGround(v, s) {
			out[a] = term.Substitute(s, v)
			continue
		}
		val, err := term.Eval(reg, v, s)
		if err != nil {
			return nil, err
		}
		out[a] = val
	}
	return out, nil
}

// -----------------------------------------------------------------------------
// Method
// -----------------------------------------------------------------------------

// Branch is one (precondition, subtasks) alternative of a Method.
type Branch struct {
	Name     string
	Pre      cond.Condition
	Subtasks *tasknet.Node
}

// Method decomposes a compound task. Branches are tried in declaration order.
type Method struct {
	Name     string
	Params   term.Tuple
	Branches []Branch
}

// EntityName implements Entity.
func (m *Method) EntityName() string { return m.Name }

// Arity implements Entity.
func (m *Method) Arity() int { return len(m.Params) }

// Key implements Entity.
func (m *Method) Key() string { return headKey(m.Name, m.Params) }

// Head returns (name, params...).
func (m *Method) Head() term.Tuple { return head(m.Name, m.Params) }

// Decomposition is the result of applying a method branch.
type Decomposition struct {
	Method     string
	Branch     int
	BranchName string
	Subtasks   *tasknet.Node
	Bindings   term.Subst
}

// Applicable finds the first branch of m that decomposes task in st.
//
// Description:
//
//	A branch whose (branch, state, trail) triple is already in visited is
//	skipped. This memo is what keeps repeated backtracking into the same
//	decision from re-exploring it forever. For the first remaining branch
//	with a satisfying substitution, one substitution is chosen at random,
//	the triple is recorded and the grounded subtask structure is returned
//	with its container kinds intact.
//
// Outputs:
//
//	*Decomposition - The grounded subtasks, or nil when no branch applies.
func (m *Method) Applicable(task tasknet.Task, st *cond.State, trail string, visited *Visited, env *Env) *Decomposition {
	s, ok := term.Unify(task.Head(), m.Head(), nil)
	if !ok {
		return nil
	}
	reg := env.funcs()
	for i, b := range m.Branches {
		key := VisitKey(m.Key(), i, st, trail)
		if visited.Seen(key) {
			continue
		}
		matches := cond.Satisfiers(b.Pre, st, s, reg)
		if len(matches) == 0 {
			continue
		}
		chosen := matches[env.Pick(len(matches))]
		visited.Mark(key)
		sub := b.Subtasks
		if sub == nil {
			sub = tasknet.Ordered()
		}
		return &Decomposition{
			Method:     m.Name,
			Branch:     i,
			BranchName: m.BranchName(i),
			Subtasks:   tasknet.Subst(sub, chosen),
			Bindings:   chosen,
		}
	}
	return nil
}

// BranchName returns a display name for branch i.
func (m *Method) BranchName(i int) string {
	if i >= 0 && i < len(m.Branches) && m.Branches[i].Name != "" {
		return m.Branches[i].Name
	}
	return m.Name + "#" + strconv.Itoa(i)
}

// -----------------------------------------------------------------------------
// Axiom
// -----------------------------------------------------------------------------

// Axiom derives a fact wherever its condition holds.
type Axiom struct {
	Name   string
	When   cond.Condition
	Derive cond.Fact
}

// Apply adds the derived fact for every satisfying substitution of When.
// Re-adding an existing fact is a no-op, so Apply is idempotent. It is not
// run to a fixpoint: facts derived here do not trigger further derivations
// in the same call.
func (a *Axiom) Apply(st *cond.State, env *Env) (*cond.State, error) {
	reg := env.funcs()
	var add []cond.Fact
	for _, s := range cond.AllSatisfiers(a.When, st, nil, reg) {
		f, err := evalFact(a.Derive, s, reg, false)
		if err != nil {
			return nil, &EffectError{Entity: a.Name, Err: err}
		}
		add = append(add, f)
	}
	if len(add) == 0 {
		return st, nil
	}
	return st.With(add...), nil
}

// ApplyAxioms applies each axiom once, in order.
func ApplyAxioms(axioms []*Axiom, st *cond.State, env *Env) (*cond.State, error) {
	var err error
	for _, a := range axioms {
		if st, err = a.Apply(st, env); err != nil {
			return nil, err
		}
	}
	return st, nil
}

// -----------------------------------------------------------------------------
// Whole-domain checks
// -----------------------------------------------------------------------------

// CheckReferences resolves every task mentioned in a method branch and
// reports the ones that are missing or have the wrong arity or kind.
func (d *Domain) CheckReferences() error {
	var errs []error
	seen := make(map[*Method]bool)
	check := func(m *Method) {
		if seen[m] {
			return
		}
		seen[m] = true
		for _, b := range m.Branches {
			if b.Subtasks == nil {
				continue
			}
			if err := d.Check(b.Subtasks); err != nil {
				errs = append(errs, err)
			}
		}
	}
	for _, k := range d.Keys() {
		if es, ok := d.entries[k]; ok {
			for _, e := range es {
				if m, ok := e.(*Method); ok {
					check(m)
				}
			}
		}
		if e, ok := d.legacy[k]; ok {
			if m, ok := e.(*Method); ok {
				check(m)
			}
		}
	}
	return errors.Join(errs...)
}
