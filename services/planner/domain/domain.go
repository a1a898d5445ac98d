// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package domain defines planning domains: primitive Operators, compound
// Methods and derived-fact Axioms, and the Domain table that resolves a task
// to its candidate definitions.
package domain

import (
	"errors"
	"fmt"
	"math/rand/v2"
	"sort"
	"strconv"
	"strings"

	"github.com/AleutianAI/AleutianHTN/services/planner/tasknet"
	"github.com/AleutianAI/AleutianHTN/services/planner/term"
)

// Package-level error definitions.
var (
	// ErrUnknownTask means no domain entry exists for a task name.
	ErrUnknownTask = errors.New("unknown task")

	// ErrArityMismatch means the task name exists with a different arity.
	ErrArityMismatch = errors.New("arity mismatch")

	// ErrKindMismatch means a primitive task resolved to a method or a
	// compound task to an operator.
	ErrKindMismatch = errors.New("entity kind mismatch")

	// ErrEffect means an effect template could not be evaluated.
	ErrEffect = errors.New("effect evaluation failed")

	// ErrDuplicate means an entity was registered twice under the same key.
	ErrDuplicate = errors.New("duplicate definition")
)

// LookupError reports a configuration error found while resolving a task.
// These indicate a malformed domain, not an unreachable state.
type LookupError struct {
	Task string
	Err  error
}

func (e *LookupError) Error() string {
	return "lookup " + e.Task + ": " + e.Err.Error()
}

func (e *LookupError) Unwrap() error {
	return e.Err
}

// EffectError reports a failure evaluating an operator effect or an axiom's
// derived fact.
type EffectError struct {
	Entity string
	Err    error
}

func (e *EffectError) Error() string {
	return ErrEffect.Error() + " in " + e.Entity + ": " + e.Err.Error()
}

func (e *EffectError) Unwrap() []error {
	return []error{ErrEffect, e.Err}
}

// -----------------------------------------------------------------------------
// Environment
// -----------------------------------------------------------------------------

// Env carries what applicability checks need besides the state: the
// compute-function registry and the random source used for
// non-deterministic choice.
//
// Thread Safety: Not safe for concurrent use. Give each planner its own Env.
type Env struct {
	Funcs *term.Registry
	Rand  *rand.Rand
}

// NewEnv returns an Env with the builtin functions and a PCG source seeded
// from seed.
func NewEnv(seed uint64) *Env {
	return &Env{
		Funcs: term.Builtins(),
		Rand:  NewRand(seed),
	}
}

// NewRand returns a reproducible random source for seed.
func NewRand(seed uint64) *rand.Rand {
	return rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
}

// Pick returns a uniformly random index below n. Without a random source it
// always returns 0.
func (e *Env) Pick(n int) int {
	if n <= 1 || e == nil || e.Rand == nil {
		return 0
	}
	return e.Rand.IntN(n)
}

func (e *Env) funcs() *term.Registry {
	if e == nil || e.Funcs == nil {
		return term.Builtins()
	}
	return e.Funcs
}

// -----------------------------------------------------------------------------
// Domain table
// -----------------------------------------------------------------------------

// Entity is an Operator or a Method.
type Entity interface {
	EntityName() string
	Arity() int
	Key() string
}

// Domain maps "name/arity" to candidate entities and holds axioms.
//
// Description:
//
//	Entries registered with Add are looked up by name and arity and may
//	hold several candidates, tried in registration order. Legacy entries
//	map a plain name to exactly one entity. A task resolves to exactly one
//	of the two.
//
// Thread Safety: Safe for concurrent reads once built.
type Domain struct {
	Name string

	entries map[string][]Entity
	legacy  map[string]Entity
	axioms  []*Axiom

	// err collects Add calls rejected for clashing with a legacy name.
	err error
}

// New returns an empty domain.
func New(name string) *Domain {
	return &Domain{
		Name:    name,
		entries: make(map[string][]Entity),
		legacy:  make(map[string]Entity),
	}
}

// Add registers entities under their "name/arity" keys. An entity whose
// name is already a legacy name is not registered; the rejection is
// reported by Err.
func (d *Domain) Add(entities ...Entity) *Domain {
	for _, e := range entities {
		if _, clash := d.legacy[e.EntityName()]; clash {
			d.err = errors.Join(d.err, fmt.Errorf("%w: %s clashes with legacy %q", ErrDuplicate, e.Key(), e.EntityName()))
			continue
		}
		d.entries[e.Key()] = append(d.entries[e.Key()], e)
	}
	return d
}

// Err returns the entities Add rejected, joined, or nil.
func (d *Domain) Err() error {
	return d.err
}

// AddLegacy registers e as the single definition for the plain name. The
// name must not already be used by a legacy or a "name/arity" entry.
func (d *Domain) AddLegacy(name string, e Entity) error {
	if _, dup := d.legacy[name]; dup {
		return fmt.Errorf("%w: legacy %q", ErrDuplicate, name)
	}
	prefix := name + "/"
	for k := range d.entries {
		if strings.HasPrefix(k, prefix) {
			return fmt.Errorf("%w: legacy %q clashes with %s", ErrDuplicate, name, k)
		}
	}
	d.legacy[name] = e
	return nil
}

// AddAxioms appends axioms applied once per planning iteration.
func (d *Domain) AddAxioms(axioms ...*Axiom) *Domain {
	d.axioms = append(d.axioms, axioms...)
	return d
}

// Axioms returns the domain's axioms in registration order.
func (d *Domain) Axioms() []*Axiom {
	return d.axioms
}

// Keys returns every registered lookup key, sorted. Legacy names are
// reported as the bare name.
func (d *Domain) Keys() []string {
	keys := make([]string, 0, len(d.entries)+len(d.legacy))
	for k := range d.entries {
		keys = append(keys, k)
	}
	for k := range d.legacy {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Lookup resolves task to its candidate entities.
//
// Outputs:
//
//	[]Entity - Candidates in registration order.
//	error - *LookupError wrapping ErrUnknownTask or ErrArityMismatch.
func (d *Domain) Lookup(task tasknet.Task) ([]Entity, error) {
	if es, ok := d.entries[task.Key()]; ok && len(es) > 0 {
		return es, nil
	}
	if e, ok := d.legacy[task.Name]; ok {
		if e.Arity() != task.Arity() {
			return nil, &LookupError{Task: task.Key(), Err: fmt.Errorf("%w: %s takes %d arguments", ErrArityMismatch, e.EntityName(), e.Arity())}
		}
		return []Entity{e}, nil
	}
	prefix := task.Name + "/"
	var arities []string
	for k := range d.entries {
		if strings.HasPrefix(k, prefix) {
			arities = append(arities, strings.TrimPrefix(k, prefix))
		}
	}
	if len(arities) > 0 {
		sort.Strings(arities)
		return nil, &LookupError{Task: task.Key(), Err: fmt.Errorf("%w: defined with arity %s", ErrArityMismatch, strings.Join(arities, ", "))}
	}
	return nil, &LookupError{Task: task.Key(), Err: ErrUnknownTask}
}

// Operators resolves a primitive task to its operators.
func (d *Domain) Operators(task tasknet.Task) ([]*Operator, error) {
	es, err := d.Lookup(task)
	if err != nil {
		return nil, err
	}
	ops := make([]*Operator, 0, len(es))
	for _, e := range es {
		op, ok := e.(*Operator)
		if !ok {
			return nil, &LookupError{Task: task.Key(), Err: fmt.Errorf("%w: %s is not an operator", ErrKindMismatch, e.EntityName())}
		}
		ops = append(ops, op)
	}
	return ops, nil
}

// Methods resolves a compound task to its methods.
func (d *Domain) Methods(task tasknet.Task) ([]*Method, error) {
	es, err := d.Lookup(task)
	if err != nil {
		return nil, err
	}
	ms := make([]*Method, 0, len(es))
	for _, e := range es {
		m, ok := e.(*Method)
		if !ok {
			return nil, &LookupError{Task: task.Key(), Err: fmt.Errorf("%w: %s is not a method", ErrKindMismatch, e.EntityName())}
		}
		ms = append(ms, m)
	}
	return ms, nil
}

// IsPrimitive reports whether task resolves to operators. Unknown tasks
// report false with the lookup error.
func (d *Domain) IsPrimitive(task tasknet.Task) (bool, error) {
	es, err := d.Lookup(task)
	if err != nil {
		return false, err
	}
	_, ok := es[0].(*Operator)
	return ok, nil
}

// PrimitiveNames returns the task names that resolve to operators.
func (d *Domain) PrimitiveNames() map[string]bool {
	names := make(map[string]bool)
	for _, es := range d.entries {
		for _, e := range es {
			if _, ok := e.(*Operator); ok {
				names[e.EntityName()] = true
			}
		}
	}
	for name, e := range d.legacy {
		if _, ok := e.(*Operator); ok {
			names[name] = true
		}
	}
	return names
}

// Check resolves every task in net and joins the configuration errors found.
func (d *Domain) Check(net *tasknet.Node) error {
	var errs []error
	for _, t := range net.Tasks() {
		var err error
		if t.Primitive {
			_, err = d.Operators(t)
		} else {
			_, err = d.Methods(t)
		}
		if err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func headKey(name string, params term.Tuple) string {
	return name + "/" + strconv.Itoa(len(params))
}

func head(name string, params term.Tuple) term.Tuple {
	h := make(term.Tuple, 0, len(params)+1)
	h = append(h, name)
	return append(h, params...)
}
