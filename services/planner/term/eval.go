// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package term

import (
	"errors"
	"fmt"
	"sort"
	"sync"
)

// Package-level error definitions.
var (
	ErrUnbound      = errors.New("unbound variable")
	ErrUnknownFunc  = errors.New("unknown function")
	ErrBadArgs      = errors.New("bad arguments")
	ErrDivideByZero = errors.New("division by zero")
	ErrPanic        = errors.New("function panicked")
)

// OrForm is the function name evaluated as a short-circuit special form.
const OrForm = "or"

// EvalError wraps a failure raised while evaluating a compute expression.
type EvalError struct {
	Fn  string
	Err error
}

func (e *EvalError) Error() string {
	return "eval " + e.Fn + ": " + e.Err.Error()
}

func (e *EvalError) Unwrap() error {
	return e.Err
}

// Func is a function callable from a compute expression. Arguments are
// already evaluated and ground.
type Func func(args ...Term) (Term, error)

// Registry maps function identifiers to implementations.
//
// Thread Safety: Safe for concurrent use.
type Registry struct {
	mu    sync.RWMutex
	funcs map[string]Func
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{funcs: make(map[string]Func)}
}

// Register adds or replaces fn under name.
func (r *Registry) Register(name string, fn Func) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.funcs[name] = fn
}

// Lookup returns the function registered under name.
func (r *Registry) Lookup(name string) (Func, bool) {
	if r == nil {
		return nil, false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	fn, ok := r.funcs[name]
	return fn, ok
}

// Names returns the registered names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.funcs))
	for n := range r.funcs {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Clone returns an independent copy of r.
func (r *Registry) Clone() *Registry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := NewRegistry()
	for n, fn := range r.funcs {
		out.funcs[n] = fn
	}
	return out
}

// -----------------------------------------------------------------------------
// Interpreter
// -----------------------------------------------------------------------------

// Eval evaluates t against s.
//
// Description:
//
//	Literals evaluate to themselves. A variable evaluates to its chased
//	binding and fails with ErrUnbound if none exists. Tuples evaluate
//	element-wise. A Compute evaluates its arguments and calls the function
//	registered under Fn; panics inside the function are recovered and
//	returned as errors wrapping ErrPanic.
//
//	The "or" form is special: the first argument is evaluated and returned
//	when it succeeds and is not false, otherwise the second argument is
//	evaluated and returned.
//
// Thread Safety: Safe for concurrent use if reg is.
func Eval(reg *Registry, t Term, s Subst) (Term, error) {
	switch v := Walk(t, s).(type) {
	case Var:
		return nil, fmt.Errorf("%w: %s", ErrUnbound, v)
	case Tuple:
		out := make(Tuple, len(v))
		for i, e := range v {
			val, err := Eval(reg, e, s)
			if err != nil {
				return nil, err
			}
			out[i] = val
		}
		return out, nil
	case Compute:
		return evalCompute(reg, v, s)
	default:
		return v, nil
	}
}

func evalCompute(reg *Registry, c Compute, s Subst) (Term, error) {
	if c.Fn == OrForm {
		if len(c.Args) != 2 {
			return nil, &EvalError{Fn: c.Fn, Err: fmt.Errorf("%w: want 2 arguments, got %d", ErrBadArgs, len(c.Args))}
		}
		first, err := Eval(reg, c.Args[0], s)
		if err == nil && first != false {
			return first, nil
		}
		return Eval(reg, c.Args[1], s)
	}

	fn, ok := reg.Lookup(c.Fn)
	if !ok {
		return nil, &EvalError{Fn: c.Fn, Err: ErrUnknownFunc}
	}
	args := make([]Term, len(c.Args))
	for i, a := range c.Args {
		val, err := Eval(reg, a, s)
		if err != nil {
			return nil, err
		}
		args[i] = val
	}
	return call(c.Fn, fn, args)
}

func call(name string, fn Func, args []Term) (out Term, err error) {
	defer func() {
		if r := recover(); r != nil {
			out = nil
			err = &EvalError{Fn: name, Err: fmt.Errorf("%w: %v", ErrPanic, r)}
		}
	}()
	out, err = fn(args...)
	if err != nil {
		var ee *EvalError
		if !errors.As(err, &ee) {
			err = &EvalError{Fn: name, Err: err}
		}
	}
	return out, err
}

// Truthy reports whether an evaluated filter result counts as satisfied.
// Only bool true does; any other value is a type error.
func Truthy(v Term) (bool, error) {
	b, ok := v.(bool)
	if !ok {
		return false, fmt.Errorf("%w: filter returned %T, want bool", ErrBadArgs, v)
	}
	return b, nil
}
