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

import "strings"

// Subst maps variables to terms. A Subst is never mutated after it has been
// handed out; Bind returns an extended copy.
type Subst map[Var]Term

// Bind returns a copy of s with v bound to t.
func (s Subst) Bind(v Var, t Term) Subst {
	out := make(Subst, len(s)+1)
	for k, val := range s {
		out[k] = val
	}
	out[v] = t
	return out
}

// Lookup returns the fully resolved value of v.
func (s Subst) Lookup(v Var) (Term, bool) {
	t := Walk(v, s)
	if _, unbound := t.(Var); unbound {
		return nil, false
	}
	return Substitute(s, t), true
}

func (s Subst) String() string {
	var b strings.Builder
	b.WriteByte('{')
	for i, v := range sortedVars(s) {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(v.String())
		b.WriteString(": ")
		b.WriteString(Key(Substitute(s, v)))
	}
	b.WriteByte('}')
	return b.String()
}

// Walk chases variable bindings in s until it reaches a non-variable or an
// unbound variable.
func Walk(t Term, s Subst) Term {
	for {
		v, ok := t.(Var)
		if !ok {
			return t
		}
		next, bound := s[v]
		if !bound {
			return v
		}
		t = next
	}
}

// Unify extends s so that x and y become equal.
//
// Description:
//
//	Identical terms unify without new bindings. A variable on either side
//	binds to the other side after both are chased through s, so an existing
//	binding is honoured by unifying its value rather than overwritten.
//	Tuples and compute expressions unify element-wise and require equal
//	arity; the first failing element stops the walk. Binding a variable to
//	a term that contains it fails (occurs check).
//
// Inputs:
//
//	x, y - Terms to unify.
//	s - Incoming substitution. Nil is treated as empty.
//
// Outputs:
//
//	Subst - The extended substitution. s itself is never modified.
//	bool - False when the terms cannot be unified.
func Unify(x, y Term, s Subst) (Subst, bool) {
	if s == nil {
		s = Subst{}
	}
	x = Walk(x, s)
	y = Walk(y, s)

	xv, xIsVar := x.(Var)
	yv, yIsVar := y.(Var)
	switch {
	case xIsVar && yIsVar && xv == yv:
		return s, true
	case xIsVar:
		return bindVar(xv, y, s)
	case yIsVar:
		return bindVar(yv, x, s)
	}

	switch xt := x.(type) {
	case Tuple:
		yt, ok := y.(Tuple)
		if !ok {
			return nil, false
		}
		return unifySeq(xt, yt, s)
	case Compute:
		yt, ok := y.(Compute)
		if !ok || xt.Fn != yt.Fn {
			return nil, false
		}
		return unifySeq(xt.Args, yt.Args, s)
	}
	switch y.(type) {
	case Tuple, Compute:
		return nil, false
	}
	if Equal(x, y) {
		return s, true
	}
	return nil, false
}

func unifySeq(xs, ys []Term, s Subst) (Subst, bool) {
	if len(xs) != len(ys) {
		return nil, false
	}
	for i := range xs {
		var ok bool
		if s, ok = Unify(xs[i], ys[i], s); !ok {
			return nil, false
		}
	}
	return s, true
}

func bindVar(v Var, t Term, s Subst) (Subst, bool) {
	if occurs(v, t, s) {
		return nil, false
	}
	return s.Bind(v, t), true
}

// occurs reports whether v appears in t once t is resolved under s.
func occurs(v Var, t Term, s Subst) bool {
	switch tt := Walk(t, s).(type) {
	case Var:
		return tt == v
	case Tuple:
		for _, e := range tt {
			if occurs(v, e, s) {
				return true
			}
		}
	case Compute:
		for _, e := range tt.Args {
			if occurs(v, e, s) {
				return true
			}
		}
	}
	return false
}

// Substitute rewrites every variable in t by its chased binding in s.
// Unbound variables and non-variable structure are left unchanged.
func Substitute(s Subst, t Term) Term {
	switch v := Walk(t, s).(type) {
	case Tuple:
		out := make(Tuple, len(v))
		for i, e := range v {
			out[i] = Substitute(s, e)
		}
		return out
	case Compute:
		args := make([]Term, len(v.Args))
		for i, e := range v.Args {
			args[i] = Substitute(s, e)
		}
		return Compute{Fn: v.Fn, Args: args}
	default:
		return v
	}
}
