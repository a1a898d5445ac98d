// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package cond holds working memory and the condition language matched
// against it.
//
// A State is an immutable set of Facts. A Condition is a boolean tree of
// fact patterns and guards combined with And, Or and Not. Normalize expands
// a Condition into disjunctive normal form; Satisfiers matches it against a
// State and returns every substitution that makes it true.
package cond

import (
	"sort"
	"strings"

	"github.com/AleutianAI/AleutianHTN/services/planner/term"
)

// Condition is a node of a condition tree. Implementations are Fact, And,
// Or, Not, Filter, Bind and Named.
type Condition interface {
	condition()
	String() string
}

// Fact is a mapping from attribute names to values. Inside a condition a
// Fact is a pattern: its values may be variables, and it matches any state
// fact that carries at least its attributes with unifiable values.
type Fact map[string]term.Term

// And holds when every child holds.
type And []Condition

// Or holds when any child holds.
type Or []Condition

// Not holds when its child has no satisfying substitution.
type Not struct {
	C Condition
}

// Filter is a guard evaluated once its variables are bound. It holds when
// Expr evaluates to true. Evaluation errors make the guard fail.
type Filter struct {
	Expr term.Compute
}

// Bind evaluates Expr and unifies the result with Var.
type Bind struct {
	Var  term.Var
	Expr term.Term
}

// Named matches Fact and binds Var to the matched state fact's key.
type Named struct {
	Var  term.Var
	Fact Fact
}

func (Fact) condition()   {}
func (And) condition()    {}
func (Or) condition()     {}
func (Not) condition()    {}
func (Filter) condition() {}
func (Bind) condition()   {}
func (Named) condition()  {}

// -----------------------------------------------------------------------------
// Fact helpers
// -----------------------------------------------------------------------------

// Attrs returns the fact's attribute names in sorted order.
func (f Fact) Attrs() []string {
	attrs := make([]string, 0, len(f))
	for a := range f {
		attrs = append(attrs, a)
	}
	sort.Strings(attrs)
	return attrs
}

// Key returns the canonical identity of f. Facts with the same attributes
// and equal values share a key.
func (f Fact) Key() string {
	var b strings.Builder
	b.WriteByte('{')
	for i, a := range f.Attrs() {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(a)
		b.WriteByte('=')
		b.WriteString(term.Key(f[a]))
	}
	b.WriteByte('}')
	return b.String()
}

func (f Fact) String() string {
	return f.Key()
}

// Clone returns a shallow copy of f.
func (f Fact) Clone() Fact {
	out := make(Fact, len(f))
	for k, v := range f {
		out[k] = v
	}
	return out
}

// Subst applies s to every value of f.
func (f Fact) Subst(s term.Subst) Fact {
	out := make(Fact, len(f))
	for k, v := range f {
		out[k] = term.Substitute(s, v)
	}
	return out
}

// Eval substitutes s into f and evaluates any compute expressions.
func (f Fact) Eval(reg *term.Registry, s term.Subst) (Fact, error) {
	out := make(Fact, len(f))
	for _, k := range f.Attrs() {
		v, err := term.Eval(reg, f[k], s)
		if err != nil {
			return nil, err
		}
		out[k] = v
	}
	return out, nil
}

// Ground reports whether every value of f is ground under s.
func (f Fact) Ground(s term.Subst) bool {
	for _, v := range f {
		if !term.IsGround(v, s) {
			return false
		}
	}
	return true
}

// Equal reports whether two facts have the same key.
func (f Fact) Equal(o Fact) bool {
	return f.Key() == o.Key()
}

// unifyInto unifies pattern p against state fact sf. sf must carry every
// attribute of p; extra attributes of sf are ignored.
func unifyInto(p, sf Fact, s term.Subst) (term.Subst, bool) {
	for _, a := range p.Attrs() {
		v, ok := sf[a]
		if !ok {
			return nil, false
		}
		if s, ok = term.Unify(p[a], v, s); !ok {
			return nil, false
		}
	}
	return s, true
}

// -----------------------------------------------------------------------------
// Algebra
// -----------------------------------------------------------------------------

// AndOf conjoins cs, flattening nested Ands and dropping nils. A single
// operand is returned unwrapped.
func AndOf(cs ...Condition) Condition {
	var out And
	for _, c := range cs {
		switch v := c.(type) {
		case nil:
		case And:
			out = append(out, v...)
		default:
			out = append(out, v)
		}
	}
	if len(out) == 1 {
		return out[0]
	}
	return out
}

// OrOf disjoins cs, flattening nested Ors and dropping nils.
func OrOf(cs ...Condition) Condition {
	var out Or
	for _, c := range cs {
		switch v := c.(type) {
		case nil:
		case Or:
			out = append(out, v...)
		default:
			out = append(out, v)
		}
	}
	if len(out) == 1 {
		return out[0]
	}
	return out
}

// Negate returns the negation of c with De Morgan's laws applied one level
// and double negation cancelled.
func Negate(c Condition) Condition {
	switch v := c.(type) {
	case Not:
		return v.C
	case And:
		out := make([]Condition, len(v))
		for i, child := range v {
			out[i] = Negate(child)
		}
		return OrOf(out...)
	case Or:
		out := make([]Condition, len(v))
		for i, child := range v {
			out[i] = Negate(child)
		}
		return AndOf(out...)
	default:
		return Not{C: c}
	}
}

// -----------------------------------------------------------------------------
// String forms
// -----------------------------------------------------------------------------

func (a And) String() string { return join("AND", a) }
func (o Or) String() string  { return join("OR", o) }
func (n Not) String() string { return "NOT(" + n.C.String() + ")" }

func (f Filter) String() string {
	return "FILTER(" + term.Key(f.Expr) + ")"
}

func (b Bind) String() string {
	return "BIND(" + b.Var.String() + " <- " + term.Key(b.Expr) + ")"
}

func (n Named) String() string {
	return n.Var.String() + " << " + n.Fact.String()
}

func join(op string, cs []Condition) string {
	parts := make([]string, len(cs))
	for i, c := range cs {
		parts[i] = c.String()
	}
	return op + "(" + strings.Join(parts, ", ") + ")"
}

// Key returns a canonical string for c, used to identify preconditions.
func Key(c Condition) string {
	if c == nil {
		return "TRUE"
	}
	return c.String()
}
