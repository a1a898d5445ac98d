// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package term provides the symbolic terms the planner reasons over:
// variables, atoms, tuples and compute expressions, plus substitutions,
// unification and a small interpreter for compute expressions.
//
// Terms are plain Go values. An atom is any comparable scalar (string, bool,
// integer, float or nil). A Var is a named placeholder. A Tuple is an
// ordered compound. A Compute is a function identifier plus argument terms
// evaluated against a substitution when an effect is applied.
package term

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
)

// Term is any value the planner can unify: an atom, a Var, a Tuple or a
// Compute expression.
type Term = any

// Var is a named logic variable. Two variables are equal only when their
// names are equal; a Var never equals a non-Var.
type Var struct {
	Name string
}

// V is shorthand for Var{Name: name}.
func V(name string) Var {
	return Var{Name: name}
}

func (v Var) String() string {
	return "?" + v.Name
}

// Tuple is an ordered compound term.
type Tuple []Term

func (t Tuple) String() string {
	return Key(t)
}

// Compute is a deferred function application. Fn names an entry in a
// Registry and Args are evaluated before the call.
type Compute struct {
	Fn   string
	Args []Term
}

// Call is shorthand for Compute{Fn: fn, Args: args}.
func Call(fn string, args ...Term) Compute {
	return Compute{Fn: fn, Args: args}
}

func (c Compute) String() string {
	return Key(c)
}

// IsVar reports whether t is a Var.
func IsVar(t Term) bool {
	_, ok := t.(Var)
	return ok
}

// -----------------------------------------------------------------------------
// Canonical keys
// -----------------------------------------------------------------------------

// Key returns a canonical string for t.
//
// Description:
//
//	Keys are used for indexing, deduplication and state fingerprints.
//	Numerically equal atoms produce the same key regardless of their Go
//	type, so 2, int64(2) and 2.0 collide as they do under Equal. Strings
//	are quoted so "1" and 1 never collide.
func Key(t Term) string {
	var b strings.Builder
	writeKey(&b, t)
	return b.String()
}

func writeKey(b *strings.Builder, t Term) {
	switch v := t.(type) {
	case nil:
		b.WriteString("nil")
	case Var:
		b.WriteString(v.String())
	case string:
		b.WriteString(strconv.Quote(v))
	case bool:
		b.WriteString(strconv.FormatBool(v))
	case Tuple:
		b.WriteByte('(')
		for i, e := range v {
			if i > 0 {
				b.WriteString(", ")
			}
			writeKey(b, e)
		}
		b.WriteByte(')')
	case []Term:
		writeKey(b, Tuple(v))
	case Compute:
		b.WriteString(v.Fn)
		writeKey(b, Tuple(v.Args))
	default:
		if f, ok := toFloat(t); ok {
			b.WriteString(formatNumber(f, t))
			return
		}
		fmt.Fprintf(b, "%T:%v", t, t)
	}
}

func formatNumber(f float64, orig Term) string {
	if i, ok := toInt(orig); ok {
		return strconv.FormatInt(i, 10)
	}
	if f == math.Trunc(f) && !math.IsInf(f, 0) && math.Abs(f) < 1<<53 {
		return strconv.FormatInt(int64(f), 10)
	}
	return strconv.FormatFloat(f, 'g', -1, 64)
}

// -----------------------------------------------------------------------------
// Equality
// -----------------------------------------------------------------------------

// Equal reports whether two terms are structurally equal without applying
// any substitution. Numbers compare by value across integer and float kinds.
func Equal(a, b Term) bool {
	switch av := a.(type) {
	case Var:
		bv, ok := b.(Var)
		return ok && av == bv
	case Tuple:
		bv, ok := b.(Tuple)
		if !ok || len(av) != len(bv) {
			return false
		}
		for i := range av {
			if !Equal(av[i], bv[i]) {
				return false
			}
		}
		return true
	case Compute:
		bv, ok := b.(Compute)
		return ok && av.Fn == bv.Fn && Equal(Tuple(av.Args), Tuple(bv.Args))
	case string:
		bv, ok := b.(string)
		return ok && av == bv
	case bool:
		bv, ok := b.(bool)
		return ok && av == bv
	case nil:
		return b == nil
	}
	af, aok := toFloat(a)
	bf, bok := toFloat(b)
	if aok && bok {
		ai, aInt := toInt(a)
		bi, bInt := toInt(b)
		if aInt && bInt {
			return ai == bi
		}
		return af == bf
	}
	if aok != bok {
		return false
	}
	return Key(a) == Key(b)
}

// -----------------------------------------------------------------------------
// Variables
// -----------------------------------------------------------------------------

// Vars returns the distinct variables occurring in t, in first-seen order.
func Vars(t Term) []Var {
	var out []Var
	seen := make(map[Var]bool)
	var walk func(Term)
	walk = func(t Term) {
		switch v := t.(type) {
		case Var:
			if !seen[v] {
				seen[v] = true
				out = append(out, v)
			}
		case Tuple:
			for _, e := range v {
				walk(e)
			}
		case Compute:
			for _, e := range v.Args {
				walk(e)
			}
		}
	}
	walk(t)
	return out
}

// IsGround reports whether t contains no unbound variable under s.
func IsGround(t Term, s Subst) bool {
	switch v := Walk(t, s).(type) {
	case Var:
		return false
	case Tuple:
		for _, e := range v {
			if !IsGround(e, s) {
				return false
			}
		}
	case Compute:
		for _, e := range v.Args {
			if !IsGround(e, s) {
				return false
			}
		}
	}
	return true
}

// VarGen hands out fresh variables. One generator is scoped to a single
// loaded domain or planning session; it is not safe for concurrent use.
type VarGen struct {
	n uint64
}

// Fresh returns a variable whose name cannot collide with a user variable.
func (g *VarGen) Fresh(prefix string) Var {
	g.n++
	if prefix == "" {
		prefix = "_"
	}
	return Var{Name: prefix + "#" + strconv.FormatUint(g.n, 10)}
}

// Count returns how many variables have been generated.
func (g *VarGen) Count() uint64 {
	return g.n
}

// Reset restarts numbering. Call it between sessions only.
func (g *VarGen) Reset() {
	g.n = 0
}

// sortedVars returns the keys of s ordered by name, for stable output.
func sortedVars(s Subst) []Var {
	vs := make([]Var, 0, len(s))
	for v := range s {
		vs = append(vs, v)
	}
	sort.Slice(vs, func(i, j int) bool { return vs[i].Name < vs[j].Name })
	return vs
}
