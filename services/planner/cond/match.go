// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package cond

import "github.com/AleutianAI/AleutianHTN/services/planner/term"

// MatchUnit returns every extension of s that satisfies u against idx.
//
// Description:
//
//	Positive patterns are matched first, each against the facts the index
//	proposes, producing a set of candidate substitutions in state order.
//	Binds then extend or prune each candidate, filters prune, and finally
//	negated members are checked under the bindings fixed so far
//	(negation-as-failure). A filter or bind whose evaluation fails is a
//	local non-match, never an error.
func MatchUnit(u Unit, idx *Index, s term.Subst, reg *term.Registry) []term.Subst {
	if s == nil {
		s = term.Subst{}
	}
	results := []term.Subst{s}
	for _, p := range u.Positive {
		var next []term.Subst
		for _, cur := range results {
			next = append(next, matchPattern(p, idx, cur)...)
		}
		if len(next) == 0 {
			return nil
		}
		results = next
	}

	out := results[:0:0]
	for _, cur := range results {
		cur, ok := applyBinds(u.Binds, cur, reg)
		if !ok {
			continue
		}
		if !passFilters(u.Filters, cur, reg) {
			continue
		}
		if !passNegations(u, idx, cur, reg) {
			continue
		}
		out = append(out, cur)
	}
	return out
}

func matchPattern(p Pattern, idx *Index, s term.Subst) []term.Subst {
	var out []term.Subst
	for _, i := range idx.Candidates(p.Fact, s) {
		sf := idx.Fact(i)
		next, ok := unifyInto(p.Fact, sf, s)
		if !ok {
			continue
		}
		if p.Name != nil {
			if next, ok = term.Unify(p.Name.Var, sf.Key(), next); !ok {
				continue
			}
		}
		out = append(out, next)
	}
	return out
}

func applyBinds(binds []Bind, s term.Subst, reg *term.Registry) (term.Subst, bool) {
	for _, b := range binds {
		v, err := term.Eval(reg, b.Expr, s)
		if err != nil {
			return nil, false
		}
		var ok bool
		if s, ok = term.Unify(b.Var, v, s); !ok {
			return nil, false
		}
	}
	return s, true
}

// filterHolds evaluates one guard. The second result is false when
// evaluation failed, which callers treat as no match.
func filterHolds(f Filter, s term.Subst, reg *term.Registry) (bool, bool) {
	v, err := term.Eval(reg, f.Expr, s)
	if err != nil {
		return false, false
	}
	b, err := term.Truthy(v)
	if err != nil {
		return false, false
	}
	return b, true
}

func passFilters(filters []Filter, s term.Subst, reg *term.Registry) bool {
	for _, f := range filters {
		if held, ok := filterHolds(f, s, reg); !ok || !held {
			return false
		}
	}
	return true
}

func passNegations(u Unit, idx *Index, s term.Subst, reg *term.Registry) bool {
	for _, nf := range u.NegFacts {
		if len(matchPattern(Pattern{Fact: nf}, idx, s)) > 0 {
			return false
		}
	}
	for _, f := range u.NegFilters {
		held, ok := filterHolds(f, s, reg)
		if !ok || held {
			return false
		}
	}
	for _, b := range u.NegBinds {
		if _, ok := applyBinds([]Bind{b}, s, reg); ok {
			return false
		}
	}
	return true
}

// Satisfiers returns the substitutions extending s under which c holds in
// st. Units of the normalized condition are tried in order and the matches
// of the first unit that yields any are returned. A nil condition holds
// trivially with s unchanged.
func Satisfiers(c Condition, st *State, s term.Subst, reg *term.Registry) []term.Subst {
	idx := st.Index()
	for _, u := range Normalize(c) {
		if m := MatchUnit(u, idx, s, reg); len(m) > 0 {
			return m
		}
	}
	return nil
}

// AllSatisfiers returns the matches of every unit, with duplicate
// substitutions removed.
func AllSatisfiers(c Condition, st *State, s term.Subst, reg *term.Registry) []term.Subst {
	idx := st.Index()
	var out []term.Subst
	seen := make(map[string]bool)
	for _, u := range Normalize(c) {
		for _, m := range MatchUnit(u, idx, s, reg) {
			k := m.String()
			if seen[k] {
				continue
			}
			seen[k] = true
			out = append(out, m)
		}
	}
	return out
}

// Holds reports whether c has at least one satisfier in st.
func Holds(c Condition, st *State, reg *term.Registry) bool {
	return len(Satisfiers(c, st, nil, reg)) > 0
}
