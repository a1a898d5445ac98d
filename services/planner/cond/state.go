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

import (
	"sort"
	"strings"
	"sync"

	"github.com/AleutianAI/AleutianHTN/services/planner/term"
)

// State is an immutable set of ground facts.
//
// Description:
//
//	Facts keep insertion order so matching is deterministic for a given
//	history. Every transition returns a new State; the receiver is never
//	modified. The fingerprint and the attribute index are computed lazily
//	and cached.
//
// Thread Safety: Safe for concurrent use.
type State struct {
	facts []Fact
	keys  []string
	pos   map[string]int

	keyOnce sync.Once
	key     string

	idxOnce sync.Once
	idx     *Index
}

// NewState builds a state from facts. Duplicates are dropped.
func NewState(facts ...Fact) *State {
	st := &State{pos: make(map[string]int, len(facts))}
	for _, f := range facts {
		st.insert(f)
	}
	return st
}

func (st *State) insert(f Fact) {
	k := f.Key()
	if _, dup := st.pos[k]; dup {
		return
	}
	st.pos[k] = len(st.facts)
	st.facts = append(st.facts, f.Clone())
	st.keys = append(st.keys, k)
}

// Apply returns a new state with del removed and add inserted.
//
// A ground delete removes the fact with the same key. A delete that still
// contains variables removes every fact it unifies with.
func (st *State) Apply(del, add []Fact) *State {
	drop := make(map[int]bool)
	for _, d := range del {
		if d.Ground(nil) {
			if i, ok := st.pos[d.Key()]; ok {
				drop[i] = true
			}
			continue
		}
		for i, f := range st.facts {
			if _, ok := unifyInto(d, f, nil); ok {
				drop[i] = true
			}
		}
	}

	next := &State{pos: make(map[string]int, len(st.facts)+len(add))}
	for i, f := range st.facts {
		if drop[i] {
			continue
		}
		next.pos[st.keys[i]] = len(next.facts)
		next.facts = append(next.facts, f)
		next.keys = append(next.keys, st.keys[i])
	}
	for _, f := range add {
		next.insert(f)
	}
	return next
}

// With returns a new state with facts added.
func (st *State) With(facts ...Fact) *State {
	if len(facts) == 0 {
		return st
	}
	return st.Apply(nil, facts)
}

// Contains reports whether a fact with f's key is present.
func (st *State) Contains(f Fact) bool {
	_, ok := st.pos[f.Key()]
	return ok
}

// Find returns the facts that pattern p unifies with, in state order.
func (st *State) Find(p Fact) []Fact {
	var out []Fact
	for _, i := range st.Index().Candidates(p, nil) {
		if _, ok := unifyInto(p, st.facts[i], nil); ok {
			out = append(out, st.facts[i])
		}
	}
	return out
}

// Facts returns the facts in insertion order. Callers must not modify them.
func (st *State) Facts() []Fact {
	return append([]Fact(nil), st.facts...)
}

// Len returns the number of facts.
func (st *State) Len() int {
	return len(st.facts)
}

// Clone returns a deep copy of st.
func (st *State) Clone() *State {
	out := &State{
		facts: make([]Fact, len(st.facts)),
		keys:  append([]string(nil), st.keys...),
		pos:   make(map[string]int, len(st.pos)),
	}
	for i, f := range st.facts {
		out.facts[i] = f.Clone()
	}
	for k, i := range st.pos {
		out.pos[k] = i
	}
	return out
}

// Key returns an order-independent fingerprint of the fact set.
func (st *State) Key() string {
	st.keyOnce.Do(func() {
		keys := append([]string(nil), st.keys...)
		sort.Strings(keys)
		st.key = strings.Join(keys, ";")
	})
	return st.key
}

// Equal reports whether two states hold the same facts.
func (st *State) Equal(o *State) bool {
	return st.Len() == o.Len() && st.Key() == o.Key()
}

func (st *State) String() string {
	parts := make([]string, len(st.keys))
	copy(parts, st.keys)
	return "[" + strings.Join(parts, ", ") + "]"
}

// Index returns the attribute index over st, building it on first use.
func (st *State) Index() *Index {
	st.idxOnce.Do(func() {
		st.idx = newIndex(st.facts)
	})
	return st.idx
}

// Lookup returns the value of attr on the first fact whose key attribute
// equals value. It is a convenience for field/value style domains.
func (st *State) Lookup(keyAttr string, value term.Term, attr string) (term.Term, bool) {
	for _, f := range st.Find(Fact{keyAttr: value}) {
		if v, ok := f[attr]; ok {
			return v, true
		}
	}
	return nil, false
}
