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

// Index narrows the facts a pattern has to be tried against.
//
// Facts are bucketed by attribute and by (attribute, value key). Values
// that are not ground go to a separate per-attribute bucket, merged into
// every ground lookup on that attribute. Buckets
// hold positions in ascending order so candidates come back in state order.
// Matching never depends on the index for correctness; a candidate list is
// always a superset of the facts a pattern can unify with.
type Index struct {
	facts   []Fact
	all     []int
	byAttr  map[string][]int
	byValue map[string]map[string][]int
	open    map[string][]int
}

func newIndex(facts []Fact) *Index {
	idx := &Index{
		facts:   facts,
		all:     make([]int, len(facts)),
		byAttr:  make(map[string][]int),
		byValue: make(map[string]map[string][]int),
		open:    make(map[string][]int),
	}
	for i, f := range facts {
		idx.all[i] = i
		for a, v := range f {
			idx.byAttr[a] = append(idx.byAttr[a], i)
			if !term.IsGround(v, nil) {
				idx.open[a] = append(idx.open[a], i)
				continue
			}
			vals, ok := idx.byValue[a]
			if !ok {
				vals = make(map[string][]int)
				idx.byValue[a] = vals
			}
			k := term.Key(v)
			vals[k] = append(vals[k], i)
		}
	}
	return idx
}

// Candidates returns fact positions that may unify with p under s, picking
// the smallest bucket among p's attributes.
func (idx *Index) Candidates(p Fact, s term.Subst) []int {
	if len(p) == 0 {
		return idx.all
	}
	var best []int
	first := true
	for a, v := range p {
		var bucket []int
		if term.IsGround(v, s) {
			bucket = mergeSorted(idx.byValue[a][term.Key(term.Substitute(s, v))], idx.open[a])
		} else {
			bucket = idx.byAttr[a]
		}
		if first || len(bucket) < len(best) {
			best = bucket
			first = false
		}
		if len(best) == 0 {
			return nil
		}
	}
	return best
}

// mergeSorted merges two ascending position lists.
func mergeSorted(a, b []int) []int {
	if len(b) == 0 {
		return a
	}
	if len(a) == 0 {
		return b
	}
	out := make([]int, 0, len(a)+len(b))
	i, j := 0, 0
	for i < len(a) && j < len(b) {
		if a[i] < b[j] {
			out = append(out, a[i])
			i++
		} else {
			out = append(out, b[j])
			j++
		}
	}
	out = append(out, a[i:]...)
	return append(out, b[j:]...)
}

// Fact returns the fact at position i.
func (idx *Index) Fact(i int) Fact {
	return idx.facts[i]
}

// Len returns the number of indexed facts.
func (idx *Index) Len() int {
	return len(idx.facts)
}
