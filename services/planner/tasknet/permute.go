// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package tasknet

// Permutations returns every linearization of n's unordered containers.
//
// Description:
//
//	Each unordered container at every depth is expanded into all orderings
//	of its children, combined with every linearization of each child. The
//	results are ordered containers, deduplicated by key. The first result
//	keeps the declared order of every container.
func Permutations(n *Node) []*Node {
	return PermutationsUpTo(n, 0)
}

// PermutationsUpTo is Permutations capped at limit results. A limit of zero
// or less means no cap. Results share no nodes with n or with each other.
func PermutationsUpTo(n *Node, limit int) []*Node {
	p := permuter{limit: limit}
	out := p.dedupe(p.expand(n))
	for i, r := range out {
		out[i] = r.Clone()
	}
	return out
}

type permuter struct {
	limit int
}

func (p permuter) full(count int) bool {
	return p.limit > 0 && count >= p.limit
}

func (p permuter) dedupe(nodes []*Node) []*Node {
	seen := make(map[string]bool, len(nodes))
	out := nodes[:0:0]
	for _, n := range nodes {
		k := n.Key()
		if seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, n)
		if p.full(len(out)) {
			break
		}
	}
	return out
}

func (p permuter) expand(n *Node) []*Node {
	if n == nil {
		return []*Node{Ordered()}
	}
	switch n.Kind {
	case KindLeaf:
		return []*Node{n.Clone()}
	case KindOrdered:
		return p.product(n.Children)
	default:
		var out []*Node
		for _, order := range orderings(len(n.Children)) {
			children := make([]*Node, len(order))
			for i, j := range order {
				children[i] = n.Children[j]
			}
			out = append(out, p.product(children)...)
			if p.full(len(out)) {
				break
			}
		}
		return p.dedupe(out)
	}
}

// product combines every linearization of each child, in child order.
func (p permuter) product(children []*Node) []*Node {
	combos := [][]*Node{nil}
	for _, c := range children {
		variants := p.dedupe(p.expand(c))
		next := make([][]*Node, 0, len(combos)*len(variants))
	outer:
		for _, combo := range combos {
			for _, v := range variants {
				row := make([]*Node, len(combo), len(combo)+1)
				copy(row, combo)
				next = append(next, append(row, v))
				if p.full(len(next)) {
					break outer
				}
			}
		}
		combos = next
	}
	out := make([]*Node, len(combos))
	for i, combo := range combos {
		out[i] = Ordered(combo...)
	}
	return out
}

// orderings returns every permutation of 0..n-1, identity first, in
// lexicographic order.
func orderings(n int) [][]int {
	cur := make([]int, n)
	for i := range cur {
		cur[i] = i
	}
	out := [][]int{append([]int(nil), cur...)}
	for {
		i := n - 2
		for i >= 0 && cur[i] >= cur[i+1] {
			i--
		}
		if i < 0 {
			return out
		}
		j := n - 1
		for cur[j] <= cur[i] {
			j--
		}
		cur[i], cur[j] = cur[j], cur[i]
		for l, r := i+1, n-1; l < r; l, r = l+1, r-1 {
			cur[l], cur[r] = cur[r], cur[l]
		}
		out = append(out, append([]int(nil), cur...))
	}
}
