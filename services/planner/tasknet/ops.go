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

import "github.com/AleutianAI/AleutianHTN/services/planner/term"

// Frontier returns the tasks with no unresolved predecessor.
//
// An ordered container contributes the frontier of its first non-empty
// child. An unordered container contributes the union of its children's
// frontiers, with duplicate heads reported once. A leaf is its own frontier.
func Frontier(n *Node) []Task {
	var out []Task
	seen := make(map[string]bool)
	var visit func(*Node)
	visit = func(n *Node) {
		if n == nil {
			return
		}
		switch n.Kind {
		case KindLeaf:
			k := n.Key()
			if !seen[k] {
				seen[k] = true
				out = append(out, n.Task)
			}
		case KindOrdered:
			for _, c := range n.Children {
				if !c.Empty() {
					visit(c)
					return
				}
			}
		case KindUnordered:
			for _, c := range n.Children {
				visit(c)
			}
		}
	}
	visit(n)
	return out
}

// Remove deletes the first occurrence, in depth-first order, of a task with
// the same head as task.
//
// Containers emptied by the removal are dropped from their parent. The
// parent keeps its kind. The root is never dropped: removing the last task
// leaves an empty container of the root's kind, or an empty ordered
// container when the root was a bare leaf.
func Remove(n *Node, task Task) *Node {
	out, _ := replaceFirst(n, task, nil)
	return rootOf(n, out)
}

// Replace substitutes sub for the first occurrence of task, keeping the
// surrounding nesting. An empty sub behaves like Remove.
func Replace(n *Node, task Task, sub *Node) *Node {
	if sub.Empty() {
		return Remove(n, task)
	}
	out, _ := replaceFirst(n, task, sub)
	return rootOf(n, out)
}

// Contains reports whether a task with the same head as task occurs in n.
func Contains(n *Node, task Task) bool {
	found := false
	n.walk(func(t Task) {
		if !found && t.Same(task) {
			found = true
		}
	})
	return found
}

func rootOf(orig, out *Node) *Node {
	if out != nil {
		return out
	}
	if orig == nil || orig.IsLeaf() {
		return Ordered()
	}
	return &Node{Kind: orig.Kind}
}

// replaceFirst returns n with the first matching leaf swapped for sub. A
// nil result means n collapsed and must be dropped by its parent.
func replaceFirst(n *Node, task Task, sub *Node) (*Node, bool) {
	if n == nil {
		return nil, false
	}
	if n.IsLeaf() {
		if n.Task.Same(task) {
			return sub, true
		}
		return n, false
	}
	for i, c := range n.Children {
		nc, done := replaceFirst(c, task, sub)
		if !done {
			continue
		}
		children := make([]*Node, 0, len(n.Children))
		children = append(children, n.Children[:i]...)
		if nc != nil && !nc.Empty() {
			children = append(children, nc)
		}
		children = append(children, n.Children[i+1:]...)
		if len(children) == 0 {
			return nil, true
		}
		return &Node{Kind: n.Kind, Children: children}, true
	}
	return n, false
}

// Subst applies s to every task argument in n.
func Subst(n *Node, s term.Subst) *Node {
	if n == nil {
		return nil
	}
	if n.IsLeaf() {
		return Leaf(n.Task.Subst(s))
	}
	children := make([]*Node, len(n.Children))
	for i, c := range n.Children {
		children[i] = Subst(c, s)
	}
	return &Node{Kind: n.Kind, Children: children}
}

// MapTasks rebuilds n with fn applied to every leaf task.
func MapTasks(n *Node, fn func(Task) Task) *Node {
	if n == nil {
		return nil
	}
	if n.IsLeaf() {
		return Leaf(fn(n.Task))
	}
	children := make([]*Node, len(n.Children))
	for i, c := range n.Children {
		children[i] = MapTasks(c, fn)
	}
	return &Node{Kind: n.Kind, Children: children}
}

// Flatten returns an equivalent network without redundant nesting: empty
// children are dropped, a container's same-kind children are spliced into
// it and single-child containers are replaced by their child.
//
// Flattening is used for fingerprints. It merges nested unordered
// containers, which widens what Permutations would produce, so the planner
// never plans over a flattened network.
func Flatten(n *Node) *Node {
	if n == nil || n.IsLeaf() {
		return n
	}
	children := make([]*Node, 0, len(n.Children))
	for _, c := range n.Children {
		fc := Flatten(c)
		if fc.Empty() {
			continue
		}
		if !fc.IsLeaf() && fc.Kind == n.Kind {
			children = append(children, fc.Children...)
			continue
		}
		children = append(children, fc)
	}
	if len(children) == 1 {
		return children[0]
	}
	return &Node{Kind: n.Kind, Children: children}
}
