// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package engine

import (
	"strings"

	"github.com/AleutianAI/AleutianHTN/services/planner/tasknet"
)

// Tree is the decomposition tree of a successful run.
//
// Container nodes mirror the task network's ordered and unordered
// containers. A task node records how it was resolved: Operator for
// primitive tasks, Method and Branch for compound ones, whose single child
// is the subtask structure the branch produced.
type Tree struct {
	Kind     tasknet.Kind
	Task     tasknet.Task
	Method   string
	Branch   string
	Operator string
	Children []*Tree

	done bool
}

// BuildTree replays trace over root.
//
// Each decision resolves the first unresolved task node, in depth-first
// order, with the same head. This is the same occurrence rule the task
// network algebra uses, so the replay lands on the node the engine
// actually worked on.
func BuildTree(root *tasknet.Node, trace []Decision) *Tree {
	t := treeOf(root)
	for _, d := range trace {
		n := t.firstOpen(d.Task)
		if n == nil {
			continue
		}
		n.done = true
		if d.Operator != "" {
			n.Operator = d.Operator
			continue
		}
		n.Method, n.Branch = d.Method, d.Branch
		if !d.Subtasks.Empty() {
			n.Children = []*Tree{treeOf(d.Subtasks)}
		}
	}
	return t
}

func treeOf(n *tasknet.Node) *Tree {
	if n == nil {
		return &Tree{Kind: tasknet.KindOrdered}
	}
	if n.IsLeaf() {
		return &Tree{Kind: tasknet.KindLeaf, Task: n.Task}
	}
	t := &Tree{Kind: n.Kind, Children: make([]*Tree, 0, len(n.Children))}
	for _, c := range n.Children {
		t.Children = append(t.Children, treeOf(c))
	}
	return t
}

func (t *Tree) firstOpen(task tasknet.Task) *Tree {
	if t.Kind == tasknet.KindLeaf && !t.done && t.Task.Same(task) {
		return t
	}
	for _, c := range t.Children {
		if n := c.firstOpen(task); n != nil {
			return n
		}
	}
	return nil
}

// Primitives returns the operator-resolved tasks in depth-first order.
func (t *Tree) Primitives() []tasknet.Task {
	var out []tasknet.Task
	var walk func(*Tree)
	walk = func(n *Tree) {
		if n.Kind == tasknet.KindLeaf && n.Operator != "" {
			out = append(out, n.Task)
		}
		for _, c := range n.Children {
			walk(c)
		}
	}
	walk(t)
	return out
}

// String renders the tree as an indented outline.
func (t *Tree) String() string {
	var b strings.Builder
	t.write(&b, 0)
	return strings.TrimRight(b.String(), "\n")
}

func (t *Tree) write(b *strings.Builder, depth int) {
	b.WriteString(strings.Repeat("  ", depth))
	switch {
	case t.Kind != tasknet.KindLeaf:
		b.WriteString(t.Kind.String())
	case t.Operator != "":
		b.WriteString(t.Task.String())
		b.WriteString(" <- ")
		b.WriteString(t.Operator)
	case t.Method != "":
		b.WriteString(t.Task.String())
		b.WriteString(" => ")
		b.WriteString(t.Method)
		b.WriteString(":")
		b.WriteString(t.Branch)
	default:
		b.WriteString(t.Task.String())
	}
	b.WriteByte('\n')
	for _, c := range t.Children {
		c.write(b, depth+1)
	}
}
