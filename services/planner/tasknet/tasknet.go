// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package tasknet models task networks: tasks nested in ordered and
// unordered containers, and the operations the planners need over them.
//
// Every operation returns a new tree. Nodes handed to or returned from this
// package are never modified in place.
package tasknet

import (
	"strconv"
	"strings"

	"github.com/AleutianAI/AleutianHTN/services/planner/term"
)

// Task is a named task with an argument tuple.
type Task struct {
	Name      string
	Args      term.Tuple
	Primitive bool
}

// NewTask builds a task.
func NewTask(name string, primitive bool, args ...term.Term) Task {
	return Task{Name: name, Args: term.Tuple(args), Primitive: primitive}
}

// Arity returns the number of arguments.
func (t Task) Arity() int {
	return len(t.Args)
}

// Key returns the "name/arity" identifier used to look the task up in a
// domain.
func (t Task) Key() string {
	return t.Name + "/" + strconv.Itoa(len(t.Args))
}

// Head returns the task as a tuple (name, args...).
func (t Task) Head() term.Tuple {
	head := make(term.Tuple, 0, len(t.Args)+1)
	head = append(head, t.Name)
	return append(head, t.Args...)
}

// Same reports whether t and o have equal heads.
func (t Task) Same(o Task) bool {
	return t.Name == o.Name && term.Equal(t.Args, o.Args)
}

// Subst applies s to the task arguments.
func (t Task) Subst(s term.Subst) Task {
	args := make(term.Tuple, len(t.Args))
	for i, a := range t.Args {
		args[i] = term.Substitute(s, a)
	}
	return Task{Name: t.Name, Args: args, Primitive: t.Primitive}
}

func (t Task) String() string {
	var b strings.Builder
	b.WriteString(t.Name)
	b.WriteByte('(')
	for i, a := range t.Args {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(term.Display(a))
	}
	b.WriteByte(')')
	return b.String()
}

// -----------------------------------------------------------------------------
// Nodes
// -----------------------------------------------------------------------------

// Kind tags a Node.
type Kind int

const (
	KindLeaf Kind = iota
	KindOrdered
	KindUnordered
)

func (k Kind) String() string {
	switch k {
	case KindLeaf:
		return "leaf"
	case KindOrdered:
		return "ordered"
	case KindUnordered:
		return "unordered"
	default:
		return "unknown"
	}
}

// Node is one element of a task network: a leaf task, or an ordered or
// unordered container of child nodes.
type Node struct {
	Kind     Kind
	Task     Task
	Children []*Node
}

// Leaf wraps a task.
func Leaf(t Task) *Node {
	return &Node{Kind: KindLeaf, Task: t}
}

// Ordered builds a container whose children run left to right.
func Ordered(children ...*Node) *Node {
	return &Node{Kind: KindOrdered, Children: children}
}

// Unordered builds a container whose children may run in any order.
func Unordered(children ...*Node) *Node {
	return &Node{Kind: KindUnordered, Children: children}
}

// Seq is shorthand for an ordered container of leaves.
func Seq(tasks ...Task) *Node {
	children := make([]*Node, len(tasks))
	for i, t := range tasks {
		children[i] = Leaf(t)
	}
	return Ordered(children...)
}

// IsLeaf reports whether n is a leaf.
func (n *Node) IsLeaf() bool {
	return n.Kind == KindLeaf
}

// Empty reports whether n holds no tasks at any depth.
func (n *Node) Empty() bool {
	if n == nil {
		return true
	}
	if n.IsLeaf() {
		return false
	}
	for _, c := range n.Children {
		if !c.Empty() {
			return false
		}
	}
	return true
}

// Tasks returns every leaf task in depth-first order.
func (n *Node) Tasks() []Task {
	var out []Task
	n.walk(func(t Task) { out = append(out, t) })
	return out
}

func (n *Node) walk(fn func(Task)) {
	if n == nil {
		return
	}
	if n.IsLeaf() {
		fn(n.Task)
		return
	}
	for _, c := range n.Children {
		c.walk(fn)
	}
}

// Clone returns a deep copy of n.
func (n *Node) Clone() *Node {
	if n == nil {
		return nil
	}
	out := &Node{Kind: n.Kind}
	if n.IsLeaf() {
		out.Task = Task{Name: n.Task.Name, Args: append(term.Tuple(nil), n.Task.Args...), Primitive: n.Task.Primitive}
		return out
	}
	out.Children = make([]*Node, len(n.Children))
	for i, c := range n.Children {
		out.Children[i] = c.Clone()
	}
	return out
}

// Key returns a canonical rendering. Ordered containers print as [a, b],
// unordered ones as {a, b}.
func (n *Node) Key() string {
	var b strings.Builder
	n.writeKey(&b)
	return b.String()
}

func (n *Node) writeKey(b *strings.Builder) {
	if n == nil {
		b.WriteString("[]")
		return
	}
	switch n.Kind {
	case KindLeaf:
		b.WriteString(n.Task.Name)
		b.WriteString(term.Key(n.Task.Args))
		return
	case KindOrdered:
		b.WriteByte('[')
	default:
		b.WriteByte('{')
	}
	for i, c := range n.Children {
		if i > 0 {
			b.WriteString(", ")
		}
		c.writeKey(b)
	}
	if n.Kind == KindOrdered {
		b.WriteByte(']')
	} else {
		b.WriteByte('}')
	}
}

func (n *Node) String() string {
	if n == nil {
		return "[]"
	}
	if n.IsLeaf() {
		return n.Task.String()
	}
	parts := make([]string, len(n.Children))
	for i, c := range n.Children {
		parts[i] = c.String()
	}
	if n.Kind == KindOrdered {
		return "[" + strings.Join(parts, ", ") + "]"
	}
	return "{" + strings.Join(parts, ", ") + "}"
}
