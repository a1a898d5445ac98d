// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package domainfile

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/AleutianAI/AleutianHTN/services/planner/cond"
	"github.com/AleutianAI/AleutianHTN/services/planner/domain"
	"github.com/AleutianAI/AleutianHTN/services/planner/tasknet"
	"github.com/AleutianAI/AleutianHTN/services/planner/term"
)

// Condition keywords. A mapping with exactly one of these keys is a
// condition node; any other mapping is a fact pattern.
const (
	keyFact   = "fact"
	keyAnd    = "and"
	keyOr     = "or"
	keyNot    = "not"
	keyFilter = "filter"
	keyBind   = "bind"
	keyNamed  = "named"
)

// decoder turns generic YAML/JSON values into planner terms. One decoder
// is scoped to one document so anonymous variables never collide.
type decoder struct {
	gen        *term.VarGen
	primitives map[string]bool
}

func newDecoder(primitives map[string]bool) *decoder {
	if primitives == nil {
		primitives = make(map[string]bool)
	}
	return &decoder{gen: &term.VarGen{}, primitives: primitives}
}

func (d *decoder) errorf(path, format string, args ...any) error {
	return &ParseError{Path: path, Err: fmt.Errorf("%w: "+format, append([]any{ErrInvalidDocument}, args...)...)}
}

// term decodes a value:
//
//	"?x"            variable x
//	"_" or "?_"     a fresh anonymous variable
//	[a, b]          tuple
//	{call, args}    compute expression
//	anything else   atom
func (d *decoder) term(v any, path string) (term.Term, error) {
	switch x := v.(type) {
	case string:
		if x == "_" || x == "?_" {
			return d.gen.Fresh("_"), nil
		}
		if len(x) > 1 && x[0] == '?' {
			return term.V(x[1:]), nil
		}
		return x, nil
	case int, int64, uint64, float64, bool:
		return x, nil
	case []any:
		tuple := make(term.Tuple, len(x))
		for i, item := range x {
			t, err := d.term(item, indexPath(path, i))
			if err != nil {
				return nil, err
			}
			tuple[i] = t
		}
		return tuple, nil
	case map[string]any:
		return d.compute(x, path)
	case nil:
		return nil, d.errorf(path, "null term")
	}
	return nil, d.errorf(path, "unsupported term %T", v)
}

func (d *decoder) compute(m map[string]any, path string) (term.Compute, error) {
	fn, ok := m["call"].(string)
	if !ok || fn == "" {
		return term.Compute{}, d.errorf(path, "expression needs a string 'call'")
	}
	for k := range m {
		if k != "call" && k != "args" {
			return term.Compute{}, d.errorf(path, "unknown expression key %q", k)
		}
	}
	raw, err := list(m["args"], path+".args")
	if err != nil {
		return term.Compute{}, err
	}
	args := make([]term.Term, len(raw))
	for i, item := range raw {
		if args[i], err = d.term(item, indexPath(path+".args", i)); err != nil {
			return term.Compute{}, err
		}
	}
	return term.Compute{Fn: fn, Args: args}, nil
}

func (d *decoder) terms(v any, path string) (term.Tuple, error) {
	raw, err := list(v, path)
	if err != nil {
		return nil, err
	}
	out := make(term.Tuple, len(raw))
	for i, item := range raw {
		if out[i], err = d.term(item, indexPath(path, i)); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (d *decoder) fact(v any, path string) (cond.Fact, error) {
	m, ok := v.(map[string]any)
	if !ok {
		return nil, d.errorf(path, "fact must be a mapping, got %T", v)
	}
	if len(m) == 0 {
		return nil, d.errorf(path, "empty fact")
	}
	f := make(cond.Fact, len(m))
	for _, attr := range sortedKeys(m) {
		t, err := d.term(m[attr], path+"."+attr)
		if err != nil {
			return nil, err
		}
		f[attr] = t
	}
	return f, nil
}

func (d *decoder) facts(v any, path string) ([]cond.Fact, error) {
	raw, err := list(v, path)
	if err != nil {
		return nil, err
	}
	out := make([]cond.Fact, 0, len(raw))
	for i, item := range raw {
		f, err := d.fact(item, indexPath(path, i))
		if err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, nil
}

func (d *decoder) groundFacts(v any, path string) ([]cond.Fact, error) {
	facts, err := d.facts(v, path)
	if err != nil {
		return nil, err
	}
	for i, f := range facts {
		if !f.Ground(nil) {
			return nil, &ParseError{Path: indexPath(path, i), Err: fmt.Errorf("%w: %v", ErrNotGround, f)}
		}
	}
	return facts, nil
}

// condition decodes a condition tree. A list is a conjunction and null is
// the empty condition.
func (d *decoder) condition(v any, path string) (cond.Condition, error) {
	switch x := v.(type) {
	case nil:
		return nil, nil
	case []any:
		children := make([]cond.Condition, 0, len(x))
		for i, item := range x {
			c, err := d.condition(item, indexPath(path, i))
			if err != nil {
				return nil, err
			}
			children = append(children, c)
		}
		return cond.AndOf(children...), nil
	case map[string]any:
		if len(x) != 1 {
			return d.fact(x, path)
		}
		for k, body := range x {
			return d.keyword(k, body, x, path)
		}
	}
	return nil, d.errorf(path, "condition must be a mapping or a list, got %T", v)
}

func (d *decoder) keyword(k string, body any, whole map[string]any, path string) (cond.Condition, error) {
	sub := path + "." + k
	switch k {
	case keyFact:
		return d.fact(body, sub)
	case keyAnd, keyOr:
		raw, err := list(body, sub)
		if err != nil {
			return nil, err
		}
		children := make([]cond.Condition, 0, len(raw))
		for i, item := range raw {
			c, err := d.condition(item, indexPath(sub, i))
			if err != nil {
				return nil, err
			}
			children = append(children, c)
		}
		if k == keyAnd {
			return cond.And(children), nil
		}
		return cond.Or(children), nil
	case keyNot:
		c, err := d.condition(body, sub)
		if err != nil {
			return nil, err
		}
		return cond.Not{C: c}, nil
	case keyFilter:
		m, ok := body.(map[string]any)
		if !ok {
			return nil, d.errorf(sub, "filter must be an expression")
		}
		expr, err := d.compute(m, sub)
		if err != nil {
			return nil, err
		}
		return cond.Filter{Expr: expr}, nil
	case keyBind:
		m, ok := body.(map[string]any)
		if !ok {
			return nil, d.errorf(sub, "bind needs 'var' and 'expr'")
		}
		v, err := d.variable(m["var"], sub+".var")
		if err != nil {
			return nil, err
		}
		expr, err := d.term(m["expr"], sub+".expr")
		if err != nil {
			return nil, err
		}
		return cond.Bind{Var: v, Expr: expr}, nil
	case keyNamed:
		m, ok := body.(map[string]any)
		if !ok {
			return nil, d.errorf(sub, "named needs 'var' and 'fact'")
		}
		v, err := d.variable(m["var"], sub+".var")
		if err != nil {
			return nil, err
		}
		f, err := d.fact(m["fact"], sub+".fact")
		if err != nil {
			return nil, err
		}
		return cond.Named{Var: v, Fact: f}, nil
	}
	// A single-attribute fact such as {button: done}.
	return d.fact(whole, path)
}

func (d *decoder) variable(v any, path string) (term.Var, error) {
	t, err := d.term(v, path)
	if err != nil {
		return term.Var{}, err
	}
	tv, ok := t.(term.Var)
	if !ok {
		return term.Var{}, d.errorf(path, "expected a variable, got %v", v)
	}
	return tv, nil
}

// network decodes a task structure:
//
//	"name"                          a task without arguments
//	[a, b]                          ordered
//	{ordered: [...]}                ordered
//	{unordered: [...]}              unordered
//	{task: name, args, primitive}   a task
//
// When primitive is omitted the task is primitive iff its name belongs to
// an operator.
func (d *decoder) network(v any, path string) (*tasknet.Node, error) {
	switch x := v.(type) {
	case nil:
		return tasknet.Ordered(), nil
	case string:
		return tasknet.Leaf(tasknet.NewTask(x, d.primitives[x])), nil
	case []any:
		return d.container(tasknet.Ordered, x, path)
	case map[string]any:
		if body, ok := x["ordered"]; ok {
			raw, err := list(body, path+".ordered")
			if err != nil {
				return nil, err
			}
			return d.container(tasknet.Ordered, raw, path+".ordered")
		}
		if body, ok := x["unordered"]; ok {
			raw, err := list(body, path+".unordered")
			if err != nil {
				return nil, err
			}
			return d.container(tasknet.Unordered, raw, path+".unordered")
		}
		if _, ok := x["task"]; ok {
			t, err := d.task(x, path)
			if err != nil {
				return nil, err
			}
			return tasknet.Leaf(t), nil
		}
	}
	return nil, d.errorf(path, "expected a task, a list, or an ordered/unordered block")
}

func (d *decoder) container(build func(...*tasknet.Node) *tasknet.Node, raw []any, path string) (*tasknet.Node, error) {
	children := make([]*tasknet.Node, 0, len(raw))
	for i, item := range raw {
		n, err := d.network(item, indexPath(path, i))
		if err != nil {
			return nil, err
		}
		children = append(children, n)
	}
	return build(children...), nil
}

func (d *decoder) task(m map[string]any, path string) (tasknet.Task, error) {
	name, ok := m["task"].(string)
	if !ok || name == "" {
		return tasknet.Task{}, d.errorf(path+".task", "task name must be a string")
	}
	args, err := d.terms(m["args"], path+".args")
	if err != nil {
		return tasknet.Task{}, err
	}
	primitive := d.primitives[name]
	if p, ok := m["primitive"]; ok {
		b, ok := p.(bool)
		if !ok {
			return tasknet.Task{}, d.errorf(path+".primitive", "primitive must be a boolean")
		}
		primitive = b
	}
	return tasknet.Task{Name: name, Args: args, Primitive: primitive}, nil
}

// -----------------------------------------------------------------------------
// Entities
// -----------------------------------------------------------------------------

func (d *decoder) operator(doc OperatorYAML, path string) (*domain.Operator, error) {
	if doc.Name == "" {
		return nil, d.errorf(path+".name", "operator needs a name")
	}
	params, err := d.terms(doc.Params, path+".params")
	if err != nil {
		return nil, err
	}
	pre, err := d.condition(doc.Pre, path+".pre")
	if err != nil {
		return nil, err
	}
	add, err := d.facts(doc.Add, path+".add")
	if err != nil {
		return nil, err
	}
	del, err := d.facts(doc.Del, path+".del")
	if err != nil {
		return nil, err
	}
	return &domain.Operator{Name: doc.Name, Params: params, Pre: pre, Add: add, Del: del, Cost: doc.Cost}, nil
}

func (d *decoder) method(doc MethodYAML, path string) (*domain.Method, error) {
	if doc.Name == "" {
		return nil, d.errorf(path+".name", "method needs a name")
	}
	params, err := d.terms(doc.Params, path+".params")
	if err != nil {
		return nil, err
	}
	branches := doc.Branches
	if len(branches) == 0 {
		if doc.Subtasks == nil && doc.Pre == nil {
			return nil, d.errorf(path, "method %q has no branches", doc.Name)
		}
		branches = []BranchYAML{{Pre: doc.Pre, Subtasks: doc.Subtasks}}
	}
	m := &domain.Method{Name: doc.Name, Params: params}
	for i, b := range branches {
		bp := indexPath(path+".branches", i)
		pre, err := d.condition(b.Pre, bp+".pre")
		if err != nil {
			return nil, err
		}
		sub, err := d.network(b.Subtasks, bp+".subtasks")
		if err != nil {
			return nil, err
		}
		m.Branches = append(m.Branches, domain.Branch{Name: b.Name, Pre: pre, Subtasks: sub})
	}
	return m, nil
}

func (d *decoder) axiom(doc AxiomYAML, path string) (*domain.Axiom, error) {
	when, err := d.condition(doc.When, path+".when")
	if err != nil {
		return nil, err
	}
	derive, err := d.fact(doc.Derive, path+".derive")
	if err != nil {
		return nil, err
	}
	name := doc.Name
	if name == "" {
		name = path
	}
	return &domain.Axiom{Name: name, When: when, Derive: derive}, nil
}

// -----------------------------------------------------------------------------
// Helpers
// -----------------------------------------------------------------------------

func list(v any, path string) ([]any, error) {
	switch x := v.(type) {
	case nil:
		return nil, nil
	case []any:
		return x, nil
	}
	return nil, &ParseError{Path: path, Err: fmt.Errorf("%w: expected a list, got %T", ErrInvalidDocument, v)}
}

func indexPath(path string, i int) string {
	return path + "[" + strconv.Itoa(i) + "]"
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// trimPath drops the leading dot left by an empty root path.
func trimPath(p string) string {
	return strings.TrimPrefix(p, ".")
}
