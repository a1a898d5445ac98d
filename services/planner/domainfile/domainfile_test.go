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
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianHTN/services/planner/cond"
	"github.com/AleutianAI/AleutianHTN/services/planner/domain"
	"github.com/AleutianAI/AleutianHTN/services/planner/engine"
	"github.com/AleutianAI/AleutianHTN/services/planner/tasknet"
	"github.com/AleutianAI/AleutianHTN/services/planner/term"
)

func valueOf(t *testing.T, st *cond.State, field string) term.Term {
	t.Helper()
	v, ok := st.Lookup("field", field, "value")
	require.True(t, ok, "no value for %q in %v", field, st)
	return v
}

func TestExamples(t *testing.T) {
	assert.Equal(t, []string{"fraction", "fraction_tutor"}, Examples())

	_, _, err := Example("nope")
	assert.ErrorIs(t, err, ErrUnknownExample)
}

func TestExample_FractionPlans(t *testing.T) {
	d, p, err := Example("fraction")
	require.NoError(t, err)
	assert.Equal(t, "fraction", d.Name)
	assert.Equal(t, "one_sixth_plus_one_third", p.Name)
	assert.Nil(t, p.Goal)

	task := p.Tasks.Tasks()[0]
	assert.Equal(t, "fracAdd", task.Name)
	assert.False(t, task.Primitive)

	for seed := uint64(0); seed < 4; seed++ {
		cfg := engine.DefaultConfig()
		cfg.Seed = seed
		res, err := engine.New(d, cfg).Plan(context.Background(), p.State, p.Tasks)
		require.NoError(t, err)
		require.True(t, res.Success, res.FailureReason)
		assert.True(t, term.Equal(valueOf(t, res.State, "num"), 9))
		assert.True(t, term.Equal(valueOf(t, res.State, "denom"), 18))
		assert.Len(t, res.Plan, 4)
		assert.Equal(t, 4.0, res.Cost)
	}
}

func TestExample_FractionTutorSession(t *testing.T) {
	d, p, err := Example("fraction_tutor")
	require.NoError(t, err)
	require.NotNil(t, p.Goal)

	s, err := engine.NewSession(d, p.State, p.Tasks, p.Goal, engine.DefaultSessionConfig())
	require.NoError(t, err)

	out, err := s.Resume(context.Background(), engine.ReplyNone)
	require.NoError(t, err)
	for i := 0; out.Kind != engine.OutputGoal; i++ {
		require.Less(t, i, 10, "no goal after accepting every proposal")
		require.Equal(t, engine.OutputProposal, out.Kind)
		out, err = s.Resume(context.Background(), engine.ReplyAccept)
		require.NoError(t, err)
	}
	assert.True(t, term.Equal(valueOf(t, s.State(), "num"), 32))
	assert.True(t, term.Equal(valueOf(t, s.State(), "denom"), 24))
}

func TestLoad_LegacyAndAxioms(t *testing.T) {
	d, p, err := Load(filepath.Join("testdata", "lights_problem.yaml"), "")
	require.NoError(t, err)

	ok, err := d.IsPrimitive(tasknet.NewTask("light", false, "x"))
	require.NoError(t, err)
	assert.False(t, ok, "legacy method must not be primitive")
	require.Len(t, d.Axioms(), 1)
	assert.Equal(t, tasknet.KindUnordered, p.Tasks.Kind)

	res, err := engine.Plan(context.Background(), p.State, p.Tasks, d)
	require.NoError(t, err)
	require.True(t, res.Success, res.FailureReason)
	require.Len(t, res.Plan, 1)
	assert.Equal(t, "flip", res.Plan[0].Operator)
	assert.True(t, res.State.Contains(cond.Fact{"switch": "hall", "state": "on"}))
	assert.False(t, res.State.Contains(cond.Fact{"switch": "hall", "state": "off"}))
	assert.True(t, res.State.Contains(cond.Fact{"room": "hall", "lit": true}))
	assert.True(t, res.State.Contains(cond.Fact{"room": "porch", "lit": true}))
}

func TestLoad_Errors(t *testing.T) {
	_, _, err := Load(filepath.Join("testdata", "no_domain_problem.yaml"), "")
	assert.ErrorIs(t, err, ErrNoDomain)

	_, err = LoadDomain(filepath.Join("testdata", "missing_reference.yaml"))
	assert.ErrorIs(t, err, domain.ErrUnknownTask)
	var pe *ParseError
	require.ErrorAs(t, err, &pe)
	assert.Contains(t, pe.File, "missing_reference.yaml")

	_, err = LoadDomain(filepath.Join("testdata", "absent.yaml"))
	assert.ErrorIs(t, err, os.ErrNotExist)

	big := filepath.Join(t.TempDir(), "big.yaml")
	require.NoError(t, os.WriteFile(big, make([]byte, MaxYAMLFileSize+1), 0600))
	_, err = LoadDomain(big)
	assert.ErrorIs(t, err, ErrFileTooLarge)
}

func TestParseDomain_Conditions(t *testing.T) {
	src := `
name: conditions
operators:
  - name: pick
    params: ["?x"]
    pre:
      and:
        - named: {var: "?f", fact: {item: "?x", weight: "?w"}}
        - filter: {call: lt, args: ["?w", 10]}
        - bind: {var: "?double", expr: {call: mul, args: ["?w", 2]}}
        - or:
            - {color: red, item: "?x"}
            - {color: blue, item: "?x"}
        - not: {held: "?x"}
    add:
      - {held: "?x", load: "?double"}
`
	d, err := ParseDomain([]byte(src))
	require.NoError(t, err)
	ops, err := d.Operators(tasknet.NewTask("pick", true, "box"))
	require.NoError(t, err)
	require.Len(t, ops, 1)

	and, ok := ops[0].Pre.(cond.And)
	require.True(t, ok, "pre is %T", ops[0].Pre)
	require.Len(t, and, 5)
	assert.IsType(t, cond.Named{}, and[0])
	assert.IsType(t, cond.Filter{}, and[1])
	assert.IsType(t, cond.Bind{}, and[2])
	assert.IsType(t, cond.Or{}, and[3])
	assert.IsType(t, cond.Not{}, and[4])
	assert.Equal(t, term.V("f"), and[0].(cond.Named).Var)

	st := cond.NewState(
		cond.Fact{"item": "box", "weight": 4},
		cond.Fact{"color": "blue", "item": "box"},
	)
	eff, err := ops[0].Applicable(tasknet.NewTask("pick", true, "box"), st, domain.NewEnv(1))
	require.NoError(t, err)
	require.NotNil(t, eff)
	assert.True(t, eff.Add[0].Equal(cond.Fact{"held": "box", "load": 8}))

	eff, err = ops[0].Applicable(tasknet.NewTask("pick", true, "box"), st.With(cond.Fact{"held": "box"}), domain.NewEnv(1))
	require.NoError(t, err)
	assert.Nil(t, eff, "negated fact should block the operator")
}

func TestParseDomain_AnonymousVariables(t *testing.T) {
	src := `
operators:
  - name: any_pair
    params: ["_", "?_"]
`
	d, err := ParseDomain([]byte(src))
	require.NoError(t, err)
	ops, err := d.Operators(tasknet.NewTask("any_pair", true, 1, 2))
	require.NoError(t, err)

	a, ok := ops[0].Params[0].(term.Var)
	require.True(t, ok)
	b, ok := ops[0].Params[1].(term.Var)
	require.True(t, ok)
	assert.NotEqual(t, a, b, "each anonymous variable must be fresh")
	assert.Equal(t, "domain", d.Name)
}

func TestParseDomain_Invalid(t *testing.T) {
	tests := []struct {
		name string
		src  string
		want error
	}{
		{"yaml syntax", "operators: [", ErrInvalidDocument},
		{"unnamed operator", "operators: [{params: []}]", ErrInvalidDocument},
		{"expression without call", "operators: [{name: a, add: [{v: {args: [1]}}]}]", ErrInvalidDocument},
		{"branchless method", "methods: [{name: m}]", ErrInvalidDocument},
		{"bind without variable", "operators: [{name: a, pre: {bind: {var: x, expr: 1}}}]", ErrInvalidDocument},
		{"bad network", "methods: [{name: m, subtasks: {task: 3}}]", ErrInvalidDocument},
		{"legacy with both", "legacy: [{name: l, operator: {}, method: {subtasks: []}}]", ErrInvalidDocument},
		{"duplicate legacy", "legacy: [{name: l, operator: {}}, {name: l, operator: {}}]", domain.ErrDuplicate},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseDomain([]byte(tt.src))
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestParseError_Location(t *testing.T) {
	_, err := ParseDomain([]byte("operators: [{name: a, pre: [{filter: 3}]}]"))
	var pe *ParseError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, "operators[0].pre[0].filter", pe.Path)
	assert.Contains(t, err.Error(), "operators[0].pre[0].filter")
}

func TestParseProblem(t *testing.T) {
	d, _, err := Example("fraction")
	require.NoError(t, err)

	p, err := ParseProblem([]byte(`
state: [{field: xn, value: 1}]
tasks:
  - {task: intAdd, args: [a, b, c]}
  - {task: intAdd, args: [a, b, c], primitive: false}
`), d)
	assert.ErrorIs(t, err, domain.ErrKindMismatch, "explicit primitive flag overrides inference")
	assert.Nil(t, p)

	_, err = ParseProblem([]byte(`state: [{field: "?x", value: 1}]`), d)
	assert.ErrorIs(t, err, ErrNotGround)
}

func TestDecoders_JSON(t *testing.T) {
	d, _, err := Example("fraction")
	require.NoError(t, err)

	var req struct {
		State []any `json:"state"`
		Tasks any   `json:"tasks"`
		Goal  any   `json:"goal"`
	}
	body := `{
		"state": [{"field": "xn", "value": 2}, {"field": "xd", "value": 5}],
		"tasks": {"unordered": [{"task": "intMult", "args": ["xn", "xd", "p"]}, "fracAdd"]},
		"goal": {"value": "done"}
	}`
	require.NoError(t, json.Unmarshal([]byte(body), &req))

	facts, err := DecodeFacts(req.State)
	require.NoError(t, err)
	require.Len(t, facts, 2)
	assert.True(t, cond.NewState(facts...).Contains(cond.Fact{"field": "xn", "value": 2}))

	_, err = DecodeNetwork(req.Tasks, d)
	assert.ErrorIs(t, err, domain.ErrArityMismatch, "fracAdd takes four arguments")

	net, err := DecodeNetwork(map[string]any{"ordered": []any{
		map[string]any{"task": "intMult", "args": []any{"xn", "xd", "p"}},
	}}, d)
	require.NoError(t, err)
	assert.True(t, net.Tasks()[0].Primitive)

	goal, err := DecodeFact(req.Goal)
	require.NoError(t, err)
	assert.True(t, goal.Equal(cond.Fact{"value": "done"}))

	c, err := DecodeCondition([]any{map[string]any{"not": map[string]any{"button": "done"}}})
	require.NoError(t, err)
	assert.IsType(t, cond.Not{}, c)
}
