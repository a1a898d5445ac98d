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
	"context"
	"errors"
	"testing"

	"github.com/AleutianAI/AleutianHTN/services/planner/cond"
	"github.com/AleutianAI/AleutianHTN/services/planner/domain"
	"github.com/AleutianAI/AleutianHTN/services/planner/tasknet"
	"github.com/AleutianAI/AleutianHTN/services/planner/term"
)

// tutorDomain offers two strategies for adding num_x/den_x + num_y/den_y:
// cross multiplication and the least common multiple.
func tutorDomain() *domain.Domain {
	notDone := cond.Not{C: cond.Fact{"field": "button", "value": "done"}}
	method := func(name string, branches ...domain.Branch) *domain.Method {
		for i := range branches {
			branches[i].Pre = notDone
		}
		return &domain.Method{Name: name, Branches: branches}
	}
	leaf := func(name string, args ...term.Term) *tasknet.Node { return tasknet.Leaf(prim(name, args...)) }
	sub := func(names ...string) *tasknet.Node {
		children := make([]*tasknet.Node, len(names))
		for i, n := range names {
			children[i] = tasknet.Leaf(compound(n))
		}
		return tasknet.Unordered(children...)
	}

	findNum := &domain.Operator{
		Name:   "find_num_with_lcm",
		Params: term.Tuple{term.V("xn"), vx, vy, vz},
		Pre:    cond.AndOf(fieldValue(vx, vvx), fieldValue(vy, vvy), fieldValue(term.V("xn"), vxn)),
		Add: []cond.Fact{fieldValue(vz,
			term.Call("mul", vxn, term.Call("div", term.Call("lcm", vvx, vvy), vvx)))},
	}
	findDen := &domain.Operator{
		Name:   "find_den_with_lcm",
		Params: term.Tuple{vx, vy, vz},
		Pre:    cond.AndOf(fieldValue(vx, vvx), fieldValue(vy, vvy)),
		Add:    []cond.Fact{fieldValue(vz, term.Call("lcm", vvx, vvy))},
	}

	return domain.New("fraction_tutor").Add(
		binaryOp("intAdd", "add"),
		binaryOp("intMult", "mul"),
		findNum,
		findDen,
		method("fracAdd",
			domain.Branch{Name: "cross_mult", Subtasks: tasknet.Seq(compound("cross_Mult"))},
			domain.Branch{Name: "lcm", Subtasks: tasknet.Seq(compound("lcm"))},
		),
		method("cross_Mult", domain.Branch{Subtasks: sub("get_num_cross_Mult", "get_den_cross_Mult")}),
		method("lcm", domain.Branch{Subtasks: sub("get_num_lcm", "get_den_lcm")}),
		method("get_num_cross_Mult", domain.Branch{Subtasks: tasknet.Ordered(
			tasknet.Unordered(leaf("intMult", "num_x", "den_y", "n1xd2"), leaf("intMult", "num_y", "den_x", "n2xd1")),
			leaf("intAdd", "n1xd2", "n2xd1", "num"),
		)}),
		method("get_den_cross_Mult", domain.Branch{Subtasks: tasknet.Ordered(leaf("intMult", "den_x", "den_y", "denom"))}),
		method("get_num_lcm", domain.Branch{Subtasks: tasknet.Ordered(
			tasknet.Unordered(
				leaf("find_num_with_lcm", "num_x", "den_x", "den_y", "n1xd2"),
				leaf("find_num_with_lcm", "num_y", "den_y", "den_x", "n2xd1"),
			),
			leaf("intAdd", "n1xd2", "n2xd1", "num"),
		)}),
		method("get_den_lcm", domain.Branch{Subtasks: tasknet.Ordered(leaf("find_den_with_lcm", "den_x", "den_y", "denom"))}),
	)
}

// 5/6 + 2/4
func tutorState() *cond.State {
	return cond.NewState(
		fieldValue("num_x", 5),
		fieldValue("den_x", 6),
		fieldValue("num_y", 2),
		fieldValue("den_y", 4),
	)
}

var goalFact = cond.Fact{"value": "done"}

func newTutorSession(t *testing.T, seed uint64) *Session {
	t.Helper()
	cfg := DefaultSessionConfig()
	cfg.Seed = seed
	s, err := NewSession(tutorDomain(), tutorState(), tasknet.Seq(compound("fracAdd")), goalFact, cfg)
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}
	return s
}

func resume(t *testing.T, s *Session, r Reply) Output {
	t.Helper()
	out, err := s.Resume(context.Background(), r)
	if err != nil {
		t.Fatalf("Resume(%v): %v", r, err)
	}
	return out
}

func TestSession_FirstProposal(t *testing.T) {
	s := newTutorSession(t, 1)
	out := resume(t, s, ReplyNone)
	if out.Kind != OutputProposal {
		t.Fatalf("first output = %v, want proposal", out.Kind)
	}
	if !out.Fact.Equal(fieldValue("n1xd2", 20)) {
		t.Errorf("proposal = %v, want field=n1xd2 value=20", out.Fact)
	}
	if out.Step == nil || out.Step.Operator != "intMult" {
		t.Errorf("step = %+v", out.Step)
	}
	if s.State().Contains(out.Fact) {
		t.Error("proposal was committed before acceptance")
	}

	again := resume(t, s, ReplyNone)
	if again.Kind != OutputProposal || !again.Fact.Equal(out.Fact) {
		t.Errorf("ReplyNone should re-deliver the pending proposal, got %v %v", again.Kind, again.Fact)
	}
}

func TestSession_NotStarted(t *testing.T) {
	s := newTutorSession(t, 1)
	if _, err := s.Resume(context.Background(), ReplyAccept); !errors.Is(err, ErrNotStarted) {
		t.Errorf("err = %v, want %v", err, ErrNotStarted)
	}
}

func TestSession_RejectKeepsOffering(t *testing.T) {
	s := newTutorSession(t, 1)
	resume(t, s, ReplyNone)

	proposals := make(map[string]bool)
	for i := 0; i < 60; i++ {
		out := resume(t, s, ReplyReject)
		if out.Kind == OutputGoal {
			t.Fatalf("reject %d reached the goal", i)
		}
		if out.Kind == OutputProposal {
			proposals[out.Fact.Key()] = true
		}
	}
	if len(proposals) < 2 {
		t.Errorf("rejections only surfaced %v", proposals)
	}
}

func TestSession_AcceptDiscardsAlternatives(t *testing.T) {
	s := newTutorSession(t, 1)
	first := resume(t, s, ReplyNone)
	if first.Fact["field"] != "n1xd2" {
		t.Fatalf("first proposal = %v", first.Fact)
	}
	resume(t, s, ReplyAccept)
	if !s.State().Contains(first.Fact) {
		t.Fatal("accepted fact not committed")
	}
	if st := s.Stats(); st.StackDepth != 0 || st.Accepted != 1 {
		t.Errorf("stats after accept = %+v", st)
	}

	for i := 0; i < 40; i++ {
		out := resume(t, s, ReplyReject)
		if out.Kind == OutputProposal && out.Fact["field"] == "n1xd2" {
			t.Fatalf("reject %d resurrected a discarded path: %v", i, out.Fact)
		}
	}
}

func TestSession_AcceptAllReachesGoal(t *testing.T) {
	s := newTutorSession(t, 1)
	out := resume(t, s, ReplyNone)
	for i := 0; out.Kind != OutputGoal; i++ {
		if i > 10 {
			t.Fatalf("no goal after %d accepts, last output %v", i, out.Kind)
		}
		if out.Kind != OutputProposal {
			t.Fatalf("unexpected %v while accepting", out.Kind)
		}
		out = resume(t, s, ReplyAccept)
	}
	if !out.Fact.Equal(goalFact) {
		t.Errorf("goal fact = %v", out.Fact)
	}
	if !s.Done() || len(s.Steps()) != 4 {
		t.Errorf("done = %v, steps = %d", s.Done(), len(s.Steps()))
	}
	st := s.State()
	if got := valueOf(t, st, "num"); !term.Equal(got, 32) {
		t.Errorf("num = %v, want 32", got)
	}
	if got := valueOf(t, st, "denom"); !term.Equal(got, 24) {
		t.Errorf("denom = %v, want 24", got)
	}

	if again := resume(t, s, ReplyReject); again.Kind != OutputGoal {
		t.Errorf("after goal got %v", again.Kind)
	}
}

func TestSession_ReseedsForever(t *testing.T) {
	d := domain.New("single").Add(&domain.Operator{
		Name: "press",
		Add:  []cond.Fact{{"field": "button", "value": "done"}},
	})
	s, err := NewSession(d, cond.NewState(), tasknet.Seq(prim("press")), goalFact, DefaultSessionConfig())
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}

	if out := resume(t, s, ReplyNone); out.Kind != OutputProposal {
		t.Fatalf("first output = %v", out.Kind)
	}
	for i := 0; i < 5; i++ {
		if out := resume(t, s, ReplyReject); out.Kind != OutputRetry {
			t.Fatalf("round %d: reject gave %v, want retry", i, out.Kind)
		}
		if out := resume(t, s, ReplyNone); out.Kind != OutputProposal {
			t.Fatalf("round %d: retry was followed by %v, want proposal", i, out.Kind)
		}
	}
	if got := s.Stats().Reseeds; got != 5 {
		t.Errorf("Reseeds = %d, want 5", got)
	}
}

func TestSession_Deterministic(t *testing.T) {
	script := []Reply{ReplyNone, ReplyReject, ReplyReject, ReplyAccept, ReplyReject, ReplyNone, ReplyAccept, ReplyReject}
	run := func() []string {
		s := newTutorSession(t, 7)
		var trace []string
		for _, r := range script {
			out := resume(t, s, r)
			trace = append(trace, out.Kind.String()+":"+out.Fact.Key())
		}
		return trace
	}
	a, b := run(), run()
	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("step %d diverged: %s vs %s", i, a[i], b[i])
		}
	}
}

func TestSession_Close(t *testing.T) {
	s := newTutorSession(t, 1)
	resume(t, s, ReplyNone)
	s.Close()
	if _, err := s.Resume(context.Background(), ReplyAccept); !errors.Is(err, ErrClosed) {
		t.Errorf("err = %v, want %v", err, ErrClosed)
	}
}

func TestSession_ConfigurationError(t *testing.T) {
	s, err := NewSession(tutorDomain(), tutorState(), tasknet.Seq(compound("missing")), goalFact, DefaultSessionConfig())
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}
	if _, err := s.Resume(context.Background(), ReplyNone); !errors.Is(err, domain.ErrUnknownTask) {
		t.Errorf("err = %v, want %v", err, domain.ErrUnknownTask)
	}
}

func TestSession_PermutationSnapshotsAreIndependent(t *testing.T) {
	net := tasknet.Ordered(
		tasknet.Unordered(tasknet.Leaf(prim("a")), tasknet.Leaf(prim("b"))),
		tasknet.Leaf(prim("c")),
	)
	s, err := NewSession(tutorDomain(), tutorState(), net, goalFact, DefaultSessionConfig())
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}
	defer s.Close()

	perms := s.permutationStack()
	if len(perms) < 2 {
		t.Fatalf("got %d restart points, want at least 2", len(perms))
	}
	netKeys := make([]string, len(perms))
	for i, p := range perms {
		netKeys[i] = p.snap.net.Key()
	}
	wantFacts := tutorState().Facts()

	victim := perms[0]
	var rename func(n *tasknet.Node)
	rename = func(n *tasknet.Node) {
		n.Task.Name = "changed"
		for _, c := range n.Children {
			rename(c)
		}
	}
	rename(victim.snap.net)
	for _, f := range victim.snap.state.Facts() {
		f["value"] = "changed"
	}
	victim.visited.Mark("changed")

	for i, p := range perms[1:] {
		if got := p.snap.net.Key(); got != netKeys[i+1] {
			t.Errorf("entry %d net = %v, want %v", i+1, got, netKeys[i+1])
		}
		facts := p.snap.state.Facts()
		if len(facts) != len(wantFacts) {
			t.Fatalf("entry %d has %d facts, want %d", i+1, len(facts), len(wantFacts))
		}
		for j, f := range facts {
			if !f.Equal(wantFacts[j]) {
				t.Errorf("entry %d fact %d = %v, want %v", i+1, j, f, wantFacts[j])
			}
		}
		if p.visited.Seen("changed") {
			t.Errorf("entry %d shares its visited memo", i+1)
		}
	}
	for j, f := range s.State().Facts() {
		if !f.Equal(wantFacts[j]) {
			t.Errorf("live fact %d = %v, want %v", j, f, wantFacts[j])
		}
	}
}
