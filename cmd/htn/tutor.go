// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/charmbracelet/huh"

	"github.com/AleutianAI/AleutianHTN/pkg/ux"
	"github.com/AleutianAI/AleutianHTN/services/planner/cond"
	"github.com/AleutianAI/AleutianHTN/services/planner/engine"
	"github.com/AleutianAI/AleutianHTN/services/planner/term"
)

// errQuit ends a tutoring session at the learner's request.
var errQuit = errors.New("learner quit")

// Prompter asks the learner for the next step.
type Prompter interface {
	Prompt(ctx context.Context, question string) (string, error)
}

// linePrompter reads one line per answer. Used when stdin is not a
// terminal.
type linePrompter struct {
	in  *bufio.Scanner
	out io.Writer
}

func newLinePrompter(in io.Reader, out io.Writer) *linePrompter {
	return &linePrompter{in: bufio.NewScanner(in), out: out}
}

func (p *linePrompter) Prompt(ctx context.Context, question string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	fmt.Fprintf(p.out, "%s> ", question)
	if !p.in.Scan() {
		if err := p.in.Err(); err != nil {
			return "", err
		}
		return "", io.EOF
	}
	return p.in.Text(), nil
}

// huhPrompter asks through an interactive form.
type huhPrompter struct{}

func (huhPrompter) Prompt(ctx context.Context, question string) (string, error) {
	var answer string
	form := huh.NewForm(huh.NewGroup(
		huh.NewInput().
			Title(question).
			Placeholder("field value, hint or quit").
			Value(&answer),
	))
	if err := form.RunWithContext(ctx); err != nil {
		if errors.Is(err, huh.ErrUserAborted) {
			return "", errQuit
		}
		return "", err
	}
	return answer, nil
}

// tutorStats counts the learner's answers.
type tutorStats struct {
	Correct int
	Wrong   int
	Hints   int
	Goal    bool
}

// tutor runs the learner loop over an interactive session.
//
// The learner types the fact the next step produces, e.g. "num 32" for
// {field: num, value: 32}, or attr=value pairs. Proposals that do not
// match the answer are rejected until one matches, which is accepted, or
// until the session signals a retry, which means no next step produces
// that fact.
type tutor struct {
	sess   *engine.Session
	prompt Prompter
	out    *ux.Printer
	stats  tutorStats
}

func (t *tutor) run(ctx context.Context) (tutorStats, error) {
	out, err := t.sess.Resume(ctx, engine.ReplyNone)
	for err == nil {
		switch out.Kind {
		case engine.OutputGoal:
			t.stats.Goal = true
			t.out.Success("Goal reached: " + out.Fact.String())
			return t.stats, nil
		case engine.OutputRetry:
			t.out.Muted("Starting over from a different order.")
			out, err = t.sess.Resume(ctx, engine.ReplyNone)
			continue
		}

		var input string
		input, err = t.prompt.Prompt(ctx, "Next step")
		if errors.Is(err, io.EOF) || errors.Is(err, errQuit) {
			return t.stats, errQuit
		}
		if err != nil {
			break
		}

		switch strings.ToLower(strings.TrimSpace(input)) {
		case "":
			continue
		case "quit", "q", "exit":
			return t.stats, errQuit
		case "hint":
			t.stats.Hints++
			t.out.Info("Try " + answerText(out.Fact))
			continue
		}

		answer, perr := parseAnswer(input)
		if perr != nil {
			t.out.Warning(perr.Error())
			continue
		}
		out, err = t.check(ctx, answer, out)
	}
	return t.stats, err
}

// check rejects proposals until one matches answer or the session retries.
func (t *tutor) check(ctx context.Context, answer cond.Fact, out engine.Output) (engine.Output, error) {
	var err error
	for out.Kind == engine.OutputProposal && !matches(answer, out.Fact) {
		if out, err = t.sess.Resume(ctx, engine.ReplyReject); err != nil {
			return out, err
		}
	}
	if out.Kind != engine.OutputProposal {
		t.stats.Wrong++
		t.out.Warning(answerText(answer) + " does not fit any next step. Try again.")
		return out, nil
	}
	t.stats.Correct++
	t.out.Success("Correct: " + answerText(out.Fact))
	return t.sess.Resume(ctx, engine.ReplyAccept)
}

// parseAnswer reads "field value" or attr=value pairs.
func parseAnswer(s string) (cond.Fact, error) {
	fields := strings.Fields(s)
	if len(fields) == 0 {
		return nil, errors.New("empty answer")
	}
	if strings.Contains(s, "=") {
		f := make(cond.Fact, len(fields))
		for _, kv := range fields {
			k, v, ok := strings.Cut(kv, "=")
			if !ok || k == "" {
				return nil, fmt.Errorf("%q is not attr=value", kv)
			}
			f[k] = parseValue(v)
		}
		return f, nil
	}
	if len(fields) != 2 {
		return nil, errors.New(`answer with "<field> <value>", attr=value pairs, hint or quit`)
	}
	return cond.Fact{"field": fields[0], "value": parseValue(fields[1])}, nil
}

func parseValue(s string) term.Term {
	if i, err := strconv.ParseInt(s, 10, 64); err == nil {
		return i
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return f
	}
	if b, err := strconv.ParseBool(s); err == nil {
		return b
	}
	return s
}

// matches reports whether every attribute of answer agrees with fact.
func matches(answer, fact cond.Fact) bool {
	if len(answer) == 0 {
		return false
	}
	for k, v := range answer {
		fv, ok := fact[k]
		if !ok || !term.Equal(v, fv) {
			return false
		}
	}
	return true
}

// answerText prints {field, value} facts the way learners type them.
func answerText(f cond.Fact) string {
	field, okF := f["field"]
	value, okV := f["value"]
	if okF && okV && len(f) == 2 {
		return fmt.Sprintf("%v %v", field, value)
	}
	return f.String()
}
