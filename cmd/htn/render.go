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
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/AleutianAI/AleutianHTN/pkg/ux"
	"github.com/AleutianAI/AleutianHTN/services/planner/cond"
	"github.com/AleutianAI/AleutianHTN/services/planner/engine"
	"github.com/AleutianAI/AleutianHTN/services/planner/storage/badger"
)

func renderPlan(p *ux.Printer, domainName, label string, res *engine.Result, showTree bool) {
	p.Title(fmt.Sprintf("%s / %s", domainName, label))
	if !res.Success {
		p.Error("no plan: " + res.FailureReason)
	} else {
		p.Success(fmt.Sprintf("plan found, %d steps", len(res.Plan)))
		for i, s := range res.Plan {
			p.Item(i+1, stepLine(p, s))
		}
	}
	p.KeyValue(
		[2]string{"cost", strconv.FormatFloat(res.Cost, 'g', -1, 64)},
		[2]string{"iterations", strconv.Itoa(res.Iterations)},
		[2]string{"backtracks", strconv.Itoa(res.Backtracks)},
		[2]string{"duration", res.Duration.Round(time.Microsecond).String()},
	)
	if showTree && res.Tree != nil {
		p.Box("Decomposition", strings.TrimRight(res.Tree.String(), "\n"))
	}
	if res.Success && res.State != nil {
		p.Box("Final state", factLines(res.State.Facts()))
	}
}

func stepLine(p *ux.Printer, s engine.Step) string {
	if len(s.Add) == 0 {
		return s.Task.String()
	}
	adds := make([]string, len(s.Add))
	for i, f := range s.Add {
		adds[i] = f.String()
	}
	if p.Machine() {
		return s.Task.String() + "\t" + strings.Join(adds, " ")
	}
	return s.Task.String() + " " + p.Styles.Muted.Render(string(ux.IconArrow)+" "+strings.Join(adds, ", "))
}

func factLines(facts []cond.Fact) string {
	lines := make([]string, len(facts))
	for i, f := range facts {
		lines[i] = f.String()
	}
	return strings.Join(lines, "\n")
}

func renderRuns(p *ux.Printer, runs []badger.RunRecord) {
	if len(runs) == 0 {
		p.Muted("no recorded runs")
		return
	}
	p.Title("Recorded runs")
	for _, r := range runs {
		status := "ok"
		if !r.Success {
			status = "failed"
		}
		line := fmt.Sprintf("%s  %-7s %-14s %-24s %-6s %d steps",
			r.CreatedAt.Local().Format("2006-01-02 15:04:05"), r.Kind, r.Domain, r.Problem, status, len(r.Steps))
		if p.Machine() {
			line = strings.Join([]string{r.ID, r.CreatedAt.Format(time.RFC3339), r.Kind, r.Domain, r.Problem, status, strconv.Itoa(len(r.Steps))}, "\t")
			fmt.Fprintln(p.Writer(), line)
			continue
		}
		fmt.Fprintf(p.Writer(), "%s %s\n", p.Styles.Muted.Render(shortID(r.ID)), line)
	}
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func renderRun(p *ux.Printer, r badger.RunRecord) {
	p.Title(fmt.Sprintf("%s run %s", r.Kind, r.ID))
	pairs := [][2]string{
		{"domain", r.Domain},
		{"problem", r.Problem},
		{"seed", strconv.FormatUint(r.Seed, 10)},
		{"success", strconv.FormatBool(r.Success)},
		{"cost", strconv.FormatFloat(r.Cost, 'g', -1, 64)},
		{"iterations", strconv.Itoa(r.Iterations)},
		{"backtracks", strconv.Itoa(r.Backtracks)},
		{"created", r.CreatedAt.Local().Format(time.RFC3339)},
	}
	if r.Kind == badger.KindSession {
		pairs = append(pairs, [2]string{"accepted", strconv.Itoa(r.Accepted)}, [2]string{"rejected", strconv.Itoa(r.Rejected)})
	}
	if r.FailureReason != "" {
		pairs = append(pairs, [2]string{"reason", r.FailureReason})
	}
	p.KeyValue(pairs...)
	for i, s := range r.Steps {
		p.Item(i+1, s.Task+" "+strings.Join(s.Add, ", "))
	}
}
