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
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/AleutianHTN/services/planner/domain"
	"github.com/AleutianAI/AleutianHTN/services/planner/domainfile"
	"github.com/AleutianAI/AleutianHTN/services/planner/engine"
	"github.com/AleutianAI/AleutianHTN/services/planner/storage/badger"
)

// problemFlags selects a problem: a file argument or a bundled example.
type problemFlags struct {
	domainPath string
	example    string
}

func (f *problemFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.domainPath, "domain", "", "domain file (default: the problem's domain field)")
	cmd.Flags().StringVar(&f.example, "example", "", "bundled example problem instead of a file")
}

// load returns the domain, the problem and a label for history.
func (f *problemFlags) load(args []string, fallback string) (*domain.Domain, *domainfile.Problem, string, error) {
	switch {
	case f.example != "":
		d, p, err := domainfile.Example(f.example)
		return d, p, f.example, err
	case len(args) == 1:
		d, p, err := domainfile.Load(args[0], f.domainPath)
		if err != nil {
			return nil, nil, "", err
		}
		label := p.Name
		if label == "" {
			label = args[0]
		}
		return d, p, label, nil
	case fallback != "":
		d, p, err := domainfile.Example(fallback)
		return d, p, fallback, err
	}
	return nil, nil, "", errors.New("give a problem file or --example (see --list)")
}

func newPlanCmd(a *app) *cobra.Command {
	var (
		pf       problemFlags
		seed     uint64
		selector string
		maxIter  int
		showTree bool
		asJSON   bool
		list     bool
	)
	cmd := &cobra.Command{
		Use:   "plan [problem.yaml]",
		Short: "Find a plan for a problem",
		Example: `  htn plan --example fraction
  htn plan problems/kitchen.yaml --domain domains/kitchen.yaml --seed 7 --tree`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if list {
				printExamples(a)
				return nil
			}
			d, p, label, err := pf.load(args, "")
			if err != nil {
				return err
			}

			ecfg := a.cfg.Planner.Engine(false)
			if cmd.Flags().Changed("seed") {
				ecfg.Seed = seed
			}
			if cmd.Flags().Changed("selector") {
				sel, ok := engine.ParseSelector(selector)
				if !ok {
					return fmt.Errorf("unknown selector %q (want first or random)", selector)
				}
				ecfg.Selector = sel
			}
			if cmd.Flags().Changed("max-iterations") {
				ecfg.MaxIterations = maxIter
			}
			ecfg.Logger = a.log.Slog()

			ctx := cmd.Context()
			res, err := engine.New(d, ecfg).Plan(ctx, p.State, p.Tasks)
			if err != nil {
				return err
			}
			rec := badger.NewPlanRecord(d.Name, label, ecfg.Seed, res)
			rec.ID = a.record(ctx, rec)

			if asJSON {
				if err := encodeJSON(a, rec); err != nil {
					return err
				}
			} else {
				renderPlan(a.out, d.Name, label, res, showTree)
			}
			if !res.Success {
				return errSilent
			}
			return nil
		},
	}
	pf.register(cmd)
	cmd.Flags().Uint64Var(&seed, "seed", 0, "random seed (default from config)")
	cmd.Flags().StringVar(&selector, "selector", "", "frontier selection: first or random")
	cmd.Flags().IntVar(&maxIter, "max-iterations", 0, "iteration bound, 0 for none")
	cmd.Flags().BoolVar(&showTree, "tree", false, "print the decomposition tree")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the run record as JSON")
	cmd.Flags().BoolVar(&list, "list", false, "list bundled examples")
	return cmd
}

func printExamples(a *app) {
	a.out.Title("Bundled examples")
	for i, name := range domainfile.Examples() {
		a.out.Item(i+1, name)
	}
}

// record stores rec and returns its ID. Failures are logged, not returned.
func (a *app) record(ctx context.Context, rec badger.RunRecord) string {
	store, err := a.openStore()
	if err != nil {
		a.log.Warn("run history unavailable", slog.String("error", err.Error()))
		return ""
	}
	if store == nil {
		return ""
	}
	defer store.Close()
	id, err := store.Put(ctx, rec)
	if err != nil {
		a.log.Warn("failed to record run", slog.String("error", err.Error()))
		return ""
	}
	return id
}
