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
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/AleutianHTN/pkg/ux"
	"github.com/AleutianAI/AleutianHTN/services/planner/engine"
	"github.com/AleutianAI/AleutianHTN/services/planner/storage/badger"
)

const defaultTutorExample = "fraction_tutor"

func newTutorCmd(a *app) *cobra.Command {
	var (
		pf   problemFlags
		seed uint64
	)
	cmd := &cobra.Command{
		Use:   "tutor [problem.yaml]",
		Short: "Work through a problem step by step",
		Long: `tutor asks for the fact each next step produces and checks it
against the planner. Answer with "<field> <value>" (for example "num 32")
or attr=value pairs. Type hint for a suggestion or quit to stop.

Without a problem file the bundled fraction_tutor example is used.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			d, p, label, err := pf.load(args, defaultTutorExample)
			if err != nil {
				return err
			}

			ecfg := a.cfg.Planner.Engine(true)
			if cmd.Flags().Changed("seed") {
				ecfg.Seed = seed
			}
			ecfg.Logger = a.log.Slog()
			sess, err := engine.NewSession(d, p.State, p.Tasks, p.Goal, ecfg)
			if err != nil {
				return err
			}
			defer sess.Close()

			a.out.Title(fmt.Sprintf("%s / %s", d.Name, label))
			a.out.Muted(p.State.String())

			t := &tutor{sess: sess, prompt: a.prompter(), out: a.out}
			start := time.Now()
			stats, err := t.run(cmd.Context())
			if err != nil && !errors.Is(err, errQuit) {
				return err
			}

			rec := badger.NewSessionRecord(d.Name, label, ecfg.Seed, stats.Goal, sess.Steps(), sess.Stats(), time.Since(start))
			a.record(cmd.Context(), rec)
			a.out.KeyValue(
				[2]string{"correct", fmt.Sprint(stats.Correct)},
				[2]string{"wrong", fmt.Sprint(stats.Wrong)},
				[2]string{"hints", fmt.Sprint(stats.Hints)},
			)
			return nil
		},
	}
	pf.register(cmd)
	cmd.Flags().Uint64Var(&seed, "seed", 0, "random seed (default from config)")
	return cmd
}

// prompter uses a form on a terminal and plain lines otherwise.
func (a *app) prompter() Prompter {
	if f, ok := a.stdin.(*os.File); ok && ux.IsTerminal(f) && a.out.Level() != ux.LevelMachine {
		return huhPrompter{}
	}
	return newLinePrompter(a.stdin, a.stdout)
}
