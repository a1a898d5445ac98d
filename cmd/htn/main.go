// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Command htn plans over hierarchical task networks, tutors a learner
// through a plan step by step, and serves both over HTTP.
package main

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/AleutianHTN/pkg/logging"
	"github.com/AleutianAI/AleutianHTN/pkg/ux"
	"github.com/AleutianAI/AleutianHTN/services/planner/config"
	"github.com/AleutianAI/AleutianHTN/services/planner/storage/badger"
)

// Set with -ldflags "-X main.version=...".
var version = "dev"

// errSilent marks errors already reported to the user.
var errSilent = errors.New("reported")

// app is the state shared by every subcommand.
type app struct {
	configPath string
	logLevel   string
	outputMode string
	noHistory  bool
	verbose    bool

	cfg config.Config
	log *logging.Logger
	out *ux.Printer

	stdin  io.Reader
	stdout io.Writer
	stderr io.Writer
}

func main() {
	a := &app{stdin: os.Stdin, stdout: os.Stdout, stderr: os.Stderr}
	err := newRootCmd(a).Execute()
	if a.log != nil {
		_ = a.log.Close()
	}
	if err != nil {
		if !errors.Is(err, errSilent) {
			fmt.Fprintln(os.Stderr, "Error:", err)
		}
		os.Exit(1)
	}
}

func newRootCmd(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:   "htn",
		Short: "Hierarchical task network planner and tutor",
		Long: `htn decomposes compound tasks into primitive operators.

Domains and problems are YAML files; two examples are bundled
(see 'htn plan --list').`,
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: a.setup,
	}
	root.SetIn(a.stdin)
	root.SetOut(a.stdout)
	root.SetErr(a.stderr)

	flags := root.PersistentFlags()
	flags.StringVar(&a.configPath, "config", "", "config file (default ~/.aleutian/htn/config.yaml)")
	flags.StringVar(&a.logLevel, "log-level", "", "log level: debug, info, warn, error")
	flags.StringVar(&a.outputMode, "output", "", "output style: full, minimal, machine (default from HTN_OUTPUT or terminal)")
	flags.BoolVar(&a.noHistory, "no-history", false, "do not record runs")
	flags.BoolVarP(&a.verbose, "verbose", "v", false, "log to stderr")

	root.AddCommand(
		newPlanCmd(a),
		newTutorCmd(a),
		newServeCmd(a),
		newHistoryCmd(a),
		newVersionCmd(a),
	)
	return root
}

// setup loads configuration and builds the logger and printer.
func (a *app) setup(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(a.configPath)
	if err != nil {
		return err
	}
	if a.logLevel != "" {
		cfg.Log.Level = a.logLevel
		if err := cfg.Validate(); err != nil {
			return err
		}
	}
	a.cfg = cfg

	service := "htn"
	if cmd.Name() == "serve" {
		service = "htn-server"
	}
	lc := cfg.Log.Logging(service, !a.verbose && cmd.Name() != "serve")
	lc.Output = a.stderr
	a.log = logging.New(lc)

	level := ux.ParseLevel(a.outputMode)
	if a.outputMode == "" {
		level = ux.LevelMachine
		if f, ok := a.stdout.(*os.File); ok {
			level = ux.DetectLevel(f)
		}
	}
	a.out = ux.NewPrinter(a.stdout, level)
	return nil
}

// openStore opens the run history, or returns nil when history is off.
func (a *app) openStore() (*badger.RunStore, error) {
	if a.noHistory || a.cfg.Storage.Disabled {
		return nil, nil
	}
	bc := badger.DefaultConfig(a.cfg.Storage.Path)
	if a.cfg.Storage.InMemory {
		bc = badger.InMemoryConfig()
	}
	bc.Logger = a.log.Slog()
	return badger.OpenRunStore(bc)
}

func newVersionCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintln(a.stdout, "htn", version)
		},
	}
}
