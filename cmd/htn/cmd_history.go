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
	"encoding/json"
	"errors"

	"github.com/spf13/cobra"
)

func newHistoryCmd(a *app) *cobra.Command {
	var (
		limit  int
		asJSON bool
		remove bool
	)
	cmd := &cobra.Command{
		Use:   "history [run-id]",
		Short: "List recorded runs, or show one",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if a.noHistory || a.cfg.Storage.Disabled {
				return errors.New("run history is disabled")
			}
			store, err := a.openStore()
			if err != nil {
				return err
			}
			defer store.Close()
			ctx := cmd.Context()

			if len(args) == 1 {
				if remove {
					if err := store.Delete(ctx, args[0]); err != nil {
						return err
					}
					a.out.Success("deleted " + args[0])
					return nil
				}
				rec, err := store.Get(ctx, args[0])
				if err != nil {
					return err
				}
				if asJSON {
					return encodeJSON(a, rec)
				}
				renderRun(a.out, rec)
				return nil
			}
			if remove {
				return errors.New("--delete needs a run ID")
			}

			runs, err := store.List(ctx, limit)
			if err != nil {
				return err
			}
			if asJSON {
				return encodeJSON(a, runs)
			}
			renderRuns(a.out, runs)
			return nil
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "number of runs, 0 for all")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON")
	cmd.Flags().BoolVar(&remove, "delete", false, "delete the given run")
	return cmd
}

func encodeJSON(a *app, v any) error {
	enc := json.NewEncoder(a.stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
