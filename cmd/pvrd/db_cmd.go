// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package main

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ManuGH/pvrd/internal/config"
	sqlitedb "github.com/ManuGH/pvrd/internal/persistence/sqlite"
)

func newDBCmd(opts *rootOptions) *cobra.Command {
	db := &cobra.Command{
		Use:   "db",
		Short: "Database maintenance",
	}

	var full bool
	verify := &cobra.Command{
		Use:   "verify",
		Short: "Check the SQLite store for corruption",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := opts.load()
			if err != nil {
				return err
			}
			if cfg.Store.Backend != config.StoreSQLite {
				return fmt.Errorf("store backend %q has no database file", cfg.Store.Backend)
			}
			mode := "quick"
			if full {
				mode = "full"
			}
			problems, err := sqlitedb.VerifyIntegrity(cmd.Context(), cfg.StorePath(), mode)
			if err != nil {
				return err
			}
			if len(problems) > 0 {
				return errors.New("integrity check failed: " + strings.Join(problems, "; "))
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: ok (%s check)\n", cfg.StorePath(), mode)
			return nil
		},
	}
	verify.Flags().BoolVar(&full, "full", false, "run the full integrity_check instead of quick_check")

	db.AddCommand(verify)
	return db
}
