// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/ManuGH/pvrd/internal/guidesource/httpsource"
	"github.com/ManuGH/pvrd/internal/guidesync"
	"github.com/ManuGH/pvrd/internal/lineup"
)

var errGuideDisabled = errors.New("no guide URL configured (guide.baseUrl or PVR_GUIDE_URL)")

func newSyncCmd(opts *rootOptions) *cobra.Command {
	var fast bool
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Run one guide sync pass against the configured store",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) (err error) {
			ctx := cmd.Context()
			app, _, err := opts.build(ctx)
			if err != nil {
				return err
			}
			defer func() { err = errors.Join(err, app.Close(context.WithoutCancel(ctx))) }()

			engine := app.Engine()
			if engine == nil {
				return errGuideDisabled
			}
			kind := guidesync.KindFull
			if fast {
				kind = guidesync.KindFast
			}
			res, err := engine.RunOnce(ctx, kind)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(res)
		},
	}
	cmd.Flags().BoolVar(&fast, "fast", false, "fetch the short and long windows only")
	return cmd
}

func newLineupCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "lineup <postal-code>",
		Short: "List the lineups offered for a postal code and the one pvrd would pick",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) (err error) {
			ctx := cmd.Context()
			app, cfg, err := opts.build(ctx)
			if err != nil {
				return err
			}
			defer func() { err = errors.Join(err, app.Close(context.WithoutCancel(ctx))) }()

			if cfg.Guide.BaseURL == "" {
				return errGuideDisabled
			}
			src, err := httpsource.New(httpsource.Config{
				BaseURL: cfg.Guide.BaseURL,
				Timeout: cfg.Guide.Timeout,
			}, nil)
			if err != nil {
				return err
			}

			lineups, err := src.Lineups(ctx, args[0])
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tNAME")
			for _, l := range lineups {
				fmt.Fprintf(w, "%s\t%s\n", l.ID, l.Name)
			}
			if err := w.Flush(); err != nil {
				return err
			}

			id, ok, err := lineup.NewSelector(src, app.Store()).Select(ctx, args[0])
			if err != nil {
				return err
			}
			if !ok {
				fmt.Fprintln(cmd.OutOrStdout(), "selected: none (no lineup matches a local tuner channel)")
				return nil
			}
			fmt.Fprintf(cmd.OutOrStdout(), "selected: %s\n", id)
			return nil
		},
	}
}
