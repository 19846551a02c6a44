// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package main

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ManuGH/pvrd/internal/config"
	"github.com/ManuGH/pvrd/internal/daemon"
	"github.com/ManuGH/pvrd/internal/version"
)

type rootOptions struct {
	configPath string
	// logOutput overrides stdout for daemon logs; tests discard them.
	logOutput io.Writer
}

func newRootCmd() *cobra.Command { return newRootCmdWith(&rootOptions{}) }

func newRootCmdWith(opts *rootOptions) *cobra.Command {
	root := &cobra.Command{
		Use:           "pvrd",
		Short:         "PVR daemon: guide sync and scheduled recordings",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&opts.configPath, "config", "", "path to config file (YAML)")

	root.AddCommand(
		newRunCmd(opts),
		newSyncCmd(opts),
		newLineupCmd(opts),
		newVersionCmd(),
		newDBCmd(opts),
	)
	return root
}

func (o *rootOptions) load() (config.AppConfig, error) {
	cfg, err := config.NewLoader(strings.TrimSpace(o.configPath), version.Version).Load()
	if err != nil {
		return config.AppConfig{}, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

// build loads the config and wires the daemon without starting it.
func (o *rootOptions) build(ctx context.Context) (*daemon.App, config.AppConfig, error) {
	cfg, err := o.load()
	if err != nil {
		return nil, cfg, err
	}
	app, err := daemon.Build(ctx, cfg, daemon.Options{
		LogOutput:  o.logOutput,
		ConfigPath: strings.TrimSpace(o.configPath),
	})
	if err != nil {
		return nil, cfg, err
	}
	return app, cfg, nil
}

func newRunCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the daemon until SIGINT or SIGTERM",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			app, _, err := opts.build(cmd.Context())
			if err != nil {
				return err
			}
			return app.Run(cmd.Context())
		},
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the build version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintln(cmd.OutOrStdout(), version.String())
		},
	}
}
