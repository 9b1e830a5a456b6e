package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"gateflow/internal/config"
	"gateflow/internal/store"
	"gateflow/internal/workflow"
	"gateflow/pkg/types"
)

func newSetupCmd(opts *rootOptions) *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "setup",
		Short: "Write a default configuration file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			path := opts.configPath
			if path == "" {
				path = config.DefaultPath
			}
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists (use --force to overwrite)", path)
			} else if err != nil && !errors.Is(err, os.ErrNotExist) {
				return err
			}

			cfg := config.Default()
			if cwd, err := os.Getwd(); err == nil {
				cfg.Project.WorkingDirectory = cwd
			}
			if err := cfg.Write(path); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s\n", path)
			return nil
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing config file")
	return cmd
}

func newVerifyCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "verify",
		Short: "Check the configuration, gate table and snapshot store",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			if _, err := workflow.NewGateRegistry(); err != nil {
				return fmt.Errorf("gate table: %w", err)
			}

			rt, err := opts.open(ctx)
			if err != nil {
				return err
			}
			defer rt.Close(context.WithoutCancel(ctx))

			if err := store.Ping(ctx, rt.backend); err != nil {
				return fmt.Errorf("store %s: %w", rt.backend.Name, err)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "config:  ok (project %s)\n", rt.cfg.Project.Name)
			fmt.Fprintf(out, "gates:   ok (%d phases)\n", len(rt.engine.Gates().Order()))
			fmt.Fprintf(out, "store:   ok (%s)\n", rt.backend.Name)
			fmt.Fprintf(out, "minimum failing tests: %d\n", rt.cfg.Engine.MinFailingTests)
			return nil
		},
	}
}

func newQuickStartCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "quick-start",
		Short: "Create an instance and run its planning phase",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			rt, err := opts.open(ctx)
			if err != nil {
				return err
			}
			defer rt.Close(context.WithoutCancel(ctx))

			id, err := rt.engine.Create(ctx)
			if err != nil {
				if id == "" {
					return err
				}
				rt.logger.Warn("Instance created but not saved", "instance_id", id, "error", err)
			}

			work := rt.phaseWork(types.PhasePlanning)
			if _, err := rt.engine.Run(ctx, id, types.PhasePlanning, nil, work); err != nil {
				return err
			}

			status, err := rt.engine.Status(ctx, id)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintln(out, status.String())
			fmt.Fprintf(out, "Next: gateflow phase run %s %s\n", id, types.PhaseTestGeneration)
			return nil
		},
	}
}
