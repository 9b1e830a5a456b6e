package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sort"

	"github.com/spf13/cobra"

	"gateflow/pkg/coordinator"
	"gateflow/pkg/types"
)

func newStatusCmd(opts *rootOptions) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "status [instance-id]",
		Short: "Show an instance, or list persisted instances",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			rt, err := opts.open(ctx)
			if err != nil {
				return err
			}
			defer rt.Close(context.WithoutCancel(ctx))

			out := cmd.OutOrStdout()
			if len(args) == 0 {
				ids, err := rt.backend.List(ctx)
				if err != nil {
					return err
				}
				if asJSON {
					return writeJSON(out, ids)
				}
				for _, id := range ids {
					fmt.Fprintln(out, id)
				}
				return nil
			}

			status, err := rt.engine.Status(ctx, args[0])
			if err != nil {
				return err
			}
			if asJSON {
				return writeJSON(out, status)
			}
			printStatus(out, status)
			return nil
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON")
	return cmd
}

func newHistoryCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "history <instance-id>",
		Short: "Print the archived pre-reset snapshots of an instance",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			rt, err := opts.open(ctx)
			if err != nil {
				return err
			}
			defer rt.Close(context.WithoutCancel(ctx))

			records, err := rt.engine.History(ctx, args[0])
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, rec := range records {
				fmt.Fprintf(out, "%s phase=%s transitions=%d failing_tests=%d\n",
					rec.SavedAt.Format("2006-01-02T15:04:05Z07:00"), rec.CurrentPhase,
					len(rec.PhaseHistory), rec.TestCounter)
			}
			return nil
		},
	}
}

func newResetCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "reset <instance-id>",
		Short: "Archive an instance and return it to idle",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			rt, err := opts.open(ctx)
			if err != nil {
				return err
			}
			defer rt.Close(context.WithoutCancel(ctx))

			if err := rt.engine.Reset(ctx, args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Reset %s to idle\n", args[0])
			return nil
		},
	}
}

func newResetTestsCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "reset-tests <instance-id>",
		Short: "Zero the failing test counter of an instance",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			rt, err := opts.open(ctx)
			if err != nil {
				return err
			}
			defer rt.Close(context.WithoutCancel(ctx))

			if err := rt.engine.ResetTests(ctx, args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Cleared failing tests of %s\n", args[0])
			return nil
		},
	}
}

func printStatus(w io.Writer, s coordinator.Status) {
	fmt.Fprintln(w, s.String())
	roles := make([]types.AgentRole, 0, len(s.Agents))
	for role := range s.Agents {
		roles = append(roles, role)
	}
	sort.Slice(roles, func(i, j int) bool { return roles[i] < roles[j] })
	for _, role := range roles {
		state := s.Agents[role]
		line := fmt.Sprintf("  %-20s %s", role, state.Status)
		if state.ErrorDetail != "" {
			line += " (" + state.ErrorDetail + ")"
		}
		fmt.Fprintln(w, line)
	}
	if s.Unsaved {
		fmt.Fprintln(w, "  warning: latest state not yet persisted")
	}
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
