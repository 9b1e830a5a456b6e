package main

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"gateflow/internal/collab"
	gtemporal "gateflow/internal/temporal"
	"gateflow/pkg/coordinator"
	"gateflow/pkg/types"
)

// failingCount reports a failing test count given on the command line.
type failingCount int

func (f failingCount) FailingTestCount() int { return int(f) }

// phaseWork returns the configured command work for phase.
func (r *runtime) phaseWork(phase types.Phase) func(context.Context) (any, error) {
	return collab.PhaseWork(r.cfg.Commands, r.logger)(phase)
}

func newPhaseCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "phase",
		Short: "Run individual phases",
	}
	cmd.AddCommand(newPhaseRunCmd(opts))
	return cmd
}

func newPhaseRunCmd(opts *rootOptions) *cobra.Command {
	var (
		tags    []string
		failing int
		timeout time.Duration
		task    string
	)

	cmd := &cobra.Command{
		Use:   "run <instance-id> <phase>",
		Short: "Run one phase of an instance",
		Long: `Run one phase of an instance with the configured phase command.

Tags describe the change set and activate conditional roles, for example
--tag auth activates the security reviewer during review. During test
generation --failing registers a count directly instead of running the
test command.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			id := args[0]
			phase, err := types.ParsePhase(args[1])
			if err != nil {
				return err
			}

			rt, err := opts.open(ctx)
			if err != nil {
				return err
			}
			defer rt.Close(context.WithoutCancel(ctx))

			work := rt.phaseWork(phase)
			if cmd.Flags().Changed("failing") {
				work = func(context.Context) (any, error) { return failingCount(failing), nil }
			}

			var runOpts []coordinator.RunOption
			if cmd.Flags().Changed("timeout") {
				runOpts = append(runOpts, coordinator.WithTimeout(timeout))
			}
			if task != "" {
				runOpts = append(runOpts, coordinator.WithTask(task))
			}

			res, err := rt.engine.Run(ctx, id, phase, tags, work, runOpts...)
			if err != nil {
				return err
			}
			printResult(cmd.OutOrStdout(), res)
			return nil
		},
	}

	cmd.Flags().StringSliceVarP(&tags, "tag", "t", nil, "change set tags that trigger conditional roles")
	cmd.Flags().IntVar(&failing, "failing", 0, "failing test count to register instead of running the test command")
	cmd.Flags().DurationVar(&timeout, "timeout", 0, "work timeout for this run (0 disables)")
	cmd.Flags().StringVar(&task, "task", "", "task description recorded on the activated roles")
	return cmd
}

func newDevModeCmd(opts *rootOptions) *cobra.Command {
	var (
		stopAfter string
		tags      []string
	)

	cmd := &cobra.Command{
		Use:   "dev-mode [instance-id]",
		Short: "Run the remaining phases of an instance in-process",
		Long: `Run phases in order until release, or until --stop-after, using the
configured commands. Without an instance id a new instance is created.
The run stops at the first refused or failed phase.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			var stop types.Phase
			if stopAfter != "" {
				p, err := types.ParsePhase(stopAfter)
				if err != nil {
					return err
				}
				stop = p
			}

			rt, err := opts.open(ctx)
			if err != nil {
				return err
			}
			defer rt.Close(context.WithoutCancel(ctx))

			var id string
			if len(args) == 1 {
				id = args[0]
				if err := rt.engine.Resume(ctx, id); err != nil {
					return err
				}
			} else {
				id, err = rt.engine.Create(ctx)
				if err != nil && id == "" {
					return err
				}
			}

			status, err := rt.engine.Status(ctx, id)
			if err != nil {
				return err
			}
			phases, err := gtemporal.PhaseSequence(rt.engine.Gates(), status.Phase, stop)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Instance %s at %s\n", id, status.Phase)
			for _, phase := range phases {
				res, err := rt.engine.Run(ctx, id, phase, tags, rt.phaseWork(phase))
				if err != nil {
					return err
				}
				printResult(out, res)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&stopAfter, "stop-after", "", "last phase to run")
	cmd.Flags().StringSliceVarP(&tags, "tag", "t", nil, "change set tags applied to every phase")
	return cmd
}

func printResult(w io.Writer, res *coordinator.PhaseResult[any]) {
	roles := make([]string, len(res.Activated))
	for i, r := range res.Activated {
		roles[i] = string(r)
	}
	fmt.Fprintf(w, "%s -> %s (%s) agents=[%s] failing_tests=%d\n",
		res.Transition.From, res.Phase, res.Duration.Round(time.Millisecond),
		strings.Join(roles, ", "), res.FailingTests)
	if res.Closed != nil {
		fmt.Fprintf(w, "%s -> %s\n", res.Closed.From, res.Closed.To)
	}
}
