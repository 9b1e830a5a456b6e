package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.temporal.io/sdk/client"
	tlog "go.temporal.io/sdk/log"

	"gateflow/internal/api"
	"gateflow/internal/logger"
	gtemporal "gateflow/internal/temporal"
	"gateflow/pkg/types"
)

const shutdownTimeout = 10 * time.Second

func newServeCmd(opts *rootOptions) *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the status API and metrics over HTTP",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			rt, err := opts.open(ctx)
			if err != nil {
				return err
			}
			defer rt.Close(context.WithoutCancel(ctx))

			if addr == "" {
				addr = rt.cfg.HTTP.Addr
			}
			srv := &http.Server{
				Addr:              addr,
				Handler:           api.NewRouter(rt.engine, rt.logger),
				ReadHeaderTimeout: 5 * time.Second,
			}

			errCh := make(chan error, 1)
			go func() {
				rt.logger.Info("HTTP server listening", "addr", addr)
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					errCh <- err
				}
				close(errCh)
			}()

			select {
			case err := <-errCh:
				return err
			case <-ctx.Done():
			}

			rt.logger.Info("Shutting down HTTP server")
			shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default http.addr)")
	return cmd
}

func newWorkerCmd(opts *rootOptions) *cobra.Command {
	var maxConcurrent int

	cmd := &cobra.Command{
		Use:   "worker",
		Short: "Run a Temporal worker executing development workflows",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			rt, err := opts.open(ctx)
			if err != nil {
				return err
			}
			defer rt.Close(context.WithoutCancel(ctx))

			w, err := gtemporal.NewTemporalWorker(ctx, gtemporal.WorkerOptions{
				HostPort:      rt.cfg.Temporal.HostPort,
				TaskQueue:     rt.cfg.Temporal.TaskQueue,
				Namespace:     rt.cfg.Temporal.Namespace,
				MaxConcurrent: maxConcurrent,
				Logger:        rt.logger,
			})
			if err != nil {
				return err
			}
			defer w.Close()

			w.RegisterDevelopment(&gtemporal.PhaseActivities{Engine: rt.engine, Work: rt.phaseWork})
			if err := w.Start(ctx); err != nil {
				return err
			}

			<-ctx.Done()
			rt.logger.Info("Stopping Temporal worker")
			return w.Stop(context.WithoutCancel(ctx))
		},
	}

	cmd.Flags().IntVar(&maxConcurrent, "max-concurrent", 0, "task pollers per worker (default 10)")
	return cmd
}

// dial connects a Temporal client using the configured frontend.
func (o *rootOptions) dial(ctx context.Context) (client.Client, string, error) {
	cfg, err := o.loadConfig()
	if err != nil {
		return nil, "", err
	}
	log := logger.NewWithWriter(o.output(), cfg.Logging)
	c, err := client.DialContext(ctx, client.Options{
		HostPort:  cfg.Temporal.HostPort,
		Namespace: cfg.Temporal.Namespace,
		Logger:    tlog.NewStructuredLogger(log),
	})
	if err != nil {
		return nil, "", fmt.Errorf("failed to connect to temporal: %w", err)
	}
	return c, cfg.Temporal.TaskQueue, nil
}

func newWorkflowCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "workflow",
		Short: "Start and steer development workflows on Temporal",
	}
	cmd.AddCommand(
		newWorkflowStartCmd(opts),
		newWorkflowSignalCmd(opts, "retry", gtemporal.SignalRetryPhase, "Retry the failed phase of a waiting workflow"),
		newWorkflowSignalCmd(opts, "cancel", gtemporal.SignalCancel, "Cancel a workflow before its next phase"),
		newWorkflowProgressCmd(opts),
	)
	return cmd
}

func newWorkflowStartCmd(opts *rootOptions) *cobra.Command {
	var (
		instanceID   string
		stopAfter    string
		reviewTags   []string
		implTags     []string
		phaseTimeout time.Duration
		maxAttempts  int
		wait         bool
	)

	cmd := &cobra.Command{
		Use:   "start",
		Short: "Start a development workflow",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			input := gtemporal.DevelopmentWorkflowInput{
				InstanceID:   instanceID,
				PhaseTimeout: phaseTimeout,
				MaxAttempts:  maxAttempts,
				Triggers:     map[types.Phase][]string{},
			}
			if stopAfter != "" {
				p, err := types.ParsePhase(stopAfter)
				if err != nil {
					return err
				}
				input.StopAfter = p
			}
			if len(reviewTags) > 0 {
				input.Triggers[types.PhaseReview] = reviewTags
			}
			if len(implTags) > 0 {
				input.Triggers[types.PhaseImplementation] = implTags
			}

			c, taskQueue, err := opts.dial(ctx)
			if err != nil {
				return err
			}
			defer c.Close()

			run, err := c.ExecuteWorkflow(ctx, client.StartWorkflowOptions{
				ID:        "gateflow-" + uuid.NewString(),
				TaskQueue: taskQueue,
			}, gtemporal.DevelopmentWorkflow, input)
			if err != nil {
				return fmt.Errorf("failed to start workflow: %w", err)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Started workflow %s (run %s)\n", run.GetID(), run.GetRunID())
			if !wait {
				return nil
			}

			var result gtemporal.DevelopmentWorkflowOutput
			if err := run.Get(ctx, &result); err != nil {
				return err
			}
			fmt.Fprintf(out, "Instance %s finished at %s after %d phases\n",
				result.InstanceID, result.Phase, len(result.Outcomes))
			if result.Cancelled {
				fmt.Fprintf(out, "Cancelled: %s\n", result.CancelReason)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&instanceID, "instance", "", "resume an existing instance")
	cmd.Flags().StringVar(&stopAfter, "stop-after", "", "last phase to run")
	cmd.Flags().StringSliceVar(&reviewTags, "review-tag", nil, "change set tags for the review phase")
	cmd.Flags().StringSliceVar(&implTags, "impl-tag", nil, "change set tags for the implementation phase")
	cmd.Flags().DurationVar(&phaseTimeout, "phase-timeout", 0, "activity timeout per phase")
	cmd.Flags().IntVar(&maxAttempts, "max-attempts", 0, "runs allowed per phase, counting retries (0 is unlimited)")
	cmd.Flags().BoolVar(&wait, "wait", false, "wait for the workflow to finish")
	return cmd
}

func newWorkflowSignalCmd(opts *rootOptions, use, signalName, short string) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <workflow-id> [message]",
		Short: short,
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			var msg string
			if len(args) == 2 {
				msg = args[1]
			}

			c, _, err := opts.dial(ctx)
			if err != nil {
				return err
			}
			defer c.Close()

			if err := c.SignalWorkflow(ctx, args[0], "", signalName, msg); err != nil {
				return fmt.Errorf("failed to signal workflow: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Sent %s to %s\n", signalName, args[0])
			return nil
		},
	}
}

func newWorkflowProgressCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "progress <workflow-id>",
		Short: "Query the phases a workflow has run so far",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			c, _, err := opts.dial(ctx)
			if err != nil {
				return err
			}
			defer c.Close()

			val, err := c.QueryWorkflow(ctx, args[0], "", gtemporal.QueryProgress)
			if err != nil {
				return fmt.Errorf("failed to query workflow: %w", err)
			}
			var progress gtemporal.DevelopmentWorkflowOutput
			if err := val.Get(&progress); err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), progress)
		},
	}
}
