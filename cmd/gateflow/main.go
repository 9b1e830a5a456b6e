// Copyright (c) 2025 Open Swarm Contributors
//
// This software is released under the MIT License.
// See LICENSE file in the repository for details.

// Command gateflow drives workflow instances through the gated development
// phases.
package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"gateflow/internal/config"
	"gateflow/internal/logger"
	"gateflow/internal/store/backends"
	"gateflow/internal/telemetry"
	"gateflow/internal/workflow"
	"gateflow/pkg/coordinator"
)

var version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, workflow.Describe(err))
		os.Exit(1)
	}
}

// rootOptions are the persistent flags shared by every command.
type rootOptions struct {
	configPath string
	logLevel   string
	logOutput  io.Writer
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	root := &cobra.Command{
		Use:   "gateflow",
		Short: "Gated development workflow engine",
		Long: `gateflow moves work through a fixed sequence of phases:
planning, test generation, implementation, review, documentation and release.
Each phase activates its agent roles, and implementation stays blocked until
test generation has registered failing tests.`,
		Version:       version,
		SilenceErrors: true,
		SilenceUsage:  true,
		PersistentPreRun: func(cmd *cobra.Command, _ []string) {
			if opts.logOutput == nil {
				opts.logOutput = cmd.ErrOrStderr()
			}
		},
	}

	root.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "config file (default "+config.DefaultPath+")")
	root.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "override logging.level")

	root.AddCommand(
		newSetupCmd(opts),
		newVerifyCmd(opts),
		newQuickStartCmd(opts),
		newDevModeCmd(opts),
		newPhaseCmd(opts),
		newStatusCmd(opts),
		newHistoryCmd(opts),
		newResetCmd(opts),
		newResetTestsCmd(opts),
		newServeCmd(opts),
		newWorkerCmd(opts),
		newWorkflowCmd(opts),
	)
	return root
}

// runtime is the configured engine and the resources behind it.
type runtime struct {
	cfg     *config.Config
	logger  *slog.Logger
	backend *backends.Backend
	tracer  *telemetry.TracerProvider
	engine  *coordinator.Engine
}

func (o *rootOptions) loadConfig() (*config.Config, error) {
	cfg, err := config.LoadOrDefault(o.configPath)
	if err != nil {
		return nil, err
	}
	if o.logLevel != "" {
		cfg.Logging.Level = o.logLevel
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func (o *rootOptions) output() io.Writer {
	if o.logOutput == nil {
		return os.Stderr
	}
	return o.logOutput
}

// open loads configuration and builds the engine on the configured store.
func (o *rootOptions) open(ctx context.Context) (*runtime, error) {
	cfg, err := o.loadConfig()
	if err != nil {
		return nil, err
	}

	log := logger.NewWithWriter(o.output(), cfg.Logging)

	tracer, err := telemetry.Setup(ctx, cfg.Telemetry.Enabled, cfg.Telemetry.CollectorURL, cfg.Telemetry.SamplingRate)
	if err != nil {
		return nil, fmt.Errorf("telemetry: %w", err)
	}

	backend, err := backends.Open(ctx, cfg.Store, log)
	if err != nil {
		_ = tracer.Shutdown(ctx)
		return nil, err
	}

	engine, err := coordinator.NewFromConfig(cfg, backend, log)
	if err != nil {
		backend.Close()
		_ = tracer.Shutdown(ctx)
		return nil, err
	}

	return &runtime{cfg: cfg, logger: log, backend: backend, tracer: tracer, engine: engine}, nil
}

func (r *runtime) Close(ctx context.Context) {
	r.backend.Close()
	if err := r.tracer.Shutdown(ctx); err != nil {
		r.logger.Warn("Tracer shutdown failed", "error", err)
	}
}
