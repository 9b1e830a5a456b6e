// Copyright (c) 2025 Open Swarm Contributors
//
// This software is released under the MIT License.
// See LICENSE file in the repository for details.

// Package collab provides phase work backed by project commands: running the
// test suite during test generation and the lint, docs and release commands
// in later phases.
package collab

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/bitfield/script"

	"gateflow/internal/config"
	"gateflow/internal/logger"
	"gateflow/pkg/types"
)

// TestGenerator produces the failing tests of a test generation phase.
type TestGenerator interface {
	Generate(ctx context.Context) (*TestReport, error)
}

// Runner executes a command and returns its combined output.
type Runner func(ctx context.Context, command string) (string, error)

// ScriptRunner runs commands through bitfield/script. The command is split
// into arguments, not passed to a shell; wrap it in `sh -c '...'` for pipes.
//
// ScriptRunner returns as soon as ctx is done. script exposes no process
// handle, so the command itself keeps running until it exits and its output
// is discarded.
func ScriptRunner(ctx context.Context, command string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	type result struct {
		out string
		err error
	}
	done := make(chan result, 1)
	go func() {
		out, err := script.Exec(command).String()
		done <- result{out: out, err: err}
	}()

	select {
	case r := <-done:
		return r.out, r.err
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// CommandTestGenerator runs the project's test command and counts the
// failing tests in its output. A non-zero exit is expected while tests fail.
type CommandTestGenerator struct {
	Command string
	Runner  Runner
	Logger  *slog.Logger
}

// NewCommandTestGenerator creates a generator for command.
func NewCommandTestGenerator(command string, logger *slog.Logger) *CommandTestGenerator {
	if logger == nil {
		logger = slog.Default()
	}
	return &CommandTestGenerator{Command: command, Runner: ScriptRunner, Logger: logger}
}

// Generate implements TestGenerator.
func (g *CommandTestGenerator) Generate(ctx context.Context) (*TestReport, error) {
	if strings.TrimSpace(g.Command) == "" {
		return nil, fmt.Errorf("no test command configured")
	}
	log := logger.FromContext(ctx, g.Logger)
	log.Info("Running test command", "cmd", g.Command)

	output, runErr := g.Runner(ctx, g.Command)
	report := ParseGoTest(output)
	report.Command = g.Command

	if runErr != nil && report.FailingTestCount() == 0 {
		// Exit failures without failing tests are build or tooling errors.
		log.Error("Test command failed",
			"cmd", g.Command,
			"build_failed", report.BuildFailed,
			"error", runErr)
		return nil, fmt.Errorf("test command %q failed: %w", g.Command, runErr)
	}

	log.Info("Test command finished",
		"cmd", g.Command,
		"failing", report.FailingTestCount(),
		"passed", report.Passed)
	return report, nil
}

// CommandOutput is the result of a CommandStep.
type CommandOutput struct {
	Command string `json:"command"`
	Output  string `json:"output"`
}

// CommandStep returns phase work that runs command and fails on a non-zero
// exit. An empty command is a no-op.
func CommandStep(command string, run Runner) func(ctx context.Context) (any, error) {
	if run == nil {
		run = ScriptRunner
	}
	return func(ctx context.Context) (any, error) {
		if strings.TrimSpace(command) == "" {
			return CommandOutput{}, nil
		}
		out, err := run(ctx, command)
		if err != nil {
			return nil, fmt.Errorf("%s: %w\n%s", command, err, strings.TrimSpace(out))
		}
		return CommandOutput{Command: command, Output: out}, nil
	}
}

// PhaseCommand returns the configured command for phase. Implementation
// reruns the test command; planning has none.
func PhaseCommand(cmds config.CommandsConfig, phase types.Phase) string {
	switch phase {
	case types.PhaseTestGeneration, types.PhaseImplementation:
		return cmds.Test
	case types.PhaseReview:
		return cmds.Lint
	case types.PhaseDocumentation:
		return cmds.Docs
	case types.PhaseRelease:
		return cmds.Release
	default:
		return ""
	}
}

// PhaseWork returns the work for each phase built from the configured
// commands. Test generation parses the test command output into a
// *TestReport; the other phases run their command and fail on a non-zero
// exit.
func PhaseWork(cmds config.CommandsConfig, logger *slog.Logger) func(types.Phase) func(context.Context) (any, error) {
	return func(phase types.Phase) func(context.Context) (any, error) {
		if phase == types.PhaseTestGeneration {
			gen := NewCommandTestGenerator(cmds.Test, logger)
			return func(ctx context.Context) (any, error) {
				report, err := gen.Generate(ctx)
				if err != nil {
					return nil, err
				}
				return report, nil
			}
		}
		return CommandStep(PhaseCommand(cmds, phase), nil)
	}
}
