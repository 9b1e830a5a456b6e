// Copyright (c) 2025 Open Swarm Contributors
//
// This software is released under the MIT License.
// See LICENSE file in the repository for details.

package temporal

import (
	"time"

	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"
)

// Shared activity timeout constants
const (
	// DefaultStartToCloseTimeout bounds a single phase run
	DefaultStartToCloseTimeout = 30 * time.Minute

	// DefaultHeartbeatTimeout is the phase activity heartbeat timeout.
	DefaultHeartbeatTimeout = 2 * time.Minute

	// DefaultHeartbeatInterval is how often a running phase activity
	// heartbeats. It must stay below DefaultHeartbeatTimeout.
	DefaultHeartbeatInterval = 30 * time.Second

	// BookkeepingStartToCloseTimeout is the timeout for create, status and reset
	BookkeepingStartToCloseTimeout = 30 * time.Second

	// BookkeepingMaxAttempts is the retry count for bookkeeping activities
	BookkeepingMaxAttempts = 3
)

// Application error types that must not be retried. The engine refused the
// phase and will refuse it again until something else changes.
var nonRetryableErrorTypes = []string{
	ErrTypeInvalidTransition,
	ErrTypeBlocked,
	ErrTypeAgentActivation,
}

// GetPhaseActivityOptions returns activity options for phase runs.
// Phase work is not idempotent (it runs project commands), so it is never
// retried automatically; a failed phase waits for a retry signal instead.
func GetPhaseActivityOptions(timeout time.Duration) workflow.ActivityOptions {
	if timeout <= 0 {
		timeout = DefaultStartToCloseTimeout
	}
	return workflow.ActivityOptions{
		StartToCloseTimeout: timeout,
		HeartbeatTimeout:    DefaultHeartbeatTimeout,
		RetryPolicy: &temporal.RetryPolicy{
			MaximumAttempts:        1,
			NonRetryableErrorTypes: nonRetryableErrorTypes,
		},
	}
}

// GetBookkeepingActivityOptions returns activity options for instance
// creation, status and reset. These only touch the snapshot store and are
// retried.
func GetBookkeepingActivityOptions() workflow.ActivityOptions {
	return workflow.ActivityOptions{
		StartToCloseTimeout: BookkeepingStartToCloseTimeout,
		RetryPolicy: &temporal.RetryPolicy{
			MaximumAttempts:        BookkeepingMaxAttempts,
			NonRetryableErrorTypes: nonRetryableErrorTypes,
		},
	}
}

// WithPhaseOptions applies phase activity options to the workflow context.
func WithPhaseOptions(ctx workflow.Context, timeout time.Duration) workflow.Context {
	return workflow.WithActivityOptions(ctx, GetPhaseActivityOptions(timeout))
}

// WithBookkeepingOptions applies bookkeeping activity options to the workflow context.
func WithBookkeepingOptions(ctx workflow.Context) workflow.Context {
	return workflow.WithActivityOptions(ctx, GetBookkeepingActivityOptions())
}
