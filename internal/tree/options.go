// ©Hayabusa Cloud Co., Ltd. 2025. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package tree

// ShutdownBehavior is a bitmask controlling when a shut-down
// executor's run loop is allowed to actually stop looping.
type ShutdownBehavior uint32

const (
	// FlushPendingMessages keeps the loop running until every queued
	// frame across every endpoint has been flushed.
	FlushPendingMessages ShutdownBehavior = 1 << iota
	// WaitForPeersTermination keeps the loop running until every
	// direct child's terminal state has been consumed via
	// ReadChildState.
	WaitForPeersTermination
)

const defaultShutdownTTL = 100

// Option configures an Executor at construction time.
type Option func(*Executor)

// WithShutdownTTL overrides the default 100-iteration cap on how long
// the run loop may spin with no living children while waiting for a
// shutdown behaviour flag that can never be satisfied.
func WithShutdownTTL(n int) Option {
	return func(e *Executor) { e.ttl = n }
}

// WithExitAfterShutdown controls whether the root process calls
// os.Exit once its run loop returns (non-root processes always do).
func WithExitAfterShutdown(exit bool) Option {
	return func(e *Executor) { e.exitAfterShutdown = exit }
}

// WithExitCode sets the process exit code used once the run loop
// returns, for non-root processes and for the root when
// WithExitAfterShutdown(true) is set.
func WithExitCode(code int) Option {
	return func(e *Executor) { e.exitCode = code }
}
