// ©Hayabusa Cloud Co., Ltd. 2025. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package router

import "golang.org/x/sys/unix"

// DispatchMode selects whether listener callbacks fire only at the
// logical endpoints of a message (ProcessContext, the default) or at
// every transit hop (RawContext).
type DispatchMode int

const (
	// ProcessContext fires onMessageSent only for locally originated
	// frames, exactly once per id, and onMessageReceived only when this
	// process is the target (or a broadcast recipient).
	ProcessContext DispatchMode = iota
	// RawContext additionally fires the corresponding listener at every
	// transit hop, useful for tracing.
	RawContext
)

type config struct {
	mode         DispatchMode
	urgentSignal unix.Signal
}

func defaultConfig() config {
	return config{
		mode:         ProcessContext,
		urgentSignal: unix.SIGUSR1,
	}
}

// Option configures a Router at construction time.
type Option func(*config)

// WithDispatchMode overrides the default process-context dispatch mode.
func WithDispatchMode(mode DispatchMode) Option {
	return func(c *config) { c.mode = mode }
}

// WithUrgentSignal overrides the default SIGUSR1 urgent-delivery signal.
func WithUrgentSignal(sig unix.Signal) Option {
	return func(c *config) { c.urgentSignal = sig }
}
