// ©Hayabusa Cloud Co., Ltd. 2025. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package tree

import (
	"time"

	"golang.org/x/sys/unix"
)

// ChildState is the termination lifecycle of a direct child, as
// tracked by the executor's SIGCHLD handler.
type ChildState int

const (
	// Living means the child has not yet been reaped.
	Living ChildState = iota
	// Exited means the child called exit(2) (or returned from main);
	// ExitCode holds its status.
	Exited
	// Signaled means the child was terminated by a signal; Signal
	// holds which one.
	Signaled
)

func (s ChildState) String() string {
	switch s {
	case Living:
		return "LIVING"
	case Exited:
		return "EXITED"
	case Signaled:
		return "SIGNAL"
	default:
		return "UNKNOWN"
	}
}

// ChildInfo is the per-child lifecycle record the executor maintains
// for each direct child.
type ChildInfo struct {
	Pid      int32
	Started  time.Time
	State    ChildState
	ExitCode int
	Signal   unix.Signal
	Rusage   *unix.Rusage // best-effort; nil where unavailable
}

// Uptime reports the time elapsed since Started. It keeps growing after
// the child terminates: the termination time is not recorded, so this
// is not the child's lifetime once it has exited.
func (c *ChildInfo) Uptime() time.Duration { return time.Since(c.Started) }
