// ©Hayabusa Cloud Co., Ltd. 2025. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package tree implements the process-tree lifecycle: forking children
// with inherited listeners, rebuilding event state after fork, SIGCHLD
// reaping, signal wiring, peer-shutdown propagation, and the
// multi-phase graceful shutdown with a TTL cap.
package tree

import (
	"time"

	"golang.org/x/sys/unix"

	"github.com/xilon-jul/lightprocess/internal/dispatch"
	"github.com/xilon-jul/lightprocess/internal/reactor"
	"github.com/xilon-jul/lightprocess/internal/router"
)

// Executor owns one process's position in the tree: its router, its
// reactor, its direct children, and its shutdown state.
type Executor struct {
	rootPid   int32
	ownPid    int32
	parentPid int32

	router    *router.Router
	reactor   *reactor.Reactor
	listeners *dispatch.Registry

	children map[int32]*ChildInfo

	shutdown          bool
	shutdownFlags     ShutdownBehavior
	ttl               int
	ttlElapsed        int
	exitCode          int
	exitAfterShutdown bool
}

// New constructs an Executor for a process that is either the root of
// the tree (parentPid == 0) or a forked child. The caller is
// responsible for having already wired r's endpoints before entering
// Run, except for the parent/child edge Fork/EnterChild add themselves.
func New(rootPid, ownPid, parentPid int32, r *router.Router, re *reactor.Reactor, listeners *dispatch.Registry, opts ...Option) *Executor {
	e := &Executor{
		rootPid:   rootPid,
		ownPid:    ownPid,
		parentPid: parentPid,
		router:    r,
		reactor:   re,
		listeners: listeners,
		children:  make(map[int32]*ChildInfo),
		ttl:       defaultShutdownTTL,
	}
	for _, opt := range opts {
		opt(e)
	}
	r.SetExecutor(e)
	e.wireSignals()
	return e
}

// Pid implements dispatch.ExecutorHandle.
func (e *Executor) Pid() int32 { return e.ownPid }

// RootPid implements dispatch.ExecutorHandle.
func (e *Executor) RootPid() int32 { return e.rootPid }

// ParentPid implements dispatch.ExecutorHandle.
func (e *Executor) ParentPid() int32 { return e.parentPid }

// IsRoot reports whether this process is the tree's root.
func (e *Executor) IsRoot() bool { return e.parentPid == 0 }

// Router exposes the underlying router for submitting messages.
func (e *Executor) Router() *router.Router { return e.router }

func (e *Executor) wireSignals() {
	e.reactor.NotifySignal(unix.SIGCHLD, e.reapChildren)
	e.reactor.NotifySignal(e.router.UrgentSignal(), func() {
		_ = e.router.DeliverUrgent()
	})
}

// reapChildren drains every terminated child with a non-blocking
// waitpid loop, per spec §4.6's SIGCHLD handling: update ChildInfo,
// the router itself will separately observe peer shutdown via EOF on
// the read path.
func (e *Executor) reapChildren() {
	for {
		var ws unix.WaitStatus
		var ru unix.Rusage
		pid, err := unix.Wait4(-1, &ws, unix.WNOHANG, &ru)
		if err != nil || pid <= 0 {
			return
		}
		info, ok := e.children[int32(pid)]
		if !ok {
			continue
		}
		rusage := ru
		info.Rusage = &rusage
		switch {
		case ws.Exited():
			info.State = Exited
			info.ExitCode = ws.ExitStatus()
		case ws.Signaled():
			info.State = Signaled
			info.Signal = ws.Signal()
		}
	}
}

// ReadChildState returns and consumes pid's terminal ChildInfo. A
// child that has not yet been reaped (State == Living) is returned
// but not consumed; only a terminal state counts as "acknowledged" for
// the WaitForPeersTermination shutdown condition and for removal.
func (e *Executor) ReadChildState(pid int32) (ChildInfo, bool) {
	info, ok := e.children[pid]
	if !ok {
		return ChildInfo{}, false
	}
	snapshot := *info
	if info.State != Living {
		delete(e.children, pid)
	}
	return snapshot, true
}

// livingChildrenCount counts every child entry still held, reaped or
// not, used by the shutdown loop condition's WaitForPeersTermination clause (spec
// phrases it as "children_count", which this executor interprets as
// "children whose terminal state has not yet been consumed" so that a
// reaped-but-unacknowledged child still holds the loop open).
func (e *Executor) livingChildrenCount() int {
	return len(e.children)
}

// Shutdown sets the shutdown flag, fires OnShutdown, and records the
// behaviour flags that govern when the run loop is allowed to stop.
func (e *Executor) Shutdown(flags ShutdownBehavior) {
	e.shutdown = true
	e.shutdownFlags = flags
	e.listeners.DispatchShutdown(e)
}

// shouldContinueLooping evaluates spec §4.6's loop condition exactly.
func (e *Executor) shouldContinueLooping() bool {
	if !e.shutdown {
		return true
	}
	if e.shutdownFlags&FlushPendingMessages != 0 && e.router.Pending() > 0 {
		return true
	}
	if e.shutdownFlags&WaitForPeersTermination != 0 && e.livingChildrenCount() > 0 {
		return true
	}
	return false
}

// RunOnce drives the reactor for one readiness wait and re-evaluates
// the shutdown loop condition, returning false once the caller should
// stop calling RunOnce (the TTL cap forces this even if a shutdown
// behaviour flag can technically never be satisfied).
func (e *Executor) RunOnce(timeout time.Duration) (bool, error) {
	if err := e.reactor.LoopOnce(timeout); err != nil {
		return false, err
	}
	if !e.shouldContinueLooping() {
		return false, nil
	}
	if e.shutdown && e.livingChildrenCount() == 0 {
		e.ttlElapsed++
		if e.ttlElapsed >= e.ttl {
			return false, nil
		}
	} else {
		e.ttlElapsed = 0
	}
	return true, nil
}

// Run blocks, driving the reactor, until shouldContinueLooping is
// false (or the TTL cap fires), then performs the post-loop graceful
// shutdown.
func (e *Executor) Run() error {
	e.listeners.DispatchStart(e)
	for {
		again, err := e.RunOnce(100 * time.Millisecond)
		if err != nil {
			return err
		}
		if !again {
			break
		}
	}
	e.listeners.DispatchExitLoop(e)
	return e.gracefulShutdown()
}
