// ©Hayabusa Cloud Co., Ltd. 2025. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package lightprocess builds a tree of cooperating OS processes that
// communicate over per-edge byte-stream channels using asynchronous
// typed messages, flood-routed with split-horizon so a frame is never
// forwarded back the way it came.
//
// Semantics and design:
//   - A process tree is a root plus any number of forked descendants,
//     each holding one live edge to its parent and zero or more edges
//     to its own forked children (internal/tree, internal/router).
//   - Submitting a message targets a pid, an alias, or every node in
//     the tree (broadcast); a frame for a direct neighbour's pid goes
//     out on that one edge, and every other frame is flooded to all
//     neighbours except the one it arrived from.
//   - All I/O is non-blocking first: iox.ErrWouldBlock is surfaced as
//     a control-flow signal and re-exposed here as ErrWouldBlock, the
//     same way framer.NewReader re-exports iox.ErrWouldBlock as
//     framer.ErrWouldBlock.
//   - Nothing logs by default. Every I/O failure, protocol fault, or
//     listener panic surfaces through a Listener's OnRouterError
//     callback instead of a log line.
package lightprocess

import (
	"golang.org/x/sys/unix"

	"github.com/xilon-jul/lightprocess/internal/dispatch"
	"github.com/xilon-jul/lightprocess/internal/netio"
	"github.com/xilon-jul/lightprocess/internal/reactor"
	"github.com/xilon-jul/lightprocess/internal/router"
	"github.com/xilon-jul/lightprocess/internal/tree"
	"github.com/xilon-jul/lightprocess/internal/wire"
)

// Frame is the on-the-wire representation of a single routable
// message: a fixed header plus a variable-length alias and payload.
// Application code submits messages through Router.Submit rather than
// constructing a Frame directly; it is exposed for introspection (its
// EncodedLen, and DstBroadcast/DstAlias's special DstRemote values).
type Frame = wire.Frame

const (
	DstBroadcast = wire.DstBroadcast
	DstAlias     = wire.DstAlias
)

// Reactor is the epoll-backed event loop a Router and Executor share.
type Reactor = reactor.Reactor

// NewReactor returns a Reactor ready to Register file descriptors on.
func NewReactor() (*Reactor, error) { return reactor.New() }

// Router floods and forwards frames across a node's registered
// endpoints, applying split-horizon so a frame is never sent back the
// way it arrived.
type Router = router.Router

// RouterOption configures a Router at construction time.
type RouterOption = router.Option

// DispatchMode selects how a Router hands received frames to
// listeners.
type DispatchMode = router.DispatchMode

const (
	ProcessContext = router.ProcessContext
	RawContext     = router.RawContext
)

// WithDispatchMode overrides the Router's default dispatch mode.
func WithDispatchMode(mode DispatchMode) RouterOption { return router.WithDispatchMode(mode) }

// WithUrgentSignal overrides the signal a Router sends to the next-hop
// peer after flushing an urgent frame, and that its executor listens
// for to run urgent delivery.
func WithUrgentSignal(sig unix.Signal) RouterOption { return router.WithUrgentSignal(sig) }

// Dest names a Submit target: a pid, an alias, or (the zero value,
// when combined with broadcast=true) every node in the tree.
type Dest = router.Dest

// ToPid addresses a Submit call at a specific node pid.
func ToPid(pid int32) Dest { return router.ToPid(pid) }

// ToAlias addresses a Submit call at whichever node registered alias.
func ToAlias(alias string) Dest { return router.ToAlias(alias) }

// NewRouter constructs a Router for the node identified by pid/alias,
// dispatching received frames through listeners.
func NewRouter(pid int32, alias string, re *Reactor, listeners *Registry, opts ...RouterOption) *Router {
	return router.New(pid, alias, re, listeners, opts...)
}

// Executor owns one process's position in the tree: its Router, its
// Reactor, its direct children, and its shutdown state.
type Executor = tree.Executor

// ExecutorOption configures an Executor at construction time.
type ExecutorOption = tree.Option

// NewExecutor constructs the root Executor of a process tree.
// rootPid and ownPid are the same value for the root; forked children
// are constructed instead via Executor.Fork on the parent side and
// EnterChild on the child side.
func NewExecutor(rootPid int32, r *Router, re *Reactor, listeners *Registry, opts ...ExecutorOption) *Executor {
	return tree.New(rootPid, rootPid, 0, r, re, listeners, opts...)
}

// WithShutdownTTL overrides the default cap on how long an Executor's
// run loop may spin with no living children while waiting for a
// shutdown behaviour flag that can never be satisfied.
func WithShutdownTTL(n int) ExecutorOption { return tree.WithShutdownTTL(n) }

// WithExitAfterShutdown controls whether the root process calls
// os.Exit once its run loop returns (non-root processes always do).
func WithExitAfterShutdown(exit bool) ExecutorOption { return tree.WithExitAfterShutdown(exit) }

// WithExitCode sets the process exit code used once the run loop
// returns.
func WithExitCode(code int) ExecutorOption { return tree.WithExitCode(code) }

// ShutdownBehavior is a bitmask controlling when a shut-down
// executor's run loop is allowed to actually stop looping.
type ShutdownBehavior = tree.ShutdownBehavior

const (
	FlushPendingMessages    = tree.FlushPendingMessages
	WaitForPeersTermination = tree.WaitForPeersTermination
)

// ParentCallback runs on the parent side immediately after Fork
// succeeds, before the parent's run loop resumes.
type ParentCallback = tree.ParentCallback

// ChildCallback runs on the child side after EnterChild has rebuilt
// the child's router/reactor/executor state, before the child's run
// loop starts.
type ChildCallback = tree.ChildCallback

// ChildState is the termination lifecycle of a direct child.
type ChildState = tree.ChildState

const (
	Living   = tree.Living
	Exited   = tree.Exited
	Signaled = tree.Signaled
)

// ChildInfo is the per-child lifecycle record an Executor maintains
// for each direct child.
type ChildInfo = tree.ChildInfo

// IsChildRole reports whether the current process was launched by
// Executor.Fork as a tree child, as opposed to being the tree's root.
func IsChildRole() bool { return tree.IsChildRole() }

// ChildAlias returns the alias Fork assigned this child, valid only
// when IsChildRole reports true.
func ChildAlias() string { return tree.ChildAlias() }

// ChildParentPid returns this child's parent's pid, valid only when
// IsChildRole reports true.
func ChildParentPid() int32 { return tree.ChildParentPid() }

// ChildRootPid returns the tree's root pid, valid only when
// IsChildRole reports true.
func ChildRootPid() int32 { return tree.ChildRootPid() }

// EnterChild rebuilds a forked child's router/reactor/executor state
// from the environment Fork left behind, then runs onChild.
func EnterChild(r *Router, re *Reactor, listeners *Registry, onChild ChildCallback, opts ...ExecutorOption) (*Executor, error) {
	return tree.EnterChild(r, re, listeners, onChild, opts...)
}

// Listener is the full callback contract a node's application code
// implements to observe message traffic, peer lifecycle, and router
// faults. This library only defines and invokes the contract; it
// never supplies listener bodies of its own.
type Listener = dispatch.Listener

// BaseListener supplies no-op implementations of every Listener
// method, so a concrete listener can embed it and override only the
// callbacks it cares about.
type BaseListener = dispatch.BaseListener

// Registry fans a MessageEvent, peer-shutdown, or router-error
// notification out to every registered Listener in priority order.
type Registry = dispatch.Registry

// NewRegistry returns an empty, ready-to-register Registry.
func NewRegistry() *Registry { return dispatch.NewRegistry() }

// MessageEvent is the read-only (except payload rewriting) view a
// Listener gets of a frame that was sent, received, or interrupt-
// delivered.
type MessageEvent = dispatch.MessageEvent

// UnsentFrame is a plain record describing one frame still queued for
// a peer when that peer's endpoint observed EOF.
type UnsentFrame = dispatch.UnsentFrame

// Op names which I/O direction a router-level error occurred on.
type Op = dispatch.Op

const (
	OpSend = dispatch.OpSend
	OpRecv = dispatch.OpRecv
)

// ExecutorHandle is the minimal surface executor-facing Listener
// callbacks need.
type ExecutorHandle = dispatch.ExecutorHandle

// RouterHandle is the minimal surface a MessageEvent needs from the
// Router that produced it.
type RouterHandle = dispatch.RouterHandle

// ErrWouldBlock is re-exported so callers outside this module's
// internal packages don't need to import iox directly to recognize
// the non-blocking "no progress without waiting" control-flow signal.
var ErrWouldBlock = netio.ErrWouldBlock

// Sentinel errors for the fatal cases this library names explicitly:
// addressing one's own pid, re-entering urgent delivery, and a failed
// fork. ErrLoopback and ErrUrgentReentry are returned as they are;
// ErrForkFailed's text prefixes a Fork error whose cause is the
// underlying failure, so it does not match with errors.Is.
var (
	ErrLoopback      = router.ErrLoopback
	ErrUrgentReentry = router.ErrUrgentReentry
	ErrForkFailed    = tree.ErrForkFailed
)
