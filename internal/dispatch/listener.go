// ©Hayabusa Cloud Co., Ltd. 2025. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package dispatch implements the listener contract shared by the
// router and the process-tree executor (spec: "listener list (shared
// by-value with the router)" — one registry, one Listener interface,
// fed from both call sites), priority-ordered dispatch, and the
// optional interceptor-chain layer over it.
package dispatch

// Op names which I/O direction an error occurred on.
type Op int

const (
	OpSend Op = iota
	OpRecv
)

func (o Op) String() string {
	if o == OpSend {
		return "SEND"
	}
	return "RECV"
}

// RouterHandle is the minimal surface a MessageEvent needs from the
// router that produced it, kept as an interface so this package never
// imports package router (which itself depends on dispatch).
type RouterHandle interface {
	Pid() int32
	Alias() string
}

// ExecutorHandle is the minimal surface executor-facing callbacks need.
type ExecutorHandle interface {
	Pid() int32
	RootPid() int32
	ParentPid() int32
}

// Listener is the full callback contract. Implementations are supplied
// by the embedding application; this library only defines and invokes
// the contract (spec explicitly excludes listener bodies).
//
// GetPriority is read when listeners are registered (each Register
// re-sorts the whole list): lower values fire first, and ties preserve
// registration order.
type Listener interface {
	GetPriority() int

	OnMessageSent(e *MessageEvent)
	OnMessageReceived(e *MessageEvent)
	OnInterruptReceive(e *MessageEvent)
	OnPeerShutdown(exec ExecutorHandle, pid int32, unsent []UnsentFrame)
	OnRouterError(op Op, errno error, message string, cause error)

	OnStart(exec ExecutorHandle)
	OnShutdown(exec ExecutorHandle)
	OnExitLoop(exec ExecutorHandle)
}

// BaseListener supplies no-op implementations of every Listener method
// so a concrete listener can embed it and override only what it cares
// about, the same way the teacher's Options pattern lets a caller
// override only the knobs it needs instead of restating every field.
type BaseListener struct{ Priority int }

func (b BaseListener) GetPriority() int { return b.Priority }

func (BaseListener) OnMessageSent(*MessageEvent)                         {}
func (BaseListener) OnMessageReceived(*MessageEvent)                     {}
func (BaseListener) OnInterruptReceive(*MessageEvent)                    {}
func (BaseListener) OnPeerShutdown(ExecutorHandle, int32, []UnsentFrame) {}
func (BaseListener) OnRouterError(Op, error, string, error)              {}
func (BaseListener) OnStart(ExecutorHandle)                              {}
func (BaseListener) OnShutdown(ExecutorHandle)                           {}
func (BaseListener) OnExitLoop(ExecutorHandle)                           {}

var _ Listener = BaseListener{}
