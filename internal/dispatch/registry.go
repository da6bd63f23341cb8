// ©Hayabusa Cloud Co., Ltd. 2025. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package dispatch

import (
	"fmt"
	"sort"

	"github.com/pkg/errors"
)

// Registry holds an ordered, stable set of Listeners and fans events out
// to all of them. It is the "listener list (shared by-value with the
// router)" the executor and router both feed: one Register call makes a
// listener visible to both message events and lifecycle events.
type Registry struct {
	listeners []Listener
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// Register adds l to the registry and re-sorts by priority, ascending,
// with ties broken by registration order (stable sort).
func (r *Registry) Register(l Listener) {
	r.listeners = append(r.listeners, l)
	sort.SliceStable(r.listeners, func(i, j int) bool {
		return r.listeners[i].GetPriority() < r.listeners[j].GetPriority()
	})
}

// Unregister removes the first listener identical to l, if present.
func (r *Registry) Unregister(l Listener) {
	for i, existing := range r.listeners {
		if existing == l {
			r.listeners = append(r.listeners[:i], r.listeners[i+1:]...)
			return
		}
	}
}

// Len reports how many listeners are registered.
func (r *Registry) Len() int { return len(r.listeners) }

// recoverInto converts a panicking listener callback into an
// OnRouterError delivery instead of crashing the process: one
// misbehaving listener must not take down the whole dispatch loop.
func (r *Registry) recoverInto(l Listener, op Op) {
	if rec := recover(); rec != nil {
		err, ok := rec.(error)
		if !ok {
			err = fmt.Errorf("%v", rec)
		}
		l.OnRouterError(op, err, "listener panicked", errors.WithStack(err))
	}
}

func (r *Registry) dispatchSent(l Listener, e *MessageEvent) {
	defer r.recoverInto(l, OpSend)
	l.OnMessageSent(e)
}

func (r *Registry) dispatchReceived(l Listener, e *MessageEvent) {
	defer r.recoverInto(l, OpRecv)
	l.OnMessageReceived(e)
}

func (r *Registry) dispatchInterrupt(l Listener, e *MessageEvent) {
	defer r.recoverInto(l, OpRecv)
	l.OnInterruptReceive(e)
}

// DispatchMessageSent fans e out to every listener's OnMessageSent, in
// priority order, recovering from any individual panic.
func (r *Registry) DispatchMessageSent(e *MessageEvent) {
	for _, l := range r.listeners {
		r.dispatchSent(l, e)
	}
}

// DispatchMessageReceived fans e out to every listener's
// OnMessageReceived, in priority order.
func (r *Registry) DispatchMessageReceived(e *MessageEvent) {
	for _, l := range r.listeners {
		r.dispatchReceived(l, e)
	}
}

// DispatchInterruptReceive fans e out to every listener's
// OnInterruptReceive. Called only from the urgent re-entrant read path.
func (r *Registry) DispatchInterruptReceive(e *MessageEvent) {
	for _, l := range r.listeners {
		r.dispatchInterrupt(l, e)
	}
}

// DispatchPeerShutdown notifies every listener that pid's endpoint hit
// EOF, along with whatever frames were still queued for it.
func (r *Registry) DispatchPeerShutdown(exec ExecutorHandle, pid int32, unsent []UnsentFrame) {
	for _, l := range r.listeners {
		func() {
			defer r.recoverInto(l, OpSend)
			l.OnPeerShutdown(exec, pid, unsent)
		}()
	}
}

// DispatchRouterError fans a router-level error out directly, bypassing
// recoverInto (a panic here would otherwise recurse into itself).
func (r *Registry) DispatchRouterError(op Op, errno error, message string, cause error) {
	for _, l := range r.listeners {
		l.OnRouterError(op, errno, message, cause)
	}
}

// DispatchStart notifies every listener the executor has finished
// setting up and is about to enter its run loop.
func (r *Registry) DispatchStart(exec ExecutorHandle) {
	for _, l := range r.listeners {
		l.OnStart(exec)
	}
}

// DispatchShutdown notifies every listener that graceful shutdown has
// begun.
func (r *Registry) DispatchShutdown(exec ExecutorHandle) {
	for _, l := range r.listeners {
		l.OnShutdown(exec)
	}
}

// DispatchExitLoop notifies every listener that the run loop has
// returned and the process is about to exit.
func (r *Registry) DispatchExitLoop(exec ExecutorHandle) {
	for _, l := range r.listeners {
		l.OnExitLoop(exec)
	}
}
