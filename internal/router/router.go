// ©Hayabusa Cloud Co., Ltd. 2025. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package router implements flood routing with split-horizon over a
// set of per-neighbour endpoints: local submission, frame-received
// dispatch (forward/ack/deliver), broadcast fan-out, process-context
// versus raw-context listener firing, and the urgent-delivery
// re-entrant read pass.
package router

import (
	"io"
	"math/rand/v2"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"

	"github.com/xilon-jul/lightprocess/internal/dispatch"
	"github.com/xilon-jul/lightprocess/internal/netio"
	"github.com/xilon-jul/lightprocess/internal/reactor"
	"github.com/xilon-jul/lightprocess/internal/wire"
)

// Dest names a submission's logical destination: either a known pid,
// or an alias, never both. The zero value (Pid==0, Alias=="") is only
// valid for a broadcast submission.
type Dest struct {
	Pid   int32
	Alias string
}

// ToPid addresses a submission to a specific pid.
func ToPid(pid int32) Dest { return Dest{Pid: pid} }

// ToAlias addresses a submission to a node by its alias.
func ToAlias(alias string) Dest { return Dest{Alias: alias} }

func (d Dest) isAlias() bool { return d.Alias != "" }

type emission struct {
	remaining int
}

// Router owns one process's endpoint set and implements the routing
// algorithm described in the frame-received state machine: forward,
// ack, deliver, in that conditional order.
type Router struct {
	ownPid   int32
	ownAlias string

	endpoints map[int32]*netio.Endpoint
	reactor   *reactor.Reactor
	listeners *dispatch.Registry
	executor  dispatch.ExecutorHandle

	interrupted bool
	emissions   map[uint32]*emission

	cfg config
}

// New constructs a Router for the given pid and optional alias. re and
// listeners may be supplied later via SetReactor/SetListeners if not
// yet available at construction time (the executor builds them in a
// specific order during fork/EnterChild).
func New(pid int32, alias string, re *reactor.Reactor, listeners *dispatch.Registry, opts ...Option) *Router {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Router{
		ownPid:    pid,
		ownAlias:  alias,
		endpoints: make(map[int32]*netio.Endpoint),
		reactor:   re,
		listeners: listeners,
		emissions: make(map[uint32]*emission),
		cfg:       cfg,
	}
}

// Pid implements dispatch.RouterHandle.
func (r *Router) Pid() int32 { return r.ownPid }

// Alias implements dispatch.RouterHandle.
func (r *Router) Alias() string { return r.ownAlias }

// SetExecutor records the executor whose lifecycle this router is part
// of, so MessageEvent can carry an executor back-reference. Called once
// by package tree after both the router and the executor exist.
func (r *Router) SetExecutor(exec dispatch.ExecutorHandle) { r.executor = exec }

// SetReactor attaches the reactor this router dispatches endpoint
// readiness through, for the case where it was not yet constructed
// when New was called.
func (r *Router) SetReactor(re *reactor.Reactor) { r.reactor = re }

// SetListeners attaches the shared listener registry, for the case
// where it was not yet constructed when New was called.
func (r *Router) SetListeners(listeners *dispatch.Registry) { r.listeners = listeners }

// UrgentSignal reports the configured urgent-delivery signal, so the
// executor can wire it into the reactor's signal dispatcher.
func (r *Router) UrgentSignal() unix.Signal { return r.cfg.urgentSignal }

// Pending reports the total number of frames still queued for
// transmission across every endpoint, used by the executor's shutdown
// loop condition (FLUSH_PENDING_MESSAGES).
func (r *Router) Pending() int {
	n := 0
	for _, ep := range r.endpoints {
		n += len(ep.PendingFrames())
	}
	return n
}

// Endpoint returns the endpoint registered for pid, if any.
func (r *Router) Endpoint(pid int32) (*netio.Endpoint, bool) {
	ep, ok := r.endpoints[pid]
	return ep, ok
}

// CloseAllEndpoints closes and deregisters every endpoint, for use
// during the executor's post-loop graceful shutdown.
func (r *Router) CloseAllEndpoints() {
	for pid, ep := range r.endpoints {
		if r.reactor != nil {
			_ = r.reactor.Deregister(ep.Fd())
		}
		_ = ep.Close()
		delete(r.endpoints, pid)
	}
}

// AddEndpoint registers ep (keyed by its pid) and wires its fd into the
// reactor for read readiness. Per the router invariant, a router never
// holds an endpoint for its own pid.
//
// epoll allows exactly one interest mask per fd, so a single combined
// callback is registered and kept in sync with HasPendingWrites:
// Readable interest is permanent, Writable interest is added only
// while the endpoint has bytes queued and dropped once it drains.
func (r *Router) AddEndpoint(ep *netio.Endpoint) error {
	if ep.Pid == r.ownPid {
		return ErrLoopback
	}
	r.endpoints[ep.Pid] = ep
	if err := r.updateInterest(ep); err != nil {
		return errors.Wrap(err, "router: register endpoint for readiness")
	}
	return nil
}

// RemoveEndpoint deregisters pid's endpoint from both the reactor and
// the router's map. Called after a peer-shutdown has been handled, or
// when the caller explicitly tears down an edge.
func (r *Router) RemoveEndpoint(pid int32) {
	ep, ok := r.endpoints[pid]
	if !ok {
		return
	}
	if r.reactor != nil {
		_ = r.reactor.Deregister(ep.Fd())
	}
	delete(r.endpoints, pid)
}

// updateInterest (re)registers ep's fd with whatever combined mask its
// current state calls for.
func (r *Router) updateInterest(ep *netio.Endpoint) error {
	if r.reactor == nil {
		return nil
	}
	mask := reactor.Readable
	if ep.HasPendingWrites() {
		mask |= reactor.Writable
	}
	return r.reactor.Register(ep.Fd(), mask, func(ev reactor.Events) {
		r.onReady(ep, ev)
	})
}

func (r *Router) onReady(ep *netio.Endpoint, ev reactor.Events) {
	if ev&reactor.Readable != 0 {
		r.onReadable(ep)
		// onReadable may have observed EOF and torn ep down via
		// handlePeerShutdown (RemoveEndpoint + Close); a combined
		// readable+writable event must not then flush onto the
		// now-closed fd.
		if _, stillRegistered := r.endpoints[ep.Pid]; !stillRegistered {
			return
		}
	}
	if ev&reactor.Writable != 0 {
		r.onWritable(ep)
	}
}

// Submit builds a frame for payload per spec §4.4's local-submit
// algorithm and enqueues it on the appropriate endpoint(s): the single
// direct-neighbour endpoint when dst names a known pid, otherwise every
// endpoint (alias resolution and broadcast both flood from the
// originating node).
func (r *Router) Submit(payload []byte, dst Dest, serialize, requestAck, broadcast, urgent bool) (uint32, error) {
	if !broadcast && !dst.isAlias() && dst.Pid == r.ownPid {
		return 0, ErrLoopback
	}

	id := rand.Uint32()
	base := &wire.Frame{
		Src:         r.ownPid,
		LastNodePid: r.ownPid,
		ID:          id,
		Serialize:   serialize,
		RequestAck:  requestAck,
		Urgent:      urgent,
		Broadcast:   broadcast,
		Payload:     payload,
	}

	switch {
	case broadcast:
		base.DstRemote = wire.DstBroadcast
	case dst.isAlias():
		base.DstRemote = wire.DstAlias
		base.Alias = dst.Alias
	default:
		base.DstRemote = dst.Pid
	}

	if target, ok := r.endpoints[dst.Pid]; ok && !broadcast && !dst.isAlias() {
		frame := *base
		frame.Dst = target.Pid
		r.emissions[id] = &emission{remaining: 1}
		r.enqueueOn(target, &frame)
		return id, nil
	}

	if len(r.endpoints) == 0 {
		// Nothing to flush, so nothing will ever complete a write for
		// this id; fire the sent event immediately rather than leaving
		// it permanently pending.
		if r.cfg.mode == ProcessContext {
			ev := dispatch.NewMessageEvent(id, r.ownPid, base.DstRemote, -1, urgent, false, broadcast, payload, r, r.executor)
			r.listeners.DispatchMessageSent(ev)
		}
		return id, nil
	}

	r.emissions[id] = &emission{remaining: len(r.endpoints)}
	for _, ep := range r.endpoints {
		frame := *base
		frame.Dst = ep.Pid
		r.enqueueOn(ep, &frame)
	}
	return id, nil
}

func (r *Router) enqueueOn(ep *netio.Endpoint, frame *wire.Frame) {
	wasIdle := !ep.HasPendingWrites()
	ep.Enqueue(frame)
	if wasIdle {
		_ = r.updateInterest(ep)
	}
}

func (r *Router) onReadable(ep *netio.Endpoint) {
	frames, err := ep.ReadReady()
	for _, f := range frames {
		r.onFrameReceived(ep, f)
	}
	if err == nil || err == netio.ErrWouldBlock {
		return
	}
	if err == io.EOF {
		r.handlePeerShutdown(ep)
		return
	}
	r.listeners.DispatchRouterError(dispatch.OpRecv, err, "endpoint read failed", errors.WithStack(err))
}

func (r *Router) onWritable(ep *netio.Endpoint) {
	flushed, idle, err := ep.FlushWrites(false)
	if flushed != nil {
		if frame, _, ok := wire.TryDecode(flushed); ok {
			r.postFlushAction(ep, frame)
		}
	}
	if err != nil && err != netio.ErrWouldBlock {
		r.listeners.DispatchRouterError(dispatch.OpSend, err, "endpoint write failed", errors.WithStack(err))
		return
	}
	if idle {
		_ = r.updateInterest(ep)
	}
}

// postFlushAction runs the per-frame side effects of a completed
// write: the urgent signal to the next hop, and the onMessageSent
// emission bookkeeping.
func (r *Router) postFlushAction(ep *netio.Endpoint, frame *wire.Frame) {
	if frame.Urgent {
		_ = unix.Kill(int(frame.Dst), r.cfg.urgentSignal)
	}

	if r.cfg.mode == RawContext {
		ev := dispatch.NewMessageEvent(frame.ID, frame.Src, frame.Dst, ep.Fd(), frame.Urgent, frame.IsAck, frame.Broadcast, frame.Payload, r, r.executor)
		r.listeners.DispatchMessageSent(ev)
		return
	}

	if frame.Src != r.ownPid {
		return
	}
	e, ok := r.emissions[frame.ID]
	if !ok {
		return
	}
	e.remaining--
	if e.remaining > 0 {
		return
	}
	delete(r.emissions, frame.ID)
	ev := dispatch.NewMessageEvent(frame.ID, frame.Src, frame.Dst, ep.Fd(), frame.Urgent, frame.IsAck, frame.Broadcast, frame.Payload, r, r.executor)
	r.listeners.DispatchMessageSent(ev)
}

// onFrameReceived implements the frame-received half of the routing
// algorithm: forward to every neighbour but the one it arrived on,
// optionally ack, and deliver to local listeners.
func (r *Router) onFrameReceived(ep *netio.Endpoint, frame *wire.Frame) {
	targeted := frame.DstRemote == r.ownPid || (frame.DstRemote == wire.DstAlias && frame.Alias == r.ownAlias)
	isBroadcast := frame.DstRemote == wire.DstBroadcast

	if !targeted || isBroadcast {
		r.forward(frame)
		if !isBroadcast && !targeted {
			if r.cfg.mode == RawContext {
				r.deliver(ep, frame, isBroadcast)
			}
			return
		}
	}

	if targeted && frame.RequestAck {
		r.sendAck(ep, frame)
	}

	r.deliver(ep, frame, isBroadcast)
}

func (r *Router) forward(frame *wire.Frame) {
	for _, n := range r.endpoints {
		if n.Pid == frame.LastNodePid {
			continue
		}
		fwd := *frame
		fwd.LastNodePid = r.ownPid
		fwd.Dst = n.Pid
		r.enqueueOn(n, &fwd)
	}
}

func (r *Router) sendAck(ep *netio.Endpoint, frame *wire.Frame) {
	ack := &wire.Frame{
		ID:          frame.ID,
		IsAck:       true,
		RequestAck:  false,
		Serialize:   false,
		Payload:     []byte("1"),
		DstRemote:   frame.Src,
		Src:         r.ownPid,
		LastNodePid: r.ownPid,
		Broadcast:   false,
		Dst:         ep.Pid,
	}
	r.enqueueOn(ep, ack)
}

func (r *Router) deliver(ep *netio.Endpoint, frame *wire.Frame, isBroadcast bool) {
	dst := frame.DstRemote
	if isBroadcast {
		dst = wire.DstBroadcast
	} else if frame.DstRemote == wire.DstAlias {
		dst = r.ownPid
	}
	ev := dispatch.NewMessageEvent(frame.ID, frame.Src, dst, ep.Fd(), frame.Urgent, frame.IsAck, isBroadcast, frame.Payload, r, r.executor)
	if r.interrupted {
		r.listeners.DispatchInterruptReceive(ev)
		return
	}
	r.listeners.DispatchMessageReceived(ev)
}

func (r *Router) handlePeerShutdown(ep *netio.Endpoint) {
	raw := ep.PendingFrames()
	unsent := make([]dispatch.UnsentFrame, 0, len(raw))
	for _, b := range raw {
		if f, _, ok := wire.TryDecode(b); ok {
			unsent = append(unsent, dispatch.UnsentFrame{
				Dst: f.Dst, Serialize: f.Serialize, IsAck: f.IsAck,
				Urgent: f.Urgent, Broadcast: f.Broadcast, Alias: f.Alias, Data: f.Payload,
			})
		}
	}
	pid := ep.Pid
	r.RemoveEndpoint(pid)
	_ = ep.Close()
	r.listeners.DispatchPeerShutdown(r.executor, pid, unsent)
}

// DeliverUrgent runs the signal-driven urgent-delivery read pass: set
// interrupted, perform one non-blocking read attempt per endpoint,
// clear interrupted. Re-entry is a hard error, per spec §4.5.
func (r *Router) DeliverUrgent() error {
	if r.interrupted {
		return ErrUrgentReentry
	}
	r.interrupted = true
	defer func() { r.interrupted = false }()

	for _, ep := range r.endpoints {
		frames, err := ep.ReadReady()
		for _, f := range frames {
			r.onFrameReceived(ep, f)
		}
		if err == nil || err == netio.ErrWouldBlock {
			continue
		}
		if err == io.EOF {
			r.handlePeerShutdown(ep)
			continue
		}
		r.listeners.DispatchRouterError(dispatch.OpRecv, err, "urgent read failed", errors.WithStack(err))
	}
	return nil
}
