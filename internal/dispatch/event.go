// ©Hayabusa Cloud Co., Ltd. 2025. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package dispatch

// MessageEvent is the read-only (except SetPayload) view a listener
// gets of a frame that was sent, received, or interrupt-delivered.
type MessageEvent struct {
	id          uint32
	src         int32
	dst         int32 // semantic destination; 0 for broadcast
	fd          int
	isUrgent    bool
	isAck       bool
	isBroadcast bool
	payload     []byte

	router   RouterHandle
	executor ExecutorHandle
}

// NewMessageEvent constructs a MessageEvent. Called from package router
// when it's about to dispatch a listener callback.
func NewMessageEvent(id uint32, src, dst int32, fd int, urgent, isAck, isBroadcast bool, payload []byte, router RouterHandle, executor ExecutorHandle) *MessageEvent {
	return &MessageEvent{
		id: id, src: src, dst: dst, fd: fd,
		isUrgent: urgent, isAck: isAck, isBroadcast: isBroadcast,
		payload: payload, router: router, executor: executor,
	}
}

func (e *MessageEvent) ID() uint32          { return e.id }
func (e *MessageEvent) Src() int32          { return e.src }
func (e *MessageEvent) Dst() int32          { return e.dst }
func (e *MessageEvent) Fd() int             { return e.fd }
func (e *MessageEvent) IsUrgent() bool      { return e.isUrgent }
func (e *MessageEvent) IsAck() bool         { return e.isAck }
func (e *MessageEvent) IsBroadcast() bool   { return e.isBroadcast }
func (e *MessageEvent) Payload() []byte     { return e.payload }
func (e *MessageEvent) SetPayload(p []byte) { e.payload = p }

func (e *MessageEvent) Router() RouterHandle     { return e.router }
func (e *MessageEvent) Executor() ExecutorHandle { return e.executor }

// UnsentFrame is a plain record describing one frame that was queued
// for a peer when that peer's endpoint observed EOF. It intentionally
// mirrors the wire frame's own field names rather than embedding
// wire.Frame, since the dispatch package must stay independent of the
// wire codec's internal representation.
type UnsentFrame struct {
	Dst       int32
	Serialize bool
	IsAck     bool
	Urgent    bool
	Broadcast bool
	Alias     string
	Data      []byte
}
