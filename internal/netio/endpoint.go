// ©Hayabusa Cloud Co., Ltd. 2025. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package netio implements the per-neighbour I/O endpoint: a
// non-blocking, byte-oriented socket with a read accumulator and a
// two-tier write path (an in-flight cursor over a FIFO send queue).
//
// Non-blocking semantics follow the teacher library's convention:
// iox.ErrWouldBlock means "no further progress without waiting", and a
// returned byte count still represents real, usable progress.
package netio

import (
	"io"
	"syscall"

	"code.hybscloud.com/iox"
	"golang.org/x/sys/unix"

	"github.com/xilon-jul/lightprocess/internal/wire"
)

// ErrWouldBlock is re-exported so callers outside this package don't
// need to import iox directly, mirroring how the teacher re-exports it
// as framer.ErrWouldBlock.
var ErrWouldBlock = iox.ErrWouldBlock

// RcvBufSize bounds a single read(2) call per readiness event.
const RcvBufSize = 64 * 1024

// Endpoint is the per-neighbour I/O object: socket + buffers + queue.
// Its lifetime runs from construction until the peer closes (EOF on
// read) or the owner explicitly closes it; it is never shared across
// two routers and a router never holds an endpoint for its own pid.
type Endpoint struct {
	Pid int32
	fd  int

	accum wire.Accumulator

	writeCursor []byte // remaining bytes of a partially-sent frame
	sendQueue   [][]byte

	writerRegistered bool
	closed           bool
}

// NewEndpoint wraps fd (already connected, full-duplex, SOCK_STREAM) as
// a non-blocking per-neighbour endpoint for pid.
func NewEndpoint(pid int32, fd int) (*Endpoint, error) {
	if err := unix.SetNonblock(fd, true); err != nil {
		return nil, err
	}
	return &Endpoint{Pid: pid, fd: fd}, nil
}

// Fd returns the underlying file descriptor, for reactor registration.
func (e *Endpoint) Fd() int { return e.fd }

// Close releases the underlying socket. Safe to call more than once.
func (e *Endpoint) Close() error {
	if e.closed {
		return nil
	}
	e.closed = true
	return unix.Close(e.fd)
}

// HasPendingWrites reports whether the cursor or the send queue still
// holds bytes to write, i.e. whether writer interest must stay
// registered.
func (e *Endpoint) HasPendingWrites() bool {
	return len(e.writeCursor) > 0 || len(e.sendQueue) > 0
}

// Enqueue appends frame's wire encoding to the back of the send queue.
// Per spec's invariant, callers must have already set
// frame.LastNodePid to the local pid before enqueuing.
func (e *Endpoint) Enqueue(frame *wire.Frame) {
	e.sendQueue = append(e.sendQueue, wire.Encode(frame))
}

// PendingFrames returns the queued-but-not-yet-flushed raw frame bytes,
// cursor first, in send order. Used to build the onPeerShutdown
// "unsent" record list; the caller owns decoding them back into
// structured records if needed.
func (e *Endpoint) PendingFrames() [][]byte {
	out := make([][]byte, 0, len(e.sendQueue)+1)
	if len(e.writeCursor) > 0 {
		out = append(out, e.writeCursor)
	}
	out = append(out, e.sendQueue...)
	return out
}

// ReadReady is called when the reactor reports the endpoint's fd is
// readable. It reads up to RcvBufSize bytes, feeds them to the frame
// accumulator, and returns every fully-buffered frame decoded as a
// result. io.EOF indicates the peer has shut the connection down
// cleanly; the caller must then remove the endpoint. ErrWouldBlock
// indicates no more bytes are currently available; it is not an error
// condition and the caller should simply wait for the next readiness
// event.
func (e *Endpoint) ReadReady() (frames []*wire.Frame, err error) {
	buf := make([]byte, RcvBufSize)
	n, rerr := unix.Read(e.fd, buf)
	if n > 0 {
		e.accum.Append(buf[:n])
	}
	for {
		f, ok := e.accum.Next()
		if !ok {
			break
		}
		frames = append(frames, f)
	}
	if rerr != nil {
		if rerr == unix.EAGAIN || rerr == unix.EINTR {
			// EINTR (an unrelated signal interrupted the syscall) is
			// transient exactly like EAGAIN: no bytes were lost, the
			// caller just retries on the next readiness event. Matches
			// how FlushWrites treats an interrupted write.
			return frames, ErrWouldBlock
		}
		return frames, rerr
	}
	if n == 0 {
		// read(2) returning 0 with no error is the POSIX EOF signal on
		// a stream socket: the peer has shut its write side down.
		return frames, io.EOF
	}
	return frames, nil
}

// FlushWrites makes one write(2) of the cursor, first moving a whole
// frame from the send queue into an empty cursor; callers call it again
// on the next writability event to continue. lastFirst, when true, dequeues the most
// recently enqueued whole frame first instead of the oldest; per
// spec's design notes this knob is honored only on this explicit call,
// not as a persistent queue mode. It returns the frame that was fully
// flushed in this call (nil if none completed) and whether the writer
// is now idle (cursor and queue both empty, so writer interest can be
// deregistered).
func (e *Endpoint) FlushWrites(lastFirst bool) (flushed []byte, idle bool, err error) {
	if len(e.writeCursor) == 0 {
		if len(e.sendQueue) == 0 {
			return nil, true, nil
		}
		if lastFirst {
			last := len(e.sendQueue) - 1
			e.writeCursor = e.sendQueue[last]
			e.sendQueue = e.sendQueue[:last]
		} else {
			e.writeCursor = e.sendQueue[0]
			e.sendQueue = e.sendQueue[1:]
		}
	}

	original := e.writeCursor
	n, werr := unix.Write(e.fd, e.writeCursor)
	if n > 0 {
		e.writeCursor = e.writeCursor[n:]
	}
	if werr != nil {
		if werr == unix.EAGAIN {
			return nil, false, ErrWouldBlock
		}
		if werr == syscall.EINTR {
			return nil, false, ErrWouldBlock
		}
		return nil, false, werr
	}
	if len(e.writeCursor) > 0 {
		// Short write on a non-blocking fd; wait for the next
		// writability event to continue draining the same cursor.
		return nil, false, nil
	}

	e.writeCursor = nil
	return original, !e.HasPendingWrites(), nil
}
