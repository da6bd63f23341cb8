// ©Hayabusa Cloud Co., Ltd. 2025. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package netio

import (
	"io"
	"testing"
	"time"

	"golang.org/x/sys/unix"

	"github.com/xilon-jul/lightprocess/internal/wire"
)

func newEndpointPair(t *testing.T) (a, b *Endpoint) {
	t.Helper()
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	if err != nil {
		t.Fatalf("socketpair: %v", err)
	}
	a, err = NewEndpoint(200, fds[0])
	if err != nil {
		t.Fatalf("NewEndpoint a: %v", err)
	}
	b, err = NewEndpoint(100, fds[1])
	if err != nil {
		t.Fatalf("NewEndpoint b: %v", err)
	}
	t.Cleanup(func() {
		_ = a.Close()
		_ = b.Close()
	})
	return a, b
}

func drainUntilFrame(t *testing.T, ep *Endpoint, timeout time.Duration) *wire.Frame {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		frames, err := ep.ReadReady()
		if len(frames) > 0 {
			return frames[0]
		}
		if err != nil && err != ErrWouldBlock {
			t.Fatalf("ReadReady: %v", err)
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("timed out waiting for a frame")
	return nil
}

func flushUntilIdle(t *testing.T, ep *Endpoint, timeout time.Duration) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		_, idle, err := ep.FlushWrites(false)
		if err != nil && err != ErrWouldBlock {
			t.Fatalf("FlushWrites: %v", err)
		}
		if idle {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("timed out flushing writes")
}

func TestEndpoint_EnqueueFlushRead_RoundTrips(t *testing.T) {
	a, b := newEndpointPair(t)

	f := &wire.Frame{
		Dst: b.Pid, Src: a.Pid, DstRemote: b.Pid, LastNodePid: a.Pid,
		ID: 5, Payload: []byte("hello"),
	}
	a.Enqueue(f)
	flushUntilIdle(t, a, time.Second)

	got := drainUntilFrame(t, b, time.Second)
	if got.ID != f.ID || string(got.Payload) != "hello" {
		t.Fatalf("got frame %+v, want payload hello id 5", got)
	}
}

func TestEndpoint_FIFOOrderByDefault(t *testing.T) {
	a, b := newEndpointPair(t)

	for i := uint32(1); i <= 3; i++ {
		a.Enqueue(&wire.Frame{Dst: b.Pid, Src: a.Pid, DstRemote: b.Pid, LastNodePid: a.Pid, ID: i})
	}
	flushUntilIdle(t, a, time.Second)

	// One ReadReady may decode all three frames at once, so collect every
	// frame it returns rather than only the first.
	var got []*wire.Frame
	deadline := time.Now().Add(time.Second)
	for len(got) < 3 && time.Now().Before(deadline) {
		frames, err := b.ReadReady()
		got = append(got, frames...)
		if err != nil && err != ErrWouldBlock {
			t.Fatalf("ReadReady: %v", err)
		}
		time.Sleep(time.Millisecond)
	}
	if len(got) != 3 {
		t.Fatalf("received %d frames, want 3", len(got))
	}
	for i, want := 0, uint32(1); want <= 3; i, want = i+1, want+1 {
		if got[i].ID != want {
			t.Fatalf("frame order broken: got id=%d, want id=%d", got[i].ID, want)
		}
	}
}

func TestEndpoint_LastFirstIsAdvisoryOnlyOnExplicitCall(t *testing.T) {
	a, b := newEndpointPair(t)

	for i := uint32(1); i <= 3; i++ {
		a.Enqueue(&wire.Frame{Dst: b.Pid, Src: a.Pid, DstRemote: b.Pid, LastNodePid: a.Pid, ID: i})
	}
	// Flush once with lastFirst=true: only the dequeue decision for
	// that single call is affected, so frame 3 should be sent first.
	var first uint32
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		flushed, _, err := a.FlushWrites(true)
		if err != nil && err != ErrWouldBlock {
			t.Fatalf("FlushWrites: %v", err)
		}
		if flushed != nil {
			frame, _, ok := wire.TryDecode(flushed)
			if !ok {
				t.Fatalf("could not decode flushed frame")
			}
			first = frame.ID
			break
		}
		time.Sleep(time.Millisecond)
	}
	if first != 3 {
		t.Fatalf("lastFirst dequeue sent id=%d first, want 3", first)
	}
	flushUntilIdle(t, a, time.Second)
}

func TestEndpoint_PeerShutdownReportsEOF(t *testing.T) {
	a, b := newEndpointPair(t)
	_ = b.Close()

	deadline := time.Now().Add(time.Second)
	for {
		_, err := a.ReadReady()
		if err == io.EOF {
			return
		}
		if err != nil && err != ErrWouldBlock {
			t.Fatalf("ReadReady: %v", err)
		}
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for EOF after peer close")
		}
		time.Sleep(time.Millisecond)
	}
}

func TestEndpoint_PendingFramesListsQueuedFrames(t *testing.T) {
	a, b := newEndpointPair(t)
	_ = b // unused directly; a's own buffers are under test

	a.Enqueue(&wire.Frame{Dst: b.Pid, Src: a.Pid, DstRemote: b.Pid, LastNodePid: a.Pid, ID: 1})
	a.Enqueue(&wire.Frame{Dst: b.Pid, Src: a.Pid, DstRemote: b.Pid, LastNodePid: a.Pid, ID: 2})

	if got := len(a.PendingFrames()); got != 2 {
		t.Fatalf("PendingFrames len=%d, want 2", got)
	}
}
