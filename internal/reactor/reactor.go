// ©Hayabusa Cloud Co., Ltd. 2025. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package reactor implements the single-threaded, epoll-based readiness
// multiplexer that drives one process's event loop: it invokes
// per-endpoint read/write callbacks and schedules signal delivery
// between dispatches.
//
// Only one callback ever runs at a time, and signal-triggered work is
// the only source of preemption (see the urgent-delivery re-entry path
// in package router, which is the one caller allowed to run
// reentrantly). Signals are bridged into the epoll loop through a
// self-pipe rather than executed directly inside a Go signal handler,
// since the Go runtime restricts what is safe to do there; a handler
// fired this way still observes "pending while inside the kernel
// wait, delivered as a callback between dispatches" from the caller's
// perspective.
package reactor

import (
	"errors"
	"os"
	"os/signal"
	"sync"
	"time"

	"golang.org/x/sys/unix"
)

// Events is a bitmask of readiness conditions, matching epoll's.
type Events uint32

const (
	Readable Events = unix.EPOLLIN
	Writable Events = unix.EPOLLOUT
)

// Callback is invoked with the readiness bits that fired for its fd.
type Callback func(ev Events)

// ErrReentry names concurrent registration. Register and Deregister do
// not detect it and never return this error; the reactor is not safe to
// mutate concurrently with LoopOnce.
var ErrReentry = errors.New("reactor: concurrent registration")

type registration struct {
	fd   int
	mask Events
	cb   Callback
}

// Reactor is a single-threaded epoll readiness multiplexer. It must be
// driven from one goroutine; LoopOnce and LoopNonblocking are the only
// blocking points besides the signal self-pipe.
type Reactor struct {
	epfd int

	regs map[int]*registration

	sigR, sigW int // self-pipe: signal goroutines write here, loop reads here
	sigOnce    map[os.Signal]func()
	sigCh      chan os.Signal

	// sigMu guards sigByte/nextSigTag, the only Reactor state touched
	// from both the background pumpSignals goroutine and the single
	// reactor-loop goroutine (via drainSignalPipe). Every other field is
	// only ever touched from the reactor's own goroutine.
	sigMu      sync.Mutex
	sigByte    map[os.Signal]byte
	nextSigTag byte
}

// New constructs an empty Reactor backed by a fresh epoll instance and
// a self-pipe used to bridge OS signal delivery into the loop.
func New() (*Reactor, error) {
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, err
	}
	r, w, err := makePipe()
	if err != nil {
		_ = unix.Close(epfd)
		return nil, err
	}
	if err := unix.SetNonblock(r, true); err != nil {
		_ = unix.Close(epfd)
		_ = unix.Close(r)
		_ = unix.Close(w)
		return nil, err
	}
	re := &Reactor{
		epfd:    epfd,
		regs:    make(map[int]*registration),
		sigR:    r,
		sigW:    w,
		sigOnce: make(map[os.Signal]func()),
		sigCh:   make(chan os.Signal, 16),
		sigByte: make(map[os.Signal]byte),
	}
	if err := re.Register(r, Readable, re.drainSignalPipe); err != nil {
		re.Close()
		return nil, err
	}
	go re.pumpSignals()
	return re, nil
}

func makePipe() (r, w int, err error) {
	var fds [2]int
	if err := unix.Pipe2(fds[:], unix.O_CLOEXEC); err != nil {
		return 0, 0, err
	}
	return fds[0], fds[1], nil
}

// Close tears down the reactor's epoll instance and self-pipe. It does
// not close any registered fd other than its own internal pipe.
func (r *Reactor) Close() error {
	signal.Stop(r.sigCh)
	close(r.sigCh)
	_ = unix.Close(r.sigR)
	_ = unix.Close(r.sigW)
	return unix.Close(r.epfd)
}

// Register adds or replaces a readiness callback for fd.
func (r *Reactor) Register(fd int, mask Events, cb Callback) error {
	ev := &unix.EpollEvent{Events: uint32(mask), Fd: int32(fd)}
	op := unix.EPOLL_CTL_ADD
	if _, exists := r.regs[fd]; exists {
		op = unix.EPOLL_CTL_MOD
	}
	if err := unix.EpollCtl(r.epfd, op, fd, ev); err != nil {
		return err
	}
	r.regs[fd] = &registration{fd: fd, mask: mask, cb: cb}
	return nil
}

// Deregister removes fd from the readiness set. It is a no-op if fd
// was never registered.
func (r *Reactor) Deregister(fd int) error {
	if _, ok := r.regs[fd]; !ok {
		return nil
	}
	delete(r.regs, fd)
	// EPOLL_CTL_DEL historically required a non-nil event pointer on
	// some kernels even though it's otherwise ignored.
	return unix.EpollCtl(r.epfd, unix.EPOLL_CTL_DEL, fd, &unix.EpollEvent{})
}

// NotifySignal arranges for handler to run, synchronously from the
// reactor's own goroutine, the next time sig is delivered and observed
// between dispatches. Only one handler per signal is supported; a
// second call for the same signal replaces the first.
func (r *Reactor) NotifySignal(sig os.Signal, handler func()) {
	if _, already := r.sigOnce[sig]; !already {
		signal.Notify(r.sigCh, sig)
	}
	r.sigOnce[sig] = handler
}

func (r *Reactor) pumpSignals() {
	for sig := range r.sigCh {
		r.sigMu.Lock()
		tag, ok := r.sigByte[sig]
		if !ok {
			tag = r.nextSigTag
			r.sigByte[sig] = tag
			r.nextSigTag++
		}
		r.sigMu.Unlock()
		_, _ = unix.Write(r.sigW, []byte{tag})
	}
}

func (r *Reactor) drainSignalPipe(Events) {
	var buf [64]byte
	for {
		n, err := unix.Read(r.sigR, buf[:])
		if n <= 0 || err != nil {
			return
		}
		for _, tag := range buf[:n] {
			// sigOnce is only ever touched from this, the reactor's own
			// goroutine (NotifySignal writes it, this reads it), so it
			// needs no lock; sigByte is shared with pumpSignals and does.
			r.sigMu.Lock()
			var matched os.Signal
			for sig, t := range r.sigByte {
				if t == tag {
					matched = sig
					break
				}
			}
			r.sigMu.Unlock()
			if matched == nil {
				continue
			}
			if h := r.sigOnce[matched]; h != nil {
				h()
			}
		}
	}
}

// LoopOnce blocks until at least one registered fd becomes ready (or a
// signal arrives), dispatches every fired callback exactly once, and
// returns. A negative timeout blocks indefinitely.
func (r *Reactor) LoopOnce(timeout time.Duration) error {
	return r.wait(msTimeout(timeout))
}

// LoopNonblocking polls for already-ready fds and dispatches them
// without blocking.
func (r *Reactor) LoopNonblocking() error {
	return r.wait(0)
}

func msTimeout(d time.Duration) int {
	if d < 0 {
		return -1
	}
	return int(d.Milliseconds())
}

func (r *Reactor) wait(timeoutMs int) error {
	events := make([]unix.EpollEvent, len(r.regs)+1)
	n, err := unix.EpollWait(r.epfd, events, timeoutMs)
	if err != nil {
		if err == unix.EINTR {
			return nil
		}
		return err
	}
	for i := 0; i < n; i++ {
		reg, ok := r.regs[int(events[i].Fd)]
		if !ok {
			continue
		}
		reg.cb(Events(events[i].Events))
	}
	return nil
}

// NumRegistered reports how many fds currently have a live callback,
// mainly for tests and diagnostics.
func (r *Reactor) NumRegistered() int { return len(r.regs) }
