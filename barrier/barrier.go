// ©Hayabusa Cloud Co., Ltd. 2025. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package barrier implements an N-party rendezvous over a SysV shared
// memory segment guarded by a SysV semaphore set. It is standalone: it
// does not depend on and is not depended on by the router or process
// tree, and is equally usable to synchronize goroutines within one
// process or separate processes that agree on a shared key.
package barrier

import (
	"context"
	"time"
	"unsafe"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"

	"github.com/xilon-jul/lightprocess/internal/bo"
)

// Barrier is an N-party rendezvous point. All parties call Await; the
// Nth arrival releases every waiter and the barrier resets itself for
// the next round. A party whose Await times out or is cancelled marks
// the barrier broken and releases every other current waiter with
// ErrBroken, instead of leaving them stuck forever.
type Barrier struct {
	parties      int
	shmid        int
	semid        int
	addr         uintptr
	mem          []byte
	owns         bool
	pollInterval time.Duration
}

// New creates (or attaches to, via WithKey) the shared memory segment
// and semaphore set backing an N-party barrier. parties == 0 is a
// degenerate, always-satisfied barrier: every Await returns immediately.
func New(parties int, opts ...Option) (*Barrier, error) {
	if parties < 0 {
		return nil, ErrInvalidParties
	}
	cfg := defaultConfig()
	for _, o := range opts {
		o(&cfg)
	}

	shmid, created, err := openShm(cfg.key, cfg.perm)
	if err != nil {
		return nil, errors.Wrap(err, "barrier: open shared memory")
	}
	addr, err := unix.Shmat(shmid, 0, 0)
	if err != nil {
		return nil, errors.Wrap(err, "barrier: shmat")
	}
	mem := unsafe.Slice((*byte)(unsafe.Pointer(addr)), shmSize)

	semid, semCreated, err := openSem(cfg.key, cfg.perm)
	if err != nil {
		_ = unix.Shmdt(addr)
		if created {
			_, _ = unix.Shmctl(shmid, ipcRmid, nil)
		}
		return nil, errors.Wrap(err, "barrier: open semaphore set")
	}

	b := &Barrier{
		parties:      parties,
		shmid:        shmid,
		semid:        semid,
		addr:         addr,
		mem:          mem,
		owns:         created && semCreated,
		pollInterval: cfg.pollInterval,
	}

	if created && semCreated {
		b.writeRemaining(uint32(parties))
		b.writeBroken(false)
		init := [numSems]uint16{1, 0} // mutex starts unlocked, gate starts empty
		if _, err := unix.Semctl(semid, 0, semSetAll, uintptr(unsafe.Pointer(&init[0]))); err != nil {
			_ = b.Close()
			return nil, errors.Wrap(err, "barrier: initialise semaphore values")
		}
	}
	return b, nil
}

func openShm(key int, perm uint32) (id int, created bool, err error) {
	if key == ipcPrivate {
		id, err = unix.Shmget(key, shmSize, ipcCreat|int(perm))
		return id, true, err
	}
	id, err = unix.Shmget(key, shmSize, ipcCreat|ipcExcl|int(perm))
	if err == nil {
		return id, true, nil
	}
	if errors.Is(err, unix.EEXIST) {
		id, err = unix.Shmget(key, shmSize, int(perm))
		return id, false, err
	}
	return 0, false, err
}

func openSem(key int, perm uint32) (id int, created bool, err error) {
	if key == ipcPrivate {
		id, err = unix.Semget(key, numSems, ipcCreat|int(perm))
		return id, true, err
	}
	id, err = unix.Semget(key, numSems, ipcCreat|ipcExcl|int(perm))
	if err == nil {
		return id, true, nil
	}
	if errors.Is(err, unix.EEXIST) {
		id, err = unix.Semget(key, numSems, int(perm))
		return id, false, err
	}
	return 0, false, err
}

func (b *Barrier) readRemaining() uint32 { return bo.Native().Uint32(b.mem[offsetRemaining:]) }
func (b *Barrier) writeRemaining(v uint32) {
	bo.Native().PutUint32(b.mem[offsetRemaining:], v)
}

func (b *Barrier) readBroken() bool {
	return bo.Native().Uint32(b.mem[offsetBroken:]) != 0
}

func (b *Barrier) writeBroken(v bool) {
	var x uint32
	if v {
		x = 1
	}
	bo.Native().PutUint32(b.mem[offsetBroken:], x)
}

func (b *Barrier) v(sem uint16) error {
	return unix.Semop(b.semid, []unix.Sembuf{{SemNum: sem, SemOp: 1, SemFlg: 0}})
}

func (b *Barrier) pBlocking(sem uint16) error {
	return unix.Semop(b.semid, []unix.Sembuf{{SemNum: sem, SemOp: -1, SemFlg: 0}})
}

// pCtx acquires sem, honouring ctx cancellation/deadline. SysV
// semaphores have no native context-aware wait primitive, so this
// polls with IPC_NOWAIT at b.pollInterval, checking ctx.Done() between
// attempts — the same "non-blocking op, then wait for readiness, then
// retry" shape the reactor (internal/reactor) applies to sockets,
// applied here to a semaphore decrement instead of a read/write.
func (b *Barrier) pCtx(ctx context.Context, sem uint16) error {
	ops := []unix.Sembuf{{SemNum: sem, SemOp: -1, SemFlg: int16(ipcNoWait)}}
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		err := unix.Semop(b.semid, ops)
		if err == nil {
			return nil
		}
		if err != unix.EAGAIN {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(b.pollInterval):
		}
	}
}

// Await blocks until every one of this barrier's parties has called
// Await, or ctx is done, or another waiter has already broken the
// barrier. A barrier constructed with parties == 0 returns immediately
// without ever touching the semaphore set, per the "zero remaining
// parties" boundary case.
func (b *Barrier) Await(ctx context.Context) error {
	if b.parties == 0 {
		return nil
	}

	if err := b.pBlocking(semMutex); err != nil {
		return errors.Wrap(err, "barrier: lock")
	}
	if b.readBroken() {
		_ = b.v(semMutex)
		return ErrBroken
	}
	remaining := b.readRemaining() - 1
	b.writeRemaining(remaining)
	if remaining == 0 {
		for i := 0; i < b.parties-1; i++ {
			if err := b.v(semGate); err != nil {
				_ = b.v(semMutex)
				return errors.Wrap(err, "barrier: release waiters")
			}
		}
		b.writeRemaining(uint32(b.parties))
		_ = b.v(semMutex)
		return nil
	}
	_ = b.v(semMutex)

	if err := b.pCtx(ctx, semGate); err != nil {
		b.breakAndRelease()
		return classifyWaitError(err)
	}
	if b.readBroken() {
		return ErrBroken
	}
	return nil
}

// breakAndRelease marks the barrier broken and releases every party
// still blocked in the gate wait, so a single slow or cancelled waiter
// never strands the rest forever. readRemaining() counts parties that
// have not yet arrived, so the number of parties currently stuck at
// the gate — everyone who did arrive, minus this caller itself, which
// never consumed a gate credit since its own wait failed — is
// (parties - remaining - 1).
func (b *Barrier) breakAndRelease() {
	if err := b.pBlocking(semMutex); err != nil {
		return
	}
	if !b.readBroken() {
		b.writeBroken(true)
		arrived := b.parties - int(b.readRemaining())
		stuck := arrived - 1
		for i := 0; i < stuck; i++ {
			_ = b.v(semGate)
		}
		b.writeRemaining(uint32(b.parties))
	}
	_ = b.v(semMutex)
}

// Reset clears a broken barrier back to its initial state: remaining
// set to parties, broken cleared, and any gate credits left over from
// a break drained so a fresh round starts clean.
func (b *Barrier) Reset() error {
	if b.parties == 0 {
		return nil
	}
	if err := b.pBlocking(semMutex); err != nil {
		return errors.Wrap(err, "barrier: lock")
	}
	defer func() { _ = b.v(semMutex) }()

	b.writeRemaining(uint32(b.parties))
	b.writeBroken(false)
	for {
		ops := []unix.Sembuf{{SemNum: semGate, SemOp: -1, SemFlg: int16(ipcNoWait)}}
		if err := unix.Semop(b.semid, ops); err != nil {
			break
		}
	}
	return nil
}

// Close detaches this process's mapping and, for whichever of the
// shared memory segment / semaphore set this process created, removes
// it. Attached (non-owning) handles only detach.
func (b *Barrier) Close() error {
	if b.mem != nil {
		if err := unix.Shmdt(b.addr); err != nil {
			return errors.Wrap(err, "barrier: shmdt")
		}
		b.mem = nil
	}
	if b.owns {
		_, _ = unix.Shmctl(b.shmid, ipcRmid, nil)
		_, _ = unix.Semctl(b.semid, 0, ipcRmid, 0)
	}
	return nil
}

func classifyWaitError(err error) error {
	switch err {
	case context.DeadlineExceeded:
		return ErrTimeout
	case context.Canceled:
		return ErrInterrupted
	default:
		return err
	}
}
