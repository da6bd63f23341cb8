// ©Hayabusa Cloud Co., Ltd. 2025. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package barrier

// Shared-memory layout: two native-order uint32 counters, guarded
// entirely by the semMutex semaphore. No atomics are used on the words
// themselves — every read and write happens inside a P(semMutex)/
// V(semMutex) critical section, matching the protocol description of
// "await takes the semaphore, mutates the counter, releases it".
const (
	offsetRemaining = 0
	offsetBroken    = 4
	shmSize         = 8
)

// Semaphore set indices. semMutex guards the shared-memory words;
// semGate is the rendezvous signal the last arriving party releases
// once per waiting party (and a broken/timed-out party releases in
// bulk to unstick everyone else).
const (
	semMutex = 0
	semGate  = 1
	numSems  = 2
)

// SysV IPC flag/command numbers. golang.org/x/sys/unix does not export
// a uniform set of these across every generated per-arch file, so they
// are mirrored here from Linux's ipc.h/sem.h rather than referenced as
// unix.IPC_CREAT etc.
const (
	ipcPrivate = 0
	ipcCreat   = 0o1000
	ipcExcl    = 0o2000
	ipcNoWait  = 0o4000
	ipcRmid    = 0

	semSetAll = 17
)
