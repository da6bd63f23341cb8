// ©Hayabusa Cloud Co., Ltd. 2025. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package tree

import (
	"os"
	"os/exec"
	"strconv"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"

	"github.com/xilon-jul/lightprocess/internal/dispatch"
	"github.com/xilon-jul/lightprocess/internal/netio"
	"github.com/xilon-jul/lightprocess/internal/reactor"
	"github.com/xilon-jul/lightprocess/internal/router"
)

// Environment variable names the re-exec'd child process reads to
// discover its role in the tree. A raw fork() without an immediate
// exec is unsafe inside the Go runtime (every goroutine but the
// calling one simply vanishes in the child), so "fork" here means
// re-executing the binary with an inherited socket and these markers
// instead of the textbook fork()-returns-twice behaviour.
const (
	EnvRole      = "LIGHTPROCESS_ROLE"
	EnvAlias     = "LIGHTPROCESS_ALIAS"
	EnvParentPid = "LIGHTPROCESS_PARENT_PID"
	EnvRootPid   = "LIGHTPROCESS_ROOT_PID"

	RoleChild = "child"

	// childSocketFd is the fd the child observes its inherited
	// endpoint socket on: exec.Cmd.ExtraFiles always starts at 3.
	childSocketFd = 3
)

// ErrForkFailed's message prefixes every error Fork returns. That error
// wraps the underlying failure (errors.Cause returns it), not
// ErrForkFailed itself, so errors.Is(err, ErrForkFailed) reports false.
var ErrForkFailed = errors.New("tree: fork failed")

// ParentCallback runs in the parent immediately after a successful
// fork, before the child has necessarily finished its own setup.
type ParentCallback func(exec *Executor, childPid int32)

// Fork creates a non-blocking socketpair, re-execs the current binary
// with role/alias/parent/root markers and the child-side socket passed
// via ExtraFiles, registers the new child endpoint in the router, and
// invokes onParent. It never returns in a state where the child also
// continues running this function — the child process re-enters at its
// own main() and is expected to call EnterChild.
func (e *Executor) Fork(alias string, onParent ParentCallback) (int32, error) {
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	if err != nil {
		return 0, errors.Wrap(err, ErrForkFailed.Error())
	}
	parentFd, childFd := fds[0], fds[1]

	childFile := os.NewFile(uintptr(childFd), "lightprocess-child-socket")
	defer childFile.Close()

	cmd := exec.Command(os.Args[0], os.Args[1:]...)
	cmd.Stdin = os.Stdin
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	cmd.ExtraFiles = []*os.File{childFile}
	cmd.Env = append(os.Environ(),
		EnvRole+"="+RoleChild,
		EnvAlias+"="+alias,
		EnvParentPid+"="+strconv.Itoa(int(e.ownPid)),
		EnvRootPid+"="+strconv.Itoa(int(e.rootPid)),
	)

	if err := cmd.Start(); err != nil {
		_ = unix.Close(parentFd)
		return 0, errors.Wrap(err, ErrForkFailed.Error())
	}
	// cmd.Start already duplicated childFile into the new process
	// image; the deferred childFile.Close() above releases this
	// process's own copy once Fork returns.

	childPid := int32(cmd.Process.Pid)

	ep, err := netio.NewEndpoint(childPid, parentFd)
	if err != nil {
		return 0, errors.Wrap(err, ErrForkFailed.Error())
	}
	if err := e.router.AddEndpoint(ep); err != nil {
		return 0, errors.Wrap(err, ErrForkFailed.Error())
	}

	e.children[childPid] = &ChildInfo{Pid: childPid, Started: time.Now(), State: Living}

	if onParent != nil {
		onParent(e, childPid)
	}
	return childPid, nil
}

// IsChildRole reports whether the current process was launched as a
// forked child (i.e. the embedding application's main() should build a
// router for ChildAlias/ChildParentPid/ChildRootPid and call
// EnterChild instead of constructing a root Executor).
func IsChildRole() bool {
	return os.Getenv(EnvRole) == RoleChild
}

// ChildAlias returns the alias the parent assigned this child at fork
// time. Valid only when IsChildRole is true.
func ChildAlias() string { return os.Getenv(EnvAlias) }

// ChildParentPid returns the forking parent's pid, read from the
// environment marker Fork set. Valid only when IsChildRole is true.
func ChildParentPid() int32 {
	n, _ := strconv.Atoi(os.Getenv(EnvParentPid))
	return int32(n)
}

// ChildRootPid returns the tree root's pid, propagated down from the
// original Fork call. Valid only when IsChildRole is true.
func ChildRootPid() int32 {
	n, _ := strconv.Atoi(os.Getenv(EnvRootPid))
	return int32(n)
}

// ChildCallback runs once in the child, after its router and executor
// are constructed and the parent endpoint is registered, but before
// entering the run loop.
type ChildCallback func(exec *Executor)

// EnterChild is the Go analog of "child never returns from fork; it
// re-initialises the reactor and enters loop()". The caller has
// already built a fresh router/reactor/listener registry (the
// inherited ones from before exec are gone; a clean process image has
// no inherited callbacks to duplicate) and passes them in along with
// the one fd this process actually inherited: the parent-side socket
// at childSocketFd.
func EnterChild(r *router.Router, re *reactor.Reactor, listeners *dispatch.Registry, onChild ChildCallback, opts ...Option) (*Executor, error) {
	parentPid := ChildParentPid()
	rootPid := ChildRootPid()
	ownPid := int32(os.Getpid())

	ep, err := netio.NewEndpoint(parentPid, childSocketFd)
	if err != nil {
		return nil, errors.Wrap(err, "tree: wrap inherited parent socket")
	}
	if err := r.AddEndpoint(ep); err != nil {
		return nil, errors.Wrap(err, "tree: register parent endpoint")
	}

	e := New(rootPid, ownPid, parentPid, r, re, listeners, opts...)
	if onChild != nil {
		onChild(e)
	}
	return e, nil
}
