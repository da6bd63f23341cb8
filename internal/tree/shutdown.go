// ©Hayabusa Cloud Co., Ltd. 2025. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package tree

import (
	"os"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sys/unix"
)

// gracefulShutdown runs after Run's loop has stopped: close remaining
// sockets, then blockingly reap any still-living children, then (for
// non-root processes always, for the root only if configured) exit the
// process.
func (e *Executor) gracefulShutdown() error {
	e.router.CloseAllEndpoints()

	if err := e.reapLivingChildrenBlocking(); err != nil {
		return err
	}

	if !e.IsRoot() {
		os.Exit(e.exitCode)
	}
	if e.exitAfterShutdown {
		os.Exit(e.exitCode)
	}
	return nil
}

// reapLivingChildrenBlocking waits, one goroutine per still-living
// child, for each to actually terminate, joined by an errgroup so a
// process with many children doesn't reap them strictly serially.
func (e *Executor) reapLivingChildrenBlocking() error {
	var g errgroup.Group
	for pid, info := range e.children {
		if info.State != Living {
			continue
		}
		pid, info := pid, info
		g.Go(func() error {
			var ws unix.WaitStatus
			var ru unix.Rusage
			for {
				got, err := unix.Wait4(int(pid), &ws, 0, &ru)
				if err != nil {
					if err == unix.EINTR {
						continue
					}
					return err
				}
				if got == int(pid) {
					break
				}
			}
			rusage := ru
			info.Rusage = &rusage
			if ws.Exited() {
				info.State = Exited
				info.ExitCode = ws.ExitStatus()
			} else if ws.Signaled() {
				info.State = Signaled
				info.Signal = ws.Signal()
			}
			return nil
		})
	}
	return g.Wait()
}
