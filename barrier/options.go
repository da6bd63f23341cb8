// ©Hayabusa Cloud Co., Ltd. 2025. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package barrier

import "time"

type config struct {
	key          int
	pollInterval time.Duration
	perm         uint32
}

func defaultConfig() config {
	return config{
		key:          ipcPrivate,
		pollInterval: 5 * time.Millisecond,
		perm:         0o600,
	}
}

// Option configures a Barrier at construction time.
type Option func(*config)

// WithKey attaches to (or creates) a shared SysV key instead of a
// private segment, letting unrelated processes rendezvous on the same
// barrier by agreeing on the key out of band. The default, IPC_PRIVATE,
// is right for a barrier whose only holder is the creating process
// (e.g. coordinating goroutines, or fanned-out tree nodes that learned
// the key another way than this package provides).
func WithKey(key int) Option {
	return func(c *config) { c.key = key }
}

// WithPollInterval sets how often a timed Await re-checks the gate
// semaphore in non-blocking mode while also watching ctx.Done(). SysV
// semaphores have no native context-aware wait, so Await polls.
func WithPollInterval(d time.Duration) Option {
	return func(c *config) { c.pollInterval = d }
}

// WithPermissions sets the SysV permission bits applied when this
// process creates the segment/semaphore set (ignored when attaching to
// an existing one).
func WithPermissions(mode uint32) Option {
	return func(c *config) { c.perm = mode }
}
