// ©Hayabusa Cloud Co., Ltd. 2025. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package barrier

import "github.com/pkg/errors"

// Await reports a broken barrier, a timeout and a cancellation with
// these three distinct errors, so callers can branch on which happened.
// A failing semaphore syscall is returned as a wrapped error instead.
var (
	// ErrBroken is returned by every waiter once any party has marked
	// the barrier broken, whether that party timed out or had its
	// context cancelled.
	ErrBroken = errors.New("barrier: broken")
	// ErrTimeout is returned to the specific waiter whose context
	// deadline elapsed first.
	ErrTimeout = errors.New("barrier: await timed out")
	// ErrInterrupted is returned to the specific waiter whose context
	// was cancelled (not merely timed out).
	ErrInterrupted = errors.New("barrier: await interrupted")
	// ErrInvalidParties rejects a negative party count at construction.
	ErrInvalidParties = errors.New("barrier: parties must be >= 0")
)
