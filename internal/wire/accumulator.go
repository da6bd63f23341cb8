// ©Hayabusa Cloud Co., Ltd. 2025. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package wire

// Accumulator buffers bytes arriving from a single neighbour and peels
// off complete frames as they become available. It has no I/O of its
// own: callers append newly read bytes with Append and then drain
// whatever full frames are ready with Next.
type Accumulator struct {
	buf []byte
}

// Append appends newly read bytes to the accumulator.
func (a *Accumulator) Append(p []byte) {
	a.buf = append(a.buf, p...)
}

// Next returns the next fully-buffered frame, if any, and advances past
// it. ok is false when the accumulator doesn't yet hold a complete
// frame; callers should stop draining and wait for more bytes.
func (a *Accumulator) Next() (frame *Frame, ok bool) {
	f, n, decoded := TryDecode(a.buf)
	if !decoded {
		return nil, false
	}
	// Slide the remainder to the front. Reslicing instead of
	// reallocating keeps this allocation-free once the backing array is
	// warm, at the cost of an occasional compaction copy.
	remaining := len(a.buf) - n
	copy(a.buf, a.buf[n:])
	a.buf = a.buf[:remaining]
	return f, true
}

// Len reports the number of unconsumed bytes currently buffered.
func (a *Accumulator) Len() int { return len(a.buf) }

// Reset discards any buffered bytes.
func (a *Accumulator) Reset() { a.buf = a.buf[:0] }
