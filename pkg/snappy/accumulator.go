// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 Kaz Walker, Thermoquad

package snappy

import (
	"bytes"
	"errors"
)

// ErrOverflow reports that the buffer exceeded MaxAccumulate bytes without
// a delimiter ever appearing. The accumulator has already reset itself and
// remains usable.
var ErrOverflow = errors.New("snappy: frame buffer overflow without delimiter")

// Accumulator reassembles CRLF-delimited frames from arbitrarily chunked
// reads. Delimiters may straddle chunk boundaries. Not safe for concurrent
// use; every transport session owns exactly one.
type Accumulator struct {
	buf []byte
}

// Feed appends one read chunk. It returns ErrOverflow when the buffered
// data grows past the ceiling while delimiter-free; the condition is not
// fatal and reading should continue.
func (a *Accumulator) Feed(p []byte) error {
	a.buf = append(a.buf, p...)
	if len(a.buf) > MaxAccumulate && !bytes.Contains(a.buf, FrameDelimiter) {
		a.buf = a.buf[:0]
		return ErrOverflow
	}
	return nil
}

// Next extracts the oldest complete frame, delimiter stripped. ok is false
// when no complete frame is buffered.
func (a *Accumulator) Next() (frame []byte, ok bool) {
	i := bytes.Index(a.buf, FrameDelimiter)
	if i < 0 {
		return nil, false
	}
	frame = make([]byte, i)
	copy(frame, a.buf[:i])
	a.buf = a.buf[:copy(a.buf, a.buf[i+len(FrameDelimiter):])]
	return frame, true
}

// Len reports the number of buffered bytes still awaiting a delimiter.
func (a *Accumulator) Len() int { return len(a.buf) }

// Reset discards all buffered bytes.
func (a *Accumulator) Reset() { a.buf = a.buf[:0] }
