// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 Kaz Walker, Thermoquad

package collector

import (
	"github.com/Thermoquad/snappyd/pkg/snappy"
	"github.com/Thermoquad/snappyd/pkg/transport"
)

// Session slot states
const (
	slotUnbound = iota
	slotOpen
	slotClosed
)

// sessionSlot carries the transport session through its lifecycle:
// unbound to open on bind, open to closed on invalidate, closed back to
// unbound on release once the caller's backoff has elapsed. The frame
// accumulator and session key are bound and reset together with the
// handle, so stale bytes never leak into a new session.
type sessionSlot struct {
	state int
	sess  transport.Session
	key   [snappy.KeySize]byte
	acc   snappy.Accumulator
}

func (s *sessionSlot) isOpen() bool { return s.state == slotOpen }

// boundTo reports whether the slot holds an open session for pid.
func (s *sessionSlot) boundTo(pid uint16) bool {
	return s.state == slotOpen && s.sess.ProductID() == pid
}

// bind takes ownership of a freshly opened session and its key.
func (s *sessionSlot) bind(sess transport.Session, key [snappy.KeySize]byte) {
	s.sess = sess
	s.key = key
	s.acc.Reset()
	s.state = slotOpen
}

// invalidate closes and drops the handle. Harmless when nothing is open.
func (s *sessionSlot) invalidate() {
	if s.sess != nil {
		s.sess.Close()
		s.sess = nil
	}
	if s.state == slotOpen {
		s.state = slotClosed
	}
}

// release arms a closed slot for the next open attempt.
func (s *sessionSlot) release() {
	if s.state == slotClosed {
		s.state = slotUnbound
	}
}
