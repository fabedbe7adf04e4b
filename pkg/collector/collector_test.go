// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 Kaz Walker, Thermoquad

package collector

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/Thermoquad/snappyd/pkg/discovery"
	"github.com/Thermoquad/snappyd/pkg/snappy"
	"github.com/Thermoquad/snappyd/pkg/transport"
)

// ============================================================
// Test Fakes
// ============================================================

type fakeFinder struct {
	mu  sync.Mutex
	id  *discovery.Identity
	err error
}

func (f *fakeFinder) set(id *discovery.Identity) {
	f.mu.Lock()
	f.id = id
	f.mu.Unlock()
}

func (f *fakeFinder) Find() (*discovery.Identity, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.id, f.err
}

type fakeSession struct {
	pid uint16

	mu      sync.Mutex
	pending []byte
	readErr error
	closed  bool
}

func (s *fakeSession) push(b []byte) {
	s.mu.Lock()
	s.pending = append(s.pending, b...)
	s.mu.Unlock()
}

func (s *fakeSession) failNextRead(err error) {
	s.mu.Lock()
	s.readErr = err
	s.mu.Unlock()
}

func (s *fakeSession) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *fakeSession) Read(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, transport.ErrSessionClosed
	}
	if s.readErr != nil {
		err := s.readErr
		s.readErr = nil
		return 0, err
	}
	if len(s.pending) == 0 {
		return 0, nil // timeout, no data yet
	}
	n := copy(p, s.pending)
	s.pending = s.pending[n:]
	return n, nil
}

func (s *fakeSession) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}

func (s *fakeSession) ProductID() uint16 { return s.pid }
func (s *fakeSession) Describe() string  { return "fake session" }

type fakeOpener struct {
	mu    sync.Mutex
	queue []*fakeSession
	err   error
	opens int
}

func (o *fakeOpener) failWith(err error) {
	o.mu.Lock()
	o.err = err
	o.mu.Unlock()
}

func (o *fakeOpener) openCount() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.opens
}

func (o *fakeOpener) Open(id *discovery.Identity) (transport.Session, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.opens++
	if o.err != nil {
		return nil, o.err
	}
	if len(o.queue) == 0 {
		return nil, errors.New("no fake session queued")
	}
	s := o.queue[0]
	o.queue = o.queue[1:]
	return s, nil
}

type captureEmitter struct {
	mu       sync.Mutex
	readings []Reading
	ch       chan Reading
}

func newCaptureEmitter() *captureEmitter {
	return &captureEmitter{ch: make(chan Reading, 64)}
}

func (e *captureEmitter) EmitReading(r Reading) {
	e.mu.Lock()
	e.readings = append(e.readings, r)
	e.mu.Unlock()
	select {
	case e.ch <- r:
	default:
	}
}

func (e *captureEmitter) next(t *testing.T, timeout time.Duration) Reading {
	t.Helper()
	select {
	case r := <-e.ch:
		return r
	case <-time.After(timeout):
		t.Fatal("Timed out waiting for a reading")
		return Reading{}
	}
}

// ============================================================
// Test Helpers
// ============================================================

func newTestCollector(f discovery.Finder, o transport.Opener) *Collector {
	c := New(f, o, snappy.DefaultKeyVector)
	c.poll = time.Millisecond
	c.idle = time.Millisecond
	c.openoff = time.Millisecond
	c.readoff = time.Millisecond
	return c
}

func stopWithin(t *testing.T, c *Collector, timeout time.Duration) {
	t.Helper()
	done := make(chan struct{})
	go func() {
		c.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(timeout):
		t.Fatal("Loops did not exit after Stop")
	}
}

func waitFor(t *testing.T, timeout time.Duration, msg string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal(msg)
}

// encryptFrame encrypts plain for key and returns it with the delimiter
// appended, or nil when the ciphertext itself contains the delimiter,
// which the framing cannot escape.
func encryptFrame(t *testing.T, key [snappy.KeySize]byte, plain []byte) []byte {
	t.Helper()
	ct := append([]byte(nil), plain...)
	if err := snappy.Encrypt(key[:], 0, ct); err != nil {
		t.Fatalf("Encrypt error: %v", err)
	}
	if bytes.Contains(ct, snappy.FrameDelimiter) {
		return nil
	}
	return append(ct, snappy.FrameDelimiter...)
}

// buildFrame builds one wire frame for key, returning the frame bytes and
// the MAC string it should decode to. The MAC is varied until the
// ciphertext comes out delimiter-free.
func buildFrame(t *testing.T, key [snappy.KeySize]byte, value uint16, seed byte) ([]byte, string) {
	t.Helper()
	for s := 0; s < 256; s++ {
		plain := make([]byte, snappy.MinFrameLen)
		copy(plain, snappy.FramePrefix)
		copy(plain[7:13], []byte{0x02, seed, byte(s), 0x04, 0x05, 0x06})
		binary.BigEndian.PutUint16(plain[13:15], value)
		if wire := encryptFrame(t, key, plain); wire != nil {
			mac := fmt.Sprintf("%02x:%02x:%02x:%02x:%02x:%02x",
				plain[7], plain[8], plain[9], plain[10], plain[11], plain[12])
			return wire, mac
		}
	}
	t.Fatal("No delimiter-free ciphertext found")
	return nil, ""
}

// buildUnprefixedFrame builds a wire frame whose plaintext lacks the magic
// prefix, so decoding must reject it.
func buildUnprefixedFrame(t *testing.T, key [snappy.KeySize]byte) []byte {
	t.Helper()
	for s := 0; s < 256; s++ {
		if byte(s) == snappy.FramePrefix[0] {
			continue
		}
		plain := bytes.Repeat([]byte{byte(s)}, snappy.MinFrameLen)
		if wire := encryptFrame(t, key, plain); wire != nil {
			return wire
		}
	}
	t.Fatal("No delimiter-free ciphertext found")
	return nil
}

func keyForSerial(serial string) [snappy.KeySize]byte {
	return snappy.DeriveKey(snappy.DefaultKeyVector, snappy.NormalizeIdentity(serial))
}

func testIdentity(pid uint16, path, serial string) *discovery.Identity {
	return &discovery.Identity{VendorID: 0xb1b0, ProductID: pid, Path: path, Serial: serial}
}

// ============================================================
// Session Slot Tests
// ============================================================

func TestSessionSlot_Lifecycle(t *testing.T) {
	var slot sessionSlot
	if slot.isOpen() {
		t.Fatal("Fresh slot should be unbound")
	}

	sess := &fakeSession{pid: snappy.ProductIDLegacy}
	slot.bind(sess, keyForSerial("SNAP-1"))
	if !slot.isOpen() {
		t.Fatal("Slot should be open after bind")
	}
	if !slot.boundTo(snappy.ProductIDLegacy) {
		t.Error("Slot should report its bound product id")
	}
	if slot.boundTo(snappy.ProductIDRevB) {
		t.Error("Slot must not claim a different product id")
	}

	slot.invalidate()
	if slot.isOpen() {
		t.Error("Slot should not be open after invalidate")
	}
	if !sess.isClosed() {
		t.Error("Invalidate must close the session handle")
	}
	if slot.boundTo(snappy.ProductIDLegacy) {
		t.Error("Closed slot is bound to nothing")
	}

	// A closed slot must pass through release before rebinding.
	slot.release()
	sess2 := &fakeSession{pid: snappy.ProductIDRevB}
	slot.bind(sess2, keyForSerial("SNAP-2"))
	if !slot.boundTo(snappy.ProductIDRevB) {
		t.Error("Slot should be rebindable after release")
	}
}

func TestSessionSlot_InvalidateIdempotent(t *testing.T) {
	var slot sessionSlot
	slot.invalidate() // nothing bound, nothing to do

	sess := &fakeSession{pid: snappy.ProductIDLegacy}
	slot.bind(sess, keyForSerial("SNAP-1"))
	slot.invalidate()
	slot.invalidate()
	if !sess.isClosed() {
		t.Error("Handle should be closed")
	}
	if slot.isOpen() {
		t.Error("Slot should stay closed")
	}
}

func TestSessionSlot_BindResetsAccumulator(t *testing.T) {
	var slot sessionSlot
	slot.bind(&fakeSession{pid: snappy.ProductIDLegacy}, keyForSerial("SNAP-1"))
	if err := slot.acc.Feed([]byte("STALE-PARTIAL-FRAME")); err != nil {
		t.Fatalf("Feed error: %v", err)
	}

	slot.invalidate()
	slot.release()
	slot.bind(&fakeSession{pid: snappy.ProductIDLegacy}, keyForSerial("SNAP-1"))
	if slot.acc.Len() != 0 {
		t.Error("Bind must drop bytes accumulated by the previous session")
	}
}

// ============================================================
// Lifecycle Tests
// ============================================================

func TestCollector_StartStop(t *testing.T) {
	c := newTestCollector(&fakeFinder{}, &fakeOpener{})

	if !c.Start() {
		t.Fatal("First Start should succeed")
	}
	if !c.Collecting() {
		t.Error("Collecting should report true after Start")
	}
	if c.Start() {
		t.Error("Second Start should be a no-op")
	}

	stopWithin(t, c, time.Second)
	if c.Collecting() {
		t.Error("Collecting should report false after Stop")
	}
	if c.Stop() {
		t.Error("Second Stop should be a no-op")
	}
}

func TestCollector_Restart(t *testing.T) {
	c := newTestCollector(&fakeFinder{}, &fakeOpener{})
	for i := 0; i < 3; i++ {
		if !c.Start() {
			t.Fatalf("Start %d failed", i)
		}
		stopWithin(t, c, time.Second)
	}
}

// ============================================================
// Pipeline Tests
// ============================================================

func TestCollector_EmitsReadings(t *testing.T) {
	sess := &fakeSession{pid: snappy.ProductIDLegacy}
	finder := &fakeFinder{id: testIdentity(snappy.ProductIDLegacy, "/dev/ttyACM0", "SNAP-0042")}
	opener := &fakeOpener{queue: []*fakeSession{sess}}
	emitter := newCaptureEmitter()

	c := newTestCollector(finder, opener)
	c.SetEmitter(emitter)
	if !c.Start() {
		t.Fatal("Start failed")
	}
	defer stopWithin(t, c, time.Second)

	key := keyForSerial("SNAP-0042")
	frame1, mac1 := buildFrame(t, key, 42, 0x10)
	frame2, mac2 := buildFrame(t, key, 43, 0x20)
	sess.push(frame1)
	sess.push(frame2)

	r1 := emitter.next(t, 2*time.Second)
	if r1.MAC != mac1 || r1.Value != 42 {
		t.Errorf("First reading mismatch: expected %s/42, got %s/%d", mac1, r1.MAC, r1.Value)
	}
	if r1.ProductID != snappy.ProductIDLegacy {
		t.Errorf("ProductID mismatch: 0x%04x", r1.ProductID)
	}
	if r1.Timestamp.IsZero() {
		t.Error("Timestamp should be set at emission")
	}

	r2 := emitter.next(t, 2*time.Second)
	if r2.MAC != mac2 || r2.Value != 43 {
		t.Errorf("Second reading mismatch: expected %s/43, got %s/%d", mac2, r2.MAC, r2.Value)
	}
}

func TestCollector_FrameSplitAcrossReads(t *testing.T) {
	sess := &fakeSession{pid: snappy.ProductIDRevB}
	finder := &fakeFinder{id: testIdentity(snappy.ProductIDRevB, "/dev/ttyACM0", "SNAP-7")}
	opener := &fakeOpener{queue: []*fakeSession{sess}}
	emitter := newCaptureEmitter()

	c := newTestCollector(finder, opener)
	c.SetEmitter(emitter)
	if !c.Start() {
		t.Fatal("Start failed")
	}
	defer stopWithin(t, c, time.Second)

	frame, mac := buildFrame(t, keyForSerial("SNAP-7"), 7, 0x33)
	// Push a split frame; a second push may land in a separate read.
	sess.push(frame[:5])
	time.Sleep(10 * time.Millisecond)
	sess.push(frame[5:])

	r := emitter.next(t, 2*time.Second)
	if r.MAC != mac || r.Value != 7 {
		t.Errorf("Reading mismatch: expected %s/7, got %s/%d", mac, r.MAC, r.Value)
	}
}

func TestCollector_NoEmitterDropsReadings(t *testing.T) {
	sess := &fakeSession{pid: snappy.ProductIDLegacy}
	finder := &fakeFinder{id: testIdentity(snappy.ProductIDLegacy, "/dev/ttyACM0", "SNAP-0042")}
	opener := &fakeOpener{queue: []*fakeSession{sess}}
	emitter := newCaptureEmitter()

	c := newTestCollector(finder, opener)
	if !c.Start() {
		t.Fatal("Start failed")
	}
	defer stopWithin(t, c, time.Second)

	key := keyForSerial("SNAP-0042")
	frame1, _ := buildFrame(t, key, 1, 0x01)
	sess.push(frame1)

	// Unregistered emission is a silent no-op; the loop must keep going.
	time.Sleep(50 * time.Millisecond)

	c.SetEmitter(emitter)
	frame2, mac2 := buildFrame(t, key, 2, 0x02)
	sess.push(frame2)

	r := emitter.next(t, 2*time.Second)
	if r.MAC != mac2 || r.Value != 2 {
		t.Errorf("Reading mismatch: expected %s/2, got %s/%d", mac2, r.MAC, r.Value)
	}
}

func TestCollector_RejectsFrameWithoutPrefix(t *testing.T) {
	sess := &fakeSession{pid: snappy.ProductIDLegacy}
	finder := &fakeFinder{id: testIdentity(snappy.ProductIDLegacy, "/dev/ttyACM0", "SNAP-0042")}
	opener := &fakeOpener{queue: []*fakeSession{sess}}
	emitter := newCaptureEmitter()

	c := newTestCollector(finder, opener)
	c.SetEmitter(emitter)
	if !c.Start() {
		t.Fatal("Start failed")
	}
	defer stopWithin(t, c, time.Second)

	key := keyForSerial("SNAP-0042")
	sess.push(buildUnprefixedFrame(t, key))
	frame, mac := buildFrame(t, key, 9, 0x44)
	sess.push(frame)

	r := emitter.next(t, 2*time.Second)
	if r.MAC != mac || r.Value != 9 {
		t.Errorf("Only the prefixed frame should decode: got %s/%d", r.MAC, r.Value)
	}
}

// ============================================================
// Session Lifecycle Tests
// ============================================================

func TestCollector_ProductChangeReopensSession(t *testing.T) {
	sessA := &fakeSession{pid: snappy.ProductIDLegacy}
	sessB := &fakeSession{pid: snappy.ProductIDRevB}
	finder := &fakeFinder{id: testIdentity(snappy.ProductIDLegacy, "/dev/ttyACM0", "SNAP-A")}
	opener := &fakeOpener{queue: []*fakeSession{sessA, sessB}}
	emitter := newCaptureEmitter()

	c := newTestCollector(finder, opener)
	c.SetEmitter(emitter)
	if !c.Start() {
		t.Fatal("Start failed")
	}
	defer stopWithin(t, c, time.Second)

	waitFor(t, time.Second, "First session never opened", func() bool {
		return opener.openCount() == 1
	})

	finder.set(testIdentity(snappy.ProductIDRevB, "/dev/ttyACM1", "SNAP-B"))

	waitFor(t, time.Second, "Session was not reopened after product change", func() bool {
		return sessA.isClosed() && opener.openCount() == 2
	})

	frame, mac := buildFrame(t, keyForSerial("SNAP-B"), 55, 0x55)
	sessB.push(frame)

	r := emitter.next(t, 2*time.Second)
	if r.ProductID != snappy.ProductIDRevB {
		t.Errorf("Reading should carry the new product id, got 0x%04x", r.ProductID)
	}
	if r.MAC != mac || r.Value != 55 {
		t.Errorf("Reading mismatch: expected %s/55, got %s/%d", mac, r.MAC, r.Value)
	}
}

func TestCollector_AbsenceKeepsSessionOpen(t *testing.T) {
	sess := &fakeSession{pid: snappy.ProductIDLegacy}
	finder := &fakeFinder{id: testIdentity(snappy.ProductIDLegacy, "/dev/ttyACM0", "SNAP-0042")}
	opener := &fakeOpener{queue: []*fakeSession{sess}}
	emitter := newCaptureEmitter()

	c := newTestCollector(finder, opener)
	c.SetEmitter(emitter)
	if !c.Start() {
		t.Fatal("Start failed")
	}
	defer stopWithin(t, c, time.Second)

	waitFor(t, time.Second, "Session never opened", func() bool {
		return opener.openCount() == 1
	})

	// The device vanishing from enumeration must not close the session.
	finder.set(nil)
	time.Sleep(30 * time.Millisecond)
	if sess.isClosed() {
		t.Fatal("Absence alone must not close an open session")
	}

	frame, mac := buildFrame(t, keyForSerial("SNAP-0042"), 11, 0x66)
	sess.push(frame)
	r := emitter.next(t, 2*time.Second)
	if r.MAC != mac || r.Value != 11 {
		t.Errorf("Reading mismatch after absence: got %s/%d", r.MAC, r.Value)
	}
}

func TestCollector_ReadErrorClosesAndReopens(t *testing.T) {
	sessA := &fakeSession{pid: snappy.ProductIDLegacy}
	sessB := &fakeSession{pid: snappy.ProductIDLegacy}
	finder := &fakeFinder{id: testIdentity(snappy.ProductIDLegacy, "/dev/ttyACM0", "SNAP-0042")}
	opener := &fakeOpener{queue: []*fakeSession{sessA, sessB}}
	emitter := newCaptureEmitter()

	c := newTestCollector(finder, opener)
	c.SetEmitter(emitter)
	if !c.Start() {
		t.Fatal("Start failed")
	}
	defer stopWithin(t, c, time.Second)

	waitFor(t, time.Second, "First session never opened", func() bool {
		return opener.openCount() == 1
	})

	sessA.failNextRead(errors.New("device yanked"))

	waitFor(t, time.Second, "Read error should close and reopen the session", func() bool {
		return sessA.isClosed() && opener.openCount() == 2
	})

	frame, mac := buildFrame(t, keyForSerial("SNAP-0042"), 77, 0x77)
	sessB.push(frame)
	r := emitter.next(t, 2*time.Second)
	if r.MAC != mac || r.Value != 77 {
		t.Errorf("Reading mismatch after reopen: got %s/%d", r.MAC, r.Value)
	}
}

func TestCollector_OpenFailureRetries(t *testing.T) {
	sess := &fakeSession{pid: snappy.ProductIDLegacy}
	finder := &fakeFinder{id: testIdentity(snappy.ProductIDLegacy, "/dev/ttyACM0", "SNAP-0042")}
	opener := &fakeOpener{queue: []*fakeSession{sess}}
	opener.failWith(errors.New("port busy"))
	emitter := newCaptureEmitter()

	c := newTestCollector(finder, opener)
	c.SetEmitter(emitter)
	if !c.Start() {
		t.Fatal("Start failed")
	}
	defer stopWithin(t, c, time.Second)

	waitFor(t, time.Second, "Open should be retried after failure", func() bool {
		return opener.openCount() >= 2
	})

	opener.failWith(nil)
	frame, mac := buildFrame(t, keyForSerial("SNAP-0042"), 88, 0x88)
	sess.push(frame)

	r := emitter.next(t, 2*time.Second)
	if r.MAC != mac || r.Value != 88 {
		t.Errorf("Reading mismatch after retry: got %s/%d", r.MAC, r.Value)
	}
}
