// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 Kaz Walker, Thermoquad

// Package collector runs the poll/read loop pair that turns device bytes
// into decoded readings.
//
// The poll loop discovers the device every few milliseconds and pushes
// identity changes over a bounded channel. The read loop owns the
// transport session: it opens on demand, reassembles frames, decrypts and
// decodes them, and hands readings to the registered emitter. Both loops
// gate every iteration on a single atomic collecting flag.
package collector

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/Thermoquad/snappyd/pkg/discovery"
	"github.com/Thermoquad/snappyd/pkg/log"
	"github.com/Thermoquad/snappyd/pkg/snappy"
	"github.com/Thermoquad/snappyd/pkg/transport"
)

// Loop timing. Backoffs keep a flapping device from spinning the loops.
const (
	pollInterval = 10 * time.Millisecond
	idleInterval = 10 * time.Millisecond
	openBackoff  = 500 * time.Millisecond
	readBackoff  = 250 * time.Millisecond

	// updateQueueCap bounds the poll-to-read channel. A full queue blocks
	// the poll loop, which is the intended backpressure.
	updateQueueCap = 100
)

// Reading is one decoded measurement bound to its device and emission
// time.
type Reading struct {
	MAC       string
	Value     uint16
	ProductID uint16
	Timestamp time.Time
}

// Emitter receives decoded readings. Emission happens on the read loop,
// so implementations should return promptly.
type Emitter interface {
	EmitReading(r Reading)
}

// Collector owns the collection state machine. Create one with New, then
// drive it with Start and Stop from command handlers.
type Collector struct {
	finder discovery.Finder
	opener transport.Opener
	vector snappy.KeyVector

	poll    time.Duration
	idle    time.Duration
	openoff time.Duration
	readoff time.Duration

	collecting atomic.Bool
	wg         sync.WaitGroup
	stopc      chan struct{}
	updates    chan *discovery.Identity

	mu        sync.Mutex
	emitter   Emitter
	keySerial string
	key       [snappy.KeySize]byte
	haveKey   bool
}

// New wires a collector to its discovery finder and transport opener. The
// key vector is fixed for the collector's lifetime.
func New(finder discovery.Finder, opener transport.Opener, vector snappy.KeyVector) *Collector {
	return &Collector{
		finder:  finder,
		opener:  opener,
		vector:  vector,
		poll:    pollInterval,
		idle:    idleInterval,
		openoff: openBackoff,
		readoff: readBackoff,
	}
}

// SetEmitter registers the emission handle. A nil emitter makes emission a
// no-op; readings are dropped silently.
func (c *Collector) SetEmitter(e Emitter) {
	c.mu.Lock()
	c.emitter = e
	c.mu.Unlock()
}

// Collecting reports whether the loops are running.
func (c *Collector) Collecting() bool {
	return c.collecting.Load()
}

// Start spawns the poll and read loops. It reports false, without side
// effects, when collection is already running.
func (c *Collector) Start() bool {
	if !c.collecting.CompareAndSwap(false, true) {
		return false
	}
	c.stopc = make(chan struct{})
	c.updates = make(chan *discovery.Identity, updateQueueCap)

	c.wg.Add(2)
	go c.pollLoop(c.stopc, c.updates)
	go c.readLoop(c.stopc, c.updates)

	log.Logger.Info("collection started")
	return true
}

// Stop clears the collecting flag and joins both loops. It reports false
// when collection was not running.
func (c *Collector) Stop() bool {
	if !c.collecting.CompareAndSwap(true, false) {
		return false
	}
	close(c.stopc)
	c.wg.Wait()
	log.Logger.Info("collection stopped")
	return true
}

// pollLoop discovers the device every poll interval and pushes identity
// changes, including disappearance, to the read loop. The key cache is
// warmed before a new identity is announced.
func (c *Collector) pollLoop(stopc chan struct{}, updates chan<- *discovery.Identity) {
	defer c.wg.Done()

	var last *discovery.Identity
	for c.collecting.Load() {
		id, err := c.finder.Find()
		if err != nil {
			log.Logger.Debug("discovery failed", "error", err)
			id = nil
		}
		if !id.Equal(last) {
			if id != nil {
				c.keyFor(id)
			}
			select {
			case updates <- id:
				last = id
			case <-stopc:
				return
			}
		}
		select {
		case <-time.After(c.poll):
		case <-stopc:
			return
		}
	}
}

// readLoop owns the transport session and the frame pipeline.
func (c *Collector) readLoop(stopc chan struct{}, updates <-chan *discovery.Identity) {
	defer c.wg.Done()

	stats := snappy.NewStatistics()
	var (
		current *discovery.Identity
		slot    sessionSlot
	)
	defer func() {
		slot.invalidate()
		log.Logger.Debug("read loop finished",
			"bytes", stats.BytesRead,
			"frames", stats.FramesExtracted,
			"decoded", stats.FramesDecoded,
			"prefix_rejects", stats.PrefixRejects,
			"short_frames", stats.ShortFrames,
			"buffer_resets", stats.BufferResets,
			"read_errors", stats.ReadErrors)
	}()

	buf := make([]byte, transport.ReadChunk)
	for c.collecting.Load() {
		select {
		case id := <-updates:
			if id == nil {
				// An absent poll result never tears down an open session;
				// only read errors do.
				log.Logger.Debug("no device present")
				current = nil
			} else {
				if slot.isOpen() && !slot.boundTo(id.ProductID) {
					log.Logger.Info("product id changed, reopening session",
						"old", slot.sess.ProductID(), "new", id.ProductID)
					slot.invalidate()
					slot.release()
				}
				current = id
			}
			continue
		default:
		}

		if !slot.isOpen() {
			if current == nil {
				c.sleep(stopc, c.idle)
				continue
			}
			s, err := c.opener.Open(current)
			if err != nil {
				log.Logger.Warn("session open failed", "error", err)
				c.sleep(stopc, c.openoff)
				continue
			}
			slot.bind(s, c.keyFor(current))
			log.Logger.Info("session opened", "transport", s.Describe())
		}

		n, err := slot.sess.Read(buf)
		if err != nil {
			log.Logger.Warn("read failed, closing session", "error", err)
			stats.ReadErrors++
			slot.invalidate()
			c.sleep(stopc, c.readoff)
			slot.release()
			continue
		}
		if n == 0 {
			c.sleep(stopc, c.idle)
			continue
		}

		stats.CountRead(n)
		if err := slot.acc.Feed(buf[:n]); err != nil {
			stats.BufferResets++
			log.Logger.Warn("frame buffer overflow, discarding backlog")
			continue
		}
		for {
			frame, ok := slot.acc.Next()
			if !ok {
				break
			}
			c.processFrame(frame, slot.key, slot.sess.ProductID(), stats)
		}
	}
}

// processFrame decrypts and decodes one reassembled frame. The whole
// delimited run is ciphertext; the magic prefix only appears after
// decryption.
func (c *Collector) processFrame(frame []byte, key [snappy.KeySize]byte, pid uint16, stats *snappy.Statistics) {
	if err := snappy.Decrypt(key[:], 0, frame); err != nil {
		stats.CountFrame(false)
		log.Logger.Error("frame decrypt failed", "error", err)
		return
	}
	m, ok := snappy.DecodeFrame(frame)
	if !ok {
		stats.CountFrame(false)
		if len(frame) < snappy.MinFrameLen {
			stats.ShortFrames++
			log.Logger.Warn("frame too short to decode", "len", len(frame))
		} else {
			stats.PrefixRejects++
			log.Logger.Warn("discarding frame without magic prefix", "len", len(frame))
		}
		return
	}
	stats.CountFrame(true)
	c.emit(Reading{
		MAC:       m.MAC,
		Value:     m.Value,
		ProductID: pid,
		Timestamp: time.Now(),
	})
}

// keyFor returns the symmetric key for an identity, deriving it only when
// the serial changes.
func (c *Collector) keyFor(id *discovery.Identity) [snappy.KeySize]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.haveKey || c.keySerial != id.Serial {
		c.key = snappy.DeriveKey(c.vector, snappy.NormalizeIdentity(id.Serial))
		c.keySerial = id.Serial
		c.haveKey = true
		log.Logger.Info("derived session key", "serial_len", len(id.Serial))
	}
	return c.key
}

// emit hands a reading to the registered emitter, if any. The handle is
// copied out of the lock so emission never holds it.
func (c *Collector) emit(r Reading) {
	c.mu.Lock()
	e := c.emitter
	c.mu.Unlock()
	if e != nil {
		e.EmitReading(r)
	}
}

// sleep waits for d or until Stop, whichever comes first.
func (c *Collector) sleep(stopc chan struct{}, d time.Duration) {
	select {
	case <-stopc:
	case <-time.After(d):
	}
}
