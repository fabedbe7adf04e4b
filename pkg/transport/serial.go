// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 Kaz Walker, Thermoquad

package transport

import (
	"fmt"
	"time"

	"go.bug.st/serial"

	"github.com/Thermoquad/snappyd/pkg/discovery"
)

// Serial link parameters. The device always talks 230400 8N1.
const (
	BaudRate          = 230400
	serialReadTimeout = 2 * time.Second
)

// SerialOpener opens USB serial port sessions.
type SerialOpener struct{}

// Open opens the discovered port. The read timeout makes Read return
// (0, nil) periodically so the caller can re-check its run state.
func (o *SerialOpener) Open(id *discovery.Identity) (Session, error) {
	mode := &serial.Mode{
		BaudRate: BaudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}
	port, err := serial.Open(id.Path, mode)
	if err != nil {
		return nil, fmt.Errorf("open serial port %s: %w", id.Path, err)
	}
	if err := port.SetReadTimeout(serialReadTimeout); err != nil {
		port.Close()
		return nil, fmt.Errorf("set read timeout on %s: %w", id.Path, err)
	}
	return &SerialSession{port: port, productID: id.ProductID, path: id.Path}, nil
}

// SerialSession is a serial port bound to one device.
type SerialSession struct {
	port      serial.Port
	productID uint16
	path      string
}

func (s *SerialSession) Read(p []byte) (int, error) {
	if s.port == nil {
		return 0, ErrSessionClosed
	}
	return s.port.Read(p)
}

func (s *SerialSession) Close() error {
	if s.port == nil {
		return nil
	}
	err := s.port.Close()
	s.port = nil
	return err
}

func (s *SerialSession) ProductID() uint16 { return s.productID }

func (s *SerialSession) Describe() string {
	return fmt.Sprintf("serial %s @ %d baud", s.path, BaudRate)
}
