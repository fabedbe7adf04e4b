// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 Kaz Walker, Thermoquad

// Package transport opens byte paths to discovered Snappy devices. Two
// implementations exist: a USB serial port and a raw USB bulk endpoint.
// Which one a host uses is decided once at startup.
package transport

import (
	"errors"
	"fmt"
	"io"
	"runtime"

	"github.com/Thermoquad/snappyd/pkg/discovery"
)

// ErrSessionClosed is returned by reads on a closed session.
var ErrSessionClosed = errors.New("transport: session closed")

// Session is an open byte path to a device. Reads block up to the
// implementation's timeout; a timeout returns (0, nil), which callers
// treat as "no data yet" rather than an error.
type Session interface {
	io.Reader
	io.Closer

	// ProductID reports the product id the session is bound to.
	ProductID() uint16
	// Describe returns a short label for logging.
	Describe() string
}

// Kind selects a transport implementation.
type Kind string

const (
	KindAuto   Kind = "auto"
	KindSerial Kind = "serial"
	KindUSB    Kind = "usb"
)

// Opener opens sessions for discovered devices.
type Opener interface {
	Open(id *discovery.Identity) (Session, error)
}

// NewOpener selects the transport for this host. Auto resolves to USB bulk
// on Windows, where the device has no serial driver, and to serial
// everywhere else.
func NewOpener(kind Kind) (Opener, error) {
	switch kind {
	case KindSerial:
		return &SerialOpener{}, nil
	case KindUSB:
		return &USBOpener{}, nil
	case KindAuto, "":
		if runtime.GOOS == "windows" {
			return &USBOpener{}, nil
		}
		return &SerialOpener{}, nil
	}
	return nil, fmt.Errorf("transport: unknown kind %q", kind)
}

// FinderFor returns the discovery finder matching an opener's transport.
func FinderFor(o Opener) discovery.Finder {
	if _, ok := o.(*USBOpener); ok {
		return discovery.NewUSBFinder()
	}
	return discovery.NewSerialFinder()
}
