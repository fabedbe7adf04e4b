// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 Kaz Walker, Thermoquad

package discovery

import (
	"fmt"
	"os"
	"path"
	"runtime"
	"strconv"
	"strings"

	"go.bug.st/serial/enumerator"
)

// SerialFinder locates Snappy devices exposed as USB serial ports.
type SerialFinder struct{}

// NewSerialFinder creates a finder backed by the host port enumerator.
func NewSerialFinder() *SerialFinder {
	return &SerialFinder{}
}

// Find returns the first enumerated port with matching vendor and product
// ids, or nil when none is present.
func (f *SerialFinder) Find() (*Identity, error) {
	ports, err := enumerator.GetDetailedPortsList()
	if err != nil {
		return nil, fmt.Errorf("enumerate serial ports: %w", err)
	}
	for _, port := range ports {
		vid, pid, ok := matchPort(port)
		if !ok {
			continue
		}
		serial := cleanSerial(port.SerialNumber)
		if serial == "" {
			serial = sysfsSerial(port.Name)
		}
		return &Identity{
			VendorID:  vid,
			ProductID: pid,
			Path:      port.Name,
			Serial:    serial,
		}, nil
	}
	return nil, nil
}

// parsePortID converts the enumerator's hex-string id ("16D0", "b1b0") to
// a numeric id.
func parsePortID(s string) (uint16, bool) {
	v, err := strconv.ParseUint(strings.TrimSpace(s), 16, 16)
	if err != nil {
		return 0, false
	}
	return uint16(v), true
}

// matchPort reports the vendor and product ids when the port belongs to a
// Snappy device.
func matchPort(p *enumerator.PortDetails) (vid, pid uint16, ok bool) {
	if p == nil || !p.IsUSB {
		return 0, 0, false
	}
	vid, ok = parsePortID(p.VID)
	if !ok {
		return 0, 0, false
	}
	pid, ok = parsePortID(p.PID)
	if !ok {
		return 0, 0, false
	}
	if !MatchIDs(vid, pid) {
		return 0, 0, false
	}
	return vid, pid, true
}

// sysfsSerial reads the USB serial number for a tty device from sysfs.
// Returns "" off Linux or when the attribute is missing. The ".." must be
// resolved through the device symlink by the kernel, so the path is built
// without cleaning.
func sysfsSerial(portName string) string {
	if runtime.GOOS != "linux" {
		return ""
	}
	dev := path.Base(portName)
	b, err := os.ReadFile("/sys/class/tty/" + dev + "/device/../serial")
	if err != nil {
		return ""
	}
	return cleanSerial(string(b))
}
