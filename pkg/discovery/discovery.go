// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 Kaz Walker, Thermoquad

// Package discovery locates Snappy devices on the host. Finders only
// identify devices; they never open a data path.
package discovery

import (
	"strings"

	"github.com/Thermoquad/snappyd/pkg/snappy"
)

// serialPlaceholder is reported by some USB serial adapters instead of a
// real serial number.
const serialPlaceholder = "6"

// Identity describes one matched device.
type Identity struct {
	VendorID  uint16
	ProductID uint16
	Path      string // serial port name, or bus/address for raw USB
	Serial    string // device serial number, "" when unavailable
}

// Equal reports whether two poll results describe the same device binding.
// Either side may be nil (device absent).
func (id *Identity) Equal(other *Identity) bool {
	if id == nil || other == nil {
		return id == other
	}
	return id.VendorID == other.VendorID &&
		id.ProductID == other.ProductID &&
		id.Path == other.Path &&
		id.Serial == other.Serial
}

// Finder reports the first matching device. A nil identity with a nil
// error means no device is present, which is a normal outcome.
type Finder interface {
	Find() (*Identity, error)
}

// MatchIDs reports whether a vendor/product pair belongs to a Snappy
// device.
func MatchIDs(vendor, product uint16) bool {
	if vendor != snappy.VendorID {
		return false
	}
	for _, pid := range snappy.ProductIDs {
		if product == pid {
			return true
		}
	}
	return false
}

// cleanSerial normalizes an enumerated serial string. Placeholder serials
// count as absent.
func cleanSerial(s string) string {
	s = strings.TrimSpace(strings.Trim(s, "\x00"))
	if s == serialPlaceholder {
		return ""
	}
	return s
}
