// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 Kaz Walker, Thermoquad

package discovery

import (
	"fmt"

	"github.com/google/gousb"
	"golang.org/x/text/encoding/unicode"
)

// Standard control transfer layout for descriptor reads
const (
	controlTypeIn    = 0x80 // IN | standard | device
	reqGetDescriptor = 0x06
	descTypeDevice   = 0x01
	descTypeString   = 0x03
	langIDEnglishUS  = 0x0409

	deviceDescLen     = 18
	serialIndexOffset = 16 // iSerialNumber within the device descriptor
	maxStringDescLen  = 255
)

// USBFinder locates Snappy devices by raw USB descriptor, for hosts where
// the device does not surface as a serial port.
type USBFinder struct{}

// NewUSBFinder creates a finder backed by libusb enumeration.
func NewUSBFinder() *USBFinder {
	return &USBFinder{}
}

// Find returns the first device with matching vendor and product ids, or
// nil when none is present. The device is opened only long enough to read
// its serial number descriptor.
func (f *USBFinder) Find() (*Identity, error) {
	ctx := gousb.NewContext()
	defer ctx.Close()

	devs, err := ctx.OpenDevices(func(desc *gousb.DeviceDesc) bool {
		return MatchIDs(uint16(desc.Vendor), uint16(desc.Product))
	})
	for i := 1; i < len(devs); i++ {
		devs[i].Close()
	}
	if len(devs) == 0 {
		if err != nil {
			return nil, fmt.Errorf("enumerate usb devices: %w", err)
		}
		return nil, nil
	}
	dev := devs[0]
	defer dev.Close()

	return &Identity{
		VendorID:  uint16(dev.Desc.Vendor),
		ProductID: uint16(dev.Desc.Product),
		Path:      fmt.Sprintf("usb:%03d/%03d", dev.Desc.Bus, dev.Desc.Address),
		Serial:    readSerialDescriptor(dev),
	}, nil
}

// readSerialDescriptor fetches the device serial number the way the
// firmware expects: the device descriptor supplies the string index, then
// the UTF-16LE string descriptor is read for language 0x0409. Any failure
// counts as "no serial".
func readSerialDescriptor(dev *gousb.Device) string {
	ddesc := make([]byte, deviceDescLen)
	n, err := dev.Control(controlTypeIn, reqGetDescriptor, descTypeDevice<<8, 0, ddesc)
	if err != nil || n < deviceDescLen {
		return ""
	}
	idx := ddesc[serialIndexOffset]
	if idx == 0 {
		return ""
	}

	sdesc := make([]byte, maxStringDescLen)
	n, err = dev.Control(controlTypeIn, reqGetDescriptor, descTypeString<<8|uint16(idx), langIDEnglishUS, sdesc)
	if err != nil || n < 2 {
		return ""
	}
	length := int(sdesc[0])
	if length > n {
		length = n
	}
	if length < 2 || sdesc[1] != descTypeString {
		return ""
	}

	decoded, err := unicode.UTF16(unicode.LittleEndian, unicode.IgnoreBOM).NewDecoder().Bytes(sdesc[2:length])
	if err != nil {
		return ""
	}
	return cleanSerial(string(decoded))
}
