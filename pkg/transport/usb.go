// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 Kaz Walker, Thermoquad

package transport

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/gousb"

	"github.com/Thermoquad/snappyd/pkg/discovery"
)

// USB link parameters
const (
	preferredConfig    = 1
	preferredInterface = 1
	fallbackInterface  = 0
	fallbackEndpoint   = 1 // bulk-IN address 0x81
	usbReadTimeout     = time.Second

	// ReadChunk is the transfer size the device expects; larger reads stall
	// some firmware revisions.
	ReadChunk = 64
)

// USBOpener opens raw bulk endpoint sessions.
type USBOpener struct{}

// Open re-opens the discovered device by its ids and claims its bulk-IN
// endpoint: configuration 1, interface 1 with a fallback to 0, endpoint by
// descriptor inspection with a fallback to 0x81.
func (o *USBOpener) Open(id *discovery.Identity) (Session, error) {
	ctx := gousb.NewContext()

	devs, err := ctx.OpenDevices(func(desc *gousb.DeviceDesc) bool {
		return uint16(desc.Vendor) == id.VendorID && uint16(desc.Product) == id.ProductID
	})
	for i := 1; i < len(devs); i++ {
		devs[i].Close()
	}
	if len(devs) == 0 {
		ctx.Close()
		if err != nil {
			return nil, fmt.Errorf("open usb device: %w", err)
		}
		return nil, fmt.Errorf("usb device 0x%04x:0x%04x no longer present", id.VendorID, id.ProductID)
	}
	dev := devs[0]

	cfg, err := dev.Config(preferredConfig)
	if err != nil {
		dev.Close()
		ctx.Close()
		return nil, fmt.Errorf("claim usb config %d: %w", preferredConfig, err)
	}

	intf, err := cfg.Interface(preferredInterface, 0)
	if err != nil {
		intf, err = cfg.Interface(fallbackInterface, 0)
	}
	if err != nil {
		cfg.Close()
		dev.Close()
		ctx.Close()
		return nil, fmt.Errorf("claim usb interface: %w", err)
	}

	ep, err := intf.InEndpoint(bulkInNumber(intf.Setting))
	if err != nil {
		intf.Close()
		cfg.Close()
		dev.Close()
		ctx.Close()
		return nil, fmt.Errorf("open bulk-in endpoint: %w", err)
	}

	return &USBSession{
		ctx:       ctx,
		dev:       dev,
		cfg:       cfg,
		intf:      intf,
		ep:        ep,
		productID: id.ProductID,
		path:      id.Path,
	}, nil
}

// bulkInNumber picks the bulk-IN endpoint from an interface descriptor,
// preferring the lowest endpoint number. Falls back to 0x81 when the
// descriptor lists none.
func bulkInNumber(setting gousb.InterfaceSetting) int {
	best := 0
	for _, ep := range setting.Endpoints {
		if ep.Direction != gousb.EndpointDirectionIn || ep.TransferType != gousb.TransferTypeBulk {
			continue
		}
		if best == 0 || ep.Number < best {
			best = ep.Number
		}
	}
	if best == 0 {
		return fallbackEndpoint
	}
	return best
}

// USBSession is a claimed bulk-IN endpoint bound to one device.
type USBSession struct {
	ctx       *gousb.Context
	dev       *gousb.Device
	cfg       *gousb.Config
	intf      *gousb.Interface
	ep        *gousb.InEndpoint
	productID uint16
	path      string
}

func (s *USBSession) Read(p []byte) (int, error) {
	if s.ep == nil {
		return 0, ErrSessionClosed
	}
	rctx, cancel := context.WithTimeout(context.Background(), usbReadTimeout)
	defer cancel()

	n, err := s.ep.ReadContext(rctx, p)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, gousb.ErrorTimeout) {
			return 0, nil
		}
		return n, fmt.Errorf("bulk read: %w", err)
	}
	return n, nil
}

// Close releases the endpoint claim and the device. Resources unwind in
// the reverse of the claim order.
func (s *USBSession) Close() error {
	if s.ep == nil {
		return nil
	}
	s.ep = nil
	s.intf.Close()
	err := s.cfg.Close()
	if derr := s.dev.Close(); err == nil {
		err = derr
	}
	if cerr := s.ctx.Close(); err == nil {
		err = cerr
	}
	return err
}

func (s *USBSession) ProductID() uint16 { return s.productID }

func (s *USBSession) Describe() string {
	return fmt.Sprintf("usb bulk %s", s.path)
}
