// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2026 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/Thermoquad/snappyd/pkg/snappy"
	"github.com/Thermoquad/snappyd/pkg/transport"
)

var (
	discoverTimeout   int
	discoverTransport string
)

var discoverCmd = &cobra.Command{
	Use:   "discover",
	Short: "Discover a connected Snappy device",
	Long: `Scan the local machine for a Snappy device.

Enumerates USB or serial devices and reports the first one matching the
Snappy vendor and product ids, including its serial number when the
platform exposes one. Scanning repeats until a device appears or the
timeout elapses.

Examples:
  # Default transport for this platform
  snappyd discover

  # Force the USB transport
  snappyd discover --transport usb

Exit codes:
  0 - Device found
  1 - No device found before the timeout
  2 - Transport error`,
	RunE: runDiscover,
}

func init() {
	rootCmd.AddCommand(discoverCmd)
	discoverCmd.Flags().IntVar(&discoverTimeout, "timeout", 5, "Timeout in seconds to wait for a device")
	discoverCmd.Flags().StringVar(&discoverTransport, "transport", string(transport.KindAuto), "Transport: auto, serial, usb")
}

func runDiscover(cmd *cobra.Command, args []string) error {
	opener, err := transport.NewOpener(transport.Kind(discoverTransport))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Transport error: %v\n", err)
		os.Exit(2)
	}
	finder := transport.FinderFor(opener)

	fmt.Printf("Snappyd - Device Discovery\n")
	fmt.Printf("Transport: %s\n", discoverTransport)
	fmt.Printf("Matching: vid 0x%04x, pids 0x%04x/0x%04x\n", snappy.VendorID, snappy.ProductIDLegacy, snappy.ProductIDRevB)
	fmt.Printf("Timeout: %d seconds\n\n", discoverTimeout)

	deadline := time.Now().Add(time.Duration(discoverTimeout) * time.Second)
	for {
		id, err := finder.Find()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Discovery error: %v\n", err)
			os.Exit(2)
		}
		if id != nil {
			serial := id.Serial
			if serial == "" {
				serial = "(not exposed)"
			}
			fmt.Printf("Device found:\n")
			fmt.Printf("  Vendor:  0x%04x\n", id.VendorID)
			fmt.Printf("  Product: 0x%04x\n", id.ProductID)
			fmt.Printf("  Path:    %s\n", id.Path)
			fmt.Printf("  Serial:  %s\n", serial)
			return nil
		}
		if !time.Now().Before(deadline) {
			break
		}
		time.Sleep(200 * time.Millisecond)
	}

	fmt.Printf("TIMEOUT: No device found in %ds\n", discoverTimeout)
	fmt.Printf("Check the cable and device power, or try another --transport.\n")
	os.Exit(1)
	return nil
}
