// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2026 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"
	"os"
	"time"

	envldr "github.com/SENERGY-Platform/go-env-loader"
	"github.com/spf13/cobra"

	"github.com/Thermoquad/snappyd/pkg/configuration"
	"github.com/Thermoquad/snappyd/pkg/snappy"
	"github.com/Thermoquad/snappyd/pkg/transport"
)

var (
	probeTimeout   int
	probeTransport string
)

var probeCmd = &cobra.Command{
	Use:   "probe",
	Short: "Test the device pipeline by waiting for one valid reading",
	Long: `Open the device directly and wait for a valid decoded reading.

This command runs the full pipeline without the agent: discover the
device, open a session, reassemble frames, decrypt them with the key
derived from the device serial, and decode. It ignores invalid frames
and waits for a complete, valid reading.

The key vector is read from SNAPPYD_KEY_VECTOR when set.

Exit codes:
  0 - Reading decoded before timeout
  1 - Timeout reached without a valid reading
  2 - Device or transport error

Useful for checking cabling, the key vector, and device firmware.`,
	RunE: runProbe,
}

func init() {
	rootCmd.AddCommand(probeCmd)
	probeCmd.Flags().IntVar(&probeTimeout, "timeout", 10, "Timeout in seconds to wait for a reading")
	probeCmd.Flags().StringVar(&probeTransport, "transport", string(transport.KindAuto), "Transport: auto, serial, usb")
}

func runProbe(cmd *cobra.Command, args []string) error {
	var config configuration.Config
	if err := envldr.LoadEnvUserParser(&config, nil, configuration.GetTypeParser(), nil); err != nil {
		fmt.Fprintf(os.Stderr, "Configuration error: %v\n", err)
		os.Exit(2)
	}
	vector, err := config.KeyVector.Vector()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: %v\n", err)
	}

	opener, err := transport.NewOpener(transport.Kind(probeTransport))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Transport error: %v\n", err)
		os.Exit(2)
	}
	finder := transport.FinderFor(opener)

	fmt.Printf("Snappyd - Pipeline Probe\n")
	fmt.Printf("Transport: %s\n", probeTransport)
	fmt.Printf("Timeout: %d seconds\n\n", probeTimeout)

	id, err := finder.Find()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Discovery error: %v\n", err)
		os.Exit(2)
	}
	if id == nil {
		fmt.Fprintf(os.Stderr, "No device found\n")
		os.Exit(2)
	}
	fmt.Printf("Device: pid 0x%04x at %s\n", id.ProductID, id.Path)

	sess, err := opener.Open(id)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Open error: %v\n", err)
		os.Exit(2)
	}
	defer sess.Close()
	fmt.Printf("Session: %s\n", sess.Describe())

	key := snappy.DeriveKey(vector, snappy.NormalizeIdentity(id.Serial))
	fmt.Printf("Waiting for a valid reading...\n\n")

	stats := snappy.NewStatistics()
	readingChan := make(chan snappy.Measurement, 1)
	errChan := make(chan error, 1)

	// Reader goroutine
	go func() {
		var acc snappy.Accumulator
		buf := make([]byte, transport.ReadChunk)
		for {
			n, err := sess.Read(buf)
			if err != nil {
				errChan <- err
				return
			}
			if n == 0 {
				continue
			}
			stats.CountRead(n)
			if err := acc.Feed(buf[:n]); err != nil {
				stats.BufferResets++
				continue
			}
			for {
				frame, ok := acc.Next()
				if !ok {
					break
				}
				if err := snappy.Decrypt(key[:], 0, frame); err != nil {
					errChan <- err
					return
				}
				m, ok := snappy.DecodeFrame(frame)
				if !ok {
					stats.CountFrame(false)
					if len(frame) < snappy.MinFrameLen {
						stats.ShortFrames++
					} else {
						stats.PrefixRejects++
					}
					continue
				}
				stats.CountFrame(true)
				readingChan <- m
				return
			}
		}
	}()

	// Wait for a reading or timeout
	select {
	case m := <-readingChan:
		fmt.Printf("SUCCESS: Decoded reading\n")
		fmt.Printf("  Probe: %s\n", m.MAC)
		fmt.Printf("  Value: %d (0x%04x)\n", m.Value, m.Value)
		fmt.Printf("\n%s", stats.String())
		return nil

	case err := <-errChan:
		fmt.Fprintf(os.Stderr, "Read error: %v\n", err)
		os.Exit(2)

	case <-time.After(time.Duration(probeTimeout) * time.Second):
		// Close the session to unblock the reader, then join it so the
		// statistics are settled before printing.
		sess.Close()
		select {
		case <-errChan:
		case <-readingChan:
		case <-time.After(2 * time.Second):
		}
		fmt.Fprintf(os.Stderr, "TIMEOUT: No valid reading within %d seconds\n", probeTimeout)
		fmt.Fprintf(os.Stderr, "\n%s", stats.String())
		os.Exit(1)
	}

	return nil
}
