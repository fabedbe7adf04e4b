// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 Kaz Walker, Thermoquad
//
// Snappyd - Snappy Device Bridge Agent
//
// A local agent that bridges Snappy measurement devices to clients over a
// WebSocket event channel. It discovers the device over serial or USB,
// decrypts its framed telemetry, and emits decoded readings in real time.

package main

import (
	"os"

	"github.com/Thermoquad/snappyd/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
