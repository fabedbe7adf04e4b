// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 Kaz Walker, Thermoquad

package server

import (
	"fmt"
	"strings"

	"github.com/Thermoquad/snappyd/pkg/log"
	"github.com/Thermoquad/snappyd/pkg/snappy"
)

// handleCommand dispatches one command and builds its ack.
func (s *Server) handleCommand(command string) CommandResult {
	log.Logger.Debug("command received", "command", command)
	switch command {
	case CmdStartSnappy:
		if !s.controller.Start() {
			return okResult(command, "collection already running")
		}
		return okResult(command, fmt.Sprintf("collection started, watching pids %s", productList()))
	case CmdStopSnappy:
		if !s.controller.Stop() {
			return okResult(command, "collection not running")
		}
		return okResult(command, "collection stopped")
	case CmdVersion:
		return okResult(command, s.version)
	case CmdDeviceInfo:
		return okResult(command, deviceInfo())
	default:
		log.Logger.Warn("unknown command", "command", command)
		return errResult(command, "unknown command")
	}
}

func productList() string {
	parts := make([]string, len(snappy.ProductIDs))
	for i, pid := range snappy.ProductIDs {
		parts[i] = fmt.Sprintf("0x%04x", pid)
	}
	return strings.Join(parts, ",")
}

func deviceInfo() string {
	return fmt.Sprintf("vid:0x%04x,pids:%s,device:%s", snappy.VendorID, productList(), snappy.DeviceName)
}
