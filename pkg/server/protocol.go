// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 Kaz Walker, Thermoquad

// Package server exposes the agent's event channel: a WebSocket endpoint
// on the loopback interface that accepts JSON commands and pushes decoded
// readings and device presence changes to every connected client.
package server

import (
	"fmt"
	"time"

	"github.com/Thermoquad/snappyd/pkg/collector"
	"github.com/Thermoquad/snappyd/pkg/discovery"
	"github.com/Thermoquad/snappyd/pkg/snappy"
)

// Command names accepted over the event channel.
const (
	CmdStartSnappy = "start-snappy"
	CmdStopSnappy  = "stop-snappy"
	CmdVersion     = "version"
	CmdDeviceInfo  = "device-info"
)

// Event names pushed over the event channel.
const (
	EventData            = "snappy-data"
	EventDeviceConnected = "device-connected"
)

// Command is the client to server request envelope.
type Command struct {
	Command string `json:"command"`
}

// CommandResult acknowledges one command.
type CommandResult struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	Command string `json:"command"`
	Error   string `json:"error,omitempty"`
}

// Event is the server to client event envelope.
type Event struct {
	Event string `json:"event"`
	Data  any    `json:"data"`
}

// DataPayload carries one decoded reading.
type DataPayload struct {
	MAC       string `json:"mac"`
	Value     uint16 `json:"value"`
	Timestamp string `json:"timestamp"`
	PID       string `json:"pid"`
}

// ConnectionPayload is the device presence notification. The inner event
// field predates the envelope and is kept for client compatibility.
type ConnectionPayload struct {
	Event  string `json:"event"`
	Status string `json:"status"`
}

func okResult(command, message string) CommandResult {
	return CommandResult{Success: true, Message: message, Command: command}
}

func errResult(command, errMsg string) CommandResult {
	return CommandResult{Success: false, Command: command, Error: errMsg}
}

func newDataEvent(r collector.Reading) Event {
	return Event{
		Event: EventData,
		Data: DataPayload{
			MAC:       r.MAC,
			Value:     r.Value,
			Timestamp: r.Timestamp.Format(time.RFC3339),
			PID:       fmt.Sprintf("0x%04x", r.ProductID),
		},
	}
}

func newConnectionEvent(status string) Event {
	return Event{
		Event: EventDeviceConnected,
		Data:  ConnectionPayload{Event: "device-connection", Status: status},
	}
}

// connectionStatus renders the presence status string clients parse.
func connectionStatus(id *discovery.Identity) string {
	if id == nil {
		return "false"
	}
	return fmt.Sprintf("true,pid:0x%04x,device:%s", id.ProductID, snappy.DeviceName)
}
