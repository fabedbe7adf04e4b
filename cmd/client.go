// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2026 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Thermoquad/snappyd/pkg/server"
)

// dialAgent connects to the agent's event channel at the --agent URL.
func dialAgent() (*websocket.Conn, error) {
	u, err := url.Parse(agentURL)
	if err != nil {
		return nil, fmt.Errorf("invalid agent URL: %v", err)
	}

	switch u.Scheme {
	case "ws", "wss":
		// OK
	default:
		return nil, fmt.Errorf("unsupported URL scheme: %s (use ws:// or wss://)", u.Scheme)
	}

	dialer := websocket.Dialer{
		HandshakeTimeout: 10 * time.Second,
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	conn, resp, err := dialer.DialContext(ctx, agentURL, nil)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("agent connection failed (HTTP %d): %v", resp.StatusCode, err)
		}
		return nil, fmt.Errorf("agent connection failed: %v", err)
	}

	return conn, nil
}

// sendAgentCommand writes one command envelope to the agent.
func sendAgentCommand(conn *websocket.Conn, command string) error {
	return conn.WriteJSON(server.Command{Command: command})
}

// agentMessage is one decoded frame off the event channel: either an event
// (Event non-empty) or a command ack.
type agentMessage struct {
	Event  string
	Data   json.RawMessage
	Result server.CommandResult
}

// decodeAgentMessage classifies one raw frame from the agent.
func decodeAgentMessage(data []byte) (agentMessage, error) {
	var env struct {
		Event string          `json:"event"`
		Data  json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(data, &env); err == nil && env.Event != "" {
		return agentMessage{Event: env.Event, Data: env.Data}, nil
	}

	var result server.CommandResult
	if err := json.Unmarshal(data, &result); err != nil {
		return agentMessage{}, fmt.Errorf("unrecognized agent message: %v", err)
	}
	return agentMessage{Result: result}, nil
}

// awaitResult reads frames until an ack for command arrives, skipping
// interleaved events.
func awaitResult(conn *websocket.Conn, command string, timeout time.Duration) (server.CommandResult, error) {
	conn.SetReadDeadline(time.Now().Add(timeout))
	defer conn.SetReadDeadline(time.Time{})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return server.CommandResult{}, err
		}
		msg, err := decodeAgentMessage(data)
		if err != nil || msg.Event != "" {
			continue
		}
		if msg.Result.Command == command {
			return msg.Result, nil
		}
	}
}
