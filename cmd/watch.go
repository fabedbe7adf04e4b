// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2026 Kaz Walker, Thermoquad

package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/gorilla/websocket"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/Thermoquad/snappyd/pkg/server"
)

var watchTUI bool

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Live monitor for readings from a running agent",
	Long: `Watch decoded readings from a running agent.

Connects to the agent, starts collection, and renders readings live: one
row per probe with its latest value, plus device presence, throughput,
and an event log. The connection reconnects automatically with backoff
if the agent restarts. Press 'q' to quit.

Collection keeps running on the agent after watch exits; send
stop-snappy (or restart the agent) to stop it.

With --tui=false, or when stdout is not a terminal, events are printed
as plain lines instead.`,
	RunE: runWatch,
}

func init() {
	rootCmd.AddCommand(watchCmd)
	watchCmd.Flags().BoolVar(&watchTUI, "tui", true, "Render the interactive TUI")
}

// agentManager handles the agent connection lifecycle and reconnection
type agentManager struct {
	mu   sync.RWMutex
	conn *websocket.Conn
	p    *tea.Program
	done chan struct{}
}

func (am *agentManager) getConn() *websocket.Conn {
	am.mu.RLock()
	defer am.mu.RUnlock()
	return am.conn
}

func (am *agentManager) setConn(conn *websocket.Conn) {
	am.mu.Lock()
	defer am.mu.Unlock()
	am.conn = conn
}

func runWatch(cmd *cobra.Command, args []string) error {
	if !watchTUI || !term.IsTerminal(int(os.Stdout.Fd())) {
		return runWatchText()
	}

	conn, err := dialAgent()
	if err != nil {
		return err
	}

	am := &agentManager{
		conn: conn,
		done: make(chan struct{}),
	}

	m := initialWatchModel(agentURL)
	p := tea.NewProgram(m, tea.WithAltScreen())
	am.p = p

	go am.readerLoop()

	// Kick off collection; the ack lands in the event log.
	sendAgentCommand(am.getConn(), server.CmdStartSnappy)

	if _, err := p.Run(); err != nil {
		close(am.done)
		am.getConn().Close()
		return fmt.Errorf("TUI error: %v", err)
	}

	close(am.done)
	am.getConn().Close()
	return nil
}

// readerLoop reads from the agent with automatic reconnection
func (am *agentManager) readerLoop() {
	for {
		select {
		case <-am.done:
			return
		default:
		}

		connLost := am.readFromAgent()

		if connLost {
			am.p.Send(agentLostMsg{})
			if !am.reconnect() {
				return
			}
		}
	}
}

// readFromAgent dispatches frames until the connection fails.
// Returns true if the connection was lost, false on shutdown.
func (am *agentManager) readFromAgent() bool {
	conn := am.getConn()
	if conn == nil {
		return true
	}

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			select {
			case <-am.done:
				return false
			default:
				return true
			}
		}

		msg, err := decodeAgentMessage(data)
		if err != nil {
			continue
		}
		am.dispatch(msg)
	}
}

func (am *agentManager) dispatch(msg agentMessage) {
	switch msg.Event {
	case server.EventData:
		var payload server.DataPayload
		if err := json.Unmarshal(msg.Data, &payload); err != nil {
			return
		}
		am.p.Send(agentDataMsg{payload: payload})
	case server.EventDeviceConnected:
		var payload server.ConnectionPayload
		if err := json.Unmarshal(msg.Data, &payload); err != nil {
			return
		}
		am.p.Send(agentPresenceMsg{status: payload.Status})
	case "":
		am.p.Send(agentAckMsg{result: msg.Result})
	}
}

// reconnect attempts to reconnect with exponential backoff
// Returns false if shutdown was requested during reconnection
func (am *agentManager) reconnect() bool {
	if conn := am.getConn(); conn != nil {
		conn.Close()
	}

	backoff := 1 * time.Second
	maxBackoff := 30 * time.Second

	for {
		select {
		case <-am.done:
			return false
		case <-time.After(backoff):
		}

		conn, err := dialAgent()
		if err == nil {
			am.setConn(conn)
			am.p.Send(agentReconnectedMsg{})

			// The agent may have restarted; start collection again.
			sendAgentCommand(conn, server.CmdStartSnappy)
			return true
		}

		backoff *= 2
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
	}
}

// runWatchText prints agent events as plain lines, reconnecting forever.
func runWatchText() error {
	backoff := 1 * time.Second
	maxBackoff := 30 * time.Second

	for {
		conn, err := dialAgent()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Connection failed: %v (retrying in %v)\n", err, backoff)
			time.Sleep(backoff)
			backoff *= 2
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
			continue
		}
		backoff = 1 * time.Second

		fmt.Printf("Connected to %s\n", agentURL)
		sendAgentCommand(conn, server.CmdStartSnappy)

		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				fmt.Fprintf(os.Stderr, "Connection lost: %v\n", err)
				conn.Close()
				break
			}
			msg, err := decodeAgentMessage(data)
			if err != nil {
				continue
			}
			printAgentMessage(msg)
		}
	}
}

func printAgentMessage(msg agentMessage) {
	timestamp := time.Now().Format("15:04:05.000")
	switch msg.Event {
	case server.EventData:
		var p server.DataPayload
		if json.Unmarshal(msg.Data, &p) != nil {
			return
		}
		fmt.Printf("[%s] %s value=%d (0x%04x) pid=%s\n", timestamp, p.MAC, p.Value, p.Value, p.PID)
	case server.EventDeviceConnected:
		var p server.ConnectionPayload
		if json.Unmarshal(msg.Data, &p) != nil {
			return
		}
		fmt.Printf("[%s] device: %s\n", timestamp, p.Status)
	case "":
		r := msg.Result
		if r.Success {
			fmt.Printf("[%s] ack %s: %s\n", timestamp, r.Command, r.Message)
		} else {
			fmt.Printf("[%s] ack %s: FAILED (%s)\n", timestamp, r.Command, r.Error)
		}
	}
}
