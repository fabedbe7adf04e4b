// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2026 Kaz Walker, Thermoquad

package cmd

import (
	"github.com/spf13/cobra"

	"github.com/Thermoquad/snappyd/pkg/agent"
)

var (
	// Agent endpoint for client subcommands
	agentURL string

	// Logging flags (environment variables override these)
	logLevel   string
	logHandler string
)

var rootCmd = &cobra.Command{
	Use:   "snappyd",
	Short: "Snappy Device Bridge Agent",
	Long: `Snappyd - A local agent bridging Snappy measurement devices to clients.

The agent discovers a Snappy probe hub over USB or serial, decrypts its
measurement stream, and republishes decoded readings on a local WebSocket
event channel. Clients start and stop collection with JSON commands and
receive readings and device presence changes as events.

Run modes:
  Agent:   snappyd serve
  Clients: snappyd watch | ping | info   [--agent ws://127.0.0.1:8436]
  Local:   snappyd discover | probe      (direct device access, no agent)

Configuration is read from SNAPPYD_* environment variables; run
'snappyd serve --help' for the list.`,
	Version: agent.Version,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&agentURL, "agent", "a", "ws://127.0.0.1:8436", "Agent WebSocket URL (client subcommands)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logHandler, "log-handler", "text", "Log handler (text, json)")
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}
