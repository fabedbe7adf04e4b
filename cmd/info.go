// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2026 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/Thermoquad/snappyd/pkg/server"
)

var infoTimeout int

var infoCmd = &cobra.Command{
	Use:   "info",
	Short: "Show version and device info of a running agent",
	Long: `Query a running agent for its version and device matching rules.

This is useful for verifying:
  - The agent is reachable on the expected port
  - The agent version matches the installed binary
  - Which vendor and product ids the agent watches for

Exit codes:
  0 - Both queries acknowledged
  1 - A query was rejected
  2 - Connection error`,
	RunE: runInfo,
}

func init() {
	rootCmd.AddCommand(infoCmd)
	infoCmd.Flags().IntVar(&infoTimeout, "timeout", 5, "Timeout in seconds per query")
}

func runInfo(cmd *cobra.Command, args []string) error {
	conn, err := dialAgent()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Connection error: %v\n", err)
		os.Exit(2)
	}
	defer conn.Close()

	fmt.Printf("Snappyd - Agent Info\n")
	fmt.Printf("Agent: %s\n\n", agentURL)

	timeout := time.Duration(infoTimeout) * time.Second
	failed := false

	for _, command := range []string{server.CmdVersion, server.CmdDeviceInfo} {
		if err := sendAgentCommand(conn, command); err != nil {
			fmt.Fprintf(os.Stderr, "Send failed: %v\n", err)
			os.Exit(2)
		}
		result, err := awaitResult(conn, command, timeout)
		if err != nil {
			fmt.Fprintf(os.Stderr, "No ack for %s: %v\n", command, err)
			os.Exit(2)
		}
		if !result.Success {
			fmt.Printf("%s: REJECTED (%s)\n", command, result.Error)
			failed = true
			continue
		}
		switch command {
		case server.CmdVersion:
			fmt.Printf("Agent version: %s\n", result.Message)
		case server.CmdDeviceInfo:
			fmt.Printf("Device info:   %s\n", result.Message)
		}
	}

	if failed {
		os.Exit(1)
	}
	return nil
}
