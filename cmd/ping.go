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

var (
	pingTimeout int
	pingCount   int
)

var pingCmd = &cobra.Command{
	Use:   "ping",
	Short: "Measure round-trip time to a running agent",
	Long: `Send version commands to the agent and time the acks.

This command tests bidirectional flow over the event channel. The agent
answers version locally, so the round-trip time measures the channel
itself rather than the device.

Exit codes:
  0 - All pings acknowledged
  1 - One or more pings failed or timed out
  2 - Connection error`,
	RunE: runPing,
}

func init() {
	rootCmd.AddCommand(pingCmd)
	pingCmd.Flags().IntVar(&pingTimeout, "timeout", 5, "Timeout in seconds for each ping")
	pingCmd.Flags().IntVar(&pingCount, "count", 3, "Number of pings to send")
}

func runPing(cmd *cobra.Command, args []string) error {
	conn, err := dialAgent()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Connection error: %v\n", err)
		os.Exit(2)
	}
	defer conn.Close()

	fmt.Printf("Snappyd - Agent Ping\n")
	fmt.Printf("Agent: %s\n", agentURL)
	fmt.Printf("Timeout: %d seconds per ping\n", pingTimeout)
	fmt.Printf("Count: %d pings\n\n", pingCount)

	successCount := 0
	failCount := 0

	for i := 1; i <= pingCount; i++ {
		fmt.Printf("Ping %d/%d: ", i, pingCount)

		startTime := time.Now()
		if err := sendAgentCommand(conn, server.CmdVersion); err != nil {
			fmt.Printf("SEND FAILED: %v\n", err)
			failCount++
			continue
		}

		result, err := awaitResult(conn, server.CmdVersion, time.Duration(pingTimeout)*time.Second)
		if err != nil {
			fmt.Printf("NO ACK: %v\n", err)
			failCount++
			continue
		}

		rtt := time.Since(startTime)
		if !result.Success {
			fmt.Printf("ACK FAILED: %s\n", result.Error)
			failCount++
		} else {
			fmt.Printf("PONG from agent, version=%s, rtt=%v\n", result.Message, rtt.Round(time.Microsecond))
			successCount++
		}

		// Small delay between pings
		if i < pingCount {
			time.Sleep(100 * time.Millisecond)
		}
	}

	// Summary
	fmt.Printf("\n--- Ping statistics ---\n")
	fmt.Printf("%d pings sent, %d acks received, %.0f%% loss\n",
		pingCount, successCount, float64(failCount)/float64(pingCount)*100)

	if failCount > 0 {
		os.Exit(1)
	}
	return nil
}
