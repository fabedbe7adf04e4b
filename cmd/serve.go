// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2026 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	envldr "github.com/SENERGY-Platform/go-env-loader"
	"github.com/spf13/cobra"

	"github.com/Thermoquad/snappyd/pkg/agent"
	"github.com/Thermoquad/snappyd/pkg/configuration"
	"github.com/Thermoquad/snappyd/pkg/log"
	"github.com/Thermoquad/snappyd/pkg/server"
	"github.com/Thermoquad/snappyd/pkg/transport"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the agent",
	Long: `Run the Snappy bridge agent.

The agent binds a WebSocket event channel on the loopback interface
(first free port from 8436, ten attempts) and waits for clients. It
monitors device presence continuously; collection starts when a client
sends start-snappy and stops on stop-snappy.

Environment variables:
  SNAPPYD_HOST           Bind host (default 127.0.0.1)
  SNAPPYD_BASE_PORT      First port to try (default 8436)
  SNAPPYD_PORT_ATTEMPTS  Ports to try (default 10)
  SNAPPYD_TRANSPORT      Transport: auto, serial, usb (default auto)
  SNAPPYD_KEY_VECTOR     Key vector: 8 comma-separated hex words
  SNAPPYD_LOG_LEVEL      Log level (default from --log-level)
  SNAPPYD_LOG_HANDLER    Log handler (default from --log-handler)

The agent runs until SIGINT or SIGTERM.`,
	RunE:         runServe,
	SilenceUsage: true,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	// default config
	config := configuration.Config{
		Host:         server.DefaultHost,
		BasePort:     server.DefaultBasePort,
		PortAttempts: server.DefaultPortAttempts,
		Transport:    string(transport.KindAuto),
		LogLevel:     logLevel,
		LogHandler:   logHandler,
	}

	// load config from environment
	if err := envldr.LoadEnvUserParser(&config, nil, configuration.GetTypeParser(), nil); err != nil {
		return fmt.Errorf("loading configuration failed: %w", err)
	}

	log.Init(config)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	wg, err := agent.Start(ctx, config)
	if err != nil {
		log.Logger.Error("agent start failed", "error", err)
		return err
	}

	go func() {
		shutdown := make(chan os.Signal, 1)
		signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)
		sig := <-shutdown
		log.Logger.Info("received shutdown signal", "signal", sig.String())
		cancel()
	}()

	wg.Wait()
	return nil
}
