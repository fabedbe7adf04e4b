// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 Kaz Walker, Thermoquad

// Package agent wires configuration, discovery, transport, collection, and
// the event channel into one runnable unit.
package agent

import (
	"context"
	"sync"
	"time"

	"github.com/Thermoquad/snappyd/pkg/collector"
	"github.com/Thermoquad/snappyd/pkg/configuration"
	"github.com/Thermoquad/snappyd/pkg/log"
	"github.com/Thermoquad/snappyd/pkg/server"
	"github.com/Thermoquad/snappyd/pkg/transport"
)

// Version is reported over the event channel and by the CLI.
const Version = "1.2.0"

const shutdownTimeout = 5 * time.Second

// Start brings up the agent and returns a wait group that drains once the
// context is cancelled and everything has shut down. Collection itself
// stays off until a client sends start-snappy.
func Start(ctx context.Context, config configuration.Config) (wg *sync.WaitGroup, err error) {
	wg = &sync.WaitGroup{}

	vector, err := config.KeyVector.Vector()
	if err != nil {
		log.Logger.Warn("invalid key vector, using built-in default", "error", err)
	}

	opener, err := transport.NewOpener(transport.Kind(config.Transport))
	if err != nil {
		return wg, err
	}
	finder := transport.FinderFor(opener)

	coll := collector.New(finder, opener, vector)
	srv := server.New(coll, finder, Version)
	coll.SetEmitter(srv)

	if err = srv.Start(config.Host, config.BasePort, config.PortAttempts); err != nil {
		return wg, err
	}
	log.Logger.Info("agent ready", "version", Version, "address", srv.Addr())

	wg.Go(func() {
		<-ctx.Done()
		log.Logger.Info("stopping agent")
		ctxWt, cf := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cf()
		if err := srv.Shutdown(ctxWt); err != nil {
			log.Logger.Error("stopping event channel failed", "error", err)
		}
		coll.Stop()
	})

	return wg, nil
}
