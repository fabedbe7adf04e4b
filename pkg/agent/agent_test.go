// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 Kaz Walker, Thermoquad

package agent

import (
	"context"
	"testing"
	"time"

	"github.com/Thermoquad/snappyd/pkg/configuration"
)

func testConfig() configuration.Config {
	return configuration.Config{
		Host:         "127.0.0.1",
		BasePort:     0,
		PortAttempts: 1,
		Transport:    "serial",
	}
}

func TestStart_ShutdownOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	wg, err := Start(ctx, testConfig())
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	cancel()
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(10 * time.Second):
		t.Fatal("Agent did not shut down after cancel")
	}
}

func TestStart_UnknownTransport(t *testing.T) {
	config := testConfig()
	config.Transport = "carrier-pigeon"

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if _, err := Start(ctx, config); err == nil {
		t.Fatal("Unknown transport should fail Start")
	}
}
