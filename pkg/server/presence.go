// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 Kaz Walker, Thermoquad

package server

import (
	"time"

	"github.com/Thermoquad/snappyd/pkg/log"
)

// presenceLoop polls discovery and broadcasts a device-connected event on
// every presence or product id transition. It runs independently of
// collection so clients see the device before they start it.
func (s *Server) presenceLoop(stopc chan struct{}) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.presenceEvery)
	defer ticker.Stop()

	for {
		select {
		case <-stopc:
			return
		case <-ticker.C:
		}

		id, err := s.finder.Find()
		if err != nil {
			log.Logger.Debug("presence discovery failed", "error", err)
			id = nil
		}
		status := connectionStatus(id)

		s.mu.Lock()
		changed := status != s.lastStatus
		s.lastStatus = status
		s.mu.Unlock()

		if changed {
			log.Logger.Info("device presence changed", "status", status)
			s.broadcast(newConnectionEvent(status))
		}
	}
}
