// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 Kaz Walker, Thermoquad

package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Thermoquad/snappyd/pkg/collector"
	"github.com/Thermoquad/snappyd/pkg/discovery"
	"github.com/Thermoquad/snappyd/pkg/log"
)

// Defaults for the event channel endpoint.
const (
	DefaultHost         = "127.0.0.1"
	DefaultBasePort     = 8436
	DefaultPortAttempts = 10

	presenceInterval = 200 * time.Millisecond
)

// Controller is the collection surface the server drives on behalf of
// clients.
type Controller interface {
	Start() bool
	Stop() bool
	Collecting() bool
}

// Server is the event channel endpoint. It implements collector.Emitter so
// readings broadcast to every connected client, and http.Handler for the
// WebSocket upgrade. Create one with New, bind with Start, tear down with
// Shutdown.
type Server struct {
	controller Controller
	finder     discovery.Finder
	version    string

	presenceEvery time.Duration

	listener net.Listener
	httpsrv  *http.Server
	upgrader websocket.Upgrader

	mu         sync.Mutex
	clients    map[*client]struct{}
	lastStatus string

	stopc chan struct{}
	wg    sync.WaitGroup
}

// client is one connected WebSocket peer. Writes are serialized by the
// mutex; gorilla permits one concurrent writer per connection.
type client struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (c *client) writeJSON(v any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.WriteJSON(v)
}

// New builds an event channel server around a collection controller and a
// discovery finder for the presence monitor.
func New(controller Controller, finder discovery.Finder, version string) *Server {
	return &Server{
		controller:    controller,
		finder:        finder,
		version:       version,
		presenceEvery: presenceInterval,
		upgrader: websocket.Upgrader{
			// The agent binds loopback only; clients connect from app and
			// browser origins that never match the Host header.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		clients: make(map[*client]struct{}),
	}
}

// Start binds the first free port in the scan range and spawns the serve
// and presence loops. It returns once the listener is bound.
func (s *Server) Start(host string, basePort, attempts uint) error {
	ln, err := scanListen(host, basePort, attempts)
	if err != nil {
		return err
	}
	s.listener = ln
	s.httpsrv = &http.Server{Handler: s}
	s.stopc = make(chan struct{})

	s.wg.Add(2)
	go s.serveLoop()
	go s.presenceLoop(s.stopc)

	log.Logger.Info("event channel listening", "address", ln.Addr().String())
	return nil
}

// Addr returns the bound address. Valid after Start.
func (s *Server) Addr() string {
	return s.listener.Addr().String()
}

// Port returns the bound TCP port. Valid after Start.
func (s *Server) Port() int {
	return s.listener.Addr().(*net.TCPAddr).Port
}

// Shutdown closes every client connection, stops the listener and the
// presence loop, and waits for both to finish.
func (s *Server) Shutdown(ctx context.Context) error {
	close(s.stopc)

	s.mu.Lock()
	for c := range s.clients {
		c.conn.Close()
	}
	s.mu.Unlock()

	// Client connections are hijacked, so Shutdown only has the listener
	// left to close.
	err := s.httpsrv.Shutdown(ctx)
	s.wg.Wait()
	log.Logger.Info("event channel stopped")
	return err
}

// scanListen tries ports basePort..basePort+attempts-1 and returns the
// first that binds.
func scanListen(host string, basePort, attempts uint) (net.Listener, error) {
	for i := uint(0); i < attempts; i++ {
		addr := fmt.Sprintf("%s:%d", host, basePort+i)
		ln, err := net.Listen("tcp", addr)
		if err == nil {
			return ln, nil
		}
		log.Logger.Debug("port unavailable", "address", addr, "error", err)
	}
	return nil, fmt.Errorf("no free port on %s in %d..%d", host, basePort, basePort+attempts-1)
}

func (s *Server) serveLoop() {
	defer s.wg.Done()
	if err := s.httpsrv.Serve(s.listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Logger.Error("event channel terminated", "error", err)
	}
}

// ServeHTTP upgrades the connection and runs its command read loop. One
// goroutine per client, courtesy of net/http.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	c := &client{conn: conn}
	s.register(c)
	defer s.unregister(c)

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			log.Logger.Debug("client read ended", "error", err)
			return
		}
		var cmd Command
		if err := json.Unmarshal(data, &cmd); err != nil {
			log.Logger.Warn("malformed command", "error", err)
			if werr := c.writeJSON(errResult("", "malformed command")); werr != nil {
				return
			}
			continue
		}
		result := s.handleCommand(cmd.Command)
		if err := c.writeJSON(result); err != nil {
			return
		}
	}
}

func (s *Server) register(c *client) {
	s.mu.Lock()
	s.clients[c] = struct{}{}
	count := len(s.clients)
	status := s.lastStatus
	s.mu.Unlock()

	log.Logger.Info("client connected", "clients", count)
	if status != "" {
		// Late joiners get the current presence state without waiting for
		// the next transition.
		if err := c.writeJSON(newConnectionEvent(status)); err != nil {
			log.Logger.Debug("presence replay failed", "error", err)
		}
	}
}

func (s *Server) unregister(c *client) {
	s.mu.Lock()
	delete(s.clients, c)
	count := len(s.clients)
	s.mu.Unlock()

	c.conn.Close()
	log.Logger.Info("client disconnected", "clients", count)
}

// broadcast sends v to every connected client. Write failures are left to
// each client's read loop to notice and clean up.
func (s *Server) broadcast(v any) {
	s.mu.Lock()
	clients := make([]*client, 0, len(s.clients))
	for c := range s.clients {
		clients = append(clients, c)
	}
	s.mu.Unlock()

	for _, c := range clients {
		if err := c.writeJSON(v); err != nil {
			log.Logger.Debug("broadcast write failed", "error", err)
		}
	}
}

// EmitReading satisfies collector.Emitter.
func (s *Server) EmitReading(r collector.Reading) {
	s.broadcast(newDataEvent(r))
}
