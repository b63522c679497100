// Package relay serves the line protocol: it accepts client connections,
// replays state to newcomers, executes their commands and fans queued
// change events out to every connected client.
package relay

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/caboose014/Hue-Savant-Coprocessor/internal/core/transport"
)

// ServerConfig configures the TCP listener.
type ServerConfig struct {
	Addr         string
	BindRetry    time.Duration
	WriteTimeout time.Duration
}

// Server owns the TCP listener, the dispatcher and the queue monitor for
// one relay run.
type Server struct {
	cfg        ServerConfig
	handler    *Handler
	registry   *Registry
	dispatcher *Dispatcher
	monitor    *Monitor
	log        *slog.Logger

	mu        sync.Mutex
	addr      net.Addr
	ready     chan struct{}
	readyOnce sync.Once
	conns     sync.WaitGroup
}

// NewServer creates a server. monitor may be nil.
func NewServer(cfg ServerConfig, handler *Handler, registry *Registry, dispatcher *Dispatcher, monitor *Monitor, log *slog.Logger) *Server {
	if cfg.BindRetry <= 0 {
		cfg.BindRetry = 10 * time.Second
	}
	return &Server{
		cfg:        cfg,
		handler:    handler,
		registry:   registry,
		dispatcher: dispatcher,
		monitor:    monitor,
		log:        log,
		ready:      make(chan struct{}),
	}
}

// Ready is closed once the listener is bound, or when Run gives up
// binding because ctx was cancelled. Addr is nil in the second case.
func (s *Server) Ready() <-chan struct{} {
	return s.ready
}

func (s *Server) markReady() {
	s.readyOnce.Do(func() { close(s.ready) })
}

// Addr returns the bound listener address, or nil before Ready.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addr
}

// Run binds the listener, retrying until it succeeds, then serves clients
// until the dispatcher stops or ctx is cancelled. It returns nil on
// shutdown or cancellation, ErrRestartRequested or ErrQueueWedged when the
// relay must be rebuilt.
func (s *Server) Run(ctx context.Context) error {
	defer s.markReady()

	ln, err := s.listen(ctx)
	if err != nil {
		return nil
	}
	s.mu.Lock()
	s.addr = ln.Addr()
	s.mu.Unlock()
	s.markReady()
	s.log.Info("relay listening", "addr", ln.Addr().String())

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	errc := make(chan error, 2)
	workers := 1
	go func() { errc <- s.dispatcher.Run(ctx) }()
	if s.monitor != nil {
		workers++
		go func() { errc <- s.monitor.Run(ctx) }()
	}

	accepted := make(chan struct{})
	go func() {
		defer close(accepted)
		s.accept(ctx, ln)
	}()

	var result error
	select {
	case result = <-errc:
		workers--
	case <-ctx.Done():
	}

	cancel()
	ln.Close()
	<-accepted
	s.registry.CloseAll()
	s.conns.Wait()
	for ; workers > 0; workers-- {
		<-errc
	}

	s.log.Info("relay stopped", "reason", result)
	return result
}

func (s *Server) listen(ctx context.Context) (net.Listener, error) {
	var lc net.ListenConfig
	for {
		ln, err := lc.Listen(ctx, "tcp", s.cfg.Addr)
		if err == nil {
			return ln, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		s.log.Error("bind failed, retrying", "addr", s.cfg.Addr, "retry_in", s.cfg.BindRetry, "error", err)

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(s.cfg.BindRetry):
		}
	}
}

func (s *Server) accept(ctx context.Context, ln net.Listener) {
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return
			}
			s.log.Warn("accept failed", "error", err)
			if !sleep(ctx, 100*time.Millisecond) {
				return
			}
			continue
		}

		if tc, ok := conn.(*net.TCPConn); ok {
			tc.SetNoDelay(true)
		}
		s.conns.Add(1)
		go func() {
			defer s.conns.Done()
			s.handler.Serve(ctx, transport.NewTCPConn(conn, s.cfg.WriteTimeout), "tcp")
		}()
	}
}
