// Copyright 2024-2026 Madhukar Beema. All rights reserved.
// Use of this source code is governed by the Business Source License
// included in the LICENSE file of this repository.

package control

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shirou/gopsutil/v3/process"
	"go.uber.org/zap"

	"github.com/mbeema/rehook/pkg/activation"
)

// ServerConfig configures the control socket.
type ServerConfig struct {
	SocketPath     string
	MaxConnections int
	IOTimeout      time.Duration
}

// Server accepts control connections on a unix stream socket and passes each
// request to the gate. Connections are bounded by MaxConnections; a request
// arriving beyond that waits for a slot.
type Server struct {
	cfg    ServerConfig
	gate   *Gate
	logger *zap.Logger

	listener *net.UnixListener
	slots    chan struct{}
	wg       sync.WaitGroup
	stopCh   chan struct{}
	stopOnce sync.Once

	mu    sync.Mutex
	conns map[net.Conn]struct{}
}

// NewServer creates a control server in front of gate.
func NewServer(cfg ServerConfig, gate *Gate, logger *zap.Logger) *Server {
	if cfg.MaxConnections <= 0 {
		cfg.MaxConnections = 16
	}
	if cfg.IOTimeout <= 0 {
		cfg.IOTimeout = 5 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		cfg:    cfg,
		gate:   gate,
		logger: logger,
		slots:  make(chan struct{}, cfg.MaxConnections),
		stopCh: make(chan struct{}),
		conns:  make(map[net.Conn]struct{}),
	}
}

// Start begins listening. The socket is created with mode 0600.
func (s *Server) Start(ctx context.Context) error {
	dir := filepath.Dir(s.cfg.SocketPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create socket dir: %w", err)
	}

	// Remove stale socket
	os.Remove(s.cfg.SocketPath)

	addr := &net.UnixAddr{Name: s.cfg.SocketPath, Net: "unix"}
	l, err := net.ListenUnix("unix", addr)
	if err != nil {
		return fmt.Errorf("listen unix: %w", err)
	}
	if err := os.Chmod(s.cfg.SocketPath, 0600); err != nil {
		l.Close()
		return fmt.Errorf("chmod socket: %w", err)
	}
	s.listener = l

	s.logger.Info("control server listening",
		zap.String("socket", s.cfg.SocketPath),
		zap.Int("max_connections", s.cfg.MaxConnections),
	)

	s.wg.Add(1)
	go s.acceptLoop(ctx)
	return nil
}

// Stop closes the listener and every open connection, then waits for the
// handlers to return.
func (s *Server) Stop() error {
	s.stopOnce.Do(func() {
		close(s.stopCh)
		if s.listener != nil {
			s.listener.Close()
		}
		s.mu.Lock()
		for c := range s.conns {
			c.Close()
		}
		s.mu.Unlock()
	})
	s.wg.Wait()
	os.Remove(s.cfg.SocketPath)
	return nil
}

// Addr returns the socket path.
func (s *Server) Addr() string {
	return s.cfg.SocketPath
}

func (s *Server) acceptLoop(ctx context.Context) {
	defer s.wg.Done()

	for {
		conn, err := s.listener.AcceptUnix()
		if err != nil {
			select {
			case <-s.stopCh:
				return
			case <-ctx.Done():
				return
			default:
			}
			if errors.Is(err, net.ErrClosed) {
				return
			}
			s.logger.Debug("accept error", zap.Error(err))
			continue
		}

		select {
		case s.slots <- struct{}{}:
		case <-s.stopCh:
			conn.Close()
			return
		case <-ctx.Done():
			conn.Close()
			return
		}

		s.track(conn, true)
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			defer func() { <-s.slots }()
			defer s.track(conn, false)
			s.handleConn(ctx, conn)
		}()
	}
}

func (s *Server) track(c net.Conn, add bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if add {
		s.conns[c] = struct{}{}
	} else {
		delete(s.conns, c)
		c.Close()
	}
}

func (s *Server) handleConn(ctx context.Context, conn *net.UnixConn) {
	actor := activation.Actor{PID: -1}
	if pid, uid, _, err := peerCred(conn); err == nil {
		actor.PID = pid
		actor.UID = uid
		actor.Process = processName(pid)
	} else {
		s.logger.Debug("peer credentials unavailable", zap.Error(err))
	}

	for {
		conn.SetDeadline(time.Now().Add(s.cfg.IOTimeout))

		var req Request
		if err := ReadFrame(conn, MsgRequest, &req); err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) {
				s.logger.Debug("read request failed", zap.Int32("pid", actor.PID), zap.Error(err))
			}
			return
		}
		if req.ID == "" {
			req.ID = uuid.New().String()
		}

		a := actor
		a.RequestID = req.ID
		resp := s.gate.Handle(activation.WithActor(ctx, a), &req)

		conn.SetDeadline(time.Now().Add(s.cfg.IOTimeout))
		if err := WriteFrame(conn, MsgResponse, resp); err != nil {
			s.logger.Debug("write response failed", zap.String("id", req.ID), zap.Error(err))
			return
		}
	}
}

// processName resolves a pid to its command name for audit records.
func processName(pid int32) string {
	if pid <= 0 {
		return ""
	}
	p, err := process.NewProcess(pid)
	if err != nil {
		return ""
	}
	name, err := p.Name()
	if err != nil {
		return ""
	}
	return name
}
