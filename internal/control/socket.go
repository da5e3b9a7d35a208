// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package control exposes the daemon controller over HTTP on a Unix socket
// so that a separate CLI invocation can start, stop and query it.
package control

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/samber/oops"

	"github.com/holomush/telnetd/internal/daemon"
	"github.com/holomush/telnetd/internal/xdg"
	"github.com/holomush/telnetd/pkg/errutil"
)

// CodeUnavailable is returned by the client when nothing answers on the socket.
const CodeUnavailable = "CONTROL_UNAVAILABLE"

// Daemon is the controller surface served over the socket.
type Daemon interface {
	Start(ctx context.Context, ip string, port int) error
	Stop(ctx context.Context) error
	Status() daemon.Status
}

// HealthResponse is returned by the /health endpoint.
type HealthResponse struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
}

// StatusResponse is returned by /status, /start and /stop.
type StatusResponse struct {
	daemon.Status `yaml:",inline"`
	PID           int   `json:"pid" yaml:"pid"`
	UptimeSeconds int64 `json:"uptime_seconds" yaml:"uptime_seconds"`
}

// StartRequest is the body of POST /start.
type StartRequest struct {
	IP   string `json:"ip"`
	Port int    `json:"port"`
}

// ErrorResponse carries a failed operation's code and message.
type ErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ShutdownResponse is returned by the /shutdown endpoint.
type ShutdownResponse struct {
	Message string `json:"message"`
}

// ShutdownFunc is called when shutdown is requested.
type ShutdownFunc func()

// Server runs HTTP over a Unix socket for daemon management.
type Server struct {
	daemon       Daemon
	socketPath   string
	shutdownFunc ShutdownFunc
	startTime    time.Time
	logger       *slog.Logger

	mu         sync.Mutex
	listener   net.Listener
	httpServer *http.Server
}

// NewServer creates a control server for d. An empty socketPath selects
// the XDG runtime location.
func NewServer(d Daemon, socketPath string, shutdownFunc ShutdownFunc, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		daemon:       d,
		socketPath:   socketPath,
		shutdownFunc: shutdownFunc,
		startTime:    time.Now(),
		logger:       logger.With("component", "control"),
	}
}

// SocketPath resolves path, falling back to the XDG runtime location.
func SocketPath(path string) (string, error) {
	if path != "" {
		return path, nil
	}
	return xdg.ControlSocket()
}

// Path returns the socket path, resolved once Start has run.
func (s *Server) Path() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.socketPath
}

// Start begins listening on the Unix socket.
func (s *Server) Start() error {
	socketPath, err := SocketPath(s.socketPath)
	if err != nil {
		return err
	}

	if err := xdg.EnsureDir(filepath.Dir(socketPath)); err != nil {
		return oops.With("path", socketPath).Wrapf(err, "failed to create runtime directory")
	}

	// A previous process may have left its socket behind.
	if err := os.Remove(socketPath); err != nil && !os.IsNotExist(err) {
		return oops.With("path", socketPath).Wrapf(err, "failed to remove existing socket")
	}

	ln, err := net.Listen("unix", socketPath)
	if err != nil {
		return oops.With("path", socketPath).Wrapf(err, "failed to listen on socket")
	}

	if err := os.Chmod(socketPath, 0o600); err != nil {
		_ = ln.Close()
		return oops.With("path", socketPath).Wrapf(err, "failed to set socket permissions")
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /status", s.handleStatus)
	mux.HandleFunc("POST /start", s.handleStart)
	mux.HandleFunc("POST /stop", s.handleStop)
	mux.HandleFunc("POST /shutdown", s.handleShutdown)

	srv := &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.mu.Lock()
	s.socketPath = socketPath
	s.listener = ln
	s.httpServer = srv
	s.mu.Unlock()

	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("control socket server error", "error", err)
		}
	}()

	s.logger.Info("control socket listening", "path", socketPath)
	return nil
}

// Stop shuts down the HTTP server and removes the socket file.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	srv, ln, path := s.httpServer, s.listener, s.socketPath
	s.httpServer, s.listener = nil, nil
	s.mu.Unlock()

	if srv != nil {
		if err := srv.Shutdown(ctx); err != nil {
			return oops.Wrapf(err, "failed to shutdown control server")
		}
	}
	if ln != nil {
		if err := ln.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			s.logger.Warn("failed to close control socket listener", "error", err)
		}
	}
	if srv != nil && path != "" {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			s.logger.Warn("failed to remove control socket file", "path", path, "error", err)
		}
	}
	return nil
}

func (s *Server) status() StatusResponse {
	return StatusResponse{
		Status:        s.daemon.Status(),
		PID:           os.Getpid(),
		UptimeSeconds: int64(time.Since(s.startTime).Seconds()),
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.reply(w, http.StatusOK, HealthResponse{
		Status:    "healthy",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	s.reply(w, http.StatusOK, s.status())
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	var req StartRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 4096)).Decode(&req); err != nil {
		s.fail(w, oops.Code(daemon.CodeUsage).Errorf("malformed start request: %v", err))
		return
	}
	if err := s.daemon.Start(r.Context(), req.IP, req.Port); err != nil {
		s.fail(w, err)
		return
	}
	s.reply(w, http.StatusOK, s.status())
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	if err := s.daemon.Stop(r.Context()); err != nil {
		s.fail(w, err)
		return
	}
	s.reply(w, http.StatusOK, s.status())
}

func (s *Server) handleShutdown(w http.ResponseWriter, _ *http.Request) {
	s.reply(w, http.StatusOK, ShutdownResponse{Message: "shutdown initiated"})
	if s.shutdownFunc != nil {
		go s.shutdownFunc()
	}
}

// fail reports err with the HTTP status matching its code.
func (s *Server) fail(w http.ResponseWriter, err error) {
	code := errutil.Code(err)
	status := httpStatus(code)
	if status == http.StatusInternalServerError {
		errutil.LogError(s.logger, "control request failed", err)
	}
	if code == "" {
		code = "INTERNAL"
	}
	s.reply(w, status, ErrorResponse{Code: code, Message: err.Error()})
}

func (s *Server) reply(w http.ResponseWriter, statusCode int, v any) {
	if err := writeJSON(w, statusCode, v); err != nil {
		s.logger.Error("failed to write control response", "error", err)
	}
}

func httpStatus(code string) int {
	switch code {
	case daemon.CodeAlreadyRunning, daemon.CodeNotRunning:
		return http.StatusConflict
	case daemon.CodeBindFailed:
		return http.StatusBadGateway
	case daemon.CodeUsage:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, statusCode int, v any) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		return fmt.Errorf("failed to encode JSON response: %w", err)
	}
	return nil
}
