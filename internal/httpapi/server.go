// Package httpapi exposes the gateway's HTTP surface: session status and QR
// retrieval, webhook registration, message sending, read-receipt queries, and
// logout.
package httpapi

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/dmelojr/zapgate/internal/store"
	"github.com/dmelojr/zapgate/internal/transport"
	"github.com/dmelojr/zapgate/pkg/models"
)

// SessionManager is the supervisor surface the HTTP handlers need.
type SessionManager interface {
	Acquire(ctx context.Context, session string) (transport.Client, error)
	ConnectionState(session string) models.SessionStatus
	PendingQR(session string) (string, bool)
	Logout(ctx context.Context, session string) error
}

// Config holds the HTTP listener settings.
type Config struct {
	Host string
	Port int
}

// Server is the gateway's HTTP front door.
type Server struct {
	cfg      Config
	sessions SessionManager
	store    store.Store
	logger   *slog.Logger

	httpServer *http.Server
	listener   net.Listener
}

// New creates a Server. Call Start to begin serving.
func New(cfg Config, sessions SessionManager, st store.Store, logger *slog.Logger) *Server {
	return &Server{
		cfg:      cfg,
		sessions: sessions,
		store:    st,
		logger:   logger,
	}
}

// Handler builds the route table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.Handle("GET /metrics", promhttp.Handler())
	mux.HandleFunc("GET /healthz", s.handleHealthz)
	mux.HandleFunc("GET /{$}", s.handleRoot)

	mux.HandleFunc("GET /{session}/status", s.handleStatus)
	mux.HandleFunc("GET /{session}/qr", s.handleQR)
	mux.HandleFunc("POST /{session}/webhook", s.handleSetWebhook)
	mux.HandleFunc("POST /{session}/send", s.handleSend)
	mux.HandleFunc("POST /{session}/send_group", s.handleSendGroup)
	mux.HandleFunc("GET /{session}/read/{messageId}", s.handleRead)
	mux.HandleFunc("POST /{session}/logout", s.handleLogout)

	return s.withRequestLog(mux)
}

// Start listens and serves in the background.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)

	server := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("http listen: %w", err)
	}

	s.httpServer = server
	s.listener = listener

	go func() {
		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("http server error", "error", err)
		}
	}()

	s.logger.Info("http server listening", "addr", addr)
	return nil
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}
