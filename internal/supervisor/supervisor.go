// Package supervisor owns session identity and connection lifecycle: the live
// handle registry, QR capture, reconnection policy, and logout.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/dmelojr/zapgate/internal/metrics"
	"github.com/dmelojr/zapgate/internal/transport"
	"github.com/dmelojr/zapgate/pkg/models"
)

// DefaultReconnectDelay is the fixed delay before a transient disconnect is
// retried.
const DefaultReconnectDelay = 1500 * time.Millisecond

// ErrClosed is returned by Acquire after the supervisor shut down.
var ErrClosed = errors.New("supervisor closed")

// Handler consumes a session's raw lifecycle events in arrival order.
type Handler interface {
	Handle(ctx context.Context, session string, evt any)
}

// Config controls supervision behavior.
type Config struct {
	// ReconnectDelay is the pause before reconnecting a transiently closed
	// session.
	ReconnectDelay time.Duration `yaml:"reconnect_delay"`
}

// DefaultConfig returns the default supervision config.
func DefaultConfig() Config {
	return Config{ReconnectDelay: DefaultReconnectDelay}
}

type handle struct {
	client transport.Client
	cancel context.CancelFunc
}

// Supervisor manages one live handle per session. All registry, status, QR,
// and timer state lives behind one mutex.
type Supervisor struct {
	cfg     Config
	dialer  transport.Dialer
	handler Handler
	logger  *slog.Logger
	metrics *metrics.Metrics

	mu       sync.Mutex
	handles  map[string]*handle
	dials    map[string]chan struct{}
	statuses map[string]models.SessionStatus
	qrs      map[string]string
	timers   map[string]*time.Timer
	closed   bool
}

// New creates a Supervisor.
func New(cfg Config, dialer transport.Dialer, handler Handler, logger *slog.Logger, m *metrics.Metrics) *Supervisor {
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = DefaultReconnectDelay
	}
	return &Supervisor{
		cfg:      cfg,
		dialer:   dialer,
		handler:  handler,
		logger:   logger,
		metrics:  m,
		handles:  make(map[string]*handle),
		dials:    make(map[string]chan struct{}),
		statuses: make(map[string]models.SessionStatus),
		qrs:      make(map[string]string),
		timers:   make(map[string]*time.Timer),
	}
}

// Acquire returns the live handle for the session, establishing a new
// connection when none exists. Idempotent: concurrent and repeated calls for
// the same session share one handle, and callers arriving during an in-flight
// dial wait for its result instead of dialing again.
func (s *Supervisor) Acquire(ctx context.Context, session string) (transport.Client, error) {
	if session == "" {
		return nil, fmt.Errorf("session name is required")
	}

	for {
		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			return nil, ErrClosed
		}
		if h, ok := s.handles[session]; ok {
			s.mu.Unlock()
			return h.client, nil
		}
		inflight, dialing := s.dials[session]
		if !dialing {
			break
		}
		s.mu.Unlock()
		select {
		case <-inflight:
			// Re-check: the dial either registered a handle or failed.
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	// Lock is held. Register the in-flight dial so the network work below
	// runs without stalling state queries and event processing for other
	// sessions.
	inflight := make(chan struct{})
	s.dials[session] = inflight

	// A pending reconnect timer is superseded by this acquisition; if it
	// fired anyway it would find the handle and back off.
	s.stopTimerLocked(session)
	s.setStatusLocked(session, models.StateStarting)
	s.mu.Unlock()

	client, err := s.dialer.Dial(ctx, session)
	if err != nil {
		s.finishFailedDial(session, inflight)
		return nil, fmt.Errorf("dial session %q: %w", session, err)
	}

	// The handle outlives the acquiring request.
	sessionCtx, cancel := context.WithCancel(context.Background())
	if err := client.Connect(sessionCtx); err != nil {
		cancel()
		client.Disconnect()
		s.finishFailedDial(session, inflight)
		return nil, fmt.Errorf("connect session %q: %w", session, err)
	}

	s.mu.Lock()
	delete(s.dials, session)
	close(inflight)
	if s.closed {
		s.mu.Unlock()
		cancel()
		client.Disconnect()
		return nil, ErrClosed
	}
	s.handles[session] = &handle{client: client, cancel: cancel}
	s.mu.Unlock()

	go s.drain(sessionCtx, session, client)

	s.logger.Info("session acquired", "session", session)
	return client, nil
}

// finishFailedDial clears a failed in-flight dial and releases its waiters.
func (s *Supervisor) finishFailedDial(session string, inflight chan struct{}) {
	s.mu.Lock()
	delete(s.dials, session)
	close(inflight)
	s.setStatusLocked(session, models.StateClosed)
	s.mu.Unlock()
}

// ConnectionState reports the session's connection status. Sessions the
// process has never seen report StateUnknown.
func (s *Supervisor) ConnectionState(session string) models.SessionStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	if status, ok := s.statuses[session]; ok {
		return status
	}
	return models.SessionStatus{Session: session, Connection: models.StateUnknown}
}

// PendingQR returns the most recent unconsumed QR payload for the session.
func (s *Supervisor) PendingQR(session string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	qr, ok := s.qrs[session]
	return qr, ok
}

// Logout removes the live handle and erases persisted credential material.
// Idempotent; missing handles and missing material are tolerated.
func (s *Supervisor) Logout(ctx context.Context, session string) error {
	s.mu.Lock()
	s.stopTimerLocked(session)
	h := s.handles[session]
	delete(s.handles, session)
	delete(s.qrs, session)
	if _, seen := s.statuses[session]; seen || h != nil {
		s.setStatusLocked(session, models.StateClosed)
	}
	s.mu.Unlock()

	if h != nil {
		h.cancel()
		if err := h.client.Logout(ctx); err != nil {
			return fmt.Errorf("logout session %q: %w", session, err)
		}
		return nil
	}
	if err := s.dialer.DeleteCredentials(ctx, session); err != nil {
		return fmt.Errorf("erase credentials for %q: %w", session, err)
	}
	return nil
}

// Close shuts down all sessions and cancels pending reconnects.
func (s *Supervisor) Close() {
	s.mu.Lock()
	s.closed = true
	for session, timer := range s.timers {
		timer.Stop()
		delete(s.timers, session)
	}
	handles := make(map[string]*handle, len(s.handles))
	for session, h := range s.handles {
		handles[session] = h
		delete(s.handles, session)
	}
	s.mu.Unlock()

	for session, h := range handles {
		h.cancel()
		h.client.Disconnect()
		s.logger.Info("session shut down", "session", session)
	}
}

// drain consumes the session's ordered event stream: connection updates feed
// the supervisor's state machine, everything else goes to the status pipeline.
// It exits on a terminal StateClosed update, on channel close, or when the
// handle's context is cancelled (logout, supervisor shutdown); the transport
// emits no closed update for a locally initiated teardown.
func (s *Supervisor) drain(ctx context.Context, session string, client transport.Client) {
	for {
		select {
		case <-ctx.Done():
			return
		case evt, open := <-client.Events():
			if !open {
				return
			}
			if update, ok := evt.(transport.ConnectionUpdate); ok {
				if dead := s.handleConnectionUpdate(ctx, session, client, update); dead {
					return
				}
				continue
			}
			s.handler.Handle(ctx, session, evt)
		}
	}
}

func (s *Supervisor) handleConnectionUpdate(ctx context.Context, session string, client transport.Client, update transport.ConnectionUpdate) bool {
	s.mu.Lock()

	if update.QR != "" {
		// A fresh code replaces any prior unscanned one.
		s.qrs[session] = update.QR
		s.logger.Info("qr payload captured", "session", session)
	}

	prev := s.statuses[session].Connection

	switch update.State {
	case models.StateStarting:
		s.setStatusLocked(session, models.StateStarting)

	case models.StateOpen:
		s.setStatusLocked(session, models.StateOpen)
		delete(s.qrs, session)
		if prev != models.StateOpen {
			s.metrics.SessionsOpen.Inc()
		}
		s.mu.Unlock()

		// Best-effort presence refresh; failure is non-fatal.
		go func() {
			if err := client.SendPresence(ctx); err != nil {
				s.logger.Warn("presence refresh failed",
					"session", session, "error", err)
			}
		}()
		return false

	case models.StateClosed:
		s.setStatusLocked(session, models.StateClosed)
		if prev == models.StateOpen {
			s.metrics.SessionsOpen.Dec()
		}

		// Remove the dead handle immediately so a concurrent Acquire
		// establishes a fresh one instead of returning this client.
		if h, ok := s.handles[session]; ok && h.client == client {
			delete(s.handles, session)
			h.cancel()
		}

		if update.Cause.LoggedOut {
			// Any pending QR belongs to the dead pairing attempt.
			delete(s.qrs, session)
			s.logger.Error("session closed by authentication rejection, not reconnecting",
				"session", session, "reason", update.Cause.Reason)
			s.mu.Unlock()
			return true
		}

		s.logger.Warn("session closed, scheduling reconnect",
			"session", session,
			"reason", update.Cause.Reason,
			"delay", s.cfg.ReconnectDelay)
		s.metrics.Reconnects.Inc()
		s.stopTimerLocked(session)
		s.timers[session] = time.AfterFunc(s.cfg.ReconnectDelay, func() {
			s.reconnect(session)
		})
		s.mu.Unlock()
		return true
	}

	s.mu.Unlock()
	return false
}

func (s *Supervisor) reconnect(session string) {
	s.mu.Lock()
	delete(s.timers, session)
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if _, err := s.Acquire(ctx, session); err != nil {
		s.logger.Error("reconnect failed", "session", session, "error", err)
	}
}

func (s *Supervisor) setStatusLocked(session string, state models.ConnectionState) {
	s.statuses[session] = models.SessionStatus{
		Session:    session,
		Connection: state,
		LastChange: time.Now(),
	}
	s.logger.Info("connection state changed", "session", session, "state", state)
}

func (s *Supervisor) stopTimerLocked(session string) {
	if timer, ok := s.timers[session]; ok {
		timer.Stop()
		delete(s.timers, session)
	}
}
