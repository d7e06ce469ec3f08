// Package systems implements the per-tick and background systems that drive
// the login client: connection lifecycle, inbound framing, outbound
// framing, packet dispatch and the login handshake.
package systems

import (
	"context"
	"net"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/tramquy-network/arriety/internal/ecs"
)

// DefaultConnectTimeout bounds a single synchronous connect attempt.
const DefaultConnectTimeout = 5 * time.Second

// Dialer opens the TCP connection to the login server.
type Dialer interface {
	DialContext(ctx context.Context, network, address string) (net.Conn, error)
}

// ConnectionSystem owns the socket lifecycle: connect attempts bounded by the
// reconnect ceiling, liveness checks and teardown on loss.
type ConnectionSystem struct {
	dialer  Dialer
	timeout time.Duration
	logger  zerolog.Logger
}

// NewConnectionSystem creates the connection system. A nil dialer uses net.Dialer.
func NewConnectionSystem(dialer Dialer, timeout time.Duration) *ConnectionSystem {
	if timeout <= 0 {
		timeout = DefaultConnectTimeout
	}
	if dialer == nil {
		dialer = &net.Dialer{Timeout: timeout}
	}
	return &ConnectionSystem{
		dialer:  dialer,
		timeout: timeout,
		logger:  log.With().Str("component", "connection_system").Logger(),
	}
}

// Name implements ecs.System.
func (s *ConnectionSystem) Name() string { return "connection" }

// Initialize implements ecs.System.
func (s *ConnectionSystem) Initialize(w *ecs.World) error {
	s.logger.Info().Msg("connection system initialized")
	return nil
}

// Update attempts a connection when one is requested and checks the health
// of an established one.
func (s *ConnectionSystem) Update(w *ecs.World, dt time.Duration) {
	w.Each(hasConnectionAndLogin, func(e *ecs.Entity) {
		conn := e.Connection

		if !conn.Connected && !conn.Connecting && conn.ShouldReconnect {
			s.tryConnect(w, e)
		}

		if conn.Connected {
			if l := conn.Link(); l == nil || l.IsLost() {
				var cause error
				if l != nil {
					cause = l.Err()
				}
				s.handleDisconnection(w, e, cause)
			}
		}
	})
}

func hasConnectionAndLogin(e *ecs.Entity) bool {
	return e.Connection != nil && e.Login != nil
}

// tryConnect performs one blocking connect attempt.
func (s *ConnectionSystem) tryConnect(w *ecs.World, e *ecs.Entity) {
	conn := e.Connection
	login := e.Login

	if conn.ReconnectAttempts >= conn.MaxReconnectAttempts {
		s.giveUp(w, e)
		return
	}

	conn.Connecting = true
	login.Transition(ecs.StateConnecting, w.Now())
	login.AuthSent = false
	if e.Session != nil {
		e.Session.Reset()
	}
	if e.Buffer != nil {
		if n := e.Buffer.DrainSend(); n > 0 {
			s.logger.Debug().Int("frames", n).Msg("dropped stale outbound frames")
		}
	}

	addr := conn.Address()
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	c, err := s.dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		conn.Connecting = false
		conn.ReconnectAttempts++
		conn.LastConnectionAttempt = w.Now()

		s.logger.Warn().
			Err(err).
			Str("addr", addr).
			Int("attempt", conn.ReconnectAttempts).
			Int("max", conn.MaxReconnectAttempts).
			Msg("connection attempt failed")

		if conn.ReconnectAttempts >= conn.MaxReconnectAttempts {
			s.giveUp(w, e)
		}
		return
	}

	conn.Attach(c)
	conn.ReconnectAttempts = 0
	conn.LastConnectionAttempt = w.Now()
	login.Transition(ecs.StateWaitingForInit, w.Now())

	s.logger.Info().Str("addr", addr).Msg("connected to login server")
}

// giveUp disables reconnection after the ceiling has been reached.
func (s *ConnectionSystem) giveUp(w *ecs.World, e *ecs.Entity) {
	conn := e.Connection
	conn.ShouldReconnect = false
	conn.Connecting = false
	if e.Login.State == ecs.StateConnecting {
		e.Login.Transition(ecs.StateDisconnected, w.Now())
	}
	s.logger.Error().
		Str("addr", conn.Address()).
		Int("attempts", conn.ReconnectAttempts).
		Msg("max reconnection attempts reached")
}

// handleDisconnection tears down a lost socket and re-arms reconnection.
func (s *ConnectionSystem) handleDisconnection(w *ecs.World, e *ecs.Entity, cause error) {
	s.logger.Warn().Err(cause).Str("addr", e.Connection.Address()).Msg("connection lost")

	e.Connection.Drop()
	e.Login.Transition(ecs.StateDisconnected, w.Now())
	e.Connection.ShouldReconnect = true
}

// Shutdown closes any open socket.
func (s *ConnectionSystem) Shutdown(w *ecs.World) {
	w.Each(func(e *ecs.Entity) bool { return e.Connection != nil }, func(e *ecs.Entity) {
		if l := e.Connection.Link(); l != nil {
			l.Close()
		}
	})
	s.logger.Info().Msg("connection system shut down")
}
