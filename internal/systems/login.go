package systems

import (
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/tramquy-network/arriety/internal/ecs"
	"github.com/tramquy-network/arriety/internal/protocol"
)

// DefaultLoginTimeout is how long the client waits for a LoginResponse.
const DefaultLoginTimeout = 30 * time.Second

// LoginTimeoutMessage is recorded as the failure reason when the server never answers.
const LoginTimeoutMessage = "Login timeout"

var (
	// ErrLoginRejected reports a FAIL login response from the server.
	ErrLoginRejected = errors.New("login rejected")

	// ErrLoginTimeout reports that no login response arrived in time.
	ErrLoginTimeout = errors.New("login timed out")
)

// LoginError returns why the login failed, or nil when it has not.
func LoginError(l *ecs.LoginStateComponent) error {
	if l == nil || l.State != ecs.StateLoginFailed {
		return nil
	}
	if l.FailMessage == LoginTimeoutMessage {
		return ErrLoginTimeout
	}
	if l.FailMessage == "" {
		return ErrLoginRejected
	}
	return fmt.Errorf("%w: %s", ErrLoginRejected, l.FailMessage)
}

// LoginSystem sends the authentication packet once the session is known
// and enforces the login response deadline.
type LoginSystem struct {
	timeout time.Duration
	logger  zerolog.Logger
}

// NewLoginSystem creates the login system.
func NewLoginSystem(timeout time.Duration) *LoginSystem {
	if timeout <= 0 {
		timeout = DefaultLoginTimeout
	}
	return &LoginSystem{
		timeout: timeout,
		logger:  log.With().Str("component", "login_system").Logger(),
	}
}

// Name implements ecs.System.
func (s *LoginSystem) Name() string { return "login" }

// Initialize implements ecs.System.
func (s *LoginSystem) Initialize(w *ecs.World) error {
	s.logger.Info().Dur("timeout", s.timeout).Msg("login system initialized")
	return nil
}

// Update advances the login state machine.
func (s *LoginSystem) Update(w *ecs.World, dt time.Duration) {
	w.Each(func(e *ecs.Entity) bool { return e.Login != nil && e.Session != nil }, func(e *ecs.Entity) {
		login := e.Login

		if login.State == ecs.StateWaitingForInit && e.Session.Initialized && !login.AuthSent {
			if err := s.sendAuth(e); err != nil {
				s.logger.Error().Err(err).Msg("failed to queue authentication")
				return
			}
			pending := login.TakePending()
			login.AuthSent = true
			login.Transition(ecs.StateAuthenticating, w.Now())
			s.logger.Info().Int32("session_id", e.Session.ID).Msg("authentication sent")

			if pending != nil {
				applyLoginVerdict(w, e, *pending)
			}
		}

		if login.State == ecs.StateAuthenticating && w.Now().Sub(login.LastStateChange) > s.timeout {
			s.logger.Warn().Dur("timeout", s.timeout).Msg("login timed out")
			login.Fail(LoginTimeoutMessage, w.Now())
			if e.Connection != nil {
				e.Connection.Drop()
				e.Connection.ShouldReconnect = false
			}
		}
	})
}

func (s *LoginSystem) sendAuth(e *ecs.Entity) error {
	auth := &protocol.AuthGG{SessionID: e.Session.ID}
	if e.Device != nil {
		auth.Platform = e.Device.Platform
		auth.MemorySizeMB = e.Device.MemorySizeMB
		auth.DeviceName = e.Device.DeviceName
	}
	return SendPacket(e, auth)
}

// Shutdown implements ecs.System.
func (s *LoginSystem) Shutdown(w *ecs.World) {}
