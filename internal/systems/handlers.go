package systems

import (
	"github.com/rs/zerolog/log"

	"github.com/tramquy-network/arriety/internal/ecs"
	"github.com/tramquy-network/arriety/internal/protocol"
)

// InitHandler records the session id assigned by the server.
type InitHandler struct {
	protocol.Init
}

// Run implements ServerPacket for callers without an entity.
func (h *InitHandler) Run() error {
	log.Debug().Int32("session_id", h.SessionID).Msg("init received")
	return nil
}

// ProcessEntity initializes the entity's session.
func (h *InitHandler) ProcessEntity(w *ecs.World, e *ecs.Entity, r *protocol.Reader) error {
	if err := h.Read(r); err != nil {
		return err
	}
	if e.Session == nil {
		return nil
	}
	e.Session.Init(h.SessionID, w.Now())

	log.Info().Int32("session_id", h.SessionID).Msg("session initialized")
	return nil
}

// LoginResponseHandler applies the server's verdict on the login request.
type LoginResponseHandler struct {
	protocol.LoginResponse
}

// Run implements ServerPacket for callers without an entity.
func (h *LoginResponseHandler) Run() error {
	log.Debug().Str("result", h.Result.String()).Msg("login response received")
	return nil
}

// ProcessEntity moves the login state to Authenticated or LoginFailed. A
// response that follows Init before the client has queued its
// authentication is held until LoginSystem sends AuthGG. Any other response
// outside Authenticating is dropped.
func (h *LoginResponseHandler) ProcessEntity(w *ecs.World, e *ecs.Entity, r *protocol.Reader) error {
	if err := h.Read(r); err != nil {
		return err
	}
	if e.Login == nil {
		return nil
	}

	switch {
	case e.Login.State == ecs.StateAuthenticating:
		applyLoginVerdict(w, e, ecs.LoginVerdict{Result: h.Result, Message: h.Message})
	case e.Login.State == ecs.StateWaitingForInit && !e.Login.AuthSent && e.Session != nil && e.Session.Initialized:
		e.Login.Pending = &ecs.LoginVerdict{Result: h.Result, Message: h.Message}
		log.Debug().Str("result", h.Result.String()).Msg("login response held until authentication is sent")
	default:
		log.Warn().
			Str("result", h.Result.String()).
			Str("state", e.Login.State.String()).
			Msg("ignoring login response outside authentication")
	}
	return nil
}

// applyLoginVerdict finishes the handshake. A rejection closes the
// connection and disables reconnection.
func applyLoginVerdict(w *ecs.World, e *ecs.Entity, v ecs.LoginVerdict) {
	switch v.Result {
	case protocol.LoginOK:
		e.Login.Transition(ecs.StateAuthenticated, w.Now())
		log.Info().Msg("login succeeded")
	default:
		e.Login.Fail(v.Message, w.Now())
		if e.Connection != nil {
			e.Connection.Drop()
			e.Connection.ShouldReconnect = false
		}
		log.Warn().Str("reason", v.Message).Msg("login rejected")
	}
}
