package client

import (
	"github.com/tramquy-network/arriety/internal/ecs"
	"github.com/tramquy-network/arriety/internal/systems"
)

// Handlers receives edge-triggered session notifications. Each fires once
// per transition, on the tick goroutine. Handlers must not call Connect or
// Disconnect synchronously.
type Handlers struct {
	OnConnected    func()
	OnDisconnected func()
	OnLoginSuccess func()
	OnLoginFailed  func(message string)
}

// Option customizes a Manager.
type Option func(*Manager)

// WithHandlers installs the notification callbacks.
func WithHandlers(h Handlers) Option {
	return func(m *Manager) { m.handlers = h }
}

// WithDialer replaces the TCP dialer used for connection attempts.
func WithDialer(d systems.Dialer) Option {
	return func(m *Manager) { m.dialer = d }
}

// WithClock replaces the wall clock used for state timestamps and the login timeout.
func WithClock(c ecs.Clock) Option {
	return func(m *Manager) { m.world.SetClock(c) }
}

// WithRegistry replaces the inbound opcode registry.
func WithRegistry(r systems.Registry) Option {
	return func(m *Manager) { m.registry = r }
}

// WithDevice sets the device snapshot instead of reading it from the host.
func WithDevice(d ecs.DeviceInfo) Option {
	return func(m *Manager) { m.device = &d }
}
