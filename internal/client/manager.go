// Package client provides the Manager, the owner of the network world. It
// wires the five network systems in their fixed order, drives them from the
// scheduler and turns state changes into edge-triggered notifications.
package client

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/tramquy-network/arriety/internal/config"
	"github.com/tramquy-network/arriety/internal/ecs"
	"github.com/tramquy-network/arriety/internal/events"
	"github.com/tramquy-network/arriety/internal/scheduler"
	"github.com/tramquy-network/arriety/internal/systems"
	"github.com/tramquy-network/arriety/internal/util"
)

const eventSource = "client"

// Status is a consistent snapshot of the connection and login state,
// published after every tick.
type Status struct {
	Running           bool           `json:"running"`
	Address           string         `json:"address"`
	Connected         bool           `json:"connected"`
	State             ecs.LoginState `json:"state"`
	SessionID         int32          `json:"session_id"`
	ReconnectAttempts int            `json:"reconnect_attempts"`
	ShouldReconnect   bool           `json:"should_reconnect"`
	FailMessage       string         `json:"fail_message,omitempty"`
	UpdatedAt         time.Time      `json:"updated_at"`

	err error
}

// Err returns why the login failed, or nil.
func (s Status) Err() error {
	return s.err
}

// Manager owns the world, its single network entity and the tick loop.
type Manager struct {
	cfg      config.NetworkConfig
	eventBus *events.EventBus
	logger   zerolog.Logger

	handlers Handlers
	dialer   systems.Dialer
	registry systems.Registry
	device   *ecs.DeviceInfo

	world     *ecs.World
	entity    *ecs.Entity
	dispatch  *systems.PacketDispatchSystem
	scheduler *scheduler.Scheduler

	// lifecycle serializes Connect and Disconnect.
	lifecycle sync.Mutex

	status atomic.Pointer[Status]
	// prev is owned by the tick goroutine while the loop runs.
	prev Status
}

// NewManager builds the world for the endpoint and network settings in cfg.
// eventBus may be nil.
func NewManager(cfg *config.Config, eventBus *events.EventBus, opts ...Option) *Manager {
	endpoint := cfg.GetEndpoint()
	netCfg := cfg.GetNetwork()

	m := &Manager{
		cfg:      netCfg,
		eventBus: eventBus,
		logger:   util.ComponentLogger("manager"),
		world:    ecs.NewWorld(),
	}
	for _, opt := range opts {
		opt(m)
	}

	if m.device == nil {
		d := util.CollectDevice(util.DeviceOverride{Name: cfg.Device.Name, Platform: cfg.Device.Platform})
		m.device = &ecs.DeviceInfo{Platform: d.Platform, MemorySizeMB: d.MemorySizeMB, DeviceName: d.Name}
	}

	e := m.world.CreateEntity()
	e.Connection = ecs.NewNetworkConnection(endpoint.Host, endpoint.Port, netCfg.MaxReconnectAttempts)
	e.Buffer = ecs.NewPacketBuffer(netCfg.ReceiveBufferSize, netCfg.SendQueueSize, netCfg.ReceiveQueueSize)
	e.Session = &ecs.Session{}
	e.Login = &ecs.LoginStateComponent{
		LastStateChange: m.world.Now(),
		OnTransition: func(from, to ecs.LoginState) {
			m.logger.Debug().Str("from", from.String()).Str("to", to.String()).Msg("login state transition")
		},
	}
	e.Device = m.device
	m.entity = e

	m.dispatch = systems.NewPacketDispatchSystem(m.registry)
	for _, s := range []ecs.System{
		systems.NewConnectionSystem(m.dialer, netCfg.ConnectTimeout()),
		systems.NewNetworkReceiveSystem(netCfg.ReadChunkSize, netCfg.IOJoinTimeout()),
		systems.NewNetworkSendSystem(netCfg.WriteTimeout(), netCfg.IOJoinTimeout()),
		m.dispatch,
		systems.NewLoginSystem(netCfg.LoginTimeout()),
	} {
		// Systems only fail to add to a running world, and this one is new.
		_ = m.world.AddSystem(s)
	}

	m.scheduler = scheduler.NewScheduler(m.world, netCfg.TickRateHz, m.afterTick)

	m.prev = m.snapshot(false)
	m.publish(m.prev)

	m.logger.Info().
		Str("endpoint", e.Connection.Address()).
		Str("device", m.device.DeviceName).
		Str("platform", m.device.Platform).
		Int32("memory_mb", m.device.MemorySizeMB).
		Msg("network manager created")

	return m
}

// Connect arms reconnection toward host:port and starts the tick loop if it
// is not running. Calling it while connected to the same address only
// re-arms reconnection.
func (m *Manager) Connect(host string, port int) error {
	m.lifecycle.Lock()
	defer m.lifecycle.Unlock()

	m.emit(events.EventConnectRequested, events.ConnectRequestedPayload{Host: host, Port: port})

	if m.scheduler.Running() {
		return m.scheduler.Submit(func(w *ecs.World) { m.arm(w, host, port) })
	}

	m.arm(m.world, host, port)
	m.prev = m.snapshot(true)
	m.publish(m.prev)

	if err := m.scheduler.Start(context.Background()); err != nil {
		return err
	}
	m.logger.Info().Str("endpoint", m.entity.Connection.Address()).Msg("network manager started")
	return nil
}

// arm points the connection at host:port and enables reconnection. It runs
// on the tick goroutine, or directly while the loop is stopped.
func (m *Manager) arm(w *ecs.World, host string, port int) {
	conn := m.entity.Connection
	if conn.Host != host || conn.Port != port {
		if conn.Connected || conn.Link() != nil {
			m.logger.Info().Str("from", conn.Address()).Msg("endpoint changed, dropping connection")
			conn.Drop()
			m.entity.Login.Transition(ecs.StateDisconnected, w.Now())
		}
		conn.Host = host
		conn.Port = port
	}

	conn.ReconnectAttempts = 0
	conn.ShouldReconnect = true
	if m.entity.Login.State == ecs.StateLoginFailed {
		m.entity.Login.Transition(ecs.StateDisconnected, w.Now())
	}
}

// Disconnect stops the tick loop, closes the socket and joins the I/O loops.
// OnDisconnected fires once if the client was connected. Disconnect on a
// stopped manager does nothing.
func (m *Manager) Disconnect() {
	m.lifecycle.Lock()
	defer m.lifecycle.Unlock()

	if !m.scheduler.Running() {
		return
	}
	m.emit(events.EventDisconnectRequested, nil)

	if !m.scheduler.Stop(m.cfg.ShutdownTimeout()) {
		m.logger.Warn().Msg("tick loop did not exit in time, leaving component state untouched")
		return
	}

	e := m.entity
	e.Connection.Drop()
	e.Connection.ShouldReconnect = false
	if e.Login.State != ecs.StateLoginFailed {
		e.Login.Transition(ecs.StateDisconnected, m.world.Now())
	}

	m.afterTick(m.world, 0)
	m.logger.Info().Msg("network manager stopped")
}

// afterTick publishes the status snapshot and fires notifications for every
// edge since the previous tick.
func (m *Manager) afterTick(w *ecs.World, dt time.Duration) {
	cur := m.snapshot(m.scheduler.Running())
	m.notify(m.prev, cur)
	m.prev = cur
	m.publish(cur)
}

func (m *Manager) snapshot(running bool) Status {
	e := m.entity
	s := Status{
		Running:   running,
		UpdatedAt: m.world.Now(),
	}
	if e.Connection != nil {
		s.Address = e.Connection.Address()
		s.Connected = e.Connection.Connected
		s.ReconnectAttempts = e.Connection.ReconnectAttempts
		s.ShouldReconnect = e.Connection.ShouldReconnect
	}
	if e.Session != nil && e.Session.Initialized {
		s.SessionID = e.Session.ID
	}
	if e.Login != nil {
		s.State = e.Login.State
		s.FailMessage = e.Login.FailMessage
		s.err = systems.LoginError(e.Login)
	}
	return s
}

func (m *Manager) publish(s Status) {
	m.status.Store(&s)
}

func (m *Manager) notify(prev, cur Status) {
	session := events.SessionPayload{Address: cur.Address, SessionID: cur.SessionID, State: cur.State.String()}

	if !prev.Connected && cur.Connected {
		m.logger.Info().Str("addr", cur.Address).Msg("connected")
		call(m.handlers.OnConnected)
		m.emit(events.EventConnected, session)
	}

	if prev.State != cur.State {
		m.emit(events.EventStateChanged, events.StateChangedPayload{From: prev.State.String(), To: cur.State.String()})

		switch cur.State {
		case ecs.StateAuthenticated:
			m.logger.Info().Int32("session_id", cur.SessionID).Msg("login success")
			call(m.handlers.OnLoginSuccess)
			m.emit(events.EventLoginSuccess, session)
		case ecs.StateLoginFailed:
			m.logger.Warn().Str("reason", cur.FailMessage).Msg("login failed")
			if m.handlers.OnLoginFailed != nil {
				m.handlers.OnLoginFailed(cur.FailMessage)
			}
			m.emit(events.EventLoginFailed, events.LoginFailedPayload{Address: cur.Address, Reason: cur.FailMessage})
		}
	}

	if prev.Connected && !cur.Connected {
		m.logger.Info().Str("addr", cur.Address).Msg("disconnected")
		call(m.handlers.OnDisconnected)
		m.emit(events.EventDisconnected, session)
	}
}

func call(fn func()) {
	if fn != nil {
		fn()
	}
}

func (m *Manager) emit(t events.EventType, payload interface{}) {
	if m.eventBus == nil {
		return
	}
	m.eventBus.Emit(context.Background(), events.Event{
		Type:    t,
		Source:  eventSource,
		Time:    m.world.Now(),
		Payload: payload,
	})
}

// Status returns the snapshot published after the latest tick.
func (m *Manager) Status() Status {
	return *m.status.Load()
}

// LoginState returns the current login state.
func (m *Manager) LoginState() ecs.LoginState {
	return m.Status().State
}

// IsConnected reports whether a socket is established.
func (m *Manager) IsConnected() bool {
	return m.Status().Connected
}

// SessionID returns the id assigned by the server, or 0 before Init.
func (m *Manager) SessionID() int32 {
	return m.Status().SessionID
}

// Device returns the device snapshot sent during authentication.
func (m *Manager) Device() ecs.DeviceInfo {
	return *m.device
}

// DispatchStats returns how many inbound packets were handled and dropped.
func (m *Manager) DispatchStats() (handled, dropped uint64) {
	return m.dispatch.Stats()
}

// Running reports whether the tick loop is active.
func (m *Manager) Running() bool {
	return m.scheduler.Running()
}
