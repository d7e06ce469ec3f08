// Package events defines the session notifications published by the
// network client and the bus that fans them out to observers.
package events

import "time"

// EventType represents the type of event emitted through the EventBus.
type EventType string

const (
	// Session lifecycle events
	EventConnected    EventType = "connected"
	EventDisconnected EventType = "disconnected"
	EventLoginSuccess EventType = "login_success"
	EventLoginFailed  EventType = "login_failed"
	EventStateChanged EventType = "state_changed"

	// Control events
	EventConnectRequested    EventType = "connect_requested"
	EventDisconnectRequested EventType = "disconnect_requested"
	EventShutdown            EventType = "shutdown"

	// Health events
	EventHeartbeat     EventType = "heartbeat"
	EventHealthWarning EventType = "health_warning"
)

// SessionEventTypes lists the events an observer usually wants to follow.
var SessionEventTypes = []EventType{
	EventConnected,
	EventDisconnected,
	EventLoginSuccess,
	EventLoginFailed,
	EventStateChanged,
}

// Event represents a single event in the system.
type Event struct {
	Type    EventType   `json:"type"`
	Source  string      `json:"source"`
	Time    time.Time   `json:"time"`
	Payload interface{} `json:"payload,omitempty"`
}

// SessionPayload accompanies connected, disconnected and login_success events.
type SessionPayload struct {
	Address   string `json:"address"`
	SessionID int32  `json:"session_id"`
	State     string `json:"state"`
}

// LoginFailedPayload carries the reason the server (or the timeout) gave.
type LoginFailedPayload struct {
	Address string `json:"address"`
	Reason  string `json:"reason"`
}

// StateChangedPayload is emitted on every login state transition.
type StateChangedPayload struct {
	From string `json:"from"`
	To   string `json:"to"`
}

// ConnectRequestedPayload is emitted when a caller asks for a (re)connect.
type ConnectRequestedPayload struct {
	Host string `json:"host"`
	Port int    `json:"port"`
}

// HeartbeatPayload is the periodic status summary published by the health monitor.
type HeartbeatPayload struct {
	Address        string  `json:"address"`
	State          string  `json:"state"`
	Connected      bool    `json:"connected"`
	SessionID      int32   `json:"session_id"`
	PacketsHandled uint64  `json:"packets_handled"`
	PacketsDropped uint64  `json:"packets_dropped"`
	MemoryUsedPct  float64 `json:"memory_used_percent,omitempty"`
	UptimeSeconds  int64   `json:"uptime_seconds"`
}

// HealthWarningPayload describes a condition the health monitor flagged.
type HealthWarningPayload struct {
	Check   string `json:"check"`
	Message string `json:"message"`
	Level   string `json:"level"`
}
