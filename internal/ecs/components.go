package ecs

import (
	"fmt"
	"net"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/tramquy-network/arriety/internal/protocol"
)

// DefaultMaxReconnectAttempts is the reconnect ceiling used when none is configured.
const DefaultMaxReconnectAttempts = 5

// NetworkConnection describes the login server endpoint and the socket state.
//
// The flag and counter fields are written only by the scheduler goroutine
// (connection system, packet handlers, manager commands). The live socket is
// published through an atomic pointer so the I/O loops can load it safely.
type NetworkConnection struct {
	Host string
	Port int

	Connected       bool
	Connecting      bool
	ShouldReconnect bool

	ReconnectAttempts     int
	MaxReconnectAttempts  int
	LastConnectionAttempt time.Time

	link atomic.Pointer[Link]
}

// NewNetworkConnection creates a disconnected connection component.
func NewNetworkConnection(host string, port, maxAttempts int) *NetworkConnection {
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxReconnectAttempts
	}
	return &NetworkConnection{
		Host:                 host,
		Port:                 port,
		MaxReconnectAttempts: maxAttempts,
	}
}

// Address returns host:port.
func (c *NetworkConnection) Address() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// Link returns the live socket handle, or nil when there is none.
// Safe to call from any goroutine.
func (c *NetworkConnection) Link() *Link {
	return c.link.Load()
}

// Attach publishes a freshly established socket and marks the component connected.
func (c *NetworkConnection) Attach(conn net.Conn) *Link {
	l := NewLink(conn)
	if old := c.link.Swap(l); old != nil {
		old.Close()
	}
	c.Connected = true
	c.Connecting = false
	return l
}

// Drop closes and clears the socket handle and marks the component disconnected.
// Reconnection flags are left to the caller.
func (c *NetworkConnection) Drop() {
	if l := c.link.Swap(nil); l != nil {
		l.Close()
	}
	c.Connected = false
	c.Connecting = false
}

// PacketBuffer carries the receive accumulator and the two frame queues.
//
// The assembler belongs to the receive loop. SendQueue holds complete
// outbound frames and is consumed by the send loop; ReceiveQueue holds
// decoded inbound packets and is drained by the dispatcher on each tick.
// Both queues are bounded channels.
type PacketBuffer struct {
	Assembler    *protocol.FrameAssembler
	SendQueue    chan []byte
	ReceiveQueue chan protocol.Packet
}

// NewPacketBuffer creates a buffer with the given accumulator capacity and queue sizes.
func NewPacketBuffer(capacity, sendQueueSize, receiveQueueSize int) *PacketBuffer {
	return &PacketBuffer{
		Assembler:    protocol.NewFrameAssembler(capacity),
		SendQueue:    make(chan []byte, sendQueueSize),
		ReceiveQueue: make(chan protocol.Packet, receiveQueueSize),
	}
}

// DrainSend discards every queued outbound frame and returns how many were dropped.
func (b *PacketBuffer) DrainSend() int {
	n := 0
	for {
		select {
		case <-b.SendQueue:
			n++
		default:
			return n
		}
	}
}

// Session holds the id assigned by the server's Init message.
type Session struct {
	ID          int32
	Initialized bool
	StartedAt   time.Time
}

// Init records the session id handed out by the server.
func (s *Session) Init(id int32, now time.Time) {
	s.ID = id
	s.Initialized = true
	s.StartedAt = now
}

// Reset returns the session to its uninitialized state.
func (s *Session) Reset() {
	*s = Session{}
}

// LoginState is the position of the login handshake state machine.
type LoginState int

const (
	StateDisconnected LoginState = iota
	StateConnecting
	StateWaitingForInit
	StateAuthenticating
	StateAuthenticated
	StateLoginFailed
)

var loginStateStrings = map[LoginState]string{
	StateDisconnected:   "disconnected",
	StateConnecting:     "connecting",
	StateWaitingForInit: "waiting_for_init",
	StateAuthenticating: "authenticating",
	StateAuthenticated:  "authenticated",
	StateLoginFailed:    "login_failed",
}

// String returns the string representation of LoginState.
func (s LoginState) String() string {
	if str, ok := loginStateStrings[s]; ok {
		return str
	}
	return fmt.Sprintf("unknown(%d)", int(s))
}

// MarshalJSON serializes LoginState as a JSON string (e.g. "authenticated").
func (s LoginState) MarshalJSON() ([]byte, error) {
	return []byte(`"` + s.String() + `"`), nil
}

// LoginVerdict is a login response held until the client has sent its
// authentication.
type LoginVerdict struct {
	Result  protocol.LoginResult
	Message string
}

// LoginStateComponent tracks the handshake state for one connection attempt.
//
// Pending holds a response that arrived after Init but before AuthGG was
// queued. It only survives while the state is WaitingForInit.
// OnTransition, when set, is called on the tick goroutine whenever the state
// actually changes.
type LoginStateComponent struct {
	State           LoginState
	FailMessage     string
	LastStateChange time.Time
	AuthSent        bool
	Pending         *LoginVerdict

	OnTransition func(from, to LoginState)
}

// Transition moves to state and stamps the time of the change.
func (l *LoginStateComponent) Transition(state LoginState, now time.Time) {
	from := l.State
	l.State = state
	l.LastStateChange = now
	if state != StateLoginFailed {
		l.FailMessage = ""
	}
	if state != StateWaitingForInit {
		l.Pending = nil
	}
	if l.OnTransition != nil && from != state {
		l.OnTransition(from, state)
	}
}

// TakePending returns the deferred response, if any, and clears it.
func (l *LoginStateComponent) TakePending() *LoginVerdict {
	v := l.Pending
	l.Pending = nil
	return v
}

// Fail moves to LoginFailed with the given message.
func (l *LoginStateComponent) Fail(message string, now time.Time) {
	l.Transition(StateLoginFailed, now)
	l.FailMessage = message
}

// DeviceInfo is the device snapshot sent during authentication.
// It is captured once when the network entity is created.
type DeviceInfo struct {
	Platform     string `json:"platform"`
	MemorySizeMB int32  `json:"memory_mb"`
	DeviceName   string `json:"device_name"`
}
