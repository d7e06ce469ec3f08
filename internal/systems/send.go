package systems

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/tramquy-network/arriety/internal/ecs"
	"github.com/tramquy-network/arriety/internal/protocol"
)

const (
	// DefaultWriteTimeout bounds a single frame write.
	DefaultWriteTimeout = 5 * time.Second

	sendIdleDelay = 2 * time.Millisecond
)

var (
	// ErrSendQueueFull is returned when the outbound queue has no room.
	ErrSendQueueFull = errors.New("send queue full")

	// ErrNoPacketBuffer is returned when sending on an entity without a PacketBuffer.
	ErrNoPacketBuffer = errors.New("entity has no packet buffer")
)

// SendPacket encodes p as opcode+payload, frames it and enqueues it for the
// send loop.
func SendPacket(e *ecs.Entity, p protocol.ClientPacket) error {
	body, err := protocol.EncodeBody(p)
	if err != nil {
		return fmt.Errorf("encode packet 0x%02X: %w", p.Opcode(), err)
	}
	return SendRaw(e, body)
}

// SendRaw frames an already encoded opcode+payload body and enqueues it.
// It never blocks.
func SendRaw(e *ecs.Entity, body []byte) error {
	if e.Buffer == nil {
		return ErrNoPacketBuffer
	}
	frame, err := protocol.Frame(body)
	if err != nil {
		return err
	}
	select {
	case e.Buffer.SendQueue <- frame:
		return nil
	default:
		return ErrSendQueueFull
	}
}

// NetworkSendSystem runs a background loop that writes queued frames to
// the live socket, at most one frame per entity per iteration.
type NetworkSendSystem struct {
	writeTimeout time.Duration
	joinTimeout  time.Duration
	logger       zerolog.Logger

	mu   sync.Mutex
	stop chan struct{}
	done chan struct{}
}

// NewNetworkSendSystem creates the send system.
func NewNetworkSendSystem(writeTimeout, joinTimeout time.Duration) *NetworkSendSystem {
	if writeTimeout <= 0 {
		writeTimeout = DefaultWriteTimeout
	}
	if joinTimeout <= 0 {
		joinTimeout = DefaultJoinTimeout
	}
	return &NetworkSendSystem{
		writeTimeout: writeTimeout,
		joinTimeout:  joinTimeout,
		logger:       log.With().Str("component", "send_system").Logger(),
	}
}

// Name implements ecs.System.
func (s *NetworkSendSystem) Name() string { return "network_send" }

// Initialize starts the send loop.
func (s *NetworkSendSystem) Initialize(w *ecs.World) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stop != nil {
		return nil
	}
	s.stop = make(chan struct{})
	s.done = make(chan struct{})
	go s.run(w, s.stop, s.done)

	s.logger.Info().Msg("send loop started")
	return nil
}

// Update implements ecs.System. All work happens on the background loop.
func (s *NetworkSendSystem) Update(w *ecs.World, dt time.Duration) {}

// Shutdown stops the send loop and waits a bounded time for it to exit.
func (s *NetworkSendSystem) Shutdown(w *ecs.World) {
	s.mu.Lock()
	stop, done := s.stop, s.done
	s.stop, s.done = nil, nil
	s.mu.Unlock()

	if stop == nil {
		return
	}
	close(stop)
	stopLoop(s.logger, done, s.joinTimeout)
}

func (s *NetworkSendSystem) run(w *ecs.World, stop, done chan struct{}) {
	defer close(done)

	for {
		select {
		case <-stop:
			return
		default:
		}

		if !s.iterate(w, stop) {
			sleep(stop, sendIdleDelay)
		}
	}
}

// iterate writes at most one frame per entity and reports whether any was written.
func (s *NetworkSendSystem) iterate(w *ecs.World, stop chan struct{}) (sent bool) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error().Interface("panic", r).Msg("send loop recovered from panic")
			sleep(stop, panicCooldown)
		}
	}()

	for _, e := range w.Entities() {
		if !e.HasNetworking() {
			continue
		}
		l := e.Connection.Link()
		if l == nil || l.IsLost() {
			continue
		}

		var frame []byte
		select {
		case frame = <-e.Buffer.SendQueue:
		default:
			continue
		}

		conn := l.Conn()
		_ = conn.SetWriteDeadline(time.Now().Add(s.writeTimeout))
		if _, err := conn.Write(frame); err != nil {
			if !l.IsLost() {
				s.logger.Warn().Err(err).Msg("socket write failed")
			}
			l.Fail(err)
			continue
		}
		sent = true

		s.logger.Debug().
			Int("size", len(frame)).
			Str("opcode", fmt.Sprintf("0x%02X", frame[protocol.LengthPrefixSize])).
			Msg("frame sent")
	}
	return sent
}
