package systems

import (
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/tramquy-network/arriety/internal/ecs"
	"github.com/tramquy-network/arriety/internal/protocol"
)

// ErrUnknownOpcode is returned for inbound frames with no registered handler.
var ErrUnknownOpcode = errors.New("unknown opcode")

// ServerPacket is an inbound message that decodes itself and then runs
// without access to the world.
type ServerPacket interface {
	Read(r *protocol.Reader) error
	Run() error
}

// EntityPacket is an inbound message processed against its owning entity.
// The dispatcher prefers it over ServerPacket when a handler implements both.
type EntityPacket interface {
	ProcessEntity(w *ecs.World, e *ecs.Entity, r *protocol.Reader) error
}

// Registry maps an inbound opcode to a factory for its handler.
type Registry map[byte]func() ServerPacket

// DefaultRegistry returns the handlers for the login server messages.
func DefaultRegistry() Registry {
	return Registry{
		protocol.OpInit:          func() ServerPacket { return &InitHandler{} },
		protocol.OpLoginResponse: func() ServerPacket { return &LoginResponseHandler{} },
	}
}

// DispatchError wraps a handler failure with the opcode that produced it.
type DispatchError struct {
	Opcode byte
	Err    error
}

func (e *DispatchError) Error() string {
	return fmt.Sprintf("dispatch opcode 0x%02X: %v", e.Opcode, e.Err)
}

func (e *DispatchError) Unwrap() error { return e.Err }

// PacketDispatchSystem drains each entity's receive queue on every tick and
// routes every packet to its registered handler. Handler failures are
// logged and never stop the loop.
type PacketDispatchSystem struct {
	registry Registry
	logger   zerolog.Logger

	handled atomic.Uint64
	dropped atomic.Uint64
}

// NewPacketDispatchSystem creates the dispatcher. A nil registry uses DefaultRegistry.
func NewPacketDispatchSystem(registry Registry) *PacketDispatchSystem {
	if registry == nil {
		registry = DefaultRegistry()
	}
	return &PacketDispatchSystem{
		registry: registry,
		logger:   log.With().Str("component", "dispatch_system").Logger(),
	}
}

// Name implements ecs.System.
func (s *PacketDispatchSystem) Name() string { return "packet_dispatch" }

// Initialize implements ecs.System.
func (s *PacketDispatchSystem) Initialize(w *ecs.World) error {
	s.logger.Info().Int("handlers", len(s.registry)).Msg("packet dispatch initialized")
	return nil
}

// Update processes every packet queued since the previous tick, in arrival order.
func (s *PacketDispatchSystem) Update(w *ecs.World, dt time.Duration) {
	w.Each(func(e *ecs.Entity) bool { return e.Buffer != nil }, func(e *ecs.Entity) {
		for {
			select {
			case p := <-e.Buffer.ReceiveQueue:
				if err := s.Dispatch(w, e, p); err != nil {
					s.dropped.Add(1)
					if errors.Is(err, ErrUnknownOpcode) {
						s.logger.Warn().Str("opcode", fmt.Sprintf("0x%02X", p.Opcode)).Msg("dropping packet with unknown opcode")
					} else {
						s.logger.Error().Err(err).Msg("packet handler failed")
					}
					continue
				}
				s.handled.Add(1)
			default:
				return
			}
		}
	})
}

// Dispatch routes a single packet. A panic inside the handler is returned
// as an error.
func (s *PacketDispatchSystem) Dispatch(w *ecs.World, e *ecs.Entity, p protocol.Packet) (err error) {
	factory, ok := s.registry[p.Opcode]
	if !ok {
		return &DispatchError{Opcode: p.Opcode, Err: ErrUnknownOpcode}
	}

	defer func() {
		if r := recover(); r != nil {
			err = &DispatchError{Opcode: p.Opcode, Err: fmt.Errorf("handler panic: %v", r)}
		}
	}()

	handler := factory()
	r := protocol.NewReader(p.Payload)

	if ep, ok := handler.(EntityPacket); ok {
		err = ep.ProcessEntity(w, e, r)
	} else if err = handler.Read(r); err == nil {
		err = handler.Run()
	}
	if err != nil {
		return &DispatchError{Opcode: p.Opcode, Err: err}
	}
	return nil
}

// Stats returns the number of packets handled and dropped so far.
func (s *PacketDispatchSystem) Stats() (handled, dropped uint64) {
	return s.handled.Load(), s.dropped.Load()
}

// Shutdown implements ecs.System.
func (s *PacketDispatchSystem) Shutdown(w *ecs.World) {
	handled, dropped := s.Stats()
	s.logger.Info().Uint64("handled", handled).Uint64("dropped", dropped).Msg("packet dispatch shut down")
}
