package systems

import (
	"errors"
	"io"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/tramquy-network/arriety/internal/ecs"
)

const (
	// DefaultReadChunkSize is the size of a single socket read.
	DefaultReadChunkSize = 4096

	// DefaultJoinTimeout bounds how long Shutdown waits for an I/O loop to exit.
	DefaultJoinTimeout = time.Second

	readPollInterval = 20 * time.Millisecond
	idleDelay        = time.Millisecond
	panicCooldown    = 100 * time.Millisecond
)

// NetworkReceiveSystem runs a background loop that reads from every live
// socket, reassembles frames and pushes them onto the entity's receive
// queue. Its per-tick Update does nothing.
type NetworkReceiveSystem struct {
	chunkSize   int
	joinTimeout time.Duration
	logger      zerolog.Logger

	mu   sync.Mutex
	stop chan struct{}
	done chan struct{}
}

// NewNetworkReceiveSystem creates the receive system.
func NewNetworkReceiveSystem(chunkSize int, joinTimeout time.Duration) *NetworkReceiveSystem {
	if chunkSize <= 0 {
		chunkSize = DefaultReadChunkSize
	}
	if joinTimeout <= 0 {
		joinTimeout = DefaultJoinTimeout
	}
	return &NetworkReceiveSystem{
		chunkSize:   chunkSize,
		joinTimeout: joinTimeout,
		logger:      log.With().Str("component", "receive_system").Logger(),
	}
}

// Name implements ecs.System.
func (s *NetworkReceiveSystem) Name() string { return "network_receive" }

// Initialize starts the receive loop.
func (s *NetworkReceiveSystem) Initialize(w *ecs.World) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stop != nil {
		return nil
	}
	s.stop = make(chan struct{})
	s.done = make(chan struct{})
	go s.run(w, s.stop, s.done)

	s.logger.Info().Msg("receive loop started")
	return nil
}

// Update implements ecs.System. All work happens on the background loop.
func (s *NetworkReceiveSystem) Update(w *ecs.World, dt time.Duration) {}

// Shutdown stops the receive loop and waits a bounded time for it to exit.
func (s *NetworkReceiveSystem) Shutdown(w *ecs.World) {
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

func (s *NetworkReceiveSystem) run(w *ecs.World, stop, done chan struct{}) {
	defer close(done)

	chunk := make([]byte, s.chunkSize)
	seen := make(map[uuid.UUID]*ecs.Link)

	for {
		select {
		case <-stop:
			return
		default:
		}

		if !s.iterate(w, chunk, seen, stop) {
			sleep(stop, idleDelay)
		}
	}
}

// iterate polls every live socket once and reports whether any was polled.
// A panic is logged and followed by a short cooldown.
func (s *NetworkReceiveSystem) iterate(w *ecs.World, chunk []byte, seen map[uuid.UUID]*ecs.Link, stop chan struct{}) (polled bool) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error().Interface("panic", r).Msg("receive loop recovered from panic")
			sleep(stop, panicCooldown)
			polled = true
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
		polled = true

		if seen[e.ID] != l {
			e.Buffer.Assembler.Reset()
			seen[e.ID] = l
		}
		s.poll(e, l, chunk, stop)
	}
	return polled
}

// poll performs one bounded read on the link and forwards complete frames.
func (s *NetworkReceiveSystem) poll(e *ecs.Entity, l *ecs.Link, chunk []byte, stop chan struct{}) {
	conn := l.Conn()
	_ = conn.SetReadDeadline(time.Now().Add(readPollInterval))

	n, err := conn.Read(chunk)
	if n > 0 {
		packets, ferr := e.Buffer.Assembler.Feed(chunk[:n])
		for _, p := range packets {
			select {
			case e.Buffer.ReceiveQueue <- p:
			case <-stop:
				return
			case <-l.Lost():
				return
			}
		}
		if ferr != nil {
			s.logger.Error().Err(ferr).Str("addr", conn.RemoteAddr().String()).Msg("protocol violation, dropping connection")
			e.Buffer.Assembler.Reset()
			l.Fail(ferr)
			return
		}
	}

	if err == nil {
		return
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return
	}
	if errors.Is(err, io.EOF) {
		s.logger.Info().Msg("server closed the connection")
	} else if !l.IsLost() {
		s.logger.Warn().Err(err).Msg("socket read failed")
	}
	l.Fail(err)
}

// sleep waits for d or until stop is closed.
func sleep(stop <-chan struct{}, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
	case <-stop:
	}
}

// stopLoop waits for done up to timeout.
func stopLoop(logger zerolog.Logger, done <-chan struct{}, timeout time.Duration) {
	select {
	case <-done:
	case <-time.After(timeout):
		logger.Warn().Dur("timeout", timeout).Msg("loop did not exit in time")
	}
}
