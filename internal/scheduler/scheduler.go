// Package scheduler drives an ECS world at a fixed tick rate on a dedicated
// goroutine. Every mutation of component state happens on that goroutine,
// either inside a system's Update or inside a command submitted to the loop.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/tramquy-network/arriety/internal/ecs"
)

// DefaultTickRate is the target number of world updates per second.
const DefaultTickRate = 60

const (
	commandQueueSize = 16
	panicCooldown    = 100 * time.Millisecond
)

var (
	// ErrNotRunning is returned when submitting a command to a stopped loop.
	ErrNotRunning = errors.New("scheduler not running")

	// ErrAlreadyRunning is returned by Start on a running loop.
	ErrAlreadyRunning = errors.New("scheduler already running")
)

// Command is a unit of work executed on the tick goroutine between ticks.
type Command func(w *ecs.World)

// TickFunc is called on the tick goroutine after every world update.
type TickFunc func(w *ecs.World, dt time.Duration)

// Scheduler runs the world's systems at a fixed cadence.
type Scheduler struct {
	world     *ecs.World
	interval  time.Duration
	afterTick TickFunc
	logger    zerolog.Logger

	mu       sync.Mutex
	cancel   context.CancelFunc
	done     chan struct{}
	commands chan Command
}

// NewScheduler creates a scheduler for world ticking tickRate times per second.
// afterTick may be nil.
func NewScheduler(world *ecs.World, tickRate int, afterTick TickFunc) *Scheduler {
	if tickRate <= 0 {
		tickRate = DefaultTickRate
	}
	return &Scheduler{
		world:     world,
		interval:  time.Second / time.Duration(tickRate),
		afterTick: afterTick,
		logger:    log.With().Str("component", "scheduler").Logger(),
	}
}

// Interval returns the target duration of one tick.
func (s *Scheduler) Interval() time.Duration {
	return s.interval
}

// Running reports whether the tick loop is active.
func (s *Scheduler) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cancel != nil
}

// Start initializes the world's systems and starts the tick loop.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancel != nil {
		return ErrAlreadyRunning
	}
	if err := s.world.Initialize(); err != nil {
		return fmt.Errorf("initialize world: %w", err)
	}

	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	s.commands = make(chan Command, commandQueueSize)
	go s.run(ctx, s.done, s.commands)

	s.logger.Info().Dur("interval", s.interval).Msg("scheduler started")
	return nil
}

// Submit queues cmd for execution on the tick goroutine before the next tick.
func (s *Scheduler) Submit(cmd Command) error {
	s.mu.Lock()
	commands := s.commands
	running := s.cancel != nil
	s.mu.Unlock()

	if !running {
		return ErrNotRunning
	}
	select {
	case commands <- cmd:
		return nil
	default:
		return fmt.Errorf("submit command: queue full (%d)", commandQueueSize)
	}
}

// Stop ends the tick loop and waits up to timeout for it to exit. The
// world's systems are shut down on the tick goroutine as it exits. Stop
// reports whether the loop exited within the timeout.
func (s *Scheduler) Stop(timeout time.Duration) bool {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel, s.done, s.commands = nil, nil, nil
	s.mu.Unlock()

	if cancel == nil {
		return true
	}
	cancel()

	select {
	case <-done:
		s.logger.Info().Msg("scheduler stopped")
		return true
	case <-time.After(timeout):
		s.logger.Warn().Dur("timeout", timeout).Msg("scheduler did not stop in time")
		return false
	}
}

func (s *Scheduler) run(ctx context.Context, done chan struct{}, commands chan Command) {
	defer close(done)
	defer s.world.Shutdown()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	last := time.Now()
	for {
		select {
		case <-ctx.Done():
			return
		case cmd := <-commands:
			s.guard("command", func() { cmd(s.world) })
		case now := <-ticker.C:
			dt := now.Sub(last)
			last = now
			s.guard("tick", func() { s.tick(dt) })
		}
	}
}

func (s *Scheduler) tick(dt time.Duration) {
	s.world.Update(dt)
	if s.afterTick != nil {
		s.afterTick(s.world, dt)
	}
}

// guard runs fn, logging and cooling down after a panic so the loop survives.
func (s *Scheduler) guard(what string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error().Str("stage", what).Interface("panic", r).Msg("scheduler recovered from panic")
			time.Sleep(panicCooldown)
		}
	}()
	fn()
}
