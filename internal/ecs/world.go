package ecs

import (
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// System is a unit of logic ticked once per frame. Initialize and Shutdown
// bracket a run of the world; systems that own background loops start and
// join them there.
type System interface {
	Name() string
	Initialize(w *World) error
	Update(w *World, dt time.Duration)
	Shutdown(w *World)
}

// Clock returns the current time. Tests replace it to simulate elapsed time.
type Clock func() time.Time

// World holds entities and the ordered system list.
// Entities and systems are registered before the world starts running;
// the entity list is read-only while running.
type World struct {
	mu       sync.Mutex
	entities []*Entity
	systems  []System
	running  bool
	clock    Clock
	logger   zerolog.Logger
}

// NewWorld creates an empty world using the wall clock.
func NewWorld() *World {
	return &World{
		clock:  time.Now,
		logger: log.With().Str("component", "ecs_world").Logger(),
	}
}

// SetClock replaces the time source. Passing nil restores the wall clock.
func (w *World) SetClock(c Clock) {
	if c == nil {
		c = time.Now
	}
	w.clock = c
}

// Now returns the world's current time.
func (w *World) Now() time.Time {
	return w.clock()
}

// CreateEntity creates and registers a new entity.
func (w *World) CreateEntity() *Entity {
	e := NewEntity()
	w.AddEntity(e)
	return e
}

// AddEntity registers an existing entity.
func (w *World) AddEntity(e *Entity) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.entities = append(w.entities, e)
}

// Entities returns the registered entities.
func (w *World) Entities() []*Entity {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]*Entity, len(w.entities))
	copy(out, w.entities)
	return out
}

// Each calls fn for every entity matching the filter.
func (w *World) Each(match func(*Entity) bool, fn func(*Entity)) {
	for _, e := range w.Entities() {
		if match == nil || match(e) {
			fn(e)
		}
	}
}

// AddSystem appends a system to the tick order. A system added to a running
// world is initialized immediately.
func (w *World) AddSystem(s System) error {
	w.mu.Lock()
	w.systems = append(w.systems, s)
	running := w.running
	w.mu.Unlock()

	if running {
		return s.Initialize(w)
	}
	return nil
}

// Systems returns the systems in tick order.
func (w *World) Systems() []System {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]System, len(w.systems))
	copy(out, w.systems)
	return out
}

// Running reports whether the world has been initialized and not shut down.
func (w *World) Running() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.running
}

// Initialize starts every system in order. If one fails, the systems
// already started are shut down again in reverse order.
func (w *World) Initialize() error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return nil
	}
	systems := make([]System, len(w.systems))
	copy(systems, w.systems)
	w.mu.Unlock()

	for i, s := range systems {
		if err := s.Initialize(w); err != nil {
			for j := i - 1; j >= 0; j-- {
				systems[j].Shutdown(w)
			}
			return err
		}
		w.logger.Debug().Str("system", s.Name()).Msg("system initialized")
	}

	w.mu.Lock()
	w.running = true
	w.mu.Unlock()
	return nil
}

// Update ticks every system in order. It does nothing unless the world is running.
func (w *World) Update(dt time.Duration) {
	if !w.Running() {
		return
	}
	for _, s := range w.Systems() {
		s.Update(w, dt)
	}
}

// Shutdown stops every system in registration order.
func (w *World) Shutdown() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	w.running = false
	systems := make([]System, len(w.systems))
	copy(systems, w.systems)
	w.mu.Unlock()

	for _, s := range systems {
		s.Shutdown(w)
		w.logger.Debug().Str("system", s.Name()).Msg("system shut down")
	}
}
