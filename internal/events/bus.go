package events

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// HandlerFunc reacts to one event. A returned error is logged; EmitSync
// also reports the first one to its caller.
type HandlerFunc func(ctx context.Context, event Event) error

// DefaultHistorySize is the number of recent events kept for inspection.
const DefaultHistorySize = 128

type subscriber struct {
	name string
	fn   HandlerFunc
}

// EventBus fans session notifications out to named subscribers and keeps
// a bounded history for the status API and the CLI. Once stopped it
// drops everything it is given.
type EventBus struct {
	mu       sync.RWMutex
	subs     map[EventType][]subscriber
	stopped  bool
	inflight sync.WaitGroup
	stopOnce sync.Once

	history *ring
}

// NewEventBus creates a bus with DefaultHistorySize of history.
func NewEventBus() *EventBus {
	return NewEventBusWithHistory(DefaultHistorySize)
}

// NewEventBusWithHistory creates a bus that remembers the last n events.
// n <= 0 disables history.
func NewEventBusWithHistory(n int) *EventBus {
	return &EventBus{
		subs:    make(map[EventType][]subscriber),
		history: newRing(n),
	}
}

// Subscribe adds fn under name. Names need not be unique, but Unsubscribe
// removes every subscriber sharing one.
func (eb *EventBus) Subscribe(eventType EventType, name string, fn HandlerFunc) {
	eb.mu.Lock()
	eb.subs[eventType] = append(eb.subs[eventType], subscriber{name: name, fn: fn})
	eb.mu.Unlock()

	log.Debug().Str("event", string(eventType)).Str("handler", name).Msg("handler subscribed")
}

// Unsubscribe drops every subscriber named name from eventType.
func (eb *EventBus) Unsubscribe(eventType EventType, name string) {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	kept := eb.subs[eventType][:0:0]
	for _, s := range eb.subs[eventType] {
		if s.name != name {
			kept = append(kept, s)
		}
	}
	if len(kept) == 0 {
		delete(eb.subs, eventType)
	} else {
		eb.subs[eventType] = kept
	}

	log.Debug().Str("event", string(eventType)).Str("handler", name).Msg("handler unsubscribed")
}

// HandlerCount reports how many subscribers eventType has.
func (eb *EventBus) HandlerCount(eventType EventType) int {
	eb.mu.RLock()
	defer eb.mu.RUnlock()
	return len(eb.subs[eventType])
}

// Emit records event and hands it to each subscriber on its own goroutine.
// It never blocks on a handler.
func (eb *EventBus) Emit(ctx context.Context, event Event) {
	eb.mu.RLock()
	defer eb.mu.RUnlock()
	if eb.stopped {
		return
	}

	event = eb.stamp(event)
	subs := eb.subs[event.Type]
	if len(subs) > 0 {
		log.Trace().Str("event", string(event.Type)).Int("handlers", len(subs)).Msg("emitting event")
	}

	// Added under the read lock so Stop cannot start waiting in between.
	eb.inflight.Add(len(subs))
	for _, s := range subs {
		go func(s subscriber) {
			defer eb.inflight.Done()
			deliver(ctx, event, s)
		}(s)
	}
}

// EmitSync records event, runs every subscriber concurrently and waits for
// all of them. It returns the first handler error in subscription order.
func (eb *EventBus) EmitSync(ctx context.Context, event Event) error {
	eb.mu.RLock()
	if eb.stopped {
		eb.mu.RUnlock()
		return nil
	}
	event = eb.stamp(event)
	subs := append([]subscriber(nil), eb.subs[event.Type]...)
	eb.mu.RUnlock()

	errs := make([]error, len(subs))
	var wg sync.WaitGroup
	wg.Add(len(subs))
	for i, s := range subs {
		go func(i int, s subscriber) {
			defer wg.Done()
			errs[i] = deliver(ctx, event, s)
		}(i, s)
	}
	wg.Wait()

	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}

// Stop makes the bus drop further events and waits for asynchronous
// handlers already started. Calling it again is a no-op.
func (eb *EventBus) Stop() {
	eb.stopOnce.Do(func() {
		eb.mu.Lock()
		eb.stopped = true
		eb.mu.Unlock()

		eb.inflight.Wait()
		log.Info().Msg("event bus stopped")
	})
}

// Recent returns up to n of the most recent events, oldest first.
// n <= 0 returns the whole history.
func (eb *EventBus) Recent(n int) []Event {
	return eb.history.last(n)
}

func (eb *EventBus) stamp(event Event) Event {
	if event.Time.IsZero() {
		event.Time = time.Now()
	}
	eb.history.push(event)
	return event
}

// deliver runs one handler, turning a panic into an error.
func deliver(ctx context.Context, event Event, s subscriber) (err error) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Str("event", string(event.Type)).Str("handler", s.name).
				Interface("panic", r).Msg("handler panicked")
			err = fmt.Errorf("handler %s panicked: %v", s.name, r)
		}
	}()

	if err = s.fn(ctx, event); err != nil {
		log.Error().Err(err).Str("event", string(event.Type)).Str("handler", s.name).
			Msg("handler returned error")
	}
	return err
}

// ring is a fixed-size event history. A zero-size ring stores nothing.
type ring struct {
	mu    sync.Mutex
	buf   []Event
	next  int
	count int
}

func newRing(size int) *ring {
	if size < 0 {
		size = 0
	}
	return &ring{buf: make([]Event, size)}
}

func (r *ring) push(e Event) {
	if len(r.buf) == 0 {
		return
	}
	r.mu.Lock()
	r.buf[r.next] = e
	r.next = (r.next + 1) % len(r.buf)
	if r.count < len(r.buf) {
		r.count++
	}
	r.mu.Unlock()
}

func (r *ring) last(n int) []Event {
	r.mu.Lock()
	defer r.mu.Unlock()

	if n <= 0 || n > r.count {
		n = r.count
	}
	out := make([]Event, n)
	start := r.next - n
	if start < 0 {
		start += len(r.buf)
	}
	for i := range out {
		out[i] = r.buf[(start+i)%len(r.buf)]
	}
	return out
}
