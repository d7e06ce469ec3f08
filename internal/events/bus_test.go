package events

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
)

func TestEmitSyncRunsHandlers(t *testing.T) {
	bus := NewEventBus()
	defer bus.Stop()

	var calls atomic.Int32
	bus.Subscribe(EventConnected, "counter", func(ctx context.Context, e Event) error {
		calls.Add(1)
		return nil
	})
	bus.Subscribe(EventConnected, "failing", func(ctx context.Context, e Event) error {
		return errors.New("handler failed")
	})
	bus.Subscribe(EventConnected, "panicking", func(ctx context.Context, e Event) error {
		panic("boom")
	})

	err := bus.EmitSync(context.Background(), Event{Type: EventConnected, Source: "test"})
	if err == nil || err.Error() != "handler failed" {
		t.Fatalf("err = %v, want handler failed", err)
	}
	if calls.Load() != 1 {
		t.Fatalf("calls = %d, want 1", calls.Load())
	}

	bus.Unsubscribe(EventConnected, "failing")
	if n := bus.HandlerCount(EventConnected); n != 2 {
		t.Fatalf("handler count = %d, want 2", n)
	}
}

func TestRecentKeepsBoundedHistory(t *testing.T) {
	bus := NewEventBusWithHistory(3)
	defer bus.Stop()

	for _, typ := range []EventType{EventConnected, EventStateChanged, EventLoginSuccess, EventDisconnected} {
		bus.Emit(context.Background(), Event{Type: typ})
	}

	got := bus.Recent(0)
	want := []EventType{EventStateChanged, EventLoginSuccess, EventDisconnected}
	if len(got) != len(want) {
		t.Fatalf("history len = %d, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i].Type != want[i] {
			t.Errorf("history[%d] = %s, want %s", i, got[i].Type, want[i])
		}
		if got[i].Time.IsZero() {
			t.Errorf("history[%d] has no timestamp", i)
		}
	}

	if last := bus.Recent(1); len(last) != 1 || last[0].Type != EventDisconnected {
		t.Fatalf("Recent(1) = %+v", last)
	}
}

func TestStoppedBusDropsEvents(t *testing.T) {
	bus := NewEventBus()
	var calls atomic.Int32
	bus.Subscribe(EventShutdown, "counter", func(ctx context.Context, e Event) error {
		calls.Add(1)
		return nil
	})
	bus.Stop()
	bus.Stop()

	bus.Emit(context.Background(), Event{Type: EventShutdown})
	if err := bus.EmitSync(context.Background(), Event{Type: EventShutdown}); err != nil {
		t.Fatalf("EmitSync after stop = %v", err)
	}
	if len(bus.Recent(0)) != 0 {
		t.Fatal("stopped bus should not record events")
	}
	if calls.Load() != 0 {
		t.Fatalf("calls = %d after stop", calls.Load())
	}
}

func TestEmitSyncReportsPanic(t *testing.T) {
	bus := NewEventBus()
	defer bus.Stop()

	bus.Subscribe(EventLoginFailed, "panicking", func(ctx context.Context, e Event) error {
		panic("boom")
	})
	if err := bus.EmitSync(context.Background(), Event{Type: EventLoginFailed}); err == nil {
		t.Fatal("expected panic to surface as an error")
	}
}

func TestStopWaitsForAsyncHandlers(t *testing.T) {
	bus := NewEventBus()
	release := make(chan struct{})
	var done atomic.Bool
	bus.Subscribe(EventConnected, "slow", func(ctx context.Context, e Event) error {
		<-release
		done.Store(true)
		return nil
	})

	bus.Emit(context.Background(), Event{Type: EventConnected})
	close(release)
	bus.Stop()
	if !done.Load() {
		t.Fatal("Stop returned before the handler finished")
	}
}

func TestRecentWrapsAround(t *testing.T) {
	bus := NewEventBusWithHistory(2)
	defer bus.Stop()

	for i := 0; i < 5; i++ {
		bus.Emit(context.Background(), Event{Type: EventStateChanged, Source: string(rune('a' + i))})
	}
	got := bus.Recent(5)
	if len(got) != 2 || got[0].Source != "d" || got[1].Source != "e" {
		t.Fatalf("Recent = %+v", got)
	}

	off := NewEventBusWithHistory(0)
	defer off.Stop()
	off.Emit(context.Background(), Event{Type: EventStateChanged})
	if len(off.Recent(0)) != 0 {
		t.Fatal("zero-size history should stay empty")
	}
}
