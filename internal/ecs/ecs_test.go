package ecs

import (
	"errors"
	"net"
	"testing"
	"time"

	"github.com/tramquy-network/arriety/internal/protocol"
)

type recordingSystem struct {
	name    string
	log     *[]string
	initErr error
}

func (s *recordingSystem) Name() string { return s.name }

func (s *recordingSystem) Initialize(w *World) error {
	*s.log = append(*s.log, "init:"+s.name)
	return s.initErr
}

func (s *recordingSystem) Update(w *World, dt time.Duration) {
	*s.log = append(*s.log, "update:"+s.name)
}

func (s *recordingSystem) Shutdown(w *World) {
	*s.log = append(*s.log, "shutdown:"+s.name)
}

func TestWorldTicksSystemsInOrder(t *testing.T) {
	var calls []string
	w := NewWorld()
	for _, name := range []string{"a", "b", "c"} {
		if err := w.AddSystem(&recordingSystem{name: name, log: &calls}); err != nil {
			t.Fatalf("add system: %v", err)
		}
	}

	w.Update(time.Millisecond)
	if len(calls) != 0 {
		t.Fatalf("update before initialize should be a no-op, got %v", calls)
	}

	if err := w.Initialize(); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	w.Update(16 * time.Millisecond)
	w.Shutdown()
	w.Shutdown()

	want := []string{
		"init:a", "init:b", "init:c",
		"update:a", "update:b", "update:c",
		"shutdown:a", "shutdown:b", "shutdown:c",
	}
	if len(calls) != len(want) {
		t.Fatalf("calls = %v, want %v", calls, want)
	}
	for i := range want {
		if calls[i] != want[i] {
			t.Fatalf("calls = %v, want %v", calls, want)
		}
	}
}

func TestWorldInitializeRollsBack(t *testing.T) {
	var calls []string
	boom := errors.New("boom")
	w := NewWorld()
	w.AddSystem(&recordingSystem{name: "a", log: &calls})
	w.AddSystem(&recordingSystem{name: "b", log: &calls, initErr: boom})

	if err := w.Initialize(); !errors.Is(err, boom) {
		t.Fatalf("err = %v, want boom", err)
	}
	if w.Running() {
		t.Fatal("world should not be running after a failed initialize")
	}
	want := []string{"init:a", "init:b", "shutdown:a"}
	for i := range want {
		if calls[i] != want[i] {
			t.Fatalf("calls = %v, want %v", calls, want)
		}
	}
}

func TestWorldEachFilters(t *testing.T) {
	w := NewWorld()
	full := w.CreateEntity()
	full.Connection = NewNetworkConnection("127.0.0.1", 1, 0)
	full.Buffer = NewPacketBuffer(16, 1, 1)
	w.CreateEntity()

	var seen []*Entity
	w.Each((*Entity).HasNetworking, func(e *Entity) { seen = append(seen, e) })
	if len(seen) != 1 || seen[0] != full {
		t.Fatalf("expected only the networked entity, got %d", len(seen))
	}
	if full.ID == w.Entities()[1].ID {
		t.Fatal("entities should get distinct ids")
	}
}

func TestWorldClock(t *testing.T) {
	w := NewWorld()
	fixed := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	w.SetClock(func() time.Time { return fixed })
	if !w.Now().Equal(fixed) {
		t.Fatalf("now = %v, want %v", w.Now(), fixed)
	}
	w.SetClock(nil)
	if w.Now().Equal(fixed) {
		t.Fatal("nil clock should restore wall time")
	}
}

func TestLinkFailOnce(t *testing.T) {
	client, server := net.Pipe()
	defer server.Close()

	l := NewLink(client)
	if l.IsLost() {
		t.Fatal("new link should be healthy")
	}

	first := errors.New("read failed")
	if !l.Fail(first) {
		t.Fatal("first Fail should report true")
	}
	if l.Fail(errors.New("second")) {
		t.Fatal("second Fail should report false")
	}
	select {
	case <-l.Lost():
	default:
		t.Fatal("Lost channel should be closed")
	}
	if !errors.Is(l.Err(), first) {
		t.Fatalf("err = %v, want first cause", l.Err())
	}
	if err := l.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	l.Close()
}

func TestConnectionAttachDrop(t *testing.T) {
	client, server := net.Pipe()
	defer server.Close()

	c := NewNetworkConnection("127.0.0.1", 7777, 0)
	if c.MaxReconnectAttempts != DefaultMaxReconnectAttempts {
		t.Fatalf("max attempts = %d, want default", c.MaxReconnectAttempts)
	}
	if c.Address() != "127.0.0.1:7777" {
		t.Fatalf("address = %s", c.Address())
	}

	c.Connecting = true
	l := c.Attach(client)
	if !c.Connected || c.Connecting {
		t.Fatal("attach should set connected and clear connecting")
	}
	if c.Link() != l {
		t.Fatal("link should be published")
	}

	c.Drop()
	if c.Connected || c.Link() != nil {
		t.Fatal("drop should clear the link and connected flag")
	}
	if !errors.Is(l.Err(), ErrLinkClosed) {
		t.Fatalf("dropped link err = %v, want ErrLinkClosed", l.Err())
	}
}

func TestLoginStateTransitions(t *testing.T) {
	var ls LoginStateComponent
	now := time.Now()
	ls.Fail("Login timeout", now)
	if ls.State != StateLoginFailed || ls.FailMessage != "Login timeout" || !ls.LastStateChange.Equal(now) {
		t.Fatalf("unexpected state %+v", ls)
	}
	ls.Transition(StateConnecting, now.Add(time.Second))
	if ls.FailMessage != "" {
		t.Fatal("leaving LoginFailed should clear the message")
	}
	if StateAuthenticated.String() != "authenticated" || LoginState(99).String() != "unknown(99)" {
		t.Fatal("unexpected state names")
	}
}

func TestLoginStatePendingVerdict(t *testing.T) {
	ls := LoginStateComponent{State: StateWaitingForInit}
	ls.Pending = &LoginVerdict{Result: protocol.LoginOK}

	ls.Transition(StateWaitingForInit, time.Now())
	if ls.Pending == nil {
		t.Fatal("a verdict should survive while waiting for init")
	}
	if v := ls.TakePending(); v == nil || v.Result != protocol.LoginOK || ls.Pending != nil {
		t.Fatalf("TakePending = %+v, pending after = %+v", v, ls.Pending)
	}

	ls.Pending = &LoginVerdict{Result: protocol.LoginFail, Message: "stale"}
	ls.Transition(StateConnecting, time.Now())
	if ls.Pending != nil {
		t.Fatal("a new attempt should discard the held verdict")
	}
}

func TestLoginStateOnTransition(t *testing.T) {
	var seen [][2]LoginState
	ls := LoginStateComponent{OnTransition: func(from, to LoginState) {
		seen = append(seen, [2]LoginState{from, to})
	}}
	now := time.Now()

	ls.Transition(StateConnecting, now)
	ls.Transition(StateConnecting, now)
	ls.Fail("nope", now)

	want := [][2]LoginState{
		{StateDisconnected, StateConnecting},
		{StateConnecting, StateLoginFailed},
	}
	if len(seen) != len(want) {
		t.Fatalf("transitions = %v, want %v", seen, want)
	}
	for i := range want {
		if seen[i] != want[i] {
			t.Fatalf("transitions = %v, want %v", seen, want)
		}
	}
}

func TestPacketBufferDrainSend(t *testing.T) {
	b := NewPacketBuffer(8, 4, 4)
	b.SendQueue <- []byte{1}
	b.SendQueue <- []byte{2}
	if n := b.DrainSend(); n != 2 {
		t.Fatalf("drained %d, want 2", n)
	}
	if len(b.SendQueue) != 0 {
		t.Fatal("queue should be empty")
	}
}
