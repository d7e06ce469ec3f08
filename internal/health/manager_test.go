package health

import (
	"context"
	"errors"
	"testing"

	"github.com/tramquy-network/arriety/internal/client"
	"github.com/tramquy-network/arriety/internal/config"
	"github.com/tramquy-network/arriety/internal/ecs"
	"github.com/tramquy-network/arriety/internal/events"
	"github.com/tramquy-network/arriety/internal/util"
)

type fakeSource struct {
	status client.Status
}

func (f *fakeSource) Status() client.Status           { return f.status }
func (f *fakeSource) DispatchStats() (uint64, uint64) { return 7, 2 }

func memoryAt(pct float64) MemoryFunc {
	return func() (*util.MemoryUsage, error) {
		return &util.MemoryUsage{Total: 1000, Available: uint64(1000 - pct*10), UsedPercent: pct}, nil
	}
}

func warnings(bus *events.EventBus) []events.HealthWarningPayload {
	var out []events.HealthWarningPayload
	for _, e := range bus.Recent(0) {
		if e.Type == events.EventHealthWarning {
			out = append(out, e.Payload.(events.HealthWarningPayload))
		}
	}
	return out
}

func newTestManager(t *testing.T, src *fakeSource, mem MemoryFunc) (*Manager, *events.EventBus) {
	t.Helper()
	bus := events.NewEventBus()
	t.Cleanup(bus.Stop)
	cfg := config.DefaultConfig().Health
	return NewManager(cfg, bus, src, mem), bus
}

func TestReconnectExhaustedReportedOnce(t *testing.T) {
	src := &fakeSource{status: client.Status{
		Running:           true,
		Address:           "127.0.0.1:7777",
		State:             ecs.StateDisconnected,
		ReconnectAttempts: 5,
	}}
	m, bus := newTestManager(t, src, memoryAt(10))
	ctx := context.Background()

	m.RunChecks(ctx)
	m.RunChecks(ctx)

	got := warnings(bus)
	if len(got) != 1 || got[0].Check != "reconnect" {
		t.Fatalf("warnings = %+v", got)
	}

	// Recovery then relapse reports again.
	src.status.ShouldReconnect = true
	m.RunChecks(ctx)
	src.status.ShouldReconnect = false
	m.RunChecks(ctx)
	if got := warnings(bus); len(got) != 2 {
		t.Fatalf("expected second warning after relapse, got %+v", got)
	}
}

func TestLoginFailedCheck(t *testing.T) {
	src := &fakeSource{status: client.Status{
		Running:     true,
		Address:     "127.0.0.1:7777",
		State:       ecs.StateLoginFailed,
		FailMessage: "bad credentials",
	}}
	m, bus := newTestManager(t, src, memoryAt(10))

	m.RunChecks(context.Background())

	got := warnings(bus)
	if len(got) != 1 || got[0].Check != "login" || got[0].Level != "error" {
		t.Fatalf("warnings = %+v", got)
	}
}

func TestMemoryCheck(t *testing.T) {
	src := &fakeSource{status: client.Status{Running: true, Connected: true, State: ecs.StateAuthenticated}}
	m, bus := newTestManager(t, src, memoryAt(95))

	m.RunChecks(context.Background())
	got := warnings(bus)
	if len(got) != 1 || got[0].Check != "memory" {
		t.Fatalf("warnings = %+v", got)
	}

	failing, bus2 := newTestManager(t, src, func() (*util.MemoryUsage, error) {
		return nil, errors.New("unavailable")
	})
	failing.RunChecks(context.Background())
	if got := warnings(bus2); len(got) != 0 {
		t.Fatalf("memory errors should not warn, got %+v", got)
	}
}

func TestHeartbeat(t *testing.T) {
	src := &fakeSource{status: client.Status{
		Address:   "127.0.0.1:7777",
		Connected: true,
		State:     ecs.StateAuthenticated,
		SessionID: 42,
	}}
	m, bus := newTestManager(t, src, memoryAt(40))

	m.Heartbeat(context.Background())

	recent := bus.Recent(0)
	if len(recent) != 1 || recent[0].Type != events.EventHeartbeat {
		t.Fatalf("recent = %+v", recent)
	}
	hb := recent[0].Payload.(events.HeartbeatPayload)
	if hb.State != "authenticated" || hb.SessionID != 42 || hb.PacketsHandled != 7 || hb.PacketsDropped != 2 || hb.MemoryUsedPct != 40 {
		t.Fatalf("heartbeat = %+v", hb)
	}
}
