package cli

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/tramquy-network/arriety/internal/client"
	"github.com/tramquy-network/arriety/internal/config"
	"github.com/tramquy-network/arriety/internal/ecs"
	"github.com/tramquy-network/arriety/internal/events"
)

type fakeController struct {
	host         string
	port         int
	disconnected bool
}

func (f *fakeController) Status() client.Status {
	return client.Status{
		Running:   true,
		Address:   "127.0.0.1:7777",
		Connected: true,
		State:     ecs.StateAuthenticated,
		SessionID: 42,
	}
}
func (f *fakeController) Device() ecs.DeviceInfo {
	return ecs.DeviceInfo{Platform: "linux", MemorySizeMB: 2048, DeviceName: "cli-test"}
}
func (f *fakeController) DispatchStats() (uint64, uint64) { return 2, 0 }
func (f *fakeController) Connect(host string, port int) error {
	f.host, f.port = host, port
	return nil
}
func (f *fakeController) Disconnect() { f.disconnected = true }

func run(t *testing.T, input string) (string, *fakeController, *events.EventBus) {
	t.Helper()
	bus := events.NewEventBus()
	t.Cleanup(bus.Stop)
	ctrl := &fakeController{}
	var out bytes.Buffer

	c := NewCLI(config.DefaultConfig(), bus, ctrl, strings.NewReader(input), &out)
	done := make(chan struct{})
	go func() {
		c.Start(context.Background())
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("CLI did not return at end of input")
	}
	return out.String(), ctrl, bus
}

func TestStatusAndDevice(t *testing.T) {
	out, _, _ := run(t, "status\ndevice\n")

	for _, want := range []string{"authenticated", "42", "127.0.0.1:7777", "cli-test", "2048 MB"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestConnectDisconnect(t *testing.T) {
	out, ctrl, _ := run(t, "connect 10.0.0.5 7100\ndisconnect\nconnect host 0\n")

	if ctrl.host != "10.0.0.5" || ctrl.port != 7100 {
		t.Fatalf("connect target = %s:%d", ctrl.host, ctrl.port)
	}
	if !ctrl.disconnected {
		t.Fatal("disconnect was not forwarded")
	}
	if !strings.Contains(out, "invalid port: 0") {
		t.Fatalf("expected port error, got:\n%s", out)
	}
}

func TestConnectDefaultsToConfiguredEndpoint(t *testing.T) {
	_, ctrl, _ := run(t, "connect\n")
	if ctrl.host != config.DefaultHost || ctrl.port != config.DefaultPort {
		t.Fatalf("connect target = %s:%d", ctrl.host, ctrl.port)
	}
}

func TestQuitEmitsShutdown(t *testing.T) {
	out, _, bus := run(t, "quit\nstatus\n")

	recent := bus.Recent(0)
	if len(recent) != 1 || recent[0].Type != events.EventShutdown {
		t.Fatalf("recent events = %+v", recent)
	}
	if strings.Contains(out, "authenticated") {
		t.Fatal("commands after quit should not run")
	}
}

func TestUnknownCommand(t *testing.T) {
	out, _, _ := run(t, "bogus\n")
	if !strings.Contains(out, "Unknown command: 'bogus'") {
		t.Fatalf("output:\n%s", out)
	}
}
