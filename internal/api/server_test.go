package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/tramquy-network/arriety/internal/client"
	"github.com/tramquy-network/arriety/internal/config"
	"github.com/tramquy-network/arriety/internal/db"
	"github.com/tramquy-network/arriety/internal/ecs"
	"github.com/tramquy-network/arriety/internal/events"
)

type fakeController struct {
	status       client.Status
	connectHost  string
	connectPort  int
	disconnected bool
}

func (f *fakeController) Status() client.Status { return f.status }
func (f *fakeController) Device() ecs.DeviceInfo {
	return ecs.DeviceInfo{Platform: "linux", MemorySizeMB: 1024, DeviceName: "api-test"}
}
func (f *fakeController) DispatchStats() (uint64, uint64) { return 3, 1 }
func (f *fakeController) Connect(host string, port int) error {
	f.connectHost, f.connectPort = host, port
	return nil
}
func (f *fakeController) Disconnect() { f.disconnected = true }

func newTestServer(t *testing.T) (*Server, *fakeController, *events.EventBus) {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.API.RateLimitRPS = 0
	bus := events.NewEventBus()
	t.Cleanup(bus.Stop)
	ctrl := &fakeController{status: client.Status{
		Running:   true,
		Address:   "127.0.0.1:7777",
		Connected: true,
		State:     ecs.StateAuthenticated,
		SessionID: 42,
	}}
	return NewServer(cfg, bus, ctrl, nil), ctrl, bus
}

func do(t *testing.T, s *Server, method, path string, body []byte) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func TestGetStatus(t *testing.T) {
	s, _, _ := newTestServer(t)

	rec := do(t, s, http.MethodGet, "/api/status", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status code = %d", rec.Code)
	}

	var resp struct {
		Status struct {
			State     string `json:"state"`
			SessionID int32  `json:"session_id"`
			Connected bool   `json:"connected"`
		} `json:"status"`
		Packets struct {
			Handled uint64 `json:"handled"`
			Dropped uint64 `json:"dropped"`
		} `json:"packets"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Status.State != "authenticated" || resp.Status.SessionID != 42 || !resp.Status.Connected {
		t.Fatalf("status = %+v", resp.Status)
	}
	if resp.Packets.Handled != 3 || resp.Packets.Dropped != 1 {
		t.Fatalf("packets = %+v", resp.Packets)
	}
	if rec.Header().Get("X-Frame-Options") != "DENY" {
		t.Fatal("security headers missing")
	}
}

func TestConnectAndDisconnect(t *testing.T) {
	s, ctrl, _ := newTestServer(t)

	rec := do(t, s, http.MethodPost, "/api/connect", []byte(`{"host":"10.1.1.1","port":7100}`))
	if rec.Code != http.StatusAccepted {
		t.Fatalf("connect code = %d, body %s", rec.Code, rec.Body)
	}
	if ctrl.connectHost != "10.1.1.1" || ctrl.connectPort != 7100 {
		t.Fatalf("connect target = %s:%d", ctrl.connectHost, ctrl.connectPort)
	}

	rec = do(t, s, http.MethodPost, "/api/connect", nil)
	if rec.Code != http.StatusAccepted || ctrl.connectPort != config.DefaultPort {
		t.Fatalf("default connect code = %d port = %d", rec.Code, ctrl.connectPort)
	}

	rec = do(t, s, http.MethodPost, "/api/connect", []byte(`{"port":70000}`))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("invalid port code = %d", rec.Code)
	}

	rec = do(t, s, http.MethodPost, "/api/disconnect", nil)
	if rec.Code != http.StatusOK || !ctrl.disconnected {
		t.Fatalf("disconnect code = %d, called = %v", rec.Code, ctrl.disconnected)
	}
}

func TestGetEvents(t *testing.T) {
	s, _, bus := newTestServer(t)
	bus.Emit(context.Background(), events.Event{Type: events.EventConnected, Time: time.Now()})
	bus.Emit(context.Background(), events.Event{Type: events.EventLoginSuccess})

	rec := do(t, s, http.MethodGet, "/api/events?limit=1", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("code = %d", rec.Code)
	}
	var resp struct {
		Events []events.Event `json:"events"`
		Total  int            `json:"total"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Total != 1 || resp.Events[0].Type != events.EventLoginSuccess {
		t.Fatalf("events = %+v", resp)
	}

	if rec := do(t, s, http.MethodGet, "/api/events?limit=x", nil); rec.Code != http.StatusBadRequest {
		t.Fatalf("bad limit code = %d", rec.Code)
	}
	if rec := do(t, s, http.MethodGet, "/api/journal", nil); rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("journal code = %d", rec.Code)
	}
	if rec := do(t, s, http.MethodGet, "/api/nope", nil); rec.Code != http.StatusNotFound {
		t.Fatalf("unknown route code = %d", rec.Code)
	}
}

func TestGetJournalReportsTotal(t *testing.T) {
	j, err := db.NewJournal(filepath.Join(t.TempDir(), "journal.db"))
	if err != nil {
		t.Fatalf("open journal: %v", err)
	}
	defer j.Close()
	for _, typ := range []events.EventType{events.EventConnected, events.EventLoginSuccess, events.EventDisconnected} {
		if err := j.Record(events.Event{Type: typ, Source: "client"}); err != nil {
			t.Fatalf("record: %v", err)
		}
	}

	cfg := config.DefaultConfig()
	cfg.API.RateLimitRPS = 0
	bus := events.NewEventBus()
	defer bus.Stop()
	s := NewServer(cfg, bus, &fakeController{}, j)

	rec := do(t, s, http.MethodGet, "/api/journal?limit=2", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("code = %d", rec.Code)
	}
	var resp struct {
		Entries []db.JournalEntry `json:"entries"`
		Total   int               `json:"total"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(resp.Entries) != 2 || resp.Total != 3 {
		t.Fatalf("entries = %d total = %d, want 2 and 3", len(resp.Entries), resp.Total)
	}
}

func TestRateLimiter(t *testing.T) {
	rl := NewRateLimiter(1)
	now := time.Now()
	if !rl.allow("a", now) || !rl.allow("a", now) {
		t.Fatal("burst of 2 should be allowed")
	}
	if rl.allow("a", now) {
		t.Fatal("third request should be limited")
	}
	if !rl.allow("b", now) {
		t.Fatal("other clients have their own bucket")
	}
	if !rl.allow("a", now.Add(time.Second)) {
		t.Fatal("bucket should refill over time")
	}
}
