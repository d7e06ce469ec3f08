package telemetry

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/tramquy-network/arriety/internal/config"
	"github.com/tramquy-network/arriety/internal/events"
)

type doneToken struct{}

func (doneToken) Wait() bool                     { return true }
func (doneToken) WaitTimeout(time.Duration) bool { return true }
func (doneToken) Done() <-chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}
func (doneToken) Error() error { return nil }

// recordingClient captures publishes. Methods it does not override panic
// through the nil embedded interface.
type recordingClient struct {
	mqtt.Client

	mu       sync.Mutex
	messages map[string][]byte
}

func (c *recordingClient) IsConnected() bool { return true }

func (c *recordingClient) Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.messages[topic] = payload.([]byte)
	return doneToken{}
}

func TestNewMQTTPublisherDisabled(t *testing.T) {
	if _, err := NewMQTTPublisher(config.DefaultConfig(), events.NewEventBus()); err == nil {
		t.Fatal("expected error when MQTT is disabled")
	}
}

func TestSessionEventsArePublished(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.MQTT.Enabled = true
	cfg.MQTT.TopicPrefix = "/fleet/a/"

	bus := events.NewEventBus()
	p, err := NewMQTTPublisher(cfg, bus)
	if err != nil {
		t.Fatalf("new publisher: %v", err)
	}
	client := &recordingClient{messages: make(map[string][]byte)}
	p.client = client
	p.subscribeEvents()

	err = bus.EmitSync(context.Background(), events.Event{
		Type:    events.EventLoginFailed,
		Source:  "client",
		Payload: events.LoginFailedPayload{Address: "127.0.0.1:7777", Reason: "bad creds"},
	})
	if err != nil {
		t.Fatalf("emit: %v", err)
	}

	client.mu.Lock()
	data, ok := client.messages["fleet/a/session/login_failed"]
	client.mu.Unlock()
	if !ok {
		t.Fatalf("no message on expected topic, got %v", client.messages)
	}

	var msg struct {
		Endpoint string `json:"endpoint"`
		Payload  struct {
			Event   string `json:"event"`
			Payload struct {
				Reason string `json:"reason"`
			} `json:"payload"`
		} `json:"payload"`
	}
	if err := json.Unmarshal(data, &msg); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if msg.Endpoint != "127.0.0.1:7777" || msg.Payload.Event != "login_failed" || msg.Payload.Payload.Reason != "bad creds" {
		t.Fatalf("message = %s", data)
	}

	p.PublishShutdown()
	client.mu.Lock()
	_, ok = client.messages["fleet/a/client/status"]
	client.mu.Unlock()
	if !ok {
		t.Fatal("shutdown status was not published")
	}
}

func TestHeartbeatIsPublished(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.MQTT.Enabled = true

	bus := events.NewEventBus()
	p, err := NewMQTTPublisher(cfg, bus)
	if err != nil {
		t.Fatalf("new publisher: %v", err)
	}
	client := &recordingClient{messages: make(map[string][]byte)}
	p.client = client
	p.subscribeEvents()

	err = bus.EmitSync(context.Background(), events.Event{
		Type:    events.EventHeartbeat,
		Source:  "heartbeat",
		Payload: events.HeartbeatPayload{State: "authenticated", SessionID: 9},
	})
	if err != nil {
		t.Fatalf("emit: %v", err)
	}

	client.mu.Lock()
	data, ok := client.messages["arriety/health/heartbeat"]
	client.mu.Unlock()
	if !ok {
		t.Fatalf("no heartbeat message, got %v", client.messages)
	}

	var msg struct {
		Payload events.HeartbeatPayload `json:"payload"`
	}
	if err := json.Unmarshal(data, &msg); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if msg.Payload.State != "authenticated" || msg.Payload.SessionID != 9 {
		t.Fatalf("message = %s", data)
	}
}
