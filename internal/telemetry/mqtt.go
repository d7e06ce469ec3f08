// Package telemetry publishes session notifications to an MQTT broker.
package telemetry

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog/log"

	"github.com/tramquy-network/arriety/internal/config"
	"github.com/tramquy-network/arriety/internal/events"
	"github.com/tramquy-network/arriety/internal/util"
)

// Topic suffixes below the configured prefix.
const (
	TopicSession = "session"
	TopicHealth  = "health"
	TopicStatus  = "client/status"
)

// MQTTPublisher forwards session events from the EventBus to the broker.
type MQTTPublisher struct {
	cfg      config.MQTTConfig
	eventBus *events.EventBus
	client   mqtt.Client

	// Metadata included in every message
	metadata map[string]interface{}
}

// NewMQTTPublisher creates a publisher from the MQTT section of cfg.
func NewMQTTPublisher(cfg *config.Config, eventBus *events.EventBus) (*MQTTPublisher, error) {
	mqttCfg := cfg.MQTT

	if !mqttCfg.Enabled {
		return nil, fmt.Errorf("MQTT is disabled")
	}

	sysInfo := util.GetSystemInfo()
	p := &MQTTPublisher{
		cfg:      mqttCfg,
		eventBus: eventBus,
		metadata: map[string]interface{}{
			"hostname": sysInfo.Hostname,
			"platform": sysInfo.Platform,
			"endpoint": fmt.Sprintf("%s:%d", cfg.Endpoint.Host, cfg.Endpoint.Port),
		},
	}

	scheme := "tcp"
	if mqttCfg.UseTLS {
		scheme = "ssl"
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(fmt.Sprintf("%s://%s:%d", scheme, mqttCfg.BrokerURL, mqttCfg.Port))

	if mqttCfg.ClientID != "" {
		opts.SetClientID(mqttCfg.ClientID)
	} else {
		opts.SetClientID(fmt.Sprintf("arriety-%s", sysInfo.Hostname))
	}
	if mqttCfg.Username != "" {
		opts.SetUsername(mqttCfg.Username)
		opts.SetPassword(mqttCfg.Password)
	}

	opts.SetAutoReconnect(true)
	opts.SetMaxReconnectInterval(30 * time.Second)
	opts.SetKeepAlive(60 * time.Second)
	opts.SetCleanSession(true)

	if mqttCfg.UseTLS {
		tlsConfig, err := buildTLSConfig(mqttCfg)
		if err != nil {
			return nil, err
		}
		opts.SetTLSConfig(tlsConfig)
	}

	opts.SetOnConnectHandler(func(client mqtt.Client) {
		log.Info().Msg("MQTT connected")
	})

	opts.SetConnectionLostHandler(func(client mqtt.Client, err error) {
		log.Warn().Err(err).Msg("MQTT connection lost")
	})

	p.client = mqtt.NewClient(opts)
	return p, nil
}

func buildTLSConfig(mqttCfg config.MQTTConfig) (*tls.Config, error) {
	tlsConfig := &tls.Config{
		MinVersion: tls.VersionTLS12,
	}

	if mqttCfg.CAFile != "" {
		pem, err := os.ReadFile(mqttCfg.CAFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read MQTT CA file: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, fmt.Errorf("no certificates found in %s", mqttCfg.CAFile)
		}
		tlsConfig.RootCAs = pool
	}

	// mTLS: load client certificate
	if mqttCfg.CertFile != "" && mqttCfg.KeyFile != "" {
		cert, err := tls.LoadX509KeyPair(mqttCfg.CertFile, mqttCfg.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load MQTT TLS certificate: %w", err)
		}
		tlsConfig.Certificates = []tls.Certificate{cert}
	}
	return tlsConfig, nil
}

// Start connects to the broker, subscribes to session events and blocks
// until ctx is cancelled.
func (p *MQTTPublisher) Start(ctx context.Context) error {
	log.Info().
		Str("broker", p.cfg.BrokerURL).
		Int("port", p.cfg.Port).
		Msg("connecting to MQTT broker")

	token := p.client.Connect()
	if token.Wait() && token.Error() != nil {
		return fmt.Errorf("MQTT connect failed: %w", token.Error())
	}

	p.subscribeEvents()
	p.publish(p.topic(TopicStatus), map[string]interface{}{"event": "online"})

	<-ctx.Done()

	p.PublishShutdown()
	p.client.Disconnect(5000)
	log.Info().Msg("MQTT disconnected")
	return nil
}

func (p *MQTTPublisher) subscribeEvents() {
	for _, t := range events.SessionEventTypes {
		p.eventBus.Subscribe(t, "mqtt."+string(t), p.onSessionEvent)
	}
	for _, t := range []events.EventType{events.EventHeartbeat, events.EventHealthWarning} {
		p.eventBus.Subscribe(t, "mqtt."+string(t), p.onHealthEvent)
	}
}

func (p *MQTTPublisher) onSessionEvent(ctx context.Context, event events.Event) error {
	p.publish(p.topic(TopicSession+"/"+string(event.Type)), map[string]interface{}{
		"event":   string(event.Type),
		"source":  event.Source,
		"payload": event.Payload,
	})
	return nil
}

func (p *MQTTPublisher) onHealthEvent(ctx context.Context, event events.Event) error {
	p.publish(p.topic(TopicHealth+"/"+string(event.Type)), event.Payload)
	return nil
}

// topic joins the configured prefix and suffix.
func (p *MQTTPublisher) topic(suffix string) string {
	prefix := strings.Trim(p.cfg.TopicPrefix, "/")
	if prefix == "" {
		return suffix
	}
	return prefix + "/" + suffix
}

// publish sends a JSON message to an MQTT topic.
func (p *MQTTPublisher) publish(topic string, payload interface{}) {
	if !p.client.IsConnected() {
		return
	}

	data, err := json.Marshal(p.buildMessage(payload))
	if err != nil {
		log.Warn().Err(err).Str("topic", topic).Msg("failed to marshal MQTT message")
		return
	}

	token := p.client.Publish(topic, 1, false, data) // QoS 1
	go func() {
		token.Wait()
		if token.Error() != nil {
			log.Warn().Err(token.Error()).Str("topic", topic).Msg("MQTT publish failed")
		}
	}()
}

// buildMessage combines metadata with the event payload.
func (p *MQTTPublisher) buildMessage(payload interface{}) map[string]interface{} {
	msg := make(map[string]interface{}, len(p.metadata)+2)
	for k, v := range p.metadata {
		msg[k] = v
	}
	msg["payload"] = payload
	msg["timestamp"] = time.Now().UTC().Format(time.RFC3339)
	return msg
}

// PublishShutdown announces that the client is going offline.
func (p *MQTTPublisher) PublishShutdown() {
	p.publish(p.topic(TopicStatus), map[string]interface{}{"event": "shutdown"})
}
