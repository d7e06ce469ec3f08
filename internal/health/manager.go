// Package health runs periodic checks on the network client and publishes a
// heartbeat summarizing its state.
package health

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/tramquy-network/arriety/internal/client"
	"github.com/tramquy-network/arriety/internal/config"
	"github.com/tramquy-network/arriety/internal/ecs"
	"github.com/tramquy-network/arriety/internal/events"
	"github.com/tramquy-network/arriety/internal/util"
)

// StatusSource is the part of the network manager the checks read.
type StatusSource interface {
	Status() client.Status
	DispatchStats() (handled, dropped uint64)
}

// MemoryFunc reports host memory usage.
type MemoryFunc func() (*util.MemoryUsage, error)

// Manager runs the health checks and the heartbeat.
type Manager struct {
	cfg      config.HealthConfig
	eventBus *events.EventBus
	source   StatusSource
	memory   MemoryFunc
	started  time.Time

	// active holds the checks currently flagged, so each condition is
	// reported once until it clears.
	mu     sync.Mutex
	active map[string]bool
}

// NewManager creates a health manager. memory may be nil to use the host.
func NewManager(cfg config.HealthConfig, eventBus *events.EventBus, source StatusSource, memory MemoryFunc) *Manager {
	if memory == nil {
		memory = util.GetMemoryUsage
	}
	return &Manager{
		cfg:      cfg,
		eventBus: eventBus,
		source:   source,
		memory:   memory,
		started:  time.Now(),
		active:   make(map[string]bool),
	}
}

// Start launches the check and heartbeat loops and blocks until ctx is cancelled.
func (m *Manager) Start(ctx context.Context) {
	loops := []struct {
		name     string
		interval int
		fn       func(context.Context)
	}{
		{"checks", m.cfg.CheckIntervalSec, m.RunChecks},
		{"heartbeat", m.cfg.HeartbeatIntervalSec, m.Heartbeat},
	}

	var wg sync.WaitGroup
	for _, loop := range loops {
		loop := loop
		if loop.interval <= 0 {
			continue
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			ticker := time.NewTicker(time.Duration(loop.interval) * time.Second)
			defer ticker.Stop()

			log.Debug().Str("loop", loop.name).Msg("running initial health loop")
			loop.fn(ctx)

			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					loop.fn(ctx)
				}
			}
		}()
	}

	log.Info().Msg("health manager started")
	wg.Wait()
	<-ctx.Done()
	log.Info().Msg("health manager stopped")
}

// RunChecks evaluates every check once.
func (m *Manager) RunChecks(ctx context.Context) {
	st := m.source.Status()
	m.checkReconnectExhausted(ctx, st)
	m.checkLoginFailed(ctx, st)
	m.checkMemory(ctx)
}

// checkReconnectExhausted flags a running client that stopped retrying
// without ever reaching a session.
func (m *Manager) checkReconnectExhausted(ctx context.Context, st client.Status) {
	bad := st.Running && !st.Connected && !st.ShouldReconnect && st.State != ecs.StateLoginFailed
	m.flag(ctx, "reconnect", bad, "warning",
		fmt.Sprintf("gave up connecting to %s after %d attempts", st.Address, st.ReconnectAttempts))
}

func (m *Manager) checkLoginFailed(ctx context.Context, st client.Status) {
	m.flag(ctx, "login", st.State == ecs.StateLoginFailed, "error",
		fmt.Sprintf("login to %s failed: %s", st.Address, st.FailMessage))
}

func (m *Manager) checkMemory(ctx context.Context) {
	if m.cfg.MemoryWarnPercent <= 0 {
		return
	}
	usage, err := m.memory()
	if err != nil {
		log.Warn().Err(err).Msg("memory check failed")
		return
	}
	m.flag(ctx, "memory", usage.UsedPercent >= m.cfg.MemoryWarnPercent, "warning",
		fmt.Sprintf("memory usage at %.1f%% (%d MB free of %d MB)", usage.UsedPercent, usage.Available, usage.Total))
}

// flag reports a check on its rising edge and forgets it once it clears.
func (m *Manager) flag(ctx context.Context, check string, bad bool, level, message string) {
	m.mu.Lock()
	was := m.active[check]
	m.active[check] = bad
	m.mu.Unlock()

	if !bad {
		if was {
			log.Info().Str("check", check).Msg("health check recovered")
		}
		return
	}
	if was {
		return
	}

	log.Warn().Str("check", check).Str("level", level).Msg(message)
	if m.eventBus != nil {
		m.eventBus.Emit(ctx, events.Event{
			Type:   events.EventHealthWarning,
			Source: "health_check",
			Payload: events.HealthWarningPayload{
				Check:   check,
				Message: message,
				Level:   level,
			},
		})
	}
}

// Heartbeat publishes one status summary.
func (m *Manager) Heartbeat(ctx context.Context) {
	st := m.source.Status()
	handled, dropped := m.source.DispatchStats()

	payload := events.HeartbeatPayload{
		Address:        st.Address,
		State:          st.State.String(),
		Connected:      st.Connected,
		SessionID:      st.SessionID,
		PacketsHandled: handled,
		PacketsDropped: dropped,
		UptimeSeconds:  int64(time.Since(m.started).Seconds()),
	}
	if usage, err := m.memory(); err == nil {
		payload.MemoryUsedPct = usage.UsedPercent
	}

	if m.eventBus != nil {
		m.eventBus.Emit(ctx, events.Event{
			Type:    events.EventHeartbeat,
			Source:  "heartbeat",
			Payload: payload,
		})
	}
}
