package config

import (
	"fmt"
	"strings"

	"github.com/rs/zerolog"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("config validation error [%s]: %s", e.Field, e.Message)
}

// ValidationResult holds the results of configuration validation.
type ValidationResult struct {
	Errors   []ValidationError
	Warnings []ValidationError
}

// IsValid returns true if there are no validation errors.
func (r *ValidationResult) IsValid() bool {
	return len(r.Errors) == 0
}

// AddError adds a validation error.
func (r *ValidationResult) AddError(field, message string) {
	r.Errors = append(r.Errors, ValidationError{Field: field, Message: message})
}

// AddWarning adds a validation warning.
func (r *ValidationResult) AddWarning(field, message string) {
	r.Warnings = append(r.Warnings, ValidationError{Field: field, Message: message})
}

// Validate checks the configuration for values the client cannot run with.
func Validate(cfg *Config) *ValidationResult {
	result := &ValidationResult{}

	validateEndpoint(&cfg.Endpoint, result)
	validateNetwork(&cfg.Network, result)
	validateLogging(&cfg.Logging, result)

	if cfg.Journal.Enabled && strings.TrimSpace(cfg.Journal.Path) == "" {
		result.AddError("journal.path", "journal path is required when enabled")
	}

	if cfg.MQTT.Enabled {
		if strings.TrimSpace(cfg.MQTT.BrokerURL) == "" {
			result.AddError("mqtt.broker_url", "MQTT broker URL is required when enabled")
		}
		validatePort(cfg.MQTT.Port, "mqtt.port", result)
		if cfg.MQTT.UseTLS && cfg.MQTT.CertFile != "" && cfg.MQTT.KeyFile == "" {
			result.AddError("mqtt.key_file", "client key is required when a client certificate is set")
		}
	}

	if cfg.API.Enabled {
		validatePort(cfg.API.Port, "api.port", result)
		if cfg.API.Port == cfg.Endpoint.Port && isLoopback(cfg.Endpoint.Host) {
			result.AddWarning("api.port", "API port equals the login server port on this host")
		}
	}

	if cfg.Health.CheckIntervalSec < 0 || cfg.Health.HeartbeatIntervalSec < 0 {
		result.AddError("health", "health intervals cannot be negative")
	}
	if cfg.Health.MemoryWarnPercent < 0 || cfg.Health.MemoryWarnPercent > 100 {
		result.AddError("health.memory_warn_percent", "memory threshold must be between 0 and 100")
	}

	return result
}

func validateEndpoint(ep *EndpointConfig, result *ValidationResult) {
	if strings.TrimSpace(ep.Host) == "" {
		result.AddError("endpoint.host", "login server host is required")
	}
	validatePort(ep.Port, "endpoint.port", result)
}

func validateNetwork(n *NetworkConfig, result *ValidationResult) {
	if n.MaxReconnectAttempts < 1 {
		result.AddError("network.max_reconnect_attempts", "must allow at least 1 attempt")
	}
	if n.TickRateHz < 1 || n.TickRateHz > 1000 {
		result.AddError("network.tick_rate_hz", fmt.Sprintf("tick rate %d out of range (1-1000)", n.TickRateHz))
	} else if n.TickRateHz < 10 {
		result.AddWarning("network.tick_rate_hz", "tick rates below 10 Hz delay packet dispatch noticeably")
	}
	if n.LoginTimeoutSec < 1 {
		result.AddError("network.login_timeout_sec", "login timeout must be at least 1 second")
	}
	if n.ConnectTimeoutMs < 1 {
		result.AddError("network.connect_timeout_ms", "connect timeout must be positive")
	}
	if n.ReceiveBufferSize < 3 {
		result.AddError("network.receive_buffer_size", "receive buffer must hold at least a frame header")
	}
	if n.ReadChunkSize < 1 {
		result.AddError("network.read_chunk_size", "read chunk size must be positive")
	}
	if n.SendQueueSize < 1 {
		result.AddError("network.send_queue_size", "send queue must hold at least 1 frame")
	}
	if n.ReceiveQueueSize < 1 {
		result.AddError("network.receive_queue_size", "receive queue must hold at least 1 frame")
	}
	if n.ShutdownTimeoutMs < n.IOJoinTimeoutMs {
		result.AddWarning("network.shutdown_timeout_ms", "shutdown timeout is shorter than the I/O join timeout")
	}
}

func validateLogging(l *LoggingConfig, result *ValidationResult) {
	if _, err := zerolog.ParseLevel(l.Level); err != nil {
		result.AddWarning("logging.level", fmt.Sprintf("unknown level %q, falling back to info", l.Level))
	}
	if l.FileEnabled && strings.TrimSpace(l.Directory) == "" {
		result.AddError("logging.directory", "log directory is required when file logging is enabled")
	}
}

func validatePort(port int, field string, result *ValidationResult) {
	if port < 1 || port > 65535 {
		result.AddError(field, fmt.Sprintf("invalid port number: %d (must be 1-65535)", port))
		return
	}
	if port < 1024 {
		result.AddWarning(field,
			fmt.Sprintf("port %d is a privileged port, may require elevated permissions", port))
	}
}

func isLoopback(host string) bool {
	return host == "localhost" || strings.HasPrefix(host, "127.") || host == "::1"
}
