// Package config handles configuration loading, validation, and persistence
// for the login client.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

const (
	DefaultConfigDir  = "config"
	DefaultConfigFile = "config.json"
	DefaultHost       = "127.0.0.1"
	DefaultPort       = 7777
	DefaultAPIPort    = 5080
)

// Config is the root configuration structure.
type Config struct {
	mu   sync.RWMutex
	path string

	Endpoint EndpointConfig `json:"endpoint" envPrefix:"ENDPOINT_"`
	Network  NetworkConfig  `json:"network" envPrefix:"NETWORK_"`
	Logging  LoggingConfig  `json:"logging" envPrefix:"LOG_"`
	Journal  JournalConfig  `json:"journal" envPrefix:"JOURNAL_"`
	MQTT     MQTTConfig     `json:"mqtt" envPrefix:"MQTT_"`
	API      APIConfig      `json:"api" envPrefix:"API_"`
	Device   DeviceConfig   `json:"device" envPrefix:"DEVICE_"`
	Health   HealthConfig   `json:"health" envPrefix:"HEALTH_"`
}

// EndpointConfig is the login server address.
type EndpointConfig struct {
	Host string `json:"host" env:"HOST"`
	Port int    `json:"port" env:"PORT"`
}

// NetworkConfig tunes the connection, I/O loops and tick cadence.
type NetworkConfig struct {
	MaxReconnectAttempts int `json:"max_reconnect_attempts" env:"MAX_RECONNECT_ATTEMPTS"`
	ConnectTimeoutMs     int `json:"connect_timeout_ms" env:"CONNECT_TIMEOUT_MS"`
	WriteTimeoutMs       int `json:"write_timeout_ms" env:"WRITE_TIMEOUT_MS"`
	TickRateHz           int `json:"tick_rate_hz" env:"TICK_RATE_HZ"`
	LoginTimeoutSec      int `json:"login_timeout_sec" env:"LOGIN_TIMEOUT_SEC"`
	ReceiveBufferSize    int `json:"receive_buffer_size" env:"RECEIVE_BUFFER_SIZE"`
	ReadChunkSize        int `json:"read_chunk_size" env:"READ_CHUNK_SIZE"`
	SendQueueSize        int `json:"send_queue_size" env:"SEND_QUEUE_SIZE"`
	ReceiveQueueSize     int `json:"receive_queue_size" env:"RECEIVE_QUEUE_SIZE"`
	ShutdownTimeoutMs    int `json:"shutdown_timeout_ms" env:"SHUTDOWN_TIMEOUT_MS"`
	IOJoinTimeoutMs      int `json:"io_join_timeout_ms" env:"IO_JOIN_TIMEOUT_MS"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level       string `json:"level" env:"LEVEL"`
	Directory   string `json:"directory" env:"DIR"`
	FileEnabled bool   `json:"file_enabled" env:"FILE_ENABLED"`
	MaxBackups  int    `json:"max_backups" env:"MAX_BACKUPS"`
	Console     bool   `json:"console" env:"CONSOLE"`
}

// JournalConfig controls the SQLite session journal.
type JournalConfig struct {
	Enabled bool   `json:"enabled" env:"ENABLED"`
	Path    string `json:"path" env:"PATH"`
}

// MQTTConfig holds MQTT telemetry settings.
type MQTTConfig struct {
	Enabled     bool   `json:"enabled" env:"ENABLED"`
	BrokerURL   string `json:"broker_url" env:"BROKER_URL"`
	Port        int    `json:"port" env:"PORT"`
	UseTLS      bool   `json:"use_tls" env:"USE_TLS"`
	CertFile    string `json:"cert_file" env:"CERT_FILE"`
	KeyFile     string `json:"key_file" env:"KEY_FILE"`
	CAFile      string `json:"ca_file" env:"CA_FILE"`
	ClientID    string `json:"client_id" env:"CLIENT_ID"`
	Username    string `json:"username" env:"USERNAME"`
	Password    string `json:"password" env:"PASSWORD"`
	TopicPrefix string `json:"topic_prefix" env:"TOPIC_PREFIX"`
}

// APIConfig holds the status API settings.
type APIConfig struct {
	Enabled        bool     `json:"enabled" env:"ENABLED"`
	Port           int      `json:"port" env:"PORT"`
	AllowedOrigins []string `json:"allowed_origins" env:"ALLOWED_ORIGINS"`
	RateLimitRPS   int      `json:"rate_limit_rps" env:"RATE_LIMIT_RPS"`
}

// DeviceConfig overrides fields of the detected device snapshot.
type DeviceConfig struct {
	Name     string `json:"name" env:"NAME"`
	Platform string `json:"platform" env:"PLATFORM"`
}

// HealthConfig sets the cadence of the health monitor. A zero interval
// disables that check.
type HealthConfig struct {
	CheckIntervalSec     int     `json:"check_interval_sec" env:"CHECK_INTERVAL_SEC"`
	HeartbeatIntervalSec int     `json:"heartbeat_interval_sec" env:"HEARTBEAT_INTERVAL_SEC"`
	MemoryWarnPercent    float64 `json:"memory_warn_percent" env:"MEMORY_WARN_PERCENT"`
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Endpoint: EndpointConfig{
			Host: DefaultHost,
			Port: DefaultPort,
		},
		Network: NetworkConfig{
			MaxReconnectAttempts: 5,
			ConnectTimeoutMs:     5000,
			WriteTimeoutMs:       5000,
			TickRateHz:           60,
			LoginTimeoutSec:      30,
			ReceiveBufferSize:    8192,
			ReadChunkSize:        4096,
			SendQueueSize:        256,
			ReceiveQueueSize:     1024,
			ShutdownTimeoutMs:    2000,
			IOJoinTimeoutMs:      1000,
		},
		Logging: LoggingConfig{
			Level:       "info",
			Directory:   "logs",
			FileEnabled: true,
			MaxBackups:  5,
			Console:     true,
		},
		Journal: JournalConfig{
			Enabled: true,
			Path:    filepath.Join("data", "journal.db"),
		},
		MQTT: MQTTConfig{
			Enabled:     false,
			BrokerURL:   "localhost",
			Port:        1883,
			TopicPrefix: "arriety",
		},
		API: APIConfig{
			Enabled:        true,
			Port:           DefaultAPIPort,
			AllowedOrigins: []string{"http://localhost:3000"},
			RateLimitRPS:   20,
		},
		Health: HealthConfig{
			CheckIntervalSec:     10,
			HeartbeatIntervalSec: 30,
			MemoryWarnPercent:    90,
		},
	}
}

// Load reads configuration from a JSON file, writing the defaults when the
// file does not exist yet.
func Load(configDir string) (*Config, error) {
	configPath := filepath.Join(configDir, DefaultConfigFile)

	data, err := os.ReadFile(configPath)
	if err != nil {
		if os.IsNotExist(err) {
			log.Info().Str("path", configPath).Msg("config file not found, creating default")
			cfg := DefaultConfig()
			cfg.path = configPath
			if saveErr := cfg.Save(); saveErr != nil {
				return nil, fmt.Errorf("failed to save default config: %w", saveErr)
			}
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config file %s: %w", configPath, err)
	}

	cfg := DefaultConfig() // Start with defaults, then overlay
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", configPath, err)
	}

	cfg.path = configPath
	log.Info().Str("path", configPath).Msg("configuration loaded")

	// Re-save so config.json carries options added since it was written.
	if saveErr := cfg.Save(); saveErr != nil {
		log.Warn().Err(saveErr).Msg("failed to re-save config with updated defaults")
	}

	return cfg, nil
}

// Save writes the current configuration to disk.
func (c *Config) Save() error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.path == "" {
		return fmt.Errorf("config has no file path")
	}

	dir := filepath.Dir(c.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(c.path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	log.Debug().Str("path", c.path).Msg("configuration saved")
	return nil
}

// GetEndpoint returns a copy of the endpoint configuration.
func (c *Config) GetEndpoint() EndpointConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Endpoint
}

// SetEndpoint updates the login server address.
func (c *Config) SetEndpoint(host string, port int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Endpoint = EndpointConfig{Host: host, Port: port}
}

// GetNetwork returns a copy of the network configuration.
func (c *Config) GetNetwork() NetworkConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Network
}

// Path returns the config file path.
func (c *Config) Path() string {
	return c.path
}

// ConnectTimeout returns the connect timeout as a duration.
func (n NetworkConfig) ConnectTimeout() time.Duration {
	return time.Duration(n.ConnectTimeoutMs) * time.Millisecond
}

// WriteTimeout returns the per-frame write timeout as a duration.
func (n NetworkConfig) WriteTimeout() time.Duration {
	return time.Duration(n.WriteTimeoutMs) * time.Millisecond
}

// LoginTimeout returns the login response deadline as a duration.
func (n NetworkConfig) LoginTimeout() time.Duration {
	return time.Duration(n.LoginTimeoutSec) * time.Second
}

// ShutdownTimeout bounds how long Disconnect waits for the tick loop.
func (n NetworkConfig) ShutdownTimeout() time.Duration {
	return time.Duration(n.ShutdownTimeoutMs) * time.Millisecond
}

// IOJoinTimeout bounds how long each I/O loop is waited for on shutdown.
func (n NetworkConfig) IOJoinTimeout() time.Duration {
	return time.Duration(n.IOJoinTimeoutMs) * time.Millisecond
}
