package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"

	"rendezvous/internal/auth"
	"rendezvous/internal/pairing"
)

// ARCHITECTURAL DISCOVERY: Configuration layer serves as system-wide settings coordinator
// Clean separation between configuration management and business logic
type Config struct {
	Database  *DatabaseConfig  `json:"database"`
	HTTP      *HTTPConfig      `json:"http"`
	WebSocket *WebSocketConfig `json:"websocket"`
	Pairing   *PairingConfig   `json:"pairing"`
	Handoff   *HandoffConfig   `json:"handoff"`
	Auth      *AuthConfig      `json:"auth"`
	Game      *GameConfig      `json:"game"`
	Redis     *RedisConfig     `json:"redis"`
	Notify    *NotifyConfig    `json:"notify"`
}

// FUNCTIONAL DISCOVERY: Database configuration supports SQLite optimizations
type DatabaseConfig struct {
	Path            string        `json:"path" env:"RENDEZVOUS_DATABASE_PATH"`
	MaxConnections  int           `json:"max_connections" env:"RENDEZVOUS_DATABASE_MAX_CONNECTIONS"`
	WriteRetryDelay time.Duration `json:"write_retry_delay" env:"RENDEZVOUS_DATABASE_WRITE_RETRY_DELAY"`
}

type HTTPConfig struct {
	Host            string        `json:"host" env:"RENDEZVOUS_HTTP_HOST"`
	Port            int           `json:"port" env:"RENDEZVOUS_HTTP_PORT"`
	ReadTimeout     time.Duration `json:"read_timeout" env:"RENDEZVOUS_HTTP_READ_TIMEOUT"`
	WriteTimeout    time.Duration `json:"write_timeout" env:"RENDEZVOUS_HTTP_WRITE_TIMEOUT"`
	ShutdownTimeout time.Duration `json:"shutdown_timeout" env:"RENDEZVOUS_HTTP_SHUTDOWN_TIMEOUT"`
}

// FUNCTIONAL DISCOVERY: Heartbeat and inbound budget apply to every socket kind
type WebSocketConfig struct {
	PingInterval  time.Duration `json:"ping_interval" env:"RENDEZVOUS_WEBSOCKET_PING_INTERVAL"`
	ReadTimeout   time.Duration `json:"read_timeout" env:"RENDEZVOUS_WEBSOCKET_READ_TIMEOUT"`
	WriteTimeout  time.Duration `json:"write_timeout" env:"RENDEZVOUS_WEBSOCKET_WRITE_TIMEOUT"`
	BufferSize    int           `json:"buffer_size" env:"RENDEZVOUS_WEBSOCKET_BUFFER_SIZE"`
	MaxFrameBytes int64         `json:"max_frame_bytes" env:"RENDEZVOUS_WEBSOCKET_MAX_FRAME_BYTES"`
	RateLimit     int           `json:"rate_limit" env:"RENDEZVOUS_WEBSOCKET_RATE_LIMIT"`
	RateWindow    time.Duration `json:"rate_window" env:"RENDEZVOUS_WEBSOCKET_RATE_WINDOW"`
}

// PairingConfig holds the token secret and the pairing policy.
// An empty Secret makes the server generate an ephemeral one at startup.
type PairingConfig struct {
	Secret              string        `json:"secret" env:"RENDEZVOUS_PAIRING_SECRET"`
	TokenTTL            time.Duration `json:"token_ttl" env:"RENDEZVOUS_PAIRING_TOKEN_TTL"`
	Cooldown            time.Duration `json:"cooldown" env:"RENDEZVOUS_PAIRING_COOLDOWN"`
	NearThresholdMeters float64       `json:"near_threshold_meters" env:"RENDEZVOUS_PAIRING_NEAR_THRESHOLD_METERS"`
	ClockSkew           time.Duration `json:"clock_skew" env:"RENDEZVOUS_PAIRING_CLOCK_SKEW"`
}

type HandoffConfig struct {
	TTL         time.Duration `json:"ttl" env:"RENDEZVOUS_HANDOFF_TTL"`
	MaxAttempts int           `json:"max_attempts" env:"RENDEZVOUS_HANDOFF_MAX_ATTEMPTS"`
}

// AuthConfig holds the HS256 credential settings.
// An empty Secret makes the server generate an ephemeral one at startup.
type AuthConfig struct {
	Secret   string        `json:"secret" env:"RENDEZVOUS_AUTH_SECRET"`
	Issuer   string        `json:"issuer" env:"RENDEZVOUS_AUTH_ISSUER"`
	TokenTTL time.Duration `json:"token_ttl" env:"RENDEZVOUS_AUTH_TOKEN_TTL"`
}

type GameConfig struct {
	DefaultType  string        `json:"default_type" env:"RENDEZVOUS_GAME_DEFAULT_TYPE"`
	AbandonAfter time.Duration `json:"abandon_after" env:"RENDEZVOUS_GAME_ABANDON_AFTER"`
}

// RedisConfig enables the shared cooldown index when URL is set
type RedisConfig struct {
	URL       string `json:"url" env:"RENDEZVOUS_REDIS_URL"`
	KeyPrefix string `json:"key_prefix" env:"RENDEZVOUS_REDIS_KEY_PREFIX"`
	PoolSize  int    `json:"pool_size" env:"RENDEZVOUS_REDIS_POOL_SIZE"`
}

// NotifyConfig enables the Postgres notification relay when PostgresURL is set
type NotifyConfig struct {
	PostgresURL          string        `json:"postgres_url" env:"RENDEZVOUS_NOTIFY_POSTGRES_URL"`
	MinReconnectInterval time.Duration `json:"min_reconnect_interval" env:"RENDEZVOUS_NOTIFY_MIN_RECONNECT_INTERVAL"`
	MaxReconnectInterval time.Duration `json:"max_reconnect_interval" env:"RENDEZVOUS_NOTIFY_MAX_RECONNECT_INTERVAL"`
	HubBufferSize        int           `json:"hub_buffer_size" env:"RENDEZVOUS_NOTIFY_HUB_BUFFER_SIZE"`
}

// FUNCTIONAL DISCOVERY: Production-ready defaults for a live scavenger hunt
func DefaultConfig() *Config {
	return &Config{
		Database: &DatabaseConfig{
			Path:            "./data/rendezvous.db",
			MaxConnections:  10,
			WriteRetryDelay: 5 * time.Second,
		},
		HTTP: &HTTPConfig{
			Host:            "0.0.0.0",
			Port:            8080,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 10 * time.Second,
		},
		WebSocket: &WebSocketConfig{
			PingInterval:  30 * time.Second,
			ReadTimeout:   60 * time.Second,
			WriteTimeout:  5 * time.Second,
			BufferSize:    100,
			MaxFrameBytes: 4096,
			RateLimit:     100,
			RateWindow:    time.Minute,
		},
		Pairing: &PairingConfig{
			TokenTTL:            300 * time.Second,
			Cooldown:            300 * time.Second,
			NearThresholdMeters: 50,
			ClockSkew:           30 * time.Second,
		},
		Handoff: &HandoffConfig{
			TTL:         300 * time.Second,
			MaxAttempts: 3,
		},
		Auth: &AuthConfig{
			Issuer:   "rendezvous",
			TokenTTL: 30 * time.Minute,
		},
		Game: &GameConfig{
			DefaultType:  "rps",
			AbandonAfter: 5 * time.Minute,
		},
		Redis: &RedisConfig{
			KeyPrefix: "rendezvous:cooldown:",
			PoolSize:  10,
		},
		Notify: &NotifyConfig{
			MinReconnectInterval: 10 * time.Second,
			MaxReconnectInterval: time.Minute,
			HubBufferSize:        1000,
		},
	}
}

// FUNCTIONAL DISCOVERY: Comprehensive validation prevents invalid system configurations
// Critical for preventing runtime failures in production deployment
func (c *Config) Validate() error {
	if c.Database == nil || c.HTTP == nil || c.WebSocket == nil || c.Pairing == nil ||
		c.Handoff == nil || c.Auth == nil || c.Game == nil || c.Redis == nil || c.Notify == nil {
		return errors.New("every configuration section is required")
	}

	if c.Database.Path == "" {
		return errors.New("database path cannot be empty")
	}
	if c.Database.MaxConnections <= 0 {
		return errors.New("database max connections must be positive")
	}
	if c.Database.WriteRetryDelay < 0 {
		return errors.New("database write retry delay cannot be negative")
	}

	if c.HTTP.Port <= 0 || c.HTTP.Port > 65535 {
		return errors.New("HTTP port must be between 1 and 65535")
	}
	if c.HTTP.Host == "" {
		return errors.New("HTTP host cannot be empty")
	}
	if c.HTTP.ReadTimeout <= 0 || c.HTTP.WriteTimeout <= 0 || c.HTTP.ShutdownTimeout <= 0 {
		return errors.New("HTTP timeouts must be positive")
	}

	if c.WebSocket.PingInterval <= 0 {
		return errors.New("WebSocket ping interval must be positive")
	}
	if c.WebSocket.ReadTimeout <= c.WebSocket.PingInterval {
		return errors.New("WebSocket read timeout must exceed the ping interval")
	}
	if c.WebSocket.WriteTimeout <= 0 {
		return errors.New("WebSocket write timeout must be positive")
	}
	if c.WebSocket.BufferSize <= 0 {
		return errors.New("WebSocket buffer size must be positive")
	}
	if c.WebSocket.MaxFrameBytes <= 0 {
		return errors.New("WebSocket max frame size must be positive")
	}
	if c.WebSocket.RateLimit <= 0 || c.WebSocket.RateWindow <= 0 {
		return errors.New("WebSocket rate limit and window must be positive")
	}

	if c.Pairing.Secret != "" {
		if _, err := pairing.DecodeKey(c.Pairing.Secret); err != nil {
			return fmt.Errorf("pairing secret: %w", err)
		}
	}
	if c.Pairing.TokenTTL <= 0 || c.Pairing.Cooldown <= 0 {
		return errors.New("pairing token TTL and cooldown must be positive")
	}
	if c.Pairing.NearThresholdMeters <= 0 {
		return errors.New("pairing near threshold must be positive")
	}
	if c.Pairing.ClockSkew < 0 {
		return errors.New("pairing clock skew cannot be negative")
	}

	if c.Handoff.TTL <= 0 {
		return errors.New("handoff TTL must be positive")
	}
	if c.Handoff.MaxAttempts <= 0 {
		return errors.New("handoff max attempts must be positive")
	}

	if c.Auth.Secret != "" && len(c.Auth.Secret) < auth.MinSecretBytes {
		return fmt.Errorf("auth secret: %w", auth.ErrWeakSecret)
	}
	if c.Auth.Issuer == "" {
		return errors.New("auth issuer cannot be empty")
	}
	if c.Auth.TokenTTL <= 0 {
		return errors.New("auth token TTL must be positive")
	}

	if c.Game.DefaultType == "" {
		return errors.New("game default type cannot be empty")
	}
	if c.Game.AbandonAfter <= 0 {
		return errors.New("game abandon timeout must be positive")
	}

	if c.Redis.URL != "" && c.Redis.PoolSize <= 0 {
		return errors.New("redis pool size must be positive")
	}

	if c.Notify.HubBufferSize <= 0 {
		return errors.New("notification hub buffer size must be positive")
	}
	if c.Notify.MinReconnectInterval <= 0 || c.Notify.MaxReconnectInterval < c.Notify.MinReconnectInterval {
		return errors.New("notify reconnect intervals are invalid")
	}

	return nil
}

// Address returns the HTTP listen address
func (c *Config) Address() string {
	return fmt.Sprintf("%s:%d", c.HTTP.Host, c.HTTP.Port)
}

// sections lists every section so env and file overlays reach all of them
func (c *Config) sections() []interface{} {
	return []interface{}{c.Database, c.HTTP, c.WebSocket, c.Pairing, c.Handoff, c.Auth, c.Game, c.Redis, c.Notify}
}

// FUNCTIONAL DISCOVERY: Environment variable configuration enables deployment flexibility
// Supports containerized deployments and configuration management systems
func LoadFromEnv() (*Config, error) {
	config := DefaultConfig()
	if err := applyEnv(config); err != nil {
		return nil, err
	}
	return config, nil
}

// applyEnv overlays RENDEZVOUS_* variables onto config; unset variables keep their value
func applyEnv(config *Config) error {
	for _, section := range config.sections() {
		if err := env.Parse(section); err != nil {
			return fmt.Errorf("parse environment: %w", err)
		}
	}
	return nil
}

// FUNCTIONAL DISCOVERY: File-based configuration supports complex deployment scenarios
// JSON format chosen for readability and tooling support
func LoadFromFile(filepath string) (*Config, error) {
	config := DefaultConfig()
	if err := applyFile(config, filepath); err != nil {
		return nil, err
	}
	// ARCHITECTURAL DISCOVERY: Validate configuration after loading to catch errors early
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration in %s: %w", filepath, err)
	}
	return config, nil
}

// applyFile overlays the keys present in a JSON file onto config.
// TECHNICAL DISCOVERY: Decoding into the already populated sections leaves
// absent keys untouched, so a partial file only overrides what it names
func applyFile(config *Config, filepath string) error {
	data, err := os.ReadFile(filepath)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", filepath, err)
	}

	var raw map[string]map[string]interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", filepath, err)
	}

	// Duration strings ("30s") are converted before decoding into the typed sections
	targets := map[string]interface{}{
		"database":  config.Database,
		"http":      config.HTTP,
		"websocket": config.WebSocket,
		"pairing":   config.Pairing,
		"handoff":   config.Handoff,
		"auth":      config.Auth,
		"game":      config.Game,
		"redis":     config.Redis,
		"notify":    config.Notify,
	}
	for name, values := range raw {
		target, ok := targets[name]
		if !ok {
			return fmt.Errorf("unknown config section %q in %s", name, filepath)
		}
		for key, value := range values {
			if s, isString := value.(string); isString && isDurationKey(key) {
				d, err := time.ParseDuration(s)
				if err != nil {
					return fmt.Errorf("invalid duration for %s.%s: %w", name, key, err)
				}
				values[key] = int64(d)
			}
		}
		encoded, err := json.Marshal(values)
		if err != nil {
			return fmt.Errorf("failed to re-encode section %s: %w", name, err)
		}
		if err := json.Unmarshal(encoded, target); err != nil {
			return fmt.Errorf("invalid section %s in %s: %w", name, filepath, err)
		}
	}
	return nil
}

// durationKeys names every JSON key holding a time.Duration
var durationKeys = map[string]bool{
	"write_retry_delay":      true,
	"read_timeout":           true,
	"write_timeout":          true,
	"shutdown_timeout":       true,
	"ping_interval":          true,
	"rate_window":            true,
	"token_ttl":              true,
	"cooldown":               true,
	"clock_skew":             true,
	"ttl":                    true,
	"min_reconnect_interval": true,
	"max_reconnect_interval": true,
	"abandon_after":          true,
}

func isDurationKey(key string) bool {
	return durationKeys[key]
}

// FUNCTIONAL DISCOVERY: Configuration precedence: file > environment > defaults
// Enables flexible deployment patterns while maintaining sane defaults
func LoadConfigWithPrecedence(filepath string) (*Config, error) {
	config := DefaultConfig()

	if err := applyEnv(config); err != nil {
		return nil, err
	}

	if filepath != "" {
		if err := applyFile(config, filepath); err != nil {
			return nil, err
		}
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return config, nil
}
