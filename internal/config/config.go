// Package config loads the device configuration file.
//
// Files ending in .yaml/.yml are parsed as YAML, everything else as JSON5.
// A missing file is not an error: defaults apply, then ALLOW2_* environment
// overrides.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/titanous/json5"
	"gopkg.in/yaml.v3"

	"github.com/nextlevelbuilder/allow2/pkg/protocol"
)

// State backends.
const (
	BackendFile   = "file"
	BackendSQLite = "sqlite"
	BackendRedis  = "redis"
	BackendMemory = "memory"
)

// Config is the root configuration.
type Config struct {
	Environment string          `json:"environment" yaml:"environment"`
	DeviceToken string          `json:"device_token,omitempty" yaml:"device_token,omitempty"`
	DeviceName  string          `json:"device_name,omitempty" yaml:"device_name,omitempty"`
	Timezone    string          `json:"timezone,omitempty" yaml:"timezone,omitempty"`
	State       StateConfig     `json:"state" yaml:"state"`
	Check       CheckConfig     `json:"check" yaml:"check"`
	Pairing     PairingConfig   `json:"pairing" yaml:"pairing"`
	QR          QRConfig        `json:"qr" yaml:"qr"`
	Transport   TransportConfig `json:"transport" yaml:"transport"`
	Telemetry   TelemetryConfig `json:"telemetry" yaml:"telemetry"`
	Log         LogConfig       `json:"log" yaml:"log"`
}

// StateConfig selects where pairing state is persisted.
type StateConfig struct {
	Backend        string      `json:"backend" yaml:"backend"`
	Path           string      `json:"path,omitempty" yaml:"path,omitempty"`
	SecretKey      string      `json:"secret_key,omitempty" yaml:"secret_key,omitempty"`
	Keyring        bool        `json:"keyring,omitempty" yaml:"keyring,omitempty"`
	KeyringService string      `json:"keyring_service,omitempty" yaml:"keyring_service,omitempty"`
	Redis          RedisConfig `json:"redis" yaml:"redis"`
}

// RedisConfig is used when State.Backend is "redis".
type RedisConfig struct {
	Addr     string `json:"addr,omitempty" yaml:"addr,omitempty"`
	Password string `json:"password,omitempty" yaml:"password,omitempty"`
	DB       int    `json:"db,omitempty" yaml:"db,omitempty"`
	Prefix   string `json:"prefix,omitempty" yaml:"prefix,omitempty"`
	// Key names this device's hash; defaults to the hostname.
	Key string `json:"key,omitempty" yaml:"key,omitempty"`
}

// HashKey returns the Redis hash that holds this device's state.
func (r RedisConfig) HashKey() string {
	key := r.Key
	if key == "" {
		key, _ = os.Hostname()
	}
	if key == "" {
		key = "device"
	}
	return r.Prefix + key
}

type CheckConfig struct {
	Interval  Duration `json:"interval" yaml:"interval"`
	CacheSize int      `json:"cache_size" yaml:"cache_size"`
}

type PairingConfig struct {
	PollInterval Duration `json:"poll_interval" yaml:"poll_interval"`
}

type QRConfig struct {
	Debounce Duration `json:"debounce" yaml:"debounce"`
}

// TransportConfig tunes the outbound HTTP client.
type TransportConfig struct {
	Timeout           Duration `json:"timeout" yaml:"timeout"`
	RequestsPerMinute int      `json:"requests_per_minute" yaml:"requests_per_minute"`
	Burst             int      `json:"burst" yaml:"burst"`
	UserAgent         string   `json:"user_agent,omitempty" yaml:"user_agent,omitempty"`
}

// TelemetryConfig configures OTLP trace export.
type TelemetryConfig struct {
	Enabled     bool              `json:"enabled" yaml:"enabled"`
	Endpoint    string            `json:"endpoint,omitempty" yaml:"endpoint,omitempty"`
	Protocol    string            `json:"protocol,omitempty" yaml:"protocol,omitempty"`
	Insecure    bool              `json:"insecure,omitempty" yaml:"insecure,omitempty"`
	ServiceName string            `json:"service_name,omitempty" yaml:"service_name,omitempty"`
	Headers     map[string]string `json:"headers,omitempty" yaml:"headers,omitempty"`
}

type LogConfig struct {
	Level  string `json:"level" yaml:"level"`
	Format string `json:"format" yaml:"format"`
}

// Default returns a config with every default applied.
func Default() *Config {
	return &Config{
		Environment: string(protocol.EnvProduction),
		State: StateConfig{
			Backend:        BackendFile,
			KeyringService: "allow2",
			Redis:          RedisConfig{Addr: "localhost:6379", Prefix: "allow2:"},
		},
		Check:     CheckConfig{Interval: Duration(3 * time.Second), CacheSize: 256},
		Pairing:   PairingConfig{PollInterval: Duration(3 * time.Second)},
		QR:        QRConfig{Debounce: Duration(500 * time.Millisecond)},
		Transport: TransportConfig{Timeout: Duration(30 * time.Second), RequestsPerMinute: 120, Burst: 10},
		Telemetry: TelemetryConfig{Protocol: "grpc", ServiceName: "allow2-device"},
		Log:       LogConfig{Level: "info", Format: "text"},
	}
}

// Load reads path, applies env overrides and validates the result.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(ExpandHome(path))
	switch {
	case errors.Is(err, fs.ErrNotExist):
	case err != nil:
		return nil, fmt.Errorf("read config: %w", err)
	default:
		if err := decode(path, data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	cfg.applyEnvOverrides()
	if cfg.State.Path == "" {
		cfg.State.Path = DefaultStatePath(cfg.State.Backend)
	}
	cfg.State.Path = ExpandHome(cfg.State.Path)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func decode(path string, data []byte, cfg *Config) error {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return yaml.Unmarshal(data, cfg)
	default:
		return json5.Unmarshal(data, cfg)
	}
}

func (c *Config) applyEnvOverrides() {
	envStr := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	envStr("ALLOW2_ENV", &c.Environment)
	envStr("ALLOW2_DEVICE_TOKEN", &c.DeviceToken)
	envStr("ALLOW2_DEVICE_NAME", &c.DeviceName)
	envStr("ALLOW2_TIMEZONE", &c.Timezone)
	envStr("ALLOW2_STATE_BACKEND", &c.State.Backend)
	envStr("ALLOW2_STATE_PATH", &c.State.Path)
	envStr("ALLOW2_STATE_KEY", &c.State.SecretKey)
	envStr("ALLOW2_REDIS_ADDR", &c.State.Redis.Addr)
	envStr("ALLOW2_REDIS_PASSWORD", &c.State.Redis.Password)
	envStr("ALLOW2_LOG_LEVEL", &c.Log.Level)
	envStr("OTEL_EXPORTER_OTLP_ENDPOINT", &c.Telemetry.Endpoint)
}

// Validate rejects values the device cannot run with.
func (c *Config) Validate() error {
	if _, err := protocol.ParseEnvironment(c.Environment); err != nil {
		return err
	}
	switch c.State.Backend {
	case BackendFile, BackendSQLite, BackendRedis, BackendMemory:
	default:
		return fmt.Errorf("unknown state backend %q", c.State.Backend)
	}
	if c.Timezone != "" {
		if _, err := time.LoadLocation(c.Timezone); err != nil {
			return fmt.Errorf("invalid timezone %q: %w", c.Timezone, err)
		}
	}
	if c.Check.Interval < 0 || c.Pairing.PollInterval < 0 || c.QR.Debounce < 0 {
		return errors.New("intervals must not be negative")
	}
	switch strings.ToLower(c.Telemetry.Protocol) {
	case "", "grpc", "http":
	default:
		return fmt.Errorf("unknown telemetry protocol %q", c.Telemetry.Protocol)
	}
	return nil
}

// Env returns the parsed environment. Validate has already vetted it.
func (c *Config) Env() protocol.Environment {
	env, _ := protocol.ParseEnvironment(c.Environment)
	return env
}

// Dir is the per-user configuration directory.
func Dir() string {
	if d, err := os.UserConfigDir(); err == nil {
		return filepath.Join(d, "allow2")
	}
	return filepath.Join(".", ".allow2")
}

// DefaultPath is the config file used when none is given.
func DefaultPath() string {
	return filepath.Join(Dir(), "config.json5")
}

// DefaultStatePath returns the state location for a backend.
func DefaultStatePath(backend string) string {
	if backend == BackendSQLite {
		return filepath.Join(Dir(), "state.db")
	}
	return filepath.Join(Dir(), "state.json")
}

// ExpandHome replaces a leading ~ with the user's home directory.
func ExpandHome(path string) string {
	if path == "~" || strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, path[1:])
		}
	}
	return path
}
