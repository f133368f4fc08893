// Package config handles configuration for the modlink service.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// PLCKind identifies which protocol client implementation to construct.
type PLCKind string

const (
	// KindSim is the fully simulated controller (no network).
	KindSim PLCKind = "sim"
	// KindMicro820 is a generic Allen-Bradley Micro 820 over Modbus TCP.
	KindMicro820 PLCKind = "micro820"
	// KindFactoryIO is the Factory I/O + Micro 820 combination.
	KindFactoryIO PLCKind = "factoryio"
)

// NormalizeKind maps user-supplied kind strings (including legacy aliases)
// onto the canonical PLCKind values. Unknown strings pass through unchanged
// so the factory can report them.
func NormalizeKind(s string) PLCKind {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "sim", "mock":
		return KindSim
	case "micro820":
		return KindMicro820
	case "factoryio", "factoryio_micro820", "factory_io":
		return KindFactoryIO
	default:
		return PLCKind(strings.ToLower(strings.TrimSpace(s)))
	}
}

// Valid reports whether the kind is a member of the closed kind set.
func (k PLCKind) Valid() bool {
	switch k {
	case KindSim, KindMicro820, KindFactoryIO:
		return true
	default:
		return false
	}
}

func (k PLCKind) String() string {
	return string(k)
}

// ValidKinds lists the accepted kind names for error messages.
func ValidKinds() []string {
	return []string{string(KindSim), string(KindMicro820), string(KindFactoryIO)}
}

// PLCConfig describes the controller connection.
type PLCConfig struct {
	Kind       string        `yaml:"kind"`
	Host       string        `yaml:"host"`
	Port       int           `yaml:"port"`
	Timeout    time.Duration `yaml:"timeout"`
	RetryCount int           `yaml:"retry_count"`
	RetryDelay time.Duration `yaml:"retry_delay"`
	Scene      string        `yaml:"scene"`

	// AutoReconnect controls whether the connection manager attempts to
	// re-establish a severed session on its own. Nil means enabled.
	AutoReconnect *bool `yaml:"auto_reconnect,omitempty"`
}

// AutoReconnectEnabled resolves the tri-state AutoReconnect flag.
func (p *PLCConfig) AutoReconnectEnabled() bool {
	if p.AutoReconnect == nil {
		return true
	}
	return *p.AutoReconnect
}

// Address returns the host:port dial string.
func (p *PLCConfig) Address() string {
	return fmt.Sprintf("%s:%d", p.Host, p.Port)
}

// WebConfig holds the REST API server configuration.
type WebConfig struct {
	Enabled bool   `yaml:"enabled"`
	Host    string `yaml:"host"`
	Port    int    `yaml:"port"`
}

// ScanConfig holds network scanner defaults.
type ScanConfig struct {
	Port    int           `yaml:"port"`
	Timeout time.Duration `yaml:"timeout"`
	Workers int           `yaml:"workers"`
}

// MQTTConfig holds configuration for the MQTT state publisher.
type MQTTConfig struct {
	Enabled           bool          `yaml:"enabled"`
	Broker            string        `yaml:"broker"` // e.g. "tcp://localhost:1883"
	ClientID          string        `yaml:"client_id"`
	Username          string        `yaml:"username,omitempty"`
	Password          string        `yaml:"password,omitempty"`
	UseTLS            bool          `yaml:"use_tls,omitempty"`
	RootTopic         string        `yaml:"root_topic"`
	QOS               byte          `yaml:"qos"`
	RepublishInterval time.Duration `yaml:"republish_interval,omitempty"`
}

// ValkeyConfig holds configuration for the Valkey/Redis state publisher.
type ValkeyConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Address   string `yaml:"address"` // host:port
	Password  string `yaml:"password,omitempty"`
	Database  int    `yaml:"database,omitempty"`
	UseTLS    bool   `yaml:"use_tls,omitempty"`
	KeyPrefix string `yaml:"key_prefix"`
	Channel   string `yaml:"channel,omitempty"`
}

// KafkaConfig holds configuration for the Kafka state-change producer.
type KafkaConfig struct {
	Enabled  bool     `yaml:"enabled"`
	Brokers  []string `yaml:"brokers"`
	Topic    string   `yaml:"topic"`
	ClientID string   `yaml:"client_id,omitempty"`
}

// Config holds the complete application configuration.
type Config struct {
	PLC      PLCConfig     `yaml:"plc"`
	Web      WebConfig     `yaml:"web"`
	Scan     ScanConfig    `yaml:"scan"`
	MQTT     MQTTConfig    `yaml:"mqtt,omitempty"`
	Valkey   ValkeyConfig  `yaml:"valkey,omitempty"`
	Kafka    KafkaConfig   `yaml:"kafka,omitempty"`
	PollRate time.Duration `yaml:"poll_rate"`
	LogFile  string        `yaml:"log_file,omitempty"`
}

// Defaults mirrored from the documented environment surface: kind defaults
// to the simulated client, port to the Modbus TCP standard port, retry
// count to 3.
const (
	DefaultPLCPort    = 502
	DefaultRetryCount = 3
	DefaultTimeout    = 5 * time.Second
	DefaultRetryDelay = time.Second
	DefaultScene      = "sorting_station"
)

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		PLC: PLCConfig{
			Kind:       string(KindSim),
			Host:       "localhost",
			Port:       DefaultPLCPort,
			Timeout:    DefaultTimeout,
			RetryCount: DefaultRetryCount,
			RetryDelay: DefaultRetryDelay,
			Scene:      DefaultScene,
		},
		Web: WebConfig{
			Enabled: true,
			Host:    "0.0.0.0",
			Port:    8080,
		},
		Scan: ScanConfig{
			Port:    DefaultPLCPort,
			Timeout: 300 * time.Millisecond,
			Workers: 50,
		},
		MQTT: MQTTConfig{
			RootTopic: "modlink",
			QOS:       1,
		},
		Valkey: ValkeyConfig{
			KeyPrefix: "modlink",
		},
		PollRate: time.Second,
	}
}

// DefaultPath returns the default configuration file path (~/.modlink/config.yaml).
func DefaultPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "config.yaml"
	}
	return filepath.Join(home, ".modlink", "config.yaml")
}

// Load reads configuration from a YAML file, applying defaults for any
// missing values and environment overrides on top. A missing file is not
// an error; the defaults are returned.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, err
		}
	} else {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	}

	cfg.applyEnv()
	cfg.fillZeroes()
	return cfg, nil
}

// Save writes the configuration to a YAML file, creating the directory
// if needed.
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// Environment variable names carried over from the original deployment
// surface. USE_SIM_PLC forces the simulated client regardless of kind.
const (
	EnvPLCType    = "PLC_TYPE"
	EnvPLCHost    = "PLC_HOST"
	EnvPLCPort    = "PLC_PORT"
	EnvPLCTimeout = "PLC_TIMEOUT"
	EnvRetryCount = "PLC_RETRY_COUNT"
	EnvScene      = "FACTORY_SCENE"
	EnvUseSimPLC  = "USE_SIM_PLC"
)

func (c *Config) applyEnv() {
	if v := os.Getenv(EnvPLCType); v != "" {
		c.PLC.Kind = v
	}
	if v := os.Getenv(EnvPLCHost); v != "" {
		c.PLC.Host = v
	}
	if v := os.Getenv(EnvPLCPort); v != "" {
		if port, err := strconv.Atoi(v); err == nil && port > 0 {
			c.PLC.Port = port
		}
	}
	if v := os.Getenv(EnvPLCTimeout); v != "" {
		if secs, err := strconv.ParseFloat(v, 64); err == nil && secs > 0 {
			c.PLC.Timeout = time.Duration(secs * float64(time.Second))
		}
	}
	if v := os.Getenv(EnvRetryCount); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.PLC.RetryCount = n
		}
	}
	if v := os.Getenv(EnvScene); v != "" {
		c.PLC.Scene = v
	}
	if v := os.Getenv(EnvUseSimPLC); strings.EqualFold(v, "true") {
		c.PLC.Kind = string(KindSim)
	}
}

// fillZeroes restores defaults for fields a hand-edited config file may
// have left zeroed.
func (c *Config) fillZeroes() {
	if c.PLC.Kind == "" {
		c.PLC.Kind = string(KindSim)
	}
	if c.PLC.Port <= 0 {
		c.PLC.Port = DefaultPLCPort
	}
	if c.PLC.Timeout <= 0 {
		c.PLC.Timeout = DefaultTimeout
	}
	if c.PLC.RetryCount <= 0 {
		c.PLC.RetryCount = DefaultRetryCount
	}
	if c.PLC.RetryDelay <= 0 {
		c.PLC.RetryDelay = DefaultRetryDelay
	}
	if c.PLC.Scene == "" {
		c.PLC.Scene = DefaultScene
	}
	if c.Scan.Port <= 0 {
		c.Scan.Port = DefaultPLCPort
	}
	if c.Scan.Timeout <= 0 {
		c.Scan.Timeout = 300 * time.Millisecond
	}
	if c.Scan.Workers <= 0 {
		c.Scan.Workers = 50
	}
	if c.PollRate <= 0 {
		c.PollRate = time.Second
	}
}
