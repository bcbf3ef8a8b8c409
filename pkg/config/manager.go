package config

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// Manager handles configuration loading and live-reload for the
// scheduler and client processes.
type Manager struct {
	viper       *viper.Viper
	environment string
	configPath  string
}

// Config is the complete application configuration shared by
// cmd/scheduler and cmd/agent.
type Config struct {
	Environment string          `mapstructure:"environment"`
	Version     string          `mapstructure:"version"`
	Scheduler   SchedulerConfig `mapstructure:"scheduler"`
	Client      ClientConfig    `mapstructure:"client"`
	IPC         IPCConfig       `mapstructure:"ipc"`
	Telemetry   TelemetryConfig `mapstructure:"telemetry"`
	Metrics     MetricsConfig   `mapstructure:"metrics"`
	Logging     LoggingConfig   `mapstructure:"logging"`
	Tracing     TracingConfig   `mapstructure:"tracing"`
}

// SchedulerConfig tunes the scheduler process: its dynamic-search time
// budget, starting strategy mode, operator console, and device roster.
type SchedulerConfig struct {
	StrategyTimeout time.Duration  `mapstructure:"strategy_timeout"`
	InitialMode     string         `mapstructure:"initial_mode"`
	ConsoleEnabled  bool           `mapstructure:"console_enabled"`
	Devices         []DeviceConfig `mapstructure:"devices"`
}

// DeviceConfig describes one physical device entry in the roster the
// scheduler bootstraps at startup.
type DeviceConfig struct {
	Type         string `mapstructure:"type"`
	ID           int    `mapstructure:"id"`
	ComputePower int    `mapstructure:"compute_power"`
}

// ClientConfig tunes the per-process task service: how many requests
// pass between strategy re-fetches, its worker pool size, and how many
// RegisterTask calls may be in flight at once.
type ClientConfig struct {
	BatchSize      int `mapstructure:"batch_size"`
	WorkerPoolSize int `mapstructure:"worker_pool_size"`
	PendingCap     int `mapstructure:"pending_cap"`
}

// IPCConfig configures the Unix-socket RPC transport between the
// scheduler and its clients.
type IPCConfig struct {
	SocketPath   string        `mapstructure:"socket_path"`
	PresharedKey string        `mapstructure:"preshared_key"`
	CallTimeout  time.Duration `mapstructure:"call_timeout"`
}

// TelemetryConfig tunes the per-device-type throughput publishers.
type TelemetryConfig struct {
	TickPeriod time.Duration `mapstructure:"tick_period"`
}

// MetricsConfig contains Prometheus exposition configuration.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Host    string `mapstructure:"host"`
	Port    int    `mapstructure:"port"`
	Path    string `mapstructure:"path"`
}

// LoggingConfig contains logrus configuration.
type LoggingConfig struct {
	Level        string `mapstructure:"level"`
	Format       string `mapstructure:"format"`
	EnableCaller bool   `mapstructure:"enable_caller"`
}

// TracingConfig contains OpenTelemetry exporter configuration.
type TracingConfig struct {
	Enabled     bool       `mapstructure:"enabled"`
	ServiceName string     `mapstructure:"service_name"`
	OTLP        OTLPConfig `mapstructure:"otlp"`
}

// OTLPConfig contains OTLP exporter endpoint configuration.
type OTLPConfig struct {
	Endpoint string `mapstructure:"endpoint"`
	Insecure bool   `mapstructure:"insecure"`
}

// DefaultPresharedKey is the pre-shared key shipped as a placeholder;
// operators are expected to override it, and the scheduler logs a
// warning at startup when this value is still in effect.
const DefaultPresharedKey = "lemon"

// NewManager creates a new configuration manager.
func NewManager(environment, configPath string) *Manager {
	v := viper.New()
	v.SetDefault("scheduler.strategy_timeout", 500*time.Millisecond)
	v.SetDefault("scheduler.initial_mode", "static")
	v.SetDefault("scheduler.console_enabled", true)
	v.SetDefault("scheduler.devices", []map[string]interface{}{
		{"type": "CPU", "id": 0, "compute_power": 40},
		{"type": "GPU", "id": 0, "compute_power": 500},
		{"type": "NPU", "id": 0, "compute_power": 200},
		{"type": "FPGA", "id": 0, "compute_power": 150},
	})
	v.SetDefault("client.batch_size", 20)
	v.SetDefault("client.worker_pool_size", 8)
	v.SetDefault("client.pending_cap", 5)
	v.SetDefault("ipc.socket_path", "/tmp/scheduler.sock")
	v.SetDefault("ipc.preshared_key", DefaultPresharedKey)
	v.SetDefault("ipc.call_timeout", 2*time.Second)
	v.SetDefault("telemetry.tick_period", 100*time.Millisecond)
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	return &Manager{
		viper:       v,
		environment: environment,
		configPath:  configPath,
	}
}

// Load loads the configuration from files and environment variables.
func (m *Manager) Load() (*Config, error) {
	if m.configPath == "" {
		m.configPath = "configs"
	}

	configFile := fmt.Sprintf("environments/%s.yaml", m.environment)

	m.viper.SetConfigName(strings.TrimSuffix(configFile, filepath.Ext(configFile)))
	m.viper.SetConfigType("yaml")
	m.viper.AddConfigPath(m.configPath)
	m.viper.AddConfigPath(".")
	m.viper.AddConfigPath("./configs")
	m.viper.AddConfigPath("/etc/devsched")
	m.viper.AddConfigPath("$HOME/.devsched")

	m.viper.AutomaticEnv()
	m.viper.SetEnvPrefix("SCHEDULER")
	m.viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))

	if err := m.viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read configuration file: %w", err)
		}
	}

	var config Config
	if err := m.viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}

	if err := m.validate(&config); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &config, nil
}

func (m *Manager) validate(config *Config) error {
	if config.Scheduler.StrategyTimeout <= 0 {
		return fmt.Errorf("scheduler.strategy_timeout must be positive")
	}
	if config.Client.BatchSize <= 0 {
		return fmt.Errorf("client.batch_size must be positive")
	}
	if config.Client.WorkerPoolSize <= 0 {
		return fmt.Errorf("client.worker_pool_size must be positive")
	}
	if config.IPC.SocketPath == "" {
		return fmt.Errorf("ipc.socket_path is required")
	}
	return nil
}

// GetString returns a string configuration value.
func (m *Manager) GetString(key string) string { return m.viper.GetString(key) }

// GetInt returns an integer configuration value.
func (m *Manager) GetInt(key string) int { return m.viper.GetInt(key) }

// GetBool returns a boolean configuration value.
func (m *Manager) GetBool(key string) bool { return m.viper.GetBool(key) }

// GetDuration returns a duration configuration value.
func (m *Manager) GetDuration(key string) time.Duration { return m.viper.GetDuration(key) }

// Set sets a configuration value.
func (m *Manager) Set(key string, value interface{}) { m.viper.Set(key, value) }

// IsSet checks if a configuration key is set.
func (m *Manager) IsSet(key string) bool { return m.viper.IsSet(key) }

// WatchConfig watches for configuration file changes and invokes
// callback on every reload.
func (m *Manager) WatchConfig(callback func()) {
	m.viper.WatchConfig()
	m.viper.OnConfigChange(func(e fsnotify.Event) {
		if callback != nil {
			callback()
		}
	})
}

// GetEnvironment returns the current environment.
func (m *Manager) GetEnvironment() string { return m.environment }

// IsDevelopment returns true if running in the development environment.
func (m *Manager) IsDevelopment() bool { return m.environment == "development" }

// IsProduction returns true if running in the production environment.
func (m *Manager) IsProduction() bool { return m.environment == "production" }

// UsingDefaultPresharedKey reports whether the IPC pre-shared key is
// still the shipped placeholder.
func (config *Config) UsingDefaultPresharedKey() bool {
	return config.IPC.PresharedKey == DefaultPresharedKey
}

// MetricsAddress returns the metrics server bind address.
func (config *Config) MetricsAddress() string {
	return fmt.Sprintf("%s:%d", config.Metrics.Host, config.Metrics.Port)
}
