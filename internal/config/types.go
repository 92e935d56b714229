// Package config loads and validates the fleetwatch.yaml configuration file.
package config

import "time"

// CurrentConfigVersion is the schema version for the config file.
// Increment when making breaking changes to the config structure.
const CurrentConfigVersion = 1

// Config represents the complete fleetwatch.yaml configuration file.
type Config struct {
	Version int `yaml:"version" mapstructure:"version"`

	// PollingInterval is the time between fleet poll cycles.
	PollingInterval time.Duration `yaml:"polling_interval" mapstructure:"polling_interval"`

	// LegacyThreshold is how long a detached session may be idle before
	// it is classified as legacy.
	LegacyThreshold time.Duration `yaml:"legacy_threshold" mapstructure:"legacy_threshold"`

	// Concurrency caps how many hosts are polled at once. 0 means all.
	Concurrency int `yaml:"concurrency" mapstructure:"concurrency"`

	SSH     SSHConfig     `yaml:"ssh" mapstructure:"ssh"`
	Alerts  AlertsConfig  `yaml:"alerts" mapstructure:"alerts"`
	History HistoryConfig `yaml:"history" mapstructure:"history"`
	Server  ServerConfig  `yaml:"server" mapstructure:"server"`

	Hosts []Host `yaml:"hosts" mapstructure:"hosts"`
}

// Host defines one monitored machine.
type Host struct {
	// Name identifies the host in snapshots, alerts, and the API.
	Name string `yaml:"name" mapstructure:"name"`

	// Address is the SSH target: hostname, IP, or SSH config alias.
	// Defaults to Name when empty.
	Address string `yaml:"address" mapstructure:"address"`

	// HasGPU enables nvidia-smi probes for this host.
	HasGPU bool `yaml:"has_gpu" mapstructure:"has_gpu"`

	// Tags for grouping hosts in the UI and API filters.
	Tags []string `yaml:"tags" mapstructure:"tags"`
}

// SSHTarget returns the address to dial for this host.
func (h Host) SSHTarget() string {
	if h.Address != "" {
		return h.Address
	}
	return h.Name
}

// SSHConfig holds the shared service-account connection settings.
type SSHConfig struct {
	// User is the login name. Empty means the ssh_config or OS user.
	User string `yaml:"user" mapstructure:"user"`

	// IdentityFile is the private key path. Empty means agent/ssh_config.
	IdentityFile string `yaml:"identity_file" mapstructure:"identity_file"`

	// ConnectTimeout bounds the TCP+handshake phase of a dial.
	ConnectTimeout time.Duration `yaml:"connect_timeout" mapstructure:"connect_timeout"`

	// CommandTimeout bounds each remote command.
	CommandTimeout time.Duration `yaml:"command_timeout" mapstructure:"command_timeout"`

	// StrictHostKeys enables known_hosts verification.
	StrictHostKeys bool `yaml:"strict_host_keys" mapstructure:"strict_host_keys"`
}

// AlertsConfig holds alert thresholds. Percent values are 0-100.
type AlertsConfig struct {
	Enabled bool `yaml:"enabled" mapstructure:"enabled"`

	SessionCPUPercent  float64 `yaml:"session_cpu_percent" mapstructure:"session_cpu_percent"`
	SessionMemoryMB    float64 `yaml:"session_memory_mb" mapstructure:"session_memory_mb"`
	HostCPUPercent     float64 `yaml:"host_cpu_percent" mapstructure:"host_cpu_percent"`
	HostMemoryPercent  float64 `yaml:"host_memory_percent" mapstructure:"host_memory_percent"`
	GPUMemoryPercent   float64 `yaml:"gpu_memory_percent" mapstructure:"gpu_memory_percent"`
	GPUTempWarningC    int     `yaml:"gpu_temp_warning_c" mapstructure:"gpu_temp_warning_c"`
	GPUTempCriticalC   int     `yaml:"gpu_temp_critical_c" mapstructure:"gpu_temp_critical_c"`
}

// HistoryConfig selects and configures the history backend.
type HistoryConfig struct {
	// Backend is "memory" or "mongo".
	Backend string `yaml:"backend" mapstructure:"backend"`

	// URI is the MongoDB connection string (mongo backend only).
	URI string `yaml:"uri" mapstructure:"uri"`

	// Database is the MongoDB database name (mongo backend only).
	Database string `yaml:"database" mapstructure:"database"`

	// Retention caps how far back in-memory history is kept.
	Retention time.Duration `yaml:"retention" mapstructure:"retention"`
}

// ServerConfig holds the HTTP API settings.
type ServerConfig struct {
	// Listen is the address the API binds to, e.g. ":8080".
	Listen string `yaml:"listen" mapstructure:"listen"`

	// QueueSize is the per-subscriber event buffer. When a subscriber
	// falls behind, the oldest queued event is dropped.
	QueueSize int `yaml:"queue_size" mapstructure:"queue_size"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Version:         CurrentConfigVersion,
		PollingInterval: 30 * time.Second,
		LegacyThreshold: 72 * time.Hour,
		Concurrency:     8,
		SSH: SSHConfig{
			ConnectTimeout: 10 * time.Second,
			CommandTimeout: 15 * time.Second,
			StrictHostKeys: false,
		},
		Alerts: AlertsConfig{
			Enabled:           true,
			SessionCPUPercent: 90,
			SessionMemoryMB:   8192,
			HostCPUPercent:    90,
			HostMemoryPercent: 90,
			GPUMemoryPercent:  95,
			GPUTempWarningC:   80,
			GPUTempCriticalC:  90,
		},
		History: HistoryConfig{
			Backend:   "memory",
			Retention: 24 * time.Hour,
		},
		Server: ServerConfig{
			Listen:    ":8080",
			QueueSize: 64,
		},
	}
}
