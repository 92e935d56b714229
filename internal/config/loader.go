package config

import (
	"os"
	"path/filepath"

	"github.com/spf13/viper"

	"fleetwatch/internal/errors"
)

const (
	// ConfigFileName is the default config file name.
	ConfigFileName = "fleetwatch.yaml"
	// GlobalConfigDir is the directory for global config.
	GlobalConfigDir = ".config/fleetwatch"
	// GlobalConfigFile is the global config file name.
	GlobalConfigFile = "config.yaml"
)

// Load reads config from the specified path and validates it.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)

	if err := v.ReadInConfig(); err != nil {
		if os.IsNotExist(err) {
			return nil, errors.WrapWithCode(err, errors.ErrConfig,
				"Config file not found",
				"Run 'fleetwatch init' to create a config file, or specify one with --config")
		}
		return nil, errors.WrapWithCode(err, errors.ErrConfig,
			"Failed to read config file",
			"Check the file exists and is valid YAML")
	}

	return parseConfig(v, path)
}

// Find locates the config file using the search order:
// 1. Explicit path (from --config flag)
// 2. fleetwatch.yaml in the current directory
// 3. ~/.config/fleetwatch/config.yaml
//
// Returns the path to the config file, or empty string if not found.
func Find(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			if os.IsNotExist(err) {
				return "", errors.WrapWithCode(err, errors.ErrConfig,
					"Specified config file not found: "+explicit,
					"Check the path is correct")
			}
			return "", errors.WrapWithCode(err, errors.ErrConfig,
				"Cannot access config file: "+explicit,
				"Check file permissions")
		}
		return explicit, nil
	}

	cwd, err := os.Getwd()
	if err != nil {
		return "", errors.WrapWithCode(err, errors.ErrConfig,
			"Cannot determine current directory",
			"Check directory permissions")
	}

	localConfig := filepath.Join(cwd, ConfigFileName)
	if _, err := os.Stat(localConfig); err == nil {
		return localConfig, nil
	}

	if home, _ := os.UserHomeDir(); home != "" {
		globalConfig := filepath.Join(home, GlobalConfigDir, GlobalConfigFile)
		if _, err := os.Stat(globalConfig); err == nil {
			return globalConfig, nil
		}
	}

	return "", nil
}

// MustFind is like Find but fails when no config exists anywhere.
func MustFind(explicit string) (string, error) {
	path, err := Find(explicit)
	if err != nil {
		return "", err
	}
	if path == "" {
		return "", errors.New(errors.ErrConfig,
			"No config file found",
			"Run 'fleetwatch init' to create fleetwatch.yaml, or pass --config")
	}
	return path, nil
}

// parseConfig converts viper config to our Config struct with defaults merged in.
func parseConfig(v *viper.Viper, path string) (*Config, error) {
	cfg := DefaultConfig()

	setDefaults(v)

	if err := v.Unmarshal(cfg); err != nil {
		return nil, errors.WrapWithCode(err, errors.ErrConfig,
			"Invalid config format",
			"Check the YAML syntax in "+path)
	}

	if err := Validate(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// setDefaults seeds viper so partial config files inherit defaults.
// Durations are given as strings; viper parses them for time.Duration fields.
func setDefaults(v *viper.Viper) {
	v.SetDefault("polling_interval", "30s")
	v.SetDefault("legacy_threshold", "72h")
	v.SetDefault("concurrency", 8)
	v.SetDefault("ssh.connect_timeout", "10s")
	v.SetDefault("ssh.command_timeout", "15s")
	v.SetDefault("ssh.strict_host_keys", false)
	v.SetDefault("alerts.enabled", true)
	v.SetDefault("alerts.session_cpu_percent", 90)
	v.SetDefault("alerts.session_memory_mb", 8192)
	v.SetDefault("alerts.host_cpu_percent", 90)
	v.SetDefault("alerts.host_memory_percent", 90)
	v.SetDefault("alerts.gpu_memory_percent", 95)
	v.SetDefault("alerts.gpu_temp_warning_c", 80)
	v.SetDefault("alerts.gpu_temp_critical_c", 90)
	v.SetDefault("history.backend", "memory")
	v.SetDefault("history.retention", "24h")
	v.SetDefault("server.listen", ":8080")
	v.SetDefault("server.queue_size", 64)
}
