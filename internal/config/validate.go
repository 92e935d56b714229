package config

import (
	"fmt"
	"strings"

	"fleetwatch/internal/errors"
)

// Validate checks the config for errors and returns structured error messages.
func Validate(cfg *Config) error {
	if cfg.Version > CurrentConfigVersion {
		return errors.New(errors.ErrConfig,
			fmt.Sprintf("This config is from the future (version %d, but fleetwatch only knows up to %d)", cfg.Version, CurrentConfigVersion),
			"Upgrade fleetwatch to a release that understands this config")
	}

	if cfg.PollingInterval <= 0 {
		return errors.New(errors.ErrConfig,
			"polling_interval must be positive",
			"Use a duration like '30s' or '1m'")
	}

	if cfg.LegacyThreshold <= 0 {
		return errors.New(errors.ErrConfig,
			"legacy_threshold must be positive",
			"Use a duration like '72h'")
	}

	if cfg.Concurrency < 0 {
		return errors.New(errors.ErrConfig,
			"concurrency cannot be negative",
			"Use 0 to poll all hosts at once, or a positive cap")
	}

	if len(cfg.Hosts) == 0 {
		return errors.New(errors.ErrConfig,
			"No hosts configured",
			"Add at least one entry under 'hosts' in "+ConfigFileName)
	}

	seen := make(map[string]bool, len(cfg.Hosts))
	for i, h := range cfg.Hosts {
		if h.Name == "" {
			return errors.New(errors.ErrConfig,
				fmt.Sprintf("hosts[%d] has no name", i),
				"Every host needs a unique 'name'")
		}
		if strings.Contains(h.Name, ":") {
			return errors.New(errors.ErrConfig,
				fmt.Sprintf("Host name '%s' contains ':'", h.Name),
				"Colons are reserved for session identifiers; pick another name")
		}
		if seen[h.Name] {
			return errors.New(errors.ErrConfig,
				fmt.Sprintf("Duplicate host name '%s'", h.Name),
				"Host names must be unique")
		}
		seen[h.Name] = true
	}

	if err := validateAlerts(cfg.Alerts); err != nil {
		return err
	}

	return validateHistory(cfg.History)
}

func validateAlerts(a AlertsConfig) error {
	if a.GPUTempCriticalC > 0 && a.GPUTempWarningC > 0 && a.GPUTempCriticalC <= a.GPUTempWarningC {
		return errors.New(errors.ErrConfig,
			fmt.Sprintf("gpu_temp_critical_c (%d) must be above gpu_temp_warning_c (%d)", a.GPUTempCriticalC, a.GPUTempWarningC),
			"Check the 'alerts' section")
	}
	for name, pct := range map[string]float64{
		"session_cpu_percent": a.SessionCPUPercent,
		"host_cpu_percent":    a.HostCPUPercent,
		"host_memory_percent": a.HostMemoryPercent,
		"gpu_memory_percent":  a.GPUMemoryPercent,
	} {
		if pct < 0 || pct > 100 {
			return errors.New(errors.ErrConfig,
				fmt.Sprintf("alerts.%s must be between 0 and 100 (got %g)", name, pct),
				"Check the 'alerts' section")
		}
	}
	if a.SessionMemoryMB < 0 {
		return errors.New(errors.ErrConfig,
			"alerts.session_memory_mb cannot be negative",
			"Check the 'alerts' section")
	}
	return nil
}

func validateHistory(h HistoryConfig) error {
	switch h.Backend {
	case "memory":
		return nil
	case "mongo":
		if h.URI == "" {
			return errors.New(errors.ErrConfig,
				"history.uri is required for the mongo backend",
				"Set a connection string like mongodb://localhost:27017")
		}
		if h.Database == "" {
			return errors.New(errors.ErrConfig,
				"history.database is required for the mongo backend",
				"Set a database name like 'fleetwatch'")
		}
		return nil
	default:
		return errors.New(errors.ErrConfig,
			fmt.Sprintf("Unknown history backend '%s'", h.Backend),
			"Use 'memory' or 'mongo'")
	}
}
