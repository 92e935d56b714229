package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"fleetwatch/internal/config"
	"fleetwatch/internal/errors"
)

var initForce bool

// initCmd creates a starter fleetwatch.yaml in the current directory.
var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Create a fleetwatch.yaml configuration",
	Long: `Write a starter configuration file with two example hosts and the
default thresholds.

Examples:
  fleetwatch init
  fleetwatch init --force`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return initCommand(initForce)
	},
}

func init() {
	initCmd.Flags().BoolVarP(&initForce, "force", "f", false, "overwrite existing config")
	rootCmd.AddCommand(initCmd)
}

// sampleConfig mirrors config.Config with string durations so the generated
// YAML reads "30s" instead of nanosecond integers.
type sampleConfig struct {
	Version         int           `yaml:"version"`
	PollingInterval string        `yaml:"polling_interval"`
	LegacyThreshold string        `yaml:"legacy_threshold"`
	Concurrency     int           `yaml:"concurrency"`
	SSH             sampleSSH     `yaml:"ssh"`
	Alerts          sampleAlerts  `yaml:"alerts"`
	History         sampleHistory `yaml:"history"`
	Server          sampleServer  `yaml:"server"`
	Hosts           []sampleHost  `yaml:"hosts"`
}

type sampleSSH struct {
	User           string `yaml:"user,omitempty"`
	IdentityFile   string `yaml:"identity_file,omitempty"`
	ConnectTimeout string `yaml:"connect_timeout"`
	CommandTimeout string `yaml:"command_timeout"`
}

type sampleAlerts struct {
	Enabled           bool    `yaml:"enabled"`
	SessionCPUPercent float64 `yaml:"session_cpu_percent"`
	SessionMemoryMB   float64 `yaml:"session_memory_mb"`
	HostCPUPercent    float64 `yaml:"host_cpu_percent"`
	HostMemoryPercent float64 `yaml:"host_memory_percent"`
	GPUMemoryPercent  float64 `yaml:"gpu_memory_percent"`
	GPUTempWarningC   int     `yaml:"gpu_temp_warning_c"`
	GPUTempCriticalC  int     `yaml:"gpu_temp_critical_c"`
}

type sampleHistory struct {
	Backend   string `yaml:"backend"`
	Retention string `yaml:"retention"`
}

type sampleServer struct {
	Listen    string `yaml:"listen"`
	QueueSize int    `yaml:"queue_size"`
}

type sampleHost struct {
	Name    string   `yaml:"name"`
	Address string   `yaml:"address,omitempty"`
	HasGPU  bool     `yaml:"has_gpu"`
	Tags    []string `yaml:"tags,omitempty"`
}

func initCommand(force bool) error {
	path := config.ConfigFileName

	if _, err := os.Stat(path); err == nil && !force {
		return errors.New(errors.ErrConfig,
			fmt.Sprintf("Config file already exists: %s", path),
			"Use --force to overwrite")
	}

	defaults := config.DefaultConfig()
	sample := sampleConfig{
		Version:         defaults.Version,
		PollingInterval: defaults.PollingInterval.String(),
		LegacyThreshold: defaults.LegacyThreshold.String(),
		Concurrency:     defaults.Concurrency,
		SSH: sampleSSH{
			ConnectTimeout: defaults.SSH.ConnectTimeout.String(),
			CommandTimeout: defaults.SSH.CommandTimeout.String(),
		},
		Alerts: sampleAlerts{
			Enabled:           defaults.Alerts.Enabled,
			SessionCPUPercent: defaults.Alerts.SessionCPUPercent,
			SessionMemoryMB:   defaults.Alerts.SessionMemoryMB,
			HostCPUPercent:    defaults.Alerts.HostCPUPercent,
			HostMemoryPercent: defaults.Alerts.HostMemoryPercent,
			GPUMemoryPercent:  defaults.Alerts.GPUMemoryPercent,
			GPUTempWarningC:   defaults.Alerts.GPUTempWarningC,
			GPUTempCriticalC:  defaults.Alerts.GPUTempCriticalC,
		},
		History: sampleHistory{
			Backend:   defaults.History.Backend,
			Retention: defaults.History.Retention.String(),
		},
		Server: sampleServer{
			Listen:    defaults.Server.Listen,
			QueueSize: defaults.Server.QueueSize,
		},
		Hosts: []sampleHost{
			{Name: "workstation", Address: "192.168.1.50", HasGPU: true, Tags: []string{"gpu"}},
			{Name: "buildbox", Tags: []string{"ci"}},
		},
	}

	data, err := yaml.Marshal(&sample)
	if err != nil {
		return errors.WrapWithCode(err, errors.ErrConfig,
			"Failed to render sample config", "")
	}

	header := "# fleetwatch configuration\n# Hosts without an address are resolved through ~/.ssh/config by name.\n\n"
	if err := os.WriteFile(path, append([]byte(header), data...), 0o644); err != nil {
		return errors.WrapWithCode(err, errors.ErrConfig,
			fmt.Sprintf("Failed to write %s", path),
			"Check directory permissions.")
	}

	fmt.Printf("Wrote %s\n", path)
	fmt.Println("Edit the hosts list, then run 'fleetwatch serve'.")
	return nil
}
