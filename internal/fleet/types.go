// Package fleet defines the data model shared across the collector, alert
// engine, and API: hosts, tmux sessions, GPUs, and the immutable snapshot
// produced by each poll cycle.
package fleet

import (
	"fmt"
	"time"
)

// HostStatus describes the reachability of a host as observed in the most
// recent poll cycle.
type HostStatus string

const (
	// HostOnline means the host was reached and every probe succeeded.
	HostOnline HostStatus = "online"
	// HostDegraded means the host was reached but at least one probe
	// failed or returned unparseable output.
	HostDegraded HostStatus = "degraded"
	// HostOffline means the SSH connection could not be established.
	HostOffline HostStatus = "offline"
)

// SessionStatus classifies a tmux session by recency of activity.
type SessionStatus string

const (
	SessionActive SessionStatus = "active"
	SessionLegacy SessionStatus = "legacy"
)

// SessionID builds the fleet-wide unique session identifier. tmux session
// names are only unique per host, so the host name is folded in.
func SessionID(host, name string) string {
	return fmt.Sprintf("%s:%s", host, name)
}

// GPUProcess is a single compute process running on a GPU.
type GPUProcess struct {
	PID      int    `json:"pid"`
	Name     string `json:"name"`
	MemoryMB int    `json:"memory_mb"`
}

// GPU holds one device's telemetry from a poll cycle.
type GPU struct {
	Index           int          `json:"index"`
	Name            string       `json:"name"`
	PowerDrawWatts  float64      `json:"power_draw_watts"`
	PowerLimitWatts float64      `json:"power_limit_watts"`
	MemoryUsedMB    int          `json:"memory_used_mb"`
	MemoryTotalMB   int          `json:"memory_total_mb"`
	UtilizationPct  int          `json:"utilization_percent"`
	TemperatureC    int          `json:"temperature_c"`
	Processes       []GPUProcess `json:"processes"`
}

// MemoryPercent returns used memory as a percentage of total, or 0 when the
// total is unknown.
func (g GPU) MemoryPercent() float64 {
	if g.MemoryTotalMB <= 0 {
		return 0
	}
	return float64(g.MemoryUsedMB) * 100 / float64(g.MemoryTotalMB)
}

// Session is one tmux session with its resolved resource usage. Created and
// LastActivity are nil when tmux reported a zero epoch for them.
type Session struct {
	ID           string        `json:"id"`
	Host         string        `json:"host"`
	Name         string        `json:"name"`
	Created      *time.Time    `json:"created,omitempty"`
	LastActivity *time.Time    `json:"last_activity,omitempty"`
	Attached     bool          `json:"attached"`
	Windows      int           `json:"windows"`
	Status       SessionStatus `json:"status"`
	PIDs         []int         `json:"pids"`
	CPUPercent   float64       `json:"cpu_percent"`
	MemoryMB     float64       `json:"memory_mb"`
	GPUMemoryMB  *int          `json:"gpu_memory_mb,omitempty"`
}

// Host is one monitored machine's state for a cycle. Metric fields are
// pointers so that "unavailable this cycle" is distinguishable from zero.
type Host struct {
	Hostname      string     `json:"hostname"`
	Address       string     `json:"address"`
	Status        HostStatus `json:"status"`
	LastSeen      *time.Time `json:"last_seen,omitempty"`
	CPUPercent    *float64   `json:"cpu_percent,omitempty"`
	MemoryPercent *float64   `json:"memory_percent,omitempty"`
	MemoryUsedMB  *int       `json:"memory_used_mb,omitempty"`
	MemoryTotalMB *int       `json:"memory_total_mb,omitempty"`
	LoadAvg       []float64  `json:"load_avg,omitempty"`
	HasGPU        bool       `json:"has_gpu"`
	GPUs          []GPU      `json:"gpus"`
	Sessions      []Session  `json:"sessions"`
	Tags          []string   `json:"tags,omitempty"`
	Error         string     `json:"error,omitempty"`
}

// Snapshot is the immutable result of one poll cycle across the whole fleet.
// Seq increases by one per published cycle.
type Snapshot struct {
	Seq   uint64    `json:"seq"`
	Taken time.Time `json:"taken"`
	Hosts []Host    `json:"hosts"`
}

// FindHost returns the host with the given name, or nil.
func (s *Snapshot) FindHost(hostname string) *Host {
	for i := range s.Hosts {
		if s.Hosts[i].Hostname == hostname {
			return &s.Hosts[i]
		}
	}
	return nil
}

// FindSession returns the session with the given fleet-wide ID, or nil.
func (s *Snapshot) FindSession(id string) *Session {
	for i := range s.Hosts {
		for j := range s.Hosts[i].Sessions {
			if s.Hosts[i].Sessions[j].ID == id {
				return &s.Hosts[i].Sessions[j]
			}
		}
	}
	return nil
}

// SessionCount returns the number of sessions across all hosts.
func (s *Snapshot) SessionCount() int {
	n := 0
	for i := range s.Hosts {
		n += len(s.Hosts[i].Sessions)
	}
	return n
}
