// Package history records per-cycle host samples and alert transitions for
// trend and audit queries. History is best-effort: write failures are logged
// by the caller and never block the live pipeline.
package history

import (
	"context"
	"time"

	"fleetwatch/internal/alerts"
	"fleetwatch/internal/fleet"
)

// HostSample is one host's condensed state at one cycle.
type HostSample struct {
	Timestamp     time.Time `bson:"timestamp" json:"timestamp"`
	Host          string    `bson:"host" json:"host"`
	Status        string    `bson:"status" json:"status"`
	CPUPercent    *float64  `bson:"cpu_percent,omitempty" json:"cpu_percent,omitempty"`
	MemoryPercent *float64  `bson:"memory_percent,omitempty" json:"memory_percent,omitempty"`
	SessionCount  int       `bson:"session_count" json:"session_count"`
	GPUTempMaxC   *int      `bson:"gpu_temp_max_c,omitempty" json:"gpu_temp_max_c,omitempty"`
	GPUUtilMaxPct *int      `bson:"gpu_util_max_pct,omitempty" json:"gpu_util_max_pct,omitempty"`
	GPUMemoryPct  *float64  `bson:"gpu_memory_pct,omitempty" json:"gpu_memory_pct,omitempty"`
}

// Transition is one recorded alert lifecycle event.
type Transition struct {
	ID       string    `bson:"event_id" json:"id"`
	Kind     string    `bson:"kind" json:"kind"`
	AlertID  string    `bson:"alert_id" json:"alert_id"`
	Type     string    `bson:"type" json:"type"`
	Severity string    `bson:"severity" json:"severity"`
	Host     string    `bson:"host" json:"host"`
	Message  string    `bson:"message" json:"message"`
	At       time.Time `bson:"at" json:"at"`
}

// Store is the history persistence interface.
type Store interface {
	// SaveSnapshot appends one sample per host in the snapshot.
	SaveSnapshot(ctx context.Context, snap *fleet.Snapshot) error

	// SaveEvents appends the cycle's alert transitions.
	SaveEvents(ctx context.Context, events []alerts.Event) error

	// HostSamples returns samples for one host since a point in time,
	// oldest first.
	HostSamples(ctx context.Context, host string, since time.Time) ([]HostSample, error)

	// RecentTransitions returns the newest transitions, newest first.
	// An empty host matches all hosts.
	RecentTransitions(ctx context.Context, host string, limit int) ([]Transition, error)

	// Close releases backend resources.
	Close(ctx context.Context) error
}

// SamplesFromSnapshot condenses a snapshot into per-host samples.
func SamplesFromSnapshot(snap *fleet.Snapshot) []HostSample {
	samples := make([]HostSample, 0, len(snap.Hosts))
	for i := range snap.Hosts {
		h := &snap.Hosts[i]
		s := HostSample{
			Timestamp:     snap.Taken,
			Host:          h.Hostname,
			Status:        string(h.Status),
			CPUPercent:    h.CPUPercent,
			MemoryPercent: h.MemoryPercent,
			SessionCount:  len(h.Sessions),
		}
		if len(h.GPUs) > 0 {
			maxTemp, maxUtil := 0, 0
			var usedMB, totalMB int
			for _, g := range h.GPUs {
				if g.TemperatureC > maxTemp {
					maxTemp = g.TemperatureC
				}
				if g.UtilizationPct > maxUtil {
					maxUtil = g.UtilizationPct
				}
				usedMB += g.MemoryUsedMB
				totalMB += g.MemoryTotalMB
			}
			s.GPUTempMaxC = &maxTemp
			s.GPUUtilMaxPct = &maxUtil
			if totalMB > 0 {
				pct := float64(usedMB) * 100 / float64(totalMB)
				s.GPUMemoryPct = &pct
			}
		}
		samples = append(samples, s)
	}
	return samples
}

// TransitionsFromEvents converts alert events into their stored form.
func TransitionsFromEvents(events []alerts.Event) []Transition {
	out := make([]Transition, 0, len(events))
	for _, ev := range events {
		out = append(out, Transition{
			ID:       ev.ID,
			Kind:     string(ev.Kind),
			AlertID:  ev.Alert.ID,
			Type:     string(ev.Alert.Type),
			Severity: string(ev.Alert.Severity),
			Host:     ev.Alert.Host,
			Message:  ev.Alert.Message,
			At:       ev.At,
		})
	}
	return out
}
