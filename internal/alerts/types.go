// Package alerts maintains the fleet alert set across poll cycles: creating,
// refreshing, and clearing alerts by stable composite identity, independent of
// whether a human has acknowledged them.
package alerts

import (
	"fmt"
	"time"
)

// Type names one alert condition.
type Type string

const (
	TypeLegacySession  Type = "LEGACY_SESSION"
	TypeSessionHighCPU Type = "SESSION_HIGH_CPU"
	TypeSessionHighMem Type = "SESSION_HIGH_MEMORY"
	TypeHostHighCPU    Type = "HOST_HIGH_CPU"
	TypeHostHighMem    Type = "HOST_HIGH_MEMORY"
	TypeHostOffline    Type = "HOST_OFFLINE"
	TypeGPUTemperature Type = "GPU_TEMPERATURE"
	TypeGPUHighMemory  Type = "GPU_HIGH_MEMORY"
)

// Severity ranks an alert.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// rank orders severities for sorting; higher is more urgent.
func (s Severity) rank() int {
	switch s {
	case SeverityCritical:
		return 2
	case SeverityWarning:
		return 1
	default:
		return 0
	}
}

// Key is the stable composite identity of an alert. The same condition on the
// same target maps to the same key cycle after cycle, which is what makes
// update-in-place and resolution possible. Scope is a session name or GPU
// slot for targeted alerts, empty for host-wide ones.
type Key struct {
	Type  Type
	Host  string
	Scope string
}

// ID renders the key as the externally visible alert id.
func (k Key) ID() string {
	if k.Scope == "" {
		return fmt.Sprintf("%s:%s", k.Type, k.Host)
	}
	return fmt.Sprintf("%s:%s:%s", k.Type, k.Host, k.Scope)
}

// Alert is one active alert. Created is set once at first detection and
// survives refreshes; Acknowledged is sticky until the alert resolves.
type Alert struct {
	ID           string     `json:"id"`
	Type         Type       `json:"type"`
	Severity     Severity   `json:"severity"`
	Host         string     `json:"host"`
	SessionID    string     `json:"session_id,omitempty"`
	Message      string     `json:"message"`
	Created      time.Time  `json:"created"`
	Acknowledged bool       `json:"acknowledged"`
	AckedAt      *time.Time `json:"acknowledged_at,omitempty"`
}

// EventKind is an alert lifecycle transition.
type EventKind string

const (
	EventCreated EventKind = "created"
	EventUpdated EventKind = "updated"
	EventCleared EventKind = "cleared"
)

// Event records one transition for distribution and history.
type Event struct {
	ID    string    `json:"id"`
	Kind  EventKind `json:"kind"`
	Alert Alert     `json:"alert"`
	At    time.Time `json:"at"`
}
