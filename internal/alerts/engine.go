package alerts

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"fleetwatch/internal/config"
	"fleetwatch/internal/errors"
	"fleetwatch/internal/fleet"
	"fleetwatch/internal/logger"
)

// ancientFactor escalates a legacy session to critical once it has been idle
// for this multiple of the legacy threshold.
const ancientFactor = 2

// Engine holds the authoritative alert set. Evaluate is called once per cycle
// by the single cycle driver; acknowledge and read methods may be called
// concurrently from API handlers.
type Engine struct {
	mu              sync.RWMutex
	cfg             config.AlertsConfig
	legacyThreshold time.Duration
	log             logger.Logger
	alerts          map[Key]*Alert

	// now is swappable for tests.
	now func() time.Time
}

// NewEngine creates an alert engine with no active alerts.
func NewEngine(cfg config.AlertsConfig, legacyThreshold time.Duration, log logger.Logger) *Engine {
	if log == nil {
		log = logger.Noop()
	}
	return &Engine{
		cfg:             cfg,
		legacyThreshold: legacyThreshold,
		log:             log,
		alerts:          make(map[Key]*Alert),
		now:             time.Now,
	}
}

// candidate is one condition that evaluates true this cycle.
type candidate struct {
	key       Key
	severity  Severity
	message   string
	sessionID string
}

// Evaluate reconciles the alert set against a new snapshot and returns the
// transitions. An alert whose condition stays true is refreshed in place:
// message updates are silent, severity changes emit an update event. Every
// existing alert with no matching candidate is cleared, acknowledged or not.
func (e *Engine) Evaluate(snap *fleet.Snapshot) []Event {
	e.mu.Lock()
	defer e.mu.Unlock()

	now := e.now().UTC()
	var events []Event

	if !e.cfg.Enabled {
		for key, alert := range e.alerts {
			events = append(events, e.newEvent(EventCleared, *alert, now))
			delete(e.alerts, key)
		}
		return events
	}

	candidates := e.evaluateConditions(snap, now)

	for _, c := range candidates {
		existing, ok := e.alerts[c.key]
		if !ok {
			alert := &Alert{
				ID:        c.key.ID(),
				Type:      c.key.Type,
				Severity:  c.severity,
				Host:      c.key.Host,
				SessionID: c.sessionID,
				Message:   c.message,
				Created:   now,
			}
			e.alerts[c.key] = alert
			events = append(events, e.newEvent(EventCreated, *alert, now))
			e.log.Info("alert created: %s", alert.ID)
			continue
		}

		severityChanged := existing.Severity != c.severity
		existing.Severity = c.severity
		existing.Message = c.message
		if severityChanged {
			events = append(events, e.newEvent(EventUpdated, *existing, now))
			e.log.Info("alert %s severity now %s", existing.ID, c.severity)
		}
	}

	current := make(map[Key]bool, len(candidates))
	for _, c := range candidates {
		current[c.key] = true
	}
	for key, alert := range e.alerts {
		if !current[key] {
			events = append(events, e.newEvent(EventCleared, *alert, now))
			delete(e.alerts, key)
			e.log.Info("alert cleared: %s", alert.ID)
		}
	}

	return events
}

// evaluateConditions walks the snapshot in the fixed check order and returns
// every condition that holds. Metrics unavailable this cycle (nil pointers)
// are skipped, never treated as zero.
func (e *Engine) evaluateConditions(snap *fleet.Snapshot, now time.Time) []candidate {
	var out []candidate

	for i := range snap.Hosts {
		host := &snap.Hosts[i]

		for j := range host.Sessions {
			sess := &host.Sessions[j]

			if sess.Status == fleet.SessionLegacy {
				severity := SeverityWarning
				idle := time.Duration(0)
				if sess.LastActivity != nil {
					idle = now.Sub(*sess.LastActivity)
				}
				if idle >= time.Duration(ancientFactor)*e.legacyThreshold {
					severity = SeverityCritical
				}
				out = append(out, candidate{
					key:       Key{Type: TypeLegacySession, Host: host.Hostname, Scope: sess.Name},
					severity:  severity,
					sessionID: sess.ID,
					message: fmt.Sprintf("Session '%s' on %s has been idle for %s",
						sess.Name, host.Hostname, humanDuration(idle)),
				})
			}

			if e.cfg.SessionCPUPercent > 0 && sess.CPUPercent > e.cfg.SessionCPUPercent {
				out = append(out, candidate{
					key:       Key{Type: TypeSessionHighCPU, Host: host.Hostname, Scope: sess.Name},
					severity:  SeverityWarning,
					sessionID: sess.ID,
					message: fmt.Sprintf("Session '%s' on %s using %.1f%% CPU (threshold %.0f%%)",
						sess.Name, host.Hostname, sess.CPUPercent, e.cfg.SessionCPUPercent),
				})
			}

			if e.cfg.SessionMemoryMB > 0 && sess.MemoryMB > e.cfg.SessionMemoryMB {
				out = append(out, candidate{
					key:       Key{Type: TypeSessionHighMem, Host: host.Hostname, Scope: sess.Name},
					severity:  SeverityWarning,
					sessionID: sess.ID,
					message: fmt.Sprintf("Session '%s' on %s using %.0f MB memory (threshold %.0f MB)",
						sess.Name, host.Hostname, sess.MemoryMB, e.cfg.SessionMemoryMB),
				})
			}
		}

		if e.cfg.HostCPUPercent > 0 && host.CPUPercent != nil && *host.CPUPercent > e.cfg.HostCPUPercent {
			out = append(out, candidate{
				key:      Key{Type: TypeHostHighCPU, Host: host.Hostname},
				severity: SeverityWarning,
				message: fmt.Sprintf("Host %s CPU at %.1f%% (threshold %.0f%%)",
					host.Hostname, *host.CPUPercent, e.cfg.HostCPUPercent),
			})
		}

		if e.cfg.HostMemoryPercent > 0 && host.MemoryPercent != nil && *host.MemoryPercent > e.cfg.HostMemoryPercent {
			out = append(out, candidate{
				key:      Key{Type: TypeHostHighMem, Host: host.Hostname},
				severity: SeverityWarning,
				message: fmt.Sprintf("Host %s memory at %.1f%% (threshold %.0f%%)",
					host.Hostname, *host.MemoryPercent, e.cfg.HostMemoryPercent),
			})
		}

		if host.Status == fleet.HostOffline {
			msg := fmt.Sprintf("Host %s is unreachable", host.Hostname)
			if host.Error != "" {
				msg = fmt.Sprintf("Host %s is unreachable: %s", host.Hostname, firstLine(host.Error))
			}
			out = append(out, candidate{
				key:      Key{Type: TypeHostOffline, Host: host.Hostname},
				severity: SeverityCritical,
				message:  msg,
			})
		}

		for k := range host.GPUs {
			gpu := &host.GPUs[k]
			scope := fmt.Sprintf("gpu%d", gpu.Index)

			// One temperature alert per GPU: severity escalates in
			// place rather than clearing warning and creating critical.
			if e.cfg.GPUTempCriticalC > 0 && gpu.TemperatureC >= e.cfg.GPUTempCriticalC {
				out = append(out, candidate{
					key:      Key{Type: TypeGPUTemperature, Host: host.Hostname, Scope: scope},
					severity: SeverityCritical,
					message: fmt.Sprintf("GPU %d on %s at %d°C (critical threshold %d°C)",
						gpu.Index, host.Hostname, gpu.TemperatureC, e.cfg.GPUTempCriticalC),
				})
			} else if e.cfg.GPUTempWarningC > 0 && gpu.TemperatureC >= e.cfg.GPUTempWarningC {
				out = append(out, candidate{
					key:      Key{Type: TypeGPUTemperature, Host: host.Hostname, Scope: scope},
					severity: SeverityWarning,
					message: fmt.Sprintf("GPU %d on %s at %d°C (warning threshold %d°C)",
						gpu.Index, host.Hostname, gpu.TemperatureC, e.cfg.GPUTempWarningC),
				})
			}

			if e.cfg.GPUMemoryPercent > 0 && gpu.MemoryPercent() > e.cfg.GPUMemoryPercent {
				out = append(out, candidate{
					key:      Key{Type: TypeGPUHighMemory, Host: host.Hostname, Scope: scope},
					severity: SeverityWarning,
					message: fmt.Sprintf("GPU %d on %s memory at %.1f%% (threshold %.0f%%)",
						gpu.Index, host.Hostname, gpu.MemoryPercent(), e.cfg.GPUMemoryPercent),
				})
			}
		}
	}

	return out
}

// Acknowledge marks an alert acknowledged. Acknowledging is sticky for the
// life of the alert but never blocks a future clear or re-create.
func (e *Engine) Acknowledge(id string) (Alert, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	for _, alert := range e.alerts {
		if alert.ID == id {
			if !alert.Acknowledged {
				alert.Acknowledged = true
				now := e.now().UTC()
				alert.AckedAt = &now
			}
			return *alert, nil
		}
	}

	return Alert{}, errors.New(errors.ErrRequest,
		fmt.Sprintf("Unknown alert id '%s'", id),
		"The alert may have already cleared.")
}

// Get returns a copy of one alert by id.
func (e *Engine) Get(id string) (Alert, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	for _, alert := range e.alerts {
		if alert.ID == id {
			return *alert, true
		}
	}
	return Alert{}, false
}

// Active returns the current alert set sorted by severity (critical first)
// then age (oldest first). When unackedOnly is set, acknowledged alerts are
// filtered out.
func (e *Engine) Active(unackedOnly bool) []Alert {
	e.mu.RLock()
	defer e.mu.RUnlock()

	out := make([]Alert, 0, len(e.alerts))
	for _, alert := range e.alerts {
		if unackedOnly && alert.Acknowledged {
			continue
		}
		out = append(out, *alert)
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].Severity.rank() != out[j].Severity.rank() {
			return out[i].Severity.rank() > out[j].Severity.rank()
		}
		if !out[i].Created.Equal(out[j].Created) {
			return out[i].Created.Before(out[j].Created)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Counts returns the total, unacknowledged, and critical alert counts.
// Acknowledged criticals don't count: critical tracks what still needs an
// operator's attention.
func (e *Engine) Counts() (total, unacked, critical int) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	for _, alert := range e.alerts {
		total++
		if alert.Acknowledged {
			continue
		}
		unacked++
		if alert.Severity == SeverityCritical {
			critical++
		}
	}
	return total, unacked, critical
}

func (e *Engine) newEvent(kind EventKind, alert Alert, at time.Time) Event {
	return Event{
		ID:    uuid.NewString(),
		Kind:  kind,
		Alert: alert,
		At:    at,
	}
}

// humanDuration renders an idle duration the way an operator reads it.
func humanDuration(d time.Duration) string {
	if d < time.Minute {
		return "less than a minute"
	}
	if d < time.Hour {
		return fmt.Sprintf("%dm", int(d.Minutes()))
	}
	if d < 24*time.Hour {
		return fmt.Sprintf("%dh", int(d.Hours()))
	}
	days := int(d.Hours()) / 24
	hours := int(d.Hours()) % 24
	if hours == 0 {
		return fmt.Sprintf("%dd", days)
	}
	return fmt.Sprintf("%dd%dh", days, hours)
}

// firstLine trims a multi-line error down to its first line.
func firstLine(s string) string {
	for i, r := range s {
		if r == '\n' {
			return s[:i]
		}
	}
	return s
}
