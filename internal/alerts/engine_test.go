package alerts

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fleetwatch/internal/config"
	"fleetwatch/internal/fleet"
	"fleetwatch/internal/logger"
)

var testNow = time.Date(2026, 8, 29, 12, 0, 0, 0, time.UTC)

func testEngine() *Engine {
	e := NewEngine(config.DefaultConfig().Alerts, 72*time.Hour, logger.Noop())
	e.now = func() time.Time { return testNow }
	return e
}

func snapWith(hosts ...fleet.Host) *fleet.Snapshot {
	return &fleet.Snapshot{Seq: 1, Taken: testNow, Hosts: hosts}
}

func legacySession(host, name string, idle time.Duration) fleet.Session {
	activity := testNow.Add(-idle)
	return fleet.Session{
		ID:           fleet.SessionID(host, name),
		Host:         host,
		Name:         name,
		LastActivity: &activity,
		Status:       fleet.SessionLegacy,
	}
}

func eventKinds(events []Event) []EventKind {
	kinds := make([]EventKind, len(events))
	for i, ev := range events {
		kinds[i] = ev.Kind
	}
	return kinds
}

func TestEvaluate_ActiveSessionNoAlert(t *testing.T) {
	e := testEngine()
	activity := testNow.Add(-time.Minute)

	events := e.Evaluate(snapWith(fleet.Host{
		Hostname: "a",
		Status:   fleet.HostOnline,
		Sessions: []fleet.Session{{
			ID: "a:work", Host: "a", Name: "work",
			Attached: true, LastActivity: &activity,
			Status: fleet.SessionActive,
		}},
	}))

	assert.Empty(t, events)
	total, _, _ := e.Counts()
	assert.Zero(t, total)
}

func TestEvaluate_LegacySessionCreatesAlert(t *testing.T) {
	e := testEngine()

	events := e.Evaluate(snapWith(fleet.Host{
		Hostname: "a",
		Status:   fleet.HostOnline,
		Sessions: []fleet.Session{legacySession("a", "old", 100*time.Hour)},
	}))

	require.Len(t, events, 1)
	assert.Equal(t, EventCreated, events[0].Kind)

	alert := events[0].Alert
	assert.Equal(t, "LEGACY_SESSION:a:old", alert.ID)
	assert.Equal(t, TypeLegacySession, alert.Type)
	assert.Equal(t, SeverityWarning, alert.Severity)
	assert.Equal(t, "a:old", alert.SessionID)
	assert.Contains(t, alert.Message, "idle for 4d4h")
	assert.NotEmpty(t, events[0].ID)
}

func TestEvaluate_StableIdentityAcrossCycles(t *testing.T) {
	e := testEngine()
	snap := snapWith(fleet.Host{
		Hostname: "a",
		Status:   fleet.HostOnline,
		Sessions: []fleet.Session{legacySession("a", "old", 100*time.Hour)},
	})

	first := e.Evaluate(snap)
	require.Len(t, first, 1)

	// Same condition for five more cycles: no further events, one alert.
	for i := 0; i < 5; i++ {
		assert.Empty(t, e.Evaluate(snap))
	}
	total, _, _ := e.Counts()
	assert.Equal(t, 1, total)

	// Created timestamp survives refreshes.
	alert, ok := e.Get("LEGACY_SESSION:a:old")
	require.True(t, ok)
	assert.Equal(t, testNow, alert.Created)
}

func TestEvaluate_ClearsWhenConditionResolves(t *testing.T) {
	e := testEngine()

	e.Evaluate(snapWith(fleet.Host{
		Hostname: "a",
		Status:   fleet.HostOnline,
		Sessions: []fleet.Session{legacySession("a", "old", 100*time.Hour)},
	}))

	// Session gone next cycle.
	events := e.Evaluate(snapWith(fleet.Host{Hostname: "a", Status: fleet.HostOnline}))

	require.Len(t, events, 1)
	assert.Equal(t, EventCleared, events[0].Kind)
	assert.Equal(t, "LEGACY_SESSION:a:old", events[0].Alert.ID)
	total, _, _ := e.Counts()
	assert.Zero(t, total)
}

func TestEvaluate_LegacyEscalatesToAncient(t *testing.T) {
	e := testEngine()

	e.Evaluate(snapWith(fleet.Host{
		Hostname: "a",
		Status:   fleet.HostOnline,
		Sessions: []fleet.Session{legacySession("a", "old", 100*time.Hour)},
	}))

	// Past twice the threshold the same alert turns critical.
	events := e.Evaluate(snapWith(fleet.Host{
		Hostname: "a",
		Status:   fleet.HostOnline,
		Sessions: []fleet.Session{legacySession("a", "old", 150*time.Hour)},
	}))

	require.Len(t, events, 1)
	assert.Equal(t, EventUpdated, events[0].Kind)
	assert.Equal(t, SeverityCritical, events[0].Alert.Severity)
	assert.Equal(t, "LEGACY_SESSION:a:old", events[0].Alert.ID)

	total, _, _ := e.Counts()
	assert.Equal(t, 1, total)
}

func TestEvaluate_HostOffline(t *testing.T) {
	e := testEngine()

	events := e.Evaluate(snapWith(fleet.Host{
		Hostname: "b",
		Status:   fleet.HostOffline,
		Error:    "dial tcp: i/o timeout",
	}))

	require.Len(t, events, 1)
	alert := events[0].Alert
	assert.Equal(t, TypeHostOffline, alert.Type)
	assert.Equal(t, SeverityCritical, alert.Severity)
	assert.Equal(t, "HOST_OFFLINE:b", alert.ID)
	assert.Contains(t, alert.Message, "unreachable")

	// Host recovers: alert clears.
	events = e.Evaluate(snapWith(fleet.Host{Hostname: "b", Status: fleet.HostOnline}))
	require.Len(t, events, 1)
	assert.Equal(t, EventCleared, events[0].Kind)
}

func TestEvaluate_GPUTemperature(t *testing.T) {
	e := testEngine() // warning 80, critical 90

	hostAt := func(temp int) fleet.Host {
		return fleet.Host{
			Hostname: "gpu-1",
			Status:   fleet.HostOnline,
			GPUs:     []fleet.GPU{{Index: 0, TemperatureC: temp, MemoryTotalMB: 81920}},
		}
	}

	// 95°C with critical 90: exactly one critical alert, no warning sibling.
	events := e.Evaluate(snapWith(hostAt(95)))
	require.Len(t, events, 1)
	assert.Equal(t, EventCreated, events[0].Kind)
	assert.Equal(t, SeverityCritical, events[0].Alert.Severity)
	assert.Equal(t, "GPU_TEMPERATURE:gpu-1:gpu0", events[0].Alert.ID)

	// Cooling to 85: same alert id, severity downgraded, one update event.
	events = e.Evaluate(snapWith(hostAt(85)))
	require.Len(t, events, 1)
	assert.Equal(t, EventUpdated, events[0].Kind)
	assert.Equal(t, SeverityWarning, events[0].Alert.Severity)
	assert.Equal(t, "GPU_TEMPERATURE:gpu-1:gpu0", events[0].Alert.ID)

	// Cooling below warning: cleared.
	events = e.Evaluate(snapWith(hostAt(60)))
	require.Len(t, events, 1)
	assert.Equal(t, EventCleared, events[0].Kind)
}

func TestEvaluate_GPUMemory(t *testing.T) {
	e := testEngine() // threshold 95%

	events := e.Evaluate(snapWith(fleet.Host{
		Hostname: "gpu-1",
		Status:   fleet.HostOnline,
		GPUs:     []fleet.GPU{{Index: 1, MemoryUsedMB: 80000, MemoryTotalMB: 81920, TemperatureC: 50}},
	}))

	require.Len(t, events, 1)
	assert.Equal(t, TypeGPUHighMemory, events[0].Alert.Type)
	assert.Equal(t, "GPU_HIGH_MEMORY:gpu-1:gpu1", events[0].Alert.ID)
}

func TestEvaluate_SessionResourceThresholds(t *testing.T) {
	e := testEngine() // cpu 90, mem 8192

	events := e.Evaluate(snapWith(fleet.Host{
		Hostname: "a",
		Status:   fleet.HostOnline,
		Sessions: []fleet.Session{{
			ID: "a:hot", Host: "a", Name: "hot",
			Attached: true, Status: fleet.SessionActive,
			CPUPercent: 150.5, MemoryMB: 9000,
		}},
	}))

	require.Len(t, events, 2)
	ids := []string{events[0].Alert.ID, events[1].Alert.ID}
	assert.Contains(t, ids, "SESSION_HIGH_CPU:a:hot")
	assert.Contains(t, ids, "SESSION_HIGH_MEMORY:a:hot")
}

func TestEvaluate_HostThresholdsSkipUnavailableMetrics(t *testing.T) {
	e := testEngine()

	// Degraded host with nil CPU: no HOST_HIGH_CPU despite threshold 90.
	events := e.Evaluate(snapWith(fleet.Host{
		Hostname: "a",
		Status:   fleet.HostDegraded,
	}))
	assert.Empty(t, events)

	cpu := 95.5
	mem := 97.0
	events = e.Evaluate(snapWith(fleet.Host{
		Hostname:      "a",
		Status:        fleet.HostOnline,
		CPUPercent:    &cpu,
		MemoryPercent: &mem,
	}))
	require.Len(t, events, 2)
	assert.Equal(t, []EventKind{EventCreated, EventCreated}, eventKinds(events))
}

func TestAcknowledge(t *testing.T) {
	e := testEngine()
	snap := snapWith(fleet.Host{
		Hostname: "a",
		Status:   fleet.HostOnline,
		Sessions: []fleet.Session{legacySession("a", "old", 100*time.Hour)},
	})
	e.Evaluate(snap)

	alert, err := e.Acknowledge("LEGACY_SESSION:a:old")
	require.NoError(t, err)
	assert.True(t, alert.Acknowledged)
	require.NotNil(t, alert.AckedAt)

	// Ack survives refreshes.
	e.Evaluate(snap)
	got, ok := e.Get("LEGACY_SESSION:a:old")
	require.True(t, ok)
	assert.True(t, got.Acknowledged)

	// Ack does not suppress the clear.
	events := e.Evaluate(snapWith(fleet.Host{Hostname: "a", Status: fleet.HostOnline}))
	require.Len(t, events, 1)
	assert.Equal(t, EventCleared, events[0].Kind)
	assert.True(t, events[0].Alert.Acknowledged)

	// Re-creation after clear starts unacknowledged.
	events = e.Evaluate(snap)
	require.Len(t, events, 1)
	assert.Equal(t, EventCreated, events[0].Kind)
	assert.False(t, events[0].Alert.Acknowledged)
}

func TestAcknowledge_UnknownID(t *testing.T) {
	e := testEngine()
	_, err := e.Acknowledge("HOST_OFFLINE:nope")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Unknown alert id")
}

func TestEvaluate_DisabledClearsEverything(t *testing.T) {
	cfg := config.DefaultConfig().Alerts
	e := NewEngine(cfg, 72*time.Hour, logger.Noop())
	e.now = func() time.Time { return testNow }

	offline := snapWith(fleet.Host{Hostname: "b", Status: fleet.HostOffline})
	e.Evaluate(offline)
	total, _, _ := e.Counts()
	require.Equal(t, 1, total)

	e.cfg.Enabled = false
	events := e.Evaluate(offline)
	require.Len(t, events, 1)
	assert.Equal(t, EventCleared, events[0].Kind)
	total, _, _ = e.Counts()
	assert.Zero(t, total)

	// Still disabled: nothing is created.
	assert.Empty(t, e.Evaluate(offline))
}

func TestActive_SortingAndFiltering(t *testing.T) {
	e := testEngine()

	cpu := 95.0
	e.Evaluate(snapWith(
		fleet.Host{Hostname: "b", Status: fleet.HostOffline},
		fleet.Host{Hostname: "a", Status: fleet.HostOnline, CPUPercent: &cpu},
	))

	active := e.Active(false)
	require.Len(t, active, 2)
	assert.Equal(t, SeverityCritical, active[0].Severity, "critical sorts first")
	assert.Equal(t, TypeHostOffline, active[0].Type)

	_, err := e.Acknowledge(active[1].ID)
	require.NoError(t, err)

	unacked := e.Active(true)
	require.Len(t, unacked, 1)
	assert.Equal(t, TypeHostOffline, unacked[0].Type)

	total, unackedCount, critical := e.Counts()
	assert.Equal(t, 2, total)
	assert.Equal(t, 1, unackedCount)
	assert.Equal(t, 1, critical)

	// Acknowledging the critical drops it from both unacked and critical;
	// critical only tracks alerts still waiting on an operator.
	_, err = e.Acknowledge(active[0].ID)
	require.NoError(t, err)

	total, unackedCount, critical = e.Counts()
	assert.Equal(t, 2, total)
	assert.Equal(t, 0, unackedCount)
	assert.Equal(t, 0, critical)
}

func TestHumanDuration(t *testing.T) {
	assert.Equal(t, "less than a minute", humanDuration(30*time.Second))
	assert.Equal(t, "45m", humanDuration(45*time.Minute))
	assert.Equal(t, "5h", humanDuration(5*time.Hour))
	assert.Equal(t, "3d", humanDuration(72*time.Hour))
	assert.Equal(t, "4d4h", humanDuration(100*time.Hour))
}
