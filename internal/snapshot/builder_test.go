package snapshot

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fleetwatch/internal/config"
	"fleetwatch/internal/fleet"
	"fleetwatch/internal/logger"
	"fleetwatch/internal/poller"
)

var now = time.Date(2026, 8, 29, 12, 0, 0, 0, time.UTC)

func healthyResult(hc config.Host) poller.RawResult {
	outputs := map[poller.Group]string{
		poller.GroupCPU:       "12.3\n",
		poller.GroupMemory:    "3642 15896 22.9",
		poller.GroupLoad:      "0.52 0.48 0.45\n",
		poller.GroupSessions:  fmt.Sprintf("work|%d|1|2|%d\n", now.Add(-24*time.Hour).Unix(), now.Add(-time.Minute).Unix()),
		poller.GroupPanes:     "work|100\n",
		poller.GroupProcesses: " 100 1 10.0 102400\n 200 100 20.0 204800\n",
	}
	if hc.HasGPU {
		outputs[poller.GroupGPU] = "0, NVIDIA A100, 250.5, 400.0, 40960, 81920, 98, 65\n"
		outputs[poller.GroupGPUProcs] = "200, python3, 38000\n"
	}
	return poller.RawResult{
		Host:      hc,
		Collected: now,
		Outputs:   outputs,
		Failed:    map[poller.Group]string{},
	}
}

func TestBuild_OnlineHost(t *testing.T) {
	hc := config.Host{Name: "gpu-1", HasGPU: true, Tags: []string{"gpu"}}
	b := NewBuilder(72*time.Hour, logger.Noop())

	snap := b.Build([]config.Host{hc}, map[string]poller.RawResult{"gpu-1": healthyResult(hc)}, now)

	require.Len(t, snap.Hosts, 1)
	h := snap.Hosts[0]

	assert.Equal(t, fleet.HostOnline, h.Status)
	assert.Empty(t, h.Error)
	require.NotNil(t, h.CPUPercent)
	assert.InDelta(t, 12.3, *h.CPUPercent, 0.001)
	require.NotNil(t, h.MemoryPercent)
	assert.InDelta(t, 22.9, *h.MemoryPercent, 0.001)
	assert.Equal(t, []float64{0.52, 0.48, 0.45}, h.LoadAvg)
	require.NotNil(t, h.LastSeen)

	require.Len(t, h.GPUs, 1)
	assert.Equal(t, 65, h.GPUs[0].TemperatureC)
	require.Len(t, h.GPUs[0].Processes, 1)
	assert.Equal(t, 38000, h.GPUs[0].Processes[0].MemoryMB)

	require.Len(t, h.Sessions, 1)
	sess := h.Sessions[0]
	assert.Equal(t, "gpu-1:work", sess.ID)
	assert.Equal(t, []int{100, 200}, sess.PIDs)
	require.NotNil(t, sess.GPUMemoryMB)
	assert.Equal(t, 38000, *sess.GPUMemoryMB)
}

func TestBuild_OfflineHost(t *testing.T) {
	hc := config.Host{Name: "down-1"}
	b := NewBuilder(72*time.Hour, logger.Noop())

	results := map[string]poller.RawResult{
		"down-1": {
			Host:        hc,
			Collected:   now,
			Unreachable: fmt.Errorf("dial tcp: i/o timeout"),
		},
	}

	snap := b.Build([]config.Host{hc}, results, now)

	h := snap.Hosts[0]
	assert.Equal(t, fleet.HostOffline, h.Status)
	assert.Contains(t, h.Error, "i/o timeout")
	assert.Nil(t, h.CPUPercent)
	assert.Nil(t, h.LastSeen)
	assert.Empty(t, h.Sessions)
}

func TestBuild_DegradedOnProbeFailure(t *testing.T) {
	hc := config.Host{Name: "gpu-1", HasGPU: true}
	r := healthyResult(hc)
	delete(r.Outputs, poller.GroupGPU)
	delete(r.Outputs, poller.GroupGPUProcs)
	r.Failed[poller.GroupGPU] = "nvidia-smi: command not found"
	r.Failed[poller.GroupGPUProcs] = "nvidia-smi: command not found"

	b := NewBuilder(72*time.Hour, logger.Noop())
	snap := b.Build([]config.Host{hc}, map[string]poller.RawResult{"gpu-1": r}, now)

	h := snap.Hosts[0]
	assert.Equal(t, fleet.HostDegraded, h.Status)
	assert.Equal(t, "probes failed: gpu, gpu_processes", h.Error)
	// Other metrics still present
	require.NotNil(t, h.CPUPercent)
	require.Len(t, h.Sessions, 1)
	assert.Empty(t, h.GPUs)
}

func TestBuild_DegradedOnParseFailure(t *testing.T) {
	hc := config.Host{Name: "web-1"}
	r := healthyResult(hc)
	r.Outputs[poller.GroupCPU] = "not a number"

	b := NewBuilder(72*time.Hour, logger.Noop())
	snap := b.Build([]config.Host{hc}, map[string]poller.RawResult{"web-1": r}, now)

	h := snap.Hosts[0]
	assert.Equal(t, fleet.HostDegraded, h.Status)
	// Unparseable means unavailable, not zero
	assert.Nil(t, h.CPUPercent)
	require.NotNil(t, h.MemoryPercent)
}

func TestBuild_EmptySessionListIsOnline(t *testing.T) {
	hc := config.Host{Name: "web-1"}
	r := healthyResult(hc)
	r.Outputs[poller.GroupSessions] = ""
	r.Outputs[poller.GroupPanes] = ""

	b := NewBuilder(72*time.Hour, logger.Noop())
	snap := b.Build([]config.Host{hc}, map[string]poller.RawResult{"web-1": r}, now)

	h := snap.Hosts[0]
	assert.Equal(t, fleet.HostOnline, h.Status)
	assert.Empty(t, h.Sessions)
}

func TestBuild_SeqIncrements(t *testing.T) {
	hc := config.Host{Name: "web-1"}
	b := NewBuilder(72*time.Hour, logger.Noop())
	results := map[string]poller.RawResult{"web-1": healthyResult(hc)}

	s1 := b.Build([]config.Host{hc}, results, now)
	s2 := b.Build([]config.Host{hc}, results, now.Add(30*time.Second))

	assert.Equal(t, uint64(1), s1.Seq)
	assert.Equal(t, uint64(2), s2.Seq)
}

func TestBuild_HostOrderFollowsConfig(t *testing.T) {
	hosts := []config.Host{{Name: "b"}, {Name: "a"}, {Name: "c"}}
	results := make(map[string]poller.RawResult, len(hosts))
	for _, hc := range hosts {
		results[hc.Name] = healthyResult(hc)
	}

	b := NewBuilder(72*time.Hour, logger.Noop())
	snap := b.Build(hosts, results, now)

	var names []string
	for _, h := range snap.Hosts {
		names = append(names, h.Hostname)
	}
	assert.Equal(t, []string{"b", "a", "c"}, names)
}

func TestBuild_MissingResultIsOffline(t *testing.T) {
	b := NewBuilder(72*time.Hour, logger.Noop())
	snap := b.Build([]config.Host{{Name: "lost"}}, map[string]poller.RawResult{}, now)

	assert.Equal(t, fleet.HostOffline, snap.Hosts[0].Status)
}
