// Package snapshot assembles one immutable fleet snapshot per poll cycle from
// the poller's raw output. Parsing failures never abort a cycle; they degrade
// the affected host and null out the affected metric.
package snapshot

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"fleetwatch/internal/config"
	"fleetwatch/internal/fleet"
	"fleetwatch/internal/logger"
	"fleetwatch/internal/parsers"
	"fleetwatch/internal/poller"
	"fleetwatch/internal/resolver"
)

// Builder turns raw poll results into snapshots with monotonic sequence
// numbers. It is not safe for concurrent use; the cycle driver is the single
// writer.
type Builder struct {
	legacyThreshold time.Duration
	log             logger.Logger
	seq             uint64
}

// NewBuilder creates a snapshot builder.
func NewBuilder(legacyThreshold time.Duration, log logger.Logger) *Builder {
	if log == nil {
		log = logger.Noop()
	}
	return &Builder{
		legacyThreshold: legacyThreshold,
		log:             log,
	}
}

// Build assembles the snapshot for one cycle. Hosts appear in config order.
// A host missing from results (which should not happen) is reported offline.
func (b *Builder) Build(hosts []config.Host, results map[string]poller.RawResult, now time.Time) *fleet.Snapshot {
	b.seq++
	snap := &fleet.Snapshot{
		Seq:   b.seq,
		Taken: now.UTC(),
		Hosts: make([]fleet.Host, 0, len(hosts)),
	}

	for _, hc := range hosts {
		r, ok := results[hc.Name]
		if !ok {
			snap.Hosts = append(snap.Hosts, fleet.Host{
				Hostname: hc.Name,
				Address:  hc.SSHTarget(),
				Status:   fleet.HostOffline,
				HasGPU:   hc.HasGPU,
				Tags:     hc.Tags,
				Sessions: []fleet.Session{},
				GPUs:     []fleet.GPU{},
				Error:    "no poll result",
			})
			continue
		}
		snap.Hosts = append(snap.Hosts, b.buildHost(hc, r, now))
	}

	return snap
}

// buildHost parses one host's probe outputs into its fleet state.
func (b *Builder) buildHost(hc config.Host, r poller.RawResult, now time.Time) fleet.Host {
	host := fleet.Host{
		Hostname: hc.Name,
		Address:  hc.SSHTarget(),
		HasGPU:   hc.HasGPU,
		Tags:     hc.Tags,
		Sessions: []fleet.Session{},
		GPUs:     []fleet.GPU{},
	}

	if r.Unreachable != nil {
		host.Status = fleet.HostOffline
		host.Error = r.Unreachable.Error()
		return host
	}

	collected := r.Collected
	host.LastSeen = &collected

	// Probe failures reported by the poller, plus parse failures found here.
	failed := make(map[poller.Group]string, len(r.Failed))
	for g, detail := range r.Failed {
		failed[g] = detail
	}

	if r.GroupOK(poller.GroupCPU) {
		if v, err := parsers.CPUPercent(r.Outputs[poller.GroupCPU]); err != nil {
			failed[poller.GroupCPU] = err.Error()
		} else {
			host.CPUPercent = &v
		}
	}

	if r.GroupOK(poller.GroupMemory) {
		if mem, err := parsers.ParseMemory(r.Outputs[poller.GroupMemory]); err != nil {
			failed[poller.GroupMemory] = err.Error()
		} else {
			host.MemoryUsedMB = &mem.UsedMB
			host.MemoryTotalMB = &mem.TotalMB
			host.MemoryPercent = &mem.Percent
		}
	}

	if r.GroupOK(poller.GroupLoad) {
		if loads, err := parsers.LoadAvg(r.Outputs[poller.GroupLoad]); err != nil {
			failed[poller.GroupLoad] = err.Error()
		} else {
			host.LoadAvg = loads
		}
	}

	if r.GroupOK(poller.GroupGPU) {
		host.GPUs = parsers.GPUs(r.Outputs[poller.GroupGPU])
	}

	var gpuProcs []fleet.GPUProcess
	if r.GroupOK(poller.GroupGPUProcs) {
		gpuProcs = parsers.GPUProcesses(r.Outputs[poller.GroupGPUProcs])
	}
	if len(host.GPUs) > 0 && len(gpuProcs) > 0 {
		// query-compute-apps doesn't say which device a process is on,
		// so the whole list hangs off the first GPU.
		host.GPUs[0].Processes = gpuProcs
	}

	if r.GroupOK(poller.GroupSessions) {
		in := resolver.Input{
			Hostname:     hc.Name,
			Sessions:     parsers.Sessions(r.Outputs[poller.GroupSessions]),
			GPUProcesses: gpuProcs,
		}
		if r.GroupOK(poller.GroupPanes) {
			in.Panes = parsers.Panes(r.Outputs[poller.GroupPanes])
		}
		if r.GroupOK(poller.GroupProcesses) {
			in.Processes = parsers.Processes(r.Outputs[poller.GroupProcesses])
		}
		host.Sessions = resolver.Resolve(in, now, b.legacyThreshold)
	}

	if len(failed) > 0 {
		host.Status = fleet.HostDegraded
		host.Error = describeFailures(failed)
		b.log.Debug("host %s degraded: %s", hc.Name, host.Error)
	} else {
		host.Status = fleet.HostOnline
	}

	return host
}

// describeFailures produces a stable one-line summary of failed probes.
func describeFailures(failed map[poller.Group]string) string {
	groups := make([]string, 0, len(failed))
	for g := range failed {
		groups = append(groups, string(g))
	}
	sort.Strings(groups)
	return fmt.Sprintf("probes failed: %s", strings.Join(groups, ", "))
}
