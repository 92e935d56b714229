// Package resolver turns raw tmux listings into classified sessions: it
// expands pane PIDs into full process trees, sums per-session CPU and memory,
// attributes GPU memory to sessions, and labels each session active or legacy.
package resolver

import (
	"sort"
	"time"

	"fleetwatch/internal/fleet"
	"fleetwatch/internal/parsers"
)

// Input is one host's session-related probe data for a cycle.
type Input struct {
	Hostname  string
	Sessions  []parsers.SessionListing
	Panes     map[string][]int
	Processes []parsers.Process

	// GPUProcesses is nil when the host has no GPU data this cycle.
	GPUProcesses []fleet.GPUProcess
}

// Resolve builds the session list for a host. Sessions are returned sorted by
// name for stable output. A detached session with no activity for longer than
// legacyThreshold is legacy; attached sessions and sessions with an unknown
// last-activity time are always active.
func Resolve(in Input, now time.Time, legacyThreshold time.Duration) []fleet.Session {
	children := childIndex(in.Processes)
	procByPID := make(map[int]parsers.Process, len(in.Processes))
	for _, p := range in.Processes {
		procByPID[p.PID] = p
	}

	gpuMemByPID := make(map[int]int, len(in.GPUProcesses))
	for _, gp := range in.GPUProcesses {
		gpuMemByPID[gp.PID] += gp.MemoryMB
	}

	sessions := make([]fleet.Session, 0, len(in.Sessions))
	for _, listing := range in.Sessions {
		pids := expandTree(in.Panes[listing.Name], children)

		var cpu float64
		var rssKB int
		gpuMem := 0
		hasGPUMem := false
		for _, pid := range pids {
			if p, ok := procByPID[pid]; ok {
				cpu += p.CPUPercent
				rssKB += p.RSSKB
			}
			if mem, ok := gpuMemByPID[pid]; ok {
				gpuMem += mem
				hasGPUMem = true
			}
		}

		sess := fleet.Session{
			ID:           fleet.SessionID(in.Hostname, listing.Name),
			Host:         in.Hostname,
			Name:         listing.Name,
			Created:      epochTime(listing.CreatedEpoch),
			LastActivity: epochTime(listing.ActivityEpoch),
			Attached:     listing.Attached,
			Windows:      listing.Windows,
			PIDs:         pids,
			CPUPercent:   cpu,
			MemoryMB:     float64(rssKB) / 1024,
		}
		if hasGPUMem {
			sess.GPUMemoryMB = &gpuMem
		}
		sess.Status = Classify(sess, now, legacyThreshold)

		sessions = append(sessions, sess)
	}

	sort.Slice(sessions, func(i, j int) bool {
		return sessions[i].Name < sessions[j].Name
	})
	return sessions
}

// Classify labels a session active or legacy. Attachment always wins, and a
// session whose activity time is unknown is given the benefit of the doubt.
func Classify(sess fleet.Session, now time.Time, legacyThreshold time.Duration) fleet.SessionStatus {
	if sess.Attached {
		return fleet.SessionActive
	}
	if sess.LastActivity == nil {
		return fleet.SessionActive
	}
	if now.Sub(*sess.LastActivity) >= legacyThreshold {
		return fleet.SessionLegacy
	}
	return fleet.SessionActive
}

// IdleFor returns how long a session has been idle, or 0 when unknown.
func IdleFor(sess fleet.Session, now time.Time) time.Duration {
	if sess.LastActivity == nil {
		return 0
	}
	d := now.Sub(*sess.LastActivity)
	if d < 0 {
		return 0
	}
	return d
}

// childIndex maps each parent PID to its direct children.
func childIndex(procs []parsers.Process) map[int][]int {
	children := make(map[int][]int, len(procs))
	for _, p := range procs {
		children[p.PPID] = append(children[p.PPID], p.PID)
	}
	return children
}

// expandTree returns the pane PIDs plus every descendant, sorted. Visited
// tracking guards against PID-reuse cycles in a torn ps snapshot.
func expandTree(roots []int, children map[int][]int) []int {
	visited := make(map[int]bool)
	stack := append([]int(nil), roots...)
	for len(stack) > 0 {
		pid := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if visited[pid] {
			continue
		}
		visited[pid] = true
		stack = append(stack, children[pid]...)
	}

	pids := make([]int, 0, len(visited))
	for pid := range visited {
		pids = append(pids, pid)
	}
	sort.Ints(pids)
	return pids
}

// epochTime converts a Unix epoch to a UTC time, treating 0 as unknown.
func epochTime(epoch int64) *time.Time {
	if epoch <= 0 {
		return nil
	}
	t := time.Unix(epoch, 0).UTC()
	return &t
}
