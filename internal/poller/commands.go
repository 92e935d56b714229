package poller

import (
	"fmt"
	"strings"
)

// Group names one probe category. Per-group failures let a cycle degrade a
// host instead of losing it entirely.
type Group string

const (
	GroupCPU       Group = "cpu"
	GroupMemory    Group = "memory"
	GroupLoad      Group = "load"
	GroupSessions  Group = "sessions"
	GroupPanes     Group = "panes"
	GroupProcesses Group = "processes"
	GroupGPU       Group = "gpu"
	GroupGPUProcs  Group = "gpu_processes"
)

// Probe commands. The output formats are what the parsers package expects;
// change them together.
const (
	cpuCommand    = `top -bn1 | grep 'Cpu(s)' | awk '{print $2}' | cut -d'%' -f1`
	memoryCommand = `free -m | awk 'NR==2{printf "%d %d %.1f", $3, $2, $3*100/$2}'`
	loadCommand   = `cat /proc/loadavg | awk '{print $1, $2, $3}'`

	// tmux exits non-zero when no server is running; that's an empty fleet,
	// not a probe failure, so swallow it.
	sessionsCommand = `tmux list-sessions -F '#{session_name}|#{session_created}|#{session_attached}|#{session_windows}|#{session_activity}' 2>/dev/null || true`
	panesCommand    = `tmux list-panes -a -F '#{session_name}|#{pane_pid}' 2>/dev/null || true`

	processesCommand = `ps -e -o pid=,ppid=,pcpu=,rss=`

	gpuCommand      = `nvidia-smi --query-gpu=index,name,power.draw,power.limit,memory.used,memory.total,utilization.gpu,temperature.gpu --format=csv,noheader,nounits`
	gpuProcsCommand = `nvidia-smi --query-compute-apps=pid,process_name,used_memory --format=csv,noheader,nounits`
)

// probe pairs a group with its remote command.
type probe struct {
	group Group
	cmd   string
}

// probesFor returns the probes to run on a host, in execution order.
func probesFor(hasGPU bool) []probe {
	probes := []probe{
		{GroupCPU, cpuCommand},
		{GroupMemory, memoryCommand},
		{GroupLoad, loadCommand},
		{GroupSessions, sessionsCommand},
		{GroupPanes, panesCommand},
		{GroupProcesses, processesCommand},
	}
	if hasGPU {
		probes = append(probes,
			probe{GroupGPU, gpuCommand},
			probe{GroupGPUProcs, gpuProcsCommand},
		)
	}
	return probes
}

// killSessionCommand builds the tmux kill command for a session name.
func killSessionCommand(session string) string {
	return fmt.Sprintf("tmux kill-session -t %s", shellQuote(session))
}

// shellQuote single-quotes s for safe interpolation into a shell command.
func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
