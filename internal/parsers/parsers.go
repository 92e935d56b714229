// Package parsers turns raw remote command output into typed data. Line
// formats match the fixed probe commands in the poller package: pipe-separated
// tmux fields, whitespace-separated ps columns, and nounits CSV from
// nvidia-smi.
package parsers

import (
	"fmt"
	"strconv"
	"strings"

	"fleetwatch/internal/errors"
	"fleetwatch/internal/fleet"
)

// Memory is the parsed output of the free(1) probe.
type Memory struct {
	UsedMB  int
	TotalMB int
	Percent float64
}

// SessionListing is one raw tmux session line before resolution.
type SessionListing struct {
	Name          string
	CreatedEpoch  int64
	Attached      bool
	Windows       int
	ActivityEpoch int64
}

// Process is one row of the ps(1) process table.
type Process struct {
	PID        int
	PPID       int
	CPUPercent float64
	RSSKB      int
}

// CPUPercent parses the top(1) CPU probe output, a single float like "12.3".
func CPUPercent(out string) (float64, error) {
	s := strings.TrimSpace(out)
	// Older top builds emit "12.3%us"; strip anything after the number
	if idx := strings.IndexAny(s, "% "); idx != -1 {
		s = s[:idx]
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, errors.WrapWithCode(err, errors.ErrParse,
			fmt.Sprintf("Unparseable CPU output: %q", strings.TrimSpace(out)), "")
	}
	return v, nil
}

// ParseMemory parses the free(1) probe output: "<used> <total> <percent>".
func ParseMemory(out string) (Memory, error) {
	fields := strings.Fields(strings.TrimSpace(out))
	if len(fields) != 3 {
		return Memory{}, errors.New(errors.ErrParse,
			fmt.Sprintf("Unparseable memory output: %q", strings.TrimSpace(out)), "")
	}
	used, err1 := strconv.Atoi(fields[0])
	total, err2 := strconv.Atoi(fields[1])
	pct, err3 := strconv.ParseFloat(fields[2], 64)
	if err1 != nil || err2 != nil || err3 != nil {
		return Memory{}, errors.New(errors.ErrParse,
			fmt.Sprintf("Unparseable memory output: %q", strings.TrimSpace(out)), "")
	}
	return Memory{UsedMB: used, TotalMB: total, Percent: pct}, nil
}

// LoadAvg parses "/proc/loadavg" probe output: three floats.
func LoadAvg(out string) ([]float64, error) {
	fields := strings.Fields(strings.TrimSpace(out))
	if len(fields) < 3 {
		return nil, errors.New(errors.ErrParse,
			fmt.Sprintf("Unparseable loadavg output: %q", strings.TrimSpace(out)), "")
	}
	loads := make([]float64, 3)
	for i := 0; i < 3; i++ {
		v, err := strconv.ParseFloat(fields[i], 64)
		if err != nil {
			return nil, errors.WrapWithCode(err, errors.ErrParse,
				fmt.Sprintf("Unparseable loadavg output: %q", strings.TrimSpace(out)), "")
		}
		loads[i] = v
	}
	return loads, nil
}

// Sessions parses tmux list-sessions output. Each line is
// "name|created|attached|windows|activity". Malformed lines are skipped;
// an empty output means no sessions, which is not an error.
func Sessions(out string) []SessionListing {
	var sessions []SessionListing
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		parts := strings.Split(line, "|")
		if len(parts) != 5 || parts[0] == "" {
			continue
		}
		created, err := strconv.ParseInt(parts[1], 10, 64)
		if err != nil {
			continue
		}
		attachedCount, err := strconv.Atoi(parts[2])
		if err != nil {
			continue
		}
		windows, err := strconv.Atoi(parts[3])
		if err != nil {
			continue
		}
		activity, err := strconv.ParseInt(parts[4], 10, 64)
		if err != nil {
			continue
		}
		sessions = append(sessions, SessionListing{
			Name:          parts[0],
			CreatedEpoch:  created,
			Attached:      attachedCount > 0,
			Windows:       windows,
			ActivityEpoch: activity,
		})
	}
	return sessions
}

// Panes parses tmux list-panes output ("session|pane_pid" per line) into a
// session name to pane PIDs map.
func Panes(out string) map[string][]int {
	panes := make(map[string][]int)
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		parts := strings.Split(line, "|")
		if len(parts) != 2 || parts[0] == "" {
			continue
		}
		pid, err := strconv.Atoi(parts[1])
		if err != nil {
			continue
		}
		panes[parts[0]] = append(panes[parts[0]], pid)
	}
	return panes
}

// Processes parses ps output with columns "pid ppid pcpu rss".
// Malformed rows are skipped.
func Processes(out string) []Process {
	var procs []Process
	for _, line := range strings.Split(out, "\n") {
		fields := strings.Fields(line)
		if len(fields) != 4 {
			continue
		}
		pid, err := strconv.Atoi(fields[0])
		if err != nil {
			continue
		}
		ppid, err := strconv.Atoi(fields[1])
		if err != nil {
			continue
		}
		cpu, err := strconv.ParseFloat(fields[2], 64)
		if err != nil {
			continue
		}
		rss, err := strconv.Atoi(fields[3])
		if err != nil {
			continue
		}
		procs = append(procs, Process{PID: pid, PPID: ppid, CPUPercent: cpu, RSSKB: rss})
	}
	return procs
}

// GPUs parses nvidia-smi query-gpu CSV output (noheader, nounits):
// "index, name, power.draw, power.limit, memory.used, memory.total,
// utilization.gpu, temperature.gpu". Malformed lines are skipped; an empty
// output means no GPUs.
func GPUs(out string) []fleet.GPU {
	var gpus []fleet.GPU
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		parts := strings.Split(line, ",")
		if len(parts) != 8 {
			continue
		}
		for i := range parts {
			parts[i] = strings.TrimSpace(parts[i])
		}
		index, err := strconv.Atoi(parts[0])
		if err != nil {
			continue
		}
		gpus = append(gpus, fleet.GPU{
			Index:           index,
			Name:            parts[1],
			PowerDrawWatts:  parseFloatOrZero(parts[2]),
			PowerLimitWatts: parseFloatOrZero(parts[3]),
			MemoryUsedMB:    parseIntOrZero(parts[4]),
			MemoryTotalMB:   parseIntOrZero(parts[5]),
			UtilizationPct:  parseIntOrZero(parts[6]),
			TemperatureC:    parseIntOrZero(parts[7]),
		})
	}
	return gpus
}

// GPUProcesses parses nvidia-smi query-compute-apps CSV output:
// "pid, process_name, used_memory". Rows with a non-numeric PID or memory
// (nvidia-smi emits "[N/A]" on some drivers) are skipped.
func GPUProcesses(out string) []fleet.GPUProcess {
	var procs []fleet.GPUProcess
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		parts := strings.Split(line, ",")
		if len(parts) != 3 {
			continue
		}
		pid, err := strconv.Atoi(strings.TrimSpace(parts[0]))
		if err != nil {
			continue
		}
		mem, err := strconv.Atoi(strings.TrimSpace(parts[2]))
		if err != nil {
			continue
		}
		procs = append(procs, fleet.GPUProcess{
			PID:      pid,
			Name:     strings.TrimSpace(parts[1]),
			MemoryMB: mem,
		})
	}
	return procs
}

// parseFloatOrZero tolerates "[N/A]" and similar driver placeholders.
func parseFloatOrZero(s string) float64 {
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return v
}

func parseIntOrZero(s string) int {
	v, err := strconv.Atoi(s)
	if err != nil {
		return 0
	}
	return v
}
