// Package resources introspects the host an agent runs on: logical CPU
// capacity, memory, and any attached GPUs. It favors cgroup v2 limits (the
// share actually available to this agent's container, if any) and falls
// back to whole-host figures when no limit is set.
package resources

import (
	"context"
	"os"
	"os/exec"
	"runtime"
	"strconv"
	"strings"

	"github.com/lilac-sh/lilac/pkg/types"
)

const (
	cgroupCPUMax    = "/sys/fs/cgroup/cpu.max"
	cgroupMemoryMax = "/sys/fs/cgroup/memory.max"
	procMeminfo     = "/proc/meminfo"
)

// Introspect returns the current CPU, memory, and GPU inventory for this
// host. GPU absence is not an error — Inventory.GPU is simply nil.
func Introspect(ctx context.Context) (Inventory, error) {
	cpu := CPUInfo()
	mem := MemoryMB()
	gpu := GPUInfo(ctx)
	return Inventory{CPU: cpu, Memory: mem, GPU: gpu}, nil
}

// Inventory is one point-in-time snapshot of host resources, shaped to
// match types.Node's CPU/Memory/GPU fields directly.
type Inventory struct {
	CPU    types.CPUInfo
	Memory int64
	GPU    *types.GPUInfo
}

// CPUInfo reports this host's (or cgroup's) CPU budget in millicores.
func CPUInfo() types.CPUInfo {
	millicores := cgroupMillicores()
	if millicores == 0 {
		millicores = int64(runtime.NumCPU()) * 1000
	}
	return types.CPUInfo{
		Vendor:     "unknown",
		Arch:       runtime.GOARCH,
		Millicores: millicores,
	}
}

// cgroupMillicores reads /sys/fs/cgroup/cpu.max ("$max $period"), returning
// 0 (no limit parsed) when absent, unset ("max"), or unreadable.
func cgroupMillicores() int64 {
	data, err := readFile(cgroupCPUMax)
	if err != nil {
		return 0
	}
	fields := strings.Fields(strings.TrimSpace(data))
	if len(fields) != 2 || fields[0] == "max" {
		return 0
	}
	quota, err := strconv.ParseInt(fields[0], 10, 64)
	if err != nil {
		return 0
	}
	period, err := strconv.ParseInt(fields[1], 10, 64)
	if err != nil || period == 0 {
		return 0
	}
	// quota/period is the (possibly fractional) number of cores; scaling by
	// 1000 before dividing keeps the fraction as millicores.
	return quota * 1000 / period
}

// MemoryMB reports this host's (or cgroup's) memory budget in MiB.
func MemoryMB() int64 {
	if limit := cgroupMemoryMB(); limit > 0 {
		return limit
	}
	return hostMemoryMB()
}

func cgroupMemoryMB() int64 {
	data, err := readFile(cgroupMemoryMax)
	if err != nil {
		return 0
	}
	val := strings.TrimSpace(data)
	if val == "max" || val == "" {
		return 0
	}
	bytes, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		return 0
	}
	return bytes / (1024 * 1024)
}

func readFile(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func hostMemoryMB() int64 {
	data, err := readFile(procMeminfo)
	if err != nil {
		return 0
	}
	for _, line := range strings.Split(data, "\n") {
		if !strings.HasPrefix(line, "MemTotal:") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 2 {
			return 0
		}
		kb, err := strconv.ParseInt(fields[1], 10, 64)
		if err != nil {
			return 0
		}
		return kb / 1024
	}
	return 0
}

// GPUInfo shells out to nvidia-smi. A host with no NVIDIA driver installed
// (the common case), or whose output cannot be parsed, returns nil rather
// than failing introspection for the whole node.
func GPUInfo(ctx context.Context) *types.GPUInfo {
	out, err := exec.CommandContext(ctx, "nvidia-smi",
		"--query-gpu=name,memory.total,count",
		"--format=csv,noheader,nounits").Output()
	if err != nil {
		return nil
	}

	lines := strings.Split(strings.TrimSpace(string(out)), "\n")
	if len(lines) == 0 || lines[0] == "" {
		return nil
	}

	fields := strings.Split(lines[0], ",")
	if len(fields) < 2 {
		return nil
	}
	model := strings.TrimSpace(fields[0])
	memMiB, err := strconv.ParseInt(strings.TrimSpace(fields[1]), 10, 64)
	if err != nil {
		return nil
	}

	return &types.GPUInfo{
		Vendor:       "NVIDIA",
		Model:        model,
		Count:        len(lines),
		MemoryPerMiB: memMiB,
	}
}
