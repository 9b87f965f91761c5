package harness

import (
	"context"
	"fmt"
	"runtime"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/mem"
)

// Host describes the machine the benchmarks ran on.
type Host struct {
	Hostname    string `json:"hostname"`
	OS          string `json:"os"`
	Platform    string `json:"platform"`
	Arch        string `json:"arch"`
	CPUModel    string `json:"cpu_model"`
	Cores       int    `json:"cores"`
	MemoryBytes uint64 `json:"memory_bytes"`
}

// DescribeHost collects a Host for the local machine.
func DescribeHost(ctx context.Context) (Host, error) {
	h := Host{
		OS:   runtime.GOOS,
		Arch: runtime.GOARCH,
	}

	info, err := host.InfoWithContext(ctx)
	if err != nil {
		return h, fmt.Errorf("host info: %w", err)
	}

	h.Hostname = info.Hostname
	h.Platform = info.Platform
	if info.PlatformVersion != "" {
		h.Platform += " " + info.PlatformVersion
	}

	cpus, err := cpu.InfoWithContext(ctx)
	if err != nil {
		return h, fmt.Errorf("cpu info: %w", err)
	}

	if len(cpus) > 0 {
		h.CPUModel = cpus[0].ModelName
	}

	h.Cores, err = cpu.CountsWithContext(ctx, true)
	if err != nil {
		return h, fmt.Errorf("cpu count: %w", err)
	}

	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return h, fmt.Errorf("memory info: %w", err)
	}

	h.MemoryBytes = vm.Total

	return h, nil
}
