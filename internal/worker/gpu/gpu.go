// Package gpu determines node hardware status for heartbeats, grounded on
// the original implementation's worker/src/gpu.rs. The original shells out
// to nvidia-smi and falls back to CPU sampling via the sysinfo crate; this
// port keeps nvidia-smi for GPU name, free VRAM and utilization (gopsutil
// has no NVML binding in the examples corpus) and replaces the sysinfo CPU
// sample with gopsutil/v3's cpu.Percent.
package gpu

import (
	"bytes"
	"context"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"

	"github.com/100monkeys-ai/monkey-troop/internal/shared"
)

// IdleCPUThresholdPercent is the utilization below which a node is
// considered idle. It applies to nvidia-smi's GPU utilization when an
// NVIDIA GPU is present and to overall CPU utilization otherwise.
const IdleCPUThresholdPercent = 10.0

// cpuSampleWindow is how long to sample CPU utilization over, matching the
// original's 200ms sysinfo sample.
const cpuSampleWindow = 200 * time.Millisecond

// Info describes the node's compute hardware for a heartbeat.
func Info(ctx context.Context) shared.HardwareInfo {
	if name, vram, ok := nvidiaSMIInfo(ctx); ok {
		return shared.HardwareInfo{GPU: name, VRAMFreeMB: uint64(vram)}
	}
	return shared.HardwareInfo{GPU: "Unknown GPU", VRAMFreeMB: 0}
}

// IsIdle reports whether the node is below the idle utilization threshold.
// It prefers nvidia-smi's reported GPU utilization and falls back to
// overall CPU utilization when no NVIDIA GPU is present.
func IsIdle(ctx context.Context) bool {
	if util, ok := nvidiaSMIUtilization(ctx); ok {
		return util < IdleCPUThresholdPercent
	}
	return isCPUIdle()
}

func isCPUIdle() bool {
	percents, err := cpu.Percent(cpuSampleWindow, false)
	if err != nil || len(percents) == 0 {
		// Unable to sample; assume busy rather than over-claim idle capacity.
		return false
	}
	return percents[0] < IdleCPUThresholdPercent
}

func nvidiaSMIInfo(ctx context.Context) (name string, vramFreeMB int, ok bool) {
	out, err := runNvidiaSMI(ctx, "--query-gpu=name,memory.free", "--format=csv,noheader,nounits")
	if err != nil {
		return "", 0, false
	}
	line := strings.TrimSpace(firstLine(out))
	if line == "" {
		return "", 0, false
	}
	parts := strings.Split(line, ",")
	if len(parts) != 2 {
		return "", 0, false
	}
	name = strings.TrimSpace(parts[0])
	vram, err := strconv.Atoi(strings.TrimSpace(parts[1]))
	if err != nil {
		return name, 0, true
	}
	return name, vram, true
}

func nvidiaSMIUtilization(ctx context.Context) (float64, bool) {
	out, err := runNvidiaSMI(ctx, "--query-gpu=utilization.gpu", "--format=csv,noheader,nounits")
	if err != nil {
		return 0, false
	}
	line := strings.TrimSpace(firstLine(out))
	util, err := strconv.ParseFloat(line, 64)
	if err != nil {
		return 0, false
	}
	return util, true
}

func runNvidiaSMI(ctx context.Context, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, "nvidia-smi", args...)
	var out bytes.Buffer
	cmd.Stdout = &out
	if err := cmd.Run(); err != nil {
		return "", err
	}
	return out.String(), nil
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
