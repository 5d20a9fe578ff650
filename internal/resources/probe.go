package resources

import (
	"context"
	"log/slog"
	"os/exec"
	"strconv"
	"strings"

	"github.com/shirou/gopsutil/v3/mem"

	"glimpse/internal/logging"
)

var commandContext = exec.CommandContext

// GPUInfo describes a detected GPU.
type GPUInfo struct {
	Name      string
	MemoryMiB uint64
}

// VRAMGiB returns the total GPU memory in GiB.
func (g GPUInfo) VRAMGiB() float64 {
	return float64(g.MemoryMiB) / 1024
}

// Probe reports hardware availability for profile resolution.
type Probe interface {
	GPU(ctx context.Context) (GPUInfo, bool)
	SystemMemory(ctx context.Context) (uint64, error)
}

// HardwareProbe queries nvidia-smi for GPU presence and the OS for system
// memory.
type HardwareProbe struct {
	logger *slog.Logger
}

// NewProbe constructs a HardwareProbe. A nil logger falls back to a no-op
// logger.
func NewProbe(logger *slog.Logger) *HardwareProbe {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &HardwareProbe{logger: logging.NewComponentLogger(logger, "resources")}
}

// GPU reports the first CUDA device visible to nvidia-smi. A missing binary
// or a failing query means no usable GPU.
func (p *HardwareProbe) GPU(ctx context.Context) (GPUInfo, bool) {
	cmd := commandContext(ctx, "nvidia-smi", "--query-gpu=name,memory.total", "--format=csv,noheader,nounits")
	out, err := cmd.Output()
	if err != nil {
		p.logger.Debug("no gpu detected", logging.Error(err))
		return GPUInfo{}, false
	}
	info, ok := parseGPUQuery(string(out))
	if !ok {
		p.logger.Debug("unparseable nvidia-smi output", logging.String("output", strings.TrimSpace(string(out))))
		return GPUInfo{}, false
	}
	p.logger.Info("gpu detected",
		logging.String("name", info.Name),
		logging.Float64("vram_gib", info.VRAMGiB()))
	return info, true
}

// SystemMemory returns total system RAM in bytes.
func (p *HardwareProbe) SystemMemory(ctx context.Context) (uint64, error) {
	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return 0, err
	}
	return vm.Total, nil
}

// parseGPUQuery parses the first line of a
// "--query-gpu=name,memory.total --format=csv,noheader,nounits" response.
func parseGPUQuery(output string) (GPUInfo, bool) {
	for _, line := range strings.Split(output, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		idx := strings.LastIndex(line, ",")
		if idx < 0 {
			return GPUInfo{}, false
		}
		name := strings.TrimSpace(line[:idx])
		memory, err := strconv.ParseUint(strings.TrimSpace(line[idx+1:]), 10, 64)
		if err != nil || name == "" {
			return GPUInfo{}, false
		}
		return GPUInfo{Name: name, MemoryMiB: memory}, true
	}
	return GPUInfo{}, false
}
