package preflight

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"strings"
	"time"

	"golang.org/x/sys/unix"

	"glimpse/internal/config"
	"glimpse/internal/engine"
	"glimpse/internal/modelcache"
	"glimpse/internal/resources"
	"glimpse/internal/services/ollama"
	"glimpse/internal/services/openaicompat"
)

// CheckEngine verifies the configured engine endpoint answers. Ollama gets a
// plain ping; OpenAI-compatible servers are probed through the model listing
// their Load performs, which also validates the key.
func CheckEngine(ctx context.Context, cfg *config.Config) Result {
	if cfg.Model.Engine == config.EngineOpenAI {
		return checkOpenAI(ctx, cfg)
	}
	return checkOllama(ctx, cfg)
}

func checkOllama(ctx context.Context, cfg *config.Config) Result {
	const name = "Ollama server"

	checkCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	client := ollama.NewClient(ollama.Config{
		BaseURL:        cfg.Ollama.BaseURL,
		Model:          cfg.Model.Name,
		TimeoutSeconds: 5,
	}, ollama.WithRetryMaxAttempts(1))

	if err := client.Ping(checkCtx); err != nil {
		return Result{Name: name, Detail: summarizeNetError(err)}
	}
	return Result{Name: name, Passed: true, Detail: fmt.Sprintf("reachable at %s", cfg.Ollama.BaseURL)}
}

func checkOpenAI(ctx context.Context, cfg *config.Config) Result {
	const name = "OpenAI endpoint"

	if strings.TrimSpace(cfg.OpenAI.APIKey) == "" {
		return Result{Name: name, Detail: "API key missing"}
	}

	checkCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	client := openaicompat.NewClient(openaicompat.Config{
		BaseURL:        cfg.OpenAI.BaseURL,
		APIKey:         cfg.OpenAI.APIKey,
		Model:          cfg.Model.Name,
		TimeoutSeconds: 30,
	})
	if err := client.Load(checkCtx, engine.Profile{}); err != nil {
		return Result{Name: name, Detail: summarizeNetError(err)}
	}
	return Result{Name: name, Passed: true, Detail: "API reachable"}
}

// CheckModelCache reports whether the configured model is already present on
// the Ollama server and, when it is not, whether the data directory's disk
// could absorb the pull.
func CheckModelCache(ctx context.Context, cfg *config.Config) Result {
	const name = "Model cache"

	checkCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	client := ollama.NewClient(ollama.Config{
		BaseURL:        cfg.Ollama.BaseURL,
		Model:          cfg.Model.Name,
		TimeoutSeconds: 10,
	}, ollama.WithRetryMaxAttempts(1))
	svc := modelcache.NewService(client, nil)

	report := svc.Gate(checkCtx, cfg.Model.Name, cfg.Paths.DataDir)
	if report.Cached {
		size := svc.EstimatedSize(checkCtx, cfg.Model.Name)
		return Result{Name: name, Passed: true,
			Detail: fmt.Sprintf("%s cached (%s)", cfg.Model.Name, formatGiB(size))}
	}
	if !report.Allowed {
		return Result{Name: name,
			Detail: fmt.Sprintf("%s not cached; pull needs ~%s but only %s free",
				cfg.Model.Name, formatGiB(report.Estimated), formatGiB(int64(report.FreeDisk)))}
	}
	return Result{Name: name, Passed: true,
		Detail: fmt.Sprintf("%s not cached; pull needs ~%s", cfg.Model.Name, formatGiB(report.Estimated))}
}

// CheckDirectoryAccess verifies that the directory exists and is readable and
// writable.
func CheckDirectoryAccess(name, path string) Result {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Result{Name: name, Detail: fmt.Sprintf("%s (error: does not exist)", path)}
		}
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: stat: %v)", path, err)}
	}
	if !info.IsDir() {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: is not a directory)", path)}
	}
	if err := unix.Access(path, unix.R_OK|unix.W_OK|unix.X_OK); err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: insufficient permissions: %v)", path, err)}
	}
	return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%s (read/write ok)", path)}
}

// CheckGPU reports GPU visibility. A missing GPU fails the check only when
// the config demands one; auto and cpu modes run fine without it.
func CheckGPU(ctx context.Context, cfg *config.Config, probe resources.Probe) Result {
	const name = "GPU"

	gpu, ok := probe.GPU(ctx)
	if ok {
		return Result{Name: name, Passed: true,
			Detail: fmt.Sprintf("%s (%.1f GiB VRAM)", gpu.Name, gpu.VRAMGiB())}
	}
	if cfg.Model.Device == config.DeviceGPU {
		return Result{Name: name, Detail: "no gpu visible but device=gpu is configured"}
	}
	return Result{Name: name, Passed: true, Detail: "no gpu visible; runs will use cpu"}
}

// CheckSystemMemory reports total system RAM.
func CheckSystemMemory(ctx context.Context, probe resources.Probe) Result {
	const name = "System memory"

	total, err := probe.SystemMemory(ctx)
	if err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("could not read memory info: %v", err)}
	}
	return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%s total", formatGiB(int64(total)))}
}

// summarizeNetError produces a short human-readable summary for endpoint
// check failures.
func summarizeNetError(err error) string {
	if errors.Is(err, context.DeadlineExceeded) {
		return "check timed out (endpoint unresponsive)"
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return "check timed out (endpoint unreachable)"
	}
	return err.Error()
}

func formatGiB(bytes int64) string {
	return fmt.Sprintf("%.1f GiB", float64(bytes)/(1<<30))
}
