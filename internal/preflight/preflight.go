package preflight

import (
	"context"

	"glimpse/internal/config"
	"glimpse/internal/resources"
)

// Result reports the outcome of a single preflight check.
type Result struct {
	Name   string
	Passed bool
	Detail string
}

// RunAll executes every applicable check for the given config. The model
// cache check only applies to the Ollama engine; remote engines have no
// local cache to inspect.
func RunAll(ctx context.Context, cfg *config.Config) []Result {
	if cfg == nil {
		return nil
	}

	var results []Result

	results = append(results, CheckEngine(ctx, cfg))

	if cfg.Model.Engine == config.EngineOllama {
		results = append(results, CheckModelCache(ctx, cfg))
	}

	results = append(results, CheckDirectoryAccess("Data directory", cfg.Paths.DataDir))
	if cfg.Export.OutputDirectory != "" {
		results = append(results, CheckDirectoryAccess("Output directory", cfg.Export.OutputDirectory))
	}

	probe := resources.NewProbe(nil)
	results = append(results, CheckGPU(ctx, cfg, probe))
	results = append(results, CheckSystemMemory(ctx, probe))

	return results
}
