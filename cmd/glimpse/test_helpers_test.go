package main

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"glimpse/internal/config"
	"glimpse/internal/testsupport"
)

type cliTestEnv struct {
	cfg        *config.Config
	configPath string
	baseDir    string
}

// setupCLITestEnv builds a config rooted in temp directories and installs it
// at the default lookup location under a throwaway HOME, so commands resolve
// it with or without --config.
func setupCLITestEnv(t *testing.T) *cliTestEnv {
	t.Helper()

	base := t.TempDir()
	homeDir := filepath.Join(base, "home")
	if err := os.MkdirAll(homeDir, 0o755); err != nil {
		t.Fatalf("mkdir home: %v", err)
	}
	t.Setenv("HOME", homeDir)

	cfg := testsupport.NewConfig(t)
	cfg.Model.Device = config.DeviceCPU
	cfg.Model.Quantization = config.QuantizationNone
	cfg.Logging.Level = "error"

	configPath := filepath.Join(homeDir, ".config", "glimpse", "config.toml")
	if err := os.MkdirAll(filepath.Dir(configPath), 0o755); err != nil {
		t.Fatalf("mkdir config dir: %v", err)
	}
	writeTestConfig(t, configPath, cfg)

	return &cliTestEnv{cfg: cfg, configPath: configPath, baseDir: base}
}

// rewriteConfig re-renders the env's config file after a test mutates cfg.
func (e *cliTestEnv) rewriteConfig(t *testing.T) {
	t.Helper()
	writeTestConfig(t, e.configPath, e.cfg)
}

func writeTestConfig(t *testing.T, path string, cfg *config.Config) {
	t.Helper()
	content := fmt.Sprintf(`[paths]
log_dir = %q
data_dir = %q

[model]
engine = %q
name = %q
device = %q
quantization = %q

[ollama]
base_url = %q

[openai]
api_key = %q

[inference]
prompt = %q
prefix = %q

[processing]
clear_cache_interval = %d

[export]
formats = [%s]
output_directory = %q

[logging]
level = %q
`,
		cfg.Paths.LogDir,
		cfg.Paths.DataDir,
		cfg.Model.Engine,
		cfg.Model.Name,
		cfg.Model.Device,
		cfg.Model.Quantization,
		cfg.Ollama.BaseURL,
		cfg.OpenAI.APIKey,
		cfg.Inference.Prompt,
		cfg.Inference.Prefix,
		cfg.Processing.ClearCacheInterval,
		quotedList(cfg.Export.Formats),
		cfg.Export.OutputDirectory,
		cfg.Logging.Level,
	)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
}

func quotedList(values []string) string {
	quoted := make([]string, 0, len(values))
	for _, value := range values {
		quoted = append(quoted, fmt.Sprintf("%q", value))
	}
	return strings.Join(quoted, ", ")
}

func runCLI(t *testing.T, args []string, configPath string) (string, string, error) {
	t.Helper()
	cmd := newRootCommand()
	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	if configPath != "" {
		args = append([]string{"--config", configPath}, args...)
	}
	cmd.SetArgs(args)
	err := cmd.Execute()
	return stdout.String(), stderr.String(), err
}

func requireContains(t *testing.T, output, substr string) {
	t.Helper()
	if !strings.Contains(output, substr) {
		t.Fatalf("expected %q to contain %q", output, substr)
	}
}
