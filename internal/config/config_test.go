package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/pelletier/go-toml/v2"

	"glimpse/internal/config"
	"glimpse/internal/prompts"
)

func TestLoadDefaultsAndExpandsPaths(t *testing.T) {
	tempHome := t.TempDir()
	t.Setenv("HOME", tempHome)

	cfg, resolved, exists, err := config.Load("")
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if resolved == "" {
		t.Fatal("expected resolved path")
	}
	if exists {
		t.Fatal("expected config file to be absent in temp HOME")
	}

	wantLogs := filepath.Join(tempHome, ".local", "share", "glimpse", "logs")
	if cfg.Paths.LogDir != wantLogs {
		t.Fatalf("unexpected log dir: got %q want %q", cfg.Paths.LogDir, wantLogs)
	}
	if cfg.Model.Engine != config.EngineOllama {
		t.Fatalf("unexpected engine: %q", cfg.Model.Engine)
	}
	if cfg.Model.Device != "auto" || cfg.Model.Quantization != "auto" {
		t.Fatalf("unexpected model policy: %q/%q", cfg.Model.Device, cfg.Model.Quantization)
	}
	if cfg.Inference.Prompt != prompts.Default() {
		t.Fatalf("expected default prompt, got %q", cfg.Inference.Prompt)
	}
	if cfg.Processing.MaxDimension != 1024 {
		t.Fatalf("unexpected max dimension: %d", cfg.Processing.MaxDimension)
	}
	if cfg.Processing.ClearCacheInterval != 10 {
		t.Fatalf("unexpected clear cache interval: %d", cfg.Processing.ClearCacheInterval)
	}
	if got := cfg.Export.Formats; len(got) != 1 || got[0] != "txt_individual" {
		t.Fatalf("unexpected default formats: %v", got)
	}
	if cfg.HistoryDBPath() != filepath.Join(cfg.Paths.DataDir, "history.db") {
		t.Fatalf("unexpected history db path: %q", cfg.HistoryDBPath())
	}

	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("EnsureDirectories failed: %v", err)
	}
	for _, dir := range []string{cfg.Paths.LogDir, cfg.Paths.DataDir} {
		info, err := os.Stat(dir)
		if err != nil {
			t.Fatalf("expected directory %q to exist: %v", dir, err)
		}
		if !info.IsDir() {
			t.Fatalf("expected %q to be directory", dir)
		}
	}
}

func TestLoadCustomPath(t *testing.T) {
	tempDir := t.TempDir()
	configPath := filepath.Join(tempDir, "glimpse.toml")

	type payload struct {
		Model struct {
			Name   string `toml:"name"`
			Device string `toml:"device"`
		} `toml:"model"`
		Inference struct {
			Temperature float64 `toml:"temperature"`
			Prefix      string  `toml:"prefix"`
		} `toml:"inference"`
		Processing struct {
			Recursive    bool `toml:"recursive"`
			MaxDimension int  `toml:"max_dimension"`
		} `toml:"processing"`
	}
	custom := payload{}
	custom.Model.Name = "llava:13b"
	custom.Model.Device = "GPU"
	custom.Inference.Temperature = 0.7
	custom.Inference.Prefix = "  photo of "
	custom.Processing.Recursive = true
	custom.Processing.MaxDimension = 768

	encoded, err := toml.Marshal(custom)
	if err != nil {
		t.Fatalf("marshal config: %v", err)
	}
	if err := os.WriteFile(configPath, encoded, 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, resolved, exists, err := config.Load(configPath)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if !exists {
		t.Fatal("expected config file to exist")
	}
	if resolved != configPath {
		t.Fatalf("unexpected resolved path: %q", resolved)
	}
	if cfg.Model.Name != "llava:13b" {
		t.Fatalf("unexpected model name: %q", cfg.Model.Name)
	}
	if cfg.Model.Device != "gpu" {
		t.Fatalf("expected device lowered to gpu, got %q", cfg.Model.Device)
	}
	if cfg.Inference.Temperature != 0.7 {
		t.Fatalf("unexpected temperature: %g", cfg.Inference.Temperature)
	}
	if cfg.Inference.Prefix != "  photo of " {
		t.Fatalf("expected prefix whitespace preserved, got %q", cfg.Inference.Prefix)
	}
	if !cfg.Processing.Recursive {
		t.Fatal("expected recursive true")
	}
	if cfg.Processing.MaxDimension != 768 {
		t.Fatalf("unexpected max dimension: %d", cfg.Processing.MaxDimension)
	}
}

func TestValidateRejectsOutOfRangeInference(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*config.Config)
	}{
		{"temperature high", func(c *config.Config) { c.Inference.Temperature = 2.5 }},
		{"temperature negative", func(c *config.Config) { c.Inference.Temperature = -0.1 }},
		{"top_p high", func(c *config.Config) { c.Inference.TopP = 1.01 }},
		{"repetition_penalty low", func(c *config.Config) { c.Inference.RepetitionPenalty = 0.9 }},
		{"repetition_penalty high", func(c *config.Config) { c.Inference.RepetitionPenalty = 2.1 }},
		{"max_new_tokens zero", func(c *config.Config) { c.Inference.MaxNewTokens = 0 }},
		{"max_new_tokens high", func(c *config.Config) { c.Inference.MaxNewTokens = 4096 }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := config.Default()
			tc.mutate(&cfg)
			if err := cfg.Validate(); err == nil {
				t.Fatal("expected validation error")
			}
		})
	}
}

func TestValidateRejectsBadEnums(t *testing.T) {
	cfg := config.Default()
	cfg.Model.Device = "tpu"
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected device validation error")
	}

	cfg = config.Default()
	cfg.Model.Quantization = "2bit"
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected quantization validation error")
	}

	cfg = config.Default()
	cfg.Processing.CacheFormat = "bmp"
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected cache format validation error")
	}

	cfg = config.Default()
	cfg.Export.Formats = []string{"xml"}
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected export format validation error")
	}
}

func TestValidateRequiresOpenAIKey(t *testing.T) {
	cfg := config.Default()
	cfg.Model.Engine = config.EngineOpenAI
	cfg.OpenAI.APIKey = ""
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected missing api key error")
	}
	cfg.OpenAI.APIKey = "sk-test"
	if err := cfg.Validate(); err != nil {
		t.Fatalf("unexpected validation error: %v", err)
	}
}

func TestOpenAIKeyFromEnvironment(t *testing.T) {
	tempHome := t.TempDir()
	t.Setenv("HOME", tempHome)
	t.Setenv("GLIMPSE_OPENAI_API_KEY", "sk-env")

	cfg, _, _, err := config.Load("")
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.OpenAI.APIKey != "sk-env" {
		t.Fatalf("expected api key from env, got %q", cfg.OpenAI.APIKey)
	}
}

func TestCreateSampleRoundTrips(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.toml")
	if err := config.CreateSample(path); err != nil {
		t.Fatalf("CreateSample failed: %v", err)
	}
	cfg, _, exists, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load of sample failed: %v", err)
	}
	if !exists {
		t.Fatal("expected sample to exist")
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("sample config should validate: %v", err)
	}
}
