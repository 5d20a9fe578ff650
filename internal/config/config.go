package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains directory configuration.
type Paths struct {
	LogDir  string `toml:"log_dir"`
	DataDir string `toml:"data_dir"`
}

// Model selects the captioning engine and its resource policy.
type Model struct {
	Engine       string `toml:"engine"`
	Name         string `toml:"name"`
	Device       string `toml:"device"`
	Quantization string `toml:"quantization"`
}

// Ollama contains connection settings for a local Ollama server.
type Ollama struct {
	BaseURL        string `toml:"base_url"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
}

// OpenAI contains connection settings for an OpenAI-compatible API.
type OpenAI struct {
	BaseURL        string `toml:"base_url"`
	APIKey         string `toml:"api_key"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
}

// Inference contains generation parameters passed to the engine.
type Inference struct {
	Temperature       float64 `toml:"temperature"`
	MaxNewTokens      int     `toml:"max_new_tokens"`
	TopP              float64 `toml:"top_p"`
	TopK              int     `toml:"top_k"`
	RepetitionPenalty float64 `toml:"repetition_penalty"`
	Prompt            string  `toml:"prompt"`
	Prefix            string  `toml:"prefix"`
}

// Processing contains scan and preprocessing behaviour.
type Processing struct {
	Recursive             bool   `toml:"recursive"`
	ResizeBeforeInference bool   `toml:"resize_before_inference"`
	MaxDimension          int    `toml:"max_dimension"`
	ResizeMethod          string `toml:"resize_method"`
	CacheResizedImages    bool   `toml:"cache_resized_images"`
	CacheFormat           string `toml:"cache_format"`
	JPEGQuality           int    `toml:"jpeg_quality"`
	ClearCacheInterval    int    `toml:"clear_cache_interval"`
}

// Export contains result export configuration.
type Export struct {
	Formats          []string `toml:"formats"`
	CSVRelativePaths bool     `toml:"csv_relative_paths"`
	OutputDirectory  string   `toml:"output_directory"`
}

// Notifications contains configuration for ntfy push notifications.
type Notifications struct {
	NtfyTopic      string `toml:"ntfy_topic"`
	RequestTimeout int    `toml:"request_timeout"`
	OnComplete     bool   `toml:"on_complete"`
	OnError        bool   `toml:"on_error"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format string `toml:"format"`
	Level  string `toml:"level"`
}

// Config encapsulates all configuration values for glimpse.
//
// Configuration sections by subsystem:
//   - Paths: log and data directories
//   - Model: engine selection plus device/quantization policy
//   - Ollama/OpenAI: per-engine connection settings
//   - Inference: generation parameters, prompt, and caption prefix
//   - Processing: scanning, resize, and resized-image caching behaviour
//   - Export: output formats and destination
//   - Notifications: ntfy push notification settings
//   - Logging: log format and level
type Config struct {
	Paths         Paths         `toml:"paths"`
	Model         Model         `toml:"model"`
	Ollama        Ollama        `toml:"ollama"`
	OpenAI        OpenAI        `toml:"openai"`
	Inference     Inference     `toml:"inference"`
	Processing    Processing    `toml:"processing"`
	Export        Export        `toml:"export"`
	Notifications Notifications `toml:"notifications"`
	Logging       Logging       `toml:"logging"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath("~/.config/glimpse/config.toml")
}

// Load locates, parses, and validates a configuration file. The returned config has all
// path fields expanded and normalized.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := expandPath("~/.config/glimpse/config.toml")
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs("glimpse.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}

	return defaultPath, false, nil
}

// EnsureDirectories creates the directories glimpse needs to operate.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Paths.LogDir, c.Paths.DataDir} {
		if strings.TrimSpace(dir) == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

// HistoryDBPath returns the path of the run-history database.
func (c *Config) HistoryDBPath() string {
	return filepath.Join(c.Paths.DataDir, "history.db")
}

// EngineTimeout returns the request timeout for the configured engine.
// Zero means no client-side timeout; generation calls are allowed to run as
// long as they need and are bounded only by caller cancellation.
func (c *Config) EngineTimeout() time.Duration {
	seconds := c.Ollama.TimeoutSeconds
	if c.Model.Engine == EngineOpenAI {
		seconds = c.OpenAI.TimeoutSeconds
	}
	if seconds <= 0 {
		return 0
	}
	return time.Duration(seconds) * time.Second
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}

	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}
