package config

import (
	"fmt"
	"os"
	"strings"

	"glimpse/internal/prompts"
)

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	c.normalizeModel()
	c.normalizeEngines()
	c.normalizeInference()
	c.normalizeProcessing()
	if err := c.normalizeExport(); err != nil {
		return err
	}
	c.normalizeLogging()
	return nil
}

func (c *Config) normalizePaths() error {
	var err error
	if strings.TrimSpace(c.Paths.LogDir) == "" {
		c.Paths.LogDir = defaultLogDir
	}
	if c.Paths.LogDir, err = expandPath(c.Paths.LogDir); err != nil {
		return fmt.Errorf("paths.log_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.DataDir) == "" {
		c.Paths.DataDir = defaultDataDir
	}
	if c.Paths.DataDir, err = expandPath(c.Paths.DataDir); err != nil {
		return fmt.Errorf("paths.data_dir: %w", err)
	}
	return nil
}

func (c *Config) normalizeModel() {
	c.Model.Engine = strings.ToLower(strings.TrimSpace(c.Model.Engine))
	if c.Model.Engine == "" {
		c.Model.Engine = EngineOllama
	}
	c.Model.Name = strings.TrimSpace(c.Model.Name)
	if c.Model.Name == "" {
		c.Model.Name = defaultModelName
	}
	c.Model.Device = strings.ToLower(strings.TrimSpace(c.Model.Device))
	if c.Model.Device == "" {
		c.Model.Device = defaultDevice
	}
	c.Model.Quantization = strings.ToLower(strings.TrimSpace(c.Model.Quantization))
	if c.Model.Quantization == "" {
		c.Model.Quantization = defaultQuantization
	}
}

func (c *Config) normalizeEngines() {
	c.Ollama.BaseURL = strings.TrimRight(strings.TrimSpace(c.Ollama.BaseURL), "/")
	if c.Ollama.BaseURL == "" {
		c.Ollama.BaseURL = defaultOllamaBaseURL
	}
	c.OpenAI.BaseURL = strings.TrimRight(strings.TrimSpace(c.OpenAI.BaseURL), "/")
	if c.OpenAI.BaseURL == "" {
		c.OpenAI.BaseURL = defaultOpenAIBaseURL
	}
	c.OpenAI.APIKey = strings.TrimSpace(c.OpenAI.APIKey)
	if c.OpenAI.APIKey == "" {
		if value, ok := os.LookupEnv("GLIMPSE_OPENAI_API_KEY"); ok {
			c.OpenAI.APIKey = strings.TrimSpace(value)
		} else if value, ok := os.LookupEnv("OPENAI_API_KEY"); ok {
			c.OpenAI.APIKey = strings.TrimSpace(value)
		}
	}
}

func (c *Config) normalizeInference() {
	// The prefix is deliberately left untouched: it is prepended to captions
	// verbatim, whitespace included.
	if strings.TrimSpace(c.Inference.Prompt) == "" {
		c.Inference.Prompt = prompts.Default()
	}
}

func (c *Config) normalizeProcessing() {
	c.Processing.ResizeMethod = strings.ToLower(strings.TrimSpace(c.Processing.ResizeMethod))
	if c.Processing.ResizeMethod == "" {
		c.Processing.ResizeMethod = defaultResizeMethod
	}
	c.Processing.CacheFormat = strings.ToLower(strings.TrimSpace(c.Processing.CacheFormat))
	if c.Processing.CacheFormat == "" {
		c.Processing.CacheFormat = defaultCacheFormat
	}
	if c.Processing.MaxDimension == 0 {
		c.Processing.MaxDimension = defaultMaxDimension
	}
	if c.Processing.JPEGQuality == 0 {
		c.Processing.JPEGQuality = defaultJPEGQuality
	}
	if c.Processing.ClearCacheInterval == 0 {
		c.Processing.ClearCacheInterval = defaultClearCacheInterval
	}
}

func (c *Config) normalizeExport() error {
	formats := make([]string, 0, len(c.Export.Formats))
	for _, format := range c.Export.Formats {
		trimmed := strings.ToLower(strings.TrimSpace(format))
		if trimmed == "" {
			continue
		}
		formats = append(formats, trimmed)
	}
	c.Export.Formats = formats

	if strings.TrimSpace(c.Export.OutputDirectory) != "" {
		expanded, err := expandPath(c.Export.OutputDirectory)
		if err != nil {
			return fmt.Errorf("export.output_directory: %w", err)
		}
		c.Export.OutputDirectory = expanded
	} else {
		c.Export.OutputDirectory = ""
	}
	return nil
}

func (c *Config) normalizeLogging() {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	if c.Logging.Format == "" {
		c.Logging.Format = defaultLogFormat
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
}
