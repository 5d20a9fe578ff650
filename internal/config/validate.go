package config

import (
	"errors"
	"fmt"
	"strings"
)

var validExportFormats = map[string]struct{}{
	"txt_individual": {},
	"csv":            {},
	"json":           {},
	"txt_batch":      {},
}

// Validate ensures the configuration is usable. Range checks happen here, at
// the configuration boundary, so the pipeline can assume valid values.
func (c *Config) Validate() error {
	if err := c.validateModel(); err != nil {
		return err
	}
	if err := c.validateEngines(); err != nil {
		return err
	}
	if err := c.validateInference(); err != nil {
		return err
	}
	if err := c.validateProcessing(); err != nil {
		return err
	}
	if err := c.validateExport(); err != nil {
		return err
	}
	if err := c.validateNotifications(); err != nil {
		return err
	}
	return nil
}

func (c *Config) validateModel() error {
	switch c.Model.Engine {
	case EngineOllama, EngineOpenAI:
	default:
		return fmt.Errorf("model.engine must be %q or %q, got %q", EngineOllama, EngineOpenAI, c.Model.Engine)
	}
	if c.Model.Name == "" {
		return errors.New("model.name must be set")
	}
	switch c.Model.Device {
	case DeviceAuto, DeviceCPU, DeviceGPU:
	default:
		return fmt.Errorf("model.device must be auto, cpu, or gpu, got %q", c.Model.Device)
	}
	switch c.Model.Quantization {
	case QuantizationAuto, QuantizationNone, Quantization8Bit, Quantization4Bit:
	default:
		return fmt.Errorf("model.quantization must be auto, none, 8bit, or 4bit, got %q", c.Model.Quantization)
	}
	return nil
}

func (c *Config) validateEngines() error {
	if c.Model.Engine == EngineOpenAI && c.OpenAI.APIKey == "" {
		defaultPath, err := DefaultConfigPath()
		if err != nil {
			defaultPath = "~/.config/glimpse/config.toml"
		}
		return fmt.Errorf("openai.api_key is required when model.engine is openai. Set GLIMPSE_OPENAI_API_KEY or edit %s (create with 'glimpse config init')", defaultPath)
	}
	if c.Ollama.TimeoutSeconds < 0 {
		return errors.New("ollama.timeout_seconds must not be negative")
	}
	if c.OpenAI.TimeoutSeconds < 0 {
		return errors.New("openai.timeout_seconds must not be negative")
	}
	return nil
}

func (c *Config) validateInference() error {
	inf := c.Inference
	if inf.Temperature < 0 || inf.Temperature > 2 {
		return fmt.Errorf("inference.temperature must be between 0 and 2, got %g", inf.Temperature)
	}
	if inf.TopP < 0 || inf.TopP > 1 {
		return fmt.Errorf("inference.top_p must be between 0 and 1, got %g", inf.TopP)
	}
	if inf.RepetitionPenalty < 1 || inf.RepetitionPenalty > 2 {
		return fmt.Errorf("inference.repetition_penalty must be between 1 and 2, got %g", inf.RepetitionPenalty)
	}
	if inf.MaxNewTokens < 1 || inf.MaxNewTokens > 2048 {
		return fmt.Errorf("inference.max_new_tokens must be between 1 and 2048, got %d", inf.MaxNewTokens)
	}
	if inf.TopK < 0 {
		return fmt.Errorf("inference.top_k must not be negative, got %d", inf.TopK)
	}
	return nil
}

func (c *Config) validateProcessing() error {
	p := c.Processing
	if p.MaxDimension < 1 {
		return fmt.Errorf("processing.max_dimension must be positive, got %d", p.MaxDimension)
	}
	switch p.ResizeMethod {
	case "lanczos", "bicubic", "bilinear", "nearest":
	default:
		return fmt.Errorf("processing.resize_method must be lanczos, bicubic, bilinear, or nearest, got %q", p.ResizeMethod)
	}
	switch p.CacheFormat {
	case CacheFormatOriginal, CacheFormatPNG, CacheFormatJPEG:
	default:
		return fmt.Errorf("processing.cache_format must be original, png, or jpeg, got %q", p.CacheFormat)
	}
	if p.JPEGQuality < 1 || p.JPEGQuality > 100 {
		return fmt.Errorf("processing.jpeg_quality must be between 1 and 100, got %d", p.JPEGQuality)
	}
	if p.ClearCacheInterval < 1 {
		return fmt.Errorf("processing.clear_cache_interval must be positive, got %d", p.ClearCacheInterval)
	}
	return nil
}

func (c *Config) validateExport() error {
	for _, format := range c.Export.Formats {
		if _, ok := validExportFormats[format]; !ok {
			return fmt.Errorf("export.formats: unknown format %q (valid: txt_individual, csv, json, txt_batch)", format)
		}
	}
	return nil
}

func (c *Config) validateNotifications() error {
	if strings.TrimSpace(c.Notifications.NtfyTopic) == "" {
		return nil
	}
	if c.Notifications.RequestTimeout <= 0 {
		return errors.New("notifications.request_timeout must be positive")
	}
	return nil
}
