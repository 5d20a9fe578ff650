package config

// Engine names accepted by model.engine.
const (
	EngineOllama = "ollama"
	EngineOpenAI = "openai"
)

// Device names accepted by model.device.
const (
	DeviceAuto = "auto"
	DeviceCPU  = "cpu"
	DeviceGPU  = "gpu"
)

// Quantization modes accepted by model.quantization.
const (
	QuantizationAuto = "auto"
	QuantizationNone = "none"
	Quantization8Bit = "8bit"
	Quantization4Bit = "4bit"
)

// Formats accepted by processing.cache_format.
const (
	CacheFormatOriginal = "original"
	CacheFormatPNG      = "png"
	CacheFormatJPEG     = "jpeg"
)

const (
	defaultLogDir             = "~/.local/share/glimpse/logs"
	defaultDataDir            = "~/.local/share/glimpse"
	defaultModelName          = "llava:7b"
	defaultDevice             = "auto"
	defaultQuantization       = "auto"
	defaultOllamaBaseURL      = "http://localhost:11434"
	defaultOpenAIBaseURL      = "https://api.openai.com/v1"
	defaultTemperature        = 0.2
	defaultMaxNewTokens       = 512
	defaultTopP               = 0.9
	defaultTopK               = 50
	defaultRepetitionPenalty  = 1.1
	defaultMaxDimension       = 1024
	defaultResizeMethod       = "lanczos"
	defaultCacheFormat        = "original"
	defaultJPEGQuality        = 95
	defaultClearCacheInterval = 10
	defaultLogFormat          = "console"
	defaultLogLevel           = "info"
	defaultNotifyTimeout      = 10
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			LogDir:  defaultLogDir,
			DataDir: defaultDataDir,
		},
		Model: Model{
			Engine:       EngineOllama,
			Name:         defaultModelName,
			Device:       defaultDevice,
			Quantization: defaultQuantization,
		},
		Ollama: Ollama{
			BaseURL: defaultOllamaBaseURL,
		},
		OpenAI: OpenAI{
			BaseURL: defaultOpenAIBaseURL,
		},
		Inference: Inference{
			Temperature:       defaultTemperature,
			MaxNewTokens:      defaultMaxNewTokens,
			TopP:              defaultTopP,
			TopK:              defaultTopK,
			RepetitionPenalty: defaultRepetitionPenalty,
		},
		Processing: Processing{
			ResizeBeforeInference: true,
			MaxDimension:          defaultMaxDimension,
			ResizeMethod:          defaultResizeMethod,
			CacheFormat:           defaultCacheFormat,
			JPEGQuality:           defaultJPEGQuality,
			ClearCacheInterval:    defaultClearCacheInterval,
		},
		Export: Export{
			Formats:          []string{"txt_individual"},
			CSVRelativePaths: true,
		},
		Notifications: Notifications{
			RequestTimeout: defaultNotifyTimeout,
			OnComplete:     true,
			OnError:        true,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
	}
}
