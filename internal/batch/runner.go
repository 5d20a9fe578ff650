package batch

import (
	"log/slog"
	"time"

	"glimpse/internal/config"
	"glimpse/internal/engine"
	"glimpse/internal/export"
	"glimpse/internal/history"
	"glimpse/internal/logging"
	"glimpse/internal/modelcache"
	"glimpse/internal/notifications"
	"glimpse/internal/preprocess"
	"glimpse/internal/resources"
	"glimpse/internal/results"
	"glimpse/internal/scan"
	"glimpse/internal/services/ollama"
	"glimpse/internal/services/openaicompat"
)

// Request describes one captioning run over a directory. Processing
// behaviour (recursion, resize policy, prompt, export formats) comes from
// the runner's configuration.
type Request struct {
	Directory string

	// Force skips the pre-run disk gate for uncached models.
	Force bool

	// OnProgress fires before each image is processed; index is 1-based.
	OnProgress func(index, total int, filename string)
	// OnCaption fires after each successfully captioned image.
	OnCaption func(rec results.CaptionRecord)
	// OnFailure fires for every recorded failure, validation included.
	OnFailure func(rec results.ErrorRecord)
}

// Report is the final accounting of a run.
type Report struct {
	RunID     string
	Label     string
	Directory string
	OutputDir string
	Profile   engine.Profile
	StartedAt time.Time
	Duration  time.Duration
	Success   bool
	Summary   results.Summary
	Exports   map[string]bool
}

// Runner wires the pipeline stages together around a single engine.
type Runner struct {
	cfg       *config.Config
	resources *resources.Manager
	models    *modelcache.Service
	store     *history.Store
	notifier  notifications.Service
	scanner   *scan.Scanner
	prep      *preprocess.Preprocessor
	exporter  *export.Exporter
	logger    *slog.Logger
}

// New constructs a Runner whose engine is chosen from the model
// configuration. A nil store disables run history.
func New(cfg *config.Config, store *history.Store, logger *slog.Logger) *Runner {
	eng, models := buildEngine(cfg, logger)
	return NewWithEngine(cfg, eng, models, store, notifications.NewService(cfg), logger)
}

// NewWithEngine constructs a Runner around an explicit engine (used in
// tests). A nil notifier falls back to the configured notification service.
func NewWithEngine(cfg *config.Config, eng engine.Engine, models *modelcache.Service, store *history.Store, notifier notifications.Service, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = logging.NewNop()
	}
	if notifier == nil {
		notifier = notifications.NewService(cfg)
	}
	exportOpts := []export.Option{}
	if !cfg.Export.CSVRelativePaths {
		exportOpts = append(exportOpts, export.WithAbsoluteCSVPaths())
	}
	return &Runner{
		cfg:       cfg,
		resources: resources.NewManager(cfg, eng, nil, logger),
		models:    models,
		store:     store,
		notifier:  notifier,
		scanner:   scan.New(logger),
		prep:      preprocess.New(cfg, logger),
		exporter:  export.New(logger, exportOpts...),
		logger:    logging.NewComponentLogger(logger, "batch"),
	}
}

// buildEngine maps the configured engine name to a backend client. The
// Ollama client doubles as the tag source for the model-cache gate; remote
// OpenAI-compatible engines have no local pull to gate.
func buildEngine(cfg *config.Config, logger *slog.Logger) (engine.Engine, *modelcache.Service) {
	if cfg.Model.Engine == config.EngineOpenAI {
		client := openaicompat.NewClient(openaicompat.Config{
			BaseURL:        cfg.OpenAI.BaseURL,
			APIKey:         cfg.OpenAI.APIKey,
			Model:          cfg.Model.Name,
			TimeoutSeconds: cfg.OpenAI.TimeoutSeconds,
		})
		return client, nil
	}
	client := ollama.NewClient(ollama.Config{
		BaseURL:        cfg.Ollama.BaseURL,
		Model:          cfg.Model.Name,
		TimeoutSeconds: cfg.Ollama.TimeoutSeconds,
	})
	return client, modelcache.NewService(client, logger)
}
