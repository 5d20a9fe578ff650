package testsupport

import (
	"path/filepath"
	"testing"

	"glimpse/internal/config"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*configBuilder)

type configBuilder struct {
	t       testing.TB
	baseDir string
	cfg     *config.Config
}

// NewConfig produces a config seeded with unique temp directories per test.
// It defaults common fields and applies any provided options.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfgVal := config.Default()
	cfgVal.Paths.LogDir = filepath.Join(base, "logs")
	cfgVal.Paths.DataDir = filepath.Join(base, "data")

	builder := &configBuilder{
		t:       t,
		baseDir: base,
		cfg:     &cfgVal,
	}

	for _, opt := range opts {
		opt(builder)
	}

	return builder.cfg
}

// WithExportFormats overrides the export format list on the test config.
func WithExportFormats(formats ...string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Export.Formats = formats
	}
}

// WithOutputDirectory routes exports into the given directory instead of
// writing alongside the source images.
func WithOutputDirectory(dir string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Export.OutputDirectory = dir
	}
}

// WithPrompt sets the inference prompt on the test config.
func WithPrompt(prompt string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Inference.Prompt = prompt
	}
}

// WithPrefix sets the caption prefix on the test config.
func WithPrefix(prefix string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Inference.Prefix = prefix
	}
}

// BaseDir returns the root temp directory backing the generated config.
func BaseDir(cfg *config.Config) string {
	return filepath.Dir(cfg.Paths.LogDir)
}
