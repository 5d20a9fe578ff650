// Package engine defines the boundary between the captioning pipeline and
// the model backends that serve it. Implementations live under
// internal/services.
package engine

import (
	"context"
	"errors"
	"image"
	"strings"
)

// Profile is a resolved device and quantization pairing for a model load.
type Profile struct {
	Device       string
	Quantization string
}

func (p Profile) String() string {
	return p.Device + "/" + p.Quantization
}

// Params carries the sampling parameters for a single generation call.
type Params struct {
	Temperature       float64
	TopP              float64
	TopK              int
	RepetitionPenalty float64
	MaxNewTokens      int
}

// Engine is implemented by model backends. Load must be called before
// Generate; Unload releases whatever Load acquired and must be safe to call
// more than once.
type Engine interface {
	Load(ctx context.Context, profile Profile) error
	Generate(ctx context.Context, img image.Image, prompt string, params Params) (string, error)
	Unload(ctx context.Context) error
	ClearCache(ctx context.Context) error
}

// ErrOutOfMemory tags load failures caused by memory exhaustion. Backends
// wrap their native errors with this sentinel so the resource manager can
// drive its degradation cascade.
var ErrOutOfMemory = errors.New("out of memory")

// oomMarkers are substrings seen in backend error text when a model does not
// fit in memory. Ollama reports several variants depending on runner and
// hardware.
var oomMarkers = []string{
	"out of memory",
	"insufficient memory",
	"insufficient vram",
	"not enough memory",
	"requires more system memory",
	"requires more vram",
	"cuda_error_out_of_memory",
}

// IsOOM reports whether err represents a memory-exhaustion failure, either
// by sentinel or by backend error text.
func IsOOM(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrOutOfMemory) {
		return true
	}
	text := strings.ToLower(err.Error())
	for _, marker := range oomMarkers {
		if strings.Contains(text, marker) {
			return true
		}
	}
	return false
}
