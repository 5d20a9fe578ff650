package testsupport

import (
	"context"
	"image"
	"sync"

	"glimpse/internal/engine"
)

// FakeEngine is a scripted engine.Engine for pipeline tests. The zero value
// loads on the first attempt and produces a fixed caption for every image.
type FakeEngine struct {
	// LoadErrs maps a profile string such as "gpu/8bit" to the error that
	// profile's Load attempt returns. Profiles without an entry load cleanly.
	LoadErrs map[string]error

	// Caption is returned by every Generate call when CaptionFunc is nil.
	// Empty means "a test caption".
	Caption string

	// CaptionFunc, when set, produces the caption for the nth Generate call
	// (1-based). An error fails only that call.
	CaptionFunc func(call int, prompt string) (string, error)

	// OnGenerate runs after each Generate call, successful or not. Tests use
	// it to cancel a context partway through a batch.
	OnGenerate func(call int)

	mu        sync.Mutex
	loads     []engine.Profile
	generates int
	unloads   int
	clears    int
}

func (e *FakeEngine) Load(ctx context.Context, profile engine.Profile) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.loads = append(e.loads, profile)
	if e.LoadErrs != nil {
		if err, ok := e.LoadErrs[profile.String()]; ok {
			return err
		}
	}
	return nil
}

func (e *FakeEngine) Generate(ctx context.Context, img image.Image, prompt string, params engine.Params) (string, error) {
	e.mu.Lock()
	e.generates++
	call := e.generates
	caption := e.Caption
	captionFunc := e.CaptionFunc
	hook := e.OnGenerate
	e.mu.Unlock()

	if err := ctx.Err(); err != nil {
		if hook != nil {
			hook(call)
		}
		return "", err
	}

	var err error
	if captionFunc != nil {
		caption, err = captionFunc(call, prompt)
	} else if caption == "" {
		caption = "a test caption"
	}
	if hook != nil {
		hook(call)
	}
	if err != nil {
		return "", err
	}
	return caption, nil
}

func (e *FakeEngine) Unload(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.unloads++
	return nil
}

func (e *FakeEngine) ClearCache(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.clears++
	return nil
}

// Loads returns the profiles passed to Load, in call order.
func (e *FakeEngine) Loads() []engine.Profile {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]engine.Profile, len(e.loads))
	copy(out, e.loads)
	return out
}

// GenerateCalls returns how many times Generate ran.
func (e *FakeEngine) GenerateCalls() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.generates
}

// UnloadCalls returns how many times Unload ran.
func (e *FakeEngine) UnloadCalls() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.unloads
}

// ClearCalls returns how many times ClearCache ran.
func (e *FakeEngine) ClearCalls() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.clears
}
