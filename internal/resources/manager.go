// Package resources resolves the device and quantization profile for a model
// load and owns the load lifecycle, including the bounded degradation
// cascade that reacts to memory exhaustion.
package resources

import (
	"context"
	"errors"
	"image"
	"log/slog"
	"sync"

	"glimpse/internal/config"
	"glimpse/internal/engine"
	"glimpse/internal/logging"
	"glimpse/internal/services"
)

// State identifies where the manager sits in the load lifecycle.
type State string

const (
	StateInitial State = "initial"
	StateLoading State = "loading"
	StateLoaded  State = "loaded"
	StateFailed  State = "failed"
)

// The cascade has at most two fallback hops, so a load never takes more than
// three attempts.
const maxLoadAttempts = 3

// Auto-quantization thresholds in GiB of VRAM.
const (
	vram8BitThreshold = 8
	vramNoneThreshold = 16
)

// Manager owns the engine load lifecycle for a batch run.
type Manager struct {
	cfg    *config.Config
	eng    engine.Engine
	probe  Probe
	logger *slog.Logger

	mu       sync.Mutex
	state    State
	profile  engine.Profile
	attempts int
}

// NewManager constructs a Manager. A nil probe uses the hardware probe; a
// nil logger falls back to a no-op logger.
func NewManager(cfg *config.Config, eng engine.Engine, probe Probe, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = logging.NewNop()
	}
	if probe == nil {
		probe = NewProbe(logger)
	}
	return &Manager{
		cfg:    cfg,
		eng:    eng,
		probe:  probe,
		logger: logging.NewComponentLogger(logger, "resources"),
		state:  StateInitial,
	}
}

// Resolve computes the load profile from configuration and detected
// hardware. Device auto picks the GPU when one is present; quantization auto
// follows available VRAM (under 8 GiB 4-bit, under 16 GiB 8-bit, otherwise
// none). CPU always runs unquantized.
func (m *Manager) Resolve(ctx context.Context) engine.Profile {
	device := m.cfg.Model.Device
	quantization := m.cfg.Model.Quantization

	var gpu GPUInfo
	var hasGPU bool
	if device == config.DeviceAuto || (device == config.DeviceGPU && quantization == config.QuantizationAuto) {
		gpu, hasGPU = m.probe.GPU(ctx)
	}

	if device == config.DeviceAuto {
		if hasGPU {
			device = config.DeviceGPU
			m.logger.Info("auto-selected gpu", logging.String("name", gpu.Name))
		} else {
			device = config.DeviceCPU
			m.logger.Info("no gpu available, using cpu")
		}
	}

	if device == config.DeviceCPU {
		if quantization != config.QuantizationNone {
			m.logger.Info("cpu mode: quantization disabled")
		}
		quantization = config.QuantizationNone
	} else if quantization == config.QuantizationAuto {
		switch {
		case !hasGPU:
			quantization = config.Quantization4Bit
			m.logger.Warn("could not determine vram, using 4-bit quantization")
		case gpu.VRAMGiB() < vram8BitThreshold:
			quantization = config.Quantization4Bit
			m.logger.Info("auto-selected 4-bit quantization",
				logging.Float64("vram_gib", gpu.VRAMGiB()))
		case gpu.VRAMGiB() < vramNoneThreshold:
			quantization = config.Quantization8Bit
			m.logger.Info("auto-selected 8-bit quantization",
				logging.Float64("vram_gib", gpu.VRAMGiB()))
		default:
			quantization = config.QuantizationNone
			m.logger.Info("no quantization needed",
				logging.Float64("vram_gib", gpu.VRAMGiB()))
		}
	}

	if total, err := m.probe.SystemMemory(ctx); err == nil {
		m.logger.Debug("system memory",
			logging.Float64("total_gib", float64(total)/(1024*1024*1024)))
	}

	return engine.Profile{Device: device, Quantization: quantization}
}

// EnsureLoaded resolves a profile and loads the engine, degrading the
// profile on memory exhaustion. It returns nil immediately when a model is
// already loaded. Failures leave the manager in StateFailed and carry the
// services.ErrModelLoad marker.
func (m *Manager) EnsureLoaded(ctx context.Context) error {
	m.mu.Lock()
	if m.state == StateLoaded {
		m.mu.Unlock()
		return nil
	}
	m.attempts = 0
	m.mu.Unlock()

	profile := m.Resolve(ctx)

	for attempt := 1; attempt <= maxLoadAttempts; attempt++ {
		m.setState(StateLoading, profile, attempt)
		m.logger.Info("loading model",
			logging.String("model", m.cfg.Model.Name),
			logging.String("device", profile.Device),
			logging.String("quantization", profile.Quantization),
			logging.Int("attempt", attempt))

		err := m.eng.Load(ctx, profile)
		if err == nil {
			m.setState(StateLoaded, profile, attempt)
			m.logger.Info("model loaded",
				logging.String("device", profile.Device),
				logging.String("quantization", profile.Quantization))
			return nil
		}

		if !engine.IsOOM(err) {
			m.setState(StateFailed, profile, attempt)
			return services.Wrap(services.ErrModelLoad, services.StageLoad, "load model", "engine load failed", err)
		}

		next, ok := nextProfile(profile)
		if !ok {
			m.setState(StateFailed, profile, attempt)
			return services.Wrap(services.ErrModelLoad, services.StageLoad, "load model",
				"memory exhausted with no fallback remaining", err)
		}
		m.logger.Warn("memory exhausted, degrading profile",
			logging.String("from", profile.String()),
			logging.String("to", next.String()))
		profile = next
	}

	m.setState(StateFailed, profile, maxLoadAttempts)
	return services.Wrap(services.ErrModelLoad, services.StageLoad, "load model", "load attempts exhausted", nil)
}

// nextProfile is the degradation cascade transition function: 8-bit falls to
// 4-bit, 4-bit falls to CPU without quantization, and every other profile
// has no fallback.
func nextProfile(p engine.Profile) (engine.Profile, bool) {
	if p.Device != config.DeviceGPU {
		return engine.Profile{}, false
	}
	switch p.Quantization {
	case config.Quantization8Bit:
		return engine.Profile{Device: config.DeviceGPU, Quantization: config.Quantization4Bit}, true
	case config.Quantization4Bit:
		return engine.Profile{Device: config.DeviceCPU, Quantization: config.QuantizationNone}, true
	default:
		return engine.Profile{}, false
	}
}

// Generate proxies a caption request to the engine. The model must be
// loaded.
func (m *Manager) Generate(ctx context.Context, img image.Image, prompt string, params engine.Params) (string, error) {
	if m.State() != StateLoaded {
		return "", errors.New("resources: model not loaded")
	}
	return m.eng.Generate(ctx, img, prompt, params)
}

// ClearCache proxies to the engine when a model is loaded and is a no-op
// otherwise.
func (m *Manager) ClearCache(ctx context.Context) error {
	if m.State() != StateLoaded {
		return nil
	}
	return m.eng.ClearCache(ctx)
}

// Unload releases the engine. It is safe to call in any state and after a
// failed load, and calling it twice performs the release once.
func (m *Manager) Unload(ctx context.Context) error {
	m.mu.Lock()
	state := m.state
	m.mu.Unlock()
	if state == StateInitial {
		return nil
	}

	err := m.eng.Unload(ctx)

	m.mu.Lock()
	m.state = StateInitial
	m.profile = engine.Profile{}
	m.mu.Unlock()

	if err != nil {
		return services.Wrap(services.ErrModelLoad, services.StageLoad, "unload model", "engine unload failed", err)
	}
	m.logger.Info("model unloaded")
	return nil
}

// State returns the current lifecycle state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Profile returns the profile of the most recent load attempt. It is only
// meaningful after EnsureLoaded has been called.
func (m *Manager) Profile() engine.Profile {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.profile
}

// Attempts returns how many load attempts the last EnsureLoaded performed.
func (m *Manager) Attempts() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.attempts
}

func (m *Manager) setState(state State, profile engine.Profile, attempt int) {
	m.mu.Lock()
	m.state = state
	m.profile = profile
	m.attempts = attempt
	m.mu.Unlock()
}
