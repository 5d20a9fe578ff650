// Package modelcache answers whether the configured model is already present
// on the inference server and whether the disk can absorb a pull when it is
// not. Runs are gated on these answers before any load attempt.
package modelcache

import (
	"context"
	"log/slog"
	"path/filepath"
	"strings"
	"syscall"

	"glimpse/internal/logging"
	"glimpse/internal/services/ollama"
)

// Fallback pull-size estimates by quantization tier, used when the server
// does not report the model. Calibrated to the llava 7B family.
const (
	estimate4Bit = 5 << 30
	estimate8Bit = 8 << 30
	estimateFull = 13 << 30
)

// TagLister is the slice of the Ollama client the service needs.
type TagLister interface {
	Tags(ctx context.Context) ([]ollama.TagInfo, error)
}

// statfsFunc allows tests to stub filesystem stats.
type statfsFunc func(path string) (total uint64, free uint64, err error)

// Service checks model presence and disk headroom. A nil Service is valid
// and reports everything as fine; remote engines have no local pull to gate.
type Service struct {
	tags   TagLister
	logger *slog.Logger
	statfs statfsFunc
}

// GateReport summarizes the pre-run model check.
type GateReport struct {
	Model     string
	Cached    bool
	Estimated int64
	FreeDisk  uint64
	Allowed   bool
}

func NewService(tags TagLister, logger *slog.Logger) *Service {
	if tags == nil {
		return nil
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Service{
		tags:   tags,
		logger: logging.NewComponentLogger(logger, "modelcache"),
		statfs: realStatfs,
	}
}

// IsCached reports whether the server already holds the model.
func (s *Service) IsCached(ctx context.Context, model string) bool {
	if s == nil {
		return true
	}
	tags, err := s.tags.Tags(ctx)
	if err != nil {
		s.logger.Warn("could not list server models",
			logging.String("model", model),
			logging.Error(err))
		return false
	}
	for _, tag := range tags {
		if matchesTag(model, tag.Name) {
			return true
		}
	}
	return false
}

// EstimatedSize reports the model's size in bytes: the server-reported size
// when the model is present, otherwise a quantization-tier estimate of the
// pull.
func (s *Service) EstimatedSize(ctx context.Context, model string) int64 {
	if s == nil {
		return 0
	}
	tags, err := s.tags.Tags(ctx)
	if err == nil {
		for _, tag := range tags {
			if matchesTag(model, tag.Name) && tag.Size > 0 {
				return tag.Size
			}
		}
	}
	return estimateSize(model)
}

// AvailableDiskSpace reports free and total bytes for the filesystem holding
// path. Missing paths fall back to the nearest existing parent so callers
// can ask about directories that are created later.
func (s *Service) AvailableDiskSpace(path string) (free, total uint64, err error) {
	if s == nil {
		return 0, 0, nil
	}
	probe := path
	for {
		total, free, err = s.statfs(probe)
		if err == nil {
			return free, total, nil
		}
		parent := filepath.Dir(probe)
		if parent == probe {
			return 0, 0, err
		}
		probe = parent
	}
}

// Gate decides whether a run may start. A cached model always passes; an
// absent one passes only when the disk under path has room for the
// estimated pull. An unreadable filesystem does not block the run.
func (s *Service) Gate(ctx context.Context, model, path string) GateReport {
	rep := GateReport{Model: model, Allowed: true}
	if s == nil {
		rep.Cached = true
		return rep
	}

	rep.Cached = s.IsCached(ctx, model)
	if rep.Cached {
		return rep
	}

	rep.Estimated = s.EstimatedSize(ctx, model)
	free, _, err := s.AvailableDiskSpace(path)
	if err != nil {
		s.logger.Warn("could not determine free disk space",
			logging.String("path", path),
			logging.Error(err))
		return rep
	}
	rep.FreeDisk = free
	rep.Allowed = free >= uint64(rep.Estimated)

	if !rep.Allowed {
		s.logger.Warn("model pull would not fit on disk",
			logging.String("model", model),
			logging.Int64("estimated_bytes", rep.Estimated),
			logging.Int64("free_bytes", int64(free)))
	}
	return rep
}

// matchesTag compares a configured model name against a server tag. A bare
// name without a tag matches its :latest variant.
func matchesTag(model, tag string) bool {
	if model == tag {
		return true
	}
	return !strings.Contains(model, ":") && tag == model+":latest"
}

func estimateSize(model string) int64 {
	tag := strings.ToLower(model)
	switch {
	case strings.Contains(tag, "q4"):
		return estimate4Bit
	case strings.Contains(tag, "q8"):
		return estimate8Bit
	default:
		return estimateFull
	}
}

func realStatfs(path string) (uint64, uint64, error) {
	var stat syscall.Statfs_t
	if err := syscall.Statfs(path, &stat); err != nil {
		return 0, 0, err
	}
	total := stat.Blocks * uint64(stat.Bsize)
	free := stat.Bavail * uint64(stat.Bsize)
	return total, free, nil
}
