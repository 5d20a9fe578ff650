package batch

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"
	"unicode"

	"github.com/google/uuid"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"glimpse/internal/engine"
	"glimpse/internal/history"
	"glimpse/internal/logging"
	"glimpse/internal/prompts"
	"glimpse/internal/results"
	"glimpse/internal/services"
	"glimpse/internal/validate"
)

const (
	runDirPrefix = "captions_"
	runDirStamp  = "20060102_150405"

	unloadTimeout      = 30 * time.Second
	historySaveTimeout = 10 * time.Second
)

// Run executes one captioning run. Per-image failures are recorded and the
// run continues; only refusals to start (gate, scan, empty directory, model
// load) return an error. The returned Report is non-nil whenever the run
// directory was created, so a failed load still carries its partial summary.
func (r *Runner) Run(ctx context.Context, req Request) (*Report, error) {
	startedAt := time.Now()
	runID := uuid.NewString()
	ctx = services.WithRunID(ctx, runID)
	logger := logging.WithContext(ctx, r.logger)

	dir, err := filepath.Abs(req.Directory)
	if err != nil {
		return nil, services.Wrap(services.ErrConfiguration, "", "resolve directory", "cannot resolve path", err)
	}
	label := deriveLabel(dir)

	if !req.Force {
		gate := r.models.Gate(ctx, r.cfg.Model.Name, r.cfg.Paths.DataDir)
		if !gate.Allowed {
			return nil, services.Wrap(services.ErrModelLoad, services.StageLoad, "gate model pull",
				fmt.Sprintf("model %s is not cached; pulling needs ~%s but only %s is free",
					gate.Model, formatGiB(gate.Estimated), formatGiB(int64(gate.FreeDisk))), nil)
		}
		if !gate.Cached {
			logger.Warn("model not cached; the first load will pull it",
				logging.String("model", gate.Model),
				logging.String("estimated_size", formatGiB(gate.Estimated)),
				logging.Alert("model_pull"))
		}
	}

	files, err := r.scanner.Scan(dir, r.cfg.Processing.Recursive)
	if err != nil {
		return nil, err
	}

	collector := results.NewCollector()
	valid := make([]string, 0, len(files))
	for _, path := range files {
		if err := validate.Image(path); err != nil {
			r.recordFailure(collector, req, results.ErrorRecord{
				Path:    path,
				Message: err.Error(),
				Stage:   services.StageValidate,
			})
			logger.Warn("image failed validation",
				logging.String("image", filepath.Base(path)),
				logging.Error(err))
			continue
		}
		valid = append(valid, path)
	}
	if len(valid) == 0 {
		return nil, services.Wrap(services.ErrValidation, services.StageValidate, "validate images", "no valid images found", nil)
	}

	// The run directory exists before the model loads because it also
	// receives the resized-image cache.
	outRoot := dir
	if r.cfg.Export.OutputDirectory != "" {
		outRoot = r.cfg.Export.OutputDirectory
	}
	runDir := filepath.Join(outRoot, runDirPrefix+startedAt.Format(runDirStamp))
	if err := os.MkdirAll(runDir, 0o755); err != nil {
		return nil, services.Wrap(services.ErrConfiguration, "", "create run directory", "cannot create output directory", err)
	}

	rep := &Report{
		RunID:     runID,
		Label:     label,
		Directory: dir,
		OutputDir: runDir,
		StartedAt: startedAt,
	}

	logger.Info("captioning run started",
		logging.String("directory", dir),
		logging.String("label", label),
		logging.Int("images", len(valid)),
		logging.Int("invalid", len(files)-len(valid)))
	if err := r.notifier.NotifyRunStarted(ctx, label, len(valid)); err != nil {
		logger.Debug("run start notification failed", logging.Error(err))
	}

	// The model is released on every exit path, including cancellation and
	// a failed load. The detached context lets the release finish after the
	// run context is cancelled.
	defer func() {
		unloadCtx, cancel := context.WithTimeout(context.Background(), unloadTimeout)
		defer cancel()
		if err := r.resources.Unload(unloadCtx); err != nil {
			logger.Warn("model unload failed", logging.Error(err))
		}
	}()

	prompt := strings.TrimSpace(r.cfg.Inference.Prompt)
	if prompt == "" {
		prompt = prompts.Default()
	}
	params := engine.Params{
		Temperature:       r.cfg.Inference.Temperature,
		TopP:              r.cfg.Inference.TopP,
		TopK:              r.cfg.Inference.TopK,
		RepetitionPenalty: r.cfg.Inference.RepetitionPenalty,
		MaxNewTokens:      r.cfg.Inference.MaxNewTokens,
	}

	if err := r.resources.EnsureLoaded(ctx); err != nil {
		logging.ErrorWithContext(logger, "model load failed; run aborted", "model_load_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check the engine server and free memory"))
		r.recordFailure(collector, req, results.ErrorRecord{
			Message: err.Error(),
			Stage:   services.StageLoad,
		})
		rep.Profile = r.resources.Profile()
		rep.Summary = collector.Summarize(false)
		rep.Duration = time.Since(startedAt)
		r.persist(logger, rep, prompt)
		if nerr := r.notifier.NotifyRunFailed(ctx, err, label); nerr != nil {
			logger.Debug("run failure notification failed", logging.Error(nerr))
		}
		return rep, err
	}

	total := len(valid)
	interval := r.cfg.Processing.ClearCacheInterval
	sampler := logging.NewProgressSampler(10)
	cancelled := false

	for i, path := range valid {
		if ctx.Err() != nil {
			cancelled = true
			break
		}
		name := filepath.Base(path)
		if req.OnProgress != nil {
			req.OnProgress(i+1, total, name)
		}

		imgCtx := services.WithImage(services.WithStage(ctx, services.StageInference), name)
		rec, err := r.captionOne(imgCtx, path, runDir, prompt, params)
		if err != nil {
			// Cancellation during an in-flight image ends the run without
			// charging that image as a failure.
			if ctx.Err() != nil {
				cancelled = true
				break
			}
			r.recordFailure(collector, req, results.ErrorRecord{
				Path:    path,
				Message: err.Error(),
				Stage:   services.StageInference,
			})
			logging.WarnWithContext(logging.WithContext(imgCtx, r.logger),
				"image captioning failed; image skipped", "image_caption_failed",
				logging.Error(err),
				logging.String(logging.FieldImpact, "no caption exported for this image"))
		} else {
			collector.AddCaption(rec)
			if req.OnCaption != nil {
				req.OnCaption(rec)
			}
		}

		percent := float64(i+1) / float64(total) * 100
		if sampler.ShouldLog(percent, services.StageInference) {
			logger.Info("run progress",
				logging.Int("processed", i+1),
				logging.Int("total", total),
				logging.Int("percent", int(percent)))
		}

		// The cadence counts attempted images, failures included.
		if interval > 0 && (i+1)%interval == 0 {
			if err := r.resources.ClearCache(ctx); err != nil {
				logger.Debug("engine cache clear failed", logging.Error(err))
			}
		}
	}

	captions := collector.Captions()
	if len(captions) > 0 && len(r.cfg.Export.Formats) > 0 {
		base := filepath.Join(runDir, filepath.Base(dir))
		rep.Exports = r.exporter.ExportAll(captions, r.cfg.Export.Formats, base, map[string]any{
			"run_id":    runID,
			"directory": dir,
			"model":     r.cfg.Model.Name,
			"prompt":    prompt,
		})
	}

	summary := collector.Summarize(cancelled)
	rep.Profile = r.resources.Profile()
	rep.Summary = summary
	rep.Success = !cancelled && summary.Errors < total
	rep.Duration = time.Since(startedAt)

	r.persist(logger, rep, prompt)

	if !cancelled {
		if err := r.notifier.NotifyRunCompleted(ctx, label, summary.Processed, summary.Errors, rep.Duration); err != nil {
			logger.Debug("run completion notification failed", logging.Error(err))
		}
	}

	logger.Info("captioning run finished",
		logging.Int("processed", summary.Processed),
		logging.Int("errors", summary.Errors),
		logging.Bool("cancelled", cancelled),
		logging.Bool("success", rep.Success),
		logging.Duration("duration", rep.Duration),
		logging.Any("exports", rep.Exports))
	return rep, nil
}

// captionOne prepares a single image and generates its caption. The
// configured prefix is prepended verbatim; spacing is the operator's to
// control.
func (r *Runner) captionOne(ctx context.Context, path, runDir, prompt string, params engine.Params) (results.CaptionRecord, error) {
	prepared, err := r.prep.Prepare(path, runDir)
	if err != nil {
		return results.CaptionRecord{}, err
	}

	start := time.Now()
	caption, err := r.resources.Generate(ctx, prepared.Image, prompt, params)
	if err != nil {
		return results.CaptionRecord{}, err
	}

	return results.CaptionRecord{
		Path:        path,
		Filename:    filepath.Base(path),
		Caption:     r.cfg.Inference.Prefix + caption,
		GeneratedAt: time.Now(),
		Duration:    time.Since(start),
		FileSize:    prepared.FileSize,
		Dimensions:  prepared.Dimensions,
		Format:      prepared.Format,
		Success:     true,
	}, nil
}

func (r *Runner) recordFailure(collector *results.Collector, req Request, rec results.ErrorRecord) {
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now()
	}
	collector.AddError(rec)
	if req.OnFailure != nil {
		req.OnFailure(rec)
	}
}

// persist records the run in history. The write uses a detached context so a
// cancelled run is still recorded; a failed write degrades to a warning.
func (r *Runner) persist(logger *slog.Logger, rep *Report, prompt string) {
	if r.store == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), historySaveTimeout)
	defer cancel()

	captions := make([]history.Caption, 0, len(rep.Summary.Captions))
	for _, rec := range rep.Summary.Captions {
		captions = append(captions, history.Caption{
			RunID:       rep.RunID,
			Path:        rec.Path,
			Filename:    rec.Filename,
			Caption:     rec.Caption,
			GeneratedAt: rec.GeneratedAt,
			DurationMS:  rec.Duration.Milliseconds(),
			FileSize:    rec.FileSize,
			Dimensions:  rec.Dimensions,
			Format:      rec.Format,
			Success:     rec.Success,
		})
	}
	run := &history.Run{
		ID:           rep.RunID,
		Label:        rep.Label,
		Directory:    rep.Directory,
		Model:        r.cfg.Model.Name,
		Engine:       r.cfg.Model.Engine,
		Device:       rep.Profile.Device,
		Quantization: rep.Profile.Quantization,
		Prompt:       prompt,
		StartedAt:    rep.StartedAt,
		FinishedAt:   rep.StartedAt.Add(rep.Duration),
		Processed:    rep.Summary.Processed,
		Errors:       rep.Summary.Errors,
		SuccessRate:  rep.Summary.SuccessRate,
		Cancelled:    rep.Summary.Cancelled,
		Success:      rep.Success,
	}
	if err := r.store.SaveRun(ctx, run, captions); err != nil {
		logger.Warn("run history save failed", logging.Error(err))
	}
}

// deriveLabel builds a display label for a run from its directory name.
func deriveLabel(dir string) string {
	base := filepath.Base(dir)
	cleaned := strings.Builder{}
	prevSpace := false
	for _, r := range base {
		switch {
		case unicode.IsLetter(r) || unicode.IsNumber(r):
			cleaned.WriteRune(r)
			prevSpace = false
		case unicode.IsSpace(r) || r == '-' || r == '_' || r == '.':
			if !prevSpace {
				cleaned.WriteRune(' ')
				prevSpace = true
			}
		}
	}
	label := strings.TrimSpace(cleaned.String())
	if label == "" {
		return "Captioning Run"
	}
	return cases.Title(language.Und).String(label)
}

func formatGiB(bytes int64) string {
	return fmt.Sprintf("%.1f GiB", float64(bytes)/(1024*1024*1024))
}
