package batch_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"glimpse/internal/batch"
	"glimpse/internal/config"
	"glimpse/internal/engine"
	"glimpse/internal/history"
	"glimpse/internal/prompts"
	"glimpse/internal/results"
	"glimpse/internal/services"
	"glimpse/internal/testsupport"
)

func newRunner(t *testing.T, cfg *config.Config, eng *testsupport.FakeEngine) (*batch.Runner, *history.Store) {
	t.Helper()

	cfg.Model.Device = config.DeviceCPU
	cfg.Model.Quantization = config.QuantizationNone
	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("ensure directories: %v", err)
	}
	store := testsupport.MustOpenStore(t, cfg)
	return batch.NewWithEngine(cfg, eng, nil, store, nil, nil), store
}

func writePhotos(t *testing.T, dir string, names ...string) {
	t.Helper()
	for _, name := range names {
		testsupport.WritePNG(t, filepath.Join(dir, name), 64, 64)
	}
}

func findRunDir(t *testing.T, root string) string {
	t.Helper()
	entries, err := os.ReadDir(root)
	if err != nil {
		t.Fatalf("read %s: %v", root, err)
	}
	for _, entry := range entries {
		if entry.IsDir() && strings.HasPrefix(entry.Name(), "captions_") {
			return filepath.Join(root, entry.Name())
		}
	}
	t.Fatalf("no run directory under %s", root)
	return ""
}

func TestRunCaptionsDirectory(t *testing.T) {
	cfg := testsupport.NewConfig(t,
		testsupport.WithExportFormats("txt_individual", "csv", "json", "txt_batch"))
	photos := filepath.Join(testsupport.BaseDir(cfg), "vacation-photos")
	writePhotos(t, photos, "a.png", "b.png", "c.png")

	eng := &testsupport.FakeEngine{Caption: "a sunny beach"}
	runner, store := newRunner(t, cfg, eng)

	var progress []string
	var captioned []results.CaptionRecord
	rep, err := runner.Run(context.Background(), batch.Request{
		Directory: photos,
		OnProgress: func(index, total int, filename string) {
			progress = append(progress, filename)
			if total != 3 {
				t.Errorf("total = %d, want 3", total)
			}
		},
		OnCaption: func(rec results.CaptionRecord) { captioned = append(captioned, rec) },
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if !rep.Success {
		t.Fatal("run should succeed")
	}
	if rep.Summary.Processed != 3 || rep.Summary.Errors != 0 {
		t.Fatalf("summary = %d processed, %d errors", rep.Summary.Processed, rep.Summary.Errors)
	}
	if rep.Label != "Vacation Photos" {
		t.Fatalf("label = %q", rep.Label)
	}
	if rep.Profile.Device != config.DeviceCPU || rep.Profile.Quantization != config.QuantizationNone {
		t.Fatalf("profile = %s", rep.Profile)
	}
	if eng.GenerateCalls() != 3 {
		t.Fatalf("generate calls = %d", eng.GenerateCalls())
	}
	if eng.UnloadCalls() != 1 {
		t.Fatalf("unload calls = %d", eng.UnloadCalls())
	}
	if len(progress) != 3 || progress[0] != "a.png" {
		t.Fatalf("progress = %v", progress)
	}
	if len(captioned) != 3 || captioned[0].Caption != "a sunny beach" {
		t.Fatalf("captioned = %v", captioned)
	}

	runDir := findRunDir(t, photos)
	if rep.OutputDir != runDir {
		t.Fatalf("output dir = %q, want %q", rep.OutputDir, runDir)
	}
	for _, name := range []string{
		"vacation-photos_captions.csv",
		"vacation-photos_captions.json",
		"vacation-photos_captions.txt",
		"a.txt",
	} {
		if _, err := os.Stat(filepath.Join(runDir, name)); err != nil {
			t.Errorf("missing export %s: %v", name, err)
		}
	}
	for _, format := range []string{"txt_individual", "csv", "json", "txt_batch"} {
		if !rep.Exports[format] {
			t.Errorf("export %s reported failed", format)
		}
	}

	run, err := store.GetRun(context.Background(), rep.RunID)
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	if run == nil || run.Processed != 3 || !run.Success || run.Cancelled {
		t.Fatalf("stored run = %+v", run)
	}
	captions, err := store.Captions(context.Background(), rep.RunID)
	if err != nil {
		t.Fatalf("Captions: %v", err)
	}
	if len(captions) != 3 || captions[0].Caption != "a sunny beach" {
		t.Fatalf("stored captions = %v", captions)
	}
}

func TestRunRecordsInvalidImages(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	photos := filepath.Join(testsupport.BaseDir(cfg), "mixed")
	writePhotos(t, photos, "a.png", "b.png", "c.png")
	testsupport.WriteCorruptImage(t, filepath.Join(photos, "broken.png"))

	eng := &testsupport.FakeEngine{}
	runner, _ := newRunner(t, cfg, eng)

	var failures []results.ErrorRecord
	rep, err := runner.Run(context.Background(), batch.Request{
		Directory: photos,
		OnFailure: func(rec results.ErrorRecord) { failures = append(failures, rec) },
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if rep.Summary.Processed != 3 || rep.Summary.Errors != 1 {
		t.Fatalf("summary = %d processed, %d errors", rep.Summary.Processed, rep.Summary.Errors)
	}
	if !rep.Success {
		t.Fatal("partial failures should not sink the run")
	}
	if len(failures) != 1 || failures[0].Stage != services.StageValidate {
		t.Fatalf("failures = %v", failures)
	}
	if filepath.Base(failures[0].Path) != "broken.png" {
		t.Fatalf("failure path = %q", failures[0].Path)
	}
	if eng.GenerateCalls() != 3 {
		t.Fatalf("generate calls = %d", eng.GenerateCalls())
	}
}

func TestRunRecordsInferenceErrors(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	photos := filepath.Join(testsupport.BaseDir(cfg), "photos")
	writePhotos(t, photos, "a.png", "b.png", "c.png")

	eng := &testsupport.FakeEngine{
		CaptionFunc: func(call int, prompt string) (string, error) {
			if call == 2 {
				return "", errors.New("model choked")
			}
			return "fine", nil
		},
	}
	runner, _ := newRunner(t, cfg, eng)

	rep, err := runner.Run(context.Background(), batch.Request{Directory: photos})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if rep.Summary.Processed != 2 || rep.Summary.Errors != 1 {
		t.Fatalf("summary = %d processed, %d errors", rep.Summary.Processed, rep.Summary.Errors)
	}
	if !rep.Success {
		t.Fatal("a single failed image should not sink the run")
	}
	failure := rep.Summary.Failures[0]
	if failure.Stage != services.StageInference || filepath.Base(failure.Path) != "b.png" {
		t.Fatalf("failure = %+v", failure)
	}
	if !strings.Contains(failure.Message, "model choked") {
		t.Fatalf("failure message = %q", failure.Message)
	}
}

func TestRunCancelStopsBeforeNextImage(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	photos := filepath.Join(testsupport.BaseDir(cfg), "photos")
	names := []string{"a.png", "b.png", "c.png", "d.png", "e.png", "f.png", "g.png", "h.png", "i.png", "j.png"}
	writePhotos(t, photos, names...)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	eng := &testsupport.FakeEngine{OnGenerate: func(call int) {
		if call == 5 {
			cancel()
		}
	}}
	runner, store := newRunner(t, cfg, eng)

	rep, err := runner.Run(ctx, batch.Request{Directory: photos})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if !rep.Summary.Cancelled {
		t.Fatal("summary should be marked cancelled")
	}
	if rep.Success {
		t.Fatal("cancelled run should not report success")
	}
	if rep.Summary.Processed != 5 {
		t.Fatalf("processed = %d, want 5", rep.Summary.Processed)
	}
	if eng.GenerateCalls() != 5 {
		t.Fatalf("generate calls = %d, want 5", eng.GenerateCalls())
	}
	if eng.UnloadCalls() != 1 {
		t.Fatalf("unload calls = %d, want 1", eng.UnloadCalls())
	}

	run, err := store.GetRun(context.Background(), rep.RunID)
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	if run == nil || !run.Cancelled || run.Processed != 5 {
		t.Fatalf("stored run = %+v", run)
	}
}

func TestRunDegradesProfileOnMemoryExhaustion(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	photos := filepath.Join(testsupport.BaseDir(cfg), "photos")
	writePhotos(t, photos, "a.png", "b.png")

	eng := &testsupport.FakeEngine{LoadErrs: map[string]error{
		"gpu/8bit": errors.New("CUDA out of memory"),
		"gpu/4bit": errors.New("insufficient VRAM for model"),
	}}
	runner, _ := newRunner(t, cfg, eng)
	cfg.Model.Device = config.DeviceGPU
	cfg.Model.Quantization = config.Quantization8Bit

	rep, err := runner.Run(context.Background(), batch.Request{Directory: photos})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	loads := eng.Loads()
	if len(loads) != 3 {
		t.Fatalf("load attempts = %d, want 3", len(loads))
	}
	want := []engine.Profile{
		{Device: config.DeviceGPU, Quantization: config.Quantization8Bit},
		{Device: config.DeviceGPU, Quantization: config.Quantization4Bit},
		{Device: config.DeviceCPU, Quantization: config.QuantizationNone},
	}
	for i, profile := range want {
		if loads[i] != profile {
			t.Fatalf("load %d = %s, want %s", i, loads[i], profile)
		}
	}
	if rep.Profile != want[2] {
		t.Fatalf("final profile = %s", rep.Profile)
	}
	if !rep.Success || rep.Summary.Processed != 2 {
		t.Fatalf("summary = %+v", rep.Summary)
	}
}

func TestRunLoadFailureIsFatal(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	photos := filepath.Join(testsupport.BaseDir(cfg), "photos")
	writePhotos(t, photos, "a.png", "b.png")

	eng := &testsupport.FakeEngine{LoadErrs: map[string]error{
		"cpu/none": errors.New("model file corrupt"),
	}}
	runner, store := newRunner(t, cfg, eng)

	rep, err := runner.Run(context.Background(), batch.Request{Directory: photos})
	if err == nil {
		t.Fatal("expected load error")
	}
	if !errors.Is(err, services.ErrModelLoad) {
		t.Fatalf("error = %v", err)
	}

	if rep == nil {
		t.Fatal("report should accompany a failed load")
	}
	if rep.Success || rep.Summary.Processed != 0 || rep.Summary.Errors != 1 {
		t.Fatalf("report = %+v", rep)
	}
	if rep.Summary.Failures[0].Stage != services.StageLoad {
		t.Fatalf("failure stage = %q", rep.Summary.Failures[0].Stage)
	}
	if eng.GenerateCalls() != 0 {
		t.Fatalf("generate calls = %d", eng.GenerateCalls())
	}
	if eng.UnloadCalls() != 1 {
		t.Fatalf("unload calls = %d, want 1", eng.UnloadCalls())
	}

	run, getErr := store.GetRun(context.Background(), rep.RunID)
	if getErr != nil {
		t.Fatalf("GetRun: %v", getErr)
	}
	if run == nil || run.Success {
		t.Fatalf("stored run = %+v", run)
	}
}

func TestRunAppliesCaptionPrefixVerbatim(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithPrefix("style_token, "))
	photos := filepath.Join(testsupport.BaseDir(cfg), "photos")
	writePhotos(t, photos, "a.png")

	var seenPrompt string
	eng := &testsupport.FakeEngine{CaptionFunc: func(call int, prompt string) (string, error) {
		seenPrompt = prompt
		return "a red barn", nil
	}}
	runner, _ := newRunner(t, cfg, eng)

	rep, err := runner.Run(context.Background(), batch.Request{Directory: photos})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if got := rep.Summary.Captions[0].Caption; got != "style_token, a red barn" {
		t.Fatalf("caption = %q", got)
	}
	if seenPrompt != prompts.Default() {
		t.Fatalf("prompt = %q, want default preset", seenPrompt)
	}
}

func TestRunUsesConfiguredPrompt(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithPrompt("List every object visible."))
	photos := filepath.Join(testsupport.BaseDir(cfg), "photos")
	writePhotos(t, photos, "a.png")

	var seenPrompt string
	eng := &testsupport.FakeEngine{CaptionFunc: func(call int, prompt string) (string, error) {
		seenPrompt = prompt
		return "a cluttered desk", nil
	}}
	runner, _ := newRunner(t, cfg, eng)

	if _, err := runner.Run(context.Background(), batch.Request{Directory: photos}); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if seenPrompt != "List every object visible." {
		t.Fatalf("prompt = %q", seenPrompt)
	}
}

func TestRunRejectsDirectoryWithoutValidImages(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	photos := filepath.Join(testsupport.BaseDir(cfg), "photos")
	testsupport.WriteCorruptImage(t, filepath.Join(photos, "broken.png"))

	eng := &testsupport.FakeEngine{}
	runner, _ := newRunner(t, cfg, eng)

	var failures []results.ErrorRecord
	rep, err := runner.Run(context.Background(), batch.Request{
		Directory: photos,
		OnFailure: func(rec results.ErrorRecord) { failures = append(failures, rec) },
	})
	if err == nil {
		t.Fatal("expected validation error")
	}
	if !errors.Is(err, services.ErrValidation) {
		t.Fatalf("error = %v", err)
	}
	if rep != nil {
		t.Fatalf("report = %+v, want nil", rep)
	}
	if len(failures) != 1 {
		t.Fatalf("failures = %v", failures)
	}
	if eng.UnloadCalls() != 0 || eng.GenerateCalls() != 0 {
		t.Fatal("engine should stay untouched")
	}

	entries, readErr := os.ReadDir(photos)
	if readErr != nil {
		t.Fatalf("read photos: %v", readErr)
	}
	for _, entry := range entries {
		if entry.IsDir() {
			t.Fatalf("unexpected directory %s", entry.Name())
		}
	}
}

func TestRunClearsEngineCacheAtInterval(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	cfg.Processing.ClearCacheInterval = 2
	photos := filepath.Join(testsupport.BaseDir(cfg), "photos")
	writePhotos(t, photos, "a.png", "b.png", "c.png", "d.png", "e.png")

	eng := &testsupport.FakeEngine{}
	runner, _ := newRunner(t, cfg, eng)

	if _, err := runner.Run(context.Background(), batch.Request{Directory: photos}); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if eng.ClearCalls() != 2 {
		t.Fatalf("clear calls = %d, want 2", eng.ClearCalls())
	}
}

func TestRunRoutesExportsToOutputDirectory(t *testing.T) {
	out := t.TempDir()
	cfg := testsupport.NewConfig(t,
		testsupport.WithExportFormats("csv"),
		testsupport.WithOutputDirectory(out))
	photos := filepath.Join(testsupport.BaseDir(cfg), "photos")
	writePhotos(t, photos, "a.png")

	runner, _ := newRunner(t, cfg, &testsupport.FakeEngine{})

	rep, err := runner.Run(context.Background(), batch.Request{Directory: photos})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	runDir := findRunDir(t, out)
	if rep.OutputDir != runDir {
		t.Fatalf("output dir = %q, want %q", rep.OutputDir, runDir)
	}
	if _, err := os.Stat(filepath.Join(runDir, "photos_captions.csv")); err != nil {
		t.Fatalf("missing csv export: %v", err)
	}

	entries, err := os.ReadDir(photos)
	if err != nil {
		t.Fatalf("read photos: %v", err)
	}
	for _, entry := range entries {
		if entry.IsDir() {
			t.Fatalf("run directory leaked into scan root: %s", entry.Name())
		}
	}
}
