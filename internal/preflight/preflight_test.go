package preflight

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"glimpse/internal/config"
	"glimpse/internal/resources"
	"glimpse/internal/testsupport"
)

type fakeProbe struct {
	gpu    resources.GPUInfo
	hasGPU bool
	memory uint64
	memErr error
}

func (p *fakeProbe) GPU(ctx context.Context) (resources.GPUInfo, bool) {
	return p.gpu, p.hasGPU
}

func (p *fakeProbe) SystemMemory(ctx context.Context) (uint64, error) {
	return p.memory, p.memErr
}

func newOllamaServer(t *testing.T, tagsBody string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/":
			w.WriteHeader(http.StatusOK)
		case "/api/tags":
			w.Header().Set("Content-Type", "application/json")
			if _, err := w.Write([]byte(tagsBody)); err != nil {
				t.Errorf("write tags response: %v", err)
			}
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestCheckDirectoryAccess_OK(t *testing.T) {
	dir := t.TempDir()
	result := CheckDirectoryAccess("test", dir)
	if !result.Passed {
		t.Fatalf("expected pass for temp dir, got: %s", result.Detail)
	}
}

func TestCheckDirectoryAccess_NotExist(t *testing.T) {
	result := CheckDirectoryAccess("test", filepath.Join(t.TempDir(), "nope"))
	if result.Passed {
		t.Fatal("expected failure for missing dir")
	}
	if result.Detail == "" {
		t.Fatal("expected non-empty detail")
	}
}

func TestCheckDirectoryAccess_NotDir(t *testing.T) {
	f := filepath.Join(t.TempDir(), "file.txt")
	if err := os.WriteFile(f, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	result := CheckDirectoryAccess("test", f)
	if result.Passed {
		t.Fatal("expected failure for file path")
	}
}

func TestCheckEngine_OllamaOK(t *testing.T) {
	srv := newOllamaServer(t, `{"models":[]}`)

	cfg := config.Default()
	cfg.Ollama.BaseURL = srv.URL

	result := CheckEngine(context.Background(), &cfg)
	if !result.Passed {
		t.Fatalf("expected pass, got: %s", result.Detail)
	}
}

func TestCheckEngine_OllamaUnreachable(t *testing.T) {
	cfg := config.Default()
	cfg.Ollama.BaseURL = "http://127.0.0.1:1"

	result := CheckEngine(context.Background(), &cfg)
	if result.Passed {
		t.Fatal("expected failure for unreachable server")
	}
}

func TestCheckEngine_OpenAIMissingKey(t *testing.T) {
	cfg := config.Default()
	cfg.Model.Engine = config.EngineOpenAI
	cfg.OpenAI.APIKey = ""

	result := CheckEngine(context.Background(), &cfg)
	if result.Passed {
		t.Fatal("expected failure for missing key")
	}
	if result.Detail != "API key missing" {
		t.Fatalf("detail = %q", result.Detail)
	}
}

func TestCheckEngine_OpenAIOK(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if _, err := w.Write([]byte(`{"object":"list","data":[]}`)); err != nil {
			t.Errorf("write models response: %v", err)
		}
	}))
	defer srv.Close()

	cfg := config.Default()
	cfg.Model.Engine = config.EngineOpenAI
	cfg.OpenAI.BaseURL = srv.URL
	cfg.OpenAI.APIKey = "sk-test"

	result := CheckEngine(context.Background(), &cfg)
	if !result.Passed {
		t.Fatalf("expected pass, got: %s", result.Detail)
	}
}

func TestCheckModelCache_Cached(t *testing.T) {
	srv := newOllamaServer(t, `{"models":[{"name":"llava:7b","size":4733363377}]}`)

	cfg := config.Default()
	cfg.Ollama.BaseURL = srv.URL
	cfg.Paths.DataDir = t.TempDir()

	result := CheckModelCache(context.Background(), &cfg)
	if !result.Passed {
		t.Fatalf("expected pass, got: %s", result.Detail)
	}
	if !strings.Contains(result.Detail, "cached") {
		t.Fatalf("detail = %q", result.Detail)
	}
}

func TestCheckModelCache_Absent(t *testing.T) {
	srv := newOllamaServer(t, `{"models":[]}`)

	cfg := config.Default()
	cfg.Ollama.BaseURL = srv.URL
	cfg.Paths.DataDir = t.TempDir()

	result := CheckModelCache(context.Background(), &cfg)
	if !strings.Contains(result.Detail, "not cached") {
		t.Fatalf("detail = %q", result.Detail)
	}
}

func TestCheckGPU_Visible(t *testing.T) {
	cfg := config.Default()
	probe := &fakeProbe{gpu: resources.GPUInfo{Name: "Test GPU", MemoryMiB: 8192}, hasGPU: true}

	result := CheckGPU(context.Background(), &cfg, probe)
	if !result.Passed {
		t.Fatalf("expected pass, got: %s", result.Detail)
	}
	if !strings.Contains(result.Detail, "Test GPU") {
		t.Fatalf("detail = %q", result.Detail)
	}
}

func TestCheckGPU_AbsentWithAutoDevice(t *testing.T) {
	cfg := config.Default()
	result := CheckGPU(context.Background(), &cfg, &fakeProbe{})
	if !result.Passed {
		t.Fatalf("expected pass, got: %s", result.Detail)
	}
}

func TestCheckGPU_AbsentWithExplicitGPU(t *testing.T) {
	cfg := config.Default()
	cfg.Model.Device = config.DeviceGPU
	result := CheckGPU(context.Background(), &cfg, &fakeProbe{})
	if result.Passed {
		t.Fatal("expected failure when device=gpu has no gpu")
	}
}

func TestCheckSystemMemory(t *testing.T) {
	probe := &fakeProbe{memory: 16 << 30}
	result := CheckSystemMemory(context.Background(), probe)
	if !result.Passed {
		t.Fatalf("expected pass, got: %s", result.Detail)
	}
	if result.Detail != "16.0 GiB total" {
		t.Fatalf("detail = %q", result.Detail)
	}
}

func TestRunAll_NilConfig(t *testing.T) {
	results := RunAll(context.Background(), nil)
	if results != nil {
		t.Fatal("expected nil results for nil config")
	}
}

func TestRunAll_MinimalConfig(t *testing.T) {
	srv := newOllamaServer(t, `{"models":[{"name":"llava:7b","size":4733363377}]}`)

	cfg := testsupport.NewConfig(t)
	cfg.Ollama.BaseURL = srv.URL
	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("ensure directories: %v", err)
	}

	results := RunAll(context.Background(), cfg)
	// Engine, model cache, data dir, gpu, memory.
	if len(results) != 5 {
		t.Fatalf("expected 5 results, got %d", len(results))
	}
	for _, r := range results[:3] {
		if !r.Passed {
			t.Errorf("check %q failed: %s", r.Name, r.Detail)
		}
	}
}

func TestRunAll_IncludesOutputDirectoryWhenConfigured(t *testing.T) {
	srv := newOllamaServer(t, `{"models":[]}`)

	out := t.TempDir()
	cfg := testsupport.NewConfig(t, testsupport.WithOutputDirectory(out))
	cfg.Ollama.BaseURL = srv.URL
	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("ensure directories: %v", err)
	}

	results := RunAll(context.Background(), cfg)
	found := false
	for _, r := range results {
		if r.Name == "Output directory" {
			found = true
			if !r.Passed {
				t.Errorf("output directory check failed: %s", r.Detail)
			}
		}
	}
	if !found {
		t.Fatal("expected output directory check in results")
	}
}
