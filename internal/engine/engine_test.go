package engine

import (
	"errors"
	"fmt"
	"testing"
)

func TestIsOOM(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"sentinel", ErrOutOfMemory, true},
		{"wrapped sentinel", fmt.Errorf("load failed: %w", ErrOutOfMemory), true},
		{"cuda text", errors.New("CUDA error: out of memory"), true},
		{"ollama system memory", errors.New("model requires more system memory (8.4 GiB) than is available (6.1 GiB)"), true},
		{"vram text", errors.New("insufficient VRAM to load model"), true},
		{"plain failure", errors.New("connection refused"), false},
		{"timeout", errors.New("context deadline exceeded"), false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := IsOOM(tc.err); got != tc.want {
				t.Fatalf("IsOOM(%v) = %v, want %v", tc.err, got, tc.want)
			}
		})
	}
}

func TestProfileString(t *testing.T) {
	p := Profile{Device: "gpu", Quantization: "8bit"}
	if got := p.String(); got != "gpu/8bit" {
		t.Fatalf("String() = %q", got)
	}
}
