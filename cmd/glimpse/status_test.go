package main

import (
	"fmt"
	"io"
	"strings"
	"testing"
)

func TestRenderStatusLineNoColor(t *testing.T) {
	got := renderStatusLine("Ollama server", statusError, "unreachable", false)
	want := fmt.Sprintf("%s%-*s %s", statusIndent, statusLabelWidth, "Ollama server:", "[ERROR] unreachable")
	if got != want {
		t.Fatalf("renderStatusLine mismatch\n got: %q\nwant: %q", got, want)
	}
}

func TestRenderStatusLineWithColor(t *testing.T) {
	got := renderStatusLine("GPU", statusOK, "visible", true)
	if !strings.HasPrefix(got, ansiGreen) {
		t.Fatalf("expected green prefix, got %q", got)
	}
	if !strings.HasSuffix(got, ansiReset) {
		t.Fatalf("expected reset suffix, got %q", got)
	}
}

func TestRenderDetailLine(t *testing.T) {
	got := renderDetailLine("Label", "Vacation Photos")
	want := fmt.Sprintf("%s%-*s %s", statusIndent, statusLabelWidth, "Label:", "Vacation Photos")
	if got != want {
		t.Fatalf("renderDetailLine mismatch\n got: %q\nwant: %q", got, want)
	}
}

func TestShouldColorizeNonFile(t *testing.T) {
	if shouldColorize(io.Discard) {
		t.Fatal("expected non-file writer to disable color")
	}
}

func TestTruncate(t *testing.T) {
	if got := truncate("short", 10); got != "short" {
		t.Fatalf("expected unmodified string, got %q", got)
	}
	if got := truncate("a long filename.png", 8); got != "a long …" {
		t.Fatalf("unexpected truncation: %q", got)
	}
	if got := truncate("anything at all", 0); got != "anything at all" {
		t.Fatalf("expected zero max to disable truncation, got %q", got)
	}
}

func TestShortID(t *testing.T) {
	if got := shortID("5a0e6f00-1234-4000-8000-000000000001"); got != "5a0e6f00" {
		t.Fatalf("unexpected short id: %q", got)
	}
	if got := shortID("abc"); got != "abc" {
		t.Fatalf("short ids pass through, got %q", got)
	}
}
