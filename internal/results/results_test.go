package results_test

import (
	"sync"
	"testing"
	"time"

	"glimpse/internal/results"
	"glimpse/internal/services"
)

func TestCollectorKeepsInsertionOrder(t *testing.T) {
	c := results.NewCollector()
	c.AddCaption(results.CaptionRecord{Path: "/pics/a.png", Filename: "a.png", Caption: "a cat"})
	c.AddCaption(results.CaptionRecord{Path: "/pics/b.png", Filename: "b.png", Caption: "a dog"})
	c.AddError(results.ErrorRecord{Path: "/pics/c.png", Message: "corrupted", Stage: services.StageValidate})

	captions := c.Captions()
	if len(captions) != 2 {
		t.Fatalf("captions = %d, want 2", len(captions))
	}
	if captions[0].Filename != "a.png" || captions[1].Filename != "b.png" {
		t.Fatalf("order broken: %q then %q", captions[0].Filename, captions[1].Filename)
	}

	failures := c.Failures()
	if len(failures) != 1 {
		t.Fatalf("failures = %d, want 1", len(failures))
	}
	if failures[0].Stage != services.StageValidate {
		t.Fatalf("stage = %q", failures[0].Stage)
	}
}

func TestCollectorReturnsCopies(t *testing.T) {
	c := results.NewCollector()
	c.AddCaption(results.CaptionRecord{Path: "/pics/a.png", Caption: "original"})

	got := c.Captions()
	got[0].Caption = "mutated"

	if again := c.Captions(); again[0].Caption != "original" {
		t.Fatalf("internal state mutated through returned slice: %q", again[0].Caption)
	}
}

func TestAddCaptionStampsTimeAndSuccess(t *testing.T) {
	c := results.NewCollector()
	before := time.Now()
	c.AddCaption(results.CaptionRecord{Path: "/pics/a.png"})

	rec := c.Captions()[0]
	if !rec.Success {
		t.Fatal("success flag not set")
	}
	if rec.GeneratedAt.Before(before) {
		t.Fatalf("generated-at %v predates the call", rec.GeneratedAt)
	}
}

func TestAddCaptionKeepsExplicitTimestamp(t *testing.T) {
	c := results.NewCollector()
	at := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	c.AddCaption(results.CaptionRecord{Path: "/pics/a.png", GeneratedAt: at})

	if got := c.Captions()[0].GeneratedAt; !got.Equal(at) {
		t.Fatalf("generated-at = %v, want %v", got, at)
	}
}

func TestAddErrorStampsTime(t *testing.T) {
	c := results.NewCollector()
	before := time.Now()
	c.AddError(results.ErrorRecord{Message: "engine unreachable", Stage: services.StageLoad})

	rec := c.Failures()[0]
	if rec.Timestamp.Before(before) {
		t.Fatalf("timestamp %v predates the call", rec.Timestamp)
	}
	if rec.Path != "" {
		t.Fatalf("pipeline-level failure should keep an empty path, got %q", rec.Path)
	}
}

func TestSummarize(t *testing.T) {
	c := results.NewCollector()
	c.AddCaption(results.CaptionRecord{Path: "/pics/a.png"})
	c.AddCaption(results.CaptionRecord{Path: "/pics/b.png"})
	c.AddError(results.ErrorRecord{Path: "/pics/c.png", Message: "oom", Stage: services.StageInference})

	sum := c.Summarize(false)
	if sum.Processed != 2 || sum.Errors != 1 {
		t.Fatalf("processed=%d errors=%d", sum.Processed, sum.Errors)
	}
	want := 2.0 / 3.0
	if diff := sum.SuccessRate - want; diff > 1e-9 || diff < -1e-9 {
		t.Fatalf("success rate = %v, want %v", sum.SuccessRate, want)
	}
	if sum.Cancelled {
		t.Fatal("cancelled flag should be false")
	}
	if len(sum.Captions) != 2 || len(sum.Failures) != 1 {
		t.Fatalf("record lists %d/%d", len(sum.Captions), len(sum.Failures))
	}
}

func TestSummarizeEmptyRun(t *testing.T) {
	sum := results.NewCollector().Summarize(true)
	if sum.SuccessRate != 0 {
		t.Fatalf("empty run success rate = %v", sum.SuccessRate)
	}
	if !sum.Cancelled {
		t.Fatal("cancelled flag lost")
	}
}

func TestSummaryIsSnapshot(t *testing.T) {
	c := results.NewCollector()
	c.AddCaption(results.CaptionRecord{Path: "/pics/a.png"})
	sum := c.Summarize(false)

	c.AddCaption(results.CaptionRecord{Path: "/pics/b.png"})
	if sum.Processed != 1 || len(sum.Captions) != 1 {
		t.Fatalf("summary changed after later writes: processed=%d", sum.Processed)
	}
}

func TestReset(t *testing.T) {
	c := results.NewCollector()
	c.AddCaption(results.CaptionRecord{Path: "/pics/a.png"})
	c.AddError(results.ErrorRecord{Message: "x", Stage: services.StageScan})
	c.Reset()

	processed, failed := c.Counts()
	if processed != 0 || failed != 0 {
		t.Fatalf("counts after reset = %d/%d", processed, failed)
	}
}

func TestCollectorConcurrentAppend(t *testing.T) {
	c := results.NewCollector()
	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.AddCaption(results.CaptionRecord{Path: "/pics/x.png"})
			c.AddError(results.ErrorRecord{Message: "y", Stage: services.StageInference})
		}()
	}
	wg.Wait()

	processed, failed := c.Counts()
	if processed != 32 || failed != 32 {
		t.Fatalf("counts = %d/%d, want 32/32", processed, failed)
	}
}
