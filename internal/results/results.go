// Package results accumulates per-image outcomes while a captioning run is
// in flight and assembles the immutable summary reported when it finishes.
package results

import (
	"sync"
	"time"
)

// CaptionRecord describes one successfully captioned image.
type CaptionRecord struct {
	Path        string
	Filename    string
	Caption     string
	GeneratedAt time.Time
	Duration    time.Duration
	FileSize    int64
	Dimensions  string
	Format      string
	Success     bool
}

// ErrorRecord describes one failure attributed to a pipeline stage. Path is
// empty for failures that are not tied to a single image.
type ErrorRecord struct {
	Path      string
	Message   string
	Stage     string
	Timestamp time.Time
}

// Summary is the final accounting for a run. It is a snapshot; feeding the
// collector after Summarize does not alter an already built summary.
type Summary struct {
	Processed   int
	Errors      int
	SuccessRate float64
	Cancelled   bool
	Captions    []CaptionRecord
	Failures    []ErrorRecord
}

// Collector provides thread-safe, append-only accumulation of run outcomes.
type Collector struct {
	mu       sync.RWMutex
	captions []CaptionRecord
	failures []ErrorRecord
}

func NewCollector() *Collector {
	return &Collector{}
}

// AddCaption records a successful caption. A zero GeneratedAt is stamped
// with the current time and the success flag is always set.
func (c *Collector) AddCaption(rec CaptionRecord) {
	if rec.GeneratedAt.IsZero() {
		rec.GeneratedAt = time.Now()
	}
	rec.Success = true

	c.mu.Lock()
	defer c.mu.Unlock()
	c.captions = append(c.captions, rec)
}

// AddError records a failure. A zero Timestamp is stamped with the current
// time; the stage is the caller's to attribute.
func (c *Collector) AddError(rec ErrorRecord) {
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now()
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.failures = append(c.failures, rec)
}

// Captions returns a copy of the recorded captions in insertion order.
func (c *Collector) Captions() []CaptionRecord {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]CaptionRecord, len(c.captions))
	copy(out, c.captions)
	return out
}

// Failures returns a copy of the recorded errors in insertion order.
func (c *Collector) Failures() []ErrorRecord {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]ErrorRecord, len(c.failures))
	copy(out, c.failures)
	return out
}

// Counts reports the number of captions and errors recorded so far.
func (c *Collector) Counts() (processed, failed int) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.captions), len(c.failures)
}

// Summarize builds the final summary. The success rate is the share of
// captioned images among everything that produced a record; an empty run
// reports zero rather than NaN.
func (c *Collector) Summarize(cancelled bool) Summary {
	c.mu.RLock()
	defer c.mu.RUnlock()

	total := len(c.captions) + len(c.failures)
	rate := 0.0
	if total > 0 {
		rate = float64(len(c.captions)) / float64(total)
	}

	captions := make([]CaptionRecord, len(c.captions))
	copy(captions, c.captions)
	failures := make([]ErrorRecord, len(c.failures))
	copy(failures, c.failures)

	return Summary{
		Processed:   len(c.captions),
		Errors:      len(c.failures),
		SuccessRate: rate,
		Cancelled:   cancelled,
		Captions:    captions,
		Failures:    failures,
	}
}

// Reset discards all recorded outcomes.
func (c *Collector) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.captions = nil
	c.failures = nil
}
