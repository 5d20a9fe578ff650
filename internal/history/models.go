package history

import "time"

// Run is one recorded captioning run.
type Run struct {
	ID           string
	Label        string
	Directory    string
	Model        string
	Engine       string
	Device       string
	Quantization string
	Prompt       string
	StartedAt    time.Time
	FinishedAt   time.Time
	Processed    int
	Errors       int
	SuccessRate  float64
	Cancelled    bool
	Success      bool
}

// Caption is one stored caption belonging to a run.
type Caption struct {
	ID          int64
	RunID       string
	Path        string
	Filename    string
	Caption     string
	GeneratedAt time.Time
	DurationMS  int64
	FileSize    int64
	Dimensions  string
	Format      string
	Success     bool
}
