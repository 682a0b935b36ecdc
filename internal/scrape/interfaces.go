package scrape

import (
	"context"
	"time"
)

// Scraper performs the outbound fetch work for one job. Implementations must
// observe ctx cancellation at their own checkpoints and may report coarse
// progress (0-100) through the callback; report may be nil.
type Scraper interface {
	Scrape(ctx context.Context, username string, opts Options, report func(int)) (*Result, error)
}

// Exporter materializes a scrape result into one or more files and returns
// their paths.
type Exporter interface {
	Export(jobID string, result *Result, format ExportFormat) ([]string, error)
}

// Queue provides enqueue/dequeue semantics for pending jobs.
type Queue interface {
	Enqueue(ctx context.Context, item QueueItem) error
	Dequeue(ctx context.Context) (QueueItem, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces job IDs (UUIDs).
type IDGenerator interface {
	NewID() (string, error)
}

// QueueItem wraps a job ready to run.
type QueueItem struct {
	JobID     string
	Username  string
	Options   Options
	Submitted int64
}
