package jobs

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/profilehound/profilehound/internal/progress"
	"github.com/profilehound/profilehound/internal/scrape"
)

// Config controls Manager behavior.
type Config struct {
	// Workers bounds the number of concurrently running jobs.
	Workers int
	// QueueDepth bounds the pending backlog; a full queue rejects submits.
	QueueDepth int
	// JobTimeout is the watchdog budget for a single execution.
	JobTimeout time.Duration
}

// Manager owns the job lifecycle: it creates records, fans pending work out
// to a fixed pool of workers, applies transitions, and garbage-collects
// terminal records. Exactly one worker executes a given job, so status,
// result, error, and progress have a single writer; concurrent readers get
// consistent snapshots from the store.
type Manager struct {
	store    *Store
	queue    *Queue
	scraper  scrape.Scraper
	exporter scrape.Exporter
	idGen    scrape.IDGenerator
	clock    scrape.Clock
	emitter  progress.Emitter
	logger   *zap.Logger
	cfg      Config

	mu      sync.Mutex
	cancels map[string]context.CancelFunc
}

// errNoChange signals an Update closure that intentionally left the record
// untouched; it never escapes the manager.
var errNoChange = errors.New("no change")

// New constructs a Manager. The emitter may be nil, in which case no progress
// events are published.
func New(
	store *Store,
	scraper scrape.Scraper,
	exporter scrape.Exporter,
	idGen scrape.IDGenerator,
	clock scrape.Clock,
	emitter progress.Emitter,
	cfg Config,
	logger *zap.Logger,
) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.JobTimeout <= 0 {
		cfg.JobTimeout = 5 * time.Minute
	}
	return &Manager{
		store:    store,
		queue:    NewQueue(cfg.QueueDepth),
		scraper:  scraper,
		exporter: exporter,
		idGen:    idGen,
		clock:    clock,
		emitter:  emitter,
		logger:   logger,
		cfg:      cfg,
		cancels:  make(map[string]context.CancelFunc),
	}
}

// Run starts the worker pool and blocks until ctx finishes and all in-flight
// jobs have returned.
func (m *Manager) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for i := 0; i < m.cfg.Workers; i++ {
		wg.Add(1)
		go func(index int) {
			defer wg.Done()
			m.runWorker(ctx, index)
		}(i)
	}
	wg.Wait()
}

// Submit allocates a new pending job and schedules it for execution. It never
// blocks on the work itself; a full backlog returns scrape.ErrQueueFull.
func (m *Manager) Submit(ctx context.Context, username string, opts scrape.Options, format scrape.ExportFormat) (scrape.Job, error) {
	jobID, err := m.idGen.NewID()
	if err != nil {
		return scrape.Job{}, fmt.Errorf("generate job id: %w", err)
	}
	now := m.clock.Now()
	job := scrape.Job{
		ID:           jobID,
		Username:     username,
		Status:       scrape.JobStatusPending,
		Options:      opts,
		ExportFormat: format,
		ExportFiles:  []string{},
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := m.store.Create(job); err != nil {
		return scrape.Job{}, fmt.Errorf("create job: %w", err)
	}
	item := scrape.QueueItem{
		JobID:     jobID,
		Username:  username,
		Options:   opts,
		Submitted: now.Unix(),
	}
	if err := m.queue.Enqueue(ctx, item); err != nil {
		// Roll the record back so a rejected submit leaves no orphan.
		if delErr := m.store.Delete(jobID); delErr != nil {
			m.logger.Warn("rollback of rejected job failed", zap.String("job_id", jobID), zap.Error(delErr))
		}
		return scrape.Job{}, err
	}
	m.logger.Info("job submitted", zap.String("job_id", jobID), zap.String("username", username))
	return job, nil
}

// Get fetches a snapshot of a job by ID.
func (m *Manager) Get(jobID string) (scrape.Job, error) {
	return m.store.Get(jobID)
}

// List returns job snapshots newest-first, optionally filtered by status.
func (m *Manager) List(status scrape.JobStatus, limit int) []scrape.Job {
	return m.store.List(status, limit)
}

// Counts returns the number of jobs per status.
func (m *Manager) Counts() map[string]int {
	return m.store.Counts()
}

// Cancel requests cancellation. A pending job transitions to cancelled
// immediately; a running job has its flag set and its context cancelled so
// the execution path aborts at its next checkpoint. Terminal jobs return
// scrape.ErrJobTerminal.
func (m *Manager) Cancel(jobID string) error {
	wasPending := false
	job, err := m.store.Update(jobID, m.clock.Now(), func(j *scrape.Job) error {
		if j.Status.Terminal() {
			return scrape.ErrJobTerminal
		}
		j.CancelRequested = true
		if j.Status == scrape.JobStatusPending {
			j.Status = scrape.JobStatusCancelled
			wasPending = true
		}
		return nil
	})
	if err != nil {
		return err
	}
	if wasPending {
		m.emit(progress.Event{JobID: jobID, TS: m.clock.Now(), Stage: progress.StageJobCancelled, Note: "cancelled before start"})
		m.logger.Info("pending job cancelled", zap.String("job_id", jobID))
		return nil
	}
	m.mu.Lock()
	cancel := m.cancels[jobID]
	m.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	m.logger.Info("cancellation requested", zap.String("job_id", jobID), zap.String("status", string(job.Status)))
	return nil
}

// Delete removes a job record and its export files. Running jobs are refused
// with scrape.ErrJobRunning; cancel first, then delete once terminal.
func (m *Manager) Delete(jobID string) error {
	job, err := m.store.Get(jobID)
	if err != nil {
		return err
	}
	if job.Status == scrape.JobStatusRunning {
		return scrape.ErrJobRunning
	}
	if err := m.store.Delete(jobID); err != nil {
		return err
	}
	m.removeFiles(job)
	m.logger.Info("job deleted", zap.String("job_id", jobID))
	return nil
}

// Cleanup removes terminal jobs whose last update is older than retention,
// along with their export files, and returns how many were removed.
func (m *Manager) Cleanup(retention time.Duration) int {
	cutoff := m.clock.Now().Add(-retention)
	removed := m.store.RemoveOlderThan(cutoff)
	for _, job := range removed {
		m.removeFiles(job)
	}
	if len(removed) > 0 {
		m.logger.Info("cleaned up old jobs", zap.Int("removed", len(removed)))
	}
	return len(removed)
}

// AppendExportFiles records produced file paths on a completed job and
// returns the updated snapshot. Non-completed jobs return scrape.ErrJobNotReady.
func (m *Manager) AppendExportFiles(jobID string, files ...string) (scrape.Job, error) {
	return m.store.Update(jobID, m.clock.Now(), func(j *scrape.Job) error {
		if j.Status != scrape.JobStatusCompleted {
			return scrape.ErrJobNotReady
		}
		j.ExportFiles = append(j.ExportFiles, files...)
		return nil
	})
}

// SetProgress applies a completion percentage to a running job. Progress is
// monotonic non-decreasing; stale or out-of-order updates are dropped.
func (m *Manager) SetProgress(jobID string, percent int) {
	if percent < 0 {
		percent = 0
	} else if percent > 100 {
		percent = 100
	}
	_, err := m.store.Update(jobID, m.clock.Now(), func(j *scrape.Job) error {
		if j.Status != scrape.JobStatusRunning || percent <= j.Progress {
			return errNoChange
		}
		j.Progress = percent
		return nil
	})
	if err != nil && !errors.Is(err, errNoChange) && !errors.Is(err, scrape.ErrJobNotFound) {
		m.logger.Warn("progress update failed", zap.String("job_id", jobID), zap.Error(err))
	}
}

func (m *Manager) runWorker(ctx context.Context, index int) {
	logger := m.logger.With(zap.Int("worker", index))
	for {
		item, err := m.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			logger.Error("dequeue failed", zap.Error(err))
			return
		}
		m.execute(ctx, item, logger)
	}
}

func (m *Manager) execute(parent context.Context, item scrape.QueueItem, logger *zap.Logger) {
	// Transition pending -> running; a job cancelled (or deleted) while it
	// sat in the queue is skipped here.
	_, err := m.store.Update(item.JobID, m.clock.Now(), func(j *scrape.Job) error {
		if j.Status != scrape.JobStatusPending {
			return errNoChange
		}
		j.Status = scrape.JobStatusRunning
		return nil
	})
	if err != nil {
		if !errors.Is(err, errNoChange) && !errors.Is(err, scrape.ErrJobNotFound) {
			logger.Error("start transition failed", zap.String("job_id", item.JobID), zap.Error(err))
		}
		return
	}

	jobCtx, cancel := context.WithCancel(parent)
	m.mu.Lock()
	m.cancels[item.JobID] = cancel
	m.mu.Unlock()
	defer func() {
		m.mu.Lock()
		delete(m.cancels, item.JobID)
		m.mu.Unlock()
		cancel()
	}()

	started := m.clock.Now()
	m.emit(progress.Event{JobID: item.JobID, TS: started, Stage: progress.StageJobStart})
	logger.Info("job started", zap.String("job_id", item.JobID), zap.String("username", item.Username))

	// Watchdog: force-fail the record at the deadline even if the scraper
	// never observes its context, then cancel to unblock it.
	watchdog := time.AfterFunc(m.cfg.JobTimeout, func() {
		m.failTimedOut(item.JobID, started)
		cancel()
	})
	defer watchdog.Stop()

	report := func(percent int) {
		m.emit(progress.Event{
			JobID:   item.JobID,
			TS:      m.clock.Now(),
			Stage:   progress.StageJobProgress,
			Percent: clampPercent(percent),
		})
	}

	result, scrapeErr := m.scraper.Scrape(jobCtx, item.Username, item.Options, report)

	var exportFiles []string
	if scrapeErr == nil && m.exporter != nil {
		if format := m.jobFormat(item.JobID); format != "" {
			exportFiles, scrapeErr = m.exporter.Export(item.JobID, result, format)
			if scrapeErr != nil {
				scrapeErr = fmt.Errorf("export result: %w", scrapeErr)
			}
		}
	}

	m.finish(item.JobID, started, result, exportFiles, scrapeErr, logger)
}

// finish applies the terminal transition for an execution. The record may
// already be terminal (user cancel raced the final update, or the watchdog
// fired); in that case the outcome on the record wins.
func (m *Manager) finish(jobID string, started time.Time, result *scrape.Result, exportFiles []string, scrapeErr error, logger *zap.Logger) {
	var outcome scrape.JobStatus
	job, err := m.store.Update(jobID, m.clock.Now(), func(j *scrape.Job) error {
		if j.Status != scrape.JobStatusRunning {
			return errNoChange
		}
		switch {
		case j.CancelRequested:
			// A cancel that raced the last checkpoint still wins; the
			// result is discarded rather than reported as completed.
			j.Status = scrape.JobStatusCancelled
			j.ErrorText = ""
		case scrapeErr == nil:
			j.Status = scrape.JobStatusCompleted
			j.Result = result
			j.Progress = 100
			j.ExportFiles = append(j.ExportFiles, exportFiles...)
		default:
			j.Status = scrape.JobStatusFailed
			j.ErrorText = scrapeErr.Error()
		}
		outcome = j.Status
		return nil
	})
	if err != nil {
		if !errors.Is(err, errNoChange) && !errors.Is(err, scrape.ErrJobNotFound) {
			logger.Error("final transition failed", zap.String("job_id", jobID), zap.Error(err))
		}
		return
	}

	dur := m.clock.Now().Sub(started)
	switch outcome {
	case scrape.JobStatusCompleted:
		m.emit(progress.Event{JobID: jobID, TS: m.clock.Now(), Stage: progress.StageJobDone, Percent: 100, Dur: dur})
		logger.Info("job completed", zap.String("job_id", jobID), zap.Duration("dur", dur), zap.Int("export_files", len(job.ExportFiles)))
	case scrape.JobStatusCancelled:
		m.emit(progress.Event{JobID: jobID, TS: m.clock.Now(), Stage: progress.StageJobCancelled, Dur: dur})
		logger.Info("job cancelled", zap.String("job_id", jobID), zap.Duration("dur", dur))
	default:
		m.emit(progress.Event{JobID: jobID, TS: m.clock.Now(), Stage: progress.StageJobError, Dur: dur, Note: job.ErrorText})
		logger.Warn("job failed", zap.String("job_id", jobID), zap.Duration("dur", dur), zap.String("error", job.ErrorText))
	}
}

// failTimedOut transitions a still-running job to failed with a timeout error.
func (m *Manager) failTimedOut(jobID string, started time.Time) {
	msg := fmt.Sprintf("execution timed out after %s", m.cfg.JobTimeout)
	_, err := m.store.Update(jobID, m.clock.Now(), func(j *scrape.Job) error {
		if j.Status != scrape.JobStatusRunning {
			return errNoChange
		}
		j.Status = scrape.JobStatusFailed
		j.ErrorText = msg
		return nil
	})
	if err != nil {
		return
	}
	dur := m.clock.Now().Sub(started)
	m.emit(progress.Event{JobID: jobID, TS: m.clock.Now(), Stage: progress.StageJobError, Dur: dur, Note: msg})
	m.logger.Warn("job timed out", zap.String("job_id", jobID), zap.Duration("budget", m.cfg.JobTimeout))
}

func (m *Manager) jobFormat(jobID string) scrape.ExportFormat {
	job, err := m.store.Get(jobID)
	if err != nil {
		return ""
	}
	return job.ExportFormat
}

func (m *Manager) removeFiles(job scrape.Job) {
	for _, path := range job.ExportFiles {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			m.logger.Warn("remove export file failed", zap.String("path", path), zap.Error(err))
		}
	}
}

func (m *Manager) emit(evt progress.Event) {
	if m.emitter != nil {
		m.emitter.Emit(evt)
	}
}

func clampPercent(p int) int {
	if p < 0 {
		return 0
	}
	if p > 100 {
		return 100
	}
	return p
}
