package jobs

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/profilehound/profilehound/internal/scrape"
)

type fakeScraper struct {
	calls atomic.Int64
	fn    func(ctx context.Context, username string, opts scrape.Options, report func(int)) (*scrape.Result, error)
}

func (f *fakeScraper) Scrape(ctx context.Context, username string, opts scrape.Options, report func(int)) (*scrape.Result, error) {
	f.calls.Add(1)
	return f.fn(ctx, username, opts, report)
}

type fakeExporter struct {
	mu    sync.Mutex
	files []string
	err   error
	calls int
}

func (f *fakeExporter) Export(jobID string, _ *scrape.Result, format scrape.ExportFormat) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	if f.files != nil {
		return f.files, nil
	}
	return []string{fmt.Sprintf("%s_octocat_data.%s", jobID, format)}, nil
}

type seqIDGen struct {
	mu sync.Mutex
	n  int
}

func (g *seqIDGen) NewID() (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.n++
	return fmt.Sprintf("job-%d", g.n), nil
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

func newTestManager(scraper scrape.Scraper, exporter scrape.Exporter, cfg Config) *Manager {
	if cfg.Workers == 0 {
		cfg.Workers = 2
	}
	if cfg.QueueDepth == 0 {
		cfg.QueueDepth = 16
	}
	if cfg.JobTimeout == 0 {
		cfg.JobTimeout = 5 * time.Second
	}
	return New(NewStore(), scraper, exporter, &seqIDGen{}, realClock{}, nil, cfg, nil)
}

func startManager(t *testing.T, m *Manager) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		m.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
}

func okResult(username string) *scrape.Result {
	return &scrape.Result{
		Username:     username,
		Profile:      &scrape.Profile{Login: username},
		TopLanguages: map[string]int{},
	}
}

func TestManagerCompletesJobWithAutoExport(t *testing.T) {
	t.Parallel()
	scraper := &fakeScraper{fn: func(_ context.Context, username string, _ scrape.Options, report func(int)) (*scrape.Result, error) {
		report(50)
		return okResult(username), nil
	}}
	exporter := &fakeExporter{files: []string{"/tmp/job-1_octocat_data.json"}}
	m := newTestManager(scraper, exporter, Config{})
	startManager(t, m)

	job, err := m.Submit(context.Background(), "octocat", scrape.Options{}, scrape.FormatJSON)
	require.NoError(t, err)
	require.Equal(t, scrape.JobStatusPending, job.Status)

	require.Eventually(t, func() bool {
		got, err := m.Get(job.ID)
		return err == nil && got.Status == scrape.JobStatusCompleted
	}, 2*time.Second, 10*time.Millisecond)

	got, err := m.Get(job.ID)
	require.NoError(t, err)
	require.Equal(t, 100, got.Progress)
	require.NotNil(t, got.Result)
	require.Equal(t, "octocat", got.Result.Username)
	require.Equal(t, []string{"/tmp/job-1_octocat_data.json"}, got.ExportFiles)
	require.Empty(t, got.ErrorText)
}

func TestManagerNoExportWithoutFormat(t *testing.T) {
	t.Parallel()
	scraper := &fakeScraper{fn: func(_ context.Context, username string, _ scrape.Options, _ func(int)) (*scrape.Result, error) {
		return okResult(username), nil
	}}
	exporter := &fakeExporter{}
	m := newTestManager(scraper, exporter, Config{})
	startManager(t, m)

	job, err := m.Submit(context.Background(), "octocat", scrape.Options{}, "")
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		got, err := m.Get(job.ID)
		return err == nil && got.Status == scrape.JobStatusCompleted
	}, 2*time.Second, 10*time.Millisecond)

	exporter.mu.Lock()
	defer exporter.mu.Unlock()
	require.Zero(t, exporter.calls)
}

func TestManagerScrapeFailureFailsJob(t *testing.T) {
	t.Parallel()
	scraper := &fakeScraper{fn: func(context.Context, string, scrape.Options, func(int)) (*scrape.Result, error) {
		return nil, errors.New("user vanished")
	}}
	m := newTestManager(scraper, &fakeExporter{}, Config{})
	startManager(t, m)

	job, err := m.Submit(context.Background(), "ghost", scrape.Options{}, "")
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		got, err := m.Get(job.ID)
		return err == nil && got.Status == scrape.JobStatusFailed
	}, 2*time.Second, 10*time.Millisecond)

	got, err := m.Get(job.ID)
	require.NoError(t, err)
	require.Contains(t, got.ErrorText, "user vanished")
	require.Nil(t, got.Result)
}

func TestManagerExportFailureFailsJob(t *testing.T) {
	t.Parallel()
	scraper := &fakeScraper{fn: func(_ context.Context, username string, _ scrape.Options, _ func(int)) (*scrape.Result, error) {
		return okResult(username), nil
	}}
	exporter := &fakeExporter{err: errors.New("disk full")}
	m := newTestManager(scraper, exporter, Config{})
	startManager(t, m)

	job, err := m.Submit(context.Background(), "octocat", scrape.Options{}, scrape.FormatCSV)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		got, err := m.Get(job.ID)
		return err == nil && got.Status == scrape.JobStatusFailed
	}, 2*time.Second, 10*time.Millisecond)

	got, err := m.Get(job.ID)
	require.NoError(t, err)
	require.Contains(t, got.ErrorText, "export result")
	require.Contains(t, got.ErrorText, "disk full")
}

func TestManagerCancelPendingJobNeverRuns(t *testing.T) {
	t.Parallel()
	scraper := &fakeScraper{fn: func(_ context.Context, username string, _ scrape.Options, _ func(int)) (*scrape.Result, error) {
		return okResult(username), nil
	}}
	m := newTestManager(scraper, &fakeExporter{}, Config{})

	// Workers are not running yet, so the job stays pending.
	job, err := m.Submit(context.Background(), "octocat", scrape.Options{}, "")
	require.NoError(t, err)
	require.NoError(t, m.Cancel(job.ID))

	got, err := m.Get(job.ID)
	require.NoError(t, err)
	require.Equal(t, scrape.JobStatusCancelled, got.Status)

	startManager(t, m)
	time.Sleep(100 * time.Millisecond)

	got, err = m.Get(job.ID)
	require.NoError(t, err)
	require.Equal(t, scrape.JobStatusCancelled, got.Status)
	require.Zero(t, scraper.calls.Load())
}

func TestManagerCancelRunningJob(t *testing.T) {
	t.Parallel()
	scraper := &fakeScraper{fn: func(ctx context.Context, _ string, _ scrape.Options, _ func(int)) (*scrape.Result, error) {
		<-ctx.Done()
		return nil, fmt.Errorf("scrape interrupted: %w", ctx.Err())
	}}
	m := newTestManager(scraper, &fakeExporter{}, Config{})
	startManager(t, m)

	job, err := m.Submit(context.Background(), "octocat", scrape.Options{}, "")
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		got, err := m.Get(job.ID)
		return err == nil && got.Status == scrape.JobStatusRunning
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, m.Cancel(job.ID))

	require.Eventually(t, func() bool {
		got, err := m.Get(job.ID)
		return err == nil && got.Status == scrape.JobStatusCancelled
	}, 2*time.Second, 10*time.Millisecond)
}

func TestManagerCancelWinsOverLateSuccess(t *testing.T) {
	t.Parallel()
	scraper := &fakeScraper{fn: func(ctx context.Context, username string, _ scrape.Options, _ func(int)) (*scrape.Result, error) {
		// Ignore cancellation and hand back a success anyway.
		<-ctx.Done()
		return okResult(username), nil
	}}
	m := newTestManager(scraper, &fakeExporter{}, Config{})
	startManager(t, m)

	job, err := m.Submit(context.Background(), "octocat", scrape.Options{}, "")
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		got, err := m.Get(job.ID)
		return err == nil && got.Status == scrape.JobStatusRunning
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, m.Cancel(job.ID))

	require.Eventually(t, func() bool {
		got, err := m.Get(job.ID)
		return err == nil && got.Status.Terminal()
	}, 2*time.Second, 10*time.Millisecond)

	got, err := m.Get(job.ID)
	require.NoError(t, err)
	require.Equal(t, scrape.JobStatusCancelled, got.Status)
	require.Nil(t, got.Result)
}

func TestManagerCancelTerminalJob(t *testing.T) {
	t.Parallel()
	scraper := &fakeScraper{fn: func(_ context.Context, username string, _ scrape.Options, _ func(int)) (*scrape.Result, error) {
		return okResult(username), nil
	}}
	m := newTestManager(scraper, &fakeExporter{}, Config{})
	startManager(t, m)

	job, err := m.Submit(context.Background(), "octocat", scrape.Options{}, "")
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		got, err := m.Get(job.ID)
		return err == nil && got.Status == scrape.JobStatusCompleted
	}, 2*time.Second, 10*time.Millisecond)

	require.ErrorIs(t, m.Cancel(job.ID), scrape.ErrJobTerminal)
}

func TestManagerWatchdogFailsStuckJob(t *testing.T) {
	t.Parallel()
	scraper := &fakeScraper{fn: func(ctx context.Context, _ string, _ scrape.Options, _ func(int)) (*scrape.Result, error) {
		<-ctx.Done()
		return nil, fmt.Errorf("scrape interrupted: %w", ctx.Err())
	}}
	m := newTestManager(scraper, &fakeExporter{}, Config{JobTimeout: 50 * time.Millisecond})
	startManager(t, m)

	job, err := m.Submit(context.Background(), "octocat", scrape.Options{}, "")
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		got, err := m.Get(job.ID)
		return err == nil && got.Status == scrape.JobStatusFailed
	}, 2*time.Second, 10*time.Millisecond)

	got, err := m.Get(job.ID)
	require.NoError(t, err)
	require.Contains(t, got.ErrorText, "timed out")
}

func TestManagerDeletePolicies(t *testing.T) {
	t.Parallel()
	release := make(chan struct{})
	scraper := &fakeScraper{fn: func(ctx context.Context, username string, _ scrape.Options, _ func(int)) (*scrape.Result, error) {
		select {
		case <-release:
			return okResult(username), nil
		case <-ctx.Done():
			return nil, fmt.Errorf("scrape interrupted: %w", ctx.Err())
		}
	}}
	m := newTestManager(scraper, &fakeExporter{}, Config{Workers: 1})
	startManager(t, m)

	job, err := m.Submit(context.Background(), "octocat", scrape.Options{}, "")
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		got, err := m.Get(job.ID)
		return err == nil && got.Status == scrape.JobStatusRunning
	}, 2*time.Second, 10*time.Millisecond)

	require.ErrorIs(t, m.Delete(job.ID), scrape.ErrJobRunning)

	close(release)
	require.Eventually(t, func() bool {
		got, err := m.Get(job.ID)
		return err == nil && got.Status == scrape.JobStatusCompleted
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, m.Delete(job.ID))
	_, err = m.Get(job.ID)
	require.ErrorIs(t, err, scrape.ErrJobNotFound)
}

func TestManagerSubmitQueueFullRollsBack(t *testing.T) {
	t.Parallel()
	scraper := &fakeScraper{fn: func(_ context.Context, username string, _ scrape.Options, _ func(int)) (*scrape.Result, error) {
		return okResult(username), nil
	}}
	// No workers started, so the queue never drains.
	m := newTestManager(scraper, &fakeExporter{}, Config{QueueDepth: 1})

	_, err := m.Submit(context.Background(), "first", scrape.Options{}, "")
	require.NoError(t, err)

	_, err = m.Submit(context.Background(), "second", scrape.Options{}, "")
	require.ErrorIs(t, err, scrape.ErrQueueFull)

	require.Equal(t, 1, m.Counts()["total"])
}

func TestManagerAppendExportFilesRequiresCompleted(t *testing.T) {
	t.Parallel()
	scraper := &fakeScraper{fn: func(_ context.Context, username string, _ scrape.Options, _ func(int)) (*scrape.Result, error) {
		return okResult(username), nil
	}}
	m := newTestManager(scraper, &fakeExporter{}, Config{})

	job, err := m.Submit(context.Background(), "octocat", scrape.Options{}, "")
	require.NoError(t, err)

	_, err = m.AppendExportFiles(job.ID, "a.json")
	require.ErrorIs(t, err, scrape.ErrJobNotReady)

	startManager(t, m)
	require.Eventually(t, func() bool {
		got, err := m.Get(job.ID)
		return err == nil && got.Status == scrape.JobStatusCompleted
	}, 2*time.Second, 10*time.Millisecond)

	updated, err := m.AppendExportFiles(job.ID, "a.json", "b.csv")
	require.NoError(t, err)
	require.Equal(t, []string{"a.json", "b.csv"}, updated.ExportFiles)
}

func TestManagerSetProgressMonotonicRunningOnly(t *testing.T) {
	t.Parallel()
	release := make(chan struct{})
	scraper := &fakeScraper{fn: func(ctx context.Context, username string, _ scrape.Options, _ func(int)) (*scrape.Result, error) {
		select {
		case <-release:
			return okResult(username), nil
		case <-ctx.Done():
			return nil, fmt.Errorf("scrape interrupted: %w", ctx.Err())
		}
	}}
	m := newTestManager(scraper, &fakeExporter{}, Config{Workers: 1})

	job, err := m.Submit(context.Background(), "octocat", scrape.Options{}, "")
	require.NoError(t, err)

	// Pending: progress updates are ignored.
	m.SetProgress(job.ID, 25)
	got, err := m.Get(job.ID)
	require.NoError(t, err)
	require.Zero(t, got.Progress)

	startManager(t, m)
	require.Eventually(t, func() bool {
		got, err := m.Get(job.ID)
		return err == nil && got.Status == scrape.JobStatusRunning
	}, 2*time.Second, 10*time.Millisecond)

	m.SetProgress(job.ID, 30)
	m.SetProgress(job.ID, 20)
	got, err = m.Get(job.ID)
	require.NoError(t, err)
	require.Equal(t, 30, got.Progress)

	close(release)
}

func TestManagerCleanupRemovesOldTerminalJobs(t *testing.T) {
	t.Parallel()
	scraper := &fakeScraper{fn: func(_ context.Context, username string, _ scrape.Options, _ func(int)) (*scrape.Result, error) {
		return okResult(username), nil
	}}
	m := newTestManager(scraper, &fakeExporter{}, Config{})
	startManager(t, m)

	job, err := m.Submit(context.Background(), "octocat", scrape.Options{}, "")
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		got, err := m.Get(job.ID)
		return err == nil && got.Status == scrape.JobStatusCompleted
	}, 2*time.Second, 10*time.Millisecond)

	// Fresh terminal job sits inside the retention window.
	require.Zero(t, m.Cleanup(time.Hour))

	require.Equal(t, 1, m.Cleanup(-time.Minute))
	_, err = m.Get(job.ID)
	require.ErrorIs(t, err, scrape.ErrJobNotFound)
}
