package export

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/profilehound/profilehound/internal/scrape"
)

// JobTracker is the slice of the job manager the coordinator needs: reading a
// job snapshot and attaching produced files to its record.
type JobTracker interface {
	Get(jobID string) (scrape.Job, error)
	AppendExportFiles(jobID string, files ...string) (scrape.Job, error)
}

// Coordinator gates on-demand exports on job state. Only completed jobs with a
// result in hand may be exported; the produced file paths are appended to the
// job record so they survive restart-free lookups and later downloads.
type Coordinator struct {
	jobs     JobTracker
	exporter scrape.Exporter
	logger   *zap.Logger
}

// NewCoordinator constructs a Coordinator.
func NewCoordinator(jobs JobTracker, exporter scrape.Exporter, logger *zap.Logger) *Coordinator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Coordinator{jobs: jobs, exporter: exporter, logger: logger}
}

// Export produces export files for a completed job and records them on the
// job. A job that is not completed yields scrape.ErrJobNotReady.
func (c *Coordinator) Export(jobID string, format scrape.ExportFormat) ([]string, error) {
	job, err := c.jobs.Get(jobID)
	if err != nil {
		return nil, err
	}
	if job.Status != scrape.JobStatusCompleted || job.Result == nil {
		return nil, fmt.Errorf("job %s is %s: %w", jobID, job.Status, scrape.ErrJobNotReady)
	}

	files, err := c.exporter.Export(jobID, job.Result, format)
	if err != nil {
		return nil, fmt.Errorf("export job %s: %w", jobID, err)
	}
	if _, err := c.jobs.AppendExportFiles(jobID, files...); err != nil {
		c.logger.Warn("export files produced but not recorded",
			zap.String("job_id", jobID),
			zap.Error(err))
		return nil, err
	}
	c.logger.Info("export finished",
		zap.String("job_id", jobID),
		zap.String("format", string(format)),
		zap.Int("files", len(files)))
	return files, nil
}

// Files returns the export files recorded for a job.
func (c *Coordinator) Files(jobID string) ([]string, error) {
	job, err := c.jobs.Get(jobID)
	if err != nil {
		return nil, err
	}
	return job.ExportFiles, nil
}
