// Package jobs tracks background scrape jobs through their lifecycle.
package jobs

import (
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/profilehound/profilehound/internal/scrape"
)

// Store holds job records in memory. All mutation funnels through Update so a
// record is only ever rewritten under the write lock; readers receive value
// snapshots and never observe a partially applied change.
type Store struct {
	mu   sync.RWMutex
	jobs map[string]scrape.Job
}

// NewStore constructs an empty Store.
func NewStore() *Store {
	return &Store{jobs: make(map[string]scrape.Job)}
}

// Create stores a new job record.
func (s *Store) Create(job scrape.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.jobs[job.ID]; exists {
		return errors.New("job already exists")
	}
	s.jobs[job.ID] = cloneJob(job)
	return nil
}

// Get fetches a snapshot of a job by ID.
func (s *Store) Get(jobID string) (scrape.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return scrape.Job{}, scrape.ErrJobNotFound
	}
	return cloneJob(job), nil
}

// Update applies fn to the stored record under the write lock. If fn returns
// an error the record is left untouched and the error is passed through;
// otherwise UpdatedAt is stamped and the new snapshot returned.
func (s *Store) Update(jobID string, now time.Time, fn func(*scrape.Job) error) (scrape.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return scrape.Job{}, scrape.ErrJobNotFound
	}
	updated := cloneJob(job)
	if err := fn(&updated); err != nil {
		return scrape.Job{}, err
	}
	updated.UpdatedAt = now
	s.jobs[jobID] = updated
	return cloneJob(updated), nil
}

// List returns snapshots newest-first by creation time, optionally filtered by
// status, capped at limit (<=0 means no cap).
func (s *Store) List(status scrape.JobStatus, limit int) []scrape.Job {
	s.mu.RLock()
	out := make([]scrape.Job, 0, len(s.jobs))
	for _, job := range s.jobs {
		if status != "" && job.Status != status {
			continue
		}
		out = append(out, cloneJob(job))
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

// Delete removes a record. The caller is responsible for any status policy.
func (s *Store) Delete(jobID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[jobID]; !ok {
		return scrape.ErrJobNotFound
	}
	delete(s.jobs, jobID)
	return nil
}

// RemoveOlderThan deletes terminal jobs last touched before cutoff and
// returns the removed snapshots so callers can clean up export files.
func (s *Store) RemoveOlderThan(cutoff time.Time) []scrape.Job {
	s.mu.Lock()
	defer s.mu.Unlock()
	var removed []scrape.Job
	for id, job := range s.jobs {
		if job.Status.Terminal() && job.UpdatedAt.Before(cutoff) {
			removed = append(removed, cloneJob(job))
			delete(s.jobs, id)
		}
	}
	return removed
}

// Counts returns the number of jobs per status plus the total.
func (s *Store) Counts() map[string]int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	counts := map[string]int{"total": len(s.jobs)}
	for _, st := range []scrape.JobStatus{
		scrape.JobStatusPending,
		scrape.JobStatusRunning,
		scrape.JobStatusCompleted,
		scrape.JobStatusFailed,
		scrape.JobStatusCancelled,
	} {
		counts[string(st)] = 0
	}
	for _, job := range s.jobs {
		counts[string(job.Status)]++
	}
	return counts
}

// cloneJob copies the record deeply enough that callers cannot mutate stored
// state: the export file slice is duplicated, and Result is treated as
// immutable once set (it is written exactly once, on completion).
func cloneJob(job scrape.Job) scrape.Job {
	cp := job
	if job.ExportFiles != nil {
		cp.ExportFiles = append([]string(nil), job.ExportFiles...)
	}
	return cp
}
