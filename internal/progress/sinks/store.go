package sinks

import (
	"context"

	"github.com/profilehound/profilehound/internal/progress"
)

// ProgressSetter applies a completion percentage to a tracked job. The job
// manager satisfies this; it ignores updates for jobs that are no longer
// running and never lets progress move backwards.
type ProgressSetter interface {
	SetProgress(jobID string, percent int)
}

// ProgressSetterFunc adapts a plain function to the ProgressSetter interface.
type ProgressSetterFunc func(jobID string, percent int)

// SetProgress calls f.
func (f ProgressSetterFunc) SetProgress(jobID string, percent int) {
	f(jobID, percent)
}

// StoreSink folds JOB_PROGRESS events back onto the job records. Within one
// batch only the highest percentage per job is applied to reduce lock churn.
type StoreSink struct {
	setter ProgressSetter
}

// NewStoreSink constructs a StoreSink for the provided setter.
func NewStoreSink(setter ProgressSetter) *StoreSink {
	return &StoreSink{setter: setter}
}

// Consume collapses per-job progress and forwards it to the setter.
func (s *StoreSink) Consume(_ context.Context, batch []progress.Event) error {
	if s == nil || s.setter == nil {
		return nil
	}
	best := make(map[string]int)
	for _, evt := range batch {
		if evt.Stage != progress.StageJobProgress {
			continue
		}
		if evt.Percent > best[evt.JobID] {
			best[evt.JobID] = evt.Percent
		}
	}
	for jobID, percent := range best {
		s.setter.SetProgress(jobID, percent)
	}
	return nil
}

// Close implements the Sink interface; it performs no action.
func (s *StoreSink) Close(context.Context) error {
	return nil
}
