package progress

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type captureSink struct {
	mu     sync.Mutex
	events []Event
	closed bool
}

func (s *captureSink) Consume(_ context.Context, batch []Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, batch...)
	return nil
}

func (s *captureSink) Close(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *captureSink) snapshot() []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Event(nil), s.events...)
}

func validEvent(jobID string, stage Stage) Event {
	return Event{JobID: jobID, TS: time.Now(), Stage: stage}
}

func TestHubDeliversEventsToSinks(t *testing.T) {
	t.Parallel()
	sink := &captureSink{}
	hub := NewHub(Config{MaxBatchWait: 10 * time.Millisecond}, sink)

	hub.Emit(validEvent("j1", StageJobStart))
	hub.Emit(Event{JobID: "j1", TS: time.Now(), Stage: StageJobProgress, Percent: 42})

	require.Eventually(t, func() bool {
		return len(sink.snapshot()) == 2
	}, 2*time.Second, 10*time.Millisecond)

	events := sink.snapshot()
	require.Equal(t, StageJobStart, events[0].Stage)
	require.Equal(t, 42, events[1].Percent)

	require.NoError(t, hub.Close(context.Background()))
}

func TestHubDropsInvalidEvents(t *testing.T) {
	t.Parallel()
	sink := &captureSink{}
	hub := NewHub(Config{MaxBatchWait: 10 * time.Millisecond}, sink)

	// Missing job id/timestamp and an out-of-range percent are both dropped.
	hub.Emit(Event{Stage: StageJobStart})
	hub.Emit(Event{JobID: "j1", TS: time.Now(), Stage: StageJobProgress, Percent: 200})
	hub.Emit(validEvent("j1", StageJobDone))

	require.Eventually(t, func() bool {
		return len(sink.snapshot()) == 1
	}, 2*time.Second, 10*time.Millisecond)
	require.Equal(t, StageJobDone, sink.snapshot()[0].Stage)

	require.NoError(t, hub.Close(context.Background()))
}

func TestHubCloseDrainsAndClosesSinks(t *testing.T) {
	t.Parallel()
	sink := &captureSink{}
	// Long batch wait forces the drain path to do the flushing.
	hub := NewHub(Config{MaxBatchWait: time.Minute}, sink)

	for i := 0; i < 10; i++ {
		hub.Emit(validEvent("j1", StageJobStart))
	}
	require.NoError(t, hub.Close(context.Background()))

	require.Len(t, sink.snapshot(), 10)
	sink.mu.Lock()
	defer sink.mu.Unlock()
	require.True(t, sink.closed)
}

func TestHubEmitAfterCloseIsNoop(t *testing.T) {
	t.Parallel()
	sink := &captureSink{}
	hub := NewHub(Config{}, sink)
	require.NoError(t, hub.Close(context.Background()))

	hub.Emit(validEvent("j1", StageJobStart))
	require.Empty(t, sink.snapshot())
}

func TestEventValidate(t *testing.T) {
	t.Parallel()
	require.NoError(t, validEvent("j1", StageJobStart).Validate())
	require.Error(t, Event{TS: time.Now(), Stage: StageJobStart}.Validate())
	require.Error(t, Event{JobID: "j1", Stage: StageJobStart}.Validate())
	require.Error(t, Event{JobID: "j1", TS: time.Now(), Stage: "BOGUS"}.Validate())
	require.Error(t, Event{JobID: "j1", TS: time.Now(), Stage: StageJobProgress, Percent: -1}.Validate())
	require.Error(t, Event{JobID: "j1", TS: time.Now(), Stage: StageJobDone, Dur: -time.Second}.Validate())
}
