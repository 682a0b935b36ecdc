package jobs

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/profilehound/profilehound/internal/scrape"
)

func TestQueuePreservesOrder(t *testing.T) {
	t.Parallel()
	q := NewQueue(4)
	ctx := context.Background()

	for _, id := range []string{"a", "b", "c"} {
		require.NoError(t, q.Enqueue(ctx, scrape.QueueItem{JobID: id}))
	}
	for _, want := range []string{"a", "b", "c"} {
		item, err := q.Dequeue(ctx)
		require.NoError(t, err)
		require.Equal(t, want, item.JobID)
	}
}

func TestQueueFullRejects(t *testing.T) {
	t.Parallel()
	q := NewQueue(1)
	ctx := context.Background()

	require.NoError(t, q.Enqueue(ctx, scrape.QueueItem{JobID: "a"}))
	err := q.Enqueue(ctx, scrape.QueueItem{JobID: "b"})
	require.ErrorIs(t, err, scrape.ErrQueueFull)
}

func TestQueueDequeueRespectsContext(t *testing.T) {
	t.Parallel()
	q := NewQueue(1)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := q.Dequeue(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestQueueCloseIsIdempotent(t *testing.T) {
	t.Parallel()
	q := NewQueue(1)
	q.Close()
	q.Close()

	_, err := q.Dequeue(context.Background())
	require.Error(t, err)
}
