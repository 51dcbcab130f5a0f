package queue

import (
	"context"
	"strconv"
	"sync"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"coursejobs/internal/models"
)

func newTestQueue(t *testing.T, desc Descriptor) (*RedisQueue, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisQueue(client, desc, time.Second), mr
}

func emailDescriptor() Descriptor {
	d, _ := Lookup(Email)
	return d
}

func TestRedisQueue_PushDequeueComplete(t *testing.T) {
	ctx := context.Background()
	q, mr := newTestQueue(t, emailDescriptor())

	job := models.Job{Type: models.JobSendWelcomeEmail, Payload: map[string]any{"email": "a@example.com", models.PayloadHistoryID: "h-1"}}
	require.NoError(t, q.Push(ctx, "h-1", job))

	depth, err := q.Depth(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), depth)

	d, err := q.Dequeue(ctx)
	require.NoError(t, err)
	require.NotNil(t, d)
	assert.Equal(t, "h-1", d.ID)
	assert.Equal(t, "h-1", d.HistoryID())
	assert.Equal(t, models.JobSendWelcomeEmail, d.Type)
	assert.Equal(t, "a@example.com", d.Payload["email"])
	assert.Equal(t, 0, d.Attempts)

	empty, err := q.Dequeue(ctx)
	require.NoError(t, err)
	assert.Nil(t, empty, "an in-flight job must not be delivered twice")

	require.NoError(t, q.Complete(ctx, d.ID))
	assert.False(t, mr.Exists("jobs:email:job:h-1"))
	recent, err := q.Recent(ctx, false, 10)
	require.NoError(t, err)
	assert.Equal(t, []string{"h-1"}, recent)
}

func TestRedisQueue_ConcurrentDequeueIsExclusive(t *testing.T) {
	ctx := context.Background()
	q, _ := newTestQueue(t, emailDescriptor())

	const jobs = 50
	for i := 0; i < jobs; i++ {
		id := "job-" + strconv.Itoa(i)
		require.NoError(t, q.Push(ctx, id, models.Job{Type: models.JobSendWelcomeEmail, Payload: map[string]any{}}))
	}

	var (
		mu   sync.Mutex
		seen = map[string]int{}
		wg   sync.WaitGroup
	)
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				d, err := q.Dequeue(ctx)
				if err != nil || d == nil {
					return
				}
				mu.Lock()
				seen[d.ID]++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Len(t, seen, jobs)
	for id, n := range seen {
		assert.Equal(t, 1, n, "job %s delivered %d times", id, n)
	}
}

func TestRedisQueue_RetryIsScheduledThenPromoted(t *testing.T) {
	ctx := context.Background()
	q, _ := newTestQueue(t, emailDescriptor())

	require.NoError(t, q.Push(ctx, "r-1", models.Job{Type: models.JobSendWelcomeEmail, Payload: map[string]any{}}))
	d, err := q.Dequeue(ctx)
	require.NoError(t, err)
	require.NotNil(t, d)

	runAt := time.Now().Add(time.Minute)
	require.NoError(t, q.Retry(ctx, d.ID, 1, runAt))

	n, err := q.PromoteScheduled(ctx, time.Now(), 10)
	require.NoError(t, err)
	assert.Equal(t, 0, n, "retry must wait for its backoff")

	n, err = q.PromoteScheduled(ctx, runAt.Add(time.Millisecond), 10)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	again, err := q.Dequeue(ctx)
	require.NoError(t, err)
	require.NotNil(t, again)
	assert.Equal(t, 1, again.Attempts)
}

func TestRedisQueue_RequeueExpiredLease(t *testing.T) {
	ctx := context.Background()
	q, _ := newTestQueue(t, emailDescriptor())

	require.NoError(t, q.Push(ctx, "l-1", models.Job{Type: models.JobSendWelcomeEmail, Payload: map[string]any{}}))
	d, err := q.Dequeue(ctx)
	require.NoError(t, err)
	require.NotNil(t, d)

	moved, err := q.RequeueExpired(ctx, time.Now(), 10)
	require.NoError(t, err)
	assert.Empty(t, moved)

	moved, err = q.RequeueExpired(ctx, time.Now().Add(q.Lease()+time.Second), 10)
	require.NoError(t, err)
	assert.Equal(t, []string{"l-1"}, moved)

	depth, err := q.Depth(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), depth)
}

func TestRedisQueue_RetentionTrimsTerminalLists(t *testing.T) {
	ctx := context.Background()
	desc := emailDescriptor()
	desc.RetentionCompleted = 2
	desc.RetentionFailed = 1
	q, _ := newTestQueue(t, desc)

	for _, id := range []string{"a", "b", "c"} {
		require.NoError(t, q.Push(ctx, id, models.Job{Type: models.JobSendWelcomeEmail, Payload: map[string]any{}}))
		d, err := q.Dequeue(ctx)
		require.NoError(t, err)
		require.NoError(t, q.Complete(ctx, d.ID))
	}
	for _, id := range []string{"x", "y"} {
		require.NoError(t, q.Push(ctx, id, models.Job{Type: models.JobSendWelcomeEmail, Payload: map[string]any{}}))
		d, err := q.Dequeue(ctx)
		require.NoError(t, err)
		require.NoError(t, q.Fail(ctx, d.ID))
	}

	completed, err := q.Recent(ctx, false, 10)
	require.NoError(t, err)
	assert.Equal(t, []string{"c", "b"}, completed)

	failed, err := q.Recent(ctx, true, 10)
	require.NoError(t, err)
	assert.Equal(t, []string{"y"}, failed)
}

func TestRedisQueue_DequeueDropsLeaseWithoutBody(t *testing.T) {
	ctx := context.Background()
	q, mr := newTestQueue(t, emailDescriptor())

	require.NoError(t, q.Push(ctx, "gone", models.Job{Type: models.JobSendWelcomeEmail, Payload: map[string]any{}}))
	mr.Del("jobs:email:job:gone")

	d, err := q.Dequeue(ctx)
	require.NoError(t, err)
	assert.Nil(t, d)
	members, err := mr.ZMembers("jobs:email:inflight")
	if err == nil {
		assert.Empty(t, members)
	}
}
