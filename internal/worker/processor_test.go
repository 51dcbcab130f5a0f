package worker

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"coursejobs/internal/jobs"
	"coursejobs/internal/models"
	"coursejobs/internal/queue"
)

// tunedQueue overrides the policy of a real queue so tests run fast.
type tunedQueue struct {
	*queue.RedisQueue
	desc queue.Descriptor
}

func (q tunedQueue) Descriptor() queue.Descriptor { return q.desc }

func newRedis(t *testing.T) *redis.Client {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	return redis.NewClient(&redis.Options{Addr: mr.Addr()})
}

func emailQueue(t *testing.T, client *redis.Client) *queue.RedisQueue {
	t.Helper()
	desc, ok := queue.Lookup(queue.Email)
	require.True(t, ok)
	return queue.NewRedisQueue(client, desc, time.Second)
}

func pushJob(t *testing.T, q JobQueue, hist *memHistory, id string, jobType models.JobType) {
	t.Helper()
	payload := map[string]any{models.PayloadHistoryID: id}
	require.NoError(t, hist.CreateHistory(context.Background(), id, jobType, payload))
	pusher, ok := q.(jobs.Pusher)
	require.True(t, ok)
	require.NoError(t, pusher.Push(context.Background(), id, models.Job{Type: jobType, Payload: payload}))
}

func TestProcessor_WelcomeEmailScenario(t *testing.T) {
	ctx := context.Background()
	client := newRedis(t)
	hist := newMemHistory()

	pushers := map[queue.Name]jobs.Pusher{}
	for _, d := range queue.Descriptors() {
		pushers[d.Name] = queue.NewRedisQueue(client, d, time.Second)
	}
	enq, err := jobs.NewEnqueuer(hist, pushers, nil)
	require.NoError(t, err)

	mailer := &fakeMailer{}
	handlers := NewHandlers(Dependencies{
		Mailer:    mailer,
		Directory: fakeDirectory{users: map[string]models.Contact{"u-1": {Email: "ada@example.com", Name: "Ada"}}},
	}, nil)

	historyID, err := enq.Enqueue(ctx, models.JobSendWelcomeEmail, map[string]any{"userId": "u-1"})
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, hist.get(historyID).Status)

	proc := NewProcessor(emailQueue(t, client), hist, handlers, 10*time.Millisecond, nil)
	worked, err := proc.processNext(ctx)
	require.NoError(t, err)
	require.True(t, worked)

	rec := hist.get(historyID)
	assert.Equal(t, models.StatusCompleted, rec.Status)
	require.NotNil(t, rec.DurationMs)
	assert.GreaterOrEqual(t, *rec.DurationMs, int64(0))
	assert.Equal(t, 1, rec.Attempts)
	assert.Nil(t, rec.ErrorMessage)

	require.Len(t, mailer.sent, 1)
	assert.Equal(t, historyID, mailer.sent[0].ID)
	assert.Equal(t, "welcome", mailer.sent[0].Template)
}

func TestProcessor_RetryExhaustionAfterMaxAttempts(t *testing.T) {
	ctx := context.Background()
	client := newRedis(t)
	hist := newMemHistory()
	q := emailQueue(t, client)

	calls := 0
	proc := NewProcessor(q, hist, dispatchFunc(func(context.Context, models.Job, string) (models.SideEffectSummary, error) {
		calls++
		return nil, errors.New("smtp unavailable")
	}), time.Millisecond, nil)

	pushJob(t, q, hist, "h-1", models.JobSendWelcomeEmail)
	for i := 0; i < 10; i++ {
		worked, err := proc.processNext(ctx)
		require.NoError(t, err)
		if worked {
			continue
		}
		promoted, err := q.PromoteScheduled(ctx, time.Now().Add(24*time.Hour), 10)
		require.NoError(t, err)
		if promoted == 0 {
			break
		}
	}

	assert.Equal(t, q.Descriptor().MaxAttempts, calls)
	rec := hist.get("h-1")
	assert.Equal(t, models.StatusFailed, rec.Status)
	assert.Equal(t, 3, rec.Attempts)
	require.NotNil(t, rec.ErrorMessage)
	assert.Equal(t, "smtp unavailable", *rec.ErrorMessage)

	failed, err := q.Recent(ctx, true, 10)
	require.NoError(t, err)
	assert.Equal(t, []string{"h-1"}, failed)
	depth, err := q.Depth(ctx)
	require.NoError(t, err)
	assert.Zero(t, depth)
}

func TestProcessor_ExclusiveOwnership(t *testing.T) {
	client := newRedis(t)
	hist := newMemHistory()
	q := emailQueue(t, client)

	const total = 30
	for i := 0; i < total; i++ {
		pushJob(t, q, hist, "h-"+strconv.Itoa(i), models.JobSendWelcomeEmail)
	}

	var (
		mu    sync.Mutex
		seen  = map[string]int{}
		done  int
		alert = make(chan struct{})
	)
	dispatcher := dispatchFunc(func(_ context.Context, _ models.Job, historyID string) (models.SideEffectSummary, error) {
		time.Sleep(time.Millisecond)
		mu.Lock()
		defer mu.Unlock()
		seen[historyID]++
		done++
		if done == total {
			close(alert)
		}
		return nil, nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		proc := NewProcessor(q, hist, dispatcher, time.Millisecond, nil)
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = proc.Run(ctx)
		}()
	}

	select {
	case <-alert:
	case <-time.After(5 * time.Second):
		t.Fatal("jobs were not processed in time")
	}
	cancel()
	wg.Wait()

	assert.Len(t, seen, total)
	for id, n := range seen {
		assert.Equal(t, 1, n, "job %s ran %d times", id, n)
		assert.Equal(t, models.StatusCompleted, hist.get(id).Status)
	}
}

func TestProcessor_PanicIsRecorded(t *testing.T) {
	ctx := context.Background()
	client := newRedis(t)
	hist := newMemHistory()
	q := emailQueue(t, client)

	proc := NewProcessor(q, hist, dispatchFunc(func(_ context.Context, _ models.Job, historyID string) (models.SideEffectSummary, error) {
		if historyID == "h-bad" {
			panic("nil template")
		}
		return models.SideEffectSummary{"ok": true}, nil
	}), time.Millisecond, nil)

	pushJob(t, q, hist, "h-bad", models.JobSendWelcomeEmail)
	pushJob(t, q, hist, "h-good", models.JobSendWelcomeEmail)

	for i := 0; i < 2; i++ {
		worked, err := proc.processNext(ctx)
		require.NoError(t, err)
		require.True(t, worked)
	}

	bad := hist.get("h-bad")
	assert.Equal(t, models.StatusPending, bad.Status, "a retryable attempt is not terminal")
	require.NotNil(t, bad.ErrorMessage)
	assert.Contains(t, *bad.ErrorMessage, "nil template")
	assert.Equal(t, models.StatusCompleted, hist.get("h-good").Status)
}

func TestProcessor_AttemptTimeout(t *testing.T) {
	ctx := context.Background()
	client := newRedis(t)
	hist := newMemHistory()
	base := emailQueue(t, client)
	desc := base.Descriptor()
	desc.Timeout = 20 * time.Millisecond
	q := tunedQueue{RedisQueue: base, desc: desc}

	proc := NewProcessor(q, hist, dispatchFunc(func(ctx context.Context, _ models.Job, _ string) (models.SideEffectSummary, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}), time.Millisecond, nil)

	pushJob(t, q, hist, "h-slow", models.JobSendWelcomeEmail)
	worked, err := proc.processNext(ctx)
	require.NoError(t, err)
	require.True(t, worked)

	rec := hist.get("h-slow")
	assert.Equal(t, models.StatusPending, rec.Status)
	require.NotNil(t, rec.ErrorMessage)
	assert.Contains(t, *rec.ErrorMessage, context.DeadlineExceeded.Error())
}

func TestProcessor_SettledOrOwnedJobsAreNotRerun(t *testing.T) {
	ctx := context.Background()
	client := newRedis(t)
	hist := newMemHistory()
	q := emailQueue(t, client)

	calls := 0
	proc := NewProcessor(q, hist, dispatchFunc(func(context.Context, models.Job, string) (models.SideEffectSummary, error) {
		calls++
		return nil, nil
	}), time.Millisecond, nil)

	pushJob(t, q, hist, "h-done", models.JobSendWelcomeEmail)
	require.NoError(t, hist.CompleteHistory(ctx, "h-done", time.Second))
	worked, err := proc.processNext(ctx)
	require.NoError(t, err)
	require.True(t, worked)
	completed, err := q.Recent(ctx, false, 10)
	require.NoError(t, err)
	assert.Equal(t, []string{"h-done"}, completed)

	pushJob(t, q, hist, "h-busy", models.JobSendWelcomeEmail)
	claimed, _, err := hist.ClaimHistory(ctx, "h-busy", time.Hour)
	require.NoError(t, err)
	require.True(t, claimed)
	worked, err = proc.processNext(ctx)
	require.NoError(t, err)
	require.True(t, worked)

	inflight, err := client.ZCard(ctx, "jobs:email:inflight").Result()
	require.NoError(t, err)
	assert.Zero(t, inflight)
	scheduled, err := client.ZCard(ctx, "jobs:email:scheduled").Result()
	require.NoError(t, err)
	assert.EqualValues(t, 1, scheduled, "an owned job is checked again later")
	assert.EqualValues(t, 1, client.Exists(ctx, "jobs:email:job:h-busy").Val())
	assert.Equal(t, 1, hist.get("h-busy").Attempts)
	assert.Zero(t, calls)
}

func TestProcessor_ReclaimsJobAfterOwnerDies(t *testing.T) {
	ctx := context.Background()
	client := newRedis(t)
	hist := newMemHistory()
	desc, ok := queue.Lookup(queue.Email)
	require.True(t, ok)
	desc.Timeout = 50 * time.Millisecond
	q := queue.NewRedisQueue(client, desc, 150*time.Millisecond)

	var mu sync.Mutex
	calls := 0
	proc := NewProcessor(q, hist, dispatchFunc(func(context.Context, models.Job, string) (models.SideEffectSummary, error) {
		mu.Lock()
		defer mu.Unlock()
		calls++
		return nil, nil
	}), time.Millisecond, nil)

	pushJob(t, q, hist, "h-1", models.JobSendWelcomeEmail)

	// First worker leases and claims the job, then dies without a word.
	d, err := q.Dequeue(ctx)
	require.NoError(t, err)
	require.NotNil(t, d)
	claimed, _, err := hist.ClaimHistory(ctx, d.HistoryID(), q.Lease())
	require.NoError(t, err)
	require.True(t, claimed)

	moved, err := q.RequeueExpired(ctx, time.Now().Add(time.Hour), 10)
	require.NoError(t, err)
	assert.Equal(t, []string{"h-1"}, moved)

	// The claim is still fresh, so the job is parked rather than dropped.
	worked, err := proc.processNext(ctx)
	require.NoError(t, err)
	require.True(t, worked)
	assert.Equal(t, models.StatusProcessing, hist.get("h-1").Status)
	scheduled, err := client.ZCard(ctx, "jobs:email:scheduled").Result()
	require.NoError(t, err)
	assert.EqualValues(t, 1, scheduled)

	require.Eventually(t, func() bool {
		if _, err := q.PromoteScheduled(ctx, time.Now(), 10); err != nil {
			return false
		}
		if _, err := proc.processNext(ctx); err != nil {
			return false
		}
		return hist.get("h-1").Status == models.StatusCompleted
	}, 3*time.Second, 10*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 1, calls)
	assert.Equal(t, 2, hist.get("h-1").Attempts)
	completed, err := q.Recent(ctx, false, 10)
	require.NoError(t, err)
	assert.Equal(t, []string{"h-1"}, completed)
}

func TestProcessor_FailedAttemptStaysPendingUntilExhausted(t *testing.T) {
	ctx := context.Background()
	client := newRedis(t)
	hist := newMemHistory()
	q := emailQueue(t, client)

	proc := NewProcessor(q, hist, dispatchFunc(func(context.Context, models.Job, string) (models.SideEffectSummary, error) {
		return nil, errors.New("smtp unavailable")
	}), time.Millisecond, nil)

	pushJob(t, q, hist, "h-1", models.JobSendWelcomeEmail)
	worked, err := proc.processNext(ctx)
	require.NoError(t, err)
	require.True(t, worked)

	rec := hist.get("h-1")
	assert.Equal(t, models.StatusPending, rec.Status)
	assert.Equal(t, 1, rec.Attempts)
	require.NotNil(t, rec.ErrorMessage)
	assert.Equal(t, "smtp unavailable", *rec.ErrorMessage)

	failed, err := q.Recent(ctx, true, 10)
	require.NoError(t, err)
	assert.Empty(t, failed)
}

func TestProcessor_ClaimFailureKeepsJob(t *testing.T) {
	ctx := context.Background()
	client := newRedis(t)
	hist := newMemHistory()
	q := emailQueue(t, client)
	proc := NewProcessor(q, hist, dispatchFunc(func(context.Context, models.Job, string) (models.SideEffectSummary, error) {
		return nil, nil
	}), time.Millisecond, nil)

	pushJob(t, q, hist, "h-1", models.JobSendWelcomeEmail)
	hist.claimErr = errors.New("db down")
	worked, err := proc.processNext(ctx)
	require.NoError(t, err)
	require.True(t, worked)

	hist.claimErr = nil
	promoted, err := q.PromoteScheduled(ctx, time.Now().Add(time.Minute), 10)
	require.NoError(t, err)
	assert.Equal(t, 1, promoted)

	worked, err = proc.processNext(ctx)
	require.NoError(t, err)
	require.True(t, worked)
	assert.Equal(t, models.StatusCompleted, hist.get("h-1").Status)
}

func TestPool_RunsRetriesAndStops(t *testing.T) {
	client := newRedis(t)
	hist := newMemHistory()
	base := emailQueue(t, client)
	desc := base.Descriptor()
	desc.Concurrency = 2
	desc.Backoff = queue.Backoff{Type: queue.BackoffFixed, BaseDelay: 10 * time.Millisecond}
	q := tunedQueue{RedisQueue: base, desc: desc}

	var (
		mu    sync.Mutex
		calls int
	)
	dispatcher := dispatchFunc(func(context.Context, models.Job, string) (models.SideEffectSummary, error) {
		mu.Lock()
		defer mu.Unlock()
		calls++
		if calls == 1 {
			return nil, errors.New("transient")
		}
		return nil, nil
	})
	pushJob(t, q, hist, "h-1", models.JobSendWelcomeEmail)

	pool := NewPool([]JobQueue{q}, hist, dispatcher, PoolConfig{
		PollInterval:        time.Millisecond,
		MaintenanceInterval: 5 * time.Millisecond,
	}, nil)
	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- pool.Run(ctx) }()

	require.Eventually(t, func() bool {
		return hist.get("h-1").Status == models.StatusCompleted
	}, 5*time.Second, 5*time.Millisecond)
	cancel()

	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("pool did not stop")
	}
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 2, calls)
	assert.Equal(t, 2, hist.get("h-1").Attempts)
}
