package jobs

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"coursejobs/internal/models"
)

type fakeFinder struct {
	records []models.JobHistoryRecord
	cutoffs []time.Time
}

func (f *fakeFinder) CountStuckPending(_ context.Context, cutoff time.Time) (int64, error) {
	f.cutoffs = append(f.cutoffs, cutoff)
	var n int64
	for _, r := range f.records {
		if r.Status == models.StatusPending && r.CreatedAt.Before(cutoff) {
			n++
		}
	}
	return n, nil
}

func (f *fakeFinder) StuckPending(_ context.Context, cutoff time.Time, limit int) ([]models.JobHistoryRecord, error) {
	var out []models.JobHistoryRecord
	for _, r := range f.records {
		if len(out) == limit {
			break
		}
		if r.Status == models.StatusPending && r.CreatedAt.Before(cutoff) {
			out = append(out, r)
		}
	}
	return out, nil
}

func TestAuditor_CountsOnlyOldPending(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	finder := &fakeFinder{records: []models.JobHistoryRecord{
		{ID: "old", Status: models.StatusPending, CreatedAt: now.Add(-time.Hour)},
		{ID: "fresh", Status: models.StatusPending, CreatedAt: now.Add(-time.Minute)},
		{ID: "done", Status: models.StatusCompleted, CreatedAt: now.Add(-2 * time.Hour)},
	}}
	a := NewAuditor(finder, time.Minute, 15*time.Minute, nil)
	a.now = func() time.Time { return now }

	n, err := a.Audit(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	require.Len(t, finder.cutoffs, 1)
	assert.Equal(t, now.Add(-15*time.Minute), finder.cutoffs[0])
}

func TestAuditor_RunStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	a := NewAuditor(&fakeFinder{}, 10*time.Millisecond, time.Minute, nil)

	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()
	time.Sleep(30 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("auditor did not stop")
	}
}
