package jobs

import (
	"context"
	"time"

	"go.uber.org/zap"

	"coursejobs/internal/models"
	"coursejobs/internal/telemetry"
)

// PendingFinder reads history records that never left Pending.
type PendingFinder interface {
	CountStuckPending(ctx context.Context, cutoff time.Time) (int64, error)
	StuckPending(ctx context.Context, cutoff time.Time, limit int) ([]models.JobHistoryRecord, error)
}

// Auditor periodically reports pending records older than a threshold. These
// are jobs whose push failed after the history write, or whose queue entry was lost.
type Auditor struct {
	finder    PendingFinder
	interval  time.Duration
	threshold time.Duration
	log       *zap.Logger
	now       func() time.Time
}

const auditSampleSize = 20

func NewAuditor(finder PendingFinder, interval, threshold time.Duration, log *zap.Logger) *Auditor {
	if log == nil {
		log = zap.NewNop()
	}
	return &Auditor{finder: finder, interval: interval, threshold: threshold, log: log, now: time.Now}
}

// Run audits once immediately and then on every tick until ctx is done.
func (a *Auditor) Run(ctx context.Context) error {
	ticker := time.NewTicker(a.interval)
	defer ticker.Stop()
	for {
		if _, err := a.Audit(ctx); err != nil && ctx.Err() == nil {
			a.log.Warn("stuck pending audit failed", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Audit runs one pass and returns the number of stuck records.
func (a *Auditor) Audit(ctx context.Context) (int64, error) {
	cutoff := a.now().Add(-a.threshold)
	n, err := a.finder.CountStuckPending(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	telemetry.StuckPending.Set(float64(n))
	if n == 0 {
		return 0, nil
	}

	sample, err := a.finder.StuckPending(ctx, cutoff, auditSampleSize)
	if err != nil {
		return n, err
	}
	for _, rec := range sample {
		a.log.Warn("job stuck in pending",
			zap.String("history_id", rec.ID),
			zap.String("job_type", string(rec.JobType)),
			zap.Time("created_at", rec.CreatedAt))
	}
	return n, nil
}
