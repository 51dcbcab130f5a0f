package worker

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"go.uber.org/zap"

	"coursejobs/internal/models"
	"coursejobs/internal/queue"
	"coursejobs/internal/telemetry"
)

// JobQueue is the slice of queue.RedisQueue a worker drives.
type JobQueue interface {
	Descriptor() queue.Descriptor
	Lease() time.Duration
	Dequeue(ctx context.Context) (*queue.Delivery, error)
	ExtendLease(ctx context.Context, id string) error
	Complete(ctx context.Context, id string) error
	Fail(ctx context.Context, id string) error
	Retry(ctx context.Context, id string, attempts int, runAt time.Time) error
	PromoteScheduled(ctx context.Context, now time.Time, limit int64) (int, error)
	RequeueExpired(ctx context.Context, now time.Time, limit int64) ([]string, error)
	Depth(ctx context.Context) (int64, error)
}

// HistoryStore records attempt state transitions.
type HistoryStore interface {
	ClaimHistory(ctx context.Context, id string, staleAfter time.Duration) (bool, models.JobStatus, error)
	CompleteHistory(ctx context.Context, id string, duration time.Duration) error
	RetryHistory(ctx context.Context, id string, message string, duration time.Duration) error
	FailHistory(ctx context.Context, id string, message string, duration time.Duration) error
}

// Dispatcher runs the business handler of a job.
type Dispatcher interface {
	Dispatch(ctx context.Context, job models.Job, historyID string) (models.SideEffectSummary, error)
}

// Processor drives the execution loop of one queue slot.
type Processor struct {
	queue        JobQueue
	history      HistoryStore
	dispatcher   Dispatcher
	pollInterval time.Duration
	log          *zap.Logger
	now          func() time.Time
}

func NewProcessor(q JobQueue, history HistoryStore, dispatcher Dispatcher, pollInterval time.Duration, log *zap.Logger) *Processor {
	if pollInterval <= 0 {
		pollInterval = time.Second
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Processor{
		queue:        q,
		history:      history,
		dispatcher:   dispatcher,
		pollInterval: pollInterval,
		log:          log,
		now:          time.Now,
	}
}

// Run processes jobs until ctx is cancelled. An attempt already running when
// ctx is cancelled finishes first.
func (p *Processor) Run(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		worked, err := p.processNext(ctx)
		if err != nil {
			p.log.Warn("dequeue failed", zap.Error(err))
		}
		if worked {
			continue
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(p.pollInterval):
		}
	}
}

// processNext leases and runs one job. It reports whether a job was handled.
func (p *Processor) processNext(ctx context.Context) (bool, error) {
	d, err := p.queue.Dequeue(ctx)
	if err != nil {
		return false, err
	}
	if d == nil {
		return false, nil
	}
	p.process(context.WithoutCancel(ctx), d)
	return true, nil
}

func (p *Processor) process(ctx context.Context, d *queue.Delivery) {
	desc := p.queue.Descriptor()
	historyID := d.HistoryID()
	log := p.log.With(
		zap.String("queue", string(desc.Name)),
		zap.String("job_id", d.ID),
		zap.String("history_id", historyID),
		zap.String("job_type", string(d.Type)))

	claimed, status, err := p.history.ClaimHistory(ctx, historyID, p.queue.Lease())
	if err != nil {
		// History unavailable: put the job back without spending an attempt.
		log.Error("claim history failed", zap.Error(err))
		if err := p.queue.Retry(ctx, d.ID, d.Attempts, p.now().Add(p.pollInterval)); err != nil {
			log.Error("reschedule after claim failure", zap.Error(err))
		}
		return
	}
	if !claimed {
		switch status {
		case models.StatusProcessing:
			// The owner may have died after claiming. Check again once its
			// claim could have gone stale; a live owner's ack makes that a no-op.
			log.Info("job owned by another worker, checking again later")
			if err := p.queue.Retry(ctx, d.ID, d.Attempts, p.now().Add(p.queue.Lease())); err != nil {
				log.Error("reschedule owned job", zap.Error(err))
			}
		default:
			log.Info("job already settled, acknowledging", zap.String("status", string(status)))
			if err := p.queue.Complete(ctx, d.ID); err != nil {
				log.Error("acknowledge settled job", zap.Error(err))
			}
		}
		return
	}

	attempt := d.Attempts + 1
	stopHeartbeat := p.heartbeat(ctx, d.ID, log)
	telemetry.InFlight.WithLabelValues(string(desc.Name)).Inc()

	start := p.now()
	runCtx, cancel := context.WithTimeout(ctx, desc.Timeout)
	summary, runErr := p.run(runCtx, models.Job{Type: d.Type, Payload: d.Payload}, historyID)
	cancel()
	duration := p.now().Sub(start)

	stopHeartbeat()
	telemetry.InFlight.WithLabelValues(string(desc.Name)).Dec()

	if runErr == nil {
		telemetry.JobDuration.WithLabelValues(string(desc.Name), "completed").Observe(duration.Seconds())
		if err := p.history.CompleteHistory(ctx, historyID, duration); err != nil {
			log.Error("record completion", zap.Error(err))
		}
		if err := p.queue.Complete(ctx, d.ID); err != nil {
			log.Error("acknowledge job", zap.Error(err))
		}
		telemetry.JobsCompleted.WithLabelValues(string(desc.Name)).Inc()
		log.Info("job completed",
			zap.Int("attempt", attempt),
			zap.Duration("duration", duration),
			zap.Any("summary", summary))
		return
	}

	telemetry.JobDuration.WithLabelValues(string(desc.Name), "failed").Observe(duration.Seconds())

	if attempt < desc.MaxAttempts {
		if err := p.history.RetryHistory(ctx, historyID, runErr.Error(), duration); err != nil {
			log.Error("record failed attempt", zap.Error(err))
		}
		delay := desc.Backoff.Delay(attempt)
		if err := p.queue.Retry(ctx, d.ID, attempt, p.now().Add(delay)); err != nil {
			log.Error("schedule retry", zap.Error(err))
		}
		telemetry.JobsRetried.WithLabelValues(string(desc.Name)).Inc()
		log.Warn("job attempt failed, retry scheduled",
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", desc.MaxAttempts),
			zap.Duration("retry_in", delay),
			zap.Error(runErr))
		return
	}

	if err := p.history.FailHistory(ctx, historyID, runErr.Error(), duration); err != nil {
		log.Error("record failure", zap.Error(err))
	}
	if err := p.queue.Fail(ctx, d.ID); err != nil {
		log.Error("move exhausted job to failed list", zap.Error(err))
	}
	telemetry.JobsExhausted.WithLabelValues(string(desc.Name)).Inc()
	log.Error("job failed permanently",
		zap.Int("attempts", attempt),
		zap.Error(runErr))
}

// run calls the handler, turning a panic into an error.
func (p *Processor) run(ctx context.Context, job models.Job, historyID string) (summary models.SideEffectSummary, err error) {
	defer func() {
		if r := recover(); r != nil {
			p.log.Error("job handler panicked",
				zap.String("job_type", string(job.Type)),
				zap.Any("panic", r),
				zap.ByteString("stack", debug.Stack()))
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return p.dispatcher.Dispatch(ctx, job, historyID)
}

// heartbeat keeps the lease of a running attempt alive. The returned func
// stops it and waits for the goroutine to exit.
func (p *Processor) heartbeat(ctx context.Context, id string, log *zap.Logger) func() {
	interval := p.queue.Lease() / 3
	if interval <= 0 {
		return func() {}
	}
	done := make(chan struct{})
	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				if err := p.queue.ExtendLease(ctx, id); err != nil {
					log.Warn("extend lease", zap.Error(err))
				}
			}
		}
	}()
	return func() {
		close(done)
		<-stopped
	}
}
