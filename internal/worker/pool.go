package worker

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"coursejobs/internal/telemetry"
)

// PoolConfig tunes the loops of a Pool.
type PoolConfig struct {
	PollInterval        time.Duration
	MaintenanceInterval time.Duration
	BatchSize           int64
}

// Pool runs Descriptor.Concurrency processors per queue plus one maintenance
// loop per queue, all sharing one cancellable context.
type Pool struct {
	queues     []JobQueue
	history    HistoryStore
	dispatcher Dispatcher
	cfg        PoolConfig
	log        *zap.Logger
}

func NewPool(queues []JobQueue, history HistoryStore, dispatcher Dispatcher, cfg PoolConfig, log *zap.Logger) *Pool {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Second
	}
	if cfg.MaintenanceInterval <= 0 {
		cfg.MaintenanceInterval = 2 * time.Second
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Pool{queues: queues, history: history, dispatcher: dispatcher, cfg: cfg, log: log}
}

// Run blocks until ctx is cancelled or a loop fails, then waits for every
// running attempt to finish.
func (p *Pool) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, q := range p.queues {
		desc := q.Descriptor()
		for i := 0; i < desc.Concurrency; i++ {
			proc := NewProcessor(q, p.history, p.dispatcher, p.cfg.PollInterval,
				p.log.With(zap.String("worker", fmt.Sprintf("%s-%d", desc.Name, i+1))))
			g.Go(func() error { return proc.Run(ctx) })
		}
		g.Go(func() error { return p.maintain(ctx, q) })
		p.log.Info("queue workers started",
			zap.String("queue", string(desc.Name)),
			zap.Int("concurrency", desc.Concurrency),
			zap.Int("max_attempts", desc.MaxAttempts))
	}
	return g.Wait()
}

// maintain promotes due retries, reclaims expired leases and samples depth.
func (p *Pool) maintain(ctx context.Context, q JobQueue) error {
	ticker := time.NewTicker(p.cfg.MaintenanceInterval)
	defer ticker.Stop()
	for {
		p.sweep(ctx, q)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (p *Pool) sweep(ctx context.Context, q JobQueue) {
	name := string(q.Descriptor().Name)
	log := p.log.With(zap.String("queue", name))
	now := time.Now()

	if _, err := q.PromoteScheduled(ctx, now, p.cfg.BatchSize); err != nil && ctx.Err() == nil {
		log.Warn("promote scheduled retries", zap.Error(err))
	}
	reclaimed, err := q.RequeueExpired(ctx, now, p.cfg.BatchSize)
	if err != nil && ctx.Err() == nil {
		log.Warn("requeue expired leases", zap.Error(err))
	}
	if len(reclaimed) > 0 {
		telemetry.JobsReclaimed.WithLabelValues(name).Add(float64(len(reclaimed)))
		log.Warn("reclaimed jobs with expired leases", zap.Strings("job_ids", reclaimed))
	}
	if depth, err := q.Depth(ctx); err == nil {
		telemetry.QueueDepth.WithLabelValues(name).Set(float64(depth))
	}
}
