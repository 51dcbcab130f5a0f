package task

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Runner starts background work that must outlive the request that asked for
// it. Each task gets its own context bounded by the runner's timeout, and its
// error or panic goes to the log instead of being dropped.
type Runner struct {
	log     *zap.Logger
	timeout time.Duration
	wg      sync.WaitGroup
}

func New(log *zap.Logger, timeout time.Duration) *Runner {
	if log == nil {
		log = zap.NewNop()
	}
	if timeout <= 0 {
		timeout = 30 * time.Minute
	}
	return &Runner{log: log, timeout: timeout}
}

// Go runs fn on a new goroutine.
func (r *Runner) Go(name string, fn func(ctx context.Context) error) {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
		defer cancel()

		start := time.Now()
		if err := r.run(ctx, fn); err != nil {
			r.log.Error("background task failed",
				zap.String("task", name),
				zap.Duration("elapsed", time.Since(start)),
				zap.Error(err))
			return
		}
		r.log.Debug("background task finished", zap.String("task", name), zap.Duration("elapsed", time.Since(start)))
	}()
}

func (r *Runner) run(ctx context.Context, fn func(ctx context.Context) error) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("panic: %v\n%s", p, debug.Stack())
		}
	}()
	return fn(ctx)
}

// Wait blocks until every started task returns or ctx is done.
func (r *Runner) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
