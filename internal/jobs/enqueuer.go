package jobs

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"coursejobs/internal/models"
	"coursejobs/internal/queue"
	"coursejobs/internal/telemetry"
)

// HistoryWriter persists the Pending history record of a new job.
type HistoryWriter interface {
	CreateHistory(ctx context.Context, id string, jobType models.JobType, data map[string]any) error
}

// Pusher appends a job to one queue.
type Pusher interface {
	Push(ctx context.Context, id string, job models.Job) error
}

// Enqueuer is the only way to submit background work. Callers name a job
// type; the queue is derived from the routing table.
type Enqueuer struct {
	history HistoryWriter
	queues  map[queue.Name]Pusher
	log     *zap.Logger
}

// NewEnqueuer requires a pusher for every declared queue.
func NewEnqueuer(history HistoryWriter, queues map[queue.Name]Pusher, log *zap.Logger) (*Enqueuer, error) {
	for _, d := range queue.Descriptors() {
		if queues[d.Name] == nil {
			return nil, fmt.Errorf("no pusher for queue %q", d.Name)
		}
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Enqueuer{history: history, queues: queues, log: log}, nil
}

// Enqueue records a Pending history entry and pushes the job. It returns the
// history id, which also travels in the payload under "historyId".
//
// If the push fails after the record is written, the record stays Pending and
// the stuck-pending audit reports it.
func (e *Enqueuer) Enqueue(ctx context.Context, jobType models.JobType, payload map[string]any) (string, error) {
	name, err := queue.Route(jobType)
	if err != nil {
		return "", err
	}

	id := uuid.New().String()
	data := make(map[string]any, len(payload)+1)
	for k, v := range payload {
		data[k] = v
	}
	data[models.PayloadHistoryID] = id

	if err := e.history.CreateHistory(ctx, id, jobType, data); err != nil {
		return "", fmt.Errorf("create history for %s: %w", jobType, err)
	}
	if err := e.queues[name].Push(ctx, id, models.Job{Type: jobType, Payload: data}); err != nil {
		e.log.Error("push failed, history left pending",
			zap.String("history_id", id),
			zap.String("job_type", string(jobType)),
			zap.String("queue", string(name)),
			zap.Error(err))
		return "", fmt.Errorf("push %s to %s: %w", jobType, name, err)
	}

	telemetry.JobsEnqueued.WithLabelValues(string(name)).Inc()
	e.log.Debug("job enqueued",
		zap.String("history_id", id),
		zap.String("job_type", string(jobType)),
		zap.String("queue", string(name)))
	return id, nil
}
