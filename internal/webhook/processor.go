package webhook

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"coursejobs/internal/billing"
	"coursejobs/internal/models"
	"coursejobs/internal/telemetry"
)

var (
	ErrMalformedEvent  = errors.New("malformed webhook event")
	ErrUnknownEndpoint = errors.New("unknown webhook endpoint")
)

// Endpoint identifies which provider account a delivery was sent for. Each
// endpoint has its own signing secret and its own set of handled event types.
type Endpoint string

const (
	EndpointBilling Endpoint = "billing"
	EndpointConnect Endpoint = "connect"
)

// Outcome describes how an accepted delivery was resolved. Every outcome is
// acknowledged to the sender.
type Outcome string

const (
	OutcomeProcessed Outcome = "processed"
	OutcomeDuplicate Outcome = "duplicate"
	OutcomeIgnored   Outcome = "ignored"
	OutcomeOrphaned  Outcome = "orphaned"
)

// Ledger is the durable event log plus the transaction reconciliation runs in.
type Ledger interface {
	EventRecorded(ctx context.Context, eventID string) (bool, error)
	InTx(ctx context.Context, fn func(billing.Tx) error) error
}

type Enqueuer interface {
	Enqueue(ctx context.Context, jobType models.JobType, payload map[string]any) (string, error)
}

type CacheInvalidator interface {
	Invalidate(ctx context.Context, slugs ...string) error
}

type reconcileFunc func(ctx context.Context, tx billing.Tx, ev billing.Event) (billing.Result, error)

// Processor verifies, deduplicates and applies webhook deliveries. An event is
// applied at most once: the ledger row is written in the same transaction as
// the state change, and its unique event id rejects concurrent duplicates.
type Processor struct {
	ledger     Ledger
	reconciler *billing.Reconciler
	enqueuer   Enqueuer
	cache      CacheInvalidator
	verifiers  map[Endpoint]*Verifier
	log        *zap.Logger
}

func NewProcessor(ledger Ledger, reconciler *billing.Reconciler, enqueuer Enqueuer, cache CacheInvalidator, secrets map[Endpoint]string, tolerance time.Duration, log *zap.Logger) *Processor {
	if log == nil {
		log = zap.NewNop()
	}
	verifiers := make(map[Endpoint]*Verifier, len(secrets))
	for ep, secret := range secrets {
		verifiers[ep] = NewVerifier(secret, tolerance)
	}
	return &Processor{
		ledger:     ledger,
		reconciler: reconciler,
		enqueuer:   enqueuer,
		cache:      cache,
		verifiers:  verifiers,
		log:        log,
	}
}

func (p *Processor) handlerFor(endpoint Endpoint, eventType string) reconcileFunc {
	switch endpoint {
	case EndpointBilling:
		switch eventType {
		case "customer.subscription.created", "customer.subscription.updated":
			return p.reconciler.SubscriptionChanged
		case "customer.subscription.deleted":
			return p.reconciler.SubscriptionDeleted
		case "checkout.session.completed":
			return p.reconciler.CheckoutCompleted
		}
	case EndpointConnect:
		switch eventType {
		case "account.updated":
			return p.reconciler.AccountUpdated
		case "checkout.session.completed":
			return p.reconciler.CheckoutCompleted
		}
	}
	return nil
}

// Handle processes one delivery. A nil error means the sender should be
// acknowledged; ErrInvalidSignature and ErrMalformedEvent are client errors;
// anything else is transient and the sender should redeliver.
func (p *Processor) Handle(ctx context.Context, endpoint Endpoint, signature string, body []byte) (Outcome, error) {
	outcome, err := p.handle(ctx, endpoint, signature, body)
	label := string(outcome)
	switch {
	case errors.Is(err, ErrInvalidSignature):
		label = "rejected"
	case errors.Is(err, ErrMalformedEvent):
		label = "malformed"
	case err != nil:
		label = "failed"
	}
	telemetry.WebhookEvents.WithLabelValues(string(endpoint), label).Inc()
	return outcome, err
}

func (p *Processor) handle(ctx context.Context, endpoint Endpoint, signature string, body []byte) (Outcome, error) {
	verifier, ok := p.verifiers[endpoint]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownEndpoint, endpoint)
	}
	if err := verifier.Verify(signature, body); err != nil {
		return "", err
	}

	ev, err := billing.ParseEvent(body)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}
	log := p.log.With(
		zap.String("endpoint", string(endpoint)),
		zap.String("event_id", ev.ID),
		zap.String("event_type", ev.Type))

	recorded, err := p.ledger.EventRecorded(ctx, ev.ID)
	if err != nil {
		return "", fmt.Errorf("ledger lookup %s: %w", ev.ID, err)
	}
	if recorded {
		log.Info("duplicate webhook event acknowledged")
		return OutcomeDuplicate, nil
	}

	reconcile := p.handlerFor(endpoint, ev.Type)
	if reconcile == nil {
		log.Debug("unhandled webhook event type ignored")
		return OutcomeIgnored, nil
	}

	var res billing.Result
	err = p.ledger.InTx(ctx, func(tx billing.Tx) error {
		r, err := reconcile(ctx, tx, ev)
		if err != nil {
			return err
		}
		inserted, err := tx.InsertLedgerEntry(ctx, r.Ledger)
		if err != nil {
			return fmt.Errorf("insert ledger entry: %w", err)
		}
		if !inserted {
			return billing.ErrDuplicateEvent
		}
		res = r
		return nil
	})
	switch {
	case errors.Is(err, billing.ErrDuplicateEvent):
		log.Info("concurrent duplicate webhook event rolled back")
		return OutcomeDuplicate, nil
	case errors.Is(err, billing.ErrUnknownEntity):
		log.Warn("webhook event refers to unknown entity, acknowledged", zap.Error(err))
		return OutcomeOrphaned, nil
	case errors.Is(err, billing.ErrInvalidObject):
		return "", fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	case err != nil:
		log.Error("webhook reconciliation failed", zap.Error(err))
		return "", fmt.Errorf("reconcile %s: %w", ev.ID, err)
	}

	p.afterCommit(context.WithoutCancel(ctx), log, res)
	log.Info("webhook event processed", zap.String("tenant_id", res.TenantID))
	return OutcomeProcessed, nil
}

// afterCommit runs side effects of a committed reconciliation. Failures are
// logged only; the state change stands.
func (p *Processor) afterCommit(ctx context.Context, log *zap.Logger, res billing.Result) {
	for _, job := range res.Jobs {
		if _, err := p.enqueuer.Enqueue(ctx, job.Type, job.Payload); err != nil {
			log.Error("post-commit enqueue failed",
				zap.String("job_type", string(job.Type)),
				zap.Error(err))
		}
	}
	if len(res.InvalidateSlugs) > 0 && p.cache != nil {
		if err := p.cache.Invalidate(ctx, res.InvalidateSlugs...); err != nil {
			log.Error("tenant cache invalidation failed",
				zap.Strings("slugs", res.InvalidateSlugs),
				zap.Error(err))
		}
	}
}
