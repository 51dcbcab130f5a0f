package billing

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"coursejobs/internal/models"
)

// Result is what a reconciliation produced inside its transaction. Jobs and
// InvalidateSlugs are side effects, run only after the transaction commits.
type Result struct {
	TenantID        string
	Ledger          models.WebhookLedgerEntry
	Jobs            []models.Job
	InvalidateSlugs []string
}

// Reconciler applies payment-provider events to local state.
type Reconciler struct {
	catalog  *Catalog
	statuses StatusMapper
	log      *zap.Logger
	newID    func() string
}

func NewReconciler(catalog *Catalog, statuses StatusMapper, log *zap.Logger) *Reconciler {
	if log == nil {
		log = zap.NewNop()
	}
	return &Reconciler{
		catalog:  catalog,
		statuses: statuses,
		log:      log,
		newID:    func() string { return uuid.New().String() },
	}
}

type billingSnapshot struct {
	Plan               models.Plan               `json:"plan"`
	SubscriptionStatus models.SubscriptionStatus `json:"subscription_status"`
	CommissionRate     float64                   `json:"commission_rate"`
	TrialEndsAt        *time.Time                `json:"trial_ends_at"`
}

func snapshot(s models.TenantBillingState) billingSnapshot {
	return billingSnapshot{
		Plan:               s.Plan,
		SubscriptionStatus: s.SubscriptionStatus,
		CommissionRate:     s.CommissionRate,
		TrialEndsAt:        s.TrialEndsAt,
	}
}

func ledgerEntry(ev Event, tenantID string, prev, next any) (models.WebhookLedgerEntry, error) {
	prevJSON, err := json.Marshal(prev)
	if err != nil {
		return models.WebhookLedgerEntry{}, fmt.Errorf("marshal previous state: %w", err)
	}
	nextJSON, err := json.Marshal(next)
	if err != nil {
		return models.WebhookLedgerEntry{}, fmt.Errorf("marshal new state: %w", err)
	}
	return models.WebhookLedgerEntry{
		StripeEventID: ev.ID,
		TenantID:      tenantID,
		EventType:     ev.Type,
		PreviousState: prevJSON,
		NewState:      nextJSON,
		RawPayload:    ev.Raw,
	}, nil
}

func (r *Reconciler) lockSubscriptionTenant(ctx context.Context, tx Tx, sub Subscription) (models.TenantBillingState, error) {
	if id := sub.Metadata["tenant_id"]; id != "" {
		return tx.LockTenant(ctx, id)
	}
	return tx.LockTenantBySubscription(ctx, sub.ID, sub.Customer)
}

// SubscriptionChanged handles customer.subscription.created and .updated.
func (r *Reconciler) SubscriptionChanged(ctx context.Context, tx Tx, ev Event) (Result, error) {
	var sub Subscription
	if err := ev.Decode(&sub); err != nil {
		return Result{}, err
	}
	prev, err := r.lockSubscriptionTenant(ctx, tx, sub)
	if err != nil {
		return Result{}, err
	}

	change := ApplySubscription(prev, sub, r.catalog, r.statuses)
	if !change.StatusMapped {
		r.log.Warn("unmapped subscription status, using fallback",
			zap.String("event_id", ev.ID),
			zap.String("upstream_status", sub.Status),
			zap.String("status", string(change.Next.SubscriptionStatus)))
	}
	if !change.PriceResolved {
		r.log.Info("unknown price id, plan unchanged",
			zap.String("event_id", ev.ID),
			zap.String("price_id", sub.PriceID()),
			zap.String("plan", string(prev.Plan)))
	}
	next := change.Next
	if err := tx.UpdateTenantBilling(ctx, next); err != nil {
		return Result{}, err
	}

	entry, err := ledgerEntry(ev, prev.TenantID, snapshot(prev), snapshot(next))
	if err != nil {
		return Result{}, err
	}
	res := Result{TenantID: prev.TenantID, Ledger: entry, InvalidateSlugs: []string{prev.Slug}}
	if next.SubscriptionStatus == models.SubscriptionPastDue && prev.SubscriptionStatus != models.SubscriptionPastDue {
		res.Jobs = append(res.Jobs, models.Job{
			Type:    models.JobSendPaymentFailedEmail,
			Payload: map[string]any{"tenantId": prev.TenantID},
		})
	}
	return res, nil
}

// SubscriptionDeleted handles customer.subscription.deleted.
func (r *Reconciler) SubscriptionDeleted(ctx context.Context, tx Tx, ev Event) (Result, error) {
	var sub Subscription
	if err := ev.Decode(&sub); err != nil {
		return Result{}, err
	}
	prev, err := r.lockSubscriptionTenant(ctx, tx, sub)
	if err != nil {
		return Result{}, err
	}
	next := CancelSubscription(prev)
	if err := tx.UpdateTenantBilling(ctx, next); err != nil {
		return Result{}, err
	}

	entry, err := ledgerEntry(ev, prev.TenantID, snapshot(prev), snapshot(next))
	if err != nil {
		return Result{}, err
	}
	res := Result{TenantID: prev.TenantID, Ledger: entry, InvalidateSlugs: []string{prev.Slug}}
	if prev.SubscriptionStatus != models.SubscriptionCanceled {
		res.Jobs = append(res.Jobs, models.Job{
			Type:    models.JobSendSubscriptionCanceledMail,
			Payload: map[string]any{"tenantId": prev.TenantID},
		})
	}
	return res, nil
}

// AccountUpdated handles account.updated from the connect endpoint.
func (r *Reconciler) AccountUpdated(ctx context.Context, tx Tx, ev Event) (Result, error) {
	var acct Account
	if err := ev.Decode(&acct); err != nil {
		return Result{}, err
	}
	accountID := acct.ID
	if accountID == "" {
		accountID = ev.Account
	}
	prev, err := tx.LockConnectAccount(ctx, accountID)
	if err != nil {
		return Result{}, err
	}

	next := prev
	next.Status = ConnectStatusFor(acct)
	next.ChargesEnabled = acct.ChargesEnabled
	next.PayoutsEnabled = acct.PayoutsEnabled
	if err := tx.UpdateConnectAccount(ctx, next); err != nil {
		return Result{}, err
	}

	entry, err := ledgerEntry(ev, prev.TenantID, prev, next)
	if err != nil {
		return Result{}, err
	}
	return Result{TenantID: prev.TenantID, Ledger: entry, InvalidateSlugs: []string{prev.Slug}}, nil
}

type fulfillmentSnapshot struct {
	PaymentStatus models.PaymentStatus `json:"payment_status"`
	Enrolled      []string             `json:"enrolled_course_ids,omitempty"`
	AlreadyOwned  []string             `json:"already_enrolled_course_ids,omitempty"`
}

// CheckoutCompleted fulfils a paid checkout: the payment is marked succeeded,
// one enrollment is inserted per line item and the purchased courses leave the
// cart. An existing enrollment for the same user and course is skipped.
func (r *Reconciler) CheckoutCompleted(ctx context.Context, tx Tx, ev Event) (Result, error) {
	var sess CheckoutSession
	if err := ev.Decode(&sess); err != nil {
		return Result{}, err
	}
	payment, err := tx.LockPaymentByCheckoutSession(ctx, sess.ID)
	if err != nil {
		return Result{}, err
	}
	if err := tx.MarkPaymentSucceeded(ctx, payment.ID); err != nil {
		return Result{}, err
	}
	items, err := tx.PaymentItems(ctx, payment.ID)
	if err != nil {
		return Result{}, err
	}

	after := fulfillmentSnapshot{PaymentStatus: models.PaymentSucceeded}
	var jobs []models.Job
	courseIDs := make([]string, 0, len(items))
	for _, item := range items {
		courseIDs = append(courseIDs, item.CourseID)
		enrollment := models.Enrollment{
			ID:        r.newID(),
			TenantID:  payment.TenantID,
			UserID:    payment.UserID,
			CourseID:  item.CourseID,
			PaymentID: payment.ID,
		}
		created, err := tx.InsertEnrollment(ctx, enrollment)
		if err != nil {
			return Result{}, err
		}
		if !created {
			after.AlreadyOwned = append(after.AlreadyOwned, item.CourseID)
			continue
		}
		after.Enrolled = append(after.Enrolled, item.CourseID)
		jobs = append(jobs, models.Job{
			Type: models.JobSendEnrollmentConfirmation,
			Payload: map[string]any{
				"tenantId":     payment.TenantID,
				"userId":       payment.UserID,
				"courseId":     item.CourseID,
				"enrollmentId": enrollment.ID,
			},
		})
	}
	if err := tx.DeleteCartItems(ctx, payment.TenantID, payment.UserID, courseIDs); err != nil {
		return Result{}, err
	}

	entry, err := ledgerEntry(ev, payment.TenantID, fulfillmentSnapshot{PaymentStatus: payment.Status}, after)
	if err != nil {
		return Result{}, err
	}
	return Result{TenantID: payment.TenantID, Ledger: entry, Jobs: jobs}, nil
}
