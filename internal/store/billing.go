package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

	"coursejobs/internal/billing"
	"coursejobs/internal/models"
)

// EventRecorded reports whether a webhook event id is already in the ledger.
func (s *Store) EventRecorded(ctx context.Context, eventID string) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx, `
		SELECT EXISTS (SELECT 1 FROM webhook_events WHERE stripe_event_id = $1)
	`, eventID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("query webhook ledger: %w", err)
	}
	return exists, nil
}

// InTx runs fn in one transaction. fn's error rolls everything back.
func (s *Store) InTx(ctx context.Context, fn func(billing.Tx) error) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) // safe no-op on commit

	if err := fn(&pgTx{tx: tx}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

type pgTx struct {
	tx pgx.Tx
}

const tenantBillingColumns = `id, slug, plan, subscription_status, commission_rate::float8, trial_ends_at,
	COALESCE(stripe_subscription_id, ''), COALESCE(stripe_customer_id, '')`

func scanTenantBilling(row pgx.Row) (models.TenantBillingState, error) {
	var (
		st     models.TenantBillingState
		plan   string
		status string
		trial  pgtype.Timestamptz
	)
	if err := row.Scan(&st.TenantID, &st.Slug, &plan, &status, &st.CommissionRate, &trial, &st.ExternalSubscriptionID, &st.ExternalCustomerID); err != nil {
		return models.TenantBillingState{}, err
	}
	st.Plan = models.Plan(plan)
	st.SubscriptionStatus = models.SubscriptionStatus(status)
	if trial.Valid {
		t := trial.Time.UTC()
		st.TrialEndsAt = &t
	}
	return st, nil
}

func notFound(err error, what string) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%s: %w", what, billing.ErrUnknownEntity)
	}
	return fmt.Errorf("load %s: %w", what, err)
}

func (t *pgTx) LockTenant(ctx context.Context, tenantID string) (models.TenantBillingState, error) {
	st, err := scanTenantBilling(t.tx.QueryRow(ctx, `
		SELECT `+tenantBillingColumns+` FROM tenants WHERE id = $1 FOR UPDATE
	`, tenantID))
	if err != nil {
		return models.TenantBillingState{}, notFound(err, "tenant "+tenantID)
	}
	return st, nil
}

// LockTenantBySubscription prefers the subscription id and falls back to the customer id.
func (t *pgTx) LockTenantBySubscription(ctx context.Context, subscriptionID, customerID string) (models.TenantBillingState, error) {
	st, err := scanTenantBilling(t.tx.QueryRow(ctx, `
		SELECT `+tenantBillingColumns+` FROM tenants
		WHERE ($1 <> '' AND stripe_subscription_id = $1) OR ($2 <> '' AND stripe_customer_id = $2)
		ORDER BY (stripe_subscription_id = $1) DESC NULLS LAST
		LIMIT 1
		FOR UPDATE
	`, subscriptionID, customerID))
	if err != nil {
		return models.TenantBillingState{}, notFound(err, "tenant of subscription "+subscriptionID)
	}
	return st, nil
}

func (t *pgTx) UpdateTenantBilling(ctx context.Context, st models.TenantBillingState) error {
	_, err := t.tx.Exec(ctx, `
		UPDATE tenants
		SET plan = $2, subscription_status = $3, commission_rate = $4, trial_ends_at = $5,
		    stripe_subscription_id = $6, stripe_customer_id = $7, updated_at = NOW()
		WHERE id = $1
	`, st.TenantID, string(st.Plan), string(st.SubscriptionStatus), st.CommissionRate, st.TrialEndsAt,
		emptyToNil(st.ExternalSubscriptionID), emptyToNil(st.ExternalCustomerID))
	if err != nil {
		return fmt.Errorf("update tenant billing %s: %w", st.TenantID, err)
	}
	return nil
}

func (t *pgTx) LockConnectAccount(ctx context.Context, accountID string) (models.ConnectAccountState, error) {
	var (
		st     models.ConnectAccountState
		status string
	)
	err := t.tx.QueryRow(ctx, `
		SELECT id, slug, connect_account_id, connect_status, charges_enabled, payouts_enabled
		FROM tenants WHERE connect_account_id = $1 FOR UPDATE
	`, accountID).Scan(&st.TenantID, &st.Slug, &st.AccountID, &status, &st.ChargesEnabled, &st.PayoutsEnabled)
	if err != nil {
		return models.ConnectAccountState{}, notFound(err, "connect account "+accountID)
	}
	st.Status = models.ConnectStatus(status)
	return st, nil
}

func (t *pgTx) UpdateConnectAccount(ctx context.Context, st models.ConnectAccountState) error {
	_, err := t.tx.Exec(ctx, `
		UPDATE tenants
		SET connect_status = $2, charges_enabled = $3, payouts_enabled = $4, updated_at = NOW()
		WHERE id = $1
	`, st.TenantID, string(st.Status), st.ChargesEnabled, st.PayoutsEnabled)
	if err != nil {
		return fmt.Errorf("update connect account %s: %w", st.AccountID, err)
	}
	return nil
}

func (t *pgTx) LockPaymentByCheckoutSession(ctx context.Context, sessionID string) (models.Payment, error) {
	var (
		p      models.Payment
		status string
	)
	err := t.tx.QueryRow(ctx, `
		SELECT id, tenant_id, user_id, checkout_session_id, status, amount_cents, currency
		FROM payments WHERE checkout_session_id = $1 FOR UPDATE
	`, sessionID).Scan(&p.ID, &p.TenantID, &p.UserID, &p.CheckoutSessionID, &status, &p.AmountCents, &p.Currency)
	if err != nil {
		return models.Payment{}, notFound(err, "payment of checkout session "+sessionID)
	}
	p.Status = models.PaymentStatus(status)
	return p, nil
}

func (t *pgTx) MarkPaymentSucceeded(ctx context.Context, paymentID string) error {
	_, err := t.tx.Exec(ctx, `
		UPDATE payments SET status = $2, updated_at = NOW() WHERE id = $1
	`, paymentID, string(models.PaymentSucceeded))
	if err != nil {
		return fmt.Errorf("mark payment %s succeeded: %w", paymentID, err)
	}
	return nil
}

func (t *pgTx) PaymentItems(ctx context.Context, paymentID string) ([]models.PaymentItem, error) {
	rows, err := t.tx.Query(ctx, `
		SELECT payment_id, course_id, price_cents FROM payment_items WHERE payment_id = $1 ORDER BY course_id
	`, paymentID)
	if err != nil {
		return nil, fmt.Errorf("query payment items: %w", err)
	}
	defer rows.Close()

	var items []models.PaymentItem
	for rows.Next() {
		var it models.PaymentItem
		if err := rows.Scan(&it.PaymentID, &it.CourseID, &it.PriceCents); err != nil {
			return nil, fmt.Errorf("scan payment item: %w", err)
		}
		items = append(items, it)
	}
	return items, rows.Err()
}

// InsertEnrollment reports false when the user already owns the course.
func (t *pgTx) InsertEnrollment(ctx context.Context, e models.Enrollment) (bool, error) {
	tag, err := t.tx.Exec(ctx, `
		INSERT INTO enrollments (id, tenant_id, user_id, course_id, payment_id, created_at)
		VALUES ($1, $2, $3, $4, $5, NOW())
		ON CONFLICT ON CONSTRAINT enrollments_user_course_key DO NOTHING
	`, e.ID, e.TenantID, e.UserID, e.CourseID, emptyToNil(e.PaymentID))
	if err != nil {
		return false, fmt.Errorf("insert enrollment: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (t *pgTx) DeleteCartItems(ctx context.Context, tenantID, userID string, courseIDs []string) error {
	if len(courseIDs) == 0 {
		return nil
	}
	_, err := t.tx.Exec(ctx, `
		DELETE FROM cart_items WHERE tenant_id = $1 AND user_id = $2 AND course_id = ANY($3)
	`, tenantID, userID, courseIDs)
	if err != nil {
		return fmt.Errorf("delete cart items: %w", err)
	}
	return nil
}

func (t *pgTx) InsertLedgerEntry(ctx context.Context, e models.WebhookLedgerEntry) (bool, error) {
	tag, err := t.tx.Exec(ctx, `
		INSERT INTO webhook_events (stripe_event_id, tenant_id, event_type, previous_state, new_state, raw_payload, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, NOW())
		ON CONFLICT ON CONSTRAINT webhook_events_stripe_event_id_key DO NOTHING
	`, e.StripeEventID, e.TenantID, e.EventType, []byte(e.PreviousState), []byte(e.NewState), []byte(e.RawPayload))
	if err != nil {
		return false, fmt.Errorf("insert webhook ledger entry: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// LedgerEntries lists the ledger rows of a tenant, oldest first.
func (s *Store) LedgerEntries(ctx context.Context, tenantID string) ([]models.WebhookLedgerEntry, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT stripe_event_id, tenant_id, event_type, previous_state, new_state, raw_payload, created_at
		FROM webhook_events WHERE tenant_id = $1 ORDER BY id
	`, tenantID)
	if err != nil {
		return nil, fmt.Errorf("query webhook ledger: %w", err)
	}
	defer rows.Close()

	var out []models.WebhookLedgerEntry
	for rows.Next() {
		var (
			e               models.WebhookLedgerEntry
			prev, next, raw []byte
		)
		if err := rows.Scan(&e.StripeEventID, &e.TenantID, &e.EventType, &prev, &next, &raw, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan webhook ledger entry: %w", err)
		}
		e.PreviousState, e.NewState, e.RawPayload = prev, next, raw
		out = append(out, e)
	}
	return out, rows.Err()
}

var _ billing.Tx = (*pgTx)(nil)
