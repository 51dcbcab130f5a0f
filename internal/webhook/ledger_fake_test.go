package webhook

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"sync"

	"coursejobs/internal/billing"
	"coursejobs/internal/models"
)

// memState is the committed state behind memLedger.
type memState struct {
	tenants     map[string]models.TenantBillingState
	accounts    map[string]models.ConnectAccountState
	payments    map[string]models.Payment
	items       map[string][]models.PaymentItem
	enrollments map[string]models.Enrollment
	cart        map[string]bool
	ledger      map[string]models.WebhookLedgerEntry
}

func newMemState() *memState {
	return &memState{
		tenants:     map[string]models.TenantBillingState{},
		accounts:    map[string]models.ConnectAccountState{},
		payments:    map[string]models.Payment{},
		items:       map[string][]models.PaymentItem{},
		enrollments: map[string]models.Enrollment{},
		cart:        map[string]bool{},
		ledger:      map[string]models.WebhookLedgerEntry{},
	}
}

func (s *memState) clone() *memState {
	return &memState{
		tenants:     maps.Clone(s.tenants),
		accounts:    maps.Clone(s.accounts),
		payments:    maps.Clone(s.payments),
		items:       maps.Clone(s.items),
		enrollments: maps.Clone(s.enrollments),
		cart:        maps.Clone(s.cart),
		ledger:      maps.Clone(s.ledger),
	}
}

// memLedger runs each transaction against a copy of the state and swaps it in
// on success.
type memLedger struct {
	mu    sync.Mutex
	state *memState

	// blindLookup makes EventRecorded always miss, as when two deliveries
	// race past the lookup.
	blindLookup bool
	lookupErr   error
	txErr       error
}

func newMemLedger() *memLedger {
	return &memLedger{state: newMemState()}
}

func (l *memLedger) EventRecorded(_ context.Context, eventID string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.lookupErr != nil {
		return false, l.lookupErr
	}
	if l.blindLookup {
		return false, nil
	}
	_, ok := l.state.ledger[eventID]
	return ok, nil
}

func (l *memLedger) InTx(_ context.Context, fn func(billing.Tx) error) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.txErr != nil {
		return l.txErr
	}
	tx := &memTx{s: l.state.clone()}
	if err := fn(tx); err != nil {
		return err
	}
	l.state = tx.s
	return nil
}

type memTx struct {
	s *memState
}

func (t *memTx) LockTenant(_ context.Context, tenantID string) (models.TenantBillingState, error) {
	st, ok := t.s.tenants[tenantID]
	if !ok {
		return models.TenantBillingState{}, fmt.Errorf("tenant %s: %w", tenantID, billing.ErrUnknownEntity)
	}
	return st, nil
}

func (t *memTx) LockTenantBySubscription(_ context.Context, subscriptionID, customerID string) (models.TenantBillingState, error) {
	for _, st := range t.s.tenants {
		if st.ExternalSubscriptionID == subscriptionID || (customerID != "" && st.ExternalCustomerID == customerID) {
			return st, nil
		}
	}
	return models.TenantBillingState{}, fmt.Errorf("subscription %s: %w", subscriptionID, billing.ErrUnknownEntity)
}

func (t *memTx) UpdateTenantBilling(_ context.Context, st models.TenantBillingState) error {
	t.s.tenants[st.TenantID] = st
	return nil
}

func (t *memTx) LockConnectAccount(_ context.Context, accountID string) (models.ConnectAccountState, error) {
	a, ok := t.s.accounts[accountID]
	if !ok {
		return models.ConnectAccountState{}, fmt.Errorf("account %s: %w", accountID, billing.ErrUnknownEntity)
	}
	return a, nil
}

func (t *memTx) UpdateConnectAccount(_ context.Context, st models.ConnectAccountState) error {
	t.s.accounts[st.AccountID] = st
	return nil
}

func (t *memTx) LockPaymentByCheckoutSession(_ context.Context, sessionID string) (models.Payment, error) {
	for _, p := range t.s.payments {
		if p.CheckoutSessionID == sessionID {
			return p, nil
		}
	}
	return models.Payment{}, fmt.Errorf("checkout %s: %w", sessionID, billing.ErrUnknownEntity)
}

func (t *memTx) MarkPaymentSucceeded(_ context.Context, paymentID string) error {
	p, ok := t.s.payments[paymentID]
	if !ok {
		return errors.New("no payment")
	}
	p.Status = models.PaymentSucceeded
	t.s.payments[paymentID] = p
	return nil
}

func (t *memTx) PaymentItems(_ context.Context, paymentID string) ([]models.PaymentItem, error) {
	return t.s.items[paymentID], nil
}

func (t *memTx) InsertEnrollment(_ context.Context, e models.Enrollment) (bool, error) {
	key := e.UserID + "|" + e.CourseID
	if _, ok := t.s.enrollments[key]; ok {
		return false, nil
	}
	t.s.enrollments[key] = e
	return true, nil
}

func (t *memTx) DeleteCartItems(_ context.Context, tenantID, userID string, courseIDs []string) error {
	for _, c := range courseIDs {
		delete(t.s.cart, tenantID+"|"+userID+"|"+c)
	}
	return nil
}

func (t *memTx) InsertLedgerEntry(_ context.Context, e models.WebhookLedgerEntry) (bool, error) {
	if _, ok := t.s.ledger[e.StripeEventID]; ok {
		return false, nil
	}
	t.s.ledger[e.StripeEventID] = e
	return true, nil
}

type recordingEnqueuer struct {
	mu   sync.Mutex
	jobs []models.Job
	err  error
}

func (e *recordingEnqueuer) Enqueue(_ context.Context, jobType models.JobType, payload map[string]any) (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.err != nil {
		return "", e.err
	}
	e.jobs = append(e.jobs, models.Job{Type: jobType, Payload: payload})
	return fmt.Sprintf("h-%d", len(e.jobs)), nil
}

type recordingCache struct {
	slugs []string
	err   error
}

func (c *recordingCache) Invalidate(_ context.Context, slugs ...string) error {
	c.slugs = append(c.slugs, slugs...)
	return c.err
}
