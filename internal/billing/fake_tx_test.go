package billing

import (
	"context"
	"fmt"

	"coursejobs/internal/models"
)

type fakeTx struct {
	tenants     map[string]models.TenantBillingState
	accounts    map[string]models.ConnectAccountState
	payments    map[string]models.Payment
	items       map[string][]models.PaymentItem
	enrollments map[string]models.Enrollment // keyed by user|course
	cart        map[string]bool              // keyed by tenant|user|course
	ledger      map[string]models.WebhookLedgerEntry
}

func newFakeTx() *fakeTx {
	return &fakeTx{
		tenants:     map[string]models.TenantBillingState{},
		accounts:    map[string]models.ConnectAccountState{},
		payments:    map[string]models.Payment{},
		items:       map[string][]models.PaymentItem{},
		enrollments: map[string]models.Enrollment{},
		cart:        map[string]bool{},
		ledger:      map[string]models.WebhookLedgerEntry{},
	}
}

func (f *fakeTx) LockTenant(_ context.Context, tenantID string) (models.TenantBillingState, error) {
	t, ok := f.tenants[tenantID]
	if !ok {
		return models.TenantBillingState{}, fmt.Errorf("tenant %s: %w", tenantID, ErrUnknownEntity)
	}
	return t, nil
}

func (f *fakeTx) LockTenantBySubscription(_ context.Context, subscriptionID, customerID string) (models.TenantBillingState, error) {
	for _, t := range f.tenants {
		if subscriptionID != "" && t.ExternalSubscriptionID == subscriptionID {
			return t, nil
		}
	}
	for _, t := range f.tenants {
		if customerID != "" && t.ExternalCustomerID == customerID {
			return t, nil
		}
	}
	return models.TenantBillingState{}, fmt.Errorf("subscription %s: %w", subscriptionID, ErrUnknownEntity)
}

func (f *fakeTx) UpdateTenantBilling(_ context.Context, state models.TenantBillingState) error {
	f.tenants[state.TenantID] = state
	return nil
}

func (f *fakeTx) LockConnectAccount(_ context.Context, accountID string) (models.ConnectAccountState, error) {
	a, ok := f.accounts[accountID]
	if !ok {
		return models.ConnectAccountState{}, fmt.Errorf("account %s: %w", accountID, ErrUnknownEntity)
	}
	return a, nil
}

func (f *fakeTx) UpdateConnectAccount(_ context.Context, state models.ConnectAccountState) error {
	f.accounts[state.AccountID] = state
	return nil
}

func (f *fakeTx) LockPaymentByCheckoutSession(_ context.Context, sessionID string) (models.Payment, error) {
	for _, p := range f.payments {
		if p.CheckoutSessionID == sessionID {
			return p, nil
		}
	}
	return models.Payment{}, fmt.Errorf("checkout session %s: %w", sessionID, ErrUnknownEntity)
}

func (f *fakeTx) MarkPaymentSucceeded(_ context.Context, paymentID string) error {
	p := f.payments[paymentID]
	p.Status = models.PaymentSucceeded
	f.payments[paymentID] = p
	return nil
}

func (f *fakeTx) PaymentItems(_ context.Context, paymentID string) ([]models.PaymentItem, error) {
	return f.items[paymentID], nil
}

func (f *fakeTx) InsertEnrollment(_ context.Context, e models.Enrollment) (bool, error) {
	key := e.UserID + "|" + e.CourseID
	if _, exists := f.enrollments[key]; exists {
		return false, nil
	}
	f.enrollments[key] = e
	return true, nil
}

func (f *fakeTx) DeleteCartItems(_ context.Context, tenantID, userID string, courseIDs []string) error {
	for _, c := range courseIDs {
		delete(f.cart, tenantID+"|"+userID+"|"+c)
	}
	return nil
}

func (f *fakeTx) InsertLedgerEntry(_ context.Context, entry models.WebhookLedgerEntry) (bool, error) {
	if _, exists := f.ledger[entry.StripeEventID]; exists {
		return false, nil
	}
	f.ledger[entry.StripeEventID] = entry
	return true, nil
}
