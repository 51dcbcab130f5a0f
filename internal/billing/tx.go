package billing

import (
	"context"
	"errors"

	"coursejobs/internal/models"
)

var (
	// ErrUnknownEntity is returned by Tx lookups when the tenant, account or
	// payment the event refers to does not exist locally.
	ErrUnknownEntity = errors.New("event refers to an unknown entity")

	// ErrDuplicateEvent signals that another delivery of the same event
	// committed its ledger entry first.
	ErrDuplicateEvent = errors.New("event already recorded")
)

// Tx is the transactional view of tenant, payment and ledger state that
// reconciliation runs against. Lock methods take row locks held until the
// transaction ends.
type Tx interface {
	LockTenant(ctx context.Context, tenantID string) (models.TenantBillingState, error)
	LockTenantBySubscription(ctx context.Context, subscriptionID, customerID string) (models.TenantBillingState, error)
	UpdateTenantBilling(ctx context.Context, state models.TenantBillingState) error

	LockConnectAccount(ctx context.Context, accountID string) (models.ConnectAccountState, error)
	UpdateConnectAccount(ctx context.Context, state models.ConnectAccountState) error

	LockPaymentByCheckoutSession(ctx context.Context, sessionID string) (models.Payment, error)
	MarkPaymentSucceeded(ctx context.Context, paymentID string) error
	PaymentItems(ctx context.Context, paymentID string) ([]models.PaymentItem, error)
	InsertEnrollment(ctx context.Context, enrollment models.Enrollment) (bool, error)
	DeleteCartItems(ctx context.Context, tenantID, userID string, courseIDs []string) error

	// InsertLedgerEntry reports false when the event id is already recorded.
	InsertLedgerEntry(ctx context.Context, entry models.WebhookLedgerEntry) (bool, error)
}
