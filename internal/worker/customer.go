package worker

import (
	"context"
	"fmt"

	"coursejobs/internal/models"
)

// CustomerParams describes a payment-provider customer.
type CustomerParams struct {
	Email    string
	Name     string
	Metadata map[string]string
}

// CustomerProvider creates and updates customers at the payment provider.
// Calls sharing an idempotency key create at most one customer.
type CustomerProvider interface {
	CreateCustomer(ctx context.Context, params CustomerParams, idempotencyKey string) (string, error)
	UpdateCustomer(ctx context.Context, customerID string, params CustomerParams) error
}

type CustomerStore interface {
	GetUser(ctx context.Context, userID string) (models.User, error)
	SetUserCustomerID(ctx context.Context, userID, customerID string) (bool, error)
}

func customerIdempotencyKey(userID string) string {
	return "customer-" + userID
}

func (h *Handlers) createPaymentCustomer(ctx context.Context, payload map[string]any) (models.SideEffectSummary, error) {
	userID, err := requireString(payload, "userId")
	if err != nil {
		return nil, err
	}
	user, err := h.users.GetUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("load user %s: %w", userID, err)
	}
	if user.ExternalCustomerID != "" {
		return models.SideEffectSummary{"skipped": "customer exists", "customer_id": user.ExternalCustomerID}, nil
	}

	customerID, err := h.customers.CreateCustomer(ctx, CustomerParams{
		Email:    user.Email,
		Name:     user.Name,
		Metadata: map[string]string{"user_id": user.ID, "tenant_id": user.TenantID},
	}, customerIdempotencyKey(user.ID))
	if err != nil {
		return nil, fmt.Errorf("create customer for user %s: %w", userID, err)
	}
	stored, err := h.users.SetUserCustomerID(ctx, user.ID, customerID)
	if err != nil {
		return nil, err
	}
	return models.SideEffectSummary{"customer_id": customerID, "stored": stored}, nil
}

func (h *Handlers) updatePaymentCustomer(ctx context.Context, payload map[string]any) (models.SideEffectSummary, error) {
	userID, err := requireString(payload, "userId")
	if err != nil {
		return nil, err
	}
	user, err := h.users.GetUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("load user %s: %w", userID, err)
	}
	if user.ExternalCustomerID == "" {
		return nil, fmt.Errorf("%w: user %s has no payment customer yet", ErrInvalidPayload, userID)
	}

	params := CustomerParams{Email: user.Email, Name: user.Name}
	if v := optionalString(payload, "email"); v != "" {
		params.Email = v
	}
	if v := optionalString(payload, "name"); v != "" {
		params.Name = v
	}
	if err := h.customers.UpdateCustomer(ctx, user.ExternalCustomerID, params); err != nil {
		return nil, fmt.Errorf("update customer %s: %w", user.ExternalCustomerID, err)
	}
	return models.SideEffectSummary{"customer_id": user.ExternalCustomerID, "updated": true}, nil
}
