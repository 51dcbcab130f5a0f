package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

	"coursejobs/internal/models"
)

// GetUser loads the billing view of a user.
func (s *Store) GetUser(ctx context.Context, userID string) (models.User, error) {
	var (
		u        models.User
		customer pgtype.Text
	)
	err := s.pool.QueryRow(ctx, `
		SELECT id, tenant_id, email, name, stripe_customer_id FROM users WHERE id = $1
	`, userID).Scan(&u.ID, &u.TenantID, &u.Email, &u.Name, &customer)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.User{}, fmt.Errorf("user %s: %w", userID, ErrNotFound)
	}
	if err != nil {
		return models.User{}, fmt.Errorf("load user %s: %w", userID, err)
	}
	u.ExternalCustomerID = textValue(customer)
	return u, nil
}

// SetUserCustomerID stores the payment-provider customer id unless one is already set.
// It reports whether the row changed.
func (s *Store) SetUserCustomerID(ctx context.Context, userID, customerID string) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE users SET stripe_customer_id = $2
		WHERE id = $1 AND (stripe_customer_id IS NULL OR stripe_customer_id = '')
	`, userID, customerID)
	if err != nil {
		return false, fmt.Errorf("set customer id of user %s: %w", userID, err)
	}
	return tag.RowsAffected() == 1, nil
}

// UserContact returns a user's email recipient.
func (s *Store) UserContact(ctx context.Context, userID string) (models.Contact, error) {
	u, err := s.GetUser(ctx, userID)
	if err != nil {
		return models.Contact{}, err
	}
	return models.Contact{Email: u.Email, Name: u.Name}, nil
}

// TenantOwnerContact returns the billing contact of a tenant.
func (s *Store) TenantOwnerContact(ctx context.Context, tenantID string) (models.Contact, error) {
	var c models.Contact
	err := s.pool.QueryRow(ctx, `
		SELECT owner_email, owner_name FROM tenants WHERE id = $1
	`, tenantID).Scan(&c.Email, &c.Name)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Contact{}, fmt.Errorf("tenant %s: %w", tenantID, ErrNotFound)
	}
	if err != nil {
		return models.Contact{}, fmt.Errorf("load tenant owner %s: %w", tenantID, err)
	}
	return c, nil
}
