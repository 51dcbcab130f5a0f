package models

import (
	"encoding/json"
	"time"
)

// Plan is a tenant's platform subscription tier.
type Plan string

const (
	PlanFree     Plan = "free"
	PlanStarter  Plan = "starter"
	PlanPro      Plan = "pro"
	PlanBusiness Plan = "business"
)

// SubscriptionStatus is the internal subscription vocabulary.
type SubscriptionStatus string

const (
	SubscriptionTrialing SubscriptionStatus = "trialing"
	SubscriptionActive   SubscriptionStatus = "active"
	SubscriptionPastDue  SubscriptionStatus = "past_due"
	SubscriptionCanceled SubscriptionStatus = "canceled"
	SubscriptionUnpaid   SubscriptionStatus = "unpaid"
)

// ConnectStatus summarises a tenant's connected payout account.
type ConnectStatus string

const (
	ConnectPending    ConnectStatus = "pending"
	ConnectActive     ConnectStatus = "active"
	ConnectRestricted ConnectStatus = "restricted"
)

// TenantBillingState is the billing slice of a tenant row.
type TenantBillingState struct {
	TenantID               string             `json:"tenant_id"`
	Slug                   string             `json:"slug"`
	Plan                   Plan               `json:"plan"`
	SubscriptionStatus     SubscriptionStatus `json:"subscription_status"`
	CommissionRate         float64            `json:"commission_rate"`
	TrialEndsAt            *time.Time         `json:"trial_ends_at,omitempty"`
	ExternalSubscriptionID string             `json:"external_subscription_id,omitempty"`
	ExternalCustomerID     string             `json:"external_customer_id,omitempty"`
}

// ConnectAccountState is the connected-account slice of a tenant row.
type ConnectAccountState struct {
	TenantID       string        `json:"tenant_id"`
	Slug           string        `json:"slug"`
	AccountID      string        `json:"account_id"`
	Status         ConnectStatus `json:"status"`
	ChargesEnabled bool          `json:"charges_enabled"`
	PayoutsEnabled bool          `json:"payouts_enabled"`
}

// WebhookLedgerEntry records one applied external event. Its stripe_event_id is
// unique (constraint webhook_events_stripe_event_id_key) and the row is never updated.
type WebhookLedgerEntry struct {
	StripeEventID string          `json:"stripe_event_id"`
	TenantID      string          `json:"tenant_id"`
	EventType     string          `json:"event_type"`
	PreviousState json.RawMessage `json:"previous_state"`
	NewState      json.RawMessage `json:"new_state"`
	RawPayload    json.RawMessage `json:"raw_payload"`
	CreatedAt     time.Time       `json:"created_at"`
}

// PaymentStatus tracks a checkout payment.
type PaymentStatus string

const (
	PaymentPending   PaymentStatus = "pending"
	PaymentSucceeded PaymentStatus = "succeeded"
	PaymentFailed    PaymentStatus = "failed"
)

// Payment is a course purchase started through checkout.
type Payment struct {
	ID                string        `json:"id"`
	TenantID          string        `json:"tenant_id"`
	UserID            string        `json:"user_id"`
	CheckoutSessionID string        `json:"checkout_session_id"`
	Status            PaymentStatus `json:"status"`
	AmountCents       int64         `json:"amount_cents"`
	Currency          string        `json:"currency"`
}

// PaymentItem is one purchased course of a payment.
type PaymentItem struct {
	PaymentID  string `json:"payment_id"`
	CourseID   string `json:"course_id"`
	PriceCents int64  `json:"price_cents"`
}

// Enrollment grants a user access to a course. (user_id, course_id) is unique
// under constraint enrollments_user_course_key.
type Enrollment struct {
	ID        string `json:"id"`
	TenantID  string `json:"tenant_id"`
	UserID    string `json:"user_id"`
	CourseID  string `json:"course_id"`
	PaymentID string `json:"payment_id"`
}
