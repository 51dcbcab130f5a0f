package billing

import (
	"coursejobs/internal/models"
)

// SubscriptionChange is the outcome of applying a subscription object to a tenant.
type SubscriptionChange struct {
	Next          models.TenantBillingState
	StatusMapped  bool
	PriceResolved bool
}

// ApplySubscription derives the new billing state from the previous state and
// a subscription object. It performs no I/O.
//
// An unknown price keeps the previous plan. The trial end is taken from the
// event when present, cleared when the new status is active and otherwise kept.
func ApplySubscription(prev models.TenantBillingState, sub Subscription, catalog *Catalog, statuses StatusMapper) SubscriptionChange {
	next := prev
	change := SubscriptionChange{}

	if plan, ok := catalog.PlanForPrice(sub.PriceID()); ok {
		next.Plan = plan
		change.PriceResolved = true
	}
	next.SubscriptionStatus, change.StatusMapped = statuses.Map(sub.Status)
	next.CommissionRate = CommissionRate(next.Plan)

	switch trialEnd := sub.TrialEndTime(); {
	case trialEnd != nil:
		next.TrialEndsAt = trialEnd
	case next.SubscriptionStatus == models.SubscriptionActive:
		next.TrialEndsAt = nil
	}

	if sub.ID != "" {
		next.ExternalSubscriptionID = sub.ID
	}
	if sub.Customer != "" {
		next.ExternalCustomerID = sub.Customer
	}
	change.Next = next
	return change
}

// CancelSubscription forces the canceled status and leaves everything else unchanged.
func CancelSubscription(prev models.TenantBillingState) models.TenantBillingState {
	next := prev
	next.SubscriptionStatus = models.SubscriptionCanceled
	return next
}

// ConnectStatusFor summarises a connected account: active when it can both
// charge and pay out, restricted when the provider disabled it, else pending.
func ConnectStatusFor(acct Account) models.ConnectStatus {
	switch {
	case acct.ChargesEnabled && acct.PayoutsEnabled:
		return models.ConnectActive
	case acct.Requirements.DisabledReason != nil && *acct.Requirements.DisabledReason != "":
		return models.ConnectRestricted
	default:
		return models.ConnectPending
	}
}
