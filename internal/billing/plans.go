package billing

import (
	"fmt"

	"coursejobs/internal/models"
)

var commissionRates = map[models.Plan]float64{
	models.PlanFree:     0.10,
	models.PlanStarter:  0.05,
	models.PlanPro:      0.02,
	models.PlanBusiness: 0.00,
}

// CommissionRate returns the platform's cut of tenant sales for a plan.
// Unknown plans are charged the free rate.
func CommissionRate(plan models.Plan) float64 {
	if rate, ok := commissionRates[plan]; ok {
		return rate
	}
	return commissionRates[models.PlanFree]
}

// Catalog maps payment-provider price ids to plans.
type Catalog struct {
	byPrice map[string]models.Plan
}

// NewCatalog validates the configured price to plan map.
func NewCatalog(pricePlans map[string]string) (*Catalog, error) {
	byPrice := make(map[string]models.Plan, len(pricePlans))
	for price, plan := range pricePlans {
		p := models.Plan(plan)
		if _, ok := commissionRates[p]; !ok {
			return nil, fmt.Errorf("price %q maps to unknown plan %q", price, plan)
		}
		byPrice[price] = p
	}
	return &Catalog{byPrice: byPrice}, nil
}

// PlanForPrice resolves a price id. ok is false for unknown prices.
func (c *Catalog) PlanForPrice(priceID string) (models.Plan, bool) {
	p, ok := c.byPrice[priceID]
	return p, ok
}

// upstreamStatuses translates provider subscription statuses.
var upstreamStatuses = map[string]models.SubscriptionStatus{
	"trialing":           models.SubscriptionTrialing,
	"active":             models.SubscriptionActive,
	"past_due":           models.SubscriptionPastDue,
	"canceled":           models.SubscriptionCanceled,
	"unpaid":             models.SubscriptionUnpaid,
	"incomplete":         models.SubscriptionPastDue,
	"incomplete_expired": models.SubscriptionCanceled,
}

// StatusMapper maps upstream statuses, falling back to a configured status
// for anything outside the table.
type StatusMapper struct {
	fallback models.SubscriptionStatus
}

// NewStatusMapper checks that the fallback is part of the internal vocabulary.
func NewStatusMapper(fallback string) (StatusMapper, error) {
	s := models.SubscriptionStatus(fallback)
	switch s {
	case models.SubscriptionTrialing, models.SubscriptionActive, models.SubscriptionPastDue,
		models.SubscriptionCanceled, models.SubscriptionUnpaid:
		return StatusMapper{fallback: s}, nil
	}
	return StatusMapper{}, fmt.Errorf("unknown fallback subscription status %q", fallback)
}

// Map returns the internal status and whether the upstream value was recognised.
func (m StatusMapper) Map(upstream string) (models.SubscriptionStatus, bool) {
	if s, ok := upstreamStatuses[upstream]; ok {
		return s, true
	}
	return m.fallback, false
}
