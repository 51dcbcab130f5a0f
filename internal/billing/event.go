package billing

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// ErrInvalidObject marks an event whose envelope or data.object cannot be read.
var ErrInvalidObject = errors.New("invalid event object")

// Event is the envelope of a payment-provider webhook delivery.
type Event struct {
	ID      string    `json:"id"`
	Type    string    `json:"type"`
	Account string    `json:"account,omitempty"`
	Created int64     `json:"created"`
	Data    EventData `json:"data"`

	// Raw is the verified request body, stored verbatim in the ledger.
	Raw json.RawMessage `json:"-"`
}

type EventData struct {
	Object json.RawMessage `json:"object"`
}

// ParseEvent decodes an envelope and requires an id and a type.
func ParseEvent(body []byte) (Event, error) {
	var ev Event
	if err := json.Unmarshal(body, &ev); err != nil {
		return Event{}, fmt.Errorf("%w: decode event: %v", ErrInvalidObject, err)
	}
	if ev.ID == "" || ev.Type == "" {
		return Event{}, fmt.Errorf("%w: event missing id or type", ErrInvalidObject)
	}
	ev.Raw = append(json.RawMessage(nil), body...)
	return ev, nil
}

// Decode unmarshals the event's data.object into v.
func (e Event) Decode(v any) error {
	if len(e.Data.Object) == 0 {
		return fmt.Errorf("%w: event %s has no data.object", ErrInvalidObject, e.ID)
	}
	if err := json.Unmarshal(e.Data.Object, v); err != nil {
		return fmt.Errorf("%w: decode %s object: %v", ErrInvalidObject, e.Type, err)
	}
	return nil
}

// Subscription is the subset of a subscription object reconciliation reads.
type Subscription struct {
	ID       string            `json:"id"`
	Customer string            `json:"customer"`
	Status   string            `json:"status"`
	TrialEnd *int64            `json:"trial_end"`
	Metadata map[string]string `json:"metadata"`
	Items    struct {
		Data []struct {
			Price struct {
				ID string `json:"id"`
			} `json:"price"`
		} `json:"data"`
	} `json:"items"`
}

// PriceID returns the first line item's price id, or "".
func (s Subscription) PriceID() string {
	if len(s.Items.Data) == 0 {
		return ""
	}
	return s.Items.Data[0].Price.ID
}

// TrialEndTime converts trial_end to a time.
func (s Subscription) TrialEndTime() *time.Time {
	if s.TrialEnd == nil || *s.TrialEnd <= 0 {
		return nil
	}
	t := time.Unix(*s.TrialEnd, 0).UTC()
	return &t
}

// Account is the subset of a connected account object reconciliation reads.
type Account struct {
	ID             string       `json:"id"`
	ChargesEnabled bool         `json:"charges_enabled"`
	PayoutsEnabled bool         `json:"payouts_enabled"`
	Requirements   Requirements `json:"requirements"`
}

type Requirements struct {
	DisabledReason *string `json:"disabled_reason"`
}

// CheckoutSession is the subset of a checkout session reconciliation reads.
type CheckoutSession struct {
	ID                string            `json:"id"`
	PaymentStatus     string            `json:"payment_status"`
	ClientReferenceID string            `json:"client_reference_id"`
	Metadata          map[string]string `json:"metadata"`
}
