package webhook

import (
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	stripewebhook "github.com/stripe/stripe-go/v76/webhook"
)

// SignatureHeader carries the sender's timestamped HMAC.
const SignatureHeader = "Stripe-Signature"

var ErrInvalidSignature = errors.New("invalid webhook signature")

// Verifier checks "t=<unix>,v1=<hex>" signature headers against one endpoint
// secret. Several v1 entries may be present when the sender rotates secrets;
// any match is accepted.
type Verifier struct {
	secret    string
	tolerance time.Duration
}

// NewVerifier rejects signatures older than tolerance. A tolerance of zero
// or less disables the age check.
func NewVerifier(secret string, tolerance time.Duration) *Verifier {
	return &Verifier{secret: secret, tolerance: tolerance}
}

// Verify returns nil when header signs body within the tolerance window.
func (v *Verifier) Verify(header string, body []byte) error {
	if v.secret == "" {
		return fmt.Errorf("%w: endpoint secret not configured", ErrInvalidSignature)
	}
	var err error
	if v.tolerance > 0 {
		err = stripewebhook.ValidatePayloadWithTolerance(body, header, v.secret, v.tolerance)
	} else {
		err = stripewebhook.ValidatePayloadIgnoringTolerance(body, header, v.secret)
	}
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidSignature, err)
	}
	return nil
}

// Sign builds a header for body at ts. Used by tests and local tooling.
func (v *Verifier) Sign(ts time.Time, body []byte) string {
	sig := stripewebhook.ComputeSignature(ts, body, v.secret)
	return fmt.Sprintf("t=%d,v1=%s", ts.Unix(), hex.EncodeToString(sig))
}
