package payment

import (
	"errors"
	"fmt"

	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/webhook"
)

// ErrSignatureInvalid is returned for any payload that cannot be
// authenticated: bad signature, stale timestamp, malformed header,
// or missing secret.
var ErrSignatureInvalid = errors.New("webhook signature invalid")

// EventTypePaymentSucceeded is the only event type that mutates order state;
// every other type is acknowledged and ignored.
const EventTypePaymentSucceeded = "payment_intent.succeeded"

// Verifier authenticates inbound payment-provider events. The signature is
// recomputed over the exact raw bytes of the request body, so the caller must
// hand over the body before any parsing or re-serialization.
type Verifier struct {
	secret string
}

// NewVerifier creates a verifier bound to the provider's endpoint secret.
func NewVerifier(secret string) *Verifier {
	return &Verifier{secret: secret}
}

// Verify checks the signature header against the raw payload and parses the
// event only after the signature holds. Fails closed: any verification
// problem surfaces as ErrSignatureInvalid, never as an absent event.
func (v *Verifier) Verify(payload []byte, sigHeader string) (stripe.Event, error) {
	if v.secret == "" {
		return stripe.Event{}, ErrSignatureInvalid
	}

	// The handler only reads fields that are stable across provider API
	// versions (event id, type, intent id/status/metadata), so a version
	// mismatch between the account and the SDK must not reject the event.
	event, err := webhook.ConstructEventWithOptions(payload, sigHeader, v.secret,
		webhook.ConstructEventOptions{IgnoreAPIVersionMismatch: true})
	if err != nil {
		return stripe.Event{}, fmt.Errorf("%w: %v", ErrSignatureInvalid, err)
	}
	return event, nil
}
