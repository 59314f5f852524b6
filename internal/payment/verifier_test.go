package payment

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v76/webhook"
)

const testSecret = "whsec_test_secret"

func signedHeader(t *testing.T, payload []byte, secret string, at time.Time) string {
	t.Helper()
	sig := webhook.ComputeSignature(at, payload, secret)
	return fmt.Sprintf("t=%d,v1=%x", at.Unix(), sig)
}

func TestVerifyValidSignature(t *testing.T) {
	v := NewVerifier(testSecret)
	payload := []byte(`{"id":"evt_1","type":"payment_intent.succeeded","data":{"object":{"id":"pi_1"}}}`)

	event, err := v.Verify(payload, signedHeader(t, payload, testSecret, time.Now()))
	require.NoError(t, err)
	assert.Equal(t, "evt_1", event.ID)
	assert.Equal(t, EventTypePaymentSucceeded, string(event.Type))
}

func TestVerifyTamperedBody(t *testing.T) {
	v := NewVerifier(testSecret)
	payload := []byte(`{"id":"evt_1","type":"payment_intent.succeeded"}`)
	header := signedHeader(t, payload, testSecret, time.Now())

	tampered := []byte(`{"id":"evt_1","type":"payment_intent.succeeded","amount":0}`)
	_, err := v.Verify(tampered, header)
	assert.ErrorIs(t, err, ErrSignatureInvalid)
}

func TestVerifyWrongSecret(t *testing.T) {
	v := NewVerifier(testSecret)
	payload := []byte(`{"id":"evt_1"}`)

	_, err := v.Verify(payload, signedHeader(t, payload, "whsec_other", time.Now()))
	assert.ErrorIs(t, err, ErrSignatureInvalid)
}

func TestVerifyStaleTimestamp(t *testing.T) {
	v := NewVerifier(testSecret)
	payload := []byte(`{"id":"evt_1"}`)

	_, err := v.Verify(payload, signedHeader(t, payload, testSecret, time.Now().Add(-time.Hour)))
	assert.ErrorIs(t, err, ErrSignatureInvalid)
}

func TestVerifyFailsClosed(t *testing.T) {
	payload := []byte(`{"id":"evt_1"}`)

	// Malformed header
	v := NewVerifier(testSecret)
	_, err := v.Verify(payload, "not-a-signature-header")
	assert.ErrorIs(t, err, ErrSignatureInvalid)

	// Missing header
	_, err = v.Verify(payload, "")
	assert.ErrorIs(t, err, ErrSignatureInvalid)

	// Missing secret
	empty := NewVerifier("")
	_, err = empty.Verify(payload, signedHeader(t, payload, testSecret, time.Now()))
	assert.ErrorIs(t, err, ErrSignatureInvalid)
}
