package payment

import (
	"context"
	"strconv"

	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/paymentintent"
)

// OrderIDMetadataKey is the metadata key carrying the order reference on a
// payment intent. The reconciler reads the same key back from webhook events.
const OrderIDMetadataKey = "orderId"

// IntentClient creates and retrieves payment intents with the provider.
type IntentClient struct {
	currency string
}

// NewIntentClient binds the process-wide provider API key and returns a
// client that creates intents in the given currency.
func NewIntentClient(apiKey, currency string) *IntentClient {
	stripe.Key = apiKey
	return &IntentClient{currency: currency}
}

// Create creates a payment intent for an order. The order id travels as
// intent metadata so webhook events can be mapped back without guessing.
func (c *IntentClient) Create(ctx context.Context, orderID int64, amount int64) (*stripe.PaymentIntent, error) {
	params := &stripe.PaymentIntentParams{
		Amount:   stripe.Int64(amount),
		Currency: stripe.String(c.currency),
		AutomaticPaymentMethods: &stripe.PaymentIntentAutomaticPaymentMethodsParams{
			Enabled: stripe.Bool(true),
		},
	}
	params.Context = ctx
	params.AddMetadata(OrderIDMetadataKey, strconv.FormatInt(orderID, 10))

	return paymentintent.New(params)
}

// Get retrieves a payment intent by id.
func (c *IntentClient) Get(ctx context.Context, id string) (*stripe.PaymentIntent, error) {
	params := &stripe.PaymentIntentParams{}
	params.Context = ctx
	return paymentintent.Get(id, params)
}
