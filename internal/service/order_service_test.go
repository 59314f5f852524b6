package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"storefront-api/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v76"
)

// fakeOrderStore is an in-memory OrderStore with the same conditional-update
// semantics as the SQL implementation.
type fakeOrderStore struct {
	mu       sync.Mutex
	nextID   int64
	orders   map[int64]*models.Order
	items    map[int64][]models.OrderItem
	products map[int64]models.Product
}

func newFakeOrderStore() *fakeOrderStore {
	return &fakeOrderStore{
		nextID:   1,
		orders:   make(map[int64]*models.Order),
		items:    make(map[int64][]models.OrderItem),
		products: make(map[int64]models.Product),
	}
}

func (f *fakeOrderStore) CreateOrder(ctx context.Context, order *models.Order, items []models.OrderItem) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	order.ID = f.nextID
	f.nextID++
	order.CreatedAt = time.Now()
	copied := *order
	f.orders[order.ID] = &copied
	for i := range items {
		items[i].OrderID = order.ID
	}
	f.items[order.ID] = append([]models.OrderItem(nil), items...)
	return nil
}

func (f *fakeOrderStore) GetOrderByID(ctx context.Context, id int64) (*models.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	order, ok := f.orders[id]
	if !ok {
		return nil, nil
	}
	copied := *order
	return &copied, nil
}

func (f *fakeOrderStore) GetOrderItemsByOrderID(ctx context.Context, orderID int64) ([]models.OrderItem, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]models.OrderItem(nil), f.items[orderID]...), nil
}

func (f *fakeOrderStore) GetOrdersByUserID(ctx context.Context, userID int64) ([]models.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.Order
	for _, o := range f.orders {
		if o.UserID == userID {
			out = append(out, *o)
		}
	}
	return out, nil
}

func (f *fakeOrderStore) GetOrders(ctx context.Context) ([]models.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.Order
	for _, o := range f.orders {
		out = append(out, *o)
	}
	return out, nil
}

func (f *fakeOrderStore) MarkOrderPaid(ctx context.Context, orderID int64, result models.PaymentResult) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	order, ok := f.orders[orderID]
	if !ok || order.IsPaid {
		return false, nil
	}
	order.IsPaid = true
	order.PaidAt = sql.NullTime{Time: time.Now(), Valid: true}
	order.PaymentID = sql.NullString{String: result.ID, Valid: true}
	order.PaymentStatus = sql.NullString{String: result.Status, Valid: true}
	order.PayerEmail = sql.NullString{String: result.PayerEmail, Valid: true}
	return true, nil
}

func (f *fakeOrderStore) MarkOrderDelivered(ctx context.Context, orderID int64) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	order, ok := f.orders[orderID]
	if !ok || !order.IsPaid || order.IsDelivered {
		return false, nil
	}
	order.IsDelivered = true
	order.DeliveredAt = sql.NullTime{Time: time.Now(), Valid: true}
	return true, nil
}

func (f *fakeOrderStore) GetProductsByIDs(ctx context.Context, ids []int64) ([]models.Product, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.Product
	for _, id := range ids {
		if p, ok := f.products[id]; ok {
			out = append(out, p)
		}
	}
	return out, nil
}

// fakePublisher records published events
type fakePublisher struct {
	mu        sync.Mutex
	created   []*models.OrderCreatedEvent
	paid      []*models.OrderPaidEvent
	delivered []*models.OrderDeliveredEvent
}

func (f *fakePublisher) PublishOrderCreated(ctx context.Context, e *models.OrderCreatedEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.created = append(f.created, e)
	return nil
}

func (f *fakePublisher) PublishOrderPaid(ctx context.Context, e *models.OrderPaidEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.paid = append(f.paid, e)
	return nil
}

func (f *fakePublisher) PublishOrderDelivered(ctx context.Context, e *models.OrderDeliveredEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.delivered = append(f.delivered, e)
	return nil
}

func (f *fakePublisher) paidCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.paid)
}

// fakeIntents serves canned payment intents
type fakeIntents struct {
	intents map[string]*stripe.PaymentIntent
}

func (f *fakeIntents) Create(ctx context.Context, orderID int64, amount int64) (*stripe.PaymentIntent, error) {
	return &stripe.PaymentIntent{ID: "pi_new", ClientSecret: "cs_test", Amount: amount}, nil
}

func (f *fakeIntents) Get(ctx context.Context, id string) (*stripe.PaymentIntent, error) {
	if pi, ok := f.intents[id]; ok {
		return pi, nil
	}
	return nil, fmt.Errorf("no such payment intent: %s", id)
}

// fakeDeduper mirrors the redis SETNX semantics
type fakeDeduper struct {
	mu   sync.Mutex
	seen map[string]bool
}

func (f *fakeDeduper) FirstDelivery(ctx context.Context, orderID int64, eventID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.seen == nil {
		f.seen = make(map[string]bool)
	}
	key := fmt.Sprintf("%d:%s", orderID, eventID)
	if f.seen[key] {
		return false, nil
	}
	f.seen[key] = true
	return true, nil
}

func newTestOrderService(store *fakeOrderStore) (*OrderService, *fakePublisher) {
	pub := &fakePublisher{}
	return NewOrderService(store, pub, &fakeIntents{}, &fakeDeduper{}), pub
}

func paymentSucceededEvent(eventID string, orderID int64) stripe.Event {
	raw, _ := json.Marshal(map[string]interface{}{
		"id":            "pi_123",
		"status":        "succeeded",
		"receipt_email": "buyer@example.com",
		"metadata":      map[string]string{"orderId": fmt.Sprintf("%d", orderID)},
	})
	return stripe.Event{
		ID:   eventID,
		Type: "payment_intent.succeeded",
		Data: &stripe.EventData{Raw: raw},
	}
}

func seedOrder(store *fakeOrderStore, userID int64) *models.Order {
	order := &models.Order{UserID: userID, TotalPrice: 5000, PaymentMethod: "card"}
	_ = store.CreateOrder(context.Background(), order, nil)
	return order
}

func TestHandlePaymentEventMarksOrderPaid(t *testing.T) {
	store := newFakeOrderStore()
	svc, pub := newTestOrderService(store)
	order := seedOrder(store, 1)

	err := svc.HandlePaymentEvent(context.Background(), paymentSucceededEvent("evt_1", order.ID))
	require.NoError(t, err)

	updated, _ := store.GetOrderByID(context.Background(), order.ID)
	assert.True(t, updated.IsPaid)
	assert.True(t, updated.PaidAt.Valid)
	assert.Equal(t, "evt_1", updated.PaymentID.String)
	assert.Equal(t, "succeeded", updated.PaymentStatus.String)
	assert.Equal(t, "buyer@example.com", updated.PayerEmail.String)
	assert.Equal(t, 1, pub.paidCount())
}

func TestHandlePaymentEventIdempotent(t *testing.T) {
	store := newFakeOrderStore()
	svc, pub := newTestOrderService(store)
	order := seedOrder(store, 1)

	event := paymentSucceededEvent("evt_1", order.ID)
	require.NoError(t, svc.HandlePaymentEvent(context.Background(), event))

	first, _ := store.GetOrderByID(context.Background(), order.ID)

	// Replaying the identical event changes nothing: same paid_at, same
	// payment snapshot, no second domain event.
	require.NoError(t, svc.HandlePaymentEvent(context.Background(), event))

	second, _ := store.GetOrderByID(context.Background(), order.ID)
	assert.Equal(t, first, second)
	assert.Equal(t, 1, pub.paidCount())
}

func TestHandlePaymentEventDuplicateEventIDWithoutDeduper(t *testing.T) {
	// Even with no fast-path deduper, the conditional update keeps the
	// transition idempotent.
	store := newFakeOrderStore()
	pub := &fakePublisher{}
	svc := NewOrderService(store, pub, &fakeIntents{}, nil)
	order := seedOrder(store, 1)

	event := paymentSucceededEvent("evt_1", order.ID)
	require.NoError(t, svc.HandlePaymentEvent(context.Background(), event))
	require.NoError(t, svc.HandlePaymentEvent(context.Background(), event))

	updated, _ := store.GetOrderByID(context.Background(), order.ID)
	assert.True(t, updated.IsPaid)
	assert.Equal(t, 1, pub.paidCount())
}

func TestHandlePaymentEventUnknownOrder(t *testing.T) {
	store := newFakeOrderStore()
	svc, pub := newTestOrderService(store)

	// No error back to the provider, no mutation, nothing published.
	err := svc.HandlePaymentEvent(context.Background(), paymentSucceededEvent("evt_1", 999))
	assert.NoError(t, err)
	assert.Equal(t, 0, pub.paidCount())
}

func TestHandlePaymentEventIgnoresOtherTypes(t *testing.T) {
	store := newFakeOrderStore()
	svc, pub := newTestOrderService(store)
	order := seedOrder(store, 1)

	event := paymentSucceededEvent("evt_1", order.ID)
	event.Type = "payment_intent.payment_failed"

	require.NoError(t, svc.HandlePaymentEvent(context.Background(), event))

	updated, _ := store.GetOrderByID(context.Background(), order.ID)
	assert.False(t, updated.IsPaid)
	assert.Equal(t, 0, pub.paidCount())
}

func TestHandlePaymentEventConcurrentDeliveries(t *testing.T) {
	store := newFakeOrderStore()
	svc, pub := newTestOrderService(store)
	order := seedOrder(store, 1)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			event := paymentSucceededEvent(fmt.Sprintf("evt_%d", n), order.ID)
			_ = svc.HandlePaymentEvent(context.Background(), event)
		}(i)
	}
	wg.Wait()

	updated, _ := store.GetOrderByID(context.Background(), order.ID)
	assert.True(t, updated.IsPaid)
	assert.Equal(t, 1, pub.paidCount())
}

func TestConfirmPaymentConvergesWithWebhook(t *testing.T) {
	store := newFakeOrderStore()
	pub := &fakePublisher{}
	intents := &fakeIntents{intents: map[string]*stripe.PaymentIntent{}}
	svc := NewOrderService(store, pub, intents, &fakeDeduper{})

	order := seedOrder(store, 1)
	owner := &models.User{ID: 1}

	intents.intents["pi_123"] = &stripe.PaymentIntent{
		ID:           "pi_123",
		Status:       stripe.PaymentIntentStatusSucceeded,
		ReceiptEmail: "buyer@example.com",
		Metadata:     map[string]string{"orderId": fmt.Sprintf("%d", order.ID)},
	}

	// Webhook lands first, then the client confirms: both paths end in the
	// same terminal state with the original payment snapshot intact.
	require.NoError(t, svc.HandlePaymentEvent(context.Background(), paymentSucceededEvent("evt_1", order.ID)))

	confirmed, err := svc.ConfirmPayment(context.Background(), owner, order.ID, "pi_123")
	require.NoError(t, err)
	assert.True(t, confirmed.IsPaid)
	assert.Equal(t, "evt_1", confirmed.PaymentID.String)
	assert.Equal(t, 1, pub.paidCount())
}

func TestConfirmPaymentRequiresSucceededIntent(t *testing.T) {
	store := newFakeOrderStore()
	pub := &fakePublisher{}
	intents := &fakeIntents{intents: map[string]*stripe.PaymentIntent{
		"pi_pending": {
			ID:       "pi_pending",
			Status:   stripe.PaymentIntentStatusRequiresPaymentMethod,
			Metadata: map[string]string{"orderId": "1"},
		},
	}}
	svc := NewOrderService(store, pub, intents, &fakeDeduper{})
	order := seedOrder(store, 1)

	_, err := svc.ConfirmPayment(context.Background(), &models.User{ID: 1}, order.ID, "pi_pending")
	assert.ErrorIs(t, err, ErrPreconditionFailed)

	updated, _ := store.GetOrderByID(context.Background(), order.ID)
	assert.False(t, updated.IsPaid)
}

func TestConfirmPaymentForbiddenForOtherUser(t *testing.T) {
	store := newFakeOrderStore()
	svc, _ := newTestOrderService(store)
	order := seedOrder(store, 1)

	_, err := svc.ConfirmPayment(context.Background(), &models.User{ID: 2}, order.ID, "pi_123")
	assert.ErrorIs(t, err, ErrForbidden)
}

func TestMarkDeliveredRequiresPayment(t *testing.T) {
	store := newFakeOrderStore()
	svc, pub := newTestOrderService(store)
	order := seedOrder(store, 1)

	_, err := svc.MarkDelivered(context.Background(), order.ID)
	assert.ErrorIs(t, err, ErrPreconditionFailed)

	require.NoError(t, svc.HandlePaymentEvent(context.Background(), paymentSucceededEvent("evt_1", order.ID)))

	delivered, err := svc.MarkDelivered(context.Background(), order.ID)
	require.NoError(t, err)
	assert.True(t, delivered.IsDelivered)
	assert.True(t, delivered.DeliveredAt.Valid)
	assert.Len(t, pub.delivered, 1)

	// Repeating the call is a no-op, not an error.
	again, err := svc.MarkDelivered(context.Background(), order.ID)
	require.NoError(t, err)
	assert.True(t, again.IsDelivered)
	assert.Len(t, pub.delivered, 1)
}

func TestMarkDeliveredUnknownOrder(t *testing.T) {
	store := newFakeOrderStore()
	svc, _ := newTestOrderService(store)

	_, err := svc.MarkDelivered(context.Background(), 999)
	assert.ErrorIs(t, err, ErrOrderNotFound)
}

func TestCreateOrderSnapshotsPricesAndTotals(t *testing.T) {
	store := newFakeOrderStore()
	store.products[1] = models.Product{ID: 1, Name: "Keyboard", Price: 4000}
	store.products[2] = models.Product{ID: 2, Name: "Mouse", Price: 2000}
	svc, pub := newTestOrderService(store)

	order, err := svc.CreateOrder(context.Background(), 7, &CreateOrderRequest{
		PaymentMethod: "card",
		Items: []OrderItemRequest{
			{ProductID: 1, Quantity: 2},
			{ProductID: 2, Quantity: 1},
		},
	})
	require.NoError(t, err)

	assert.Equal(t, int64(10000), order.ItemsPrice)
	assert.Equal(t, int64(0), order.ShippingPrice) // free over threshold
	assert.Equal(t, int64(1500), order.TaxPrice)
	assert.Equal(t, int64(11500), order.TotalPrice)
	assert.False(t, order.IsPaid)

	items, _ := store.GetOrderItemsByOrderID(context.Background(), order.ID)
	require.Len(t, items, 2)
	assert.Equal(t, int64(4000), items[0].UnitPrice)
	assert.Equal(t, "Keyboard", items[0].Name)
	assert.Len(t, pub.created, 1)
}

func TestCreateOrderUnknownProduct(t *testing.T) {
	store := newFakeOrderStore()
	svc, _ := newTestOrderService(store)

	_, err := svc.CreateOrder(context.Background(), 7, &CreateOrderRequest{
		PaymentMethod: "card",
		Items:         []OrderItemRequest{{ProductID: 42, Quantity: 1}},
	})
	assert.Error(t, err)
}
