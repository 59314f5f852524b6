package service

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"storefront-api/internal/models"
	"storefront-api/internal/payment"
	"storefront-api/internal/util"

	"github.com/google/uuid"
	"github.com/stripe/stripe-go/v76"
	"go.uber.org/zap"
)

// OrderStore is the persistence surface the order service depends on.
// *store.Store satisfies it; tests substitute an in-memory fake.
type OrderStore interface {
	CreateOrder(ctx context.Context, order *models.Order, items []models.OrderItem) error
	GetOrderByID(ctx context.Context, id int64) (*models.Order, error)
	GetOrderItemsByOrderID(ctx context.Context, orderID int64) ([]models.OrderItem, error)
	GetOrdersByUserID(ctx context.Context, userID int64) ([]models.Order, error)
	GetOrders(ctx context.Context) ([]models.Order, error)
	MarkOrderPaid(ctx context.Context, orderID int64, result models.PaymentResult) (bool, error)
	MarkOrderDelivered(ctx context.Context, orderID int64) (bool, error)
	GetProductsByIDs(ctx context.Context, ids []int64) ([]models.Product, error)
}

// EventPublisher publishes order domain events to the broker.
type EventPublisher interface {
	PublishOrderCreated(ctx context.Context, event *models.OrderCreatedEvent) error
	PublishOrderPaid(ctx context.Context, event *models.OrderPaidEvent) error
	PublishOrderDelivered(ctx context.Context, event *models.OrderDeliveredEvent) error
}

// IntentClient creates and retrieves payment intents with the provider.
type IntentClient interface {
	Create(ctx context.Context, orderID int64, amount int64) (*stripe.PaymentIntent, error)
	Get(ctx context.Context, id string) (*stripe.PaymentIntent, error)
}

// Deduper is the fast-path duplicate filter for webhook deliveries. The
// conditional update in the store is the authoritative guard; the deduper
// only keeps repeat deliveries cheap.
type Deduper interface {
	FirstDelivery(ctx context.Context, orderID int64, eventID string) (bool, error)
}

// Pricing rules applied once at order creation. Amounts are in cents.
const (
	taxRateBasisPoints    = 1500  // 15%
	freeShippingThreshold = 10000 // orders of $100+ ship free
	flatShippingPrice     = 1000
)

// OrderService handles order creation and the payment/delivery state machine
type OrderService struct {
	store   OrderStore
	events  EventPublisher
	intents IntentClient
	dedupe  Deduper
	logger  *zap.Logger
}

// NewOrderService creates a new order service
func NewOrderService(store OrderStore, events EventPublisher, intents IntentClient, dedupe Deduper) *OrderService {
	return &OrderService{
		store:   store,
		events:  events,
		intents: intents,
		dedupe:  dedupe,
		logger:  util.GetLogger(),
	}
}

// CreateOrderRequest represents a request to create an order from a cart
// snapshot. Prices are never taken from the client; they are copied from the
// catalog at creation time.
type CreateOrderRequest struct {
	Items         []OrderItemRequest `json:"items" binding:"required,min=1"`
	PaymentMethod string             `json:"payment_method" binding:"required"`
}

// OrderItemRequest represents one cart line
type OrderItemRequest struct {
	ProductID int64 `json:"product_id" binding:"required"`
	Quantity  int   `json:"quantity" binding:"required,min=1"`
}

// CreateOrder creates an order owned by userID from a non-empty cart
// snapshot. Totals are computed once here and never recomputed.
func (s *OrderService) CreateOrder(ctx context.Context, userID int64, req *CreateOrderRequest) (*models.Order, error) {
	ctx, span := util.StartSpan(ctx, "OrderService.CreateOrder")
	defer span.End()

	products, err := s.resolveProducts(ctx, req.Items)
	if err != nil {
		util.OrdersFailedTotal.WithLabelValues("invalid_items").Inc()
		return nil, err
	}

	items := make([]models.OrderItem, 0, len(req.Items))
	var itemsPrice int64
	for _, line := range req.Items {
		product := products[line.ProductID]
		items = append(items, models.OrderItem{
			ProductID: product.ID,
			Name:      product.Name,
			Quantity:  line.Quantity,
			UnitPrice: product.Price,
		})
		itemsPrice += product.Price * int64(line.Quantity)
	}

	shippingPrice := int64(flatShippingPrice)
	if itemsPrice >= freeShippingThreshold {
		shippingPrice = 0
	}
	taxPrice := itemsPrice * taxRateBasisPoints / 10000

	order := &models.Order{
		UserID:        userID,
		PaymentMethod: req.PaymentMethod,
		ItemsPrice:    itemsPrice,
		ShippingPrice: shippingPrice,
		TaxPrice:      taxPrice,
		TotalPrice:    itemsPrice + shippingPrice + taxPrice,
	}

	if err := s.store.CreateOrder(ctx, order, items); err != nil {
		util.OrdersFailedTotal.WithLabelValues("db_error").Inc()
		return nil, fmt.Errorf("failed to create order: %w", err)
	}

	util.OrdersCreatedTotal.Inc()
	s.logger.Info("Order created",
		zap.Int64("order_id", order.ID),
		zap.Int64("user_id", userID),
		zap.Int64("total", order.TotalPrice))

	eventItems := make([]models.OrderItemData, 0, len(items))
	for _, item := range items {
		eventItems = append(eventItems, models.OrderItemData{
			ProductID: item.ProductID,
			Quantity:  item.Quantity,
			UnitPrice: item.UnitPrice,
		})
	}

	event := &models.OrderCreatedEvent{
		BaseEvent:  newBaseEvent(models.EventTypeOrderCreated),
		OrderID:    order.ID,
		UserID:     userID,
		TotalPrice: order.TotalPrice,
		Items:      eventItems,
	}
	if err := s.events.PublishOrderCreated(ctx, event); err != nil {
		s.logger.Error("Failed to publish OrderCreated event", zap.Error(err))
	}

	return order, nil
}

// GetOrder retrieves an order with its items for the requesting user. Only
// the owner or an admin may read it.
func (s *OrderService) GetOrder(ctx context.Context, requester *models.User, orderID int64) (*models.Order, []models.OrderItem, error) {
	order, err := s.store.GetOrderByID(ctx, orderID)
	if err != nil {
		return nil, nil, err
	}
	if order == nil {
		return nil, nil, ErrOrderNotFound
	}
	if order.UserID != requester.ID && !requester.IsAdmin {
		return nil, nil, ErrForbidden
	}

	items, err := s.store.GetOrderItemsByOrderID(ctx, orderID)
	if err != nil {
		return nil, nil, err
	}
	return order, items, nil
}

// ListMyOrders lists the requesting user's orders.
func (s *OrderService) ListMyOrders(ctx context.Context, userID int64) ([]models.Order, error) {
	return s.store.GetOrdersByUserID(ctx, userID)
}

// ListOrders lists all orders (admin).
func (s *OrderService) ListOrders(ctx context.Context) ([]models.Order, error) {
	return s.store.GetOrders(ctx)
}

// CreatePaymentIntent creates a provider payment intent for an unpaid order
// owned by the requester. The order id is attached as intent metadata so the
// webhook reconciler can map the event back.
func (s *OrderService) CreatePaymentIntent(ctx context.Context, requester *models.User, orderID int64) (string, error) {
	ctx, span := util.StartSpan(ctx, "OrderService.CreatePaymentIntent")
	defer span.End()

	order, err := s.store.GetOrderByID(ctx, orderID)
	if err != nil {
		return "", err
	}
	if order == nil {
		return "", ErrOrderNotFound
	}
	if order.UserID != requester.ID && !requester.IsAdmin {
		return "", ErrForbidden
	}
	if order.IsPaid {
		return "", ErrPreconditionFailed
	}

	intent, err := s.intents.Create(ctx, order.ID, order.TotalPrice)
	if err != nil {
		return "", fmt.Errorf("failed to create payment intent: %w", err)
	}
	return intent.ClientSecret, nil
}

// ConfirmPayment is the synchronous client-side confirmation path. It checks
// the payment intent with the provider and applies the same conditional
// transition as the webhook reconciler, so both paths converge on the same
// terminal state regardless of arrival order.
func (s *OrderService) ConfirmPayment(ctx context.Context, requester *models.User, orderID int64, intentID string) (*models.Order, error) {
	ctx, span := util.StartSpan(ctx, "OrderService.ConfirmPayment")
	defer span.End()

	order, err := s.store.GetOrderByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order == nil {
		return nil, ErrOrderNotFound
	}
	if order.UserID != requester.ID && !requester.IsAdmin {
		return nil, ErrForbidden
	}

	intent, err := s.intents.Get(ctx, intentID)
	if err != nil {
		return nil, fmt.Errorf("failed to retrieve payment intent: %w", err)
	}
	if intent.Status != stripe.PaymentIntentStatusSucceeded {
		return nil, ErrPreconditionFailed
	}
	if intent.Metadata[payment.OrderIDMetadataKey] != strconv.FormatInt(orderID, 10) {
		return nil, ErrPreconditionFailed
	}

	s.applyPayment(ctx, orderID, models.PaymentResult{
		ID:         intent.ID,
		Status:     string(intent.Status),
		PayerEmail: intent.ReceiptEmail,
	})

	updated, err := s.store.GetOrderByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// HandlePaymentEvent applies a signature-verified provider event to order
// state. Every outcome here is an acknowledgment; only signature failure
// (checked before this point) is reported back to the provider.
func (s *OrderService) HandlePaymentEvent(ctx context.Context, event stripe.Event) error {
	ctx, span := util.StartSpan(ctx, "OrderService.HandlePaymentEvent")
	defer span.End()

	util.WebhookEventsTotal.WithLabelValues(string(event.Type)).Inc()

	if string(event.Type) != payment.EventTypePaymentSucceeded {
		s.logger.Debug("Ignoring webhook event", zap.String("type", string(event.Type)))
		return nil
	}

	var intent stripe.PaymentIntent
	if err := json.Unmarshal(event.Data.Raw, &intent); err != nil {
		s.logger.Warn("Malformed payment intent payload",
			zap.String("event_id", event.ID), zap.Error(err))
		return nil
	}

	orderID, err := strconv.ParseInt(intent.Metadata[payment.OrderIDMetadataKey], 10, 64)
	if err != nil {
		s.logger.Warn("Payment event without order reference",
			zap.String("event_id", event.ID))
		return nil
	}

	if s.dedupe != nil {
		first, err := s.dedupe.FirstDelivery(ctx, orderID, event.ID)
		if err != nil {
			// The conditional update below still guarantees idempotence;
			// the fast path is best effort.
			s.logger.Warn("Event dedupe check failed", zap.Error(err))
		} else if !first {
			util.DuplicateEventsTotal.Inc()
			s.logger.Info("Duplicate payment event",
				zap.Int64("order_id", orderID),
				zap.String("event_id", event.ID))
			return nil
		}
	}

	s.applyPayment(ctx, orderID, models.PaymentResult{
		ID:         event.ID,
		Status:     string(intent.Status),
		PayerEmail: intent.ReceiptEmail,
	})
	return nil
}

// applyPayment performs the idempotent paid transition. The store expresses
// it as a single conditional update, so concurrent deliveries of the same
// event race safely: exactly one caller observes the flip.
func (s *OrderService) applyPayment(ctx context.Context, orderID int64, result models.PaymentResult) {
	transitioned, err := s.store.MarkOrderPaid(ctx, orderID, result)
	if err != nil {
		s.logger.Error("Failed to mark order paid",
			zap.Int64("order_id", orderID), zap.Error(err))
		return
	}

	if !transitioned {
		order, err := s.store.GetOrderByID(ctx, orderID)
		if err != nil {
			s.logger.Error("Failed to look up order",
				zap.Int64("order_id", orderID), zap.Error(err))
			return
		}
		if order == nil {
			s.logger.Warn("Payment event for unknown order",
				zap.Int64("order_id", orderID),
				zap.String("event_id", result.ID))
			return
		}
		s.logger.Info("Order already paid",
			zap.Int64("order_id", orderID),
			zap.String("event_id", result.ID))
		return
	}

	util.OrdersPaidTotal.Inc()
	s.logger.Info("Order marked as paid",
		zap.Int64("order_id", orderID),
		zap.String("payment_id", result.ID))

	order, err := s.store.GetOrderByID(ctx, orderID)
	if err != nil || order == nil {
		s.logger.Error("Failed to reload paid order", zap.Int64("order_id", orderID))
		return
	}

	event := &models.OrderPaidEvent{
		BaseEvent:  newBaseEvent(models.EventTypeOrderPaid),
		OrderID:    order.ID,
		UserID:     order.UserID,
		TotalPrice: order.TotalPrice,
		PaymentID:  result.ID,
		PayerEmail: result.PayerEmail,
	}
	if err := s.events.PublishOrderPaid(ctx, event); err != nil {
		s.logger.Error("Failed to publish OrderPaid event", zap.Error(err))
	}
}

// MarkDelivered flips is_delivered for a paid order (admin action). Delivery
// before payment fails the precondition; a repeated call on a delivered
// order is a no-op.
func (s *OrderService) MarkDelivered(ctx context.Context, orderID int64) (*models.Order, error) {
	ctx, span := util.StartSpan(ctx, "OrderService.MarkDelivered")
	defer span.End()

	transitioned, err := s.store.MarkOrderDelivered(ctx, orderID)
	if err != nil {
		return nil, fmt.Errorf("failed to mark order delivered: %w", err)
	}

	order, err := s.store.GetOrderByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order == nil {
		return nil, ErrOrderNotFound
	}

	if !transitioned {
		if !order.IsPaid {
			return nil, ErrPreconditionFailed
		}
		// Already delivered: monotonic, nothing to redo.
		return order, nil
	}

	util.OrdersDeliveredTotal.Inc()
	s.logger.Info("Order marked as delivered", zap.Int64("order_id", orderID))

	event := &models.OrderDeliveredEvent{
		BaseEvent: newBaseEvent(models.EventTypeOrderDelivered),
		OrderID:   order.ID,
		UserID:    order.UserID,
	}
	if err := s.events.PublishOrderDelivered(ctx, event); err != nil {
		s.logger.Error("Failed to publish OrderDelivered event", zap.Error(err))
	}

	return order, nil
}

func (s *OrderService) resolveProducts(ctx context.Context, items []OrderItemRequest) (map[int64]models.Product, error) {
	ids := make([]int64, len(items))
	for i, item := range items {
		ids[i] = item.ProductID
	}

	products, err := s.store.GetProductsByIDs(ctx, ids)
	if err != nil {
		return nil, err
	}

	productMap := make(map[int64]models.Product, len(products))
	for _, p := range products {
		productMap[p.ID] = p
	}
	for _, item := range items {
		if _, ok := productMap[item.ProductID]; !ok {
			return nil, fmt.Errorf("product not found: %d", item.ProductID)
		}
	}
	return productMap, nil
}

func newBaseEvent(eventType string) models.BaseEvent {
	return models.BaseEvent{
		EventID:   uuid.New().String(),
		EventType: eventType,
		Timestamp: time.Now(),
	}
}
