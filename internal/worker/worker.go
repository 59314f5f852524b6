package worker

import (
	"context"

	"storefront-api/internal/broker"
	"storefront-api/internal/models"
	"storefront-api/internal/util"

	"go.uber.org/zap"
)

// NotificationWorker consumes order events and dispatches customer
// notifications. Delivery of the notification itself is a collaborator
// concern; this worker owns consuming, routing, and acking.
type NotificationWorker struct {
	consumer     *broker.Consumer
	eventHandler *broker.EventHandler
	logger       *zap.Logger
}

// NewNotificationWorker creates a worker wired to the order events topic
func NewNotificationWorker(consumer *broker.Consumer) *NotificationWorker {
	logger := util.GetLogger()
	eventHandler := broker.NewEventHandler(logger)

	w := &NotificationWorker{
		consumer:     consumer,
		eventHandler: eventHandler,
		logger:       logger,
	}

	eventHandler.OnOrderPaid(w.handleOrderPaid)
	eventHandler.OnOrderDelivered(w.handleOrderDelivered)

	return w
}

// Start starts the worker
func (w *NotificationWorker) Start(ctx context.Context) error {
	w.logger.Info("Starting notification worker")
	return w.consumer.StartConsuming(ctx, w.eventHandler.HandleMessage)
}

// Stop stops the worker
func (w *NotificationWorker) Stop() error {
	w.logger.Info("Stopping notification worker")
	return w.consumer.Close()
}

func (w *NotificationWorker) handleOrderPaid(ctx context.Context, event *models.OrderPaidEvent) error {
	w.logger.Info("Sending payment receipt",
		zap.Int64("order_id", event.OrderID),
		zap.Int64("user_id", event.UserID),
		zap.String("payment_id", event.PaymentID))
	return nil
}

func (w *NotificationWorker) handleOrderDelivered(ctx context.Context, event *models.OrderDeliveredEvent) error {
	w.logger.Info("Sending delivery notification",
		zap.Int64("order_id", event.OrderID),
		zap.Int64("user_id", event.UserID))
	return nil
}
