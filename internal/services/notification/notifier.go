package notification

import (
	"context"
	"time"

	"labonnas-pos/internal/logger"
	"labonnas-pos/internal/models"
)

// Notifier delivers operator notifications. Delivery is best effort: a
// failure is logged and never fails the operation that caused it.
type Notifier interface {
	Notify(ctx context.Context, msg models.Notification)
}

type publisher interface {
	PublishNotification(ctx context.Context, msg models.Notification) error
}

// BrokerNotifier publishes to the notifications fanout exchange.
type BrokerNotifier struct {
	publisher publisher
	logger    *logger.Logger
}

func NewBrokerNotifier(p publisher, log *logger.Logger) *BrokerNotifier {
	return &BrokerNotifier{publisher: p, logger: log}
}

func (n *BrokerNotifier) Notify(ctx context.Context, msg models.Notification) {
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now().UTC()
	}
	if err := n.publisher.PublishNotification(ctx, msg); err != nil {
		n.logger.Error("notification_publish_failed", "Failed to publish notification", "", err, map[string]interface{}{
			"type": msg.Type,
		})
	}
}

// LogNotifier writes notifications to the structured log. Used when the
// broker is disabled.
type LogNotifier struct {
	logger *logger.Logger
}

func NewLogNotifier(log *logger.Logger) *LogNotifier {
	return &LogNotifier{logger: log}
}

func (n *LogNotifier) Notify(_ context.Context, msg models.Notification) {
	n.logger.Info("notification", msg.Type, "", map[string]interface{}{
		"table_number": msg.TableNumber,
		"order_id":     msg.OrderID,
		"new_status":   msg.NewStatus,
		"changed_by":   msg.ChangedBy,
		"detail":       msg.Detail,
	})
}
