package notification

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"labonnas-pos/internal/logger"
	"labonnas-pos/internal/messaging"
	"labonnas-pos/internal/models"
	"labonnas-pos/internal/money"
)

type consumer interface {
	StartConsuming(ctx context.Context, handler messaging.MessageHandler) error
	Close() error
}

// Subscriber prints notifications from the fanout queue for humans.
type Subscriber struct {
	consumer consumer
	logger   *logger.Logger
	money    *money.Formatter
	out      io.Writer
}

func NewSubscriber(c consumer, formatter *money.Formatter, out io.Writer, log *logger.Logger) *Subscriber {
	return &Subscriber{
		consumer: c,
		logger:   log,
		money:    formatter,
		out:      out,
	}
}

// Start consumes until ctx is cancelled.
func (s *Subscriber) Start(ctx context.Context) error {
	requestID := logger.GenerateRequestID()
	s.logger.Info("service_started", "Notification subscriber started", requestID, nil)

	err := s.consumer.StartConsuming(ctx, s.handleNotification)

	s.logger.Info("graceful_shutdown", "Notification subscriber stopping", requestID, nil)
	s.consumer.Close()
	if ctx.Err() != nil {
		return nil
	}
	return err
}

func (s *Subscriber) handleNotification(ctx context.Context, body []byte) error {
	var msg models.Notification
	if err := json.Unmarshal(body, &msg); err != nil {
		return fmt.Errorf("failed to parse notification: %w: %w", messaging.ErrMalformed, err)
	}

	fmt.Fprintln(s.out, s.Format(msg))

	s.logger.Debug("notification_displayed", "Notification displayed to user", "", map[string]interface{}{
		"type":       msg.Type,
		"order_id":   msg.OrderID,
		"new_status": msg.NewStatus,
	})
	return nil
}

// Format renders a notification as one console line.
func (s *Subscriber) Format(msg models.Notification) string {
	timestamp := msg.Timestamp.Format("2006-01-02 15:04:05")
	amount := ""
	if msg.Amount != nil {
		amount = s.money.Format(*msg.Amount)
	}

	switch msg.Type {
	case models.NotifyOrderStatus:
		switch models.OrderStatus(msg.NewStatus) {
		case models.StatusKitchenPending:
			return fmt.Sprintf("🍳 [%s] Mesa %d: order %s sent to the kitchen by %s.", timestamp, msg.TableNumber, msg.OrderID, msg.ChangedBy)
		case models.StatusCompleted:
			return fmt.Sprintf("✅ [%s] Mesa %d: order %s is ready.", timestamp, msg.TableNumber, msg.OrderID)
		case models.StatusCancelled:
			return fmt.Sprintf("❌ [%s] Mesa %d: order %s has been cancelled.", timestamp, msg.TableNumber, msg.OrderID)
		}
		return fmt.Sprintf("📋 [%s] Mesa %d: order %s changed from '%s' to '%s' by %s.",
			timestamp, msg.TableNumber, msg.OrderID, msg.OldStatus, msg.NewStatus, msg.ChangedBy)
	case models.NotifyOrderDeletion:
		return fmt.Sprintf("🗑️ [%s] Mesa %d: %s asked to cancel order %s (%s).", timestamp, msg.TableNumber, msg.ChangedBy, msg.OrderID, msg.Detail)
	case models.NotifyTablePaid:
		return fmt.Sprintf("💶 [%s] Mesa %d paid %s by %s.", timestamp, msg.TableNumber, amount, msg.Method)
	case models.NotifyTableCleared:
		return fmt.Sprintf("🧹 [%s] Mesa %d is available again.", timestamp, msg.TableNumber)
	case models.NotifyCaixaOpened:
		return fmt.Sprintf("🔓 [%s] Caixa opened by %s with %s.", timestamp, msg.ChangedBy, amount)
	case models.NotifyCaixaClosed:
		return fmt.Sprintf("🔒 [%s] Caixa closed by %s. Final balance %s.", timestamp, msg.ChangedBy, amount)
	case models.NotifyCartSyncFailed:
		return fmt.Sprintf("⚠️ [%s] Mesa %d: cart could not be saved (%s).", timestamp, msg.TableNumber, msg.Detail)
	default:
		return fmt.Sprintf("📋 [%s] %s %s", timestamp, msg.Type, msg.Detail)
	}
}
