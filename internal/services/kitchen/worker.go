package kitchen

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"labonnas-pos/internal/docstore"
	"labonnas-pos/internal/logger"
	"labonnas-pos/internal/messaging"
	"labonnas-pos/internal/models"
)

type consumer interface {
	StartConsuming(ctx context.Context, handler messaging.MessageHandler) error
	Close() error
}

// Worker keeps a Queue current, either from a store subscription or from
// order changes relayed over RabbitMQ.
type Worker struct {
	queue          *Queue
	store          docstore.Store
	logger         *logger.Logger
	resyncInterval time.Duration
	retryDelay     time.Duration
}

// NewWorker creates a worker. store may be nil in broker mode, in which case
// the queue is built from relayed changes only.
func NewWorker(queue *Queue, store docstore.Store, resyncInterval time.Duration, log *logger.Logger) *Worker {
	return &Worker{
		queue:          queue,
		store:          store,
		logger:         log,
		resyncInterval: resyncInterval,
		retryDelay:     time.Second,
	}
}

// RunLocal follows the pedidos collection directly. The queue is rebuilt
// from the snapshot of every new subscription.
func (w *Worker) RunLocal(ctx context.Context) error {
	requestID := logger.GenerateRequestID()
	w.logger.Info("worker_started", "Kitchen queue following the order store", requestID, nil)

	for {
		err := w.follow(ctx)
		if ctx.Err() != nil {
			w.logger.Info("graceful_shutdown", "Kitchen queue stopping", requestID, nil)
			return nil
		}
		w.logger.Error("subscription_lost", "Order subscription ended, resubscribing", requestID, err, map[string]interface{}{
			"queued_orders": w.queue.Len(),
		})

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(w.retryDelay):
		}
	}
}

func (w *Worker) follow(ctx context.Context) error {
	mark := w.queue.Mark()
	sub, err := w.store.Subscribe(ctx, models.CollectionOrders)
	if err != nil {
		return fmt.Errorf("failed to subscribe to orders: %w", err)
	}
	defer sub.Close()

	if err := w.queue.Rebuild(sub.Snapshot(), mark); err != nil {
		return fmt.Errorf("failed to rebuild kitchen queue: %w", err)
	}
	w.logger.Debug("queue_rebuilt", "Kitchen queue rebuilt from snapshot", "", map[string]interface{}{
		"queued_orders": w.queue.Len(),
	})

	for ev := range sub.Events() {
		if _, err := w.queue.ApplyEvent(ev); err != nil {
			w.logger.Error("event_skipped", "Failed to apply order event", "", err, map[string]interface{}{
				"order_id": ev.Doc.ID,
			})
		}
	}
	return sub.Err()
}

// RunPolling rebuilds the queue from the store every interval. A display in
// its own process has no broker feed and the store's subscriptions only see
// writes made by that same process.
func (w *Worker) RunPolling(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		return fmt.Errorf("poll interval must be positive, got %s", interval)
	}
	requestID := logger.GenerateRequestID()
	w.logger.Info("worker_started", "Kitchen queue polling the order store", requestID, map[string]interface{}{
		"poll_interval": interval.Seconds(),
	})

	if err := w.Resync(ctx); err != nil {
		w.logger.Error("resync_failed", "Initial kitchen queue rebuild failed", requestID, err, nil)
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			w.logger.Info("graceful_shutdown", "Kitchen queue stopping", requestID, nil)
			return nil
		case <-ticker.C:
			if err := w.Resync(ctx); err != nil && ctx.Err() == nil {
				w.logger.Error("resync_failed", "Kitchen queue poll failed", requestID, err, nil)
			}
		}
	}
}

// RunBroker consumes relayed order changes until ctx is cancelled. When a
// store is configured the queue is also rebuilt at start, after every
// broker reconnect and every resync interval.
func (w *Worker) RunBroker(ctx context.Context, c consumer) error {
	requestID := logger.GenerateRequestID()

	if w.store != nil {
		if err := w.Resync(ctx); err != nil {
			w.logger.Error("resync_failed", "Initial kitchen queue rebuild failed", requestID, err, nil)
		}
		if mc, ok := c.(*messaging.Consumer); ok {
			mc.OnReconnect = func(ctx context.Context) {
				if err := w.Resync(ctx); err != nil {
					w.logger.Error("resync_failed", "Kitchen queue rebuild after reconnect failed", "", err, nil)
				}
			}
		}
		if w.resyncInterval > 0 {
			go w.resyncLoop(ctx)
		}
	}

	w.logger.Info("worker_started", "Kitchen queue consuming order changes", requestID, map[string]interface{}{
		"queue":           messaging.KitchenQueue,
		"resync_interval": w.resyncInterval.Seconds(),
	})

	err := c.StartConsuming(ctx, w.handleMessage)
	c.Close()
	if ctx.Err() != nil {
		w.logger.Info("graceful_shutdown", "Kitchen queue stopping", requestID, nil)
		return nil
	}
	return err
}

func (w *Worker) resyncLoop(ctx context.Context) {
	ticker := time.NewTicker(w.resyncInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := w.Resync(ctx); err != nil {
				w.logger.Error("resync_failed", "Periodic kitchen queue rebuild failed", "", err, nil)
			}
		}
	}
}

// Resync rebuilds the queue from the order store.
func (w *Worker) Resync(ctx context.Context) error {
	mark := w.queue.Mark()
	docs, err := w.store.List(ctx, models.CollectionOrders)
	if err != nil {
		return fmt.Errorf("failed to list orders: %w", err)
	}
	return w.queue.Rebuild(docs, mark)
}

// handleMessage processes one relayed change.
func (w *Worker) handleMessage(ctx context.Context, body []byte) error {
	var msg models.ChangeMessage
	if err := json.Unmarshal(body, &msg); err != nil {
		w.logger.Error("message_parsing_failed", "Failed to parse change message", "", err, nil)
		return fmt.Errorf("failed to parse message: %w: %w", messaging.ErrMalformed, err)
	}
	if msg.Collection != models.CollectionOrders {
		return nil
	}

	applied, err := w.queue.ApplyMessage(msg)
	if err != nil {
		w.logger.Error("message_parsing_failed", "Failed to apply change message", "", err, map[string]interface{}{
			"order_id": msg.ID,
		})
		return fmt.Errorf("invalid change for %s: %w: %w", msg.ID, messaging.ErrMalformed, err)
	}

	w.logger.Debug("order_change_processed", fmt.Sprintf("Processed %s change for order %s", msg.Type, msg.ID), "", map[string]interface{}{
		"order_id": msg.ID,
		"version":  msg.Version,
		"applied":  applied,
	})
	return nil
}
