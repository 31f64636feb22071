// Package relay forwards document changes from the store to the broker.
package relay

import (
	"context"
	"fmt"
	"time"

	"labonnas-pos/internal/docstore"
	"labonnas-pos/internal/logger"
	"labonnas-pos/internal/models"
)

type publisher interface {
	PublishChange(ctx context.Context, msg models.ChangeMessage) error
}

// Relay publishes every change of one collection to the changes exchange.
// Each new subscription first republishes its snapshot as added changes;
// consumers drop versions they have already seen.
type Relay struct {
	store      docstore.Store
	publisher  publisher
	collection string
	logger     *logger.Logger
	retryDelay time.Duration
}

func New(store docstore.Store, p publisher, collection string, log *logger.Logger) *Relay {
	return &Relay{
		store:      store,
		publisher:  p,
		collection: collection,
		logger:     log,
		retryDelay: time.Second,
	}
}

// Run relays until ctx is cancelled.
func (r *Relay) Run(ctx context.Context) error {
	requestID := logger.GenerateRequestID()
	r.logger.Info("relay_started", "Change relay started", requestID, map[string]interface{}{
		"collection": r.collection,
	})

	for {
		err := r.relay(ctx)
		if ctx.Err() != nil {
			r.logger.Info("graceful_shutdown", "Change relay stopping", requestID, nil)
			return nil
		}
		r.logger.Error("relay_subscription_lost", "Change subscription ended, resubscribing", requestID, err, map[string]interface{}{
			"collection": r.collection,
		})

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(r.retryDelay):
		}
	}
}

func (r *Relay) relay(ctx context.Context) error {
	sub, err := r.store.Subscribe(ctx, r.collection)
	if err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", r.collection, err)
	}
	defer sub.Close()

	for _, doc := range sub.Snapshot() {
		r.publish(ctx, docstore.EventAdded, doc)
	}
	for ev := range sub.Events() {
		r.publish(ctx, ev.Type, ev.Doc)
	}
	return sub.Err()
}

// publish sends one change. A failed publish is logged and skipped; the
// consumer's periodic resync repairs the gap.
func (r *Relay) publish(ctx context.Context, evType docstore.EventType, doc docstore.Document) {
	msg := models.ChangeMessage{
		Collection: doc.Collection,
		Type:       string(evType),
		ID:         doc.ID,
		Version:    doc.Version,
		Data:       doc.Data,
		Timestamp:  doc.UpdatedAt,
	}
	if err := r.publisher.PublishChange(ctx, msg); err != nil {
		r.logger.Error("change_publish_failed", "Failed to publish change", "", err, map[string]interface{}{
			"routing_key": msg.RoutingKey(),
			"id":          doc.ID,
			"version":     doc.Version,
		})
	}
}
