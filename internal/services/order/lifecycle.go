package order

import (
	"context"
	"errors"
	"sort"
	"strings"
	"time"

	"labonnas-pos/internal/apperr"
	"labonnas-pos/internal/auth"
	"labonnas-pos/internal/docstore"
	"labonnas-pos/internal/logger"
	"labonnas-pos/internal/models"
	"labonnas-pos/internal/services/table"
)

var (
	ErrNoDeletionRequest = apperr.New(apperr.KindPrecondition, "no_deletion_request", "order has no pending deletion request")
	ErrOrderClosed       = apperr.New(apperr.KindPrecondition, "order_closed", "order is already completed or cancelled")
)

// Lifecycle submits carts as orders and moves orders through their states.
type Lifecycle struct {
	store    docstore.Store
	orders   docstore.Collection[models.Order]
	registry *table.Registry
	drafts   *Drafts
	notifier notifier
	logger   *logger.Logger
	now      func() time.Time
}

func NewLifecycle(store docstore.Store, registry *table.Registry, drafts *Drafts, n notifier, log *logger.Logger) *Lifecycle {
	return &Lifecycle{
		store:    store,
		orders:   docstore.NewCollection[models.Order](store, models.CollectionOrders),
		registry: registry,
		drafts:   drafts,
		notifier: n,
		logger:   log,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Submit turns the table's cart into an order attached to the table. With
// sendToKitchen the order starts in kitchen-pending. The cart is emptied on
// success and left as it was on failure.
func (l *Lifecycle) Submit(ctx context.Context, session auth.Session, tableID, responsible string, sendToKitchen bool) (models.Order, models.Table, error) {
	lines := l.drafts.Take(tableID, session.Name)
	if err := ValidateSubmission(responsible, lines); err != nil {
		l.drafts.PutBack(tableID, session.Name, lines)
		return models.Order{}, models.Table{}, err
	}

	status := models.StatusPending
	if sendToKitchen {
		status = models.StatusKitchenPending
	}
	order := models.Order{
		Responsible: strings.TrimSpace(responsible),
		Items:       lines,
		Status:      status,
		Total:       models.LinesTotal(lines),
		CreatedAt:   l.now(),
		CreatedBy:   session.Name,
	}

	order, tbl, err := l.registry.SubmitOrder(ctx, tableID, order)
	if err != nil {
		l.drafts.PutBack(tableID, session.Name, lines)
		return models.Order{}, models.Table{}, err
	}

	l.logger.Info("order_submitted", "Order submitted", "", map[string]interface{}{
		"order_id": order.ID,
		"table_id": tableID,
		"status":   order.Status,
		"user_id":  session.UserID,
	})
	if sendToKitchen {
		l.notifyStatus(ctx, order, "", session.Name)
	}
	return order, tbl, nil
}

// Transition moves an order to status. Kitchen staff and managers may
// cancel directly; everyone else asks for deletion instead.
func (l *Lifecycle) Transition(ctx context.Context, session auth.Session, orderID string, status models.OrderStatus) (models.Order, error) {
	if !status.Valid() {
		return models.Order{}, apperr.Validation("status", "invalid order status")
	}
	if status == models.StatusCancelled && !session.IsManager() && session.Role != auth.RoleCozinha {
		return models.Order{}, apperr.Forbidden("only kitchen or managers can cancel orders; request deletion instead")
	}

	current, err := l.Get(ctx, orderID)
	if err != nil {
		return models.Order{}, err
	}

	updated, err := l.registry.UpdateOrderStatus(ctx, current.TableID, orderID, status, nil)
	if err != nil {
		return models.Order{}, err
	}
	if updated.Status != status {
		// no longer attached to its table
		return models.Order{}, ErrOrderClosed
	}

	l.logger.Info("order_status_changed", "Order status changed", "", map[string]interface{}{
		"order_id":   orderID,
		"old_status": current.Status,
		"new_status": status,
		"user_id":    session.UserID,
	})
	l.notifyStatus(ctx, updated, current.Status, session.Name)
	return updated, nil
}

// RequestDeletion records why an order should be cancelled. A manager
// approves it with ApproveDeletion.
func (l *Lifecycle) RequestDeletion(ctx context.Context, session auth.Session, orderID, reason string) (models.Order, error) {
	if strings.TrimSpace(reason) == "" {
		return models.Order{}, apperr.Validation("reason", "reason is required")
	}

	var updated models.Order
	err := docstore.Retry(ctx, docstore.DefaultAttempts, func(ctx context.Context) error {
		current, err := l.Get(ctx, orderID)
		if err != nil {
			return err
		}
		if current.Status.Terminal() {
			return ErrOrderClosed
		}
		request := models.DeletionRequest{
			Reason:      strings.TrimSpace(reason),
			RequestedBy: session.Name,
			RequestedAt: l.now(),
		}
		docs, err := l.store.Apply(ctx, docstore.Update(models.CollectionOrders, orderID, map[string]any{
			"deletion_request": request,
		}).IfVersion(current.Version))
		if err != nil {
			return err
		}
		updated, err = docstore.Decode[models.Order](docs[0])
		return err
	})
	if err != nil {
		return models.Order{}, apperr.Storage(err)
	}

	l.notifier.Notify(ctx, models.Notification{
		Type:        models.NotifyOrderDeletion,
		TableNumber: updated.TableNumber,
		OrderID:     updated.ID,
		ChangedBy:   session.Name,
		Detail:      updated.DeletionRequest.Reason,
	})
	return updated, nil
}

// ApproveDeletion cancels an order that has a deletion request.
func (l *Lifecycle) ApproveDeletion(ctx context.Context, session auth.Session, orderID string) (models.Order, error) {
	if !session.IsManager() {
		return models.Order{}, apperr.Forbidden("only managers can approve deletions")
	}
	current, err := l.Get(ctx, orderID)
	if err != nil {
		return models.Order{}, err
	}
	if current.DeletionRequest == nil {
		return models.Order{}, ErrNoDeletionRequest
	}
	if current.Status.Terminal() {
		return models.Order{}, ErrOrderClosed
	}

	updated, err := l.registry.UpdateOrderStatus(ctx, current.TableID, orderID, models.StatusCancelled, nil)
	if err != nil {
		return models.Order{}, err
	}
	if updated.Status != models.StatusCancelled {
		return models.Order{}, ErrOrderClosed
	}
	l.logger.Info("order_deletion_approved", "Order deletion approved", "", map[string]interface{}{
		"order_id":    orderID,
		"approved_by": session.UserID,
	})
	l.notifyStatus(ctx, updated, current.Status, session.Name)
	return updated, nil
}

func (l *Lifecycle) Get(ctx context.Context, orderID string) (models.Order, error) {
	o, err := l.orders.Get(ctx, orderID)
	if err != nil {
		if errors.Is(err, docstore.ErrNotFound) {
			return models.Order{}, apperr.NotFound("order")
		}
		return models.Order{}, apperr.Storage(err)
	}
	return o, nil
}

// List returns orders, optionally with one status, oldest first.
func (l *Lifecycle) List(ctx context.Context, status models.OrderStatus) ([]models.Order, error) {
	var filters []docstore.Filter
	if status != "" {
		if !status.Valid() {
			return nil, apperr.Validation("status", "invalid order status")
		}
		filters = append(filters, docstore.Eq("status", status))
	}
	orders, err := l.orders.List(ctx, filters...)
	if err != nil {
		return nil, apperr.Storage(err)
	}
	sort.SliceStable(orders, func(i, j int) bool { return orders[i].CreatedAt.Before(orders[j].CreatedAt) })
	return orders, nil
}

func (l *Lifecycle) notifyStatus(ctx context.Context, o models.Order, old models.OrderStatus, by string) {
	l.notifier.Notify(ctx, models.Notification{
		Type:        models.NotifyOrderStatus,
		TableNumber: o.TableNumber,
		OrderID:     o.ID,
		OldStatus:   string(old),
		NewStatus:   string(o.Status),
		ChangedBy:   by,
	})
}
