package table

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"labonnas-pos/internal/apperr"
	"labonnas-pos/internal/docstore"
	"labonnas-pos/internal/logger"
	"labonnas-pos/internal/models"
)

var (
	ErrInvalidTransition = apperr.New(apperr.KindValidation, "invalid_transition", "order status change not allowed")
	ErrUseClear          = apperr.New(apperr.KindValidation, "use_clear", "tables become available only by clearing them")
)

type notifier interface {
	Notify(ctx context.Context, msg models.Notification)
}

// Registry owns the mesas collection and keeps the orders embedded in each
// table consistent with the pedidos collection.
type Registry struct {
	store    docstore.Store
	tables   docstore.Collection[models.Table]
	orders   docstore.Collection[models.Order]
	notifier notifier
	logger   *logger.Logger
	now      func() time.Time
}

func NewRegistry(store docstore.Store, n notifier, log *logger.Logger) *Registry {
	return &Registry{
		store:    store,
		tables:   docstore.NewCollection[models.Table](store, models.CollectionTables),
		orders:   docstore.NewCollection[models.Order](store, models.CollectionOrders),
		notifier: n,
		logger:   log,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Setup creates tables 1..count that do not exist yet. Existing tables are
// left untouched, so running it twice is harmless.
func (r *Registry) Setup(ctx context.Context, count int) (int, error) {
	if count < 1 {
		return 0, apperr.Validation("count", "table count must be at least 1")
	}
	existing, err := r.tables.List(ctx)
	if err != nil {
		return 0, apperr.Storage(err)
	}
	have := make(map[string]bool, len(existing))
	for _, t := range existing {
		have[t.ID] = true
	}

	var writes []docstore.Write
	for n := 1; n <= count; n++ {
		t := models.NewTable(n)
		if have[t.ID] {
			continue
		}
		t.UpdatedAt = r.now()
		writes = append(writes, docstore.Create(models.CollectionTables, t.ID, t))
	}

	size := r.store.MaxBatch()
	for start := 0; start < len(writes); start += size {
		end := min(start+size, len(writes))
		if _, err := r.store.Apply(ctx, writes[start:end]...); err != nil {
			return start, apperr.Storage(err)
		}
	}
	return len(writes), nil
}

// List returns every table ordered by number.
func (r *Registry) List(ctx context.Context) ([]models.Table, error) {
	tables, err := r.tables.List(ctx)
	if err != nil {
		return nil, apperr.Storage(err)
	}
	sort.Slice(tables, func(i, j int) bool { return tables[i].Number < tables[j].Number })
	return tables, nil
}

func (r *Registry) Get(ctx context.Context, tableID string) (models.Table, error) {
	t, err := r.tables.Get(ctx, tableID)
	if err != nil {
		if errors.Is(err, docstore.ErrNotFound) {
			return models.Table{}, apperr.NotFound("table")
		}
		return models.Table{}, apperr.Storage(err)
	}
	return t, nil
}

// NotAvailable returns the numbers of tables whose status is not available.
func (r *Registry) NotAvailable(ctx context.Context) ([]int, error) {
	tables, err := r.List(ctx)
	if err != nil {
		return nil, err
	}
	var busy []int
	for _, t := range tables {
		if t.Status != models.TableAvailable {
			busy = append(busy, t.Number)
		}
	}
	return busy, nil
}

// SubmitOrder stores order and attaches it to the table in one batch. An
// empty order id is generated. The table moves from available to occupied.
func (r *Registry) SubmitOrder(ctx context.Context, tableID string, order models.Order) (models.Order, models.Table, error) {
	if order.ID == "" {
		order.ID = uuid.NewString()
	}

	var updated models.Table
	err := docstore.Retry(ctx, docstore.DefaultAttempts, func(ctx context.Context) error {
		t, err := r.Get(ctx, tableID)
		if err != nil {
			return err
		}
		order.TableID = t.ID
		order.TableNumber = t.Number

		updated = t.AttachOrder(order)
		updated.UpdatedAt = r.now()

		_, err = r.store.Apply(ctx,
			docstore.Create(models.CollectionOrders, order.ID, order),
			docstore.Update(models.CollectionTables, t.ID, updated.Fields()).IfVersion(t.Version),
		)
		if err != nil {
			return err
		}
		updated.Version = t.Version + 1
		return nil
	})
	if err != nil {
		return models.Order{}, models.Table{}, apperr.Storage(err)
	}

	r.logger.Info("order_attached", "Order attached to table", "", map[string]interface{}{
		"table_id": tableID,
		"order_id": order.ID,
		"status":   order.Status,
		"total":    order.Total.String(),
	})
	return order, updated, nil
}

// UpdateOrderStatus moves an order to status and mirrors the change onto the
// table's embedded copy. extra holds further order fields to write in the
// same batch. An unknown order, or one not attached to tableID, is left alone:
// nothing is written and the stored order (zero if unknown) is returned.
func (r *Registry) UpdateOrderStatus(ctx context.Context, tableID, orderID string, status models.OrderStatus, extra map[string]any) (models.Order, error) {
	var result models.Order
	err := docstore.Retry(ctx, docstore.DefaultAttempts, func(ctx context.Context) error {
		order, err := r.orders.Get(ctx, orderID)
		if err != nil {
			if errors.Is(err, docstore.ErrNotFound) {
				result = models.Order{}
				return nil
			}
			return err
		}

		t, err := r.tables.Get(ctx, tableID)
		if err != nil && !errors.Is(err, docstore.ErrNotFound) {
			return err
		}
		if err != nil || !t.HasOrder(orderID) {
			result = order
			return nil
		}

		if !models.CanTransition(order.Status, status) {
			return apperr.WithMetadata(ErrInvalidTransition.Kind, ErrInvalidTransition.Code,
				fmt.Sprintf("cannot move order from %s to %s", order.Status, status),
				map[string]string{"from": string(order.Status), "to": string(status)})
		}

		fields := map[string]any{"status": status}
		for k, v := range extra {
			fields[k] = v
		}
		updated := t.WithOrderStatus(orderID, status)
		updated.UpdatedAt = r.now()
		writes := []docstore.Write{
			docstore.Update(models.CollectionOrders, order.ID, fields).IfVersion(order.Version),
			docstore.Update(models.CollectionTables, t.ID, updated.Fields()).IfVersion(t.Version),
		}

		docs, err := r.store.Apply(ctx, writes...)
		if err != nil {
			return err
		}
		result, err = docstore.Decode[models.Order](docs[0])
		return err
	})
	if err != nil {
		return models.Order{}, apperr.Storage(err)
	}
	return result, nil
}

// ClearTable resets a table to available with no orders. Attached orders
// that are still open are marked completed; cancelled and completed orders
// keep their status. Clearing a table that is already clear writes nothing.
func (r *Registry) ClearTable(ctx context.Context, tableID, clearedBy string) (models.Table, error) {
	var (
		cleared models.Table
		changed bool
	)
	err := docstore.Retry(ctx, docstore.DefaultAttempts, func(ctx context.Context) error {
		t, err := r.Get(ctx, tableID)
		if err != nil {
			return err
		}
		if t.IsClear() {
			cleared, changed = t, false
			return nil
		}

		writes, err := r.completeOpenOrders(ctx, t)
		if err != nil {
			return err
		}
		cleared = t.Cleared()
		cleared.UpdatedAt = r.now()
		writes = append(writes, docstore.Update(models.CollectionTables, t.ID, cleared.Fields()).IfVersion(t.Version))

		if _, err := r.store.Apply(ctx, writes...); err != nil {
			return err
		}
		cleared.Version = t.Version + 1
		changed = true
		return nil
	})
	if err != nil {
		return models.Table{}, apperr.Storage(err)
	}

	if changed {
		r.logger.Info("table_cleared", "Table cleared", "", map[string]interface{}{
			"table_id":   tableID,
			"cleared_by": clearedBy,
		})
		r.notifier.Notify(ctx, models.Notification{
			Type:        models.NotifyTableCleared,
			TableNumber: cleared.Number,
			ChangedBy:   clearedBy,
		})
	}
	return cleared, nil
}

// completeOpenOrders returns the writes that complete every attached order
// whose stored status is not terminal. Orders missing from pedidos are skipped.
func (r *Registry) completeOpenOrders(ctx context.Context, t models.Table) ([]docstore.Write, error) {
	var writes []docstore.Write
	for _, embedded := range t.Orders {
		order, err := r.orders.Get(ctx, embedded.ID)
		if err != nil {
			if errors.Is(err, docstore.ErrNotFound) {
				continue
			}
			return nil, err
		}
		if order.Status.Terminal() {
			continue
		}
		writes = append(writes, docstore.Update(models.CollectionOrders, order.ID, map[string]any{
			"status": models.StatusCompleted,
		}).IfVersion(order.Version))
	}
	return writes, nil
}

// SetAllAvailable clears every table that is not already clear and returns
// how many were changed. It stops at the first failure.
func (r *Registry) SetAllAvailable(ctx context.Context, by string) (int, error) {
	tables, err := r.List(ctx)
	if err != nil {
		return 0, err
	}
	count := 0
	for _, t := range tables {
		if t.IsClear() {
			continue
		}
		if _, err := r.ClearTable(ctx, t.ID, by); err != nil {
			return count, fmt.Errorf("failed to clear %s: %w", t.ID, err)
		}
		count++
	}
	return count, nil
}

// SetStatus marks a table reserved, occupied, closing or pending.
func (r *Registry) SetStatus(ctx context.Context, tableID string, status models.TableStatus) (models.Table, error) {
	if !status.Valid() {
		return models.Table{}, apperr.Validation("status", fmt.Sprintf("unknown table status %q", status))
	}
	if status == models.TableAvailable {
		return models.Table{}, ErrUseClear
	}

	var updated models.Table
	err := docstore.Retry(ctx, docstore.DefaultAttempts, func(ctx context.Context) error {
		t, err := r.Get(ctx, tableID)
		if err != nil {
			return err
		}
		updated = t
		updated.Status = status
		updated.UpdatedAt = r.now()
		_, err = r.store.Apply(ctx, docstore.Update(models.CollectionTables, t.ID, map[string]any{
			"status":     status,
			"updated_at": updated.UpdatedAt,
		}).IfVersion(t.Version))
		if err != nil {
			return err
		}
		updated.Version = t.Version + 1
		return nil
	})
	if err != nil {
		return models.Table{}, apperr.Storage(err)
	}
	return updated, nil
}

// PurgeOrders deletes every order that is not attached to a table and
// returns how many were removed. Run after SetAllAvailable it empties pedidos.
func (r *Registry) PurgeOrders(ctx context.Context) (int, error) {
	tables, err := r.List(ctx)
	if err != nil {
		return 0, err
	}
	attached := make(map[string]bool)
	for _, t := range tables {
		for _, o := range t.Orders {
			attached[o.ID] = true
		}
	}

	docs, err := r.store.List(ctx, models.CollectionOrders)
	if err != nil {
		return 0, apperr.Storage(err)
	}
	var ids []string
	for _, doc := range docs {
		if !attached[doc.ID] {
			ids = append(ids, doc.ID)
		}
	}
	if err := docstore.DeleteAll(ctx, r.store, models.CollectionOrders, ids); err != nil {
		return 0, apperr.Storage(err)
	}

	r.logger.Info("orders_purged", "Detached orders purged", "", map[string]interface{}{
		"purged": len(ids),
		"kept":   len(attached),
	})
	return len(ids), nil
}
