package payment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"labonnas-pos/internal/apperr"
	"labonnas-pos/internal/auth"
	"labonnas-pos/internal/docstore"
	"labonnas-pos/internal/logger"
	"labonnas-pos/internal/models"
	"labonnas-pos/internal/telemetry"
)

var (
	ErrTableEmpty   = apperr.New(apperr.KindPrecondition, "table_empty", "table has no orders to pay")
	ErrTableChanged = apperr.New(apperr.KindConflict, "table_changed", "table changed since it was read, reload and try again")
	ErrCaixaBusy    = apperr.New(apperr.KindConflict, "caixa_changed", "caixa kept changing during payment, try again")
	errNotCashier   = apperr.Forbidden("role cannot finalize payments")
)

type tableReader interface {
	Get(ctx context.Context, tableID string) (models.Table, error)
}

// ledger supplies the caixa entry that records the payment.
type ledger interface {
	EntryWrites(ctx context.Context, userID string, amount decimal.Decimal, description string) ([]docstore.Write, bool, error)
}

type notifier interface {
	Notify(ctx context.Context, msg models.Notification)
}

// Receipt describes a finalized table.
type Receipt struct {
	TableID      string               `json:"table_id"`
	TableNumber  int                  `json:"table_number"`
	Method       models.PaymentMethod `json:"method"`
	Total        decimal.Decimal      `json:"total"`
	OrderIDs     []string             `json:"order_ids"`
	LedgerPosted bool                 `json:"ledger_posted"`
	PaidAt       time.Time            `json:"paid_at"`
	Table        models.Table         `json:"table"`
}

type Service struct {
	store    docstore.Store
	orders   docstore.Collection[models.Order]
	tables   tableReader
	ledger   ledger
	notifier notifier
	logger   *logger.Logger
	tracer   trace.Tracer
	now      func() time.Time
}

func NewService(store docstore.Store, tables tableReader, l ledger, n notifier, log *logger.Logger) *Service {
	return &Service{
		store:    store,
		orders:   docstore.NewCollection[models.Order](store, models.CollectionOrders),
		tables:   tables,
		ledger:   l,
		notifier: n,
		logger:   log,
		tracer:   telemetry.Tracer("payment"),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Finalize settles every order attached to a table and clears it. The batch
// is conditioned on the table version that was read, or on expectedVersion
// when the caller supplies one, so two cashiers paying the same table cannot
// both succeed. A table conflict is returned to the caller, not retried.
func (s *Service) Finalize(ctx context.Context, user auth.Session, tableID string, method models.PaymentMethod, expectedVersion int64) (_ Receipt, err error) {
	ctx, span := s.tracer.Start(ctx, "payment.Finalize", trace.WithAttributes(
		attribute.String("table.id", tableID),
		attribute.String("payment.method", string(method)),
	))
	defer func() { endSpan(span, err) }()

	if !user.CanOperateCaixa() {
		return Receipt{}, errNotCashier
	}
	if method == "" {
		return Receipt{}, apperr.Validation("method", "payment method is required")
	}
	if !method.Valid() {
		return Receipt{}, apperr.Validation("method", fmt.Sprintf("unknown payment method %q", method))
	}

	t, err := s.tables.Get(ctx, tableID)
	if err != nil {
		return Receipt{}, err
	}
	if len(t.Orders) == 0 {
		return Receipt{}, ErrTableEmpty
	}
	if expectedVersion > 0 && expectedVersion != t.Version {
		return Receipt{}, ErrTableChanged
	}

	now := s.now()
	total := t.TotalAmount
	info := models.PaymentInfo{Method: method, Amount: total, PaidAt: now, PaidBy: user.Name}

	cleared := t.Cleared()
	cleared.UpdatedAt = now

	// A conflict with the table unchanged came from the caixa session or an
	// order document; those parts are rebuilt and the batch tried again.
	var (
		orderIDs []string
		posted   bool
	)
	for attempt := 1; ; attempt++ {
		var writes []docstore.Write
		writes, orderIDs, err = s.orderWrites(ctx, t, info)
		if err != nil {
			return Receipt{}, err
		}
		writes = append(writes, docstore.Update(models.CollectionTables, t.ID, cleared.Fields()).IfVersion(t.Version))

		posted = false
		if total.IsPositive() {
			entry, ok, err := s.ledger.EntryWrites(ctx, user.UserID, total, fmt.Sprintf("Mesa %d - %s", t.Number, method))
			if err != nil {
				return Receipt{}, apperr.Storage(err)
			}
			writes = append(writes, entry...)
			posted = ok
		}

		_, err = s.store.Apply(ctx, writes...)
		if err == nil {
			break
		}
		if !errors.Is(err, docstore.ErrVersionMismatch) {
			return Receipt{}, apperr.Storage(err)
		}

		current, err := s.tables.Get(ctx, tableID)
		if err != nil {
			return Receipt{}, err
		}
		if current.Version != t.Version {
			return Receipt{}, ErrTableChanged
		}
		if attempt == docstore.DefaultAttempts {
			return Receipt{}, ErrCaixaBusy
		}
	}
	cleared.Version = t.Version + 1

	s.logger.Info("table_paid", "Table payment finalized", "", map[string]interface{}{
		"table_id":      t.ID,
		"method":        method,
		"total":         total.String(),
		"orders":        len(orderIDs),
		"ledger_posted": posted,
		"paid_by":       user.UserID,
	})
	s.notifier.Notify(ctx, models.Notification{
		Type:        models.NotifyTablePaid,
		TableNumber: t.Number,
		Amount:      &total,
		Method:      string(method),
		ChangedBy:   user.Name,
	})

	return Receipt{
		TableID:      t.ID,
		TableNumber:  t.Number,
		Method:       method,
		Total:        total,
		OrderIDs:     orderIDs,
		LedgerPosted: posted,
		PaidAt:       now,
		Table:        cleared,
	}, nil
}

// orderWrites stamps payment info on the attached orders and completes the
// ones still open. Cancelled orders are not part of the bill and are left as
// they are.
func (s *Service) orderWrites(ctx context.Context, t models.Table, info models.PaymentInfo) ([]docstore.Write, []string, error) {
	var (
		writes []docstore.Write
		ids    []string
	)
	for _, embedded := range t.Orders {
		order, err := s.orders.Get(ctx, embedded.ID)
		if err != nil {
			if errors.Is(err, docstore.ErrNotFound) {
				continue
			}
			return nil, nil, apperr.Storage(err)
		}
		if order.Status == models.StatusCancelled {
			continue
		}
		fields := map[string]any{"payment": info}
		if !order.Status.Terminal() {
			fields["status"] = models.StatusCompleted
		}
		writes = append(writes, docstore.Update(models.CollectionOrders, order.ID, fields).IfVersion(order.Version))
		ids = append(ids, order.ID)
	}
	return writes, ids, nil
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
