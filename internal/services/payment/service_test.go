package payment

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"labonnas-pos/internal/apperr"
	"labonnas-pos/internal/auth"
	"labonnas-pos/internal/docstore"
	"labonnas-pos/internal/logger"
	"labonnas-pos/internal/models"
	"labonnas-pos/internal/services/caixa"
	"labonnas-pos/internal/services/table"
)

type recorder struct {
	mu   sync.Mutex
	msgs []models.Notification
}

func (r *recorder) Notify(_ context.Context, msg models.Notification) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.msgs = append(r.msgs, msg)
}

func (r *recorder) count(kind string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, m := range r.msgs {
		if m.Type == kind {
			n++
		}
	}
	return n
}

var cashier = auth.Session{UserID: "u-caixa", Name: "Rita", Role: auth.RoleCaixa}

type fixture struct {
	store    *docstore.Memory
	registry *table.Registry
	caixa    *caixa.Service
	service  *Service
	notes    *recorder
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := docstore.NewMemory()
	notes := &recorder{}
	registry := table.NewRegistry(store, notes, logger.Discard())
	if _, err := registry.Setup(context.Background(), 3); err != nil {
		t.Fatal(err)
	}
	ledger := caixa.NewService(store, registry, notes, false, logger.Discard())
	return &fixture{
		store:    store,
		registry: registry,
		caixa:    ledger,
		service:  NewService(store, registry, ledger, notes, logger.Discard()),
		notes:    notes,
	}
}

func (f *fixture) attach(t *testing.T, tableID string, status models.OrderStatus, price string, qty int) models.Order {
	t.Helper()
	lines := []models.OrderLine{{MenuItemID: "item", Name: "Bacalhau", Quantity: qty, UnitPrice: decimal.RequireFromString(price)}}
	order, _, err := f.registry.SubmitOrder(context.Background(), tableID, models.Order{
		Responsible: "Ana",
		Items:       lines,
		Status:      status,
		Total:       models.LinesTotal(lines),
		CreatedAt:   time.Now().UTC(),
	})
	if err != nil {
		t.Fatal(err)
	}
	return order
}

func TestFinalize_ClearsTableAndPostsEntrada(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	if _, err := f.caixa.Open(ctx, cashier, decimal.NewFromInt(100)); err != nil {
		t.Fatal(err)
	}

	first := f.attach(t, "mesa-02", models.StatusKitchenPending, "14.00", 2)
	second := f.attach(t, "mesa-02", models.StatusPending, "19.00", 1)
	dropped := f.attach(t, "mesa-02", models.StatusPending, "5.00", 1)
	if _, err := f.registry.UpdateOrderStatus(ctx, "mesa-02", dropped.ID, models.StatusCancelled, nil); err != nil {
		t.Fatal(err)
	}

	receipt, err := f.service.Finalize(ctx, cashier, "mesa-02", models.PaymentPix, 0)
	if err != nil {
		t.Fatalf("Finalize: %v", err)
	}
	if !receipt.Total.Equal(decimal.NewFromInt(47)) || !receipt.LedgerPosted || len(receipt.OrderIDs) != 2 {
		t.Fatalf("unexpected receipt %+v", receipt)
	}
	if !receipt.Table.IsClear() {
		t.Fatalf("receipt table not clear: %+v", receipt.Table)
	}

	tbl, _ := f.registry.Get(ctx, "mesa-02")
	if !tbl.IsClear() {
		t.Fatalf("stored table not clear: %+v", tbl)
	}

	orders := docstore.NewCollection[models.Order](f.store, models.CollectionOrders)
	for _, id := range []string{first.ID, second.ID} {
		o, err := orders.Get(ctx, id)
		if err != nil {
			t.Fatal(err)
		}
		if o.Status != models.StatusCompleted || o.Payment == nil || o.Payment.Method != models.PaymentPix {
			t.Fatalf("order %s not settled: %+v", id, o)
		}
	}
	o, _ := orders.Get(ctx, dropped.ID)
	if o.Status != models.StatusCancelled || o.Payment != nil {
		t.Fatalf("cancelled order was touched: %+v", o)
	}

	summary, err := f.caixa.Summary(ctx, cashier.UserID)
	if err != nil {
		t.Fatal(err)
	}
	last := summary.Transactions[len(summary.Transactions)-1]
	if last.Type != models.TxEntrada || last.Description != "Mesa 2 - pix" || !last.Amount.Equal(decimal.NewFromInt(47)) {
		t.Fatalf("unexpected ledger entry %+v", last)
	}
	if !summary.Totals.SaldoFinal.Equal(decimal.NewFromInt(147)) {
		t.Fatalf("saldo = %s, want 147", summary.Totals.SaldoFinal)
	}
	if f.notes.count(models.NotifyTablePaid) != 1 {
		t.Fatal("table_paid not notified")
	}
}

func TestFinalize_WithoutOpenCaixa(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.attach(t, "mesa-01", models.StatusPending, "10.00", 1)

	receipt, err := f.service.Finalize(ctx, cashier, "mesa-01", models.PaymentCash, 0)
	if err != nil {
		t.Fatal(err)
	}
	if receipt.LedgerPosted {
		t.Fatal("ledger posted without an open caixa")
	}
	txs, _ := f.store.List(ctx, models.CollectionTransaction)
	if len(txs) != 0 {
		t.Fatalf("unexpected transactions %d", len(txs))
	}
}

func TestFinalize_Rejections(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.attach(t, "mesa-03", models.StatusPending, "10.00", 1)
	tbl, _ := f.registry.Get(ctx, "mesa-03")
	waiter := auth.Session{UserID: "u-garcom", Name: "Ana", Role: auth.RoleGarcom}

	tests := []struct {
		name     string
		user     auth.Session
		tableID  string
		method   models.PaymentMethod
		version  int64
		wantCode string
	}{
		{"waiter", waiter, "mesa-03", models.PaymentCash, 0, "forbidden"},
		{"missing method", cashier, "mesa-03", "", 0, "validation_failed"},
		{"free text method", cashier, "mesa-03", "vale", 0, "validation_failed"},
		{"empty table", cashier, "mesa-01", models.PaymentCash, 0, "table_empty"},
		{"unknown table", cashier, "mesa-99", models.PaymentCash, 0, "not_found"},
		{"stale version", cashier, "mesa-03", models.PaymentCash, tbl.Version - 1, "table_changed"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.service.Finalize(ctx, tt.user, tt.tableID, tt.method, tt.version)
			var appErr *apperr.Error
			if !errors.As(err, &appErr) || appErr.Code != tt.wantCode {
				t.Fatalf("error = %v, want code %s", err, tt.wantCode)
			}
		})
	}

	after, _ := f.registry.Get(ctx, "mesa-03")
	if after.Version != tbl.Version || len(after.Orders) != 1 {
		t.Fatalf("rejected payments changed the table: %+v", after)
	}
}

func TestFinalize_ConcurrentCashiersChargeOnce(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	if _, err := f.caixa.Open(ctx, cashier, decimal.NewFromInt(50)); err != nil {
		t.Fatal(err)
	}
	f.attach(t, "mesa-01", models.StatusKitchenPending, "12.50", 2)
	tbl, _ := f.registry.Get(ctx, "mesa-01")

	const attempts = 10
	var wg sync.WaitGroup
	errs := make(chan error, attempts)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.service.Finalize(ctx, cashier, "mesa-01", models.PaymentDebit, tbl.Version)
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	paid := 0
	for err := range errs {
		switch {
		case err == nil:
			paid++
		case errors.Is(err, ErrTableChanged), errors.Is(err, ErrTableEmpty):
		default:
			t.Fatalf("unexpected error %v", err)
		}
	}
	if paid != 1 {
		t.Fatalf("%d payments succeeded, want 1", paid)
	}

	summary, _ := f.caixa.Summary(ctx, cashier.UserID)
	if !summary.Totals.TotalEntrada.Equal(decimal.NewFromInt(75)) {
		t.Fatalf("total entrada = %s, want 75", summary.Totals.TotalEntrada)
	}
}

// busyLedger posts a compra to the caixa after building each entry, so the
// entry it hands back is already stale.
type busyLedger struct {
	*caixa.Service
	races int
}

func (l *busyLedger) EntryWrites(ctx context.Context, userID string, amount decimal.Decimal, description string) ([]docstore.Write, bool, error) {
	writes, ok, err := l.Service.EntryWrites(ctx, userID, amount, description)
	if l.races > 0 {
		l.races--
		if _, err := l.Service.AddTransaction(ctx, cashier, models.TxCompra, decimal.NewFromInt(1), "gelo"); err != nil {
			return nil, false, err
		}
	}
	return writes, ok, err
}

func TestFinalize_CaixaWriteDuringPayment(t *testing.T) {
	tests := []struct {
		name      string
		races     int
		wantErr   error
		wantSaldo int64
	}{
		{"retried once", 1, nil, 100 + 20 - 1},
		{"caixa keeps changing", docstore.DefaultAttempts, ErrCaixaBusy, 100 - docstore.DefaultAttempts},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			f := newFixture(t)
			if _, err := f.caixa.Open(ctx, cashier, decimal.NewFromInt(100)); err != nil {
				t.Fatal(err)
			}
			f.attach(t, "mesa-01", models.StatusPending, "20.00", 1)
			svc := NewService(f.store, f.registry, &busyLedger{Service: f.caixa, races: tt.races}, f.notes, logger.Discard())

			_, err := svc.Finalize(ctx, cashier, "mesa-01", models.PaymentMBWay, 0)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("error = %v, want %v", err, tt.wantErr)
			}
			if errors.Is(err, ErrTableChanged) {
				t.Fatal("caixa conflict reported as a table change")
			}

			tbl, _ := f.registry.Get(ctx, "mesa-01")
			if tbl.IsClear() != (tt.wantErr == nil) {
				t.Fatalf("table clear = %v", tbl.IsClear())
			}
			summary, _ := f.caixa.Summary(ctx, cashier.UserID)
			if !summary.Totals.SaldoFinal.Equal(decimal.NewFromInt(tt.wantSaldo)) {
				t.Fatalf("saldo = %s, want %d", summary.Totals.SaldoFinal, tt.wantSaldo)
			}
		})
	}
}

func TestHandler_Finalize(t *testing.T) {
	f := newFixture(t)
	f.attach(t, "mesa-01", models.StatusPending, "10.00", 1)
	h := NewHandler(f.service, logger.Discard())

	tests := []struct {
		name     string
		role     auth.Role
		url      string
		body     string
		wantCode int
	}{
		{"waiter", auth.RoleGarcom, "/tables/mesa-01/payment", `{"method":"pix"}`, http.StatusForbidden},
		{"bad method", auth.RoleCaixa, "/tables/mesa-01/payment", `{"method":"cheque"}`, http.StatusBadRequest},
		{"unknown field", auth.RoleCaixa, "/tables/mesa-01/payment", `{"metodo":"pix"}`, http.StatusBadRequest},
		{"stale", auth.RoleCaixa, "/tables/mesa-01/payment", `{"method":"pix","expected_version":999}`, http.StatusConflict},
		{"pay", auth.RoleCaixa, "/tables/mesa-01/payment", `{"method":"pix"}`, http.StatusOK},
		{"already paid", auth.RoleGerente, "/tables/mesa-01/payment", `{"method":"pix"}`, http.StatusUnprocessableEntity},
	}

	for _, tt := range tests {
		r := chi.NewRouter()
		r.Use(func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
				ctx := auth.WithSession(req.Context(), auth.Session{UserID: "u1", Name: "Rita", Role: tt.role})
				next.ServeHTTP(w, req.WithContext(ctx))
			})
		})
		h.Routes(r)

		rr := httptest.NewRecorder()
		r.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, tt.url, strings.NewReader(tt.body)))
		if rr.Code != tt.wantCode {
			t.Fatalf("%s: status = %d, want %d: %s", tt.name, rr.Code, tt.wantCode, rr.Body.String())
		}
	}
}
