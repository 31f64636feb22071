package caixa

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/shopspring/decimal"

	"labonnas-pos/internal/apperr"
	"labonnas-pos/internal/auth"
	"labonnas-pos/internal/docstore"
	"labonnas-pos/internal/logger"
	"labonnas-pos/internal/models"
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

var cashier = auth.Session{UserID: "u-caixa", Name: "Rita", Role: auth.RoleCaixa}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

type fixture struct {
	store    *docstore.Memory
	registry *table.Registry
	service  *Service
	notes    *recorder
}

func newFixture(t *testing.T, purge bool) *fixture {
	t.Helper()
	store := docstore.NewMemory()
	notes := &recorder{}
	registry := table.NewRegistry(store, notes, logger.Discard())
	if _, err := registry.Setup(context.Background(), 5); err != nil {
		t.Fatal(err)
	}
	return &fixture{
		store:    store,
		registry: registry,
		service:  NewService(store, registry, notes, purge, logger.Discard()),
		notes:    notes,
	}
}

func TestComputeTotals(t *testing.T) {
	txs := []models.LedgerTransaction{
		{Type: models.TxInicio, Amount: dec("100.00")},
		{Type: models.TxEntrada, Amount: dec("50.00")},
		{Type: models.TxCompra, Amount: dec("20.00")},
		{Type: models.TxSaida, Amount: dec("5.50")},
		{Type: models.TxFim, Amount: dec("999")},
	}
	got := ComputeTotals(txs)
	if !got.TotalEntrada.Equal(dec("150")) || !got.TotalCompra.Equal(dec("20")) ||
		!got.TotalSaida.Equal(dec("5.5")) || !got.SaldoFinal.Equal(dec("124.5")) {
		t.Fatalf("unexpected totals %+v", got)
	}

	empty := ComputeTotals(nil)
	if !empty.SaldoFinal.IsZero() {
		t.Fatalf("empty ledger saldo = %s", empty.SaldoFinal)
	}
}

func TestService_ShiftScenario(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, true)

	if _, err := f.service.Open(ctx, cashier, dec("100.00")); err != nil {
		t.Fatalf("Open: %v", err)
	}
	if _, err := f.service.AddTransaction(ctx, cashier, models.TxEntrada, dec("50.00"), "mesa 3"); err != nil {
		t.Fatal(err)
	}
	if _, err := f.service.AddTransaction(ctx, cashier, models.TxCompra, dec("20.00"), "gelo"); err != nil {
		t.Fatal(err)
	}

	summary, err := f.service.Summary(ctx, cashier.UserID)
	if err != nil {
		t.Fatal(err)
	}
	if !summary.Totals.SaldoFinal.Equal(dec("130")) || len(summary.Transactions) != 3 {
		t.Fatalf("unexpected running summary %+v", summary.Totals)
	}

	if _, err := f.registry.SetStatus(ctx, "mesa-04", models.TableOccupied); err != nil {
		t.Fatal(err)
	}
	_, err = f.service.Close(ctx, cashier, dec("130.00"))
	if !errors.Is(err, ErrTablesNotAvailable) {
		t.Fatalf("expected ErrTablesNotAvailable, got %v", err)
	}
	var appErr *apperr.Error
	if !errors.As(err, &appErr) || appErr.Metadata["tables"] != "4" {
		t.Fatalf("error does not name the busy table: %+v", appErr)
	}

	if _, err := f.registry.ClearTable(ctx, "mesa-04", "Rita"); err != nil {
		t.Fatal(err)
	}
	closed, err := f.service.Close(ctx, cashier, dec("130.00"))
	if err != nil {
		t.Fatalf("Close: %v", err)
	}

	if closed.Status != models.SessionClosed || closed.Totals == nil {
		t.Fatalf("session not closed: %+v", closed)
	}
	if !closed.Totals.TotalEntrada.Equal(dec("150.00")) ||
		!closed.Totals.TotalCompra.Equal(dec("20.00")) ||
		!closed.Totals.SaldoFinal.Equal(dec("130.00")) {
		t.Fatalf("unexpected totals %+v", closed.Totals)
	}
	if !closed.Difference.IsZero() {
		t.Fatalf("difference = %s", closed.Difference)
	}

	if _, err := f.service.Current(ctx, cashier.UserID); !errors.Is(err, ErrNoOpenSession) {
		t.Fatalf("session still open: %v", err)
	}
	left, _ := f.store.List(ctx, models.CollectionTransaction)
	if len(left) != 0 {
		t.Fatalf("%d transactions survived the purge", len(left))
	}
	history, _ := f.service.History(ctx, 0)
	if len(history) != 1 || history[0].ID != closed.ID {
		t.Fatalf("closed session missing from history: %+v", history)
	}

	// the next shift starts from zero
	if _, err := f.service.Open(ctx, cashier, dec("80")); err != nil {
		t.Fatal(err)
	}
	summary, _ = f.service.Summary(ctx, cashier.UserID)
	if !summary.Totals.SaldoFinal.Equal(dec("80")) {
		t.Fatalf("new shift saldo = %s", summary.Totals.SaldoFinal)
	}
}

func TestService_Preconditions(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, false)
	waiter := auth.Session{UserID: "u-garcom", Name: "Ana", Role: auth.RoleGarcom}

	tests := []struct {
		name     string
		run      func() error
		wantKind apperr.Kind
	}{
		{"waiter cannot open", func() error { _, err := f.service.Open(ctx, waiter, dec("10")); return err }, apperr.KindForbidden},
		{"zero float", func() error { _, err := f.service.Open(ctx, cashier, decimal.Zero); return err }, apperr.KindValidation},
		{"negative float", func() error { _, err := f.service.Open(ctx, cashier, dec("-1")); return err }, apperr.KindValidation},
		{"add without session", func() error {
			_, err := f.service.AddTransaction(ctx, cashier, models.TxEntrada, dec("1"), "x")
			return err
		}, apperr.KindPrecondition},
		{"close without session", func() error { _, err := f.service.Close(ctx, cashier, dec("1")); return err }, apperr.KindPrecondition},
		{"inicio is not manual", func() error {
			_, err := f.service.AddTransaction(ctx, cashier, models.TxInicio, dec("1"), "x")
			return err
		}, apperr.KindValidation},
		{"empty description", func() error {
			_, err := f.service.AddTransaction(ctx, cashier, models.TxSaida, dec("1"), "  ")
			return err
		}, apperr.KindValidation},
		{"zero amount", func() error {
			_, err := f.service.AddTransaction(ctx, cashier, models.TxSaida, decimal.Zero, "troco")
			return err
		}, apperr.KindValidation},
		{"negative closing float", func() error { _, err := f.service.Close(ctx, cashier, dec("-5")); return err }, apperr.KindValidation},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := apperr.KindOf(tt.run()); got != tt.wantKind {
				t.Errorf("kind = %s, want %s", got, tt.wantKind)
			}
		})
	}

	if _, err := f.service.Open(ctx, cashier, dec("10")); err != nil {
		t.Fatal(err)
	}
	if _, err := f.service.Open(ctx, cashier, dec("10")); !errors.Is(err, ErrSessionAlreadyOpen) {
		t.Fatalf("expected ErrSessionAlreadyOpen, got %v", err)
	}
	sessions, _ := f.store.List(ctx, models.CollectionSessions)
	if len(sessions) != 1 {
		t.Fatalf("refused open left %d sessions", len(sessions))
	}
}

func TestService_CloseWithoutPurgeKeepsLedger(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, false)
	if _, err := f.service.Open(ctx, cashier, dec("10")); err != nil {
		t.Fatal(err)
	}
	closed, err := f.service.Close(ctx, cashier, dec("7.5"))
	if err != nil {
		t.Fatal(err)
	}
	if !closed.Difference.Equal(dec("-2.5")) {
		t.Fatalf("difference = %s, want -2.5", closed.Difference)
	}
	left, _ := f.store.List(ctx, models.CollectionTransaction)
	if len(left) != 2 {
		t.Fatalf("expected inicio and fim to remain, got %d", len(left))
	}
}

func TestService_SaldoIsExactOverManyTransactions(t *testing.T) {
	ctx := context.Background()
	store := docstore.NewMemory().WithMaxBatch(50)
	registry := table.NewRegistry(store, &recorder{}, logger.Discard())
	service := NewService(store, registry, &recorder{}, true, logger.Discard())

	rng := rand.New(rand.NewSource(1))
	opening := dec("100.00")
	if _, err := service.Open(ctx, cashier, opening); err != nil {
		t.Fatal(err)
	}

	want := opening
	types := []models.TransactionType{models.TxEntrada, models.TxSaida, models.TxCompra}
	for i := 0; i < 1000; i++ {
		amount := decimal.New(int64(1+rng.Intn(9999)), -2) // 0.01 .. 99.99
		txType := types[rng.Intn(len(types))]
		if _, err := service.AddTransaction(ctx, cashier, txType, amount, "mov"); err != nil {
			t.Fatalf("tx %d: %v", i, err)
		}
		if txType == models.TxEntrada {
			want = want.Add(amount)
		} else {
			want = want.Sub(amount)
		}
	}

	closed, err := service.Close(ctx, cashier, decimal.Zero)
	if err != nil {
		t.Fatal(err)
	}
	if !closed.Totals.SaldoFinal.Equal(want) {
		t.Fatalf("saldo = %s, want %s", closed.Totals.SaldoFinal, want)
	}
	if !closed.Difference.Equal(want.Neg()) {
		t.Fatalf("difference = %s, want %s", closed.Difference, want.Neg())
	}
	left, _ := store.List(ctx, models.CollectionTransaction)
	if len(left) != 0 {
		t.Fatalf("chunked purge left %d transactions", len(left))
	}
}

func TestService_ConcurrentOpenCreatesOneSession(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, false)

	var wg sync.WaitGroup
	results := make(chan error, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.service.Open(ctx, cashier, dec("10"))
			results <- err
		}()
	}
	wg.Wait()
	close(results)

	opened := 0
	for err := range results {
		switch {
		case err == nil:
			opened++
		case !errors.Is(err, ErrSessionAlreadyOpen):
			t.Fatalf("unexpected error %v", err)
		}
	}
	if opened != 1 {
		t.Fatalf("%d sessions opened, want 1", opened)
	}
}

func TestService_EntryWrites(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, false)

	writes, ok, err := f.service.EntryWrites(ctx, cashier.UserID, dec("47"), "Mesa 1 - pix")
	if err != nil || ok || writes != nil {
		t.Fatalf("without a session: writes=%v ok=%v err=%v", writes, ok, err)
	}

	if _, err := f.service.Open(ctx, cashier, dec("10")); err != nil {
		t.Fatal(err)
	}
	writes, ok, err = f.service.EntryWrites(ctx, cashier.UserID, dec("47"), "Mesa 1 - pix")
	if err != nil || !ok {
		t.Fatalf("EntryWrites: ok=%v err=%v", ok, err)
	}
	if _, err := f.store.Apply(ctx, writes...); err != nil {
		t.Fatal(err)
	}
	summary, _ := f.service.Summary(ctx, cashier.UserID)
	if !summary.Totals.TotalEntrada.Equal(dec("57")) {
		t.Fatalf("total entrada = %s, want 57", summary.Totals.TotalEntrada)
	}

	// the writes are conditioned on the session version they were built from
	if _, err := f.store.Apply(ctx, writes[1]); !errors.Is(err, docstore.ErrVersionMismatch) {
		t.Fatalf("expected a version mismatch on a stale session, got %v", err)
	}
}

// failingStore rejects every batch while failing is set.
type failingStore struct {
	*docstore.Memory
	failing atomic.Bool
}

func (s *failingStore) Apply(ctx context.Context, writes ...docstore.Write) ([]docstore.Document, error) {
	if s.failing.Load() {
		return nil, errors.New("connection reset by peer")
	}
	return s.Memory.Apply(ctx, writes...)
}

func TestService_WriteFailuresLeaveNoTrace(t *testing.T) {
	ctx := context.Background()
	store := &failingStore{Memory: docstore.NewMemory()}
	registry := table.NewRegistry(store, &recorder{}, logger.Discard())
	if _, err := registry.Setup(ctx, 3); err != nil {
		t.Fatal(err)
	}
	svc := NewService(store, registry, &recorder{}, true, logger.Discard())

	count := func(collection string) int {
		t.Helper()
		docs, err := store.List(ctx, collection)
		if err != nil {
			t.Fatal(err)
		}
		return len(docs)
	}

	store.failing.Store(true)
	if _, err := svc.Open(ctx, cashier, dec("100")); apperr.KindOf(err) != apperr.KindUnavailable {
		t.Fatalf("Open: expected unavailable, got %v", err)
	}
	if _, err := svc.Current(ctx, cashier.UserID); !errors.Is(err, ErrNoOpenSession) {
		t.Fatalf("session left behind: %v", err)
	}
	for _, c := range []string{models.CollectionOpenCaixa, models.CollectionSessions, models.CollectionTransaction} {
		if n := count(c); n != 0 {
			t.Fatalf("%s has %d documents after a failed open", c, n)
		}
	}

	store.failing.Store(false)
	if _, err := svc.Open(ctx, cashier, dec("100")); err != nil {
		t.Fatal(err)
	}
	if _, err := svc.AddTransaction(ctx, cashier, models.TxEntrada, dec("50"), "mesa 1"); err != nil {
		t.Fatal(err)
	}
	before, err := svc.Summary(ctx, cashier.UserID)
	if err != nil {
		t.Fatal(err)
	}

	store.failing.Store(true)
	steps := []struct {
		name string
		run  func() error
	}{
		{"add transaction", func() error {
			_, err := svc.AddTransaction(ctx, cashier, models.TxSaida, dec("10"), "troco")
			return err
		}},
		{"close", func() error {
			_, err := svc.Close(ctx, cashier, dec("150"))
			return err
		}},
	}
	for _, step := range steps {
		t.Run(step.name, func(t *testing.T) {
			if err := step.run(); apperr.KindOf(err) != apperr.KindUnavailable {
				t.Fatalf("expected unavailable, got %v", err)
			}
			after, err := svc.Summary(ctx, cashier.UserID)
			if err != nil {
				t.Fatalf("session lost: %v", err)
			}
			if after.Session.Status != models.SessionOpen || after.Session.Version != before.Session.Version {
				t.Fatalf("session changed: %+v", after.Session)
			}
			if len(after.Transactions) != len(before.Transactions) || !after.Totals.SaldoFinal.Equal(before.Totals.SaldoFinal) {
				t.Fatalf("ledger changed: %d txs saldo %s", len(after.Transactions), after.Totals.SaldoFinal)
			}
			if n := count(models.CollectionOpenCaixa); n != 1 {
				t.Fatalf("open marker count = %d", n)
			}
		})
	}

	store.failing.Store(false)
	closed, err := svc.Close(ctx, cashier, dec("150"))
	if err != nil {
		t.Fatalf("Close after recovery: %v", err)
	}
	if closed.Difference == nil || !closed.Difference.IsZero() {
		t.Fatalf("difference = %v", closed.Difference)
	}
}
