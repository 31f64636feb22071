package models

import (
	"testing"

	"github.com/shopspring/decimal"
)

func order(id string, total string, status OrderStatus) Order {
	return Order{ID: id, Total: decimal.RequireFromString(total), Status: status}
}

func TestTable_AttachOrder(t *testing.T) {
	table := NewTable(3)

	got := table.AttachOrder(order("o1", "47.00", StatusPending))
	if got.Status != TableOccupied {
		t.Errorf("status = %s, want occupied", got.Status)
	}
	if !got.TotalAmount.Equal(decimal.RequireFromString("47")) {
		t.Errorf("total = %s, want 47", got.TotalAmount)
	}
	if len(table.Orders) != 0 {
		t.Errorf("AttachOrder must not mutate the receiver")
	}

	reserved := NewTable(4)
	reserved.Status = TableReserved
	if got := reserved.AttachOrder(order("o2", "10", StatusPending)); got.Status != TableReserved {
		t.Errorf("reserved table status changed to %s", got.Status)
	}
}

func TestTable_WithOrderStatus(t *testing.T) {
	table := NewTable(1).
		AttachOrder(order("o1", "20", StatusPending)).
		AttachOrder(order("o2", "5", StatusPending))

	got := table.WithOrderStatus("o2", StatusCancelled)
	if got.Orders[1].Status != StatusCancelled {
		t.Fatalf("expected o2 cancelled")
	}
	if !got.TotalAmount.Equal(decimal.NewFromInt(20)) {
		t.Errorf("cancelled orders must not count, total = %s", got.TotalAmount)
	}
	if table.Orders[1].Status != StatusPending {
		t.Errorf("WithOrderStatus must not mutate the receiver")
	}

	same := table.WithOrderStatus("unknown", StatusCompleted)
	if len(same.Orders) != 2 || same.Orders[0].Status != StatusPending || !same.TotalAmount.Equal(table.TotalAmount) {
		t.Errorf("unknown order id must be a no-op")
	}
}

func TestTable_ClearedIsIdempotent(t *testing.T) {
	table := NewTable(7).AttachOrder(order("o1", "12.5", StatusKitchenPending))

	once := table.Cleared()
	twice := once.Cleared()

	for _, got := range []Table{once, twice} {
		if !got.IsClear() {
			t.Errorf("expected clear table, got %+v", got)
		}
	}
	if once.Number != 7 || twice.ID != TableID(7) {
		t.Errorf("clearing must keep identity")
	}
}

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to OrderStatus
		want     bool
	}{
		{StatusPending, StatusKitchenPending, true},
		{StatusKitchenPending, StatusCompleted, true},
		{StatusKitchenPending, StatusCancelled, true},
		{StatusPending, StatusCancelled, true},
		{StatusPending, StatusCompleted, false},
		{StatusCompleted, StatusCancelled, false},
		{StatusCancelled, StatusPending, false},
		{StatusKitchenPending, StatusPending, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			if got := CanTransition(tt.from, tt.to); got != tt.want {
				t.Errorf("CanTransition(%s, %s) = %v, want %v", tt.from, tt.to, got, tt.want)
			}
		})
	}
}

func TestPaymentMethod_Valid(t *testing.T) {
	for _, m := range []PaymentMethod{PaymentCash, PaymentCredit, PaymentDebit, PaymentPix, PaymentMBWay, PaymentMultibanco} {
		if !m.Valid() {
			t.Errorf("%s should be valid", m)
		}
	}
	if PaymentMethod("cheque").Valid() {
		t.Errorf("cheque should be rejected")
	}
}
