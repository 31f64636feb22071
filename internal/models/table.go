package models

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

type TableStatus string

const (
	TableAvailable TableStatus = "available"
	TableOccupied  TableStatus = "occupied"
	TableReserved  TableStatus = "reserved"
	TableClosing   TableStatus = "closing"
	TablePending   TableStatus = "pending"
)

func (s TableStatus) Valid() bool {
	switch s {
	case TableAvailable, TableOccupied, TableReserved, TableClosing, TablePending:
		return true
	}
	return false
}

// Table is one physical table. Orders holds copies of the attached orders.
// An available table has no orders and a zero total.
type Table struct {
	ID          string          `json:"id"`
	Number      int             `json:"number"`
	Status      TableStatus     `json:"status"`
	Orders      []Order         `json:"orders"`
	TotalAmount decimal.Decimal `json:"total_amount"`
	UpdatedAt   time.Time       `json:"updated_at"`
	Version     int64           `json:"version,omitempty"`
}

func TableID(number int) string {
	return fmt.Sprintf("mesa-%02d", number)
}

// TableNumber parses the number out of a table id.
func TableNumber(id string) (int, bool) {
	var n int
	if _, err := fmt.Sscanf(id, "mesa-%d", &n); err != nil {
		return 0, false
	}
	return n, true
}

func NewTable(number int) Table {
	return Table{
		ID:          TableID(number),
		Number:      number,
		Status:      TableAvailable,
		Orders:      []Order{},
		TotalAmount: decimal.Zero,
	}
}

// AttachOrder returns a copy of t with order attached. An available table
// becomes occupied; other statuses are kept.
func (t Table) AttachOrder(order Order) Table {
	out := t.clone()
	out.Orders = append(out.Orders, order)
	if out.Status == TableAvailable {
		out.Status = TableOccupied
	}
	return out.Recompute()
}

// WithOrderStatus returns a copy of t with the embedded order's status
// replaced. An unknown order id leaves the table unchanged.
func (t Table) WithOrderStatus(orderID string, status OrderStatus) Table {
	out := t.clone()
	for i := range out.Orders {
		if out.Orders[i].ID == orderID {
			out.Orders[i].Status = status
		}
	}
	return out.Recompute()
}

// HasOrder reports whether orderID is attached.
func (t Table) HasOrder(orderID string) bool {
	for _, o := range t.Orders {
		if o.ID == orderID {
			return true
		}
	}
	return false
}

// Cleared returns t reset to available with no orders.
func (t Table) Cleared() Table {
	out := t
	out.Status = TableAvailable
	out.Orders = []Order{}
	out.TotalAmount = decimal.Zero
	return out
}

// IsClear reports whether t already satisfies the available invariant.
func (t Table) IsClear() bool {
	return t.Status == TableAvailable && len(t.Orders) == 0 && t.TotalAmount.IsZero()
}

// Recompute sets TotalAmount to the sum of attached orders that are not cancelled.
func (t Table) Recompute() Table {
	total := decimal.Zero
	for _, o := range t.Orders {
		if o.Status != StatusCancelled {
			total = total.Add(o.Total)
		}
	}
	t.TotalAmount = total
	return t
}

func (t Table) clone() Table {
	out := t
	out.Orders = make([]Order, len(t.Orders))
	copy(out.Orders, t.Orders)
	return out
}

// Fields returns the mutable part of the table as an update payload.
func (t Table) Fields() map[string]any {
	return map[string]any{
		"status":       t.Status,
		"orders":       t.Orders,
		"total_amount": t.TotalAmount,
		"updated_at":   t.UpdatedAt,
	}
}
