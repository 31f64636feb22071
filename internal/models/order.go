package models

import (
	"time"

	"github.com/shopspring/decimal"

	"labonnas-pos/internal/apperr"
)

type OrderStatus string

const (
	StatusPending        OrderStatus = "pending"
	StatusKitchenPending OrderStatus = "kitchen-pending"
	StatusCompleted      OrderStatus = "completed"
	StatusCancelled      OrderStatus = "cancelled"
)

func (s OrderStatus) Valid() bool {
	switch s {
	case StatusPending, StatusKitchenPending, StatusCompleted, StatusCancelled:
		return true
	}
	return false
}

func (s OrderStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

// orderTransitions lists the forward moves of an order. Cancellation from a
// non-terminal state is handled separately.
var orderTransitions = map[OrderStatus][]OrderStatus{
	StatusPending:        {StatusKitchenPending},
	StatusKitchenPending: {StatusCompleted},
}

// CanTransition reports whether an order may move from one status to another.
func CanTransition(from, to OrderStatus) bool {
	if from.Terminal() {
		return false
	}
	if to == StatusCancelled {
		return true
	}
	for _, next := range orderTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// OrderLine is one catalog entry in a cart or order. The unit price is
// copied when the item is selected and never follows later catalog changes.
type OrderLine struct {
	MenuItemID string          `json:"menu_item_id"`
	Name       string          `json:"name"`
	Quantity   int             `json:"quantity"`
	UnitPrice  decimal.Decimal `json:"unit_price"`
}

func (l OrderLine) Subtotal() decimal.Decimal {
	return l.UnitPrice.Mul(decimal.NewFromInt(int64(l.Quantity)))
}

// LinesTotal sums price times quantity over lines.
func LinesTotal(lines []OrderLine) decimal.Decimal {
	total := decimal.Zero
	for _, l := range lines {
		total = total.Add(l.Subtotal())
	}
	return total
}

type PaymentMethod string

const (
	PaymentCash       PaymentMethod = "dinheiro"
	PaymentCredit     PaymentMethod = "credito"
	PaymentDebit      PaymentMethod = "debito"
	PaymentPix        PaymentMethod = "pix"
	PaymentMBWay      PaymentMethod = "mbway"
	PaymentMultibanco PaymentMethod = "multibanco"
)

func (m PaymentMethod) Valid() bool {
	switch m {
	case PaymentCash, PaymentCredit, PaymentDebit, PaymentPix, PaymentMBWay, PaymentMultibanco:
		return true
	}
	return false
}

type PaymentInfo struct {
	Method PaymentMethod   `json:"method"`
	Amount decimal.Decimal `json:"amount"`
	PaidAt time.Time       `json:"paid_at"`
	PaidBy string          `json:"paid_by"`
}

type DeletionRequest struct {
	Reason      string    `json:"reason"`
	RequestedBy string    `json:"requested_by"`
	RequestedAt time.Time `json:"requested_at"`
}

// Order is a submitted cart attached to a table.
type Order struct {
	ID              string           `json:"id"`
	TableID         string           `json:"table_id"`
	TableNumber     int              `json:"table_number"`
	Responsible     string           `json:"responsible"`
	Items           []OrderLine      `json:"items"`
	Status          OrderStatus      `json:"status"`
	Total           decimal.Decimal  `json:"total"`
	CreatedAt       time.Time        `json:"created_at"`
	CreatedBy       string           `json:"created_by,omitempty"`
	Payment         *PaymentInfo     `json:"payment,omitempty"`
	DeletionRequest *DeletionRequest `json:"deletion_request,omitempty"`
	Version         int64            `json:"version,omitempty"`
}

func validation(field, message string) error {
	return apperr.Validation(field, message)
}
