package models

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Notification types published on the notifications fanout.
const (
	NotifyOrderStatus    = "order_status"
	NotifyOrderDeletion  = "order_deletion_requested"
	NotifyTablePaid      = "table_paid"
	NotifyTableCleared   = "table_cleared"
	NotifyCaixaOpened    = "caixa_opened"
	NotifyCaixaClosed    = "caixa_closed"
	NotifyCartSyncFailed = "cart_sync_failed"
)

// Notification is a status update for operators.
type Notification struct {
	Type        string           `json:"type"`
	TableNumber int              `json:"table_number,omitempty"`
	OrderID     string           `json:"order_id,omitempty"`
	OldStatus   string           `json:"old_status,omitempty"`
	NewStatus   string           `json:"new_status,omitempty"`
	Amount      *decimal.Decimal `json:"amount,omitempty"`
	Method      string           `json:"method,omitempty"`
	ChangedBy   string           `json:"changed_by,omitempty"`
	Detail      string           `json:"detail,omitempty"`
	Timestamp   time.Time        `json:"timestamp"`
}

// ChangeMessage carries one document change over the broker.
type ChangeMessage struct {
	Collection string          `json:"collection"`
	Type       string          `json:"type"`
	ID         string          `json:"id"`
	Version    int64           `json:"version"`
	Data       json.RawMessage `json:"data"`
	Timestamp  time.Time       `json:"timestamp"`
}

// RoutingKey is "<collection>.<type>", e.g. "pedidos.modified".
func (m ChangeMessage) RoutingKey() string {
	return fmt.Sprintf("%s.%s", m.Collection, m.Type)
}
