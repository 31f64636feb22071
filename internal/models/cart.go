package models

import "time"

// Cart is the stored mirror of a table's draft order. It is informational
// only; totals are always taken from the in-memory cart.
type Cart struct {
	TableID   string      `json:"table_id"`
	Items     []OrderLine `json:"items"`
	UpdatedAt time.Time   `json:"updated_at"`
	UpdatedBy string      `json:"updated_by,omitempty"`
}
