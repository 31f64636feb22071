package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type SessionStatus string

const (
	SessionOpen   SessionStatus = "aberto"
	SessionClosed SessionStatus = "fechado"
)

type TransactionType string

const (
	TxEntrada TransactionType = "entrada"
	TxSaida   TransactionType = "saida"
	TxCompra  TransactionType = "compra"
	TxInicio  TransactionType = "inicio"
	TxFim     TransactionType = "fim"
)

// Manual reports whether operators may post this type directly.
func (t TransactionType) Manual() bool {
	return t == TxEntrada || t == TxSaida || t == TxCompra
}

// Totals is the reconciliation of a caixa session. TotalEntrada includes the
// opening float, so SaldoFinal = TotalEntrada - TotalSaida - TotalCompra.
type Totals struct {
	TotalEntrada decimal.Decimal `json:"total_entrada"`
	TotalSaida   decimal.Decimal `json:"total_saida"`
	TotalCompra  decimal.Decimal `json:"total_compra"`
	SaldoFinal   decimal.Decimal `json:"saldo_final"`
}

// CaixaSession is one cash-drawer session.
type CaixaSession struct {
	ID           string           `json:"id"`
	OpenedAt     time.Time        `json:"opened_at"`
	OpenedBy     string           `json:"opened_by"`
	OpenedByName string           `json:"opened_by_name,omitempty"`
	OpeningFloat decimal.Decimal  `json:"opening_float"`
	Status       SessionStatus    `json:"status"`
	ClosedAt     *time.Time       `json:"closed_at,omitempty"`
	ClosedBy     string           `json:"closed_by,omitempty"`
	ClosingFloat *decimal.Decimal `json:"closing_float,omitempty"`
	Totals       *Totals          `json:"totals,omitempty"`
	// Difference is the counted closing float minus the computed balance.
	Difference *decimal.Decimal `json:"difference,omitempty"`
	LastTxAt   *time.Time       `json:"last_tx_at,omitempty"`
	Version    int64            `json:"version,omitempty"`
}

// LedgerTransaction is an append-only cash movement of a session.
type LedgerTransaction struct {
	ID          string          `json:"id"`
	SessionID   string          `json:"session_id"`
	Type        TransactionType `json:"type"`
	Amount      decimal.Decimal `json:"amount"`
	Description string          `json:"description"`
	CreatedAt   time.Time       `json:"created_at"`
	CreatedBy   string          `json:"created_by"`
}

// OpenCaixa links a user to the session they currently have open.
type OpenCaixa struct {
	UserID    string    `json:"user_id"`
	SessionID string    `json:"session_id"`
	OpenedAt  time.Time `json:"opened_at"`
}
