package models

import (
	"github.com/shopspring/decimal"
)

// Collection names
const (
	CollectionMenu        = "cardapio"
	CollectionOrders      = "pedidos"
	CollectionTables      = "mesas"
	CollectionCarts       = "carrinhos"
	CollectionSessions    = "caixas"
	CollectionOpenCaixa   = "caixa_aberto"
	CollectionTransaction = "transacoes"
)

type Category string

const (
	CategoryRodizio    Category = "rodizio"
	CategoryDiaria     Category = "diaria"
	CategoryBebidas    Category = "bebidas"
	CategorySobremesas Category = "sobremesas"
	CategoryPorcoes    Category = "porcoes"
)

// MenuItem is a sellable catalog entry.
type MenuItem struct {
	ID          string          `json:"id"`
	Name        string          `json:"name"`
	Price       decimal.Decimal `json:"price"`
	Category    Category        `json:"category"`
	Description string          `json:"description,omitempty"`
	ImageURL    string          `json:"image_url,omitempty"`
	Available   bool            `json:"available"`
}

// Validate checks a catalog entry before import.
func (m MenuItem) Validate() error {
	if m.Name == "" {
		return validation("name", "menu item name is required")
	}
	if m.Price.IsNegative() {
		return validation("price", "menu item price cannot be negative")
	}
	if m.Category == "" {
		return validation("category", "menu item category is required")
	}
	return nil
}
