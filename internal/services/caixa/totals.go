package caixa

import (
	"github.com/shopspring/decimal"

	"labonnas-pos/internal/models"
)

// ComputeTotals reconciles a session from its transactions. The inicio
// entry carries the opening float and counts as an inflow; fim is a marker
// and never moves money.
func ComputeTotals(txs []models.LedgerTransaction) models.Totals {
	entrada, saida, compra := decimal.Zero, decimal.Zero, decimal.Zero
	for _, tx := range txs {
		switch tx.Type {
		case models.TxEntrada, models.TxInicio:
			entrada = entrada.Add(tx.Amount)
		case models.TxSaida:
			saida = saida.Add(tx.Amount)
		case models.TxCompra:
			compra = compra.Add(tx.Amount)
		}
	}
	return models.Totals{
		TotalEntrada: entrada,
		TotalSaida:   saida,
		TotalCompra:  compra,
		SaldoFinal:   entrada.Sub(saida).Sub(compra),
	}
}
