// Package money holds the decimal helpers used for prices and ledger amounts.
package money

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"golang.org/x/text/currency"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

// Parse reads an amount typed by an operator. Both "12.50" and "12,50" are accepted.
func Parse(s string) (decimal.Decimal, error) {
	s = strings.TrimSpace(s)
	if strings.Contains(s, ",") && !strings.Contains(s, ".") {
		s = strings.ReplaceAll(s, ",", ".")
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid amount %q: %w", s, err)
	}
	return d, nil
}

// Amount is a request field that accepts a JSON number or an operator
// typed string such as "12,50".
type Amount struct {
	decimal.Decimal
	Set bool
}

func (a *Amount) UnmarshalJSON(b []byte) error {
	if bytes.Equal(b, []byte("null")) {
		*a = Amount{}
		return nil
	}
	d, err := Parse(strings.Trim(string(b), `"`))
	if err != nil {
		return err
	}
	*a = Amount{Decimal: d, Set: true}
	return nil
}

// Sum adds amounts exactly.
func Sum(amounts ...decimal.Decimal) decimal.Decimal {
	total := decimal.Zero
	for _, a := range amounts {
		total = total.Add(a)
	}
	return total
}

// Cents rounds to two places for presentation only.
func Cents(d decimal.Decimal) string {
	return d.StringFixedBank(2)
}

type Formatter struct {
	printer *message.Printer
	unit    currency.Unit
}

func NewFormatter(locale, code string) (*Formatter, error) {
	tag, err := language.Parse(locale)
	if err != nil {
		return nil, fmt.Errorf("invalid locale %q: %w", locale, err)
	}
	unit, err := currency.ParseISO(code)
	if err != nil {
		return nil, fmt.Errorf("invalid currency %q: %w", code, err)
	}
	return &Formatter{printer: message.NewPrinter(tag), unit: unit}, nil
}

// Format renders an amount with the currency symbol, e.g. for console notifications.
func (f *Formatter) Format(d decimal.Decimal) string {
	return f.printer.Sprint(currency.Symbol(f.unit.Amount(d.Round(2).InexactFloat64())))
}
