package order

import (
	"github.com/shopspring/decimal"

	"labonnas-pos/internal/apperr"
	"labonnas-pos/internal/models"
)

var ErrItemUnavailable = apperr.New(apperr.KindValidation, "item_unavailable", "menu item is not available")

// Cart is the draft order of one table visit. Lines are keyed by menu item
// id, so a catalog entry appears at most once.
type Cart struct {
	lines []models.OrderLine
}

// NewCart returns a cart holding a copy of lines.
func NewCart(lines []models.OrderLine) *Cart {
	c := &Cart{}
	for _, l := range lines {
		if l.Quantity > 0 {
			c.lines = append(c.lines, l)
		}
	}
	return c
}

// AddItem adds one unit of item. The unit price is copied from the catalog
// entry now and is not looked up again.
func (c *Cart) AddItem(item models.MenuItem) error {
	if !item.Available {
		return ErrItemUnavailable
	}
	if i := c.index(item.ID); i >= 0 {
		c.lines[i].Quantity++
		return nil
	}
	c.lines = append(c.lines, models.OrderLine{
		MenuItemID: item.ID,
		Name:       item.Name,
		Quantity:   1,
		UnitPrice:  item.Price,
	})
	return nil
}

// RemoveItem drops a line. Removing an absent line does nothing.
func (c *Cart) RemoveItem(lineID string) {
	if i := c.index(lineID); i >= 0 {
		c.lines = append(c.lines[:i], c.lines[i+1:]...)
	}
}

// UpdateQuantity sets a line's quantity; zero or less removes the line.
func (c *Cart) UpdateQuantity(lineID string, qty int) {
	if qty <= 0 {
		c.RemoveItem(lineID)
		return
	}
	if i := c.index(lineID); i >= 0 {
		c.lines[i].Quantity = qty
	}
}

func (c *Cart) Clear() {
	c.lines = nil
}

func (c *Cart) TotalPrice() decimal.Decimal {
	return models.LinesTotal(c.lines)
}

func (c *Cart) Empty() bool {
	return len(c.lines) == 0
}

// Lines returns a copy of the cart lines.
func (c *Cart) Lines() []models.OrderLine {
	out := make([]models.OrderLine, len(c.lines))
	copy(out, c.lines)
	return out
}

// merge adds lines back into the cart, summing quantities of lines that
// are already present.
func (c *Cart) merge(lines []models.OrderLine) {
	for _, l := range lines {
		if i := c.index(l.MenuItemID); i >= 0 {
			c.lines[i].Quantity += l.Quantity
			continue
		}
		c.lines = append(c.lines, l)
	}
}

func (c *Cart) index(lineID string) int {
	for i, l := range c.lines {
		if l.MenuItemID == lineID {
			return i
		}
	}
	return -1
}
