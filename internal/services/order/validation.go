package order

import (
	"fmt"
	"strings"

	"labonnas-pos/internal/apperr"
	"labonnas-pos/internal/models"
)

// ValidateSubmission checks a cart before it becomes an order.
func ValidateSubmission(responsible string, lines []models.OrderLine) error {
	if err := validateResponsible(responsible); err != nil {
		return err
	}
	return validateLines(lines)
}

func validateResponsible(name string) error {
	if strings.TrimSpace(name) == "" {
		return apperr.Validation("responsible", "responsible is required")
	}
	if len(name) > 100 {
		return apperr.Validation("responsible", "responsible must be less than 100 characters")
	}
	return nil
}

func validateLines(lines []models.OrderLine) error {
	if len(lines) == 0 {
		return apperr.Validation("items", "order must contain at least one item")
	}
	for i, l := range lines {
		if err := validateLine(l, i); err != nil {
			return err
		}
	}
	return nil
}

func validateLine(l models.OrderLine, index int) error {
	if l.MenuItemID == "" {
		return apperr.Validation(fmt.Sprintf("items[%d].menu_item_id", index), "menu item id is required")
	}
	if l.Quantity < 1 {
		return apperr.Validation(fmt.Sprintf("items[%d].quantity", index), "item quantity must be at least 1")
	}
	if l.UnitPrice.IsNegative() {
		return apperr.Validation(fmt.Sprintf("items[%d].unit_price", index), "item price cannot be negative")
	}
	return nil
}
