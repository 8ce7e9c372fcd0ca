package stock

import "fmt"

// InsufficientStockError reports a decrease that would drive the quantity on
// hand negative. The decrease is rejected, never clamped.
type InsufficientStockError struct {
	ItemID    string
	DrugName  string
	Requested int
	Available int
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for %s: requested %d, %d on hand", e.DrugName, e.Requested, e.Available)
}

// DuplicateItemError reports registration of a (pharmacy, drug name, code)
// tuple that already exists as an active item.
type DuplicateItemError struct {
	PharmacyID string
	DrugName   string
	DrugCode   string
}

func (e *DuplicateItemError) Error() string {
	return fmt.Sprintf("stock item %q (code %q) already registered for pharmacy %s", e.DrugName, e.DrugCode, e.PharmacyID)
}

// ValidationError reports rejected caller input on registration or edit.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// InvalidAmountError reports a non-positive increase or decrease amount.
type InvalidAmountError struct {
	Amount int
}

func (e *InvalidAmountError) Error() string {
	return fmt.Sprintf("stock adjustment amount must be positive, got %d", e.Amount)
}
