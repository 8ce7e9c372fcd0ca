// Package stock models the per-pharmacy inventory ledger: one drug line per
// item, with quantity on hand, reorder threshold, pricing and expiry.
package stock

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Category classifies a drug line.
type Category string

const (
	CategoryAntibiotic       Category = "ANTIBIOTIC"
	CategoryAnalgesic        Category = "ANALGESIC"
	CategoryAntiInflammatory Category = "ANTI_INFLAMMATORY"
	CategoryVitamin          Category = "VITAMIN"
	CategoryOther            Category = "OTHER"
)

// Categories lists every valid category, in display order.
func Categories() []Category {
	return []Category{
		CategoryAntibiotic,
		CategoryAnalgesic,
		CategoryAntiInflammatory,
		CategoryVitamin,
		CategoryOther,
	}
}

// Status is the reporting status of an item. EXPIRED takes precedence over
// the quantity-derived statuses.
type Status string

const (
	StatusNormal     Status = "NORMAL"
	StatusLow        Status = "LOW"
	StatusOutOfStock Status = "OUT_OF_STOCK"
	StatusExpired    Status = "EXPIRED"
)

// Item is one drug line held by one pharmacy. Quantity never goes negative;
// items are soft-deactivated, never hard-deleted, so dispensation history
// stays valid.
type Item struct {
	ID               string          `json:"id"`
	PharmacyID       string          `json:"pharmacy_id"`
	DrugName         string          `json:"drug_name"`
	DrugCode         string          `json:"drug_code,omitempty"`
	Category         Category        `json:"category"`
	Quantity         int             `json:"quantity"`
	ReorderThreshold int             `json:"reorder_threshold"`
	PurchasePrice    decimal.Decimal `json:"purchase_price"`
	SalePrice        decimal.Decimal `json:"sale_price"`
	ExpiresAt        *time.Time      `json:"expires_at,omitempty"`
	Active           bool            `json:"active"`
	CreatedAt        time.Time       `json:"created_at"`
	UpdatedAt        time.Time       `json:"updated_at"`
}

// NewItem registers a drug line for a pharmacy.
func NewItem(pharmacyID, drugName, drugCode string, category Category, quantity, threshold int, purchasePrice, salePrice decimal.Decimal, expiresAt *time.Time) *Item {
	now := time.Now().UTC()
	if category == "" {
		category = CategoryOther
	}
	return &Item{
		ID:               uuid.New().String(),
		PharmacyID:       pharmacyID,
		DrugName:         drugName,
		DrugCode:         drugCode,
		Category:         category,
		Quantity:         quantity,
		ReorderThreshold: threshold,
		PurchasePrice:    purchasePrice,
		SalePrice:        salePrice,
		ExpiresAt:        expiresAt,
		Active:           true,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
}

// OutOfStock reports whether the quantity on hand is exhausted.
func (i *Item) OutOfStock() bool { return i.Quantity == 0 }

// NeedsReorder reports whether the quantity has fallen to the reorder
// threshold without being exhausted.
func (i *Item) NeedsReorder() bool {
	return i.Quantity > 0 && i.Quantity <= i.ReorderThreshold
}

// Expired reports whether the expiry date has passed.
func (i *Item) Expired() bool {
	if i.ExpiresAt == nil {
		return false
	}
	today := time.Now().UTC().Truncate(24 * time.Hour)
	return i.ExpiresAt.Before(today)
}

// Status derives the reporting status. Expiry wins over quantity.
func (i *Item) Status() Status {
	switch {
	case i.Expired():
		return StatusExpired
	case i.OutOfStock():
		return StatusOutOfStock
	case i.NeedsReorder():
		return StatusLow
	default:
		return StatusNormal
	}
}

// Margin is the per-unit profit.
func (i *Item) Margin() decimal.Decimal {
	return i.SalePrice.Sub(i.PurchasePrice)
}

// MarginRate is the margin as a percentage of the purchase price, or zero
// when the purchase price is zero.
func (i *Item) MarginRate() decimal.Decimal {
	if i.PurchasePrice.IsZero() {
		return decimal.Zero
	}
	return i.Margin().Div(i.PurchasePrice).Mul(decimal.NewFromInt(100)).Round(2)
}

// DaysUntilExpiry returns the number of whole days before the item expires,
// negative once expired. The second return is false without an expiry date.
func (i *Item) DaysUntilExpiry() (int, bool) {
	if i.ExpiresAt == nil {
		return 0, false
	}
	today := time.Now().UTC().Truncate(24 * time.Hour)
	return int(i.ExpiresAt.Sub(today).Hours() / 24), true
}
