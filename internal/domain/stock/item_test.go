package stock

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func newTestItem(quantity, threshold int) *Item {
	return NewItem("ph-1", "Amoxicilline 500mg", "AMX500", CategoryAntibiotic,
		quantity, threshold, decimal.RequireFromString("2.10"), decimal.RequireFromString("3.50"), nil)
}

func TestStatusThresholds(t *testing.T) {
	tests := []struct {
		name      string
		quantity  int
		threshold int
		want      Status
	}{
		{"above threshold", 12, 10, StatusNormal},
		{"at threshold", 10, 10, StatusLow},
		{"below threshold", 3, 10, StatusLow},
		{"exhausted", 0, 10, StatusOutOfStock},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			item := newTestItem(tt.quantity, tt.threshold)
			if got := item.Status(); got != tt.want {
				t.Errorf("status = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestExpiredWinsOverQuantity(t *testing.T) {
	past := time.Now().UTC().AddDate(0, 0, -2)
	item := newTestItem(50, 10)
	item.ExpiresAt = &past

	if got := item.Status(); got != StatusExpired {
		t.Errorf("status = %s, want EXPIRED", got)
	}
}

func TestExpiryToday(t *testing.T) {
	today := time.Now().UTC().Truncate(24 * time.Hour)
	item := newTestItem(5, 10)
	item.ExpiresAt = &today

	if item.Expired() {
		t.Error("an item expiring today is still dispensable")
	}
}

func TestMargin(t *testing.T) {
	item := newTestItem(1, 1)

	if !item.Margin().Equal(decimal.RequireFromString("1.40")) {
		t.Errorf("margin = %s, want 1.40", item.Margin())
	}
	// 1.40 / 2.10 * 100 = 66.67 (rounded)
	if !item.MarginRate().Equal(decimal.RequireFromString("66.67")) {
		t.Errorf("margin rate = %s, want 66.67", item.MarginRate())
	}
}

func TestMarginRateZeroPurchasePrice(t *testing.T) {
	item := newTestItem(1, 1)
	item.PurchasePrice = decimal.Zero

	if !item.MarginRate().IsZero() {
		t.Errorf("margin rate = %s, want 0", item.MarginRate())
	}
}

func TestDaysUntilExpiry(t *testing.T) {
	item := newTestItem(1, 1)
	if _, ok := item.DaysUntilExpiry(); ok {
		t.Error("item without expiry should report no days")
	}

	future := time.Now().UTC().Truncate(24 * time.Hour).AddDate(0, 0, 10)
	item.ExpiresAt = &future
	days, ok := item.DaysUntilExpiry()
	if !ok || days != 10 {
		t.Errorf("days = %d ok = %t, want 10 true", days, ok)
	}
}

func TestNewItemDefaultsCategory(t *testing.T) {
	item := NewItem("ph-1", "Doliprane", "", "", 1, 1, decimal.Zero, decimal.Zero, nil)
	if item.Category != CategoryOther {
		t.Errorf("category = %s, want OTHER", item.Category)
	}
	if !item.Active {
		t.Error("new items start active")
	}
}
