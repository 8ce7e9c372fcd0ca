package service

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/mutuellesante/go-officine/internal/store"
)

// StockPolicy decides how dispensation interacts with the inventory ledger.
// Reserve is called after the dispense transition is computed and before it
// is persisted; the returned release func undoes the reservation when the
// persist fails, and is nil when there is nothing to undo.
type StockPolicy interface {
	Reserve(ctx context.Context, pharmacyID, drugName string, quantity int) (release func(), err error)
}

// DetachedStockPolicy dispenses without touching the ledger. Pharmacies that
// track inventory outside the system run with this policy.
type DetachedStockPolicy struct{}

func (DetachedStockPolicy) Reserve(context.Context, string, string, int) (func(), error) {
	return nil, nil
}

// LedgerStockPolicy decrements the matching stock item on dispensation and
// refuses to dispense beyond the quantity on hand. A drug with no matching
// active item dispenses without a decrement; the ledger only constrains what
// it tracks.
type LedgerStockPolicy struct {
	stock  store.StockStore
	logger *zap.Logger
}

// NewLedgerStockPolicy builds the ledger-backed policy.
func NewLedgerStockPolicy(stockStore store.StockStore, logger *zap.Logger) *LedgerStockPolicy {
	return &LedgerStockPolicy{stock: stockStore, logger: logger}
}

func (p *LedgerStockPolicy) Reserve(ctx context.Context, pharmacyID, drugName string, quantity int) (func(), error) {
	item, err := p.stock.FindActiveItem(ctx, pharmacyID, drugName)
	if errors.Is(err, store.ErrNotFound) {
		p.logger.Warn("dispensing drug with no stock item",
			zap.String("pharmacy_id", pharmacyID),
			zap.String("drug_name", drugName))
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	if _, err := p.stock.AdjustQuantity(ctx, item.ID, -quantity); err != nil {
		return nil, err
	}

	itemID := item.ID
	release := func() {
		// Compensating increase, detached from the request context so a
		// cancelled request still restores the ledger.
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if _, err := p.stock.AdjustQuantity(ctx, itemID, quantity); err != nil {
			p.logger.Error("failed to restore reserved stock",
				zap.String("item_id", itemID),
				zap.Int("quantity", quantity),
				zap.Error(err))
		}
	}
	return release, nil
}
