package service

import (
	"context"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/mutuellesante/go-officine/internal/domain/stock"
	"github.com/mutuellesante/go-officine/internal/store"
)

// StockService manages the per-pharmacy inventory ledger.
type StockService struct {
	store     store.StockStore
	authorize Authorizer
	logger    *zap.Logger
}

// NewStockService wires the service. A nil authorize defaults to AllowAll.
func NewStockService(st store.StockStore, authorize Authorizer, logger *zap.Logger) *StockService {
	if authorize == nil {
		authorize = AllowAll
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StockService{store: st, authorize: authorize, logger: logger}
}

// RegisterItemInput carries a new drug line.
type RegisterItemInput struct {
	DrugName         string
	DrugCode         string
	Category         stock.Category
	Quantity         int
	ReorderThreshold int
	PurchasePrice    decimal.Decimal
	SalePrice        decimal.Decimal
	ExpiresAt        *time.Time
}

func (in *RegisterItemInput) validate() error {
	if strings.TrimSpace(in.DrugName) == "" {
		return &stock.ValidationError{Field: "drug_name", Reason: "must not be empty"}
	}
	if in.Quantity < 0 {
		return &stock.ValidationError{Field: "quantity", Reason: "must not be negative"}
	}
	if in.ReorderThreshold < 0 {
		return &stock.ValidationError{Field: "reorder_threshold", Reason: "must not be negative"}
	}
	if in.PurchasePrice.IsNegative() || in.SalePrice.IsNegative() {
		return &stock.ValidationError{Field: "price", Reason: "must not be negative"}
	}
	if in.SalePrice.LessThan(in.PurchasePrice) {
		return &stock.ValidationError{Field: "sale_price", Reason: "must not be below the purchase price"}
	}
	return nil
}

// Register adds a drug line to the actor's pharmacy. Registering an active
// duplicate of the same drug fails with *stock.DuplicateItemError.
func (s *StockService) Register(ctx context.Context, actor Actor, in RegisterItemInput) (*stock.Item, error) {
	if !s.authorize(actor, CapabilityManageStock) {
		return nil, ErrForbidden
	}
	if err := in.validate(); err != nil {
		return nil, err
	}

	item := stock.NewItem(actor.PharmacyID, strings.TrimSpace(in.DrugName), strings.TrimSpace(in.DrugCode),
		in.Category, in.Quantity, in.ReorderThreshold, in.PurchasePrice, in.SalePrice, in.ExpiresAt)
	if err := s.store.CreateItem(ctx, item); err != nil {
		return nil, err
	}

	s.logger.Info("stock item registered",
		zap.String("item_id", item.ID),
		zap.String("pharmacy_id", item.PharmacyID),
		zap.String("drug_name", item.DrugName))
	return item, nil
}

// Increase raises the quantity on hand, for deliveries and returns.
func (s *StockService) Increase(ctx context.Context, actor Actor, itemID string, amount int) (*stock.Item, error) {
	return s.adjust(ctx, actor, itemID, amount)
}

// Decrease lowers the quantity on hand. A decrease beyond the quantity on
// hand fails with *stock.InsufficientStockError and changes nothing.
func (s *StockService) Decrease(ctx context.Context, actor Actor, itemID string, amount int) (*stock.Item, error) {
	return s.adjust(ctx, actor, itemID, -amount)
}

func (s *StockService) adjust(ctx context.Context, actor Actor, itemID string, delta int) (*stock.Item, error) {
	if !s.authorize(actor, CapabilityManageStock) {
		return nil, ErrForbidden
	}
	amount := delta
	if amount < 0 {
		amount = -amount
	}
	if amount == 0 {
		return nil, &stock.InvalidAmountError{Amount: 0}
	}

	newQty, err := s.store.AdjustQuantity(ctx, itemID, delta)
	if err != nil {
		return nil, err
	}
	s.logger.Info("stock quantity adjusted",
		zap.String("item_id", itemID),
		zap.Int("delta", delta),
		zap.Int("quantity", newQty))
	return s.store.GetItem(ctx, itemID)
}

// RestockInput carries a delivery: the received quantity plus the prices and
// expiry of the new batch. Nil fields keep the current values.
type RestockInput struct {
	Quantity      int
	PurchasePrice *decimal.Decimal
	SalePrice     *decimal.Decimal
	ExpiresAt     *time.Time
}

// Restock books a delivery in: raises the quantity and refreshes prices and
// expiry in one step.
func (s *StockService) Restock(ctx context.Context, actor Actor, itemID string, in RestockInput) (*stock.Item, error) {
	if !s.authorize(actor, CapabilityManageStock) {
		return nil, ErrForbidden
	}
	if in.Quantity <= 0 {
		return nil, &stock.InvalidAmountError{Amount: in.Quantity}
	}

	item, err := s.store.GetItem(ctx, itemID)
	if err != nil {
		return nil, err
	}
	if in.PurchasePrice != nil {
		item.PurchasePrice = *in.PurchasePrice
	}
	if in.SalePrice != nil {
		item.SalePrice = *in.SalePrice
	}
	if item.PurchasePrice.IsNegative() || item.SalePrice.IsNegative() {
		return nil, &stock.ValidationError{Field: "price", Reason: "must not be negative"}
	}
	if item.SalePrice.LessThan(item.PurchasePrice) {
		return nil, &stock.ValidationError{Field: "sale_price", Reason: "must not be below the purchase price"}
	}
	if in.ExpiresAt != nil {
		item.ExpiresAt = in.ExpiresAt
	}
	if err := s.store.UpdateItem(ctx, item); err != nil {
		return nil, err
	}

	newQty, err := s.store.AdjustQuantity(ctx, itemID, in.Quantity)
	if err != nil {
		return nil, err
	}
	s.logger.Info("stock item restocked",
		zap.String("item_id", itemID),
		zap.Int("received", in.Quantity),
		zap.Int("quantity", newQty))
	return s.store.GetItem(ctx, itemID)
}

// UpdateItemInput carries a manual edit. Nil fields are left unchanged.
type UpdateItemInput struct {
	DrugName         *string
	DrugCode         *string
	Category         *stock.Category
	ReorderThreshold *int
	PurchasePrice    *decimal.Decimal
	SalePrice        *decimal.Decimal
	ExpiresAt        *time.Time
}

// Update edits an item's descriptive fields. Quantities only move through
// Increase and Decrease.
func (s *StockService) Update(ctx context.Context, actor Actor, itemID string, in UpdateItemInput) (*stock.Item, error) {
	if !s.authorize(actor, CapabilityManageStock) {
		return nil, ErrForbidden
	}
	item, err := s.store.GetItem(ctx, itemID)
	if err != nil {
		return nil, err
	}

	if in.DrugName != nil {
		if strings.TrimSpace(*in.DrugName) == "" {
			return nil, &stock.ValidationError{Field: "drug_name", Reason: "must not be empty"}
		}
		item.DrugName = strings.TrimSpace(*in.DrugName)
	}
	if in.DrugCode != nil {
		item.DrugCode = strings.TrimSpace(*in.DrugCode)
	}
	if in.Category != nil {
		item.Category = *in.Category
	}
	if in.ReorderThreshold != nil {
		if *in.ReorderThreshold < 0 {
			return nil, &stock.ValidationError{Field: "reorder_threshold", Reason: "must not be negative"}
		}
		item.ReorderThreshold = *in.ReorderThreshold
	}
	if in.PurchasePrice != nil {
		item.PurchasePrice = *in.PurchasePrice
	}
	if in.SalePrice != nil {
		item.SalePrice = *in.SalePrice
	}
	if item.PurchasePrice.IsNegative() || item.SalePrice.IsNegative() {
		return nil, &stock.ValidationError{Field: "price", Reason: "must not be negative"}
	}
	if item.SalePrice.LessThan(item.PurchasePrice) {
		return nil, &stock.ValidationError{Field: "sale_price", Reason: "must not be below the purchase price"}
	}
	if in.ExpiresAt != nil {
		item.ExpiresAt = in.ExpiresAt
	}

	if err := s.store.UpdateItem(ctx, item); err != nil {
		return nil, err
	}
	return item, nil
}

// Deactivate soft-removes an item from the active inventory. The row stays
// so past dispensations keep resolving; deactivating twice is a no-op.
func (s *StockService) Deactivate(ctx context.Context, actor Actor, itemID string) (*stock.Item, error) {
	return s.setActive(ctx, actor, itemID, false)
}

// Reactivate restores a soft-removed item.
func (s *StockService) Reactivate(ctx context.Context, actor Actor, itemID string) (*stock.Item, error) {
	return s.setActive(ctx, actor, itemID, true)
}

func (s *StockService) setActive(ctx context.Context, actor Actor, itemID string, active bool) (*stock.Item, error) {
	if !s.authorize(actor, CapabilityManageStock) {
		return nil, ErrForbidden
	}
	item, err := s.store.GetItem(ctx, itemID)
	if err != nil {
		return nil, err
	}
	if item.Active == active {
		return item, nil
	}
	item.Active = active
	if err := s.store.UpdateItem(ctx, item); err != nil {
		return nil, err
	}
	s.logger.Info("stock item active flag changed",
		zap.String("item_id", itemID),
		zap.Bool("active", active))
	return item, nil
}

// Get resolves one item.
func (s *StockService) Get(ctx context.Context, actor Actor, itemID string) (*stock.Item, error) {
	if !s.authorize(actor, CapabilityManageStock) {
		return nil, ErrForbidden
	}
	return s.store.GetItem(ctx, itemID)
}

// ItemView is an item annotated with its derived reporting status.
type ItemView struct {
	*stock.Item
	Status stock.Status `json:"status"`
}

// Overview summarizes a pharmacy's inventory: every item with its status,
// the per-status counters and the total purchase value on hand.
type Overview struct {
	Items      []*ItemView     `json:"items"`
	Normal     int             `json:"normal"`
	Low        int             `json:"low"`
	OutOfStock int             `json:"out_of_stock"`
	Expired    int             `json:"expired"`
	StockValue decimal.Decimal `json:"stock_value"`
}

// Overview builds the inventory dashboard for the actor's pharmacy.
func (s *StockService) Overview(ctx context.Context, actor Actor, includeInactive bool) (*Overview, error) {
	if !s.authorize(actor, CapabilityManageStock) {
		return nil, ErrForbidden
	}
	items, err := s.store.ListItems(ctx, actor.PharmacyID, includeInactive)
	if err != nil {
		return nil, err
	}

	ov := &Overview{StockValue: decimal.Zero}
	for _, item := range items {
		status := item.Status()
		ov.Items = append(ov.Items, &ItemView{Item: item, Status: status})
		switch status {
		case stock.StatusNormal:
			ov.Normal++
		case stock.StatusLow:
			ov.Low++
		case stock.StatusOutOfStock:
			ov.OutOfStock++
		case stock.StatusExpired:
			ov.Expired++
		}
		ov.StockValue = ov.StockValue.Add(item.PurchasePrice.Mul(decimal.NewFromInt(int64(item.Quantity))))
	}
	return ov, nil
}
