package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/mutuellesante/go-officine/internal/domain/stock"
	"github.com/mutuellesante/go-officine/internal/store"
)

// StockStore persists the inventory ledger.
type StockStore struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

// NewStockStore creates a store.
func NewStockStore(pool *pgxpool.Pool, logger *zap.Logger) *StockStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StockStore{pool: pool, logger: logger}
}

const itemColumns = `
	id, pharmacy_id, drug_name, drug_code, category, quantity,
	reorder_threshold, purchase_price, sale_price, expires_at, active,
	created_at, updated_at`

func scanItem(row pgx.Row) (*stock.Item, error) {
	item := &stock.Item{}
	err := row.Scan(
		&item.ID, &item.PharmacyID, &item.DrugName, &item.DrugCode,
		&item.Category, &item.Quantity, &item.ReorderThreshold,
		&item.PurchasePrice, &item.SalePrice, &item.ExpiresAt, &item.Active,
		&item.CreatedAt, &item.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("scan stock item: %w", err)
	}
	return item, nil
}

// CreateItem implements store.StockStore.
func (s *StockStore) CreateItem(ctx context.Context, item *stock.Item) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	var exists bool
	err = tx.QueryRow(ctx, `
		SELECT EXISTS(
			SELECT 1 FROM stock_items
			WHERE pharmacy_id = $1 AND lower(drug_name) = lower($2)
			  AND lower(drug_code) = lower($3) AND active
		)`, item.PharmacyID, item.DrugName, item.DrugCode).Scan(&exists)
	if err != nil {
		return fmt.Errorf("check duplicate: %w", err)
	}
	if exists {
		return &stock.DuplicateItemError{
			PharmacyID: item.PharmacyID,
			DrugName:   item.DrugName,
			DrugCode:   item.DrugCode,
		}
	}

	query := `
		INSERT INTO stock_items (` + itemColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`
	_, err = tx.Exec(ctx, query,
		item.ID, item.PharmacyID, item.DrugName, item.DrugCode,
		item.Category, item.Quantity, item.ReorderThreshold,
		item.PurchasePrice, item.SalePrice, item.ExpiresAt, item.Active,
		item.CreatedAt, item.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert stock item: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// GetItem implements store.StockStore.
func (s *StockStore) GetItem(ctx context.Context, id string) (*stock.Item, error) {
	query := `SELECT ` + itemColumns + ` FROM stock_items WHERE id = $1`
	return scanItem(s.pool.QueryRow(ctx, query, id))
}

// FindActiveItem implements store.StockStore.
func (s *StockStore) FindActiveItem(ctx context.Context, pharmacyID, drugName string) (*stock.Item, error) {
	query := `SELECT ` + itemColumns + `
		FROM stock_items
		WHERE pharmacy_id = $1 AND lower(drug_name) = lower($2) AND active
		LIMIT 1`
	return scanItem(s.pool.QueryRow(ctx, query, pharmacyID, drugName))
}

// ListItems implements store.StockStore.
func (s *StockStore) ListItems(ctx context.Context, pharmacyID string, includeInactive bool) ([]*stock.Item, error) {
	query := `SELECT ` + itemColumns + ` FROM stock_items WHERE pharmacy_id = $1`
	if !includeInactive {
		query += " AND active"
	}
	query += " ORDER BY created_at DESC"

	rows, err := s.pool.Query(ctx, query, pharmacyID)
	if err != nil {
		return nil, fmt.Errorf("query stock items: %w", err)
	}
	defer rows.Close()

	var items []*stock.Item
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

// AdjustQuantity implements store.StockStore. The row is locked for the
// duration of the read-modify-write, so concurrent decreases cannot drive
// the quantity negative through a lost update.
func (s *StockStore) AdjustQuantity(ctx context.Context, itemID string, delta int) (int, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	var drugName string
	var quantity int
	err = tx.QueryRow(ctx,
		"SELECT drug_name, quantity FROM stock_items WHERE id = $1 FOR UPDATE",
		itemID).Scan(&drugName, &quantity)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, store.ErrNotFound
		}
		return 0, fmt.Errorf("lock stock item: %w", err)
	}

	next := quantity + delta
	if next < 0 {
		return quantity, &stock.InsufficientStockError{
			ItemID:    itemID,
			DrugName:  drugName,
			Requested: -delta,
			Available: quantity,
		}
	}

	_, err = tx.Exec(ctx,
		"UPDATE stock_items SET quantity = $1, updated_at = NOW() WHERE id = $2",
		next, itemID)
	if err != nil {
		return 0, fmt.Errorf("update quantity: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("commit: %w", err)
	}
	return next, nil
}

// UpdateItem implements store.StockStore. The quantity column is deliberately
// absent from the UPDATE: edits carry a quantity read earlier, and writing it
// back would overwrite any adjustment committed in between.
func (s *StockStore) UpdateItem(ctx context.Context, item *stock.Item) error {
	query := `
		UPDATE stock_items SET
			drug_name = $2, drug_code = $3, category = $4,
			reorder_threshold = $5, purchase_price = $6, sale_price = $7,
			expires_at = $8, active = $9, updated_at = NOW()
		WHERE id = $1
	`
	tag, err := s.pool.Exec(ctx, query,
		item.ID, item.DrugName, item.DrugCode, item.Category,
		item.ReorderThreshold, item.PurchasePrice, item.SalePrice,
		item.ExpiresAt, item.Active,
	)
	if err != nil {
		return fmt.Errorf("update stock item: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}
