// Package store defines the persistence contracts of the fulfillment engine.
// A record mutation and its paired history entry always commit together;
// implementations enforce the state compare-and-swap that keeps two
// concurrent pharmacists from both applying the same transition.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/mutuellesante/go-officine/internal/domain/fulfillment"
	"github.com/mutuellesante/go-officine/internal/domain/stock"
)

var (
	// ErrNotFound is returned when a record or item id does not resolve.
	ErrNotFound = errors.New("not found")
	// ErrStaleState is returned when the stored record state no longer
	// matches the state the transition was computed from.
	ErrStaleState = errors.New("record state changed concurrently")
)

// FulfillmentStore persists fulfillment records and their audit trail.
type FulfillmentStore interface {
	// CreateRecord inserts a new record together with its first history
	// entry, atomically.
	CreateRecord(ctx context.Context, rec *fulfillment.Record, entry *fulfillment.HistoryEntry) error
	// GetRecord resolves a record by id.
	GetRecord(ctx context.Context, id string) (*fulfillment.Record, error)
	// GetRecordByPrescription resolves the record handling a prescription,
	// if any. A prescription has at most one record.
	GetRecordByPrescription(ctx context.Context, prescriptionID string) (*fulfillment.Record, error)
	// UpdateRecord persists a transitioned record and appends its history
	// entry in one transaction. The write only applies while the stored
	// state still equals expected; otherwise ErrStaleState is returned and
	// nothing is written.
	UpdateRecord(ctx context.Context, rec *fulfillment.Record, expected fulfillment.State, entry *fulfillment.HistoryEntry) error
	// RecordStateByPrescription returns the current state of every record,
	// keyed by prescription id. Used to derive the pending queue.
	RecordStateByPrescription(ctx context.Context) (map[string]fulfillment.State, error)
	// ListRecords returns a pharmacy's records, newest received first.
	ListRecords(ctx context.Context, pharmacyID string) ([]*fulfillment.Record, error)
	// ListHistory returns one page of history entries matching the filter,
	// newest first, together with the total match count.
	ListHistory(ctx context.Context, filter fulfillment.HistoryFilter) ([]*fulfillment.HistoryEntry, int, error)
	// CountHistorySince counts a pharmacist's entries at or after since.
	CountHistorySince(ctx context.Context, pharmacistID string, since time.Time) (int, error)
}

// StockStore persists the inventory ledger.
type StockStore interface {
	// CreateItem registers an item. Registering an active duplicate of the
	// (pharmacy, drug name, code) tuple fails with *stock.DuplicateItemError.
	CreateItem(ctx context.Context, item *stock.Item) error
	// GetItem resolves an item by id.
	GetItem(ctx context.Context, id string) (*stock.Item, error)
	// FindActiveItem resolves a pharmacy's active item by drug name.
	FindActiveItem(ctx context.Context, pharmacyID, drugName string) (*stock.Item, error)
	// ListItems returns a pharmacy's items, newest first. Deactivated items
	// are included only when includeInactive is set.
	ListItems(ctx context.Context, pharmacyID string, includeInactive bool) ([]*stock.Item, error)
	// AdjustQuantity applies a locked read-modify-write to the quantity on
	// hand and returns the new quantity. A decrease beyond the quantity on
	// hand fails with *stock.InsufficientStockError and writes nothing.
	AdjustQuantity(ctx context.Context, itemID string, delta int) (int, error)
	// UpdateItem persists a manual edit or an active-flag toggle. The
	// quantity on hand is never written here; it only moves through
	// AdjustQuantity, so a stale copy cannot undo a concurrent adjustment.
	UpdateItem(ctx context.Context, item *stock.Item) error
}
