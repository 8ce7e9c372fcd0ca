// Package memory provides an in-memory store implementation, used by the
// service tests and when the API runs without a database.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/mutuellesante/go-officine/internal/domain/fulfillment"
	"github.com/mutuellesante/go-officine/internal/domain/stock"
	"github.com/mutuellesante/go-officine/internal/store"
)

// Store holds all state behind one mutex. Good enough for a single process;
// the postgres implementation carries the same contract for deployments.
type Store struct {
	mu      sync.Mutex
	records map[string]*fulfillment.Record
	history []*fulfillment.HistoryEntry
	items   map[string]*stock.Item
}

// New creates an empty store.
func New() *Store {
	return &Store{
		records: make(map[string]*fulfillment.Record),
		items:   make(map[string]*stock.Item),
	}
}

func copyRecord(r *fulfillment.Record) *fulfillment.Record {
	cp := *r
	return &cp
}

func copyItem(i *stock.Item) *stock.Item {
	cp := *i
	return &cp
}

// CreateRecord implements store.FulfillmentStore.
func (s *Store) CreateRecord(_ context.Context, rec *fulfillment.Record, entry *fulfillment.HistoryEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.records {
		if existing.PrescriptionID == rec.PrescriptionID {
			// Another caller created the record for this prescription first.
			return store.ErrStaleState
		}
	}
	s.records[rec.ID] = copyRecord(rec)
	if entry != nil {
		cp := *entry
		s.history = append(s.history, &cp)
	}
	return nil
}

// GetRecord implements store.FulfillmentStore.
func (s *Store) GetRecord(_ context.Context, id string) (*fulfillment.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return copyRecord(rec), nil
}

// GetRecordByPrescription implements store.FulfillmentStore.
func (s *Store) GetRecordByPrescription(_ context.Context, prescriptionID string) (*fulfillment.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, rec := range s.records {
		if rec.PrescriptionID == prescriptionID {
			return copyRecord(rec), nil
		}
	}
	return nil, store.ErrNotFound
}

// UpdateRecord implements store.FulfillmentStore. The state compare-and-swap
// and the history append happen under one lock, so a losing concurrent
// transition observes ErrStaleState with nothing written.
func (s *Store) UpdateRecord(_ context.Context, rec *fulfillment.Record, expected fulfillment.State, entry *fulfillment.HistoryEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.records[rec.ID]
	if !ok {
		return store.ErrNotFound
	}
	if current.State != expected {
		return store.ErrStaleState
	}
	s.records[rec.ID] = copyRecord(rec)
	if entry != nil {
		cp := *entry
		s.history = append(s.history, &cp)
	}
	return nil
}

// RecordStateByPrescription implements store.FulfillmentStore.
func (s *Store) RecordStateByPrescription(_ context.Context) (map[string]fulfillment.State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	states := make(map[string]fulfillment.State, len(s.records))
	for _, rec := range s.records {
		states[rec.PrescriptionID] = rec.State
	}
	return states, nil
}

// ListRecords implements store.FulfillmentStore.
func (s *Store) ListRecords(_ context.Context, pharmacyID string) ([]*fulfillment.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*fulfillment.Record
	for _, rec := range s.records {
		if rec.PharmacyID == pharmacyID {
			out = append(out, copyRecord(rec))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ReceivedAt.After(out[j].ReceivedAt) })
	return out, nil
}

func matchesFilter(e *fulfillment.HistoryEntry, f fulfillment.HistoryFilter) bool {
	if f.RecordID != "" && e.RecordID != f.RecordID {
		return false
	}
	if f.PharmacistID != "" && e.PharmacistID != f.PharmacistID {
		return false
	}
	if !f.From.IsZero() && e.OccurredAt.Before(f.From) {
		return false
	}
	if !f.To.IsZero() && e.OccurredAt.After(f.To) {
		return false
	}
	return true
}

// ListHistory implements store.FulfillmentStore.
func (s *Store) ListHistory(_ context.Context, filter fulfillment.HistoryFilter) ([]*fulfillment.HistoryEntry, int, error) {
	filter = filter.Normalize()
	s.mu.Lock()
	defer s.mu.Unlock()

	var matched []*fulfillment.HistoryEntry
	for _, e := range s.history {
		if matchesFilter(e, filter) {
			cp := *e
			matched = append(matched, &cp)
		}
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].OccurredAt.After(matched[j].OccurredAt) })

	total := len(matched)
	start := (filter.Page - 1) * filter.PageSize
	if start >= total {
		return nil, total, nil
	}
	end := start + filter.PageSize
	if end > total {
		end = total
	}
	return matched[start:end], total, nil
}

// CountHistorySince implements store.FulfillmentStore.
func (s *Store) CountHistorySince(_ context.Context, pharmacistID string, since time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	count := 0
	for _, e := range s.history {
		if pharmacistID != "" && e.PharmacistID != pharmacistID {
			continue
		}
		if !e.OccurredAt.Before(since) {
			count++
		}
	}
	return count, nil
}

// CreateItem implements store.StockStore.
func (s *Store) CreateItem(_ context.Context, item *stock.Item) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.items {
		if existing.Active &&
			existing.PharmacyID == item.PharmacyID &&
			strings.EqualFold(existing.DrugName, item.DrugName) &&
			strings.EqualFold(existing.DrugCode, item.DrugCode) {
			return &stock.DuplicateItemError{
				PharmacyID: item.PharmacyID,
				DrugName:   item.DrugName,
				DrugCode:   item.DrugCode,
			}
		}
	}
	s.items[item.ID] = copyItem(item)
	return nil
}

// GetItem implements store.StockStore.
func (s *Store) GetItem(_ context.Context, id string) (*stock.Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	item, ok := s.items[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return copyItem(item), nil
}

// FindActiveItem implements store.StockStore.
func (s *Store) FindActiveItem(_ context.Context, pharmacyID, drugName string) (*stock.Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, item := range s.items {
		if item.Active && item.PharmacyID == pharmacyID && strings.EqualFold(item.DrugName, drugName) {
			return copyItem(item), nil
		}
	}
	return nil, store.ErrNotFound
}

// ListItems implements store.StockStore.
func (s *Store) ListItems(_ context.Context, pharmacyID string, includeInactive bool) ([]*stock.Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*stock.Item
	for _, item := range s.items {
		if item.PharmacyID != pharmacyID {
			continue
		}
		if !item.Active && !includeInactive {
			continue
		}
		out = append(out, copyItem(item))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

// AdjustQuantity implements store.StockStore.
func (s *Store) AdjustQuantity(_ context.Context, itemID string, delta int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	item, ok := s.items[itemID]
	if !ok {
		return 0, store.ErrNotFound
	}
	next := item.Quantity + delta
	if next < 0 {
		return item.Quantity, &stock.InsufficientStockError{
			ItemID:    item.ID,
			DrugName:  item.DrugName,
			Requested: -delta,
			Available: item.Quantity,
		}
	}
	item.Quantity = next
	item.UpdatedAt = time.Now().UTC()
	return next, nil
}

// UpdateItem implements store.StockStore. The stored quantity is kept: the
// caller's copy may carry a quantity read before a concurrent adjustment.
func (s *Store) UpdateItem(_ context.Context, item *stock.Item) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.items[item.ID]
	if !ok {
		return store.ErrNotFound
	}
	cp := copyItem(item)
	cp.Quantity = current.Quantity
	cp.UpdatedAt = time.Now().UTC()
	s.items[item.ID] = cp
	return nil
}
