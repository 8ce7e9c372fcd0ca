package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/mutuellesante/go-officine/internal/domain/fulfillment"
	"github.com/mutuellesante/go-officine/internal/domain/stock"
	"github.com/mutuellesante/go-officine/internal/store"
)

func TestUpdateRecordStaleState(t *testing.T) {
	ctx := context.Background()
	s := New()

	rec := fulfillment.NewRecord("rx-1", "ph-1", "Doliprane")
	if err := s.CreateRecord(ctx, rec, nil); err != nil {
		t.Fatal(err)
	}

	// Simulate a concurrent transition that already moved the record on.
	moved := *rec
	moved.State = fulfillment.StateValidated
	if err := s.UpdateRecord(ctx, &moved, fulfillment.StatePending, nil); err != nil {
		t.Fatal(err)
	}

	stale := *rec
	stale.State = fulfillment.StateRefused
	err := s.UpdateRecord(ctx, &stale, fulfillment.StatePending, nil)
	if !errors.Is(err, store.ErrStaleState) {
		t.Fatalf("err = %v, want ErrStaleState", err)
	}

	got, err := s.GetRecord(ctx, rec.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.State != fulfillment.StateValidated {
		t.Errorf("state = %s, the losing write must not apply", got.State)
	}
}

func TestCreateRecordDuplicatePrescription(t *testing.T) {
	ctx := context.Background()
	s := New()

	if err := s.CreateRecord(ctx, fulfillment.NewRecord("rx-1", "ph-1", "Doliprane"), nil); err != nil {
		t.Fatal(err)
	}
	err := s.CreateRecord(ctx, fulfillment.NewRecord("rx-1", "ph-2", "Doliprane"), nil)
	if !errors.Is(err, store.ErrStaleState) {
		t.Fatalf("err = %v, want ErrStaleState", err)
	}
}

func TestListHistoryPaging(t *testing.T) {
	ctx := context.Background()
	s := New()

	rec := fulfillment.NewRecord("rx-1", "ph-1", "Doliprane")
	if err := s.CreateRecord(ctx, rec, nil); err != nil {
		t.Fatal(err)
	}
	base := time.Now().UTC().Add(-time.Hour)
	for i := 0; i < 25; i++ {
		entry := &fulfillment.HistoryEntry{
			ID:           string(rune('a' + i)),
			RecordID:     rec.ID,
			PharmacistID: "p1",
			Action:       fulfillment.ActionConsultation,
			NewState:     fulfillment.StatePending,
			OccurredAt:   base.Add(time.Duration(i) * time.Minute),
		}
		if err := s.UpdateRecord(ctx, rec, rec.State, entry); err != nil {
			t.Fatal(err)
		}
	}

	entries, total, err := s.ListHistory(ctx, fulfillment.HistoryFilter{})
	if err != nil {
		t.Fatal(err)
	}
	if total != 25 {
		t.Errorf("total = %d, want 25", total)
	}
	if len(entries) != fulfillment.DefaultHistoryPageSize {
		t.Errorf("page size = %d, want %d", len(entries), fulfillment.DefaultHistoryPageSize)
	}
	// Newest first.
	if !entries[0].OccurredAt.After(entries[1].OccurredAt) {
		t.Error("entries must be ordered newest first")
	}

	second, _, err := s.ListHistory(ctx, fulfillment.HistoryFilter{Page: 2})
	if err != nil {
		t.Fatal(err)
	}
	if len(second) != 5 {
		t.Errorf("second page = %d entries, want 5", len(second))
	}

	empty, total, err := s.ListHistory(ctx, fulfillment.HistoryFilter{Page: 9})
	if err != nil {
		t.Fatal(err)
	}
	if len(empty) != 0 || total != 25 {
		t.Errorf("page 9: %d entries, total %d", len(empty), total)
	}
}

func TestAdjustQuantityNeverNegative(t *testing.T) {
	ctx := context.Background()
	s := New()

	item := stock.NewItem("ph-1", "Doliprane", "DOL1", stock.CategoryAnalgesic,
		5, 2, decimal.Zero, decimal.Zero, nil)
	if err := s.CreateItem(ctx, item); err != nil {
		t.Fatal(err)
	}

	if _, err := s.AdjustQuantity(ctx, item.ID, -3); err != nil {
		t.Fatal(err)
	}

	_, err := s.AdjustQuantity(ctx, item.ID, -3)
	var insufficient *stock.InsufficientStockError
	if !errors.As(err, &insufficient) {
		t.Fatalf("err = %v, want InsufficientStockError", err)
	}
	if insufficient.Requested != 3 || insufficient.Available != 2 {
		t.Errorf("got %+v", insufficient)
	}

	got, err := s.GetItem(ctx, item.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Quantity != 2 {
		t.Errorf("quantity = %d, failed decrease must not clamp", got.Quantity)
	}
}

func TestUpdateItemKeepsStoredQuantity(t *testing.T) {
	ctx := context.Background()
	s := New()

	item := stock.NewItem("ph-1", "Doliprane", "DOL1", stock.CategoryAnalgesic,
		10, 2, decimal.Zero, decimal.Zero, nil)
	if err := s.CreateItem(ctx, item); err != nil {
		t.Fatal(err)
	}

	// An edit loaded before a dispensation decrement lands in between.
	loaded, err := s.GetItem(ctx, item.ID)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := s.AdjustQuantity(ctx, item.ID, -5); err != nil {
		t.Fatal(err)
	}

	loaded.ReorderThreshold = 4
	if err := s.UpdateItem(ctx, loaded); err != nil {
		t.Fatal(err)
	}

	got, err := s.GetItem(ctx, item.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Quantity != 5 {
		t.Errorf("quantity = %d, the edit must not restore the pre-decrement quantity", got.Quantity)
	}
	if got.ReorderThreshold != 4 {
		t.Errorf("threshold = %d, the edit itself must apply", got.ReorderThreshold)
	}
}

func TestCreateItemDuplicate(t *testing.T) {
	ctx := context.Background()
	s := New()

	first := stock.NewItem("ph-1", "Doliprane", "DOL1", stock.CategoryAnalgesic,
		5, 2, decimal.Zero, decimal.Zero, nil)
	if err := s.CreateItem(ctx, first); err != nil {
		t.Fatal(err)
	}

	dup := stock.NewItem("ph-1", "doliprane", "dol1", stock.CategoryAnalgesic,
		1, 1, decimal.Zero, decimal.Zero, nil)
	var dupErr *stock.DuplicateItemError
	if err := s.CreateItem(ctx, dup); !errors.As(err, &dupErr) {
		t.Fatalf("err = %v, want DuplicateItemError", err)
	}

	// A deactivated item frees the slot.
	first.Active = false
	if err := s.UpdateItem(ctx, first); err != nil {
		t.Fatal(err)
	}
	if err := s.CreateItem(ctx, dup); err != nil {
		t.Fatalf("re-register after deactivation failed: %v", err)
	}

	// Other pharmacies are independent.
	other := stock.NewItem("ph-2", "Doliprane", "DOL1", stock.CategoryAnalgesic,
		1, 1, decimal.Zero, decimal.Zero, nil)
	if err := s.CreateItem(ctx, other); err != nil {
		t.Fatalf("other pharmacy register failed: %v", err)
	}
}
