package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/mutuellesante/go-officine/internal/domain/fulfillment"
	"github.com/mutuellesante/go-officine/internal/domain/prescription"
	"github.com/mutuellesante/go-officine/internal/domain/stock"
	"github.com/mutuellesante/go-officine/internal/store"
	"github.com/mutuellesante/go-officine/internal/store/memory"
)

var testActor = Actor{ID: "pharmacist-1", Name: "A. Diallo", PharmacyID: "ph-1"}

func newTestService(t *testing.T) (*FulfillmentService, *memory.Store, *prescription.MemoryDirectory) {
	t.Helper()
	mem := memory.New()
	dir := prescription.NewMemoryDirectory()
	svc := NewFulfillmentService(mem, dir, DetachedStockPolicy{}, nil, nil, zap.NewNop())
	return svc, mem, dir
}

func addPrescription(dir *prescription.MemoryDirectory, id string, issuedAt time.Time) {
	dir.Add(&prescription.Prescription{
		ID:             id,
		PatientID:      "pat-" + id,
		PatientName:    "Patient " + id,
		PrescriberName: "Dr. Keita",
		Medications:    "Amoxicilline 500mg",
		DosageText:     "1 matin, 1 soir",
		TreatmentDays:  7,
		IssuedAt:       issuedAt,
	})
}

func recordHistory(t *testing.T, mem *memory.Store, recordID string) []*fulfillment.HistoryEntry {
	t.Helper()
	entries, _, err := mem.ListHistory(context.Background(), fulfillment.HistoryFilter{RecordID: recordID, PageSize: 100})
	if err != nil {
		t.Fatal(err)
	}
	return entries
}

func TestValidateCreatesRecordWithSingleHistoryEntry(t *testing.T) {
	ctx := context.Background()
	svc, mem, dir := newTestService(t)
	addPrescription(dir, "rx-1", time.Now())

	result, err := svc.Validate(ctx, testActor, "rx-1", "ok")
	if err != nil {
		t.Fatalf("validate failed: %v", err)
	}
	if !result.Applied {
		t.Fatal("expected transition to apply")
	}
	if result.Record.State != fulfillment.StateValidated {
		t.Errorf("state = %s", result.Record.State)
	}
	if result.Entry == nil {
		t.Fatal("applied transition must return its audit entry")
	}

	entries := recordHistory(t, mem, result.Record.ID)
	if len(entries) != 1 {
		t.Fatalf("history = %d entries, want exactly 1", len(entries))
	}
	if entries[0].Action != fulfillment.ActionValidation {
		t.Errorf("action = %s", entries[0].Action)
	}
}

func TestValidateTwiceLeavesSingleEntry(t *testing.T) {
	ctx := context.Background()
	svc, mem, dir := newTestService(t)
	addPrescription(dir, "rx-1", time.Now())

	first, err := svc.Validate(ctx, testActor, "rx-1", "")
	if err != nil {
		t.Fatal(err)
	}
	second, err := svc.Validate(ctx, testActor, "rx-1", "")
	if err != nil {
		t.Fatalf("repeat validate errored: %v", err)
	}
	if second.Applied {
		t.Error("repeat validate should be a no-op")
	}
	if second.Entry != nil {
		t.Error("no-op must not return an audit entry")
	}

	entries := recordHistory(t, mem, first.Record.ID)
	if len(entries) != 1 {
		t.Errorf("history = %d entries, want 1", len(entries))
	}
}

func TestConcurrentValidate(t *testing.T) {
	ctx := context.Background()
	svc, mem, dir := newTestService(t)
	addPrescription(dir, "rx-1", time.Now())

	const workers = 10
	results := make([]*TransitionResult, workers)
	errs := make([]error, workers)

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = svc.Validate(ctx, testActor, "rx-1", "")
		}(i)
	}
	wg.Wait()

	applied := 0
	for i := 0; i < workers; i++ {
		if errs[i] != nil {
			t.Errorf("worker %d: %v", i, errs[i])
			continue
		}
		if results[i].Applied {
			applied++
		}
	}
	if applied != 1 {
		t.Errorf("applied = %d, exactly one validation must win", applied)
	}

	rec, err := mem.GetRecordByPrescription(ctx, "rx-1")
	if err != nil {
		t.Fatal(err)
	}
	if rec.State != fulfillment.StateValidated {
		t.Errorf("state = %s", rec.State)
	}
	if entries := recordHistory(t, mem, rec.ID); len(entries) != 1 {
		t.Errorf("history = %d entries, want 1", len(entries))
	}
}

func TestRefuseRequiresReason(t *testing.T) {
	ctx := context.Background()
	svc, mem, dir := newTestService(t)
	addPrescription(dir, "rx-1", time.Now())

	_, err := svc.Refuse(ctx, testActor, "rx-1", "")
	var validation *fulfillment.ValidationError
	if !errors.As(err, &validation) {
		t.Fatalf("err = %v, want ValidationError", err)
	}

	// Nothing persisted.
	if _, err := mem.GetRecordByPrescription(ctx, "rx-1"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("err = %v, record must not exist", err)
	}
}

func TestRefuseUnknownPrescription(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := newTestService(t)

	_, err := svc.Refuse(ctx, testActor, "rx-missing", "illegible")
	if !errors.Is(err, prescription.ErrNotFound) {
		t.Fatalf("err = %v, want prescription.ErrNotFound", err)
	}
}

func TestListPendingDerived(t *testing.T) {
	ctx := context.Background()
	svc, _, dir := newTestService(t)
	now := time.Now()
	addPrescription(dir, "rx-new", now)
	addPrescription(dir, "rx-validated", now.Add(-time.Hour))
	addPrescription(dir, "rx-refused", now.Add(-2*time.Hour))

	if _, err := svc.Validate(ctx, testActor, "rx-validated", ""); err != nil {
		t.Fatal(err)
	}
	if _, err := svc.Refuse(ctx, testActor, "rx-refused", "expired"); err != nil {
		t.Fatal(err)
	}

	pending, err := svc.ListPending(ctx, testActor)
	if err != nil {
		t.Fatal(err)
	}
	if len(pending) != 1 {
		t.Fatalf("pending = %d, want 1", len(pending))
	}
	if pending[0].Prescription.ID != "rx-new" {
		t.Errorf("pending = %s", pending[0].Prescription.ID)
	}
}

func TestFullLifecycle(t *testing.T) {
	ctx := context.Background()
	svc, mem, dir := newTestService(t)
	addPrescription(dir, "rx-1", time.Now())

	if _, err := svc.Validate(ctx, testActor, "rx-1", "checked"); err != nil {
		t.Fatal(err)
	}
	if _, err := svc.Prepare(ctx, testActor, "rx-1"); err != nil {
		t.Fatal(err)
	}

	rate := decimal.RequireFromString("0.80")
	result, err := svc.Dispense(ctx, testActor, "rx-1", DispenseInput{
		Quantity:          2,
		UnitPrice:         decimal.RequireFromString("150.00"),
		ReimbursementRate: &rate,
	})
	if err != nil {
		t.Fatal(err)
	}

	rec := result.Record
	if rec.State != fulfillment.StateDispensed {
		t.Errorf("state = %s", rec.State)
	}
	if !rec.TotalCost.Equal(decimal.RequireFromString("300.00")) {
		t.Errorf("total = %s, want 300.00", rec.TotalCost)
	}
	if !rec.ReimbursedAmount.Equal(decimal.RequireFromString("240.00")) {
		t.Errorf("reimbursed = %s, want 240.00", rec.ReimbursedAmount)
	}

	entries := recordHistory(t, mem, rec.ID)
	if len(entries) != 3 {
		t.Fatalf("history = %d entries, want 3", len(entries))
	}
	// Newest first.
	wantActions := []fulfillment.ActionType{
		fulfillment.ActionDispensation,
		fulfillment.ActionPreparation,
		fulfillment.ActionValidation,
	}
	for i, want := range wantActions {
		if entries[i].Action != want {
			t.Errorf("entry %d action = %s, want %s", i, entries[i].Action, want)
		}
	}
}

func TestDispenseBlockedByLedgerPolicy(t *testing.T) {
	ctx := context.Background()
	mem := memory.New()
	dir := prescription.NewMemoryDirectory()
	svc := NewFulfillmentService(mem, dir, NewLedgerStockPolicy(mem, zap.NewNop()), nil, nil, zap.NewNop())
	addPrescription(dir, "rx-1", time.Now())

	item := stock.NewItem("ph-1", "Amoxicilline 500mg", "AMX500", stock.CategoryAntibiotic,
		1, 1, decimal.Zero, decimal.RequireFromString("150.00"), nil)
	if err := mem.CreateItem(ctx, item); err != nil {
		t.Fatal(err)
	}

	if _, err := svc.Validate(ctx, testActor, "rx-1", ""); err != nil {
		t.Fatal(err)
	}

	_, err := svc.Dispense(ctx, testActor, "rx-1", DispenseInput{
		Quantity:  2,
		UnitPrice: decimal.RequireFromString("150.00"),
	})
	var insufficient *stock.InsufficientStockError
	if !errors.As(err, &insufficient) {
		t.Fatalf("err = %v, want InsufficientStockError", err)
	}

	// The record stays dispensable and the ledger untouched.
	rec, err := mem.GetRecordByPrescription(ctx, "rx-1")
	if err != nil {
		t.Fatal(err)
	}
	if rec.State != fulfillment.StateValidated {
		t.Errorf("state = %s, want VALIDATED", rec.State)
	}
	if entries := recordHistory(t, mem, rec.ID); len(entries) != 1 {
		t.Errorf("history = %d entries, blocked dispense must not log", len(entries))
	}
	got, _ := mem.GetItem(ctx, item.ID)
	if got.Quantity != 1 {
		t.Errorf("quantity = %d, want 1", got.Quantity)
	}
}

func TestDispenseDecrementsLedger(t *testing.T) {
	ctx := context.Background()
	mem := memory.New()
	dir := prescription.NewMemoryDirectory()
	svc := NewFulfillmentService(mem, dir, NewLedgerStockPolicy(mem, zap.NewNop()), nil, nil, zap.NewNop())
	addPrescription(dir, "rx-1", time.Now())

	item := stock.NewItem("ph-1", "Amoxicilline 500mg", "AMX500", stock.CategoryAntibiotic,
		10, 2, decimal.Zero, decimal.RequireFromString("150.00"), nil)
	if err := mem.CreateItem(ctx, item); err != nil {
		t.Fatal(err)
	}

	if _, err := svc.Validate(ctx, testActor, "rx-1", ""); err != nil {
		t.Fatal(err)
	}
	if _, err := svc.Dispense(ctx, testActor, "rx-1", DispenseInput{
		Quantity:  2,
		UnitPrice: decimal.RequireFromString("150.00"),
	}); err != nil {
		t.Fatal(err)
	}

	got, _ := mem.GetItem(ctx, item.ID)
	if got.Quantity != 8 {
		t.Errorf("quantity = %d, want 8", got.Quantity)
	}
}

func TestDispenseWithoutMatchingStockItem(t *testing.T) {
	ctx := context.Background()
	mem := memory.New()
	dir := prescription.NewMemoryDirectory()
	svc := NewFulfillmentService(mem, dir, NewLedgerStockPolicy(mem, zap.NewNop()), nil, nil, zap.NewNop())
	addPrescription(dir, "rx-1", time.Now())

	if _, err := svc.Validate(ctx, testActor, "rx-1", ""); err != nil {
		t.Fatal(err)
	}
	result, err := svc.Dispense(ctx, testActor, "rx-1", DispenseInput{
		Quantity:  1,
		UnitPrice: decimal.RequireFromString("4.50"),
	})
	if err != nil {
		t.Fatalf("dispense without ledger item must proceed: %v", err)
	}
	if result.Record.State != fulfillment.StateDispensed {
		t.Errorf("state = %s", result.Record.State)
	}
}

func TestCancelUnknownRecord(t *testing.T) {
	ctx := context.Background()
	svc, _, dir := newTestService(t)
	addPrescription(dir, "rx-1", time.Now())

	// No record exists yet; cancel does not create one.
	_, err := svc.Cancel(ctx, testActor, "rx-1", "patient request")
	if !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestAuthorizerDeniesOperation(t *testing.T) {
	ctx := context.Background()
	mem := memory.New()
	dir := prescription.NewMemoryDirectory()
	deny := func(_ Actor, capability Capability) bool {
		return capability != CapabilityDispense
	}
	svc := NewFulfillmentService(mem, dir, DetachedStockPolicy{}, deny, nil, zap.NewNop())
	addPrescription(dir, "rx-1", time.Now())

	if _, err := svc.Validate(ctx, testActor, "rx-1", ""); err != nil {
		t.Fatal(err)
	}
	_, err := svc.Dispense(ctx, testActor, "rx-1", DispenseInput{
		Quantity:  1,
		UnitPrice: decimal.RequireFromString("4.50"),
	})
	if !errors.Is(err, ErrForbidden) {
		t.Fatalf("err = %v, want ErrForbidden", err)
	}
}

func TestHistoryPageAndSummary(t *testing.T) {
	ctx := context.Background()
	svc, _, dir := newTestService(t)
	for _, id := range []string{"rx-1", "rx-2", "rx-3"} {
		addPrescription(dir, id, time.Now())
		if _, err := svc.Validate(ctx, testActor, id, ""); err != nil {
			t.Fatal(err)
		}
	}

	page, err := svc.History(ctx, testActor, fulfillment.HistoryFilter{PharmacistID: testActor.ID})
	if err != nil {
		t.Fatal(err)
	}
	if page.Total != 3 || len(page.Entries) != 3 {
		t.Errorf("total = %d, entries = %d, want 3/3", page.Total, len(page.Entries))
	}
	if page.Page != 1 || page.PageSize != fulfillment.DefaultHistoryPageSize {
		t.Errorf("page = %d size = %d", page.Page, page.PageSize)
	}
	if page.Summary.Total != 3 || page.Summary.CurrentMonth != 3 || page.Summary.LastSevenDays != 3 {
		t.Errorf("summary = %+v", page.Summary)
	}
}

func TestDetailLogsConsultation(t *testing.T) {
	ctx := context.Background()
	svc, mem, dir := newTestService(t)
	addPrescription(dir, "rx-1", time.Now())

	validated, err := svc.Validate(ctx, testActor, "rx-1", "")
	if err != nil {
		t.Fatal(err)
	}

	detail, err := svc.Detail(ctx, testActor, validated.Record.ID)
	if err != nil {
		t.Fatal(err)
	}
	if detail.Record.State != fulfillment.StateValidated {
		t.Errorf("state = %s, a consultation must not move the record", detail.Record.State)
	}

	entries := recordHistory(t, mem, validated.Record.ID)
	if len(entries) != 2 {
		t.Fatalf("history = %d entries, want validation + consultation", len(entries))
	}
	consultations := 0
	for _, e := range entries {
		if e.Action == fulfillment.ActionConsultation {
			consultations++
			if e.PreviousState != fulfillment.StateValidated || e.NewState != fulfillment.StateValidated {
				t.Errorf("consultation states = %s -> %s", e.PreviousState, e.NewState)
			}
		}
	}
	if consultations != 1 {
		t.Errorf("consultation entries = %d, want 1", consultations)
	}
}

func TestHistoryForExportJoinsPrescription(t *testing.T) {
	ctx := context.Background()
	svc, _, dir := newTestService(t)
	addPrescription(dir, "rx-1", time.Now())

	validated, err := svc.Validate(ctx, testActor, "rx-1", "")
	if err != nil {
		t.Fatal(err)
	}

	rows, err := svc.HistoryForExport(ctx, testActor)
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 1 {
		t.Fatalf("rows = %d, want 1", len(rows))
	}
	row := rows[0]
	if row.RecordID != validated.Record.ID {
		t.Errorf("record id = %s", row.RecordID)
	}
	if row.PatientName != "Patient rx-1" || row.PrescriberName != "Dr. Keita" {
		t.Errorf("names = %q / %q, must come from the prescription", row.PatientName, row.PrescriberName)
	}
	if row.DispensedDrug != "Amoxicilline 500mg" {
		t.Errorf("drug = %q", row.DispensedDrug)
	}
	if row.ValidatedAt == nil {
		t.Error("validated timestamp missing")
	}
	if row.State != fulfillment.StateValidated {
		t.Errorf("state = %s", row.State)
	}
}

func TestDashboardCounters(t *testing.T) {
	ctx := context.Background()
	svc, _, dir := newTestService(t)
	now := time.Now()
	for _, id := range []string{"rx-1", "rx-2", "rx-3"} {
		addPrescription(dir, id, now)
		if _, err := svc.Validate(ctx, testActor, id, ""); err != nil {
			t.Fatal(err)
		}
	}
	if _, err := svc.Dispense(ctx, testActor, "rx-1", DispenseInput{
		Quantity:  2,
		UnitPrice: decimal.RequireFromString("10.00"),
	}); err != nil {
		t.Fatal(err)
	}

	stats, err := svc.Dashboard(ctx, testActor)
	if err != nil {
		t.Fatal(err)
	}
	if stats.Validated != 2 || stats.Dispensed != 1 {
		t.Errorf("validated = %d dispensed = %d", stats.Validated, stats.Dispensed)
	}
	if stats.DispensedToday != 1 {
		t.Errorf("dispensed today = %d", stats.DispensedToday)
	}
	if !stats.RevenueToday.Equal(decimal.RequireFromString("20.00")) {
		t.Errorf("revenue today = %s", stats.RevenueToday)
	}
}
