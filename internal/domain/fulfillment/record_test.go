package fulfillment

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"
)

func TestValidateFromPending(t *testing.T) {
	rec := NewRecord("rx-1", "ph-1", "Amoxicilline 500mg")

	out, err := rec.Validate("pharmacist-1", "checked dosage")
	if err != nil {
		t.Fatalf("validate failed: %v", err)
	}
	if !out.Applied {
		t.Fatal("expected transition to apply")
	}
	if rec.State != StateValidated {
		t.Errorf("state = %s, want VALIDATED", rec.State)
	}
	if rec.ValidatedBy != "pharmacist-1" {
		t.Errorf("validated_by = %q", rec.ValidatedBy)
	}
	if rec.ValidatedAt == nil {
		t.Error("expected validated_at to be set")
	}
	if out.Entry == nil || out.Entry.Action != ActionValidation {
		t.Errorf("entry = %+v, want VALIDATION action", out.Entry)
	}
	if out.Entry.PreviousState != StatePending || out.Entry.NewState != StateValidated {
		t.Errorf("entry states = %s -> %s", out.Entry.PreviousState, out.Entry.NewState)
	}
}

func TestValidateTwiceIsNoop(t *testing.T) {
	rec := NewRecord("rx-1", "ph-1", "Doliprane")
	if _, err := rec.Validate("p1", ""); err != nil {
		t.Fatal(err)
	}
	first := *rec.ValidatedAt

	out, err := rec.Validate("p2", "")
	if err != nil {
		t.Fatalf("second validate errored: %v", err)
	}
	if out.Applied {
		t.Error("second validate should be a no-op")
	}
	if out.Entry != nil {
		t.Error("no-op must not produce a history entry")
	}
	if rec.ValidatedBy != "p1" || !rec.ValidatedAt.Equal(first) {
		t.Error("no-op must not touch the record")
	}
}

func TestValidateFromTerminalFails(t *testing.T) {
	rec := NewRecord("rx-1", "ph-1", "Doliprane")
	if _, err := rec.Refuse("p1", "illegible"); err != nil {
		t.Fatal(err)
	}

	_, err := rec.Validate("p1", "")
	var invalid *InvalidTransitionError
	if !errors.As(err, &invalid) {
		t.Fatalf("err = %v, want InvalidTransitionError", err)
	}
	if invalid.From != StateRefused || invalid.Operation != "validate" {
		t.Errorf("got %+v", invalid)
	}
}

func TestRefuseRequiresReason(t *testing.T) {
	rec := NewRecord("rx-1", "ph-1", "Doliprane")

	_, err := rec.Refuse("p1", "   ")
	var validation *ValidationError
	if !errors.As(err, &validation) {
		t.Fatalf("err = %v, want ValidationError", err)
	}
	if rec.State != StatePending {
		t.Errorf("state = %s, record must be untouched", rec.State)
	}
}

func TestRefuseTwiceIsNoop(t *testing.T) {
	rec := NewRecord("rx-1", "ph-1", "Doliprane")
	if _, err := rec.Refuse("p1", "out of stock"); err != nil {
		t.Fatal(err)
	}

	out, err := rec.Refuse("p1", "out of stock")
	if err != nil {
		t.Fatalf("second refuse errored: %v", err)
	}
	if out.Applied {
		t.Error("second refuse should be a no-op")
	}
}

func TestPrepareOnlyFromValidated(t *testing.T) {
	rec := NewRecord("rx-1", "ph-1", "Doliprane")

	if _, err := rec.Prepare("p1"); err == nil {
		t.Fatal("prepare from PENDING should fail")
	}

	if _, err := rec.Validate("p1", ""); err != nil {
		t.Fatal(err)
	}
	out, err := rec.Prepare("p1")
	if err != nil {
		t.Fatalf("prepare failed: %v", err)
	}
	if !out.Applied || rec.State != StatePrepared || rec.PreparedAt == nil {
		t.Errorf("state = %s, prepared_at = %v", rec.State, rec.PreparedAt)
	}
	if out.Entry.Action != ActionPreparation {
		t.Errorf("action = %s", out.Entry.Action)
	}
}

func TestDispenseComputesFinancials(t *testing.T) {
	rec := NewRecord("rx-1", "ph-1", "Amoxicilline 500mg")
	if _, err := rec.Validate("p1", ""); err != nil {
		t.Fatal(err)
	}

	rec.ReimbursementRate = decimal.RequireFromString("0.80")
	out, err := rec.Dispense("p1", 2, decimal.RequireFromString("150.00"), "no substitution")
	if err != nil {
		t.Fatalf("dispense failed: %v", err)
	}
	if !out.Applied || rec.State != StateDispensed {
		t.Fatalf("state = %s", rec.State)
	}
	if !rec.TotalCost.Equal(decimal.RequireFromString("300.00")) {
		t.Errorf("total = %s, want 300.00", rec.TotalCost)
	}
	if !rec.ReimbursedAmount.Equal(decimal.RequireFromString("240.00")) {
		t.Errorf("reimbursed = %s, want 240.00", rec.ReimbursedAmount)
	}
	if rec.DispensedAt == nil {
		t.Error("expected dispensed_at to be set")
	}
	if out.Entry.Action != ActionDispensation {
		t.Errorf("action = %s", out.Entry.Action)
	}
}

func TestDispenseFromPreparedSucceeds(t *testing.T) {
	rec := NewRecord("rx-1", "ph-1", "Doliprane")
	rec.Validate("p1", "")
	rec.Prepare("p1")

	out, err := rec.Dispense("p1", 1, decimal.RequireFromString("4.50"), "")
	if err != nil {
		t.Fatalf("dispense failed: %v", err)
	}
	if !out.Applied || rec.State != StateDispensed {
		t.Errorf("state = %s", rec.State)
	}
}

func TestDispenseValidation(t *testing.T) {
	rec := NewRecord("rx-1", "ph-1", "Doliprane")
	rec.Validate("p1", "")

	if _, err := rec.Dispense("p1", 0, decimal.RequireFromString("4.50"), ""); err == nil {
		t.Error("zero quantity should fail")
	}
	if _, err := rec.Dispense("p1", 1, decimal.RequireFromString("-1"), ""); err == nil {
		t.Error("negative price should fail")
	}
	if rec.State != StateValidated {
		t.Errorf("state = %s, record must be untouched", rec.State)
	}
}

func TestCancelRequiresReasonAndNonTerminal(t *testing.T) {
	rec := NewRecord("rx-1", "ph-1", "Doliprane")

	if _, err := rec.Cancel("p1", ""); err == nil {
		t.Error("cancel without reason should fail")
	}

	out, err := rec.Cancel("p1", "patient request")
	if err != nil {
		t.Fatalf("cancel failed: %v", err)
	}
	if !out.Applied || rec.State != StateCancelled {
		t.Errorf("state = %s", rec.State)
	}
	if out.Entry.Action != ActionCancellation {
		t.Errorf("action = %s", out.Entry.Action)
	}

	if _, err := rec.Cancel("p1", "again"); err == nil {
		t.Error("cancel from terminal state should fail")
	}
}

func TestTerminalStates(t *testing.T) {
	for _, s := range []State{StateDispensed, StateRefused, StateCancelled} {
		if !s.Terminal() {
			t.Errorf("%s should be terminal", s)
		}
	}
	for _, s := range []State{StatePending, StateValidated, StatePrepared} {
		if s.Terminal() {
			t.Errorf("%s should not be terminal", s)
		}
	}
}
