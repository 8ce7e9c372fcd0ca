package fulfillment

import (
	"testing"

	"github.com/shopspring/decimal"
)

func TestComputeFinancials(t *testing.T) {
	f := ComputeFinancials(decimal.RequireFromString("100.00"), 3, decimal.RequireFromString("0.70"))

	if !f.Total.Equal(decimal.RequireFromString("300.00")) {
		t.Errorf("total = %s, want 300.00", f.Total)
	}
	if !f.Reimbursed.Equal(decimal.RequireFromString("210.00")) {
		t.Errorf("reimbursed = %s, want 210.00", f.Reimbursed)
	}
	if !f.PatientShare.Equal(decimal.RequireFromString("90.00")) {
		t.Errorf("patient share = %s, want 90.00", f.PatientShare)
	}
}

func TestComputeFinancialsRoundsHalfUp(t *testing.T) {
	// 16.67 * 3 = 50.01; 50.01 * 0.70 = 35.007 -> 35.01
	f := ComputeFinancials(decimal.RequireFromString("16.67"), 3, decimal.RequireFromString("0.70"))

	if !f.Total.Equal(decimal.RequireFromString("50.01")) {
		t.Errorf("total = %s, want 50.01", f.Total)
	}
	if !f.Reimbursed.Equal(decimal.RequireFromString("35.01")) {
		t.Errorf("reimbursed = %s, want 35.01", f.Reimbursed)
	}
	if !f.PatientShare.Equal(decimal.RequireFromString("15.00")) {
		t.Errorf("patient share = %s, want 15.00", f.PatientShare)
	}
}

func TestComputeFinancialsZeroQuantity(t *testing.T) {
	f := ComputeFinancials(decimal.RequireFromString("100.00"), 0, decimal.RequireFromString("0.70"))

	if !f.Total.IsZero() {
		t.Errorf("total = %s, want 0", f.Total)
	}
	if !f.Reimbursed.IsZero() {
		t.Errorf("reimbursed = %s, want 0", f.Reimbursed)
	}
}
