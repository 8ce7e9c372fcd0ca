package fulfillment

import "github.com/shopspring/decimal"

// Financials holds the derived monetary values of a dispensation. The total
// is always recomputed from unit price and quantity, never taken from the
// caller.
type Financials struct {
	Total        decimal.Decimal `json:"total"`
	Reimbursed   decimal.Decimal `json:"reimbursed"`
	PatientShare decimal.Decimal `json:"patient_share"`
}

// ComputeFinancials derives total cost, reimbursed amount and the remainder
// owed by the patient. Amounts are rounded to 2 decimal places, half up.
func ComputeFinancials(unitPrice decimal.Decimal, quantity int, reimbursementRate decimal.Decimal) Financials {
	total := unitPrice.Mul(decimal.NewFromInt(int64(quantity))).Round(2)
	reimbursed := total.Mul(reimbursementRate).Round(2)
	return Financials{
		Total:        total,
		Reimbursed:   reimbursed,
		PatientShare: total.Sub(reimbursed),
	}
}
