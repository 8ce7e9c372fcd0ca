// Package fulfillment implements the pharmacy-side handling of a prescription:
// the record state machine, its audit trail, and the derived financial values.
package fulfillment

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// State represents the lifecycle state of a fulfillment record.
type State string

const (
	StatePending   State = "PENDING"
	StateValidated State = "VALIDATED"
	StatePrepared  State = "PREPARED"
	StateDispensed State = "DISPENSED"
	StateRefused   State = "REFUSED"
	StateCancelled State = "CANCELLED"
)

// Terminal reports whether no further transition is possible.
func (s State) Terminal() bool {
	return s == StateDispensed || s == StateRefused || s == StateCancelled
}

// DefaultReimbursementRate is the member coverage fraction applied when the
// coverage voucher does not carry one.
var DefaultReimbursementRate = decimal.NewFromFloat(0.70)

// Record tracks one pharmacy's handling of one prescription. A prescription
// has at most one active record; cancellation and refusal are terminal states,
// never row removals.
type Record struct {
	ID                 string          `json:"id"`
	PrescriptionID     string          `json:"prescription_id"`
	PharmacyID         string          `json:"pharmacy_id"`
	VoucherID          string          `json:"voucher_id,omitempty"`
	DispensedDrug      string          `json:"dispensed_drug"`
	DosageInstructions string          `json:"dosage_instructions"`
	TreatmentDays      int             `json:"treatment_days"`
	QuantityDispensed  int             `json:"quantity_dispensed"`
	UnitPrice          decimal.Decimal `json:"unit_price"`
	TotalCost          decimal.Decimal `json:"total_cost"`
	ReimbursementRate  decimal.Decimal `json:"reimbursement_rate"`
	ReimbursedAmount   decimal.Decimal `json:"reimbursed_amount"`
	PharmacistNotes    string          `json:"pharmacist_notes,omitempty"`
	Observations       string          `json:"observations,omitempty"`
	State              State           `json:"state"`
	ValidatedBy        string          `json:"validated_by,omitempty"`
	ReceivedAt         time.Time       `json:"received_at"`
	ValidatedAt        *time.Time      `json:"validated_at,omitempty"`
	PreparedAt         *time.Time      `json:"prepared_at,omitempty"`
	DispensedAt        *time.Time      `json:"dispensed_at,omitempty"`
}

// NewRecord creates a record in the PENDING state for a prescription newly
// picked up by a pharmacy.
func NewRecord(prescriptionID, pharmacyID, dispensedDrug string) *Record {
	return &Record{
		ID:                uuid.New().String(),
		PrescriptionID:    prescriptionID,
		PharmacyID:        pharmacyID,
		DispensedDrug:     dispensedDrug,
		QuantityDispensed: 0,
		UnitPrice:         decimal.Zero,
		TotalCost:         decimal.Zero,
		ReimbursementRate: DefaultReimbursementRate,
		ReimbursedAmount:  decimal.Zero,
		State:             StatePending,
		ReceivedAt:        time.Now().UTC(),
	}
}

// Outcome reports the result of a state-machine operation. Applied is false
// on the idempotent no-op path; Entry is the audit line to persist alongside
// the record when Applied is true.
type Outcome struct {
	Applied bool
	Entry   *HistoryEntry
	Message string
}

func applied(entry *HistoryEntry, message string) (*Outcome, error) {
	return &Outcome{Applied: true, Entry: entry, Message: message}, nil
}

func noop(message string) (*Outcome, error) {
	return &Outcome{Applied: false, Message: message}, nil
}

// Validate moves a pending record to VALIDATED, recording the validator.
// Calling it on an already validated (or later) record is a no-op, to
// tolerate duplicate form submissions.
func (r *Record) Validate(pharmacistID, notes string) (*Outcome, error) {
	switch r.State {
	case StateValidated, StatePrepared, StateDispensed:
		return noop(fmt.Sprintf("record %s already validated", r.ID))
	case StateRefused, StateCancelled:
		return nil, &InvalidTransitionError{From: r.State, Operation: "validate"}
	}

	prev := r.State
	now := time.Now().UTC()
	r.State = StateValidated
	r.ValidatedAt = &now
	r.ValidatedBy = pharmacistID
	if notes != "" {
		r.PharmacistNotes = notes
	}

	entry := newHistoryEntry(r.ID, pharmacistID, ActionValidation,
		fmt.Sprintf("prescription %s validated", r.PrescriptionID), prev, r.State)
	return applied(entry, "record validated")
}

// Refuse terminally rejects a pending record. The reason is mandatory.
// Refusing an already refused record is a no-op.
func (r *Record) Refuse(pharmacistID, reason string) (*Outcome, error) {
	if strings.TrimSpace(reason) == "" {
		return nil, &ValidationError{Field: "reason", Reason: "a refusal reason is required"}
	}
	switch r.State {
	case StateRefused:
		return noop(fmt.Sprintf("record %s already refused", r.ID))
	case StatePending:
	default:
		return nil, &InvalidTransitionError{From: r.State, Operation: "refuse"}
	}

	prev := r.State
	now := time.Now().UTC()
	r.State = StateRefused
	r.ValidatedAt = &now
	r.ValidatedBy = pharmacistID
	r.PharmacistNotes = appendNote(r.PharmacistNotes, "refused: "+reason)

	entry := newHistoryEntry(r.ID, pharmacistID, ActionModification,
		"prescription refused: "+reason, prev, r.State)
	return applied(entry, "record refused")
}

// Prepare marks a validated record as prepared for pick-up.
func (r *Record) Prepare(pharmacistID string) (*Outcome, error) {
	if r.State != StateValidated {
		return nil, &InvalidTransitionError{From: r.State, Operation: "prepare"}
	}

	prev := r.State
	now := time.Now().UTC()
	r.State = StatePrepared
	r.PreparedAt = &now

	entry := newHistoryEntry(r.ID, pharmacistID, ActionPreparation,
		fmt.Sprintf("record %s prepared", r.ID), prev, r.State)
	return applied(entry, "record prepared")
}

// Dispense hands the medication over, records quantity and unit price, and
// recomputes the financial values. Terminal.
func (r *Record) Dispense(pharmacistID string, quantity int, unitPrice decimal.Decimal, observations string) (*Outcome, error) {
	if quantity <= 0 {
		return nil, &ValidationError{Field: "quantity", Reason: "must be greater than zero"}
	}
	if unitPrice.IsNegative() {
		return nil, &ValidationError{Field: "unit_price", Reason: "must not be negative"}
	}
	if r.State != StateValidated && r.State != StatePrepared {
		return nil, &InvalidTransitionError{From: r.State, Operation: "dispense"}
	}

	prev := r.State
	now := time.Now().UTC()
	r.State = StateDispensed
	r.DispensedAt = &now
	r.QuantityDispensed = quantity
	r.UnitPrice = unitPrice
	if observations != "" {
		r.Observations = observations
	}
	r.Recompute()

	entry := newHistoryEntry(r.ID, pharmacistID, ActionDispensation,
		fmt.Sprintf("dispensed %d x %s at %s", quantity, r.DispensedDrug, unitPrice.StringFixed(2)),
		prev, r.State)
	return applied(entry, "record dispensed")
}

// Cancel terminally aborts a record from any non-terminal state. The reason
// is mandatory and is appended to the pharmacist notes.
func (r *Record) Cancel(pharmacistID, reason string) (*Outcome, error) {
	if strings.TrimSpace(reason) == "" {
		return nil, &ValidationError{Field: "reason", Reason: "a cancellation reason is required"}
	}
	if r.State.Terminal() {
		return nil, &InvalidTransitionError{From: r.State, Operation: "cancel"}
	}

	prev := r.State
	r.State = StateCancelled
	r.PharmacistNotes = appendNote(r.PharmacistNotes, "cancelled: "+reason)

	entry := newHistoryEntry(r.ID, pharmacistID, ActionCancellation,
		"prescription cancelled: "+reason, prev, r.State)
	return applied(entry, "record cancelled")
}

// Consult records a read of the record's detail view in the audit trail.
// The state does not change.
func (r *Record) Consult(pharmacistID string) *HistoryEntry {
	return newHistoryEntry(r.ID, pharmacistID, ActionConsultation,
		fmt.Sprintf("record %s consulted", r.ID), r.State, r.State)
}

// Recompute refreshes the derived financial values from unit price, quantity
// and reimbursement rate. Called on every save path.
func (r *Record) Recompute() {
	f := ComputeFinancials(r.UnitPrice, r.QuantityDispensed, r.ReimbursementRate)
	r.TotalCost = f.Total
	r.ReimbursedAmount = f.Reimbursed
}

func appendNote(notes, line string) string {
	if notes == "" {
		return line
	}
	return notes + "\n" + line
}
