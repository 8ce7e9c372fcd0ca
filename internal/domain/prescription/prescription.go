// Package prescription defines the read-only view of doctor-issued
// prescriptions consumed by the fulfillment engine. Records are produced by
// the external doctor module and are never mutated here.
package prescription

import (
	"context"
	"time"
)

// Prescription is an immutable-once-issued medication order.
type Prescription struct {
	ID             string    `json:"id"`
	PatientID      string    `json:"patient_id"`
	PatientName    string    `json:"patient_name"`
	PrescriberID   string    `json:"prescriber_id"`
	PrescriberName string    `json:"prescriber_name"`
	Medications    string    `json:"medications"`
	DosageText     string    `json:"dosage_text"`
	TreatmentDays  int       `json:"treatment_days"`
	IssuedAt       time.Time `json:"issued_at"`
}

// Directory is the narrow contract against the doctor module. Implementations
// must be safe for concurrent use.
type Directory interface {
	// Get resolves one prescription by id.
	Get(ctx context.Context, id string) (*Prescription, error)
	// ListIssued returns all issued prescriptions, newest first.
	ListIssued(ctx context.Context) ([]*Prescription, error)
}
