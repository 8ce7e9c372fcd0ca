package fulfillment

import (
	"time"

	"github.com/google/uuid"
)

// ActionType classifies an audit-trail entry.
type ActionType string

const (
	ActionValidation   ActionType = "VALIDATION"
	ActionPreparation  ActionType = "PREPARATION"
	ActionDispensation ActionType = "DISPENSATION"
	ActionCancellation ActionType = "CANCELLATION"
	ActionModification ActionType = "MODIFICATION"
	ActionConsultation ActionType = "CONSULTATION"
)

// HistoryEntry is one immutable audit line. Entries are created exclusively
// as a side effect of record mutation and are never updated or deleted.
type HistoryEntry struct {
	ID            string     `json:"id"`
	RecordID      string     `json:"record_id"`
	PharmacistID  string     `json:"pharmacist_id"`
	Action        ActionType `json:"action"`
	Detail        string     `json:"detail"`
	PreviousState State      `json:"previous_state"`
	NewState      State      `json:"new_state"`
	OccurredAt    time.Time  `json:"occurred_at"`
}

func newHistoryEntry(recordID, pharmacistID string, action ActionType, detail string, prev, next State) *HistoryEntry {
	return &HistoryEntry{
		ID:            uuid.New().String(),
		RecordID:      recordID,
		PharmacistID:  pharmacistID,
		Action:        action,
		Detail:        detail,
		PreviousState: prev,
		NewState:      next,
		OccurredAt:    time.Now().UTC(),
	}
}

// HistoryFilter narrows a history listing. A zero From/To leaves that bound
// open. Page is 1-based; PageSize defaults to DefaultHistoryPageSize.
type HistoryFilter struct {
	RecordID     string
	PharmacistID string
	From         time.Time
	To           time.Time
	Page         int
	PageSize     int
}

// DefaultHistoryPageSize is the page size used when the filter does not set one.
const DefaultHistoryPageSize = 20

// Normalize fills in paging defaults.
func (f HistoryFilter) Normalize() HistoryFilter {
	if f.Page < 1 {
		f.Page = 1
	}
	if f.PageSize < 1 {
		f.PageSize = DefaultHistoryPageSize
	}
	return f
}

// HistorySummary holds the counters shown next to a history listing.
type HistorySummary struct {
	Total         int `json:"total"`
	CurrentMonth  int `json:"current_month"`
	LastSevenDays int `json:"last_seven_days"`
}
