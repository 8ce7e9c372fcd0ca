package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/mutuellesante/go-officine/internal/cache"
	"github.com/mutuellesante/go-officine/internal/domain/fulfillment"
	"github.com/mutuellesante/go-officine/internal/domain/prescription"
	"github.com/mutuellesante/go-officine/internal/export"
	"github.com/mutuellesante/go-officine/internal/store"
)

// maxTransitionRetries bounds the reload-and-reapply loop on a concurrent
// state change. The retry usually lands on the idempotent no-op path, so one
// retry is the common case and three is generous.
const maxTransitionRetries = 3

const dashboardCacheTTL = 30 * time.Second

// FulfillmentService drives the record state machine.
type FulfillmentService struct {
	store         store.FulfillmentStore
	prescriptions prescription.Directory
	stockPolicy   StockPolicy
	authorize     Authorizer
	cache         cache.Cache
	logger        *zap.Logger
}

// NewFulfillmentService wires the service. A nil authorize defaults to
// AllowAll; a nil cache defaults to cache.Noop.
func NewFulfillmentService(
	st store.FulfillmentStore,
	directory prescription.Directory,
	policy StockPolicy,
	authorize Authorizer,
	c cache.Cache,
	logger *zap.Logger,
) *FulfillmentService {
	if authorize == nil {
		authorize = AllowAll
	}
	if c == nil {
		c = cache.Noop{}
	}
	if policy == nil {
		policy = DetachedStockPolicy{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &FulfillmentService{
		store:         st,
		prescriptions: directory,
		stockPolicy:   policy,
		authorize:     authorize,
		cache:         c,
		logger:        logger,
	}
}

// TransitionResult reports a state-machine operation back to the caller,
// including the audit entry the operation produced. Applied is false on the
// idempotent no-op path, where no entry is written.
type TransitionResult struct {
	Record  *fulfillment.Record       `json:"record"`
	Entry   *fulfillment.HistoryEntry `json:"entry,omitempty"`
	Applied bool                      `json:"applied"`
	Message string                    `json:"message"`
}

type transitionFunc func(rec *fulfillment.Record) (*fulfillment.Outcome, error)

// reserveFunc runs between computing a transition and persisting it. The
// returned release undoes its side effect when the persist fails.
type reserveFunc func(ctx context.Context, rec *fulfillment.Record) (release func(), err error)

// transition loads (or lazily creates) the record for a prescription, applies
// the domain operation and persists record plus audit entry atomically. On a
// concurrent state change the store reports ErrStaleState and the loop
// reloads and reapplies, so the losing caller observes the state the winner
// produced, usually as a no-op.
func (s *FulfillmentService) transition(
	ctx context.Context,
	actor Actor,
	capability Capability,
	prescriptionID string,
	createIfAbsent bool,
	apply transitionFunc,
	reserve reserveFunc,
) (*TransitionResult, error) {
	if !s.authorize(actor, capability) {
		return nil, ErrForbidden
	}

	var lastErr error
	for attempt := 0; attempt < maxTransitionRetries; attempt++ {
		rec, err := s.store.GetRecordByPrescription(ctx, prescriptionID)
		created := false
		switch {
		case errors.Is(err, store.ErrNotFound):
			if !createIfAbsent {
				return nil, err
			}
			p, perr := s.prescriptions.Get(ctx, prescriptionID)
			if perr != nil {
				return nil, fmt.Errorf("resolve prescription %s: %w", prescriptionID, perr)
			}
			rec = fulfillment.NewRecord(p.ID, actor.PharmacyID, p.Medications)
			rec.DosageInstructions = p.DosageText
			rec.TreatmentDays = p.TreatmentDays
			created = true
		case err != nil:
			return nil, err
		}

		expected := rec.State
		out, err := apply(rec)
		if err != nil {
			return nil, err
		}
		if !out.Applied {
			return &TransitionResult{Record: rec, Applied: false, Message: out.Message}, nil
		}

		var release func()
		if reserve != nil {
			release, err = reserve(ctx, rec)
			if err != nil {
				return nil, err
			}
		}

		if created {
			err = s.store.CreateRecord(ctx, rec, out.Entry)
		} else {
			err = s.store.UpdateRecord(ctx, rec, expected, out.Entry)
		}
		if err != nil {
			if release != nil {
				release()
			}
			if errors.Is(err, store.ErrStaleState) {
				lastErr = err
				continue
			}
			return nil, err
		}

		s.invalidateDashboard(ctx, rec.PharmacyID)
		s.logger.Info("fulfillment transition applied",
			zap.String("record_id", rec.ID),
			zap.String("prescription_id", rec.PrescriptionID),
			zap.String("state", string(rec.State)),
			zap.String("pharmacist_id", actor.ID))
		return &TransitionResult{Record: rec, Entry: out.Entry, Applied: true, Message: out.Message}, nil
	}
	return nil, lastErr
}

// Validate accepts a prescription for fulfillment. The record is created on
// first contact, so validation yields exactly one history entry.
func (s *FulfillmentService) Validate(ctx context.Context, actor Actor, prescriptionID, notes string) (*TransitionResult, error) {
	return s.transition(ctx, actor, CapabilityValidate, prescriptionID, true,
		func(rec *fulfillment.Record) (*fulfillment.Outcome, error) {
			return rec.Validate(actor.ID, notes)
		}, nil)
}

// Refuse terminally rejects a prescription with a mandatory reason.
func (s *FulfillmentService) Refuse(ctx context.Context, actor Actor, prescriptionID, reason string) (*TransitionResult, error) {
	return s.transition(ctx, actor, CapabilityValidate, prescriptionID, true,
		func(rec *fulfillment.Record) (*fulfillment.Outcome, error) {
			return rec.Refuse(actor.ID, reason)
		}, nil)
}

// Prepare marks a validated record as prepared for pick-up.
func (s *FulfillmentService) Prepare(ctx context.Context, actor Actor, prescriptionID string) (*TransitionResult, error) {
	return s.transition(ctx, actor, CapabilityPrepare, prescriptionID, false,
		func(rec *fulfillment.Record) (*fulfillment.Outcome, error) {
			return rec.Prepare(actor.ID)
		}, nil)
}

// DispenseInput carries the hand-over details.
type DispenseInput struct {
	Quantity          int
	UnitPrice         decimal.Decimal
	Observations      string
	ReimbursementRate *decimal.Decimal
}

// Dispense hands the medication over. Under a ledger-backed stock policy the
// matching stock item is decremented first and the dispensation fails when
// the quantity on hand is insufficient.
func (s *FulfillmentService) Dispense(ctx context.Context, actor Actor, prescriptionID string, in DispenseInput) (*TransitionResult, error) {
	return s.transition(ctx, actor, CapabilityDispense, prescriptionID, false,
		func(rec *fulfillment.Record) (*fulfillment.Outcome, error) {
			if in.ReimbursementRate != nil {
				rec.ReimbursementRate = *in.ReimbursementRate
			}
			return rec.Dispense(actor.ID, in.Quantity, in.UnitPrice, in.Observations)
		},
		func(ctx context.Context, rec *fulfillment.Record) (func(), error) {
			return s.stockPolicy.Reserve(ctx, rec.PharmacyID, rec.DispensedDrug, rec.QuantityDispensed)
		})
}

// Cancel terminally aborts a record from any non-terminal state.
func (s *FulfillmentService) Cancel(ctx context.Context, actor Actor, prescriptionID, reason string) (*TransitionResult, error) {
	return s.transition(ctx, actor, CapabilityCancel, prescriptionID, false,
		func(rec *fulfillment.Record) (*fulfillment.Outcome, error) {
			return rec.Cancel(actor.ID, reason)
		}, nil)
}

// PendingItem is one entry of the pending queue: an issued prescription that
// no record has moved past PENDING yet.
type PendingItem struct {
	Prescription *prescription.Prescription `json:"prescription"`
	RecordState  fulfillment.State          `json:"record_state,omitempty"`
}

// ListPending derives the queue of prescriptions awaiting action: issued
// prescriptions with no record at all, or whose record is still PENDING.
// Nothing is stored; the queue is recomputed from the two sources on every
// call.
func (s *FulfillmentService) ListPending(ctx context.Context, actor Actor) ([]*PendingItem, error) {
	if !s.authorize(actor, CapabilityValidate) {
		return nil, ErrForbidden
	}
	issued, err := s.prescriptions.ListIssued(ctx)
	if err != nil {
		return nil, fmt.Errorf("list issued prescriptions: %w", err)
	}
	states, err := s.store.RecordStateByPrescription(ctx)
	if err != nil {
		return nil, err
	}

	var pending []*PendingItem
	for _, p := range issued {
		state, seen := states[p.ID]
		if seen && state != fulfillment.StatePending {
			continue
		}
		pending = append(pending, &PendingItem{Prescription: p, RecordState: state})
	}
	return pending, nil
}

// RecordDetail bundles a record with its own audit trail, newest first.
type RecordDetail struct {
	Record  *fulfillment.Record         `json:"record"`
	History []*fulfillment.HistoryEntry `json:"history"`
}

// Detail resolves a record by id together with its history. Each consultation
// leaves its own audit line; a write that loses against a concurrent
// transition is skipped rather than failing the read.
func (s *FulfillmentService) Detail(ctx context.Context, actor Actor, recordID string) (*RecordDetail, error) {
	if !s.authorize(actor, CapabilityViewHistory) {
		return nil, ErrForbidden
	}
	rec, err := s.store.GetRecord(ctx, recordID)
	if err != nil {
		return nil, err
	}
	if err := s.store.UpdateRecord(ctx, rec, rec.State, rec.Consult(actor.ID)); err != nil {
		s.logger.Warn("consultation audit write skipped",
			zap.String("record_id", recordID),
			zap.Error(err))
	}
	entries, _, err := s.store.ListHistory(ctx, fulfillment.HistoryFilter{
		RecordID: recordID,
		PageSize: 200,
	})
	if err != nil {
		return nil, err
	}
	return &RecordDetail{Record: rec, History: entries}, nil
}

// ListRecords returns the actor's pharmacy records, newest received first.
func (s *FulfillmentService) ListRecords(ctx context.Context, actor Actor) ([]*fulfillment.Record, error) {
	if !s.authorize(actor, CapabilityViewHistory) {
		return nil, ErrForbidden
	}
	return s.store.ListRecords(ctx, actor.PharmacyID)
}

// HistoryPage is one page of the audit trail with its activity counters.
type HistoryPage struct {
	Entries  []*fulfillment.HistoryEntry `json:"entries"`
	Total    int                         `json:"total"`
	Page     int                         `json:"page"`
	PageSize int                         `json:"page_size"`
	Summary  fulfillment.HistorySummary  `json:"summary"`
}

// History returns one page of audit entries matching the filter, together
// with the pharmacist-scoped counters (all time, current month, last seven
// days). The counters follow the filter's pharmacist, not its time bounds.
func (s *FulfillmentService) History(ctx context.Context, actor Actor, filter fulfillment.HistoryFilter) (*HistoryPage, error) {
	if !s.authorize(actor, CapabilityViewHistory) {
		return nil, ErrForbidden
	}
	filter = filter.Normalize()
	entries, total, err := s.store.ListHistory(ctx, filter)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	monthStart := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
	allTime, err := s.store.CountHistorySince(ctx, filter.PharmacistID, time.Time{})
	if err != nil {
		return nil, err
	}
	thisMonth, err := s.store.CountHistorySince(ctx, filter.PharmacistID, monthStart)
	if err != nil {
		return nil, err
	}
	lastWeek, err := s.store.CountHistorySince(ctx, filter.PharmacistID, now.AddDate(0, 0, -7))
	if err != nil {
		return nil, err
	}

	return &HistoryPage{
		Entries:  entries,
		Total:    total,
		Page:     filter.Page,
		PageSize: filter.PageSize,
		Summary: fulfillment.HistorySummary{
			Total:         allTime,
			CurrentMonth:  thisMonth,
			LastSevenDays: lastWeek,
		},
	}, nil
}

// HistoryForExport builds the export rows: every record of the actor's
// pharmacy, joined with the patient and prescriber names from its
// prescription. A prescription the directory no longer resolves leaves the
// names empty rather than failing the export.
func (s *FulfillmentService) HistoryForExport(ctx context.Context, actor Actor) ([]*export.HistoryRow, error) {
	if !s.authorize(actor, CapabilityExport) {
		return nil, ErrForbidden
	}
	records, err := s.store.ListRecords(ctx, actor.PharmacyID)
	if err != nil {
		return nil, err
	}

	rows := make([]*export.HistoryRow, 0, len(records))
	for _, rec := range records {
		row := &export.HistoryRow{
			RecordID:      rec.ID,
			DispensedDrug: rec.DispensedDrug,
			ValidatedAt:   rec.ValidatedAt,
			State:         rec.State,
		}
		p, err := s.prescriptions.Get(ctx, rec.PrescriptionID)
		switch {
		case err == nil:
			row.PatientName = p.PatientName
			row.PrescriberName = p.PrescriberName
		case errors.Is(err, prescription.ErrNotFound):
			s.logger.Warn("export: prescription no longer resolves",
				zap.String("prescription_id", rec.PrescriptionID))
		default:
			return nil, fmt.Errorf("resolve prescription %s: %w", rec.PrescriptionID, err)
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// DashboardStats summarizes a pharmacy's workload and today's activity.
type DashboardStats struct {
	Pending        int             `json:"pending"`
	Validated      int             `json:"validated"`
	Prepared       int             `json:"prepared"`
	Dispensed      int             `json:"dispensed"`
	Refused        int             `json:"refused"`
	Cancelled      int             `json:"cancelled"`
	DispensedToday int             `json:"dispensed_today"`
	RevenueToday   decimal.Decimal `json:"revenue_today"`
}

// Dashboard computes the pharmacy's counters, cached for a short interval.
func (s *FulfillmentService) Dashboard(ctx context.Context, actor Actor) (*DashboardStats, error) {
	if !s.authorize(actor, CapabilityViewHistory) {
		return nil, ErrForbidden
	}

	key := dashboardKey(actor.PharmacyID)
	var cached DashboardStats
	if hit, err := s.cache.Get(ctx, key, &cached); err != nil {
		s.logger.Warn("dashboard cache read failed", zap.Error(err))
	} else if hit {
		return &cached, nil
	}

	records, err := s.store.ListRecords(ctx, actor.PharmacyID)
	if err != nil {
		return nil, err
	}

	stats := DashboardStats{RevenueToday: decimal.Zero}
	today := time.Now().UTC().Truncate(24 * time.Hour)
	for _, rec := range records {
		switch rec.State {
		case fulfillment.StatePending:
			stats.Pending++
		case fulfillment.StateValidated:
			stats.Validated++
		case fulfillment.StatePrepared:
			stats.Prepared++
		case fulfillment.StateDispensed:
			stats.Dispensed++
			if rec.DispensedAt != nil && !rec.DispensedAt.Before(today) {
				stats.DispensedToday++
				stats.RevenueToday = stats.RevenueToday.Add(rec.TotalCost)
			}
		case fulfillment.StateRefused:
			stats.Refused++
		case fulfillment.StateCancelled:
			stats.Cancelled++
		}
	}

	if err := s.cache.Set(ctx, key, &stats, dashboardCacheTTL); err != nil {
		s.logger.Warn("dashboard cache write failed", zap.Error(err))
	}
	return &stats, nil
}

func (s *FulfillmentService) invalidateDashboard(ctx context.Context, pharmacyID string) {
	if err := s.cache.Delete(ctx, dashboardKey(pharmacyID)); err != nil {
		s.logger.Warn("dashboard cache invalidation failed", zap.Error(err))
	}
}

func dashboardKey(pharmacyID string) string {
	return "dashboard:" + pharmacyID
}
