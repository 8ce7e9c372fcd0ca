// Package postgres implements the store contracts on PostgreSQL with pgx.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/mutuellesante/go-officine/internal/domain/fulfillment"
	infra "github.com/mutuellesante/go-officine/internal/infrastructure/postgres"
	"github.com/mutuellesante/go-officine/internal/store"
)

// FulfillmentStore persists fulfillment records, their history, and the
// paired audit outbox rows.
type FulfillmentStore struct {
	pool       *pgxpool.Pool
	logger     *zap.Logger
	auditTopic string
}

// NewFulfillmentStore creates a store. auditTopic is where committed history
// entries are relayed to; an empty topic disables the outbox write.
func NewFulfillmentStore(pool *pgxpool.Pool, auditTopic string, logger *zap.Logger) *FulfillmentStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &FulfillmentStore{pool: pool, logger: logger, auditTopic: auditTopic}
}

const recordColumns = `
	id, prescription_id, pharmacy_id, voucher_id, dispensed_drug,
	dosage_instructions, treatment_days, quantity_dispensed, unit_price,
	total_cost, reimbursement_rate, reimbursed_amount, pharmacist_notes,
	observations, state, validated_by, received_at, validated_at,
	prepared_at, dispensed_at`

func scanRecord(row pgx.Row) (*fulfillment.Record, error) {
	rec := &fulfillment.Record{}
	err := row.Scan(
		&rec.ID, &rec.PrescriptionID, &rec.PharmacyID, &rec.VoucherID,
		&rec.DispensedDrug, &rec.DosageInstructions, &rec.TreatmentDays,
		&rec.QuantityDispensed, &rec.UnitPrice, &rec.TotalCost,
		&rec.ReimbursementRate, &rec.ReimbursedAmount, &rec.PharmacistNotes,
		&rec.Observations, &rec.State, &rec.ValidatedBy, &rec.ReceivedAt,
		&rec.ValidatedAt, &rec.PreparedAt, &rec.DispensedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("scan record: %w", err)
	}
	return rec, nil
}

// CreateRecord implements store.FulfillmentStore.
func (s *FulfillmentStore) CreateRecord(ctx context.Context, rec *fulfillment.Record, entry *fulfillment.HistoryEntry) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	query := `
		INSERT INTO fulfillment_records (` + recordColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10,
		        $11, $12, $13, $14, $15, $16, $17, $18, $19, $20)
	`
	_, err = tx.Exec(ctx, query,
		rec.ID, rec.PrescriptionID, rec.PharmacyID, rec.VoucherID,
		rec.DispensedDrug, rec.DosageInstructions, rec.TreatmentDays,
		rec.QuantityDispensed, rec.UnitPrice, rec.TotalCost,
		rec.ReimbursementRate, rec.ReimbursedAmount, rec.PharmacistNotes,
		rec.Observations, rec.State, rec.ValidatedBy, rec.ReceivedAt,
		rec.ValidatedAt, rec.PreparedAt, rec.DispensedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			// Another pharmacist created the record for this prescription first.
			return store.ErrStaleState
		}
		return fmt.Errorf("insert record: %w", err)
	}

	if entry != nil {
		if err := s.insertHistory(ctx, tx, entry); err != nil {
			return err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// GetRecord implements store.FulfillmentStore.
func (s *FulfillmentStore) GetRecord(ctx context.Context, id string) (*fulfillment.Record, error) {
	query := `SELECT ` + recordColumns + ` FROM fulfillment_records WHERE id = $1`
	return scanRecord(s.pool.QueryRow(ctx, query, id))
}

// GetRecordByPrescription implements store.FulfillmentStore.
func (s *FulfillmentStore) GetRecordByPrescription(ctx context.Context, prescriptionID string) (*fulfillment.Record, error) {
	query := `SELECT ` + recordColumns + ` FROM fulfillment_records WHERE prescription_id = $1`
	return scanRecord(s.pool.QueryRow(ctx, query, prescriptionID))
}

// UpdateRecord implements store.FulfillmentStore. The UPDATE carries the
// expected state in its WHERE clause, so the losing side of a concurrent
// transition writes nothing and sees ErrStaleState.
func (s *FulfillmentStore) UpdateRecord(ctx context.Context, rec *fulfillment.Record, expected fulfillment.State, entry *fulfillment.HistoryEntry) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	query := `
		UPDATE fulfillment_records SET
			dispensed_drug = $3, dosage_instructions = $4, treatment_days = $5,
			quantity_dispensed = $6, unit_price = $7, total_cost = $8,
			reimbursement_rate = $9, reimbursed_amount = $10,
			pharmacist_notes = $11, observations = $12, state = $13,
			validated_by = $14, validated_at = $15, prepared_at = $16,
			dispensed_at = $17
		WHERE id = $1 AND state = $2
	`
	tag, err := tx.Exec(ctx, query,
		rec.ID, expected,
		rec.DispensedDrug, rec.DosageInstructions, rec.TreatmentDays,
		rec.QuantityDispensed, rec.UnitPrice, rec.TotalCost,
		rec.ReimbursementRate, rec.ReimbursedAmount,
		rec.PharmacistNotes, rec.Observations, rec.State,
		rec.ValidatedBy, rec.ValidatedAt, rec.PreparedAt, rec.DispensedAt,
	)
	if err != nil {
		return fmt.Errorf("update record: %w", err)
	}
	if tag.RowsAffected() == 0 {
		var exists bool
		if err := tx.QueryRow(ctx, "SELECT EXISTS(SELECT 1 FROM fulfillment_records WHERE id = $1)", rec.ID).Scan(&exists); err != nil {
			return fmt.Errorf("check record: %w", err)
		}
		if !exists {
			return store.ErrNotFound
		}
		return store.ErrStaleState
	}

	if entry != nil {
		if err := s.insertHistory(ctx, tx, entry); err != nil {
			return err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func (s *FulfillmentStore) insertHistory(ctx context.Context, tx pgx.Tx, entry *fulfillment.HistoryEntry) error {
	query := `
		INSERT INTO fulfillment_history
		(id, record_id, pharmacist_id, action, detail, previous_state, new_state, occurred_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	_, err := tx.Exec(ctx, query,
		entry.ID, entry.RecordID, entry.PharmacistID, entry.Action,
		entry.Detail, entry.PreviousState, entry.NewState, entry.OccurredAt,
	)
	if err != nil {
		return fmt.Errorf("insert history: %w", err)
	}

	if s.auditTopic == "" {
		return nil
	}
	payload, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal history entry: %w", err)
	}
	return infra.WriteEntry(ctx, tx, &infra.OutboxEntry{
		RecordID:  entry.RecordID,
		EventType: string(entry.Action),
		Payload:   payload,
		Topic:     s.auditTopic,
		Key:       entry.RecordID,
	})
}

// RecordStateByPrescription implements store.FulfillmentStore.
func (s *FulfillmentStore) RecordStateByPrescription(ctx context.Context) (map[string]fulfillment.State, error) {
	rows, err := s.pool.Query(ctx, "SELECT prescription_id, state FROM fulfillment_records")
	if err != nil {
		return nil, fmt.Errorf("query record states: %w", err)
	}
	defer rows.Close()

	states := make(map[string]fulfillment.State)
	for rows.Next() {
		var prescriptionID string
		var state fulfillment.State
		if err := rows.Scan(&prescriptionID, &state); err != nil {
			return nil, fmt.Errorf("scan record state: %w", err)
		}
		states[prescriptionID] = state
	}
	return states, rows.Err()
}

// ListRecords implements store.FulfillmentStore.
func (s *FulfillmentStore) ListRecords(ctx context.Context, pharmacyID string) ([]*fulfillment.Record, error) {
	query := `SELECT ` + recordColumns + `
		FROM fulfillment_records
		WHERE pharmacy_id = $1
		ORDER BY received_at DESC`
	rows, err := s.pool.Query(ctx, query, pharmacyID)
	if err != nil {
		return nil, fmt.Errorf("query records: %w", err)
	}
	defer rows.Close()

	var records []*fulfillment.Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// ListHistory implements store.FulfillmentStore.
func (s *FulfillmentStore) ListHistory(ctx context.Context, filter fulfillment.HistoryFilter) ([]*fulfillment.HistoryEntry, int, error) {
	filter = filter.Normalize()

	where := " WHERE 1=1"
	args := []interface{}{}
	if filter.RecordID != "" {
		args = append(args, filter.RecordID)
		where += fmt.Sprintf(" AND record_id = $%d", len(args))
	}
	if filter.PharmacistID != "" {
		args = append(args, filter.PharmacistID)
		where += fmt.Sprintf(" AND pharmacist_id = $%d", len(args))
	}
	if !filter.From.IsZero() {
		args = append(args, filter.From)
		where += fmt.Sprintf(" AND occurred_at >= $%d", len(args))
	}
	if !filter.To.IsZero() {
		args = append(args, filter.To)
		where += fmt.Sprintf(" AND occurred_at <= $%d", len(args))
	}

	var total int
	if err := s.pool.QueryRow(ctx, "SELECT COUNT(*) FROM fulfillment_history"+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count history: %w", err)
	}

	args = append(args, filter.PageSize, (filter.Page-1)*filter.PageSize)
	query := `
		SELECT id, record_id, pharmacist_id, action, detail, previous_state, new_state, occurred_at
		FROM fulfillment_history` + where + fmt.Sprintf(`
		ORDER BY occurred_at DESC
		LIMIT $%d OFFSET $%d`, len(args)-1, len(args))

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("query history: %w", err)
	}
	defer rows.Close()

	var entries []*fulfillment.HistoryEntry
	for rows.Next() {
		e := &fulfillment.HistoryEntry{}
		err := rows.Scan(&e.ID, &e.RecordID, &e.PharmacistID, &e.Action,
			&e.Detail, &e.PreviousState, &e.NewState, &e.OccurredAt)
		if err != nil {
			return nil, 0, fmt.Errorf("scan history: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, total, rows.Err()
}

// CountHistorySince implements store.FulfillmentStore.
func (s *FulfillmentStore) CountHistorySince(ctx context.Context, pharmacistID string, since time.Time) (int, error) {
	query := "SELECT COUNT(*) FROM fulfillment_history WHERE occurred_at >= $1"
	args := []interface{}{since}
	if pharmacistID != "" {
		args = append(args, pharmacistID)
		query += " AND pharmacist_id = $2"
	}
	var count int
	if err := s.pool.QueryRow(ctx, query, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("count history: %w", err)
	}
	return count, nil
}
