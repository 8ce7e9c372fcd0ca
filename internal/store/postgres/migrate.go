package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Migrate creates the schema required by the fulfillment engine.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	schema := []string{
		`CREATE TABLE IF NOT EXISTS fulfillment_records (
			id UUID PRIMARY KEY,
			prescription_id TEXT NOT NULL UNIQUE,
			pharmacy_id TEXT NOT NULL,
			voucher_id TEXT NOT NULL DEFAULT '',
			dispensed_drug TEXT NOT NULL DEFAULT '',
			dosage_instructions TEXT NOT NULL DEFAULT '',
			treatment_days INT NOT NULL DEFAULT 0,
			quantity_dispensed INT NOT NULL DEFAULT 0,
			unit_price NUMERIC(10,2) NOT NULL DEFAULT 0,
			total_cost NUMERIC(10,2) NOT NULL DEFAULT 0,
			reimbursement_rate NUMERIC(5,2) NOT NULL DEFAULT 0.70,
			reimbursed_amount NUMERIC(10,2) NOT NULL DEFAULT 0,
			pharmacist_notes TEXT NOT NULL DEFAULT '',
			observations TEXT NOT NULL DEFAULT '',
			state TEXT NOT NULL,
			validated_by TEXT NOT NULL DEFAULT '',
			received_at TIMESTAMPTZ NOT NULL,
			validated_at TIMESTAMPTZ,
			prepared_at TIMESTAMPTZ,
			dispensed_at TIMESTAMPTZ
		)`,
		`CREATE INDEX IF NOT EXISTS idx_fulfillment_records_state ON fulfillment_records (state)`,
		`CREATE INDEX IF NOT EXISTS idx_fulfillment_records_pharmacy ON fulfillment_records (pharmacy_id, received_at DESC)`,
		`CREATE TABLE IF NOT EXISTS fulfillment_history (
			id UUID PRIMARY KEY,
			record_id UUID NOT NULL REFERENCES fulfillment_records(id),
			pharmacist_id TEXT NOT NULL,
			action TEXT NOT NULL,
			detail TEXT NOT NULL DEFAULT '',
			previous_state TEXT NOT NULL DEFAULT '',
			new_state TEXT NOT NULL,
			occurred_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_fulfillment_history_record ON fulfillment_history (record_id, occurred_at)`,
		`CREATE INDEX IF NOT EXISTS idx_fulfillment_history_pharmacist ON fulfillment_history (pharmacist_id, occurred_at)`,
		`CREATE TABLE IF NOT EXISTS stock_items (
			id UUID PRIMARY KEY,
			pharmacy_id TEXT NOT NULL,
			drug_name TEXT NOT NULL,
			drug_code TEXT NOT NULL DEFAULT '',
			category TEXT NOT NULL DEFAULT 'OTHER',
			quantity INT NOT NULL DEFAULT 0 CHECK (quantity >= 0),
			reorder_threshold INT NOT NULL DEFAULT 10,
			purchase_price NUMERIC(10,2) NOT NULL DEFAULT 0,
			sale_price NUMERIC(10,2) NOT NULL DEFAULT 0,
			expires_at TIMESTAMPTZ,
			active BOOLEAN NOT NULL DEFAULT TRUE,
			created_at TIMESTAMPTZ NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_stock_items_pharmacy ON stock_items (pharmacy_id, active)`,
		`CREATE INDEX IF NOT EXISTS idx_stock_items_quantity ON stock_items (quantity)`,
		`CREATE TABLE IF NOT EXISTS audit_outbox (
			id BIGSERIAL PRIMARY KEY,
			record_id TEXT NOT NULL,
			event_type TEXT NOT NULL,
			payload JSONB NOT NULL,
			topic TEXT NOT NULL,
			key TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			processed_at TIMESTAMPTZ,
			retry_count INT NOT NULL DEFAULT 0,
			last_error TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_audit_outbox_pending ON audit_outbox (created_at) WHERE processed_at IS NULL`,
	}

	for _, stmt := range schema {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("apply schema: %w", err)
		}
	}
	return nil
}
