// Package export renders audit-trail and inventory data as CSV for the
// back-office reporting tools.
package export

import (
	"encoding/csv"
	"fmt"
	"io"
	"time"

	"github.com/mutuellesante/go-officine/internal/domain/fulfillment"
	"github.com/mutuellesante/go-officine/internal/domain/stock"
)

// Dates follow the back-office convention, day first.
const dateLayout = "02/01/2006"

// HistoryRow is one line of the dispensation history export: the record
// joined with the patient and prescriber names from its prescription.
type HistoryRow struct {
	RecordID       string
	PatientName    string
	PrescriberName string
	DispensedDrug  string
	ValidatedAt    *time.Time
	State          fulfillment.State
}

// WriteHistoryCSV writes one row per fulfillment record, newest first as
// given. The validation date is empty for records never validated.
func WriteHistoryCSV(w io.Writer, rows []*HistoryRow) error {
	cw := csv.NewWriter(w)
	header := []string{"record_id", "patient", "prescriber", "drug", "validated_at", "state"}
	if err := cw.Write(header); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	for _, r := range rows {
		validated := ""
		if r.ValidatedAt != nil {
			validated = r.ValidatedAt.Format(dateLayout)
		}
		row := []string{
			r.RecordID,
			r.PatientName,
			r.PrescriberName,
			r.DispensedDrug,
			validated,
			string(r.State),
		}
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("write row %s: %w", r.RecordID, err)
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteStockCSV writes one row per inventory item with its derived status.
func WriteStockCSV(w io.Writer, items []*stock.Item) error {
	cw := csv.NewWriter(w)
	header := []string{
		"drug_name", "drug_code", "category", "quantity", "reorder_threshold",
		"status", "purchase_price", "sale_price", "expires", "active",
	}
	if err := cw.Write(header); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	for _, item := range items {
		expires := ""
		if item.ExpiresAt != nil {
			expires = item.ExpiresAt.Format(dateLayout)
		}
		row := []string{
			item.DrugName,
			item.DrugCode,
			string(item.Category),
			fmt.Sprintf("%d", item.Quantity),
			fmt.Sprintf("%d", item.ReorderThreshold),
			string(item.Status()),
			item.PurchasePrice.StringFixed(2),
			item.SalePrice.StringFixed(2),
			expires,
			fmt.Sprintf("%t", item.Active),
		}
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("write item %s: %w", item.ID, err)
		}
	}
	cw.Flush()
	return cw.Error()
}
