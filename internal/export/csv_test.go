package export

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/mutuellesante/go-officine/internal/domain/fulfillment"
	"github.com/mutuellesante/go-officine/internal/domain/stock"
)

func TestWriteHistoryCSV(t *testing.T) {
	validated := time.Date(2026, 3, 7, 14, 30, 0, 0, time.UTC)
	rows := []*HistoryRow{
		{
			RecordID:       "rec-1",
			PatientName:    "Awa Ndiaye",
			PrescriberName: "Dr. Keita",
			DispensedDrug:  "Amoxicilline 500mg",
			ValidatedAt:    &validated,
			State:          fulfillment.StateDispensed,
		},
		{
			RecordID:      "rec-2",
			DispensedDrug: "Doliprane 1g",
			State:         fulfillment.StatePending,
		},
	}

	var buf bytes.Buffer
	if err := WriteHistoryCSV(&buf, rows); err != nil {
		t.Fatal(err)
	}

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 3 {
		t.Fatalf("lines = %d, want header + 2 rows", len(lines))
	}
	if lines[0] != "record_id,patient,prescriber,drug,validated_at,state" {
		t.Errorf("header = %q", lines[0])
	}
	// Day first.
	if lines[1] != "rec-1,Awa Ndiaye,Dr. Keita,Amoxicilline 500mg,07/03/2026,DISPENSED" {
		t.Errorf("row = %q", lines[1])
	}
	// Never validated: empty date, empty names.
	if lines[2] != "rec-2,,,Doliprane 1g,,PENDING" {
		t.Errorf("row = %q", lines[2])
	}
}

func TestWriteStockCSV(t *testing.T) {
	expiry := time.Date(2027, 6, 15, 0, 0, 0, 0, time.UTC)
	item := stock.NewItem("ph-1", "Doliprane", "DOL1", stock.CategoryAnalgesic,
		0, 5, decimal.RequireFromString("1.20"), decimal.RequireFromString("2.00"), &expiry)

	var buf bytes.Buffer
	if err := WriteStockCSV(&buf, []*stock.Item{item}); err != nil {
		t.Fatal(err)
	}

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("lines = %d", len(lines))
	}
	row := lines[1]
	if !strings.Contains(row, "OUT_OF_STOCK") {
		t.Errorf("row %q missing derived status", row)
	}
	if !strings.Contains(row, "15/06/2027") {
		t.Errorf("row %q missing day-first expiry", row)
	}
}
