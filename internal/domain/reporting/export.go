package reporting

import (
	"encoding/csv"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

const (
	ExportSamples     = "samples"
	ExportTests       = "tests"
	ExportInventory   = "inventory"
	ExportInstruments = "instruments"
)

// ExportKinds lists the reports that can be exported as CSV.
var ExportKinds = []string{ExportSamples, ExportTests, ExportInventory, ExportInstruments}

func validExport(kind string) bool {
	for _, k := range ExportKinds {
		if k == kind {
			return true
		}
	}
	return false
}

// ExportFilter narrows the sample and test exports. Inventory and
// instrument exports ignore it.
type ExportFilter struct {
	Range
	SampleType string
	Status     string
}

type SampleRow struct {
	SampleCode string    `json:"sample_code"`
	SampleType string    `json:"sample_type"`
	Source     string    `json:"source"`
	Status     string    `json:"status"`
	Priority   string    `json:"priority"`
	ReceivedAt time.Time `json:"received_at"`
	Technician string    `json:"technician"`
}

type AssignmentRow struct {
	SampleCode  string     `json:"sample_code"`
	TestName    string     `json:"test_name"`
	Status      string     `json:"status"`
	AssignedTo  string     `json:"assigned_to"`
	AssignedAt  time.Time  `json:"assigned_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

const (
	KindReagent   = "Reagent"
	KindStockItem = "Stock Item"
)

type InventoryRow struct {
	Kind            string          `json:"kind"`
	Name            string          `json:"name"`
	Code            string          `json:"code"`
	Quantity        decimal.Decimal `json:"quantity"`
	Unit            string          `json:"unit"`
	MinimumQuantity decimal.Decimal `json:"minimum_quantity"`
	ExpiryDate      *time.Time      `json:"expiry_date,omitempty"`
}

// StockStatus is "OK" or "Low Stock", with " / Expiring Soon" appended for
// reagents expiring within days of now.
func (r InventoryRow) StockStatus(now time.Time, days int) string {
	status := "OK"
	if r.Quantity.LessThanOrEqual(r.MinimumQuantity) {
		status = "Low Stock"
	}
	if r.ExpiryDate != nil && !r.ExpiryDate.After(now.AddDate(0, 0, days)) {
		status += " / Expiring Soon"
	}
	return status
}

type InstrumentRow struct {
	Name            string     `json:"name"`
	Model           string     `json:"model"`
	SerialNumber    string     `json:"serial_number"`
	Status          string     `json:"status"`
	Location        string     `json:"location"`
	LastCalibration *time.Time `json:"last_calibration,omitempty"`
	NextCalibration *time.Time `json:"next_calibration,omitempty"`
}

// Label turns a stored code such as "in_progress" into "In Progress".
func Label(code string) string {
	words := strings.Fields(strings.ReplaceAll(code, "_", " "))
	for i, w := range words {
		words[i] = strings.ToUpper(w[:1]) + w[1:]
	}
	return strings.Join(words, " ")
}

func formatTime(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

func formatDate(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.Format(time.DateOnly)
}

func writeAll(w io.Writer, kind string, rows [][]string) error {
	cw := csv.NewWriter(w)
	if err := cw.WriteAll(rows); err != nil {
		return fmt.Errorf("write %s csv: %w", kind, err)
	}
	return nil
}

func WriteSamplesCSV(w io.Writer, rows []SampleRow) error {
	out := [][]string{{"Sample ID", "Type", "Source", "Status", "Priority", "Received Date", "Technician"}}
	for _, r := range rows {
		out = append(out, []string{r.SampleCode, Label(r.SampleType), r.Source, Label(r.Status), Label(r.Priority),
			formatTime(&r.ReceivedAt), r.Technician})
	}
	return writeAll(w, ExportSamples, out)
}

func WriteTestsCSV(w io.Writer, rows []AssignmentRow) error {
	out := [][]string{{"Sample ID", "Test", "Status", "Assigned To", "Assigned Date", "Completed Date"}}
	for _, r := range rows {
		out = append(out, []string{r.SampleCode, r.TestName, Label(r.Status), r.AssignedTo,
			formatTime(&r.AssignedAt), formatTime(r.CompletedAt)})
	}
	return writeAll(w, ExportTests, out)
}

func WriteInventoryCSV(w io.Writer, rows []InventoryRow, now time.Time, expiryDays int) error {
	out := [][]string{{"Type", "Name", "Code/Catalog", "Quantity", "Unit", "Min Quantity", "Status"}}
	for _, r := range rows {
		out = append(out, []string{r.Kind, r.Name, r.Code, r.Quantity.String(), r.Unit, r.MinimumQuantity.String(),
			r.StockStatus(now, expiryDays)})
	}
	return writeAll(w, ExportInventory, out)
}

func WriteInstrumentsCSV(w io.Writer, rows []InstrumentRow) error {
	out := [][]string{{"Name", "Model", "Serial Number", "Status", "Location", "Last Calibration", "Next Calibration"}}
	for _, r := range rows {
		out = append(out, []string{r.Name, r.Model, r.SerialNumber, Label(r.Status), r.Location,
			formatDate(r.LastCalibration), formatDate(r.NextCalibration)})
	}
	return writeAll(w, ExportInstruments, out)
}

// ExportFilename is the attachment name of an export, e.g. sample_report.csv.
func ExportFilename(kind string) string {
	return strings.TrimSuffix(kind, "s") + "_report.csv"
}

// ArchiveKey is where an export generated at t is archived.
func ArchiveKey(kind string, t time.Time) string {
	t = t.UTC()
	return fmt.Sprintf("%s%s/%s/%s_report_%s.csv", archivePrefix, kind, t.Format("2006/01/02"),
		strings.TrimSuffix(kind, "s"), t.Format("20060102T150405Z"))
}

const archivePrefix = "reports/"
