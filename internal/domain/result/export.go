package result

import (
	"encoding/csv"
	"fmt"
	"io"
	"time"
)

var statusLabels = map[string]string{
	StatusDraft:         "Draft",
	StatusPendingReview: "Pending Review",
	StatusApproved:      "Approved",
	StatusRejected:      "Rejected",
}

// ExportFilename is the attachment name for a result export.
func ExportFilename(res *TestResult) string {
	return fmt.Sprintf("result_%s_%s.csv", res.SampleCode, res.TestCode)
}

// WriteCSV writes the result header block, a blank line and one row per
// parameter value.
func WriteCSV(w io.Writer, res *TestResult) error {
	cw := csv.NewWriter(w)
	rows := [][]string{
		{"Sample ID", res.SampleCode},
		{"Test", res.TestName},
		{"Status", statusLabels[res.Status]},
		{"Entered By", res.EnteredByName},
		{"Entered Date", res.EnteredAt.UTC().Format(time.RFC3339)},
		{},
		{"Parameter", "Value", "Unit", "Reference Range", "Status"},
	}
	for _, pr := range res.Parameters {
		unit := ""
		if pr.Unit != nil {
			unit = *pr.Unit
		}
		status := "Normal"
		if pr.IsAbnormal {
			status = "Abnormal"
		}
		rows = append(rows, []string{pr.ParameterName, pr.Value(), unit, pr.ReferenceRange(), status})
	}
	if err := cw.WriteAll(rows); err != nil {
		return fmt.Errorf("write result csv: %w", err)
	}
	return nil
}
