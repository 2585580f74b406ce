package reporting

import (
	"time"

	"github.com/lims/lims/internal/platform/apperr"
)

// Measure is a named SQL aggregate. Parameters bind to $1..$n in order; an
// absent parameter is passed as NULL and the query supplies its default.
type Measure struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Description string   `json:"description"`
	SQL         string   `json:"-"`
	Parameters  []string `json:"parameters"`
}

// MeasureReport holds the rows produced by evaluating a measure.
type MeasureReport struct {
	MeasureID   string                   `json:"measure_id"`
	MeasureName string                   `json:"measure_name"`
	GeneratedAt time.Time                `json:"generated_at"`
	Results     []map[string]interface{} `json:"results"`
	Parameters  map[string]string        `json:"parameters,omitempty"`
}

// PredefinedMeasures is the list of available reporting measures.
var PredefinedMeasures = []Measure{
	{
		ID:          "sample-volume-by-type",
		Name:        "Sample Volume by Type",
		Description: "Samples received per sample type since a date (default: last 30 days)",
		SQL: `SELECT sample_type, COUNT(*) AS total FROM sample
			WHERE received_at >= COALESCE($1::timestamptz, NOW() - INTERVAL '30 days')
			GROUP BY sample_type ORDER BY total DESC`,
		Parameters: []string{"since"},
	},
	{
		ID:          "sample-status",
		Name:        "Sample Status",
		Description: "Count of samples by lifecycle status",
		SQL:         `SELECT status, COUNT(*) AS total FROM sample GROUP BY status ORDER BY total DESC`,
		Parameters:  []string{},
	},
	{
		ID:          "assignment-status",
		Name:        "Test Assignment Status",
		Description: "Count of test assignments by status, with how many are past their deadline",
		SQL: `SELECT status, COUNT(*) AS total,
				COALESCE(SUM(CASE WHEN deadline < NOW() AND status <> 'completed' THEN 1 ELSE 0 END), 0) AS overdue
			FROM test_assignment GROUP BY status ORDER BY total DESC`,
		Parameters: []string{},
	},
	{
		ID:          "turnaround-by-test",
		Name:        "Turnaround by Test",
		Description: "Average hours from assignment to completion per test",
		SQL: `SELECT t.code, t.name, t.turnaround_hours, COUNT(*) AS completed,
				ROUND(AVG(EXTRACT(EPOCH FROM (a.completed_at - a.assigned_at)) / 3600)::numeric, 2) AS avg_hours
			FROM test_assignment a JOIN lab_test t ON t.id = a.test_id
			WHERE a.status = 'completed' AND a.completed_at IS NOT NULL
			GROUP BY t.code, t.name, t.turnaround_hours ORDER BY t.code`,
		Parameters: []string{},
	},
	{
		ID:          "abnormal-results-by-test",
		Name:        "Abnormal Results by Test",
		Description: "Approved results carrying at least one abnormal parameter, per test",
		SQL: `SELECT t.code, t.name, COUNT(DISTINCT r.id) AS approved,
				COUNT(DISTINCT r.id) FILTER (WHERE pr.is_abnormal) AS abnormal
			FROM test_result r
			JOIN test_assignment a ON a.id = r.assignment_id
			JOIN lab_test t ON t.id = a.test_id
			LEFT JOIN parameter_result pr ON pr.result_id = r.id
			WHERE r.status = 'approved'
			GROUP BY t.code, t.name ORDER BY abnormal DESC, t.code`,
		Parameters: []string{},
	},
	{
		ID:          "reagent-spend-by-month",
		Name:        "Reagent Spend by Month",
		Description: "Costed inventory transactions per month and type since a date (default: last 12 months)",
		SQL: `SELECT to_char(date_trunc('month', performed_at), 'YYYY-MM') AS period, transaction_type,
				COALESCE(SUM(total_cost), 0) AS total_cost
			FROM inventory_transaction
			WHERE performed_at >= COALESCE($1::timestamptz, NOW() - INTERVAL '12 months')
			GROUP BY 1, 2 ORDER BY 1, 2`,
		Parameters: []string{"since"},
	},
	{
		ID:          "instrument-status",
		Name:        "Instrument Status",
		Description: "Count of instruments by status, with how many are past their calibration date",
		SQL: `SELECT status, COUNT(*) AS total,
				COALESCE(SUM(CASE WHEN next_calibration < CURRENT_DATE THEN 1 ELSE 0 END), 0) AS calibration_overdue
			FROM instrument GROUP BY status ORDER BY total DESC`,
		Parameters: []string{},
	},
}

// FindMeasure looks up a measure by ID.
func FindMeasure(id string) *Measure {
	for i := range PredefinedMeasures {
		if PredefinedMeasures[i].ID == id {
			return &PredefinedMeasures[i]
		}
	}
	return nil
}

// dateParameters are measure parameters bound as timestamptz.
var dateParameters = map[string]bool{"since": true}

// CheckParams rejects a date parameter that is neither RFC 3339 nor
// YYYY-MM-DD.
func (m *Measure) CheckParams(values map[string]string) error {
	for _, p := range m.Parameters {
		v := values[p]
		if v == "" || !dateParameters[p] {
			continue
		}
		if _, err := time.Parse(time.RFC3339, v); err == nil {
			continue
		}
		if _, err := time.Parse(time.DateOnly, v); err != nil {
			return apperr.Validation("invalid %s: %q", p, v)
		}
	}
	return nil
}

// Args returns the positional query arguments for m, NULL for absent
// parameters, together with the parameters actually supplied.
func (m *Measure) Args(values map[string]string) ([]interface{}, map[string]string) {
	args := make([]interface{}, len(m.Parameters))
	used := map[string]string{}
	for i, p := range m.Parameters {
		if v, ok := values[p]; ok && v != "" {
			args[i] = v
			used[p] = v
		}
	}
	return args, used
}
