package result

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/lims/lims/internal/domain/catalog"
	"github.com/lims/lims/internal/platform/apperr"
)

const (
	StatusDraft         = "draft"
	StatusPendingReview = "pending_review"
	StatusApproved      = "approved"
	StatusRejected      = "rejected"
)

var validStatuses = map[string]bool{
	StatusDraft: true, StatusPendingReview: true, StatusApproved: true, StatusRejected: true,
}

// Entry actions.
const (
	ActionDraft  = "draft"
	ActionSubmit = "submit"
)

// TestResult holds the reported values for one test assignment.
type TestResult struct {
	ID               uuid.UUID  `json:"id"`
	AssignmentID     uuid.UUID  `json:"assignment_id"`
	Status           string     `json:"status"`
	EnteredBy        *uuid.UUID `json:"entered_by,omitempty"`
	EnteredAt        time.Time  `json:"entered_at"`
	ReviewedBy       *uuid.UUID `json:"reviewed_by,omitempty"`
	ReviewedAt       *time.Time `json:"reviewed_at,omitempty"`
	Comments         *string    `json:"comments,omitempty"`
	ReviewerComments *string    `json:"reviewer_comments,omitempty"`
	InstrumentFile   *string    `json:"instrument_file,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`

	Parameters []*ParameterResult `json:"parameters,omitempty"`

	// Read-only, joined from the assignment.
	SampleCode     string `json:"sample_code,omitempty"`
	TestCode       string `json:"test_code,omitempty"`
	TestName       string `json:"test_name,omitempty"`
	EnteredByName  string `json:"entered_by_name,omitempty"`
	ReviewedByName string `json:"reviewed_by_name,omitempty"`
}

// Editable reports whether values may still be entered.
func (r *TestResult) Editable() bool {
	return r.Status == StatusDraft || r.Status == StatusRejected
}

// ParameterResult is the value reported for one test parameter.
type ParameterResult struct {
	ID           uuid.UUID           `json:"id"`
	ResultID     uuid.UUID           `json:"result_id"`
	ParameterID  uuid.UUID           `json:"parameter_id"`
	NumericValue decimal.NullDecimal `json:"numeric_value"`
	TextValue    *string             `json:"text_value,omitempty"`
	IsAbnormal   bool                `json:"is_abnormal"`
	Notes        *string             `json:"notes,omitempty"`
	CreatedAt    time.Time           `json:"created_at"`
	UpdatedAt    time.Time           `json:"updated_at"`

	// Read-only, joined from the parameter.
	ParameterName string              `json:"parameter_name,omitempty"`
	Unit          *string             `json:"unit,omitempty"`
	MinValue      decimal.NullDecimal `json:"min_value"`
	MaxValue      decimal.NullDecimal `json:"max_value"`
	ReferenceText *string             `json:"reference_text,omitempty"`
}

// Value renders the reported value, numeric first.
func (p *ParameterResult) Value() string {
	if p.NumericValue.Valid {
		return p.NumericValue.Decimal.String()
	}
	if p.TextValue != nil {
		return *p.TextValue
	}
	return ""
}

// ReferenceRange renders "min - max" when both bounds are set, otherwise
// the free-text reference.
func (p *ParameterResult) ReferenceRange() string {
	if p.MinValue.Valid && p.MaxValue.Valid {
		return p.MinValue.Decimal.String() + " - " + p.MaxValue.Decimal.String()
	}
	if p.ReferenceText != nil {
		return *p.ReferenceText
	}
	return ""
}

// Numeric values are stored as NUMERIC(14,4).
const (
	valueScale     int32 = 4
	valueIntDigits int32 = 10
)

// RecordParameter parses raw into pr and flags abnormality against param.
// A value that parses as a decimal is rounded to four places, stored
// numerically and compared with the reference range as stored; anything
// else is stored as text and never flagged. An empty raw value clears the
// parameter. Numbers with more than ten integer digits are refused.
func RecordParameter(pr *ParameterResult, param *catalog.Parameter, raw string) error {
	raw = strings.TrimSpace(raw)
	pr.NumericValue = decimal.NullDecimal{}
	pr.TextValue = nil
	pr.IsAbnormal = false
	if raw == "" {
		return nil
	}
	if v, err := decimal.NewFromString(raw); err == nil {
		v = v.Round(valueScale)
		if !v.Abs().LessThan(decimal.New(1, valueIntDigits)) {
			return apperr.Validation("value %s for %s exceeds %d integer digits", raw, param.Name, valueIntDigits)
		}
		pr.NumericValue = decimal.NewNullDecimal(v)
		pr.IsAbnormal = param.IsAbnormal(v)
		return nil
	}
	pr.TextValue = &raw
	return nil
}
