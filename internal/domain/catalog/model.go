package catalog

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

var validCategories = map[string]bool{
	"hematology": true, "biochemistry": true, "microbiology": true, "immunology": true,
	"molecular": true, "pathology": true, "other": true,
}

const defaultTurnaroundHours = 24

// Test is a catalog entry describing an orderable laboratory test.
type Test struct {
	ID              uuid.UUID           `json:"id"`
	Code            string              `json:"code"`
	Name            string              `json:"name"`
	Category        string              `json:"category"`
	Description     *string             `json:"description,omitempty"`
	Method          *string             `json:"method,omitempty"`
	TurnaroundHours int                 `json:"turnaround_hours"`
	EstimatedCost   decimal.NullDecimal `json:"estimated_cost"`
	BillablePrice   decimal.NullDecimal `json:"billable_price"`
	Active          bool                `json:"active"`
	Parameters      []*Parameter        `json:"parameters,omitempty"`
	CreatedAt       time.Time           `json:"created_at"`
	UpdatedAt       time.Time           `json:"updated_at"`
}

// Turnaround returns the expected processing time.
func (t *Test) Turnaround() time.Duration {
	return time.Duration(t.TurnaroundHours) * time.Hour
}

// Parameter is one measured value of a test with its reference range.
type Parameter struct {
	ID            uuid.UUID           `json:"id"`
	TestID        uuid.UUID           `json:"test_id"`
	Name          string              `json:"name"`
	Unit          *string             `json:"unit,omitempty"`
	MinValue      decimal.NullDecimal `json:"min_value"`
	MaxValue      decimal.NullDecimal `json:"max_value"`
	ReferenceText *string             `json:"reference_text,omitempty"`
	SortOrder     int                 `json:"sort_order"`
	CreatedAt     time.Time           `json:"created_at"`
}

// HasRange reports whether both reference bounds are set.
func (p *Parameter) HasRange() bool {
	return p.MinValue.Valid && p.MaxValue.Valid
}

// IsAbnormal reports whether v falls outside [min, max]. Without both
// bounds nothing is abnormal.
func (p *Parameter) IsAbnormal(v decimal.Decimal) bool {
	if !p.HasRange() {
		return false
	}
	return v.LessThan(p.MinValue.Decimal) || v.GreaterThan(p.MaxValue.Decimal)
}
