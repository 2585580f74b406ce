package result

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/lims/lims/internal/domain/catalog"
	"github.com/lims/lims/internal/platform/apperr"
)

func bounded(lo, hi string) *catalog.Parameter {
	return &catalog.Parameter{
		Name:     "Glucose",
		MinValue: decimal.NewNullDecimal(decimal.RequireFromString(lo)),
		MaxValue: decimal.NewNullDecimal(decimal.RequireFromString(hi)),
	}
}

func TestRecordParameter(t *testing.T) {
	tests := []struct {
		name     string
		param    *catalog.Parameter
		raw      string
		numeric  bool
		abnormal bool
	}{
		{"inside range", bounded("70", "100"), "85", true, false},
		{"lower bound inclusive", bounded("70", "100"), "70", true, false},
		{"upper bound inclusive", bounded("70", "100"), "100.0000", true, false},
		{"below range", bounded("70", "100"), "69.99", true, true},
		{"above range", bounded("70", "100"), " 140 ", true, true},
		{"text never flagged", bounded("70", "100"), "hemolysed", false, false},
		{"no range", &catalog.Parameter{Name: "Colour"}, "5", true, false},
		{"only min", &catalog.Parameter{Name: "X", MinValue: decimal.NewNullDecimal(decimal.NewFromInt(10))}, "1", true, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var pr ParameterResult
			if err := RecordParameter(&pr, tt.param, tt.raw); err != nil {
				t.Fatalf("RecordParameter: %v", err)
			}
			if pr.NumericValue.Valid != tt.numeric {
				t.Errorf("numeric = %v, want %v", pr.NumericValue.Valid, tt.numeric)
			}
			if !tt.numeric && (pr.TextValue == nil || *pr.TextValue != tt.raw) {
				t.Errorf("text value = %v, want %q", pr.TextValue, tt.raw)
			}
			if pr.IsAbnormal != tt.abnormal {
				t.Errorf("abnormal = %v, want %v", pr.IsAbnormal, tt.abnormal)
			}
		})
	}
}

func TestRecordParameter_MatchesCatalogRule(t *testing.T) {
	p := bounded("3.5", "5.5")
	for _, raw := range []string{"0", "3.4999", "3.5", "4", "5.5", "5.5001", "-1"} {
		var pr ParameterResult
		if err := RecordParameter(&pr, p, raw); err != nil {
			t.Fatalf("%s: %v", raw, err)
		}
		if want := p.IsAbnormal(decimal.RequireFromString(raw)); pr.IsAbnormal != want {
			t.Errorf("%s: abnormal = %v, catalog says %v", raw, pr.IsAbnormal, want)
		}
	}
}

func TestRecordParameter_EmptyClears(t *testing.T) {
	pr := ParameterResult{IsAbnormal: true, NumericValue: decimal.NewNullDecimal(decimal.NewFromInt(200))}
	if err := RecordParameter(&pr, bounded("70", "100"), "  "); err != nil {
		t.Fatalf("RecordParameter: %v", err)
	}
	if pr.NumericValue.Valid || pr.TextValue != nil || pr.IsAbnormal {
		t.Errorf("expected cleared value, got %+v", pr)
	}
}

func TestRecordParameter_FlagsStoredValue(t *testing.T) {
	tests := []struct {
		raw      string
		stored   string
		abnormal bool
	}{
		{"0.99996", "1", false},
		{"0.99994", "0.9999", true},
		{"100.00004", "100", false},
		{"100.00005", "100.0001", true},
	}
	for _, tt := range tests {
		var pr ParameterResult
		if err := RecordParameter(&pr, bounded("1", "100"), tt.raw); err != nil {
			t.Fatalf("%s: %v", tt.raw, err)
		}
		if !pr.NumericValue.Decimal.Equal(decimal.RequireFromString(tt.stored)) {
			t.Errorf("%s: stored %s, want %s", tt.raw, pr.NumericValue.Decimal, tt.stored)
		}
		if pr.IsAbnormal != tt.abnormal {
			t.Errorf("%s: abnormal = %v, want %v", tt.raw, pr.IsAbnormal, tt.abnormal)
		}
	}
}

func TestRecordParameter_TooManyDigits(t *testing.T) {
	var pr ParameterResult
	err := RecordParameter(&pr, bounded("1", "100"), "12345678901")
	if !errors.Is(err, apperr.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if pr.NumericValue.Valid {
		t.Error("oversized value must not be stored")
	}
	if err := RecordParameter(&pr, bounded("1", "100"), "9999999999.9999"); err != nil {
		t.Errorf("ten integer digits should fit: %v", err)
	}
}

func TestReferenceRange(t *testing.T) {
	text := "negative"
	pr := ParameterResult{
		MinValue: decimal.NewNullDecimal(decimal.RequireFromString("3.5")),
		MaxValue: decimal.NewNullDecimal(decimal.RequireFromString("5.5")),
	}
	if got := pr.ReferenceRange(); got != "3.5 - 5.5" {
		t.Errorf("got %q", got)
	}
	pr.MaxValue = decimal.NullDecimal{}
	pr.ReferenceText = &text
	if got := pr.ReferenceRange(); got != "negative" {
		t.Errorf("got %q", got)
	}
}
