package catalog

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/lims/lims/internal/platform/apperr"
)

// seedFile is the YAML layout accepted by ImportCatalog:
//
//	tests:
//	  - code: CBC
//	    name: Complete Blood Count
//	    category: hematology
//	    turnaround_hours: 24
//	    estimated_cost: "12.50"
//	    parameters:
//	      - {name: Hemoglobin, unit: g/dL, min: "12.0", max: "17.5"}
type seedFile struct {
	Tests []seedTest `yaml:"tests"`
}

type seedTest struct {
	Code            string          `yaml:"code"`
	Name            string          `yaml:"name"`
	Category        string          `yaml:"category"`
	Description     *string         `yaml:"description"`
	Method          *string         `yaml:"method"`
	TurnaroundHours int             `yaml:"turnaround_hours"`
	EstimatedCost   *string         `yaml:"estimated_cost"`
	BillablePrice   *string         `yaml:"billable_price"`
	Active          *bool           `yaml:"active"`
	Parameters      []seedParameter `yaml:"parameters"`
}

type seedParameter struct {
	Name          string  `yaml:"name"`
	Unit          *string `yaml:"unit"`
	Min           *string `yaml:"min"`
	Max           *string `yaml:"max"`
	ReferenceText *string `yaml:"reference_text"`
}

// ImportSummary counts what ImportCatalog changed.
type ImportSummary struct {
	TestsCreated      int `json:"tests_created"`
	TestsUpdated      int `json:"tests_updated"`
	ParametersCreated int `json:"parameters_created"`
	ParametersUpdated int `json:"parameters_updated"`
}

func parseNullDecimal(field string, raw *string) (decimal.NullDecimal, error) {
	if raw == nil || *raw == "" {
		return decimal.NullDecimal{}, nil
	}
	d, err := decimal.NewFromString(*raw)
	if err != nil {
		return decimal.NullDecimal{}, apperr.Validation("%s: %q is not a number", field, *raw)
	}
	return decimal.NewNullDecimal(d), nil
}

func (st seedTest) toTest() (*Test, error) {
	est, err := parseNullDecimal(st.Code+".estimated_cost", st.EstimatedCost)
	if err != nil {
		return nil, err
	}
	price, err := parseNullDecimal(st.Code+".billable_price", st.BillablePrice)
	if err != nil {
		return nil, err
	}
	t := &Test{
		Code: st.Code, Name: st.Name, Category: st.Category,
		Description: st.Description, Method: st.Method, TurnaroundHours: st.TurnaroundHours,
		EstimatedCost: est, BillablePrice: price, Active: true,
	}
	if st.Active != nil {
		t.Active = *st.Active
	}
	for i, sp := range st.Parameters {
		lo, err := parseNullDecimal(st.Code+"."+sp.Name+".min", sp.Min)
		if err != nil {
			return nil, err
		}
		hi, err := parseNullDecimal(st.Code+"."+sp.Name+".max", sp.Max)
		if err != nil {
			return nil, err
		}
		t.Parameters = append(t.Parameters, &Parameter{
			Name: sp.Name, Unit: sp.Unit, MinValue: lo, MaxValue: hi,
			ReferenceText: sp.ReferenceText, SortOrder: i + 1,
		})
	}
	return t, nil
}

// ImportCatalog upserts tests and their parameters from a YAML document.
// Tests match on code and parameters on name; the whole import is one
// transaction.
func (s *Service) ImportCatalog(ctx context.Context, r io.Reader) (*ImportSummary, error) {
	var doc seedFile
	if err := yaml.NewDecoder(r).Decode(&doc); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, apperr.Validation("catalog file is empty")
		}
		return nil, apperr.Validation("parse catalog: %v", err)
	}

	incoming := make([]*Test, 0, len(doc.Tests))
	for _, st := range doc.Tests {
		t, err := st.toTest()
		if err != nil {
			return nil, err
		}
		if err := validateTest(t); err != nil {
			return nil, fmt.Errorf("test %q: %w", st.Code, err)
		}
		for _, p := range t.Parameters {
			if err := validateParameter(p); err != nil {
				return nil, fmt.Errorf("test %q: %w", t.Code, err)
			}
		}
		incoming = append(incoming, t)
	}

	sum := &ImportSummary{}
	err := s.tx.RunInTx(ctx, func(ctx context.Context) error {
		for _, t := range incoming {
			if err := s.upsertTest(ctx, t, sum); err != nil {
				return fmt.Errorf("test %s: %w", t.Code, err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info().
		Int("tests_created", sum.TestsCreated).
		Int("tests_updated", sum.TestsUpdated).
		Int("parameters_created", sum.ParametersCreated).
		Int("parameters_updated", sum.ParametersUpdated).
		Msg("catalog imported")
	return sum, nil
}

func (s *Service) upsertTest(ctx context.Context, t *Test, sum *ImportSummary) error {
	params := t.Parameters
	existing, err := s.tests.GetByCode(ctx, t.Code)
	switch {
	case errors.Is(err, apperr.ErrNotFound):
		if err := s.tests.Create(ctx, t); err != nil {
			return err
		}
		sum.TestsCreated++
	case err != nil:
		return err
	default:
		t.ID = existing.ID
		if err := s.tests.Update(ctx, t); err != nil {
			return err
		}
		sum.TestsUpdated++
	}

	current, err := s.tests.ListParameters(ctx, t.ID)
	if err != nil {
		return err
	}
	byName := make(map[string]*Parameter, len(current))
	for _, p := range current {
		byName[p.Name] = p
	}
	for _, p := range params {
		p.TestID = t.ID
		if old, ok := byName[p.Name]; ok {
			p.ID = old.ID
			if err := s.tests.UpdateParameter(ctx, p); err != nil {
				return err
			}
			sum.ParametersUpdated++
			continue
		}
		if err := s.tests.AddParameter(ctx, p); err != nil {
			return err
		}
		sum.ParametersCreated++
	}
	return nil
}
