package catalog

import (
	"context"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/lims/lims/internal/platform/apperr"
	"github.com/lims/lims/internal/platform/db"
)

type Service struct {
	tests  TestRepository
	tx     db.TxRunner
	logger zerolog.Logger
}

func NewService(tests TestRepository, tx db.TxRunner, logger zerolog.Logger) *Service {
	if tx == nil {
		tx = db.NoTx{}
	}
	return &Service{tests: tests, tx: tx, logger: logger}
}

func validateTest(t *Test) error {
	t.Code = strings.ToUpper(strings.TrimSpace(t.Code))
	if t.Code == "" {
		return apperr.Validation("code is required")
	}
	if strings.TrimSpace(t.Name) == "" {
		return apperr.Validation("name is required")
	}
	if t.Category == "" {
		t.Category = "other"
	}
	if !validCategories[t.Category] {
		return apperr.Validation("invalid category: %s", t.Category)
	}
	if t.TurnaroundHours == 0 {
		t.TurnaroundHours = defaultTurnaroundHours
	}
	if t.TurnaroundHours < 0 {
		return apperr.Validation("turnaround_hours must be positive")
	}
	if t.EstimatedCost.Valid && t.EstimatedCost.Decimal.IsNegative() {
		return apperr.Validation("estimated_cost must not be negative")
	}
	if t.BillablePrice.Valid && t.BillablePrice.Decimal.IsNegative() {
		return apperr.Validation("billable_price must not be negative")
	}
	return nil
}

func validateParameter(p *Parameter) error {
	p.Name = strings.TrimSpace(p.Name)
	if p.Name == "" {
		return apperr.Validation("parameter name is required")
	}
	if p.HasRange() && p.MinValue.Decimal.GreaterThan(p.MaxValue.Decimal) {
		return apperr.Validation("min_value must not exceed max_value for %s", p.Name)
	}
	return nil
}

// CreateTest stores a test and any parameters supplied with it.
func (s *Service) CreateTest(ctx context.Context, t *Test) error {
	if err := validateTest(t); err != nil {
		return err
	}
	for _, p := range t.Parameters {
		if err := validateParameter(p); err != nil {
			return err
		}
	}
	t.Active = true
	return s.tx.RunInTx(ctx, func(ctx context.Context) error {
		if err := s.tests.Create(ctx, t); err != nil {
			if db.IsUniqueViolation(err) {
				return apperr.Validation("test code %s already exists", t.Code)
			}
			return err
		}
		for i, p := range t.Parameters {
			p.TestID = t.ID
			if p.SortOrder == 0 {
				p.SortOrder = i + 1
			}
			if err := s.tests.AddParameter(ctx, p); err != nil {
				return err
			}
		}
		return nil
	})
}

// GetTest returns the test with its parameters.
func (s *Service) GetTest(ctx context.Context, id uuid.UUID) (*Test, error) {
	t, err := s.tests.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	params, err := s.tests.ListParameters(ctx, id)
	if err != nil {
		return nil, err
	}
	t.Parameters = params
	return t, nil
}

func (s *Service) UpdateTest(ctx context.Context, t *Test) error {
	if err := validateTest(t); err != nil {
		return err
	}
	if _, err := s.tests.GetByID(ctx, t.ID); err != nil {
		return err
	}
	return s.tests.Update(ctx, t)
}

func (s *Service) DeleteTest(ctx context.Context, id uuid.UUID) error {
	return s.tests.Delete(ctx, id)
}

func (s *Service) SearchTests(ctx context.Context, params map[string]string, limit, offset int) ([]*Test, int, error) {
	return s.tests.Search(ctx, params, limit, offset)
}

// ---- Parameters ----

func (s *Service) AddParameter(ctx context.Context, p *Parameter) error {
	if err := validateParameter(p); err != nil {
		return err
	}
	if _, err := s.tests.GetByID(ctx, p.TestID); err != nil {
		return err
	}
	if err := s.tests.AddParameter(ctx, p); err != nil {
		if db.IsUniqueViolation(err) {
			return apperr.Validation("parameter %s already exists on this test", p.Name)
		}
		return err
	}
	return nil
}

func (s *Service) GetParameter(ctx context.Context, id uuid.UUID) (*Parameter, error) {
	return s.tests.GetParameter(ctx, id)
}

func (s *Service) UpdateParameter(ctx context.Context, p *Parameter) error {
	if err := validateParameter(p); err != nil {
		return err
	}
	existing, err := s.tests.GetParameter(ctx, p.ID)
	if err != nil {
		return err
	}
	p.TestID = existing.TestID
	return s.tests.UpdateParameter(ctx, p)
}

func (s *Service) DeleteParameter(ctx context.Context, id uuid.UUID) error {
	return s.tests.DeleteParameter(ctx, id)
}

func (s *Service) ListParameters(ctx context.Context, testID uuid.UUID) ([]*Parameter, error) {
	return s.tests.ListParameters(ctx, testID)
}

// CostUpdate reports the outcome of UpdateEstimatedCosts for one test.
type CostUpdate struct {
	TestID      uuid.UUID `json:"test_id"`
	Code        string    `json:"code"`
	Previous    *string   `json:"previous_estimated_cost"`
	Estimated   string    `json:"estimated_cost"`
	SampleCount int       `json:"sample_count"`
}

// UpdateEstimatedCosts sets each active test's estimated cost to the
// average actual cost of its completed assignments. Tests with no costed
// completions keep their current estimate.
func (s *Service) UpdateEstimatedCosts(ctx context.Context) ([]CostUpdate, error) {
	var updates []CostUpdate
	err := s.tx.RunInTx(ctx, func(ctx context.Context) error {
		offset := 0
		for {
			tests, total, err := s.tests.Search(ctx, map[string]string{"active": "true"}, 200, offset)
			if err != nil {
				return err
			}
			for _, t := range tests {
				avg, n, err := s.tests.AverageActualCost(ctx, t.ID)
				if err != nil {
					return err
				}
				if n == 0 {
					continue
				}
				u := CostUpdate{TestID: t.ID, Code: t.Code, SampleCount: n, Estimated: avg.StringFixed(2)}
				if t.EstimatedCost.Valid {
					prev := t.EstimatedCost.Decimal.StringFixed(2)
					u.Previous = &prev
				}
				t.EstimatedCost.Decimal = avg.Round(2)
				t.EstimatedCost.Valid = true
				if err := s.tests.Update(ctx, t); err != nil {
					return err
				}
				updates = append(updates, u)
			}
			offset += len(tests)
			if len(tests) == 0 || offset >= total {
				return nil
			}
		}
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info().Int("updated", len(updates)).Msg("estimated test costs refreshed")
	return updates, nil
}
