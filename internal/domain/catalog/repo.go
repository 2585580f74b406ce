package catalog

import (
	"context"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type TestRepository interface {
	Create(ctx context.Context, t *Test) error
	GetByID(ctx context.Context, id uuid.UUID) (*Test, error)
	GetByCode(ctx context.Context, code string) (*Test, error)
	Update(ctx context.Context, t *Test) error
	Delete(ctx context.Context, id uuid.UUID) error
	Search(ctx context.Context, params map[string]string, limit, offset int) ([]*Test, int, error)

	AddParameter(ctx context.Context, p *Parameter) error
	GetParameter(ctx context.Context, id uuid.UUID) (*Parameter, error)
	UpdateParameter(ctx context.Context, p *Parameter) error
	DeleteParameter(ctx context.Context, id uuid.UUID) error
	ListParameters(ctx context.Context, testID uuid.UUID) ([]*Parameter, error)

	// AverageActualCost averages actual_cost over the test's completed
	// assignments and returns how many were averaged.
	AverageActualCost(ctx context.Context, testID uuid.UUID) (decimal.Decimal, int, error)
}
