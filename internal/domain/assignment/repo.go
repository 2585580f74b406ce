package assignment

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type Repository interface {
	Create(ctx context.Context, a *Assignment) error
	GetByID(ctx context.Context, id uuid.UUID) (*Assignment, error)
	// GetForUpdate is GetByID holding the assignment row lock until the
	// surrounding transaction ends.
	GetForUpdate(ctx context.Context, id uuid.UUID) (*Assignment, error)
	Update(ctx context.Context, a *Assignment) error
	Delete(ctx context.Context, id uuid.UUID) error
	Exists(ctx context.Context, sampleID, testID uuid.UUID) (bool, error)
	Search(ctx context.Context, params map[string]string, limit, offset int) ([]*Assignment, int, error)
	ListBySample(ctx context.Context, sampleID uuid.UUID) ([]*Assignment, error)
	ListOverdue(ctx context.Context, now time.Time) ([]*Assignment, error)
	ListDeadlineBetween(ctx context.Context, from, to time.Time) ([]*Assignment, error)
	SetActualCost(ctx context.Context, id uuid.UUID, cost decimal.Decimal) error
}
