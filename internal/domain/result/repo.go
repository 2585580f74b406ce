package result

import (
	"context"

	"github.com/google/uuid"
)

type Repository interface {
	Create(ctx context.Context, r *TestResult) error
	GetByID(ctx context.Context, id uuid.UUID) (*TestResult, error)
	GetByAssignment(ctx context.Context, assignmentID uuid.UUID) (*TestResult, error)
	Update(ctx context.Context, r *TestResult) error
	Search(ctx context.Context, params map[string]string, limit, offset int) ([]*TestResult, int, error)

	// SaveParameter inserts or updates the value for (result, parameter).
	SaveParameter(ctx context.Context, pr *ParameterResult) error
	ListParameters(ctx context.Context, resultID uuid.UUID) ([]*ParameterResult, error)
}
