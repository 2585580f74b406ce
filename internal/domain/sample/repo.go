package sample

import (
	"context"
	"time"

	"github.com/google/uuid"
)

type SampleRepository interface {
	Create(ctx context.Context, s *Sample) error
	GetByID(ctx context.Context, id uuid.UUID) (*Sample, error)
	GetByCode(ctx context.Context, code string) (*Sample, error)
	Update(ctx context.Context, s *Sample) error
	Delete(ctx context.Context, id uuid.UUID) error
	Search(ctx context.Context, params map[string]string, limit, offset int) ([]*Sample, int, error)

	// MaxSequence returns the highest numeric suffix among codes starting
	// with prefix, or 0 when there are none.
	MaxSequence(ctx context.Context, prefix string) (int, error)
	ListOverdue(ctx context.Context, now time.Time) ([]*Sample, error)
	ListDeadlineBetween(ctx context.Context, from, to time.Time) ([]*Sample, error)
}
