package personnel

import (
	"context"

	"github.com/google/uuid"
)

type LabRepository interface {
	Create(ctx context.Context, l *Lab) error
	GetByID(ctx context.Context, id uuid.UUID) (*Lab, error)
	Update(ctx context.Context, l *Lab) error
	Delete(ctx context.Context, id uuid.UUID) error
	List(ctx context.Context, limit, offset int) ([]*Lab, int, error)
}

type PersonRepository interface {
	Create(ctx context.Context, p *Person) error
	GetByID(ctx context.Context, id uuid.UUID) (*Person, error)
	GetByUserID(ctx context.Context, userID string) (*Person, error)
	Update(ctx context.Context, p *Person) error
	Delete(ctx context.Context, id uuid.UUID) error
	Search(ctx context.Context, params map[string]string, limit, offset int) ([]*Person, int, error)
}
