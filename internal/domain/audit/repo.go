package audit

import (
	"context"
)

type Repository interface {
	Create(ctx context.Context, e *Entry) error
	// Search returns matching entries, newest first, and the total match count.
	Search(ctx context.Context, f Filter, limit, offset int) ([]*Entry, int, error)
	// Each streams every matching entry, newest first.
	Each(ctx context.Context, f Filter, fn func(*Entry) error) error
}
