package inventory

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type ReagentRepository interface {
	Create(ctx context.Context, r *Reagent) error
	GetByID(ctx context.Context, id uuid.UUID) (*Reagent, error)
	// GetForUpdate reads the reagent and locks its row until the
	// surrounding transaction ends.
	GetForUpdate(ctx context.Context, id uuid.UUID) (*Reagent, error)
	Update(ctx context.Context, r *Reagent) error
	SetQuantity(ctx context.Context, id uuid.UUID, qty decimal.Decimal) error
	Delete(ctx context.Context, id uuid.UUID) error
	Search(ctx context.Context, params map[string]string, limit, offset int) ([]*Reagent, int, error)
	ListLowStock(ctx context.Context) ([]*Reagent, error)
	ListExpiringBefore(ctx context.Context, date time.Time) ([]*Reagent, error)
}

type StockItemRepository interface {
	Create(ctx context.Context, s *StockItem) error
	GetByID(ctx context.Context, id uuid.UUID) (*StockItem, error)
	GetForUpdate(ctx context.Context, id uuid.UUID) (*StockItem, error)
	Update(ctx context.Context, s *StockItem) error
	SetQuantity(ctx context.Context, id uuid.UUID, qty decimal.Decimal) error
	Delete(ctx context.Context, id uuid.UUID) error
	Search(ctx context.Context, params map[string]string, limit, offset int) ([]*StockItem, int, error)
	ListLowStock(ctx context.Context) ([]*StockItem, error)
}

type TransactionRepository interface {
	Create(ctx context.Context, t *Transaction) error
	GetByID(ctx context.Context, id uuid.UUID) (*Transaction, error)
	Search(ctx context.Context, params map[string]string, limit, offset int) ([]*Transaction, int, error)
}

type CostCenterRepository interface {
	Create(ctx context.Context, c *CostCenter) error
	GetByID(ctx context.Context, id uuid.UUID) (*CostCenter, error)
	Update(ctx context.Context, c *CostCenter) error
	Delete(ctx context.Context, id uuid.UUID) error
	List(ctx context.Context, activeOnly bool, limit, offset int) ([]*CostCenter, int, error)

	CreateAllocation(ctx context.Context, a *CostAllocation) error
	ListAllocations(ctx context.Context, transactionID uuid.UUID) ([]*CostAllocation, error)
}

type UsageRepository interface {
	Create(ctx context.Context, u *ReagentUsage) error
	ListByAssignment(ctx context.Context, assignmentID uuid.UUID) ([]*ReagentUsage, error)
	SumByAssignment(ctx context.Context, assignmentID uuid.UUID) (decimal.Decimal, error)
}
