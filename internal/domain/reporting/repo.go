package reporting

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Repository runs the read-only aggregate queries behind the reports.
// Nothing here writes.
type Repository interface {
	// TransactionTotals sums total_cost of transactions performed in [start, end).
	TransactionTotals(ctx context.Context, start, end time.Time) (TransactionTotals, error)
	// AllocatedCost sums a cost center's allocations on transactions performed in [start, end).
	AllocatedCost(ctx context.Context, costCenterID uuid.UUID, start, end time.Time) (decimal.Decimal, error)
	// CompletedCosts counts completed assignments of a test assigned within r
	// and sums their actual cost.
	CompletedCosts(ctx context.Context, testID uuid.UUID, r Range) (int, decimal.Decimal, error)

	TechnicianCounts(ctx context.Context, personID uuid.UUID, includeCompleted bool, now, endOfDay time.Time) (WorkloadCounts, error)
	// SampleStatusCounts counts open samples whose deadline falls in [start, end].
	SampleStatusCounts(ctx context.Context, start, end time.Time) (map[string]int, error)
	// AssignmentStatusCounts counts open assignments whose deadline falls in [start, end].
	AssignmentStatusCounts(ctx context.Context, start, end time.Time) (map[string]int, error)
	OverdueCounts(ctx context.Context, now time.Time) (samples int, tests int, err error)

	// ReagentConsumption sums the quantity and cost of out transactions for a reagent in [start, end].
	ReagentConsumption(ctx context.Context, reagentID uuid.UUID, start, end time.Time) (decimal.Decimal, decimal.Decimal, error)
	ReagentUsageByTest(ctx context.Context, reagentID uuid.UUID, r Range) ([]TestUsage, error)
	SampleCosts(ctx context.Context, r Range) ([]SampleCost, error)

	DashboardCounts(ctx context.Context, now time.Time, calibrationBy time.Time) (DashboardCounts, error)
	// SamplesPerDay counts samples received in [from, to), keyed by UTC date.
	SamplesPerDay(ctx context.Context, from, to time.Time) (map[string]int, error)
	TestCategories(ctx context.Context, limit int) ([]CategoryCount, error)

	SampleRows(ctx context.Context, f ExportFilter) ([]SampleRow, error)
	AssignmentRows(ctx context.Context, f ExportFilter) ([]AssignmentRow, error)
	InventoryRows(ctx context.Context) ([]InventoryRow, error)
	InstrumentRows(ctx context.Context) ([]InstrumentRow, error)

	// Evaluate runs a measure query and returns each row as a column map.
	Evaluate(ctx context.Context, sql string, args ...interface{}) ([]map[string]interface{}, error)
}
