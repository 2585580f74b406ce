package reporting

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/lims/lims/internal/domain/audit"
)

// Range bounds a report. Nil ends are open.
type Range struct {
	From *time.Time `json:"period_start,omitempty"`
	To   *time.Time `json:"period_end,omitempty"`
}

// TransactionTotals sums inventory transaction costs over a period.
type TransactionTotals struct {
	Total    decimal.Decimal
	StockIn  decimal.Decimal
	StockOut decimal.Decimal
}

type MonthlyCosts struct {
	Period              string           `json:"period"`
	TotalCosts          decimal.Decimal  `json:"total_costs"`
	StockInCosts        decimal.Decimal  `json:"stock_in_costs"`
	StockOutCosts       decimal.Decimal  `json:"stock_out_costs"`
	CostCenterID        *uuid.UUID       `json:"cost_center_id,omitempty"`
	CostCenterAllocated *decimal.Decimal `json:"cost_center_allocated"`
}

type TestCostReport struct {
	Range
	TestID               uuid.UUID           `json:"test_id"`
	TestCode             string              `json:"test_code"`
	TestName             string              `json:"test_name"`
	TestsCompleted       int                 `json:"total_tests_completed"`
	TotalActualCost      decimal.Decimal     `json:"total_actual_cost"`
	AverageCostPerTest   decimal.Decimal     `json:"average_cost_per_test"`
	EstimatedCostPerTest decimal.NullDecimal `json:"estimated_cost_per_test"`
	TotalEstimatedCost   decimal.Decimal     `json:"total_estimated_cost"`
	CostVariance         decimal.Decimal     `json:"cost_variance"`
	BillablePerTest      decimal.NullDecimal `json:"billable_amount_per_test"`
	TotalRevenue         decimal.Decimal     `json:"total_revenue"`
	TotalProfit          decimal.Decimal     `json:"total_profit"`
}

// WorkloadCounts is the open work held by one technician.
type WorkloadCounts struct {
	TotalSamples    int `json:"total_samples"`
	TotalTests      int `json:"total_tests"`
	OverdueSamples  int `json:"overdue_samples"`
	OverdueTests    int `json:"overdue_tests"`
	DueTodaySamples int `json:"due_today_samples"`
	DueTodayTests   int `json:"due_today_tests"`
}

type TechnicianWorkload struct {
	TechnicianID uuid.UUID `json:"technician_id"`
	Technician   string    `json:"technician"`
	WorkloadCounts
}

type WorkloadReport struct {
	PeriodStart     time.Time      `json:"period_start"`
	PeriodEnd       time.Time      `json:"period_end"`
	TotalSamples    int            `json:"total_samples"`
	TotalTests      int            `json:"total_tests"`
	SamplesByStatus map[string]int `json:"samples_by_status"`
	TestsByStatus   map[string]int `json:"tests_by_status"`
	OverdueSamples  int            `json:"overdue_samples"`
	OverdueTests    int            `json:"overdue_tests"`
}

type ConsumptionReport struct {
	ReagentID               uuid.UUID           `json:"reagent_id"`
	Reagent                 string              `json:"reagent"`
	PeriodStart             time.Time           `json:"period_start"`
	PeriodEnd               time.Time           `json:"period_end"`
	TotalConsumed           decimal.Decimal     `json:"total_consumed"`
	TotalCost               decimal.Decimal     `json:"total_cost"`
	AverageDailyConsumption decimal.Decimal     `json:"average_daily_consumption"`
	CurrentStock            decimal.Decimal     `json:"current_stock"`
	EstimatedDaysRemaining  *decimal.Decimal    `json:"estimated_days_remaining"`
	UnitCost                decimal.NullDecimal `json:"unit_cost"`
}

// TestUsage is one test's share of a reagent's consumption.
type TestUsage struct {
	TestCode     string          `json:"test_code"`
	TestName     string          `json:"test_name"`
	QuantityUsed decimal.Decimal `json:"quantity_used"`
	TotalCost    decimal.Decimal `json:"total_cost"`
	UsageCount   int             `json:"usage_count"`
}

type ReagentUsageReport struct {
	Range
	ReagentID         uuid.UUID       `json:"reagent_id"`
	ReagentName       string          `json:"reagent_name"`
	TotalQuantityUsed decimal.Decimal `json:"total_quantity_used"`
	TotalCost         decimal.Decimal `json:"total_cost"`
	UsageByTest       []TestUsage     `json:"usage_by_test"`
}

type SampleCost struct {
	SampleID       uuid.UUID       `json:"sample_id"`
	SampleCode     string          `json:"sample_code"`
	SampleType     string          `json:"sample_type"`
	Status         string          `json:"status"`
	ReceivedAt     time.Time       `json:"received_at"`
	TestCount      int             `json:"test_count"`
	TotalCost      decimal.Decimal `json:"total_cost"`
	AvgCostPerTest decimal.Decimal `json:"avg_cost_per_test"`
}

type CostPerSampleReport struct {
	Range
	TotalSamples         int             `json:"total_samples"`
	TotalCost            decimal.Decimal `json:"total_cost"`
	AverageCostPerSample decimal.Decimal `json:"average_cost_per_sample"`
	Samples              []SampleCost    `json:"samples"`
}

// BudgetLine compares spending against one budget. PercentageUsed is zero
// when no budget is set.
type BudgetLine struct {
	Budget         decimal.Decimal `json:"budget"`
	Spent          decimal.Decimal `json:"spent"`
	Remaining      decimal.Decimal `json:"remaining"`
	PercentageUsed decimal.Decimal `json:"percentage_used"`
}

type BudgetStatus struct {
	CostCenterID uuid.UUID  `json:"cost_center_id"`
	CostCenter   string     `json:"cost_center"`
	Year         int        `json:"year"`
	Month        int        `json:"month"`
	Monthly      BudgetLine `json:"monthly"`
	Yearly       BudgetLine `json:"yearly"`
}

// DashboardCounts are the headline numbers of the dashboard.
type DashboardCounts struct {
	SamplesToday   int `json:"total_samples_today"`
	PendingTests   int `json:"pending_tests"`
	CompletedTests int `json:"completed_tests"`
	PendingReviews int `json:"pending_reviews"`
	CalibrationDue int `json:"instruments_needing_calibration"`
	LowStockAlerts int `json:"low_stock_alerts"`
	OverdueSamples int `json:"overdue_samples"`
	OverdueTests   int `json:"overdue_tests"`
}

type DayCount struct {
	Date  string `json:"date"`
	Count int    `json:"count"`
}

type CategoryCount struct {
	Category string `json:"category"`
	Count    int    `json:"count"`
}

type Dashboard struct {
	DashboardCounts
	WeeklySamples  []DayCount          `json:"weekly_samples"`
	TestCategories []CategoryCount     `json:"test_categories"`
	RecentActivity []*audit.Entry      `json:"recent_activities"`
	MyWorkload     *TechnicianWorkload `json:"my_workload,omitempty"`
	GeneratedAt    time.Time           `json:"generated_at"`
}
