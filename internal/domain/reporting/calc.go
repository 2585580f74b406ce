package reporting

import (
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/lims/lims/internal/domain/catalog"
	"github.com/lims/lims/internal/domain/inventory"
	"github.com/lims/lims/internal/domain/sample"
)

const (
	DefaultConsumptionDays   = 30
	DefaultWorkloadDays      = 7
	DashboardCalibrationDays = 30
	dashboardActivityLimit   = 15
	dashboardCategoryLimit   = 5
)

var hundred = decimal.NewFromInt(100)

// MonthRange returns [first of month, first of next month) in UTC.
func MonthRange(year, month int) (time.Time, time.Time, error) {
	if month < 1 || month > 12 {
		return time.Time{}, time.Time{}, fmt.Errorf("month out of range: %d", month)
	}
	start := time.Date(year, time.Month(month), 1, 0, 0, 0, 0, time.UTC)
	return start, start.AddDate(0, 1, 0), nil
}

// YearRange returns [Jan 1, Jan 1 of the next year) in UTC.
func YearRange(year int) (time.Time, time.Time) {
	start := time.Date(year, time.January, 1, 0, 0, 0, 0, time.UTC)
	return start, start.AddDate(1, 0, 0)
}

// Period formats a month as YYYY-MM.
func Period(year, month int) string {
	return fmt.Sprintf("%d-%02d", year, month)
}

// StartOfDay truncates t to midnight UTC.
func StartOfDay(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// EndOfDay is the last instant of t's UTC day.
func EndOfDay(t time.Time) time.Time {
	return StartOfDay(t).Add(24*time.Hour - time.Nanosecond)
}

// BuildTestCostReport derives the per-test cost figures from the completed
// assignment count and their summed actual cost.
func BuildTestCostReport(t *catalog.Test, r Range, completed int, totalActual decimal.Decimal) *TestCostReport {
	rep := &TestCostReport{
		Range:                r,
		TestID:               t.ID,
		TestCode:             t.Code,
		TestName:             t.Name,
		TestsCompleted:       completed,
		TotalActualCost:      totalActual,
		AverageCostPerTest:   decimal.Zero,
		EstimatedCostPerTest: t.EstimatedCost,
		TotalEstimatedCost:   decimal.Zero,
		BillablePerTest:      t.BillablePrice,
		TotalRevenue:         decimal.Zero,
	}
	n := decimal.NewFromInt(int64(completed))
	if completed > 0 {
		rep.AverageCostPerTest = totalActual.DivRound(n, 2)
	}
	if t.EstimatedCost.Valid {
		rep.TotalEstimatedCost = t.EstimatedCost.Decimal.Mul(n)
	}
	if t.BillablePrice.Valid {
		rep.TotalRevenue = t.BillablePrice.Decimal.Mul(n)
	}
	rep.CostVariance = totalActual.Sub(rep.TotalEstimatedCost)
	rep.TotalProfit = rep.TotalRevenue.Sub(totalActual)
	return rep
}

// BuildConsumption computes the run rate of a reagent over [start, end].
// The average divides by whole elapsed days with a floor of one, and the
// days remaining are unknown when nothing was consumed.
func BuildConsumption(r *inventory.Reagent, start, end time.Time, consumed, cost decimal.Decimal) *ConsumptionReport {
	days := sample.FloorDays(end.Sub(start))
	if days < 1 {
		days = 1
	}
	avg := consumed.Div(decimal.NewFromInt(int64(days)))
	rep := &ConsumptionReport{
		ReagentID:               r.ID,
		Reagent:                 r.Name,
		PeriodStart:             start,
		PeriodEnd:               end,
		TotalConsumed:           consumed,
		TotalCost:               cost,
		AverageDailyConsumption: avg.Round(4),
		CurrentStock:            r.Quantity,
		UnitCost:                r.UnitCost,
	}
	if avg.IsPositive() {
		remaining := r.Quantity.Div(avg).Round(1)
		rep.EstimatedDaysRemaining = &remaining
	}
	return rep
}

// BuildReagentUsage totals per-test usage, largest consumer first.
func BuildReagentUsage(r *inventory.Reagent, rng Range, usage []TestUsage) *ReagentUsageReport {
	rep := &ReagentUsageReport{
		Range:             rng,
		ReagentID:         r.ID,
		ReagentName:       r.Name,
		TotalQuantityUsed: decimal.Zero,
		TotalCost:         decimal.Zero,
		UsageByTest:       usage,
	}
	for _, u := range usage {
		rep.TotalQuantityUsed = rep.TotalQuantityUsed.Add(u.QuantityUsed)
		rep.TotalCost = rep.TotalCost.Add(u.TotalCost)
	}
	sort.SliceStable(rep.UsageByTest, func(i, j int) bool {
		return rep.UsageByTest[i].QuantityUsed.GreaterThan(rep.UsageByTest[j].QuantityUsed)
	})
	if rep.UsageByTest == nil {
		rep.UsageByTest = []TestUsage{}
	}
	return rep
}

// BuildCostPerSample fills the per-test averages and sorts samples by total
// cost, most expensive first.
func BuildCostPerSample(rng Range, samples []SampleCost) *CostPerSampleReport {
	rep := &CostPerSampleReport{
		Range:                rng,
		TotalSamples:         len(samples),
		TotalCost:            decimal.Zero,
		AverageCostPerSample: decimal.Zero,
		Samples:              samples,
	}
	for i := range samples {
		s := &samples[i]
		s.AvgCostPerTest = decimal.Zero
		if s.TestCount > 0 {
			s.AvgCostPerTest = s.TotalCost.DivRound(decimal.NewFromInt(int64(s.TestCount)), 2)
		}
		rep.TotalCost = rep.TotalCost.Add(s.TotalCost)
	}
	if len(samples) > 0 {
		rep.AverageCostPerSample = rep.TotalCost.DivRound(decimal.NewFromInt(int64(len(samples))), 2)
	}
	sort.SliceStable(rep.Samples, func(i, j int) bool {
		return rep.Samples[i].TotalCost.GreaterThan(rep.Samples[j].TotalCost)
	})
	if rep.Samples == nil {
		rep.Samples = []SampleCost{}
	}
	return rep
}

// BuildBudgetLine compares spent against an optional budget.
func BuildBudgetLine(budget decimal.NullDecimal, spent decimal.Decimal) BudgetLine {
	b := decimal.Zero
	if budget.Valid {
		b = budget.Decimal
	}
	line := BudgetLine{Budget: b, Spent: spent, Remaining: b.Sub(spent), PercentageUsed: decimal.Zero}
	if b.IsPositive() {
		line.PercentageUsed = spent.Mul(hundred).DivRound(b, 2)
	}
	return line
}

// CountByStatus returns a map holding every status in statuses, zero when
// absent from counts.
func CountByStatus(statuses []string, counts map[string]int) (map[string]int, int) {
	out := make(map[string]int, len(statuses))
	total := 0
	for _, st := range statuses {
		out[st] = counts[st]
		total += counts[st]
	}
	return out, total
}

// WeeklySeries lays out the seven days ending on today, oldest first,
// with zero for days absent from perDay. Keys are YYYY-MM-DD.
func WeeklySeries(today time.Time, perDay map[string]int) []DayCount {
	day := StartOfDay(today).AddDate(0, 0, -6)
	series := make([]DayCount, 0, 7)
	for i := 0; i < 7; i++ {
		key := day.Format(time.DateOnly)
		series = append(series, DayCount{Date: key, Count: perDay[key]})
		day = day.AddDate(0, 0, 1)
	}
	return series
}
