package reporting

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/lims/lims/internal/platform/db"
)

type queryable interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
}

type repoPG struct{ pool *pgxpool.Pool }

func NewRepoPG(pool *pgxpool.Pool) Repository {
	return &repoPG{pool: pool}
}

func (r *repoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return r.pool
}

// where accumulates AND clauses with numbered placeholders.
type where struct {
	sql  string
	args []interface{}
}

func (w *where) add(clause string, v interface{}) {
	w.args = append(w.args, v)
	w.sql += fmt.Sprintf(clause, len(w.args))
}

func (w *where) between(col string, r Range) {
	if r.From != nil {
		w.add(` AND `+col+` >= $%d`, *r.From)
	}
	if r.To != nil {
		w.add(` AND `+col+` <= $%d`, *r.To)
	}
}

const (
	openSample     = `status NOT IN ('completed', 'archived')`
	openAssignment = `status <> 'completed'`
)

func (r *repoPG) TransactionTotals(ctx context.Context, start, end time.Time) (TransactionTotals, error) {
	var t TransactionTotals
	err := r.conn(ctx).QueryRow(ctx, `
		SELECT COALESCE(SUM(total_cost), 0),
			COALESCE(SUM(total_cost) FILTER (WHERE transaction_type = 'in'), 0),
			COALESCE(SUM(total_cost) FILTER (WHERE transaction_type = 'out'), 0)
		FROM inventory_transaction
		WHERE performed_at >= $1 AND performed_at < $2`, start, end,
	).Scan(&t.Total, &t.StockIn, &t.StockOut)
	return t, err
}

func (r *repoPG) AllocatedCost(ctx context.Context, costCenterID uuid.UUID, start, end time.Time) (decimal.Decimal, error) {
	var total decimal.Decimal
	err := r.conn(ctx).QueryRow(ctx, `
		SELECT COALESCE(SUM(ca.allocated_cost), 0)
		FROM cost_allocation ca JOIN inventory_transaction t ON t.id = ca.transaction_id
		WHERE ca.cost_center_id = $1 AND t.performed_at >= $2 AND t.performed_at < $3`,
		costCenterID, start, end,
	).Scan(&total)
	return total, err
}

func (r *repoPG) CompletedCosts(ctx context.Context, testID uuid.UUID, rng Range) (int, decimal.Decimal, error) {
	w := &where{}
	w.add(` AND test_id = $%d`, testID)
	w.between("assigned_at", rng)
	var (
		count int
		total decimal.Decimal
	)
	err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*), COALESCE(SUM(actual_cost), 0)
		FROM test_assignment WHERE status = 'completed'`+w.sql, w.args...).Scan(&count, &total)
	return count, total, err
}

// TechnicianCounts counts a person's samples and tests. includeCompleted
// widens the totals only; overdue and due-today always count open work.
func (r *repoPG) TechnicianCounts(ctx context.Context, personID uuid.UUID, includeCompleted bool, now, endOfDay time.Time) (WorkloadCounts, error) {
	var c WorkloadCounts
	sampleFilter, testFilter := "", ""
	if !includeCompleted {
		sampleFilter = ` AND ` + openSample
		testFilter = ` AND ` + openAssignment
	}
	err := r.conn(ctx).QueryRow(ctx, `
		SELECT COUNT(*),
			COUNT(*) FILTER (WHERE deadline < $2 AND `+openSample+`),
			COUNT(*) FILTER (WHERE deadline >= $2 AND deadline <= $3 AND `+openSample+`)
		FROM sample WHERE technician_id = $1`+sampleFilter, personID, now, endOfDay,
	).Scan(&c.TotalSamples, &c.OverdueSamples, &c.DueTodaySamples)
	if err != nil {
		return c, err
	}
	err = r.conn(ctx).QueryRow(ctx, `
		SELECT COUNT(*),
			COUNT(*) FILTER (WHERE deadline < $2 AND `+openAssignment+`),
			COUNT(*) FILTER (WHERE deadline >= $2 AND deadline <= $3 AND `+openAssignment+`)
		FROM test_assignment WHERE assigned_to = $1`+testFilter, personID, now, endOfDay,
	).Scan(&c.TotalTests, &c.OverdueTests, &c.DueTodayTests)
	return c, err
}

func (r *repoPG) statusCounts(ctx context.Context, sql string, args ...interface{}) (map[string]int, error) {
	rows, err := r.conn(ctx).Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	counts := map[string]int{}
	for rows.Next() {
		var (
			status string
			n      int
		)
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		counts[status] = n
	}
	return counts, rows.Err()
}

func (r *repoPG) SampleStatusCounts(ctx context.Context, start, end time.Time) (map[string]int, error) {
	return r.statusCounts(ctx, `SELECT status, COUNT(*) FROM sample
		WHERE deadline >= $1 AND deadline <= $2 AND `+openSample+` GROUP BY status`, start, end)
}

func (r *repoPG) AssignmentStatusCounts(ctx context.Context, start, end time.Time) (map[string]int, error) {
	return r.statusCounts(ctx, `SELECT status, COUNT(*) FROM test_assignment
		WHERE deadline >= $1 AND deadline <= $2 AND `+openAssignment+` GROUP BY status`, start, end)
}

func (r *repoPG) OverdueCounts(ctx context.Context, now time.Time) (int, int, error) {
	var samples, tests int
	err := r.conn(ctx).QueryRow(ctx, `SELECT
		(SELECT COUNT(*) FROM sample WHERE deadline < $1 AND `+openSample+`),
		(SELECT COUNT(*) FROM test_assignment WHERE deadline < $1 AND `+openAssignment+`)`, now,
	).Scan(&samples, &tests)
	return samples, tests, err
}

func (r *repoPG) ReagentConsumption(ctx context.Context, reagentID uuid.UUID, start, end time.Time) (decimal.Decimal, decimal.Decimal, error) {
	var consumed, cost decimal.Decimal
	err := r.conn(ctx).QueryRow(ctx, `
		SELECT COALESCE(SUM(quantity), 0), COALESCE(SUM(total_cost), 0)
		FROM inventory_transaction
		WHERE reagent_id = $1 AND transaction_type = 'out' AND performed_at >= $2 AND performed_at <= $3`,
		reagentID, start, end,
	).Scan(&consumed, &cost)
	return consumed, cost, err
}

func (r *repoPG) ReagentUsageByTest(ctx context.Context, reagentID uuid.UUID, rng Range) ([]TestUsage, error) {
	w := &where{}
	w.add(` AND u.reagent_id = $%d`, reagentID)
	w.between("u.used_at", rng)
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT t.code, t.name, COALESCE(SUM(u.quantity), 0), COALESCE(SUM(u.total_cost), 0), COUNT(*)
		FROM reagent_usage u
		JOIN test_assignment a ON a.id = u.assignment_id
		JOIN lab_test t ON t.id = a.test_id
		WHERE 1=1`+w.sql+`
		GROUP BY t.code, t.name ORDER BY t.code`, w.args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []TestUsage
	for rows.Next() {
		var u TestUsage
		if err := rows.Scan(&u.TestCode, &u.TestName, &u.QuantityUsed, &u.TotalCost, &u.UsageCount); err != nil {
			return nil, err
		}
		items = append(items, u)
	}
	return items, rows.Err()
}

func (r *repoPG) SampleCosts(ctx context.Context, rng Range) ([]SampleCost, error) {
	w := &where{}
	w.between("s.received_at", rng)
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT s.id, s.sample_code, s.sample_type, s.status, s.received_at,
			COUNT(a.id), COALESCE(SUM(a.actual_cost), 0)
		FROM sample s LEFT JOIN test_assignment a ON a.sample_id = s.id
		WHERE 1=1`+w.sql+`
		GROUP BY s.id ORDER BY s.received_at`, w.args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []SampleCost
	for rows.Next() {
		var s SampleCost
		if err := rows.Scan(&s.SampleID, &s.SampleCode, &s.SampleType, &s.Status, &s.ReceivedAt,
			&s.TestCount, &s.TotalCost); err != nil {
			return nil, err
		}
		items = append(items, s)
	}
	return items, rows.Err()
}

func (r *repoPG) DashboardCounts(ctx context.Context, now time.Time, calibrationBy time.Time) (DashboardCounts, error) {
	var c DashboardCounts
	dayStart := StartOfDay(now)
	err := r.conn(ctx).QueryRow(ctx, `SELECT
		(SELECT COUNT(*) FROM sample WHERE received_at >= $1 AND received_at < $2),
		(SELECT COUNT(*) FROM test_assignment WHERE status = 'assigned'),
		(SELECT COUNT(*) FROM test_assignment WHERE status = 'completed'),
		(SELECT COUNT(*) FROM test_result WHERE status = 'pending_review'),
		(SELECT COUNT(*) FROM instrument WHERE next_calibration <= $3),
		(SELECT COUNT(*) FROM reagent WHERE quantity <= minimum_quantity)
			+ (SELECT COUNT(*) FROM stock_item WHERE quantity <= minimum_quantity),
		(SELECT COUNT(*) FROM sample WHERE deadline < $4 AND `+openSample+`),
		(SELECT COUNT(*) FROM test_assignment WHERE deadline < $4 AND `+openAssignment+`)`,
		dayStart, dayStart.AddDate(0, 0, 1), calibrationBy, now,
	).Scan(&c.SamplesToday, &c.PendingTests, &c.CompletedTests, &c.PendingReviews, &c.CalibrationDue,
		&c.LowStockAlerts, &c.OverdueSamples, &c.OverdueTests)
	return c, err
}

func (r *repoPG) SamplesPerDay(ctx context.Context, from, to time.Time) (map[string]int, error) {
	return r.statusCounts(ctx, `SELECT to_char(received_at AT TIME ZONE 'UTC', 'YYYY-MM-DD'), COUNT(*)
		FROM sample WHERE received_at >= $1 AND received_at < $2 GROUP BY 1`, from, to)
}

func (r *repoPG) TestCategories(ctx context.Context, limit int) ([]CategoryCount, error) {
	rows, err := r.conn(ctx).Query(ctx, `SELECT category, COUNT(*) FROM lab_test
		GROUP BY category ORDER BY COUNT(*) DESC, category LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []CategoryCount
	for rows.Next() {
		var c CategoryCount
		if err := rows.Scan(&c.Category, &c.Count); err != nil {
			return nil, err
		}
		items = append(items, c)
	}
	return items, rows.Err()
}

func (r *repoPG) SampleRows(ctx context.Context, f ExportFilter) ([]SampleRow, error) {
	w := &where{}
	w.between("s.received_at", f.Range)
	if f.SampleType != "" {
		w.add(` AND s.sample_type = $%d`, f.SampleType)
	}
	if f.Status != "" {
		w.add(` AND s.status = $%d`, f.Status)
	}
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT s.sample_code, s.sample_type, s.source, s.status, s.priority, s.received_at,
			COALESCE(TRIM(p.first_name || ' ' || p.last_name), '')
		FROM sample s LEFT JOIN person p ON p.id = s.technician_id
		WHERE 1=1`+w.sql+` ORDER BY s.received_at DESC`, w.args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []SampleRow
	for rows.Next() {
		var s SampleRow
		if err := rows.Scan(&s.SampleCode, &s.SampleType, &s.Source, &s.Status, &s.Priority, &s.ReceivedAt,
			&s.Technician); err != nil {
			return nil, err
		}
		items = append(items, s)
	}
	return items, rows.Err()
}

func (r *repoPG) AssignmentRows(ctx context.Context, f ExportFilter) ([]AssignmentRow, error) {
	w := &where{}
	w.between("a.assigned_at", f.Range)
	if f.Status != "" {
		w.add(` AND a.status = $%d`, f.Status)
	}
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT s.sample_code, t.name, a.status, COALESCE(TRIM(p.first_name || ' ' || p.last_name), ''),
			a.assigned_at, a.completed_at
		FROM test_assignment a
		JOIN sample s ON s.id = a.sample_id
		JOIN lab_test t ON t.id = a.test_id
		LEFT JOIN person p ON p.id = a.assigned_to
		WHERE 1=1`+w.sql+` ORDER BY a.assigned_at DESC`, w.args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []AssignmentRow
	for rows.Next() {
		var a AssignmentRow
		if err := rows.Scan(&a.SampleCode, &a.TestName, &a.Status, &a.AssignedTo, &a.AssignedAt,
			&a.CompletedAt); err != nil {
			return nil, err
		}
		items = append(items, a)
	}
	return items, rows.Err()
}

func (r *repoPG) InventoryRows(ctx context.Context) ([]InventoryRow, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT $1::text, name, catalog_number, quantity, unit, minimum_quantity, expiry_date FROM reagent
		UNION ALL
		SELECT $2::text, name, item_code, quantity, unit, minimum_quantity, NULL::date FROM stock_item
		ORDER BY 1, 2`, KindReagent, KindStockItem)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []InventoryRow
	for rows.Next() {
		var i InventoryRow
		if err := rows.Scan(&i.Kind, &i.Name, &i.Code, &i.Quantity, &i.Unit, &i.MinimumQuantity,
			&i.ExpiryDate); err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	return items, rows.Err()
}

func (r *repoPG) InstrumentRows(ctx context.Context) ([]InstrumentRow, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT name, COALESCE(model, ''), serial_number, status, COALESCE(location, ''),
			last_calibration, next_calibration
		FROM instrument ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []InstrumentRow
	for rows.Next() {
		var i InstrumentRow
		if err := rows.Scan(&i.Name, &i.Model, &i.SerialNumber, &i.Status, &i.Location,
			&i.LastCalibration, &i.NextCalibration); err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	return items, rows.Err()
}

func (r *repoPG) Evaluate(ctx context.Context, sql string, args ...interface{}) ([]map[string]interface{}, error) {
	rows, err := r.conn(ctx).Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	fieldDescs := rows.FieldDescriptions()
	results := []map[string]interface{}{}
	for rows.Next() {
		values, err := rows.Values()
		if err != nil {
			return nil, err
		}
		row := make(map[string]interface{}, len(fieldDescs))
		for i, fd := range fieldDescs {
			row[fd.Name] = values[i]
		}
		results = append(results, row)
	}
	return results, rows.Err()
}
