package catalog

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/lims/lims/internal/platform/db"
)

type queryable interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

type testRepoPG struct{ pool *pgxpool.Pool }

func NewTestRepoPG(pool *pgxpool.Pool) TestRepository {
	return &testRepoPG{pool: pool}
}

func (r *testRepoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return r.pool
}

const testCols = `id, code, name, category, description, method, turnaround_hours,
	estimated_cost, billable_price, active, created_at, updated_at`

func (r *testRepoPG) scanTest(row pgx.Row) (*Test, error) {
	var t Test
	err := row.Scan(&t.ID, &t.Code, &t.Name, &t.Category, &t.Description, &t.Method, &t.TurnaroundHours,
		&t.EstimatedCost, &t.BillablePrice, &t.Active, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return nil, db.NoRows(err, "test")
	}
	return &t, nil
}

func (r *testRepoPG) Create(ctx context.Context, t *Test) error {
	t.ID = uuid.New()
	return r.conn(ctx).QueryRow(ctx, `
		INSERT INTO lab_test (id, code, name, category, description, method, turnaround_hours,
			estimated_cost, billable_price, active)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
		RETURNING created_at, updated_at`,
		t.ID, t.Code, t.Name, t.Category, t.Description, t.Method, t.TurnaroundHours,
		t.EstimatedCost, t.BillablePrice, t.Active,
	).Scan(&t.CreatedAt, &t.UpdatedAt)
}

func (r *testRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Test, error) {
	return r.scanTest(r.conn(ctx).QueryRow(ctx, `SELECT `+testCols+` FROM lab_test WHERE id = $1`, id))
}

func (r *testRepoPG) GetByCode(ctx context.Context, code string) (*Test, error) {
	return r.scanTest(r.conn(ctx).QueryRow(ctx, `SELECT `+testCols+` FROM lab_test WHERE code = $1`, code))
}

func (r *testRepoPG) Update(ctx context.Context, t *Test) error {
	_, err := r.conn(ctx).Exec(ctx, `
		UPDATE lab_test SET code=$2, name=$3, category=$4, description=$5, method=$6,
			turnaround_hours=$7, estimated_cost=$8, billable_price=$9, active=$10, updated_at=NOW()
		WHERE id = $1`,
		t.ID, t.Code, t.Name, t.Category, t.Description, t.Method,
		t.TurnaroundHours, t.EstimatedCost, t.BillablePrice, t.Active)
	return err
}

func (r *testRepoPG) Delete(ctx context.Context, id uuid.UUID) error {
	_, err := r.conn(ctx).Exec(ctx, `DELETE FROM lab_test WHERE id = $1`, id)
	return err
}

func (r *testRepoPG) Search(ctx context.Context, params map[string]string, limit, offset int) ([]*Test, int, error) {
	where := ` WHERE 1=1`
	var args []interface{}
	idx := 1

	if v, ok := params["category"]; ok {
		where += fmt.Sprintf(` AND category = $%d`, idx)
		args = append(args, v)
		idx++
	}
	if v, ok := params["active"]; ok {
		where += fmt.Sprintf(` AND active = $%d`, idx)
		args = append(args, v == "true")
		idx++
	}
	if v, ok := params["q"]; ok {
		where += fmt.Sprintf(` AND (code ILIKE $%d OR name ILIKE $%d)`, idx, idx)
		args = append(args, "%"+v+"%")
		idx++
	}

	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM lab_test`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}
	query := `SELECT ` + testCols + ` FROM lab_test` + where +
		fmt.Sprintf(` ORDER BY code LIMIT $%d OFFSET $%d`, idx, idx+1)
	args = append(args, limit, offset)

	rows, err := r.conn(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []*Test
	for rows.Next() {
		t, err := r.scanTest(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, t)
	}
	return items, total, rows.Err()
}

// ---- Parameters ----

const parameterCols = `id, test_id, name, unit, min_value, max_value, reference_text, sort_order, created_at`

func (r *testRepoPG) scanParameter(row pgx.Row) (*Parameter, error) {
	var p Parameter
	err := row.Scan(&p.ID, &p.TestID, &p.Name, &p.Unit, &p.MinValue, &p.MaxValue,
		&p.ReferenceText, &p.SortOrder, &p.CreatedAt)
	if err != nil {
		return nil, db.NoRows(err, "test parameter")
	}
	return &p, nil
}

func (r *testRepoPG) AddParameter(ctx context.Context, p *Parameter) error {
	p.ID = uuid.New()
	return r.conn(ctx).QueryRow(ctx, `
		INSERT INTO test_parameter (id, test_id, name, unit, min_value, max_value, reference_text, sort_order)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
		RETURNING created_at`,
		p.ID, p.TestID, p.Name, p.Unit, p.MinValue, p.MaxValue, p.ReferenceText, p.SortOrder,
	).Scan(&p.CreatedAt)
}

func (r *testRepoPG) GetParameter(ctx context.Context, id uuid.UUID) (*Parameter, error) {
	return r.scanParameter(r.conn(ctx).QueryRow(ctx, `SELECT `+parameterCols+` FROM test_parameter WHERE id = $1`, id))
}

func (r *testRepoPG) UpdateParameter(ctx context.Context, p *Parameter) error {
	_, err := r.conn(ctx).Exec(ctx, `
		UPDATE test_parameter SET name=$2, unit=$3, min_value=$4, max_value=$5, reference_text=$6, sort_order=$7
		WHERE id = $1`,
		p.ID, p.Name, p.Unit, p.MinValue, p.MaxValue, p.ReferenceText, p.SortOrder)
	return err
}

func (r *testRepoPG) DeleteParameter(ctx context.Context, id uuid.UUID) error {
	_, err := r.conn(ctx).Exec(ctx, `DELETE FROM test_parameter WHERE id = $1`, id)
	return err
}

func (r *testRepoPG) ListParameters(ctx context.Context, testID uuid.UUID) ([]*Parameter, error) {
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+parameterCols+` FROM test_parameter WHERE test_id = $1 ORDER BY sort_order, name`, testID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []*Parameter
	for rows.Next() {
		p, err := r.scanParameter(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, p)
	}
	return items, rows.Err()
}

func (r *testRepoPG) AverageActualCost(ctx context.Context, testID uuid.UUID) (decimal.Decimal, int, error) {
	var avg decimal.NullDecimal
	var n int
	err := r.conn(ctx).QueryRow(ctx, `
		SELECT AVG(actual_cost), COUNT(*)
		FROM test_assignment
		WHERE test_id = $1 AND status = 'completed' AND actual_cost > 0`, testID,
	).Scan(&avg, &n)
	if err != nil {
		return decimal.Zero, 0, err
	}
	return avg.Decimal, n, nil
}
