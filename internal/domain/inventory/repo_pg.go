package inventory

import (
	"context"
	"fmt"
	"time"

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

func connFor(ctx context.Context, pool *pgxpool.Pool) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return pool
}

func mustAffect(tag pgconn.CommandTag, entity string) error {
	if tag.RowsAffected() == 0 {
		return db.NoRows(pgx.ErrNoRows, entity)
	}
	return nil
}

// =========== Reagent ===========

type reagentRepoPG struct{ pool *pgxpool.Pool }

func NewReagentRepoPG(pool *pgxpool.Pool) ReagentRepository {
	return &reagentRepoPG{pool: pool}
}

const reagentCols = `id, name, catalog_number, manufacturer, lot_number, quantity, unit, minimum_quantity,
	unit_cost, expiry_date, storage_location, lab_id, created_at, updated_at`

func scanReagent(row pgx.Row) (*Reagent, error) {
	var r Reagent
	err := row.Scan(&r.ID, &r.Name, &r.CatalogNumber, &r.Manufacturer, &r.LotNumber, &r.Quantity, &r.Unit,
		&r.MinimumQuantity, &r.UnitCost, &r.ExpiryDate, &r.StorageLocation, &r.LabID, &r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		return nil, db.NoRows(err, "reagent")
	}
	return &r, nil
}

func scanReagents(rows pgx.Rows) ([]*Reagent, error) {
	defer rows.Close()
	var items []*Reagent
	for rows.Next() {
		r, err := scanReagent(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, r)
	}
	return items, rows.Err()
}

func (r *reagentRepoPG) Create(ctx context.Context, rg *Reagent) error {
	rg.ID = uuid.New()
	return connFor(ctx, r.pool).QueryRow(ctx, `
		INSERT INTO reagent (id, name, catalog_number, manufacturer, lot_number, quantity, unit,
			minimum_quantity, unit_cost, expiry_date, storage_location, lab_id)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
		RETURNING created_at, updated_at`,
		rg.ID, rg.Name, rg.CatalogNumber, rg.Manufacturer, rg.LotNumber, rg.Quantity, rg.Unit,
		rg.MinimumQuantity, rg.UnitCost, rg.ExpiryDate, rg.StorageLocation, rg.LabID,
	).Scan(&rg.CreatedAt, &rg.UpdatedAt)
}

func (r *reagentRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Reagent, error) {
	return scanReagent(connFor(ctx, r.pool).QueryRow(ctx, `SELECT `+reagentCols+` FROM reagent WHERE id = $1`, id))
}

func (r *reagentRepoPG) GetForUpdate(ctx context.Context, id uuid.UUID) (*Reagent, error) {
	return scanReagent(connFor(ctx, r.pool).QueryRow(ctx, `SELECT `+reagentCols+` FROM reagent WHERE id = $1 FOR UPDATE`, id))
}

// Update writes everything except quantity, which only moves through the ledger.
func (r *reagentRepoPG) Update(ctx context.Context, rg *Reagent) error {
	tag, err := connFor(ctx, r.pool).Exec(ctx, `
		UPDATE reagent SET name=$2, catalog_number=$3, manufacturer=$4, lot_number=$5, unit=$6,
			minimum_quantity=$7, unit_cost=$8, expiry_date=$9, storage_location=$10, lab_id=$11, updated_at=NOW()
		WHERE id = $1`,
		rg.ID, rg.Name, rg.CatalogNumber, rg.Manufacturer, rg.LotNumber, rg.Unit,
		rg.MinimumQuantity, rg.UnitCost, rg.ExpiryDate, rg.StorageLocation, rg.LabID)
	if err != nil {
		return err
	}
	return mustAffect(tag, "reagent")
}

func (r *reagentRepoPG) SetQuantity(ctx context.Context, id uuid.UUID, qty decimal.Decimal) error {
	tag, err := connFor(ctx, r.pool).Exec(ctx,
		`UPDATE reagent SET quantity = $2, updated_at = NOW() WHERE id = $1`, id, qty)
	if err != nil {
		return err
	}
	return mustAffect(tag, "reagent")
}

func (r *reagentRepoPG) Delete(ctx context.Context, id uuid.UUID) error {
	_, err := connFor(ctx, r.pool).Exec(ctx, `DELETE FROM reagent WHERE id = $1`, id)
	return err
}

func (r *reagentRepoPG) Search(ctx context.Context, params map[string]string, limit, offset int) ([]*Reagent, int, error) {
	where := ` WHERE 1=1`
	var args []interface{}
	idx := 1

	if v, ok := params["q"]; ok {
		where += fmt.Sprintf(` AND (name ILIKE $%d OR catalog_number ILIKE $%d)`, idx, idx)
		args = append(args, "%"+v+"%")
		idx++
	}
	if v, ok := params["manufacturer"]; ok {
		where += fmt.Sprintf(` AND manufacturer ILIKE $%d`, idx)
		args = append(args, "%"+v+"%")
		idx++
	}
	if v, ok := params["lab"]; ok {
		where += fmt.Sprintf(` AND lab_id = $%d`, idx)
		args = append(args, v)
		idx++
	}
	if params["low_stock"] == "true" {
		where += ` AND quantity <= minimum_quantity`
	}

	var total int
	if err := connFor(ctx, r.pool).QueryRow(ctx, `SELECT COUNT(*) FROM reagent`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}
	query := `SELECT ` + reagentCols + ` FROM reagent` + where +
		fmt.Sprintf(` ORDER BY name LIMIT $%d OFFSET $%d`, idx, idx+1)
	args = append(args, limit, offset)

	rows, err := connFor(ctx, r.pool).Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	items, err := scanReagents(rows)
	return items, total, err
}

func (r *reagentRepoPG) ListLowStock(ctx context.Context) ([]*Reagent, error) {
	rows, err := connFor(ctx, r.pool).Query(ctx,
		`SELECT `+reagentCols+` FROM reagent WHERE quantity <= minimum_quantity ORDER BY name`)
	if err != nil {
		return nil, err
	}
	return scanReagents(rows)
}

func (r *reagentRepoPG) ListExpiringBefore(ctx context.Context, date time.Time) ([]*Reagent, error) {
	rows, err := connFor(ctx, r.pool).Query(ctx,
		`SELECT `+reagentCols+` FROM reagent WHERE expiry_date IS NOT NULL AND expiry_date <= $1 ORDER BY expiry_date`, date)
	if err != nil {
		return nil, err
	}
	return scanReagents(rows)
}

// =========== Stock Item ===========

type stockItemRepoPG struct{ pool *pgxpool.Pool }

func NewStockItemRepoPG(pool *pgxpool.Pool) StockItemRepository {
	return &stockItemRepoPG{pool: pool}
}

const stockItemCols = `id, name, item_code, category, quantity, unit, minimum_quantity, unit_cost,
	supplier, storage_location, lab_id, created_at, updated_at`

func scanStockItem(row pgx.Row) (*StockItem, error) {
	var s StockItem
	err := row.Scan(&s.ID, &s.Name, &s.ItemCode, &s.Category, &s.Quantity, &s.Unit, &s.MinimumQuantity,
		&s.UnitCost, &s.Supplier, &s.StorageLocation, &s.LabID, &s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		return nil, db.NoRows(err, "stock item")
	}
	return &s, nil
}

func scanStockItems(rows pgx.Rows) ([]*StockItem, error) {
	defer rows.Close()
	var items []*StockItem
	for rows.Next() {
		s, err := scanStockItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, s)
	}
	return items, rows.Err()
}

func (r *stockItemRepoPG) Create(ctx context.Context, s *StockItem) error {
	s.ID = uuid.New()
	return connFor(ctx, r.pool).QueryRow(ctx, `
		INSERT INTO stock_item (id, name, item_code, category, quantity, unit, minimum_quantity, unit_cost,
			supplier, storage_location, lab_id)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
		RETURNING created_at, updated_at`,
		s.ID, s.Name, s.ItemCode, s.Category, s.Quantity, s.Unit, s.MinimumQuantity, s.UnitCost,
		s.Supplier, s.StorageLocation, s.LabID,
	).Scan(&s.CreatedAt, &s.UpdatedAt)
}

func (r *stockItemRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*StockItem, error) {
	return scanStockItem(connFor(ctx, r.pool).QueryRow(ctx, `SELECT `+stockItemCols+` FROM stock_item WHERE id = $1`, id))
}

func (r *stockItemRepoPG) GetForUpdate(ctx context.Context, id uuid.UUID) (*StockItem, error) {
	return scanStockItem(connFor(ctx, r.pool).QueryRow(ctx, `SELECT `+stockItemCols+` FROM stock_item WHERE id = $1 FOR UPDATE`, id))
}

func (r *stockItemRepoPG) Update(ctx context.Context, s *StockItem) error {
	tag, err := connFor(ctx, r.pool).Exec(ctx, `
		UPDATE stock_item SET name=$2, item_code=$3, category=$4, unit=$5, minimum_quantity=$6,
			unit_cost=$7, supplier=$8, storage_location=$9, lab_id=$10, updated_at=NOW()
		WHERE id = $1`,
		s.ID, s.Name, s.ItemCode, s.Category, s.Unit, s.MinimumQuantity,
		s.UnitCost, s.Supplier, s.StorageLocation, s.LabID)
	if err != nil {
		return err
	}
	return mustAffect(tag, "stock item")
}

func (r *stockItemRepoPG) SetQuantity(ctx context.Context, id uuid.UUID, qty decimal.Decimal) error {
	tag, err := connFor(ctx, r.pool).Exec(ctx,
		`UPDATE stock_item SET quantity = $2, updated_at = NOW() WHERE id = $1`, id, qty)
	if err != nil {
		return err
	}
	return mustAffect(tag, "stock item")
}

func (r *stockItemRepoPG) Delete(ctx context.Context, id uuid.UUID) error {
	_, err := connFor(ctx, r.pool).Exec(ctx, `DELETE FROM stock_item WHERE id = $1`, id)
	return err
}

func (r *stockItemRepoPG) Search(ctx context.Context, params map[string]string, limit, offset int) ([]*StockItem, int, error) {
	where := ` WHERE 1=1`
	var args []interface{}
	idx := 1

	if v, ok := params["q"]; ok {
		where += fmt.Sprintf(` AND (name ILIKE $%d OR item_code ILIKE $%d)`, idx, idx)
		args = append(args, "%"+v+"%")
		idx++
	}
	if v, ok := params["category"]; ok {
		where += fmt.Sprintf(` AND category = $%d`, idx)
		args = append(args, v)
		idx++
	}
	if params["low_stock"] == "true" {
		where += ` AND quantity <= minimum_quantity`
	}

	var total int
	if err := connFor(ctx, r.pool).QueryRow(ctx, `SELECT COUNT(*) FROM stock_item`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}
	query := `SELECT ` + stockItemCols + ` FROM stock_item` + where +
		fmt.Sprintf(` ORDER BY name LIMIT $%d OFFSET $%d`, idx, idx+1)
	args = append(args, limit, offset)

	rows, err := connFor(ctx, r.pool).Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	items, err := scanStockItems(rows)
	return items, total, err
}

func (r *stockItemRepoPG) ListLowStock(ctx context.Context) ([]*StockItem, error) {
	rows, err := connFor(ctx, r.pool).Query(ctx,
		`SELECT `+stockItemCols+` FROM stock_item WHERE quantity <= minimum_quantity ORDER BY name`)
	if err != nil {
		return nil, err
	}
	return scanStockItems(rows)
}

// =========== Transaction ===========

type transactionRepoPG struct{ pool *pgxpool.Pool }

func NewTransactionRepoPG(pool *pgxpool.Pool) TransactionRepository {
	return &transactionRepoPG{pool: pool}
}

const selectTransaction = `SELECT t.id, t.transaction_type, t.reagent_id, t.stock_item_id, t.quantity,
	t.unit_cost, t.total_cost, t.reason, t.performed_by, t.performed_at, t.created_at,
	COALESCE(r.name, s.name, '')
	FROM inventory_transaction t
	LEFT JOIN reagent r ON r.id = t.reagent_id
	LEFT JOIN stock_item s ON s.id = t.stock_item_id`

func scanTransaction(row pgx.Row) (*Transaction, error) {
	var t Transaction
	err := row.Scan(&t.ID, &t.Type, &t.ReagentID, &t.StockItemID, &t.Quantity,
		&t.UnitCost, &t.TotalCost, &t.Reason, &t.PerformedBy, &t.PerformedAt, &t.CreatedAt, &t.ItemName)
	if err != nil {
		return nil, db.NoRows(err, "inventory transaction")
	}
	return &t, nil
}

func (r *transactionRepoPG) Create(ctx context.Context, t *Transaction) error {
	t.ID = uuid.New()
	return connFor(ctx, r.pool).QueryRow(ctx, `
		INSERT INTO inventory_transaction (id, transaction_type, reagent_id, stock_item_id, quantity,
			unit_cost, total_cost, reason, performed_by, performed_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
		RETURNING created_at`,
		t.ID, t.Type, t.ReagentID, t.StockItemID, t.Quantity,
		t.UnitCost, t.TotalCost, t.Reason, t.PerformedBy, t.PerformedAt,
	).Scan(&t.CreatedAt)
}

func (r *transactionRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Transaction, error) {
	return scanTransaction(connFor(ctx, r.pool).QueryRow(ctx, selectTransaction+` WHERE t.id = $1`, id))
}

func (r *transactionRepoPG) Search(ctx context.Context, params map[string]string, limit, offset int) ([]*Transaction, int, error) {
	where := ` WHERE 1=1`
	var args []interface{}
	idx := 1

	for _, f := range []struct{ param, column string }{
		{"type", "t.transaction_type"}, {"reagent", "t.reagent_id"}, {"stock_item", "t.stock_item_id"},
		{"performed_by", "t.performed_by"},
	} {
		if v, ok := params[f.param]; ok {
			where += fmt.Sprintf(` AND %s = $%d`, f.column, idx)
			args = append(args, v)
			idx++
		}
	}
	if v, ok := params["from"]; ok {
		where += fmt.Sprintf(` AND t.performed_at >= $%d`, idx)
		args = append(args, v)
		idx++
	}
	if v, ok := params["to"]; ok {
		where += fmt.Sprintf(` AND t.performed_at < $%d`, idx)
		args = append(args, v)
		idx++
	}

	var total int
	if err := connFor(ctx, r.pool).QueryRow(ctx, `SELECT COUNT(*) FROM inventory_transaction t`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}
	query := selectTransaction + where +
		fmt.Sprintf(` ORDER BY t.performed_at DESC LIMIT $%d OFFSET $%d`, idx, idx+1)
	args = append(args, limit, offset)

	rows, err := connFor(ctx, r.pool).Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []*Transaction
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, t)
	}
	return items, total, rows.Err()
}

// =========== Cost Center ===========

type costCenterRepoPG struct{ pool *pgxpool.Pool }

func NewCostCenterRepoPG(pool *pgxpool.Pool) CostCenterRepository {
	return &costCenterRepoPG{pool: pool}
}

const costCenterCols = `id, code, name, description, monthly_budget, yearly_budget, manager_id, active, created_at, updated_at`

func scanCostCenter(row pgx.Row) (*CostCenter, error) {
	var c CostCenter
	err := row.Scan(&c.ID, &c.Code, &c.Name, &c.Description, &c.MonthlyBudget, &c.YearlyBudget,
		&c.ManagerID, &c.Active, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return nil, db.NoRows(err, "cost center")
	}
	return &c, nil
}

func (r *costCenterRepoPG) Create(ctx context.Context, c *CostCenter) error {
	c.ID = uuid.New()
	return connFor(ctx, r.pool).QueryRow(ctx, `
		INSERT INTO cost_center (id, code, name, description, monthly_budget, yearly_budget, manager_id, active)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
		RETURNING created_at, updated_at`,
		c.ID, c.Code, c.Name, c.Description, c.MonthlyBudget, c.YearlyBudget, c.ManagerID, c.Active,
	).Scan(&c.CreatedAt, &c.UpdatedAt)
}

func (r *costCenterRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*CostCenter, error) {
	return scanCostCenter(connFor(ctx, r.pool).QueryRow(ctx, `SELECT `+costCenterCols+` FROM cost_center WHERE id = $1`, id))
}

func (r *costCenterRepoPG) Update(ctx context.Context, c *CostCenter) error {
	tag, err := connFor(ctx, r.pool).Exec(ctx, `
		UPDATE cost_center SET code=$2, name=$3, description=$4, monthly_budget=$5, yearly_budget=$6,
			manager_id=$7, active=$8, updated_at=NOW()
		WHERE id = $1`,
		c.ID, c.Code, c.Name, c.Description, c.MonthlyBudget, c.YearlyBudget, c.ManagerID, c.Active)
	if err != nil {
		return err
	}
	return mustAffect(tag, "cost center")
}

func (r *costCenterRepoPG) Delete(ctx context.Context, id uuid.UUID) error {
	_, err := connFor(ctx, r.pool).Exec(ctx, `DELETE FROM cost_center WHERE id = $1`, id)
	return err
}

func (r *costCenterRepoPG) List(ctx context.Context, activeOnly bool, limit, offset int) ([]*CostCenter, int, error) {
	where := ``
	if activeOnly {
		where = ` WHERE active`
	}
	var total int
	if err := connFor(ctx, r.pool).QueryRow(ctx, `SELECT COUNT(*) FROM cost_center`+where).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := connFor(ctx, r.pool).Query(ctx,
		`SELECT `+costCenterCols+` FROM cost_center`+where+` ORDER BY code LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []*CostCenter
	for rows.Next() {
		c, err := scanCostCenter(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, c)
	}
	return items, total, rows.Err()
}

func (r *costCenterRepoPG) CreateAllocation(ctx context.Context, a *CostAllocation) error {
	a.ID = uuid.New()
	return connFor(ctx, r.pool).QueryRow(ctx, `
		INSERT INTO cost_allocation (id, transaction_id, cost_center_id, percentage, allocated_cost)
		VALUES ($1,$2,$3,$4,$5)
		RETURNING created_at`,
		a.ID, a.TransactionID, a.CostCenterID, a.Percentage, a.AllocatedCost,
	).Scan(&a.CreatedAt)
}

func (r *costCenterRepoPG) ListAllocations(ctx context.Context, transactionID uuid.UUID) ([]*CostAllocation, error) {
	rows, err := connFor(ctx, r.pool).Query(ctx, `
		SELECT id, transaction_id, cost_center_id, percentage, allocated_cost, created_at
		FROM cost_allocation WHERE transaction_id = $1 ORDER BY created_at`, transactionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []*CostAllocation
	for rows.Next() {
		var a CostAllocation
		if err := rows.Scan(&a.ID, &a.TransactionID, &a.CostCenterID, &a.Percentage, &a.AllocatedCost, &a.CreatedAt); err != nil {
			return nil, err
		}
		items = append(items, &a)
	}
	return items, rows.Err()
}

// =========== Reagent Usage ===========

type usageRepoPG struct{ pool *pgxpool.Pool }

func NewUsageRepoPG(pool *pgxpool.Pool) UsageRepository {
	return &usageRepoPG{pool: pool}
}

func (r *usageRepoPG) Create(ctx context.Context, u *ReagentUsage) error {
	u.ID = uuid.New()
	_, err := connFor(ctx, r.pool).Exec(ctx, `
		INSERT INTO reagent_usage (id, assignment_id, reagent_id, quantity, unit_cost_at_usage, total_cost,
			transaction_id, used_by, notes, used_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`,
		u.ID, u.AssignmentID, u.ReagentID, u.Quantity, u.UnitCostAtUsage, u.TotalCost,
		u.TransactionID, u.UsedBy, u.Notes, u.UsedAt)
	return err
}

func (r *usageRepoPG) ListByAssignment(ctx context.Context, assignmentID uuid.UUID) ([]*ReagentUsage, error) {
	rows, err := connFor(ctx, r.pool).Query(ctx, `
		SELECT u.id, u.assignment_id, u.reagent_id, u.quantity, u.unit_cost_at_usage, u.total_cost,
			u.transaction_id, u.used_by, u.notes, u.used_at, r.name
		FROM reagent_usage u JOIN reagent r ON r.id = u.reagent_id
		WHERE u.assignment_id = $1 ORDER BY u.used_at`, assignmentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []*ReagentUsage
	for rows.Next() {
		var u ReagentUsage
		if err := rows.Scan(&u.ID, &u.AssignmentID, &u.ReagentID, &u.Quantity, &u.UnitCostAtUsage, &u.TotalCost,
			&u.TransactionID, &u.UsedBy, &u.Notes, &u.UsedAt, &u.ReagentName); err != nil {
			return nil, err
		}
		items = append(items, &u)
	}
	return items, rows.Err()
}

func (r *usageRepoPG) SumByAssignment(ctx context.Context, assignmentID uuid.UUID) (decimal.Decimal, error) {
	var sum decimal.Decimal
	err := connFor(ctx, r.pool).QueryRow(ctx,
		`SELECT COALESCE(SUM(total_cost), 0) FROM reagent_usage WHERE assignment_id = $1`, assignmentID,
	).Scan(&sum)
	return sum, err
}
