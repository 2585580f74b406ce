package personnel

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

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

// ---- Lab ----

type labRepoPG struct{ pool *pgxpool.Pool }

func NewLabRepoPG(pool *pgxpool.Pool) LabRepository {
	return &labRepoPG{pool: pool}
}

const labCols = `id, code, name, address, phone, email, active, created_at, updated_at`

func scanLab(row pgx.Row) (*Lab, error) {
	var l Lab
	err := row.Scan(&l.ID, &l.Code, &l.Name, &l.Address, &l.Phone, &l.Email, &l.Active, &l.CreatedAt, &l.UpdatedAt)
	if err != nil {
		return nil, db.NoRows(err, "lab")
	}
	return &l, nil
}

func (r *labRepoPG) Create(ctx context.Context, l *Lab) error {
	l.ID = uuid.New()
	return connFor(ctx, r.pool).QueryRow(ctx, `
		INSERT INTO lab (id, code, name, address, phone, email, active)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
		RETURNING created_at, updated_at`,
		l.ID, l.Code, l.Name, l.Address, l.Phone, l.Email, l.Active,
	).Scan(&l.CreatedAt, &l.UpdatedAt)
}

func (r *labRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Lab, error) {
	return scanLab(connFor(ctx, r.pool).QueryRow(ctx, `SELECT `+labCols+` FROM lab WHERE id = $1`, id))
}

func (r *labRepoPG) Update(ctx context.Context, l *Lab) error {
	_, err := connFor(ctx, r.pool).Exec(ctx, `
		UPDATE lab SET code=$2, name=$3, address=$4, phone=$5, email=$6, active=$7, updated_at=NOW()
		WHERE id = $1`,
		l.ID, l.Code, l.Name, l.Address, l.Phone, l.Email, l.Active)
	return err
}

func (r *labRepoPG) Delete(ctx context.Context, id uuid.UUID) error {
	_, err := connFor(ctx, r.pool).Exec(ctx, `DELETE FROM lab WHERE id = $1`, id)
	return err
}

func (r *labRepoPG) List(ctx context.Context, limit, offset int) ([]*Lab, int, error) {
	var total int
	if err := connFor(ctx, r.pool).QueryRow(ctx, `SELECT COUNT(*) FROM lab`).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := connFor(ctx, r.pool).Query(ctx, `SELECT `+labCols+` FROM lab ORDER BY name LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []*Lab
	for rows.Next() {
		l, err := scanLab(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, l)
	}
	return items, total, rows.Err()
}

// ---- Person ----

type personRepoPG struct{ pool *pgxpool.Pool }

func NewPersonRepoPG(pool *pgxpool.Pool) PersonRepository {
	return &personRepoPG{pool: pool}
}

const personCols = `id, user_id, lab_id, first_name, last_name, email, phone, role, active, created_at, updated_at`

func scanPerson(row pgx.Row) (*Person, error) {
	var p Person
	err := row.Scan(&p.ID, &p.UserID, &p.LabID, &p.FirstName, &p.LastName, &p.Email, &p.Phone,
		&p.Role, &p.Active, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, db.NoRows(err, "person")
	}
	return &p, nil
}

func (r *personRepoPG) Create(ctx context.Context, p *Person) error {
	p.ID = uuid.New()
	return connFor(ctx, r.pool).QueryRow(ctx, `
		INSERT INTO person (id, user_id, lab_id, first_name, last_name, email, phone, role, active)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
		RETURNING created_at, updated_at`,
		p.ID, p.UserID, p.LabID, p.FirstName, p.LastName, p.Email, p.Phone, p.Role, p.Active,
	).Scan(&p.CreatedAt, &p.UpdatedAt)
}

func (r *personRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Person, error) {
	return scanPerson(connFor(ctx, r.pool).QueryRow(ctx, `SELECT `+personCols+` FROM person WHERE id = $1`, id))
}

func (r *personRepoPG) GetByUserID(ctx context.Context, userID string) (*Person, error) {
	return scanPerson(connFor(ctx, r.pool).QueryRow(ctx, `SELECT `+personCols+` FROM person WHERE user_id = $1`, userID))
}

func (r *personRepoPG) Update(ctx context.Context, p *Person) error {
	_, err := connFor(ctx, r.pool).Exec(ctx, `
		UPDATE person SET user_id=$2, lab_id=$3, first_name=$4, last_name=$5, email=$6, phone=$7,
			role=$8, active=$9, updated_at=NOW()
		WHERE id = $1`,
		p.ID, p.UserID, p.LabID, p.FirstName, p.LastName, p.Email, p.Phone, p.Role, p.Active)
	return err
}

func (r *personRepoPG) Delete(ctx context.Context, id uuid.UUID) error {
	_, err := connFor(ctx, r.pool).Exec(ctx, `DELETE FROM person WHERE id = $1`, id)
	return err
}

func (r *personRepoPG) Search(ctx context.Context, params map[string]string, limit, offset int) ([]*Person, int, error) {
	where := ` WHERE 1=1`
	var args []interface{}
	idx := 1

	if v, ok := params["role"]; ok {
		where += fmt.Sprintf(` AND role = $%d`, idx)
		args = append(args, v)
		idx++
	}
	if v, ok := params["lab"]; ok {
		where += fmt.Sprintf(` AND lab_id = $%d`, idx)
		args = append(args, v)
		idx++
	}
	if v, ok := params["active"]; ok {
		where += fmt.Sprintf(` AND active = $%d`, idx)
		args = append(args, v == "true")
		idx++
	}
	if v, ok := params["name"]; ok {
		where += fmt.Sprintf(` AND (first_name ILIKE $%d OR last_name ILIKE $%d)`, idx, idx)
		args = append(args, "%"+v+"%")
		idx++
	}

	var total int
	if err := connFor(ctx, r.pool).QueryRow(ctx, `SELECT COUNT(*) FROM person`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := `SELECT ` + personCols + ` FROM person` + where +
		fmt.Sprintf(` ORDER BY last_name, first_name LIMIT $%d OFFSET $%d`, idx, idx+1)
	args = append(args, limit, offset)

	rows, err := connFor(ctx, r.pool).Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []*Person
	for rows.Next() {
		p, err := scanPerson(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, p)
	}
	return items, total, rows.Err()
}
