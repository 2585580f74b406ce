package instrument

import (
	"context"
	"fmt"
	"time"

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

const instrumentCols = `id, name, model, serial_number, manufacturer, status, location, lab_id, purchase_date,
	last_calibration, next_calibration, calibration_frequency_days, notes, created_at, updated_at`

func scanInstrument(row pgx.Row) (*Instrument, error) {
	var i Instrument
	err := row.Scan(&i.ID, &i.Name, &i.Model, &i.SerialNumber, &i.Manufacturer, &i.Status, &i.Location, &i.LabID,
		&i.PurchaseDate, &i.LastCalibration, &i.NextCalibration, &i.CalibrationFrequencyDays, &i.Notes,
		&i.CreatedAt, &i.UpdatedAt)
	if err != nil {
		return nil, db.NoRows(err, "instrument")
	}
	return &i, nil
}

func scanInstruments(rows pgx.Rows) ([]*Instrument, error) {
	defer rows.Close()
	var items []*Instrument
	for rows.Next() {
		i, err := scanInstrument(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	return items, rows.Err()
}

func (r *repoPG) Create(ctx context.Context, i *Instrument) error {
	i.ID = uuid.New()
	return r.conn(ctx).QueryRow(ctx, `
		INSERT INTO instrument (id, name, model, serial_number, manufacturer, status, location, lab_id,
			purchase_date, last_calibration, next_calibration, calibration_frequency_days, notes)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
		RETURNING created_at, updated_at`,
		i.ID, i.Name, i.Model, i.SerialNumber, i.Manufacturer, i.Status, i.Location, i.LabID,
		i.PurchaseDate, i.LastCalibration, i.NextCalibration, i.CalibrationFrequencyDays, i.Notes,
	).Scan(&i.CreatedAt, &i.UpdatedAt)
}

func (r *repoPG) GetByID(ctx context.Context, id uuid.UUID) (*Instrument, error) {
	return scanInstrument(r.conn(ctx).QueryRow(ctx, `SELECT `+instrumentCols+` FROM instrument WHERE id = $1`, id))
}

func (r *repoPG) Update(ctx context.Context, i *Instrument) error {
	err := r.conn(ctx).QueryRow(ctx, `
		UPDATE instrument SET name=$2, model=$3, serial_number=$4, manufacturer=$5, status=$6, location=$7,
			lab_id=$8, purchase_date=$9, last_calibration=$10, next_calibration=$11,
			calibration_frequency_days=$12, notes=$13, updated_at=NOW()
		WHERE id = $1
		RETURNING updated_at`,
		i.ID, i.Name, i.Model, i.SerialNumber, i.Manufacturer, i.Status, i.Location, i.LabID,
		i.PurchaseDate, i.LastCalibration, i.NextCalibration, i.CalibrationFrequencyDays, i.Notes,
	).Scan(&i.UpdatedAt)
	return db.NoRows(err, "instrument")
}

func (r *repoPG) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.conn(ctx).Exec(ctx, `DELETE FROM instrument WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return db.NoRows(pgx.ErrNoRows, "instrument")
	}
	return nil
}

func (r *repoPG) Search(ctx context.Context, params map[string]string, limit, offset int) ([]*Instrument, int, error) {
	query := `SELECT ` + instrumentCols + ` FROM instrument WHERE 1=1`
	countQuery := `SELECT COUNT(*) FROM instrument WHERE 1=1`
	var args []interface{}
	idx := 1

	if v, ok := params["status"]; ok {
		query += fmt.Sprintf(` AND status = $%d`, idx)
		countQuery += fmt.Sprintf(` AND status = $%d`, idx)
		args = append(args, v)
		idx++
	}
	if v, ok := params["lab"]; ok {
		query += fmt.Sprintf(` AND lab_id = $%d`, idx)
		countQuery += fmt.Sprintf(` AND lab_id = $%d`, idx)
		args = append(args, v)
		idx++
	}
	if v, ok := params["q"]; ok {
		clause := fmt.Sprintf(` AND (name ILIKE $%d OR serial_number ILIKE $%d OR manufacturer ILIKE $%d)`, idx, idx, idx)
		query += clause
		countQuery += clause
		args = append(args, "%"+v+"%")
		idx++
	}

	var total int
	if err := r.conn(ctx).QueryRow(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query += fmt.Sprintf(` ORDER BY name LIMIT $%d OFFSET $%d`, idx, idx+1)
	args = append(args, limit, offset)

	rows, err := r.conn(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	items, err := scanInstruments(rows)
	return items, total, err
}

func (r *repoPG) ListCalibrationDue(ctx context.Context, date time.Time) ([]*Instrument, error) {
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+instrumentCols+` FROM instrument
		WHERE next_calibration IS NOT NULL AND next_calibration <= $1
		ORDER BY next_calibration, name`, date)
	if err != nil {
		return nil, err
	}
	return scanInstruments(rows)
}

func (r *repoPG) CreateCalibration(ctx context.Context, c *CalibrationRecord) error {
	c.ID = uuid.New()
	return r.conn(ctx).QueryRow(ctx, `
		INSERT INTO calibration_record (id, instrument_id, calibrated_on, next_due, passed, standards_used,
			results, certificate_number, performed_by, notes)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
		RETURNING created_at`,
		c.ID, c.InstrumentID, c.CalibratedOn, c.NextDue, c.Passed, c.StandardsUsed,
		c.Results, c.CertificateNumber, c.PerformedBy, c.Notes,
	).Scan(&c.CreatedAt)
}

func (r *repoPG) ListCalibrations(ctx context.Context, instrumentID *uuid.UUID, limit, offset int) ([]*CalibrationRecord, int, error) {
	where := ` WHERE 1=1`
	var args []interface{}
	if instrumentID != nil {
		where += ` AND c.instrument_id = $1`
		args = append(args, *instrumentID)
	}
	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM calibration_record c`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}
	query := `SELECT c.id, c.instrument_id, c.calibrated_on, c.next_due, c.passed, c.standards_used, c.results,
			c.certificate_number, c.performed_by, c.notes, c.created_at, i.name
		FROM calibration_record c JOIN instrument i ON i.id = c.instrument_id` + where +
		fmt.Sprintf(` ORDER BY c.calibrated_on DESC, c.created_at DESC LIMIT $%d OFFSET $%d`, len(args)+1, len(args)+2)
	args = append(args, limit, offset)

	rows, err := r.conn(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []*CalibrationRecord
	for rows.Next() {
		var c CalibrationRecord
		if err := rows.Scan(&c.ID, &c.InstrumentID, &c.CalibratedOn, &c.NextDue, &c.Passed, &c.StandardsUsed,
			&c.Results, &c.CertificateNumber, &c.PerformedBy, &c.Notes, &c.CreatedAt, &c.InstrumentName); err != nil {
			return nil, 0, err
		}
		items = append(items, &c)
	}
	return items, total, rows.Err()
}

func (r *repoPG) CreateMaintenance(ctx context.Context, m *MaintenanceLog) error {
	m.ID = uuid.New()
	return r.conn(ctx).QueryRow(ctx, `
		INSERT INTO maintenance_log (id, instrument_id, maintenance_type, performed_at, performed_by,
			description, parts_replaced, cost, downtime_hours, notes)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
		RETURNING created_at`,
		m.ID, m.InstrumentID, m.MaintenanceType, m.PerformedAt, m.PerformedBy,
		m.Description, m.PartsReplaced, m.Cost, m.DowntimeHours, m.Notes,
	).Scan(&m.CreatedAt)
}

func (r *repoPG) ListMaintenance(ctx context.Context, instrumentID *uuid.UUID, limit, offset int) ([]*MaintenanceLog, int, error) {
	where := ` WHERE 1=1`
	var args []interface{}
	if instrumentID != nil {
		where += ` AND m.instrument_id = $1`
		args = append(args, *instrumentID)
	}
	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM maintenance_log m`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}
	query := `SELECT m.id, m.instrument_id, m.maintenance_type, m.performed_at, m.performed_by, m.description,
			m.parts_replaced, m.cost, m.downtime_hours, m.notes, m.created_at, i.name
		FROM maintenance_log m JOIN instrument i ON i.id = m.instrument_id` + where +
		fmt.Sprintf(` ORDER BY m.performed_at DESC LIMIT $%d OFFSET $%d`, len(args)+1, len(args)+2)
	args = append(args, limit, offset)

	rows, err := r.conn(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []*MaintenanceLog
	for rows.Next() {
		var m MaintenanceLog
		if err := rows.Scan(&m.ID, &m.InstrumentID, &m.MaintenanceType, &m.PerformedAt, &m.PerformedBy,
			&m.Description, &m.PartsReplaced, &m.Cost, &m.DowntimeHours, &m.Notes, &m.CreatedAt,
			&m.InstrumentName); err != nil {
			return nil, 0, err
		}
		items = append(items, &m)
	}
	return items, total, rows.Err()
}
