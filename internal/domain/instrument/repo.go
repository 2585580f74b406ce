package instrument

import (
	"context"
	"time"

	"github.com/google/uuid"
)

type Repository interface {
	Create(ctx context.Context, i *Instrument) error
	GetByID(ctx context.Context, id uuid.UUID) (*Instrument, error)
	Update(ctx context.Context, i *Instrument) error
	Delete(ctx context.Context, id uuid.UUID) error
	Search(ctx context.Context, params map[string]string, limit, offset int) ([]*Instrument, int, error)
	// ListCalibrationDue returns instruments whose next calibration is on
	// or before date, soonest first.
	ListCalibrationDue(ctx context.Context, date time.Time) ([]*Instrument, error)

	CreateCalibration(ctx context.Context, c *CalibrationRecord) error
	ListCalibrations(ctx context.Context, instrumentID *uuid.UUID, limit, offset int) ([]*CalibrationRecord, int, error)
	CreateMaintenance(ctx context.Context, m *MaintenanceLog) error
	ListMaintenance(ctx context.Context, instrumentID *uuid.UUID, limit, offset int) ([]*MaintenanceLog, int, error)
}
