package instrument

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/lims/lims/internal/domain/personnel"
	"github.com/lims/lims/internal/platform/apperr"
	"github.com/lims/lims/internal/platform/db"
)

type Service struct {
	instruments Repository
	tx          db.TxRunner
	logger      zerolog.Logger
	now         func() time.Time
}

func NewService(instruments Repository, tx db.TxRunner, logger zerolog.Logger) *Service {
	if tx == nil {
		tx = db.NoTx{}
	}
	return &Service{instruments: instruments, tx: tx, logger: logger, now: time.Now}
}

func validateInstrument(i *Instrument) error {
	if strings.TrimSpace(i.Name) == "" {
		return apperr.Validation("name is required")
	}
	i.SerialNumber = strings.TrimSpace(i.SerialNumber)
	if i.SerialNumber == "" {
		return apperr.Validation("serial_number is required")
	}
	if i.Status == "" {
		i.Status = StatusOperational
	}
	if !validStatuses[i.Status] {
		return apperr.Validation("invalid status: %q", i.Status)
	}
	if i.CalibrationFrequencyDays == 0 {
		i.CalibrationFrequencyDays = DefaultCalibrationFrequencyDays
	}
	if i.CalibrationFrequencyDays < 0 {
		return apperr.Validation("calibration_frequency_days must be positive")
	}
	return nil
}

func (s *Service) CreateInstrument(ctx context.Context, i *Instrument) error {
	if err := validateInstrument(i); err != nil {
		return err
	}
	if err := s.instruments.Create(ctx, i); err != nil {
		if db.IsUniqueViolation(err) {
			return apperr.Validation("serial number %s already exists", i.SerialNumber)
		}
		return err
	}
	return nil
}

func (s *Service) GetInstrument(ctx context.Context, id uuid.UUID) (*Instrument, error) {
	return s.instruments.GetByID(ctx, id)
}

// UpdateInstrument edits an instrument. Calibration dates are kept from
// the stored record; they move only through RecordCalibration.
func (s *Service) UpdateInstrument(ctx context.Context, i *Instrument) error {
	if err := validateInstrument(i); err != nil {
		return err
	}
	cur, err := s.instruments.GetByID(ctx, i.ID)
	if err != nil {
		return err
	}
	i.LastCalibration = cur.LastCalibration
	i.NextCalibration = cur.NextCalibration
	if err := s.instruments.Update(ctx, i); err != nil {
		if db.IsUniqueViolation(err) {
			return apperr.Validation("serial number %s already exists", i.SerialNumber)
		}
		return err
	}
	return nil
}

func (s *Service) DeleteInstrument(ctx context.Context, id uuid.UUID) error {
	return s.instruments.Delete(ctx, id)
}

func (s *Service) SearchInstruments(ctx context.Context, params map[string]string, limit, offset int) ([]*Instrument, int, error) {
	if v, ok := params["status"]; ok && !validStatuses[v] {
		return nil, 0, apperr.Validation("invalid status: %q", v)
	}
	return s.instruments.Search(ctx, params, limit, offset)
}

// CalibrationDue lists instruments due for calibration within days, or the
// default 30-day window when days is not positive.
func (s *Service) CalibrationDue(ctx context.Context, days int) ([]*Instrument, error) {
	if days <= 0 {
		days = DefaultCalibrationWindowDays
	}
	return s.instruments.ListCalibrationDue(ctx, dateOf(s.now()).AddDate(0, 0, days))
}

// RecordCalibration stores a calibration and moves the instrument's last
// and next calibration dates. When NextDue is omitted it is derived from
// the instrument's calibration frequency.
func (s *Service) RecordCalibration(ctx context.Context, c *CalibrationRecord) (*CalibrationRecord, error) {
	if c.CalibratedOn.IsZero() {
		return nil, apperr.Validation("calibrated_on is required")
	}
	c.CalibratedOn = dateOf(c.CalibratedOn)
	if c.CalibratedOn.After(dateOf(s.now())) {
		return nil, apperr.Validation("calibrated_on cannot be in the future")
	}
	if c.NextDue != nil {
		next := dateOf(*c.NextDue)
		if !next.After(c.CalibratedOn) {
			return nil, apperr.Validation("next_due must be after calibrated_on")
		}
		c.NextDue = &next
	}
	c.PerformedBy = personnel.ActorID(ctx)

	err := s.tx.RunInTx(ctx, func(ctx context.Context) error {
		inst, err := s.instruments.GetByID(ctx, c.InstrumentID)
		if err != nil {
			return err
		}
		if c.NextDue == nil {
			next := inst.NextCalibrationAfter(c.CalibratedOn)
			c.NextDue = &next
		}
		if err := s.instruments.CreateCalibration(ctx, c); err != nil {
			return err
		}
		c.InstrumentName = inst.Name
		// An older record entered late must not roll the dates back.
		if inst.LastCalibration != nil && inst.LastCalibration.After(c.CalibratedOn) {
			return nil
		}
		on := c.CalibratedOn
		inst.LastCalibration = &on
		inst.NextCalibration = c.NextDue
		return s.instruments.Update(ctx, inst)
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info().
		Str("instrument_id", c.InstrumentID.String()).
		Time("calibrated_on", c.CalibratedOn).
		Time("next_due", *c.NextDue).
		Bool("passed", c.Passed).
		Msg("calibration recorded")
	return c, nil
}

func (s *Service) ListCalibrations(ctx context.Context, instrumentID *uuid.UUID, limit, offset int) ([]*CalibrationRecord, int, error) {
	return s.instruments.ListCalibrations(ctx, instrumentID, limit, offset)
}

func (s *Service) RecordMaintenance(ctx context.Context, m *MaintenanceLog) (*MaintenanceLog, error) {
	if !validMaintenanceTypes[m.MaintenanceType] {
		return nil, apperr.Validation("invalid maintenance_type: %q", m.MaintenanceType)
	}
	if strings.TrimSpace(m.Description) == "" {
		return nil, apperr.Validation("description is required")
	}
	if m.Cost.Valid && m.Cost.Decimal.IsNegative() {
		return nil, apperr.Validation("cost must not be negative")
	}
	if m.DowntimeHours.Valid && m.DowntimeHours.Decimal.IsNegative() {
		return nil, apperr.Validation("downtime_hours must not be negative")
	}
	if m.PerformedAt.IsZero() {
		m.PerformedAt = s.now()
	}
	m.PerformedBy = personnel.ActorID(ctx)

	inst, err := s.instruments.GetByID(ctx, m.InstrumentID)
	if err != nil {
		return nil, err
	}
	if err := s.instruments.CreateMaintenance(ctx, m); err != nil {
		return nil, err
	}
	m.InstrumentName = inst.Name
	s.logger.Info().
		Str("instrument_id", m.InstrumentID.String()).
		Str("type", m.MaintenanceType).
		Msg("maintenance logged")
	return m, nil
}

func (s *Service) ListMaintenance(ctx context.Context, instrumentID *uuid.UUID, limit, offset int) ([]*MaintenanceLog, int, error) {
	return s.instruments.ListMaintenance(ctx, instrumentID, limit, offset)
}

// Detail is an instrument with its most recent calibrations and
// maintenance.
type Detail struct {
	*Instrument
	CalibrationDue     bool                 `json:"calibration_due"`
	RecentCalibrations []*CalibrationRecord `json:"recent_calibrations"`
	RecentMaintenance  []*MaintenanceLog    `json:"recent_maintenance"`
}

const recentLimit = 5

func (s *Service) GetDetail(ctx context.Context, id uuid.UUID) (*Detail, error) {
	inst, err := s.instruments.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	cals, _, err := s.instruments.ListCalibrations(ctx, &id, recentLimit, 0)
	if err != nil {
		return nil, err
	}
	logs, _, err := s.instruments.ListMaintenance(ctx, &id, recentLimit, 0)
	if err != nil {
		return nil, err
	}
	return &Detail{
		Instrument:         inst,
		CalibrationDue:     inst.CalibrationDue(s.now(), DefaultCalibrationWindowDays),
		RecentCalibrations: cals,
		RecentMaintenance:  logs,
	}, nil
}
