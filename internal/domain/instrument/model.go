package instrument

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const (
	StatusOperational = "operational"
	StatusMaintenance = "maintenance"
	StatusCalibration = "calibration"
	StatusOffline     = "offline"
)

var validStatuses = map[string]bool{
	StatusOperational: true, StatusMaintenance: true, StatusCalibration: true, StatusOffline: true,
}

const (
	MaintenancePreventive = "preventive"
	MaintenanceCorrective = "corrective"
	MaintenanceEmergency  = "emergency"
)

var validMaintenanceTypes = map[string]bool{
	MaintenancePreventive: true, MaintenanceCorrective: true, MaintenanceEmergency: true,
}

const (
	DefaultCalibrationFrequencyDays = 365
	DefaultCalibrationWindowDays    = 30
)

type Instrument struct {
	ID                       uuid.UUID  `json:"id"`
	Name                     string     `json:"name"`
	Model                    *string    `json:"model,omitempty"`
	SerialNumber             string     `json:"serial_number"`
	Manufacturer             *string    `json:"manufacturer,omitempty"`
	Status                   string     `json:"status"`
	Location                 *string    `json:"location,omitempty"`
	LabID                    *uuid.UUID `json:"lab_id,omitempty"`
	PurchaseDate             *time.Time `json:"purchase_date,omitempty"`
	LastCalibration          *time.Time `json:"last_calibration,omitempty"`
	NextCalibration          *time.Time `json:"next_calibration,omitempty"`
	CalibrationFrequencyDays int        `json:"calibration_frequency_days"`
	Notes                    *string    `json:"notes,omitempty"`
	CreatedAt                time.Time  `json:"created_at"`
	UpdatedAt                time.Time  `json:"updated_at"`
}

// CalibrationDue reports whether the next calibration falls on or before
// now + days. Overdue calibrations are due.
func (i *Instrument) CalibrationDue(now time.Time, days int) bool {
	if i.NextCalibration == nil {
		return false
	}
	return !i.NextCalibration.After(dateOf(now).AddDate(0, 0, days))
}

// NextCalibrationAfter returns on + the instrument's calibration frequency.
func (i *Instrument) NextCalibrationAfter(on time.Time) time.Time {
	freq := i.CalibrationFrequencyDays
	if freq <= 0 {
		freq = DefaultCalibrationFrequencyDays
	}
	return dateOf(on).AddDate(0, 0, freq)
}

// dateOf truncates t to midnight UTC of its calendar day.
func dateOf(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

type CalibrationRecord struct {
	ID                uuid.UUID  `json:"id"`
	InstrumentID      uuid.UUID  `json:"instrument_id"`
	CalibratedOn      time.Time  `json:"calibrated_on"`
	NextDue           *time.Time `json:"next_due,omitempty"`
	Passed            bool       `json:"passed"`
	StandardsUsed     *string    `json:"standards_used,omitempty"`
	Results           *string    `json:"results,omitempty"`
	CertificateNumber *string    `json:"certificate_number,omitempty"`
	PerformedBy       *uuid.UUID `json:"performed_by,omitempty"`
	Notes             *string    `json:"notes,omitempty"`
	CreatedAt         time.Time  `json:"created_at"`

	InstrumentName string `json:"instrument_name,omitempty"`
}

type MaintenanceLog struct {
	ID              uuid.UUID           `json:"id"`
	InstrumentID    uuid.UUID           `json:"instrument_id"`
	MaintenanceType string              `json:"maintenance_type"`
	PerformedAt     time.Time           `json:"performed_at"`
	PerformedBy     *uuid.UUID          `json:"performed_by,omitempty"`
	Description     string              `json:"description"`
	PartsReplaced   *string             `json:"parts_replaced,omitempty"`
	Cost            decimal.NullDecimal `json:"cost"`
	DowntimeHours   decimal.NullDecimal `json:"downtime_hours"`
	Notes           *string             `json:"notes,omitempty"`
	CreatedAt       time.Time           `json:"created_at"`

	InstrumentName string `json:"instrument_name,omitempty"`
}
