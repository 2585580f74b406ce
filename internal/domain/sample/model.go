package sample

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

const (
	StatusRegistered = "registered"
	StatusInProgress = "in_progress"
	StatusCompleted  = "completed"
	StatusRejected   = "rejected"
	StatusArchived   = "archived"
)

const (
	PriorityLow    = "low"
	PriorityNormal = "normal"
	PriorityHigh   = "high"
	PriorityUrgent = "urgent"
)

var validStatuses = map[string]bool{
	StatusRegistered: true, StatusInProgress: true, StatusCompleted: true,
	StatusRejected: true, StatusArchived: true,
}

var validTypes = map[string]bool{
	"blood": true, "urine": true, "tissue": true, "water": true,
	"soil": true, "food": true, "other": true,
}

// priorityDeadlineHours is the default time allowed from registration to
// completion for each priority.
var priorityDeadlineHours = map[string]int{
	PriorityUrgent: 4,
	PriorityHigh:   24,
	PriorityNormal: 72,
	PriorityLow:    168,
}

const defaultDeadlineHours = 72

// DefaultApproachingHours is the look-ahead window for samples whose
// deadline is near.
const DefaultApproachingHours = 24

// Sample is a specimen received by the lab.
type Sample struct {
	ID                 uuid.UUID  `json:"id"`
	SampleCode         string     `json:"sample_code"`
	SampleType         string     `json:"sample_type"`
	Source             string     `json:"source"`
	Status             string     `json:"status"`
	Priority           string     `json:"priority"`
	LabID              *uuid.UUID `json:"lab_id,omitempty"`
	ReceivedAt         time.Time  `json:"received_at"`
	CollectedAt        *time.Time `json:"collected_at,omitempty"`
	Deadline           *time.Time `json:"deadline,omitempty"`
	ActualCompletionAt *time.Time `json:"actual_completion_at,omitempty"`
	TechnicianID       *uuid.UUID `json:"technician_id,omitempty"`
	RegisteredBy       *uuid.UUID `json:"registered_by,omitempty"`
	Notes              *string    `json:"notes,omitempty"`
	CreatedAt          time.Time  `json:"created_at"`
	UpdatedAt          time.Time  `json:"updated_at"`
}

// closed reports whether the sample no longer counts against its deadline.
func (s *Sample) closed() bool {
	return s.Status == StatusCompleted || s.Status == StatusArchived
}

// IsOverdue reports whether the deadline has passed on an open sample.
func (s *Sample) IsOverdue(now time.Time) bool {
	return s.Deadline != nil && now.After(*s.Deadline) && !s.closed()
}

// IsDeadlineApproaching reports whether an open sample's deadline falls
// within the next hours.
func (s *Sample) IsDeadlineApproaching(now time.Time, hours int) bool {
	if s.Deadline == nil || s.closed() {
		return false
	}
	return s.Deadline.After(now) && !s.Deadline.After(now.Add(time.Duration(hours)*time.Hour))
}

// DaysUntilDeadline returns the whole days left, rounded down, so an
// overdue sample yields a negative count. Nil without a deadline.
func (s *Sample) DaysUntilDeadline(now time.Time) *int {
	if s.Deadline == nil {
		return nil
	}
	days := FloorDays(s.Deadline.Sub(now))
	return &days
}

// FloorDays converts d to whole days rounding toward negative infinity.
func FloorDays(d time.Duration) int {
	const day = 24 * time.Hour
	n := d / day
	if d%day < 0 {
		n--
	}
	return int(n)
}

// DeadlineHours returns the default completion window for priority.
func DeadlineHours(priority string) int {
	if h, ok := priorityDeadlineHours[priority]; ok {
		return h
	}
	return defaultDeadlineHours
}

// AssignDeadline sets s.Deadline. An explicit time wins, then an explicit
// number of hours from now, then the priority default.
func AssignDeadline(s *Sample, explicit *time.Time, hours *int, now time.Time) {
	switch {
	case explicit != nil:
		d := *explicit
		s.Deadline = &d
	case hours != nil:
		d := now.Add(time.Duration(*hours) * time.Hour)
		s.Deadline = &d
	default:
		d := now.Add(time.Duration(DeadlineHours(s.Priority)) * time.Hour)
		s.Deadline = &d
	}
}

// CodePrefix is the per-day prefix of generated sample codes.
func CodePrefix(day time.Time) string {
	return "SMP-" + day.Format("20060102") + "-"
}

// FormatCode builds SMP-YYYYMMDD-NNNN.
func FormatCode(day time.Time, seq int) string {
	return fmt.Sprintf("%s%04d", CodePrefix(day), seq)
}

// Detail adds the deadline figures computed at read time.
type Detail struct {
	*Sample
	IsOverdue         bool `json:"is_overdue"`
	DaysUntilDeadline *int `json:"days_until_deadline"`
}

func NewDetail(s *Sample, now time.Time) Detail {
	return Detail{Sample: s, IsOverdue: s.IsOverdue(now), DaysUntilDeadline: s.DaysUntilDeadline(now)}
}
