package assignment

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const (
	StatusAssigned      = "assigned"
	StatusInProgress    = "in_progress"
	StatusWaitingReview = "waiting_review"
	StatusCompleted     = "completed"
	StatusRejected      = "rejected"
)

// Statuses lists every assignment status in workflow order.
var Statuses = []string{StatusAssigned, StatusInProgress, StatusWaitingReview, StatusCompleted, StatusRejected}

var transitions = map[string][]string{
	StatusAssigned:      {StatusInProgress},
	StatusInProgress:    {StatusWaitingReview},
	StatusWaitingReview: {StatusCompleted, StatusRejected, StatusAssigned},
	StatusRejected:      {StatusAssigned},
}

func knownStatus(status string) bool {
	for _, s := range Statuses {
		if s == status {
			return true
		}
	}
	return false
}

// CanTransition reports whether from → to is an allowed move.
func CanTransition(from, to string) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// DefaultApproachingHours is the look-ahead window for assignments whose
// deadline is near.
const DefaultApproachingHours = 12

// Assignment links one sample to one catalog test.
type Assignment struct {
	ID                 uuid.UUID       `json:"id"`
	SampleID           uuid.UUID       `json:"sample_id"`
	TestID             uuid.UUID       `json:"test_id"`
	Status             string          `json:"status"`
	AssignedTo         *uuid.UUID      `json:"assigned_to,omitempty"`
	AssignedBy         *uuid.UUID      `json:"assigned_by,omitempty"`
	AssignedAt         time.Time       `json:"assigned_at"`
	StartedAt          *time.Time      `json:"started_at,omitempty"`
	CompletedAt        *time.Time      `json:"completed_at,omitempty"`
	ExpectedCompletion *time.Time      `json:"expected_completion,omitempty"`
	Deadline           *time.Time      `json:"deadline,omitempty"`
	ActualCost         decimal.Decimal `json:"actual_cost"`
	Notes              *string         `json:"notes,omitempty"`
	CreatedAt          time.Time       `json:"created_at"`
	UpdatedAt          time.Time       `json:"updated_at"`

	// Read-only, joined from sample and lab_test.
	SampleCode string `json:"sample_code,omitempty"`
	TestCode   string `json:"test_code,omitempty"`
	TestName   string `json:"test_name,omitempty"`
}

// IsOverdue reports whether the deadline has passed. Only completed
// assignments are exempt; a rejected one can still be late.
func (a *Assignment) IsOverdue(now time.Time) bool {
	return a.Deadline != nil && now.After(*a.Deadline) && a.Status != StatusCompleted
}

// TimeRemaining is the signed time to the deadline, nil without one.
func (a *Assignment) TimeRemaining(now time.Time) *time.Duration {
	if a.Deadline == nil {
		return nil
	}
	d := a.Deadline.Sub(now)
	return &d
}

func (a *Assignment) IsDeadlineApproaching(now time.Time, hours int) bool {
	if a.Deadline == nil || a.Status == StatusCompleted {
		return false
	}
	return a.Deadline.After(now) && !a.Deadline.After(now.Add(time.Duration(hours)*time.Hour))
}

// apply moves a to status and stamps started/completed the first time
// they are entered.
func (a *Assignment) apply(status string, now time.Time) {
	a.Status = status
	switch status {
	case StatusInProgress:
		if a.StartedAt == nil {
			a.StartedAt = &now
		}
	case StatusCompleted:
		if a.CompletedAt == nil {
			a.CompletedAt = &now
		}
	}
}

// Detail adds read-time deadline figures.
type Detail struct {
	*Assignment
	IsOverdue            bool     `json:"is_overdue"`
	TimeRemainingSeconds *float64 `json:"time_remaining_seconds"`
}

func NewDetail(a *Assignment, now time.Time) Detail {
	d := Detail{Assignment: a, IsOverdue: a.IsOverdue(now)}
	if rem := a.TimeRemaining(now); rem != nil {
		secs := rem.Seconds()
		d.TimeRemainingSeconds = &secs
	}
	return d
}
