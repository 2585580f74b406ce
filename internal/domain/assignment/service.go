package assignment

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/lims/lims/internal/domain/catalog"
	"github.com/lims/lims/internal/domain/personnel"
	"github.com/lims/lims/internal/domain/sample"
	"github.com/lims/lims/internal/platform/apperr"
	"github.com/lims/lims/internal/platform/db"
	"github.com/lims/lims/internal/platform/metrics"
)

// SampleLookup is the part of the sample service assignments depend on.
type SampleLookup interface {
	GetSample(ctx context.Context, id uuid.UUID) (*sample.Sample, error)
	StartProcessing(ctx context.Context, id uuid.UUID) error
}

// TestLookup resolves catalog tests.
type TestLookup interface {
	GetTest(ctx context.Context, id uuid.UUID) (*catalog.Test, error)
}

type Service struct {
	assignments Repository
	samples     SampleLookup
	tests       TestLookup
	tx          db.TxRunner
	metrics     *metrics.Metrics
	logger      zerolog.Logger
	now         func() time.Time
}

func NewService(assignments Repository, samples SampleLookup, tests TestLookup, tx db.TxRunner,
	m *metrics.Metrics, logger zerolog.Logger) *Service {
	if tx == nil {
		tx = db.NoTx{}
	}
	return &Service{
		assignments: assignments, samples: samples, tests: tests, tx: tx,
		metrics: m, logger: logger, now: time.Now,
	}
}

// AssignInput is the request to put a test on a sample.
type AssignInput struct {
	SampleID   uuid.UUID  `json:"sample_id"`
	TestID     uuid.UUID  `json:"test_id"`
	AssignedTo *uuid.UUID `json:"assigned_to,omitempty"`
	Deadline   *time.Time `json:"deadline,omitempty"`
	Notes      *string    `json:"notes,omitempty"`
}

// Assign creates the assignment for (sample, test). Expected completion is
// now plus the test's turnaround; the deadline defaults to it.
func (s *Service) Assign(ctx context.Context, in AssignInput) (*Assignment, error) {
	if in.SampleID == uuid.Nil || in.TestID == uuid.Nil {
		return nil, apperr.Validation("sample_id and test_id are required")
	}
	var a *Assignment
	err := s.tx.RunInTx(ctx, func(ctx context.Context) error {
		smp, err := s.samples.GetSample(ctx, in.SampleID)
		if err != nil {
			return err
		}
		test, err := s.tests.GetTest(ctx, in.TestID)
		if err != nil {
			return err
		}
		if !test.Active {
			return apperr.Validation("test %s is inactive", test.Code)
		}
		exists, err := s.assignments.Exists(ctx, in.SampleID, in.TestID)
		if err != nil {
			return err
		}
		if exists {
			return fmt.Errorf("%w: %s on %s", apperr.ErrDuplicateAssignment, test.Code, smp.SampleCode)
		}

		now := s.now()
		expected := now.Add(test.Turnaround())
		a = &Assignment{
			SampleID:           in.SampleID,
			TestID:             in.TestID,
			Status:             StatusAssigned,
			AssignedTo:         in.AssignedTo,
			AssignedBy:         personnel.ActorID(ctx),
			AssignedAt:         now,
			ExpectedCompletion: &expected,
			Deadline:           in.Deadline,
			ActualCost:         decimal.Zero,
			Notes:              in.Notes,
			SampleCode:         smp.SampleCode,
			TestCode:           test.Code,
			TestName:           test.Name,
		}
		if a.Deadline == nil {
			d := expected
			a.Deadline = &d
		}
		if err := s.assignments.Create(ctx, a); err != nil {
			if db.IsUniqueViolation(err) {
				return fmt.Errorf("%w: %s on %s", apperr.ErrDuplicateAssignment, test.Code, smp.SampleCode)
			}
			return err
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info().
		Str("sample_code", a.SampleCode).
		Str("test_code", a.TestCode).
		Time("deadline", *a.Deadline).
		Msg("test assigned")
	return a, nil
}

func (s *Service) GetAssignment(ctx context.Context, id uuid.UUID) (*Assignment, error) {
	return s.assignments.GetByID(ctx, id)
}

// Transition moves an assignment along the workflow. Moving to the status
// it already holds is a no-op. Starting work also moves a registered
// sample to in_progress.
func (s *Service) Transition(ctx context.Context, id uuid.UUID, to string) (*Assignment, error) {
	var a *Assignment
	err := s.tx.RunInTx(ctx, func(ctx context.Context) error {
		var err error
		a, err = s.assignments.GetByID(ctx, id)
		if err != nil {
			return err
		}
		return s.transition(ctx, a, to)
	})
	return a, err
}

func (s *Service) transition(ctx context.Context, a *Assignment, to string) error {
	if a.Status == to {
		return nil
	}
	if !knownStatus(to) {
		return apperr.Validation("invalid status: %q", to)
	}
	from := a.Status
	if !CanTransition(from, to) {
		return fmt.Errorf("%w: %s → %s", apperr.ErrInvalidTransition, from, to)
	}
	a.apply(to, s.now())
	if err := s.assignments.Update(ctx, a); err != nil {
		return err
	}
	if to == StatusInProgress {
		if err := s.samples.StartProcessing(ctx, a.SampleID); err != nil {
			return err
		}
	}
	s.metrics.AssignmentTransition(from, to)
	s.logger.Info().
		Str("assignment_id", a.ID.String()).
		Str("from", from).
		Str("to", to).
		Msg("assignment status changed")
	return nil
}

// Start begins work on an assigned test.
func (s *Service) Start(ctx context.Context, id uuid.UUID) (*Assignment, error) {
	return s.Transition(ctx, id, StatusInProgress)
}

// SubmitForReview moves the assignment to waiting_review, passing through
// in_progress when work was never formally started.
func (s *Service) SubmitForReview(ctx context.Context, id uuid.UUID) (*Assignment, error) {
	var a *Assignment
	err := s.tx.RunInTx(ctx, func(ctx context.Context) error {
		var err error
		a, err = s.assignments.GetByID(ctx, id)
		if err != nil {
			return err
		}
		if a.Status == StatusAssigned {
			if err := s.transition(ctx, a, StatusInProgress); err != nil {
				return err
			}
		}
		return s.transition(ctx, a, StatusWaitingReview)
	})
	return a, err
}

// Complete closes the assignment after its result is approved.
func (s *Service) Complete(ctx context.Context, id uuid.UUID) (*Assignment, error) {
	return s.Transition(ctx, id, StatusCompleted)
}

// Reopen sends the assignment back to assigned for correction.
func (s *Service) Reopen(ctx context.Context, id uuid.UUID) (*Assignment, error) {
	return s.Transition(ctx, id, StatusAssigned)
}

// Reassign changes the assignee and, optionally, the deadline.
func (s *Service) Reassign(ctx context.Context, id uuid.UUID, assignee *uuid.UUID, deadline *time.Time) (*Assignment, error) {
	a, err := s.assignments.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if a.Status == StatusCompleted {
		return nil, fmt.Errorf("%w: assignment is completed", apperr.ErrInvalidTransition)
	}
	a.AssignedTo = assignee
	if deadline != nil {
		a.Deadline = deadline
	}
	if err := s.assignments.Update(ctx, a); err != nil {
		return nil, err
	}
	return a, nil
}

// LockAssignment reads the assignment and locks its row for the rest of
// the caller's transaction. Writers of actual_cost take this lock first.
func (s *Service) LockAssignment(ctx context.Context, id uuid.UUID) (*Assignment, error) {
	return s.assignments.GetForUpdate(ctx, id)
}

// SetActualCost stores the recomputed cost of reagents used by the assignment.
func (s *Service) SetActualCost(ctx context.Context, id uuid.UUID, cost decimal.Decimal) error {
	return s.assignments.SetActualCost(ctx, id, cost)
}

func (s *Service) DeleteAssignment(ctx context.Context, id uuid.UUID) error {
	return s.assignments.Delete(ctx, id)
}

func (s *Service) SearchAssignments(ctx context.Context, params map[string]string, limit, offset int) ([]*Assignment, int, error) {
	return s.assignments.Search(ctx, params, limit, offset)
}

func (s *Service) ListBySample(ctx context.Context, sampleID uuid.UUID) ([]*Assignment, error) {
	return s.assignments.ListBySample(ctx, sampleID)
}

func (s *Service) ListOverdue(ctx context.Context) ([]*Assignment, error) {
	return s.assignments.ListOverdue(ctx, s.now())
}

// ListApproaching returns open assignments due within the next hours.
func (s *Service) ListApproaching(ctx context.Context, hours int) ([]*Assignment, error) {
	if hours <= 0 {
		hours = DefaultApproachingHours
	}
	now := s.now()
	return s.assignments.ListDeadlineBetween(ctx, now, now.Add(time.Duration(hours)*time.Hour))
}

// SampleExpectedCompletion is the latest expected completion among the
// sample's assignments, nil when none has one.
func (s *Service) SampleExpectedCompletion(ctx context.Context, sampleID uuid.UUID) (*time.Time, error) {
	items, err := s.assignments.ListBySample(ctx, sampleID)
	if err != nil {
		return nil, err
	}
	var latest *time.Time
	for _, a := range items {
		if a.ExpectedCompletion != nil && (latest == nil || a.ExpectedCompletion.After(*latest)) {
			latest = a.ExpectedCompletion
		}
	}
	return latest, nil
}

const boardColumnLimit = 50

// Board is the workflow view: open assignments per status column.
type Board map[string][]Detail

// WorkflowBoard lists up to boardColumnLimit assignments for each status,
// optionally restricted to one assignee.
func (s *Service) WorkflowBoard(ctx context.Context, assignee *uuid.UUID) (Board, error) {
	now := s.now()
	board := make(Board, len(Statuses))
	for _, status := range Statuses {
		params := map[string]string{"status": status}
		if assignee != nil {
			params["assigned_to"] = assignee.String()
		}
		items, _, err := s.assignments.Search(ctx, params, boardColumnLimit, 0)
		if err != nil {
			return nil, err
		}
		board[status] = s.detailsAt(items, now)
	}
	return board, nil
}

func (s *Service) Details(items []*Assignment) []Detail {
	return s.detailsAt(items, s.now())
}

func (s *Service) detailsAt(items []*Assignment, now time.Time) []Detail {
	out := make([]Detail, len(items))
	for i, a := range items {
		out[i] = NewDetail(a, now)
	}
	return out
}
