package sample

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/lims/lims/internal/domain/personnel"
	"github.com/lims/lims/internal/platform/apperr"
	"github.com/lims/lims/internal/platform/db"
	"github.com/lims/lims/internal/platform/metrics"
)

const defaultMaxRetries = 5

type Service struct {
	samples    SampleRepository
	metrics    *metrics.Metrics
	logger     zerolog.Logger
	maxRetries int
	now        func() time.Time
}

func NewService(samples SampleRepository, m *metrics.Metrics, logger zerolog.Logger, maxRetries int) *Service {
	if maxRetries < 1 {
		maxRetries = defaultMaxRetries
	}
	return &Service{samples: samples, metrics: m, logger: logger, maxRetries: maxRetries, now: time.Now}
}

// RegisterInput carries the optional deadline override in hours.
type RegisterInput struct {
	Sample
	DeadlineHours *int `json:"deadline_hours,omitempty"`
}

func validateSample(s *Sample) error {
	s.SampleType = strings.ToLower(strings.TrimSpace(s.SampleType))
	if !validTypes[s.SampleType] {
		return apperr.Validation("invalid sample_type: %q", s.SampleType)
	}
	if strings.TrimSpace(s.Source) == "" {
		return apperr.Validation("source is required")
	}
	if s.Priority == "" {
		s.Priority = PriorityNormal
	}
	if _, ok := priorityDeadlineHours[s.Priority]; !ok {
		return apperr.Validation("invalid priority: %q", s.Priority)
	}
	return nil
}

// Register creates a sample with the next free SMP-YYYYMMDD-NNNN code. Two
// registrations racing on the same sequence collide on the unique
// constraint; the loser recomputes and retries.
func (s *Service) Register(ctx context.Context, in *RegisterInput) (*Sample, error) {
	smp := &in.Sample
	if err := validateSample(smp); err != nil {
		return nil, err
	}
	if in.DeadlineHours != nil && *in.DeadlineHours <= 0 {
		return nil, apperr.Validation("deadline_hours must be positive")
	}
	now := s.now()
	smp.Status = StatusRegistered
	smp.ActualCompletionAt = nil
	if smp.ReceivedAt.IsZero() {
		smp.ReceivedAt = now
	}
	if smp.RegisteredBy == nil {
		smp.RegisteredBy = personnel.ActorID(ctx)
	}
	AssignDeadline(smp, smp.Deadline, in.DeadlineHours, now)

	prefix := CodePrefix(now)
	for attempt := 1; attempt <= s.maxRetries; attempt++ {
		seq, err := s.samples.MaxSequence(ctx, prefix)
		if err != nil {
			return nil, err
		}
		smp.SampleCode = FormatCode(now, seq+1)
		err = s.samples.Create(ctx, smp)
		if err == nil {
			s.metrics.SampleRegistered()
			s.logger.Info().
				Str("sample_code", smp.SampleCode).
				Str("priority", smp.Priority).
				Time("deadline", *smp.Deadline).
				Msg("sample registered")
			return smp, nil
		}
		if !db.IsUniqueViolation(err) {
			return nil, err
		}
		s.metrics.SampleIDRetry()
		s.logger.Warn().Str("sample_code", smp.SampleCode).Int("attempt", attempt).Msg("sample code collision, retrying")
	}
	return nil, fmt.Errorf("%w: no free sample code under %s after %d attempts", apperr.ErrConflict, prefix, s.maxRetries)
}

func (s *Service) GetSample(ctx context.Context, id uuid.UUID) (*Sample, error) {
	return s.samples.GetByID(ctx, id)
}

func (s *Service) GetByCode(ctx context.Context, code string) (*Sample, error) {
	return s.samples.GetByCode(ctx, code)
}

// UpdateSample edits descriptive fields. Status changes go through
// Transition; a missing deadline keeps the current one.
func (s *Service) UpdateSample(ctx context.Context, upd *Sample) (*Sample, error) {
	if err := validateSample(upd); err != nil {
		return nil, err
	}
	cur, err := s.samples.GetByID(ctx, upd.ID)
	if err != nil {
		return nil, err
	}
	cur.SampleType = upd.SampleType
	cur.Source = upd.Source
	cur.Priority = upd.Priority
	cur.LabID = upd.LabID
	cur.CollectedAt = upd.CollectedAt
	cur.TechnicianID = upd.TechnicianID
	cur.Notes = upd.Notes
	if upd.Deadline != nil {
		cur.Deadline = upd.Deadline
	}
	if err := s.samples.Update(ctx, cur); err != nil {
		return nil, err
	}
	return cur, nil
}

// Transition moves the sample to status. Entering completed stamps the
// actual completion time the first time only.
func (s *Service) Transition(ctx context.Context, id uuid.UUID, status string) (*Sample, error) {
	if !validStatuses[status] {
		return nil, apperr.Validation("invalid status: %q", status)
	}
	smp, err := s.samples.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if smp.Status == status {
		return smp, nil
	}
	from := smp.Status
	smp.Status = status
	if status == StatusCompleted && smp.ActualCompletionAt == nil {
		t := s.now()
		smp.ActualCompletionAt = &t
	}
	if err := s.samples.Update(ctx, smp); err != nil {
		return nil, err
	}
	s.logger.Info().Str("sample_code", smp.SampleCode).Str("from", from).Str("to", status).Msg("sample status changed")
	return smp, nil
}

// StartProcessing moves a registered sample to in_progress. Samples in any
// other status are left alone.
func (s *Service) StartProcessing(ctx context.Context, id uuid.UUID) error {
	smp, err := s.samples.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if smp.Status != StatusRegistered {
		return nil
	}
	_, err = s.Transition(ctx, id, StatusInProgress)
	return err
}

func (s *Service) DeleteSample(ctx context.Context, id uuid.UUID) error {
	if _, err := s.samples.GetByID(ctx, id); err != nil {
		return err
	}
	return s.samples.Delete(ctx, id)
}

func (s *Service) SearchSamples(ctx context.Context, params map[string]string, limit, offset int) ([]*Sample, int, error) {
	return s.samples.Search(ctx, params, limit, offset)
}

func (s *Service) ListOverdue(ctx context.Context) ([]*Sample, error) {
	return s.samples.ListOverdue(ctx, s.now())
}

// ListApproaching returns open samples due within the next hours.
func (s *Service) ListApproaching(ctx context.Context, hours int) ([]*Sample, error) {
	if hours <= 0 {
		hours = DefaultApproachingHours
	}
	now := s.now()
	return s.samples.ListDeadlineBetween(ctx, now, now.Add(time.Duration(hours)*time.Hour))
}

// Details wraps samples with their read-time deadline figures.
func (s *Service) Details(items []*Sample) []Detail {
	now := s.now()
	out := make([]Detail, len(items))
	for i, smp := range items {
		out[i] = NewDetail(smp, now)
	}
	return out
}
