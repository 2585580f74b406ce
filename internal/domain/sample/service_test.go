package sample

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/rs/zerolog"

	"github.com/lims/lims/internal/domain/personnel"
	"github.com/lims/lims/internal/platform/apperr"
)

// -- Mock Repository --

type mockSampleRepo struct {
	samples map[uuid.UUID]*Sample
	// collide makes the next n creates fail as if another request won the
	// same code.
	collide int
}

func newMockSampleRepo() *mockSampleRepo {
	return &mockSampleRepo{samples: make(map[uuid.UUID]*Sample)}
}

func (m *mockSampleRepo) Create(_ context.Context, s *Sample) error {
	if m.collide > 0 {
		m.collide--
		return &pgconn.PgError{Code: "23505"}
	}
	for _, existing := range m.samples {
		if existing.SampleCode == s.SampleCode {
			return &pgconn.PgError{Code: "23505"}
		}
	}
	s.ID = uuid.New()
	s.CreatedAt = time.Now()
	s.UpdatedAt = s.CreatedAt
	cp := *s
	m.samples[s.ID] = &cp
	return nil
}

func (m *mockSampleRepo) GetByID(_ context.Context, id uuid.UUID) (*Sample, error) {
	s, ok := m.samples[id]
	if !ok {
		return nil, apperr.NotFound("sample")
	}
	cp := *s
	return &cp, nil
}

func (m *mockSampleRepo) GetByCode(_ context.Context, code string) (*Sample, error) {
	for _, s := range m.samples {
		if s.SampleCode == code {
			cp := *s
			return &cp, nil
		}
	}
	return nil, apperr.NotFound("sample")
}

func (m *mockSampleRepo) Update(_ context.Context, s *Sample) error {
	cp := *s
	m.samples[s.ID] = &cp
	return nil
}

func (m *mockSampleRepo) Delete(_ context.Context, id uuid.UUID) error {
	delete(m.samples, id)
	return nil
}

func (m *mockSampleRepo) Search(_ context.Context, params map[string]string, limit, offset int) ([]*Sample, int, error) {
	var out []*Sample
	for _, s := range m.samples {
		if v, ok := params["status"]; ok && s.Status != v {
			continue
		}
		out = append(out, s)
	}
	return out, len(out), nil
}

func (m *mockSampleRepo) MaxSequence(_ context.Context, prefix string) (int, error) {
	highest := 0
	for _, s := range m.samples {
		if strings.HasPrefix(s.SampleCode, prefix) {
			if n, err := strconv.Atoi(strings.TrimPrefix(s.SampleCode, prefix)); err == nil && n > highest {
				highest = n
			}
		}
	}
	return highest, nil
}

func (m *mockSampleRepo) ListOverdue(_ context.Context, now time.Time) ([]*Sample, error) {
	var out []*Sample
	for _, s := range m.samples {
		if s.IsOverdue(now) {
			out = append(out, s)
		}
	}
	return out, nil
}

func (m *mockSampleRepo) ListDeadlineBetween(_ context.Context, from, to time.Time) ([]*Sample, error) {
	var out []*Sample
	for _, s := range m.samples {
		if s.Deadline != nil && s.Deadline.After(from) && !s.Deadline.After(to) && !s.closed() {
			out = append(out, s)
		}
	}
	return out, nil
}

func newTestService() (*Service, *mockSampleRepo) {
	repo := newMockSampleRepo()
	svc := NewService(repo, nil, zerolog.Nop(), 3)
	svc.now = func() time.Time { return t0 }
	return svc, repo
}

func register(t *testing.T, svc *Service, priority string) *Sample {
	t.Helper()
	s, err := svc.Register(context.Background(), &RegisterInput{
		Sample: Sample{SampleType: "blood", Source: "Ward 3", Priority: priority},
	})
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	return s
}

// -- Tests --

func TestRegister_SequentialCodes(t *testing.T) {
	svc, _ := newTestService()
	first := register(t, svc, PriorityNormal)
	second := register(t, svc, PriorityNormal)
	if first.SampleCode != "SMP-20260314-0001" || second.SampleCode != "SMP-20260314-0002" {
		t.Errorf("unexpected codes %s, %s", first.SampleCode, second.SampleCode)
	}
	if first.Status != StatusRegistered || !first.ReceivedAt.Equal(t0) {
		t.Errorf("unexpected initial state: %+v", first)
	}
}

func TestRegister_SequenceResetsDaily(t *testing.T) {
	svc, _ := newTestService()
	register(t, svc, PriorityNormal)
	svc.now = func() time.Time { return t0.Add(24 * time.Hour) }
	next := register(t, svc, PriorityNormal)
	if next.SampleCode != "SMP-20260315-0001" {
		t.Errorf("expected sequence reset, got %s", next.SampleCode)
	}
}

func TestRegister_UrgentDeadline(t *testing.T) {
	svc, _ := newTestService()
	s := register(t, svc, PriorityUrgent)
	if !s.Deadline.Equal(t0.Add(4 * time.Hour)) {
		t.Errorf("expected urgent deadline T+4h, got %v", s.Deadline)
	}
}

func TestRegister_RetriesOnCollision(t *testing.T) {
	svc, repo := newTestService()
	repo.collide = 2
	s := register(t, svc, PriorityNormal)
	if s.SampleCode != "SMP-20260314-0001" {
		t.Errorf("unexpected code %s", s.SampleCode)
	}
}

func TestRegister_ConflictAfterRetries(t *testing.T) {
	svc, repo := newTestService()
	repo.collide = 3
	_, err := svc.Register(context.Background(), &RegisterInput{
		Sample: Sample{SampleType: "urine", Source: "Clinic"},
	})
	if !errors.Is(err, apperr.ErrConflict) {
		t.Errorf("expected conflict, got %v", err)
	}
	if len(repo.samples) != 0 {
		t.Error("no sample should be stored")
	}
}

func TestRegister_Validation(t *testing.T) {
	tests := []struct {
		name string
		in   RegisterInput
	}{
		{"bad type", RegisterInput{Sample: Sample{SampleType: "plasma", Source: "x"}}},
		{"missing source", RegisterInput{Sample: Sample{SampleType: "blood"}}},
		{"bad priority", RegisterInput{Sample: Sample{SampleType: "blood", Source: "x", Priority: "asap"}}},
		{"bad hours", RegisterInput{Sample: Sample{SampleType: "blood", Source: "x"}, DeadlineHours: intPtr(0)}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, _ := newTestService()
			_, err := svc.Register(context.Background(), &tt.in)
			if !errors.Is(err, apperr.ErrValidation) {
				t.Errorf("expected validation error, got %v", err)
			}
		})
	}
}

func TestRegister_RecordsActor(t *testing.T) {
	svc, _ := newTestService()
	actor := &personnel.Person{ID: uuid.New()}
	ctx := personnel.WithActor(context.Background(), actor)
	s, err := svc.Register(ctx, &RegisterInput{Sample: Sample{SampleType: "soil", Source: "Field 4"}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if s.RegisteredBy == nil || *s.RegisteredBy != actor.ID {
		t.Errorf("expected registered_by %s, got %v", actor.ID, s.RegisteredBy)
	}
}

func TestTransition_CompletionStampedOnce(t *testing.T) {
	svc, _ := newTestService()
	s := register(t, svc, PriorityNormal)

	done, err := svc.Transition(context.Background(), s.ID, StatusCompleted)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if done.ActualCompletionAt == nil || !done.ActualCompletionAt.Equal(t0) {
		t.Fatalf("expected completion stamped at %v, got %v", t0, done.ActualCompletionAt)
	}

	svc.now = func() time.Time { return t0.Add(time.Hour) }
	svc.Transition(context.Background(), s.ID, StatusInProgress)
	again, _ := svc.Transition(context.Background(), s.ID, StatusCompleted)
	if !again.ActualCompletionAt.Equal(t0) {
		t.Errorf("completion time overwritten: %v", again.ActualCompletionAt)
	}
}

func TestTransition_InvalidStatus(t *testing.T) {
	svc, _ := newTestService()
	s := register(t, svc, PriorityNormal)
	_, err := svc.Transition(context.Background(), s.ID, "lost")
	if !errors.Is(err, apperr.ErrValidation) {
		t.Errorf("expected validation error, got %v", err)
	}
}

func TestStartProcessing(t *testing.T) {
	svc, repo := newTestService()
	s := register(t, svc, PriorityNormal)
	if err := svc.StartProcessing(context.Background(), s.ID); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if repo.samples[s.ID].Status != StatusInProgress {
		t.Errorf("expected in_progress, got %s", repo.samples[s.ID].Status)
	}

	svc.Transition(context.Background(), s.ID, StatusRejected)
	svc.StartProcessing(context.Background(), s.ID)
	if repo.samples[s.ID].Status != StatusRejected {
		t.Error("only registered samples are moved to in_progress")
	}
}

func TestUpdateSample_KeepsStatusAndDeadline(t *testing.T) {
	svc, _ := newTestService()
	s := register(t, svc, PriorityHigh)
	svc.Transition(context.Background(), s.ID, StatusInProgress)

	upd, err := svc.UpdateSample(context.Background(), &Sample{
		ID: s.ID, SampleType: "blood", Source: "Ward 9", Priority: PriorityHigh, Status: StatusArchived,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if upd.Status != StatusInProgress {
		t.Errorf("update must not change status, got %s", upd.Status)
	}
	if upd.Source != "Ward 9" || !upd.Deadline.Equal(*s.Deadline) {
		t.Errorf("unexpected update result: %+v", upd)
	}
}

func TestListOverdueAndApproaching(t *testing.T) {
	svc, _ := newTestService()
	urgent := register(t, svc, PriorityUrgent)
	register(t, svc, PriorityLow)
	done := register(t, svc, PriorityUrgent)
	svc.Transition(context.Background(), done.ID, StatusCompleted)

	approaching, err := svc.ListApproaching(context.Background(), 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(approaching) != 1 || approaching[0].ID != urgent.ID {
		t.Errorf("expected only the open urgent sample approaching, got %d", len(approaching))
	}

	svc.now = func() time.Time { return t0.Add(5 * time.Hour) }
	overdue, _ := svc.ListOverdue(context.Background())
	if len(overdue) != 1 || overdue[0].ID != urgent.ID {
		t.Errorf("expected only the open urgent sample overdue, got %d", len(overdue))
	}
}
