package assignment

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/lims/lims/internal/domain/catalog"
	"github.com/lims/lims/internal/domain/sample"
	"github.com/lims/lims/internal/platform/apperr"
)

var t0 = time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)

// -- Mocks --

type mockRepo struct {
	items  map[uuid.UUID]*Assignment
	locked int
}

func newMockRepo() *mockRepo {
	return &mockRepo{items: make(map[uuid.UUID]*Assignment)}
}

func (m *mockRepo) Create(_ context.Context, a *Assignment) error {
	a.ID = uuid.New()
	a.CreatedAt = time.Now()
	a.UpdatedAt = a.CreatedAt
	cp := *a
	m.items[a.ID] = &cp
	return nil
}

func (m *mockRepo) GetByID(_ context.Context, id uuid.UUID) (*Assignment, error) {
	a, ok := m.items[id]
	if !ok {
		return nil, apperr.NotFound("test assignment")
	}
	cp := *a
	return &cp, nil
}

func (m *mockRepo) GetForUpdate(ctx context.Context, id uuid.UUID) (*Assignment, error) {
	m.locked++
	return m.GetByID(ctx, id)
}

func (m *mockRepo) Update(_ context.Context, a *Assignment) error {
	cp := *a
	m.items[a.ID] = &cp
	return nil
}

func (m *mockRepo) Delete(_ context.Context, id uuid.UUID) error {
	delete(m.items, id)
	return nil
}

func (m *mockRepo) Exists(_ context.Context, sampleID, testID uuid.UUID) (bool, error) {
	for _, a := range m.items {
		if a.SampleID == sampleID && a.TestID == testID {
			return true, nil
		}
	}
	return false, nil
}

func (m *mockRepo) Search(_ context.Context, params map[string]string, limit, offset int) ([]*Assignment, int, error) {
	var out []*Assignment
	for _, a := range m.items {
		if v, ok := params["status"]; ok && a.Status != v {
			continue
		}
		if v, ok := params["assigned_to"]; ok && (a.AssignedTo == nil || a.AssignedTo.String() != v) {
			continue
		}
		out = append(out, a)
	}
	return out, len(out), nil
}

func (m *mockRepo) ListBySample(_ context.Context, sampleID uuid.UUID) ([]*Assignment, error) {
	var out []*Assignment
	for _, a := range m.items {
		if a.SampleID == sampleID {
			out = append(out, a)
		}
	}
	return out, nil
}

func (m *mockRepo) ListOverdue(_ context.Context, now time.Time) ([]*Assignment, error) {
	var out []*Assignment
	for _, a := range m.items {
		if a.IsOverdue(now) {
			out = append(out, a)
		}
	}
	return out, nil
}

func (m *mockRepo) ListDeadlineBetween(_ context.Context, from, to time.Time) ([]*Assignment, error) {
	var out []*Assignment
	for _, a := range m.items {
		if a.IsDeadlineApproaching(from, int(to.Sub(from).Hours())) {
			out = append(out, a)
		}
	}
	return out, nil
}

func (m *mockRepo) SetActualCost(_ context.Context, id uuid.UUID, cost decimal.Decimal) error {
	a, ok := m.items[id]
	if !ok {
		return apperr.NotFound("test assignment")
	}
	a.ActualCost = cost
	return nil
}

type mockSamples struct {
	samples map[uuid.UUID]*sample.Sample
	started []uuid.UUID
}

func (m *mockSamples) GetSample(_ context.Context, id uuid.UUID) (*sample.Sample, error) {
	s, ok := m.samples[id]
	if !ok {
		return nil, apperr.NotFound("sample")
	}
	return s, nil
}

func (m *mockSamples) StartProcessing(_ context.Context, id uuid.UUID) error {
	m.started = append(m.started, id)
	if s, ok := m.samples[id]; ok && s.Status == sample.StatusRegistered {
		s.Status = sample.StatusInProgress
	}
	return nil
}

type mockTests map[uuid.UUID]*catalog.Test

func (m mockTests) GetTest(_ context.Context, id uuid.UUID) (*catalog.Test, error) {
	t, ok := m[id]
	if !ok {
		return nil, apperr.NotFound("test")
	}
	return t, nil
}

type fixture struct {
	svc     *Service
	repo    *mockRepo
	samples *mockSamples
	sample  *sample.Sample
	test    *catalog.Test
}

func newFixture() *fixture {
	smp := &sample.Sample{ID: uuid.New(), SampleCode: "SMP-20260314-0001", Status: sample.StatusRegistered}
	test := &catalog.Test{ID: uuid.New(), Code: "CBC", Name: "Complete Blood Count", TurnaroundHours: 24, Active: true}
	repo := newMockRepo()
	samples := &mockSamples{samples: map[uuid.UUID]*sample.Sample{smp.ID: smp}}
	svc := NewService(repo, samples, mockTests{test.ID: test}, nil, nil, zerolog.Nop())
	svc.now = func() time.Time { return t0 }
	return &fixture{svc: svc, repo: repo, samples: samples, sample: smp, test: test}
}

func (f *fixture) assign(t *testing.T) *Assignment {
	t.Helper()
	a, err := f.svc.Assign(context.Background(), AssignInput{SampleID: f.sample.ID, TestID: f.test.ID})
	if err != nil {
		t.Fatalf("assign: %v", err)
	}
	return a
}

// -- Tests --

func TestAssign_ExpectedCompletionAndDeadline(t *testing.T) {
	f := newFixture()
	a := f.assign(t)
	want := t0.Add(24 * time.Hour)
	if a.Status != StatusAssigned {
		t.Errorf("expected assigned, got %s", a.Status)
	}
	if a.ExpectedCompletion == nil || !a.ExpectedCompletion.Equal(want) {
		t.Errorf("expected completion %v, got %v", want, a.ExpectedCompletion)
	}
	if a.Deadline == nil || !a.Deadline.Equal(want) {
		t.Errorf("deadline should default to expected completion, got %v", a.Deadline)
	}
	if !a.ActualCost.IsZero() {
		t.Errorf("new assignment should cost nothing, got %s", a.ActualCost)
	}
}

func TestAssign_ExplicitDeadline(t *testing.T) {
	f := newFixture()
	deadline := t0.Add(6 * time.Hour)
	a, err := f.svc.Assign(context.Background(), AssignInput{SampleID: f.sample.ID, TestID: f.test.ID, Deadline: &deadline})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !a.Deadline.Equal(deadline) {
		t.Errorf("expected explicit deadline, got %v", a.Deadline)
	}
}

func TestAssign_Duplicate(t *testing.T) {
	f := newFixture()
	first := f.assign(t)

	_, err := f.svc.Assign(context.Background(), AssignInput{SampleID: f.sample.ID, TestID: f.test.ID})
	if !errors.Is(err, apperr.ErrDuplicateAssignment) {
		t.Fatalf("expected duplicate assignment error, got %v", err)
	}
	if len(f.repo.items) != 1 {
		t.Errorf("expected 1 assignment, got %d", len(f.repo.items))
	}
	stored := f.repo.items[first.ID]
	if stored.Status != StatusAssigned || !stored.AssignedAt.Equal(first.AssignedAt) {
		t.Error("first assignment must be untouched")
	}
}

func TestAssign_InactiveTest(t *testing.T) {
	f := newFixture()
	f.test.Active = false
	_, err := f.svc.Assign(context.Background(), AssignInput{SampleID: f.sample.ID, TestID: f.test.ID})
	if !errors.Is(err, apperr.ErrValidation) {
		t.Errorf("expected validation error, got %v", err)
	}
}

func TestAssign_UnknownSample(t *testing.T) {
	f := newFixture()
	_, err := f.svc.Assign(context.Background(), AssignInput{SampleID: uuid.New(), TestID: f.test.ID})
	if !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("expected not found, got %v", err)
	}
}

func TestTransition_StateMachine(t *testing.T) {
	tests := []struct {
		from, to string
		ok       bool
	}{
		{StatusAssigned, StatusInProgress, true},
		{StatusAssigned, StatusCompleted, false},
		{StatusInProgress, StatusWaitingReview, true},
		{StatusInProgress, StatusCompleted, false},
		{StatusWaitingReview, StatusCompleted, true},
		{StatusWaitingReview, StatusRejected, true},
		{StatusWaitingReview, StatusAssigned, true},
		{StatusRejected, StatusAssigned, true},
		{StatusRejected, StatusCompleted, false},
		{StatusCompleted, StatusAssigned, false},
	}
	for _, tt := range tests {
		t.Run(tt.from+"->"+tt.to, func(t *testing.T) {
			f := newFixture()
			a := f.assign(t)
			f.repo.items[a.ID].Status = tt.from

			_, err := f.svc.Transition(context.Background(), a.ID, tt.to)
			if tt.ok && err != nil {
				t.Errorf("expected transition to succeed, got %v", err)
			}
			if !tt.ok && !errors.Is(err, apperr.ErrInvalidTransition) {
				t.Errorf("expected invalid transition, got %v", err)
			}
		})
	}
}

func TestTransition_UnknownStatus(t *testing.T) {
	f := newFixture()
	a := f.assign(t)
	_, err := f.svc.Transition(context.Background(), a.ID, "paused")
	if !errors.Is(err, apperr.ErrValidation) {
		t.Errorf("expected validation error, got %v", err)
	}
}

func TestTransition_TimestampsSetOnce(t *testing.T) {
	f := newFixture()
	a := f.assign(t)
	ctx := context.Background()

	f.svc.Start(ctx, a.ID)
	f.svc.now = func() time.Time { return t0.Add(time.Hour) }
	f.svc.Transition(ctx, a.ID, StatusWaitingReview)
	f.svc.Reopen(ctx, a.ID)
	f.svc.Start(ctx, a.ID)

	got := f.repo.items[a.ID]
	if got.StartedAt == nil || !got.StartedAt.Equal(t0) {
		t.Errorf("started_at must keep first value %v, got %v", t0, got.StartedAt)
	}

	f.svc.Transition(ctx, a.ID, StatusWaitingReview)
	done, err := f.svc.Complete(ctx, a.ID)
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	firstCompletion := *done.CompletedAt

	f.svc.now = func() time.Time { return t0.Add(5 * time.Hour) }
	again, err := f.svc.Complete(ctx, a.ID)
	if err != nil {
		t.Fatalf("re-complete should be a no-op, got %v", err)
	}
	if !again.CompletedAt.Equal(firstCompletion) {
		t.Errorf("completed_at overwritten: %v", again.CompletedAt)
	}
}

func TestStart_MovesRegisteredSample(t *testing.T) {
	f := newFixture()
	a := f.assign(t)
	if _, err := f.svc.Start(context.Background(), a.ID); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if f.sample.Status != sample.StatusInProgress {
		t.Errorf("expected sample in_progress, got %s", f.sample.Status)
	}
}

func TestSubmitForReview_FromAssigned(t *testing.T) {
	f := newFixture()
	a := f.assign(t)
	got, err := f.svc.SubmitForReview(context.Background(), a.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Status != StatusWaitingReview || got.StartedAt == nil {
		t.Errorf("expected waiting_review with start stamped, got %+v", got)
	}
	if len(f.samples.started) != 1 {
		t.Error("sample should be moved to in_progress")
	}
}

func TestIsOverdue_RejectedStillCounts(t *testing.T) {
	deadline := t0.Add(-time.Hour)
	tests := []struct {
		status string
		want   bool
	}{
		{StatusAssigned, true},
		{StatusRejected, true},
		{StatusWaitingReview, true},
		{StatusCompleted, false},
	}
	for _, tt := range tests {
		a := &Assignment{Status: tt.status, Deadline: &deadline}
		if got := a.IsOverdue(t0); got != tt.want {
			t.Errorf("%s: IsOverdue = %v, want %v", tt.status, got, tt.want)
		}
	}
	if (&Assignment{Status: StatusAssigned}).IsOverdue(t0) {
		t.Error("no deadline means never overdue")
	}
}

func TestTimeRemaining(t *testing.T) {
	deadline := t0.Add(90 * time.Minute)
	a := &Assignment{Deadline: &deadline}
	if rem := a.TimeRemaining(t0); rem == nil || *rem != 90*time.Minute {
		t.Errorf("unexpected remaining %v", rem)
	}
	if rem := a.TimeRemaining(t0.Add(2 * time.Hour)); *rem != -30*time.Minute {
		t.Errorf("expected negative remaining, got %v", *rem)
	}
	if (&Assignment{}).TimeRemaining(t0) != nil {
		t.Error("expected nil without deadline")
	}
}

func TestListApproaching_DefaultWindow(t *testing.T) {
	f := newFixture()
	soon := t0.Add(10 * time.Hour)
	later := t0.Add(20 * time.Hour)
	f.repo.Create(context.Background(), &Assignment{Status: StatusAssigned, Deadline: &soon})
	f.repo.Create(context.Background(), &Assignment{Status: StatusAssigned, Deadline: &later})

	items, err := f.svc.ListApproaching(context.Background(), 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(items) != 1 || !items[0].Deadline.Equal(soon) {
		t.Errorf("expected only the assignment due in 10h, got %d", len(items))
	}
}

func TestSampleExpectedCompletion(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	e1, e2 := t0.Add(24*time.Hour), t0.Add(72*time.Hour)
	f.repo.Create(ctx, &Assignment{SampleID: f.sample.ID, ExpectedCompletion: &e1})
	f.repo.Create(ctx, &Assignment{SampleID: f.sample.ID, ExpectedCompletion: &e2})
	f.repo.Create(ctx, &Assignment{SampleID: f.sample.ID})

	got, err := f.svc.SampleExpectedCompletion(ctx, f.sample.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got == nil || !got.Equal(e2) {
		t.Errorf("expected latest %v, got %v", e2, got)
	}

	none, _ := f.svc.SampleExpectedCompletion(ctx, uuid.New())
	if none != nil {
		t.Error("expected nil for sample without assignments")
	}
}

func TestWorkflowBoard(t *testing.T) {
	f := newFixture()
	a := f.assign(t)
	f.svc.Start(context.Background(), a.ID)

	board, err := f.svc.WorkflowBoard(context.Background(), nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(board) != len(Statuses) {
		t.Errorf("expected a column per status, got %d", len(board))
	}
	if len(board[StatusInProgress]) != 1 || len(board[StatusAssigned]) != 0 {
		t.Errorf("unexpected board: %+v", board)
	}
}

func TestLockAssignment(t *testing.T) {
	f := newFixture()
	a := f.assign(t)

	got, err := f.svc.LockAssignment(context.Background(), a.ID)
	if err != nil {
		t.Fatalf("LockAssignment: %v", err)
	}
	if got.ID != a.ID || f.repo.locked != 1 {
		t.Errorf("expected the row to be read under lock once, got %s / %d", got.ID, f.repo.locked)
	}
	if _, err := f.svc.LockAssignment(context.Background(), uuid.New()); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("expected not found, got %v", err)
	}
}
