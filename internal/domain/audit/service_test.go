package audit

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"sort"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/lims/lims/internal/platform/apperr"
	"github.com/lims/lims/internal/platform/middleware"
)

type mockRepo struct {
	entries []*Entry
}

func (m *mockRepo) Create(_ context.Context, e *Entry) error {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	m.entries = append(m.entries, e)
	return nil
}

func matches(e *Entry, f Filter) bool {
	if f.UserID != "" && deref(e.UserID) != f.UserID {
		return false
	}
	if f.Action != "" && e.Action != f.Action {
		return false
	}
	if f.ResourceType != "" && e.ResourceType != f.ResourceType {
		return false
	}
	if f.ResourceID != "" && deref(e.ResourceID) != f.ResourceID {
		return false
	}
	if f.From != nil && e.CreatedAt.Before(*f.From) {
		return false
	}
	if f.To != nil && e.CreatedAt.After(*f.To) {
		return false
	}
	if f.FailedOnly && e.Succeeded() {
		return false
	}
	return true
}

func (m *mockRepo) filter(f Filter) []*Entry {
	var out []*Entry
	for _, e := range m.entries {
		if matches(e, f) {
			out = append(out, e)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out
}

func (m *mockRepo) Search(_ context.Context, f Filter, limit, offset int) ([]*Entry, int, error) {
	all := m.filter(f)
	if offset >= len(all) {
		return nil, len(all), nil
	}
	end := offset + limit
	if end > len(all) {
		end = len(all)
	}
	return all[offset:end], len(all), nil
}

func (m *mockRepo) Each(_ context.Context, f Filter, fn func(*Entry) error) error {
	for _, e := range m.filter(f) {
		if err := fn(e); err != nil {
			return err
		}
	}
	return nil
}

var base = time.Date(2026, 5, 4, 9, 0, 0, 0, time.UTC)

func newTestService() (*Service, *mockRepo) {
	repo := &mockRepo{}
	svc := NewService(repo, zerolog.Nop())
	svc.now = func() time.Time { return base }
	return svc, repo
}

func record(t *testing.T, svc *Service, user, action, resource string, status int, at time.Time) {
	t.Helper()
	err := svc.RecordAccess(context.Background(), middleware.AuditEntry{
		UserID:       user,
		Action:       action,
		ResourceType: resource,
		ResourceID:   uuid.NewString(),
		Method:       "POST",
		Path:         "/api/v1/" + resource,
		StatusCode:   status,
		Timestamp:    at,
	})
	if err != nil {
		t.Fatalf("record: %v", err)
	}
}

func seed(t *testing.T, svc *Service) {
	record(t, svc, "tech-1", "create", "samples", 201, base)
	record(t, svc, "tech-1", "usage", "assignments", 201, base.Add(time.Hour))
	record(t, svc, "rev-1", "approve", "results", 200, base.Add(2*time.Hour))
	record(t, svc, "tech-2", "create", "samples", 400, base.Add(3*time.Hour))
	record(t, svc, "", "delete", "reagents", 403, base.Add(4*time.Hour))
}

func TestRecordAccess_MapsOptionalFields(t *testing.T) {
	svc, repo := newTestService()
	err := svc.RecordAccess(context.Background(), middleware.AuditEntry{
		Action: "create", ResourceType: "samples", Method: "POST", Path: "/api/v1/samples", StatusCode: 201,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	e := repo.entries[0]
	if e.UserID != nil || e.ResourceID != nil || e.RequestID != nil {
		t.Errorf("expected empty strings to be stored as NULL, got %+v", e)
	}
	if !e.CreatedAt.Equal(base) {
		t.Errorf("expected timestamp to default to now, got %s", e.CreatedAt)
	}
}

func TestRecordAccess_RequiresActionAndResource(t *testing.T) {
	svc, _ := newTestService()
	err := svc.RecordAccess(context.Background(), middleware.AuditEntry{Method: "POST"})
	if !errors.Is(err, apperr.ErrValidation) {
		t.Errorf("expected validation error, got %v", err)
	}
}

func TestSearch_Filters(t *testing.T) {
	svc, _ := newTestService()
	seed(t, svc)
	ctx := context.Background()

	items, total, err := svc.Search(ctx, Filter{UserID: "tech-1"}, 10, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if total != 2 || items[0].Action != "usage" {
		t.Errorf("expected tech-1's two entries newest first, got %d %+v", total, items)
	}

	from, to := base.Add(30*time.Minute), base.Add(150*time.Minute)
	_, total, _ = svc.Search(ctx, Filter{From: &from, To: &to}, 10, 0)
	if total != 2 {
		t.Errorf("expected 2 entries in window, got %d", total)
	}

	_, total, _ = svc.Search(ctx, Filter{FailedOnly: true}, 10, 0)
	if total != 2 {
		t.Errorf("expected 2 failed entries, got %d", total)
	}

	_, _, err = svc.Search(ctx, Filter{From: &to, To: &from}, 10, 0)
	if !errors.Is(err, apperr.ErrValidation) {
		t.Errorf("expected validation error for inverted window, got %v", err)
	}
}

func TestRecent(t *testing.T) {
	svc, _ := newTestService()
	seed(t, svc)
	items, err := svc.Recent(context.Background(), 3)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(items) != 3 || items[0].ResourceType != "reagents" {
		t.Errorf("expected 3 newest entries, got %+v", items)
	}
	items, _ = svc.Recent(context.Background(), 0)
	if len(items) != 5 {
		t.Errorf("expected default limit to cover all 5 entries, got %d", len(items))
	}
}

func TestSummarize(t *testing.T) {
	svc, _ := newTestService()
	seed(t, svc)
	sum, err := svc.Summarize(context.Background(), Filter{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sum.TotalEntries != 5 || sum.Failed != 2 {
		t.Errorf("expected 5 entries with 2 failed, got %+v", sum)
	}
	if sum.ByAction["create"] != 2 || sum.ByResourceType["samples"] != 2 {
		t.Errorf("unexpected breakdown: %+v", sum)
	}
	if sum.ByUser["anonymous"] != 1 || sum.ByUser["tech-1"] != 2 {
		t.Errorf("unexpected user breakdown: %+v", sum.ByUser)
	}
	if !sum.First.Equal(base) || !sum.Last.Equal(base.Add(4*time.Hour)) {
		t.Errorf("unexpected range %s..%s", sum.First, sum.Last)
	}
}

func TestExportCSV(t *testing.T) {
	svc, _ := newTestService()
	seed(t, svc)
	var buf bytes.Buffer
	if err := svc.ExportCSV(context.Background(), Filter{Action: "create"}, &buf); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	rows, err := csv.NewReader(&buf).ReadAll()
	if err != nil {
		t.Fatalf("invalid csv: %v", err)
	}
	if len(rows) != 3 {
		t.Fatalf("expected header plus 2 rows, got %d", len(rows))
	}
	if rows[0][0] != "ID" || rows[1][2] != "tech-2" || rows[1][8] != "400" {
		t.Errorf("unexpected rows: %v", rows)
	}
}
