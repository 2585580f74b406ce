package personnel

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/lims/lims/internal/platform/apperr"
)

// -- Mock Repositories --

type mockLabRepo struct {
	labs map[uuid.UUID]*Lab
}

func newMockLabRepo() *mockLabRepo {
	return &mockLabRepo{labs: make(map[uuid.UUID]*Lab)}
}

func (m *mockLabRepo) Create(_ context.Context, l *Lab) error {
	l.ID = uuid.New()
	l.CreatedAt = time.Now()
	l.UpdatedAt = l.CreatedAt
	m.labs[l.ID] = l
	return nil
}

func (m *mockLabRepo) GetByID(_ context.Context, id uuid.UUID) (*Lab, error) {
	l, ok := m.labs[id]
	if !ok {
		return nil, apperr.NotFound("lab")
	}
	return l, nil
}

func (m *mockLabRepo) Update(_ context.Context, l *Lab) error {
	m.labs[l.ID] = l
	return nil
}

func (m *mockLabRepo) Delete(_ context.Context, id uuid.UUID) error {
	delete(m.labs, id)
	return nil
}

func (m *mockLabRepo) List(_ context.Context, limit, offset int) ([]*Lab, int, error) {
	var out []*Lab
	for _, l := range m.labs {
		out = append(out, l)
	}
	return out, len(out), nil
}

type mockPersonRepo struct {
	people map[uuid.UUID]*Person
}

func newMockPersonRepo() *mockPersonRepo {
	return &mockPersonRepo{people: make(map[uuid.UUID]*Person)}
}

func (m *mockPersonRepo) Create(_ context.Context, p *Person) error {
	p.ID = uuid.New()
	p.CreatedAt = time.Now()
	p.UpdatedAt = p.CreatedAt
	m.people[p.ID] = p
	return nil
}

func (m *mockPersonRepo) GetByID(_ context.Context, id uuid.UUID) (*Person, error) {
	p, ok := m.people[id]
	if !ok {
		return nil, apperr.NotFound("person")
	}
	return p, nil
}

func (m *mockPersonRepo) GetByUserID(_ context.Context, userID string) (*Person, error) {
	for _, p := range m.people {
		if p.UserID != nil && *p.UserID == userID {
			return p, nil
		}
	}
	return nil, apperr.NotFound("person")
}

func (m *mockPersonRepo) Update(_ context.Context, p *Person) error {
	m.people[p.ID] = p
	return nil
}

func (m *mockPersonRepo) Delete(_ context.Context, id uuid.UUID) error {
	delete(m.people, id)
	return nil
}

func (m *mockPersonRepo) Search(_ context.Context, params map[string]string, limit, offset int) ([]*Person, int, error) {
	var out []*Person
	for _, p := range m.people {
		if role, ok := params["role"]; ok && p.Role != role {
			continue
		}
		out = append(out, p)
	}
	return out, len(out), nil
}

func newTestService() *Service {
	return NewService(newMockLabRepo(), newMockPersonRepo())
}

func strPtr(s string) *string { return &s }

func TestCreateLab(t *testing.T) {
	svc := newTestService()
	l := &Lab{Code: " MICRO ", Name: "Microbiology"}
	if err := svc.CreateLab(context.Background(), l); err != nil {
		t.Fatalf("CreateLab: %v", err)
	}
	if l.Code != "MICRO" {
		t.Errorf("expected trimmed code, got %q", l.Code)
	}
	if !l.Active {
		t.Error("expected new lab to be active")
	}
}

func TestCreateLab_RequiresCodeAndName(t *testing.T) {
	svc := newTestService()
	if err := svc.CreateLab(context.Background(), &Lab{Name: "x"}); !errors.Is(err, apperr.ErrValidation) {
		t.Errorf("expected validation error for missing code, got %v", err)
	}
	if err := svc.CreateLab(context.Background(), &Lab{Code: "X"}); !errors.Is(err, apperr.ErrValidation) {
		t.Errorf("expected validation error for missing name, got %v", err)
	}
}

func TestCreatePerson_DefaultsRole(t *testing.T) {
	svc := newTestService()
	p := &Person{FirstName: "Grace", LastName: "Hopper"}
	if err := svc.CreatePerson(context.Background(), p); err != nil {
		t.Fatalf("CreatePerson: %v", err)
	}
	if p.Role != "technician" {
		t.Errorf("expected technician, got %s", p.Role)
	}
	if p.FullName() != "Grace Hopper" {
		t.Errorf("unexpected full name %q", p.FullName())
	}
}

func TestCreatePerson_InvalidRole(t *testing.T) {
	svc := newTestService()
	err := svc.CreatePerson(context.Background(), &Person{FirstName: "A", LastName: "B", Role: "physician"})
	if !errors.Is(err, apperr.ErrValidation) {
		t.Errorf("expected validation error, got %v", err)
	}
}

func TestGetPersonByUserID(t *testing.T) {
	svc := newTestService()
	p := &Person{FirstName: "Ada", LastName: "L", UserID: strPtr("sub-1"), Role: "reviewer"}
	svc.CreatePerson(context.Background(), p)

	got, err := svc.GetPersonByUserID(context.Background(), "sub-1")
	if err != nil {
		t.Fatalf("GetPersonByUserID: %v", err)
	}
	if got.ID != p.ID {
		t.Errorf("expected %s, got %s", p.ID, got.ID)
	}
	if _, err := svc.GetPersonByUserID(context.Background(), "nobody"); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}
