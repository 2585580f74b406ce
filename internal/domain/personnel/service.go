package personnel

import (
	"context"
	"strings"

	"github.com/google/uuid"

	"github.com/lims/lims/internal/platform/apperr"
	"github.com/lims/lims/internal/platform/auth"
)

type Service struct {
	labs   LabRepository
	people PersonRepository
}

func NewService(labs LabRepository, people PersonRepository) *Service {
	return &Service{labs: labs, people: people}
}

var validRoles = func() map[string]bool {
	m := make(map[string]bool, len(auth.AllRoles))
	for _, r := range auth.AllRoles {
		m[r] = true
	}
	return m
}()

// ---- Lab ----

func (s *Service) CreateLab(ctx context.Context, l *Lab) error {
	l.Code = strings.TrimSpace(l.Code)
	if l.Code == "" {
		return apperr.Validation("code is required")
	}
	if strings.TrimSpace(l.Name) == "" {
		return apperr.Validation("name is required")
	}
	l.Active = true
	return s.labs.Create(ctx, l)
}

func (s *Service) GetLab(ctx context.Context, id uuid.UUID) (*Lab, error) {
	return s.labs.GetByID(ctx, id)
}

func (s *Service) UpdateLab(ctx context.Context, l *Lab) error {
	if strings.TrimSpace(l.Name) == "" {
		return apperr.Validation("name is required")
	}
	return s.labs.Update(ctx, l)
}

func (s *Service) DeleteLab(ctx context.Context, id uuid.UUID) error {
	return s.labs.Delete(ctx, id)
}

func (s *Service) ListLabs(ctx context.Context, limit, offset int) ([]*Lab, int, error) {
	return s.labs.List(ctx, limit, offset)
}

// ---- Person ----

func (s *Service) validatePerson(p *Person) error {
	if strings.TrimSpace(p.FirstName) == "" || strings.TrimSpace(p.LastName) == "" {
		return apperr.Validation("first_name and last_name are required")
	}
	if p.Role == "" {
		p.Role = auth.RoleTechnician
	}
	if !validRoles[p.Role] {
		return apperr.Validation("invalid role: %s", p.Role)
	}
	return nil
}

func (s *Service) CreatePerson(ctx context.Context, p *Person) error {
	if err := s.validatePerson(p); err != nil {
		return err
	}
	p.Active = true
	return s.people.Create(ctx, p)
}

func (s *Service) GetPerson(ctx context.Context, id uuid.UUID) (*Person, error) {
	return s.people.GetByID(ctx, id)
}

func (s *Service) GetPersonByUserID(ctx context.Context, userID string) (*Person, error) {
	return s.people.GetByUserID(ctx, userID)
}

func (s *Service) UpdatePerson(ctx context.Context, p *Person) error {
	if err := s.validatePerson(p); err != nil {
		return err
	}
	return s.people.Update(ctx, p)
}

func (s *Service) DeletePerson(ctx context.Context, id uuid.UUID) error {
	return s.people.Delete(ctx, id)
}

func (s *Service) SearchPeople(ctx context.Context, params map[string]string, limit, offset int) ([]*Person, int, error) {
	return s.people.Search(ctx, params, limit, offset)
}
