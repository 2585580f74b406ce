package personnel

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/lims/lims/internal/platform/auth"
)

func runActor(t *testing.T, lookup ActorLookup, userID string) *Person {
	t.Helper()
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	if userID != "" {
		req = req.WithContext(context.WithValue(req.Context(), auth.UserIDKey, userID))
	}
	c := e.NewContext(req, httptest.NewRecorder())

	var got *Person
	err := ActorMiddleware(lookup, zerolog.Nop())(func(c echo.Context) error {
		got = ActorFromContext(c.Request().Context())
		return nil
	})(c)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return got
}

func TestActorMiddleware_Resolves(t *testing.T) {
	repo := newMockPersonRepo()
	p := &Person{FirstName: "Rosalind", LastName: "Franklin", UserID: strPtr("sub-rf")}
	repo.Create(context.Background(), p)

	got := runActor(t, repo, "sub-rf")
	if got == nil || got.ID != p.ID {
		t.Fatalf("expected actor %s, got %+v", p.ID, got)
	}
}

func TestActorMiddleware_UnknownUserIsNil(t *testing.T) {
	if got := runActor(t, newMockPersonRepo(), "sub-unknown"); got != nil {
		t.Errorf("expected nil actor, got %+v", got)
	}
}

type failingLookup struct{}

func (failingLookup) GetByUserID(context.Context, string) (*Person, error) {
	return nil, errors.New("connection refused")
}

func TestActorMiddleware_LookupErrorDoesNotFail(t *testing.T) {
	if got := runActor(t, failingLookup{}, "sub-x"); got != nil {
		t.Errorf("expected nil actor, got %+v", got)
	}
}

func TestActorID(t *testing.T) {
	if ActorID(context.Background()) != nil {
		t.Error("expected nil id without actor")
	}
	p := &Person{}
	p.ID[0] = 1
	if id := ActorID(WithActor(context.Background(), p)); id == nil || *id != p.ID {
		t.Errorf("expected %s, got %v", p.ID, id)
	}
}
