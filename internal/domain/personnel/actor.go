package personnel

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/lims/lims/internal/platform/apperr"
	"github.com/lims/lims/internal/platform/auth"
)

type actorKey struct{}

// ActorLookup resolves the token subject to a staff record.
type ActorLookup interface {
	GetByUserID(ctx context.Context, userID string) (*Person, error)
}

// ActorMiddleware resolves the caller's Person once per request. Callers
// without a personnel record proceed with a nil actor.
func ActorMiddleware(lookup ActorLookup, logger zerolog.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			ctx := c.Request().Context()
			uid := auth.UserIDFromContext(ctx)
			if uid == "" {
				return next(c)
			}
			p, err := lookup.GetByUserID(ctx, uid)
			switch {
			case err == nil:
				c.SetRequest(c.Request().WithContext(WithActor(ctx, p)))
			case !errors.Is(err, apperr.ErrNotFound):
				logger.Warn().Err(err).Str("user_id", uid).Msg("actor lookup failed")
			}
			return next(c)
		}
	}
}

func WithActor(ctx context.Context, p *Person) context.Context {
	return context.WithValue(ctx, actorKey{}, p)
}

// ActorFromContext returns the resolved Person or nil.
func ActorFromContext(ctx context.Context) *Person {
	p, _ := ctx.Value(actorKey{}).(*Person)
	return p
}

// ActorID returns the resolved Person's id or nil.
func ActorID(ctx context.Context) *uuid.UUID {
	if p := ActorFromContext(ctx); p != nil {
		id := p.ID
		return &id
	}
	return nil
}
