package middleware

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/lims/lims/internal/platform/auth"
)

const apiPrefix = "/api/v1/"

// AuditEntry describes one mutating API call.
type AuditEntry struct {
	UserID       string
	Action       string // create, update, delete, approve, reject, submit
	ResourceType string
	ResourceID   string
	Method       string
	Path         string
	IPAddress    string
	UserAgent    string
	StatusCode   int
	RequestID    string
	Timestamp    time.Time
}

// AuditRecorder persists audit entries.
type AuditRecorder interface {
	RecordAccess(ctx context.Context, entry AuditEntry) error
}

type AuditRecorderFunc func(ctx context.Context, entry AuditEntry) error

func (f AuditRecorderFunc) RecordAccess(ctx context.Context, entry AuditEntry) error {
	return f(ctx, entry)
}

// Audit records every successful or failed mutating request under /api/v1/.
// Reads are not audited. A recorder failure is logged and never fails the
// request.
func Audit(logger zerolog.Logger, recorder AuditRecorder) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			if !strings.HasPrefix(req.URL.Path, apiPrefix) || !isMutating(req.Method) {
				return next(c)
			}

			err := next(c)

			status := c.Response().Status
			if he, ok := err.(*echo.HTTPError); ok {
				status = he.Code
			}
			resource, id, verb := splitAPIPath(req.URL.Path)
			entry := AuditEntry{
				UserID:       auth.UserIDFromContext(req.Context()),
				Action:       auditAction(req.Method, verb),
				ResourceType: resource,
				ResourceID:   id,
				Method:       req.Method,
				Path:         req.URL.Path,
				IPAddress:    c.RealIP(),
				UserAgent:    req.UserAgent(),
				StatusCode:   status,
				Timestamp:    time.Now().UTC(),
			}
			entry.RequestID, _ = c.Get("request_id").(string)

			if recorder != nil {
				// The request context may already be cancelled once the handler returns.
				if recErr := recorder.RecordAccess(context.WithoutCancel(req.Context()), entry); recErr != nil {
					logger.Error().Err(recErr).Str("request_id", entry.RequestID).Msg("failed to record audit entry")
				}
			}

			logger.Info().
				Str("type", "audit").
				Str("request_id", entry.RequestID).
				Str("user_id", entry.UserID).
				Str("action", entry.Action).
				Str("resource_type", entry.ResourceType).
				Str("resource_id", entry.ResourceID).
				Int("status", entry.StatusCode).
				Msg("lims_audit")

			return err
		}
	}
}

func isMutating(method string) bool {
	switch method {
	case http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
		return true
	}
	return false
}

// splitAPIPath pulls the resource, the first UUID segment and a trailing
// action verb out of paths like /api/v1/results/<id>/approve.
func splitAPIPath(path string) (resource, id, verb string) {
	segments := strings.Split(strings.Trim(strings.TrimPrefix(path, apiPrefix), "/"), "/")
	if len(segments) == 0 || segments[0] == "" {
		return "unknown", "", ""
	}
	resource = segments[0]
	for _, s := range segments[1:] {
		if _, err := uuid.Parse(s); err == nil {
			if id == "" {
				id = s
			}
			continue
		}
		verb = s
	}
	return resource, id, verb
}

func auditAction(method, verb string) string {
	switch verb {
	case "approve", "reject", "submit", "usage", "allocate", "status", "calibrations", "maintenance":
		return verb
	}
	switch method {
	case http.MethodPost:
		return "create"
	case http.MethodPut, http.MethodPatch:
		return "update"
	case http.MethodDelete:
		return "delete"
	}
	return "read"
}
