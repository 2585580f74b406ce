package audit

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/lims/lims/internal/platform/auth"
	"github.com/lims/lims/internal/platform/middleware"
)

func TestHandler_Search(t *testing.T) {
	svc, _ := newTestService()
	seed(t, svc)
	h, e := NewHandler(svc), echo.New()

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/?resource_type=samples&from=2026-05-04&to=2026-05-04", nil)
	if err := h.Search(e.NewContext(req, rec)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var body struct {
		Data  []Entry `json:"data"`
		Total int     `json:"total"`
	}
	json.Unmarshal(rec.Body.Bytes(), &body)
	if body.Total != 2 || len(body.Data) != 2 {
		t.Errorf("expected 2 sample entries, got %+v", body)
	}
}

func TestHandler_Search_BadDate(t *testing.T) {
	svc, _ := newTestService()
	h, e := NewHandler(svc), echo.New()
	req := httptest.NewRequest(http.MethodGet, "/?from=yesterday", nil)
	err := h.Search(e.NewContext(req, httptest.NewRecorder()))
	if he, ok := err.(*echo.HTTPError); !ok || he.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %v", err)
	}
}

func TestHandler_Export(t *testing.T) {
	svc, _ := newTestService()
	seed(t, svc)
	h, e := NewHandler(svc), echo.New()
	rec := httptest.NewRecorder()
	if err := h.Export(e.NewContext(httptest.NewRequest(http.MethodGet, "/?failed=true", nil), rec)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ct := rec.Header().Get(echo.HeaderContentType); ct != "text/csv" {
		t.Errorf("expected text/csv, got %s", ct)
	}
	if !strings.Contains(rec.Header().Get(echo.HeaderContentDisposition), "audit_export_20260504_090000.csv") {
		t.Errorf("unexpected disposition %q", rec.Header().Get(echo.HeaderContentDisposition))
	}
	if lines := strings.Count(strings.TrimSpace(rec.Body.String()), "\n"); lines != 2 {
		t.Errorf("expected header plus 2 failed rows, got %d line breaks", lines)
	}
}

func TestAuditMiddleware_RecordsThroughService(t *testing.T) {
	svc, repo := newTestService()
	e := echo.New()
	e.Use(middleware.Audit(zerolog.Nop(), svc))
	e.POST("/api/v1/results/:id/approve", func(c echo.Context) error {
		return c.NoContent(http.StatusOK)
	})

	req := httptest.NewRequest(http.MethodPost, "/api/v1/results/3f2a6c1e-4b7d-4c55-9a0e-2d1f8b6c7e90/approve", nil)
	req = req.WithContext(context.WithValue(req.Context(), auth.UserIDKey, "rev-1"))
	e.ServeHTTP(httptest.NewRecorder(), req)

	if len(repo.entries) != 1 {
		t.Fatalf("expected 1 audit entry, got %d", len(repo.entries))
	}
	got := repo.entries[0]
	if got.Action != "approve" || got.ResourceType != "results" || deref(got.UserID) != "rev-1" {
		t.Errorf("unexpected entry %+v", got)
	}
	if deref(got.ResourceID) != "3f2a6c1e-4b7d-4c55-9a0e-2d1f8b6c7e90" || got.StatusCode != http.StatusOK {
		t.Errorf("unexpected entry %+v", got)
	}
}
