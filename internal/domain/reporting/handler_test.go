package reporting

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/lims/lims/internal/domain/inventory"
)

func TestHandler_ReportJSON(t *testing.T) {
	svc, repo, _, _ := newTestService()
	repo.samples = []SampleRow{{SampleCode: "S1"}, {SampleCode: "S2"}}
	h, e := NewHandler(svc), echo.New()

	rec := httptest.NewRecorder()
	if err := h.Report(ExportSamples)(e.NewContext(httptest.NewRequest(http.MethodGet, "/?status=registered", nil), rec)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var body struct {
		Total int         `json:"total"`
		Data  []SampleRow `json:"data"`
	}
	json.Unmarshal(rec.Body.Bytes(), &body)
	if body.Total != 2 || len(body.Data) != 2 {
		t.Errorf("unexpected body %+v", body)
	}
}

func TestHandler_ReportCSVArchive(t *testing.T) {
	svc, repo, _, _ := newTestService()
	repo.samples = []SampleRow{{SampleCode: "S1", SampleType: "soil", Status: "registered", Priority: "low"}}
	h, e := NewHandler(svc), echo.New()

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/?export=csv&archive=true", nil)
	if err := h.Report(ExportSamples)(e.NewContext(req, rec)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ct := rec.Header().Get(echo.HeaderContentType); ct != "text/csv" {
		t.Errorf("expected text/csv, got %s", ct)
	}
	if !strings.Contains(rec.Header().Get(echo.HeaderContentDisposition), "sample_report.csv") {
		t.Errorf("unexpected disposition %q", rec.Header().Get(echo.HeaderContentDisposition))
	}
	if rec.Header().Get("X-Archive-Key") != ArchiveKey(ExportSamples, fixedNow) {
		t.Errorf("unexpected archive key %q", rec.Header().Get("X-Archive-Key"))
	}
	if !strings.HasPrefix(rec.Body.String(), "Sample ID,Type") {
		t.Errorf("unexpected body %q", rec.Body.String())
	}

	rec = httptest.NewRecorder()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/?key="+ArchiveKey(ExportSamples, fixedNow), nil), rec)
	if err := h.DownloadArchive(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(rec.Body.String(), "S1,Soil") {
		t.Errorf("unexpected archive body %q", rec.Body.String())
	}
}

func TestHandler_ReportBadDate(t *testing.T) {
	svc, _, _, _ := newTestService()
	h, e := NewHandler(svc), echo.New()
	err := h.Report(ExportTests)(e.NewContext(httptest.NewRequest(http.MethodGet, "/?start_date=03/02/2026", nil), httptest.NewRecorder()))
	if he, ok := err.(*echo.HTTPError); !ok || he.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %v", err)
	}
}

func TestHandler_BudgetStatus(t *testing.T) {
	svc, _, lookups, _ := newTestService()
	cc := &inventory.CostCenter{ID: uuid.New(), Name: "Micro", MonthlyBudget: nullDec("100")}
	lookups.centers[cc.ID] = cc
	h, e := NewHandler(svc), echo.New()

	rec := httptest.NewRecorder()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/?year=2026&month=1", nil), rec)
	c.SetParamNames("id")
	c.SetParamValues(cc.ID.String())
	if err := h.BudgetStatus(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var st BudgetStatus
	json.Unmarshal(rec.Body.Bytes(), &st)
	if st.CostCenter != "Micro" || st.Month != 1 {
		t.Errorf("unexpected status %+v", st)
	}

	c = e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), httptest.NewRecorder())
	c.SetParamNames("id")
	c.SetParamValues(uuid.New().String())
	err := h.BudgetStatus(c)
	if he, ok := err.(*echo.HTTPError); !ok || he.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %v", err)
	}
}

func TestHandler_TechnicianWorkloadRequiresTarget(t *testing.T) {
	svc, _, _, _ := newTestService()
	h, e := NewHandler(svc), echo.New()
	err := h.TechnicianWorkload(e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), httptest.NewRecorder()))
	if he, ok := err.(*echo.HTTPError); !ok || he.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %v", err)
	}
}

func TestHandler_EvaluateMeasureNotFound(t *testing.T) {
	svc, _, _, _ := newTestService()
	h, e := NewHandler(svc), echo.New()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), httptest.NewRecorder())
	c.SetParamNames("id")
	c.SetParamValues("missing")
	err := h.EvaluateMeasure(c)
	if he, ok := err.(*echo.HTTPError); !ok || he.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %v", err)
	}
}

func TestHandler_EvaluateMeasureBadSince(t *testing.T) {
	svc, repo, _, _ := newTestService()
	h, e := NewHandler(svc), echo.New()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/?since=last-tuesday", nil), httptest.NewRecorder())
	c.SetParamNames("id")
	c.SetParamValues("sample-volume-by-type")
	err := h.EvaluateMeasure(c)
	if he, ok := err.(*echo.HTTPError); !ok || he.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %v", err)
	}
	if len(repo.evaluated) != 0 {
		t.Errorf("query should not run, got args %v", repo.evaluated)
	}
}
