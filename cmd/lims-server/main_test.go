package main

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/lims/lims/internal/config"
	"github.com/lims/lims/internal/domain/reporting"
	"github.com/lims/lims/internal/platform/blobstore"
	"github.com/lims/lims/internal/platform/db"
	"github.com/lims/lims/internal/platform/metrics"
)

func testConfig() *config.Config {
	return &config.Config{
		Env:                 "production",
		AuthSigningKey:      "test-secret",
		CORSOrigins:         []string{"http://localhost:3000"},
		NegativeStockPolicy: config.NegativeStockAllow,
		ExpiryWarningDays:   30,
		SampleIDMaxRetries:  3,
		BlobDriver:          config.BlobDriverMemory,
	}
}

func testServer(m *metrics.Metrics) http.Handler {
	cfg := testConfig()
	svcs := newServices(nil, cfg, blobstore.NewMemoryStore(), m, zerolog.Nop())
	return newServer(cfg, svcs, m, nil, zerolog.Nop())
}

func TestServer_Health(t *testing.T) {
	rec := httptest.NewRecorder()
	testServer(nil).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), version) {
		t.Errorf("expected version in body, got %s", rec.Body.String())
	}
}

func TestServer_MetricsEndpoint(t *testing.T) {
	srv := testServer(metrics.New())
	srv.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/health", nil))

	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "lims_http_requests_total") {
		t.Error("expected http request counter in scrape output")
	}
}

func TestServer_NoMetricsWhenDisabled(t *testing.T) {
	rec := httptest.NewRecorder()
	testServer(nil).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", rec.Code)
	}
}

func TestServer_APIRequiresToken(t *testing.T) {
	for _, path := range []string{"/api/v1/samples", "/api/v1/dashboard", "/api/v1/audit"} {
		rec := httptest.NewRecorder()
		testServer(nil).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		if rec.Code != http.StatusUnauthorized {
			t.Errorf("%s: expected 401, got %d", path, rec.Code)
		}
	}
}

func TestServer_RegistersDomainRoutes(t *testing.T) {
	cfg := testConfig()
	e := newServer(cfg, newServices(nil, cfg, blobstore.NewMemoryStore(), nil, zerolog.Nop()), nil, nil, zerolog.Nop())

	routes := map[string]bool{}
	for _, r := range e.Routes() {
		routes[r.Method+" "+r.Path] = true
	}
	for _, want := range []string{
		"POST /api/v1/samples",
		"GET /api/v1/samples/:id/assignments",
		"GET /api/v1/tests",
		"POST /api/v1/results/:id/approve",
		"GET /api/v1/reagents",
		"GET /api/v1/instruments",
		"GET /api/v1/personnel",
		"GET /api/v1/audit",
		"GET /api/v1/dashboard",
		"GET /api/v1/reports/samples",
	} {
		if !routes[want] {
			t.Errorf("missing route %s", want)
		}
	}
}

func TestJWTConfig(t *testing.T) {
	cfg := testConfig()
	cfg.AuthIssuer = "https://issuer.example"
	jc := jwtConfig(cfg)
	if string(jc.SigningKey) != "test-secret" || jc.Issuer != "https://issuer.example" {
		t.Errorf("unexpected jwt config %+v", jc)
	}

	cfg.AuthSigningKey = ""
	if jc := jwtConfig(cfg); jc.SigningKey != nil {
		t.Error("expected no signing key")
	}
}

func TestNewBlobStore_Memory(t *testing.T) {
	store, err := newBlobStore(context.Background(), testConfig())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if store.Driver() != config.BlobDriverMemory {
		t.Errorf("expected memory driver, got %s", store.Driver())
	}
}

func TestNewBlobStore_S3RequiresBucket(t *testing.T) {
	cfg := testConfig()
	cfg.BlobDriver = config.BlobDriverS3
	if _, err := newBlobStore(context.Background(), cfg); err == nil {
		t.Error("expected error without a bucket")
	}
}

func TestMigrationFiles_Embedded(t *testing.T) {
	m := db.NewMigrator(nil, migrationFiles(""), zerolog.Nop())
	migs, err := m.LoadMigrations()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(migs) == 0 || migs[0].Version != 1 {
		t.Errorf("expected the embedded schema, got %+v", migs)
	}
}

func TestPrintMigrationStatus(t *testing.T) {
	applied := time.Date(2026, 3, 1, 9, 30, 0, 0, time.UTC)
	var buf bytes.Buffer
	printMigrationStatus(&buf, []db.MigrationStatus{
		{Version: 1, Name: "lims", Applied: true, AppliedAt: &applied},
		{Version: 2, Name: "indexes"},
	})
	out := buf.String()
	if !strings.Contains(out, "applied    2026-03-01 09:30:00") {
		t.Errorf("missing applied row:\n%s", out)
	}
	if !strings.Contains(out, "pending") {
		t.Errorf("missing pending row:\n%s", out)
	}
}

type fakeExporter struct {
	data []byte
	obj  *blobstore.Object
	err  error
	kind string
}

func (f *fakeExporter) ExportCSV(_ context.Context, kind string, _ reporting.ExportFilter, archive bool) ([]byte, *blobstore.Object, error) {
	f.kind = kind
	if !archive {
		return f.data, nil, f.err
	}
	return f.data, f.obj, f.err
}

func TestRunReportExport(t *testing.T) {
	exp := &fakeExporter{data: []byte("Sample ID\nS1\n"), obj: &blobstore.Object{Key: "reports/samples/x.csv"}}
	var stdout, stderr bytes.Buffer
	if err := runReportExport(context.Background(), exp, reporting.ExportSamples, true, &stdout, &stderr); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if exp.kind != reporting.ExportSamples || stdout.String() != "Sample ID\nS1\n" {
		t.Errorf("unexpected output %q for %s", stdout.String(), exp.kind)
	}
	if !strings.Contains(stderr.String(), "reports/samples/x.csv") {
		t.Errorf("expected archive key on stderr, got %q", stderr.String())
	}

	stderr.Reset()
	if err := runReportExport(context.Background(), exp, reporting.ExportSamples, false, &stdout, &stderr); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if stderr.Len() != 0 {
		t.Errorf("expected nothing on stderr, got %q", stderr.String())
	}

	exp.err = errors.New("boom")
	if err := runReportExport(context.Background(), exp, reporting.ExportSamples, false, &stdout, &stderr); err == nil {
		t.Error("expected error")
	}
}
