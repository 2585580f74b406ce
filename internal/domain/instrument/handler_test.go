package instrument

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
)

func jsonContext(e *echo.Echo, body string) (echo.Context, *httptest.ResponseRecorder) {
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	return e.NewContext(req, rec), rec
}

func withID(c echo.Context, id uuid.UUID) echo.Context {
	c.SetParamNames("id")
	c.SetParamValues(id.String())
	return c
}

func httpCode(err error) int {
	if he, ok := err.(*echo.HTTPError); ok {
		return he.Code
	}
	return 0
}

func TestHandler_CreateInstrument(t *testing.T) {
	svc, repo := newTestService()
	h, e := NewHandler(svc), echo.New()

	c, rec := jsonContext(e, `{"name":"Centrifuge","serial_number":"CF-9","calibration_frequency_days":90}`)
	if err := h.CreateInstrument(c); err != nil {
		t.Fatalf("CreateInstrument: %v", err)
	}
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", rec.Code)
	}
	var got Instrument
	json.Unmarshal(rec.Body.Bytes(), &got)
	if got.Status != StatusOperational || got.CalibrationFrequencyDays != 90 {
		t.Errorf("unexpected instrument %+v", got)
	}
	if len(repo.items) != 1 {
		t.Errorf("expected 1 stored instrument, got %d", len(repo.items))
	}

	c, _ = jsonContext(e, `{"name":"Centrifuge"}`)
	if code := httpCode(h.CreateInstrument(c)); code != http.StatusBadRequest {
		t.Errorf("missing serial: got %d, want 400", code)
	}
}

func TestHandler_RecordCalibration(t *testing.T) {
	svc, repo := newTestService()
	h, e := NewHandler(svc), echo.New()
	inst := createAnalyzer(t, svc, 30)

	c, rec := jsonContext(e, `{"calibrated_on":"2026-03-12T00:00:00Z","passed":true}`)
	if err := h.RecordCalibration(withID(c, inst.ID)); err != nil {
		t.Fatalf("RecordCalibration: %v", err)
	}
	var got CalibrationRecord
	json.Unmarshal(rec.Body.Bytes(), &got)
	if got.InstrumentID != inst.ID || got.NextDue == nil || !got.NextDue.Equal(day(2026, 4, 11)) {
		t.Errorf("unexpected calibration %+v", got)
	}
	if got.InstrumentName != "Chemistry Analyzer" {
		t.Errorf("instrument_name = %q", got.InstrumentName)
	}
	if !repo.items[inst.ID].NextCalibration.Equal(day(2026, 4, 11)) {
		t.Errorf("instrument next calibration = %v", repo.items[inst.ID].NextCalibration)
	}

	c, _ = jsonContext(e, `{"calibrated_on":"2026-04-01T00:00:00Z"}`)
	if code := httpCode(h.RecordCalibration(withID(c, inst.ID))); code != http.StatusBadRequest {
		t.Errorf("future calibration: got %d, want 400", code)
	}

	c, _ = jsonContext(e, `{"calibrated_on":"2026-03-12T00:00:00Z"}`)
	if code := httpCode(h.RecordCalibration(withID(c, uuid.New()))); code != http.StatusNotFound {
		t.Errorf("unknown instrument: got %d, want 404", code)
	}
}

func TestHandler_RecordMaintenance(t *testing.T) {
	svc, _ := newTestService()
	h, e := NewHandler(svc), echo.New()
	inst := createAnalyzer(t, svc, 0)

	c, rec := jsonContext(e, `{"maintenance_type":"corrective","description":"replaced lamp","cost":"120.00"}`)
	if err := h.RecordMaintenance(withID(c, inst.ID)); err != nil {
		t.Fatalf("RecordMaintenance: %v", err)
	}
	var got MaintenanceLog
	json.Unmarshal(rec.Body.Bytes(), &got)
	if got.MaintenanceType != MaintenanceCorrective || !got.PerformedAt.Equal(t0) {
		t.Errorf("unexpected log %+v", got)
	}

	c, _ = jsonContext(e, `{"maintenance_type":"cosmetic","description":"polish"}`)
	if code := httpCode(h.RecordMaintenance(withID(c, inst.ID))); code != http.StatusBadRequest {
		t.Errorf("bad type: got %d, want 400", code)
	}
}

func TestHandler_ListInstrumentCalibrations(t *testing.T) {
	svc, _ := newTestService()
	h, e := NewHandler(svc), echo.New()
	a := createAnalyzer(t, svc, 0)
	b := createAnalyzer(t, svc, 0)
	for _, id := range []uuid.UUID{a.ID, b.ID} {
		if _, err := svc.RecordCalibration(t.Context(), &CalibrationRecord{InstrumentID: id, CalibratedOn: day(2026, 3, 1)}); err != nil {
			t.Fatalf("RecordCalibration: %v", err)
		}
	}

	rec := httptest.NewRecorder()
	c := withID(e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), rec), a.ID)
	if err := h.ListInstrumentCalibrations(c); err != nil {
		t.Fatalf("ListInstrumentCalibrations: %v", err)
	}
	var body struct {
		Data  []CalibrationRecord `json:"data"`
		Total int                 `json:"total"`
	}
	json.Unmarshal(rec.Body.Bytes(), &body)
	if body.Total != 1 || body.Data[0].InstrumentID != a.ID {
		t.Errorf("expected a single record for %s, got %+v", a.ID, body)
	}
}
