package inventory

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
)

func jsonContext(e *echo.Echo, method, body string) (echo.Context, *httptest.ResponseRecorder) {
	req := httptest.NewRequest(method, "/", strings.NewReader(body))
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

func TestHandler_CreateReagent(t *testing.T) {
	f := newFixture("")
	h, e := NewHandler(f.svc), echo.New()

	c, rec := jsonContext(e, http.MethodPost,
		`{"name":"Buffer A","catalog_number":"BUF-A","unit":"mL","quantity":"4","minimum_quantity":"5","unit_cost":"0.75"}`)
	if err := h.CreateReagent(c); err != nil {
		t.Fatalf("CreateReagent: %v", err)
	}
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", rec.Code)
	}
	var got ReagentView
	json.Unmarshal(rec.Body.Bytes(), &got)
	if !got.IsLowStock {
		t.Error("4 mL against a minimum of 5 should be low stock")
	}
	if len(f.reagents.items) != 1 {
		t.Errorf("expected 1 stored reagent, got %d", len(f.reagents.items))
	}
}

func TestHandler_CreateReagent_NegativeQuantity(t *testing.T) {
	f := newFixture("")
	h, e := NewHandler(f.svc), echo.New()
	c, _ := jsonContext(e, http.MethodPost, `{"name":"Buffer A","catalog_number":"BUF-A","unit":"mL","quantity":"-1"}`)
	if code := httpCode(h.CreateReagent(c)); code != http.StatusBadRequest {
		t.Errorf("got %d, want 400", code)
	}
}

func TestHandler_UpdateReagent_QuantityEditRefused(t *testing.T) {
	f := newFixture("")
	h, e := NewHandler(f.svc), echo.New()
	r := f.reagent(t, "10", "1.00")

	c, _ := jsonContext(e, http.MethodPut, `{"name":"Glucose Reagent","catalog_number":"GLU-100","unit":"mL","quantity":"50"}`)
	if code := httpCode(h.UpdateReagent(withID(c, r.ID))); code != http.StatusBadRequest {
		t.Errorf("got %d, want 400", code)
	}
	if !f.reagents.items[r.ID].Quantity.Equal(dec("10")) {
		t.Errorf("quantity changed to %s", f.reagents.items[r.ID].Quantity)
	}
}

func TestHandler_RecordUsage(t *testing.T) {
	f := newFixture("")
	h, e := NewHandler(f.svc), echo.New()
	r := f.reagent(t, "20", "1.50")
	a := f.assignment()

	c, rec := jsonContext(e, http.MethodPost, fmt.Sprintf(`{"reagent_id":%q,"quantity":"4"}`, r.ID))
	if err := h.RecordUsage(withID(c, a.ID)); err != nil {
		t.Fatalf("RecordUsage: %v", err)
	}
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", rec.Code)
	}
	var u ReagentUsage
	json.Unmarshal(rec.Body.Bytes(), &u)
	if u.AssignmentID != a.ID || !u.TotalCost.Equal(dec("6")) {
		t.Errorf("unexpected usage %+v", u)
	}
	if !f.reagents.items[r.ID].Quantity.Equal(dec("16")) {
		t.Errorf("reagent quantity = %s, want 16", f.reagents.items[r.ID].Quantity)
	}
}

func TestHandler_RecordUsage_RejectPolicy(t *testing.T) {
	f := newFixture(PolicyReject)
	h, e := NewHandler(f.svc), echo.New()
	r := f.reagent(t, "1", "1.00")
	a := f.assignment()

	c, _ := jsonContext(e, http.MethodPost, fmt.Sprintf(`{"reagent_id":%q,"quantity":"2"}`, r.ID))
	if code := httpCode(h.RecordUsage(withID(c, a.ID))); code != http.StatusBadRequest {
		t.Errorf("got %d, want 400", code)
	}
}

func TestHandler_LowStock(t *testing.T) {
	f := newFixture("")
	h, e := NewHandler(f.svc), echo.New()
	f.reagent(t, "0", "1.00")
	f.reagent(t, "25", "1.00")

	rec := httptest.NewRecorder()
	if err := h.LowStock(e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), rec)); err != nil {
		t.Fatalf("LowStock: %v", err)
	}
	var got LowStock
	json.Unmarshal(rec.Body.Bytes(), &got)
	if len(got.Reagents) != 1 || !got.Reagents[0].Quantity.IsZero() {
		t.Errorf("expected only the empty reagent, got %+v", got.Reagents)
	}
}

func TestHandler_GetTransaction_InvalidID(t *testing.T) {
	f := newFixture("")
	h, e := NewHandler(f.svc), echo.New()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), httptest.NewRecorder())
	c.SetParamNames("id")
	c.SetParamValues("nope")
	if code := httpCode(h.GetTransaction(c)); code != http.StatusBadRequest {
		t.Errorf("got %d, want 400", code)
	}
}
