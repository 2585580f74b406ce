package pagination

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
)

func paramsFor(query string) Params {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/"+query, nil)
	return FromContext(e.NewContext(req, httptest.NewRecorder()))
}

func TestFromContext_Defaults(t *testing.T) {
	p := paramsFor("")
	if p.Limit != DefaultLimit {
		t.Errorf("expected default limit %d, got %d", DefaultLimit, p.Limit)
	}
	if p.Offset != 0 {
		t.Errorf("expected default offset 0, got %d", p.Offset)
	}
}

func TestFromContext_LimitOffset(t *testing.T) {
	p := paramsFor("?limit=50&offset=10")
	if p.Limit != 50 || p.Offset != 10 {
		t.Errorf("expected 50/10, got %d/%d", p.Limit, p.Offset)
	}
}

func TestFromContext_Page(t *testing.T) {
	p := paramsFor("?page=3&page_size=20")
	if p.Limit != 20 || p.Offset != 40 {
		t.Errorf("expected 20/40, got %d/%d", p.Limit, p.Offset)
	}
}

func TestFromContext_Clamp(t *testing.T) {
	p := paramsFor("?limit=5000&offset=-3")
	if p.Limit != MaxLimit {
		t.Errorf("expected limit clamped to %d, got %d", MaxLimit, p.Limit)
	}
	if p.Offset != 0 {
		t.Errorf("expected offset 0, got %d", p.Offset)
	}
}

func TestNewResponse(t *testing.T) {
	r := NewResponse([]int{1, 2}, 45, 20, 20)
	if r.Page != 2 {
		t.Errorf("expected page 2, got %d", r.Page)
	}
	if !r.HasMore {
		t.Error("expected has_more")
	}
	if NewResponse(nil, 40, 20, 20).HasMore {
		t.Error("expected last page to have no more")
	}
}
