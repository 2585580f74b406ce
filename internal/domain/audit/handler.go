package audit

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/lims/lims/internal/platform/apperr"
	"github.com/lims/lims/internal/platform/auth"
	"github.com/lims/lims/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	g := api.Group("", auth.RequireRole(auth.RoleLabManager))
	g.GET("/audit", h.Search)
	g.GET("/audit/summary", h.Summary)
	g.GET("/audit/export", h.Export)
}

func parseTime(c echo.Context, name string) (*time.Time, error) {
	v := c.QueryParam(name)
	if v == "" {
		return nil, nil
	}
	if t, err := time.Parse(time.RFC3339, v); err == nil {
		return &t, nil
	}
	t, err := time.Parse(time.DateOnly, v)
	if err != nil {
		return nil, echo.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("invalid %s: %q", name, v))
	}
	if name == "to" {
		t = t.Add(24*time.Hour - time.Nanosecond)
	}
	return &t, nil
}

// parseFilter reads user_id, action, resource_type, resource_id, from, to and failed.
// Dates may be RFC 3339 timestamps or YYYY-MM-DD; a bare to date covers the whole day.
func parseFilter(c echo.Context) (Filter, error) {
	f := Filter{
		UserID:       c.QueryParam("user_id"),
		Action:       c.QueryParam("action"),
		ResourceType: c.QueryParam("resource_type"),
		ResourceID:   c.QueryParam("resource_id"),
	}
	var err error
	if f.From, err = parseTime(c, "from"); err != nil {
		return f, err
	}
	if f.To, err = parseTime(c, "to"); err != nil {
		return f, err
	}
	if v := c.QueryParam("failed"); v != "" {
		f.FailedOnly, _ = strconv.ParseBool(v)
	}
	return f, nil
}

func (h *Handler) Search(c echo.Context) error {
	f, err := parseFilter(c)
	if err != nil {
		return err
	}
	pg := pagination.FromContext(c)
	items, total, err := h.svc.Search(c.Request().Context(), f, pg.Limit, pg.Offset)
	if err != nil {
		return apperr.HTTPError(err, http.StatusInternalServerError)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}

func (h *Handler) Summary(c echo.Context) error {
	f, err := parseFilter(c)
	if err != nil {
		return err
	}
	sum, err := h.svc.Summarize(c.Request().Context(), f)
	if err != nil {
		return apperr.HTTPError(err, http.StatusInternalServerError)
	}
	return c.JSON(http.StatusOK, sum)
}

func (h *Handler) Export(c echo.Context) error {
	f, err := parseFilter(c)
	if err != nil {
		return err
	}
	if err := validateFilter(f); err != nil {
		return apperr.HTTPError(err, http.StatusInternalServerError)
	}
	c.Response().Header().Set(echo.HeaderContentType, "text/csv")
	c.Response().Header().Set(echo.HeaderContentDisposition,
		fmt.Sprintf("attachment; filename=\"audit_export_%s.csv\"", h.svc.now().UTC().Format("20060102_150405")))
	c.Response().WriteHeader(http.StatusOK)
	return h.svc.ExportCSV(c.Request().Context(), f, c.Response())
}
