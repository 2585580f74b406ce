package reporting

import (
	"fmt"
	"io"
	"net/http"
	"path"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/lims/lims/internal/domain/personnel"
	"github.com/lims/lims/internal/platform/apperr"
	"github.com/lims/lims/internal/platform/auth"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	read := api.Group("", auth.RequireRole(auth.AllRoles...))
	read.GET("/dashboard", h.Dashboard)
	read.GET("/reports/workload", h.Workload)
	read.GET("/reports/technician-workload", h.TechnicianWorkload)

	review := api.Group("/reports", auth.RequireRole(auth.RoleReviewer, auth.RoleLabManager))
	review.GET("/samples", h.Report(ExportSamples))
	review.GET("/tests", h.Report(ExportTests))
	review.GET("/inventory", h.Report(ExportInventory))
	review.GET("/instruments", h.Report(ExportInstruments))
	review.GET("/measures", h.ListMeasures)
	review.GET("/measures/:id/evaluate", h.EvaluateMeasure)

	manage := api.Group("/reports", auth.RequireRole(auth.RoleLabManager))
	manage.GET("/monthly-costs", h.MonthlyCosts)
	manage.GET("/test-costs/:id", h.TestCost)
	manage.GET("/reagents/:id/consumption", h.Consumption)
	manage.GET("/reagents/:id/usage-by-test", h.ReagentUsage)
	manage.GET("/cost-per-sample", h.CostPerSample)
	manage.GET("/cost-centers/:id/budget", h.BudgetStatus)
	manage.GET("/archives", h.ListArchives)
	manage.GET("/archives/download", h.DownloadArchive)
}

func parseID(c echo.Context) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return uuid.Nil, echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	return id, nil
}

// parseDate accepts RFC 3339 or YYYY-MM-DD. A bare date used as an upper
// bound covers the whole day.
func parseDate(c echo.Context, name string, upper bool) (*time.Time, error) {
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
	if upper {
		t = EndOfDay(t)
	}
	return &t, nil
}

func parseRange(c echo.Context) (Range, error) {
	var (
		r   Range
		err error
	)
	if r.From, err = parseDate(c, "start_date", false); err != nil {
		return r, err
	}
	r.To, err = parseDate(c, "end_date", true)
	return r, err
}

func queryInt(c echo.Context, name string) (int, error) {
	v := c.QueryParam(name)
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, echo.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("invalid %s: %q", name, v))
	}
	return n, nil
}

func (h *Handler) Dashboard(c echo.Context) error {
	d, err := h.svc.Dashboard(c.Request().Context())
	if err != nil {
		return apperr.HTTPError(err, http.StatusInternalServerError)
	}
	return c.JSON(http.StatusOK, d)
}

func (h *Handler) Workload(c echo.Context) error {
	r, err := parseRange(c)
	if err != nil {
		return err
	}
	rep, err := h.svc.Workload(c.Request().Context(), r)
	if err != nil {
		return apperr.HTTPError(err, http.StatusInternalServerError)
	}
	return c.JSON(http.StatusOK, rep)
}

// TechnicianWorkload reports on ?technician=<person id>, defaulting to the
// caller.
func (h *Handler) TechnicianWorkload(c echo.Context) error {
	ctx := c.Request().Context()
	var id uuid.UUID
	if v := c.QueryParam("technician"); v != "" {
		parsed, err := uuid.Parse(v)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid technician")
		}
		id = parsed
	} else if actor := personnel.ActorID(ctx); actor != nil {
		id = *actor
	} else {
		return echo.NewHTTPError(http.StatusBadRequest, "technician is required")
	}
	includeCompleted, _ := strconv.ParseBool(c.QueryParam("include_completed"))
	w, err := h.svc.TechnicianWorkload(ctx, id, includeCompleted)
	if err != nil {
		return apperr.HTTPError(err, http.StatusInternalServerError)
	}
	return c.JSON(http.StatusOK, w)
}

// Report serves one export report as JSON, or as CSV with ?export=csv.
// Adding &archive=true also stores the CSV in the blob store and returns
// its key in the X-Archive-Key header.
func (h *Handler) Report(kind string) echo.HandlerFunc {
	return func(c echo.Context) error {
		r, err := parseRange(c)
		if err != nil {
			return err
		}
		f := ExportFilter{Range: r, SampleType: c.QueryParam("sample_type"), Status: c.QueryParam("status")}
		ctx := c.Request().Context()

		if c.QueryParam("export") != "csv" {
			rows, total, err := h.svc.Rows(ctx, kind, f)
			if err != nil {
				return apperr.HTTPError(err, http.StatusInternalServerError)
			}
			return c.JSON(http.StatusOK, map[string]interface{}{"report": kind, "total": total, "data": rows})
		}

		archive, _ := strconv.ParseBool(c.QueryParam("archive"))
		data, obj, err := h.svc.ExportCSV(ctx, kind, f, archive)
		if err != nil {
			return apperr.HTTPError(err, http.StatusInternalServerError)
		}
		if obj != nil {
			c.Response().Header().Set("X-Archive-Key", obj.Key)
		}
		c.Response().Header().Set(echo.HeaderContentDisposition,
			fmt.Sprintf("attachment; filename=%q", ExportFilename(kind)))
		return c.Blob(http.StatusOK, "text/csv", data)
	}
}

func (h *Handler) ListMeasures(c echo.Context) error {
	return c.JSON(http.StatusOK, h.svc.Measures())
}

func (h *Handler) EvaluateMeasure(c echo.Context) error {
	params := map[string]string{}
	for name, values := range c.QueryParams() {
		if len(values) > 0 {
			params[name] = values[0]
		}
	}
	rep, err := h.svc.EvaluateMeasure(c.Request().Context(), c.Param("id"), params)
	if err != nil {
		return apperr.HTTPError(err, http.StatusInternalServerError)
	}
	return c.JSON(http.StatusOK, rep)
}

func (h *Handler) MonthlyCosts(c echo.Context) error {
	now := h.svc.now().UTC()
	year, err := queryInt(c, "year")
	if err != nil {
		return err
	}
	month, err := queryInt(c, "month")
	if err != nil {
		return err
	}
	if year == 0 {
		year = now.Year()
	}
	if month == 0 {
		month = int(now.Month())
	}
	var center *uuid.UUID
	if v := c.QueryParam("cost_center"); v != "" {
		id, err := uuid.Parse(v)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid cost_center")
		}
		center = &id
	}
	rep, err := h.svc.MonthlyCosts(c.Request().Context(), year, month, center)
	if err != nil {
		return apperr.HTTPError(err, http.StatusInternalServerError)
	}
	return c.JSON(http.StatusOK, rep)
}

func (h *Handler) TestCost(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	r, err := parseRange(c)
	if err != nil {
		return err
	}
	rep, err := h.svc.TestCost(c.Request().Context(), id, r)
	if err != nil {
		return apperr.HTTPError(err, http.StatusInternalServerError)
	}
	return c.JSON(http.StatusOK, rep)
}

func (h *Handler) Consumption(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	r, err := parseRange(c)
	if err != nil {
		return err
	}
	rep, err := h.svc.Consumption(c.Request().Context(), id, r)
	if err != nil {
		return apperr.HTTPError(err, http.StatusInternalServerError)
	}
	return c.JSON(http.StatusOK, rep)
}

func (h *Handler) ReagentUsage(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	r, err := parseRange(c)
	if err != nil {
		return err
	}
	rep, err := h.svc.ReagentUsage(c.Request().Context(), id, r)
	if err != nil {
		return apperr.HTTPError(err, http.StatusInternalServerError)
	}
	return c.JSON(http.StatusOK, rep)
}

func (h *Handler) CostPerSample(c echo.Context) error {
	r, err := parseRange(c)
	if err != nil {
		return err
	}
	rep, err := h.svc.CostPerSample(c.Request().Context(), r)
	if err != nil {
		return apperr.HTTPError(err, http.StatusInternalServerError)
	}
	return c.JSON(http.StatusOK, rep)
}

func (h *Handler) BudgetStatus(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	year, err := queryInt(c, "year")
	if err != nil {
		return err
	}
	month, err := queryInt(c, "month")
	if err != nil {
		return err
	}
	rep, err := h.svc.BudgetStatus(c.Request().Context(), id, year, month)
	if err != nil {
		return apperr.HTTPError(err, http.StatusInternalServerError)
	}
	return c.JSON(http.StatusOK, rep)
}

func (h *Handler) ListArchives(c echo.Context) error {
	objs, err := h.svc.ListArchives(c.Request().Context(), c.QueryParam("report"))
	if err != nil {
		return apperr.HTTPError(err, http.StatusInternalServerError)
	}
	return c.JSON(http.StatusOK, objs)
}

func (h *Handler) DownloadArchive(c echo.Context) error {
	obj, rc, err := h.svc.OpenArchive(c.Request().Context(), c.QueryParam("key"))
	if err != nil {
		return apperr.HTTPError(err, http.StatusInternalServerError)
	}
	defer rc.Close()
	c.Response().Header().Set(echo.HeaderContentDisposition,
		fmt.Sprintf("attachment; filename=%q", path.Base(obj.Key)))
	contentType := obj.ContentType
	if contentType == "" {
		contentType = "text/csv"
	}
	c.Response().Header().Set(echo.HeaderContentType, contentType)
	c.Response().WriteHeader(http.StatusOK)
	_, err = io.Copy(c.Response(), rc)
	return err
}
