package sample

import (
	"net/http"
	"strconv"

	"github.com/google/uuid"
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
	read := api.Group("", auth.RequireRole(auth.AllRoles...))
	read.GET("/samples", h.ListSamples)
	read.GET("/samples/overdue", h.ListOverdue)
	read.GET("/samples/approaching", h.ListApproaching)
	read.GET("/samples/:id", h.GetSample)

	write := api.Group("", auth.RequireRole(auth.RoleTechnician, auth.RoleLabManager))
	write.POST("/samples", h.RegisterSample)
	write.PUT("/samples/:id", h.UpdateSample)
	write.PATCH("/samples/:id/status", h.TransitionSample)

	admin := api.Group("", auth.RequireRole(auth.RoleAdmin))
	admin.DELETE("/samples/:id", h.DeleteSample)
}

func parseID(c echo.Context) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return uuid.Nil, echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	return id, nil
}

func (h *Handler) RegisterSample(c echo.Context) error {
	var in RegisterInput
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	smp, err := h.svc.Register(c.Request().Context(), &in)
	if err != nil {
		return apperr.HTTPError(err, http.StatusInternalServerError)
	}
	return c.JSON(http.StatusCreated, h.svc.Details([]*Sample{smp})[0])
}

// GetSample accepts either the UUID or the SMP code.
func (h *Handler) GetSample(c echo.Context) error {
	ctx := c.Request().Context()
	var (
		smp *Sample
		err error
	)
	if id, perr := uuid.Parse(c.Param("id")); perr == nil {
		smp, err = h.svc.GetSample(ctx, id)
	} else {
		smp, err = h.svc.GetByCode(ctx, c.Param("id"))
	}
	if err != nil {
		return apperr.HTTPError(err, http.StatusInternalServerError)
	}
	return c.JSON(http.StatusOK, h.svc.Details([]*Sample{smp})[0])
}

func (h *Handler) ListSamples(c echo.Context) error {
	pg := pagination.FromContext(c)
	params := map[string]string{}
	for _, k := range []string{"status", "priority", "type", "technician", "lab", "q", "received_from", "received_to"} {
		if v := c.QueryParam(k); v != "" {
			params[k] = v
		}
	}
	items, total, err := h.svc.SearchSamples(c.Request().Context(), params, pg.Limit, pg.Offset)
	if err != nil {
		return apperr.HTTPError(err, http.StatusInternalServerError)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(h.svc.Details(items), total, pg.Limit, pg.Offset))
}

func (h *Handler) ListOverdue(c echo.Context) error {
	items, err := h.svc.ListOverdue(c.Request().Context())
	if err != nil {
		return apperr.HTTPError(err, http.StatusInternalServerError)
	}
	return c.JSON(http.StatusOK, h.svc.Details(items))
}

func (h *Handler) ListApproaching(c echo.Context) error {
	hours, _ := strconv.Atoi(c.QueryParam("hours"))
	items, err := h.svc.ListApproaching(c.Request().Context(), hours)
	if err != nil {
		return apperr.HTTPError(err, http.StatusInternalServerError)
	}
	return c.JSON(http.StatusOK, h.svc.Details(items))
}

func (h *Handler) UpdateSample(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	var smp Sample
	if err := c.Bind(&smp); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	smp.ID = id
	updated, err := h.svc.UpdateSample(c.Request().Context(), &smp)
	if err != nil {
		return apperr.HTTPError(err, http.StatusInternalServerError)
	}
	return c.JSON(http.StatusOK, h.svc.Details([]*Sample{updated})[0])
}

func (h *Handler) TransitionSample(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	var body struct {
		Status string `json:"status"`
	}
	if err := c.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	smp, err := h.svc.Transition(c.Request().Context(), id, body.Status)
	if err != nil {
		return apperr.HTTPError(err, http.StatusInternalServerError)
	}
	return c.JSON(http.StatusOK, h.svc.Details([]*Sample{smp})[0])
}

func (h *Handler) DeleteSample(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	if err := h.svc.DeleteSample(c.Request().Context(), id); err != nil {
		return apperr.HTTPError(err, http.StatusInternalServerError)
	}
	return c.NoContent(http.StatusNoContent)
}
