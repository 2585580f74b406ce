package assignment

import (
	"net/http"
	"strconv"
	"time"

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
	read.GET("/assignments", h.ListAssignments)
	read.GET("/assignments/overdue", h.ListOverdue)
	read.GET("/assignments/approaching", h.ListApproaching)
	read.GET("/assignments/board", h.Board)
	read.GET("/assignments/:id", h.GetAssignment)
	read.GET("/samples/:id/assignments", h.ListForSample)

	work := api.Group("", auth.RequireRole(auth.RoleTechnician, auth.RoleLabManager))
	work.POST("/assignments", h.Assign)
	work.POST("/assignments/:id/start", h.Start)
	work.PATCH("/assignments/:id/status", h.TransitionAssignment)

	manage := api.Group("", auth.RequireRole(auth.RoleLabManager))
	manage.PUT("/assignments/:id", h.Reassign)
	manage.DELETE("/assignments/:id", h.DeleteAssignment)
}

func parseID(c echo.Context) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return uuid.Nil, echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	return id, nil
}

func (h *Handler) Assign(c echo.Context) error {
	var in AssignInput
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	a, err := h.svc.Assign(c.Request().Context(), in)
	if err != nil {
		return apperr.HTTPError(err, http.StatusInternalServerError)
	}
	return c.JSON(http.StatusCreated, h.svc.Details([]*Assignment{a})[0])
}

func (h *Handler) GetAssignment(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	a, err := h.svc.GetAssignment(c.Request().Context(), id)
	if err != nil {
		return apperr.HTTPError(err, http.StatusInternalServerError)
	}
	return c.JSON(http.StatusOK, h.svc.Details([]*Assignment{a})[0])
}

func (h *Handler) ListAssignments(c echo.Context) error {
	pg := pagination.FromContext(c)
	params := map[string]string{}
	for _, k := range []string{"status", "assigned_to", "sample", "test", "category", "assigned_from", "assigned_to_date"} {
		if v := c.QueryParam(k); v != "" {
			params[k] = v
		}
	}
	items, total, err := h.svc.SearchAssignments(c.Request().Context(), params, pg.Limit, pg.Offset)
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

func (h *Handler) Board(c echo.Context) error {
	var assignee *uuid.UUID
	if v := c.QueryParam("assignee"); v != "" {
		id, err := uuid.Parse(v)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid assignee")
		}
		assignee = &id
	}
	board, err := h.svc.WorkflowBoard(c.Request().Context(), assignee)
	if err != nil {
		return apperr.HTTPError(err, http.StatusInternalServerError)
	}
	return c.JSON(http.StatusOK, board)
}

// ListForSample returns the sample's assignments and its overall expected
// completion.
func (h *Handler) ListForSample(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	ctx := c.Request().Context()
	items, err := h.svc.ListBySample(ctx, id)
	if err != nil {
		return apperr.HTTPError(err, http.StatusInternalServerError)
	}
	expected, err := h.svc.SampleExpectedCompletion(ctx, id)
	if err != nil {
		return apperr.HTTPError(err, http.StatusInternalServerError)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"sample_id":           id,
		"expected_completion": expected,
		"assignments":         h.svc.Details(items),
	})
}

func (h *Handler) Start(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	a, err := h.svc.Start(c.Request().Context(), id)
	if err != nil {
		return apperr.HTTPError(err, http.StatusInternalServerError)
	}
	return c.JSON(http.StatusOK, h.svc.Details([]*Assignment{a})[0])
}

func (h *Handler) TransitionAssignment(c echo.Context) error {
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
	a, err := h.svc.Transition(c.Request().Context(), id, body.Status)
	if err != nil {
		return apperr.HTTPError(err, http.StatusInternalServerError)
	}
	return c.JSON(http.StatusOK, h.svc.Details([]*Assignment{a})[0])
}

func (h *Handler) Reassign(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	var body struct {
		AssignedTo *uuid.UUID `json:"assigned_to"`
		Deadline   *time.Time `json:"deadline"`
	}
	if err := c.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	a, err := h.svc.Reassign(c.Request().Context(), id, body.AssignedTo, body.Deadline)
	if err != nil {
		return apperr.HTTPError(err, http.StatusInternalServerError)
	}
	return c.JSON(http.StatusOK, h.svc.Details([]*Assignment{a})[0])
}

func (h *Handler) DeleteAssignment(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	if err := h.svc.DeleteAssignment(c.Request().Context(), id); err != nil {
		return apperr.HTTPError(err, http.StatusInternalServerError)
	}
	return c.NoContent(http.StatusNoContent)
}
