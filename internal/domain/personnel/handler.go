package personnel

import (
	"net/http"

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
	read.GET("/labs", h.ListLabs)
	read.GET("/labs/:id", h.GetLab)
	read.GET("/personnel", h.ListPeople)
	read.GET("/personnel/me", h.Me)
	read.GET("/personnel/:id", h.GetPerson)

	write := api.Group("", auth.RequireRole(auth.RoleLabManager))
	write.POST("/labs", h.CreateLab)
	write.PUT("/labs/:id", h.UpdateLab)
	write.DELETE("/labs/:id", h.DeleteLab)
	write.POST("/personnel", h.CreatePerson)
	write.PUT("/personnel/:id", h.UpdatePerson)
	write.DELETE("/personnel/:id", h.DeletePerson)
}

func parseID(c echo.Context) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return uuid.Nil, echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	return id, nil
}

// ---- Lab ----

func (h *Handler) CreateLab(c echo.Context) error {
	var l Lab
	if err := c.Bind(&l); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := h.svc.CreateLab(c.Request().Context(), &l); err != nil {
		return apperr.HTTPError(err, http.StatusBadRequest)
	}
	return c.JSON(http.StatusCreated, l)
}

func (h *Handler) GetLab(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	l, err := h.svc.GetLab(c.Request().Context(), id)
	if err != nil {
		return apperr.HTTPError(err, http.StatusInternalServerError)
	}
	return c.JSON(http.StatusOK, l)
}

func (h *Handler) ListLabs(c echo.Context) error {
	pg := pagination.FromContext(c)
	items, total, err := h.svc.ListLabs(c.Request().Context(), pg.Limit, pg.Offset)
	if err != nil {
		return apperr.HTTPError(err, http.StatusInternalServerError)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}

func (h *Handler) UpdateLab(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	var l Lab
	if err := c.Bind(&l); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	l.ID = id
	if err := h.svc.UpdateLab(c.Request().Context(), &l); err != nil {
		return apperr.HTTPError(err, http.StatusBadRequest)
	}
	return c.JSON(http.StatusOK, l)
}

func (h *Handler) DeleteLab(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	if err := h.svc.DeleteLab(c.Request().Context(), id); err != nil {
		return apperr.HTTPError(err, http.StatusInternalServerError)
	}
	return c.NoContent(http.StatusNoContent)
}

// ---- Person ----

func (h *Handler) CreatePerson(c echo.Context) error {
	var p Person
	if err := c.Bind(&p); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := h.svc.CreatePerson(c.Request().Context(), &p); err != nil {
		return apperr.HTTPError(err, http.StatusBadRequest)
	}
	return c.JSON(http.StatusCreated, p)
}

func (h *Handler) GetPerson(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	p, err := h.svc.GetPerson(c.Request().Context(), id)
	if err != nil {
		return apperr.HTTPError(err, http.StatusInternalServerError)
	}
	return c.JSON(http.StatusOK, p)
}

// Me returns the caller's own personnel record.
func (h *Handler) Me(c echo.Context) error {
	p := ActorFromContext(c.Request().Context())
	if p == nil {
		return echo.NewHTTPError(http.StatusNotFound, "no personnel record for current user")
	}
	return c.JSON(http.StatusOK, p)
}

func (h *Handler) ListPeople(c echo.Context) error {
	pg := pagination.FromContext(c)
	params := map[string]string{}
	for _, k := range []string{"role", "lab", "active", "name"} {
		if v := c.QueryParam(k); v != "" {
			params[k] = v
		}
	}
	items, total, err := h.svc.SearchPeople(c.Request().Context(), params, pg.Limit, pg.Offset)
	if err != nil {
		return apperr.HTTPError(err, http.StatusInternalServerError)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}

func (h *Handler) UpdatePerson(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	var p Person
	if err := c.Bind(&p); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	p.ID = id
	if err := h.svc.UpdatePerson(c.Request().Context(), &p); err != nil {
		return apperr.HTTPError(err, http.StatusBadRequest)
	}
	return c.JSON(http.StatusOK, p)
}

func (h *Handler) DeletePerson(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	if err := h.svc.DeletePerson(c.Request().Context(), id); err != nil {
		return apperr.HTTPError(err, http.StatusInternalServerError)
	}
	return c.NoContent(http.StatusNoContent)
}
