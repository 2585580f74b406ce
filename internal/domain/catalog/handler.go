package catalog

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
	read.GET("/tests", h.ListTests)
	read.GET("/tests/:id", h.GetTest)
	read.GET("/tests/:id/parameters", h.ListParameters)
	read.GET("/parameters/:id", h.GetParameter)

	write := api.Group("", auth.RequireRole(auth.RoleLabManager))
	write.POST("/tests", h.CreateTest)
	write.PUT("/tests/:id", h.UpdateTest)
	write.DELETE("/tests/:id", h.DeleteTest)
	write.POST("/tests/:id/parameters", h.AddParameter)
	write.PUT("/parameters/:id", h.UpdateParameter)
	write.DELETE("/parameters/:id", h.DeleteParameter)
	write.POST("/tests/import", h.Import)
	write.POST("/tests/estimated-costs", h.UpdateEstimatedCosts)
}

func parseID(c echo.Context) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return uuid.Nil, echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	return id, nil
}

func (h *Handler) CreateTest(c echo.Context) error {
	var t Test
	if err := c.Bind(&t); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := h.svc.CreateTest(c.Request().Context(), &t); err != nil {
		return apperr.HTTPError(err, http.StatusInternalServerError)
	}
	return c.JSON(http.StatusCreated, t)
}

func (h *Handler) GetTest(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	t, err := h.svc.GetTest(c.Request().Context(), id)
	if err != nil {
		return apperr.HTTPError(err, http.StatusInternalServerError)
	}
	return c.JSON(http.StatusOK, t)
}

func (h *Handler) ListTests(c echo.Context) error {
	pg := pagination.FromContext(c)
	params := map[string]string{}
	for _, k := range []string{"category", "active", "q"} {
		if v := c.QueryParam(k); v != "" {
			params[k] = v
		}
	}
	items, total, err := h.svc.SearchTests(c.Request().Context(), params, pg.Limit, pg.Offset)
	if err != nil {
		return apperr.HTTPError(err, http.StatusInternalServerError)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}

func (h *Handler) UpdateTest(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	var t Test
	if err := c.Bind(&t); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	t.ID = id
	if err := h.svc.UpdateTest(c.Request().Context(), &t); err != nil {
		return apperr.HTTPError(err, http.StatusInternalServerError)
	}
	return c.JSON(http.StatusOK, t)
}

func (h *Handler) DeleteTest(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	if err := h.svc.DeleteTest(c.Request().Context(), id); err != nil {
		return apperr.HTTPError(err, http.StatusInternalServerError)
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) AddParameter(c echo.Context) error {
	testID, err := parseID(c)
	if err != nil {
		return err
	}
	var p Parameter
	if err := c.Bind(&p); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	p.TestID = testID
	if err := h.svc.AddParameter(c.Request().Context(), &p); err != nil {
		return apperr.HTTPError(err, http.StatusInternalServerError)
	}
	return c.JSON(http.StatusCreated, p)
}

func (h *Handler) ListParameters(c echo.Context) error {
	testID, err := parseID(c)
	if err != nil {
		return err
	}
	items, err := h.svc.ListParameters(c.Request().Context(), testID)
	if err != nil {
		return apperr.HTTPError(err, http.StatusInternalServerError)
	}
	return c.JSON(http.StatusOK, items)
}

func (h *Handler) GetParameter(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	p, err := h.svc.GetParameter(c.Request().Context(), id)
	if err != nil {
		return apperr.HTTPError(err, http.StatusInternalServerError)
	}
	return c.JSON(http.StatusOK, p)
}

func (h *Handler) UpdateParameter(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	var p Parameter
	if err := c.Bind(&p); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	p.ID = id
	if err := h.svc.UpdateParameter(c.Request().Context(), &p); err != nil {
		return apperr.HTTPError(err, http.StatusInternalServerError)
	}
	return c.JSON(http.StatusOK, p)
}

func (h *Handler) DeleteParameter(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	if err := h.svc.DeleteParameter(c.Request().Context(), id); err != nil {
		return apperr.HTTPError(err, http.StatusInternalServerError)
	}
	return c.NoContent(http.StatusNoContent)
}

// Import accepts the YAML catalog document as the raw request body.
func (h *Handler) Import(c echo.Context) error {
	sum, err := h.svc.ImportCatalog(c.Request().Context(), c.Request().Body)
	if err != nil {
		return apperr.HTTPError(err, http.StatusInternalServerError)
	}
	return c.JSON(http.StatusOK, sum)
}

func (h *Handler) UpdateEstimatedCosts(c echo.Context) error {
	updates, err := h.svc.UpdateEstimatedCosts(c.Request().Context())
	if err != nil {
		return apperr.HTTPError(err, http.StatusInternalServerError)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"updated": updates})
}
