package instrument

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
	read.GET("/instruments", h.ListInstruments)
	read.GET("/instruments/calibration-due", h.CalibrationDue)
	read.GET("/instruments/:id", h.GetInstrument)
	read.GET("/instruments/:id/calibrations", h.ListInstrumentCalibrations)
	read.GET("/instruments/:id/maintenance", h.ListInstrumentMaintenance)
	read.GET("/calibrations", h.ListCalibrations)
	read.GET("/maintenance", h.ListMaintenance)

	work := api.Group("", auth.RequireRole(auth.RoleTechnician, auth.RoleLabManager))
	work.POST("/instruments/:id/calibrations", h.RecordCalibration)
	work.POST("/instruments/:id/maintenance", h.RecordMaintenance)

	manage := api.Group("", auth.RequireRole(auth.RoleLabManager))
	manage.POST("/instruments", h.CreateInstrument)
	manage.PUT("/instruments/:id", h.UpdateInstrument)
	manage.DELETE("/instruments/:id", h.DeleteInstrument)
}

func parseID(c echo.Context) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return uuid.Nil, echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	return id, nil
}

func (h *Handler) CreateInstrument(c echo.Context) error {
	var inst Instrument
	if err := c.Bind(&inst); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := h.svc.CreateInstrument(c.Request().Context(), &inst); err != nil {
		return apperr.HTTPError(err, http.StatusInternalServerError)
	}
	return c.JSON(http.StatusCreated, inst)
}

func (h *Handler) GetInstrument(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	d, err := h.svc.GetDetail(c.Request().Context(), id)
	if err != nil {
		return apperr.HTTPError(err, http.StatusInternalServerError)
	}
	return c.JSON(http.StatusOK, d)
}

func (h *Handler) ListInstruments(c echo.Context) error {
	pg := pagination.FromContext(c)
	params := map[string]string{}
	for _, k := range []string{"status", "lab", "q"} {
		if v := c.QueryParam(k); v != "" {
			params[k] = v
		}
	}
	items, total, err := h.svc.SearchInstruments(c.Request().Context(), params, pg.Limit, pg.Offset)
	if err != nil {
		return apperr.HTTPError(err, http.StatusInternalServerError)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}

func (h *Handler) UpdateInstrument(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	var inst Instrument
	if err := c.Bind(&inst); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	inst.ID = id
	if err := h.svc.UpdateInstrument(c.Request().Context(), &inst); err != nil {
		return apperr.HTTPError(err, http.StatusInternalServerError)
	}
	return c.JSON(http.StatusOK, inst)
}

func (h *Handler) DeleteInstrument(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	if err := h.svc.DeleteInstrument(c.Request().Context(), id); err != nil {
		return apperr.HTTPError(err, http.StatusInternalServerError)
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) CalibrationDue(c echo.Context) error {
	days, _ := strconv.Atoi(c.QueryParam("days"))
	items, err := h.svc.CalibrationDue(c.Request().Context(), days)
	if err != nil {
		return apperr.HTTPError(err, http.StatusInternalServerError)
	}
	return c.JSON(http.StatusOK, items)
}

func (h *Handler) RecordCalibration(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	var rec CalibrationRecord
	if err := c.Bind(&rec); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	rec.InstrumentID = id
	out, err := h.svc.RecordCalibration(c.Request().Context(), &rec)
	if err != nil {
		return apperr.HTTPError(err, http.StatusInternalServerError)
	}
	return c.JSON(http.StatusCreated, out)
}

func (h *Handler) RecordMaintenance(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	var m MaintenanceLog
	if err := c.Bind(&m); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	m.InstrumentID = id
	out, err := h.svc.RecordMaintenance(c.Request().Context(), &m)
	if err != nil {
		return apperr.HTTPError(err, http.StatusInternalServerError)
	}
	return c.JSON(http.StatusCreated, out)
}

func (h *Handler) ListInstrumentCalibrations(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	return h.listCalibrations(c, &id)
}

func (h *Handler) ListCalibrations(c echo.Context) error {
	return h.listCalibrations(c, nil)
}

func (h *Handler) listCalibrations(c echo.Context, id *uuid.UUID) error {
	pg := pagination.FromContext(c)
	items, total, err := h.svc.ListCalibrations(c.Request().Context(), id, pg.Limit, pg.Offset)
	if err != nil {
		return apperr.HTTPError(err, http.StatusInternalServerError)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}

func (h *Handler) ListInstrumentMaintenance(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	return h.listMaintenance(c, &id)
}

func (h *Handler) ListMaintenance(c echo.Context) error {
	return h.listMaintenance(c, nil)
}

func (h *Handler) listMaintenance(c echo.Context, id *uuid.UUID) error {
	pg := pagination.FromContext(c)
	items, total, err := h.svc.ListMaintenance(c.Request().Context(), id, pg.Limit, pg.Offset)
	if err != nil {
		return apperr.HTTPError(err, http.StatusInternalServerError)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}
