package inventory

import (
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/shopspring/decimal"

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
	read.GET("/reagents", h.ListReagents)
	read.GET("/reagents/:id", h.GetReagent)
	read.GET("/stock-items", h.ListStockItems)
	read.GET("/stock-items/:id", h.GetStockItem)
	read.GET("/transactions", h.ListTransactions)
	read.GET("/transactions/:id", h.GetTransaction)
	read.GET("/transactions/:id/allocations", h.ListAllocations)
	read.GET("/cost-centers", h.ListCostCenters)
	read.GET("/cost-centers/:id", h.GetCostCenter)
	read.GET("/assignments/:id/usage", h.ListUsages)
	read.GET("/inventory/low-stock", h.LowStock)
	read.GET("/inventory/expiring", h.Expiring)
	read.GET("/inventory/value", h.Value)

	work := api.Group("", auth.RequireRole(auth.RoleTechnician, auth.RoleLabManager))
	work.POST("/assignments/:id/usage", h.RecordUsage)
	work.POST("/transactions", h.RecordTransaction)

	manage := api.Group("", auth.RequireRole(auth.RoleLabManager))
	manage.POST("/reagents", h.CreateReagent)
	manage.PUT("/reagents/:id", h.UpdateReagent)
	manage.DELETE("/reagents/:id", h.DeleteReagent)
	manage.POST("/stock-items", h.CreateStockItem)
	manage.PUT("/stock-items/:id", h.UpdateStockItem)
	manage.DELETE("/stock-items/:id", h.DeleteStockItem)
	manage.POST("/cost-centers", h.CreateCostCenter)
	manage.PUT("/cost-centers/:id", h.UpdateCostCenter)
	manage.DELETE("/cost-centers/:id", h.DeleteCostCenter)
	manage.POST("/transactions/:id/allocate", h.AllocateCost)
}

func parseID(c echo.Context) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return uuid.Nil, echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	return id, nil
}

func queryParams(c echo.Context, keys ...string) map[string]string {
	params := map[string]string{}
	for _, k := range keys {
		if v := c.QueryParam(k); v != "" {
			params[k] = v
		}
	}
	return params
}

// ---- Reagent ----

// ReagentView adds the derived stock flags to a reagent.
type ReagentView struct {
	*Reagent
	IsLowStock     bool `json:"is_low_stock"`
	IsExpiringSoon bool `json:"is_expiring_soon"`
}

func (h *Handler) reagentViews(items []*Reagent) []ReagentView {
	now := h.svc.now()
	out := make([]ReagentView, len(items))
	for i, r := range items {
		out[i] = ReagentView{Reagent: r, IsLowStock: r.IsLowStock(), IsExpiringSoon: r.IsExpiringSoon(now, h.svc.ExpiryWarningDays())}
	}
	return out
}

func (h *Handler) CreateReagent(c echo.Context) error {
	var r Reagent
	if err := c.Bind(&r); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := h.svc.CreateReagent(c.Request().Context(), &r); err != nil {
		return apperr.HTTPError(err, http.StatusInternalServerError)
	}
	return c.JSON(http.StatusCreated, h.reagentViews([]*Reagent{&r})[0])
}

func (h *Handler) GetReagent(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	r, err := h.svc.GetReagent(c.Request().Context(), id)
	if err != nil {
		return apperr.HTTPError(err, http.StatusInternalServerError)
	}
	return c.JSON(http.StatusOK, h.reagentViews([]*Reagent{r})[0])
}

func (h *Handler) ListReagents(c echo.Context) error {
	pg := pagination.FromContext(c)
	params := queryParams(c, "q", "manufacturer", "lab", "low_stock")
	items, total, err := h.svc.SearchReagents(c.Request().Context(), params, pg.Limit, pg.Offset)
	if err != nil {
		return apperr.HTTPError(err, http.StatusInternalServerError)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(h.reagentViews(items), total, pg.Limit, pg.Offset))
}

func (h *Handler) UpdateReagent(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	var body struct {
		Reagent
		Quantity *decimal.Decimal `json:"quantity"`
	}
	if err := c.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	r := body.Reagent
	r.ID = id
	if err := h.svc.UpdateReagent(c.Request().Context(), &r, body.Quantity); err != nil {
		return apperr.HTTPError(err, http.StatusInternalServerError)
	}
	return c.JSON(http.StatusOK, h.reagentViews([]*Reagent{&r})[0])
}

func (h *Handler) DeleteReagent(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	if err := h.svc.DeleteReagent(c.Request().Context(), id); err != nil {
		return apperr.HTTPError(err, http.StatusInternalServerError)
	}
	return c.NoContent(http.StatusNoContent)
}

// ---- Stock Item ----

type StockItemView struct {
	*StockItem
	IsLowStock bool `json:"is_low_stock"`
}

func stockViews(items []*StockItem) []StockItemView {
	out := make([]StockItemView, len(items))
	for i, it := range items {
		out[i] = StockItemView{StockItem: it, IsLowStock: it.IsLowStock()}
	}
	return out
}

func (h *Handler) CreateStockItem(c echo.Context) error {
	var item StockItem
	if err := c.Bind(&item); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := h.svc.CreateStockItem(c.Request().Context(), &item); err != nil {
		return apperr.HTTPError(err, http.StatusInternalServerError)
	}
	return c.JSON(http.StatusCreated, stockViews([]*StockItem{&item})[0])
}

func (h *Handler) GetStockItem(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	item, err := h.svc.GetStockItem(c.Request().Context(), id)
	if err != nil {
		return apperr.HTTPError(err, http.StatusInternalServerError)
	}
	return c.JSON(http.StatusOK, stockViews([]*StockItem{item})[0])
}

func (h *Handler) ListStockItems(c echo.Context) error {
	pg := pagination.FromContext(c)
	params := queryParams(c, "q", "category", "low_stock")
	items, total, err := h.svc.SearchStockItems(c.Request().Context(), params, pg.Limit, pg.Offset)
	if err != nil {
		return apperr.HTTPError(err, http.StatusInternalServerError)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(stockViews(items), total, pg.Limit, pg.Offset))
}

func (h *Handler) UpdateStockItem(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	var body struct {
		StockItem
		Quantity *decimal.Decimal `json:"quantity"`
	}
	if err := c.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	item := body.StockItem
	item.ID = id
	if err := h.svc.UpdateStockItem(c.Request().Context(), &item, body.Quantity); err != nil {
		return apperr.HTTPError(err, http.StatusInternalServerError)
	}
	return c.JSON(http.StatusOK, stockViews([]*StockItem{&item})[0])
}

func (h *Handler) DeleteStockItem(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	if err := h.svc.DeleteStockItem(c.Request().Context(), id); err != nil {
		return apperr.HTTPError(err, http.StatusInternalServerError)
	}
	return c.NoContent(http.StatusNoContent)
}

// ---- Transactions ----

func (h *Handler) RecordTransaction(c echo.Context) error {
	var in TransactionInput
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	t, err := h.svc.RecordTransaction(c.Request().Context(), in)
	if err != nil {
		return apperr.HTTPError(err, http.StatusInternalServerError)
	}
	return c.JSON(http.StatusCreated, t)
}

func (h *Handler) GetTransaction(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	t, err := h.svc.GetTransaction(c.Request().Context(), id)
	if err != nil {
		return apperr.HTTPError(err, http.StatusInternalServerError)
	}
	return c.JSON(http.StatusOK, t)
}

func (h *Handler) ListTransactions(c echo.Context) error {
	pg := pagination.FromContext(c)
	params := queryParams(c, "type", "reagent", "stock_item", "performed_by", "from", "to")
	items, total, err := h.svc.SearchTransactions(c.Request().Context(), params, pg.Limit, pg.Offset)
	if err != nil {
		return apperr.HTTPError(err, http.StatusInternalServerError)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}

func (h *Handler) AllocateCost(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	var body struct {
		Allocations []AllocationInput `json:"allocations"`
	}
	if err := c.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	out, err := h.svc.AllocateCost(c.Request().Context(), id, body.Allocations)
	if err != nil {
		return apperr.HTTPError(err, http.StatusInternalServerError)
	}
	return c.JSON(http.StatusCreated, out)
}

func (h *Handler) ListAllocations(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	out, err := h.svc.ListAllocations(c.Request().Context(), id)
	if err != nil {
		return apperr.HTTPError(err, http.StatusInternalServerError)
	}
	return c.JSON(http.StatusOK, out)
}

// ---- Usage ----

func (h *Handler) RecordUsage(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	var in UsageInput
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	in.AssignmentID = id
	u, err := h.svc.RecordUsage(c.Request().Context(), in)
	if err != nil {
		return apperr.HTTPError(err, http.StatusInternalServerError)
	}
	return c.JSON(http.StatusCreated, u)
}

func (h *Handler) ListUsages(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	out, err := h.svc.ListUsages(c.Request().Context(), id)
	if err != nil {
		return apperr.HTTPError(err, http.StatusInternalServerError)
	}
	return c.JSON(http.StatusOK, out)
}

// ---- Cost centers ----

func (h *Handler) CreateCostCenter(c echo.Context) error {
	var cc CostCenter
	if err := c.Bind(&cc); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := h.svc.CreateCostCenter(c.Request().Context(), &cc); err != nil {
		return apperr.HTTPError(err, http.StatusInternalServerError)
	}
	return c.JSON(http.StatusCreated, cc)
}

func (h *Handler) GetCostCenter(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	cc, err := h.svc.GetCostCenter(c.Request().Context(), id)
	if err != nil {
		return apperr.HTTPError(err, http.StatusInternalServerError)
	}
	return c.JSON(http.StatusOK, cc)
}

func (h *Handler) ListCostCenters(c echo.Context) error {
	pg := pagination.FromContext(c)
	activeOnly := c.QueryParam("active") == "true"
	items, total, err := h.svc.ListCostCenters(c.Request().Context(), activeOnly, pg.Limit, pg.Offset)
	if err != nil {
		return apperr.HTTPError(err, http.StatusInternalServerError)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}

func (h *Handler) UpdateCostCenter(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	var cc CostCenter
	if err := c.Bind(&cc); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	cc.ID = id
	if err := h.svc.UpdateCostCenter(c.Request().Context(), &cc); err != nil {
		return apperr.HTTPError(err, http.StatusInternalServerError)
	}
	return c.JSON(http.StatusOK, cc)
}

func (h *Handler) DeleteCostCenter(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	if err := h.svc.DeleteCostCenter(c.Request().Context(), id); err != nil {
		return apperr.HTTPError(err, http.StatusInternalServerError)
	}
	return c.NoContent(http.StatusNoContent)
}

// ---- Read-side ----

func (h *Handler) LowStock(c echo.Context) error {
	out, err := h.svc.LowStock(c.Request().Context())
	if err != nil {
		return apperr.HTTPError(err, http.StatusInternalServerError)
	}
	return c.JSON(http.StatusOK, out)
}

func (h *Handler) Expiring(c echo.Context) error {
	days, _ := strconv.Atoi(c.QueryParam("days"))
	items, err := h.svc.Expiring(c.Request().Context(), days)
	if err != nil {
		return apperr.HTTPError(err, http.StatusInternalServerError)
	}
	return c.JSON(http.StatusOK, h.reagentViews(items))
}

func (h *Handler) Value(c echo.Context) error {
	v, err := h.svc.InventoryValue(c.Request().Context())
	if err != nil {
		return apperr.HTTPError(err, http.StatusInternalServerError)
	}
	return c.JSON(http.StatusOK, v)
}
