package audit

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/ehr/emr-dashboard/internal/platform/auth"
	"github.com/ehr/emr-dashboard/pkg/pagination"
)

type Handler struct {
	store *Store
}

func NewHandler(store *Store) *Handler {
	return &Handler{store: store}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.GET("/audit/logs", h.ListLogs)
	api.GET("/audit/logs/:id", h.GetLog)
	api.GET("/audit/summary", h.GetSummary)
	api.DELETE("/audit/logs", h.ClearLogs, auth.RequireRole(auth.RoleAdmin))
}

func parseFilter(c echo.Context) (Filter, error) {
	f := Filter{
		Module:    Module(c.QueryParam("module")),
		Action:    Action(c.QueryParam("action")),
		PatientID: c.QueryParam("patient_id"),
		UserID:    c.QueryParam("user_id"),
		UserRole:  c.QueryParam("user_role"),
		SortOrder: c.QueryParam("sort_order"),
	}
	for name, dst := range map[string]**time.Time{"from": &f.From, "to": &f.To} {
		v := c.QueryParam(name)
		if v == "" {
			continue
		}
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return Filter{}, echo.NewHTTPError(http.StatusBadRequest, "invalid "+name+": expected RFC 3339 timestamp")
		}
		*dst = &t
	}
	return f, nil
}

func (h *Handler) ListLogs(c echo.Context) error {
	f, err := parseFilter(c)
	if err != nil {
		return err
	}
	p := pagination.FromContext(c)
	f.Limit, f.Offset = p.Limit, p.Offset

	res := h.store.Search(f)
	return c.JSON(http.StatusOK, pagination.NewResponse(res.Entries, res.Total, res.Limit, res.Offset))
}

func (h *Handler) GetLog(c echo.Context) error {
	e, ok := h.store.Get(c.Param("id"))
	if !ok {
		return echo.NewHTTPError(http.StatusNotFound, "audit entry not found")
	}
	return c.JSON(http.StatusOK, e)
}

func (h *Handler) GetSummary(c echo.Context) error {
	f, err := parseFilter(c)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, h.store.Summary(f))
}

func (h *Handler) ClearLogs(c echo.Context) error {
	h.store.ClearLogs(c.Request().Context())
	return c.NoContent(http.StatusNoContent)
}
