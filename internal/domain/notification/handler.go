package notification

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/ehr/emr-dashboard/pkg/pagination"
)

type Handler struct {
	store     *Store
	templates *TemplateEngine
}

func NewHandler(store *Store, templates *TemplateEngine) *Handler {
	return &Handler{store: store, templates: templates}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.GET("/notifications", h.List)
	api.GET("/notifications/unread-count", h.UnreadCount)
	api.GET("/notifications/templates", h.ListTemplates)
	api.GET("/notifications/:id", h.Get)
	api.POST("/notifications/:id/read", h.MarkRead)
	api.POST("/notifications/read-all", h.MarkAllRead)
	api.DELETE("/notifications/:id", h.Delete)
	api.DELETE("/notifications", h.ClearAll)
}

func (h *Handler) List(c echo.Context) error {
	f := Filter{
		Type:     Type(c.QueryParam("type")),
		Category: c.QueryParam("category"),
		Module:   c.QueryParam("module"),
	}
	if v := c.QueryParam("unread"); v != "" {
		unread, err := strconv.ParseBool(v)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid unread flag")
		}
		f.Unread = unread
	}

	items := h.store.List(f)
	p := pagination.FromContext(c)
	return c.JSON(http.StatusOK, pagination.NewResponse(pagination.Slice(items, p), len(items), p.Limit, p.Offset))
}

func (h *Handler) Get(c echo.Context) error {
	n, ok := h.store.Get(c.Param("id"))
	if !ok {
		return echo.NewHTTPError(http.StatusNotFound, "notification not found")
	}
	return c.JSON(http.StatusOK, n)
}

func (h *Handler) UnreadCount(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]interface{}{
		"unread":  h.store.UnreadCount(),
		"by_type": h.store.CountByType(),
	})
}

func (h *Handler) ListTemplates(c echo.Context) error {
	return c.JSON(http.StatusOK, h.templates.Templates())
}

func (h *Handler) MarkRead(c echo.Context) error {
	id := c.Param("id")
	if _, ok := h.store.Get(id); !ok {
		return echo.NewHTTPError(http.StatusNotFound, "notification not found")
	}
	h.store.MarkRead(c.Request().Context(), id)
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) MarkAllRead(c echo.Context) error {
	n := h.store.MarkAllRead(c.Request().Context())
	return c.JSON(http.StatusOK, map[string]int{"updated": n})
}

func (h *Handler) Delete(c echo.Context) error {
	if !h.store.Delete(c.Request().Context(), c.Param("id")) {
		return echo.NewHTTPError(http.StatusNotFound, "notification not found")
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) ClearAll(c echo.Context) error {
	h.store.ClearAll(c.Request().Context())
	return c.NoContent(http.StatusNoContent)
}
