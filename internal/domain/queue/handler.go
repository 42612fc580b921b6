package queue

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/ehr/emr-dashboard/internal/domain/effects"
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
	clinicians := auth.RequireRole(auth.RoleDoctor, auth.RoleNurse)
	doctors := auth.RequireRole(auth.RoleDoctor)

	g := api.Group("/requests", clinicians)
	g.GET("", h.List)
	g.GET("/pending", h.ListPending)
	g.GET("/critical", h.ListCritical)
	g.GET("/:id", h.Get)
	g.POST("", h.Create)
	g.POST("/:id/start", h.Start)
	g.POST("/:id/complete", h.Complete)
	g.POST("/:id/approve", h.Approve, doctors)
	g.POST("/:id/reject", h.Reject, doctors)
	g.POST("/:id/cancel", h.Cancel, doctors)
	g.PUT("/:id/priority", h.UpdatePriority, doctors)
}

func (h *Handler) List(c echo.Context) error {
	var items []Request
	switch {
	case c.QueryParam("type") != "":
		t := Type(c.QueryParam("type"))
		if ModuleFor(t) == "" {
			return echo.NewHTTPError(http.StatusBadRequest, "unknown request type")
		}
		items = h.store.ByType(t)
	case c.QueryParam("status") != "":
		items = h.store.ByStatus(Status(c.QueryParam("status")))
	case c.QueryParam("patient_id") != "":
		items = h.store.ByPatient(c.QueryParam("patient_id"))
	default:
		items = h.store.Requests()
	}
	p := pagination.FromContext(c)
	return c.JSON(http.StatusOK, pagination.NewResponse(pagination.Slice(items, p), len(items), p.Limit, p.Offset))
}

func (h *Handler) ListPending(c echo.Context) error {
	return c.JSON(http.StatusOK, h.store.Pending())
}

func (h *Handler) ListCritical(c echo.Context) error {
	return c.JSON(http.StatusOK, h.store.Critical())
}

func (h *Handler) Get(c echo.Context) error {
	r, ok := h.store.Request(c.Param("id"))
	if !ok {
		return echo.NewHTTPError(http.StatusNotFound, "request not found")
	}
	return c.JSON(http.StatusOK, r)
}

func (h *Handler) Create(c echo.Context) error {
	var in Request
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	r, err := h.store.CreateRequest(c.Request().Context(), in)
	if err != nil {
		return effects.HTTPError(err)
	}
	return c.JSON(http.StatusCreated, r)
}

func (h *Handler) respond(c echo.Context, r Request, err error) error {
	if err != nil {
		return effects.HTTPError(err)
	}
	return c.JSON(http.StatusOK, r)
}

func (h *Handler) Approve(c echo.Context) error {
	r, err := h.store.ApproveRequest(c.Request().Context(), c.Param("id"))
	return h.respond(c, r, err)
}

func (h *Handler) Reject(c echo.Context) error {
	var req struct {
		Reason string `json:"reason"`
	}
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	r, err := h.store.RejectRequest(c.Request().Context(), c.Param("id"), req.Reason)
	return h.respond(c, r, err)
}

func (h *Handler) Start(c echo.Context) error {
	r, err := h.store.StartRequest(c.Request().Context(), c.Param("id"))
	return h.respond(c, r, err)
}

func (h *Handler) Complete(c echo.Context) error {
	r, err := h.store.CompleteRequest(c.Request().Context(), c.Param("id"))
	return h.respond(c, r, err)
}

func (h *Handler) Cancel(c echo.Context) error {
	r, err := h.store.CancelRequest(c.Request().Context(), c.Param("id"))
	return h.respond(c, r, err)
}

func (h *Handler) UpdatePriority(c echo.Context) error {
	var req struct {
		Priority Priority `json:"priority"`
	}
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	r, err := h.store.UpdatePriority(c.Request().Context(), c.Param("id"), req.Priority)
	return h.respond(c, r, err)
}
