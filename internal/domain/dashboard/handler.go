package dashboard

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/ehr/emr-dashboard/internal/platform/auth"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.GET("/dashboard/:role", h.Get)
}

// Get returns the KPIs of a dashboard. Staff may only open their own
// dashboard; admins may open any.
func (h *Handler) Get(c echo.Context) error {
	role := c.Param("role")
	user, ok := auth.UserFromContext(c.Request().Context())
	if !ok {
		return echo.NewHTTPError(http.StatusUnauthorized, "no authenticated user")
	}
	if !user.HasRole(StaffRole(role)) {
		return echo.NewHTTPError(http.StatusForbidden, "dashboard not available for role "+user.Role)
	}

	snap, err := h.svc.For(role)
	if errors.Is(err, ErrUnknownRole) {
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	}
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, snap)
}
