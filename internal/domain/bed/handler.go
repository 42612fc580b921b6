package bed

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
	admin := auth.RequireRole(auth.RoleAdmin)
	ward := auth.RequireRole(auth.RoleNurse, auth.RoleDoctor)

	api.GET("/wards", h.ListWards)
	api.POST("/wards", h.CreateWard, admin)
	api.POST("/wards/recompute", h.RecomputeWards, admin)

	api.GET("/beds", h.ListBeds)
	api.GET("/beds/available", h.ListAvailable)
	api.GET("/beds/occupied", h.ListOccupied)
	api.GET("/beds/stats", h.GetStats)
	api.GET("/beds/:id", h.GetBed)
	api.POST("/beds", h.CreateBed, admin)
	api.PATCH("/beds/:id", h.UpdateBed, admin)
	api.DELETE("/beds/:id", h.DeleteBed, admin)
	api.POST("/beds/:id/assign", h.AssignBed, ward)
	api.POST("/beds/:id/release", h.ReleaseBed, ward)
	api.PUT("/beds/:id/status", h.ChangeStatus, ward)
}

func (h *Handler) ListWards(c echo.Context) error {
	return c.JSON(http.StatusOK, h.store.Wards())
}

func (h *Handler) CreateWard(c echo.Context) error {
	var w Ward
	if err := c.Bind(&w); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	created, err := h.store.AddWard(c.Request().Context(), w)
	if err != nil {
		return effects.HTTPError(err)
	}
	return c.JSON(http.StatusCreated, created)
}

func (h *Handler) RecomputeWards(c echo.Context) error {
	h.store.UpdateWardStats(c.Request().Context())
	return c.JSON(http.StatusOK, h.store.Wards())
}

func (h *Handler) ListBeds(c echo.Context) error {
	var beds []Bed
	switch {
	case c.QueryParam("ward") != "":
		beds = h.store.BedsByWard(c.QueryParam("ward"))
	case c.QueryParam("status") != "":
		beds = h.store.BedsByStatus(Status(c.QueryParam("status")))
	default:
		beds = h.store.Beds()
	}
	if cat := Category(c.QueryParam("category")); cat != "" {
		filtered := beds[:0:0]
		for _, b := range beds {
			if b.Category == cat {
				filtered = append(filtered, b)
			}
		}
		beds = filtered
	}
	p := pagination.FromContext(c)
	return c.JSON(http.StatusOK, pagination.NewResponse(pagination.Slice(beds, p), len(beds), p.Limit, p.Offset))
}

func (h *Handler) ListAvailable(c echo.Context) error {
	return c.JSON(http.StatusOK, h.store.AvailableBeds(Category(c.QueryParam("category"))))
}

func (h *Handler) ListOccupied(c echo.Context) error {
	return c.JSON(http.StatusOK, h.store.OccupiedBeds())
}

func (h *Handler) GetStats(c echo.Context) error {
	return c.JSON(http.StatusOK, h.store.Stats())
}

func (h *Handler) GetBed(c echo.Context) error {
	b, ok := h.store.Bed(c.Param("id"))
	if !ok {
		return echo.NewHTTPError(http.StatusNotFound, "bed not found")
	}
	return c.JSON(http.StatusOK, b)
}

func (h *Handler) CreateBed(c echo.Context) error {
	var b Bed
	if err := c.Bind(&b); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	created, err := h.store.AddBed(c.Request().Context(), b)
	if err != nil {
		return effects.HTTPError(err)
	}
	return c.JSON(http.StatusCreated, created)
}

func (h *Handler) UpdateBed(c echo.Context) error {
	var u Update
	if err := c.Bind(&u); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	b, err := h.store.UpdateBed(c.Request().Context(), c.Param("id"), u)
	if err != nil {
		return effects.HTTPError(err)
	}
	return c.JSON(http.StatusOK, b)
}

func (h *Handler) DeleteBed(c echo.Context) error {
	if err := h.store.RemoveBed(c.Request().Context(), c.Param("id")); err != nil {
		return effects.HTTPError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

type assignRequest struct {
	PatientID   string `json:"patient_id"`
	PatientName string `json:"patient_name"`
}

func (h *Handler) AssignBed(c echo.Context) error {
	var req assignRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	b, err := h.store.AssignBed(c.Request().Context(), c.Param("id"), req.PatientID, req.PatientName)
	if err != nil {
		return effects.HTTPError(err)
	}
	return c.JSON(http.StatusOK, b)
}

func (h *Handler) ReleaseBed(c echo.Context) error {
	b, err := h.store.ReleaseBed(c.Request().Context(), c.Param("id"))
	if err != nil {
		return effects.HTTPError(err)
	}
	return c.JSON(http.StatusOK, b)
}

func (h *Handler) ChangeStatus(c echo.Context) error {
	var req struct {
		Status Status `json:"status"`
	}
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	b, err := h.store.ChangeBedStatus(c.Request().Context(), c.Param("id"), req.Status)
	if err != nil {
		return effects.HTTPError(err)
	}
	return c.JSON(http.StatusOK, b)
}
