package clinical

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/ehr/emr-dashboard/internal/domain/effects"
	"github.com/ehr/emr-dashboard/internal/platform/auth"
)

type Handler struct {
	store *Store
}

func NewHandler(store *Store) *Handler {
	return &Handler{store: store}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	// Read endpoints – clinical staff
	readGroup := api.Group("", auth.RequireRole(auth.RoleDoctor, auth.RoleNurse, auth.RoleLabTechnician))
	readGroup.GET("/patients/:patient_id/vitals", h.ListVitals)
	readGroup.GET("/patients/:patient_id/vitals/latest", h.GetLatestVitals)
	readGroup.GET("/patients/:patient_id/drug-administrations", h.ListAdministrations)
	readGroup.GET("/patients/:patient_id/lab-results", h.ListLabResults)
	readGroup.GET("/drug-administrations/pending", h.ListPendingAdministrations)
	readGroup.GET("/lab-results/pending", h.ListPendingLabResults)
	readGroup.GET("/lab-results/:id", h.GetLabResult)

	// Bedside writes – nurses and doctors
	wardGroup := api.Group("", auth.RequireRole(auth.RoleDoctor, auth.RoleNurse))
	wardGroup.POST("/patients/:patient_id/vitals", h.RecordVitals)
	wardGroup.POST("/patients/:patient_id/drug-administrations", h.RecordAdministration)
	wardGroup.PUT("/drug-administrations/:id/status", h.UpdateAdministrationStatus)

	// Laboratory writes
	api.POST("/patients/:patient_id/lab-results", h.RequestLabTest, auth.RequireRole(auth.RoleDoctor))
	api.PUT("/lab-results/:id", h.UpdateLabResult, auth.RequireRole(auth.RoleLabTechnician))
}

func (h *Handler) RecordVitals(c echo.Context) error {
	var in VitalSigns
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	in.PatientID = c.Param("patient_id")
	out, err := h.store.RecordVitals(c.Request().Context(), in)
	if err != nil {
		return effects.HTTPError(err)
	}
	return c.JSON(http.StatusCreated, out)
}

func (h *Handler) ListVitals(c echo.Context) error {
	return c.JSON(http.StatusOK, h.store.VitalsByPatient(c.Param("patient_id")))
}

func (h *Handler) GetLatestVitals(c echo.Context) error {
	v, ok := h.store.LatestVitals(c.Param("patient_id"))
	if !ok {
		return echo.NewHTTPError(http.StatusNotFound, "no vitals recorded")
	}
	return c.JSON(http.StatusOK, v)
}

func (h *Handler) RecordAdministration(c echo.Context) error {
	var in DrugAdministration
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	in.PatientID = c.Param("patient_id")
	out, err := h.store.RecordAdministration(c.Request().Context(), in)
	if err != nil {
		return effects.HTTPError(err)
	}
	return c.JSON(http.StatusCreated, out)
}

func (h *Handler) ListAdministrations(c echo.Context) error {
	return c.JSON(http.StatusOK, h.store.AdministrationsByPatient(c.Param("patient_id")))
}

func (h *Handler) ListPendingAdministrations(c echo.Context) error {
	return c.JSON(http.StatusOK, h.store.PendingAdministrations())
}

func (h *Handler) UpdateAdministrationStatus(c echo.Context) error {
	var req struct {
		Status AdministrationStatus `json:"status"`
		Notes  string               `json:"notes"`
	}
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	out, err := h.store.UpdateAdministrationStatus(c.Request().Context(), c.Param("id"), req.Status, req.Notes)
	if err != nil {
		return effects.HTTPError(err)
	}
	return c.JSON(http.StatusOK, out)
}

func (h *Handler) RequestLabTest(c echo.Context) error {
	var in LabResult
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	in.PatientID = c.Param("patient_id")
	out, err := h.store.RequestLabTest(c.Request().Context(), in)
	if err != nil {
		return effects.HTTPError(err)
	}
	return c.JSON(http.StatusCreated, out)
}

func (h *Handler) ListLabResults(c echo.Context) error {
	return c.JSON(http.StatusOK, h.store.LabResultsByPatient(c.Param("patient_id")))
}

func (h *Handler) ListPendingLabResults(c echo.Context) error {
	return c.JSON(http.StatusOK, h.store.PendingLabResults())
}

func (h *Handler) GetLabResult(c echo.Context) error {
	l, ok := h.store.LabResult(c.Param("id"))
	if !ok {
		return echo.NewHTTPError(http.StatusNotFound, "lab result not found")
	}
	return c.JSON(http.StatusOK, l)
}

func (h *Handler) UpdateLabResult(c echo.Context) error {
	var req struct {
		Status  LabStatus      `json:"status"`
		Results map[string]any `json:"results"`
	}
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	out, err := h.store.UpdateLabResult(c.Request().Context(), c.Param("id"), req.Status, req.Results)
	if err != nil {
		return effects.HTTPError(err)
	}
	return c.JSON(http.StatusOK, out)
}
