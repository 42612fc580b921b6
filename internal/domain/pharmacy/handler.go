package pharmacy

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
	api.GET("/prescriptions", h.List)
	api.GET("/prescriptions/:id", h.Get)
	api.POST("/prescriptions", h.Create, auth.RequireRole(auth.RoleDoctor))
	api.POST("/prescriptions/:id/send-to-cashier", h.SendToCashier, auth.RequireRole(auth.RolePharmacist, auth.RoleDoctor))
	api.POST("/prescriptions/:id/dispense", h.Dispense, auth.RequireRole(auth.RolePharmacist))
	api.POST("/prescriptions/:id/cancel", h.Cancel, auth.RequireRole(auth.RolePharmacist, auth.RoleDoctor))

	cashier := api.Group("/cashier", auth.RequireRole(auth.RoleCashier))
	cashier.GET("/queue", h.Queue)
	cashier.GET("/revenue", h.Revenue)
	cashier.POST("/prescriptions/:id/pay", h.Pay)
}

func (h *Handler) List(c echo.Context) error {
	var items []Prescription
	switch {
	case c.QueryParam("status") != "":
		st := Status(c.QueryParam("status"))
		if !st.Valid() {
			return echo.NewHTTPError(http.StatusBadRequest, "unknown status")
		}
		items = h.store.ByStatus(st)
	case c.QueryParam("patient_id") != "":
		items = h.store.ByPatient(c.QueryParam("patient_id"))
	default:
		items = h.store.Prescriptions()
	}
	p := pagination.FromContext(c)
	return c.JSON(http.StatusOK, pagination.NewResponse(pagination.Slice(items, p), len(items), p.Limit, p.Offset))
}

func (h *Handler) Get(c echo.Context) error {
	p, ok := h.store.Prescription(c.Param("id"))
	if !ok {
		return echo.NewHTTPError(http.StatusNotFound, "prescription not found")
	}
	return c.JSON(http.StatusOK, p)
}

func (h *Handler) Create(c echo.Context) error {
	var in Prescription
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	p, err := h.store.CreatePrescription(c.Request().Context(), in)
	if err != nil {
		return effects.HTTPError(err)
	}
	return c.JSON(http.StatusCreated, p)
}

func (h *Handler) SendToCashier(c echo.Context) error {
	p, err := h.store.SendToCashierQueue(c.Request().Context(), c.Param("id"))
	if err != nil {
		return effects.HTTPError(err)
	}
	return c.JSON(http.StatusOK, p)
}

type payRequest struct {
	PaymentMethod string  `json:"payment_method"`
	Amount        float64 `json:"amount"`
}

func (h *Handler) Pay(c echo.Context) error {
	var req payRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	p, err := h.store.MarkAsPaid(c.Request().Context(), c.Param("id"), req.PaymentMethod, req.Amount)
	if err != nil {
		return effects.HTTPError(err)
	}
	return c.JSON(http.StatusOK, p)
}

func (h *Handler) Dispense(c echo.Context) error {
	var req struct {
		DispensedBy string `json:"dispensed_by"`
	}
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	p, err := h.store.DispensePrescription(c.Request().Context(), c.Param("id"), req.DispensedBy)
	if err != nil {
		return effects.HTTPError(err)
	}
	return c.JSON(http.StatusOK, p)
}

func (h *Handler) Cancel(c echo.Context) error {
	var req struct {
		Reason string `json:"reason"`
	}
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	p, err := h.store.CancelPrescription(c.Request().Context(), c.Param("id"), req.Reason)
	if err != nil {
		return effects.HTTPError(err)
	}
	return c.JSON(http.StatusOK, p)
}

func (h *Handler) Queue(c echo.Context) error {
	return c.JSON(http.StatusOK, h.store.CashierQueue())
}

func (h *Handler) Revenue(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]float64{
		"revenue":        h.store.Revenue(),
		"pending_amount": h.store.PendingAmount(),
	})
}
