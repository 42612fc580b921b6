package audit

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/ehr/emr-dashboard/internal/platform/auth"
)

func newTestHandler(t *testing.T) (*Handler, *Store, *echo.Echo) {
	t.Helper()
	s := NewStore(Options{Logger: zerolog.Nop()})
	ctx := userCtx(nurse)
	s.AddLog(ctx, NewEntry{Action: ActionVitalsRecorded, Module: ModuleNursing, PatientID: "p-1"})
	s.AddLog(ctx, NewEntry{Action: ActionPrescriptionCreated, Module: ModulePharmacy, PatientID: "p-2"})
	s.AddLog(ctx, NewEntry{Action: ActionPaymentConfirmed, Module: ModuleBilling, PatientID: "p-2"})
	return NewHandler(s), s, echo.New()
}

func TestHandler_ListLogs(t *testing.T) {
	h, _, e := newTestHandler(t)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/audit/logs?patient_id=p-2&limit=1", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	if err := h.ListLogs(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var body struct {
		Data    []Entry `json:"data"`
		Total   int     `json:"total"`
		HasMore bool    `json:"has_more"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Total != 2 || len(body.Data) != 1 || !body.HasMore {
		t.Fatalf("unexpected page: %+v", body)
	}
	if body.Data[0].Action != ActionPaymentConfirmed {
		t.Errorf("expected newest entry first, got %s", body.Data[0].Action)
	}
}

func TestHandler_ListLogs_BadTimestamp(t *testing.T) {
	h, _, e := newTestHandler(t)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/audit/logs?from=yesterday", nil)
	c := e.NewContext(req, httptest.NewRecorder())

	err := h.ListLogs(c)
	he, ok := err.(*echo.HTTPError)
	if !ok || he.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %v", err)
	}
}

func TestHandler_GetLog(t *testing.T) {
	h, s, e := newTestHandler(t)
	id := s.Logs()[0].ID

	rec := httptest.NewRecorder()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), rec)
	c.SetParamNames("id")
	c.SetParamValues(id)
	if err := h.GetLog(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}

	c = e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), httptest.NewRecorder())
	c.SetParamNames("id")
	c.SetParamValues("nope")
	err := h.GetLog(c)
	if he, ok := err.(*echo.HTTPError); !ok || he.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %v", err)
	}
}

func TestHandler_GetSummary(t *testing.T) {
	h, _, e := newTestHandler(t)

	rec := httptest.NewRecorder()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/api/v1/audit/summary", nil), rec)
	if err := h.GetSummary(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var sum Summary
	json.Unmarshal(rec.Body.Bytes(), &sum)
	if sum.TotalEntries != 3 || sum.ByModule["Billing"] != 1 {
		t.Errorf("unexpected summary: %+v", sum)
	}
}

func TestHandler_ClearLogsRequiresAdmin(t *testing.T) {
	h, s, e := newTestHandler(t)
	g := e.Group("/api/v1", func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			role := c.Request().Header.Get("X-Role")
			ctx := auth.WithUser(c.Request().Context(), auth.User{ID: "u", Name: "U", Role: role})
			c.SetRequest(c.Request().WithContext(ctx))
			return next(c)
		}
	})
	h.RegisterRoutes(g)

	req := httptest.NewRequest(http.MethodDelete, "/api/v1/audit/logs", nil)
	req.Header.Set("X-Role", auth.RoleNurse)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for nurse, got %d", rec.Code)
	}
	if s.Len() != 3 {
		t.Fatalf("log must be untouched after forbidden clear")
	}

	req = httptest.NewRequest(http.MethodDelete, "/api/v1/audit/logs", nil)
	req.Header.Set("X-Role", auth.RoleAdmin)
	rec = httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204 for admin, got %d", rec.Code)
	}
	if s.Len() != 0 {
		t.Errorf("expected cleared log")
	}
}
