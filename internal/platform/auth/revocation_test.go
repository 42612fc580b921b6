package auth

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
)

func TestRevocations(t *testing.T) {
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	r := NewRevocations()
	r.now = func() time.Time { return now }

	r.Revoke("jti-1", now.Add(time.Hour))
	if !r.IsRevoked("jti-1", "u1", now) {
		t.Error("expected revoked token")
	}
	if r.IsRevoked("jti-2", "u1", now) {
		t.Error("unrelated token should pass")
	}

	r.RevokeUser("u2")
	if !r.IsRevoked("jti-3", "u2", now.Add(-time.Minute)) {
		t.Error("token issued before the cutoff should be revoked")
	}
	if r.IsRevoked("jti-4", "u2", now.Add(time.Minute)) {
		t.Error("token issued after the cutoff should pass")
	}

	now = now.Add(2 * time.Hour)
	if r.Len() != 0 {
		t.Errorf("expected expired revocation to be swept, got %d", r.Len())
	}
	if r.IsRevoked("jti-1", "u1", now) {
		t.Error("expired revocation should no longer match")
	}
}

func TestRevocationRoutes(t *testing.T) {
	revs := NewRevocations()
	e := echo.New()
	api := e.Group("/api/v1", JWTMiddleware(JWTConfig{SigningKey: testSigningKey, Revocations: revs}))
	RegisterRevocationRoutes(api, revs)
	api.GET("/me", func(c echo.Context) error {
		u, _ := UserFromContext(c.Request().Context())
		return c.String(http.StatusOK, u.ID)
	})

	issue := func(sub, jti, role string, iat time.Time) string {
		return createTestToken(t, Claims{
			RegisteredClaims: jwt.RegisteredClaims{
				Subject:   sub,
				ID:        jti,
				IssuedAt:  jwt.NewNumericDate(iat),
				ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
			},
			Role: role,
		}, testSigningKey)
	}
	do := func(method, path, token, body string) int {
		req := httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Authorization", "Bearer "+token)
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, req)
		return rec.Code
	}

	past := time.Now().Add(-time.Minute)
	nurse := issue("nurse-1", "t-1", RoleNurse, past)
	if code := do(http.MethodGet, "/api/v1/me", nurse, ""); code != http.StatusOK {
		t.Fatalf("expected 200 before logout, got %d", code)
	}
	if code := do(http.MethodPost, "/api/v1/auth/logout", nurse, ""); code != http.StatusNoContent {
		t.Fatalf("expected 204 on logout, got %d", code)
	}
	if code := do(http.MethodGet, "/api/v1/me", nurse, ""); code != http.StatusUnauthorized {
		t.Errorf("expected 401 after logout, got %d", code)
	}

	doctor := issue("doc-1", "t-2", RoleDoctor, past)
	admin := issue("admin-1", "t-3", RoleAdmin, past)
	if code := do(http.MethodPost, "/api/v1/auth/revoke-user", doctor, `{"user_id":"doc-1"}`); code != http.StatusForbidden {
		t.Errorf("expected 403 for non-admin, got %d", code)
	}
	if code := do(http.MethodPost, "/api/v1/auth/revoke-user", admin, `{}`); code != http.StatusBadRequest {
		t.Errorf("expected 400 without user_id, got %d", code)
	}
	if code := do(http.MethodPost, "/api/v1/auth/revoke-user", admin, `{"user_id":"doc-1"}`); code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", code)
	}
	if code := do(http.MethodGet, "/api/v1/me", doctor, ""); code != http.StatusUnauthorized {
		t.Errorf("expected 401 for signed-out user, got %d", code)
	}
	if code := do(http.MethodGet, "/api/v1/me", admin, ""); code != http.StatusOK {
		t.Errorf("other users are unaffected, got %d", code)
	}
}

func TestLogout_WithoutToken(t *testing.T) {
	e := echo.New()
	g := e.Group("", DevAuthMiddleware())
	RegisterRevocationRoutes(g, NewRevocations())

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/auth/logout", nil))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 without a bearer token, got %d", rec.Code)
	}
}
