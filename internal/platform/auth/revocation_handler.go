package auth

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

type revokeUserRequest struct {
	UserID string `json:"user_id"`
}

// RegisterRevocationRoutes mounts logout for any bearer-token holder and
// forced sign-out of a user for admins.
func RegisterRevocationRoutes(g *echo.Group, r *Revocations) {
	g.POST("/auth/logout", handleLogout(r))
	g.POST("/auth/revoke-user", handleRevokeUser(r), RequireRole(RoleAdmin))
}

func handleLogout(r *Revocations) echo.HandlerFunc {
	return func(c echo.Context) error {
		tok, ok := TokenFromContext(c.Request().Context())
		if !ok || tok.ID == "" {
			return echo.NewHTTPError(http.StatusBadRequest, "request carries no revocable token")
		}
		r.Revoke(tok.ID, tok.ExpiresAt)
		return c.NoContent(http.StatusNoContent)
	}
}

func handleRevokeUser(r *Revocations) echo.HandlerFunc {
	return func(c echo.Context) error {
		var req revokeUserRequest
		if err := c.Bind(&req); err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
		}
		if req.UserID == "" {
			return echo.NewHTTPError(http.StatusBadRequest, "user_id is required")
		}
		r.RevokeUser(req.UserID)
		return c.NoContent(http.StatusNoContent)
	}
}
