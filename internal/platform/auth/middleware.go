package auth

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
)

type contextKey string

const (
	userKey  contextKey = "user"
	tokenKey contextKey = "token"
)

// Token identifies the bearer token a request was authenticated with.
type Token struct {
	ID        string
	ExpiresAt time.Time
}

// Claims are the bearer token claims issued by the hospital identity service.
// The subject is the staff member's user ID.
type Claims struct {
	jwt.RegisteredClaims
	Name string `json:"name"`
	Role string `json:"role"`
}

type JWTConfig struct {
	Issuer     string
	Audience   string
	SigningKey []byte
	// Revocations, when set, rejects logged-out tokens and signed-out users.
	Revocations *Revocations
}

// JWTMiddleware validates an HS256 bearer token and places the acting user on
// the request context.
func JWTMiddleware(cfg JWTConfig) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			authHeader := c.Request().Header.Get("Authorization")
			if authHeader == "" {
				return echo.NewHTTPError(http.StatusUnauthorized, "missing authorization header")
			}

			parts := strings.SplitN(authHeader, " ", 2)
			if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") || strings.TrimSpace(parts[1]) == "" {
				return echo.NewHTTPError(http.StatusUnauthorized, "invalid authorization format")
			}

			opts := []jwt.ParserOption{
				jwt.WithValidMethods([]string{"HS256"}),
			}
			if cfg.Issuer != "" {
				opts = append(opts, jwt.WithIssuer(cfg.Issuer))
			}
			if cfg.Audience != "" {
				opts = append(opts, jwt.WithAudience(cfg.Audience))
			}

			claims := &Claims{}
			token, err := jwt.ParseWithClaims(parts[1], claims, func(t *jwt.Token) (interface{}, error) {
				return cfg.SigningKey, nil
			}, opts...)
			if err != nil || !token.Valid {
				return echo.NewHTTPError(http.StatusUnauthorized, "invalid token")
			}
			if claims.Subject == "" || claims.Role == "" {
				return echo.NewHTTPError(http.StatusUnauthorized, "token is missing subject or role")
			}

			var issuedAt, expiresAt time.Time
			if claims.IssuedAt != nil {
				issuedAt = claims.IssuedAt.Time
			}
			if claims.ExpiresAt != nil {
				expiresAt = claims.ExpiresAt.Time
			}
			if cfg.Revocations != nil && cfg.Revocations.IsRevoked(claims.ID, claims.Subject, issuedAt) {
				return echo.NewHTTPError(http.StatusUnauthorized, "token has been revoked")
			}

			user := User{ID: claims.Subject, Name: claims.Name, Role: claims.Role}
			if user.Name == "" {
				user.Name = user.ID
			}
			ctx := WithUser(c.Request().Context(), user)
			ctx = context.WithValue(ctx, tokenKey, Token{ID: claims.ID, ExpiresAt: expiresAt})
			c.SetRequest(c.Request().WithContext(ctx))
			return next(c)
		}
	}
}

// DevAuthMiddleware is a permissive middleware for development. Requests
// without a token act as the built-in admin; X-Dev-User and X-Dev-Role may
// impersonate another staff member.
func DevAuthMiddleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			user := User{ID: "dev-user", Name: "Development Admin", Role: RoleAdmin}
			if id := req.Header.Get("X-Dev-User"); id != "" {
				user.ID = id
				user.Name = id
			}
			if role := req.Header.Get("X-Dev-Role"); role != "" {
				user.Role = role
			}
			c.SetRequest(req.WithContext(WithUser(req.Context(), user)))
			return next(c)
		}
	}
}

// WithUser returns a copy of ctx carrying the acting user.
func WithUser(ctx context.Context, u User) context.Context {
	return context.WithValue(ctx, userKey, u)
}

// UserFromContext returns the acting user stored by the auth middleware.
func UserFromContext(ctx context.Context) (User, bool) {
	u, ok := ctx.Value(userKey).(User)
	return u, ok && u.ID != ""
}

// TokenFromContext returns the bearer token of a JWT-authenticated request.
func TokenFromContext(ctx context.Context) (Token, bool) {
	t, ok := ctx.Value(tokenKey).(Token)
	return t, ok
}
