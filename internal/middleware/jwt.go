// Package middleware contains the echo middleware guarding the admin
// endpoints.
package middleware

import (
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
)

// Context keys set by JWTAuth.
const (
	CtxSubject = "subject"
	CtxRole    = "role"
)

// JWTAuth returns an Echo middleware that validates a Bearer token signed
// with secret (HS256) and stores its subject and role claims in the
// context.  Requests without a valid token get 401.
func JWTAuth(secret string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			auth := c.Request().Header.Get("Authorization")
			if !strings.HasPrefix(auth, "Bearer ") {
				return c.JSON(http.StatusUnauthorized, echo.Map{"error": "missing bearer token"})
			}
			raw := strings.TrimPrefix(auth, "Bearer ")

			tok, err := jwt.Parse(raw, func(*jwt.Token) (interface{}, error) {
				return []byte(secret), nil
			}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired())
			if err != nil || !tok.Valid {
				return c.JSON(http.StatusUnauthorized, echo.Map{"error": "invalid token"})
			}
			claims, ok := tok.Claims.(jwt.MapClaims)
			if !ok {
				return c.JSON(http.StatusUnauthorized, echo.Map{"error": "invalid claims"})
			}

			sub, _ := claims.GetSubject()
			c.Set(CtxSubject, sub)
			c.Set(CtxRole, claims["role"])
			return next(c)
		}
	}
}

// Subject returns the authenticated subject, or "anonymous".
func Subject(c echo.Context) string {
	if s, ok := c.Get(CtxSubject).(string); ok && s != "" {
		return s
	}
	return "anonymous"
}
