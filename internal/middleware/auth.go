package middleware

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/nfrund/chatsession/internal/credential"
)

// ClaimsContextKey is the echo context key holding the verified *credential.Claims.
const ClaimsContextKey = "claims"

// BearerToken extracts the token from an "Authorization: Bearer" header.
func BearerToken(r *http.Request) string {
	h := r.Header.Get(echo.HeaderAuthorization)
	token, ok := strings.CutPrefix(h, "Bearer ")
	if !ok {
		return ""
	}
	return strings.TrimSpace(token)
}

// Auth protects routes with a bearer JWT signed by key. Rejected requests get
// a 401 with a JSON body.
func Auth(key []byte) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			token := BearerToken(c.Request())
			if token == "" {
				return c.JSON(http.StatusUnauthorized, map[string]string{"error": "missing bearer token"})
			}

			claims, err := credential.Verify(key, token)
			if err != nil {
				FromContext(c.Request().Context()).Debug("Rejected bearer token", "error", err)
				return c.JSON(http.StatusUnauthorized, map[string]string{"error": "invalid token"})
			}

			c.Set(ClaimsContextKey, claims)
			return next(c)
		}
	}
}

// ClaimsFrom returns the claims stored by Auth, or nil.
func ClaimsFrom(c echo.Context) *credential.Claims {
	claims, _ := c.Get(ClaimsContextKey).(*credential.Claims)
	return claims
}
