package middleware

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"golang.org/x/time/rate"
)

// RateLimiter limits requests to perMinute per caller for the routes it is
// applied to. Callers are identified by their token subject when Auth ran
// first, otherwise by IP address.
func RateLimiter(perMinute float64) echo.MiddlewareFunc {
	burst := int(perMinute)
	if burst < 1 {
		burst = 1
	}
	config := middleware.RateLimiterConfig{
		// NewRateLimiterMemoryStoreWithConfig is a simple in-memory store suitable for single-instance deployments.
		Store: middleware.NewRateLimiterMemoryStoreWithConfig(middleware.RateLimiterMemoryStoreConfig{
			Rate:      rate.Limit(perMinute / 60),
			Burst:     burst,
			ExpiresIn: 3 * time.Minute,
		}),
		IdentifierExtractor: func(c echo.Context) (string, error) {
			if claims := ClaimsFrom(c); claims != nil && claims.Subject != "" {
				return "sub:" + claims.Subject, nil
			}
			return "ip:" + c.RealIP(), nil
		},
		DenyHandler: func(c echo.Context, identifier string, err error) error {
			return c.JSON(http.StatusTooManyRequests, map[string]string{"error": "too many requests, try again later"})
		},
	}
	return middleware.RateLimiterWithConfig(config)
}
