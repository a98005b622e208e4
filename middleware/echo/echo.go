// Package echo provides Echo middleware that gates routes on proposal quota
package echo

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/pitchly/pitchly/pkg/subscription"
)

// UserIDExtractor extracts the user ID from an Echo context
// Return empty string if user is not authenticated
type UserIDExtractor func(c echo.Context) string

// Config holds middleware configuration
type Config struct {
	// Guard is the quota guard instance (required)
	Guard *subscription.Guard

	// GetUserID extracts user ID from context (required)
	GetUserID UserIDExtractor

	// QuotaExceededStatusCode is the status returned when the quota is spent
	// Default: 402 Payment Required
	QuotaExceededStatusCode int

	// OnQuotaExceeded is called when the quota is spent
	// If nil, returns a JSON body with used/limit
	OnQuotaExceeded func(c echo.Context, rec *subscription.Record) error

	// OnUnauthorized is called when user is not authenticated
	// If nil, returns 401 Unauthorized
	OnUnauthorized func(c echo.Context) error

	// OnError is called when an internal error occurs
	// If nil, returns 500 Internal Server Error
	OnError func(c echo.Context, err error) error
}

// RecordContextKey is the Echo context key the charged record is stored under
const RecordContextKey = "pitchly:record"

// Middleware creates an Echo middleware that charges one proposal per request
func Middleware(cfg Config) echo.MiddlewareFunc {
	if cfg.Guard == nil {
		panic("pitchly/middleware/echo: Config.Guard is required")
	}
	if cfg.GetUserID == nil {
		panic("pitchly/middleware/echo: Config.GetUserID is required")
	}
	if cfg.QuotaExceededStatusCode == 0 {
		cfg.QuotaExceededStatusCode = http.StatusPaymentRequired
	}

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			userID := cfg.GetUserID(c)
			if userID == "" {
				if cfg.OnUnauthorized != nil {
					return cfg.OnUnauthorized(c)
				}
				return c.JSON(http.StatusUnauthorized, map[string]string{"error": "Unauthorized"})
			}

			rec, err := cfg.Guard.Allow(c.Request().Context(), userID)
			if err != nil {
				if errors.Is(err, subscription.ErrQuotaExceeded) {
					status, _ := cfg.Guard.Status(c.Request().Context(), userID)
					if cfg.OnQuotaExceeded != nil {
						return cfg.OnQuotaExceeded(c, status)
					}
					return quotaExceededResponse(c, status, cfg.QuotaExceededStatusCode)
				}
				if cfg.OnError != nil {
					return cfg.OnError(c, err)
				}
				return c.JSON(http.StatusInternalServerError, map[string]string{"error": "Internal Server Error"})
			}

			c.Set(RecordContextKey, rec)
			return next(c)
		}
	}
}

func quotaExceededResponse(c echo.Context, rec *subscription.Record, code int) error {
	body := map[string]interface{}{"error": "quota exceeded"}
	if rec != nil {
		body["used"] = rec.ProposalsUsed
		body["limit"] = rec.EffectiveLimit()
		body["tier"] = rec.EffectiveTier()
	}
	return c.JSON(code, body)
}

// FromContext returns a UserIDExtractor that gets user ID from Echo context values.
// Integrates with auth middleware that calls c.Set(key, userID).
func FromContext(key string) UserIDExtractor {
	return func(c echo.Context) string {
		if val, ok := c.Get(key).(string); ok {
			return val
		}
		return ""
	}
}

// FromHeader returns a UserIDExtractor that gets user ID from a header
func FromHeader(headerName string) UserIDExtractor {
	return func(c echo.Context) string {
		return c.Request().Header.Get(headerName)
	}
}
