// Package gin provides Gin middleware that gates routes on proposal quota
package gin

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/pitchly/pitchly/pkg/subscription"
)

// UserIDExtractor extracts the user ID from a Gin context
// Return empty string if user is not authenticated
type UserIDExtractor func(c *gin.Context) string

// RecordContextKey is the Gin context key the charged record is stored under
const RecordContextKey = "pitchly:record"

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
	OnQuotaExceeded func(c *gin.Context, rec *subscription.Record)

	// OnUnauthorized is called when user is not authenticated
	// If nil, returns 401 Unauthorized
	OnUnauthorized func(c *gin.Context)

	// OnError is called when an internal error occurs
	// If nil, returns 500 Internal Server Error
	OnError func(c *gin.Context, err error)
}

// Middleware creates a Gin middleware that charges one proposal per request
func Middleware(cfg Config) gin.HandlerFunc {
	if cfg.Guard == nil {
		panic("pitchly/middleware/gin: Config.Guard is required")
	}
	if cfg.GetUserID == nil {
		panic("pitchly/middleware/gin: Config.GetUserID is required")
	}
	if cfg.QuotaExceededStatusCode == 0 {
		cfg.QuotaExceededStatusCode = http.StatusPaymentRequired
	}

	return func(c *gin.Context) {
		userID := cfg.GetUserID(c)
		if userID == "" {
			if cfg.OnUnauthorized != nil {
				cfg.OnUnauthorized(c)
			} else {
				c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
			}
			return
		}

		rec, err := cfg.Guard.Allow(c.Request.Context(), userID)
		if err != nil {
			if errors.Is(err, subscription.ErrQuotaExceeded) {
				status, _ := cfg.Guard.Status(c.Request.Context(), userID)
				if cfg.OnQuotaExceeded != nil {
					cfg.OnQuotaExceeded(c, status)
				} else {
					quotaExceededResponse(c, status, cfg.QuotaExceededStatusCode)
				}
			} else if cfg.OnError != nil {
				cfg.OnError(c, err)
			} else {
				c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "Internal Server Error"})
			}
			return
		}

		c.Set(RecordContextKey, rec)
		c.Next()
	}
}

func quotaExceededResponse(c *gin.Context, rec *subscription.Record, code int) {
	body := gin.H{"error": "quota exceeded"}
	if rec != nil {
		body["used"] = rec.ProposalsUsed
		body["limit"] = rec.EffectiveLimit()
		body["tier"] = rec.EffectiveTier()
	}
	c.AbortWithStatusJSON(code, body)
}

// FromContext returns a UserIDExtractor that gets user ID from Gin context values.
// Integrates with auth middleware that calls c.Set(key, userID).
func FromContext(key string) UserIDExtractor {
	return func(c *gin.Context) string {
		if val, ok := c.Get(key); ok {
			if str, ok := val.(string); ok {
				return str
			}
		}
		return ""
	}
}

// FromHeader returns a UserIDExtractor that gets user ID from a header
func FromHeader(headerName string) UserIDExtractor {
	return func(c *gin.Context) string {
		return c.GetHeader(headerName)
	}
}
