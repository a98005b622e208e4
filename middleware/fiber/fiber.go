// Package fiber provides Fiber middleware that gates routes on proposal quota
package fiber

import (
	"errors"

	"github.com/gofiber/fiber/v2"

	"github.com/pitchly/pitchly/pkg/subscription"
)

// UserIDExtractor extracts the user ID from a Fiber context
// Return empty string if user is not authenticated
type UserIDExtractor func(c *fiber.Ctx) string

// RecordLocalsKey is the Fiber locals key the charged record is stored under
const RecordLocalsKey = "pitchly:record"

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
	OnQuotaExceeded func(c *fiber.Ctx, rec *subscription.Record) error

	// OnUnauthorized is called when user is not authenticated
	// If nil, returns 401 Unauthorized
	OnUnauthorized func(c *fiber.Ctx) error

	// OnError is called when an internal error occurs
	// If nil, returns 500 Internal Server Error
	OnError func(c *fiber.Ctx, err error) error
}

// Middleware creates a Fiber middleware that charges one proposal per request
func Middleware(cfg Config) fiber.Handler {
	// Validate required configuration at startup (fail fast)
	if cfg.Guard == nil {
		panic("pitchly/middleware/fiber: Config.Guard is required")
	}
	if cfg.GetUserID == nil {
		panic("pitchly/middleware/fiber: Config.GetUserID is required")
	}
	if cfg.QuotaExceededStatusCode == 0 {
		cfg.QuotaExceededStatusCode = fiber.StatusPaymentRequired
	}

	return func(c *fiber.Ctx) error {
		userID := cfg.GetUserID(c)
		if userID == "" {
			if cfg.OnUnauthorized != nil {
				return cfg.OnUnauthorized(c)
			}
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Unauthorized"})
		}

		// Fiber uses fasthttp, so c.UserContext() is the context.Context.
		ctx := c.UserContext()

		rec, err := cfg.Guard.Allow(ctx, userID)
		if err != nil {
			if errors.Is(err, subscription.ErrQuotaExceeded) {
				status, _ := cfg.Guard.Status(ctx, userID)
				if cfg.OnQuotaExceeded != nil {
					return cfg.OnQuotaExceeded(c, status)
				}
				return quotaExceededResponse(c, status, cfg.QuotaExceededStatusCode)
			}
			if cfg.OnError != nil {
				return cfg.OnError(c, err)
			}
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Internal Server Error"})
		}

		c.Locals(RecordLocalsKey, rec)
		return c.Next()
	}
}

func quotaExceededResponse(c *fiber.Ctx, rec *subscription.Record, code int) error {
	if rec != nil {
		return c.Status(code).JSON(fiber.Map{
			"error": "quota exceeded",
			"used":  rec.ProposalsUsed,
			"limit": rec.EffectiveLimit(),
			"tier":  rec.EffectiveTier(),
		})
	}
	return c.Status(code).JSON(fiber.Map{"error": "quota exceeded"})
}

// FromContext returns a UserIDExtractor that gets user ID from Fiber context values (Locals).
// This is the recommended approach for integrating with auth middleware that sets
// user information via c.Locals("UserID", "...") or similar.
func FromContext(key string) UserIDExtractor {
	return func(c *fiber.Ctx) string {
		if val := c.Locals(key); val != nil {
			if str, ok := val.(string); ok {
				return str
			}
		}
		return ""
	}
}

// FromHeader returns a UserIDExtractor that gets user ID from a header
func FromHeader(headerName string) UserIDExtractor {
	return func(c *fiber.Ctx) string {
		return c.Get(headerName)
	}
}

// FromParam returns a UserIDExtractor that gets user ID from a route parameter
func FromParam(paramName string) UserIDExtractor {
	return func(c *fiber.Ctx) string {
		return c.Params(paramName)
	}
}
