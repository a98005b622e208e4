// Package http provides HTTP middleware that gates routes on proposal quota
package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/pitchly/pitchly/pkg/subscription"
)

// UserIDExtractor extracts the user ID from an HTTP request
// Return empty string if user is not authenticated
type UserIDExtractor func(r *http.Request) string

// Config holds middleware configuration
type Config struct {
	// Guard is the quota guard instance (required)
	Guard *subscription.Guard

	// GetUserID extracts user ID from request (required)
	GetUserID UserIDExtractor

	// QuotaExceededStatusCode is the status returned when the quota is spent
	// Default: 402 Payment Required
	QuotaExceededStatusCode int

	// OnQuotaExceeded is called when the quota is spent
	// If nil, returns a JSON body with used/limit
	OnQuotaExceeded func(w http.ResponseWriter, r *http.Request, rec *subscription.Record)

	// OnUnauthorized is called when user is not authenticated
	// If nil, returns 401 Unauthorized
	OnUnauthorized func(w http.ResponseWriter, r *http.Request)

	// OnError is called when an internal error occurs
	// If nil, returns 500 Internal Server Error
	OnError func(w http.ResponseWriter, r *http.Request, err error)
}

// Middleware creates an HTTP middleware that charges one proposal per request
func Middleware(config Config) func(http.Handler) http.Handler {
	if config.Guard == nil {
		panic("pitchly/middleware/http: Config.Guard is required")
	}
	if config.GetUserID == nil {
		panic("pitchly/middleware/http: Config.GetUserID is required")
	}
	if config.QuotaExceededStatusCode == 0 {
		config.QuotaExceededStatusCode = http.StatusPaymentRequired
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			userID := config.GetUserID(r)
			if userID == "" {
				if config.OnUnauthorized != nil {
					config.OnUnauthorized(w, r)
				} else {
					http.Error(w, "Unauthorized", http.StatusUnauthorized)
				}
				return
			}

			rec, err := config.Guard.Allow(r.Context(), userID)
			if err != nil {
				if errors.Is(err, subscription.ErrQuotaExceeded) {
					status, _ := config.Guard.Status(r.Context(), userID)
					if config.OnQuotaExceeded != nil {
						config.OnQuotaExceeded(w, r, status)
					} else {
						writeQuotaExceeded(w, status, config.QuotaExceededStatusCode)
					}
				} else if config.OnError != nil {
					config.OnError(w, r, err)
				} else {
					http.Error(w, "Internal Server Error", http.StatusInternalServerError)
				}
				return
			}

			// Make the charged record available to the handler.
			next.ServeHTTP(w, r.WithContext(WithRecord(r.Context(), rec)))
		})
	}
}

// HandlerFunc creates an HTTP middleware that charges quota (HandlerFunc version)
func HandlerFunc(config Config) func(http.HandlerFunc) http.HandlerFunc {
	middleware := Middleware(config)
	return func(next http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			middleware(next).ServeHTTP(w, r)
		}
	}
}

func writeQuotaExceeded(w http.ResponseWriter, rec *subscription.Record, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	body := map[string]interface{}{"error": "quota exceeded"}
	if rec != nil {
		body["used"] = rec.ProposalsUsed
		body["limit"] = rec.EffectiveLimit()
		body["tier"] = rec.EffectiveTier()
	}
	_ = json.NewEncoder(w).Encode(body)
}

// ContextKey is a type for context keys
type ContextKey string

const (
	// UserIDKey is the context key for user ID
	UserIDKey ContextKey = "pitchly:userID"

	// RecordKey is the context key for the charged subscription record
	RecordKey ContextKey = "pitchly:record"
)

// FromContext returns an UserIDExtractor that gets user ID from request context
func FromContext(key ContextKey) UserIDExtractor {
	return func(r *http.Request) string {
		if userID, ok := r.Context().Value(key).(string); ok {
			return userID
		}
		return ""
	}
}

// FromHeader returns an UserIDExtractor that gets user ID from a header
func FromHeader(headerName string) UserIDExtractor {
	return func(r *http.Request) string {
		return r.Header.Get(headerName)
	}
}

// WithUserID adds user ID to request context
func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, UserIDKey, userID)
}

// WithRecord adds the charged subscription record to the context
func WithRecord(ctx context.Context, rec *subscription.Record) context.Context {
	return context.WithValue(ctx, RecordKey, rec)
}

// RecordFromContext returns the record stored by the middleware, if any
func RecordFromContext(ctx context.Context) (*subscription.Record, bool) {
	rec, ok := ctx.Value(RecordKey).(*subscription.Record)
	return rec, ok
}
