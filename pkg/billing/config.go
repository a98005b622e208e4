package billing

import (
	"net/http"

	"github.com/pitchly/pitchly/pkg/subscription"
)

// Config defines the standard configuration all providers accept
type Config struct {
	// Store is the subscription record store the provider reconciles into
	Store subscription.Store

	// TierMapping maps provider price IDs to Pitchly tiers.
	// For example: map[string]subscription.Tier{"price_pro": subscription.TierProfessional}
	// Unmapped price IDs resolve to the free tier.
	TierMapping map[string]subscription.Tier

	// WebhookSecret is used to verify incoming webhook request signatures.
	WebhookSecret string

	// APIKey is used for outbound API calls to the billing provider
	// (subscription lookups, SyncUser, checkout sessions).
	APIKey string

	// HTTPClient is an optional HTTP client for API calls.
	// If nil, a default client with 10s timeout will be used.
	HTTPClient *http.Client

	// Logger is an optional structured logger.
	// If nil, logging is silently ignored (no-op).
	Logger subscription.Logger

	// Metrics is an optional metrics collector for tracking provider operations.
	// If nil, metrics will be silently ignored (no-op).
	// Use billing/metrics/prometheus.DefaultMetrics(namespace) for Prometheus metrics.
	Metrics Metrics
}
