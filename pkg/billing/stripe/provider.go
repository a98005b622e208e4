package stripe

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v83"

	"github.com/pitchly/pitchly/pkg/billing"
	"github.com/pitchly/pitchly/pkg/billing/internal"
	"github.com/pitchly/pitchly/pkg/subscription"
)

const (
	providerName             = "stripe"
	defaultHTTPTimeout       = 10 * time.Second
	defaultRateLimitWindow   = time.Minute
	defaultRateLimitRequests = 100
	maxWebhookBodyBytes      = 256 * 1024
	metadataUserIDKey        = "user_id"
)

// Config extends billing.Config with Stripe-specific options
type Config struct {
	billing.Config

	// Stripe-specific. When empty, these fall back to the base Config's
	// APIKey and WebhookSecret.
	StripeAPIKey        string
	StripeWebhookSecret string

	// Performance Hook (Optional)
	// If provided, checkout and sync use this for O(1) customer lookup.
	// If nil, falls back to the store's reverse index and then the slow
	// Stripe Search API.
	CustomerIDResolver func(context.Context, string) (string, error)

	// SubscriptionFetcher optionally overrides how subscriptions are loaded
	// from Stripe. If nil, the live API client is used.
	SubscriptionFetcher func(context.Context, string) (*stripe.Subscription, error)

	// CustomerFetcher optionally overrides how customers are loaded from
	// Stripe. If nil, the live API client is used.
	CustomerFetcher func(context.Context, string) (*stripe.Customer, error)
}

// Provider implements the billing.Provider interface for Stripe
type Provider struct {
	store              subscription.Store
	tiers              *subscription.TierResolver
	rateLimiter        *internal.RateLimiter
	webhookSecret      []byte
	stripeClient       *stripe.Client
	customerIDResolver func(context.Context, string) (string, error)
	fetchSubscription  func(context.Context, string) (*stripe.Subscription, error)
	fetchCustomer      func(context.Context, string) (*stripe.Customer, error)
	logger             subscription.Logger
	metrics            billing.Metrics
}

// NewProvider creates a new Stripe billing provider
func NewProvider(config Config) (*Provider, error) {
	if config.Store == nil {
		return nil, billing.ErrProviderNotConfigured
	}

	apiKey := strings.TrimSpace(config.StripeAPIKey)
	if apiKey == "" {
		apiKey = strings.TrimSpace(config.APIKey)
	}
	if apiKey == "" {
		return nil, billing.ErrProviderNotConfigured
	}

	webhookSecret := strings.TrimSpace(config.StripeWebhookSecret)
	if webhookSecret == "" {
		webhookSecret = strings.TrimSpace(config.WebhookSecret)
	}

	httpClient := config.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultHTTPTimeout}
	}

	stripeClient := stripe.NewClient(apiKey, stripe.WithBackends(
		stripe.NewBackendsWithConfig(&stripe.BackendConfig{HTTPClient: httpClient})))

	logger := config.Logger
	if logger == nil {
		logger = &subscription.NoopLogger{}
	}

	metrics := config.Metrics
	if metrics == nil {
		metrics = &billing.NoopMetrics{}
	}

	p := &Provider{
		store:              config.Store,
		tiers:              subscription.NewTierResolver(config.TierMapping),
		rateLimiter:        internal.NewRateLimiter(defaultRateLimitRequests, defaultRateLimitWindow),
		webhookSecret:      []byte(webhookSecret),
		stripeClient:       stripeClient,
		customerIDResolver: config.CustomerIDResolver,
		fetchSubscription:  config.SubscriptionFetcher,
		fetchCustomer:      config.CustomerFetcher,
		logger:             logger,
		metrics:            metrics,
	}

	if p.fetchSubscription == nil {
		p.fetchSubscription = func(ctx context.Context, id string) (*stripe.Subscription, error) {
			return p.stripeClient.V1Subscriptions.Retrieve(ctx, id, nil)
		}
	}
	if p.fetchCustomer == nil {
		p.fetchCustomer = func(ctx context.Context, id string) (*stripe.Customer, error) {
			return p.stripeClient.V1Customers.Retrieve(ctx, id, nil)
		}
	}

	return p, nil
}

// Name returns the provider name
func (p *Provider) Name() string {
	return providerName
}

// WebhookHandler returns the HTTP handler for Stripe webhooks
func (p *Provider) WebhookHandler() http.Handler {
	return p.rateLimiter.Middleware(http.HandlerFunc(p.handleWebhook))
}

// MapPriceToTier maps a Stripe Price ID to a Pitchly tier.
// Unknown or empty price IDs resolve to the free tier.
func (p *Provider) MapPriceToTier(priceID string) subscription.Tier {
	return p.tiers.Resolve(priceID)
}
