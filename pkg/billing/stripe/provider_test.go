package stripe

import (
	"context"
	"io"
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pitchly/pitchly/pkg/billing"
	"github.com/pitchly/pitchly/pkg/subscription"
	"github.com/pitchly/pitchly/storage/memory"
)

func TestNewProvider_RequiresStore(t *testing.T) {
	_, err := NewProvider(Config{StripeAPIKey: testAPIKey})
	assert.ErrorIs(t, err, billing.ErrProviderNotConfigured)
}

func TestNewProvider_RequiresAPIKey(t *testing.T) {
	_, err := NewProvider(Config{
		Config: billing.Config{Store: memory.New()},
	})
	assert.ErrorIs(t, err, billing.ErrProviderNotConfigured)

	_, err = NewProvider(Config{
		Config:       billing.Config{Store: memory.New()},
		StripeAPIKey: "   ",
	})
	assert.ErrorIs(t, err, billing.ErrProviderNotConfigured)
}

func TestNewProvider_BaseConfigCredentialFallback(t *testing.T) {
	provider, err := NewProvider(Config{
		Config: billing.Config{
			Store:         memory.New(),
			APIKey:        testAPIKey,
			WebhookSecret: testWebhookSecret,
		},
	})
	require.NoError(t, err)

	// The base-config secret must verify signatures; an empty secret would
	// answer 503 instead.
	payload := eventPayload("customer.tax_id.created", `{"id":"txi_1"}`)
	w := postEvent(provider, payload, signPayload(payload, testWebhookSecret))
	assert.Equal(t, http.StatusOK, w.Code)

	w = postEvent(provider, payload, signPayload(payload, "whsec_wrong"))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

type roundTripperFunc func(*http.Request) (*http.Response, error)

func (f roundTripperFunc) RoundTrip(r *http.Request) (*http.Response, error) { return f(r) }

func TestNewProvider_UsesConfiguredHTTPClient(t *testing.T) {
	calls := 0
	client := &http.Client{Transport: roundTripperFunc(func(*http.Request) (*http.Response, error) {
		calls++
		return &http.Response{
			StatusCode: http.StatusOK,
			Header:     http.Header{"Content-Type": []string{"application/json"}},
			Body:       io.NopCloser(strings.NewReader(`{"id":"sub_1","object":"subscription"}`)),
		}, nil
	})}

	provider, err := NewProvider(Config{
		Config: billing.Config{
			Store:      memory.New(),
			HTTPClient: client,
		},
		StripeAPIKey: testAPIKey,
	})
	require.NoError(t, err)

	// The default fetcher goes through the stripe client, which must be
	// backed by the configured HTTP client.
	sub, err := provider.fetchSubscription(context.Background(), testSubID)
	require.NoError(t, err)
	assert.Equal(t, testSubID, sub.ID)
	assert.Positive(t, calls)
}

func TestProvider_Name(t *testing.T) {
	provider, _ := newTestProvider(t, nil)
	assert.Equal(t, "stripe", provider.Name())
}

func TestProvider_MapPriceToTier(t *testing.T) {
	provider, _ := newTestProvider(t, nil)

	assert.Equal(t, subscription.TierProfessional, provider.MapPriceToTier(testPricePro))
	assert.Equal(t, subscription.TierAgency, provider.MapPriceToTier("  PRICE_AGENCY "))
	assert.Equal(t, subscription.TierFree, provider.MapPriceToTier("price_unknown"))
	assert.Equal(t, subscription.TierFree, provider.MapPriceToTier(""))
}

func TestMapSubscriptionStatus(t *testing.T) {
	provider, _ := newTestProvider(t, nil)
	require.NotNil(t, provider)

	assert.Equal(t, subscription.StatusActive, mapSubscriptionStatus("active"))
	assert.Equal(t, subscription.StatusActive, mapSubscriptionStatus("trialing"))
	assert.Equal(t, subscription.StatusCancelled, mapSubscriptionStatus("canceled"))
	assert.Equal(t, subscription.StatusExpired, mapSubscriptionStatus("past_due"))
}
