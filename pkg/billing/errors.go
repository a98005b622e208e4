package billing

import "errors"

var (
	// ErrProviderNotConfigured is returned when a provider is not properly configured
	ErrProviderNotConfigured = errors.New("billing provider not configured")

	// ErrInvalidWebhookSignature is returned when webhook signature validation fails.
	// No state change happens after this error; the sender gets a client-error status.
	ErrInvalidWebhookSignature = errors.New("invalid webhook signature")

	// ErrInvalidWebhookPayload is returned when webhook payload cannot be parsed
	ErrInvalidWebhookPayload = errors.New("invalid webhook payload")

	// ErrUserNotResolved is returned when an event cannot be correlated to an
	// internal user, neither via metadata nor via customer-id reverse lookup.
	// Handlers recover from it locally: the event is logged and acknowledged
	// as a no-op so the provider does not retry forever.
	ErrUserNotResolved = errors.New("event cannot be correlated to a user")

	// ErrUserNotFound is returned when a user cannot be found in the provider's system
	ErrUserNotFound = errors.New("user not found in billing provider")

	// ErrCustomerNotFound is returned when a customer cannot be found in the provider
	ErrCustomerNotFound = errors.New("customer not found in billing provider")

	// ErrTierNotConfigured is returned when a tier has no price in TierMapping
	ErrTierNotConfigured = errors.New("tier not configured in tier mapping")

	// ErrProviderAPIError is returned when the provider's API returns an error
	ErrProviderAPIError = errors.New("billing provider API error")
)
