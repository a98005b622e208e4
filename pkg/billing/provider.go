package billing

import (
	"context"
	"net/http"
)

// Provider is the generic interface that any billing backend must implement.
// The application only ever talks to this interface, so the concrete provider
// can be swapped without logic changes.
type Provider interface {
	// Name returns the provider name (e.g., "stripe")
	Name() string

	// WebhookHandler returns the HTTP handler that processes real-time events.
	// The implementation handles signature verification, parsing, and
	// subscription-record updates internally.
	WebhookHandler() http.Handler

	// SyncUser forces a synchronization of the user's state from the provider
	// into the subscription store. Used for recovery from missed webhooks or
	// nightly reconciliation jobs. Returns the detected tier and any error.
	SyncUser(ctx context.Context, userID string) (string, error)
}
