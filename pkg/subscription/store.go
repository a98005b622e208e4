package subscription

import "context"

// Store defines the interface for subscription record persistence.
// All methods use concrete types from this package to avoid import cycles.
//
// Upsert replaces the whole row in a single atomic write; the reconciler
// recomputes every field from the billing provider's snapshot before calling
// it, so concurrent deliveries for the same user serialize at the store and
// replays are harmless. The one acknowledged race: a payment-succeeded usage
// reset can overwrite a proposal consumed concurrently via ConsumeProposal.
// That window is accepted, not fixed; it costs the user at most one free
// proposal at period rollover.
type Store interface {
	// Get retrieves a user's record.
	// Returns ErrRecordNotFound when no billing event created one yet.
	Get(ctx context.Context, userID string) (*Record, error)

	// GetByCustomerID reverse-looks-up a record by the billing provider's
	// customer ID. Returns ErrRecordNotFound when no record references it.
	GetByCustomerID(ctx context.Context, customerID string) (*Record, error)

	// Upsert stores a record, replacing any existing row for the same user.
	Upsert(ctx context.Context, rec *Record) error

	// ConsumeProposal atomically checks the effective limit and increments the
	// usage counter. Users without a record get a free-tier record created on
	// first use. Returns the post-increment record, or ErrQuotaExceeded.
	ConsumeProposal(ctx context.Context, userID string) (*Record, error)
}
