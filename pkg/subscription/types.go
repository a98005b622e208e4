package subscription

import (
	"time"
)

// Tier is a Pitchly subscription level.
type Tier string

const (
	// TierFree is the default tier for users without an active subscription.
	TierFree Tier = "free"
	// TierProfessional is the paid individual tier.
	TierProfessional Tier = "professional"
	// TierAgency is the top tier with unlimited proposals.
	TierAgency Tier = "agency"
)

// Status is the lifecycle status of a subscription record.
type Status string

const (
	// StatusActive means the subscription is paid up and the tier's quota applies.
	StatusActive Status = "active"
	// StatusPastDue means the last invoice failed but the grace period is running;
	// tier and quota are unchanged until Stripe cancels or the payment succeeds.
	StatusPastDue Status = "past_due"
	// StatusCancelled means the subscription ended; quota enforcement falls back to free.
	StatusCancelled Status = "cancelled"
	// StatusExpired is surfaced when Stripe reports the subscription itself as past_due.
	// For quota enforcement it behaves exactly like StatusCancelled; it exists as a
	// distinct value so the UI can message "payment problem" instead of "cancelled".
	StatusExpired Status = "expired"
)

// UnlimitedProposals is the ProposalsLimit sentinel for the agency tier.
const UnlimitedProposals = -1

// FreeProposalsLimit is the per-period quota of the free tier.
const FreeProposalsLimit = 3

// Record is the per-user subscription state, owned exclusively by the billing
// reconciler and read by the rest of the application.
type Record struct {
	UserID                 string    `json:"user_id"`
	Tier                   Tier      `json:"tier"`
	Status                 Status    `json:"status"`
	ExternalCustomerID     string    `json:"customer_id"`
	ExternalSubscriptionID string    `json:"subscription_id"`
	ProposalsLimit         int       `json:"proposals_limit"`
	ProposalsUsed          int       `json:"proposals_used"`
	CurrentPeriodStart     time.Time `json:"current_period_start"`
	CurrentPeriodEnd       time.Time `json:"current_period_end"`
	UpdatedAt              time.Time `json:"updated_at"`
}

// NewFreeRecord returns the record a user has before any billing event arrived.
func NewFreeRecord(userID string) *Record {
	return &Record{
		UserID:         userID,
		Tier:           TierFree,
		Status:         StatusActive,
		ProposalsLimit: FreeProposalsLimit,
	}
}

// EffectiveTier is the tier used for quota enforcement. Any non-active status
// collapses to free regardless of the stored tier; the stored tier is retained
// for display and history only.
func (r *Record) EffectiveTier() Tier {
	if r.Status != StatusActive {
		return TierFree
	}
	return r.Tier
}

// EffectiveLimit is the proposal limit used for quota enforcement.
func (r *Record) EffectiveLimit() int {
	return QuotaFor(r.EffectiveTier())
}

// Remaining returns the number of proposals left in the current period, or
// UnlimitedProposals when the effective limit is unlimited.
func (r *Record) Remaining() int {
	limit := r.EffectiveLimit()
	if limit == UnlimitedProposals {
		return UnlimitedProposals
	}
	remaining := limit - r.ProposalsUsed
	if remaining < 0 {
		return 0
	}
	return remaining
}

// QuotaFor returns the fixed proposals-per-period quota for a tier.
// It is total over all Tier values; unknown tiers get the free quota.
func QuotaFor(tier Tier) int {
	switch tier {
	case TierProfessional:
		return 100
	case TierAgency:
		return UnlimitedProposals
	default:
		return FreeProposalsLimit
	}
}
