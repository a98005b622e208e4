package subscription

import "strings"

// TierResolver maps billing-provider price IDs to Pitchly tiers.
// Resolution is deterministic, does no I/O, and never fails: any price ID
// that is not configured resolves to TierFree.
type TierResolver struct {
	prices map[string]Tier
}

// NewTierResolver builds a resolver from a price ID -> tier mapping.
// Keys are matched case-insensitively.
func NewTierResolver(mapping map[string]Tier) *TierResolver {
	prices := make(map[string]Tier, len(mapping))
	for priceID, tier := range mapping {
		prices[strings.ToLower(strings.TrimSpace(priceID))] = tier
	}
	return &TierResolver{prices: prices}
}

// Resolve returns the tier for a price ID, or TierFree for unknown IDs.
func (r *TierResolver) Resolve(priceID string) Tier {
	if r == nil || priceID == "" {
		return TierFree
	}
	if tier, ok := r.prices[strings.ToLower(strings.TrimSpace(priceID))]; ok {
		return tier
	}
	return TierFree
}

// PriceIDFor returns the first configured price ID for a tier, or "" when the
// tier has no price (the free tier, or an unmapped tier). This is the reverse
// of Resolve and is used when creating checkout sessions.
func (r *TierResolver) PriceIDFor(tier Tier) string {
	if r == nil {
		return ""
	}
	for priceID, mapped := range r.prices {
		if mapped == tier {
			return priceID
		}
	}
	return ""
}
