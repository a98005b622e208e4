package stripe

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/stripe/stripe-go/v83"

	"github.com/pitchly/pitchly/pkg/billing"
	"github.com/pitchly/pitchly/pkg/subscription"
)

// SyncUser re-derives the user's subscription record from live Stripe state.
// Used for recovery from missed webhooks or scheduled reconciliation.
func (p *Provider) SyncUser(ctx context.Context, userID string) (string, error) {
	startTime := time.Now()

	customerID, err := p.resolveCustomerID(ctx, userID)
	if err != nil {
		if errors.Is(err, billing.ErrUserNotFound) || errors.Is(err, billing.ErrCustomerNotFound) {
			// No Stripe presence at all: the user is on the free tier.
			return p.syncToFree(ctx, userID, startTime)
		}
		p.metrics.RecordUserSync(providerName, "error")
		return string(subscription.TierFree), err
	}

	return p.syncCustomer(ctx, customerID, userID, startTime)
}

// searchCustomerByMetadata searches for a customer by metadata using the
// Stripe Search API. Slow and eventually consistent; only used when neither
// the resolver nor the store knows the customer.
func (p *Provider) searchCustomerByMetadata(ctx context.Context, userID string) (string, error) {
	params := &stripe.CustomerSearchParams{}
	params.Query = fmt.Sprintf("metadata['%s']:'%s'", metadataUserIDKey, userID)

	for cust, err := range p.stripeClient.V1Customers.Search(ctx, params) {
		if err != nil {
			return "", fmt.Errorf("stripe search error: %w", err)
		}
		// Search can return partial matches; verify.
		if cust.Metadata != nil && cust.Metadata[metadataUserIDKey] == userID {
			return cust.ID, nil
		}
	}

	return "", billing.ErrUserNotFound
}

// syncCustomer lists the customer's active subscriptions and upserts the
// record derived from the best one.
func (p *Provider) syncCustomer(ctx context.Context, customerID, userID string, startTime time.Time) (string, error) {
	params := &stripe.SubscriptionListParams{}
	params.Customer = stripe.String(customerID)
	params.Status = stripe.String(string(stripe.SubscriptionStatusActive))

	var best *stripe.Subscription
	bestTier := subscription.TierFree

	for sub, err := range p.stripeClient.V1Subscriptions.List(ctx, params) {
		if err != nil {
			p.metrics.RecordAPICall(providerName, "/subscriptions/list", "error")
			p.metrics.RecordUserSync(providerName, "error")
			p.metrics.RecordUserSyncDuration(providerName, time.Since(startTime))
			return string(subscription.TierFree), fmt.Errorf("failed to list subscriptions: %w", err)
		}
		if sub.Status != stripe.SubscriptionStatusActive {
			continue
		}
		tier := p.tierFromSubscription(sub)
		if best == nil || tierRank(tier) > tierRank(bestTier) {
			best = sub
			bestTier = tier
		}
	}

	p.metrics.RecordAPICall(providerName, "/subscriptions/list", "success")
	p.metrics.RecordAPICallDuration(providerName, "/subscriptions/list", time.Since(startTime))

	if best == nil {
		tier, err := p.syncToFree(ctx, userID, startTime)
		if err != nil {
			return tier, err
		}
		// Remember the customer so later events still correlate.
		if rec, getErr := p.store.Get(ctx, userID); getErr == nil && rec.ExternalCustomerID == "" {
			rec.ExternalCustomerID = customerID
			if upErr := p.store.Upsert(ctx, rec); upErr != nil {
				return tier, upErr
			}
		}
		return tier, nil
	}

	prev, err := p.previousRecord(ctx, userID)
	if err != nil {
		p.metrics.RecordUserSync(providerName, "error")
		return string(bestTier), err
	}

	start, end := boundsFromSubscription(best)
	rec := &subscription.Record{
		UserID:                 userID,
		Tier:                   bestTier,
		Status:                 subscription.StatusActive,
		ExternalCustomerID:     customerID,
		ExternalSubscriptionID: best.ID,
		ProposalsLimit:         subscription.QuotaFor(bestTier),
		ProposalsUsed:          prev.ProposalsUsed,
		CurrentPeriodStart:     start,
		CurrentPeriodEnd:       end,
	}

	p.recordTierChange(prev.Tier, bestTier)

	if err := p.store.Upsert(ctx, rec); err != nil {
		p.metrics.RecordUserSync(providerName, "error")
		p.metrics.RecordUserSyncDuration(providerName, time.Since(startTime))
		return string(bestTier), fmt.Errorf("failed to upsert record: %w", err)
	}

	p.metrics.RecordUserSync(providerName, "success")
	p.metrics.RecordUserSyncDuration(providerName, time.Since(startTime))
	return string(bestTier), nil
}

// syncToFree downgrades a user to the free tier. Usage within the current
// window is kept.
func (p *Provider) syncToFree(ctx context.Context, userID string, startTime time.Time) (string, error) {
	prev, err := p.previousRecord(ctx, userID)
	if err != nil {
		p.metrics.RecordUserSync(providerName, "error")
		return string(subscription.TierFree), err
	}

	status := subscription.StatusActive
	if prev.ExternalSubscriptionID != "" {
		status = subscription.StatusCancelled
	}

	rec := &subscription.Record{
		UserID:             userID,
		Tier:               subscription.TierFree,
		Status:             status,
		ExternalCustomerID: prev.ExternalCustomerID,
		ProposalsLimit:     subscription.FreeProposalsLimit,
		ProposalsUsed:      prev.ProposalsUsed,
		CurrentPeriodStart: prev.CurrentPeriodStart,
		CurrentPeriodEnd:   prev.CurrentPeriodEnd,
	}

	p.recordTierChange(prev.Tier, subscription.TierFree)

	if err := p.store.Upsert(ctx, rec); err != nil {
		p.metrics.RecordUserSync(providerName, "error")
		p.metrics.RecordUserSyncDuration(providerName, time.Since(startTime))
		return string(subscription.TierFree), fmt.Errorf("failed to upsert record: %w", err)
	}

	p.metrics.RecordUserSync(providerName, "success")
	p.metrics.RecordUserSyncDuration(providerName, time.Since(startTime))
	return string(subscription.TierFree), nil
}

func tierRank(t subscription.Tier) int {
	switch t {
	case subscription.TierAgency:
		return 2
	case subscription.TierProfessional:
		return 1
	default:
		return 0
	}
}
