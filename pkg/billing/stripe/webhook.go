package stripe

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/stripe/stripe-go/v83"

	"github.com/pitchly/pitchly/pkg/billing"
	"github.com/pitchly/pitchly/pkg/billing/internal"
	"github.com/pitchly/pitchly/pkg/subscription"
)

// Webhook event kinds this provider reconciles. Everything else is
// acknowledged and dropped.
const (
	eventCheckoutCompleted   = "checkout.session.completed"
	eventSubscriptionUpdated = "customer.subscription.updated"
	eventSubscriptionDeleted = "customer.subscription.deleted"
	eventPaymentSucceeded    = "invoice.payment_succeeded"
	eventPaymentFailed       = "invoice.payment_failed"
)

// handleWebhook processes incoming Stripe webhook events
func (p *Provider) handleWebhook(w http.ResponseWriter, r *http.Request) {
	startTime := time.Now()
	setSecurityHeaders(w)

	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if len(p.webhookSecret) == 0 {
		http.Error(w, "webhook not configured", http.StatusServiceUnavailable)
		return
	}

	body, err := internal.ReadBodyStrict(w, r, maxWebhookBodyBytes)
	if err != nil {
		if errors.Is(err, internal.ErrPayloadTooLarge) {
			http.Error(w, "payload too large", http.StatusRequestEntityTooLarge)
			p.metrics.RecordWebhookError(providerName, "payload_too_large")
		} else {
			http.Error(w, fmt.Sprintf("invalid payload: %v", err), http.StatusBadRequest)
			p.metrics.RecordWebhookError(providerName, "invalid_payload")
		}
		return
	}

	sig := r.Header.Get("Stripe-Signature")

	// Verify the signature before anything in the payload is trusted.
	// A failed check never mutates the store.
	event, err := stripe.ConstructEvent(body, sig, string(p.webhookSecret))
	if err != nil {
		http.Error(w, "invalid signature", http.StatusBadRequest)
		p.metrics.RecordWebhookError(providerName, "auth_failed")
		p.logger.Warn("webhook signature verification failed",
			subscription.Field{Key: "error", Value: err.Error()})
		return
	}

	eventType := string(event.Type)
	if eventType == "" {
		eventType = "UNKNOWN"
	}

	err = p.processWebhookEvent(r.Context(), &event)
	switch {
	case err == nil:
		p.metrics.RecordWebhookEvent(providerName, eventType, "success")
	case errors.Is(err, billing.ErrUserNotResolved):
		// Correlation failures are acknowledged so Stripe does not retry
		// an event we can never attribute.
		p.logger.Warn("webhook event dropped",
			subscription.Field{Key: "event_type", Value: eventType},
			subscription.Field{Key: "reason", Value: err.Error()})
		p.metrics.RecordWebhookEvent(providerName, eventType, "dropped")
	default:
		http.Error(w, "failed to process webhook", http.StatusInternalServerError)
		p.logger.Error("webhook processing failed",
			subscription.Field{Key: "event_type", Value: eventType},
			subscription.Field{Key: "error", Value: err.Error()})
		p.metrics.RecordWebhookEvent(providerName, eventType, "error")
		p.metrics.RecordWebhookError(providerName, "processing_error")
		p.metrics.RecordWebhookProcessingDuration(providerName, eventType, time.Since(startTime))
		return
	}

	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))

	p.metrics.RecordWebhookProcessingDuration(providerName, eventType, time.Since(startTime))
}

func (p *Provider) processWebhookEvent(ctx context.Context, event *stripe.Event) error {
	switch string(event.Type) {
	case eventCheckoutCompleted:
		return p.handleCheckoutCompleted(ctx, event)
	case eventSubscriptionUpdated:
		return p.handleSubscriptionUpdated(ctx, event)
	case eventSubscriptionDeleted:
		return p.handleSubscriptionDeleted(ctx, event)
	case eventPaymentSucceeded:
		return p.handlePaymentSucceeded(ctx, event)
	case eventPaymentFailed:
		return p.handlePaymentFailed(ctx, event)
	default:
		p.logger.Debug("ignoring webhook event",
			subscription.Field{Key: "event_type", Value: string(event.Type)})
		return nil
	}
}

// handleCheckoutCompleted processes checkout.session.completed events.
// The session metadata is the only trusted source of the user id here;
// without it the event cannot be attributed and is dropped.
func (p *Provider) handleCheckoutCompleted(ctx context.Context, event *stripe.Event) error {
	var session stripe.CheckoutSession
	if err := json.Unmarshal(event.Data.Raw, &session); err != nil {
		return fmt.Errorf("%w: checkout session: %v", billing.ErrInvalidWebhookPayload, err)
	}

	userID := ""
	if session.Metadata != nil {
		userID = session.Metadata[metadataUserIDKey]
	}
	if userID == "" {
		return fmt.Errorf("%w: checkout session %s has no %s metadata",
			billing.ErrUserNotResolved, session.ID, metadataUserIDKey)
	}

	subscriptionID := ""
	if session.Subscription != nil {
		subscriptionID = session.Subscription.ID
	}
	if subscriptionID == "" {
		// Not a subscription checkout - nothing to reconcile.
		return nil
	}

	sub, err := p.fetchSubscription(ctx, subscriptionID)
	if err != nil {
		return fmt.Errorf("failed to fetch subscription %s: %w", subscriptionID, err)
	}

	// Patch the subscription metadata on Stripe so later subscription
	// events carry the user id themselves.
	if sub.Metadata == nil || sub.Metadata[metadataUserIDKey] == "" {
		params := &stripe.SubscriptionUpdateParams{}
		params.AddMetadata(metadataUserIDKey, userID)
		if patched, patchErr := p.stripeClient.V1Subscriptions.Update(ctx, subscriptionID, params); patchErr == nil {
			sub = patched
		} else {
			p.logger.Warn("failed to patch subscription metadata",
				subscription.Field{Key: "subscription_id", Value: subscriptionID},
				subscription.Field{Key: "error", Value: patchErr.Error()})
		}
	}

	prev, err := p.previousRecord(ctx, userID)
	if err != nil {
		return err
	}

	tier := p.tierFromSubscription(sub)
	start, end := boundsFromSubscription(sub)

	rec := &subscription.Record{
		UserID:                 userID,
		Tier:                   tier,
		Status:                 subscription.StatusActive,
		ExternalCustomerID:     customerIDOf(sub, prev),
		ExternalSubscriptionID: sub.ID,
		ProposalsLimit:         subscription.QuotaFor(tier),
		ProposalsUsed:          prev.ProposalsUsed,
		CurrentPeriodStart:     start,
		CurrentPeriodEnd:       end,
	}

	p.recordTierChange(prev.Tier, tier)
	return p.store.Upsert(ctx, rec)
}

// handleSubscriptionUpdated processes customer.subscription.updated events
func (p *Provider) handleSubscriptionUpdated(ctx context.Context, event *stripe.Event) error {
	var sub stripe.Subscription
	if err := json.Unmarshal(event.Data.Raw, &sub); err != nil {
		return fmt.Errorf("%w: subscription: %v", billing.ErrInvalidWebhookPayload, err)
	}

	userID, err := p.resolveUserID(ctx, &sub)
	if err != nil {
		return err
	}

	prev, err := p.previousRecord(ctx, userID)
	if err != nil {
		return err
	}

	status := mapSubscriptionStatus(sub.Status)
	tier := p.tierFromSubscription(&sub)
	if status != subscription.StatusActive {
		// A paid tier without an active subscription is never served.
		tier = subscription.TierFree
	}

	start, end := extractPeriodBounds(event.Data.Raw)
	if start.IsZero() {
		start = prev.CurrentPeriodStart
	}
	if end.IsZero() {
		end = prev.CurrentPeriodEnd
	}

	rec := &subscription.Record{
		UserID:                 userID,
		Tier:                   tier,
		Status:                 status,
		ExternalCustomerID:     customerIDOf(&sub, prev),
		ExternalSubscriptionID: sub.ID,
		ProposalsLimit:         subscription.QuotaFor(tier),
		ProposalsUsed:          prev.ProposalsUsed,
		CurrentPeriodStart:     start,
		CurrentPeriodEnd:       end,
	}

	p.recordTierChange(prev.Tier, tier)
	return p.store.Upsert(ctx, rec)
}

// handleSubscriptionDeleted processes customer.subscription.deleted events.
// The user drops to the free tier unconditionally; usage within the current
// window is kept so cancelling is not a quota reset.
func (p *Provider) handleSubscriptionDeleted(ctx context.Context, event *stripe.Event) error {
	var sub stripe.Subscription
	if err := json.Unmarshal(event.Data.Raw, &sub); err != nil {
		return fmt.Errorf("%w: subscription: %v", billing.ErrInvalidWebhookPayload, err)
	}

	userID, err := p.resolveUserID(ctx, &sub)
	if err != nil {
		return err
	}

	prev, err := p.previousRecord(ctx, userID)
	if err != nil {
		return err
	}

	rec := &subscription.Record{
		UserID:                 userID,
		Tier:                   subscription.TierFree,
		Status:                 subscription.StatusCancelled,
		ExternalCustomerID:     customerIDOf(&sub, prev),
		ExternalSubscriptionID: "",
		ProposalsLimit:         subscription.FreeProposalsLimit,
		ProposalsUsed:          prev.ProposalsUsed,
		CurrentPeriodStart:     prev.CurrentPeriodStart,
		CurrentPeriodEnd:       prev.CurrentPeriodEnd,
	}

	p.recordTierChange(prev.Tier, subscription.TierFree)
	return p.store.Upsert(ctx, rec)
}

// handlePaymentSucceeded processes invoice.payment_succeeded events.
// This is the only place usage is reset: a paid invoice opens a fresh
// billing window.
func (p *Provider) handlePaymentSucceeded(ctx context.Context, event *stripe.Event) error {
	subscriptionID := subscriptionIDFromInvoice(event.Data.Raw)
	if subscriptionID == "" {
		// Not a subscription invoice - ignore.
		return nil
	}

	sub, err := p.fetchSubscription(ctx, subscriptionID)
	if err != nil {
		return fmt.Errorf("failed to fetch subscription %s: %w", subscriptionID, err)
	}

	userID, err := p.resolveUserID(ctx, sub)
	if err != nil {
		return err
	}

	prev, err := p.previousRecord(ctx, userID)
	if err != nil {
		return err
	}

	status := mapSubscriptionStatus(sub.Status)
	tier := p.tierFromSubscription(sub)
	if status != subscription.StatusActive {
		tier = subscription.TierFree
	}

	start, end := boundsFromSubscription(sub)
	if start.IsZero() {
		start = prev.CurrentPeriodStart
	}
	if end.IsZero() {
		end = prev.CurrentPeriodEnd
	}

	rec := &subscription.Record{
		UserID:                 userID,
		Tier:                   tier,
		Status:                 status,
		ExternalCustomerID:     customerIDOf(sub, prev),
		ExternalSubscriptionID: sub.ID,
		ProposalsLimit:         subscription.QuotaFor(tier),
		ProposalsUsed:          0,
		CurrentPeriodStart:     start,
		CurrentPeriodEnd:       end,
	}

	p.recordTierChange(prev.Tier, tier)
	return p.store.Upsert(ctx, rec)
}

// handlePaymentFailed processes invoice.payment_failed events.
// The record is flagged past due; tier and usage are untouched so the
// user recovers cleanly once the retry succeeds.
func (p *Provider) handlePaymentFailed(ctx context.Context, event *stripe.Event) error {
	subscriptionID := subscriptionIDFromInvoice(event.Data.Raw)
	if subscriptionID == "" {
		return nil
	}

	sub, err := p.fetchSubscription(ctx, subscriptionID)
	if err != nil {
		return fmt.Errorf("failed to fetch subscription %s: %w", subscriptionID, err)
	}

	userID, err := p.resolveUserID(ctx, sub)
	if err != nil {
		return err
	}

	prev, err := p.previousRecord(ctx, userID)
	if err != nil {
		return err
	}

	prev.Status = subscription.StatusPastDue
	if prev.ExternalSubscriptionID == "" {
		prev.ExternalSubscriptionID = sub.ID
	}
	if prev.ExternalCustomerID == "" {
		prev.ExternalCustomerID = customerIDOf(sub, prev)
	}

	return p.store.Upsert(ctx, prev)
}

// resolveUserID correlates a subscription event to an internal user.
// Order: subscription metadata, then customer metadata, then the store's
// reverse index by customer id.
func (p *Provider) resolveUserID(ctx context.Context, sub *stripe.Subscription) (string, error) {
	if sub.Metadata != nil {
		if userID := sub.Metadata[metadataUserIDKey]; userID != "" {
			return userID, nil
		}
	}

	if sub.Customer != nil && sub.Customer.ID != "" {
		cust, err := p.fetchCustomer(ctx, sub.Customer.ID)
		if err == nil && cust != nil && cust.Metadata != nil {
			if userID := cust.Metadata[metadataUserIDKey]; userID != "" {
				return userID, nil
			}
		}

		rec, err := p.store.GetByCustomerID(ctx, sub.Customer.ID)
		if err == nil {
			return rec.UserID, nil
		}
		if !errors.Is(err, subscription.ErrRecordNotFound) {
			return "", err
		}
	}

	return "", fmt.Errorf("%w: subscription %s", billing.ErrUserNotResolved, sub.ID)
}

// previousRecord loads the user's record, synthesizing a free-tier record
// when none exists yet.
func (p *Provider) previousRecord(ctx context.Context, userID string) (*subscription.Record, error) {
	rec, err := p.store.Get(ctx, userID)
	if errors.Is(err, subscription.ErrRecordNotFound) {
		return subscription.NewFreeRecord(userID), nil
	}
	if err != nil {
		return nil, err
	}
	return rec, nil
}

func (p *Provider) tierFromSubscription(sub *stripe.Subscription) subscription.Tier {
	if sub.Items != nil && len(sub.Items.Data) > 0 && sub.Items.Data[0].Price != nil {
		return p.tiers.Resolve(sub.Items.Data[0].Price.ID)
	}
	return subscription.TierFree
}

func (p *Provider) recordTierChange(from, to subscription.Tier) {
	if from != to {
		p.metrics.RecordTierChange(providerName, string(from), string(to))
	}
}

// mapSubscriptionStatus maps a Stripe subscription status onto the internal
// record status. Past-due subscriptions show as expired; anything Stripe
// still considers billable stays active.
func mapSubscriptionStatus(s stripe.SubscriptionStatus) subscription.Status {
	switch s {
	case stripe.SubscriptionStatusCanceled:
		return subscription.StatusCancelled
	case stripe.SubscriptionStatusPastDue:
		return subscription.StatusExpired
	default:
		return subscription.StatusActive
	}
}

func customerIDOf(sub *stripe.Subscription, prev *subscription.Record) string {
	if sub.Customer != nil && sub.Customer.ID != "" {
		return sub.Customer.ID
	}
	return prev.ExternalCustomerID
}

// subscriptionIDFromInvoice extracts the subscription id from a raw invoice
// payload. Stripe sends it as either a bare id string or an expanded object.
func subscriptionIDFromInvoice(raw json.RawMessage) string {
	var data map[string]interface{}
	if err := json.Unmarshal(raw, &data); err != nil {
		return ""
	}
	switch v := data["subscription"].(type) {
	case string:
		return v
	case map[string]interface{}:
		if id, ok := v["id"].(string); ok {
			return id
		}
	}
	return ""
}

// extractPeriodBounds reads current_period_start/end from a raw subscription
// payload. Newer API versions move the bounds onto the subscription items, so
// the first item is used as a fallback.
func extractPeriodBounds(raw json.RawMessage) (start, end time.Time) {
	var payload struct {
		CurrentPeriodStart int64 `json:"current_period_start"`
		CurrentPeriodEnd   int64 `json:"current_period_end"`
		Items              struct {
			Data []struct {
				CurrentPeriodStart int64 `json:"current_period_start"`
				CurrentPeriodEnd   int64 `json:"current_period_end"`
			} `json:"data"`
		} `json:"items"`
	}
	if err := json.Unmarshal(raw, &payload); err != nil {
		return
	}

	periodStart := payload.CurrentPeriodStart
	periodEnd := payload.CurrentPeriodEnd
	if periodStart == 0 && len(payload.Items.Data) > 0 {
		periodStart = payload.Items.Data[0].CurrentPeriodStart
		periodEnd = payload.Items.Data[0].CurrentPeriodEnd
	}

	if periodStart != 0 {
		start = time.Unix(periodStart, 0).UTC()
	}
	if periodEnd != 0 {
		end = time.Unix(periodEnd, 0).UTC()
	}
	return
}

// boundsFromSubscription reads period bounds from an API-fetched subscription,
// where they live on the subscription items.
func boundsFromSubscription(sub *stripe.Subscription) (start, end time.Time) {
	if sub.Items == nil || len(sub.Items.Data) == 0 {
		return
	}
	item := sub.Items.Data[0]
	if item.CurrentPeriodStart != 0 {
		start = time.Unix(item.CurrentPeriodStart, 0).UTC()
	}
	if item.CurrentPeriodEnd != 0 {
		end = time.Unix(item.CurrentPeriodEnd, 0).UTC()
	}
	return
}

func setSecurityHeaders(w http.ResponseWriter) {
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("X-Content-Type-Options", "nosniff")
}
