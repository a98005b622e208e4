package subscription

import (
	"context"
	"errors"
	"fmt"
)

// Guard is the quota-enforcement collaborator: it reads the subscription
// record before each proposal generation to decide allow/deny. The record
// itself is only ever written by the billing reconciler (and by the store's
// implicit free-record creation on first use).
type Guard struct {
	store  Store
	logger Logger
}

// GuardOption configures a Guard.
type GuardOption func(*Guard)

// WithGuardLogger sets the logger used for enforcement decisions.
func WithGuardLogger(logger Logger) GuardOption {
	return func(g *Guard) {
		if logger != nil {
			g.logger = logger
		}
	}
}

// NewGuard creates a quota guard on top of a Store.
func NewGuard(store Store, opts ...GuardOption) (*Guard, error) {
	if store == nil {
		return nil, fmt.Errorf("%w: store is required", ErrInvalidRecord)
	}
	g := &Guard{store: store, logger: &NoopLogger{}}
	for _, opt := range opts {
		opt(g)
	}
	return g, nil
}

// Allow consumes one proposal from the user's quota. It returns the
// post-increment record on success and ErrQuotaExceeded when the period's
// effective limit is used up.
func (g *Guard) Allow(ctx context.Context, userID string) (*Record, error) {
	if userID == "" {
		return nil, fmt.Errorf("%w: user id is required", ErrInvalidRecord)
	}

	rec, err := g.store.ConsumeProposal(ctx, userID)
	if err != nil {
		if errors.Is(err, ErrQuotaExceeded) {
			g.logger.Info("proposal denied: quota exceeded",
				Field{Key: "user_id", Value: userID})
			return nil, err
		}
		return nil, fmt.Errorf("consume proposal: %w", err)
	}

	g.logger.Debug("proposal allowed",
		Field{Key: "user_id", Value: userID},
		Field{Key: "tier", Value: string(rec.EffectiveTier())},
		Field{Key: "used", Value: rec.ProposalsUsed})
	return rec, nil
}

// Status reads the user's record without consuming quota. Users with no
// record yet are reported as free-tier with zero usage.
func (g *Guard) Status(ctx context.Context, userID string) (*Record, error) {
	if userID == "" {
		return nil, fmt.Errorf("%w: user id is required", ErrInvalidRecord)
	}

	rec, err := g.store.Get(ctx, userID)
	if errors.Is(err, ErrRecordNotFound) {
		return NewFreeRecord(userID), nil
	}
	if err != nil {
		return nil, fmt.Errorf("get record: %w", err)
	}
	return rec, nil
}
