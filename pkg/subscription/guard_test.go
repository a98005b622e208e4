package subscription_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pitchly/pitchly/pkg/subscription"
	"github.com/pitchly/pitchly/storage/memory"
)

func newGuard(t *testing.T) (*subscription.Guard, *memory.Store) {
	t.Helper()
	store := memory.New()
	guard, err := subscription.NewGuard(store)
	require.NoError(t, err)
	return guard, store
}

func TestGuard_AllowConsumesQuota(t *testing.T) {
	guard, store := newGuard(t)
	ctx := context.Background()

	require.NoError(t, store.Upsert(ctx, &subscription.Record{
		UserID:         "user_1",
		Tier:           subscription.TierProfessional,
		Status:         subscription.StatusActive,
		ProposalsLimit: 100,
	}))

	rec, err := guard.Allow(ctx, "user_1")
	require.NoError(t, err)
	assert.Equal(t, 1, rec.ProposalsUsed)
	assert.Equal(t, 99, rec.Remaining())
}

func TestGuard_AllowDeniesAtLimit(t *testing.T) {
	guard, _ := newGuard(t)
	ctx := context.Background()

	// No billing event yet: free tier, 3 proposals.
	for i := 0; i < subscription.FreeProposalsLimit; i++ {
		_, err := guard.Allow(ctx, "user_1")
		require.NoError(t, err)
	}

	_, err := guard.Allow(ctx, "user_1")
	assert.ErrorIs(t, err, subscription.ErrQuotaExceeded)
}

func TestGuard_AllowDeniesPastDueAtFreeLimit(t *testing.T) {
	guard, store := newGuard(t)
	ctx := context.Background()

	require.NoError(t, store.Upsert(ctx, &subscription.Record{
		UserID:         "user_1",
		Tier:           subscription.TierAgency,
		Status:         subscription.StatusCancelled,
		ProposalsLimit: subscription.UnlimitedProposals,
	}))

	for i := 0; i < subscription.FreeProposalsLimit; i++ {
		_, err := guard.Allow(ctx, "user_1")
		require.NoError(t, err)
	}

	_, err := guard.Allow(ctx, "user_1")
	assert.ErrorIs(t, err, subscription.ErrQuotaExceeded)
}

func TestGuard_StatusDoesNotConsume(t *testing.T) {
	guard, _ := newGuard(t)
	ctx := context.Background()

	rec, err := guard.Status(ctx, "user_1")
	require.NoError(t, err)
	assert.Equal(t, subscription.TierFree, rec.Tier)
	assert.Zero(t, rec.ProposalsUsed)

	rec, err = guard.Status(ctx, "user_1")
	require.NoError(t, err)
	assert.Zero(t, rec.ProposalsUsed)
}

func TestGuard_RequiresUserID(t *testing.T) {
	guard, _ := newGuard(t)

	_, err := guard.Allow(context.Background(), "")
	assert.Error(t, err)

	_, err = guard.Status(context.Background(), "")
	assert.Error(t, err)
}

func TestNewGuard_RequiresStore(t *testing.T) {
	_, err := subscription.NewGuard(nil)
	assert.Error(t, err)
}
