package redis

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pitchly/pitchly/pkg/subscription"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	store, err := New(client, DefaultConfig())
	require.NoError(t, err)
	return store
}

func TestStore_UpsertAndGet(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	rec := &subscription.Record{
		UserID:                 "user_1",
		Tier:                   subscription.TierProfessional,
		Status:                 subscription.StatusActive,
		ExternalCustomerID:     "cus_1",
		ExternalSubscriptionID: "sub_1",
		ProposalsLimit:         100,
		ProposalsUsed:          4,
	}
	require.NoError(t, store.Upsert(ctx, rec))

	got, err := store.Get(ctx, "user_1")
	require.NoError(t, err)
	assert.Equal(t, subscription.TierProfessional, got.Tier)
	assert.Equal(t, 4, got.ProposalsUsed)
	assert.False(t, got.UpdatedAt.IsZero())
}

func TestStore_GetNotFound(t *testing.T) {
	store := newTestStore(t)

	_, err := store.Get(context.Background(), "missing")
	assert.ErrorIs(t, err, subscription.ErrRecordNotFound)
}

func TestStore_GetByCustomerID(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Upsert(ctx, &subscription.Record{
		UserID:             "user_1",
		Tier:               subscription.TierAgency,
		Status:             subscription.StatusActive,
		ExternalCustomerID: "cus_1",
		ProposalsLimit:     subscription.UnlimitedProposals,
	}))

	got, err := store.GetByCustomerID(ctx, "cus_1")
	require.NoError(t, err)
	assert.Equal(t, "user_1", got.UserID)

	_, err = store.GetByCustomerID(ctx, "cus_unknown")
	assert.ErrorIs(t, err, subscription.ErrRecordNotFound)
}

func TestStore_ConsumeProposal_CreatesFreeRecord(t *testing.T) {
	store := newTestStore(t)

	rec, err := store.ConsumeProposal(context.Background(), "user_1")
	require.NoError(t, err)
	assert.Equal(t, subscription.TierFree, rec.Tier)
	assert.Equal(t, 1, rec.ProposalsUsed)

	// Persisted, not just returned.
	got, err := store.Get(context.Background(), "user_1")
	require.NoError(t, err)
	assert.Equal(t, 1, got.ProposalsUsed)
}

func TestStore_ConsumeProposal_EnforcesLimit(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	for i := 0; i < subscription.FreeProposalsLimit; i++ {
		_, err := store.ConsumeProposal(ctx, "user_1")
		require.NoError(t, err)
	}

	_, err := store.ConsumeProposal(ctx, "user_1")
	assert.ErrorIs(t, err, subscription.ErrQuotaExceeded)
}

func TestStore_ConsumeProposal_NonActiveCollapsesToFree(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Upsert(ctx, &subscription.Record{
		UserID:         "user_1",
		Tier:           subscription.TierAgency,
		Status:         subscription.StatusExpired,
		ProposalsLimit: subscription.UnlimitedProposals,
	}))

	for i := 0; i < subscription.FreeProposalsLimit; i++ {
		_, err := store.ConsumeProposal(ctx, "user_1")
		require.NoError(t, err)
	}

	_, err := store.ConsumeProposal(ctx, "user_1")
	assert.ErrorIs(t, err, subscription.ErrQuotaExceeded)
}

func TestStore_ConsumeProposal_Unlimited(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Upsert(ctx, &subscription.Record{
		UserID:         "user_1",
		Tier:           subscription.TierAgency,
		Status:         subscription.StatusActive,
		ProposalsLimit: subscription.UnlimitedProposals,
	}))

	for i := 0; i < 200; i++ {
		_, err := store.ConsumeProposal(ctx, "user_1")
		require.NoError(t, err)
	}

	rec, err := store.Get(ctx, "user_1")
	require.NoError(t, err)
	assert.Equal(t, 200, rec.ProposalsUsed)
}
