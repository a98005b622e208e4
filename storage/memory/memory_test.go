package memory

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pitchly/pitchly/pkg/subscription"
)

func TestStore_UpsertAndGet(t *testing.T) {
	store := New()
	ctx := context.Background()

	rec := &subscription.Record{
		UserID:                 "user_1",
		Tier:                   subscription.TierProfessional,
		Status:                 subscription.StatusActive,
		ExternalCustomerID:     "cus_1",
		ExternalSubscriptionID: "sub_1",
		ProposalsLimit:         100,
		CurrentPeriodStart:     time.Unix(1700000000, 0).UTC(),
		CurrentPeriodEnd:       time.Unix(1702592000, 0).UTC(),
	}
	require.NoError(t, store.Upsert(ctx, rec))

	got, err := store.Get(ctx, "user_1")
	require.NoError(t, err)
	assert.Equal(t, subscription.TierProfessional, got.Tier)
	assert.Equal(t, "cus_1", got.ExternalCustomerID)
	assert.False(t, got.UpdatedAt.IsZero())
}

func TestStore_GetNotFound(t *testing.T) {
	store := New()

	_, err := store.Get(context.Background(), "unknown")
	assert.ErrorIs(t, err, subscription.ErrRecordNotFound)
}

func TestStore_GetByCustomerID(t *testing.T) {
	store := New()
	ctx := context.Background()

	rec := subscription.NewFreeRecord("user_1")
	rec.ExternalCustomerID = "cus_1"
	require.NoError(t, store.Upsert(ctx, rec))

	got, err := store.GetByCustomerID(ctx, "cus_1")
	require.NoError(t, err)
	assert.Equal(t, "user_1", got.UserID)

	_, err = store.GetByCustomerID(ctx, "cus_unknown")
	assert.ErrorIs(t, err, subscription.ErrRecordNotFound)
}

func TestStore_UpsertReturnsCopies(t *testing.T) {
	store := New()
	ctx := context.Background()

	rec := subscription.NewFreeRecord("user_1")
	require.NoError(t, store.Upsert(ctx, rec))

	// Mutating the caller's struct must not affect the stored record.
	rec.Tier = subscription.TierAgency

	got, err := store.Get(ctx, "user_1")
	require.NoError(t, err)
	assert.Equal(t, subscription.TierFree, got.Tier)
}

func TestStore_ConsumeProposal_CreatesFreeRecord(t *testing.T) {
	store := New()
	ctx := context.Background()

	got, err := store.ConsumeProposal(ctx, "fresh_user")
	require.NoError(t, err)
	assert.Equal(t, subscription.TierFree, got.Tier)
	assert.Equal(t, 1, got.ProposalsUsed)
}

func TestStore_ConsumeProposal_EnforcesFreeLimit(t *testing.T) {
	store := New()
	ctx := context.Background()

	for i := 0; i < subscription.FreeProposalsLimit; i++ {
		_, err := store.ConsumeProposal(ctx, "user_1")
		require.NoError(t, err)
	}

	_, err := store.ConsumeProposal(ctx, "user_1")
	assert.ErrorIs(t, err, subscription.ErrQuotaExceeded)
}

func TestStore_ConsumeProposal_NonActiveCollapsesToFree(t *testing.T) {
	store := New()
	ctx := context.Background()

	rec := &subscription.Record{
		UserID:         "user_1",
		Tier:           subscription.TierProfessional,
		Status:         subscription.StatusExpired,
		ProposalsLimit: 100,
		ProposalsUsed:  0,
	}
	require.NoError(t, store.Upsert(ctx, rec))

	for i := 0; i < subscription.FreeProposalsLimit; i++ {
		_, err := store.ConsumeProposal(ctx, "user_1")
		require.NoError(t, err)
	}

	_, err := store.ConsumeProposal(ctx, "user_1")
	assert.ErrorIs(t, err, subscription.ErrQuotaExceeded)
}

func TestStore_ConsumeProposal_Unlimited(t *testing.T) {
	store := New()
	ctx := context.Background()

	rec := &subscription.Record{
		UserID:         "user_1",
		Tier:           subscription.TierAgency,
		Status:         subscription.StatusActive,
		ProposalsLimit: subscription.UnlimitedProposals,
	}
	require.NoError(t, store.Upsert(ctx, rec))

	for i := 0; i < 500; i++ {
		_, err := store.ConsumeProposal(ctx, "user_1")
		require.NoError(t, err)
	}

	got, err := store.Get(ctx, "user_1")
	require.NoError(t, err)
	assert.Equal(t, 500, got.ProposalsUsed)
}

func TestStore_ConsumeProposal_Concurrent(t *testing.T) {
	store := New()
	ctx := context.Background()

	rec := &subscription.Record{
		UserID:         "user_1",
		Tier:           subscription.TierProfessional,
		Status:         subscription.StatusActive,
		ProposalsLimit: 100,
	}
	require.NoError(t, store.Upsert(ctx, rec))

	var wg sync.WaitGroup
	for i := 0; i < 150; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = store.ConsumeProposal(ctx, "user_1")
		}()
	}
	wg.Wait()

	got, err := store.Get(ctx, "user_1")
	require.NoError(t, err)
	assert.Equal(t, 100, got.ProposalsUsed)
}
