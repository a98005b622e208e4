package postgres

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pitchly/pitchly/pkg/subscription"
)

// Integration tests run only when a database is available, e.g.
// PITCHLY_TEST_POSTGRES_DSN=postgres://localhost:5432/pitchly_test go test ./storage/postgres/
func newTestStore(t *testing.T) *Store {
	t.Helper()
	dsn := os.Getenv("PITCHLY_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("PITCHLY_TEST_POSTGRES_DSN not set")
	}

	ctx := context.Background()
	cfg := DefaultConfig()
	cfg.ConnectionString = dsn

	store, err := New(ctx, cfg)
	require.NoError(t, err)
	require.NoError(t, store.EnsureSchema(ctx))
	t.Cleanup(store.Close)
	return store
}

func TestStore_UpsertAndGet(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	userID := "user_" + uuid.NewString()
	customerID := "cus_" + uuid.NewString()

	rec := &subscription.Record{
		UserID:                 userID,
		Tier:                   subscription.TierProfessional,
		Status:                 subscription.StatusActive,
		ExternalCustomerID:     customerID,
		ExternalSubscriptionID: "sub_1",
		ProposalsLimit:         100,
		ProposalsUsed:          5,
		CurrentPeriodStart:     time.Now().UTC().Truncate(time.Second),
		CurrentPeriodEnd:       time.Now().UTC().Add(30 * 24 * time.Hour).Truncate(time.Second),
	}
	require.NoError(t, store.Upsert(ctx, rec))

	got, err := store.Get(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, subscription.TierProfessional, got.Tier)
	assert.Equal(t, 5, got.ProposalsUsed)
	assert.Equal(t, rec.CurrentPeriodStart, got.CurrentPeriodStart.UTC())
	assert.False(t, got.UpdatedAt.IsZero())

	byCustomer, err := store.GetByCustomerID(ctx, customerID)
	require.NoError(t, err)
	assert.Equal(t, userID, byCustomer.UserID)
}

func TestStore_GetNotFound(t *testing.T) {
	store := newTestStore(t)

	_, err := store.Get(context.Background(), "user_"+uuid.NewString())
	assert.ErrorIs(t, err, subscription.ErrRecordNotFound)

	_, err = store.GetByCustomerID(context.Background(), "cus_"+uuid.NewString())
	assert.ErrorIs(t, err, subscription.ErrRecordNotFound)
}

func TestStore_ConsumeProposal_CreatesFreeRecord(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	userID := "user_" + uuid.NewString()

	rec, err := store.ConsumeProposal(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, subscription.TierFree, rec.Tier)
	assert.Equal(t, 1, rec.ProposalsUsed)
}

func TestStore_ConsumeProposal_EnforcesLimit(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	userID := "user_" + uuid.NewString()

	for i := 0; i < subscription.FreeProposalsLimit; i++ {
		_, err := store.ConsumeProposal(ctx, userID)
		require.NoError(t, err)
	}

	_, err := store.ConsumeProposal(ctx, userID)
	assert.ErrorIs(t, err, subscription.ErrQuotaExceeded)
}

func TestStore_ConsumeProposal_NonActiveCollapsesToFree(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	userID := "user_" + uuid.NewString()

	require.NoError(t, store.Upsert(ctx, &subscription.Record{
		UserID:         userID,
		Tier:           subscription.TierAgency,
		Status:         subscription.StatusCancelled,
		ProposalsLimit: subscription.UnlimitedProposals,
	}))

	for i := 0; i < subscription.FreeProposalsLimit; i++ {
		_, err := store.ConsumeProposal(ctx, userID)
		require.NoError(t, err)
	}

	_, err := store.ConsumeProposal(ctx, userID)
	assert.ErrorIs(t, err, subscription.ErrQuotaExceeded)
}

func TestStore_ConsumeProposal_Unlimited(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	userID := "user_" + uuid.NewString()

	require.NoError(t, store.Upsert(ctx, &subscription.Record{
		UserID:         userID,
		Tier:           subscription.TierAgency,
		Status:         subscription.StatusActive,
		ProposalsLimit: subscription.UnlimitedProposals,
	}))

	for i := 0; i < 50; i++ {
		_, err := store.ConsumeProposal(ctx, userID)
		require.NoError(t, err)
	}

	rec, err := store.Get(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, 50, rec.ProposalsUsed)
}
