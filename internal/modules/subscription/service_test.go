package subscription

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/scribe/backend/internal/shared/docstore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// brokenStore fails every operation
type brokenStore struct {
	docstore.Store
}

var errStoreDown = errors.New("store unavailable")

func (brokenStore) Create(context.Context, string, any) (*docstore.Document, bool, error) {
	return nil, false, errStoreDown
}

type changeRecorder struct {
	calls []string
}

func (r *changeRecorder) RecordSubscriptionChange(tier string, active bool) {
	r.calls = append(r.calls, tier)
}

func newTestService() (*Service, *docstore.MemoryStore) {
	store := docstore.NewMemoryStore()
	return NewService(store, nil, zap.NewNop()), store
}

func TestGetTierCreatesDefaultOnFirstLookup(t *testing.T) {
	ctx := context.Background()
	svc, store := newTestService()

	sub := svc.GetTier(ctx, "user_1")
	assert.Equal(t, TierFree, sub.Tier)
	assert.True(t, sub.IsActive)
	assert.False(t, sub.CreatedAt.IsZero())

	doc, err := store.Get(ctx, "subscriptions/user_1")
	require.NoError(t, err)
	assert.Equal(t, "free", doc.Data["tier"])
	assert.Equal(t, true, doc.Data["is_active"])
}

func TestGetTierReturnsStoredRecord(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService()

	require.NoError(t, svc.UpdateTier(ctx, "user_1", TierPro, true))

	sub := svc.GetTier(ctx, "user_1")
	assert.Equal(t, TierPro, sub.Tier)
	assert.Equal(t, TierPro, sub.EffectiveTier())
	assert.True(t, svc.IsPro(ctx, "user_1"))
}

func TestGetTierDoesNotOverwriteExisting(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService()

	require.NoError(t, svc.UpdateTier(ctx, "user_1", TierPro, true))
	svc.GetTier(ctx, "user_1")
	svc.GetTier(ctx, "user_1")

	assert.Equal(t, TierPro, svc.GetTier(ctx, "user_1").Tier)
}

func TestGetTierFailsSafeToFree(t *testing.T) {
	svc := NewService(brokenStore{}, nil, zap.NewNop())

	sub := svc.GetTier(context.Background(), "user_1")
	assert.Equal(t, TierFree, sub.Tier)
	assert.True(t, sub.IsActive)
	assert.Equal(t, "user_1", sub.UserID)
}

func TestGetTierRejectsPathLikeUserID(t *testing.T) {
	ctx := context.Background()
	svc, store := newTestService()

	sub := svc.GetTier(ctx, "a/b")
	assert.Equal(t, TierFree, sub.Tier)

	docs, err := store.ListPrefix(ctx, "subscriptions/")
	require.NoError(t, err)
	assert.Empty(t, docs)
}

func TestGetTierUnknownStoredTierIsFree(t *testing.T) {
	ctx := context.Background()
	svc, store := newTestService()

	require.NoError(t, store.Set(ctx, "subscriptions/user_1", map[string]any{"tier": "enterprise", "is_active": true}))

	assert.Equal(t, TierFree, svc.GetTier(ctx, "user_1").Tier)
}

func TestEffectiveTier(t *testing.T) {
	tests := []struct {
		name string
		sub  Subscription
		want Tier
	}{
		{"active pro", Subscription{Tier: TierPro, IsActive: true}, TierPro},
		{"inactive pro", Subscription{Tier: TierPro, IsActive: false}, TierFree},
		{"active free", Subscription{Tier: TierFree, IsActive: true}, TierFree},
		{"inactive free", Subscription{Tier: TierFree}, TierFree},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.sub.EffectiveTier())
		})
	}
}

func TestUpdateTier(t *testing.T) {
	ctx := context.Background()
	store := docstore.NewMemoryStore()
	rec := &changeRecorder{}
	svc := NewService(store, rec, zap.NewNop())

	require.NoError(t, svc.UpdateTier(ctx, "user_1", TierPro, false))
	assert.False(t, svc.IsPro(ctx, "user_1"))
	assert.Equal(t, []string{"pro"}, rec.calls)

	assert.Error(t, svc.UpdateTier(ctx, "user_1", Tier("basic"), true))
	assert.Error(t, svc.UpdateTier(ctx, "", TierPro, true))
}

func TestUpdateBillingIndexesCustomer(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService()
	end := time.Date(2026, 11, 1, 0, 0, 0, 0, time.UTC)

	require.NoError(t, svc.UpdateBilling(ctx, "user_1", Billing{
		CustomerID:       "cus_123",
		SubscriptionID:   "sub_456",
		CurrentPeriodEnd: &end,
	}))

	userID, err := svc.UserIDForCustomer(ctx, "cus_123")
	require.NoError(t, err)
	assert.Equal(t, "user_1", userID)

	sub := svc.GetTier(ctx, "user_1")
	assert.Equal(t, "cus_123", sub.StripeCustomerID)
	assert.Equal(t, "sub_456", sub.StripeSubscriptionID)
	require.NotNil(t, sub.CurrentPeriodEnd)
	assert.True(t, end.Equal(*sub.CurrentPeriodEnd))

	_, err = svc.UserIDForCustomer(ctx, "cus_missing")
	assert.ErrorIs(t, err, docstore.ErrNotFound)
}

func TestBackfillDefaults(t *testing.T) {
	ctx := context.Background()
	svc, store := newTestService()

	require.NoError(t, store.Set(ctx, "uploads/user_1/audio_files/a", map[string]any{}))
	require.NoError(t, store.Set(ctx, "uploads/user_1/video_files/b", map[string]any{}))
	require.NoError(t, store.Set(ctx, "uploads/user_2/audio_files/c", map[string]any{}))
	require.NoError(t, svc.UpdateTier(ctx, "user_2", TierPro, true))

	result, err := svc.BackfillDefaults(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, result.UsersSeen)
	assert.Equal(t, 1, result.Created)

	assert.Equal(t, TierPro, svc.GetTier(ctx, "user_2").Tier, "existing records are left alone")
	_, err = store.Get(ctx, "subscriptions/user_1")
	assert.NoError(t, err)
}
