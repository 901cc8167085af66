package service

import (
	"context"
	"sync"
	"testing"

	"paragon-service/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSnapshotOfUnwrittenCounters(t *testing.T) {
	store, _ := newTestStore(t)
	svc := NewAnalyticsService(store)

	snapshot, err := svc.Snapshot(context.Background())
	require.NoError(t, err)
	assert.Empty(t, snapshot.PageViews)
	assert.Empty(t, snapshot.ProductViews)
}

func TestRecordPageView(t *testing.T) {
	store, _ := newTestStore(t)
	svc := NewAnalyticsService(store)
	ctx := context.Background()

	svc.RecordPageView(ctx, "home")
	svc.RecordPageView(ctx, "home")
	svc.RecordPageView(ctx, "shop")
	svc.RecordPageView(ctx, "")

	snapshot, err := svc.Snapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), snapshot.PageViews["home"])
	assert.Equal(t, int64(1), snapshot.PageViews["shop"])
	assert.Len(t, snapshot.PageViews, 2)
}

func TestRecordPageViewSanitizesDots(t *testing.T) {
	store, _ := newTestStore(t)
	svc := NewAnalyticsService(store)
	ctx := context.Background()

	svc.RecordPageView(ctx, "shop.featured")

	snapshot, err := svc.Snapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), snapshot.PageViews["shop_featured"])
}

func TestRecordProductViewTracksNames(t *testing.T) {
	store, _ := newTestStore(t)
	svc := NewAnalyticsService(store)
	ctx := context.Background()

	svc.RecordProductView(ctx, "prod-1", "Brass Lamp")
	svc.RecordProductView(ctx, "prod-1", "Brass Lamp")

	snapshot, err := svc.Snapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), snapshot.ProductViews["prod-1"])

	names, err := store.Get(ctx, models.CollectionCounters, productNamesID)
	require.NoError(t, err)
	assert.Equal(t, "Brass Lamp", names.Data["prod-1"])
}

func TestConcurrentProductViews(t *testing.T) {
	store, _ := newTestStore(t)
	svc := NewAnalyticsService(store)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			svc.RecordProductView(ctx, "prod-1", "Brass Lamp")
		}()
	}
	wg.Wait()

	snapshot, err := svc.Snapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(50), snapshot.ProductViews["prod-1"])
}
