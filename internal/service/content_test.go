package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"paragon-service/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeCache is an in-process stand-in for the redis content cache.
type fakeCache struct {
	mu           sync.Mutex
	entries      map[string]string
	sets         int
	invalidates  int
	failingReads bool
}

func newFakeCache() *fakeCache {
	return &fakeCache{entries: make(map[string]string)}
}

func (c *fakeCache) CacheGet(ctx context.Context, key string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failingReads {
		return "", assert.AnError
	}
	return c.entries[key], nil
}

func (c *fakeCache) CacheSet(ctx context.Context, key, value string, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = value
	c.sets++
	return nil
}

func (c *fakeCache) CacheInvalidate(ctx context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
	c.invalidates++
	return nil
}

func TestContentDefaultsWhenUnwritten(t *testing.T) {
	store, _ := newTestStore(t)
	svc := NewContentService(store, nil)
	ctx := context.Background()

	announcement, err := svc.Announcement(ctx)
	require.NoError(t, err)
	assert.False(t, announcement.Enabled)
	assert.NotEmpty(t, announcement.Text)

	urls, err := svc.SocialMediaURLs(ctx)
	require.NoError(t, err)
	assert.NotEmpty(t, urls.Etsy)
	assert.NotEmpty(t, urls.Instagram)

	rules, err := svc.CompanyRules(ctx)
	require.NoError(t, err)
	assert.NotEmpty(t, rules.Rules)

	about, err := svc.About(ctx)
	require.NoError(t, err)
	assert.NotEmpty(t, about.Title)
}

func TestAboutRoundTripPreservesShape(t *testing.T) {
	store, _ := newTestStore(t)
	svc := NewContentService(store, nil)
	ctx := context.Background()

	in := &models.AboutContent{
		Title: "About ParagonDXB",
		Story: []string{
			"We started in a one-room studio.",
			"Then we moved to the marina.",
			"Now we ship worldwide.",
		},
		Values: []string{"Craftsmanship", "Honesty", "Speed", "Warmth"},
	}
	require.NoError(t, svc.SaveAbout(ctx, in))

	out, err := svc.About(ctx)
	require.NoError(t, err)
	assert.Equal(t, in.Title, out.Title)
	assert.Equal(t, in.Story, out.Story)
	assert.Equal(t, in.Values, out.Values)
}

func TestAnnouncementRoundTrip(t *testing.T) {
	store, _ := newTestStore(t)
	svc := NewContentService(store, nil)
	ctx := context.Background()

	require.NoError(t, svc.SaveAnnouncement(ctx, &models.Announcement{
		Text:    "Eid sale, 20% off",
		Enabled: true,
	}))

	got, err := svc.Announcement(ctx)
	require.NoError(t, err)
	assert.True(t, got.Enabled)
	assert.Equal(t, "Eid sale, 20% off", got.Text)
}

func TestContentCacheBackfillAndInvalidation(t *testing.T) {
	store, _ := newTestStore(t)
	cache := newFakeCache()
	svc := NewContentService(store, cache)
	ctx := context.Background()

	require.NoError(t, svc.SaveCompanyRules(ctx, &models.CompanyRules{
		Rules: []string{"No refunds on custom orders."},
	}))
	assert.Equal(t, 1, cache.invalidates)

	// First read backfills the cache, second read is served from it.
	_, err := svc.CompanyRules(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, cache.sets)

	got, err := svc.CompanyRules(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"No refunds on custom orders."}, got.Rules)
	assert.Equal(t, 1, cache.sets)

	// A write drops the cached entry so the next read sees fresh data.
	require.NoError(t, svc.SaveCompanyRules(ctx, &models.CompanyRules{
		Rules: []string{"Store credit only."},
	}))
	got, err = svc.CompanyRules(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"Store credit only."}, got.Rules)
}

func TestContentCacheFailureFallsBackToStore(t *testing.T) {
	store, _ := newTestStore(t)
	cache := newFakeCache()
	cache.failingReads = true
	svc := NewContentService(store, cache)
	ctx := context.Background()

	require.NoError(t, svc.SaveAnnouncement(ctx, &models.Announcement{Text: "hi", Enabled: true}))

	got, err := svc.Announcement(ctx)
	require.NoError(t, err)
	assert.Equal(t, "hi", got.Text)
}
