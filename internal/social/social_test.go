package social

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"paragon-service/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRegistry(t *testing.T, handler http.Handler) *Registry {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	registry := NewRegistry(config.SocialConfig{
		EtsyBaseURL:      srv.URL,
		EtsyToken:        "etsy-token",
		InstagramBaseURL: srv.URL,
		InstagramToken:   "ig-token",
		PinterestBaseURL: srv.URL,
		PinterestToken:   "pin-token",
		ThreadsBaseURL:   srv.URL,
		ThreadsToken:     "th-token",
	})
	return registry
}

func TestDispatchRead(t *testing.T) {
	var gotPath, gotAuth string
	registry := newTestRegistry(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		_ = json.NewEncoder(w).Encode(map[string]interface{}{"count": 3})
	}))

	result, err := registry.Dispatch(context.Background(), "etsy", "listings", nil)
	require.NoError(t, err)

	assert.Equal(t, "/application/shops/me/listings/active", gotPath)
	assert.Equal(t, "Bearer etsy-token", gotAuth)
	assert.Equal(t, "etsy", result["platform"])
	assert.Equal(t, "listings", result["action"])

	inner, ok := result["result"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, float64(3), inner["count"])
}

func TestDispatchPublish(t *testing.T) {
	var gotMethod string
	var gotBody map[string]interface{}
	registry := newTestRegistry(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		_ = json.NewEncoder(w).Encode(map[string]interface{}{"id": "post-1"})
	}))

	result, err := registry.Dispatch(context.Background(), "instagram", "publish",
		map[string]interface{}{"caption": "new drop"})
	require.NoError(t, err)

	assert.Equal(t, http.MethodPost, gotMethod)
	assert.Equal(t, "new drop", gotBody["caption"])
	assert.Equal(t, "instagram", result["platform"])
}

func TestDispatchUnknownPlatform(t *testing.T) {
	registry := newTestRegistry(t, http.NotFoundHandler())

	_, err := registry.Dispatch(context.Background(), "myspace", "stats", nil)
	assert.ErrorIs(t, err, ErrUnknownPlatform)
}

func TestDispatchUnknownAction(t *testing.T) {
	registry := newTestRegistry(t, http.NotFoundHandler())

	_, err := registry.Dispatch(context.Background(), "pinterest", "delete-everything", nil)
	assert.ErrorIs(t, err, ErrUnknownAction)

	// Read actions are not publishable and vice versa.
	_, err = registry.Dispatch(context.Background(), "pinterest", "stats",
		map[string]interface{}{"x": 1})
	assert.ErrorIs(t, err, ErrUnknownAction)
}

func TestDispatchUpstreamError(t *testing.T) {
	registry := newTestRegistry(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "rate limited", http.StatusTooManyRequests)
	}))

	_, err := registry.Dispatch(context.Background(), "threads", "posts", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "429")
}

func TestOverrideBaseURLUnknownPlatform(t *testing.T) {
	registry := newTestRegistry(t, http.NotFoundHandler())

	err := registry.OverrideBaseURL("myspace", "http://localhost:1")
	assert.ErrorIs(t, err, ErrUnknownPlatform)
}
