package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"paragon-service/internal/docstore"
)

var errStoreUnavailable = errors.New("store unavailable")

func newTestStore(t *testing.T) (*docstore.Memory, *docstore.Hub) {
	t.Helper()
	store := docstore.NewMemory()
	hub := docstore.NewHub(store)
	t.Cleanup(hub.Close)
	return store, hub
}

// queryFailStore wraps a working store and fails every query against
// one collection, for exercising degraded-store paths.
type queryFailStore struct {
	docstore.Store
	collection string
}

func (s *queryFailStore) Query(ctx context.Context, collection string, filters docstore.Filters, orderBy docstore.OrderBy) ([]docstore.Document, error) {
	if collection == s.collection {
		return nil, errStoreUnavailable
	}
	return s.Store.Query(ctx, collection, filters, orderBy)
}

// fakeLocker mirrors the redis SetNX lock for hermetic tests.
type fakeLocker struct {
	mu   sync.Mutex
	held map[string]bool
}

func newFakeLocker() *fakeLocker {
	return &fakeLocker{held: make(map[string]bool)}
}

func (l *fakeLocker) AcquireLock(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held[key] {
		return false, nil
	}
	l.held[key] = true
	return true, nil
}

func (l *fakeLocker) ReleaseLock(ctx context.Context, key string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.held, key)
	return nil
}
