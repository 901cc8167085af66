package docstore

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestHub(t *testing.T) (*Memory, *Hub) {
	t.Helper()
	store := NewMemory()
	hub := NewHub(store)
	t.Cleanup(hub.Close)
	return store, hub
}

func waitSnapshot(t *testing.T, ch <-chan []Document) []Document {
	t.Helper()
	select {
	case docs := <-ch:
		return docs
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for snapshot")
		return nil
	}
}

func TestHubDeliversInitialSnapshot(t *testing.T) {
	store, hub := newTestHub(t)
	ctx := context.Background()

	require.NoError(t, store.CreateWithID(ctx, "products", "prod-1", map[string]interface{}{"name": "a"}))

	snapshots := make(chan []Document, 16)
	unsub := hub.Subscribe("products", nil, OrderBy{Field: "created_at"},
		func(docs []Document) { snapshots <- docs }, nil)
	defer unsub()

	docs := waitSnapshot(t, snapshots)
	require.Len(t, docs, 1)
	assert.Equal(t, "prod-1", docs[0].ID)
}

func TestHubRedeliversOnChange(t *testing.T) {
	store, hub := newTestHub(t)
	ctx := context.Background()

	snapshots := make(chan []Document, 16)
	unsub := hub.Subscribe("products", nil, OrderBy{Field: "created_at"},
		func(docs []Document) { snapshots <- docs }, nil)
	defer unsub()

	assert.Empty(t, waitSnapshot(t, snapshots))

	require.NoError(t, store.CreateWithID(ctx, "products", "prod-1", map[string]interface{}{"name": "a"}))

	// Coalescing may fold deliveries together, but the new product must
	// arrive eventually.
	deadline := time.After(2 * time.Second)
	for {
		select {
		case docs := <-snapshots:
			if len(docs) == 1 && docs[0].ID == "prod-1" {
				return
			}
		case <-deadline:
			t.Fatal("subscriber never saw the new product")
		}
	}
}

func TestHubSnapshotsAreMonotonic(t *testing.T) {
	store, hub := newTestHub(t)
	ctx := context.Background()

	snapshots := make(chan []Document, 64)
	unsub := hub.Subscribe("messages", Filters{"ticket_id": "tkt-1"}, OrderBy{Field: "created_at"},
		func(docs []Document) { snapshots <- docs }, nil)
	defer unsub()

	for i := 0; i < 5; i++ {
		id := string(rune('a' + i))
		require.NoError(t, store.CreateWithID(ctx, "messages", id, map[string]interface{}{"ticket_id": "tkt-1"}))
	}

	// Each delivered snapshot must be at least as long as the previous
	// one and ordered by creation, with the final one holding all five.
	var prevLen int
	deadline := time.After(2 * time.Second)
	for {
		select {
		case docs := <-snapshots:
			require.GreaterOrEqual(t, len(docs), prevLen)
			for i := 1; i < len(docs); i++ {
				assert.False(t, docs[i].CreatedAt.Before(docs[i-1].CreatedAt))
			}
			prevLen = len(docs)
			if len(docs) == 5 {
				return
			}
		case <-deadline:
			t.Fatalf("subscriber stalled at %d of 5 messages", prevLen)
		}
	}
}

func TestHubFiltersSubscription(t *testing.T) {
	store, hub := newTestHub(t)
	ctx := context.Background()

	snapshots := make(chan []Document, 16)
	unsub := hub.Subscribe("tickets", Filters{"user_id": "u1"}, OrderBy{Field: "created_at"},
		func(docs []Document) { snapshots <- docs }, nil)
	defer unsub()

	assert.Empty(t, waitSnapshot(t, snapshots))

	require.NoError(t, store.CreateWithID(ctx, "tickets", "mine", map[string]interface{}{"user_id": "u1"}))
	require.NoError(t, store.CreateWithID(ctx, "tickets", "theirs", map[string]interface{}{"user_id": "u2"}))

	deadline := time.After(2 * time.Second)
	for {
		select {
		case docs := <-snapshots:
			for _, doc := range docs {
				assert.Equal(t, "u1", doc.Data["user_id"])
			}
			if len(docs) == 1 {
				return
			}
		case <-deadline:
			t.Fatal("subscriber never saw the filtered ticket")
		}
	}
}

func TestHubUnsubscribeStopsDelivery(t *testing.T) {
	store, hub := newTestHub(t)
	ctx := context.Background()

	snapshots := make(chan []Document, 16)
	unsub := hub.Subscribe("products", nil, OrderBy{Field: "created_at"},
		func(docs []Document) { snapshots <- docs }, nil)

	waitSnapshot(t, snapshots)
	unsub()
	unsub() // safe to call twice

	require.NoError(t, store.CreateWithID(ctx, "products", "prod-1", map[string]interface{}{"name": "a"}))

	select {
	case docs := <-snapshots:
		t.Fatalf("received snapshot after unsubscribe: %v", docs)
	case <-time.After(150 * time.Millisecond):
	}
}
