package docstore

import (
	"context"
	"sync"
	"time"

	"paragon-service/internal/util"

	"go.uber.org/zap"
)

// SnapshotFunc receives the full ordered result set of a subscription's
// query, re-delivered on every change to the underlying collection.
type SnapshotFunc func(docs []Document)

// ErrorFunc receives query failures on the subscription's error path.
type ErrorFunc func(err error)

// coalesceWindow batches change notifications that land close together
// into a single snapshot delivery per subscription.
const coalesceWindow = 20 * time.Millisecond

const queryTimeout = 5 * time.Second

type subscription struct {
	id         int64
	collection string
	filters    Filters
	orderBy    OrderBy
	onSnapshot SnapshotFunc
	onError    ErrorFunc
}

// Hub fans collection change notifications out to live subscriptions.
// A single delivery goroutine re-runs each affected subscription's
// query and invokes its callback with a fresh snapshot, so deliveries
// within one subscription are strictly ordered.
type Hub struct {
	store Store

	mu     sync.Mutex
	subs   map[int64]*subscription
	nextID int64
	dirty  map[int64]struct{}

	wake   chan struct{}
	quit   chan struct{}
	done   chan struct{}
	logger *zap.Logger
}

// NewHub creates a hub reading snapshots from store and starts its
// delivery loop. The hub registers itself as a store change listener.
func NewHub(store Store) *Hub {
	h := &Hub{
		store:  store,
		subs:   make(map[int64]*subscription),
		dirty:  make(map[int64]struct{}),
		wake:   make(chan struct{}, 1),
		quit:   make(chan struct{}),
		done:   make(chan struct{}),
		logger: util.NamedLogger("hub"),
	}
	store.AddListener(h)
	go h.loop()
	return h
}

// Notify marks every subscription on collection for redelivery. Safe to
// call from any goroutine, including remote change-feed consumers.
func (h *Hub) Notify(collection string) {
	h.mu.Lock()
	for id, sub := range h.subs {
		if sub.collection == collection {
			h.dirty[id] = struct{}{}
		}
	}
	pending := len(h.dirty) > 0
	h.mu.Unlock()

	if pending {
		select {
		case h.wake <- struct{}{}:
		default:
		}
	}
}

// Subscribe registers a live query. The callback fires once with the
// initial result set and again after every change to the collection.
// The returned function tears the subscription down.
func (h *Hub) Subscribe(collection string, filters Filters, orderBy OrderBy, onSnapshot SnapshotFunc, onError ErrorFunc) func() {
	h.mu.Lock()
	h.nextID++
	id := h.nextID
	h.subs[id] = &subscription{
		id:         id,
		collection: collection,
		filters:    filters,
		orderBy:    orderBy,
		onSnapshot: onSnapshot,
		onError:    onError,
	}
	h.dirty[id] = struct{}{}
	h.mu.Unlock()

	util.SubscriptionsActive.Inc()

	select {
	case h.wake <- struct{}{}:
	default:
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs, id)
			delete(h.dirty, id)
			h.mu.Unlock()
			util.SubscriptionsActive.Dec()
		})
	}
}

// Close stops the delivery loop. Registered subscriptions receive no
// further snapshots.
func (h *Hub) Close() {
	close(h.quit)
	<-h.done
}

func (h *Hub) loop() {
	defer close(h.done)
	for {
		select {
		case <-h.quit:
			return
		case <-h.wake:
		}

		// Let rapid successive writes coalesce into one delivery.
		timer := time.NewTimer(coalesceWindow)
		select {
		case <-h.quit:
			timer.Stop()
			return
		case <-timer.C:
		}

		h.deliver()
	}
}

func (h *Hub) deliver() {
	h.mu.Lock()
	batch := make([]*subscription, 0, len(h.dirty))
	for id := range h.dirty {
		if sub, ok := h.subs[id]; ok {
			batch = append(batch, sub)
		}
	}
	h.dirty = make(map[int64]struct{})
	h.mu.Unlock()

	for _, sub := range batch {
		start := time.Now()
		ctx, cancel := context.WithTimeout(context.Background(), queryTimeout)
		docs, err := h.store.Query(ctx, sub.collection, sub.filters, sub.orderBy)
		cancel()
		if err != nil {
			h.logger.Warn("Subscription query failed",
				zap.String("collection", sub.collection),
				zap.Error(err))
			if sub.onError != nil {
				sub.onError(err)
			}
			continue
		}
		sub.onSnapshot(docs)
		util.SnapshotDeliveryLatency.Observe(time.Since(start).Seconds())
	}
}
