package docstore

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Memory is an in-process Store backend with the same semantics as the
// postgres backend. It backs the hermetic test suite and local
// development without a database.
type Memory struct {
	mu          sync.Mutex
	collections map[string]map[string]*Document
	listeners   []ChangeListener

	// now is swappable so tests can control server-assigned timestamps.
	now func() time.Time
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		collections: make(map[string]map[string]*Document),
		now:         func() time.Time { return time.Now().UTC() },
	}
}

func (m *Memory) AddListener(l ChangeListener) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listeners = append(m.listeners, l)
}

func (m *Memory) Close() error { return nil }

// notify runs outside the store lock so listeners may query back in.
func (m *Memory) notify(collections ...string) {
	m.mu.Lock()
	listeners := make([]ChangeListener, len(m.listeners))
	copy(listeners, m.listeners)
	m.mu.Unlock()

	for _, l := range listeners {
		for _, c := range collections {
			l.Notify(c)
		}
	}
}

func (m *Memory) Create(ctx context.Context, collection string, data map[string]interface{}) (string, error) {
	id := uuid.New().String()
	if err := m.CreateWithID(ctx, collection, id, data); err != nil {
		return "", err
	}
	return id, nil
}

func (m *Memory) CreateWithID(ctx context.Context, collection, id string, data map[string]interface{}) error {
	m.mu.Lock()
	err := m.createLocked(collection, id, data)
	m.mu.Unlock()
	if err != nil {
		return err
	}
	m.notify(collection)
	return nil
}

func (m *Memory) createLocked(collection, id string, data map[string]interface{}) error {
	docs := m.collections[collection]
	if docs == nil {
		docs = make(map[string]*Document)
		m.collections[collection] = docs
	}
	if _, exists := docs[id]; exists {
		return fmt.Errorf("document %s/%s already exists", collection, id)
	}
	now := m.now()
	docs[id] = &Document{
		Collection: collection,
		ID:         id,
		Data:       cloneData(data),
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	return nil
}

func (m *Memory) Get(ctx context.Context, collection, id string) (*Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.getLocked(collection, id)
}

// GetForUpdate behaves like Get; the store mutex already serializes
// every operation.
func (m *Memory) GetForUpdate(ctx context.Context, collection, id string) (*Document, error) {
	return m.Get(ctx, collection, id)
}

func (m *Memory) getLocked(collection, id string) (*Document, error) {
	doc, ok := m.collections[collection][id]
	if !ok {
		return nil, ErrNotFound
	}
	copied := *doc
	copied.Data = cloneData(doc.Data)
	return &copied, nil
}

func (m *Memory) Update(ctx context.Context, collection, id string, patch map[string]interface{}) error {
	m.mu.Lock()
	err := m.updateLocked(collection, id, patch)
	m.mu.Unlock()
	if err != nil {
		return err
	}
	m.notify(collection)
	return nil
}

func (m *Memory) updateLocked(collection, id string, patch map[string]interface{}) error {
	doc, ok := m.collections[collection][id]
	if !ok {
		return ErrNotFound
	}
	for k, v := range patch {
		doc.Data[k] = v
	}
	doc.UpdatedAt = m.now()
	return nil
}

func (m *Memory) Upsert(ctx context.Context, collection, id string, data map[string]interface{}) error {
	m.mu.Lock()
	if err := m.updateLocked(collection, id, data); err == ErrNotFound {
		if err := m.createLocked(collection, id, data); err != nil {
			m.mu.Unlock()
			return err
		}
	}
	m.mu.Unlock()
	m.notify(collection)
	return nil
}

func (m *Memory) Delete(ctx context.Context, collection, id string) error {
	m.mu.Lock()
	delete(m.collections[collection], id)
	m.mu.Unlock()
	m.notify(collection)
	return nil
}

func (m *Memory) Query(ctx context.Context, collection string, filters Filters, orderBy OrderBy) ([]Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.queryLocked(collection, filters, orderBy)
}

func (m *Memory) queryLocked(collection string, filters Filters, orderBy OrderBy) ([]Document, error) {
	var docs []Document
	for _, doc := range m.collections[collection] {
		if !matches(doc, filters) {
			continue
		}
		copied := *doc
		copied.Data = cloneData(doc.Data)
		docs = append(docs, copied)
	}
	sortDocs(docs, orderBy)
	return docs, nil
}

func (m *Memory) Increment(ctx context.Context, collection, id, field string, delta int64) error {
	m.mu.Lock()
	err := m.incrementLocked(collection, id, field, delta)
	m.mu.Unlock()
	if err != nil {
		return err
	}
	m.notify(collection)
	return nil
}

func (m *Memory) incrementLocked(collection, id, field string, delta int64) error {
	docs := m.collections[collection]
	if docs == nil {
		docs = make(map[string]*Document)
		m.collections[collection] = docs
	}
	doc, ok := docs[id]
	if !ok {
		now := m.now()
		doc = &Document{
			Collection: collection,
			ID:         id,
			Data:       map[string]interface{}{},
			CreatedAt:  now,
			UpdatedAt:  now,
		}
		docs[id] = doc
	}

	path := strings.Split(field, ".")
	cursor := doc.Data
	for _, segment := range path[:len(path)-1] {
		next, ok := cursor[segment].(map[string]interface{})
		if !ok {
			next = map[string]interface{}{}
			cursor[segment] = next
		}
		cursor = next
	}
	leaf := path[len(path)-1]
	cursor[leaf] = asInt64(cursor[leaf]) + delta
	doc.UpdatedAt = m.now()
	return nil
}

// InTx holds the store lock for the duration of fn, making the writes
// inside it atomic with respect to other callers. When fn returns an
// error the pre-transaction state is restored, matching the postgres
// backend's rollback. Notifications for touched collections fire once
// afterwards.
func (m *Memory) InTx(ctx context.Context, fn func(tx Store) error) error {
	m.mu.Lock()
	snapshot := m.snapshotLocked()
	txStore := &memTx{m: m, touched: make(map[string]struct{})}
	err := fn(txStore)
	if err != nil {
		m.collections = snapshot
		m.mu.Unlock()
		return err
	}
	m.mu.Unlock()

	collections := make([]string, 0, len(txStore.touched))
	for c := range txStore.touched {
		collections = append(collections, c)
	}
	m.notify(collections...)
	return nil
}

func (m *Memory) snapshotLocked() map[string]map[string]*Document {
	snap := make(map[string]map[string]*Document, len(m.collections))
	for collection, docs := range m.collections {
		copied := make(map[string]*Document, len(docs))
		for id, doc := range docs {
			clone := *doc
			clone.Data = cloneData(doc.Data)
			copied[id] = &clone
		}
		snap[collection] = copied
	}
	return snap
}

// memTx proxies to the locked helpers; the lock is held by InTx.
type memTx struct {
	m       *Memory
	touched map[string]struct{}
}

func (t *memTx) touch(collection string) { t.touched[collection] = struct{}{} }

func (t *memTx) Create(ctx context.Context, collection string, data map[string]interface{}) (string, error) {
	id := uuid.New().String()
	if err := t.m.createLocked(collection, id, data); err != nil {
		return "", err
	}
	t.touch(collection)
	return id, nil
}

func (t *memTx) CreateWithID(ctx context.Context, collection, id string, data map[string]interface{}) error {
	if err := t.m.createLocked(collection, id, data); err != nil {
		return err
	}
	t.touch(collection)
	return nil
}

func (t *memTx) Get(ctx context.Context, collection, id string) (*Document, error) {
	return t.m.getLocked(collection, id)
}

func (t *memTx) GetForUpdate(ctx context.Context, collection, id string) (*Document, error) {
	return t.m.getLocked(collection, id)
}

func (t *memTx) Update(ctx context.Context, collection, id string, patch map[string]interface{}) error {
	if err := t.m.updateLocked(collection, id, patch); err != nil {
		return err
	}
	t.touch(collection)
	return nil
}

func (t *memTx) Upsert(ctx context.Context, collection, id string, data map[string]interface{}) error {
	if err := t.m.updateLocked(collection, id, data); err == ErrNotFound {
		if err := t.m.createLocked(collection, id, data); err != nil {
			return err
		}
	}
	t.touch(collection)
	return nil
}

func (t *memTx) Delete(ctx context.Context, collection, id string) error {
	delete(t.m.collections[collection], id)
	t.touch(collection)
	return nil
}

func (t *memTx) Query(ctx context.Context, collection string, filters Filters, orderBy OrderBy) ([]Document, error) {
	return t.m.queryLocked(collection, filters, orderBy)
}

func (t *memTx) Increment(ctx context.Context, collection, id, field string, delta int64) error {
	if err := t.m.incrementLocked(collection, id, field, delta); err != nil {
		return err
	}
	t.touch(collection)
	return nil
}

func (t *memTx) InTx(ctx context.Context, fn func(tx Store) error) error {
	return fn(t)
}

func (t *memTx) AddListener(ChangeListener) {}

func (t *memTx) Close() error { return nil }

func matches(doc *Document, filters Filters) bool {
	for field, want := range filters {
		got, ok := doc.Data[field]
		if !ok {
			return false
		}
		if fmt.Sprint(got) != fmt.Sprint(want) {
			return false
		}
	}
	return true
}

func sortDocs(docs []Document, orderBy OrderBy) {
	sort.SliceStable(docs, func(i, j int) bool {
		less := docLess(&docs[i], &docs[j], orderBy.Field)
		if orderBy.Desc {
			return docLess(&docs[j], &docs[i], orderBy.Field)
		}
		return less
	})
}

func docLess(a, b *Document, field string) bool {
	switch field {
	case "", "created_at":
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
	case "updated_at":
		if !a.UpdatedAt.Equal(b.UpdatedAt) {
			return a.UpdatedAt.Before(b.UpdatedAt)
		}
	default:
		av, bv := fmt.Sprint(a.Data[field]), fmt.Sprint(b.Data[field])
		if strings.HasSuffix(field, "_at") {
			at, aerr := time.Parse(time.RFC3339Nano, av)
			bt, berr := time.Parse(time.RFC3339Nano, bv)
			if aerr == nil && berr == nil {
				if !at.Equal(bt) {
					return at.Before(bt)
				}
				return a.ID < b.ID
			}
		}
		if av != bv {
			return av < bv
		}
	}
	return a.ID < b.ID
}

func cloneData(data map[string]interface{}) map[string]interface{} {
	cloned := make(map[string]interface{}, len(data))
	for k, v := range data {
		if nested, ok := v.(map[string]interface{}); ok {
			cloned[k] = cloneData(nested)
			continue
		}
		cloned[k] = v
	}
	return cloned
}

func asInt64(v interface{}) int64 {
	switch n := v.(type) {
	case int64:
		return n
	case int:
		return int64(n)
	case float64:
		return int64(n)
	default:
		return 0
	}
}
