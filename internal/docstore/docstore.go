package docstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// ErrNotFound is returned when a referenced document does not exist.
var ErrNotFound = errors.New("document not found")

// Document is a single persisted record in a named collection.
type Document struct {
	Collection string                 `json:"collection"`
	ID         string                 `json:"id"`
	Data       map[string]interface{} `json:"data"`
	CreatedAt  time.Time              `json:"created_at"`
	UpdatedAt  time.Time              `json:"updated_at"`
}

// Decode unmarshals the document payload into a typed value.
func (d *Document) Decode(v interface{}) error {
	raw, err := json.Marshal(d.Data)
	if err != nil {
		return fmt.Errorf("failed to marshal document data: %w", err)
	}
	return json.Unmarshal(raw, v)
}

// ToData converts a typed value into a document payload via a JSON
// round trip, so both store backends see the same representation.
func ToData(v interface{}) (map[string]interface{}, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal value: %w", err)
	}
	var data map[string]interface{}
	if err := json.Unmarshal(raw, &data); err != nil {
		return nil, fmt.Errorf("failed to unmarshal value into data: %w", err)
	}
	return data, nil
}

// Filters holds equality constraints on top-level data fields.
type Filters map[string]interface{}

// OrderBy names a single sort field. created_at and updated_at sort on
// the server-assigned columns; other fields sort on the payload, with
// fields carrying an _at suffix compared as timestamps rather than as
// strings (RFC3339 values with mixed fractional precision do not sort
// lexicographically).
type OrderBy struct {
	Field string
	Desc  bool
}

// ChangeListener receives collection-level change notifications after
// every successful write.
type ChangeListener interface {
	Notify(collection string)
}

// Store is the generic document store consumed by all services. The
// postgres backend is authoritative in production; the memory backend
// serves tests and local development.
type Store interface {
	Create(ctx context.Context, collection string, data map[string]interface{}) (string, error)
	CreateWithID(ctx context.Context, collection, id string, data map[string]interface{}) error
	Get(ctx context.Context, collection, id string) (*Document, error)

	// GetForUpdate reads a document that the caller is about to modify.
	// Inside InTx on the postgres backend the row stays locked until the
	// transaction ends, so concurrent writers serialize against the
	// read; elsewhere it behaves like Get.
	GetForUpdate(ctx context.Context, collection, id string) (*Document, error)
	Update(ctx context.Context, collection, id string, patch map[string]interface{}) error
	Upsert(ctx context.Context, collection, id string, data map[string]interface{}) error
	Delete(ctx context.Context, collection, id string) error
	Query(ctx context.Context, collection string, filters Filters, orderBy OrderBy) ([]Document, error)
	Increment(ctx context.Context, collection, id, field string, delta int64) error

	// InTx runs fn against a transactional view of the store. Writes
	// inside fn become visible atomically and none survive when fn
	// returns an error; change notifications fire once after commit.
	InTx(ctx context.Context, fn func(tx Store) error) error

	AddListener(l ChangeListener)
	Close() error
}
