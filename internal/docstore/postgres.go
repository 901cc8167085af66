package docstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

// Postgres is the production Store backend. Documents live in a single
// jsonb table keyed by (collection, id); createdAt/updatedAt are
// server-assigned columns.
type Postgres struct {
	db *sqlx.DB

	mu        sync.RWMutex
	listeners []ChangeListener
}

// NewPostgres connects to the database and verifies the connection.
func NewPostgres(databaseURL string) (*Postgres, error) {
	db, err := sqlx.Connect("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Postgres{db: db}, nil
}

// Close closes the database connection.
func (p *Postgres) Close() error {
	return p.db.Close()
}

// AddListener registers a change listener invoked after every write.
func (p *Postgres) AddListener(l ChangeListener) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.listeners = append(p.listeners, l)
}

func (p *Postgres) notify(collection string) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	for _, l := range p.listeners {
		l.Notify(collection)
	}
}

type docRow struct {
	Collection string    `db:"collection"`
	ID         string    `db:"id"`
	Data       []byte    `db:"data"`
	CreatedAt  time.Time `db:"created_at"`
	UpdatedAt  time.Time `db:"updated_at"`
}

func (r *docRow) toDocument() (Document, error) {
	doc := Document{
		Collection: r.Collection,
		ID:         r.ID,
		CreatedAt:  r.CreatedAt,
		UpdatedAt:  r.UpdatedAt,
	}
	if err := json.Unmarshal(r.Data, &doc.Data); err != nil {
		return doc, fmt.Errorf("failed to decode document %s/%s: %w", r.Collection, r.ID, err)
	}
	return doc, nil
}

func (p *Postgres) Create(ctx context.Context, collection string, data map[string]interface{}) (string, error) {
	id := uuid.New().String()
	if err := p.CreateWithID(ctx, collection, id, data); err != nil {
		return "", err
	}
	return id, nil
}

func (p *Postgres) CreateWithID(ctx context.Context, collection, id string, data map[string]interface{}) error {
	if err := createDoc(ctx, p.db, collection, id, data); err != nil {
		return err
	}
	p.notify(collection)
	return nil
}

func (p *Postgres) Get(ctx context.Context, collection, id string) (*Document, error) {
	return getDoc(ctx, p.db, collection, id)
}

// GetForUpdate outside a transaction is a plain read; row locks are
// transaction scoped.
func (p *Postgres) GetForUpdate(ctx context.Context, collection, id string) (*Document, error) {
	return getDoc(ctx, p.db, collection, id)
}

func (p *Postgres) Update(ctx context.Context, collection, id string, patch map[string]interface{}) error {
	if err := updateDoc(ctx, p.db, collection, id, patch); err != nil {
		return err
	}
	p.notify(collection)
	return nil
}

func (p *Postgres) Upsert(ctx context.Context, collection, id string, data map[string]interface{}) error {
	if err := upsertDoc(ctx, p.db, collection, id, data); err != nil {
		return err
	}
	p.notify(collection)
	return nil
}

func (p *Postgres) Delete(ctx context.Context, collection, id string) error {
	if err := deleteDoc(ctx, p.db, collection, id); err != nil {
		return err
	}
	p.notify(collection)
	return nil
}

func (p *Postgres) Query(ctx context.Context, collection string, filters Filters, orderBy OrderBy) ([]Document, error) {
	return queryDocs(ctx, p.db, collection, filters, orderBy)
}

func (p *Postgres) Increment(ctx context.Context, collection, id, field string, delta int64) error {
	if err := incrementDoc(ctx, p.db, collection, id, field, delta); err != nil {
		return err
	}
	p.notify(collection)
	return nil
}

// InTx runs fn inside a single database transaction. Change
// notifications for touched collections fire once after commit.
func (p *Postgres) InTx(ctx context.Context, fn func(tx Store) error) error {
	tx, err := p.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	txStore := &pgTx{tx: tx, touched: make(map[string]struct{})}
	if err := fn(txStore); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	for collection := range txStore.touched {
		p.notify(collection)
	}
	return nil
}

// pgTx is the transactional view handed to InTx callbacks.
type pgTx struct {
	tx      *sqlx.Tx
	touched map[string]struct{}
}

func (t *pgTx) touch(collection string) {
	t.touched[collection] = struct{}{}
}

func (t *pgTx) Create(ctx context.Context, collection string, data map[string]interface{}) (string, error) {
	id := uuid.New().String()
	if err := t.CreateWithID(ctx, collection, id, data); err != nil {
		return "", err
	}
	return id, nil
}

func (t *pgTx) CreateWithID(ctx context.Context, collection, id string, data map[string]interface{}) error {
	if err := createDoc(ctx, t.tx, collection, id, data); err != nil {
		return err
	}
	t.touch(collection)
	return nil
}

func (t *pgTx) Get(ctx context.Context, collection, id string) (*Document, error) {
	return getDoc(ctx, t.tx, collection, id)
}

// GetForUpdate locks the row until the transaction ends, so concurrent
// status flips wait for the commit instead of slipping in between the
// read and the writes that depend on it.
func (t *pgTx) GetForUpdate(ctx context.Context, collection, id string) (*Document, error) {
	return getDocLocked(ctx, t.tx, collection, id)
}

func (t *pgTx) Update(ctx context.Context, collection, id string, patch map[string]interface{}) error {
	if err := updateDoc(ctx, t.tx, collection, id, patch); err != nil {
		return err
	}
	t.touch(collection)
	return nil
}

func (t *pgTx) Upsert(ctx context.Context, collection, id string, data map[string]interface{}) error {
	if err := upsertDoc(ctx, t.tx, collection, id, data); err != nil {
		return err
	}
	t.touch(collection)
	return nil
}

func (t *pgTx) Delete(ctx context.Context, collection, id string) error {
	if err := deleteDoc(ctx, t.tx, collection, id); err != nil {
		return err
	}
	t.touch(collection)
	return nil
}

func (t *pgTx) Query(ctx context.Context, collection string, filters Filters, orderBy OrderBy) ([]Document, error) {
	return queryDocs(ctx, t.tx, collection, filters, orderBy)
}

func (t *pgTx) Increment(ctx context.Context, collection, id, field string, delta int64) error {
	if err := incrementDoc(ctx, t.tx, collection, id, field, delta); err != nil {
		return err
	}
	t.touch(collection)
	return nil
}

func (t *pgTx) InTx(ctx context.Context, fn func(tx Store) error) error {
	// Already inside a transaction.
	return fn(t)
}

func (t *pgTx) AddListener(ChangeListener) {}

func (t *pgTx) Close() error { return nil }

// Shared query helpers operating on either *sqlx.DB or *sqlx.Tx.

func createDoc(ctx context.Context, e sqlx.ExtContext, collection, id string, data map[string]interface{}) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("failed to marshal document data: %w", err)
	}

	_, err = e.ExecContext(ctx,
		`INSERT INTO documents (collection, id, data, created_at, updated_at)
		 VALUES ($1, $2, $3::jsonb, NOW(), NOW())`,
		collection, id, raw)
	if err != nil {
		return fmt.Errorf("failed to create document %s/%s: %w", collection, id, err)
	}
	return nil
}

func getDoc(ctx context.Context, e sqlx.ExtContext, collection, id string) (*Document, error) {
	return selectDoc(ctx, e, collection, id, "")
}

func getDocLocked(ctx context.Context, e sqlx.ExtContext, collection, id string) (*Document, error) {
	return selectDoc(ctx, e, collection, id, " FOR UPDATE")
}

func selectDoc(ctx context.Context, e sqlx.ExtContext, collection, id, locking string) (*Document, error) {
	var row docRow
	err := sqlx.GetContext(ctx, e, &row,
		"SELECT * FROM documents WHERE collection = $1 AND id = $2"+locking, collection, id)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	doc, err := row.toDocument()
	if err != nil {
		return nil, err
	}
	return &doc, nil
}

func updateDoc(ctx context.Context, e sqlx.ExtContext, collection, id string, patch map[string]interface{}) error {
	raw, err := json.Marshal(patch)
	if err != nil {
		return fmt.Errorf("failed to marshal patch: %w", err)
	}

	res, err := e.ExecContext(ctx,
		`UPDATE documents SET data = data || $3::jsonb, updated_at = NOW()
		 WHERE collection = $1 AND id = $2`,
		collection, id, raw)
	if err != nil {
		return fmt.Errorf("failed to update document %s/%s: %w", collection, id, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

func upsertDoc(ctx context.Context, e sqlx.ExtContext, collection, id string, data map[string]interface{}) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("failed to marshal document data: %w", err)
	}

	_, err = e.ExecContext(ctx,
		`INSERT INTO documents (collection, id, data, created_at, updated_at)
		 VALUES ($1, $2, $3::jsonb, NOW(), NOW())
		 ON CONFLICT (collection, id) DO UPDATE
		 SET data = documents.data || EXCLUDED.data, updated_at = NOW()`,
		collection, id, raw)
	if err != nil {
		return fmt.Errorf("failed to upsert document %s/%s: %w", collection, id, err)
	}
	return nil
}

func deleteDoc(ctx context.Context, e sqlx.ExtContext, collection, id string) error {
	_, err := e.ExecContext(ctx,
		"DELETE FROM documents WHERE collection = $1 AND id = $2", collection, id)
	if err != nil {
		return fmt.Errorf("failed to delete document %s/%s: %w", collection, id, err)
	}
	return nil
}

func queryDocs(ctx context.Context, e sqlx.ExtContext, collection string, filters Filters, orderBy OrderBy) ([]Document, error) {
	query := "SELECT * FROM documents WHERE collection = $1"
	args := []interface{}{collection}

	for field, value := range filters {
		args = append(args, fmt.Sprint(value))
		query += fmt.Sprintf(" AND data->>'%s' = $%d", field, len(args))
	}

	query += " ORDER BY " + orderExpr(orderBy)

	var rows []docRow
	if err := sqlx.SelectContext(ctx, e, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("failed to query collection %s: %w", collection, err)
	}

	docs := make([]Document, 0, len(rows))
	for i := range rows {
		doc, err := rows[i].toDocument()
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	return docs, nil
}

func orderExpr(orderBy OrderBy) string {
	dir := "ASC"
	if orderBy.Desc {
		dir = "DESC"
	}
	switch orderBy.Field {
	case "", "created_at":
		return "created_at " + dir + ", id " + dir
	case "updated_at":
		return "updated_at " + dir + ", id " + dir
	default:
		expr := fmt.Sprintf("data->>'%s'", orderBy.Field)
		if strings.HasSuffix(orderBy.Field, "_at") {
			// RFC3339 strings with mixed fractional precision do not
			// sort lexicographically; compare as timestamps.
			expr = "(" + expr + ")::timestamptz"
		}
		return fmt.Sprintf("%s %s, id %s", expr, dir, dir)
	}
}

func incrementDoc(ctx context.Context, e sqlx.ExtContext, collection, id, field string, delta int64) error {
	path := strings.Split(field, ".")

	// Seed document for first-increment upsert semantics.
	seed := map[string]interface{}{}
	cursor := seed
	for i, segment := range path {
		if i == len(path)-1 {
			cursor[segment] = delta
			break
		}
		next := map[string]interface{}{}
		cursor[segment] = next
		cursor = next
	}
	seedRaw, err := json.Marshal(seed)
	if err != nil {
		return fmt.Errorf("failed to marshal counter seed: %w", err)
	}

	// jsonb_set does not create intermediate objects, so the parent
	// object is materialized first for dotted paths. The new value is
	// always computed from the original data, so the inner set is a
	// no-op for paths that already exist.
	query := `
		INSERT INTO documents (collection, id, data, created_at, updated_at)
		VALUES ($1, $2, $6::jsonb, NOW(), NOW())
		ON CONFLICT (collection, id) DO UPDATE
		SET data = jsonb_set(
				jsonb_set(documents.data, $5::text[], COALESCE(documents.data #> $5::text[], '{}'::jsonb), true),
				$3::text[],
				to_jsonb(COALESCE((documents.data #>> $3::text[])::bigint, 0) + $4),
				true),
			updated_at = NOW()`

	parent := path[:len(path)-1]
	if len(parent) == 0 {
		parent = path
	}

	_, err = e.ExecContext(ctx, query,
		collection, id, pq.Array(path), delta, pq.Array(parent), seedRaw)
	if err != nil {
		return fmt.Errorf("failed to increment %s on %s/%s: %w", field, collection, id, err)
	}
	return nil
}
