// Package store owns the durable record of collections and vector
// entries: schema, transactional writes, and point/range reads. All
// access to the underlying SQLite file goes through a bounded connection
// pool.
package store

import (
	"context"
	"database/sql"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"time"

	_ "modernc.org/sqlite"

	"vecstash/internal/vector"
)

// BatchEntry is one pending row in an atomic batch insert.
type BatchEntry struct {
	Vector   []float64
	Text     string
	Metadata map[string]string
}

// CollectionStats summarizes a collection for reporting.
type CollectionStats struct {
	Name          string
	Dimension     int
	Entries       int
	Earliest      time.Time
	Latest        time.Time
	FileSizeBytes int64
}

// Store is the durable entry store backed by a single SQLite file.
type Store struct {
	pool *Pool
	db   *sql.DB
	path string
}

// Open opens (creating if needed) the store at path.
func Open(path string, cfg PoolConfig) (*Store, error) {
	cfg = cfg.withDefaults()

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, vector.WrapError("store.open", err)
	}
	db.SetMaxOpenConns(cfg.MaxSlots)
	db.SetMaxIdleConns(cfg.MaxSlots)
	db.SetConnMaxLifetime(0)

	s := &Store{
		pool: newPool(db, cfg),
		db:   db,
		path: path,
	}
	if err := s.init(context.Background()); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) init(ctx context.Context) error {
	slot, err := s.pool.Acquire(ctx)
	if err != nil {
		return err
	}
	defer s.pool.Release(slot)

	schema := `
		CREATE TABLE IF NOT EXISTS collections (
			name TEXT PRIMARY KEY,
			dimension INTEGER NOT NULL,
			next_id INTEGER NOT NULL DEFAULT 1,
			created_at TEXT NOT NULL
		);
		CREATE TABLE IF NOT EXISTS entries (
			collection TEXT NOT NULL REFERENCES collections(name) ON DELETE CASCADE,
			id INTEGER NOT NULL,
			vector BLOB NOT NULL,
			text TEXT NOT NULL,
			metadata TEXT,
			created_at TEXT NOT NULL,
			PRIMARY KEY (collection, id)
		);
		CREATE INDEX IF NOT EXISTS idx_entries_collection ON entries(collection);
	`
	if _, err := slot.conn.ExecContext(ctx, schema); err != nil {
		return vector.WrapError("store.init", err)
	}
	return nil
}

// Pool exposes the connection pool for diagnostics and tests.
func (s *Store) Pool() *Pool {
	return s.pool
}

// Path returns the store's file path.
func (s *Store) Path() string {
	return s.path
}

// Close releases all pooled connections and the database handle.
func (s *Store) Close() error {
	poolErr := s.pool.Close()
	dbErr := s.db.Close()
	if poolErr != nil {
		return poolErr
	}
	return dbErr
}

// CreateCollection creates a collection with the given dimension.
// Idempotent when the collection already exists with the same dimension;
// fails with ErrDimensionMismatch otherwise.
func (s *Store) CreateCollection(ctx context.Context, name string, dimension int) error {
	if dimension <= 0 {
		return vector.ErrEmptyVector
	}

	slot, err := s.pool.Acquire(ctx)
	if err != nil {
		return err
	}
	defer s.pool.Release(slot)

	var existing int
	err = slot.conn.QueryRowContext(ctx,
		"SELECT dimension FROM collections WHERE name = ?", name).Scan(&existing)
	switch {
	case err == nil:
		if existing != dimension {
			return fmt.Errorf("%w: collection %q has dimension %d, requested %d",
				vector.ErrDimensionMismatch, name, existing, dimension)
		}
		return nil
	case errors.Is(err, sql.ErrNoRows):
		_, err = slot.conn.ExecContext(ctx,
			"INSERT INTO collections (name, dimension, next_id, created_at) VALUES (?, ?, 1, ?)",
			name, dimension, timestamp())
		return vector.WrapError("store.create_collection", err)
	default:
		return vector.WrapError("store.create_collection", err)
	}
}

// GetCollection returns collection metadata or ErrCollectionNotFound.
func (s *Store) GetCollection(ctx context.Context, name string) (vector.Collection, error) {
	slot, err := s.pool.Acquire(ctx)
	if err != nil {
		return vector.Collection{}, err
	}
	defer s.pool.Release(slot)

	return getCollection(ctx, slot.conn, name)
}

func getCollection(ctx context.Context, conn *sql.Conn, name string) (vector.Collection, error) {
	var c vector.Collection
	var created string
	err := conn.QueryRowContext(ctx,
		"SELECT name, dimension, created_at FROM collections WHERE name = ?", name).
		Scan(&c.Name, &c.Dimension, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return vector.Collection{}, fmt.Errorf("%w: %q", vector.ErrCollectionNotFound, name)
	}
	if err != nil {
		return vector.Collection{}, vector.WrapError("store.get_collection", err)
	}
	c.CreatedAt = parseTimestamp(created)
	return c, nil
}

// ListCollections returns all collections ordered by name.
func (s *Store) ListCollections(ctx context.Context) ([]vector.Collection, error) {
	slot, err := s.pool.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer s.pool.Release(slot)

	rows, err := slot.conn.QueryContext(ctx,
		"SELECT name, dimension, created_at FROM collections ORDER BY name")
	if err != nil {
		return nil, vector.WrapError("store.list_collections", err)
	}
	defer rows.Close()

	var out []vector.Collection
	for rows.Next() {
		var c vector.Collection
		var created string
		if err := rows.Scan(&c.Name, &c.Dimension, &created); err != nil {
			return nil, vector.WrapError("store.list_collections", err)
		}
		c.CreatedAt = parseTimestamp(created)
		out = append(out, c)
	}
	return out, vector.WrapError("store.list_collections", rows.Err())
}

// Insert validates and persists a single entry, assigning the next id.
// The collection is created on first insert naming it, taking its
// dimension from the vector.
func (s *Store) Insert(ctx context.Context, collection string, vec []float64, text string, metadata map[string]string) (*vector.Entry, error) {
	entries, err := s.InsertBatch(ctx, collection, []BatchEntry{{Vector: vec, Text: text, Metadata: metadata}})
	if err != nil {
		return nil, err
	}
	return entries[0], nil
}

// InsertBatch persists a batch of entries in one transaction. Every
// entry is validated against the collection dimension before any row is
// written; on failure nothing is committed.
func (s *Store) InsertBatch(ctx context.Context, collection string, batch []BatchEntry) ([]*vector.Entry, error) {
	if len(batch) == 0 {
		return nil, nil
	}
	for _, b := range batch {
		if len(b.Vector) == 0 {
			return nil, vector.ErrEmptyVector
		}
	}

	slot, err := s.pool.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer s.pool.Release(slot)

	tx, err := slot.conn.BeginTx(ctx, nil)
	if err != nil {
		return nil, vector.WrapError("store.insert", err)
	}
	defer tx.Rollback()

	dimension, nextID, err := ensureCollectionTx(ctx, tx, collection, len(batch[0].Vector))
	if err != nil {
		return nil, err
	}
	for _, b := range batch {
		if len(b.Vector) != dimension {
			return nil, fmt.Errorf("%w: collection %q expects dimension %d, got %d",
				vector.ErrDimensionMismatch, collection, dimension, len(b.Vector))
		}
	}

	stmt, err := tx.PrepareContext(ctx,
		"INSERT INTO entries (collection, id, vector, text, metadata, created_at) VALUES (?, ?, ?, ?, ?, ?)")
	if err != nil {
		return nil, vector.WrapError("store.insert", err)
	}
	defer stmt.Close()

	now := time.Now().UTC()
	out := make([]*vector.Entry, 0, len(batch))
	id := nextID
	for _, b := range batch {
		metaJSON, err := encodeMetadata(b.Metadata)
		if err != nil {
			return nil, vector.WrapError("store.insert", err)
		}
		if _, err := stmt.ExecContext(ctx,
			collection, id, encodeVector(b.Vector), b.Text, metaJSON, now.Format(time.RFC3339Nano)); err != nil {
			return nil, vector.WrapError("store.insert", err)
		}
		out = append(out, &vector.Entry{
			ID:         id,
			Collection: collection,
			Vector:     append([]float64(nil), b.Vector...),
			Text:       b.Text,
			Metadata:   b.Metadata,
			CreatedAt:  now,
		})
		id++
	}

	if _, err := tx.ExecContext(ctx,
		"UPDATE collections SET next_id = ? WHERE name = ?", id, collection); err != nil {
		return nil, vector.WrapError("store.insert", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, vector.WrapError("store.insert", err)
	}
	return out, nil
}

// ensureCollectionTx reads (creating if absent) the collection row inside
// the insert transaction and returns its dimension and next id.
func ensureCollectionTx(ctx context.Context, tx *sql.Tx, name string, dimension int) (int, int64, error) {
	var dim int
	var nextID int64
	err := tx.QueryRowContext(ctx,
		"SELECT dimension, next_id FROM collections WHERE name = ?", name).Scan(&dim, &nextID)
	switch {
	case err == nil:
		return dim, nextID, nil
	case errors.Is(err, sql.ErrNoRows):
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO collections (name, dimension, next_id, created_at) VALUES (?, ?, 1, ?)",
			name, dimension, timestamp()); err != nil {
			return 0, 0, vector.WrapError("store.insert", err)
		}
		return dimension, 1, nil
	default:
		return 0, 0, vector.WrapError("store.insert", err)
	}
}

// Get returns a single entry or ErrNotFound.
func (s *Store) Get(ctx context.Context, collection string, id int64) (*vector.Entry, error) {
	slot, err := s.pool.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer s.pool.Release(slot)

	row := slot.conn.QueryRowContext(ctx,
		"SELECT collection, id, vector, text, metadata, created_at FROM entries WHERE collection = ? AND id = ?",
		collection, id)
	e, err := scanEntry(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s/%d", vector.ErrNotFound, collection, id)
	}
	if err != nil {
		return nil, vector.WrapError("store.get", err)
	}
	return e, nil
}

// Delete removes one entry. Returns ErrNotFound when no such row exists.
func (s *Store) Delete(ctx context.Context, collection string, id int64) error {
	slot, err := s.pool.Acquire(ctx)
	if err != nil {
		return err
	}
	defer s.pool.Release(slot)

	res, err := slot.conn.ExecContext(ctx,
		"DELETE FROM entries WHERE collection = ? AND id = ?", collection, id)
	if err != nil {
		return vector.WrapError("store.delete", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return vector.WrapError("store.delete", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s/%d", vector.ErrNotFound, collection, id)
	}
	return nil
}

// DropCollection removes a collection and, via FK cascade, all its
// entries. Returns ErrCollectionNotFound when the collection is unknown.
func (s *Store) DropCollection(ctx context.Context, name string) error {
	slot, err := s.pool.Acquire(ctx)
	if err != nil {
		return err
	}
	defer s.pool.Release(slot)

	res, err := slot.conn.ExecContext(ctx, "DELETE FROM collections WHERE name = ?", name)
	if err != nil {
		return vector.WrapError("store.drop_collection", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return vector.WrapError("store.drop_collection", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %q", vector.ErrCollectionNotFound, name)
	}
	return nil
}

// Count returns the number of live entries in a collection.
func (s *Store) Count(ctx context.Context, collection string) (int, error) {
	slot, err := s.pool.Acquire(ctx)
	if err != nil {
		return 0, err
	}
	defer s.pool.Release(slot)

	var n int
	err = slot.conn.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM entries WHERE collection = ?", collection).Scan(&n)
	return n, vector.WrapError("store.count", err)
}

// Stats summarizes a collection.
func (s *Store) Stats(ctx context.Context, name string) (CollectionStats, error) {
	slot, err := s.pool.Acquire(ctx)
	if err != nil {
		return CollectionStats{}, err
	}
	defer s.pool.Release(slot)

	col, err := getCollection(ctx, slot.conn, name)
	if err != nil {
		return CollectionStats{}, err
	}

	st := CollectionStats{Name: col.Name, Dimension: col.Dimension}
	var earliest, latest sql.NullString
	err = slot.conn.QueryRowContext(ctx,
		"SELECT COUNT(*), MIN(created_at), MAX(created_at) FROM entries WHERE collection = ?", name).
		Scan(&st.Entries, &earliest, &latest)
	if err != nil {
		return CollectionStats{}, vector.WrapError("store.stats", err)
	}
	if earliest.Valid {
		st.Earliest = parseTimestamp(earliest.String)
	}
	if latest.Valid {
		st.Latest = parseTimestamp(latest.String)
	}
	if info, err := os.Stat(s.path); err == nil {
		st.FileSizeBytes = info.Size()
	}
	return st, nil
}

// Scan returns a cursor over all entries in a collection, ordered by id.
// The cursor holds one pool slot until Close; re-issuing Scan produces a
// fresh, independent sequence reflecting the store at call time.
func (s *Store) Scan(ctx context.Context, collection string) (*Cursor, error) {
	slot, err := s.pool.Acquire(ctx)
	if err != nil {
		return nil, err
	}

	rows, err := slot.conn.QueryContext(ctx,
		"SELECT collection, id, vector, text, metadata, created_at FROM entries WHERE collection = ? ORDER BY id",
		collection)
	if err != nil {
		s.pool.Release(slot)
		return nil, vector.WrapError("store.scan", err)
	}
	return &Cursor{rows: rows, slot: slot, pool: s.pool}, nil
}

// Cursor is a lazy, finite iteration over scanned entries.
type Cursor struct {
	rows   *sql.Rows
	slot   *Slot
	pool   *Pool
	entry  *vector.Entry
	err    error
	closed bool
}

// Next advances to the next entry, returning false at the end of the
// sequence or on error.
func (c *Cursor) Next() bool {
	if c.closed || c.err != nil {
		return false
	}
	if !c.rows.Next() {
		c.err = c.rows.Err()
		return false
	}
	e, err := scanEntry(c.rows.Scan)
	if err != nil {
		c.err = err
		return false
	}
	c.entry = e
	return true
}

// Entry returns the current entry.
func (c *Cursor) Entry() *vector.Entry {
	return c.entry
}

// Err returns the first error encountered during iteration.
func (c *Cursor) Err() error {
	return vector.WrapError("store.scan", c.err)
}

// Close releases the cursor's rows and pool slot. Safe to call twice.
func (c *Cursor) Close() error {
	if c.closed {
		return nil
	}
	c.closed = true
	err := c.rows.Close()
	c.pool.Release(c.slot)
	return err
}

func scanEntry(scan func(dest ...any) error) (*vector.Entry, error) {
	var e vector.Entry
	var blob []byte
	var metaJSON sql.NullString
	var created string
	if err := scan(&e.Collection, &e.ID, &blob, &e.Text, &metaJSON, &created); err != nil {
		return nil, err
	}
	e.Vector = decodeVector(blob)
	e.CreatedAt = parseTimestamp(created)
	if metaJSON.Valid && metaJSON.String != "" {
		if err := json.Unmarshal([]byte(metaJSON.String), &e.Metadata); err != nil {
			return nil, fmt.Errorf("decode metadata: %w", err)
		}
	}
	return &e, nil
}

func encodeMetadata(meta map[string]string) (any, error) {
	if len(meta) == 0 {
		return nil, nil
	}
	b, err := json.Marshal(meta)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// encodeVector converts []float64 to a little-endian byte blob.
func encodeVector(v []float64) []byte {
	buf := make([]byte, len(v)*8)
	for i, f := range v {
		binary.LittleEndian.PutUint64(buf[i*8:], math.Float64bits(f))
	}
	return buf
}

// decodeVector converts a byte blob back to []float64.
func decodeVector(b []byte) []float64 {
	v := make([]float64, len(b)/8)
	for i := range v {
		v[i] = math.Float64frombits(binary.LittleEndian.Uint64(b[i*8:]))
	}
	return v
}

func timestamp() string {
	return time.Now().UTC().Format(time.RFC3339Nano)
}

func parseTimestamp(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
