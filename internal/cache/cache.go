// Package cache persists the last price and quantity pushed per product
// key. It is the memory behind the delta cap: without it every run would
// be first-time pricing.
package cache

import (
	"database/sql"
	"math"
	"time"

	"github.com/Piaskraft/mjw-sync/internal/models"

	_ "github.com/mattn/go-sqlite3"
)

// Store is a SQLite-backed price cache keyed by product key.
type Store struct {
	conn *sql.DB
}

// Open opens the cache database at path, creating the schema if needed.
func Open(path string) (*Store, error) {
	conn, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, err
	}

	s := &Store{conn: conn}
	if err := s.init(); err != nil {
		conn.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.conn.Close()
}

func (s *Store) init() error {
	createTableSQL := `
	CREATE TABLE IF NOT EXISTS cache (
		key TEXT PRIMARY KEY,
		id_product INTEGER NOT NULL,
		id_product_attribute INTEGER NOT NULL DEFAULT 0,
		last_price_net_eur REAL,
		last_qty INTEGER,
		updated_at TEXT
	);`

	if _, err := s.conn.Exec(createTableSQL); err != nil {
		return err
	}

	_, err := s.conn.Exec(`CREATE INDEX IF NOT EXISTS idx_cache_prod ON cache(id_product, id_product_attribute)`)
	return err
}

// Get returns the cached entry for key, or nil when the key has never
// been processed.
func (s *Store) Get(key string) (*models.CacheEntry, error) {
	var (
		e       models.CacheEntry
		price   sql.NullFloat64
		qty     sql.NullInt64
		updated sql.NullString
	)
	err := s.conn.QueryRow(
		`SELECT key, id_product, id_product_attribute, last_price_net_eur, last_qty, updated_at FROM cache WHERE key = ?`,
		key,
	).Scan(&e.Key, &e.ProductID, &e.AttributeID, &price, &qty, &updated)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if price.Valid {
		v := price.Float64
		e.LastPriceNetEUR = &v
	}
	if qty.Valid {
		v := int(qty.Int64)
		e.LastQty = &v
	}
	if updated.Valid {
		if t, perr := time.Parse(time.RFC3339, updated.String); perr == nil {
			e.UpdatedAt = t
		}
	}
	return &e, nil
}

// Upsert creates or fully replaces the entry for entry.Key and stamps it
// with the current time. Malformed numeric fields are coerced to safe
// defaults (negative attribute id to 0, non-finite price to NULL) instead
// of failing the write: the cache must never be the reason a run aborts.
func (s *Store) Upsert(entry models.CacheEntry) error {
	attrID := entry.AttributeID
	if attrID < 0 {
		attrID = 0
	}

	var price any
	if entry.LastPriceNetEUR != nil && !math.IsNaN(*entry.LastPriceNetEUR) && !math.IsInf(*entry.LastPriceNetEUR, 0) {
		price = *entry.LastPriceNetEUR
	}
	var qty any
	if entry.LastQty != nil {
		qty = *entry.LastQty
	}

	_, err := s.conn.Exec(`
		INSERT INTO cache (key, id_product, id_product_attribute, last_price_net_eur, last_qty, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
			id_product           = excluded.id_product,
			id_product_attribute = excluded.id_product_attribute,
			last_price_net_eur   = excluded.last_price_net_eur,
			last_qty             = excluded.last_qty,
			updated_at           = excluded.updated_at`,
		entry.Key, entry.ProductID, attrID, price, qty, time.Now().UTC().Format(time.RFC3339))
	return err
}
