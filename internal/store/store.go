// Package store persists volatility surfaces in SQLite. Payloads are
// schema-versioned JSON blobs keyed by symbol and as-of time; a payload
// that fails to decode is surfaced as a DecodeError, never as a partial
// surface.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/seenimoa/volsurf/internal/surface"
	"github.com/seenimoa/volsurf/pkg/models"
)

// schemaVersion is bumped whenever the payload layout changes. Loads
// reject payloads written under a different version.
const schemaVersion = 1

// ErrNotFound indicates no surface is stored under the requested key.
var ErrNotFound = errors.New("store: surface not found")

// DecodeError reports a stored payload that could not be decoded into a
// surface.
type DecodeError struct {
	Key    string
	Reason string
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("store: decode %s: %s", e.Key, e.Reason)
}

// Store is a SQLite-backed surface archive.
type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) the database at path and ensures the
// schema exists. Use ":memory:" for an ephemeral store.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", path, err)
	}
	// modernc.org/sqlite serializes writes; a single connection avoids
	// SQLITE_BUSY under concurrent persists.
	db.SetMaxOpenConns(1)

	const schema = `
CREATE TABLE IF NOT EXISTS surfaces (
	key        TEXT PRIMARY KEY,
	symbol     TEXT NOT NULL,
	as_of      TEXT NOT NULL,
	version    INTEGER NOT NULL,
	payload    BLOB NOT NULL,
	created_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_surfaces_symbol ON surfaces (symbol, as_of);`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: init schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// surfacePayload is the on-disk JSON layout: solved points as parallel
// arrays, enough to rebuild the grid exactly.
type surfacePayload struct {
	Symbol   string      `json:"symbol"`
	AsOf     time.Time   `json:"as_of"`
	Strikes  []float64   `json:"strikes"`
	Expiries []time.Time `json:"expiries"`
	Vols     []float64   `json:"vols"`
}

// Key returns the storage key for a symbol and as-of time.
func Key(symbol string, asOf time.Time) string {
	return symbol + "@" + asOf.UTC().Format(time.RFC3339)
}

// Persist writes a surface snapshot and returns its key. Persisting the
// same (symbol, as-of) twice overwrites the earlier payload.
func (s *Store) Persist(ctx context.Context, surf *surface.Surface) (string, error) {
	upd := surf.Update()
	payload, err := json.Marshal(surfacePayload{
		Symbol:   upd.Symbol,
		AsOf:     upd.AsOf,
		Strikes:  upd.Strikes,
		Expiries: upd.Expiries,
		Vols:     upd.Vols,
	})
	if err != nil {
		return "", fmt.Errorf("store: encode %s: %w", upd.Symbol, err)
	}

	key := Key(upd.Symbol, upd.AsOf)
	_, err = s.db.ExecContext(ctx, `
INSERT INTO surfaces (key, symbol, as_of, version, payload, created_at)
VALUES (?, ?, ?, ?, ?, ?)
ON CONFLICT(key) DO UPDATE SET
	version = excluded.version,
	payload = excluded.payload,
	created_at = excluded.created_at`,
		key, upd.Symbol, upd.AsOf.UTC().Format(time.RFC3339Nano),
		schemaVersion, payload, time.Now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return "", fmt.Errorf("store: persist %s: %w", key, err)
	}
	return key, nil
}

// Load reads the surface stored under key.
func (s *Store) Load(ctx context.Context, key string) (*surface.Surface, error) {
	var version int
	var payload []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT version, payload FROM surfaces WHERE key = ?`, key).
		Scan(&version, &payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	if err != nil {
		return nil, fmt.Errorf("store: load %s: %w", key, err)
	}

	if version != schemaVersion {
		return nil, &DecodeError{Key: key, Reason: fmt.Sprintf("schema version %d, want %d", version, schemaVersion)}
	}

	var p surfacePayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return nil, &DecodeError{Key: key, Reason: err.Error()}
	}
	if len(p.Strikes) != len(p.Expiries) || len(p.Strikes) != len(p.Vols) {
		return nil, &DecodeError{Key: key, Reason: "point arrays have mismatched lengths"}
	}
	if len(p.Strikes) == 0 {
		return nil, &DecodeError{Key: key, Reason: "payload has no points"}
	}

	results := make([]models.ImpliedVolatilityResult, len(p.Strikes))
	for i := range p.Strikes {
		results[i] = models.ImpliedVolatilityResult{
			Strike:     p.Strikes[i],
			Expiration: p.Expiries[i],
			Vol:        p.Vols[i],
			Converged:  true,
		}
	}
	surf, err := surface.New(p.Symbol, p.AsOf, results)
	if err != nil {
		return nil, &DecodeError{Key: key, Reason: err.Error()}
	}
	return surf, nil
}

// Keys lists stored surface keys for a symbol, newest as-of first.
func (s *Store) Keys(ctx context.Context, symbol string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT key FROM surfaces WHERE symbol = ? ORDER BY as_of DESC`, symbol)
	if err != nil {
		return nil, fmt.Errorf("store: keys %s: %w", symbol, err)
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, err
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}
