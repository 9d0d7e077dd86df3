package identity

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite"

	"github.com/brownsville-complaints/internal/normalize"
)

// Store persists building identities and their lookup keys between runs
// so identical addresses keep resolving to the same canonical id across
// dataset rebuilds.
type Store struct {
	conn *sql.DB
}

// OpenStore opens (creating if needed) the identity database at path.
func OpenStore(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}

	if _, err := conn.Exec(`PRAGMA journal_mode = WAL;`); err != nil {
		_ = conn.Close()
		return nil, err
	}

	s := &Store{conn: conn}
	if err := s.init(); err != nil {
		_ = conn.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.conn.Close()
}

// DB exposes the underlying connection so other stores can share the
// same database file.
func (s *Store) DB() *sql.DB {
	return s.conn
}

func (s *Store) init() error {
	schema := `
CREATE TABLE IF NOT EXISTS building (
  canonical_id TEXT PRIMARY KEY,
  latitude REAL,
  longitude REAL,
  has_coords INTEGER NOT NULL DEFAULT 0,
  createdAt TEXT NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS building_key (
  lookup_key TEXT PRIMARY KEY,
  canonical_id TEXT NOT NULL,
  FOREIGN KEY(canonical_id) REFERENCES building(canonical_id)
);

CREATE TABLE IF NOT EXISTS building_address (
  canonical_id TEXT NOT NULL,
  house_number TEXT NOT NULL,
  street TEXT NOT NULL,
  zip TEXT,
  borough TEXT,
  UNIQUE(canonical_id, house_number, street, zip, borough)
);
CREATE INDEX IF NOT EXISTS idx_building_address_id ON building_address(canonical_id);
`
	if _, err := s.conn.Exec(schema); err != nil {
		return fmt.Errorf("init identity schema: %w", err)
	}
	return nil
}

// LoadInto warms the in-memory cache with every persisted identity.
func (s *Store) LoadInto(cache *Cache) (int, error) {
	rows, err := s.conn.Query(`SELECT canonical_id, latitude, longitude, has_coords FROM building`)
	if err != nil {
		return 0, err
	}
	defer rows.Close()

	loaded := 0
	for rows.Next() {
		var (
			id        string
			lat, lng  sql.NullFloat64
			hasCoords int
		)
		if err := rows.Scan(&id, &lat, &lng, &hasCoords); err != nil {
			return loaded, err
		}
		b := NewBuilding(id)
		if hasCoords != 0 {
			b.Latitude = lat.Float64
			b.Longitude = lng.Float64
			b.HasCoords = true
		}
		cache.Insert(b)
		loaded++
	}
	if err := rows.Err(); err != nil {
		return loaded, err
	}

	keyRows, err := s.conn.Query(`SELECT lookup_key, canonical_id FROM building_key`)
	if err != nil {
		return loaded, err
	}
	defer keyRows.Close()

	for keyRows.Next() {
		var key, id string
		if err := keyRows.Scan(&key, &id); err != nil {
			return loaded, err
		}
		cache.BindKey(key, id)
		if hint, ok := strings.CutPrefix(key, "PARCEL|"); ok {
			if b, found := cache.Get(id); found {
				_, _ = b.ObserveParcel(hint)
			}
		}
	}
	if err := keyRows.Err(); err != nil {
		return loaded, err
	}

	addrRows, err := s.conn.Query(`SELECT canonical_id, house_number, street, zip, borough FROM building_address`)
	if err != nil {
		return loaded, err
	}
	defer addrRows.Close()

	for addrRows.Next() {
		var id string
		var addr normalize.Address
		if err := addrRows.Scan(&id, &addr.HouseNumber, &addr.Street, &addr.Zip, &addr.Borough); err != nil {
			return loaded, err
		}
		if b, ok := cache.Get(id); ok {
			b.ObserveAddress(addr)
		}
	}
	return loaded, addrRows.Err()
}

// Save upserts one identity with its lookup keys and observed addresses.
func (s *Store) Save(b *Building, keys ...string) error {
	tx, err := s.conn.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, err = tx.Exec(`
		INSERT INTO building (canonical_id, latitude, longitude, has_coords)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(canonical_id) DO UPDATE SET
		  latitude = excluded.latitude,
		  longitude = excluded.longitude,
		  has_coords = excluded.has_coords`,
		b.CanonicalID, b.Latitude, b.Longitude, boolToInt(b.HasCoords))
	if err != nil {
		return fmt.Errorf("save building %s: %w", b.CanonicalID, err)
	}

	for _, key := range keys {
		if key == "" {
			continue
		}
		if _, err := tx.Exec(`
			INSERT INTO building_key (lookup_key, canonical_id) VALUES (?, ?)
			ON CONFLICT(lookup_key) DO NOTHING`, key, b.CanonicalID); err != nil {
			return fmt.Errorf("save key %s: %w", key, err)
		}
	}

	for _, addr := range b.Addresses() {
		if _, err := tx.Exec(`
			INSERT INTO building_address (canonical_id, house_number, street, zip, borough)
			VALUES (?, ?, ?, ?, ?)
			ON CONFLICT DO NOTHING`,
			b.CanonicalID, addr.HouseNumber, addr.Street, addr.Zip, addr.Borough); err != nil {
			return fmt.Errorf("save address for %s: %w", b.CanonicalID, err)
		}
	}

	return tx.Commit()
}

// Stats returns persisted identity and key counts.
func (s *Store) Stats() (buildings, keys int, err error) {
	if err = s.conn.QueryRow(`SELECT COUNT(*) FROM building`).Scan(&buildings); err != nil {
		return 0, 0, err
	}
	if err = s.conn.QueryRow(`SELECT COUNT(*) FROM building_key`).Scan(&keys); err != nil {
		return 0, 0, err
	}
	return buildings, keys, nil
}

// Clear drops all persisted identities. Used by `cache clear`.
func (s *Store) Clear() error {
	for _, table := range []string{"building_address", "building_key", "building"} {
		if _, err := s.conn.Exec(`DELETE FROM ` + table); err != nil {
			return err
		}
	}
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
