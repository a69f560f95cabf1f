// Package store caches encoded module images in SQLite, keyed by the
// module's content digest.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/chazu/seqweave/pkg/module"
	"github.com/tliron/commonlog"
	_ "modernc.org/sqlite"
)

var log = commonlog.GetLogger("weave.store")

// ErrNotFound indicates the requested image is not cached.
var ErrNotFound = errors.New("image not found")

// Entry describes one cached image.
type Entry struct {
	Digest  string
	Name    string
	MVID    string
	Size    int
	Created time.Time
}

// Store handles SQLite storage for module images.
type Store struct {
	db   *sql.DB
	path string
	mu   sync.Mutex
}

// Open opens or creates the store at path. Use ":memory:" for a private
// in-memory store.
func Open(ctx context.Context, path string) (*Store, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("creating store dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	// A second connection to ":memory:" would see a different database.
	db.SetMaxOpenConns(1)

	// Set busy timeout for concurrent access
	if _, err := db.ExecContext(ctx, "PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}

	_, err = db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS images (
		digest  TEXT PRIMARY KEY,
		name    TEXT NOT NULL,
		mvid    TEXT NOT NULL,
		image   BLOB NOT NULL,
		created INTEGER NOT NULL
	)`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating table: %w", err)
	}

	return &Store{db: db, path: path}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Put encodes m and stores it under its digest. Storing a module whose
// digest is already present keeps the original entry.
func (s *Store) Put(ctx context.Context, m *module.Module) (string, error) {
	digest, err := module.Digest(m)
	if err != nil {
		return "", fmt.Errorf("hashing module: %w", err)
	}
	data, err := module.Encode(m)
	if err != nil {
		return "", fmt.Errorf("encoding module: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx,
		"INSERT OR IGNORE INTO images (digest, name, mvid, image, created) VALUES (?, ?, ?, ?, ?)",
		digest, m.Name, m.MVID, data, time.Now().Unix(),
	)
	if err != nil {
		return "", fmt.Errorf("saving image: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		log.Debugf("image %s already cached", digest[:12])
	} else {
		log.Infof("cached %s as %s (%d bytes)", m.Name, digest[:12], len(data))
	}
	return digest, nil
}

// Get loads and decodes the image stored under digest.
func (s *Store) Get(ctx context.Context, digest string) (*module.Module, error) {
	var data []byte
	err := s.db.QueryRowContext(ctx, "SELECT image FROM images WHERE digest = ?", digest).Scan(&data)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%s: %w", digest, ErrNotFound)
		}
		return nil, fmt.Errorf("querying image: %w", err)
	}
	m, err := module.Decode(data)
	if err != nil {
		return nil, fmt.Errorf("image %s: %w", digest, err)
	}
	return m, nil
}

// Has reports whether an image is stored under digest.
func (s *Store) Has(ctx context.Context, digest string) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM images WHERE digest = ?", digest).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("querying image: %w", err)
	}
	return n > 0, nil
}

// List returns every cached entry, newest first.
func (s *Store) List(ctx context.Context) ([]Entry, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT digest, name, mvid, length(image), created FROM images ORDER BY created DESC, digest")
	if err != nil {
		return nil, fmt.Errorf("listing images: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		var created int64
		if err := rows.Scan(&e.Digest, &e.Name, &e.MVID, &e.Size, &created); err != nil {
			return nil, fmt.Errorf("scanning image row: %w", err)
		}
		e.Created = time.Unix(created, 0)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Delete removes the image stored under digest.
func (s *Store) Delete(ctx context.Context, digest string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, "DELETE FROM images WHERE digest = ?", digest)
	if err != nil {
		return fmt.Errorf("deleting image: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%s: %w", digest, ErrNotFound)
	}
	return nil
}
