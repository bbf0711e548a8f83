package ownership

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

//go:embed schema.sql
var schemaSQL string

// schemaVersion is bumped whenever schema.sql changes. A mismatched cache is
// dropped and rebuilt since it only mirrors registrar data.
const schemaVersion = 1

const (
	sqliteBusyCode          = 5
	busyRetryAttempts       = 5
	busyRetryInitialBackoff = 10 * time.Millisecond
	busyRetryMaxBackoff     = 200 * time.Millisecond
)

// ErrNoSnapshot is returned by Load when nothing has been saved yet.
var ErrNoSnapshot = errors.New("no owned catalog snapshot")

// Snapshot is a cached owned catalog.
type Snapshot struct {
	Catalog   Catalog
	FetchedAt time.Time
}

// Fresh reports whether the snapshot is younger than maxAge at now.
func (s Snapshot) Fresh(now time.Time, maxAge time.Duration) bool {
	return maxAge > 0 && now.Sub(s.FetchedAt) < maxAge
}

// CatalogStore persists owned catalog snapshots in SQLite.
type CatalogStore struct {
	db   *sql.DB
	path string
}

// OpenCatalogStore opens or creates the cache database at path.
func OpenCatalogStore(ctx context.Context, path string) (*CatalogStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, execErr := db.ExecContext(ctx, pragma); execErr != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, execErr)
		}
	}
	store := &CatalogStore{db: db, path: path}
	if err := store.initSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

// Path is the database file location.
func (s *CatalogStore) Path() string {
	return s.path
}

// Close closes the database.
func (s *CatalogStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Load returns the cached snapshot.
func (s *CatalogStore) Load(ctx context.Context) (Snapshot, error) {
	var fetchedAt int64
	err := s.db.QueryRowContext(ctx, "SELECT fetched_at FROM catalog_meta WHERE id = 1").Scan(&fetchedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Snapshot{}, ErrNoSnapshot
	}
	if err != nil {
		return Snapshot{}, fmt.Errorf("read catalog meta: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, "SELECT app_id, name FROM owned_apps")
	if err != nil {
		return Snapshot{}, fmt.Errorf("query owned apps: %w", err)
	}
	defer rows.Close()
	catalog := make(Catalog)
	for rows.Next() {
		var (
			id   int64
			name string
		)
		if err := rows.Scan(&id, &name); err != nil {
			return Snapshot{}, fmt.Errorf("scan owned app: %w", err)
		}
		catalog[id] = name
	}
	if err := rows.Err(); err != nil {
		return Snapshot{}, fmt.Errorf("iterate owned apps: %w", err)
	}
	return Snapshot{Catalog: catalog, FetchedAt: time.Unix(fetchedAt, 0)}, nil
}

// Save replaces the cached snapshot.
func (s *CatalogStore) Save(ctx context.Context, snap Snapshot) error {
	return retryOnBusy(ctx, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin catalog tx: %w", err)
		}
		defer func() { _ = tx.Rollback() }()

		if _, err := tx.ExecContext(ctx, "DELETE FROM owned_apps"); err != nil {
			return fmt.Errorf("clear owned apps: %w", err)
		}
		stmt, err := tx.PrepareContext(ctx, "INSERT INTO owned_apps (app_id, name) VALUES (?, ?)")
		if err != nil {
			return fmt.Errorf("prepare insert: %w", err)
		}
		defer stmt.Close()
		for id, name := range snap.Catalog {
			if _, err := stmt.ExecContext(ctx, id, name); err != nil {
				return fmt.Errorf("insert owned app %d: %w", id, err)
			}
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO catalog_meta (id, fetched_at, app_count) VALUES (1, ?, ?)
			 ON CONFLICT(id) DO UPDATE SET fetched_at = excluded.fetched_at, app_count = excluded.app_count`,
			snap.FetchedAt.Unix(), len(snap.Catalog)); err != nil {
			return fmt.Errorf("record catalog meta: %w", err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit catalog: %w", err)
		}
		return nil
	})
}

func (s *CatalogStore) initSchema(ctx context.Context) error {
	var tableExists int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(1) FROM sqlite_master WHERE type='table' AND name='schema_version'",
	).Scan(&tableExists)
	if err != nil {
		return fmt.Errorf("check schema_version table: %w", err)
	}
	if tableExists == 0 {
		return s.createSchema(ctx)
	}

	var version int
	if err := s.db.QueryRowContext(ctx, "SELECT version FROM schema_version LIMIT 1").Scan(&version); err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}
	if version == schemaVersion {
		return nil
	}
	for _, table := range []string{"owned_apps", "catalog_meta", "schema_version"} {
		if _, err := s.db.ExecContext(ctx, "DROP TABLE IF EXISTS "+table); err != nil {
			return fmt.Errorf("drop stale table %s: %w", table, err)
		}
	}
	return s.createSchema(ctx)
}

func (s *CatalogStore) createSchema(ctx context.Context) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin schema tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	if _, err := tx.ExecContext(ctx, "INSERT INTO schema_version (version) VALUES (?)", schemaVersion); err != nil {
		return fmt.Errorf("record schema version: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit schema: %w", err)
	}
	return nil
}

func isSQLiteBusy(err error) bool {
	if err == nil {
		return false
	}
	var coder interface{ Code() int }
	if errors.As(err, &coder) && coder.Code() == sqliteBusyCode {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "database is locked")
}

func retryOnBusy(ctx context.Context, op func() error) error {
	delay := busyRetryInitialBackoff
	var lastErr error
	for attempt := 0; attempt < busyRetryAttempts; attempt++ {
		lastErr = op()
		if lastErr == nil {
			return nil
		}
		if !isSQLiteBusy(lastErr) || attempt == busyRetryAttempts-1 {
			break
		}
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
		if next := delay * 2; next <= busyRetryMaxBackoff {
			delay = next
		}
	}
	return lastErr
}
