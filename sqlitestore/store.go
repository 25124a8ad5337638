// Package sqlitestore keeps chunk records in a SQLite database, one row per
// (chunk id, secondary index), so they can be inspected with stock SQLite tools.
package sqlitestore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	dynts "github.com/linrium/dyn-ts"

	_ "modernc.org/sqlite"
)

type Config struct {
	// Path to the database file. ":memory:" keeps everything in memory.
	Path string

	// JournalMode is the SQLite journal mode (WAL, DELETE, ...).
	JournalMode string

	// BusyTimeout is how long a writer waits for a lock.
	BusyTimeout time.Duration
}

func DefaultConfig() Config {
	return Config{
		Path:        "dynts.db",
		JournalMode: "WAL",
		BusyTimeout: 5 * time.Second,
	}
}

type Store struct {
	db     *sql.DB
	mu     sync.RWMutex
	closed bool

	putStmt         *sql.Stmt
	getStmt         *sql.Stmt
	keysStmt        *sql.Stmt
	putManifestStmt *sql.Stmt
	getManifestStmt *sql.Stmt
}

var (
	_ dynts.ManifestStore = (*Store)(nil)
	_ dynts.Lister        = (*Store)(nil)
)

func Open(cfg Config) (*Store, error) {
	def := DefaultConfig()
	if cfg.Path == "" {
		cfg.Path = def.Path
	}
	if cfg.JournalMode == "" {
		cfg.JournalMode = def.JournalMode
	}
	if cfg.BusyTimeout <= 0 {
		cfg.BusyTimeout = def.BusyTimeout
	}

	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(%d)&_pragma=journal_mode(%s)",
		cfg.Path, cfg.BusyTimeout.Milliseconds(), cfg.JournalMode)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlitestore: open %s: %w", cfg.Path, err)
	}
	// a single connection keeps ":memory:" databases shared and serializes writers
	db.SetMaxOpenConns(1)

	s := &Store{db: db}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, err
	}
	if err := s.prepareStatements(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) initSchema() error {
	const schema = `
		CREATE TABLE IF NOT EXISTS chunks (
			id TEXT NOT NULL,
			secondary TEXT NOT NULL,
			sizes BLOB NOT NULL,
			data BLOB NOT NULL,
			created_at INTEGER NOT NULL,
			PRIMARY KEY (id, secondary)
		);

		CREATE TABLE IF NOT EXISTS manifests (
			id TEXT PRIMARY KEY,
			data BLOB NOT NULL,
			updated_at INTEGER NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_chunks_secondary ON chunks(secondary);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("sqlitestore: creating schema: %w", err)
	}
	return nil
}

func (s *Store) prepareStatements() error {
	var err error
	prepare := func(dst **sql.Stmt, query string) {
		if err != nil {
			return
		}
		*dst, err = s.db.Prepare(query)
		if err != nil {
			err = fmt.Errorf("sqlitestore: preparing %q: %w", query, err)
		}
	}
	prepare(&s.putStmt, `INSERT OR REPLACE INTO chunks (id, secondary, sizes, data, created_at) VALUES (?, ?, ?, ?, ?)`)
	prepare(&s.getStmt, `SELECT sizes, data FROM chunks WHERE id = ? AND secondary = ?`)
	prepare(&s.keysStmt, `SELECT id, secondary FROM chunks ORDER BY id, secondary`)
	prepare(&s.putManifestStmt, `INSERT OR REPLACE INTO manifests (id, data, updated_at) VALUES (?, ?, ?)`)
	prepare(&s.getManifestStmt, `SELECT data FROM manifests WHERE id = ?`)
	return err
}

func (s *Store) checkOpen() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return errors.New("sqlitestore: closed")
	}
	return nil
}

func (s *Store) Get(ctx context.Context, primaryKey, secondaryKey string) (dynts.Record, error) {
	if err := s.checkOpen(); err != nil {
		return dynts.Record{}, err
	}
	var rec dynts.Record
	err := s.getStmt.QueryRowContext(ctx, primaryKey, secondaryKey).Scan(&rec.Sizes, &rec.Data)
	if errors.Is(err, sql.ErrNoRows) {
		return dynts.Record{}, fmt.Errorf("%s/%s: %w", primaryKey, secondaryKey, dynts.ErrNotFound)
	} else if err != nil {
		return dynts.Record{}, fmt.Errorf("sqlitestore: get %s/%s: %w", primaryKey, secondaryKey, err)
	}
	return rec, nil
}

func (s *Store) Put(ctx context.Context, primaryKey, secondaryKey string, rec dynts.Record) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	_, err := s.putStmt.ExecContext(ctx, primaryKey, secondaryKey, nonNil(rec.Sizes), nonNil(rec.Data), time.Now().UnixNano())
	if err != nil {
		return fmt.Errorf("sqlitestore: put %s/%s: %w", primaryKey, secondaryKey, err)
	}
	return nil
}

func (s *Store) Keys(ctx context.Context) ([]dynts.Key, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	rows, err := s.keysStmt.QueryContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("sqlitestore: listing keys: %w", err)
	}
	defer rows.Close()

	var keys []dynts.Key
	for rows.Next() {
		var k dynts.Key
		if err := rows.Scan(&k.Primary, &k.Secondary); err != nil {
			return nil, fmt.Errorf("sqlitestore: scanning key: %w", err)
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

func (s *Store) GetManifest(ctx context.Context, hypertable string) ([]byte, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	var data []byte
	err := s.getManifestStmt.QueryRowContext(ctx, hypertable).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("manifest %s: %w", hypertable, dynts.ErrNotFound)
	} else if err != nil {
		return nil, fmt.Errorf("sqlitestore: get manifest %s: %w", hypertable, err)
	}
	return data, nil
}

func (s *Store) PutManifest(ctx context.Context, hypertable string, data []byte) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	_, err := s.putManifestStmt.ExecContext(ctx, hypertable, nonNil(data), time.Now().UnixNano())
	if err != nil {
		return fmt.Errorf("sqlitestore: put manifest %s: %w", hypertable, err)
	}
	return nil
}

func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	for _, stmt := range []*sql.Stmt{s.putStmt, s.getStmt, s.keysStmt, s.putManifestStmt, s.getManifestStmt} {
		if stmt != nil {
			stmt.Close()
		}
	}
	return s.db.Close()
}

func nonNil(b []byte) []byte {
	if b == nil {
		return []byte{}
	}
	return b
}
