package cache

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS cache_entries (
    partition_name TEXT NOT NULL,
    cache_key  TEXT NOT NULL,
    payload    BLOB NOT NULL,
    updated_at INTEGER NOT NULL,
    PRIMARY KEY (partition_name, cache_key)
);
CREATE TABLE IF NOT EXISTS cache_metadata (
    meta_key   TEXT PRIMARY KEY,
    meta_value TEXT NOT NULL
);
`

// SQLiteBackend stores payloads and metadata in one SQLite database. It
// implements both Backend and MetaStore.
type SQLiteBackend struct {
	sqlDB *sql.DB
}

// OpenSQLite opens (creating if needed) the cache database at path.
func OpenSQLite(path string) (*SQLiteBackend, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}

	cleanPath := filepath.Clean(path)
	dsn := cleanPath + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}

	if _, err := sqlDB.Exec(sqliteSchema); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return &SQLiteBackend{sqlDB: sqlDB}, nil
}

// Close releases the underlying SQLite connection.
func (s *SQLiteBackend) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

// Get loads a payload by partition and key.
func (s *SQLiteBackend) Get(ctx context.Context, partition, key string) ([]byte, bool, error) {
	row := s.sqlDB.QueryRowContext(
		ctx,
		`SELECT payload FROM cache_entries WHERE partition_name = ? AND cache_key = ?`,
		partition, key,
	)
	var payload []byte
	if err := row.Scan(&payload); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("get cache entry: %w", err)
	}
	return payload, true, nil
}

// Put upserts a payload.
func (s *SQLiteBackend) Put(ctx context.Context, partition, key string, data []byte) error {
	if strings.TrimSpace(partition) == "" {
		return fmt.Errorf("partition is required")
	}
	_, err := s.sqlDB.ExecContext(
		ctx,
		`INSERT INTO cache_entries (partition_name, cache_key, payload, updated_at)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT(partition_name, cache_key) DO UPDATE SET
		    payload = excluded.payload,
		    updated_at = excluded.updated_at`,
		partition, key, data, time.Now().UTC().UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("put cache entry: %w", err)
	}
	return nil
}

// Delete removes one payload.
func (s *SQLiteBackend) Delete(ctx context.Context, partition, key string) error {
	if _, err := s.sqlDB.ExecContext(ctx, `DELETE FROM cache_entries WHERE partition_name = ? AND cache_key = ?`, partition, key); err != nil {
		return fmt.Errorf("delete cache entry: %w", err)
	}
	return nil
}

// DeletePartition removes every payload of a partition.
func (s *SQLiteBackend) DeletePartition(ctx context.Context, partition string) (bool, error) {
	res, err := s.sqlDB.ExecContext(ctx, `DELETE FROM cache_entries WHERE partition_name = ?`, partition)
	if err != nil {
		return false, fmt.Errorf("delete partition %s: %w", partition, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("delete partition %s: %w", partition, err)
	}
	return n > 0, nil
}

// Partitions lists the partitions that hold at least one payload.
func (s *SQLiteBackend) Partitions(ctx context.Context) ([]string, error) {
	rows, err := s.sqlDB.QueryContext(ctx, `SELECT DISTINCT partition_name FROM cache_entries ORDER BY partition_name`)
	if err != nil {
		return nil, fmt.Errorf("list partitions: %w", err)
	}
	defer func() {
		_ = rows.Close()
	}()

	names := make([]string, 0)
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scan partition: %w", err)
		}
		names = append(names, name)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate partitions: %w", err)
	}
	return names, nil
}

// GetMeta returns the metadata value for key.
func (s *SQLiteBackend) GetMeta(key string) (string, bool, error) {
	row := s.sqlDB.QueryRow(`SELECT meta_value FROM cache_metadata WHERE meta_key = ?`, key)
	var value string
	if err := row.Scan(&value); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("get metadata: %w", err)
	}
	return value, true, nil
}

// SetMeta upserts a metadata value.
func (s *SQLiteBackend) SetMeta(key, value string) error {
	_, err := s.sqlDB.Exec(
		`INSERT INTO cache_metadata (meta_key, meta_value) VALUES (?, ?)
		 ON CONFLICT(meta_key) DO UPDATE SET meta_value = excluded.meta_value`,
		key, value,
	)
	if err != nil {
		return fmt.Errorf("set metadata: %w", err)
	}
	return nil
}

// RemoveMeta deletes a metadata value.
func (s *SQLiteBackend) RemoveMeta(key string) error {
	if _, err := s.sqlDB.Exec(`DELETE FROM cache_metadata WHERE meta_key = ?`, key); err != nil {
		return fmt.Errorf("remove metadata: %w", err)
	}
	return nil
}

// MetaKeys lists metadata keys in sorted order.
func (s *SQLiteBackend) MetaKeys() ([]string, error) {
	rows, err := s.sqlDB.Query(`SELECT meta_key FROM cache_metadata ORDER BY meta_key`)
	if err != nil {
		return nil, fmt.Errorf("list metadata keys: %w", err)
	}
	defer func() {
		_ = rows.Close()
	}()

	keys := make([]string, 0)
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, fmt.Errorf("scan metadata key: %w", err)
		}
		keys = append(keys, key)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate metadata keys: %w", err)
	}
	return keys, nil
}

var (
	_ Backend   = (*SQLiteBackend)(nil)
	_ MetaStore = (*SQLiteBackend)(nil)
	_ Backend   = (*FilesystemBackend)(nil)
	_ MetaStore = (*FileMetaStore)(nil)
	_ Backend   = (*MemoryBackend)(nil)
	_ MetaStore = (*MemoryMetaStore)(nil)
)
