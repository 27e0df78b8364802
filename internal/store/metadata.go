package store

import (
	"context"
	"database/sql"
	"time"
)

const (
	importKeyPrefix = "import:"
	lastSyncKey     = "last_sync"
)

// SetMetadata upserts a key-value pair in the exam_metadata table.
func (s *Store) SetMetadata(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO exam_metadata (key, value) VALUES (?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = ?`,
		key, value, value,
	)
	return err
}

// GetMetadata returns the value for a metadata key.
// Returns empty string and nil error if the key is missing.
func (s *Store) GetMetadata(ctx context.Context, key string) (string, error) {
	var value string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM exam_metadata WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	return value, err
}

// IsImported reports whether a snapshot file with this SHA-256 was imported before.
func (s *Store) IsImported(ctx context.Context, sha string) (bool, error) {
	v, err := s.GetMetadata(ctx, importKeyPrefix+sha)
	return v != "", err
}

// MarkImported remembers an imported snapshot file.
func (s *Store) MarkImported(ctx context.Context, sha, name string) error {
	return s.SetMetadata(ctx, importKeyPrefix+sha, name)
}

// SetLastSync records the time of the last successful sync.
func (s *Store) SetLastSync(ctx context.Context, t time.Time) error {
	return s.SetMetadata(ctx, lastSyncKey, t.UTC().Format(time.RFC3339))
}

// LastSync returns the time of the last successful sync, or the zero time.
func (s *Store) LastSync(ctx context.Context) (time.Time, error) {
	v, err := s.GetMetadata(ctx, lastSyncKey)
	if err != nil || v == "" {
		return time.Time{}, err
	}
	return time.Parse(time.RFC3339, v)
}
