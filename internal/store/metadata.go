package store

import (
	"context"
	"database/sql"
)

const importKeyPrefix = "import:"

// SetMetadata upserts a key-value pair in the app_metadata table.
func (s *Store) SetMetadata(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO app_metadata (key, value) VALUES (?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = ?`,
		key, value, value,
	)
	return classify(err)
}

// GetMetadata returns the value for a metadata key.
// Returns empty string and nil error if the key is missing.
func (s *Store) GetMetadata(ctx context.Context, key string) (string, error) {
	var value string
	err := s.db.GetContext(ctx, &value, `SELECT value FROM app_metadata WHERE key = ?`, key)
	if err == sql.ErrNoRows {
		return "", nil
	}
	return value, classify(err)
}

// GetImportedFileHash returns the sha256 recorded for an imported file, or "".
func (s *Store) GetImportedFileHash(ctx context.Context, path string) (string, error) {
	return s.GetMetadata(ctx, importKeyPrefix+path)
}

// SetImportedFileHash records the sha256 of an imported file.
func (s *Store) SetImportedFileHash(ctx context.Context, path, hash string) error {
	return s.SetMetadata(ctx, importKeyPrefix+path, hash)
}
