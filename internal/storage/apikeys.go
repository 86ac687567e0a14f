package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// APIKey is one row of the api_key table. The raw secret is never stored;
// only its salted hash and a display prefix survive creation.
type APIKey struct {
	ID           string
	Name         string
	HashedAPIKey string
	Salt         string
	Prefix       string
	Scopes       []string
	ExpiresAt    sql.NullTime
	LastUsedAt   sql.NullTime
	RevokedAt    sql.NullTime
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// IsActive reports whether the key is neither revoked nor expired at now.
func (k *APIKey) IsActive(now time.Time) bool {
	if k.RevokedAt.Valid {
		return false
	}
	if k.ExpiresAt.Valid && !k.ExpiresAt.Time.After(now) {
		return false
	}
	return true
}

// CreateAPIKey inserts a new key row.
func (s *Store) CreateAPIKey(ctx context.Context, key *APIKey) error {
	scopes, err := marshalStringList(key.Scopes)
	if err != nil {
		return fmt.Errorf("marshaling scopes: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO api_key
			(id, name, hashed_api_key, salt, prefix, scopes,
			 expires_at, last_used_at, revoked_at, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		key.ID, key.Name, key.HashedAPIKey, key.Salt, key.Prefix, scopes,
		key.ExpiresAt, key.LastUsedAt, key.RevokedAt, key.CreatedAt, key.UpdatedAt)
	if err != nil {
		return fmt.Errorf("inserting api key: %w", err)
	}
	return nil
}

const apiKeyColumns = `id, name, hashed_api_key, salt, prefix, scopes,
	expires_at, last_used_at, revoked_at, created_at, updated_at`

func scanAPIKey(row interface{ Scan(...interface{}) error }) (*APIKey, error) {
	var key APIKey
	var scopes string
	err := row.Scan(&key.ID, &key.Name, &key.HashedAPIKey, &key.Salt, &key.Prefix,
		&scopes, &key.ExpiresAt, &key.LastUsedAt, &key.RevokedAt,
		&key.CreatedAt, &key.UpdatedAt)
	if err != nil {
		return nil, err
	}
	key.Scopes, err = unmarshalStringList(scopes)
	if err != nil {
		return nil, fmt.Errorf("unmarshaling scopes for key %s: %w", key.ID, err)
	}
	return &key, nil
}

// GetAPIKey fetches a single key by id.
func (s *Store) GetAPIKey(ctx context.Context, id string) (*APIKey, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+apiKeyColumns+` FROM api_key WHERE id = $1`, id)
	key, err := scanAPIKey(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying api key: %w", err)
	}
	return key, nil
}

// ListAPIKeys returns every key row, newest first.
func (s *Store) ListAPIKeys(ctx context.Context) ([]*APIKey, error) {
	return s.queryAPIKeys(ctx,
		`SELECT `+apiKeyColumns+` FROM api_key ORDER BY created_at DESC`)
}

// ActiveAPIKeys returns the keys authentication may match against: not
// revoked and not expired.
func (s *Store) ActiveAPIKeys(ctx context.Context) ([]*APIKey, error) {
	return s.queryAPIKeys(ctx,
		`SELECT `+apiKeyColumns+` FROM api_key
		 WHERE revoked_at IS NULL AND (expires_at IS NULL OR expires_at > $1)`,
		time.Now().UTC())
}

func (s *Store) queryAPIKeys(ctx context.Context, query string, args ...interface{}) ([]*APIKey, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying api keys: %w", err)
	}
	defer rows.Close()

	var keys []*APIKey
	for rows.Next() {
		key, err := scanAPIKey(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning api key: %w", err)
		}
		keys = append(keys, key)
	}
	return keys, rows.Err()
}

// TouchAPIKeyLastUsed records a successful authentication. Callers fire this
// asynchronously; a failure only costs freshness of last_used_at.
func (s *Store) TouchAPIKeyLastUsed(ctx context.Context, id string, at time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE api_key SET last_used_at = $1, updated_at = $2 WHERE id = $3`,
		at.UTC(), at.UTC(), id)
	if err != nil {
		return fmt.Errorf("updating api key last_used_at: %w", err)
	}
	return nil
}

// RevokeAPIKey marks a key revoked. Revocation is permanent.
func (s *Store) RevokeAPIKey(ctx context.Context, id string) error {
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx,
		`UPDATE api_key SET revoked_at = $1, updated_at = $2
		 WHERE id = $3 AND revoked_at IS NULL`,
		now, now, id)
	if err != nil {
		return fmt.Errorf("revoking api key: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("revoking api key: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

func marshalStringList(list []string) (string, error) {
	if list == nil {
		list = []string{}
	}
	data, err := json.Marshal(list)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func unmarshalStringList(data string) ([]string, error) {
	if data == "" {
		return nil, nil
	}
	var list []string
	if err := json.Unmarshal([]byte(data), &list); err != nil {
		return nil, err
	}
	return list, nil
}
