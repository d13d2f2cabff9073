package store

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	gateway "github.com/dynamoworks/gateway/internal"
	"github.com/dynamoworks/gateway/internal/apperror"
)

const apiKeyColumns = `id, user_id, user_email, key_hash, key_prefix, role, created_at, last_used_at, revoked_at, is_active`

// CreateKey inserts a new active API key row.
func (s *Store) CreateKey(ctx context.Context, key *gateway.APIKey) error {
	_, err := s.q().Exec(ctx,
		`INSERT INTO api_keys (`+apiKeyColumns+`) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`,
		key.ID, key.UserID, key.UserEmail, key.KeyHash, key.KeyPrefix, key.Role,
		key.CreatedAt, key.LastUsedAt, key.RevokedAt, key.IsActive,
	)
	return err
}

// GetKeyByHash looks up an active API key by its hash, for the
// authentication hot path.
func (s *Store) GetKeyByHash(ctx context.Context, hash string) (*gateway.APIKey, error) {
	row := s.q().QueryRow(ctx,
		`SELECT `+apiKeyColumns+` FROM api_keys WHERE key_hash=$1 AND is_active`, hash)
	return scanKey(row)
}

// GetKey retrieves an API key by id regardless of active status.
func (s *Store) GetKey(ctx context.Context, id string) (*gateway.APIKey, error) {
	row := s.q().QueryRow(ctx, `SELECT `+apiKeyColumns+` FROM api_keys WHERE id=$1`, id)
	return scanKey(row)
}

// ListKeys returns keys for a user (or all, when userID is empty -- the
// admin list surface), newest first.
func (s *Store) ListKeys(ctx context.Context, userID string, offset, limit int) ([]*gateway.APIKey, error) {
	var rows pgx.Rows
	var err error
	if userID == "" {
		rows, err = s.q().Query(ctx,
			`SELECT `+apiKeyColumns+` FROM api_keys ORDER BY created_at DESC LIMIT $1 OFFSET $2`,
			limit, offset)
	} else {
		rows, err = s.q().Query(ctx,
			`SELECT `+apiKeyColumns+` FROM api_keys WHERE user_id=$1 ORDER BY created_at DESC LIMIT $2 OFFSET $3`,
			userID, limit, offset)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var keys []*gateway.APIKey
	for rows.Next() {
		k, err := scanKey(rows)
		if err != nil {
			return nil, err
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

// RevokeKey marks the key inactive and records the revocation timestamp.
// Idempotent: the second call on an already-revoked key affects zero
// rows and returns changed=false, never an error.
func (s *Store) RevokeKey(ctx context.Context, id string, now time.Time) (changed bool, err error) {
	tag, err := s.q().Exec(ctx,
		`UPDATE api_keys SET is_active=false, revoked_at=$2 WHERE id=$1 AND is_active`,
		id, now)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// RotateKey atomically deactivates the existing active key for a logical
// identity and inserts a new active row carrying the same
// userID/userEmail/role, taking a row-level lock on the original so two
// concurrent rotations cannot race (§5).
func (s *Store) RotateKey(ctx context.Context, oldID string, newKey *gateway.APIKey, now time.Time) error {
	return s.WithTx(ctx, func(tx pgx.Tx) error {
		var isActive bool
		err := tx.QueryRow(ctx, `SELECT is_active FROM api_keys WHERE id=$1 FOR UPDATE`, oldID).Scan(&isActive)
		if errors.Is(err, pgx.ErrNoRows) {
			return apperror.NotFound("api key not found")
		}
		if err != nil {
			return err
		}
		if !isActive {
			return apperror.New(apperror.CodeInvalidRequest, "api key already rotated or revoked", 409)
		}

		if _, err := tx.Exec(ctx,
			`UPDATE api_keys SET is_active=false, revoked_at=$2 WHERE id=$1`, oldID, now,
		); err != nil {
			return err
		}

		_, err = tx.Exec(ctx,
			`INSERT INTO api_keys (`+apiKeyColumns+`) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`,
			newKey.ID, newKey.UserID, newKey.UserEmail, newKey.KeyHash, newKey.KeyPrefix,
			newKey.Role, newKey.CreatedAt, newKey.LastUsedAt, newKey.RevokedAt, newKey.IsActive,
		)
		return err
	})
}

// TouchKeyUsed updates last_used_at. Called fire-and-forget after a
// successful lookup; callers must not block the response on its result.
func (s *Store) TouchKeyUsed(ctx context.Context, id string, now time.Time) error {
	_, err := s.q().Exec(ctx, `UPDATE api_keys SET last_used_at=$2 WHERE id=$1`, id, now)
	return err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanKey(row rowScanner) (*gateway.APIKey, error) {
	var k gateway.APIKey
	err := row.Scan(&k.ID, &k.UserID, &k.UserEmail, &k.KeyHash, &k.KeyPrefix, &k.Role,
		&k.CreatedAt, &k.LastUsedAt, &k.RevokedAt, &k.IsActive)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperror.NotFound("api key not found")
	}
	if err != nil {
		return nil, err
	}
	return &k, nil
}
