package postgres

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type RefreshTokenRepository struct {
	db *pgxpool.Pool
}

func NewRefreshTokenRepository(db *pgxpool.Pool) *RefreshTokenRepository {
	return &RefreshTokenRepository{db: db}
}

// Rotate replaces the refresh-token row for (user, device) in one
// transaction. The SELECT ... FOR UPDATE serializes concurrent rotations of
// the same pair: the loser blocks until the winner commits, then sees the
// winner's row and deletes that instead of the one it read earlier. Rows for
// the user's other devices are never touched or locked.
func (r *RefreshTokenRepository) Rotate(ctx context.Context, userID uuid.UUID, deviceID string, jti uuid.UUID, ip, userAgent string) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	return pgx.BeginFunc(ctx, r.db, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
			SELECT jti FROM refresh_tokens
			WHERE user_id = $1 AND device_id = $2
			FOR UPDATE
		`, userID, deviceID)
		if err != nil {
			return err
		}

		_, err = tx.Exec(ctx, `
			DELETE FROM refresh_tokens
			WHERE user_id = $1 AND device_id = $2
		`, userID, deviceID)
		if err != nil {
			return err
		}

		_, err = tx.Exec(ctx, `
			INSERT INTO refresh_tokens (jti, user_id, device_id, ip_address, user_agent, created_at)
			VALUES ($1, $2, $3, $4, $5, $6)
		`, jti, userID, deviceID, ip, userAgent, time.Now())
		return err
	})
}

// Exists reports whether jti is still the active token for the user on any
// of their devices.
func (r *RefreshTokenRepository) Exists(ctx context.Context, userID uuid.UUID, jti uuid.UUID) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	var exists bool
	err := r.db.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM refresh_tokens WHERE user_id = $1 AND jti = $2
		)
	`, userID, jti).Scan(&exists)
	if err != nil {
		return false, err
	}
	return exists, nil
}

// DeleteAll revokes the (user, device) pair without a replacement; used on
// logout.
func (r *RefreshTokenRepository) DeleteAll(ctx context.Context, userID uuid.UUID, deviceID string) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	_, err := r.db.Exec(ctx, `
		DELETE FROM refresh_tokens
		WHERE user_id = $1 AND device_id = $2
	`, userID, deviceID)
	return err
}
