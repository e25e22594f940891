package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// RefreshToken is the persisted record of the single active refresh token for
// a (user, device) pair. The session layer never holds one of these; it only
// references the row through the token's jti claim.
type RefreshToken struct {
	JTI       uuid.UUID `json:"jti"`
	UserID    uuid.UUID `json:"user_id"`
	DeviceID  string    `json:"device_id"`
	IPAddress string    `json:"ip_address"`
	UserAgent string    `json:"user_agent"`
	CreatedAt time.Time `json:"created_at"`
}

// RefreshTokenStore is the only gateway to refresh-token rows. Rotate is the
// serialization point for concurrent refreshes of the same (user, device);
// mutation never happens outside it except through DeleteAll.
type RefreshTokenStore interface {
	// Rotate deletes the existing row(s) for (user, device) and inserts the
	// replacement inside one transaction, locking only that pair's rows.
	Rotate(ctx context.Context, userID uuid.UUID, deviceID string, jti uuid.UUID, ip, userAgent string) error
	// Exists reports whether jti is the currently valid token for the user
	// on any device.
	Exists(ctx context.Context, userID uuid.UUID, jti uuid.UUID) (bool, error)
	// DeleteAll revokes the (user, device) pair without a replacement.
	DeleteAll(ctx context.Context, userID uuid.UUID, deviceID string) error
}
