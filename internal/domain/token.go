package domain

import "time"

// RevokedToken records a logged-out access token until it would have expired anyway
type RevokedToken struct {
	JTI       string    `db:"jti"`
	UserID    int64     `db:"user_id"`
	ExpiresAt time.Time `db:"expires_at"`
	RevokedAt time.Time `db:"revoked_at"`
}
