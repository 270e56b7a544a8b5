package repository

import (
	"context"
	"fmt"
	"time"

	"catalog-api/internal/domain"

	"github.com/redis/go-redis/v9"
)

const revocationKeyPrefix = "jwt:blacklist:"

type redisRevocationStore struct {
	client *redis.Client
	now    func() time.Time
}

// NewRedisRevocationStore keeps revoked jtis in Redis with a TTL matching the
// token's remaining lifetime, so entries clean themselves up.
func NewRedisRevocationStore(client *redis.Client) RevocationStore {
	return &redisRevocationStore{client: client, now: time.Now}
}

func (s *redisRevocationStore) Revoke(ctx context.Context, token *domain.RevokedToken) error {
	ttl := token.ExpiresAt.Sub(s.now())
	if ttl <= 0 {
		// already expired, verification rejects it without a record
		return nil
	}

	if err := s.client.Set(ctx, revocationKeyPrefix+token.JTI, token.UserID, ttl).Err(); err != nil {
		return fmt.Errorf("failed to revoke token: %w", err)
	}

	return nil
}

func (s *redisRevocationStore) IsRevoked(ctx context.Context, jti string) (bool, error) {
	n, err := s.client.Exists(ctx, revocationKeyPrefix+jti).Result()
	if err != nil {
		return false, fmt.Errorf("failed to check revoked token: %w", err)
	}

	return n == 1, nil
}
