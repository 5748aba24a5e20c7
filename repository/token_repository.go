package repository

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// TokenRepository is the access-token denylist. Logout blacklists the
// token's JTI until its natural expiry so it cannot be replayed.
type TokenRepository interface {
	BlacklistAccessToken(ctx context.Context, jti string, ttl time.Duration) error
	IsBlacklisted(ctx context.Context, jti string) (bool, error)
}

type RedisTokenRepository struct {
	redis *redis.Client
}

func NewRedisTokenRepository(redisClient *redis.Client) *RedisTokenRepository {
	return &RedisTokenRepository{redis: redisClient}
}

func (r *RedisTokenRepository) BlacklistAccessToken(ctx context.Context, jti string, ttl time.Duration) error {
	if ttl <= 0 {
		// Already expired, nothing to revoke.
		return nil
	}
	return r.redis.Set(ctx, "blacklist:"+jti, "true", ttl).Err()
}

func (r *RedisTokenRepository) IsBlacklisted(ctx context.Context, jti string) (bool, error) {
	val, err := r.redis.Get(ctx, "blacklist:"+jti).Result()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return val == "true", nil
}
