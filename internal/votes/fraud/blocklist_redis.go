package fraud

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

const blocklistKey = "fraud:fingerprint_blocklist"

// RedisBlocklist is the shared fingerprint blocklist. Moderation tooling
// populates the set; the pipeline only reads membership.
type RedisBlocklist struct {
	client *redis.Client
}

func NewRedisBlocklist(client *redis.Client) *RedisBlocklist {
	return &RedisBlocklist{client: client}
}

func (b *RedisBlocklist) Contains(ctx context.Context, fingerprint string) (bool, error) {
	member, err := b.client.SIsMember(ctx, blocklistKey, fingerprint).Result()
	if err != nil {
		return false, fmt.Errorf("blocklist membership check: %w", err)
	}
	return member, nil
}

func (b *RedisBlocklist) Add(ctx context.Context, fingerprint string) error {
	if err := b.client.SAdd(ctx, blocklistKey, fingerprint).Err(); err != nil {
		return fmt.Errorf("blocklist add: %w", err)
	}
	return nil
}
