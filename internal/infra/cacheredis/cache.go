package cacheredis

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"gatekeeper/internal/domain"
	"gatekeeper/internal/usecase"

	"github.com/redis/go-redis/v9"
)

const keyPrefix = "gatekeeper:signingkeys:"

// KeyCache shares signing-key lookups across replicas.
type KeyCache struct {
	client redis.Cmdable
}

var _ usecase.KeyCache = (*KeyCache)(nil)

func New(client redis.Cmdable) *KeyCache {
	return &KeyCache{client: client}
}

func (c *KeyCache) Get(ctx context.Context, login string) ([]domain.SigningKey, bool, error) {
	if c == nil || c.client == nil {
		return nil, false, nil
	}
	raw, err := c.client.Get(ctx, keyPrefix+login).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	var keys []domain.SigningKey
	if err := json.Unmarshal(raw, &keys); err != nil {
		return nil, false, err
	}
	return keys, true, nil
}

func (c *KeyCache) Put(ctx context.Context, login string, keys []domain.SigningKey, ttl time.Duration) error {
	if c == nil || c.client == nil {
		return nil
	}
	raw, err := json.Marshal(keys)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, keyPrefix+login, raw, ttl).Err()
}
