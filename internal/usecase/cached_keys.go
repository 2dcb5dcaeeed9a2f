package usecase

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"gatekeeper/internal/domain"
)

const DefaultKeyCacheTTL = 10 * time.Minute

// CachedKeyDirectory serves signing-key lookups from a cache. Failed
// lookups are never cached, so a transient error is retried next time.
type CachedKeyDirectory struct {
	Next   KeyDirectory
	Cache  KeyCache
	TTL    time.Duration
	Logger *slog.Logger
}

func (d *CachedKeyDirectory) GetUserSigningKeys(ctx context.Context, login string) ([]domain.SigningKey, error) {
	key := strings.ToLower(login)
	if d.Cache != nil {
		keys, ok, err := d.Cache.Get(ctx, key)
		if err != nil {
			d.logger().Debug("key cache read failed", "login", login, "error", err)
		} else if ok {
			return keys, nil
		}
	}
	keys, err := d.Next.GetUserSigningKeys(ctx, login)
	if err != nil {
		return nil, err
	}
	if d.Cache != nil {
		ttl := d.TTL
		if ttl <= 0 {
			ttl = DefaultKeyCacheTTL
		}
		if err := d.Cache.Put(ctx, key, keys, ttl); err != nil {
			d.logger().Debug("key cache write failed", "login", login, "error", err)
		}
	}
	return keys, nil
}

func (d *CachedKeyDirectory) logger() *slog.Logger {
	if d.Logger != nil {
		return d.Logger
	}
	return slog.Default()
}
