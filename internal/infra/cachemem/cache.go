package cachemem

import (
	"context"
	"sync"
	"time"

	"gatekeeper/internal/domain"
	"gatekeeper/internal/usecase"
)

// KeyCache holds signing keys per login in process memory.
type KeyCache struct {
	mu      sync.Mutex
	now     func() time.Time
	entries map[string]keyEntry
}

type keyEntry struct {
	keys      []domain.SigningKey
	expiresAt time.Time
	hasExpiry bool
}

var _ usecase.KeyCache = (*KeyCache)(nil)

func New() *KeyCache {
	return NewWithClock(nil)
}

func NewWithClock(now func() time.Time) *KeyCache {
	if now == nil {
		now = time.Now
	}
	return &KeyCache{now: now, entries: make(map[string]keyEntry)}
}

func (c *KeyCache) Get(ctx context.Context, login string) ([]domain.SigningKey, bool, error) {
	if c == nil {
		return nil, false, nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.entries[login]
	if !ok {
		return nil, false, nil
	}
	if entry.hasExpiry && c.now().After(entry.expiresAt) {
		delete(c.entries, login)
		return nil, false, nil
	}
	return cloneKeys(entry.keys), true, nil
}

func (c *KeyCache) Put(ctx context.Context, login string, keys []domain.SigningKey, ttl time.Duration) error {
	if c == nil {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	entry := keyEntry{keys: cloneKeys(keys)}
	if ttl > 0 {
		entry.hasExpiry = true
		entry.expiresAt = c.now().Add(ttl)
	}
	c.entries[login] = entry
	return nil
}

func cloneKeys(keys []domain.SigningKey) []domain.SigningKey {
	if keys == nil {
		return nil
	}
	out := make([]domain.SigningKey, len(keys))
	for i, k := range keys {
		out[i] = domain.SigningKey{KeyID: k.KeyID, Subkeys: cloneKeys(k.Subkeys)}
	}
	return out
}
