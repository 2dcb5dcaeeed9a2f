package cacheredis

import (
	"context"
	"errors"
	"testing"
	"time"

	"gatekeeper/internal/domain"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeRedis implements the Get and Set commands the cache issues; any other
// command panics through the nil embedded interface.
type fakeRedis struct {
	redis.Cmdable
	values map[string]string
	ttls   map[string]time.Duration
	getErr error
}

func newFakeRedis() *fakeRedis {
	return &fakeRedis{values: map[string]string{}, ttls: map[string]time.Duration{}}
}

func (f *fakeRedis) Get(_ context.Context, key string) *redis.StringCmd {
	if f.getErr != nil {
		return redis.NewStringResult("", f.getErr)
	}
	v, ok := f.values[key]
	if !ok {
		return redis.NewStringResult("", redis.Nil)
	}
	return redis.NewStringResult(v, nil)
}

func (f *fakeRedis) Set(_ context.Context, key string, value any, expiration time.Duration) *redis.StatusCmd {
	switch v := value.(type) {
	case []byte:
		f.values[key] = string(v)
	case string:
		f.values[key] = v
	default:
		return redis.NewStatusResult("", errors.New("unsupported value type"))
	}
	f.ttls[key] = expiration
	return redis.NewStatusResult("OK", nil)
}

func TestKeyCache_NoClientMisses(t *testing.T) {
	c := New(nil)
	keys, ok, err := c.Get(context.Background(), "alice")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Nil(t, keys)
	require.NoError(t, c.Put(context.Background(), "alice", nil, time.Minute))
}

func TestKeyCache_PutThenGet(t *testing.T) {
	rdb := newFakeRedis()
	c := New(rdb)
	ctx := context.Background()
	want := []domain.SigningKey{
		{KeyID: "1111", Kind: domain.KeyKindGPG, Subkeys: []domain.SigningKey{{KeyID: "ABCDEF", Kind: domain.KeyKindGPG}}},
		{KeyID: "7654321", Kind: domain.KeyKindSSH},
	}

	_, ok, err := c.Get(ctx, "alice")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, c.Put(ctx, "alice", want, 10*time.Minute))
	assert.Equal(t, 10*time.Minute, rdb.ttls["gatekeeper:signingkeys:alice"])

	got, ok, err := c.Get(ctx, "alice")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, want, got)
	assert.True(t, domain.KeysFound(got).Match("abcdef"))
}

func TestKeyCache_EmptyKeyListIsAHit(t *testing.T) {
	c := New(newFakeRedis())
	ctx := context.Background()
	require.NoError(t, c.Put(ctx, "bob", nil, time.Minute))

	keys, ok, err := c.Get(ctx, "bob")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Empty(t, keys)
}

func TestKeyCache_Errors(t *testing.T) {
	rdb := newFakeRedis()
	rdb.values["gatekeeper:signingkeys:mallory"] = "{not json"
	c := New(rdb)

	_, ok, err := c.Get(context.Background(), "mallory")
	require.Error(t, err)
	assert.False(t, ok)

	rdb.getErr = errors.New("connection refused")
	_, ok, err = c.Get(context.Background(), "alice")
	require.ErrorContains(t, err, "connection refused")
	assert.False(t, ok)
}
