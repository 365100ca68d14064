package cache

import (
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redismock/v9"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/access-engine/go-core/pkg/types"
)

func newMiniredisCache(t *testing.T) (*RedisCache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	config := DefaultRedisConfig()
	config.TTL = time.Minute

	c := NewRedisCacheFromClient(client, config)
	t.Cleanup(func() { c.Close() })
	return c, mr
}

func TestRedisCache_SetGet(t *testing.T) {
	c, _ := newMiniredisCache(t)

	key := DecisionKey(
		types.UidUri{Uid: 10001},
		types.PermissionUri{PermissionName: "android.permission.CAMERA"},
	)
	c.Set(key, types.DecisionGranted)

	got, ok := c.Get(key)
	require.True(t, ok)
	assert.Equal(t, types.DecisionGranted, got)

	_, ok = c.Get("unknown")
	assert.False(t, ok)
}

func TestRedisCache_KeysAreNamespaced(t *testing.T) {
	c, mr := newMiniredisCache(t)

	c.Set("k1", types.DecisionDenied)

	keys := mr.Keys()
	require.Len(t, keys, 1)
	assert.Equal(t, c.config.KeyPrefix+"k1", keys[0])
}

func TestRedisCache_TTL(t *testing.T) {
	c, mr := newMiniredisCache(t)

	c.Set("k1", types.DecisionGranted)
	mr.FastForward(2 * time.Minute)

	_, ok := c.Get("k1")
	assert.False(t, ok)
}

func TestRedisCache_Delete(t *testing.T) {
	c, _ := newMiniredisCache(t)

	c.Set("k1", types.DecisionGranted)
	c.Delete("k1")

	_, ok := c.Get("k1")
	assert.False(t, ok)
}

func TestRedisCache_ClearOnlyRemovesOwnPrefix(t *testing.T) {
	c, mr := newMiniredisCache(t)

	c.Set("k1", types.DecisionGranted)
	c.Set("k2", types.DecisionDenied)
	require.NoError(t, mr.Set("other:foreign", "1"))

	c.Clear()

	_, ok := c.Get("k1")
	assert.False(t, ok)
	_, ok = c.Get("k2")
	assert.False(t, ok)
	assert.True(t, mr.Exists("other:foreign"))
}

func TestRedisCache_Stats(t *testing.T) {
	c, _ := newMiniredisCache(t)

	c.Set("k1", types.DecisionGranted)
	c.Get("k1")
	c.Get("missing")

	stats := c.Stats()
	assert.Equal(t, uint64(1), stats.Hits)
	assert.Equal(t, uint64(1), stats.Misses)
	assert.Equal(t, 1, stats.Size)
}

func TestRedisCache_TransportErrorReadsAsMiss(t *testing.T) {
	client, mock := redismock.NewClientMock()
	config := DefaultRedisConfig()

	c := NewRedisCacheFromClient(client, config)
	defer c.Close()

	mock.ExpectGet(config.KeyPrefix + "k1").SetErr(errors.New("connection reset"))

	_, ok := c.Get("k1")
	assert.False(t, ok)
	assert.Equal(t, uint64(1), c.Stats().Misses)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRedisConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*RedisConfig)
		wantErr bool
	}{
		{"defaults are valid", func(c *RedisConfig) {}, false},
		{"missing host", func(c *RedisConfig) { c.Host = "" }, true},
		{"port too large", func(c *RedisConfig) { c.Port = 99999 }, true},
		{"port zero", func(c *RedisConfig) { c.Port = 0 }, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := DefaultRedisConfig()
			tt.mutate(config)
			err := config.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
