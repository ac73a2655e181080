package contextstore

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sellerpulse/automation-hub/pkg/logger"
)

type memoryKV struct {
	data map[string][]byte
}

func newMemoryKV() *memoryKV {
	return &memoryKV{data: make(map[string][]byte)}
}

func (m *memoryKV) Get(ctx context.Context, key string) *redis.StringCmd {
	if v, ok := m.data[key]; ok {
		return redis.NewStringResult(string(v), nil)
	}
	return redis.NewStringResult("", redis.Nil)
}

func (m *memoryKV) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd {
	switch v := value.(type) {
	case []byte:
		m.data[key] = v
	case string:
		m.data[key] = []byte(v)
	}
	return redis.NewStatusResult("OK", nil)
}

func (m *memoryKV) Del(ctx context.Context, keys ...string) *redis.IntCmd {
	var n int64
	for _, k := range keys {
		if _, ok := m.data[k]; ok {
			delete(m.data, k)
			n++
		}
	}
	return redis.NewIntResult(n, nil)
}

func newTestStore(t *testing.T, kv *memoryKV, ttl time.Duration) *Store {
	t.Helper()
	return NewStore(kv, ttl, logger.FromZerolog(zerolog.Nop()))
}

func TestStoreRoundTrip(t *testing.T) {
	kv := newMemoryKV()
	store := newTestStore(t, kv, 30*time.Minute)
	ctx := context.Background()

	require.NoError(t, store.Set(ctx, "whatsapp", "user-1", map[string]interface{}{
		"stage": "browsing",
		"cart":  []interface{}{"sku-9"},
	}))

	cc, err := store.Get(ctx, "whatsapp", "user-1")
	require.NoError(t, err)
	assert.Equal(t, "whatsapp", cc.Channel)
	assert.Equal(t, "user-1", cc.UserID)
	assert.Equal(t, "browsing", cc.State["stage"])
	assert.False(t, cc.LastInteraction.IsZero())
}

func TestStoreKeyFormat(t *testing.T) {
	kv := newMemoryKV()
	store := newTestStore(t, kv, 30*time.Minute)

	require.NoError(t, store.Set(context.Background(), "instagram", "u42", nil))
	_, ok := kv.data["context:instagram:u42"]
	assert.True(t, ok)
}

func TestStoreMissing(t *testing.T) {
	store := newTestStore(t, newMemoryKV(), 30*time.Minute)

	_, err := store.Get(context.Background(), "whatsapp", "ghost")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStoreLogicalExpiry(t *testing.T) {
	kv := newMemoryKV()
	store := newTestStore(t, kv, 30*time.Minute)
	ctx := context.Background()

	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return base }
	require.NoError(t, store.Set(ctx, "whatsapp", "user-1", map[string]interface{}{"stage": "checkout"}))

	// Still alive just inside the TTL.
	store.now = func() time.Time { return base.Add(29 * time.Minute) }
	_, err := store.Get(ctx, "whatsapp", "user-1")
	require.NoError(t, err)

	// Stale past the TTL even though the key is still present.
	store.now = func() time.Time { return base.Add(31 * time.Minute) }
	_, err = store.Get(ctx, "whatsapp", "user-1")
	assert.ErrorIs(t, err, ErrNotFound)

	// The expired entry was deleted, not just hidden.
	_, ok := kv.data["context:whatsapp:user-1"]
	assert.False(t, ok)
}

func TestStoreSetRefreshesInteraction(t *testing.T) {
	kv := newMemoryKV()
	store := newTestStore(t, kv, 30*time.Minute)
	ctx := context.Background()

	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return base }
	require.NoError(t, store.Set(ctx, "whatsapp", "user-1", map[string]interface{}{"stage": "browsing"}))

	store.now = func() time.Time { return base.Add(25 * time.Minute) }
	require.NoError(t, store.Set(ctx, "whatsapp", "user-1", map[string]interface{}{"stage": "checkout"}))

	// A refresh at 25m keeps the context alive at 40m.
	store.now = func() time.Time { return base.Add(40 * time.Minute) }
	cc, err := store.Get(ctx, "whatsapp", "user-1")
	require.NoError(t, err)
	assert.Equal(t, "checkout", cc.State["stage"])
	assert.Equal(t, base.Add(25*time.Minute), cc.LastInteraction)
}

func TestStoreUpdateMerges(t *testing.T) {
	store := newTestStore(t, newMemoryKV(), 30*time.Minute)
	ctx := context.Background()

	require.NoError(t, store.Set(ctx, "whatsapp", "user-1", map[string]interface{}{"stage": "browsing", "lang": "pt"}))
	require.NoError(t, store.Update(ctx, "whatsapp", "user-1", map[string]interface{}{"stage": "checkout"}))

	cc, err := store.Get(ctx, "whatsapp", "user-1")
	require.NoError(t, err)
	assert.Equal(t, "checkout", cc.State["stage"])
	assert.Equal(t, "pt", cc.State["lang"])

	// Update on a missing context starts from empty state.
	require.NoError(t, store.Update(ctx, "whatsapp", "fresh", map[string]interface{}{"stage": "new"}))
	cc, err = store.Get(ctx, "whatsapp", "fresh")
	require.NoError(t, err)
	assert.Equal(t, "new", cc.State["stage"])
}

func TestStoreDelete(t *testing.T) {
	store := newTestStore(t, newMemoryKV(), 30*time.Minute)
	ctx := context.Background()

	require.NoError(t, store.Set(ctx, "email", "user-1", map[string]interface{}{"stage": "browsing"}))
	require.NoError(t, store.Delete(ctx, "email", "user-1"))

	_, err := store.Get(ctx, "email", "user-1")
	assert.ErrorIs(t, err, ErrNotFound)
}
