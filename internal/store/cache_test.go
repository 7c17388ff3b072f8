package store

import (
	"context"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/teresa-solution/whatsapp-instance-service/internal/model"
)

type fakeRedis struct {
	mu   sync.Mutex
	data map[string]string
	hits int
}

func newFakeRedis() *fakeRedis {
	return &fakeRedis{data: make(map[string]string)}
}

func (f *fakeRedis) Get(ctx context.Context, key string) *redis.StringCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.data[key]
	if !ok {
		return redis.NewStringResult("", redis.Nil)
	}
	if !strings.HasSuffix(key, ":gen") {
		f.hits++
	}
	return redis.NewStringResult(v, nil)
}

func (f *fakeRedis) SetEx(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	switch v := value.(type) {
	case []byte:
		f.data[key] = string(v)
	case string:
		f.data[key] = v
	}
	return redis.NewStatusResult("OK", nil)
}

func (f *fakeRedis) Incr(ctx context.Context, key string) *redis.IntCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	n, _ := strconv.ParseInt(f.data[key], 10, 64)
	n++
	f.data[key] = strconv.FormatInt(n, 10)
	return redis.NewIntResult(n, nil)
}

func (f *fakeRedis) set(key, value string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.data[key] = value
}

func (f *fakeRedis) Ping(ctx context.Context) *redis.StatusCmd {
	return redis.NewStatusResult("PONG", nil)
}

func (f *fakeRedis) Close() error { return nil }

func TestCachedStore_Contract(t *testing.T) {
	runStoreContract(t, func(t *testing.T) Store {
		return NewCachedStore(NewMemoryStore(), newFakeRedis(), time.Minute)
	})
}

func TestCachedStore_ListServedFromCacheUntilWrite(t *testing.T) {
	rdb := newFakeRedis()
	s := NewCachedStore(NewMemoryStore(), rdb, time.Minute)
	ctx := context.Background()

	tenantID, err := s.UpsertTenant(ctx, "loc1", "Acme", "")
	require.NoError(t, err)
	require.NoError(t, s.InsertInstance(ctx, &model.Instance{
		TenantID: tenantID, LocationID: "loc1", InstanceName: "loc1_wa_1", InstanceNumber: 1, Status: model.StatusCreated,
	}))

	_, err = s.ListInstances(ctx, "loc1")
	require.NoError(t, err)
	list, err := s.ListInstances(ctx, "loc1")
	require.NoError(t, err)
	assert.Equal(t, 1, rdb.hits)
	assert.Equal(t, model.StatusCreated, list[0].Status)

	// Webhook-style update by name must move the listing to a new generation
	require.NoError(t, s.UpdateStatus(ctx, "loc1_wa_1", model.StatusCreated, model.StatusQRReady))
	assert.Equal(t, "3", rdb.data[generationKey("loc1")])

	list, err = s.ListInstances(ctx, "loc1")
	require.NoError(t, err)
	assert.Equal(t, model.StatusQRReady, list[0].Status)
	assert.Equal(t, 1, rdb.hits)
}

func TestCachedStore_ListingFilledBeforeWriteIsNeverServed(t *testing.T) {
	rdb := newFakeRedis()
	s := NewCachedStore(NewMemoryStore(), rdb, time.Minute)
	ctx := context.Background()

	tenantID, err := s.UpsertTenant(ctx, "loc1", "Acme", "")
	require.NoError(t, err)
	gen := rdb.data[generationKey("loc1")]

	// A reader that started before the insert fills the cache with an empty
	// listing after the insert has completed.
	require.NoError(t, s.InsertInstance(ctx, &model.Instance{
		TenantID: tenantID, LocationID: "loc1", InstanceName: "loc1_wa_1", InstanceNumber: 1, Status: model.StatusCreated,
	}))
	staleGen, err := strconv.ParseInt(gen, 10, 64)
	require.NoError(t, err)
	rdb.set(instancesKey("loc1", staleGen), "[]")

	list, err := s.ListInstances(ctx, "loc1")
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "loc1_wa_1", list[0].InstanceName)
}

func TestCachedStore_FailedWriteKeepsCache(t *testing.T) {
	rdb := newFakeRedis()
	s := NewCachedStore(NewMemoryStore(), rdb, time.Minute)
	ctx := context.Background()

	_, err := s.ListInstances(ctx, "loc1")
	require.NoError(t, err)

	err = s.UpdateQR(ctx, "loc1", 1, "QR", model.StatusCreated, model.StatusQRReady)
	assert.ErrorIs(t, err, model.ErrUnknownInstance)
	_, bumped := rdb.data[generationKey("loc1")]
	assert.False(t, bumped)
	_, cached := rdb.data[instancesKey("loc1", 0)]
	assert.True(t, cached)
}
