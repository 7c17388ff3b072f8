package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"github.com/teresa-solution/whatsapp-instance-service/internal/model"
)

type RedisClient interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	SetEx(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	Incr(ctx context.Context, key string) *redis.IntCmd
	Ping(ctx context.Context) *redis.StatusCmd
	Close() error
}

var _ Store = (*CachedStore)(nil)

// CachedStore caches instance listings in Redis in front of another Store.
// Listings are stored under a per-tenant generation that every write
// through the store bumps, so a listing read before a write can never be
// served after it.
type CachedStore struct {
	Store
	redis RedisClient
	ttl   time.Duration
}

// NewCachedStore wraps inner with a Redis read-through cache
func NewCachedStore(inner Store, rdb RedisClient, ttl time.Duration) *CachedStore {
	return &CachedStore{Store: inner, redis: rdb, ttl: ttl}
}

func generationKey(locationID string) string {
	return fmt.Sprintf("instances:%s:gen", locationID)
}

func instancesKey(locationID string, gen int64) string {
	return fmt.Sprintf("instances:%s:%d", locationID, gen)
}

// generation returns the tenant's current listing generation. ok is false
// when Redis cannot be read, in which case the cache is bypassed.
func (c *CachedStore) generation(ctx context.Context, locationID string) (int64, bool) {
	gen, err := c.redis.Get(ctx, generationKey(locationID)).Int64()
	switch {
	case err == nil:
		return gen, true
	case errors.Is(err, redis.Nil):
		return 0, true
	default:
		log.Debug().Err(err).Str("location_id", locationID).Msg("Instance cache unavailable")
		return 0, false
	}
}

func (c *CachedStore) ListInstances(ctx context.Context, locationID string) ([]*model.Instance, error) {
	gen, ok := c.generation(ctx, locationID)
	if !ok {
		return c.Store.ListInstances(ctx, locationID)
	}
	key := instancesKey(locationID, gen)
	cached, err := c.redis.Get(ctx, key).Result()
	if err == nil {
		list := make([]*model.Instance, 0)
		if err := json.Unmarshal([]byte(cached), &list); err == nil {
			return list, nil
		}
	}

	// Cache miss, query the backing store
	list, err := c.Store.ListInstances(ctx, locationID)
	if err != nil {
		return nil, err
	}

	data, err := json.Marshal(list)
	if err == nil {
		if err := c.redis.SetEx(ctx, key, data, c.ttl).Err(); err != nil {
			log.Debug().Err(err).Str("key", key).Msg("Failed to cache instance listing")
		}
	}
	return list, nil
}

func (c *CachedStore) UpsertTenant(ctx context.Context, locationID, companyName, email string) (uuid.UUID, error) {
	id, err := c.Store.UpsertTenant(ctx, locationID, companyName, email)
	if err == nil {
		c.invalidate(ctx, locationID)
	}
	return id, err
}

func (c *CachedStore) InsertInstance(ctx context.Context, inst *model.Instance) error {
	err := c.Store.InsertInstance(ctx, inst)
	if err == nil {
		c.invalidate(ctx, inst.LocationID)
	}
	return err
}

func (c *CachedStore) UpdateQR(ctx context.Context, locationID string, instanceNumber int, qrCode string, from, to model.Status) error {
	err := c.Store.UpdateQR(ctx, locationID, instanceNumber, qrCode, from, to)
	if err == nil {
		c.invalidate(ctx, locationID)
	}
	return err
}

func (c *CachedStore) UpdateStatus(ctx context.Context, instanceName string, from, to model.Status) error {
	err := c.Store.UpdateStatus(ctx, instanceName, from, to)
	if err == nil {
		c.invalidateInstance(ctx, instanceName)
	}
	return err
}

func (c *CachedStore) SetPhoneNumber(ctx context.Context, instanceName, phoneNumber string) error {
	err := c.Store.SetPhoneNumber(ctx, instanceName, phoneNumber)
	if err == nil {
		c.invalidateInstance(ctx, instanceName)
	}
	return err
}

func (c *CachedStore) Ping(ctx context.Context) error {
	if err := c.Store.Ping(ctx); err != nil {
		return err
	}
	return model.NewStoreError("ping redis", c.redis.Ping(ctx).Err())
}

func (c *CachedStore) Close() error {
	err := c.Store.Close()
	if rerr := c.redis.Close(); err == nil {
		err = rerr
	}
	return err
}

func (c *CachedStore) invalidateInstance(ctx context.Context, instanceName string) {
	if locationID, _, ok := model.ParseInstanceName(instanceName); ok {
		c.invalidate(ctx, locationID)
		return
	}
	inst, err := c.Store.GetInstance(ctx, instanceName)
	if err == nil && inst != nil {
		c.invalidate(ctx, inst.LocationID)
	}
}

// invalidate moves the tenant to a new generation; listings cached under the
// old one are never read again and expire with their TTL.
func (c *CachedStore) invalidate(ctx context.Context, locationID string) {
	if err := c.redis.Incr(ctx, generationKey(locationID)).Err(); err != nil {
		log.Warn().Err(err).Str("location_id", locationID).Msg("Failed to invalidate instance cache")
	}
}
