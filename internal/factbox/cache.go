package factbox

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/otrix/occam-agents/internal/domain"
)

// Cache wraps Redis with a TTL in front of the Store, invalidated on every
// write. Grounded on the wider pack's go-redis client usage
// (wisbric-nightowl/internal/platform/redis.go).
type Cache struct {
	redis *redis.Client
	ttl   time.Duration
}

func NewCache(rdb *redis.Client, ttl time.Duration) *Cache {
	return &Cache{redis: rdb, ttl: ttl}
}

func entityKey(id string) string  { return fmt.Sprintf("occam:factbox:entity:%s", id) }
func licenseKey(id string) string { return fmt.Sprintf("occam:factbox:license:%s", id) }

func (c *Cache) GetEntity(ctx context.Context, entityID string) (*domain.Entity, bool) {
	raw, err := c.redis.Get(ctx, entityKey(entityID)).Bytes()
	if err != nil {
		return nil, false
	}
	var e domain.Entity
	if err := json.Unmarshal(raw, &e); err != nil {
		return nil, false
	}
	return &e, true
}

func (c *Cache) PutEntity(ctx context.Context, e *domain.Entity) {
	raw, err := json.Marshal(e)
	if err != nil {
		return
	}
	c.redis.Set(ctx, entityKey(e.EntityID), raw, c.ttl)
}

func (c *Cache) InvalidateEntity(ctx context.Context, entityID string) {
	c.redis.Del(ctx, entityKey(entityID))
}

func (c *Cache) GetLicense(ctx context.Context, licenseID string) (*domain.License, bool) {
	raw, err := c.redis.Get(ctx, licenseKey(licenseID)).Bytes()
	if err != nil {
		return nil, false
	}
	var l domain.License
	if err := json.Unmarshal(raw, &l); err != nil {
		return nil, false
	}
	return &l, true
}

func (c *Cache) PutLicense(ctx context.Context, l *domain.License) {
	raw, err := json.Marshal(l)
	if err != nil {
		return
	}
	c.redis.Set(ctx, licenseKey(l.LicenseID), raw, c.ttl)
}

func (c *Cache) InvalidateLicense(ctx context.Context, licenseID string) {
	c.redis.Del(ctx, licenseKey(licenseID))
}
