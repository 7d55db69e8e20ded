package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"assessment-sync/internal/common/logger"
	"assessment-sync/internal/models"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"
)

// populateScript caches an application only while the generation counter
// still holds the value sampled before the backing load.
var populateScript = redis.NewScript(`
local gen = redis.call('GET', KEYS[1]) or '0'
if gen ~= ARGV[1] then
  return 0
end
local ttl = tonumber(ARGV[4])
if ttl > 0 then
  redis.call('SET', KEYS[2], ARGV[2], 'PX', ttl)
  redis.call('SET', KEYS[3], ARGV[3], 'PX', ttl)
else
  redis.call('SET', KEYS[2], ARGV[2])
  redis.call('SET', KEYS[3], ARGV[3])
end
return 1
`)

// CachedStore is a read-through Redis cache in front of another Store.
// Every committed write bumps a per-application generation and drops the
// cached copy; loads that started under an older generation are not cached.
// Redis failures are logged and never fail the request.
type CachedStore struct {
	next   Store
	rdb    redis.Cmdable
	ttl    time.Duration
	prefix string
	logger logger.Logger
	group  singleflight.Group
}

// NewCachedStore creates a CachedStore over next. A zero ttl caches without expiry.
func NewCachedStore(next Store, rdb redis.Cmdable, ttl time.Duration, prefix string, log logger.Logger) *CachedStore {
	if log == nil {
		log = logger.NewNoOpLogger()
	}
	return &CachedStore{
		next:   next,
		rdb:    rdb,
		ttl:    ttl,
		prefix: prefix,
		logger: log.WithFields(map[string]interface{}{"component": "application-cache"}),
	}
}

func (c *CachedStore) appKey(id string) string      { return c.prefix + "app:" + id }
func (c *CachedStore) genKey(id string) string      { return c.prefix + "gen:" + id }
func (c *CachedStore) ownerKey(owner string) string { return c.prefix + "owner:" + owner }

func (c *CachedStore) Ping(ctx context.Context) error {
	if err := c.rdb.Ping(ctx).Err(); err != nil {
		return err
	}
	return c.next.Ping(ctx)
}

func (c *CachedStore) GetByID(ctx context.Context, id string) (*models.Application, error) {
	if app, ok := c.read(ctx, c.appKey(id)); ok {
		return app, nil
	}
	gen, cacheable := c.generation(ctx, id)
	v, err, _ := c.group.Do("id:"+id+"@"+gen, func() (interface{}, error) {
		app, err := c.next.GetByID(ctx, id)
		if err != nil {
			return nil, err
		}
		if cacheable {
			c.populate(ctx, gen, app)
		}
		return app, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*models.Application).Clone(), nil
}

// GetByOwner resolves the owner to an id through the cache and then reads by
// id. The owner mapping never changes once an application exists, so it is
// cached unconditionally.
func (c *CachedStore) GetByOwner(ctx context.Context, ownerID string) (*models.Application, error) {
	id, err := c.rdb.Get(ctx, c.ownerKey(ownerID)).Result()
	if err == nil {
		return c.GetByID(ctx, id)
	}
	if !errors.Is(err, redis.Nil) {
		c.warn("get owner", err)
	}

	v, err, _ := c.group.Do("owner:"+ownerID, func() (interface{}, error) {
		app, err := c.next.GetByOwner(ctx, ownerID)
		if err != nil {
			return nil, err
		}
		if err := c.rdb.Set(ctx, c.ownerKey(ownerID), app.ID, c.ttl).Err(); err != nil {
			c.warn("set owner", err)
		}
		return app, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*models.Application).Clone(), nil
}

func (c *CachedStore) Insert(ctx context.Context, app *models.Application, audit AuditEntry) error {
	gen, cacheable := c.generation(ctx, app.ID)
	if err := c.next.Insert(ctx, app, audit); err != nil {
		return err
	}
	if cacheable {
		c.populate(ctx, gen, app)
	}
	return nil
}

func (c *CachedStore) Update(ctx context.Context, id string, fn UpdateFunc) (*models.Application, error) {
	app, err := c.next.Update(ctx, id, fn)
	if err != nil {
		return nil, err
	}
	c.invalidate(ctx, id)
	return app, nil
}

func (c *CachedStore) TransitionStatus(ctx context.Context, id string, from, to models.Status, at time.Time, audit AuditEntry) (*models.Application, error) {
	app, err := c.next.TransitionStatus(ctx, id, from, to, at, audit)
	if err != nil {
		return nil, err
	}
	c.invalidate(ctx, id)
	return app, nil
}

func (c *CachedStore) read(ctx context.Context, key string) (*models.Application, bool) {
	raw, err := c.rdb.Get(ctx, key).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.warn("get", err)
		}
		return nil, false
	}
	var app models.Application
	if err := json.Unmarshal(raw, &app); err != nil {
		c.warn("decode", err)
		return nil, false
	}
	app.EnsurePillars()
	return &app, true
}

// generation samples the write counter for id. It must be read before the
// backing load whose result is later passed to populate.
func (c *CachedStore) generation(ctx context.Context, id string) (string, bool) {
	gen, err := c.rdb.Get(ctx, c.genKey(id)).Result()
	switch {
	case err == nil:
		return gen, true
	case errors.Is(err, redis.Nil):
		return "0", true
	default:
		c.warn("get generation", err)
		return "", false
	}
}

func (c *CachedStore) populate(ctx context.Context, gen string, app *models.Application) {
	raw, err := json.Marshal(app)
	if err != nil {
		c.warn("encode", err)
		return
	}
	keys := []string{c.genKey(app.ID), c.appKey(app.ID), c.ownerKey(app.OwnerID)}
	stored, err := populateScript.Run(ctx, c.rdb, keys, gen, raw, app.ID, c.ttl.Milliseconds()).Int()
	if err != nil {
		c.warn("set", err)
		return
	}
	if stored == 0 {
		c.logger.Debug("Skipped stale cache fill", map[string]interface{}{"applicationId": app.ID})
	}
}

// invalidate runs after a committed write. The generation bump outlives any
// cached copy so an in-flight load cannot restore an older state.
func (c *CachedStore) invalidate(ctx context.Context, id string) {
	_, err := c.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Incr(ctx, c.genKey(id))
		if c.ttl > 0 {
			p.PExpire(ctx, c.genKey(id), 2*c.ttl)
		}
		p.Del(ctx, c.appKey(id))
		return nil
	})
	if err != nil {
		c.warn("invalidate", err)
	}
}

func (c *CachedStore) warn(op string, err error) {
	c.logger.Warn("Cache operation failed", map[string]interface{}{"operation": op, "error": err.Error()})
}
