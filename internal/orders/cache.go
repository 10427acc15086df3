package orders

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"github.com/ariefcatur/go-order-saga/internal/redisx"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"math"
	"strconv"
	"time"
)

// Cache is a best-effort read-through cache; the repository stays the source
// of truth, so failures are logged and never surfaced. Set never replaces an
// entry with an older version, and Invalidate marks the order as deleted so
// a reader holding an older row cannot bring it back.
type Cache interface {
	Get(ctx context.Context, id int64) (*Order, bool)
	Set(ctx context.Context, o *Order)
	Invalidate(ctx context.Context, id int64)
}

// order:{id} adalah hash {v: version, d: json}. d kosong = tombstone.
var setIfNewer = redis.NewScript(`
local cur = redis.call('HGET', KEYS[1], 'v')
if cur and tonumber(cur) >= tonumber(ARGV[1]) then
	return 0
end
redis.call('HSET', KEYS[1], 'v', ARGV[1], 'd', ARGV[2])
redis.call('PEXPIRE', KEYS[1], ARGV[3])
return 1
`)

// tombstone menang dari version berapa pun.
var tombstoneVersion = strconv.FormatInt(math.MaxInt64, 10)

type RedisCache struct {
	RDB *redis.Client
	TTL time.Duration
	Log zerolog.Logger
}

func (c *RedisCache) ttl() time.Duration {
	if c.TTL > 0 {
		return c.TTL
	}
	return redisx.TTLOrderCache
}

func (c *RedisCache) Get(ctx context.Context, id int64) (*Order, bool) {
	s, err := c.RDB.HGet(ctx, fmt.Sprintf(redisx.KeyOrder, id), "d").Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.Log.Warn().Err(err).Int64("order_id", id).Msg("order cache get")
		}
		return nil, false
	}
	if len(s) == 0 {
		return nil, false
	}
	var o Order
	if err := json.Unmarshal(s, &o); err != nil {
		c.Log.Warn().Err(err).Int64("order_id", id).Msg("order cache decode")
		return nil, false
	}
	return &o, true
}

func (c *RedisCache) Set(ctx context.Context, o *Order) {
	b, err := json.Marshal(o)
	if err != nil {
		return
	}
	c.store(ctx, o.ID, strconv.FormatInt(o.Version, 10), b, c.ttl())
}

func (c *RedisCache) Invalidate(ctx context.Context, id int64) {
	c.store(ctx, id, tombstoneVersion, nil, redisx.TTLOrderTombstone)
}

func (c *RedisCache) store(ctx context.Context, id int64, version string, data []byte, ttl time.Duration) {
	key := fmt.Sprintf(redisx.KeyOrder, id)
	err := setIfNewer.Run(ctx, c.RDB, []string{key}, version, data, ttl.Milliseconds()).Err()
	if err != nil && !errors.Is(err, redis.Nil) {
		c.Log.Warn().Err(err).Int64("order_id", id).Msg("order cache set")
	}
}

type noCache struct{}

func (noCache) Get(context.Context, int64) (*Order, bool) { return nil, false }
func (noCache) Set(context.Context, *Order)               {}
func (noCache) Invalidate(context.Context, int64)         {}
