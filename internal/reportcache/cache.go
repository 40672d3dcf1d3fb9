// Package reportcache keeps built attendance reports in Redis.
package reportcache

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"geoattend/internal/model"
)

const (
	defaultPrefix = "geoattend:report:"
	versionPrefix = "geoattend:report-version:"
)

// setIfVersion writes the report only while the version key still holds
// ARGV[1]. A missing version key counts as 0.
var setIfVersion = redis.NewScript(`
local v = redis.call('GET', KEYS[1]) or '0'
if v ~= ARGV[1] then
	return 0
end
if tonumber(ARGV[3]) > 0 then
	redis.call('SET', KEYS[2], ARGV[2], 'PX', ARGV[3])
else
	redis.call('SET', KEYS[2], ARGV[2])
end
return 1
`)

// Cache stores one JSON report per class with a TTL, next to a per-class
// version counter bumped on every invalidation.
type Cache struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// New creates a cache. A zero ttl keeps entries until invalidated.
func New(client *redis.Client, ttl time.Duration) *Cache {
	return &Cache{client: client, prefix: defaultPrefix, ttl: ttl}
}

func (c *Cache) key(classID string) string {
	return c.prefix + classID
}

func (c *Cache) versionKey(classID string) string {
	return versionPrefix + classID
}

// Get returns the cached report; found is false on a miss.
func (c *Cache) Get(ctx context.Context, classID string) (model.Report, bool, error) {
	raw, err := c.client.Get(ctx, c.key(classID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return model.Report{}, false, nil
	}
	if err != nil {
		return model.Report{}, false, err
	}
	var rep model.Report
	if err := json.Unmarshal(raw, &rep); err != nil {
		return model.Report{}, false, err
	}
	return rep, true, nil
}

// Version returns the invalidation counter of a class, 0 if never invalidated.
func (c *Cache) Version(ctx context.Context, classID string) (int64, error) {
	v, err := c.client.Get(ctx, c.versionKey(classID)).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	return v, err
}

// Set stores rep under its class id if the class's version is still version.
// stored is false when an invalidation happened in between.
func (c *Cache) Set(ctx context.Context, rep model.Report, version int64) (bool, error) {
	raw, err := json.Marshal(rep)
	if err != nil {
		return false, err
	}
	keys := []string{c.versionKey(rep.ClassID), c.key(rep.ClassID)}
	n, err := setIfVersion.Run(ctx, c.client, keys,
		strconv.FormatInt(version, 10), raw, c.ttl.Milliseconds()).Int()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// Invalidate drops the cached report of a class and bumps its version.
func (c *Cache) Invalidate(ctx context.Context, classID string) error {
	pipe := c.client.TxPipeline()
	pipe.Incr(ctx, c.versionKey(classID))
	pipe.Del(ctx, c.key(classID))
	_, err := pipe.Exec(ctx)
	return err
}
