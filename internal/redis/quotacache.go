package redisclient

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// CachedQuota is the quota read model for one pet parent and calendar year.
type CachedQuota struct {
	SubscriptionID uuid.UUID
	Remaining      int
	Max            int
	EndDate        time.Time
	NotFound       bool // no active subscription for that year
}

const (
	quotaKeyPrefix    = "subscription:quota:"
	fieldSubID        = "subscription_id"
	fieldRemaining    = "remaining"
	fieldMax          = "max"
	fieldEndDate      = "end_date"
	fieldNullMarker   = "_null"
	quotaTTLJitterDiv = 5
	// generations outlive any cached entry so a slow reader always sees the bump
	generationTTL = 24 * time.Hour
)

// QuotaCache stores CachedQuota in a Redis hash with a jittered TTL.
type QuotaCache struct {
	client *redis.Client
	ttl    time.Duration
}

func NewQuotaCache(client *redis.Client, ttl time.Duration) *QuotaCache {
	return &QuotaCache{client: client, ttl: ttl}
}

// The hash tag keeps an entry and its generation in one cluster slot.
func quotaKey(petParentID uuid.UUID, year int) string {
	return fmt.Sprintf("%s{%s:%d}", quotaKeyPrefix, petParentID, year)
}

func generationKey(petParentID uuid.UUID, year int) string {
	return quotaKey(petParentID, year) + ":gen"
}

// Get returns nil on a cache miss.
func (c *QuotaCache) Get(ctx context.Context, petParentID uuid.UUID, year int) (*CachedQuota, error) {
	result, err := c.client.HGetAll(ctx, quotaKey(petParentID, year)).Result()
	if err != nil {
		return nil, fmt.Errorf("get quota from cache: %w", err)
	}
	if len(result) == 0 {
		return nil, nil
	}
	if result[fieldNullMarker] == "1" {
		return &CachedQuota{NotFound: true}, nil
	}

	q := &CachedQuota{}
	if q.SubscriptionID, err = uuid.Parse(result[fieldSubID]); err != nil {
		return nil, nil
	}
	q.Remaining, _ = strconv.Atoi(result[fieldRemaining])
	q.Max, _ = strconv.Atoi(result[fieldMax])
	if unix, err := strconv.ParseInt(result[fieldEndDate], 10, 64); err == nil {
		q.EndDate = time.Unix(unix, 0).UTC()
	}
	return q, nil
}

// Generation returns the invalidation counter for the entry. Read it before
// loading the value that will be passed to Set.
func (c *QuotaCache) Generation(ctx context.Context, petParentID uuid.UUID, year int) (int64, error) {
	gen, err := c.client.Get(ctx, generationKey(petParentID, year)).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("get quota generation: %w", err)
	}
	return gen, nil
}

var setIfGenerationScript = redis.NewScript(`
local cur = redis.call("GET", KEYS[2])
if (cur or "0") ~= ARGV[1] then
  return 0
end
redis.call("DEL", KEYS[1])
redis.call("HSET", KEYS[1], unpack(ARGV, 3))
redis.call("PEXPIRE", KEYS[1], ARGV[2])
return 1
`)

// Set stores q only while the generation is still gen. It reports false when an
// invalidation ran after gen was read, leaving the entry uncached.
func (c *QuotaCache) Set(ctx context.Context, petParentID uuid.UUID, year int, gen int64, q CachedQuota) (bool, error) {
	args := []any{strconv.FormatInt(gen, 10), c.jitteredTTL().Milliseconds()}
	if q.NotFound {
		args = append(args, fieldNullMarker, "1")
	} else {
		args = append(args,
			fieldSubID, q.SubscriptionID.String(),
			fieldRemaining, q.Remaining,
			fieldMax, q.Max,
			fieldEndDate, q.EndDate.Unix(),
		)
	}

	keys := []string{quotaKey(petParentID, year), generationKey(petParentID, year)}
	stored, err := setIfGenerationScript.Run(ctx, c.client, keys, args...).Int()
	if err != nil {
		return false, fmt.Errorf("set quota cache: %w", err)
	}
	return stored == 1, nil
}

// Invalidate drops the entry and bumps its generation, so a read that loaded
// the old value before the bump cannot store it afterwards.
func (c *QuotaCache) Invalidate(ctx context.Context, petParentID uuid.UUID, year int) error {
	gk := generationKey(petParentID, year)
	pipe := c.client.TxPipeline()
	pipe.Incr(ctx, gk)
	pipe.Expire(ctx, gk, generationTTL)
	pipe.Del(ctx, quotaKey(petParentID, year))
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("invalidate quota cache: %w", err)
	}
	return nil
}

func (c *QuotaCache) jitteredTTL() time.Duration {
	jitter := c.ttl / quotaTTLJitterDiv
	if jitter <= 0 {
		return c.ttl
	}
	return c.ttl + time.Duration(rand.Int63n(int64(jitter)))
}
