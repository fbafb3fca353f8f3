package cache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"rendezvous/internal/pairing"
	"rendezvous/pkg/interfaces"
	"rendezvous/pkg/types"
)

// Config holds the Redis connection settings for the cooldown index
type Config struct {
	URL          string
	KeyPrefix    string
	PoolSize     int
	MinIdleConns int
}

// DefaultConfig returns sensible defaults for the cooldown index
func DefaultConfig() Config {
	return Config{
		URL:          "redis://localhost:6379/0",
		KeyPrefix:    "rendezvous:cooldown:",
		PoolSize:     10,
		MinIdleConns: 2,
	}
}

// CooldownIndex decorates a record store with a shared Redis index of
// pairwise cooldowns so every worker observes the same pair state.
// Reads fall through to the store whenever Redis misses or fails; the
// store stays the source of truth.
type CooldownIndex struct {
	store  interfaces.RecordStore
	client *redis.Client
	prefix string
	logger *slog.Logger
}

// New connects to Redis and wraps store
func New(store interfaces.RecordStore, cfg Config, logger *slog.Logger) (*CooldownIndex, error) {
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}
	if cfg.PoolSize > 0 {
		opts.PoolSize = cfg.PoolSize
	}
	opts.MinIdleConns = cfg.MinIdleConns

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	return NewWithClient(store, client, cfg.KeyPrefix, logger), nil
}

// NewWithClient wraps store using an existing client (for testing)
func NewWithClient(store interfaces.RecordStore, client *redis.Client, prefix string, logger *slog.Logger) *CooldownIndex {
	if prefix == "" {
		prefix = DefaultConfig().KeyPrefix
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &CooldownIndex{
		store:  store,
		client: client,
		prefix: prefix,
		logger: logger.With(slog.String("component", "cooldown_index")),
	}
}

// pairKey is independent of argument order
func (c *CooldownIndex) pairKey(a, b string) string {
	if b < a {
		a, b = b, a
	}
	return c.prefix + a + ":" + b
}

// FindCooldown consults the shared index first and falls back to the store
func (c *CooldownIndex) FindCooldown(ctx context.Context, a, b string, asOf time.Time) (*types.PairedScanRecord, error) {
	raw, err := c.client.Get(ctx, c.pairKey(a, b)).Result()
	switch {
	case err == nil:
		if until, perr := strconv.ParseInt(raw, 10, 64); perr == nil {
			if next := time.UnixMilli(until).UTC(); next.After(asOf) {
				return &types.PairedScanRecord{
					PlayerID:       a,
					PeerID:         b,
					ScanType:       types.ScanTypePeer,
					NextEligibleAt: next,
				}, nil
			}
		}
	case errors.Is(err, redis.Nil):
	default:
		c.logger.Warn("cooldown index read failed, using record store", slog.String("error", err.Error()))
	}

	record, err := c.store.FindCooldown(ctx, a, b, asOf)
	if err != nil || record == nil {
		return record, err
	}
	// Backfill so other workers skip the store next time
	c.remember(ctx, a, b, record.NextEligibleAt, asOf)
	return record, nil
}

// InsertScanRecord writes through to the store and then indexes the pair
func (c *CooldownIndex) InsertScanRecord(ctx context.Context, record *types.PairedScanRecord) error {
	if err := c.store.InsertScanRecord(ctx, record); err != nil {
		return err
	}
	if record.ScanType == types.ScanTypePeer {
		c.remember(ctx, record.PlayerID, record.PeerID, record.NextEligibleAt, record.ScannedAt)
	}
	return nil
}

// rememberScript raises the stored next-eligible time without ever
// shortening it. KEYS[1] pair key, ARGV[1] unix millis, ARGV[2] ttl millis.
var rememberScript = redis.NewScript(`
local cur = tonumber(redis.call("GET", KEYS[1]))
if cur and cur >= tonumber(ARGV[1]) then
	return 0
end
redis.call("SET", KEYS[1], ARGV[1], "PX", ARGV[2])
return 1
`)

// releaseScript deletes the pair key only while it still holds ARGV[1]
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// remember stores the pair's next-eligible time with a matching expiry.
// An existing later value is never shortened.
func (c *CooldownIndex) remember(ctx context.Context, a, b string, nextEligible, now time.Time) {
	ttl := nextEligible.Sub(now)
	if ttl <= 0 {
		return
	}
	keys := []string{c.pairKey(a, b)}
	if err := rememberScript.Run(ctx, c.client, keys, nextEligible.UnixMilli(), ttl.Milliseconds()).Err(); err != nil {
		c.logger.Warn("cooldown index write failed", slog.String("error", err.Error()))
	}
}

// ClaimPair reserves the pair with SET NX so that only one worker records
// a pairing. A stale value left behind after its time has passed is
// replaced. When Redis is unreachable the claim succeeds and the caller's
// in-process lock is the only guard.
func (c *CooldownIndex) ClaimPair(ctx context.Context, a, b string, until, now time.Time) (bool, time.Time, error) {
	ttl := until.Sub(now)
	if ttl <= 0 {
		return true, time.Time{}, nil
	}
	key := c.pairKey(a, b)
	value := until.UnixMilli()

	ok, err := c.client.SetNX(ctx, key, value, ttl).Result()
	if err != nil {
		c.logger.Warn("cooldown claim failed, continuing without shared lock", slog.String("error", err.Error()))
		return true, time.Time{}, nil
	}
	if ok {
		return true, time.Time{}, nil
	}

	held, err := c.client.Get(ctx, key).Int64()
	switch {
	case err == nil:
		if next := time.UnixMilli(held).UTC(); next.After(now) {
			return false, next, nil
		}
		if err := c.client.Set(ctx, key, value, ttl).Err(); err != nil {
			return false, time.Time{}, fmt.Errorf("failed to claim pair: %w", err)
		}
		return true, time.Time{}, nil
	case errors.Is(err, redis.Nil):
	default:
		return false, time.Time{}, fmt.Errorf("failed to read pair claim: %w", err)
	}

	// Expired between the two calls; try once more
	ok, err = c.client.SetNX(ctx, key, value, ttl).Result()
	if err != nil {
		return false, time.Time{}, fmt.Errorf("failed to claim pair: %w", err)
	}
	if !ok {
		return false, until, nil
	}
	return true, time.Time{}, nil
}

// ReleasePair removes a claim that did not lead to a recorded scan
func (c *CooldownIndex) ReleasePair(ctx context.Context, a, b string, until time.Time) error {
	keys := []string{c.pairKey(a, b)}
	return releaseScript.Run(ctx, c.client, keys, strconv.FormatInt(until.UnixMilli(), 10)).Err()
}

// LookupPlayer delegates to the store
func (c *CooldownIndex) LookupPlayer(ctx context.Context, playerID string) (*types.PlayerRecord, error) {
	return c.store.LookupPlayer(ctx, playerID)
}

// HealthCheck verifies both Redis and the wrapped store
func (c *CooldownIndex) HealthCheck(ctx context.Context) error {
	if err := c.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping failed: %w", err)
	}
	return c.store.HealthCheck(ctx)
}

// Close closes the Redis client and the wrapped store
func (c *CooldownIndex) Close() error {
	redisErr := c.client.Close()
	storeErr := c.store.Close()
	return errors.Join(redisErr, storeErr)
}

// Ensure CooldownIndex implements the interface
var (
	_ interfaces.RecordStore = (*CooldownIndex)(nil)
	_ pairing.PairClaimer    = (*CooldownIndex)(nil)
)
