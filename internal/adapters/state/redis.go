// Package state implements the shared StateStore over Redis. Each entity
// kind lives in its own logical database so operational tooling can inspect
// or flush one concern without touching the others.
//
// Key layout:
//   - DB flags:     tarpit:flag:<ip>  -> latest visit timestamp, short TTL
//   - DB blocklist: blocklist:ip:<ip> -> reason string, TTL = block duration
//   - DB frequency: freq:<ip>         -> sorted set of request timestamps
//   - DB hops:      hops:<ip>         -> integer counter, TTL = hop window
package state

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/xoelrdgz/webtrap/internal/domain"
)

const (
	keyFlagPrefix  = "tarpit:flag:"
	keyBlockPrefix = "blocklist:ip:"
	keyFreqPrefix  = "freq:"
	keyHopsPrefix  = "hops:"

	// Frequency keys outlive their window slightly so a quiet source's set
	// disappears on its own instead of lingering trimmed-but-present.
	freqExpirySlack = time.Minute
)

// Config selects the Redis endpoint and the logical database per entity kind.
type Config struct {
	Addr     string
	Password string

	DBFlags     int
	DBBlocklist int
	DBFrequency int
	DBHops      int

	// OpTimeout bounds every individual store operation.
	OpTimeout time.Duration
}

func DefaultConfig() Config {
	return Config{
		Addr:        "localhost:6379",
		DBFlags:     1,
		DBBlocklist: 2,
		DBFrequency: 3,
		DBHops:      4,
		OpTimeout:   time.Second,
	}
}

// RedisStore is the production StateStore. One client per logical database;
// go-redis multiplexes connections internally, so the store is a process
// singleton.
type RedisStore struct {
	flags     *redis.Client
	blocklist *redis.Client
	frequency *redis.Client
	hops      *redis.Client
	opTimeout time.Duration
}

func New(cfg Config) *RedisStore {
	if cfg.OpTimeout <= 0 {
		cfg.OpTimeout = time.Second
	}
	open := func(db int) *redis.Client {
		return redis.NewClient(&redis.Options{
			Addr:         cfg.Addr,
			Password:     cfg.Password,
			DB:           db,
			DialTimeout:  cfg.OpTimeout,
			ReadTimeout:  cfg.OpTimeout,
			WriteTimeout: cfg.OpTimeout,
		})
	}
	return &RedisStore{
		flags:     open(cfg.DBFlags),
		blocklist: open(cfg.DBBlocklist),
		frequency: open(cfg.DBFrequency),
		hops:      open(cfg.DBHops),
		opTimeout: cfg.OpTimeout,
	}
}

func (s *RedisStore) bound(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.opTimeout)
}

// IsBlocked checks for a blocklist entry. Errors are returned for the caller
// to treat as fail-open.
func (s *RedisStore) IsBlocked(ctx context.Context, src string) (bool, error) {
	ctx, cancel := s.bound(ctx)
	defer cancel()

	n, err := s.blocklist.Exists(ctx, keyBlockPrefix+src).Result()
	if err != nil {
		return false, fmt.Errorf("%w: blocklist lookup: %v", domain.ErrStateStore, err)
	}
	return n > 0, nil
}

// AddBlock writes a blocklist entry. A source already blocked keeps the
// longer of the remaining and the new TTL, so repeated blocks only ever
// extend coverage.
func (s *RedisStore) AddBlock(ctx context.Context, src, reason string, ttl time.Duration) error {
	ctx, cancel := s.bound(ctx)
	defer cancel()

	key := keyBlockPrefix + src
	remaining, err := s.blocklist.TTL(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("%w: blocklist ttl: %v", domain.ErrStateStore, err)
	}
	if remaining > ttl {
		ttl = remaining
	}
	if err := s.blocklist.Set(ctx, key, reason, ttl).Err(); err != nil {
		return fmt.Errorf("%w: blocklist set: %v", domain.ErrStateStore, err)
	}
	return nil
}

// FlagTarpit marks the source as a recent tarpit visitor.
func (s *RedisStore) FlagTarpit(ctx context.Context, src string, ttl time.Duration) error {
	ctx, cancel := s.bound(ctx)
	defer cancel()

	value := time.Now().UTC().Format(time.RFC3339)
	if err := s.flags.Set(ctx, keyFlagPrefix+src, value, ttl).Err(); err != nil {
		return fmt.Errorf("%w: tarpit flag: %v", domain.ErrStateStore, err)
	}
	return nil
}

// IncrHops bumps the hop counter. EXPIRE NX gives first-write-sets-expiry:
// the window starts at the first hop and is never pushed out by later ones.
func (s *RedisStore) IncrHops(ctx context.Context, src string, window time.Duration) (int64, error) {
	ctx, cancel := s.bound(ctx)
	defer cancel()

	key := keyHopsPrefix + src
	pipe := s.hops.Pipeline()
	incr := pipe.Incr(ctx, key)
	pipe.ExpireNX(ctx, key, window)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("%w: hop increment: %v", domain.ErrStateStore, err)
	}
	return incr.Val(), nil
}

// RecordRequest maintains the per-source sliding window as a sorted set of
// timestamps: trim entries older than the window, add this one, count what
// remains, and read the previous entry for the inter-request gap.
func (s *RedisStore) RecordRequest(ctx context.Context, src string, ts time.Time, window time.Duration) (int64, float64, error) {
	ctx, cancel := s.bound(ctx)
	defer cancel()

	key := keyFreqPrefix + src
	now := float64(ts.UnixNano()) / float64(time.Second)
	windowStart := now - window.Seconds()

	pipe := s.frequency.Pipeline()
	pipe.ZRemRangeByScore(ctx, key, "-inf", fmt.Sprintf("(%f", windowStart))
	pipe.ZAdd(ctx, key, redis.Z{
		Score:  now,
		Member: ts.UTC().Format(time.RFC3339Nano),
	})
	count := pipe.ZCard(ctx, key)
	last := pipe.ZRangeWithScores(ctx, key, -2, -1)
	pipe.Expire(ctx, key, window+freqExpirySlack)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, -1, fmt.Errorf("%w: frequency record: %v", domain.ErrStateStore, err)
	}

	sinceLast := -1.0
	if entries := last.Val(); len(entries) > 1 {
		sinceLast = now - entries[0].Score
		if sinceLast < 0 {
			sinceLast = 0
		}
	}
	return count.Val(), sinceLast, nil
}

// Ping verifies the blocklist database is reachable; all databases share the
// endpoint, so one round trip answers for the lot.
func (s *RedisStore) Ping(ctx context.Context) error {
	ctx, cancel := s.bound(ctx)
	defer cancel()

	if err := s.blocklist.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("%w: ping: %v", domain.ErrStateStore, err)
	}
	return nil
}

func (s *RedisStore) Close() error {
	for _, c := range []*redis.Client{s.flags, s.blocklist, s.frequency, s.hops} {
		if err := c.Close(); err != nil {
			return err
		}
	}
	return nil
}
