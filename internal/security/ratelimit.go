package security

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	DefaultUserLimit = 5
	DefaultIPLimit   = 10
	DefaultWindow    = time.Hour
)

// CounterStore is an expiring key-value counter. Exact consistency under
// concurrent increments is not required; an at-least-once increment under
// races is acceptable since the limiter is an abuse deterrent, not a
// billing-critical count.
type CounterStore interface {
	// Incr increments key by one, setting ttl when the key is created, and
	// returns the new count.
	Incr(ctx context.Context, key string, ttl time.Duration) (int64, error)
	// Get returns the current count, zero if the key does not exist.
	Get(ctx context.Context, key string) (int64, error)
}

// RateLimiter tracks donation attempts per authenticated user and per IP
// within a fixed TTL window. Counters are incremented only for requests the
// validator accepted, so failed attempts do not consume the budget.
type RateLimiter struct {
	store     CounterStore
	userLimit int64
	ipLimit   int64
	window    time.Duration
	logger    *zap.Logger
}

func NewRateLimiter(store CounterStore, logger *zap.Logger) *RateLimiter {
	return &RateLimiter{
		store:     store,
		userLimit: DefaultUserLimit,
		ipLimit:   DefaultIPLimit,
		window:    DefaultWindow,
		logger:    logger,
	}
}

func userKey(userID string) string { return fmt.Sprintf("donation:rl:user:%s", userID) }
func ipKey(addr string) string     { return fmt.Sprintf("donation:rl:ip:%s", addr) }

// Check returns the rate-limit errors for the caller, empty when allowed.
// It does not mutate counters.
func (rl *RateLimiter) Check(ctx context.Context, userID, ipAddress string) []string {
	var errs []string

	if userID != "" {
		count, err := rl.store.Get(ctx, userKey(userID))
		if err != nil {
			rl.logger.Error("rate limit lookup failed", zap.String("user_id", userID), zap.Error(err))
		} else if count >= rl.userLimit {
			rl.logger.Warn("donation rate limit exceeded for user", zap.String("user_id", userID), zap.Int64("attempts", count))
			errs = append(errs, "Too many donation attempts. Please try again later.")
		}
	}

	if ipAddress != "" {
		count, err := rl.store.Get(ctx, ipKey(ipAddress))
		if err != nil {
			rl.logger.Error("rate limit lookup failed", zap.String("ip", ipAddress), zap.Error(err))
		} else if count >= rl.ipLimit {
			rl.logger.Warn("donation rate limit exceeded for ip", zap.String("ip", ipAddress), zap.Int64("attempts", count))
			errs = append(errs, "Too many donation attempts from this address. Please try again later.")
		}
	}

	return errs
}

// Record increments the caller's counters. Called exactly once per validated
// request.
func (rl *RateLimiter) Record(ctx context.Context, userID, ipAddress string) {
	if userID != "" {
		if _, err := rl.store.Incr(ctx, userKey(userID), rl.window); err != nil {
			rl.logger.Error("rate limit increment failed", zap.String("user_id", userID), zap.Error(err))
		}
	}
	if ipAddress != "" {
		if _, err := rl.store.Incr(ctx, ipKey(ipAddress), rl.window); err != nil {
			rl.logger.Error("rate limit increment failed", zap.String("ip", ipAddress), zap.Error(err))
		}
	}
}

// RedisCounterStore backs the limiter with redis INCR + EXPIRE.
type RedisCounterStore struct {
	client *redis.Client
}

func NewRedisCounterStore(client *redis.Client) *RedisCounterStore {
	return &RedisCounterStore{client: client}
}

func (s *RedisCounterStore) Incr(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	pipe := s.client.TxPipeline()
	incr := pipe.Incr(ctx, key)
	pipe.ExpireNX(ctx, key, ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("counter incr: %w", err)
	}
	return incr.Val(), nil
}

func (s *RedisCounterStore) Get(ctx context.Context, key string) (int64, error) {
	count, err := s.client.Get(ctx, key).Int64()
	if err == redis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("counter get: %w", err)
	}
	return count, nil
}

// MemoryCounterStore is an in-process CounterStore for development and tests.
type MemoryCounterStore struct {
	mu      sync.Mutex
	entries map[string]*memoryCounter
	now     func() time.Time
}

type memoryCounter struct {
	count     int64
	expiresAt time.Time
}

func NewMemoryCounterStore() *MemoryCounterStore {
	return &MemoryCounterStore{
		entries: make(map[string]*memoryCounter),
		now:     time.Now,
	}
}

func (s *MemoryCounterStore) Incr(_ context.Context, key string, ttl time.Duration) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.entries[key]
	if !ok || s.now().After(entry.expiresAt) {
		entry = &memoryCounter{expiresAt: s.now().Add(ttl)}
		s.entries[key] = entry
	}
	entry.count++
	return entry.count, nil
}

func (s *MemoryCounterStore) Get(_ context.Context, key string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.entries[key]
	if !ok || s.now().After(entry.expiresAt) {
		return 0, nil
	}
	return entry.count, nil
}
