// Package cache provides Redis-based caching for ticker observations.
// When Redis is unavailable, operations degrade gracefully: callers fall
// back to the database and the service probes for recovery.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"kraken-trading-bot/internal/kraken"
)

const (
	keyLatestTicker = "ticker:%s:latest"

	defaultTickerTTL = time.Hour
)

// TickerCache keeps the latest ticker per pair in Redis so the status API
// and telemetry can read prices without hitting the exchange or the
// database. A circuit breaker marks Redis unhealthy after repeated
// failures and probes for recovery on an interval.
type TickerCache struct {
	client *redis.Client

	mu           sync.RWMutex
	healthy      bool
	failureCount int
	lastCheck    time.Time

	maxFailures   int
	checkInterval time.Duration
}

// Config holds Redis connection settings
type Config struct {
	Enabled  bool   `json:"enabled"`
	Address  string `json:"address"`
	Password string `json:"password"`
	DB       int    `json:"db"`
	PoolSize int    `json:"pool_size"`
}

// NewTickerCache connects to Redis. A failed initial connection returns
// the cache in degraded mode rather than an error.
func NewTickerCache(cfg Config) (*TickerCache, error) {
	if !cfg.Enabled {
		return nil, fmt.Errorf("redis is not enabled in configuration")
	}

	poolSize := cfg.PoolSize
	if poolSize == 0 {
		poolSize = 10
	}

	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Address,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     poolSize,
		MinIdleConns: 2,
		MaxRetries:   3,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	tc := &TickerCache{
		client:        client,
		maxFailures:   3,
		checkInterval: 30 * time.Second,
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		log.Printf("[CACHE] Initial Redis connection failed: %v", err)
		return tc, nil
	}

	tc.healthy = true
	tc.lastCheck = time.Now()
	log.Printf("[CACHE] Redis connected successfully at %s", cfg.Address)

	return tc, nil
}

// IsHealthy returns whether Redis is currently available.
func (tc *TickerCache) IsHealthy() bool {
	tc.mu.RLock()
	defer tc.mu.RUnlock()
	return tc.healthy
}

func (tc *TickerCache) recordFailure() {
	tc.mu.Lock()
	defer tc.mu.Unlock()

	tc.failureCount++
	if tc.failureCount >= tc.maxFailures {
		if tc.healthy {
			log.Printf("[CACHE] Circuit breaker OPEN: Redis marked unhealthy after %d failures", tc.failureCount)
		}
		tc.healthy = false
	}
}

func (tc *TickerCache) recordSuccess() {
	tc.mu.Lock()
	defer tc.mu.Unlock()

	if !tc.healthy && tc.failureCount > 0 {
		log.Printf("[CACHE] Circuit breaker CLOSED: Redis recovered")
	}
	tc.failureCount = 0
	tc.healthy = true
	tc.lastCheck = time.Now()
}

// available reports whether an operation should be attempted. While the
// breaker is open, one probe per check interval is allowed through.
func (tc *TickerCache) available() bool {
	tc.mu.Lock()
	defer tc.mu.Unlock()

	if tc.healthy {
		return true
	}
	if time.Since(tc.lastCheck) >= tc.checkInterval {
		tc.lastCheck = time.Now()
		return true
	}
	return false
}

// SetLatest stores the most recent ticker for a pair.
func (tc *TickerCache) SetLatest(ctx context.Context, ticker kraken.Ticker) error {
	if !tc.available() {
		return fmt.Errorf("redis unavailable")
	}

	data, err := json.Marshal(ticker)
	if err != nil {
		return err
	}

	key := fmt.Sprintf(keyLatestTicker, ticker.Pair)
	if err := tc.client.Set(ctx, key, data, defaultTickerTTL).Err(); err != nil {
		tc.recordFailure()
		return err
	}

	tc.recordSuccess()
	return nil
}

// GetLatest reads the most recent ticker for a pair. Returns ok=false on
// a cache miss; an error means Redis itself failed and the caller should
// fall back to the database.
func (tc *TickerCache) GetLatest(ctx context.Context, pair string) (kraken.Ticker, bool, error) {
	if !tc.available() {
		return kraken.Ticker{}, false, fmt.Errorf("redis unavailable")
	}

	key := fmt.Sprintf(keyLatestTicker, pair)
	data, err := tc.client.Get(ctx, key).Bytes()
	if err == redis.Nil {
		tc.recordSuccess()
		return kraken.Ticker{}, false, nil
	}
	if err != nil {
		tc.recordFailure()
		return kraken.Ticker{}, false, err
	}

	var ticker kraken.Ticker
	if err := json.Unmarshal(data, &ticker); err != nil {
		return kraken.Ticker{}, false, err
	}

	tc.recordSuccess()
	return ticker, true, nil
}

// Close releases the Redis connection.
func (tc *TickerCache) Close() error {
	return tc.client.Close()
}
