package settlement

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
)

type MemoryRateStore struct {
	mu    sync.RWMutex
	rates map[string]decimal.Decimal
}

func NewMemoryRateStore() *MemoryRateStore {
	return &MemoryRateStore{rates: make(map[string]decimal.Decimal)}
}

func (s *MemoryRateStore) LastRate(_ context.Context, symbol string) (decimal.Decimal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.rates[symbol]
	if !ok {
		return decimal.Zero, ErrNoRate
	}
	return r, nil
}

func (s *MemoryRateStore) SaveRate(_ context.Context, symbol string, rate decimal.Decimal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rates[symbol] = rate
	return nil
}

// RedisRateStore shares the last known rate between terminals.
type RedisRateStore struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisRateStore(client *redis.Client, ttl time.Duration) *RedisRateStore {
	return &RedisRateStore{client: client, ttl: ttl}
}

func rateKey(symbol string) string {
	return "settlement:rate:" + symbol
}

func (s *RedisRateStore) LastRate(ctx context.Context, symbol string) (decimal.Decimal, error) {
	v, err := s.client.Get(ctx, rateKey(symbol)).Result()
	if errors.Is(err, redis.Nil) {
		return decimal.Zero, ErrNoRate
	}
	if err != nil {
		return decimal.Zero, fmt.Errorf("reading rate: %w", err)
	}
	return decimal.NewFromString(v)
}

func (s *RedisRateStore) SaveRate(ctx context.Context, symbol string, rate decimal.Decimal) error {
	if err := s.client.Set(ctx, rateKey(symbol), rate.String(), s.ttl).Err(); err != nil {
		return fmt.Errorf("saving rate: %w", err)
	}
	return nil
}
