// Package budget persists embedding token counters in the cache store.
package budget

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/kailas-cloud/recipedex/internal/db"
)

// store is the consumer interface for budget operations (ISP).
type store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
}

// Store implements the token budget store on top of the KV facade. Counters
// are decimal strings; each write refreshes the window's TTL so stale
// windows expire on their own.
type Store struct {
	// mu serializes read-modify-write within this process. Concurrent
	// processes sharing one store may lose increments.
	mu       sync.Mutex
	store    store
	dailyTTL time.Duration
	monthTTL time.Duration
}

// New creates a budget store.
// dailyTTL is the TTL for daily keys (recommended: 48h).
// monthTTL is the TTL for monthly keys (recommended: 62 days).
func New(s store, dailyTTL, monthTTL time.Duration) *Store {
	return &Store{
		store:    s,
		dailyTTL: dailyTTL,
		monthTTL: monthTTL,
	}
}

// IncrBy adds val to the counter at key.
func (s *Store) IncrBy(ctx context.Context, key string, val int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, err := s.get(ctx, key)
	if err != nil {
		return err
	}
	next := strconv.FormatInt(cur+val, 10)
	if err := s.store.Set(ctx, key, []byte(next), s.ttlForKey(key)); err != nil {
		return fmt.Errorf("budget SET %s: %w", key, err)
	}
	return nil
}

// Get returns the counter at key, or 0 if it does not exist.
func (s *Store) Get(ctx context.Context, key string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.get(ctx, key)
}

func (s *Store) get(ctx context.Context, key string) (int64, error) {
	data, err := s.store.Get(ctx, key)
	if err != nil {
		if errors.Is(err, db.ErrKeyNotFound) {
			return 0, nil
		}
		return 0, fmt.Errorf("budget GET %s: %w", key, err)
	}

	val, err := strconv.ParseInt(string(data), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("budget GET %s parse: %w", key, err)
	}
	return val, nil
}

// ttlForKey picks the TTL from the window name in the key.
func (s *Store) ttlForKey(key string) time.Duration {
	if strings.Contains(key, ":daily:") {
		return s.dailyTTL
	}
	return s.monthTTL
}
