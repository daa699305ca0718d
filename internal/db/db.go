package db

import (
	"context"
	"time"
)

// Store is the key-value facade every cache backend implements.
type Store interface {
	Pinger
	KVStore
	Close() error
}

// Pinger checks database connectivity.
type Pinger interface {
	Ping(ctx context.Context) error
}

// KVStore provides simple key-value operations. Set replaces the whole value
// atomically; a ttl of 0 means no expiry.
type KVStore interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Del(ctx context.Context, key string) error
	Keys(ctx context.Context, prefix string) ([]string, error)
}
