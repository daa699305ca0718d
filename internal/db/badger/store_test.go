package badger

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/kailas-cloud/recipedex/internal/db"
)

func openMemory(t *testing.T) *Store {
	t.Helper()
	s, err := Open("", zap.NewNop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestStore_GetSetDel(t *testing.T) {
	s := openMemory(t)
	ctx := context.Background()

	if _, err := s.Get(ctx, "missing"); !errors.Is(err, db.ErrKeyNotFound) {
		t.Fatalf("expected ErrKeyNotFound, got %v", err)
	}
	if err := s.Set(ctx, "k1", []byte("v1"), 0); err != nil {
		t.Fatalf("Set: %v", err)
	}
	got, err := s.Get(ctx, "k1")
	if err != nil || string(got) != "v1" {
		t.Fatalf("expected v1, got %q, %v", got, err)
	}
	if err := s.Del(ctx, "k1"); err != nil {
		t.Fatalf("Del: %v", err)
	}
	if _, err := s.Get(ctx, "k1"); !errors.Is(err, db.ErrKeyNotFound) {
		t.Fatalf("expected ErrKeyNotFound after Del, got %v", err)
	}
}

func TestStore_KeysByPrefix(t *testing.T) {
	s := openMemory(t)
	ctx := context.Background()

	for _, k := range []string{"emb:item:b", "emb:item:a", "emb:query:x", "zzz"} {
		if err := s.Set(ctx, k, []byte("x"), 0); err != nil {
			t.Fatalf("Set %s: %v", k, err)
		}
	}
	keys, err := s.Keys(ctx, "emb:item:")
	if err != nil {
		t.Fatalf("Keys: %v", err)
	}
	if len(keys) != 2 || keys[0] != "emb:item:a" || keys[1] != "emb:item:b" {
		t.Errorf("unexpected keys: %v", keys)
	}
}

func TestStore_SetWithTTL(t *testing.T) {
	s := openMemory(t)
	ctx := context.Background()

	if err := s.Set(ctx, "q", []byte("v"), time.Hour); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if _, err := s.Get(ctx, "q"); err != nil {
		t.Fatalf("expected live value, got %v", err)
	}
}

func TestStore_PingAfterClose(t *testing.T) {
	s, err := Open("", nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := s.Ping(context.Background()); err != nil {
		t.Fatalf("Ping: %v", err)
	}
	s.Close()
	if err := s.Ping(context.Background()); !errors.Is(err, db.ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
}
