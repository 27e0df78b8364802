package cache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestHelper(t *testing.T) (*Helper, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return New(client, "test:"), mr
}

type item struct {
	Name  string  `json:"name"`
	Score float64 `json:"score"`
}

func TestSetGet(t *testing.T) {
	h, mr := newTestHelper(t)
	ctx := context.Background()

	if err := h.Set(ctx, "a", item{Name: "x", Score: 1.5}, time.Minute); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if !mr.Exists("test:a") {
		t.Error("key not stored with prefix")
	}
	var got item
	if err := h.Get(ctx, "a", &got); err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Name != "x" || got.Score != 1.5 {
		t.Errorf("Get() = %+v, want {x 1.5}", got)
	}
}

func TestGetMissingAndExpired(t *testing.T) {
	h, mr := newTestHelper(t)
	ctx := context.Background()
	var got item
	if err := h.Get(ctx, "none", &got); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get() error = %v, want ErrNotFound", err)
	}

	_ = h.Set(ctx, "short", item{Name: "y"}, time.Second)
	mr.FastForward(2 * time.Second)
	if err := h.Get(ctx, "short", &got); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get() after TTL error = %v, want ErrNotFound", err)
	}
}

func TestDelete(t *testing.T) {
	h, _ := newTestHelper(t)
	ctx := context.Background()
	_ = h.Set(ctx, "a", item{}, time.Minute)
	_ = h.Set(ctx, "b", item{}, time.Minute)
	if err := h.Delete(ctx, "a", "b"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	var got item
	if err := h.Get(ctx, "a", &got); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get() after Delete error = %v, want ErrNotFound", err)
	}
}

func TestNilClient(t *testing.T) {
	h := New(nil, "x:")
	ctx := context.Background()
	if err := h.Set(ctx, "a", item{}, time.Minute); err != nil {
		t.Errorf("Set() without client = %v, want nil", err)
	}
	var got item
	if err := h.Get(ctx, "a", &got); !errors.Is(err, ErrNotAvailable) {
		t.Errorf("Get() without client = %v, want ErrNotAvailable", err)
	}
	if err := h.Ping(ctx); !errors.Is(err, ErrNotAvailable) {
		t.Errorf("Ping() without client = %v, want ErrNotAvailable", err)
	}
}
