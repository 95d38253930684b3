package cache

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/opensource-finance/harrier/internal/domain"
)

func TestLRUCacheBasicOperations(t *testing.T) {
	c := NewLRUCache(10)
	defer c.Close()
	ctx := context.Background()

	t.Run("SetAndGet", func(t *testing.T) {
		if err := c.Set(ctx, "tenant-001", "key1", []byte("value1"), time.Minute); err != nil {
			t.Fatalf("failed to set: %v", err)
		}
		val, err := c.Get(ctx, "tenant-001", "key1")
		if err != nil {
			t.Fatalf("failed to get: %v", err)
		}
		if string(val) != "value1" {
			t.Errorf("got %q, want %q", val, "value1")
		}
	})

	t.Run("Miss", func(t *testing.T) {
		val, err := c.Get(ctx, "tenant-001", "missing")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if val != nil {
			t.Errorf("expected nil for missing key, got %q", val)
		}
	})

	t.Run("TenantIsolation", func(t *testing.T) {
		val, err := c.Get(ctx, "other-tenant", "key1")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if val != nil {
			t.Errorf("key leaked across tenants: %q", val)
		}
	})

	t.Run("Delete", func(t *testing.T) {
		if err := c.Delete(ctx, "tenant-001", "key1"); err != nil {
			t.Fatalf("failed to delete: %v", err)
		}
		val, _ := c.Get(ctx, "tenant-001", "key1")
		if val != nil {
			t.Errorf("key survived delete: %q", val)
		}
	})
}

func TestLRUCacheExpiry(t *testing.T) {
	c := NewLRUCache(10)
	defer c.Close()
	ctx := context.Background()

	if err := c.Set(ctx, "tenant-001", "short", []byte("v"), 10*time.Millisecond); err != nil {
		t.Fatalf("failed to set: %v", err)
	}
	time.Sleep(30 * time.Millisecond)

	val, err := c.Get(ctx, "tenant-001", "short")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if val != nil {
		t.Errorf("expired entry still returned: %q", val)
	}
}

func TestLRUCacheEviction(t *testing.T) {
	c := NewLRUCache(3)
	defer c.Close()
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		key := fmt.Sprintf("key-%d", i)
		if err := c.Set(ctx, "tenant-001", key, []byte("v"), time.Minute); err != nil {
			t.Fatalf("failed to set: %v", err)
		}
	}

	size, capacity := c.Stats()
	if size > capacity {
		t.Errorf("size %d exceeds capacity %d", size, capacity)
	}

	// Oldest entries are evicted first.
	val, _ := c.Get(ctx, "tenant-001", "key-0")
	if val != nil {
		t.Error("oldest entry should have been evicted")
	}
	val, _ = c.Get(ctx, "tenant-001", "key-4")
	if val == nil {
		t.Error("newest entry should still be cached")
	}
}

func TestLRUCacheHistory(t *testing.T) {
	c := NewLRUCache(10)
	defer c.Close()
	ctx := context.Background()

	history := []*domain.Transaction{
		{ID: "tx-002", UserID: "user-001", Amount: 50, Timestamp: time.Now().UTC()},
		{ID: "tx-001", UserID: "user-001", Amount: 25, Timestamp: time.Now().UTC().Add(-time.Hour)},
	}
	if err := c.SetHistory(ctx, "tenant-001", "user-001", history, time.Minute); err != nil {
		t.Fatalf("failed to set history: %v", err)
	}

	got, err := c.GetHistory(ctx, "tenant-001", "user-001")
	if err != nil {
		t.Fatalf("failed to get history: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 transactions, got %d", len(got))
	}
	if got[0].ID != "tx-002" {
		t.Errorf("history order changed: first = %s", got[0].ID)
	}

	t.Run("MissIsNil", func(t *testing.T) {
		got, err := c.GetHistory(ctx, "tenant-001", "nobody")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if got != nil {
			t.Errorf("expected nil history on miss, got %v", got)
		}
	})
}

func TestLRUCacheCounter(t *testing.T) {
	c := NewLRUCache(10)
	defer c.Close()
	ctx := context.Background()

	for want := int64(1); want <= 3; want++ {
		got, err := c.IncrementCounter(ctx, "tenant-001", "counter", time.Minute)
		if err != nil {
			t.Fatalf("failed to increment: %v", err)
		}
		if got != want {
			t.Errorf("counter = %d, want %d", got, want)
		}
	}

	t.Run("WindowReset", func(t *testing.T) {
		if _, err := c.IncrementCounter(ctx, "tenant-001", "windowed", 10*time.Millisecond); err != nil {
			t.Fatalf("failed to increment: %v", err)
		}
		time.Sleep(30 * time.Millisecond)
		got, err := c.IncrementCounter(ctx, "tenant-001", "windowed", 10*time.Millisecond)
		if err != nil {
			t.Fatalf("failed to increment: %v", err)
		}
		if got != 1 {
			t.Errorf("counter after window = %d, want 1", got)
		}
	})
}

func TestNewFactory(t *testing.T) {
	c, err := New(domain.CacheConfig{Type: "memory", LocalMaxSize: 100})
	if err != nil {
		t.Fatalf("failed to create memory cache: %v", err)
	}
	defer c.Close()

	if err := c.Ping(context.Background()); err != nil {
		t.Errorf("ping failed: %v", err)
	}

	t.Run("UnknownType", func(t *testing.T) {
		_, err := New(domain.CacheConfig{Type: "bogus"})
		if err == nil {
			t.Error("expected error for unknown cache type")
		}
	})
}
