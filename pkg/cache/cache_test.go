package cache

import (
	"context"
	"testing"
	"time"
)

func TestGoCache(t *testing.T) {
	config := LocalConfig{
		DefaultExpiration: 5 * time.Minute,
		CleanupInterval:   10 * time.Minute,
	}

	cache := NewGoCache(config)
	defer cache.Close()

	ctx := context.Background()

	t.Run("Set and Get", func(t *testing.T) {
		key := "test_key"
		value := "test_value"
		expiration := 1 * time.Minute

		err := cache.Set(ctx, key, value, expiration)
		if err != nil {
			t.Errorf("Failed to set cache: %v", err)
		}

		if retrieved, exists := cache.Get(ctx, key); !exists {
			t.Error("Cache value not found")
		} else if retrieved != value {
			t.Errorf("Expected %v, got %v", value, retrieved)
		}
	})

	t.Run("Delete", func(t *testing.T) {
		key := "delete_key"
		if err := cache.Set(ctx, key, "v", time.Minute); err != nil {
			t.Errorf("Failed to set cache: %v", err)
		}
		if err := cache.Delete(ctx, key); err != nil {
			t.Errorf("Failed to delete cache: %v", err)
		}
		if cache.Exists(ctx, key) {
			t.Error("Cache value still exists after delete")
		}
	})

	t.Run("Expiration", func(t *testing.T) {
		key := "expiring_key"
		if err := cache.Set(ctx, key, "v", 10*time.Millisecond); err != nil {
			t.Errorf("Failed to set cache: %v", err)
		}
		time.Sleep(30 * time.Millisecond)
		if _, exists := cache.Get(ctx, key); exists {
			t.Error("Cache value should have expired")
		}
	})

	t.Run("Clear", func(t *testing.T) {
		if err := cache.Set(ctx, "a", 1, time.Minute); err != nil {
			t.Errorf("Failed to set cache: %v", err)
		}
		if err := cache.Clear(ctx); err != nil {
			t.Errorf("Failed to clear cache: %v", err)
		}
		if cache.Exists(ctx, "a") {
			t.Error("Cache should be empty after clear")
		}
	})
}

func TestFactoryFallsBackToLocal(t *testing.T) {
	c := New(Config{Type: "unknown"})
	defer c.Close()
	if c == nil {
		t.Fatal("factory returned nil cache")
	}
	if err := c.Set(context.Background(), "k", "v", time.Minute); err != nil {
		t.Errorf("Failed to set cache: %v", err)
	}
}
