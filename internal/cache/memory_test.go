package cache

import (
	"bytes"
	"context"
	"testing"
	"time"
)

func TestMemoryCacheSetGet(t *testing.T) {
	c := NewMemoryCache()
	ctx := context.Background()

	if err := c.Set(ctx, "k", []byte("v"), time.Minute); err != nil {
		t.Fatalf("set failed: %v", err)
	}

	value, ok, err := c.Get(ctx, "k")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if !ok {
		t.Fatal("key not found after set")
	}
	if !bytes.Equal(value, []byte("v")) {
		t.Errorf("value = %q, want v", value)
	}
}

func TestMemoryCacheMiss(t *testing.T) {
	c := NewMemoryCache()

	_, ok, err := c.Get(context.Background(), "absent")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if ok {
		t.Error("found a key that was never set")
	}
}

func TestMemoryCacheExpiry(t *testing.T) {
	c := NewMemoryCache()
	ctx := context.Background()

	if err := c.Set(ctx, "short", []byte("v"), 10*time.Millisecond); err != nil {
		t.Fatal(err)
	}
	time.Sleep(30 * time.Millisecond)

	_, ok, err := c.Get(ctx, "short")
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Error("expired key still readable")
	}
}

func TestMemoryCacheDelete(t *testing.T) {
	c := NewMemoryCache()
	ctx := context.Background()

	if err := c.Set(ctx, "k", []byte("v"), time.Minute); err != nil {
		t.Fatal(err)
	}
	if err := c.Delete(ctx, "k"); err != nil {
		t.Fatalf("delete failed: %v", err)
	}

	_, ok, _ := c.Get(ctx, "k")
	if ok {
		t.Error("key readable after delete")
	}

	// Deleting a missing key is fine
	if err := c.Delete(ctx, "k"); err != nil {
		t.Errorf("second delete errored: %v", err)
	}
}

func TestMemoryCacheOverwrite(t *testing.T) {
	c := NewMemoryCache()
	ctx := context.Background()

	c.Set(ctx, "k", []byte("old"), time.Minute)
	c.Set(ctx, "k", []byte("new"), time.Minute)

	value, ok, _ := c.Get(ctx, "k")
	if !ok || !bytes.Equal(value, []byte("new")) {
		t.Errorf("value = %q, want new", value)
	}
}
