package cache

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestMemoryProviderRoundTrip(t *testing.T) {
	m := NewMemoryProvider()
	ctx := context.Background()

	if _, err := m.Get(ctx, "missing"); !errors.Is(err, ErrCacheMiss) {
		t.Fatalf("expected ErrCacheMiss, got %v", err)
	}

	if err := m.Set(ctx, "k", []byte("v"), 0); err != nil {
		t.Fatalf("Set: %v", err)
	}
	got, err := m.Get(ctx, "k")
	if err != nil || string(got) != "v" {
		t.Fatalf("Get returned %q, %v", got, err)
	}

	if err := m.Del(ctx, "k"); err != nil {
		t.Fatalf("Del: %v", err)
	}
	if _, err := m.Get(ctx, "k"); !errors.Is(err, ErrCacheMiss) {
		t.Fatalf("expected miss after delete, got %v", err)
	}
}

func TestMemoryProviderSetNX(t *testing.T) {
	m := NewMemoryProvider()
	ctx := context.Background()

	ok, err := m.SetNX(ctx, "claim", []byte("1"), time.Minute)
	if err != nil || !ok {
		t.Fatalf("first SetNX should win, got ok=%v err=%v", ok, err)
	}
	ok, err = m.SetNX(ctx, "claim", []byte("2"), time.Minute)
	if err != nil || ok {
		t.Fatalf("second SetNX must lose, got ok=%v err=%v", ok, err)
	}
}

func TestMemoryProviderTTLExpiry(t *testing.T) {
	m := NewMemoryProvider()
	ctx := context.Background()

	if err := m.Set(ctx, "ttl", []byte("v"), 10*time.Millisecond); err != nil {
		t.Fatalf("Set: %v", err)
	}
	time.Sleep(20 * time.Millisecond)

	if _, err := m.Get(ctx, "ttl"); !errors.Is(err, ErrCacheMiss) {
		t.Fatalf("expected expiry, got %v", err)
	}
	if ok, _ := m.SetNX(ctx, "ttl", []byte("again"), time.Minute); !ok {
		t.Fatal("SetNX must win over an expired key")
	}
}
