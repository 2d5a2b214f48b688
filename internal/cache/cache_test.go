package cache

import (
	"errors"
	"testing"
	"time"
)

func TestCache_ExpiresAfterTTL(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	c := New[int](10 * time.Second)
	c.now = func() time.Time { return now }

	c.Set("k", 42)

	if v, ok := c.Get("k"); !ok || v != 42 {
		t.Fatalf("expected hit, got %v %v", v, ok)
	}

	now = now.Add(10 * time.Second)

	if _, ok := c.Get("k"); ok {
		t.Fatalf("expected entry to expire at ttl")
	}
	if c.Len() != 0 {
		t.Fatalf("expired entry should be removed on read")
	}
}

func TestCache_GetOrLoad(t *testing.T) {
	c := New[string](time.Minute)
	calls := 0

	load := func() (string, error) {
		calls++
		return "v", nil
	}

	for i := 0; i < 3; i++ {
		v, err := c.GetOrLoad("k", load)
		if err != nil || v != "v" {
			t.Fatalf("unexpected %q %v", v, err)
		}
	}
	if calls != 1 {
		t.Fatalf("expected one load, got %d", calls)
	}

	boom := errors.New("boom")
	if _, err := c.GetOrLoad("other", func() (string, error) { return "", boom }); !errors.Is(err, boom) {
		t.Fatalf("expected load error, got %v", err)
	}
	if _, ok := c.Get("other"); ok {
		t.Fatalf("failed loads must not be cached")
	}
}

func TestCache_DeletePrefix(t *testing.T) {
	c := New[int](time.Minute)
	c.Set("users:stats", 1)
	c.Set("users:list:a", 2)
	c.Set("activities:stats", 3)

	c.DeletePrefix("users:")

	if _, ok := c.Get("users:stats"); ok {
		t.Fatalf("users:stats should be gone")
	}
	if _, ok := c.Get("activities:stats"); !ok {
		t.Fatalf("activities:stats should survive")
	}
}
