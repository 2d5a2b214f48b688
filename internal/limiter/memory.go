package limiter

import (
	"context"
	"sync"
	"time"
)

type bucket struct {
	count     int
	windowEnd time.Time
}

// MemoryCounter keeps windows in process. Used when Redis is not configured
// and as the fallback when it is unreachable.
type MemoryCounter struct {
	mu      sync.Mutex
	buckets map[string]*bucket
	now     func() time.Time
}

func NewMemoryCounter() *MemoryCounter {
	return &MemoryCounter{
		buckets: make(map[string]*bucket),
		now:     time.Now,
	}
}

func (m *MemoryCounter) Hit(_ context.Context, key string, window time.Duration) (int, time.Duration, error) {
	now := m.now()

	m.mu.Lock()
	defer m.mu.Unlock()

	b, ok := m.buckets[key]
	if !ok || !now.Before(b.windowEnd) {
		b = &bucket{count: 0, windowEnd: now.Add(window)}
		m.buckets[key] = b
	}

	b.count++

	return b.count, b.windowEnd.Sub(now), nil
}

func (m *MemoryCounter) Current(_ context.Context, key string) (int, error) {
	now := m.now()

	m.mu.Lock()
	defer m.mu.Unlock()

	b, ok := m.buckets[key]
	if !ok || !now.Before(b.windowEnd) {
		return 0, nil
	}

	return b.count, nil
}

func (m *MemoryCounter) Reset(_ context.Context, key string) error {
	m.mu.Lock()
	delete(m.buckets, key)
	m.mu.Unlock()

	return nil
}

// Sweep drops expired windows so idle client keys do not accumulate.
func (m *MemoryCounter) Sweep() int {
	now := m.now()

	m.mu.Lock()
	defer m.mu.Unlock()

	n := 0
	for k, b := range m.buckets {
		if !now.Before(b.windowEnd) {
			delete(m.buckets, k)
			n++
		}
	}

	return n
}
