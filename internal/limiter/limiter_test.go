package limiter

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/geocoder89/impacthub/internal/domain/ratelimit"
)

type fakeRules struct {
	rules []ratelimit.Rule
	calls int
	err   error
}

func (f *fakeRules) ListAll(ctx context.Context) ([]ratelimit.Rule, error) {
	f.calls++
	return f.rules, f.err
}

type failingCounter struct{}

func (failingCounter) Hit(context.Context, string, time.Duration) (int, time.Duration, error) {
	return 0, 0, errors.New("redis down")
}
func (failingCounter) Current(context.Context, string) (int, error) {
	return 0, errors.New("redis down")
}
func (failingCounter) Reset(context.Context, string) error { return errors.New("redis down") }

func TestMemoryCounter_FixedWindow(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	m := NewMemoryCounter()
	m.now = func() time.Time { return now }
	ctx := context.Background()

	for i := 1; i <= 3; i++ {
		n, reset, _ := m.Hit(ctx, "k", time.Minute)
		if n != i {
			t.Fatalf("hit %d: got count %d", i, n)
		}
		if reset != time.Minute {
			t.Fatalf("window must not move within a window, got %v", reset)
		}
	}

	now = now.Add(time.Minute)

	if cur, _ := m.Current(ctx, "k"); cur != 0 {
		t.Fatalf("expired window should read 0, got %d", cur)
	}
	if n, _, _ := m.Hit(ctx, "k", time.Minute); n != 1 {
		t.Fatalf("new window should restart at 1, got %d", n)
	}
	if swept := m.Sweep(); swept != 0 {
		t.Fatalf("live window must not be swept, swept %d", swept)
	}
}

func TestEnforcer_StoredRuleIsSharedBudget(t *testing.T) {
	rules := &fakeRules{rules: []ratelimit.Rule{
		{ID: "r1", Endpoint: "/api/activities", Method: "POST", Limit: 2, Window: 60},
	}}
	e := NewEnforcer(NewMemoryCounter(), rules, Options{DefaultLimit: 100})
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		d, err := e.Check(ctx, "post", "/api/activities", "client-"+string(rune('a'+i)))
		if err != nil || !d.Allowed {
			t.Fatalf("request %d should pass: %+v %v", i, d, err)
		}
	}

	d, _ := e.Check(ctx, "POST", "/api/activities", "client-z")
	if d.Allowed || d.RetryAfter <= 0 || d.Current != 3 {
		t.Fatalf("third request should be limited with retry-after: %+v", d)
	}

	if rules.calls != 1 {
		t.Fatalf("rule table should be cached, store read %d times", rules.calls)
	}

	got, err := e.WithUsage(ctx, rules.rules)
	if err != nil {
		t.Fatalf("WithUsage error: %v", err)
	}
	if got[0].Current != 3 || got[0].Status != ratelimit.StatusCritical || got[0].Percentage != 150 {
		t.Fatalf("unexpected usage: %+v", got[0])
	}

	if err := e.Reset(ctx, rules.rules[0]); err != nil {
		t.Fatalf("Reset error: %v", err)
	}
	if d, _ := e.Check(ctx, "POST", "/api/activities", "client-z"); !d.Allowed {
		t.Fatalf("reset should reopen the budget")
	}
}

func TestEnforcer_DefaultLimitIsPerClient(t *testing.T) {
	e := NewEnforcer(NewMemoryCounter(), &fakeRules{}, Options{DefaultLimit: 1, DefaultWindow: time.Minute})
	ctx := context.Background()

	if d, _ := e.Check(ctx, "GET", "/api/me", "1.1.1.1"); !d.Allowed {
		t.Fatalf("first request should pass")
	}
	if d, _ := e.Check(ctx, "GET", "/api/me", "2.2.2.2"); !d.Allowed {
		t.Fatalf("other clients have their own budget")
	}
	if d, _ := e.Check(ctx, "GET", "/api/me", "1.1.1.1"); d.Allowed {
		t.Fatalf("second request from the same client should be limited")
	}
}

func TestEnforcer_RuleStoreErrorFailsOpen(t *testing.T) {
	e := NewEnforcer(NewMemoryCounter(), &fakeRules{err: errors.New("db down")}, Options{DefaultLimit: 1})

	d, err := e.Check(context.Background(), "GET", "/x", "c")
	if err == nil || !d.Allowed {
		t.Fatalf("expected fail-open with error, got %+v %v", d, err)
	}
}

func TestFallbackCounter_UsesSecondaryOnError(t *testing.T) {
	mem := NewMemoryCounter()
	f := FallbackCounter{Primary: failingCounter{}, Secondary: mem}
	ctx := context.Background()

	n, _, err := f.Hit(ctx, "k", time.Minute)
	if err != nil || n != 1 {
		t.Fatalf("expected fallback hit, got %d %v", n, err)
	}

	if cur, err := f.Current(ctx, "k"); err != nil || cur != 1 {
		t.Fatalf("expected fallback current 1, got %d %v", cur, err)
	}

	if err := f.Reset(ctx, "k"); err != nil {
		t.Fatalf("reset should succeed through secondary: %v", err)
	}
	if cur, _ := mem.Current(ctx, "k"); cur != 0 {
		t.Fatalf("secondary should be reset")
	}
}
