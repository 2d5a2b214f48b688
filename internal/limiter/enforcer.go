// Package limiter enforces stored per-endpoint rate limits plus a default
// per-client limit, counting in Redis with an in-memory fallback.
package limiter

import (
	"context"
	"time"

	"github.com/geocoder89/impacthub/internal/cache"
	"github.com/geocoder89/impacthub/internal/domain/ratelimit"
)

// RuleLister is the read side of the rate limit store.
type RuleLister interface {
	ListAll(ctx context.Context) ([]ratelimit.Rule, error)
}

const rulesCacheKey = "rules"

type Decision struct {
	Allowed    bool
	Key        string
	Limit      int
	Current    int
	RetryAfter time.Duration
}

type Enforcer struct {
	counter Counter
	rules   RuleLister
	cache   *cache.Cache[map[string]ratelimit.Rule]

	defaultLimit  int
	defaultWindow time.Duration
}

type Options struct {
	DefaultLimit  int
	DefaultWindow time.Duration
	// how long the rule table is cached between store reads
	RulesTTL time.Duration
}

func NewEnforcer(counter Counter, rules RuleLister, opts Options) *Enforcer {
	if opts.DefaultWindow <= 0 {
		opts.DefaultWindow = time.Minute
	}
	if opts.RulesTTL <= 0 {
		opts.RulesTTL = 10 * time.Second
	}

	return &Enforcer{
		counter:       counter,
		rules:         rules,
		cache:         cache.New[map[string]ratelimit.Rule](opts.RulesTTL),
		defaultLimit:  opts.DefaultLimit,
		defaultWindow: opts.DefaultWindow,
	}
}

// Check counts one request. A stored rule for method+route is a shared budget
// for the endpoint; otherwise the default limit applies per client.
func (e *Enforcer) Check(ctx context.Context, method, route, client string) (Decision, error) {
	rule, ok, err := e.ruleFor(ctx, method, route)
	if err != nil {
		return Decision{Allowed: true}, err
	}

	if ok {
		return e.hit(ctx, rule.Key(), rule.Limit, rule.WindowDuration())
	}

	if e.defaultLimit <= 0 {
		return Decision{Allowed: true}, nil
	}

	return e.hit(ctx, "client:"+client, e.defaultLimit, e.defaultWindow)
}

func (e *Enforcer) hit(ctx context.Context, key string, limit int, window time.Duration) (Decision, error) {
	n, resetIn, err := e.counter.Hit(ctx, key, window)
	if err != nil {
		// counting failed everywhere; let the request through
		return Decision{Allowed: true, Key: key, Limit: limit}, err
	}

	d := Decision{
		Allowed: n <= limit,
		Key:     key,
		Limit:   limit,
		Current: n,
	}
	if !d.Allowed {
		d.RetryAfter = resetIn
	}

	return d, nil
}

// WithUsage stamps each rule with its live counter value.
func (e *Enforcer) WithUsage(ctx context.Context, rules []ratelimit.Rule) ([]ratelimit.Rule, error) {
	out := make([]ratelimit.Rule, len(rules))

	for i, r := range rules {
		n, err := e.counter.Current(ctx, r.Key())
		if err != nil {
			return nil, err
		}
		out[i] = r.WithUsage(n)
	}

	return out, nil
}

func (e *Enforcer) Reset(ctx context.Context, r ratelimit.Rule) error {
	return e.counter.Reset(ctx, r.Key())
}

// Invalidate drops the cached rule table after an admin edit.
func (e *Enforcer) Invalidate() {
	e.cache.Clear()
}

func (e *Enforcer) ruleFor(ctx context.Context, method, route string) (ratelimit.Rule, bool, error) {
	if e.rules == nil || route == "" {
		return ratelimit.Rule{}, false, nil
	}

	table, err := e.cache.GetOrLoad(rulesCacheKey, func() (map[string]ratelimit.Rule, error) {
		rules, err := e.rules.ListAll(ctx)
		if err != nil {
			return nil, err
		}

		m := make(map[string]ratelimit.Rule, len(rules))
		for _, r := range rules {
			m[r.Key()] = r
		}
		return m, nil
	})
	if err != nil {
		return ratelimit.Rule{}, false, err
	}

	r, ok := table[ratelimit.Key(method, route)]
	return r, ok, nil
}
