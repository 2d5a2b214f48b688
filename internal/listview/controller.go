// Package listview drives an admin list screen on top of listquery: search
// is debounced, filter and page changes fetch at once, and a response that
// is not the latest one issued is dropped.
package listview

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/geocoder89/impacthub/internal/listquery"
)

const DefaultDebounce = 400 * time.Millisecond

// ErrStale is returned for a fetch that finished after a newer one was issued.
var ErrStale = errors.New("listview: stale response discarded")

type Fetcher[T any, S any] func(ctx context.Context, q listquery.Query) (listquery.Result[T, S], error)

// Scheduler runs f after d and returns a stop function.
type Scheduler func(d time.Duration, f func()) (stop func() bool)

func timeScheduler(d time.Duration, f func()) func() bool {
	return time.AfterFunc(d, f).Stop
}

type State[T any, S any] struct {
	Query   listquery.Query
	Result  listquery.Result[T, S]
	Loading bool
	Err     error
	// id of the fetch that produced Result
	FetchID uint64
}

type Controller[T any, S any] struct {
	fetch    Fetcher[T, S]
	schedule Scheduler
	debounce time.Duration
	onChange func(State[T, S])

	mu        sync.Mutex
	state     State[T, S]
	latest    uint64
	stopTimer func() bool
	// bumped whenever a pending debounce is replaced or cancelled, so a timer
	// that already fired cannot act for a newer one
	timerGen uint64
}

type Option[T any, S any] func(*Controller[T, S])

func WithScheduler[T any, S any](s Scheduler) Option[T, S] {
	return func(c *Controller[T, S]) { c.schedule = s }
}

func WithDebounce[T any, S any](d time.Duration) Option[T, S] {
	return func(c *Controller[T, S]) { c.debounce = d }
}

// OnChange is called, outside the lock, after every state change.
func OnChange[T any, S any](fn func(State[T, S])) Option[T, S] {
	return func(c *Controller[T, S]) { c.onChange = fn }
}

func New[T any, S any](fetch Fetcher[T, S], initial listquery.Query, opts ...Option[T, S]) *Controller[T, S] {
	if initial.Page < 1 {
		initial.Page = 1
	}

	c := &Controller[T, S]{
		fetch:    fetch,
		schedule: timeScheduler,
		debounce: DefaultDebounce,
		state:    State[T, S]{Query: initial},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Controller[T, S]) State() State[T, S] {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// SetSearch records the term and fetches once input has been quiet for the
// debounce interval. Each call restarts the wait.
func (c *Controller[T, S]) SetSearch(ctx context.Context, term string) {
	c.mu.Lock()
	c.state.Query = c.state.Query.WithSearch(term)
	c.cancelPendingLocked()
	gen := c.timerGen
	c.stopTimer = c.schedule(c.debounce, func() {
		c.mu.Lock()
		if gen != c.timerGen {
			c.mu.Unlock()
			return
		}
		c.stopTimer = nil
		c.mu.Unlock()
		_, _ = c.Refresh(ctx)
	})
	c.mu.Unlock()
}

// SetFilter applies a filter, resets to page 1 and fetches immediately.
func (c *Controller[T, S]) SetFilter(ctx context.Context, key, value string) (State[T, S], error) {
	c.mu.Lock()
	c.state.Query = c.state.Query.WithFilter(key, value)
	c.cancelPendingLocked()
	c.mu.Unlock()
	return c.Refresh(ctx)
}

// SetPage moves to page and fetches immediately, taking any pending search
// term with it.
func (c *Controller[T, S]) SetPage(ctx context.Context, page int) (State[T, S], error) {
	c.mu.Lock()
	c.state.Query = c.state.Query.WithPage(page)
	c.cancelPendingLocked()
	c.mu.Unlock()
	return c.Refresh(ctx)
}

// Refresh fetches the current query. Only the newest fetch may write state;
// older ones return ErrStale and leave it untouched.
func (c *Controller[T, S]) Refresh(ctx context.Context) (State[T, S], error) {
	c.mu.Lock()
	c.latest++
	id := c.latest
	q := c.state.Query
	c.state.Loading = true
	loading := c.state
	c.mu.Unlock()
	c.notify(loading)

	res, err := c.fetch(ctx, q)

	c.mu.Lock()
	if id != c.latest {
		st := c.state
		c.mu.Unlock()
		return st, ErrStale
	}
	c.state.Loading = false
	c.state.Err = err
	if err == nil {
		c.state.Result = res
		c.state.FetchID = id
	}
	st := c.state
	c.mu.Unlock()

	c.notify(st)
	return st, err
}

// Splice replaces the first item match accepts with item, as returned by an
// edit call, without refetching.
func (c *Controller[T, S]) Splice(match func(T) bool, item T) bool {
	c.mu.Lock()
	items := c.state.Result.Items
	found := false
	for i := range items {
		if match(items[i]) {
			next := make([]T, len(items))
			copy(next, items)
			next[i] = item
			c.state.Result.Items = next
			found = true
			break
		}
	}
	st := c.state
	c.mu.Unlock()

	if found {
		c.notify(st)
	}
	return found
}

// Remove drops the items match accepts and lowers the total to match.
func (c *Controller[T, S]) Remove(match func(T) bool) int {
	c.mu.Lock()
	kept := make([]T, 0, len(c.state.Result.Items))
	for _, it := range c.state.Result.Items {
		if !match(it) {
			kept = append(kept, it)
		}
	}
	removed := len(c.state.Result.Items) - len(kept)
	if removed > 0 {
		c.state.Result.Items = kept
		p := c.state.Query
		total := c.state.Result.Pagination.Total - removed
		if total < 0 {
			total = 0
		}
		c.state.Result.Pagination = listquery.NewPagination(p, total)
	}
	st := c.state
	c.mu.Unlock()

	if removed > 0 {
		c.notify(st)
	}
	return removed
}

// Close stops a pending debounced fetch.
func (c *Controller[T, S]) Close() {
	c.mu.Lock()
	c.cancelPendingLocked()
	c.mu.Unlock()
}

func (c *Controller[T, S]) cancelPendingLocked() {
	c.timerGen++
	if c.stopTimer != nil {
		c.stopTimer()
		c.stopTimer = nil
	}
}

func (c *Controller[T, S]) notify(st State[T, S]) {
	if c.onChange != nil {
		c.onChange(st)
	}
}
