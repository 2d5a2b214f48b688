package handlers_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/geocoder89/impacthub/internal/actorctx"
	"github.com/geocoder89/impacthub/internal/domain/activity"
	"github.com/geocoder89/impacthub/internal/domain/auditlog"
	"github.com/geocoder89/impacthub/internal/domain/job"
	"github.com/geocoder89/impacthub/internal/domain/ratelimit"
	"github.com/geocoder89/impacthub/internal/domain/user"
	"github.com/geocoder89/impacthub/internal/repo/postgres"
	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5"
)

// Make sure Gin does not spam the console during the test

func init() {
	gin.SetMode(gin.TestMode)
}

const (
	adminID = "11111111-1111-4111-8111-111111111111"
	userID  = "22222222-2222-4222-8222-222222222222"
	otherID = "33333333-3333-4333-8333-333333333333"
)

// envelope mirrors handlers.Envelope with raw data for per-test decoding.
type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Message string          `json:"message"`
	Error   *struct {
		Code    string          `json:"code"`
		Message string          `json:"message"`
		Details json.RawMessage `json:"details"`
	} `json:"error"`
}

func decode(t *testing.T, w *httptest.ResponseRecorder) envelope {
	t.Helper()
	var env envelope
	if err := json.Unmarshal(w.Body.Bytes(), &env); err != nil {
		t.Fatalf("bad json: %v body=%s", err, w.Body.String())
	}
	return env
}

func decodeData[T any](t *testing.T, env envelope) T {
	t.Helper()
	var out T
	if err := json.Unmarshal(env.Data, &out); err != nil {
		t.Fatalf("bad data: %v data=%s", err, string(env.Data))
	}
	return out
}

// withActor stands in for the auth middleware.
func withActor(id string, role user.Role) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := actorctx.WithActor(c.Request.Context(), actorctx.Actor{UserID: id, Email: id + "@example.com", Role: string(role)})
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

func doRequest(r http.Handler, method, path, body string) *httptest.ResponseRecorder {
	var rdr io.Reader
	if body != "" {
		rdr = bytes.NewBufferString(body)
	}
	req := httptest.NewRequest(method, path, rdr)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

// fakeTx satisfies pgx.Tx for handlers that only commit or roll back.
type fakeTx struct {
	pgx.Tx
	committed bool
}

func (f *fakeTx) Commit(ctx context.Context) error   { f.committed = true; return nil }
func (f *fakeTx) Rollback(ctx context.Context) error { return nil }

type fakeAuditor struct {
	mu      sync.Mutex
	records []auditlog.Record
}

func (f *fakeAuditor) Record(ctx context.Context, rec auditlog.Record) (auditlog.Entry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.records = append(f.records, rec)
	return auditlog.Entry{Action: rec.Action}, nil
}

func (f *fakeAuditor) actions() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.records))
	for i, r := range f.records {
		out[i] = r.Action
	}
	return out
}

type fakeUsersRepo struct {
	listFn   func(ctx context.Context, f user.ListFilter) ([]user.User, int, error)
	statsFn  func(ctx context.Context) (user.Stats, error)
	getFn    func(ctx context.Context, id string) (user.User, error)
	updateFn func(ctx context.Context, id string, req user.UpdateRequest) (user.User, error)
	deleteFn func(ctx context.Context, id string) error
}

func (f *fakeUsersRepo) List(ctx context.Context, filter user.ListFilter) ([]user.User, int, error) {
	if f.listFn != nil {
		return f.listFn(ctx, filter)
	}
	return nil, 0, nil
}

func (f *fakeUsersRepo) Stats(ctx context.Context) (user.Stats, error) {
	if f.statsFn != nil {
		return f.statsFn(ctx)
	}
	return user.Stats{}, nil
}

func (f *fakeUsersRepo) GetByID(ctx context.Context, id string) (user.User, error) {
	if f.getFn != nil {
		return f.getFn(ctx, id)
	}
	return user.User{}, user.ErrUserNotFound
}

func (f *fakeUsersRepo) Update(ctx context.Context, id string, req user.UpdateRequest) (user.User, error) {
	if f.updateFn != nil {
		return f.updateFn(ctx, id, req)
	}
	return user.User{}, nil
}

func (f *fakeUsersRepo) Delete(ctx context.Context, id string) error {
	if f.deleteFn != nil {
		return f.deleteFn(ctx, id)
	}
	return nil
}

type fakeSessions struct {
	revoked []string
}

func (f *fakeSessions) BeginTx(ctx context.Context) (pgx.Tx, error) {
	return &fakeTx{}, nil
}

func (f *fakeSessions) RevokeAllForUser(ctx context.Context, tx pgx.Tx, id string) error {
	f.revoked = append(f.revoked, id)
	return nil
}

type fakeActivitiesRepo struct {
	createFn func(ctx context.Context, a activity.Activity) error
	getFn    func(ctx context.Context, id string) (activity.Activity, error)
	listFn   func(ctx context.Context, f activity.ListFilter) ([]activity.Activity, int, error)
	statsFn  func(ctx context.Context, f activity.ListFilter) (activity.Stats, error)
	reviewFn func(ctx context.Context, id string, in postgres.ReviewInput) (before, after activity.Activity, err error)
}

func (f *fakeActivitiesRepo) Create(ctx context.Context, a activity.Activity) error {
	if f.createFn != nil {
		return f.createFn(ctx, a)
	}
	return nil
}

func (f *fakeActivitiesRepo) GetByID(ctx context.Context, id string) (activity.Activity, error) {
	if f.getFn != nil {
		return f.getFn(ctx, id)
	}
	return activity.Activity{}, activity.ErrNotFound
}

func (f *fakeActivitiesRepo) List(ctx context.Context, filter activity.ListFilter) ([]activity.Activity, int, error) {
	if f.listFn != nil {
		return f.listFn(ctx, filter)
	}
	return nil, 0, nil
}

func (f *fakeActivitiesRepo) Stats(ctx context.Context, filter activity.ListFilter) (activity.Stats, error) {
	if f.statsFn != nil {
		return f.statsFn(ctx, filter)
	}
	return activity.Stats{}, nil
}

// Review runs onReviewed with a fake tx, the way the repo does inside its transaction.
func (f *fakeActivitiesRepo) Review(
	ctx context.Context,
	id string,
	in postgres.ReviewInput,
	onReviewed func(ctx context.Context, tx pgx.Tx, before, after activity.Activity) error,
) (activity.Activity, error) {
	if f.reviewFn == nil {
		return activity.Activity{}, activity.ErrNotFound
	}
	before, after, err := f.reviewFn(ctx, id, in)
	if err != nil {
		return activity.Activity{}, err
	}
	if onReviewed != nil {
		if err := onReviewed(ctx, &fakeTx{}, before, after); err != nil {
			return activity.Activity{}, err
		}
	}
	return after, nil
}

type fakeJobs struct {
	created []job.CreateRequest
}

func (f *fakeJobs) CreateTx(ctx context.Context, tx pgx.Tx, req job.CreateRequest) (job.Job, error) {
	f.created = append(f.created, req)
	return job.New(req), nil
}

type fakeRateLimitsRepo struct {
	rules    []ratelimit.Rule
	createFn func(ctx context.Context, rl ratelimit.Rule) error
	updateFn func(ctx context.Context, id string, req ratelimit.UpdateRequest) (ratelimit.Rule, error)
}

func (f *fakeRateLimitsRepo) Create(ctx context.Context, rl ratelimit.Rule) error {
	if f.createFn != nil {
		return f.createFn(ctx, rl)
	}
	f.rules = append(f.rules, rl)
	return nil
}

func (f *fakeRateLimitsRepo) GetByID(ctx context.Context, id string) (ratelimit.Rule, error) {
	for _, r := range f.rules {
		if r.ID == id {
			return r, nil
		}
	}
	return ratelimit.Rule{}, ratelimit.ErrNotFound
}

func (f *fakeRateLimitsRepo) List(ctx context.Context, filter ratelimit.ListFilter) ([]ratelimit.Rule, error) {
	out := make([]ratelimit.Rule, 0, len(f.rules))
	for _, r := range f.rules {
		if filter.Method != nil && r.Method != *filter.Method {
			continue
		}
		out = append(out, r)
	}
	return out, nil
}

func (f *fakeRateLimitsRepo) Update(ctx context.Context, id string, req ratelimit.UpdateRequest) (ratelimit.Rule, error) {
	if f.updateFn != nil {
		return f.updateFn(ctx, id, req)
	}
	return ratelimit.Rule{}, ratelimit.ErrNotFound
}

func (f *fakeRateLimitsRepo) Delete(ctx context.Context, id string) error {
	for i, r := range f.rules {
		if r.ID == id {
			f.rules = append(f.rules[:i], f.rules[i+1:]...)
			return nil
		}
	}
	return ratelimit.ErrNotFound
}

// fakeUsage serves counters from a map keyed by rule key.
type fakeUsage struct {
	counts      map[string]int
	resets      []string
	invalidated int
}

func (f *fakeUsage) WithUsage(ctx context.Context, rules []ratelimit.Rule) ([]ratelimit.Rule, error) {
	out := make([]ratelimit.Rule, len(rules))
	for i, r := range rules {
		out[i] = r.WithUsage(f.counts[r.Key()])
	}
	return out, nil
}

func (f *fakeUsage) Reset(ctx context.Context, r ratelimit.Rule) error {
	f.resets = append(f.resets, r.Key())
	delete(f.counts, r.Key())
	return nil
}

func (f *fakeUsage) Invalidate() { f.invalidated++ }
