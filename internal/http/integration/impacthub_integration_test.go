package integration_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"

	"github.com/geocoder89/impacthub/internal/config"
	"github.com/geocoder89/impacthub/internal/db"
	apphttp "github.com/geocoder89/impacthub/internal/http"
	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
)

const (
	adminEmail    = "admin@example.com"
	adminPassword = "adminpass123"
)

func testConfig() config.Config {
	return config.Config{
		Env:                    "test",
		AdminEmail:             adminEmail,
		AdminPassword:          adminPassword,
		AdminName:              "Test Admin",
		AdminRole:              "admin",
		JWTSecret:              "test-secret-key",
		JWTAccessTTLMinutes:    60,
		JWTRefreshTTLDays:      7,
		ServiceName:            "impacthub-test",
		RateLimitDefault:       1000,
		RateLimitWindowSeconds: 60,
		StatsCacheTTLSeconds:   30,
	}
}

// setupRouter needs a disposable database in TEST_DB_DSN.
func setupRouter(t *testing.T) (*gin.Engine, *pgxpool.Pool) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	dsn := os.Getenv("TEST_DB_DSN")
	if dsn == "" {
		t.Skip("TEST_DB_DSN not set")
	}

	ctx := context.Background()

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		t.Fatalf("Failed to create pgx pool: %v", err)
	}
	t.Cleanup(pool.Close)

	if _, err := db.Migrate(ctx, pool); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	resetDB(t, pool)
	t.Cleanup(func() { resetDB(t, pool) })

	cfg := testConfig()
	if err := db.EnsureAdminUser(ctx, pool, cfg); err != nil {
		t.Fatalf("seed admin: %v", err)
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelDebug}))

	return apphttp.NewRouter(apphttp.Deps{Log: logger, Pool: pool, Cfg: cfg}), pool
}

func resetDB(t *testing.T, pool *pgxpool.Pool) {
	t.Helper()

	_, err := pool.Exec(context.Background(), `
		TRUNCATE jobs, notification_deliveries, transactions, audit_logs,
			rate_limits, activities, refresh_tokens, users
		RESTART IDENTITY CASCADE
	`)
	if err != nil {
		t.Fatalf("failed to truncate tables: %v", err)
	}
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *struct {
		Code string `json:"code"`
	} `json:"error"`
}

type request struct {
	method string
	path   string
	body   string
	token  string
	cookie *http.Cookie
}

func do(router http.Handler, r request) (*httptest.ResponseRecorder, *http.Response) {
	var rdr io.Reader
	if r.body != "" {
		rdr = bytes.NewBufferString(r.body)
	}
	req := httptest.NewRequest(r.method, r.path, rdr)

	if r.body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if r.token != "" {
		req.Header.Set("Authorization", "Bearer "+r.token)
	}
	if r.cookie != nil {
		req.AddCookie(r.cookie)
	}

	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	return w, w.Result()
}

func mustEnvelope[T any](t *testing.T, w *httptest.ResponseRecorder, wantStatus int) T {
	t.Helper()

	if w.Code != wantStatus {
		t.Fatalf("got status %d, want %d, body=%s", w.Code, wantStatus, w.Body.String())
	}

	var env envelope
	if err := json.Unmarshal(w.Body.Bytes(), &env); err != nil {
		t.Fatalf("failed to unmarshal json: %v, body=%s", err, w.Body.String())
	}

	var out T
	if len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, &out); err != nil {
			t.Fatalf("failed to unmarshal data: %v, data=%s", err, string(env.Data))
		}
	}
	return out
}

func refreshCookie(t *testing.T, response *http.Response) *http.Cookie {
	t.Helper()

	for _, c := range response.Cookies() {
		if c.Name == "refresh_token" {
			return c
		}
	}

	t.Fatalf("refresh_token cookie not found in response")
	return nil
}

type tokenResponse struct {
	AccessToken string `json:"accessToken"`
	Session     struct {
		User struct {
			ID   string `json:"id"`
			Role string `json:"role"`
		} `json:"user"`
		Home string `json:"home"`
	} `json:"session"`
}

func TestIntegration_Signup_Refresh_Logout(t *testing.T) {
	router, _ := setupRouter(t)

	w, resp := do(router, request{
		method: http.MethodPost, path: "/api/v1/auth/signup",
		body: `{"email":"sam@example.com","password":"password123","name":"Sam Doe"}`,
	})
	signup := mustEnvelope[tokenResponse](t, w, http.StatusCreated)
	if strings.TrimSpace(signup.AccessToken) == "" {
		t.Fatalf("signup expected accessToken")
	}
	if signup.Session.User.Role != "simple-user" || signup.Session.Home != "/dashboard" {
		t.Fatalf("unexpected session: %+v", signup.Session)
	}
	first := refreshCookie(t, resp)

	w, resp = do(router, request{method: http.MethodPost, path: "/api/v1/auth/refresh", cookie: first})
	mustEnvelope[tokenResponse](t, w, http.StatusOK)
	rotated := refreshCookie(t, resp)

	// the old cookie was rotated out, replaying it revokes the whole family
	w, _ = do(router, request{method: http.MethodPost, path: "/api/v1/auth/refresh", cookie: first})
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("refresh(old cookie) got status %d, body=%s", w.Code, w.Body.String())
	}
	w, _ = do(router, request{method: http.MethodPost, path: "/api/v1/auth/refresh", cookie: rotated})
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("refresh(after reuse) got status %d, body=%s", w.Code, w.Body.String())
	}

	w, _ = do(router, request{method: http.MethodPost, path: "/api/v1/auth/refresh"})
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("refresh(missing cookie) got status %d", w.Code)
	}

	w, resp = do(router, request{method: http.MethodPost, path: "/api/v1/auth/logout", cookie: rotated})
	if w.Code != http.StatusNoContent {
		t.Fatalf("logout got status %d, body=%s", w.Code, w.Body.String())
	}
	cleared := false
	for _, c := range resp.Cookies() {
		if c.Name == "refresh_token" && (c.MaxAge < 0 || c.Value == "") {
			cleared = true
		}
	}
	if !cleared {
		t.Fatalf("expected logout to clear refresh_token cookie")
	}
}

func TestIntegration_VerifyActivity_QueuesCreditsAndAudits(t *testing.T) {
	router, pool := setupRouter(t)
	ctx := context.Background()

	w, _ := do(router, request{
		method: http.MethodPost, path: "/api/v1/auth/signup",
		body: `{"email":"ivy@example.com","password":"password123","name":"Ivy Green"}`,
	})
	member := mustEnvelope[tokenResponse](t, w, http.StatusCreated)

	w, _ = do(router, request{
		method: http.MethodPost, path: "/api/v1/auth/login",
		body: `{"email":"` + adminEmail + `","password":"` + adminPassword + `"}`,
	})
	admin := mustEnvelope[tokenResponse](t, w, http.StatusOK)

	// members cannot reach admin routes
	w, _ = do(router, request{method: http.MethodGet, path: "/api/v1/admin/users", token: member.AccessToken})
	if w.Code != http.StatusForbidden {
		t.Fatalf("member on admin route got %d", w.Code)
	}

	// proof is mandatory
	w, _ = do(router, request{
		method: http.MethodPost, path: "/api/v1/activities", token: member.AccessToken,
		body: `{"type":"cleanup","title":"River cleanup","credits":20}`,
	})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("submit without proof got %d", w.Code)
	}

	w, _ = do(router, request{
		method: http.MethodPost, path: "/api/v1/activities", token: member.AccessToken,
		body: `{"type":"cleanup","title":"River cleanup","proofImage":"https://img.example.com/r.jpg","credits":20}`,
	})
	created := mustEnvelope[struct {
		ID string `json:"id"`
	}](t, w, http.StatusCreated)

	verifyPath := "/api/v1/admin/activities/" + created.ID + "/verify"

	w, _ = do(router, request{method: http.MethodPost, path: verifyPath, token: admin.AccessToken, body: `{"note":"clear photo"}`})
	mustEnvelope[struct{}](t, w, http.StatusOK)

	w, _ = do(router, request{method: http.MethodPost, path: verifyPath, token: admin.AccessToken})
	if w.Code != http.StatusConflict {
		t.Fatalf("second verify got %d, body=%s", w.Code, w.Body.String())
	}

	var jobs int
	if err := pool.QueryRow(ctx, `SELECT count(*) FROM jobs WHERE type = 'activity.credit_award'`).Scan(&jobs); err != nil {
		t.Fatalf("count jobs: %v", err)
	}
	if jobs != 1 {
		t.Fatalf("expected one credit award job, got %d", jobs)
	}

	w, _ = do(router, request{method: http.MethodGet, path: "/api/v1/admin/audit-logs/verify", token: admin.AccessToken})
	report := mustEnvelope[struct {
		Checked int  `json:"checked"`
		Valid   bool `json:"valid"`
	}](t, w, http.StatusOK)
	if !report.Valid || report.Checked < 1 {
		t.Fatalf("audit chain report: %+v", report)
	}
}

func TestIntegration_SuspendedUserIsLockedOut(t *testing.T) {
	router, _ := setupRouter(t)

	w, resp := do(router, request{
		method: http.MethodPost, path: "/api/v1/auth/signup",
		body: `{"email":"max@example.com","password":"password123","name":"Max Power"}`,
	})
	member := mustEnvelope[tokenResponse](t, w, http.StatusCreated)
	cookie := refreshCookie(t, resp)

	w, _ = do(router, request{
		method: http.MethodPost, path: "/api/v1/auth/login",
		body: `{"email":"` + adminEmail + `","password":"` + adminPassword + `"}`,
	})
	admin := mustEnvelope[tokenResponse](t, w, http.StatusOK)

	w, _ = do(router, request{
		method: http.MethodPatch, path: "/api/v1/admin/users/" + member.Session.User.ID,
		token: admin.AccessToken, body: `{"status":"suspended"}`,
	})
	mustEnvelope[struct{}](t, w, http.StatusOK)

	w, _ = do(router, request{method: http.MethodGet, path: "/api/v1/auth/me", token: member.AccessToken})
	if w.Code != http.StatusForbidden {
		t.Fatalf("suspended /me got %d", w.Code)
	}

	w, _ = do(router, request{method: http.MethodPost, path: "/api/v1/auth/refresh", cookie: cookie})
	if w.Code != http.StatusUnauthorized && w.Code != http.StatusForbidden {
		t.Fatalf("suspended refresh got %d", w.Code)
	}
}
