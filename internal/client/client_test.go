package client

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/geocoder89/impacthub/internal/domain/activity"
	"github.com/geocoder89/impacthub/internal/domain/user"
	"github.com/geocoder89/impacthub/internal/listquery"
	"github.com/geocoder89/impacthub/internal/payments"
)

func newServer(t *testing.T, h http.HandlerFunc) (*Client, *int32) {
	t.Helper()
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		h(w, r)
	}))
	t.Cleanup(srv.Close)
	return New(srv.URL), &hits
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func TestListUsersDecodesTypedPage(t *testing.T) {
	c, _ := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/admin/users" {
			t.Errorf("path=%s", r.URL.Path)
		}
		if got := r.URL.Query().Get("role"); got != "ngo" {
			t.Errorf("role=%q", got)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer tok" {
			t.Errorf("auth=%q", got)
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"success": true,
			"data": map[string]any{
				"items":      []map[string]any{{"id": "u-1", "name": "Green Org", "role": "ngo"}},
				"stats":      map[string]any{"total": 4, "active": 3},
				"pagination": map[string]any{"page": 1, "pageSize": 20, "total": 1, "totalPages": 1},
			},
		})
	})
	c.SetToken("tok")

	page, err := c.ListUsers(context.Background(), listquery.New().WithFilter("role", "ngo"))
	if err != nil {
		t.Fatalf("ListUsers: %v", err)
	}
	if len(page.Items) != 1 || page.Items[0].Role != user.RoleNGO {
		t.Fatalf("items=%+v", page.Items)
	}
	if page.Stats.Total != 4 || page.Stats.Active != 3 || page.Pagination.TotalPages != 1 {
		t.Fatalf("stats=%+v pagination=%+v", page.Stats, page.Pagination)
	}
}

func TestRejectionCarriesCodeAndRetryAfter(t *testing.T) {
	c, _ := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "3")
		writeJSON(w, http.StatusTooManyRequests, map[string]any{
			"success": false,
			"message": "Too many requests",
			"error":   map[string]any{"code": "rate_limited", "message": "Too many requests", "requestId": "req-1"},
		})
	})

	_, err := c.Login(context.Background(), "a@b.co", "password123")

	var re *RejectedError
	if !errors.As(err, &re) {
		t.Fatalf("want RejectedError, got %T %v", err, err)
	}
	if re.Code != "rate_limited" || re.StatusCode != 429 || re.RetryAfter != 3*time.Second || re.RequestID != "req-1" {
		t.Fatalf("rejection=%+v", re)
	}
	if !IsRejected(err, "rate_limited") || IsRejected(err, "forbidden") || IsTransport(err) {
		t.Fatalf("classification wrong for %v", err)
	}
	if c.Token() != "" {
		t.Fatalf("token set on failed login")
	}
}

func TestNonJSONBodyIsTransportError(t *testing.T) {
	c, _ := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		_, _ = io.WriteString(w, "<html>bad gateway</html>")
	})

	_, err := c.Me(context.Background())

	var te *TransportError
	if !errors.As(err, &te) || te.StatusCode != http.StatusBadGateway {
		t.Fatalf("want TransportError 502, got %v", err)
	}
	if IsRejected(err) {
		t.Fatalf("transport error classified as rejection")
	}
}

func TestLoginStoresToken(t *testing.T) {
	var lastAuth atomic.Value
	c, _ := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		lastAuth.Store(r.Header.Get("Authorization"))
		switch r.URL.Path {
		case "/api/v1/auth/login":
			writeJSON(w, http.StatusOK, map[string]any{
				"success": true,
				"data": map[string]any{
					"accessToken": "abc",
					"session":     map[string]any{"home": "/admin", "user": map[string]any{"id": "u-1", "role": "admin"}},
				},
			})
		case "/api/v1/auth/logout":
			w.WriteHeader(http.StatusNoContent)
		default:
			writeJSON(w, http.StatusOK, map[string]any{"success": true, "data": map[string]any{"home": "/admin"}})
		}
	})

	s, err := c.Login(context.Background(), "admin@example.com", "password123")
	if err != nil || s.Home != "/admin" || c.Token() != "abc" {
		t.Fatalf("login: session=%+v token=%q err=%v", s, c.Token(), err)
	}

	if _, err := c.Me(context.Background()); err != nil {
		t.Fatalf("me: %v", err)
	}
	if got := lastAuth.Load(); got != "Bearer abc" {
		t.Fatalf("auth header=%v", got)
	}

	if err := c.Logout(context.Background()); err != nil {
		t.Fatalf("logout: %v", err)
	}
	if c.Token() != "" {
		t.Fatalf("token kept after logout")
	}
}

func TestSubmitActivityWithoutProofNeverSends(t *testing.T) {
	c, hits := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusCreated, map[string]any{"success": true, "data": map[string]any{"id": "a-1"}})
	})

	_, err := c.SubmitActivity(context.Background(), activity.SubmitRequest{Type: "cleanup", Title: "Beach", ProofImage: "  "})
	if !errors.Is(err, activity.ErrProofRequired) {
		t.Fatalf("err=%v", err)
	}
	if atomic.LoadInt32(hits) != 0 {
		t.Fatalf("request sent without proof")
	}

	a, err := c.SubmitActivity(context.Background(), activity.SubmitRequest{
		Type: "cleanup", Title: "Beach", ProofImage: "https://img.example.com/b.jpg",
	})
	if err != nil || a.ID != "a-1" {
		t.Fatalf("submit: %+v %v", a, err)
	}
}

func TestExportAuditLogsReturnsRawCSV(t *testing.T) {
	c, _ := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("action") != "user.update" {
			t.Errorf("action filter lost: %s", r.URL.RawQuery)
		}
		w.Header().Set("Content-Type", "text/csv")
		_, _ = io.WriteString(w, "id,action\n1,user.update\n")
	})

	b, err := c.ExportAuditLogs(context.Background(), listquery.New().WithFilter("action", "user.update"))
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	if string(b) != "id,action\n1,user.update\n" {
		t.Fatalf("body=%q", b)
	}
}

func TestCheckoutFlow(t *testing.T) {
	tests := []struct {
		name           string
		status         int
		body           map[string]any
		wantProcessing bool
		wantMessage    string
		wantErr        bool
		wantOutcome    payments.Outcome
	}{
		{
			name:   "succeeded",
			status: http.StatusOK,
			body: map[string]any{"success": true, "data": map[string]any{
				"outcome": "succeeded", "isProcessing": false, "paymentIntentId": "pi_1",
			}},
			wantOutcome: payments.OutcomeSucceeded,
		},
		{
			name:   "still processing",
			status: http.StatusAccepted,
			body: map[string]any{"success": true, "data": map[string]any{
				"outcome": "pending", "isProcessing": true,
			}},
			wantProcessing: true,
			wantOutcome:    payments.OutcomePending,
		},
		{
			name:   "declined",
			status: http.StatusPaymentRequired,
			body: map[string]any{
				"success": false, "message": "Your card was declined.",
				"error": map[string]any{
					"code": "payment_failed", "message": "Your card was declined.",
					"details": map[string]any{"outcome": "failed", "errorMessage": "Your card was declined."},
				},
			},
			wantMessage: "Your card was declined.",
			wantOutcome: payments.OutcomeFailed,
		},
		{
			name:   "not configured",
			status: http.StatusServiceUnavailable,
			body: map[string]any{"success": false, "message": "Payments are not available right now",
				"error": map[string]any{"code": "unavailable", "message": "Payments are not available right now"}},
			wantMessage: "Payments are not available right now",
			wantErr:     true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, _ := newServer(t, func(w http.ResponseWriter, r *http.Request) {
				writeJSON(w, tt.status, tt.body)
			})
			flow := NewCheckoutFlow(c)

			st, err := flow.Submit(context.Background(), payments.Request{Amount: 1000, PaymentMethodID: "pm_card"})
			if (err != nil) != tt.wantErr {
				t.Fatalf("err=%v wantErr=%v", err, tt.wantErr)
			}
			if st.IsProcessing != tt.wantProcessing || st.ErrorMessage != tt.wantMessage {
				t.Fatalf("state=%+v", st)
			}
			if tt.wantOutcome != "" && (st.Result == nil || st.Result.Outcome != tt.wantOutcome) {
				t.Fatalf("result=%+v", st.Result)
			}
			if flow.State() != st {
				t.Fatalf("stored state differs")
			}
		})
	}
}

func TestCheckoutFlowTransportFailureShowsGenericMessage(t *testing.T) {
	c := New("http://127.0.0.1:1", WithHTTPClient(&http.Client{Timeout: time.Second}))

	st, err := NewCheckoutFlow(c).Submit(context.Background(), payments.Request{Amount: 1000, PaymentMethodID: "pm_card"})
	if !IsTransport(err) {
		t.Fatalf("err=%v", err)
	}
	if st.IsProcessing || st.ErrorMessage != payments.GenericFailureMessage {
		t.Fatalf("state=%+v", st)
	}
}

func TestRateLimitOptionSpacesRequests(t *testing.T) {
	c, hits := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"success": true, "data": map[string]any{}})
	})
	WithRateLimit(1, 1)(c)

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	if _, err := c.Me(ctx); err != nil {
		t.Fatalf("first call: %v", err)
	}
	if _, err := c.Me(ctx); !IsTransport(err) {
		t.Fatalf("second call should wait past the deadline, got %v", err)
	}
	if atomic.LoadInt32(hits) != 1 {
		t.Fatalf("hits=%d", atomic.LoadInt32(hits))
	}
}
