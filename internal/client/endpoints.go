package client

import (
	"context"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/geocoder89/impacthub/internal/access"
	"github.com/geocoder89/impacthub/internal/domain/activity"
	"github.com/geocoder89/impacthub/internal/domain/auditlog"
	"github.com/geocoder89/impacthub/internal/domain/ratelimit"
	"github.com/geocoder89/impacthub/internal/domain/transaction"
	"github.com/geocoder89/impacthub/internal/domain/user"
	"github.com/geocoder89/impacthub/internal/listquery"
)

type (
	UserPage        = listquery.Result[user.User, user.Stats]
	ActivityPage    = listquery.Result[activity.Activity, activity.Stats]
	RateLimitPage   = listquery.Result[ratelimit.Rule, ratelimit.Stats]
	AuditLogPage    = listquery.Result[auditlog.Entry, auditlog.Stats]
	TransactionPage = listquery.Result[transaction.Transaction, transaction.Stats]
)

// Session is the signed-in profile the portals route on.
type Session struct {
	User         user.User `json:"user"`
	PortalAccess []string  `json:"portalAccess"`
	Home         string    `json:"home"`
	Routes       []string  `json:"routes"`
}

type TokenResponse struct {
	AccessToken string  `json:"accessToken"`
	Session     Session `json:"session"`
}

// auth

func (c *Client) SignUp(ctx context.Context, email, password, name string) (Session, error) {
	res, err := call[TokenResponse](ctx, c, http.MethodPost, "/auth/signup", nil, map[string]string{
		"email": email, "password": password, "name": name,
	})
	if err != nil {
		return Session{}, err
	}
	c.SetToken(res.AccessToken)
	return res.Session, nil
}

// Login stores the access token on the client for later calls.
func (c *Client) Login(ctx context.Context, email, password string) (Session, error) {
	res, err := call[TokenResponse](ctx, c, http.MethodPost, "/auth/login", nil, map[string]string{
		"email": email, "password": password,
	})
	if err != nil {
		return Session{}, err
	}
	c.SetToken(res.AccessToken)
	return res.Session, nil
}

func (c *Client) Refresh(ctx context.Context) (Session, error) {
	res, err := call[TokenResponse](ctx, c, http.MethodPost, "/auth/refresh", nil, nil)
	if err != nil {
		return Session{}, err
	}
	c.SetToken(res.AccessToken)
	return res.Session, nil
}

func (c *Client) Logout(ctx context.Context) error {
	_, err := call[struct{}](ctx, c, http.MethodPost, "/auth/logout", nil, nil)
	c.SetToken("")
	return err
}

func (c *Client) Me(ctx context.Context) (Session, error) {
	return call[Session](ctx, c, http.MethodGet, "/auth/me", nil, nil)
}

// access

func (c *Client) CheckAccess(ctx context.Context, pathname string, requiredRole user.Role, allowed ...user.Role) (access.Decision, error) {
	q := url.Values{"path": {pathname}}
	if requiredRole != "" {
		q.Set("requiredRole", string(requiredRole))
	}
	if len(allowed) > 0 {
		parts := make([]string, len(allowed))
		for i, r := range allowed {
			parts[i] = string(r)
		}
		q.Set("allowedRoles", strings.Join(parts, ","))
	}
	return call[access.Decision](ctx, c, http.MethodGet, "/access/check", q, nil)
}

// users

func (c *Client) ListUsers(ctx context.Context, q listquery.Query) (UserPage, error) {
	return call[UserPage](ctx, c, http.MethodGet, "/admin/users", q.Values(), nil)
}

func (c *Client) GetUser(ctx context.Context, id string) (user.User, error) {
	return call[user.User](ctx, c, http.MethodGet, "/admin/users/"+url.PathEscape(id), nil, nil)
}

func (c *Client) UpdateUser(ctx context.Context, id string, req user.UpdateRequest) (user.User, error) {
	return call[user.User](ctx, c, http.MethodPatch, "/admin/users/"+url.PathEscape(id), nil, req)
}

func (c *Client) DeleteUser(ctx context.Context, id string) error {
	_, err := call[struct{}](ctx, c, http.MethodDelete, "/admin/users/"+url.PathEscape(id), nil, nil)
	return err
}

// activities

// SubmitActivity refuses a submission without proof before anything is sent.
func (c *Client) SubmitActivity(ctx context.Context, req activity.SubmitRequest) (activity.Activity, error) {
	if err := req.Validate(); err != nil {
		return activity.Activity{}, err
	}
	return call[activity.Activity](ctx, c, http.MethodPost, "/activities", nil, req)
}

func (c *Client) ListMyActivities(ctx context.Context, q listquery.Query) (ActivityPage, error) {
	return call[ActivityPage](ctx, c, http.MethodGet, "/activities/mine", q.Values(), nil)
}

func (c *Client) ListActivities(ctx context.Context, q listquery.Query) (ActivityPage, error) {
	return call[ActivityPage](ctx, c, http.MethodGet, "/admin/activities", q.Values(), nil)
}

func (c *Client) VerifyActivity(ctx context.Context, id string, req activity.ReviewRequest) (activity.Activity, error) {
	return call[activity.Activity](ctx, c, http.MethodPost, "/admin/activities/"+url.PathEscape(id)+"/verify", nil, req)
}

func (c *Client) UnverifyActivity(ctx context.Context, id, reason string) (activity.Activity, error) {
	return call[activity.Activity](ctx, c, http.MethodPost, "/admin/activities/"+url.PathEscape(id)+"/unverify", nil,
		activity.ReviewRequest{Note: reason})
}

// rate limits

func (c *Client) ListRateLimits(ctx context.Context, q listquery.Query) (RateLimitPage, error) {
	return call[RateLimitPage](ctx, c, http.MethodGet, "/admin/rate-limits", q.Values(), nil)
}

func (c *Client) CreateRateLimit(ctx context.Context, req ratelimit.CreateRequest) (ratelimit.Rule, error) {
	return call[ratelimit.Rule](ctx, c, http.MethodPost, "/admin/rate-limits", nil, req)
}

func (c *Client) UpdateRateLimit(ctx context.Context, id string, req ratelimit.UpdateRequest) (ratelimit.Rule, error) {
	return call[ratelimit.Rule](ctx, c, http.MethodPatch, "/admin/rate-limits/"+url.PathEscape(id), nil, req)
}

func (c *Client) DeleteRateLimit(ctx context.Context, id string) error {
	_, err := call[struct{}](ctx, c, http.MethodDelete, "/admin/rate-limits/"+url.PathEscape(id), nil, nil)
	return err
}

func (c *Client) ResetRateLimit(ctx context.Context, id string) (ratelimit.Rule, error) {
	return call[ratelimit.Rule](ctx, c, http.MethodPost, "/admin/rate-limits/"+url.PathEscape(id)+"/reset", nil, nil)
}

// audit logs

func (c *Client) ListAuditLogs(ctx context.Context, q listquery.Query) (AuditLogPage, error) {
	return call[AuditLogPage](ctx, c, http.MethodGet, "/admin/audit-logs", q.Values(), nil)
}

// VerifyAuditLog asks the server to recompute one entry's hash.
func (c *Client) VerifyAuditLog(ctx context.Context, id string) (auditlog.Verification, error) {
	return call[auditlog.Verification](ctx, c, http.MethodGet, "/admin/audit-logs/"+url.PathEscape(id)+"/verify", nil, nil)
}

func (c *Client) VerifyAuditChain(ctx context.Context) (auditlog.ChainReport, error) {
	return call[auditlog.ChainReport](ctx, c, http.MethodGet, "/admin/audit-logs/verify", nil, nil)
}

// ExportAuditLogs returns the CSV export for the list filters; paging is ignored.
func (c *Client) ExportAuditLogs(ctx context.Context, q listquery.Query) ([]byte, error) {
	return c.sendRaw(ctx, http.MethodGet, "/admin/audit-logs/export", q.Values())
}

// transactions

func (c *Client) ListTransactions(ctx context.Context, q listquery.Query) (TransactionPage, error) {
	return call[TransactionPage](ctx, c, http.MethodGet, "/admin/transactions", q.Values(), nil)
}

func (c *Client) ListMyTransactions(ctx context.Context, q listquery.Query) (TransactionPage, error) {
	return call[TransactionPage](ctx, c, http.MethodGet, "/transactions/mine", q.Values(), nil)
}

// jobs

type RetryResult struct {
	JobID  string `json:"jobId"`
	Status string `json:"status"`
}

func (c *Client) RetryJob(ctx context.Context, id string) (RetryResult, error) {
	return call[RetryResult](ctx, c, http.MethodPost, "/admin/jobs/"+url.PathEscape(id)+"/retry", nil, nil)
}

func (c *Client) ReprocessDeadJobs(ctx context.Context, limit int) (int64, error) {
	q := url.Values{"limit": {strconv.Itoa(limit)}}
	res, err := call[struct {
		Requeued int64 `json:"requeued"`
	}](ctx, c, http.MethodPost, "/admin/jobs/reprocess-dead", q, nil)
	return res.Requeued, err
}

type RoutesView struct {
	Role         user.Role `json:"role"`
	Home         string    `json:"home"`
	Routes       []string  `json:"routes"`
	PortalAccess []string  `json:"portalAccess"`
}

func (c *Client) Routes(ctx context.Context) (RoutesView, error) {
	return call[RoutesView](ctx, c, http.MethodGet, "/access/routes", nil, nil)
}
