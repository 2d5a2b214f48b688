package notifications

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"
)

type fakeNotifier struct {
	err   error
	calls int
}

func (f *fakeNotifier) SendCreditAwarded(ctx context.Context, in CreditInput) error {
	f.calls++
	return f.err
}

func (f *fakeNotifier) SendCreditRevoked(ctx context.Context, in CreditInput) error {
	f.calls++
	return f.err
}

func TestProtectedNotifier_OpensAfterThreshold(t *testing.T) {
	inner := &fakeNotifier{err: errors.New("boom")}
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	p := NewProtectedNotifier(inner, ProtectedNotifierConfig{FailureThreshold: 2, Cooldown: time.Minute})
	p.now = func() time.Time { return now }
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if err := p.SendCreditAwarded(ctx, CreditInput{}); err == nil {
			t.Fatalf("expected inner error")
		}
	}

	if p.State() != "open" {
		t.Fatalf("expected open circuit, got %s", p.State())
	}
	if err := p.SendCreditAwarded(ctx, CreditInput{}); !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("expected ErrCircuitOpen, got %v", err)
	}
	if inner.calls != 2 {
		t.Fatalf("open circuit must not call inner, calls=%d", inner.calls)
	}

	// after cooldown a successful trial closes it
	now = now.Add(time.Minute)
	inner.err = nil

	if err := p.SendCreditRevoked(ctx, CreditInput{}); err != nil {
		t.Fatalf("trial call failed: %v", err)
	}
	if p.State() != "closed" {
		t.Fatalf("expected closed after successful trial, got %s", p.State())
	}
}

func TestProtectedNotifier_FailedTrialReopens(t *testing.T) {
	inner := &fakeNotifier{err: errors.New("boom")}
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	p := NewProtectedNotifier(inner, ProtectedNotifierConfig{FailureThreshold: 1, Cooldown: time.Second})
	p.now = func() time.Time { return now }

	_ = p.SendCreditAwarded(context.Background(), CreditInput{})
	now = now.Add(time.Second)
	_ = p.SendCreditAwarded(context.Background(), CreditInput{})

	if p.State() != "open" {
		t.Fatalf("failed trial should reopen, got %s", p.State())
	}
}

func TestLogNotifier(t *testing.T) {
	var buf bytes.Buffer
	n := NewLogNotifier(slog.New(slog.NewJSONHandler(&buf, nil)))

	if err := n.SendCreditAwarded(context.Background(), CreditInput{UserID: "u1", Credits: 5}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(buf.String(), `"msg":"notification.credit_awarded"`) {
		t.Fatalf("missing log line: %s", buf.String())
	}

	n.Fail = true
	if err := n.SendCreditRevoked(context.Background(), CreditInput{}); err == nil {
		t.Fatalf("expected simulated failure")
	}
}

func TestChannel(t *testing.T) {
	if Channel("u1") != "impacthub:notifications:u1" {
		t.Fatalf("unexpected channel %q", Channel("u1"))
	}
}
