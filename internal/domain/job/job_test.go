package job

import (
	"testing"
	"time"
)

func TestNew_Defaults(t *testing.T) {
	key := "award:1"
	j := New(CreateRequest{Type: "activity.credit_award", IdempotencyKey: &key})

	if j.Status != StatusPending || j.Attempts != 0 || j.MaxAttempts != 10 {
		t.Fatalf("unexpected defaults: %+v", j)
	}
	if j.RunAt.IsZero() || j.ID == "" {
		t.Fatalf("run_at and id must be set: %+v", j)
	}
	if j.IdempotencyKey == nil || *j.IdempotencyKey != key {
		t.Fatalf("idempotency key not carried")
	}
}

func TestNew_KeepsExplicitRunAt(t *testing.T) {
	at := time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC)
	j := New(CreateRequest{Type: "x", RunAt: at, MaxAttempts: 3})

	if !j.RunAt.Equal(at) || j.MaxAttempts != 3 {
		t.Fatalf("unexpected job: %+v", j)
	}
}
