package audit

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"testing"
	"time"

	"github.com/geocoder89/impacthub/internal/actorctx"
	"github.com/geocoder89/impacthub/internal/domain/auditlog"
)

// memStore is an in-process chain with the same ordering rules as the postgres repo.
type memStore struct {
	entries []auditlog.Entry
}

func (m *memStore) Append(ctx context.Context, seal func(string) (auditlog.Entry, error)) (auditlog.Entry, error) {
	prev := GenesisHash
	if len(m.entries) > 0 {
		prev = m.entries[len(m.entries)-1].Hash
	}

	e, err := seal(prev)
	if err != nil {
		return auditlog.Entry{}, err
	}

	e.Seq = int64(len(m.entries) + 1)
	m.entries = append(m.entries, e)
	return e, nil
}

func (m *memStore) GetByID(ctx context.Context, id string) (auditlog.Entry, error) {
	for _, e := range m.entries {
		if e.ID == id {
			return e, nil
		}
	}
	return auditlog.Entry{}, auditlog.ErrNotFound
}

func (m *memStore) Predecessor(ctx context.Context, seq int64) (auditlog.Entry, bool, error) {
	if seq <= 1 {
		return auditlog.Entry{}, false, nil
	}
	return m.entries[seq-2], true, nil
}

func (m *memStore) Each(ctx context.Context, f auditlog.ListFilter, fn func(auditlog.Entry) error) error {
	for _, e := range m.entries {
		if f.Severity != nil && e.Severity != *f.Severity {
			continue
		}
		if err := fn(e); err != nil {
			return err
		}
	}
	return nil
}

func seedChain(t *testing.T, n int) (*memStore, *Recorder) {
	t.Helper()

	store := &memStore{}
	rec := NewRecorder(store, nil, nil)

	base := time.Date(2026, 5, 1, 9, 0, 0, 123456789, time.UTC)
	i := 0
	rec.now = func() time.Time {
		i++
		return base.Add(time.Duration(i) * time.Second)
	}

	for k := 0; k < n; k++ {
		sev := auditlog.SeverityInfo
		if k%2 == 1 {
			sev = auditlog.SeverityCritical
		}

		_, err := rec.Record(context.Background(), auditlog.Record{
			Actor:    "admin@example.com",
			Action:   "user.update",
			Resource: "user",
			Severity: sev,
			Details:  map[string]string{"field": "role", "to": "ngo"},
		})
		if err != nil {
			t.Fatalf("Record error: %v", err)
		}
	}

	return store, rec
}

func TestRecorder_BuildsValidChain(t *testing.T) {
	store, _ := seedChain(t, 4)

	if store.entries[0].PrevHash != GenesisHash {
		t.Fatalf("first entry must link to genesis")
	}
	for i := 1; i < len(store.entries); i++ {
		if store.entries[i].PrevHash != store.entries[i-1].Hash {
			t.Fatalf("entry %d not linked to its predecessor", i)
		}
		if store.entries[i].ID <= store.entries[i-1].ID {
			t.Fatalf("ulids should sort in append order")
		}
	}

	report, err := NewVerifier(store).VerifyChain(context.Background())
	if err != nil {
		t.Fatalf("VerifyChain error: %v", err)
	}
	if !report.Valid || report.Checked != 4 || report.FirstBad != "" {
		t.Fatalf("unexpected report: %+v", report)
	}
}

func TestVerify_DetectsTampering(t *testing.T) {
	store, _ := seedChain(t, 3)
	v := NewVerifier(store)
	ctx := context.Background()

	store.entries[1].Action = "user.delete"
	tampered := store.entries[1].ID

	single, err := v.Verify(ctx, tampered)
	if err != nil {
		t.Fatalf("Verify error: %v", err)
	}
	if single.Valid || single.Expected == single.Stored {
		t.Fatalf("tampered entry should fail: %+v", single)
	}

	// the next entry still hashes correctly on its own
	next, _ := v.Verify(ctx, store.entries[2].ID)
	if !next.Valid {
		t.Fatalf("untouched entry should verify: %+v", next)
	}

	report, _ := v.VerifyChain(ctx)
	if report.Valid || report.FirstBad != tampered || report.Checked != 3 {
		t.Fatalf("unexpected report: %+v", report)
	}
}

func TestVerify_DetectsBrokenLink(t *testing.T) {
	store, _ := seedChain(t, 2)

	// rewrite the first entry consistently; the second one's link now dangles
	first := store.entries[0]
	first.Actor = "mallory"
	first.Hash = ComputeHash(first.PrevHash, first)
	store.entries[0] = first

	got, err := NewVerifier(store).Verify(context.Background(), store.entries[1].ID)
	if err != nil {
		t.Fatalf("Verify error: %v", err)
	}
	if got.Valid || !got.BrokenLink {
		t.Fatalf("expected broken link, got %+v", got)
	}
}

func TestComputeHash_DetailOrderIrrelevant(t *testing.T) {
	e := auditlog.Entry{ID: "x", Timestamp: time.Unix(0, 0), Details: map[string]string{"a": "1", "b": "2"}}
	f := e
	f.Details = map[string]string{"b": "2", "a": "1"}

	if ComputeHash("p", e) != ComputeHash("p", f) {
		t.Fatalf("hash must not depend on map order")
	}
	if ComputeHash("p", e) == ComputeHash("q", e) {
		t.Fatalf("hash must cover prev hash")
	}
}

func TestComputeHash_FieldBoundaries(t *testing.T) {
	a := auditlog.Entry{Actor: "ab", Action: "c"}
	b := auditlog.Entry{Actor: "a", Action: "bc"}

	if ComputeHash("", a) == ComputeHash("", b) {
		t.Fatalf("shifting text across fields must change the hash")
	}
}

func TestRecorder_DefaultsFromContext(t *testing.T) {
	store := &memStore{}
	rec := NewRecorder(store, nil, nil)

	ctx := actorctx.WithActor(context.Background(), actorctx.Actor{UserID: "u1", Email: "root@example.com", Role: "admin"})
	ctx = actorctx.WithRequestID(ctx, "req-1")
	ctx = actorctx.WithClientIP(ctx, "10.0.0.1")

	e, err := rec.Record(ctx, auditlog.Record{Action: "ratelimit.reset"})
	if err != nil {
		t.Fatalf("Record error: %v", err)
	}

	if e.Actor != "root@example.com" || e.ActorID != "u1" || e.ActorRole != "admin" {
		t.Fatalf("actor not taken from context: %+v", e)
	}
	if e.RequestID != "req-1" || e.IP != "10.0.0.1" {
		t.Fatalf("request metadata not taken from context: %+v", e)
	}
	if e.Severity != auditlog.SeverityInfo || e.Status != auditlog.StatusSuccess {
		t.Fatalf("unexpected defaults: %+v", e)
	}
}

type failingStore struct{}

func (failingStore) Append(context.Context, func(string) (auditlog.Entry, error)) (auditlog.Entry, error) {
	return auditlog.Entry{}, errors.New("db down")
}

func TestRecorder_PropagatesStoreError(t *testing.T) {
	rec := NewRecorder(failingStore{}, nil, nil)

	if _, err := rec.Record(context.Background(), auditlog.Record{Action: "x"}); err == nil {
		t.Fatalf("expected error")
	}
}

func TestExportCSV(t *testing.T) {
	store, _ := seedChain(t, 4)
	var buf bytes.Buffer

	crit := auditlog.SeverityCritical
	n, err := NewVerifier(store).ExportCSV(context.Background(), &buf, auditlog.ListFilter{Severity: &crit})
	if err != nil {
		t.Fatalf("ExportCSV error: %v", err)
	}
	if n != 2 {
		t.Fatalf("expected 2 critical rows, got %d", n)
	}

	records, err := csv.NewReader(&buf).ReadAll()
	if err != nil {
		t.Fatalf("csv parse: %v", err)
	}
	if len(records) != 3 || records[0][0] != "id" {
		t.Fatalf("unexpected csv: %v", records)
	}
	if records[1][13] != "field=role to=ngo" {
		t.Fatalf("unexpected details column %q", records[1][13])
	}
}
