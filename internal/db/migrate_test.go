package db

import (
	"strings"
	"testing"
)

func TestMigrationNames_SortedAndEmbedded(t *testing.T) {
	names, err := migrationNames()
	if err != nil {
		t.Fatalf("migrationNames error: %v", err)
	}

	if len(names) == 0 {
		t.Fatalf("expected embedded migrations")
	}

	for i, n := range names {
		if !strings.HasSuffix(n, ".up.sql") {
			t.Fatalf("unexpected migration file %q", n)
		}
		if i > 0 && names[i-1] >= n {
			t.Fatalf("migrations not sorted: %v", names)
		}
	}

	if names[0] != "0001_init.up.sql" {
		t.Fatalf("expected 0001_init.up.sql first, got %q", names[0])
	}
}
