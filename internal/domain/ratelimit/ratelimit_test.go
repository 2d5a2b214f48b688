package ratelimit

import "testing"

func TestWithUsage_CriticalAt96Percent(t *testing.T) {
	r := Rule{Endpoint: "/api/activities", Method: "POST", Limit: 50}.WithUsage(48)

	if r.Percentage != 96 {
		t.Fatalf("expected 96%%, got %d", r.Percentage)
	}
	if r.Status != StatusCritical {
		t.Fatalf("expected critical, got %s", r.Status)
	}
	if r.ProgressColor != ColorCritical {
		t.Fatalf("expected %s, got %s", ColorCritical, r.ProgressColor)
	}
}

func TestPercentageAndBands(t *testing.T) {
	tests := []struct {
		name           string
		current, limit int
		wantPct        int
		wantStatus     Status
		wantColor      string
	}{
		{"zero limit", 10, 0, 0, StatusNormal, ColorNormal},
		{"idle", 0, 100, 0, StatusNormal, ColorNormal},
		{"just under warning", 69, 100, 69, StatusNormal, ColorNormal},
		{"warning edge", 70, 100, 70, StatusWarning, ColorWarning},
		{"critical edge", 90, 100, 90, StatusCritical, ColorCritical},
		{"over limit", 150, 100, 150, StatusCritical, ColorCritical},
		{"rounds", 2, 3, 67, StatusNormal, ColorNormal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pct := Percentage(tt.current, tt.limit)
			if pct != tt.wantPct {
				t.Fatalf("percentage = %d, want %d", pct, tt.wantPct)
			}
			if got := StatusFor(pct); got != tt.wantStatus {
				t.Fatalf("status = %s, want %s", got, tt.wantStatus)
			}
			if got := ProgressColor(pct); got != tt.wantColor {
				t.Fatalf("color = %s, want %s", got, tt.wantColor)
			}
		})
	}
}

func TestKeyNormalizesMethod(t *testing.T) {
	if got := Key("post", "/auth/login"); got != "POST /auth/login" {
		t.Fatalf("unexpected key %q", got)
	}
}

func TestSummarize(t *testing.T) {
	rules := []Rule{
		Rule{Limit: 50}.WithUsage(48),
		Rule{Limit: 100}.WithUsage(75),
		Rule{Limit: 100}.WithUsage(10),
		Rule{Limit: 0}.WithUsage(10),
	}

	s := Summarize(rules)
	if s.Total != 4 || s.Critical != 1 || s.Warning != 1 || s.Normal != 2 {
		t.Fatalf("unexpected stats: %+v", s)
	}
}
