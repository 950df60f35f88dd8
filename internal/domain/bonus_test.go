package domain

import (
	"testing"
	"time"
)

func TestBonusEligible(t *testing.T) {
	now := time.Date(2026, time.March, 10, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name        string
		lastBonusAt *time.Time
		want        bool
	}{
		{
			name:        "never credited is always eligible",
			lastBonusAt: nil,
			want:        true,
		},
		{
			name:        "credited one hour ago is ineligible",
			lastBonusAt: timePtr(now.Add(-1 * time.Hour)),
			want:        false,
		},
		{
			name:        "credited just under 24h ago is ineligible",
			lastBonusAt: timePtr(now.Add(-24*time.Hour + time.Second)),
			want:        false,
		},
		{
			name:        "credited exactly 24h ago is eligible",
			lastBonusAt: timePtr(now.Add(-24 * time.Hour)),
			want:        true,
		},
		{
			name:        "credited two days ago is eligible",
			lastBonusAt: timePtr(now.Add(-48 * time.Hour)),
			want:        true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := BonusEligible(tt.lastBonusAt, now); got != tt.want {
				t.Fatalf("expected eligible=%v, got %v", tt.want, got)
			}
		})
	}
}

func TestBonusRetryAfter(t *testing.T) {
	now := time.Date(2026, time.March, 10, 12, 0, 0, 0, time.UTC)

	if d := BonusRetryAfter(nil, now); d != 0 {
		t.Fatalf("expected zero retry-after for never-credited account, got %v", d)
	}

	last := now.Add(-20 * time.Hour)
	if d := BonusRetryAfter(&last, now); d != 4*time.Hour {
		t.Fatalf("expected 4h retry-after, got %v", d)
	}

	stale := now.Add(-30 * time.Hour)
	if d := BonusRetryAfter(&stale, now); d != 0 {
		t.Fatalf("expected zero retry-after for eligible account, got %v", d)
	}
}

func timePtr(t time.Time) *time.Time { return &t }
