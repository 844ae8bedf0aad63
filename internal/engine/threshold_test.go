package engine

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func TestEvaluate(t *testing.T) {
	threshold := decimal.RequireFromString("1.05")

	cases := []struct {
		name  string
		price string
		mode  Mode
		want  bool
	}{
		{"above triggers at_or_above", "1.06", ModeAtOrAbove, true},
		{"equal triggers at_or_above", "1.05", ModeAtOrAbove, true},
		{"below does not trigger at_or_above", "1.0499", ModeAtOrAbove, false},
		{"below triggers at_or_below", "1.04", ModeAtOrBelow, true},
		{"equal triggers at_or_below", "1.05", ModeAtOrBelow, true},
		{"above does not trigger at_or_below", "1.051", ModeAtOrBelow, false},
		{"unknown mode never triggers", "1.06", Mode("sideways"), false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			price := decimal.RequireFromString(tc.price)
			if got := Evaluate(price, threshold, tc.mode); got != tc.want {
				t.Fatalf("Evaluate(%s, %s, %s) = %v, want %v", tc.price, threshold, tc.mode, got, tc.want)
			}
		})
	}
}

func TestBackoffDelayDoublesUpToCap(t *testing.T) {
	base := 2 * time.Second
	maxDelay := 10 * time.Second

	got := []int64{
		int64(backoffDelay(base, maxDelay, 1) / time.Second),
		int64(backoffDelay(base, maxDelay, 2) / time.Second),
		int64(backoffDelay(base, maxDelay, 3) / time.Second),
		int64(backoffDelay(base, maxDelay, 4) / time.Second),
		int64(backoffDelay(base, maxDelay, 5) / time.Second),
	}
	want := []int64{2, 4, 8, 10, 10}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("delay for %d failures = %ds, want %ds", i+1, got[i], want[i])
		}
	}
}
