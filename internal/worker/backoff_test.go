package worker

import (
	"testing"
	"time"
)

func TestBackoffDoublesPerAttempt(t *testing.T) {
	base := 100 * time.Millisecond
	ceiling := 10 * time.Second

	cases := []struct {
		attempt int
		want    time.Duration
	}{
		{attempt: 1, want: 100 * time.Millisecond},
		{attempt: 2, want: 200 * time.Millisecond},
		{attempt: 3, want: 400 * time.Millisecond},
		{attempt: 4, want: 800 * time.Millisecond},
	}
	for _, tc := range cases {
		got := Backoff(base, tc.attempt, ceiling)
		if got != tc.want {
			t.Errorf("Backoff(attempt=%d) = %v, want %v", tc.attempt, got, tc.want)
		}
	}
}

func TestBackoffRespectsCeiling(t *testing.T) {
	got := Backoff(time.Second, 10, 5*time.Second)
	if got != 5*time.Second {
		t.Fatalf("expected ceiling of 5s, got %v", got)
	}
}

func TestBackoffTreatsZeroAttemptAsFirst(t *testing.T) {
	got := Backoff(100*time.Millisecond, 0, time.Second)
	if got != 100*time.Millisecond {
		t.Fatalf("expected attempt<1 to behave like attempt 1, got %v", got)
	}
}
