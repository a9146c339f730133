package orchestrator

import (
	"testing"
	"time"
)

func TestBackoffForExponentialGrowth(t *testing.T) {
	base := 250 * time.Millisecond
	maxBackoff := 5 * time.Second

	cases := []struct {
		attempt int
		want    time.Duration
	}{
		{0, 250 * time.Millisecond},
		{1, 500 * time.Millisecond},
		{2, time.Second},
		{3, 2 * time.Second},
		{4, 4 * time.Second},
	}
	for _, c := range cases {
		if got := backoffFor(c.attempt, base, maxBackoff); got != c.want {
			t.Errorf("backoffFor(%d) = %s, want %s", c.attempt, got, c.want)
		}
	}
}

func TestBackoffForCapsAtMax(t *testing.T) {
	got := backoffFor(10, 250*time.Millisecond, 5*time.Second)
	if got != 5*time.Second {
		t.Fatalf("expected backoff to cap at 5s, got %s", got)
	}
}

func TestStageDeadlineScalesAndClamps(t *testing.T) {
	got := stageDeadline(400, 2.0, 10000)
	if got != 800*time.Millisecond {
		t.Fatalf("expected 800ms deadline, got %s", got)
	}
}

func TestStageDeadlineClampsToMax(t *testing.T) {
	got := stageDeadline(10000, 3.0, 5000)
	if got != 5*time.Second {
		t.Fatalf("expected deadline clamped to 5s, got %s", got)
	}
}

func TestStageDeadlineFallsBackToMaxWhenZero(t *testing.T) {
	got := stageDeadline(0, 2.0, 3000)
	if got != 3*time.Second {
		t.Fatalf("expected deadline to fall back to max for a zero estimate, got %s", got)
	}
}
