package clock_test

import (
	"testing"
	"time"

	"github.com/otrix/occam-agents/internal/clock"
	"github.com/stretchr/testify/assert"
)

func TestManualAdvanceFiresAfter(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	m := clock.NewManual(start)

	fired := make(chan time.Time, 1)
	go func() {
		fired <- <-m.After(5 * time.Minute)
	}()

	m.Advance(2 * time.Minute)
	select {
	case <-fired:
		t.Fatal("should not have fired before deadline")
	case <-time.After(20 * time.Millisecond):
	}

	m.Advance(3 * time.Minute)
	select {
	case got := <-fired:
		assert.Equal(t, start.Add(5*time.Minute), got)
	case <-time.After(time.Second):
		t.Fatal("timer did not fire after deadline crossed")
	}
}

func TestManualNowIsMonotonicNonDecreasing(t *testing.T) {
	m := clock.NewManual(time.Now())
	t0 := m.Now()
	m.Advance(time.Second)
	t1 := m.Now()
	assert.True(t, t1.After(t0))
}
