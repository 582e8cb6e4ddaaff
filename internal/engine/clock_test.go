package engine

import (
	"testing"
	"time"
)

func TestRemainingIsDeterministic(t *testing.T) {
	start := time.Date(2026, 2, 10, 9, 0, 0, 0, time.UTC)
	a := StartAnchor(start, 120)

	now := start.Add(37*time.Second + 400*time.Millisecond)
	first := a.Remaining(now)
	second := a.Remaining(now)
	if first != second {
		t.Fatalf("same input gave different results: %d vs %d", first, second)
	}
	// 120 - floor(37.4) = 83.
	if first != 83 {
		t.Fatalf("expected 83 seconds remaining, got %d", first)
	}
}

func TestRemainingNeverIncreases(t *testing.T) {
	start := time.Date(2026, 2, 10, 9, 0, 0, 0, time.UTC)
	a := StartAnchor(start, 60)

	prev := a.Remaining(start)
	for i := 1; i <= 70; i++ {
		now := start.Add(time.Duration(i) * 900 * time.Millisecond)
		rem := a.Remaining(now)
		if rem > prev {
			t.Fatalf("remaining increased from %d to %d at step %d", prev, rem, i)
		}
		prev = rem
	}
	if prev != 0 {
		t.Fatalf("expected clamp at 0, got %d", prev)
	}
}

func TestRemainingFloorsElapsedSeconds(t *testing.T) {
	start := time.Date(2026, 2, 10, 9, 0, 0, 0, time.UTC)
	a := StartAnchor(start, 120)

	if got := a.Remaining(start.Add(30*time.Second + 999*time.Millisecond)); got != 90 {
		t.Fatalf("expected floor to 90, got %d", got)
	}
	if got := a.Remaining(start.Add(31 * time.Second)); got != 89 {
		t.Fatalf("expected 89, got %d", got)
	}
}

func TestRemainingClampsClockSkew(t *testing.T) {
	start := time.Date(2026, 2, 10, 9, 0, 0, 0, time.UTC)
	a := StartAnchor(start, 120)

	// A device whose clock lags behind the anchor must not overshoot the budget.
	if got := a.Remaining(start.Add(-5 * time.Second)); got != 120 {
		t.Fatalf("expected clamp to total 120, got %d", got)
	}
}

func TestPauseFreezesRemaining(t *testing.T) {
	start := time.Date(2026, 2, 10, 9, 0, 0, 0, time.UTC)
	a := StartAnchor(start, 120)

	paused := a.Pause(start.Add(75 * time.Second))
	if paused.FrozenRemainingSeconds != 45 {
		t.Fatalf("expected frozen remaining 45, got %d", paused.FrozenRemainingSeconds)
	}

	// Time flowing during the pause never changes the displayed value.
	for _, later := range []time.Duration{0, time.Minute, time.Hour} {
		if got := paused.Remaining(start.Add(75*time.Second + later)); got != 45 {
			t.Fatalf("paused remaining drifted to %d after %v", got, later)
		}
	}
}

func TestResumeIsContinuousAcrossPause(t *testing.T) {
	start := time.Date(2026, 2, 10, 9, 0, 0, 0, time.UTC)
	a := StartAnchor(start, 120)

	paused := a.Pause(start.Add(75 * time.Second))
	resumeAt := start.Add(10 * time.Minute)
	resumed := paused.Resume(resumeAt)

	if resumed.Paused {
		t.Fatalf("resume left anchor paused")
	}
	if got := resumed.Remaining(resumeAt); got != 45 {
		t.Fatalf("remaining not continuous across pause: got %d, want 45", got)
	}
	if got := resumed.Remaining(resumeAt.Add(45 * time.Second)); got != 0 {
		t.Fatalf("expected expiry 45s after resume, got %d", got)
	}
	if !resumed.Expired(resumeAt.Add(46 * time.Second)) {
		t.Fatalf("expected anchor expired")
	}
}

func TestResumeWithoutPauseIsNoop(t *testing.T) {
	start := time.Date(2026, 2, 10, 9, 0, 0, 0, time.UTC)
	a := StartAnchor(start, 120)

	if got := a.Resume(start.Add(time.Minute)); got != a {
		t.Fatalf("resume of running anchor changed it: %+v", got)
	}
}

func TestUnanchoredReturnsFullBudget(t *testing.T) {
	a := Anchor{TotalSeconds: 90}
	if got := a.Remaining(time.Now()); got != 90 {
		t.Fatalf("expected full budget 90 before anchor set, got %d", got)
	}
	if a.Expired(time.Now()) {
		t.Fatalf("unanchored timer must not read as expired")
	}
}
