package engine

import (
	"time"

	"trainingquiz/internal/domain"
)

// Anchor is the shared timer state every device derives its clock from.
// It is written once per phase start and once per pause/resume transition;
// no periodic write ever touches it while the timer runs. Remaining time is
// a pure projection of (anchor, now), so recomputing it for unchanged
// inputs always yields the same value.
type Anchor struct {
	StartMillis            int64
	TotalSeconds           int
	Paused                 bool
	FrozenRemainingSeconds int
}

// SessionAnchor extracts the anchor fields from a session document.
func SessionAnchor(s domain.SessionDoc) Anchor {
	return Anchor{
		StartMillis:            s.AnchorMillis,
		TotalSeconds:           s.TotalDurationSeconds,
		Paused:                 s.Paused,
		FrozenRemainingSeconds: s.RemainingAtPauseSeconds,
	}
}

// StartAnchor returns a fresh running anchor beginning at now.
func StartAnchor(now time.Time, totalSeconds int) Anchor {
	return Anchor{
		StartMillis:  now.UnixMilli(),
		TotalSeconds: totalSeconds,
	}
}

// Remaining computes whole seconds left on the caller's own clock:
// max(0, total - floor(elapsed)). A clock that reads before the anchor
// (cross-device skew) clamps to the full budget rather than overshooting.
func (a Anchor) Remaining(now time.Time) int {
	if a.Paused {
		return clampSeconds(a.FrozenRemainingSeconds, a.TotalSeconds)
	}
	if a.StartMillis == 0 {
		return a.TotalSeconds
	}
	elapsedMillis := now.UnixMilli() - a.StartMillis
	if elapsedMillis < 0 {
		elapsedMillis = 0
	}
	remaining := a.TotalSeconds - int(elapsedMillis/1000)
	if remaining < 0 {
		return 0
	}
	return remaining
}

// Expired reports whether the running timer has reached zero.
func (a Anchor) Expired(now time.Time) bool {
	return !a.Paused && a.StartMillis != 0 && a.Remaining(now) == 0
}

// Pause freezes the anchor at the remaining value observed now.
func (a Anchor) Pause(now time.Time) Anchor {
	a.FrozenRemainingSeconds = a.Remaining(now)
	a.Paused = true
	return a
}

// Resume computes a new start so that the displayed remaining time is
// continuous across the pause: newStart = now - (total - frozen) seconds.
func (a Anchor) Resume(now time.Time) Anchor {
	if !a.Paused {
		return a
	}
	consumed := a.TotalSeconds - clampSeconds(a.FrozenRemainingSeconds, a.TotalSeconds)
	a.StartMillis = now.UnixMilli() - int64(consumed)*1000
	a.Paused = false
	a.FrozenRemainingSeconds = 0
	return a
}

func clampSeconds(v, max int) int {
	if v < 0 {
		return 0
	}
	if v > max {
		return max
	}
	return v
}
