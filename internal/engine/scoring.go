package engine

import (
	"math"

	"trainingquiz/internal/domain"
)

// AwardType labels one contribution of a score breakdown.
type AwardType string

const (
	AwardBase       AwardType = "base"
	AwardSpeed      AwardType = "speed"
	AwardStreak     AwardType = "streak"
	AwardMilestone  AwardType = "milestone"
	AwardConfidence AwardType = "confidence"
	AwardPattern    AwardType = "pattern"
)

// Award is a single point contribution, retained so the UI can show how a
// total was assembled.
type Award struct {
	Type   AwardType `json:"type"`
	Amount int       `json:"amount"`
}

// AnswerEvent is the input to the scoring engine. Elapsed time is sampled
// by the caller, never inside the engine.
type AnswerEvent struct {
	ItemID         string
	ChoiceIndex    int
	Correct        bool
	Skipped        bool
	ElapsedSeconds float64
	// Confidence is the participant's declared confidence in [0, 1];
	// zero means none was declared.
	Confidence float64
}

// ScoreResult is the deterministic output for one answer event.
type ScoreResult struct {
	Points    int
	NewStreak int
	Breakdown []Award
}

// Total sums the breakdown; it always equals Points.
func (r ScoreResult) Total() int {
	t := 0
	for _, a := range r.Breakdown {
		t += a.Amount
	}
	return t
}

// scoreAnswer applies the bonus ladder shared by every game kind on top of
// a kind-specific base value. Incorrect and skipped answers score zero and
// reset the streak. A malformed item (no id) degrades to a zero-point skip
// instead of failing the whole session.
func scoreAnswer(ans AnswerEvent, item domain.Item, basePoints, priorStreak int, rules domain.ScoreRules, confidenceEligible bool) ScoreResult {
	if item.ID == "" || ans.Skipped || !ans.Correct {
		return ScoreResult{Points: 0, NewStreak: 0, Breakdown: nil}
	}

	breakdown := []Award{{Type: AwardBase, Amount: basePoints}}
	points := basePoints

	timeLimit := item.TimeLimitSeconds
	if timeLimit <= 0 {
		timeLimit = 30
	}
	if ans.ElapsedSeconds <= rules.SpeedThresholdFraction*timeLimit {
		bonus := roundToInt(float64(basePoints) * (rules.SpeedMultiplier - 1))
		points += bonus
		breakdown = append(breakdown, Award{Type: AwardSpeed, Amount: bonus})
	}

	newStreak := priorStreak + 1
	if newStreak >= rules.StreakThreshold {
		bonus := roundToInt(float64(basePoints) * (rules.StreakMultiplier - 1))
		points += bonus
		breakdown = append(breakdown, Award{Type: AwardStreak, Amount: bonus})
	}
	for _, m := range rules.StreakMilestones {
		if newStreak == m.Length {
			points += m.Bonus
			breakdown = append(breakdown, Award{Type: AwardMilestone, Amount: m.Bonus})
		}
	}

	if confidenceEligible && ans.Confidence >= rules.ConfidenceThreshold {
		bonus := roundToInt(float64(basePoints) * rules.ConfidenceBonusFraction)
		points += bonus
		breakdown = append(breakdown, Award{Type: AwardConfidence, Amount: bonus})
	}

	return ScoreResult{Points: points, NewStreak: newStreak, Breakdown: breakdown}
}

func roundToInt(v float64) int {
	return int(math.Round(v))
}

func defaultBasePoints(item domain.Item) int {
	if item.BasePoints > 0 {
		return item.BasePoints
	}
	return 100
}
