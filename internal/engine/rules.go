package engine

import (
	"trainingquiz/internal/domain"
)

// GameRules is the per-kind behavior bundle selected once when a session is
// constructed, instead of branching on the game kind at every call site.
type GameRules interface {
	Kind() domain.GameKind
	// ComputeScore scores one answer event against the item at itemIndex.
	ComputeScore(ans AnswerEvent, item domain.Item, itemIndex, priorStreak int) ScoreResult
	// HasCard reports whether this kind plays on a markable card grid.
	HasCard() bool
	// StartIndex is the item index a joining participant enters at. Late
	// joiners also start here: entry is always at an item boundary.
	StartIndex() int
}

// RulesFor selects the rule variant for a game kind. Unknown kinds fall
// back to plain quiz rules.
func RulesFor(kind domain.GameKind, r domain.ScoreRules) GameRules {
	r = r.Normalized()
	switch kind {
	case domain.GameKindLadder:
		return ladderRules{rules: r}
	case domain.GameKindCardMatch:
		return cardMatchRules{rules: r}
	case domain.GameKindTimedRound:
		return timedRoundRules{rules: r}
	default:
		return quizRules{rules: r}
	}
}

type quizRules struct {
	rules domain.ScoreRules
}

func (quizRules) Kind() domain.GameKind { return domain.GameKindQuiz }
func (quizRules) HasCard() bool         { return false }
func (quizRules) StartIndex() int       { return 0 }

func (q quizRules) ComputeScore(ans AnswerEvent, item domain.Item, _, priorStreak int) ScoreResult {
	// Quiz is the only kind with the declared-confidence bonus.
	return scoreAnswer(ans, item, defaultBasePoints(item), priorStreak, q.rules, true)
}

type ladderRules struct {
	rules domain.ScoreRules
}

func (ladderRules) Kind() domain.GameKind { return domain.GameKindLadder }
func (ladderRules) HasCard() bool         { return false }
func (ladderRules) StartIndex() int       { return 0 }

func (l ladderRules) ComputeScore(ans AnswerEvent, item domain.Item, itemIndex, priorStreak int) ScoreResult {
	base := defaultBasePoints(item)
	if n := len(l.rules.LadderValues); n > 0 {
		idx := itemIndex
		if idx >= n {
			idx = n - 1
		}
		if idx < 0 {
			idx = 0
		}
		base = l.rules.LadderValues[idx]
	}
	return scoreAnswer(ans, item, base, priorStreak, l.rules, false)
}

type cardMatchRules struct {
	rules domain.ScoreRules
}

func (cardMatchRules) Kind() domain.GameKind { return domain.GameKindCardMatch }
func (cardMatchRules) HasCard() bool         { return true }
func (cardMatchRules) StartIndex() int       { return 0 }

func (c cardMatchRules) ComputeScore(ans AnswerEvent, item domain.Item, _, priorStreak int) ScoreResult {
	return scoreAnswer(ans, item, defaultBasePoints(item), priorStreak, c.rules, false)
}

// PatternAward returns the configured point value for a completed pattern.
func (c cardMatchRules) PatternAward(name string) int {
	if v, ok := c.rules.PatternPoints[name]; ok {
		return v
	}
	return 100
}

type timedRoundRules struct {
	rules domain.ScoreRules
}

func (timedRoundRules) Kind() domain.GameKind { return domain.GameKindTimedRound }
func (timedRoundRules) HasCard() bool         { return false }
func (timedRoundRules) StartIndex() int       { return 0 }

func (t timedRoundRules) ComputeScore(ans AnswerEvent, item domain.Item, _, priorStreak int) ScoreResult {
	limit := item.TimeLimitSeconds
	if limit <= 0 {
		limit = 30
	}
	fraction := ans.ElapsedSeconds / limit
	if fraction < 0 {
		fraction = 0
	}
	if fraction > 1 {
		fraction = 1
	}
	base := t.rules.MaxPoints - roundToInt(t.rules.DecayFactor*fraction)
	if base < t.rules.MinPoints {
		base = t.rules.MinPoints
	}
	return scoreAnswer(ans, item, base, priorStreak, t.rules, false)
}

// PatternAwarder is implemented by rule variants that award points for
// completed card patterns.
type PatternAwarder interface {
	PatternAward(name string) int
}
