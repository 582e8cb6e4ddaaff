package domain

// Option represents a possible answer for an item.
type Option struct {
	ID      string `json:"id"`
	Text    string `json:"text"`
	Correct bool   `json:"correct"`
}

// Item models one question or round of a game. BasePoints defaults to 100
// if zero; TimeLimitSeconds defaults to the rules' item time limit.
type Item struct {
	ID               string   `json:"id"`
	Prompt           string   `json:"prompt"`
	Options          []Option `json:"options"`
	BasePoints       int      `json:"basePoints"`
	TimeLimitSeconds float64  `json:"timeLimitSeconds"`
}

// StreakMilestone awards a fixed bonus when a streak reaches Length.
type StreakMilestone struct {
	Length int `json:"length"`
	Bonus  int `json:"bonus"`
}

// ScoreRules carries every tunable of the scoring engine. All fields have
// usable explicit defaults via Normalized, so a game definition loaded with
// missing numeric fields never produces silent zero-point play.
type ScoreRules struct {
	SpeedThresholdFraction  float64           `json:"speedThresholdFraction"`
	SpeedMultiplier         float64           `json:"speedMultiplier"`
	StreakThreshold         int               `json:"streakThreshold"`
	StreakMultiplier        float64           `json:"streakMultiplier"`
	StreakMilestones        []StreakMilestone `json:"streakMilestones"`
	ConfidenceThreshold     float64           `json:"confidenceThreshold"`
	ConfidenceBonusFraction float64           `json:"confidenceBonusFraction"`

	// Timed-round decay: base = MaxPoints - DecayFactor*elapsedFraction,
	// floored at MinPoints.
	MaxPoints   int     `json:"maxPoints"`
	MinPoints   int     `json:"minPoints"`
	DecayFactor float64 `json:"decayFactor"`

	// Ladder games: position-indexed base values.
	LadderValues []int `json:"ladderValues"`

	// Card-match games.
	CardSize      int            `json:"cardSize"`
	PatternPoints map[string]int `json:"patternPoints"`
}

// Normalized returns a copy with zero-valued tunables replaced by defaults.
func (r ScoreRules) Normalized() ScoreRules {
	if r.SpeedThresholdFraction <= 0 {
		r.SpeedThresholdFraction = 0.25
	}
	if r.SpeedMultiplier <= 0 {
		r.SpeedMultiplier = 1.5
	}
	if r.StreakThreshold <= 0 {
		r.StreakThreshold = 3
	}
	if r.StreakMultiplier <= 0 {
		r.StreakMultiplier = 1.5
	}
	if len(r.StreakMilestones) == 0 {
		r.StreakMilestones = []StreakMilestone{
			{Length: 5, Bonus: 50},
			{Length: 10, Bonus: 100},
			{Length: 15, Bonus: 200},
			{Length: 20, Bonus: 400},
		}
	}
	if r.ConfidenceThreshold <= 0 {
		r.ConfidenceThreshold = 0.75
	}
	if r.ConfidenceBonusFraction <= 0 {
		r.ConfidenceBonusFraction = 0.25
	}
	if r.MaxPoints <= 0 {
		r.MaxPoints = 100
	}
	if r.MinPoints <= 0 {
		r.MinPoints = 10
	}
	if r.DecayFactor <= 0 {
		r.DecayFactor = float64(r.MaxPoints - r.MinPoints)
	}
	if r.CardSize <= 0 {
		r.CardSize = 5
	}
	return r
}

// Game is a complete game definition: content plus rule parameters.
type Game struct {
	ID                   string     `json:"id"`
	Kind                 GameKind   `json:"kind"`
	Title                string     `json:"title"`
	Items                []Item     `json:"items"`
	Rules                ScoreRules `json:"rules"`
	TotalDurationSeconds int        `json:"totalDurationSeconds"`
}

// ItemByID finds an item by id, or nil.
func (g Game) ItemByID(id string) *Item {
	for i := range g.Items {
		if g.Items[i].ID == id {
			return &g.Items[i]
		}
	}
	return nil
}
