package domain

// ProgressState tracks a participant's own progression, independent of the
// session phase.
type ProgressState string

const (
	ProgressWaiting    ProgressState = "waiting"
	ProgressInProgress ProgressState = "in_progress"
	ProgressCompleted  ProgressState = "completed"
)

// AnswerRecord is one entry of the append-only answer log.
type AnswerRecord struct {
	ItemID         string  `json:"itemId"`
	ChoiceIndex    int     `json:"choiceIndex"`
	Correct        bool    `json:"correct"`
	ElapsedSeconds float64 `json:"elapsedSeconds"`
	PointsAwarded  int     `json:"pointsAwarded"`
}

// CardCell is one cell of a card-match grid. Marked transitions false->true
// exactly once and never reverses.
type CardCell struct {
	ItemID string `json:"itemId"`
	Marked bool   `json:"marked"`
}

// ParticipantDoc is the shared per-participant document. The owning device
// is its only writer; the controller device only ever reads it. Score,
// Streak, CurrentItemIndex and the log/card/pattern collections are
// monotonic: they never decrease or shrink in normal play.
type ParticipantDoc struct {
	ID                string         `json:"id"`
	SessionID         string         `json:"sessionId"`
	DisplayName       string         `json:"displayName"`
	ProgressState     ProgressState  `json:"progressState"`
	CurrentItemIndex  int            `json:"currentItemIndex"`
	Score             int            `json:"score"`
	Streak            int            `json:"streak"`
	AnswerLog         []AnswerRecord `json:"answerLog"`
	CardRows          [][]CardCell   `json:"cardRows,omitempty"`
	CompletedPatterns []string       `json:"completedPatterns"`
	JoinedAtMillis    int64          `json:"joinedAtMillis"`
	UpdatedAtMillis   int64          `json:"updatedAtMillis"`
}

// CloneCardRows deep-copies a card grid.
func CloneCardRows(rows [][]CardCell) [][]CardCell {
	if rows == nil {
		return nil
	}
	out := make([][]CardCell, len(rows))
	for i, row := range rows {
		out[i] = append([]CardCell(nil), row...)
	}
	return out
}

// Clone returns a deep copy sharing no backing arrays with the receiver.
// Documents handed across goroutine or store boundaries must be cloned so
// the owning device can keep mutating its live copy.
func (p ParticipantDoc) Clone() ParticipantDoc {
	out := p
	if p.AnswerLog != nil {
		out.AnswerLog = append([]AnswerRecord(nil), p.AnswerLog...)
	}
	if p.CompletedPatterns != nil {
		out.CompletedPatterns = append([]string(nil), p.CompletedPatterns...)
	}
	out.CardRows = CloneCardRows(p.CardRows)
	return out
}

// HasPattern reports whether a pattern has already been credited.
func (p ParticipantDoc) HasPattern(name string) bool {
	for _, n := range p.CompletedPatterns {
		if n == name {
			return true
		}
	}
	return false
}

// Accuracy is the fraction of logged answers that were correct, in [0, 1].
func (p ParticipantDoc) Accuracy() float64 {
	if len(p.AnswerLog) == 0 {
		return 0
	}
	correct := 0
	for _, a := range p.AnswerLog {
		if a.Correct {
			correct++
		}
	}
	return float64(correct) / float64(len(p.AnswerLog))
}

// Snapshot is the finalized, immutable per-participant report exposed to
// the certificate collaborator once the session has completed.
type Snapshot struct {
	ParticipantID     string         `json:"participantId"`
	DisplayName       string         `json:"displayName"`
	Score             int            `json:"score"`
	Accuracy          float64        `json:"accuracy"`
	CompletedPatterns []string       `json:"completedPatterns"`
	AnswerLog         []AnswerRecord `json:"answerLog"`
}
