package domain

// Phase is the session lifecycle state. Transitions only ever move forward:
// waiting -> countdown -> active -> completed.
type Phase string

const (
	PhaseWaiting   Phase = "waiting"
	PhaseCountdown Phase = "countdown"
	PhaseActive    Phase = "active"
	PhaseCompleted Phase = "completed"
)

// GameKind selects which scoring and progression rules apply to a session.
type GameKind string

const (
	GameKindQuiz       GameKind = "quiz"
	GameKindLadder     GameKind = "ladder"
	GameKindCardMatch  GameKind = "card_match"
	GameKindTimedRound GameKind = "timed_round"
)

// SessionDoc is the shared session document. The controller device is the
// only writer of Phase, AnchorMillis, Paused and RemainingAtPauseSeconds;
// participant devices read it and derive their own clocks from it.
//
// Timestamps are unix milliseconds so every field serializes with an
// explicit zero default; 0 means "not set".
type SessionDoc struct {
	ID                      string   `json:"id"`
	JoinCode                string   `json:"joinCode"`
	GameID                  string   `json:"gameId"`
	GameKind                GameKind `json:"gameKind"`
	Phase                   Phase    `json:"phase"`
	AnchorMillis            int64    `json:"anchorMillis"`
	TotalDurationSeconds    int      `json:"totalDurationSeconds"`
	CountdownSeconds        int      `json:"countdownSeconds"`
	Paused                  bool     `json:"paused"`
	RemainingAtPauseSeconds int      `json:"remainingAtPauseSeconds"`
	AllowLateJoin           bool     `json:"allowLateJoin"`
	CreatedAtMillis         int64    `json:"createdAtMillis"`
	CompletedAtMillis       int64    `json:"completedAtMillis"`
}

// Completed reports whether the session has reached its terminal phase.
func (s SessionDoc) Completed() bool {
	return s.Phase == PhaseCompleted
}

// ControllerView is the read-only projection rendered by the controller
// device each tick.
type ControllerView struct {
	SessionID        string              `json:"sessionId"`
	JoinCode         string              `json:"joinCode"`
	Phase            Phase               `json:"phase"`
	RemainingSeconds int                 `json:"remainingSeconds"`
	Paused           bool                `json:"paused"`
	Participants     []ParticipantStatus `json:"participants"`
}

// ParticipantStatus is one row of the controller projection.
type ParticipantStatus struct {
	ID            string        `json:"id"`
	DisplayName   string        `json:"displayName"`
	Score         int           `json:"score"`
	Streak        int           `json:"streak"`
	ProgressState ProgressState `json:"progressState"`
}

// ParticipantView is the read-only projection rendered on a participant
// device each tick.
type ParticipantView struct {
	SessionID        string        `json:"sessionId"`
	Phase            Phase         `json:"phase"`
	RemainingSeconds int           `json:"remainingSeconds"`
	CurrentItemIndex int           `json:"currentItemIndex"`
	Score            int           `json:"score"`
	Streak           int           `json:"streak"`
	ProgressState    ProgressState `json:"progressState"`
	CardRows         [][]CardCell  `json:"cardRows,omitempty"`
}
