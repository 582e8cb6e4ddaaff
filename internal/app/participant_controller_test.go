package app_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"trainingquiz/internal/app"
	"trainingquiz/internal/domain"
)

// captureStore records every participant document exactly as the store
// receives it, so tests can check what a concurrent reader would observe.
type captureStore struct {
	app.DocumentStore

	mu   sync.Mutex
	docs []domain.ParticipantDoc
}

func (s *captureStore) PutParticipant(ctx context.Context, doc domain.ParticipantDoc) error {
	s.mu.Lock()
	s.docs = append(s.docs, doc)
	s.mu.Unlock()
	return s.DocumentStore.PutParticipant(ctx, doc)
}

func (s *captureStore) lastParticipant(t *testing.T) domain.ParticipantDoc {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.docs) == 0 {
		t.Fatalf("no participant document written")
	}
	return s.docs[len(s.docs)-1]
}

func testCardGame() domain.Game {
	items := make([]domain.Item, 8)
	for i := range items {
		items[i] = domain.Item{
			ID:     "c" + string(rune('1'+i)),
			Prompt: "match",
			Options: []domain.Option{
				{ID: "o1", Text: "wrong", Correct: false},
				{ID: "o2", Text: "right", Correct: true},
			},
			BasePoints:       100,
			TimeLimitSeconds: 30,
		}
	}
	return domain.Game{
		ID:                   "card-1",
		Kind:                 domain.GameKindCardMatch,
		Title:                "test card",
		Items:                items,
		Rules:                domain.ScoreRules{CardSize: 3},
		TotalDurationSeconds: 300,
	}
}

// setActive flips the stored session document to the active phase with a
// fresh anchor, bypassing the countdown.
func setActive(t *testing.T, env *testEnv, sessionID string) {
	t.Helper()
	ctx := context.Background()
	s, err := env.store.GetSession(ctx, sessionID)
	if err != nil {
		t.Fatalf("get session: %v", err)
	}
	s.Phase = domain.PhaseActive
	s.AnchorMillis = env.clock.Now().UnixMilli()
	if err := env.store.PutSession(ctx, s); err != nil {
		t.Fatalf("put session: %v", err)
	}
}

func TestLateJoinPolicy(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(testQuizGame())

	ctrl, err := env.service.CreateSession(ctx, "game-1", app.SessionOptions{})
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	setActive(t, env, ctrl.SessionID())

	if _, err := env.service.Join(ctx, ctrl.JoinCode(), "Late"); !errors.Is(err, domain.ErrSessionNotJoinable) {
		t.Fatalf("expected ErrSessionNotJoinable, got %v", err)
	}

	s, _ := env.store.GetSession(ctx, ctrl.SessionID())
	s.AllowLateJoin = true
	if err := env.store.PutSession(ctx, s); err != nil {
		t.Fatalf("put session: %v", err)
	}

	p, err := env.service.Join(ctx, ctrl.JoinCode(), "Late")
	if err != nil {
		t.Fatalf("late join with policy enabled: %v", err)
	}
	if got := p.View().ProgressState; got != domain.ProgressInProgress {
		t.Fatalf("late joiner should enter in progress, got %s", got)
	}
	if got := p.View().CurrentItemIndex; got != 0 {
		t.Fatalf("late joiner should start at the first item, got %d", got)
	}
}

func TestJoinCompletedSessionRejected(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(testQuizGame())

	ctrl, err := env.service.CreateSession(ctx, "game-1", app.SessionOptions{AllowLateJoin: true})
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	if err := ctrl.End(ctx); err != nil {
		t.Fatalf("end: %v", err)
	}
	if _, err := env.service.Join(ctx, ctrl.JoinCode(), "Late"); !errors.Is(err, domain.ErrSessionNotJoinable) {
		t.Fatalf("expected ErrSessionNotJoinable for completed session, got %v", err)
	}
}

func TestAnswerAfterCompletionIsPreserved(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	env := newTestEnv(testQuizGame())

	ctrl, err := env.service.CreateSession(ctx, "game-1", app.SessionOptions{TotalDurationSeconds: 120})
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	p, err := env.service.Join(ctx, ctrl.JoinCode(), "Alice")
	if err != nil {
		t.Fatalf("join: %v", err)
	}
	go p.Run(ctx)

	setActive(t, env, ctrl.SessionID())
	waitFor(t, "participant in progress", func() bool {
		return p.View().ProgressState == domain.ProgressInProgress
	})

	if _, err := p.SubmitAnswer(ctx, 1, 0, false); err != nil {
		t.Fatalf("submit: %v", err)
	}

	// The session completes while the participant is mid-run. A submission
	// landing just after that still counts toward the log.
	s, _ := env.store.GetSession(ctx, ctrl.SessionID())
	s.Phase = domain.PhaseCompleted
	s.CompletedAtMillis = env.clock.Now().UnixMilli()
	if err := env.store.PutSession(ctx, s); err != nil {
		t.Fatalf("put session: %v", err)
	}
	waitFor(t, "participant sees completion", func() bool {
		return p.View().Phase == domain.PhaseCompleted
	})

	if _, err := p.SubmitAnswer(ctx, 1, 0, false); err != nil {
		t.Fatalf("post-completion submit: %v", err)
	}
	doc, err := env.store.GetParticipant(ctx, ctrl.SessionID(), p.Doc().ID)
	if err != nil {
		t.Fatalf("get participant: %v", err)
	}
	if len(doc.AnswerLog) != 2 {
		t.Fatalf("expected both answers logged, got %d", len(doc.AnswerLog))
	}
}

func TestResumeReconcilesMonotonically(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(testQuizGame())

	ctrl, err := env.service.CreateSession(ctx, "game-1", app.SessionOptions{})
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	p, err := env.service.Join(ctx, ctrl.JoinCode(), "Alice")
	if err != nil {
		t.Fatalf("join: %v", err)
	}

	// Remote copy raced ahead of the reconnecting device.
	remote := p.Doc()
	remote.Score = 300
	remote.Streak = 1
	remote.CurrentItemIndex = 3
	remote.ProgressState = domain.ProgressCompleted
	remote.AnswerLog = []domain.AnswerRecord{{ItemID: "q1"}, {ItemID: "q2"}, {ItemID: "q3"}}
	if err := env.store.PutParticipant(ctx, remote); err != nil {
		t.Fatalf("put participant: %v", err)
	}

	local := p.Doc()
	local.Score = 150
	local.Streak = 2
	local.CurrentItemIndex = 1
	local.AnswerLog = []domain.AnswerRecord{{ItemID: "q1"}}

	resumed, err := env.service.Resume(ctx, local)
	if err != nil {
		t.Fatalf("resume: %v", err)
	}
	doc := resumed.Doc()
	if doc.Score != 300 {
		t.Fatalf("score must take the max, got %d", doc.Score)
	}
	if doc.Streak != 2 {
		t.Fatalf("streak must take the max, got %d", doc.Streak)
	}
	if doc.CurrentItemIndex != 3 {
		t.Fatalf("item index must take the max, got %d", doc.CurrentItemIndex)
	}
	if doc.ProgressState != domain.ProgressCompleted {
		t.Fatalf("completed must win over in progress, got %s", doc.ProgressState)
	}
	if len(doc.AnswerLog) != 3 {
		t.Fatalf("longer answer log must win, got %d entries", len(doc.AnswerLog))
	}

	// The merged document is written back so other devices converge too.
	stored, err := env.store.GetParticipant(ctx, ctrl.SessionID(), doc.ID)
	if err != nil {
		t.Fatalf("get participant: %v", err)
	}
	if stored.Score != 300 || stored.Streak != 2 {
		t.Fatalf("reconciled document not persisted: score=%d streak=%d", stored.Score, stored.Streak)
	}
}

func TestResumeRestoresMarksToFreshDevice(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	env := newTestEnv(testCardGame())

	ctrl, err := env.service.CreateSession(ctx, "card-1", app.SessionOptions{TotalDurationSeconds: 300})
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	p, err := env.service.Join(ctx, ctrl.JoinCode(), "Alice")
	if err != nil {
		t.Fatalf("join: %v", err)
	}
	go p.Run(ctx)

	setActive(t, env, ctrl.SessionID())
	waitFor(t, "participant in progress", func() bool {
		return p.View().ProgressState == domain.ProgressInProgress
	})

	if res, err := p.AnswerCell(ctx, 0, 0, 1); err != nil || !res.CellMarked {
		t.Fatalf("answer cell: res=%+v err=%v", res, err)
	}

	// A reinstalled device resumes with identity only: no card state at
	// all. The remote marks must survive reconciliation, not reset.
	local := p.Doc()
	local.CardRows = nil
	local.Score = 0

	resumed, err := env.service.Resume(ctx, local)
	if err != nil {
		t.Fatalf("resume: %v", err)
	}
	if doc := resumed.Doc(); len(doc.CardRows) == 0 || !doc.CardRows[0][0].Marked {
		t.Fatalf("remote mark lost on resume: %+v", doc.CardRows)
	}

	stored, err := env.store.GetParticipant(ctx, ctrl.SessionID(), local.ID)
	if err != nil {
		t.Fatalf("get participant: %v", err)
	}
	if !stored.CardRows[0][0].Marked {
		t.Fatalf("reconciled write dropped the mark")
	}
}

func TestStoredDocumentsAreDetached(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	env := newTestEnv(testCardGame())

	ctrl, err := env.service.CreateSession(ctx, "card-1", app.SessionOptions{TotalDurationSeconds: 300})
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	store := &captureStore{DocumentStore: env.store}
	p, err := app.JoinSession(ctx, app.ParticipantControllerConfig{
		Store:  store,
		Clock:  env.clock,
		Logger: zerolog.Nop(),
	}, env.games, ctrl.JoinCode(), "p-1", "Alice")
	if err != nil {
		t.Fatalf("join: %v", err)
	}
	go p.Run(ctx)

	setActive(t, env, ctrl.SessionID())
	waitFor(t, "participant in progress", func() bool {
		return p.View().ProgressState == domain.ProgressInProgress
	})

	if _, err := p.AnswerCell(ctx, 0, 0, 1); err != nil {
		t.Fatalf("answer cell: %v", err)
	}
	snapshot := store.lastParticipant(t)
	if !snapshot.CardRows[0][0].Marked {
		t.Fatalf("first mark missing from stored document")
	}

	// Marking a second cell on the live device must not reach back into a
	// document already handed to the store.
	if _, err := p.AnswerCell(ctx, 0, 1, 1); err != nil {
		t.Fatalf("answer cell: %v", err)
	}
	if snapshot.CardRows[0][1].Marked {
		t.Fatalf("stored document shares card state with the live device copy")
	}
}

func TestSubmitAnswerReportsCorrectness(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	env := newTestEnv(testQuizGame())

	ctrl, err := env.service.CreateSession(ctx, "game-1", app.SessionOptions{TotalDurationSeconds: 120})
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	p, err := env.service.Join(ctx, ctrl.JoinCode(), "Alice")
	if err != nil {
		t.Fatalf("join: %v", err)
	}
	go p.Run(ctx)

	setActive(t, env, ctrl.SessionID())
	waitFor(t, "participant in progress", func() bool {
		return p.View().ProgressState == domain.ProgressInProgress
	})

	res, err := p.SubmitAnswer(ctx, 0, 0, false)
	if err != nil {
		t.Fatalf("submit wrong answer: %v", err)
	}
	if res.Correct {
		t.Fatalf("wrong option reported correct: %+v", res)
	}
	if res.Points != 0 || res.NewStreak != 0 {
		t.Fatalf("wrong answer must score zero, got %+v", res)
	}

	res, err = p.SubmitAnswer(ctx, 1, 0, false)
	if err != nil {
		t.Fatalf("submit correct answer: %v", err)
	}
	if !res.Correct {
		t.Fatalf("correct option reported incorrect: %+v", res)
	}
	if res.Points == 0 || res.NewStreak != 1 {
		t.Fatalf("correct answer must score, got %+v", res)
	}

	res, err = p.SubmitAnswer(ctx, 1, 0, true)
	if err != nil {
		t.Fatalf("skip: %v", err)
	}
	if res.Correct {
		t.Fatalf("skip reported correct: %+v", res)
	}
}

func TestCardChallengeGatesMarks(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	env := newTestEnv(testCardGame())

	ctrl, err := env.service.CreateSession(ctx, "card-1", app.SessionOptions{TotalDurationSeconds: 300})
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	p, err := env.service.Join(ctx, ctrl.JoinCode(), "Alice")
	if err != nil {
		t.Fatalf("join: %v", err)
	}
	go p.Run(ctx)

	setActive(t, env, ctrl.SessionID())
	waitFor(t, "participant in progress", func() bool {
		return p.View().ProgressState == domain.ProgressInProgress
	})

	// Wrong challenge answer: the cell stays unmarked and may be retried.
	res, err := p.AnswerCell(ctx, 0, 0, 0)
	if err != nil {
		t.Fatalf("answer cell: %v", err)
	}
	if res.Correct || res.CellMarked {
		t.Fatalf("wrong answer must not mark the cell: %+v", res)
	}
	if p.Doc().CardRows[0][0].Marked {
		t.Fatalf("cell marked despite failed challenge")
	}

	res, err = p.AnswerCell(ctx, 0, 0, 1)
	if err != nil {
		t.Fatalf("answer cell: %v", err)
	}
	if !res.Correct || !res.CellMarked {
		t.Fatalf("correct answer must mark the cell: %+v", res)
	}

	// Finish the top row. On a 3x3 card row 0 has no free cell, so two
	// more marks complete the first pattern.
	if _, err := p.AnswerCell(ctx, 0, 1, 1); err != nil {
		t.Fatalf("answer cell: %v", err)
	}
	res, err = p.AnswerCell(ctx, 0, 2, 1)
	if err != nil {
		t.Fatalf("answer cell: %v", err)
	}
	if len(res.NewPatterns) != 1 || res.NewPatterns[0] != "row_1" {
		t.Fatalf("expected row_1 awarded, got %v", res.NewPatterns)
	}

	doc := p.Doc()
	credited := 0
	for _, name := range doc.CompletedPatterns {
		if name == "row_1" {
			credited++
		}
	}
	if credited != 1 {
		t.Fatalf("row_1 credited %d times", credited)
	}

	// Re-answering a marked cell is a no-op and never re-awards.
	res, err = p.AnswerCell(ctx, 0, 0, 1)
	if err != nil {
		t.Fatalf("answer marked cell: %v", err)
	}
	if !res.CellMarked || len(res.NewPatterns) != 0 || res.Points != 0 {
		t.Fatalf("re-mark must be a no-op: %+v", res)
	}

	if _, err := p.AnswerCell(ctx, 5, 0, 1); !errors.Is(err, domain.ErrCellOutOfRange) {
		t.Fatalf("expected ErrCellOutOfRange, got %v", err)
	}
}

func TestTimeoutTermination(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	env := newTestEnv(testQuizGame())

	ctrl, err := env.service.CreateSession(ctx, "game-1", app.SessionOptions{TotalDurationSeconds: 60})
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	p, err := env.service.Join(ctx, ctrl.JoinCode(), "Alice")
	if err != nil {
		t.Fatalf("join: %v", err)
	}
	go p.Run(ctx)

	setActive(t, env, ctrl.SessionID())
	waitFor(t, "participant in progress", func() bool {
		return p.View().ProgressState == domain.ProgressInProgress
	})

	if p.TimedOut() {
		t.Fatalf("timed out with a full budget")
	}
	env.clock.Advance(61 * time.Second)
	waitFor(t, "local timeout", p.TimedOut)

	if err := p.RequestTermination(ctx); err != nil {
		t.Fatalf("request termination: %v", err)
	}
	s, err := env.store.GetSession(ctx, ctrl.SessionID())
	if err != nil {
		t.Fatalf("get session: %v", err)
	}
	if s.Phase != domain.PhaseCompleted {
		t.Fatalf("expected completed, got %s", s.Phase)
	}

	// Idempotent on repeat.
	if err := p.RequestTermination(ctx); err != nil {
		t.Fatalf("repeat termination: %v", err)
	}
}
