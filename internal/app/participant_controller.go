package app

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"

	"trainingquiz/internal/domain"
	"trainingquiz/internal/engine"
)

// ParticipantControllerConfig wires one participant device.
type ParticipantControllerConfig struct {
	Store  DocumentStore
	Clock  clockwork.Clock
	Logger zerolog.Logger
}

// ParticipantController runs one participant device. It is the single
// writer of its own participant document and derives session phase and
// remaining time read-only from the shared session document.
type ParticipantController struct {
	store DocumentStore
	clock clockwork.Clock
	log   zerolog.Logger

	game     domain.Game
	rules    engine.GameRules
	patterns []engine.Pattern
	guard    engine.FinalizeGuard

	mu            sync.Mutex
	session       domain.SessionDoc
	self          domain.ParticipantDoc
	itemStartedAt time.Time
	started       bool
}

// AnswerResult reports the outcome of one scored answer. Correct is carried
// explicitly: points and streak both go to zero on a miss, so neither can
// stand in for it.
type AnswerResult struct {
	Correct   bool           `json:"correct"`
	Points    int            `json:"points"`
	NewStreak int            `json:"newStreak"`
	Breakdown []engine.Award `json:"breakdown"`
}

// ChallengeResult reports the outcome of a card-cell challenge answer.
type ChallengeResult struct {
	Correct     bool     `json:"correct"`
	CellMarked  bool     `json:"cellMarked"`
	NewPatterns []string `json:"newPatterns"`
	Points      int      `json:"points"`
}

// JoinSession resolves a join code, enforces the join policy, and creates
// this participant's document. Joining mid-session is rejected unless the
// session allows late join, in which case the participant enters directly
// in progress at the rule set's start index - never mid-item.
func JoinSession(ctx context.Context, cfg ParticipantControllerConfig, games GameRepository, code, participantID, displayName string) (*ParticipantController, error) {
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}

	sessionID, err := cfg.Store.ResolveJoinCode(ctx, code)
	if err != nil {
		return nil, err
	}
	session, err := cfg.Store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	game, err := games.GetGame(ctx, session.GameID)
	if err != nil {
		return nil, err
	}
	rules := engine.RulesFor(game.Kind, game.Rules)

	now := cfg.Clock.Now()
	doc := domain.ParticipantDoc{
		ID:               participantID,
		SessionID:        sessionID,
		DisplayName:      displayName,
		ProgressState:    domain.ProgressWaiting,
		CurrentItemIndex: rules.StartIndex(),
		JoinedAtMillis:   now.UnixMilli(),
		UpdatedAtMillis:  now.UnixMilli(),
	}

	switch session.Phase {
	case domain.PhaseWaiting:
	case domain.PhaseCountdown, domain.PhaseActive:
		if !session.AllowLateJoin {
			return nil, domain.ErrSessionNotJoinable
		}
		doc.ProgressState = domain.ProgressInProgress
	default:
		return nil, domain.ErrSessionNotJoinable
	}

	var patterns []engine.Pattern
	if rules.HasCard() {
		size := game.Rules.Normalized().CardSize
		doc.CardRows = engine.NewCardRows(game.Items, size)
		patterns = engine.PatternLibrary(size)
	}

	if err := writeParticipant(ctx, cfg.Store, doc); err != nil {
		return nil, fmt.Errorf("write participant: %w", err)
	}

	pc := &ParticipantController{
		store:    cfg.Store,
		clock:    cfg.Clock,
		log:      cfg.Logger.With().Str("session_id", sessionID).Str("participant_id", participantID).Logger(),
		game:     game,
		rules:    rules,
		patterns: patterns,
		session:  session,
		self:     doc,
	}
	if doc.ProgressState == domain.ProgressInProgress {
		pc.started = true
		pc.itemStartedAt = now
	}
	return pc, nil
}

// ResumeSession rebuilds a controller after a reconnect. The remote
// document is reconciled against the locally held one: remote values are
// never allowed to decrease score, streak or item index, and append-only
// collections keep whichever side has more entries.
func ResumeSession(ctx context.Context, cfg ParticipantControllerConfig, games GameRepository, local domain.ParticipantDoc) (*ParticipantController, error) {
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}

	session, err := cfg.Store.GetSession(ctx, local.SessionID)
	if err != nil {
		return nil, err
	}
	game, err := games.GetGame(ctx, session.GameID)
	if err != nil {
		return nil, err
	}
	rules := engine.RulesFor(game.Kind, game.Rules)

	merged := local
	if remote, err := cfg.Store.GetParticipant(ctx, local.SessionID, local.ID); err == nil {
		merged = reconcileParticipant(local, remote)
	}
	merged.UpdatedAtMillis = cfg.Clock.Now().UnixMilli()
	if err := writeParticipant(ctx, cfg.Store, merged); err != nil {
		return nil, fmt.Errorf("write reconciled participant: %w", err)
	}

	var patterns []engine.Pattern
	if rules.HasCard() {
		patterns = engine.PatternLibrary(game.Rules.Normalized().CardSize)
	}

	pc := &ParticipantController{
		store:    cfg.Store,
		clock:    cfg.Clock,
		log:      cfg.Logger.With().Str("session_id", local.SessionID).Str("participant_id", local.ID).Logger(),
		game:     game,
		rules:    rules,
		patterns: patterns,
		session:  session,
		self:     merged,
	}
	if merged.ProgressState == domain.ProgressInProgress {
		pc.started = true
		pc.itemStartedAt = cfg.Clock.Now()
	}
	if merged.ProgressState == domain.ProgressCompleted {
		pc.guard.TryAcquire()
	}
	return pc, nil
}

// reconcileParticipant merges a remote participant document into the local
// one with monotonic wins: counters take the max, append-only collections
// take the longer side, marked cells and credited patterns take the union.
func reconcileParticipant(local, remote domain.ParticipantDoc) domain.ParticipantDoc {
	out := local
	if remote.Score > out.Score {
		out.Score = remote.Score
	}
	if remote.Streak > out.Streak {
		out.Streak = remote.Streak
	}
	if remote.CurrentItemIndex > out.CurrentItemIndex {
		out.CurrentItemIndex = remote.CurrentItemIndex
	}
	if len(remote.AnswerLog) > len(out.AnswerLog) {
		out.AnswerLog = remote.AnswerLog
	}
	if remote.ProgressState == domain.ProgressCompleted {
		out.ProgressState = domain.ProgressCompleted
	}

	for _, name := range remote.CompletedPatterns {
		if !out.HasPattern(name) {
			out.CompletedPatterns = append(out.CompletedPatterns, name)
		}
	}
	out.CardRows = mergeCardRows(out.CardRows, remote.CardRows)
	return out
}

// mergeCardRows unions marked cells. A side with no grid (or a smaller
// grid, from an older game definition) never erases the other side's
// marks: the larger grid wins and absorbs the smaller one's marks.
func mergeCardRows(local, remote [][]domain.CardCell) [][]domain.CardCell {
	if len(remote) == 0 {
		return local
	}
	if len(local) == 0 {
		return domain.CloneCardRows(remote)
	}

	base, overlay := domain.CloneCardRows(local), remote
	if len(remote) > len(local) {
		base, overlay = domain.CloneCardRows(remote), local
	}
	for r := range overlay {
		if r >= len(base) {
			break
		}
		for c := range overlay[r] {
			if c < len(base[r]) && overlay[r][c].Marked {
				base[r][c].Marked = true
			}
		}
	}
	return base
}

// Run is the participant's event loop: it follows session document changes
// (phase, anchor) until ctx is cancelled, releasing the subscription on
// return. When the session goes active this device begins progressing on
// its own locally derived clock.
func (p *ParticipantController) Run(ctx context.Context) error {
	p.mu.Lock()
	sessionID := p.session.ID
	p.mu.Unlock()

	updates, cancel, err := p.store.WatchSession(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("watch session: %w", err)
	}
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case s, ok := <-updates:
			if !ok {
				return nil
			}
			p.onSessionUpdate(ctx, s)
		}
	}
}

func (p *ParticipantController) onSessionUpdate(ctx context.Context, s domain.SessionDoc) {
	p.mu.Lock()

	// Change notifications may arrive out of order; never regress phase.
	if phaseRank[s.Phase] < phaseRank[p.session.Phase] {
		p.mu.Unlock()
		return
	}
	// Identical anchor and phase: nothing derived from this document can
	// have changed, skip the re-render entirely.
	if s.Phase == p.session.Phase && s.AnchorMillis == p.session.AnchorMillis && s.Paused == p.session.Paused {
		p.session = s
		p.mu.Unlock()
		return
	}
	p.session = s

	begin := s.Phase == domain.PhaseActive && !p.started &&
		p.self.ProgressState == domain.ProgressWaiting
	if begin {
		p.started = true
		p.itemStartedAt = p.clock.Now()
		p.self.ProgressState = domain.ProgressInProgress
		p.self.UpdatedAtMillis = p.clock.Now().UnixMilli()
	}
	doc := p.self
	p.mu.Unlock()

	if begin {
		if err := writeParticipant(ctx, p.store, doc); err != nil {
			p.log.Error().Err(err).Msg("write in-progress state")
		}
	}
}

// Remaining derives the remaining seconds from the last observed anchor and
// this device's own clock.
func (p *ParticipantController) Remaining() int {
	now := p.clock.Now()
	p.mu.Lock()
	defer p.mu.Unlock()
	return engine.SessionAnchor(p.session).Remaining(now)
}

// TimedOut reports whether this device's locally derived clock has reached
// zero while the session still reads active. Any device observing this may
// request termination; the terminal write is idempotent, so whichever
// device wins the race is irrelevant.
func (p *ParticipantController) TimedOut() bool {
	now := p.clock.Now()
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.session.Phase == domain.PhaseActive && engine.SessionAnchor(p.session).Expired(now)
}

// RequestTermination writes the terminal phase transition from this
// device. This is the one participant-side write to the session document;
// it only ever moves phase forward to completed.
func (p *ParticipantController) RequestTermination(ctx context.Context) error {
	p.mu.Lock()
	if p.session.Phase == domain.PhaseCompleted {
		p.mu.Unlock()
		return nil
	}
	next := p.session
	next.Phase = domain.PhaseCompleted
	next.Paused = false
	next.CompletedAtMillis = p.clock.Now().UnixMilli()
	p.session = next
	p.mu.Unlock()

	if err := writeSession(ctx, p.store, next); err != nil {
		return fmt.Errorf("write terminal phase: %w", err)
	}
	p.log.Info().Msg("requested session termination after timeout")
	return nil
}

// CurrentItem returns the item this participant is on, or nil when the
// sequence is exhausted.
func (p *ParticipantController) CurrentItem() *domain.Item {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.currentItemLocked()
}

func (p *ParticipantController) currentItemLocked() *domain.Item {
	if p.self.CurrentItemIndex >= len(p.game.Items) {
		return nil
	}
	return &p.game.Items[p.self.CurrentItemIndex]
}

// SubmitAnswer scores the answer to the current item and persists the
// participant document. Elapsed time is sampled here, on this device, from
// the moment the item was presented. A submission that lands just after
// the session completed is accepted, not rejected: the answer log is
// preserved as-is for reporting.
func (p *ParticipantController) SubmitAnswer(ctx context.Context, choiceIndex int, confidence float64, skipped bool) (AnswerResult, error) {
	now := p.clock.Now()

	p.mu.Lock()
	if p.self.ProgressState == domain.ProgressWaiting {
		p.mu.Unlock()
		return AnswerResult{}, fmt.Errorf("session has not started: %w", domain.ErrInvalidTransition)
	}
	if p.self.ProgressState == domain.ProgressCompleted {
		p.mu.Unlock()
		return AnswerResult{}, nil
	}

	item := p.currentItemLocked()
	if item == nil {
		p.mu.Unlock()
		return AnswerResult{}, domain.ErrItemNotFound
	}

	elapsed := now.Sub(p.itemStartedAt).Seconds()
	ans := engine.AnswerEvent{
		ItemID:         item.ID,
		ChoiceIndex:    choiceIndex,
		Correct:        !skipped && optionCorrect(*item, choiceIndex),
		Skipped:        skipped,
		ElapsedSeconds: elapsed,
		Confidence:     confidence,
	}
	score := p.rules.ComputeScore(ans, *item, p.self.CurrentItemIndex, p.self.Streak)
	result := AnswerResult{
		Correct:   ans.Correct,
		Points:    score.Points,
		NewStreak: score.NewStreak,
		Breakdown: score.Breakdown,
	}

	p.self.AnswerLog = append(p.self.AnswerLog, domain.AnswerRecord{
		ItemID:         item.ID,
		ChoiceIndex:    choiceIndex,
		Correct:        ans.Correct,
		ElapsedSeconds: elapsed,
		PointsAwarded:  result.Points,
	})
	p.self.Score += result.Points
	p.self.Streak = result.NewStreak
	p.self.CurrentItemIndex++
	p.self.UpdatedAtMillis = now.UnixMilli()
	p.itemStartedAt = now

	finished := !p.rules.HasCard() && p.self.CurrentItemIndex >= len(p.game.Items)
	if finished {
		p.self.ProgressState = domain.ProgressCompleted
	}
	doc := p.self
	p.mu.Unlock()

	if finished {
		// Score, streak and the completed state land in one atomic
		// document write; readers never see completed-but-stale-score.
		if p.guard.TryAcquire() {
			if err := writeParticipant(ctx, p.store, doc); err != nil {
				return result, fmt.Errorf("write final progress: %w", err)
			}
			p.log.Info().Int("score", doc.Score).Msg("participant completed")
			return result, nil
		}
		return result, nil
	}

	if err := writeParticipant(ctx, p.store, doc); err != nil {
		// Scoring-relevant write: surface to the caller so the user can
		// retry instead of silently dropping the update.
		return result, fmt.Errorf("write progress: %w", err)
	}
	return result, nil
}

// AnswerCell handles the anti-cheat challenge for card-match games linked
// to a quiz: the cell's associated item must be answered correctly before
// the mark commits. A wrong challenge answer leaves the cell unmarked and
// may be retried later with no penalty.
func (p *ParticipantController) AnswerCell(ctx context.Context, row, col, choiceIndex int) (ChallengeResult, error) {
	now := p.clock.Now()

	p.mu.Lock()
	if !p.rules.HasCard() {
		p.mu.Unlock()
		return ChallengeResult{}, domain.ErrNotCardGame
	}
	if p.self.ProgressState == domain.ProgressCompleted {
		p.mu.Unlock()
		return ChallengeResult{}, nil
	}
	if row < 0 || row >= len(p.self.CardRows) || col < 0 || col >= len(p.self.CardRows[row]) {
		p.mu.Unlock()
		return ChallengeResult{}, domain.ErrCellOutOfRange
	}

	cell := p.self.CardRows[row][col]
	if cell.Marked {
		// Idempotent: re-marking is a no-op, not an error.
		p.mu.Unlock()
		return ChallengeResult{Correct: true, CellMarked: true}, nil
	}

	item := p.game.ItemByID(cell.ItemID)
	if item == nil {
		// Malformed cell reference degrades to an unmarked cell rather
		// than failing the whole card.
		p.mu.Unlock()
		return ChallengeResult{}, nil
	}

	elapsed := now.Sub(p.itemStartedAt).Seconds()
	correct := optionCorrect(*item, choiceIndex)

	ans := engine.AnswerEvent{
		ItemID:         item.ID,
		ChoiceIndex:    choiceIndex,
		Correct:        correct,
		ElapsedSeconds: elapsed,
	}
	result := p.rules.ComputeScore(ans, *item, p.self.CurrentItemIndex, p.self.Streak)

	p.self.AnswerLog = append(p.self.AnswerLog, domain.AnswerRecord{
		ItemID:         item.ID,
		ChoiceIndex:    choiceIndex,
		Correct:        correct,
		ElapsedSeconds: elapsed,
		PointsAwarded:  result.Points,
	})
	p.self.Streak = result.NewStreak
	p.self.UpdatedAtMillis = now.UnixMilli()
	p.itemStartedAt = now

	out := ChallengeResult{Correct: correct}
	if correct {
		p.self.Score += result.Points
		out.Points = result.Points

		if changed, _ := engine.MarkCell(p.self.CardRows, row, col); changed {
			out.CellMarked = true
			newly := engine.DetectNewPatterns(p.self.CardRows, p.patterns, p.self.CompletedPatterns)
			if len(newly) > 0 {
				awarder, _ := p.rules.(engine.PatternAwarder)
				for _, name := range newly {
					award := 100
					if awarder != nil {
						award = awarder.PatternAward(name)
					}
					p.self.Score += award
					out.Points += award
					p.self.CompletedPatterns = append(p.self.CompletedPatterns, name)
				}
				out.NewPatterns = newly
			}
		}
	}

	finished := p.self.HasPattern("full_card")
	if finished {
		p.self.ProgressState = domain.ProgressCompleted
	}
	doc := p.self
	p.mu.Unlock()

	if finished && !p.guard.TryAcquire() {
		return out, nil
	}
	if err := writeParticipant(ctx, p.store, doc); err != nil {
		return out, fmt.Errorf("write card progress: %w", err)
	}
	return out, nil
}

// View is the per-tick read-only projection for the participant UI.
func (p *ParticipantController) View() domain.ParticipantView {
	now := p.clock.Now()
	p.mu.Lock()
	defer p.mu.Unlock()
	return domain.ParticipantView{
		SessionID:        p.session.ID,
		Phase:            p.session.Phase,
		RemainingSeconds: engine.SessionAnchor(p.session).Remaining(now),
		CurrentItemIndex: p.self.CurrentItemIndex,
		Score:            p.self.Score,
		Streak:           p.self.Streak,
		ProgressState:    p.self.ProgressState,
		CardRows:         domain.CloneCardRows(p.self.CardRows),
	}
}

// Doc returns a detached copy of this participant's current document.
func (p *ParticipantController) Doc() domain.ParticipantDoc {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.self.Clone()
}

func optionCorrect(item domain.Item, choiceIndex int) bool {
	if choiceIndex < 0 || choiceIndex >= len(item.Options) {
		return false
	}
	return item.Options[choiceIndex].Correct
}
