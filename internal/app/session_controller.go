package app

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"

	"trainingquiz/internal/domain"
	"trainingquiz/internal/engine"
)

// phaseRank orders the lifecycle phases. Transitions may only move to a
// strictly higher rank (pause/resume stays inside active and does not
// change phase).
var phaseRank = map[domain.Phase]int{
	domain.PhaseWaiting:   0,
	domain.PhaseCountdown: 1,
	domain.PhaseActive:    2,
	domain.PhaseCompleted: 3,
}

// SessionControllerConfig wires a controller device.
type SessionControllerConfig struct {
	Store            DocumentStore
	Clock            clockwork.Clock
	Logger           zerolog.Logger
	MinParticipants  int
	CountdownSeconds int
}

// SessionController runs the controller device's half of the protocol: it
// is the single authoritative writer of the session document's phase,
// anchor and pause fields, and a read-only aggregator of participant
// documents.
type SessionController struct {
	store            DocumentStore
	clock            clockwork.Clock
	log              zerolog.Logger
	minParticipants  int
	countdownSeconds int

	game  domain.Game
	rules engine.GameRules
	guard engine.FinalizeGuard

	mu           sync.Mutex
	session      domain.SessionDoc
	participants map[string]domain.ParticipantDoc
}

// NewSessionController opens a lobby: it creates the session document in
// the waiting phase and registers the join code.
func NewSessionController(ctx context.Context, cfg SessionControllerConfig, game domain.Game, doc domain.SessionDoc) (*SessionController, error) {
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	if cfg.CountdownSeconds <= 0 {
		cfg.CountdownSeconds = 3
	}
	if cfg.MinParticipants <= 0 {
		cfg.MinParticipants = 1
	}

	doc.GameID = game.ID
	doc.GameKind = game.Kind
	doc.Phase = domain.PhaseWaiting
	doc.CountdownSeconds = cfg.CountdownSeconds
	if doc.TotalDurationSeconds <= 0 {
		doc.TotalDurationSeconds = game.TotalDurationSeconds
	}
	doc.CreatedAtMillis = cfg.Clock.Now().UnixMilli()
	if err := checkSessionDoc(&doc); err != nil {
		return nil, err
	}
	if err := cfg.Store.CreateSession(ctx, doc); err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}

	return &SessionController{
		store:            cfg.Store,
		clock:            cfg.Clock,
		log:              cfg.Logger.With().Str("session_id", doc.ID).Logger(),
		minParticipants:  cfg.MinParticipants,
		countdownSeconds: cfg.CountdownSeconds,
		game:             game,
		rules:            engine.RulesFor(game.Kind, game.Rules),
		session:          doc,
		participants:     make(map[string]domain.ParticipantDoc),
	}, nil
}

// SessionID returns the session's opaque identifier.
func (c *SessionController) SessionID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session.ID
}

// JoinCode returns the short human entry code for this session.
func (c *SessionController) JoinCode() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session.JoinCode
}

// Run is the controller's event loop. It consumes participant change
// notifications and a local once-per-second tick until ctx is cancelled;
// both the all-complete rule and timer expiry funnel into finalize. The
// subscription and ticker are released on return.
func (c *SessionController) Run(ctx context.Context) error {
	updates, cancel, err := c.store.WatchParticipants(ctx, c.SessionID())
	if err != nil {
		return fmt.Errorf("watch participants: %w", err)
	}
	defer cancel()

	ticker := c.clock.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case p, ok := <-updates:
			if !ok {
				return nil
			}
			c.onParticipantUpdate(ctx, p)
		case <-ticker.Chan():
			c.onTick(ctx)
		}
	}
}

func (c *SessionController) onParticipantUpdate(ctx context.Context, p domain.ParticipantDoc) {
	c.mu.Lock()
	c.participants[p.ID] = p

	allDone := c.session.Phase == domain.PhaseActive &&
		len(c.participants) > 0 && c.allCompletedLocked()
	c.mu.Unlock()

	if allDone {
		c.finalize(ctx, "all participants completed")
	}
}

func (c *SessionController) allCompletedLocked() bool {
	for _, p := range c.participants {
		if p.ProgressState != domain.ProgressCompleted {
			return false
		}
	}
	return true
}

func (c *SessionController) onTick(ctx context.Context) {
	now := c.clock.Now()

	c.mu.Lock()
	phase := c.session.Phase
	anchor := engine.SessionAnchor(c.session)
	countdownDone := phase == domain.PhaseCountdown &&
		engine.Anchor{StartMillis: c.session.AnchorMillis, TotalSeconds: c.session.CountdownSeconds}.Expired(now)
	c.mu.Unlock()

	switch {
	case countdownDone:
		if err := c.enterActive(ctx); err != nil {
			c.log.Error().Err(err).Msg("enter active phase")
		}
	case phase == domain.PhaseActive && anchor.Expired(now):
		c.finalize(ctx, "timer expired")
	}
}

// Start moves the lobby into the countdown phase. It requires the
// configured minimum number of joined participants.
func (c *SessionController) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.session.Phase != domain.PhaseWaiting {
		return fmt.Errorf("start from %s: %w", c.session.Phase, domain.ErrInvalidTransition)
	}
	if len(c.participants) < c.minParticipants {
		// The watch loop may not have caught up yet; fall back to a read.
		docs, err := c.store.ListParticipants(ctx, c.session.ID)
		if err != nil {
			return fmt.Errorf("list participants: %w", err)
		}
		for _, d := range docs {
			c.participants[d.ID] = d
		}
	}
	if len(c.participants) < c.minParticipants {
		return fmt.Errorf("need at least %d participant(s) to start", c.minParticipants)
	}

	next := c.session
	next.Phase = domain.PhaseCountdown
	next.AnchorMillis = c.clock.Now().UnixMilli()
	if err := writeSession(ctx, c.store, next); err != nil {
		return fmt.Errorf("write countdown phase: %w", err)
	}
	c.session = next
	c.log.Info().Int("countdown_seconds", c.countdownSeconds).Msg("session countdown started")
	return nil
}

// enterActive writes a fresh anchor for the active phase and clears any
// stale pause state left over from a previous phase.
func (c *SessionController) enterActive(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.session.Phase != domain.PhaseCountdown {
		return nil // raced with finalize; completed never regresses
	}

	next := c.session
	next.Phase = domain.PhaseActive
	next.AnchorMillis = c.clock.Now().UnixMilli()
	next.Paused = false
	next.RemainingAtPauseSeconds = 0
	if err := writeSession(ctx, c.store, next); err != nil {
		return fmt.Errorf("write active phase: %w", err)
	}
	c.session = next
	c.log.Info().Int("total_seconds", next.TotalDurationSeconds).Msg("session active")
	return nil
}

// Pause freezes the session timer at its current remaining value.
func (c *SessionController) Pause(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.session.Phase != domain.PhaseActive || c.session.Paused {
		return fmt.Errorf("pause from %s: %w", c.session.Phase, domain.ErrInvalidTransition)
	}

	anchor := engine.SessionAnchor(c.session).Pause(c.clock.Now())
	next := c.session
	next.Paused = true
	next.RemainingAtPauseSeconds = anchor.FrozenRemainingSeconds
	if err := writeSession(ctx, c.store, next); err != nil {
		return fmt.Errorf("write pause: %w", err)
	}
	c.session = next
	c.log.Info().Int("frozen_remaining", next.RemainingAtPauseSeconds).Msg("session paused")
	return nil
}

// Resume recomputes a new anchor so the displayed remaining time is
// continuous across the pause.
func (c *SessionController) Resume(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.session.Phase != domain.PhaseActive || !c.session.Paused {
		return fmt.Errorf("resume from %s: %w", c.session.Phase, domain.ErrInvalidTransition)
	}

	anchor := engine.SessionAnchor(c.session).Resume(c.clock.Now())
	next := c.session
	next.AnchorMillis = anchor.StartMillis
	next.Paused = false
	next.RemainingAtPauseSeconds = 0
	if err := writeSession(ctx, c.store, next); err != nil {
		return fmt.Errorf("write resume: %w", err)
	}
	c.session = next
	c.log.Info().Msg("session resumed")
	return nil
}

// End is the explicit controller end-session action.
func (c *SessionController) End(ctx context.Context) error {
	return c.finalize(ctx, "controller ended session")
}

// finalize performs the write-once terminal transition. The guard is
// claimed synchronously before any store write is issued; losers of the
// race return immediately. The completed write itself is idempotent, so a
// concurrent terminal write from another device is harmless.
func (c *SessionController) finalize(ctx context.Context, reason string) error {
	if !c.guard.TryAcquire() {
		return nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.session.Phase == domain.PhaseCompleted {
		return nil
	}

	next := c.session
	next.Phase = domain.PhaseCompleted
	next.Paused = false
	next.CompletedAtMillis = c.clock.Now().UnixMilli()
	if err := writeSession(ctx, c.store, next); err != nil {
		return fmt.Errorf("write completed phase: %w", err)
	}
	c.session = next
	c.log.Info().Str("reason", reason).Msg("session completed")
	return nil
}

// View is the per-tick read-only projection for the controller UI,
// sorted score-descending with display name as tie-break.
func (c *SessionController) View() domain.ControllerView {
	now := c.clock.Now()

	c.mu.Lock()
	defer c.mu.Unlock()

	remaining := engine.SessionAnchor(c.session).Remaining(now)
	if c.session.Phase == domain.PhaseCountdown {
		remaining = engine.Anchor{
			StartMillis:  c.session.AnchorMillis,
			TotalSeconds: c.session.CountdownSeconds,
		}.Remaining(now)
	}
	if c.session.Phase == domain.PhaseWaiting || c.session.Phase == domain.PhaseCompleted {
		remaining = 0
	}

	statuses := make([]domain.ParticipantStatus, 0, len(c.participants))
	for _, p := range c.participants {
		statuses = append(statuses, domain.ParticipantStatus{
			ID:            p.ID,
			DisplayName:   p.DisplayName,
			Score:         p.Score,
			Streak:        p.Streak,
			ProgressState: p.ProgressState,
		})
	}
	sort.Slice(statuses, func(i, j int) bool {
		if statuses[i].Score != statuses[j].Score {
			return statuses[i].Score > statuses[j].Score
		}
		return statuses[i].DisplayName < statuses[j].DisplayName
	})

	return domain.ControllerView{
		SessionID:        c.session.ID,
		JoinCode:         c.session.JoinCode,
		Phase:            c.session.Phase,
		RemainingSeconds: remaining,
		Paused:           c.session.Paused,
		Participants:     statuses,
	}
}

// Snapshots returns the finalized per-participant reports. Available only
// once the session has completed; the answer logs are returned as-is, so a
// lagging participant's in-flight log is preserved untruncated.
func (c *SessionController) Snapshots(ctx context.Context) ([]domain.Snapshot, error) {
	c.mu.Lock()
	completed := c.session.Phase == domain.PhaseCompleted
	sessionID := c.session.ID
	c.mu.Unlock()

	if !completed {
		return nil, domain.ErrSessionNotCompleted
	}

	docs, err := c.store.ListParticipants(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("list participants: %w", err)
	}

	snaps := make([]domain.Snapshot, 0, len(docs))
	for _, p := range docs {
		snaps = append(snaps, domain.Snapshot{
			ParticipantID:     p.ID,
			DisplayName:       p.DisplayName,
			Score:             p.Score,
			Accuracy:          p.Accuracy(),
			CompletedPatterns: p.CompletedPatterns,
			AnswerLog:         p.AnswerLog,
		})
	}
	sort.Slice(snaps, func(i, j int) bool { return snaps[i].Score > snaps[j].Score })
	return snaps, nil
}
