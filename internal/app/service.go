package app

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"

	"trainingquiz/internal/domain"
)

// joinCodeAlphabet avoids characters that read ambiguously on a projector.
const joinCodeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

const joinCodeLength = 6

// SessionOptions tunes one session at creation time.
type SessionOptions struct {
	TotalDurationSeconds int
	CountdownSeconds     int
	MinParticipants      int
	AllowLateJoin        bool
}

// GameService is the facade the transport layer talks to: it creates
// controller devices, joins participant devices and hides id/join-code
// bookkeeping.
type GameService struct {
	store DocumentStore
	games GameRepository
	clock clockwork.Clock
	log   zerolog.Logger

	rndMu sync.Mutex
	rnd   *rand.Rand
}

func NewGameService(store DocumentStore, games GameRepository, clock clockwork.Clock, logger zerolog.Logger) *GameService {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &GameService{
		store: store,
		games: games,
		clock: clock,
		log:   logger,
		rnd:   rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// CreateSession opens a lobby for a game and returns its controller.
func (s *GameService) CreateSession(ctx context.Context, gameID string, opts SessionOptions) (*SessionController, error) {
	game, err := s.games.GetGame(ctx, gameID)
	if err != nil {
		return nil, err
	}

	code, err := s.newJoinCode(ctx)
	if err != nil {
		return nil, err
	}

	doc := domain.SessionDoc{
		ID:                   uuid.NewString(),
		JoinCode:             code,
		TotalDurationSeconds: opts.TotalDurationSeconds,
		AllowLateJoin:        opts.AllowLateJoin,
	}
	return NewSessionController(ctx, SessionControllerConfig{
		Store:            s.store,
		Clock:            s.clock,
		Logger:           s.log,
		MinParticipants:  opts.MinParticipants,
		CountdownSeconds: opts.CountdownSeconds,
	}, game, doc)
}

// Join attaches a new participant device to the session behind a join code.
func (s *GameService) Join(ctx context.Context, code, displayName string) (*ParticipantController, error) {
	return JoinSession(ctx, ParticipantControllerConfig{
		Store:  s.store,
		Clock:  s.clock,
		Logger: s.log,
	}, s.games, code, uuid.NewString(), displayName)
}

// Resume reconnects a participant device from its locally held document.
func (s *GameService) Resume(ctx context.Context, local domain.ParticipantDoc) (*ParticipantController, error) {
	return ResumeSession(ctx, ParticipantControllerConfig{
		Store:  s.store,
		Clock:  s.clock,
		Logger: s.log,
	}, s.games, local)
}

// newJoinCode generates a short human entry code, retrying on the rare
// collision with a live session.
func (s *GameService) newJoinCode(ctx context.Context) (string, error) {
	for attempt := 0; attempt < 10; attempt++ {
		buf := make([]byte, joinCodeLength)
		s.rndMu.Lock()
		for i := range buf {
			buf[i] = joinCodeAlphabet[s.rnd.Intn(len(joinCodeAlphabet))]
		}
		s.rndMu.Unlock()
		code := string(buf)

		_, err := s.store.ResolveJoinCode(ctx, code)
		if errors.Is(err, domain.ErrSessionNotFound) {
			return code, nil
		}
		if err != nil {
			return "", fmt.Errorf("check join code: %w", err)
		}
	}
	return "", fmt.Errorf("could not allocate a unique join code")
}
