package app

import (
	"context"
	"fmt"

	"trainingquiz/internal/domain"
)

// DocumentStore abstracts the shared, eventually-consistent document store
// (in-memory, Redis, ...). It offers per-document atomic read/write and
// change notification; no ordering or transactional guarantee across
// different documents is assumed anywhere in this package.
type DocumentStore interface {
	// CreateSession writes a new session document and registers its join
	// code for lookup.
	CreateSession(ctx context.Context, doc domain.SessionDoc) error
	GetSession(ctx context.Context, sessionID string) (domain.SessionDoc, error)
	// PutSession replaces the session document in one atomic write.
	PutSession(ctx context.Context, doc domain.SessionDoc) error
	// ResolveJoinCode maps a short human join code to a session ID.
	ResolveJoinCode(ctx context.Context, code string) (string, error)

	// PutParticipant replaces one participant document in one atomic
	// write, so score, streak and progress state are always observed
	// together.
	PutParticipant(ctx context.Context, doc domain.ParticipantDoc) error
	GetParticipant(ctx context.Context, sessionID, participantID string) (domain.ParticipantDoc, error)
	ListParticipants(ctx context.Context, sessionID string) ([]domain.ParticipantDoc, error)

	// WatchSession delivers session document changes until the returned
	// cancel func is called. Delivery order across documents is not
	// guaranteed.
	WatchSession(ctx context.Context, sessionID string) (<-chan domain.SessionDoc, func(), error)
	// WatchParticipants delivers participant document changes for a
	// session until cancelled.
	WatchParticipants(ctx context.Context, sessionID string) (<-chan domain.ParticipantDoc, func(), error)
}

// GameRepository loads game definitions (from cache/backing store).
type GameRepository interface {
	GetGame(ctx context.Context, gameID string) (domain.Game, error)
}

// checkSessionDoc enforces the serialization contract on the write path: a
// document with a missing identity never reaches the store, and numeric
// fields are coerced to explicit in-range defaults instead of relying on
// the store's leniency.
func checkSessionDoc(doc *domain.SessionDoc) error {
	if doc.ID == "" {
		return fmt.Errorf("session doc: missing id")
	}
	if doc.Phase == "" {
		doc.Phase = domain.PhaseWaiting
	}
	if doc.TotalDurationSeconds < 0 {
		doc.TotalDurationSeconds = 0
	}
	if doc.CountdownSeconds < 0 {
		doc.CountdownSeconds = 0
	}
	if doc.RemainingAtPauseSeconds < 0 {
		doc.RemainingAtPauseSeconds = 0
	}
	if doc.AnchorMillis < 0 {
		doc.AnchorMillis = 0
	}
	return nil
}

func checkParticipantDoc(doc *domain.ParticipantDoc) error {
	if doc.ID == "" || doc.SessionID == "" {
		return fmt.Errorf("participant doc: missing id or session id")
	}
	if doc.ProgressState == "" {
		doc.ProgressState = domain.ProgressWaiting
	}
	if doc.Score < 0 {
		doc.Score = 0
	}
	if doc.Streak < 0 {
		doc.Streak = 0
	}
	if doc.CurrentItemIndex < 0 {
		doc.CurrentItemIndex = 0
	}
	if doc.AnswerLog == nil {
		doc.AnswerLog = []domain.AnswerRecord{}
	}
	if doc.CompletedPatterns == nil {
		doc.CompletedPatterns = []string{}
	}
	return nil
}

func writeSession(ctx context.Context, store DocumentStore, doc domain.SessionDoc) error {
	if err := checkSessionDoc(&doc); err != nil {
		return err
	}
	return store.PutSession(ctx, doc)
}

func writeParticipant(ctx context.Context, store DocumentStore, doc domain.ParticipantDoc) error {
	// The owning device keeps mutating its live document (card marks are
	// in-place writes), so the store must get a detached copy.
	doc = doc.Clone()
	if err := checkParticipantDoc(&doc); err != nil {
		return err
	}
	return store.PutParticipant(ctx, doc)
}
