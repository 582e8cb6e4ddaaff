package domain

import "errors"

var (
	// ErrSessionNotFound is returned when no session exists for an id or join code.
	ErrSessionNotFound = errors.New("session not found")
	// ErrParticipantNotFound is returned when a participant document does not exist.
	ErrParticipantNotFound = errors.New("participant not found in session")
	// ErrGameNotFound indicates the game definition could not be loaded.
	ErrGameNotFound = errors.New("game not found")
	// ErrItemNotFound indicates a submitted item ID is invalid.
	ErrItemNotFound = errors.New("item not found")
	// ErrSessionNotJoinable is returned when joining outside the waiting
	// phase and late join is not enabled.
	ErrSessionNotJoinable = errors.New("session is not accepting participants")
	// ErrInvalidTransition is returned for a phase change the lifecycle
	// state machine does not permit.
	ErrInvalidTransition = errors.New("invalid session phase transition")
	// ErrSessionNotCompleted is returned when finalized snapshots are
	// requested before the session reaches its terminal phase.
	ErrSessionNotCompleted = errors.New("session has not completed")
	// ErrNotCardGame is returned when a card operation targets a session
	// whose game kind has no card.
	ErrNotCardGame = errors.New("session game has no card")
	// ErrCellOutOfRange indicates a mark request outside the card grid.
	ErrCellOutOfRange = errors.New("card cell out of range")
)
