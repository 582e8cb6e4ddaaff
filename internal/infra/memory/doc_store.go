package memory

import (
	"context"
	"sync"

	"trainingquiz/internal/domain"
)

// DocStore is an in-memory document store with per-document atomic writes
// and change notification, for single-process deployments and tests.
type DocStore struct {
	mu           sync.RWMutex
	sessions     map[string]domain.SessionDoc
	participants map[string]map[string]domain.ParticipantDoc
	codes        map[string]string

	sessionSubs     map[string]map[chan domain.SessionDoc]struct{}
	participantSubs map[string]map[chan domain.ParticipantDoc]struct{}
}

func NewDocStore() *DocStore {
	return &DocStore{
		sessions:        make(map[string]domain.SessionDoc),
		participants:    make(map[string]map[string]domain.ParticipantDoc),
		codes:           make(map[string]string),
		sessionSubs:     make(map[string]map[chan domain.SessionDoc]struct{}),
		participantSubs: make(map[string]map[chan domain.ParticipantDoc]struct{}),
	}
}

func (s *DocStore) CreateSession(_ context.Context, doc domain.SessionDoc) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[doc.ID] = doc
	if doc.JoinCode != "" {
		s.codes[doc.JoinCode] = doc.ID
	}
	return nil
}

func (s *DocStore) GetSession(_ context.Context, sessionID string) (domain.SessionDoc, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	doc, ok := s.sessions[sessionID]
	if !ok {
		return domain.SessionDoc{}, domain.ErrSessionNotFound
	}
	return doc, nil
}

func (s *DocStore) PutSession(_ context.Context, doc domain.SessionDoc) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[doc.ID] = doc
	s.broadcastSessionLocked(doc)
	return nil
}

func (s *DocStore) ResolveJoinCode(_ context.Context, code string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.codes[code]
	if !ok {
		return "", domain.ErrSessionNotFound
	}
	return id, nil
}

func (s *DocStore) PutParticipant(_ context.Context, doc domain.ParticipantDoc) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.participants[doc.SessionID] == nil {
		s.participants[doc.SessionID] = make(map[string]domain.ParticipantDoc)
	}
	doc = cloneParticipant(doc)
	s.participants[doc.SessionID][doc.ID] = doc
	s.broadcastParticipantLocked(doc)
	return nil
}

func (s *DocStore) GetParticipant(_ context.Context, sessionID, participantID string) (domain.ParticipantDoc, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	doc, ok := s.participants[sessionID][participantID]
	if !ok {
		return domain.ParticipantDoc{}, domain.ErrParticipantNotFound
	}
	return cloneParticipant(doc), nil
}

func (s *DocStore) ListParticipants(_ context.Context, sessionID string) ([]domain.ParticipantDoc, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	docs := make([]domain.ParticipantDoc, 0, len(s.participants[sessionID]))
	for _, doc := range s.participants[sessionID] {
		docs = append(docs, cloneParticipant(doc))
	}
	return docs, nil
}

func (s *DocStore) WatchSession(_ context.Context, sessionID string) (<-chan domain.SessionDoc, func(), error) {
	ch := make(chan domain.SessionDoc, 8)

	s.mu.Lock()
	if s.sessionSubs[sessionID] == nil {
		s.sessionSubs[sessionID] = make(map[chan domain.SessionDoc]struct{})
	}
	s.sessionSubs[sessionID][ch] = struct{}{}
	initial, hasInitial := s.sessions[sessionID]
	s.mu.Unlock()

	if hasInitial {
		ch <- initial
	}

	cancel := func() {
		s.mu.Lock()
		if _, ok := s.sessionSubs[sessionID][ch]; ok {
			delete(s.sessionSubs[sessionID], ch)
			close(ch)
		}
		s.mu.Unlock()
	}
	return ch, cancel, nil
}

func (s *DocStore) WatchParticipants(_ context.Context, sessionID string) (<-chan domain.ParticipantDoc, func(), error) {
	ch := make(chan domain.ParticipantDoc, 32)

	s.mu.Lock()
	if s.participantSubs[sessionID] == nil {
		s.participantSubs[sessionID] = make(map[chan domain.ParticipantDoc]struct{})
	}
	s.participantSubs[sessionID][ch] = struct{}{}
	s.mu.Unlock()

	cancel := func() {
		s.mu.Lock()
		if _, ok := s.participantSubs[sessionID][ch]; ok {
			delete(s.participantSubs[sessionID], ch)
			close(ch)
		}
		s.mu.Unlock()
	}
	return ch, cancel, nil
}

func (s *DocStore) broadcastSessionLocked(doc domain.SessionDoc) {
	for ch := range s.sessionSubs[doc.ID] {
		select {
		case ch <- doc:
		default:
			// Drop the oldest update so a slow consumer never blocks a
			// writer; it will catch up from the newer document.
			select {
			case <-ch:
			default:
			}
			ch <- doc
		}
	}
}

func (s *DocStore) broadcastParticipantLocked(doc domain.ParticipantDoc) {
	for ch := range s.participantSubs[doc.SessionID] {
		select {
		case ch <- doc:
		default:
			select {
			case <-ch:
			default:
			}
			ch <- doc
		}
	}
}

func cloneParticipant(doc domain.ParticipantDoc) domain.ParticipantDoc {
	out := doc
	if doc.AnswerLog != nil {
		out.AnswerLog = append([]domain.AnswerRecord(nil), doc.AnswerLog...)
	}
	if doc.CompletedPatterns != nil {
		out.CompletedPatterns = append([]string(nil), doc.CompletedPatterns...)
	}
	if doc.CardRows != nil {
		out.CardRows = make([][]domain.CardCell, len(doc.CardRows))
		for i, row := range doc.CardRows {
			out.CardRows[i] = append([]domain.CardCell(nil), row...)
		}
	}
	return out
}
