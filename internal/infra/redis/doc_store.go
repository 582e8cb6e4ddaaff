package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"trainingquiz/internal/domain"
)

// DocStore keeps one JSON value per document in Redis and delivers change
// notifications over pub/sub, one channel per session. A document write is
// a single SET, which matches the per-document atomicity the protocol
// needs; publishing the new value after the SET is the change feed.
type DocStore struct {
	client *redis.Client
	ttl    time.Duration
}

func NewDocStore(client *redis.Client, ttl time.Duration) *DocStore {
	return &DocStore{client: client, ttl: ttl}
}

func (s *DocStore) sessionKey(id string) string      { return "session:" + id }
func (s *DocStore) codeKey(code string) string       { return "join:" + code }
func (s *DocStore) participantsKey(id string) string { return "session:" + id + ":participants" }

func (s *DocStore) participantKey(id, pid string) string {
	return "session:" + id + ":participant:" + pid
}

func (s *DocStore) sessionChannel(id string) string     { return "session." + id }
func (s *DocStore) participantChannel(id string) string { return "session." + id + ".participants" }

func (s *DocStore) CreateSession(ctx context.Context, doc domain.SessionDoc) error {
	data, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}
	pipe := s.client.Pipeline()
	pipe.Set(ctx, s.sessionKey(doc.ID), data, s.ttl)
	if doc.JoinCode != "" {
		pipe.Set(ctx, s.codeKey(doc.JoinCode), doc.ID, s.ttl)
	}
	_, err = pipe.Exec(ctx)
	return err
}

func (s *DocStore) GetSession(ctx context.Context, sessionID string) (domain.SessionDoc, error) {
	data, err := s.client.Get(ctx, s.sessionKey(sessionID)).Bytes()
	if err == redis.Nil {
		return domain.SessionDoc{}, domain.ErrSessionNotFound
	}
	if err != nil {
		return domain.SessionDoc{}, fmt.Errorf("get session: %w", err)
	}
	var doc domain.SessionDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		return domain.SessionDoc{}, fmt.Errorf("unmarshal session: %w", err)
	}
	return doc, nil
}

func (s *DocStore) PutSession(ctx context.Context, doc domain.SessionDoc) error {
	data, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}
	if err := s.client.Set(ctx, s.sessionKey(doc.ID), data, s.ttl).Err(); err != nil {
		return fmt.Errorf("put session: %w", err)
	}
	return s.client.Publish(ctx, s.sessionChannel(doc.ID), data).Err()
}

func (s *DocStore) ResolveJoinCode(ctx context.Context, code string) (string, error) {
	id, err := s.client.Get(ctx, s.codeKey(code)).Result()
	if err == redis.Nil {
		return "", domain.ErrSessionNotFound
	}
	if err != nil {
		return "", fmt.Errorf("resolve join code: %w", err)
	}
	return id, nil
}

func (s *DocStore) PutParticipant(ctx context.Context, doc domain.ParticipantDoc) error {
	data, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("marshal participant: %w", err)
	}
	pipe := s.client.Pipeline()
	pipe.Set(ctx, s.participantKey(doc.SessionID, doc.ID), data, s.ttl)
	pipe.SAdd(ctx, s.participantsKey(doc.SessionID), doc.ID)
	if s.ttl > 0 {
		pipe.Expire(ctx, s.participantsKey(doc.SessionID), s.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("put participant: %w", err)
	}
	return s.client.Publish(ctx, s.participantChannel(doc.SessionID), data).Err()
}

func (s *DocStore) GetParticipant(ctx context.Context, sessionID, participantID string) (domain.ParticipantDoc, error) {
	data, err := s.client.Get(ctx, s.participantKey(sessionID, participantID)).Bytes()
	if err == redis.Nil {
		return domain.ParticipantDoc{}, domain.ErrParticipantNotFound
	}
	if err != nil {
		return domain.ParticipantDoc{}, fmt.Errorf("get participant: %w", err)
	}
	var doc domain.ParticipantDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		return domain.ParticipantDoc{}, fmt.Errorf("unmarshal participant: %w", err)
	}
	return doc, nil
}

func (s *DocStore) ListParticipants(ctx context.Context, sessionID string) ([]domain.ParticipantDoc, error) {
	ids, err := s.client.SMembers(ctx, s.participantsKey(sessionID)).Result()
	if err != nil {
		return nil, fmt.Errorf("list participant ids: %w", err)
	}
	docs := make([]domain.ParticipantDoc, 0, len(ids))
	for _, id := range ids {
		doc, err := s.GetParticipant(ctx, sessionID, id)
		if err == domain.ErrParticipantNotFound {
			continue // expired document, the set entry is stale
		}
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	return docs, nil
}

func (s *DocStore) WatchSession(ctx context.Context, sessionID string) (<-chan domain.SessionDoc, func(), error) {
	sub := s.client.Subscribe(ctx, s.sessionChannel(sessionID))
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, nil, fmt.Errorf("subscribe session: %w", err)
	}

	out := make(chan domain.SessionDoc, 8)
	go func() {
		defer close(out)
		for msg := range sub.Channel() {
			var doc domain.SessionDoc
			if err := json.Unmarshal([]byte(msg.Payload), &doc); err != nil {
				continue
			}
			select {
			case out <- doc:
			default:
				select {
				case <-out:
				default:
				}
				out <- doc
			}
		}
	}()

	cancel := func() { _ = sub.Close() }
	return out, cancel, nil
}

func (s *DocStore) WatchParticipants(ctx context.Context, sessionID string) (<-chan domain.ParticipantDoc, func(), error) {
	sub := s.client.Subscribe(ctx, s.participantChannel(sessionID))
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, nil, fmt.Errorf("subscribe participants: %w", err)
	}

	out := make(chan domain.ParticipantDoc, 32)
	go func() {
		defer close(out)
		for msg := range sub.Channel() {
			var doc domain.ParticipantDoc
			if err := json.Unmarshal([]byte(msg.Payload), &doc); err != nil {
				continue
			}
			select {
			case out <- doc:
			default:
				select {
				case <-out:
				default:
				}
				out <- doc
			}
		}
	}()

	cancel := func() { _ = sub.Close() }
	return out, cancel, nil
}
