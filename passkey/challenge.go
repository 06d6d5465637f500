package passkey

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-webauthn/webauthn/webauthn"
	"github.com/redis/go-redis/v9"
)

// ChallengeStore keeps one live challenge per principal and ceremony kind.
type ChallengeStore struct {
	redis  redis.UniversalClient
	prefix string
}

func NewChallengeStore(redisClient redis.UniversalClient, prefix string) *ChallengeStore {
	if prefix == "" {
		prefix = "cwa"
	}
	return &ChallengeStore{redis: redisClient, prefix: prefix}
}

func (s *ChallengeStore) key(role, principalID string, kind SessionKind) string {
	return s.prefix + ":" + role + ":" + principalID + ":" + string(kind)
}

// Save stores session, replacing any earlier challenge of the same kind.
func (s *ChallengeStore) Save(ctx context.Context, role, principalID string, kind SessionKind, session *webauthn.SessionData, ttl time.Duration) error {
	if session == nil {
		return errors.New("passkey: session data is required")
	}
	payload, err := json.Marshal(session)
	if err != nil {
		return err
	}
	if err := s.redis.Set(ctx, s.key(role, principalID, kind), payload, ttl).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrBackend, err)
	}
	return nil
}

// Consume atomically reads and deletes the challenge.
func (s *ChallengeStore) Consume(ctx context.Context, role, principalID string, kind SessionKind) (*webauthn.SessionData, error) {
	payload, err := s.redis.GetDel(ctx, s.key(role, principalID, kind)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrChallengeNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrBackend, err)
	}
	var session webauthn.SessionData
	if err := json.Unmarshal(payload, &session); err != nil {
		return nil, fmt.Errorf("%w: decode session: %v", ErrBackend, err)
	}
	return &session, nil
}
