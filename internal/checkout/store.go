package checkout

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"

	pkgerrors "github.com/JannieHamberg/equibox-sub000/pkg/errors"
)

// sessionCache is the slice of the redis client the session store needs.
type sessionCache interface {
	Set(ctx context.Context, key string, value any, ttl time.Duration) error
	Get(ctx context.Context, key string) (string, error)
	Del(ctx context.Context, keys ...string) error
	CheckoutSessionKey(sessionID string) string
}

// SessionStore keeps checkout sessions in redis for the session TTL.
// Sessions are transient by design: an expired session just means the
// shopper starts checkout again.
type SessionStore struct {
	cache sessionCache
	ttl   time.Duration
}

// NewSessionStore builds a redis-backed session store.
func NewSessionStore(cache sessionCache, ttl time.Duration) (*SessionStore, error) {
	if cache == nil {
		return nil, fmt.Errorf("session cache is required")
	}
	if ttl <= 0 {
		return nil, fmt.Errorf("session ttl must be positive")
	}
	return &SessionStore{cache: cache, ttl: ttl}, nil
}

// Save writes the session, refreshing its TTL.
func (s *SessionStore) Save(ctx context.Context, session *Session) error {
	if session == nil {
		return pkgerrors.New(pkgerrors.CodeInternal, "session is nil")
	}
	payload, err := json.Marshal(session)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "marshal session")
	}
	key := s.cache.CheckoutSessionKey(session.ID.String())
	if err := s.cache.Set(ctx, key, string(payload), s.ttl); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "store session")
	}
	return nil
}

// Load fetches a session by id. Expired or unknown sessions return not-found.
func (s *SessionStore) Load(ctx context.Context, id uuid.UUID) (*Session, error) {
	key := s.cache.CheckoutSessionKey(id.String())
	raw, err := s.cache.Get(ctx, key)
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "checkout session not found or expired")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load session")
	}

	var session Session
	if err := json.Unmarshal([]byte(raw), &session); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "unmarshal session")
	}
	return &session, nil
}

// Delete removes the session.
func (s *SessionStore) Delete(ctx context.Context, id uuid.UUID) error {
	key := s.cache.CheckoutSessionKey(id.String())
	if err := s.cache.Del(ctx, key); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "delete session")
	}
	return nil
}
