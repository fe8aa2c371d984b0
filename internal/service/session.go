package service

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"

	"github.com/totegamma/agrichain/internal/domain"
)

var sessionTracer = otel.Tracer("session")

const sessionKeyPrefix = "session:"

// SessionStore keeps login snapshots in redis. The expiry is fixed when the
// session is created and never extended.
type SessionStore struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewSessionStore(rdb *redis.Client, ttl time.Duration) *SessionStore {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &SessionStore{rdb: rdb, ttl: ttl}
}

func (s *SessionStore) Create(ctx context.Context, user domain.SessionUser) (string, error) {
	ctx, span := sessionTracer.Start(ctx, "Session.Service.Create")
	defer span.End()

	value, err := json.Marshal(user)
	if err != nil {
		return "", err
	}

	id := uuid.NewString()
	if err := s.rdb.Set(ctx, sessionKeyPrefix+id, value, s.ttl).Err(); err != nil {
		span.RecordError(err)
		return "", errors.Wrap(err, "failed to store session")
	}
	return id, nil
}

func (s *SessionStore) Get(ctx context.Context, id string) (domain.SessionUser, error) {
	ctx, span := sessionTracer.Start(ctx, "Session.Service.Get")
	defer span.End()

	value, err := s.rdb.Get(ctx, sessionKeyPrefix+id).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return domain.SessionUser{}, domain.ErrUnauthorized
		}
		span.RecordError(err)
		return domain.SessionUser{}, errors.Wrap(err, "failed to load session")
	}

	var user domain.SessionUser
	if err := json.Unmarshal(value, &user); err != nil {
		span.RecordError(err)
		return domain.SessionUser{}, domain.ErrUnauthorized
	}
	return user, nil
}

func (s *SessionStore) Delete(ctx context.Context, id string) error {
	ctx, span := sessionTracer.Start(ctx, "Session.Service.Delete")
	defer span.End()

	if err := s.rdb.Del(ctx, sessionKeyPrefix+id).Err(); err != nil {
		span.RecordError(err)
		return errors.Wrap(err, "failed to delete session")
	}
	return nil
}
