// Package redis persists sessions in Redis so they survive restarts and can
// be shared between replicas.
package redis

import (
	"context"
	"encoding/json"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/kochabx/sessionkeeper/core/auth/token"
	"github.com/kochabx/sessionkeeper/errors"
	"github.com/kochabx/sessionkeeper/session"
)

const (
	DefaultPrefix = "sessionkeeper"

	// fallbackTTL applies when the refresh token carries no usable expiry.
	fallbackTTL = 30 * time.Minute
)

// Store keeps each session under {prefix}:session:{id} and indexes session
// IDs per user under {prefix}:user:{uid}. Keys expire with the refresh token.
type Store struct {
	client    goredis.UniversalClient
	inspector *token.Inspector
	prefix    string
}

type Option func(*Store)

func WithPrefix(prefix string) Option {
	return func(s *Store) { s.prefix = prefix }
}

func New(client goredis.UniversalClient, inspector *token.Inspector, opts ...Option) *Store {
	s := &Store{client: client, inspector: inspector, prefix: DefaultPrefix}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) sessionKey(id string) string { return s.prefix + ":session:" + id }
func (s *Store) userKey(uid string) string   { return s.prefix + ":user:" + uid }

func (s *Store) Load(ctx context.Context, id string) (*session.Session, error) {
	raw, err := s.client.Get(ctx, s.sessionKey(id)).Bytes()
	if errors.Is(err, goredis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.ServiceUnavailable("load session").WithCause(err)
	}

	var out session.Session
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, errors.Internal("decode session").WithCause(err)
	}
	return &out, nil
}

func (s *Store) Save(ctx context.Context, sess *session.Session) error {
	raw, err := json.Marshal(sess)
	if err != nil {
		return errors.Internal("encode session").WithCause(err)
	}

	ttl := s.ttl(sess)
	_, err = s.client.TxPipelined(ctx, func(p goredis.Pipeliner) error {
		p.Set(ctx, s.sessionKey(sess.ID), raw, ttl)
		if sess.UserID != "" {
			p.SAdd(ctx, s.userKey(sess.UserID), sess.ID)
			p.Expire(ctx, s.userKey(sess.UserID), ttl)
		}
		return nil
	})
	if err != nil {
		return errors.ServiceUnavailable("save session").WithCause(err)
	}
	return nil
}

// Update rewrites the session key with SET XX, so a session deleted in the
// meantime stays deleted.
func (s *Store) Update(ctx context.Context, sess *session.Session) (bool, error) {
	raw, err := json.Marshal(sess)
	if err != nil {
		return false, errors.Internal("encode session").WithCause(err)
	}

	ttl := s.ttl(sess)
	err = s.client.SetArgs(ctx, s.sessionKey(sess.ID), raw, goredis.SetArgs{Mode: "XX", TTL: ttl}).Err()
	if errors.Is(err, goredis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, errors.ServiceUnavailable("update session").WithCause(err)
	}

	if sess.UserID != "" {
		_, err = s.client.TxPipelined(ctx, func(p goredis.Pipeliner) error {
			p.SAdd(ctx, s.userKey(sess.UserID), sess.ID)
			p.Expire(ctx, s.userKey(sess.UserID), ttl)
			return nil
		})
		if err != nil {
			return false, errors.ServiceUnavailable("index session").WithCause(err)
		}
	}
	return true, nil
}

func (s *Store) Delete(ctx context.Context, id string) error {
	sess, err := s.Load(ctx, id)
	if err != nil {
		return err
	}

	_, err = s.client.TxPipelined(ctx, func(p goredis.Pipeliner) error {
		p.Del(ctx, s.sessionKey(id))
		if sess != nil && sess.UserID != "" {
			p.SRem(ctx, s.userKey(sess.UserID), id)
		}
		return nil
	})
	if err != nil {
		return errors.ServiceUnavailable("delete session").WithCause(err)
	}
	return nil
}

// UserSessions lists the IDs of the user's sessions. Entries whose session
// key has already expired may still be listed.
func (s *Store) UserSessions(ctx context.Context, uid string) ([]string, error) {
	ids, err := s.client.SMembers(ctx, s.userKey(uid)).Result()
	if err != nil {
		return nil, errors.ServiceUnavailable("list user sessions").WithCause(err)
	}
	return ids, nil
}

// ttl keeps a session until its refresh token lapses. A session with an
// expired refresh token is kept briefly so Verify can observe and end it.
func (s *Store) ttl(sess *session.Session) time.Duration {
	exp, err := s.inspector.ExpiresAt(sess.RefreshToken)
	if err != nil {
		return fallbackTTL
	}
	ttl := exp.Sub(s.inspector.Clock().Now())
	if ttl < time.Minute {
		return time.Minute
	}
	return ttl
}
