// Package redis holds the volatile portal state: login sessions and the
// OTP resend throttle. Everything here expires on its own; SQLite stays
// the system of record for users.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"gannportal/internal/model"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
)

const sessionPrefix = "session:"

// ErrNoSession is returned when a token resolves to no live session.
var ErrNoSession = errors.New("session not found")

// Config configures the Redis connection.
type Config struct {
	Addr     string // Redis address, e.g. "localhost:6379"
	Password string
	DB       int
}

// Sessions stores login sessions keyed by opaque token, each with a
// fixed TTL set at creation.
type Sessions struct {
	client *redis.Client
	ttl    time.Duration
}

// Client returns the underlying Redis client for health checks.
func (s *Sessions) Client() *redis.Client { return s.client }

// New connects to Redis and pings the server.
func New(cfg Config, sessionTTL time.Duration) (*Sessions, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	log.Printf("[redis] connected to %s", cfg.Addr)
	return &Sessions{client: client, ttl: sessionTTL}, nil
}

// Create stores a new session for the user and returns its token.
func (s *Sessions) Create(ctx context.Context, u *model.User) (string, *model.Session, error) {
	now := time.Now().UTC()
	sess := &model.Session{
		Token:     uuid.NewString(),
		UserID:    u.ID,
		Username:  u.Username,
		Email:     u.Email,
		Role:      u.Role,
		CreatedAt: now,
		LastSeen:  now,
	}

	if err := s.save(ctx, sess, s.ttl); err != nil {
		return "", nil, err
	}
	return sess.Token, sess, nil
}

// Get resolves a token to its session, or ErrNoSession.
func (s *Sessions) Get(ctx context.Context, token string) (*model.Session, error) {
	data, err := s.client.Get(ctx, sessionPrefix+token).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, ErrNoSession
		}
		return nil, fmt.Errorf("redis get session: %w", err)
	}

	var sess model.Session
	if err := json.Unmarshal(data, &sess); err != nil {
		return nil, fmt.Errorf("unmarshal session: %w", err)
	}
	return &sess, nil
}

// Touch updates LastSeen without extending the session's expiry.
// Sessions expire a fixed interval after login regardless of activity.
func (s *Sessions) Touch(ctx context.Context, sess *model.Session) error {
	remaining, err := s.client.TTL(ctx, sessionPrefix+sess.Token).Result()
	if err != nil {
		return fmt.Errorf("redis ttl: %w", err)
	}
	if remaining <= 0 {
		return ErrNoSession
	}
	sess.LastSeen = time.Now().UTC()
	return s.save(ctx, sess, remaining)
}

// Delete removes the session. Missing tokens are not an error.
func (s *Sessions) Delete(ctx context.Context, token string) error {
	if err := s.client.Del(ctx, sessionPrefix+token).Err(); err != nil {
		return fmt.Errorf("redis del session: %w", err)
	}
	return nil
}

// AllowOTPResend reports whether the user may be sent another OTP email.
// The first call in any window wins; later calls are throttled until the
// window key expires.
func (s *Sessions) AllowOTPResend(ctx context.Context, userID int64, window time.Duration) (bool, error) {
	key := fmt.Sprintf("otp:resend:%d", userID)
	ok, err := s.client.SetNX(ctx, key, 1, window).Result()
	if err != nil {
		return false, fmt.Errorf("redis setnx otp throttle: %w", err)
	}
	return ok, nil
}

func (s *Sessions) save(ctx context.Context, sess *model.Session, ttl time.Duration) error {
	data, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}
	if err := s.client.Set(ctx, sessionPrefix+sess.Token, data, ttl).Err(); err != nil {
		return fmt.Errorf("redis set session: %w", err)
	}
	return nil
}

// Close closes the Redis client.
func (s *Sessions) Close() error {
	return s.client.Close()
}
