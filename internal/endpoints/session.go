package endpoints

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	sessionCookie = "sid"
	sessionTTL    = 7 * 24 * time.Hour
)

// Session is one authenticated browser session.
type Session struct {
	UserID    string    `json:"user_id"`
	CreatedAt time.Time `json:"created_at"`
}

// SessionStore keeps HTTP sessions in Redis on the shared substrate.
type SessionStore struct {
	client *redis.Client
}

// NewSessionStore creates a session store over an existing Redis client.
func NewSessionStore(client *redis.Client) *SessionStore {
	return &SessionStore{client: client}
}

func sessionKey(sid string) string { return "ss:session:" + sid }

// Create opens a session for a user and returns its id.
func (s *SessionStore) Create(ctx context.Context, userID string) (string, error) {
	sid := uuid.New().String()
	payload, err := json.Marshal(Session{UserID: userID, CreatedAt: time.Now().UTC()})
	if err != nil {
		return "", fmt.Errorf("failed to marshal session: %w", err)
	}
	if err := s.client.Set(ctx, sessionKey(sid), payload, sessionTTL).Err(); err != nil {
		return "", fmt.Errorf("failed to create session: %w", err)
	}
	return sid, nil
}

// Get resolves a session id to its record, refreshing the TTL. Returns nil
// when the session is unknown or expired.
func (s *SessionStore) Get(ctx context.Context, sid string) (*Session, error) {
	raw, err := s.client.Get(ctx, sessionKey(sid)).Result()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to load session: %w", err)
	}
	var session Session
	if err := json.Unmarshal([]byte(raw), &session); err != nil {
		return nil, fmt.Errorf("failed to unmarshal session: %w", err)
	}
	s.client.Expire(ctx, sessionKey(sid), sessionTTL)
	return &session, nil
}

// Delete removes a session.
func (s *SessionStore) Delete(ctx context.Context, sid string) error {
	return s.client.Del(ctx, sessionKey(sid)).Err()
}
