package redis

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"quiz-attempt-engine/internal/app"
)

// SessionStore is a Redis-aware implementation of app.SessionRepository.
// Live sessions (timers, subscribers) stay in a local map; Redis holds a
// JSON summary per attempt so other instances and operators can see which
// attempts are open and in what state.
type SessionStore struct {
	client   *redis.Client
	ttl      time.Duration
	mu       sync.RWMutex
	sessions map[app.SessionKey]*app.Session
}

func NewSessionStore(client *redis.Client, ttl time.Duration) *SessionStore {
	return &SessionStore{
		client:   client,
		ttl:      ttl,
		sessions: make(map[app.SessionKey]*app.Session),
	}
}

func (s *SessionStore) Get(key app.SessionKey) (*app.Session, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	session, ok := s.sessions[key]
	return session, ok
}

// Put keeps the session locally and refreshes its summary in Redis.
func (s *SessionStore) Put(key app.SessionKey, session *app.Session) {
	s.mu.Lock()
	s.sessions[key] = session
	s.mu.Unlock()

	data, err := json.Marshal(session.Info())
	if err != nil {
		log.Printf("encode session %s: %v", key, err)
		return
	}
	// best-effort: the local map is authoritative for this process
	if err := s.client.Set(context.Background(), s.key(key), data, s.ttl).Err(); err != nil {
		log.Printf("store session %s: %v", key, err)
	}
}

func (s *SessionStore) Delete(key app.SessionKey) {
	s.mu.Lock()
	delete(s.sessions, key)
	s.mu.Unlock()
	_ = s.client.Del(context.Background(), s.key(key)).Err()
}

// Lookup reads the stored summary, which may belong to another instance.
func (s *SessionStore) Lookup(ctx context.Context, key app.SessionKey) (app.SessionInfo, bool, error) {
	data, err := s.client.Get(ctx, s.key(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return app.SessionInfo{}, false, nil
	}
	if err != nil {
		return app.SessionInfo{}, false, err
	}
	var info app.SessionInfo
	if err := json.Unmarshal(data, &info); err != nil {
		return app.SessionInfo{}, false, err
	}
	return info, true, nil
}

func (s *SessionStore) key(key app.SessionKey) string {
	return "attempt:session:" + key.QuizID + ":" + key.UserID
}
