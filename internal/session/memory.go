package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// MemoryStore is the default in-process session table.
type MemoryStore struct {
	mu       sync.Mutex
	sessions map[string]*Session
	ttl      time.Duration
	now      func() time.Time
}

var _ Store = (*MemoryStore)(nil)

func NewMemoryStore(ttl time.Duration) *MemoryStore {
	return &MemoryStore{
		sessions: make(map[string]*Session),
		ttl:      ttl,
		now:      time.Now,
	}
}

func (s *MemoryStore) GetOrCreate(_ context.Context, callID, from string) (*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[callID]
	if ok && s.now().Sub(sess.CreatedAt) < s.ttl {
		return sess, nil
	}
	// Expired sessions are treated as absent even between sweeps.
	sess = &Session{
		ID:        callID,
		From:      from,
		History:   []Turn{},
		CreatedAt: s.now(),
	}
	s.sessions[callID] = sess
	return sess, nil
}

func (s *MemoryStore) Append(_ context.Context, callID, role, text string) (*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[callID]
	if !ok {
		return nil, fmt.Errorf("unknown call id %q", callID)
	}
	sess.History = append(sess.History, Turn{Role: role, Text: text})
	return sess, nil
}

func (s *MemoryStore) SetConverted(_ context.Context, callID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sess, ok := s.sessions[callID]; ok {
		sess.Converted = true
	}
	return nil
}

// ExpireOlderThan removes sessions past the given age and returns how many
// were dropped.
func (s *MemoryStore) ExpireOlderThan(age time.Duration) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := s.now().Add(-age)
	n := 0
	for id, sess := range s.sessions {
		if sess.CreatedAt.Before(cutoff) {
			delete(s.sessions, id)
			n++
		}
	}
	return n
}

// Sweep runs the expiry loop until ctx is cancelled.
func (s *MemoryStore) Sweep(ctx context.Context, interval time.Duration, logger *slog.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := s.ExpireOlderThan(s.ttl); n > 0 {
				logger.Info("expired sessions", "count", n)
			}
		}
	}
}

// Len reports the live session count.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}
