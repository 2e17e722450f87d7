// Package session holds per-call conversation state. A session is created on
// the first webhook event for a call id and reclaimed by time-based expiry,
// since the telephony provider sends no reliable end-of-call signal.
package session

import (
	"context"
	"sync"
	"time"
)

const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Turn is one conversation entry. Turns are immutable once appended and
// ordering is chronological.
type Turn struct {
	Role string `json:"role"`
	Text string `json:"text"`
}

// Session is the accumulated state of one call. History is append-only for
// the lifetime of the call; whole-session expiry is the only removal path.
type Session struct {
	ID        string    `json:"id"`
	From      string    `json:"from"`
	History   []Turn    `json:"history"`
	CreatedAt time.Time `json:"created_at"`
	Converted bool      `json:"converted"`
}

// Store is the session table reachable from any request handler.
type Store interface {
	// GetOrCreate returns the live session for callID, creating a fresh one
	// (empty history) if none exists or the existing one has expired.
	GetOrCreate(ctx context.Context, callID, from string) (*Session, error)
	// Append adds a turn to the session's history and returns the updated
	// session. Callers must create the session in the same turn first.
	Append(ctx context.Context, callID, role, text string) (*Session, error)
	// SetConverted marks the call as handed off to an agent.
	SetConverted(ctx context.Context, callID string) error
}

// CallLocks serializes webhook handling per call id so a provider retry or
// race cannot interleave one call's history. Entries are refcounted and
// removed when the last holder unlocks, so the table stays bounded by the
// number of in-flight requests rather than the number of calls ever seen.
type CallLocks struct {
	mu    sync.Mutex
	locks map[string]*callLock
}

type callLock struct {
	mu   sync.Mutex
	refs int
}

func NewCallLocks() *CallLocks {
	return &CallLocks{locks: make(map[string]*callLock)}
}

func (c *CallLocks) Lock(callID string) {
	c.mu.Lock()
	l, ok := c.locks[callID]
	if !ok {
		l = &callLock{}
		c.locks[callID] = l
	}
	l.refs++
	c.mu.Unlock()
	l.mu.Lock()
}

func (c *CallLocks) Unlock(callID string) {
	c.mu.Lock()
	l, ok := c.locks[callID]
	if ok {
		l.refs--
		if l.refs == 0 {
			delete(c.locks, callID)
		}
	}
	c.mu.Unlock()
	if ok {
		l.mu.Unlock()
	}
}

// Len reports the number of call ids with a holder or waiter.
func (c *CallLocks) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.locks)
}
