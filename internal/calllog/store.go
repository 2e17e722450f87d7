// Package calllog persists calls, turns, and routing decisions so routing
// behavior can be audited after the fact. It is optional: handlers treat a
// nil *Store as "logging disabled" and never block call flow on it.
package calllog

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

type Store struct {
	pool *pgxpool.Pool
}

func New(ctx context.Context, databaseURL string) (*Store, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return &Store{pool: pool}, nil
}

func (s *Store) Close() {
	s.pool.Close()
}

const schema = `
CREATE TABLE IF NOT EXISTS calls (
    call_sid    TEXT PRIMARY KEY,
    from_number TEXT NOT NULL,
    started_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
    converted   BOOLEAN NOT NULL DEFAULT false
);

CREATE TABLE IF NOT EXISTS call_turns (
    id         UUID PRIMARY KEY,
    call_sid   TEXT NOT NULL REFERENCES calls(call_sid) ON DELETE CASCADE,
    role       TEXT NOT NULL,
    text       TEXT NOT NULL,
    created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS call_decisions (
    id          UUID PRIMARY KEY,
    call_sid    TEXT NOT NULL REFERENCES calls(call_sid) ON DELETE CASCADE,
    action      TEXT NOT NULL,
    destination TEXT NOT NULL DEFAULT '',
    structured  BOOLEAN NOT NULL,
    created_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_call_turns_call_sid ON call_turns(call_sid);
CREATE INDEX IF NOT EXISTS idx_call_decisions_call_sid ON call_decisions(call_sid);
`

// EnsureSchema creates the tables if they do not exist.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

func (s *Store) RecordCall(ctx context.Context, callSID, from string) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO calls (call_sid, from_number) VALUES ($1, $2) ON CONFLICT (call_sid) DO NOTHING`,
		callSID, from,
	)
	if err != nil {
		return fmt.Errorf("record call: %w", err)
	}
	return nil
}

func (s *Store) RecordTurn(ctx context.Context, callSID, role, text string) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO call_turns (id, call_sid, role, text) VALUES ($1, $2, $3, $4)`,
		uuid.New(), callSID, role, text,
	)
	if err != nil {
		return fmt.Errorf("record turn: %w", err)
	}
	return nil
}

func (s *Store) RecordDecision(ctx context.Context, callSID, action, destination string, structured bool) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO call_decisions (id, call_sid, action, destination, structured) VALUES ($1, $2, $3, $4, $5)`,
		uuid.New(), callSID, action, destination, structured,
	)
	if err != nil {
		return fmt.Errorf("record decision: %w", err)
	}
	return nil
}

func (s *Store) MarkConverted(ctx context.Context, callSID string) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE calls SET converted = true WHERE call_sid = $1`,
		callSID,
	)
	if err != nil {
		return fmt.Errorf("mark converted: %w", err)
	}
	return nil
}
