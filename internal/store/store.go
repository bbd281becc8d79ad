// Package store persists sessions. Every backend saves a full session
// snapshot atomically: a concurrent Load observes either the previous or the
// new snapshot, never a partial one.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"sleuth/internal/session"
)

// ErrNotFound is returned by Load for unknown session ids.
var ErrNotFound = errors.New("session not found")

// Store is the session persistence capability.
type Store interface {
	Save(ctx context.Context, s *session.Session) error
	Load(ctx context.Context, id string) (*session.Session, error)
	List(ctx context.Context) ([]session.Summary, error)
}

// PersistenceError wraps a storage failure. It is fatal to the session.
type PersistenceError struct {
	Op        string
	SessionID string
	Err       error
}

func (e *PersistenceError) Error() string {
	if e.SessionID == "" {
		return fmt.Sprintf("persistence %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("persistence %s %s: %v", e.Op, e.SessionID, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

func persistErr(op, id string, err error) error {
	if err == nil {
		return nil
	}
	var pe *PersistenceError
	if errors.As(err, &pe) {
		return err
	}
	return &PersistenceError{Op: op, SessionID: id, Err: err}
}

func encode(s *session.Session) ([]byte, error) {
	if s == nil || s.ID == "" {
		return nil, fmt.Errorf("session has no id")
	}
	return json.Marshal(s)
}

func decode(data []byte) (*session.Session, error) {
	var s session.Session
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("failed to decode session: %w", err)
	}
	return &s, nil
}
