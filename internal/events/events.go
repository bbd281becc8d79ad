// Package events carries orchestration progress to observers. Each
// orchestrator owns its Bus; there is no process-wide broadcaster.
package events

import (
	"time"
)

// Type names an event.
type Type string

const (
	PlanCreated         Type = "plan_created"
	NodeStateChanged    Type = "node_state_changed"
	FindingAdded        Type = "finding_added"
	ConflictDetected    Type = "conflict_detected"
	ConflictResolved    Type = "conflict_resolved"
	SessionCheckpointed Type = "session_checkpointed"
	SessionCompleted    Type = "session_completed"
	SessionFailed       Type = "session_failed"
)

// Event is one progress notification. Seq is assigned by the Bus and is
// strictly increasing per bus.
type Event struct {
	Seq       uint64    `json:"seq"`
	SessionID string    `json:"session_id"`
	Type      Type      `json:"type"`
	NodeID    string    `json:"node_id,omitempty"`
	Time      time.Time `json:"time"`
	Payload   any       `json:"payload,omitempty"`
}

// Broadcaster receives events. Publish must not block the caller on slow
// consumers.
type Broadcaster interface {
	Publish(Event)
}

// BroadcasterFunc adapts a function to Broadcaster.
type BroadcasterFunc func(Event)

// Publish calls f(ev).
func (f BroadcasterFunc) Publish(ev Event) { f(ev) }

// Multi fans an event out to several broadcasters in order.
func Multi(bs ...Broadcaster) Broadcaster {
	return BroadcasterFunc(func(ev Event) {
		for _, b := range bs {
			if b != nil {
				b.Publish(ev)
			}
		}
	})
}

// Discard drops every event.
var Discard Broadcaster = BroadcasterFunc(func(Event) {})

// Payloads.

// NodePayload accompanies NodeStateChanged.
type NodePayload struct {
	From     string `json:"from"`
	To       string `json:"to"`
	Attempts int    `json:"attempts,omitempty"`
	Reason   string `json:"reason,omitempty"`
}

// PlanPayload accompanies PlanCreated.
type PlanPayload struct {
	PlanID  string `json:"plan_id"`
	Version int    `json:"version"`
	Tasks   int    `json:"tasks"`
}

// FindingPayload accompanies FindingAdded.
type FindingPayload struct {
	FindingID  string  `json:"finding_id"`
	Subject    string  `json:"subject"`
	Attribute  string  `json:"attribute"`
	Claim      string  `json:"claim"`
	SourceURL  string  `json:"source_url"`
	Confidence float64 `json:"confidence"`
}

// ConflictPayload accompanies ConflictDetected and ConflictResolved.
type ConflictPayload struct {
	ConflictID string   `json:"conflict_id"`
	Subject    string   `json:"subject"`
	Attribute  string   `json:"attribute"`
	Severity   string   `json:"severity"`
	Members    []string `json:"members"`
	Reopened   bool     `json:"reopened,omitempty"`
	ResolvedBy string   `json:"resolved_by,omitempty"`
}

// SessionPayload accompanies SessionCompleted, SessionFailed and
// SessionCheckpointed.
type SessionPayload struct {
	Status     string  `json:"status"`
	Reason     string  `json:"reason,omitempty"`
	Confidence float64 `json:"confidence,omitempty"`
	Findings   int     `json:"findings,omitempty"`
}
